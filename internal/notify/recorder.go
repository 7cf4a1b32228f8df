package notify

import (
	"sync"

	"github.com/mizuno/missiond/internal/model"
)

// Recorder is a Syncer that remembers every call. Tests assert against it.
type Recorder struct {
	mu        sync.Mutex
	Rendered  []Content
	Cancelled []int
	Summaries []string

	// RenderErr, when set, is returned by every Render call.
	RenderErr error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Render(m model.Mission) (Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RenderErr != nil {
		return Content{}, r.RenderErr
	}
	c := BuildContent(m)
	r.Rendered = append(r.Rendered, c)
	return c, nil
}

func (r *Recorder) Cancel(notificationID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cancelled = append(r.Cancelled, notificationID)
	return nil
}

func (r *Recorder) RenderSummary(active int, byType map[model.MissionType]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Summaries = append(r.Summaries, SummaryBody(active, byType))
	return nil
}

// RenderCount returns how many notifications were rendered.
func (r *Recorder) RenderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Rendered)
}

// LastSummary returns the most recent summary body, or "".
func (r *Recorder) LastSummary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Summaries) == 0 {
		return ""
	}
	return r.Summaries[len(r.Summaries)-1]
}
