// Package notify renders mission state as desktop notifications. The engine
// talks to the Syncer interface only; the desktop backend shells out to
// osascript, and tests swap in the Recorder.
package notify

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/mizuno/missiond/internal/model"
)

// Content is one rendered notification.
type Content struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Actions []string `json:"actions,omitempty"`
}

// Syncer pushes mission state to the platform notification surface. Render
// and Cancel address per-mission notifications by the mission's stable
// notification id; RenderSummary maintains the single roll-up notification.
type Syncer interface {
	Render(m model.Mission) (Content, error)
	Cancel(notificationID int) error
	RenderSummary(active int, byType map[model.MissionType]int) error
}

// New picks a backend by config. Unknown backends fall back to desktop.
func New(cfg model.NotifyConfig) Syncer {
	switch cfg.Backend {
	case "noop", "none":
		return Noop{}
	default:
		return NewDesktop()
	}
}

// BuildContent renders a mission into notification content. The body shows
// the progress that matters for its shape; completed missions lose their
// actions.
func BuildContent(m model.Mission) Content {
	c := Content{
		ID:    m.NotificationID,
		Title: m.Title,
	}
	switch {
	case m.IsCompleted:
		c.Body = "completed"
	case m.IsCounterBased && m.TargetCount > 0:
		c.Body = fmt.Sprintf("%d/%d", m.CurrentCount, m.TargetCount)
		c.Actions = []string{"log one", "complete"}
	case m.IsCounterBased:
		c.Body = fmt.Sprintf("count: %d", m.CurrentCount)
		c.Actions = []string{"log one"}
	case len(m.Subtasks) > 0:
		done := 0
		for _, st := range m.Subtasks {
			if st.Done() {
				done++
			}
		}
		c.Body = fmt.Sprintf("%d/%d subtasks done", done, len(m.Subtasks))
		c.Actions = []string{"complete"}
	default:
		c.Body = "in progress"
		c.Actions = []string{"complete"}
	}
	if m.HasFailed {
		c.Body += " (missed last cycle)"
	}
	return c
}

// SummaryBody formats the roll-up line: total active plus a per-type
// breakdown in stable order.
func SummaryBody(active int, byType map[model.MissionType]int) string {
	if active == 0 {
		return "no active missions"
	}
	types := make([]string, 0, len(byType))
	for mt := range byType {
		types = append(types, string(mt))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, mt := range types {
		parts = append(parts, fmt.Sprintf("%s: %d", mt, byType[model.MissionType(mt)]))
	}
	return fmt.Sprintf("%d active (%s)", active, strings.Join(parts, ", "))
}

// Desktop renders through osascript. Cancel is a no-op because plain
// display-notification banners cannot be withdrawn once posted.
type Desktop struct {
	send func(title, message string) error
}

func NewDesktop() *Desktop {
	return &Desktop{send: Send}
}

// SetSender overrides the notification sender for testing.
func (d *Desktop) SetSender(f func(title, message string) error) {
	d.send = f
}

func (d *Desktop) Render(m model.Mission) (Content, error) {
	c := BuildContent(m)
	if err := d.send(c.Title, c.Body); err != nil {
		return Content{}, err
	}
	return c, nil
}

func (d *Desktop) Cancel(notificationID int) error {
	return nil
}

func (d *Desktop) RenderSummary(active int, byType map[model.MissionType]int) error {
	return d.send("Missions", SummaryBody(active, byType))
}

// Noop discards everything. Used when notifications are configured off.
type Noop struct{}

func (Noop) Render(m model.Mission) (Content, error) { return BuildContent(m), nil }

func (Noop) Cancel(notificationID int) error { return nil }

func (Noop) RenderSummary(active int, byType map[model.MissionType]int) error { return nil }

// Send posts a macOS notification via osascript with sound.
func Send(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
