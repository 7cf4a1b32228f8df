package notify

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mizuno/missiond/internal/logging"
	"github.com/mizuno/missiond/internal/model"
)

// Publisher fronts a Syncer for the rest of the daemon. Concurrent renders
// of the same notification id coalesce into one platform call, and failures
// are counted instead of propagated past the caller's log line.
type Publisher struct {
	syncer Syncer
	group  singleflight.Group
	logger *logging.Logger

	mu        sync.Mutex
	rendered  int
	cancelled int
	failures  int
}

func NewPublisher(s Syncer, logger *logging.Logger) *Publisher {
	return &Publisher{
		syncer: s,
		logger: logger.WithComponent("notify"),
	}
}

func (p *Publisher) Render(m model.Mission) (Content, error) {
	v, err, _ := p.group.Do(fmt.Sprintf("render-%d", m.NotificationID), func() (any, error) {
		c, err := p.syncer.Render(m)
		p.count(err)
		return c, err
	})
	if err != nil {
		p.logger.Warnf("render notification %d failed: %v", m.NotificationID, err)
		return Content{}, err
	}
	return v.(Content), nil
}

func (p *Publisher) Cancel(notificationID int) error {
	err := p.syncer.Cancel(notificationID)
	p.mu.Lock()
	if err != nil {
		p.failures++
	} else {
		p.cancelled++
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Warnf("cancel notification %d failed: %v", notificationID, err)
	}
	return err
}

func (p *Publisher) RenderSummary(active int, byType map[model.MissionType]int) error {
	_, err, _ := p.group.Do("summary", func() (any, error) {
		err := p.syncer.RenderSummary(active, byType)
		p.count(err)
		return nil, err
	})
	if err != nil {
		p.logger.Warnf("render summary failed: %v", err)
	}
	return err
}

// count tallies one platform call under the publisher lock.
func (p *Publisher) count(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failures++
	} else {
		p.rendered++
	}
}

// Stats reports rendered, cancelled, and failed platform calls.
func (p *Publisher) Stats() (rendered, cancelled, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendered, p.cancelled, p.failures
}
