// Package refresh drives the mission clock. A minute ticker computes the
// lock signal, finds missions whose cycle has rolled over, and applies the
// whole batch of reset values as one store replacement, so no observer ever
// sees half a refresh. Notification renders for reset missions go through the
// task queue so a slow platform never stalls a tick.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/mizuno/missiond/internal/clock"
	"github.com/mizuno/missiond/internal/events"
	"github.com/mizuno/missiond/internal/logging"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/notify"
	"github.com/mizuno/missiond/internal/store"
	"github.com/mizuno/missiond/internal/taskq"
)

// Result reports what one tick did.
type Result struct {
	Signal       model.LockSignal `json:"signal"`
	Resets       int              `json:"resets"`
	Sweeps       int              `json:"sweeps"`
	ColorChanges int              `json:"colorChanges"`
}

// Stats is the controller's cumulative view for the status surface.
type Stats struct {
	Ticks      int              `json:"ticks"`
	Resets     int              `json:"resets"`
	Sweeps     int              `json:"sweeps"`
	LastTick   time.Time        `json:"lastTick"`
	LastSignal model.LockSignal `json:"lastSignal"`
}

// Controller owns the tick loop. Construct with New, then Start; Tick can
// also be forced directly (the daemon does one on launch and the IPC refresh
// command reuses it).
type Controller struct {
	store       *store.Store
	queue       *taskq.Queue
	sink        *notify.Publisher
	bus         *events.Bus
	logger      *logging.Logger
	loc         *time.Location
	interval    time.Duration
	historyDays int
	summary     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once

	mu         sync.Mutex
	ticks      int
	resets     int
	sweeps     int
	lastTick   time.Time
	lastSignal model.LockSignal
	signalSeen bool
}

func New(st *store.Store, q *taskq.Queue, sink *notify.Publisher, bus *events.Bus,
	cfg model.RefreshConfig, storeCfg model.StoreConfig, notifyCfg model.NotifyConfig,
	loc *time.Location, logger *logging.Logger) *Controller {

	interval := time.Duration(cfg.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	if loc == nil {
		loc = time.Local
	}
	historyDays := storeCfg.HistoryDays
	if historyDays <= 0 {
		historyDays = 30
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:       st,
		queue:       q,
		sink:        sink,
		bus:         bus,
		logger:      logger.WithComponent("refresh"),
		loc:         loc,
		interval:    interval,
		historyDays: historyDays,
		summary:     notifyCfg.Summary,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the tick loop. The first tick fires one interval in; the
// daemon forces an immediate Tick right after Start.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop halts the loop between ticks and waits for a tick in flight.
func (c *Controller) Stop() {
	c.stop.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

func (c *Controller) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Tick(time.Now())
		}
	}
}

// Tick runs one full refresh pass at the given instant.
func (c *Controller) Tick(now time.Time) Result {
	sig := clock.LockState(now, c.loc)
	res := Result{Signal: sig}

	c.mu.Lock()
	signalChanged := !c.signalSeen || sig != c.lastSignal
	c.signalSeen = true
	c.lastSignal = sig
	c.ticks++
	c.lastTick = now
	c.mu.Unlock()

	if signalChanged && c.bus != nil {
		c.bus.Publish(events.EventLockSignal, map[string]interface{}{
			"daily_locked":  sig.DailyLocked,
			"weekly_locked": sig.WeeklyLocked,
			"color":         sig.Color,
		})
	}
	res.ColorChanges = c.store.ApplyLockColors(sig)

	var replacements []model.Mission
	for _, m := range c.store.ListAll() {
		switch {
		case clock.NeedsReset(&m, now, c.loc):
			replacements = append(replacements, clock.ResetValue(m, now, c.loc, c.historyDays))
			res.Resets++
		case clock.NeedsFailureSweep(&m, now, c.loc):
			replacements = append(replacements, clock.SweepValue(m, now, c.loc, c.historyDays))
			res.Sweeps++
		}
	}

	if len(replacements) > 0 {
		applied := c.store.ApplyResets(replacements)
		c.logger.Infof("refresh applied %d transitions (%d resets, %d sweeps)", applied, res.Resets, res.Sweeps)
		if c.bus != nil {
			c.bus.Publish(events.EventMissionsReset, map[string]interface{}{
				"count":  applied,
				"resets": res.Resets,
				"sweeps": res.Sweeps,
			})
		}
		c.renderTransitions(replacements)
	}

	c.mu.Lock()
	c.resets += res.Resets
	c.sweeps += res.Sweeps
	c.mu.Unlock()
	return res
}

// renderTransitions pushes one notification per transitioned mission, plus
// the summary roll-up when configured. With a queue attached the renders run
// as low-priority background tasks and inherit its retry ceiling; without
// one they run inline.
func (c *Controller) renderTransitions(transitioned []model.Mission) {
	if c.sink == nil {
		return
	}
	for _, m := range transitioned {
		mission := m
		c.dispatch(func(ctx context.Context) error {
			_, err := c.sink.Render(mission)
			return err
		})
	}
	if !c.summary {
		return
	}
	active := c.store.ListActive()
	byType := make(map[model.MissionType]int, 4)
	for _, m := range active {
		byType[m.Type]++
	}
	count := len(active)
	c.dispatch(func(ctx context.Context) error {
		return c.sink.RenderSummary(count, byType)
	})
}

func (c *Controller) dispatch(fn taskq.Func) {
	if c.queue != nil {
		c.queue.Schedule(taskq.PriorityLow, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		c.logger.Warnf("inline notification render failed: %v", err)
	}
}

// Stats snapshots the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Ticks:      c.ticks,
		Resets:     c.resets,
		Sweeps:     c.sweeps,
		LastTick:   c.lastTick,
		LastSignal: c.lastSignal,
	}
}
