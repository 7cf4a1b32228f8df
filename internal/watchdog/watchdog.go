// Package watchdog detects and repairs mission-set invariant violations.
// Checks run in priority order against the store's transaction view; a
// failing check's repair runs immediately, and one save covers the whole
// pass. Every entry is panic-isolated so a bad check cannot abort the pass,
// and every repair is idempotent so a second pass right after a clean one
// finds nothing to do.
package watchdog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mizuno/missiond/internal/events"
	"github.com/mizuno/missiond/internal/logging"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/store"
)

// State is where the watchdog currently is in its pass.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateRepairing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateRepairing:
		return "repairing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CheckFunc inspects the transaction view and reports violations, one
// human-readable line each. It must not mutate.
type CheckFunc func(tx *store.Tx) []string

// RepairFunc fixes whatever its paired check flagged and returns how many
// repairs it applied. Running it on a clean set must be a no-op.
type RepairFunc func(tx *store.Tx) int

type entry struct {
	name     string
	priority int
	check    CheckFunc
	repair   RepairFunc
}

// Report summarizes one watchdog pass.
type Report struct {
	ChecksRun  int            `json:"checksRun"`
	Violations int            `json:"violations"`
	Repairs    int            `json:"repairs"`
	ByCheck    map[string]int `json:"byCheck,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Stats is the cumulative view for the status surface.
type Stats struct {
	State      string    `json:"state"`
	Passes     int       `json:"passes"`
	ChecksRun  int       `json:"checksRun"`
	Violations int       `json:"violations"`
	Repairs    int       `json:"repairs"`
	LastRun    time.Time `json:"lastRun"`
}

// Watchdog owns its check registry; two instances never share entries.
type Watchdog struct {
	store  *store.Store
	bus    *events.Bus
	logger *logging.Logger

	regMu   sync.RWMutex
	entries []entry

	state atomic.Int32

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	runMu    sync.Mutex // one pass at a time
	stop     sync.Once
	started  bool

	statMu     sync.Mutex
	passes     int
	checksRun  int
	violations int
	repairs    int
	lastRun    time.Time
}

// New builds a watchdog with the built-in checks registered in priority
// order. Callers may add their own with RegisterCheck before or after Start.
func New(st *store.Store, bus *events.Bus, cfg model.WatchdogConfig, logger *logging.Logger) *Watchdog {
	interval := time.Duration(cfg.PeriodicIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchdog{
		store:    st,
		bus:      bus,
		logger:   logger.WithComponent("watchdog"),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}

	w.RegisterCheck("notification_ids", 10, checkNotificationIDs, repairNotificationIDs)
	w.RegisterCheck("mission_ids", 20, checkMissionIDs, repairMissionIDs)
	w.RegisterCheck("completed_failed_conflict", 30, checkCompletedFailed, repairCompletedFailed)
	w.RegisterCheck("empty_titles", 40, checkEmptyTitles, repairEmptyTitles)
	w.RegisterCheck("mastery_values", 50, checkMasteryValues, repairMasteryValues)
	w.RegisterCheck("negative_counters", 60, checkNegativeCounters, repairNegativeCounters)
	w.RegisterCheck("subtask_bounds", 70, checkSubtaskBounds, repairSubtaskBounds)

	return w
}

// RegisterCheck adds a named check/repair pair. Lower priority runs first.
func (w *Watchdog) RegisterCheck(name string, priority int, check CheckFunc, repair RepairFunc) {
	w.regMu.Lock()
	defer w.regMu.Unlock()
	w.entries = append(w.entries, entry{name: name, priority: priority, check: check, repair: repair})
}

// State reports where the watchdog is right now.
func (w *Watchdog) State() State {
	return State(w.state.Load())
}

// RunOnce executes a full check/repair pass. The entire pass holds the store
// writer, so nothing can mutate missions between a check and its repair.
func (w *Watchdog) RunOnce() Report {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	started := time.Now()
	w.state.Store(int32(StateChecking))
	defer w.state.Store(int32(StateIdle))

	w.regMu.RLock()
	entries := make([]entry, len(w.entries))
	copy(entries, w.entries)
	w.regMu.RUnlock()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority < entries[j].priority })

	report := Report{ByCheck: make(map[string]int)}

	err := w.store.Exclusive(func(tx *store.Tx) bool {
		for _, e := range entries {
			report.ChecksRun++
			violations := w.safeCheck(e, tx)
			if len(violations) == 0 {
				continue
			}
			report.Violations += len(violations)
			for _, v := range violations {
				w.logger.Warnf("check %s: %s", e.name, v)
			}

			w.state.Store(int32(StateRepairing))
			n := w.safeRepair(e, tx)
			w.state.Store(int32(StateChecking))

			report.Repairs += n
			report.ByCheck[e.name] = n
			w.logger.Infof("check %s repaired %d of %d violations", e.name, n, len(violations))
		}
		return report.Repairs > 0
	})
	if err != nil {
		w.logger.Errorf("repair pass save failed: %v", err)
	}
	report.Duration = time.Since(started)

	if report.Repairs > 0 && w.bus != nil {
		w.bus.Publish(events.EventRepairApplied, map[string]interface{}{
			"repairs":    report.Repairs,
			"violations": report.Violations,
		})
	}

	w.statMu.Lock()
	w.passes++
	w.checksRun += report.ChecksRun
	w.violations += report.Violations
	w.repairs += report.Repairs
	w.lastRun = started
	w.statMu.Unlock()

	return report
}

func (w *Watchdog) safeCheck(e entry, tx *store.Tx) (violations []string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("check %s panicked: %v", e.name, r)
			violations = nil
		}
	}()
	return e.check(tx)
}

func (w *Watchdog) safeRepair(e entry, tx *store.Tx) (n int) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("repair %s panicked: %v", e.name, r)
		}
	}()
	return e.repair(tx)
}

// StartPeriodic launches the interval loop.
func (w *Watchdog) StartPeriodic() {
	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.RunOnce()
			}
		}
	}()
}

// StopPeriodic halts the loop between passes and waits for one in flight.
func (w *Watchdog) StopPeriodic() {
	w.stop.Do(func() {
		w.cancel()
		w.wg.Wait()
	})
}

// Stats snapshots the counters.
func (w *Watchdog) Stats() Stats {
	w.statMu.Lock()
	defer w.statMu.Unlock()
	return Stats{
		State:      w.State().String(),
		Passes:     w.passes,
		ChecksRun:  w.checksRun,
		Violations: w.violations,
		Repairs:    w.repairs,
		LastRun:    w.lastRun,
	}
}
