// Package engine assembles the missiond daemon: mission store, task queue,
// refresh controller, watchdog, notification publisher, progress ledger and
// the UDS control surface, wired into one lifecycle.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mizuno/missiond/internal/blob"
	"github.com/mizuno/missiond/internal/events"
	"github.com/mizuno/missiond/internal/lock"
	"github.com/mizuno/missiond/internal/logging"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/notify"
	"github.com/mizuno/missiond/internal/refresh"
	"github.com/mizuno/missiond/internal/store"
	"github.com/mizuno/missiond/internal/taskq"
	"github.com/mizuno/missiond/internal/uds"
	"github.com/mizuno/missiond/internal/watchdog"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

const (
	// metricsKey is the blob key holding the engine's counter snapshot.
	metricsKey = "metrics"
	// heartbeatInterval is how often the metrics blob is rewritten.
	heartbeatInterval = time.Minute
	// selfWriteWindow: store-dir events this close after one of our own
	// blob writes are echoes of that write, not external edits.
	selfWriteWindow = time.Second
)

// Daemon is the missiond daemon process.
type Daemon struct {
	home    string
	config  model.Config
	loc     *time.Location
	logger  *logging.Logger
	logFile io.Closer

	fileLock  *lock.FileLock
	blobs     *blob.Store
	bus       *events.Bus
	ledger    *events.Ledger
	store     *store.Store
	queue     *taskq.Queue
	sink      *notify.Publisher
	refresher *refresh.Controller
	dog       *watchdog.Watchdog
	server    *uds.Server
	watcher   *fsnotify.Watcher

	unsubscribe func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	done     chan struct{}

	started       time.Time
	lastSelfWrite atomic.Int64
	masteryEvents atomic.Int64
	forceExit     atomic.Bool

	// Debounce state for the store watcher
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// New creates a Daemon logging to <home>/logs/daemon.log.
func New(home string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(home, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(home, cfg, logFile, logFile), nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(home string, cfg model.Config, w io.Writer, closer io.Closer) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	loc := cfg.Clock.Location()
	logger := logging.New(w, logging.ParseLevel(cfg.Logging.Level), "daemon")

	blobs := blob.NewStore(home, cfg.Store.MaxBlobFileBytes)
	blobs.SetLogger(logger)
	bus := events.NewBus(100)
	st := store.New(blobs, bus, logger, loc, cfg.Store.HistoryDays)
	queue := taskq.New(cfg.Queue, logger)
	sink := notify.NewPublisher(notify.New(cfg.Notify), logger)

	d := &Daemon{
		home:      home,
		config:    cfg,
		loc:       loc,
		logger:    logger,
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(home, "locks", "daemon.lock")),
		blobs:     blobs,
		bus:       bus,
		store:     st,
		queue:     queue,
		sink:      sink,
		refresher: refresh.New(st, queue, sink, bus, cfg.Refresh, cfg.Store, cfg.Notify, loc, logger),
		dog:       watchdog.New(st, bus, cfg.Watchdog, logger),
		server:    uds.NewServer(filepath.Join(home, uds.DefaultSocketName), logger),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		started:   time.Now(),
	}

	blobs.SetWriteHook(func(string) {
		d.lastSelfWrite.Store(time.Now().UnixNano())
	})

	return d
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	d.started = time.Now()

	// Step 1: single-instance lock
	if err := os.MkdirAll(filepath.Join(d.home, "locks"), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Infof("daemon starting pid=%d home=%s version=%s", os.Getpid(), d.home, Version)

	// Step 2: load missions
	if err := d.store.Load(); err != nil {
		d.cleanup()
		return fmt.Errorf("load mission store: %w", err)
	}

	// Step 3: watch the store directory for external edits
	if err := d.startWatcher(); err != nil {
		d.cleanup()
		return err
	}

	// Step 4: UDS control surface
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.watcher.Close()
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Infof("UDS server listening on %s", filepath.Join(d.home, uds.DefaultSocketName))

	// Step 5: mastery progress ledger (best-effort)
	d.startLedger()

	// Step 6: task queue
	d.queue.Start()

	// Step 7: initial pass, then the periodic drivers
	d.dog.RunOnce()
	d.refresher.Tick(time.Now().In(d.loc))
	d.refresher.Start()
	d.dog.StartPeriodic()

	// Step 8: background loops
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.metricsLoop()

	d.writeMetrics(time.Now())
	d.logger.Infof("daemon ready")

	// Step 9: wait for signals
	d.waitSignals()

	return nil
}

func (d *Daemon) startWatcher() error {
	if err := os.MkdirAll(d.blobs.Dir(), 0755); err != nil {
		return fmt.Errorf("ensure store dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(d.blobs.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", d.blobs.Dir(), err)
	}
	d.watcher = watcher
	return nil
}

func (d *Daemon) startLedger() {
	ledger, err := events.NewLedger(filepath.Join(d.home, "logs", "progress.jsonl"))
	if err != nil {
		d.logger.Warnf("progress ledger unavailable: %v", err)
		return
	}
	d.ledger = ledger
	d.unsubscribe = d.bus.Subscribe(events.EventMasteryProgress, func(e events.Event) {
		d.masteryEvents.Add(1)
		if err := ledger.Append(events.EntryFromEvent(e)); err != nil {
			d.logger.Warnf("progress ledger append: %v", err)
		}
	})
}

// fsnotifyLoop reacts to store files changed by something other than this
// process: a debounced watchdog pass picks up whatever was edited.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if d.recentSelfWrite() {
				continue
			}
			d.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			d.debounceCheck(filepath.Base(event.Name))
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) recentSelfWrite() bool {
	last := d.lastSelfWrite.Load()
	return last > 0 && time.Now().UnixNano()-last < int64(selfWriteWindow)
}

// debounceCheck schedules a watchdog pass once events stop arriving.
func (d *Daemon) debounceCheck(trigger string) {
	debounceSec := d.config.Watchdog.WatchDebounceSec
	if debounceSec <= 0 {
		debounceSec = 2.0
	}

	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}

	d.debounceTimer = time.AfterFunc(
		time.Duration(debounceSec*float64(time.Second)),
		func() {
			d.logger.Infof("external store edit detected trigger=%s, reloading", trigger)
			if err := d.store.Load(); err != nil {
				d.logger.Errorf("reload after external edit: %v", err)
				return
			}
			d.dog.RunOnce()
		},
	)
}

// metricsLoop rewrites the metrics blob on a heartbeat.
func (d *Daemon) metricsLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case now := <-ticker.C:
			d.writeMetrics(now)
		}
	}
}

// writeMetrics snapshots every component's counters into the metrics blob.
func (d *Daemon) writeMetrics(now time.Time) {
	ss := d.store.Statistics()
	qs := d.queue.Stats()
	rs := d.refresher.Stats()
	ws := d.dog.Stats()
	saves, saveFailures := d.store.SaveStats()
	rendered, _, _ := d.sink.Stats()

	hb := now.UTC().Format(time.RFC3339)
	doc := model.Metrics{
		SchemaVersion: blob.CurrentSchemaVersion,
		FileType:      model.FileTypeMetrics,
		Buckets: model.BucketDepth{
			Active:    ss.Active,
			Completed: ss.Completed,
			Deleted:   ss.Deleted,
		},
		Counters: model.MetricsCounters{
			Resets:                rs.Resets,
			FailureSweeps:         rs.Sweeps,
			ChecksRun:             ws.ChecksRun,
			ViolationsFound:       ws.Violations,
			RepairsApplied:        ws.Repairs,
			TasksExecuted:         qs.Executed,
			TaskRetries:           qs.Retried,
			TasksDropped:          qs.Dropped,
			StoreSaves:            saves,
			StoreSaveFailures:     saveFailures,
			NotificationsRendered: rendered,
			MasteryEvents:         int(d.masteryEvents.Load()),
		},
		DaemonHeartbeat: &hb,
		UpdatedAt:       &hb,
	}
	if err := d.blobs.Write(metricsKey, doc); err != nil {
		d.logger.Warnf("write metrics: %v", err)
	}
}

// waitSignals blocks until a shutdown signal arrives or Shutdown is called
// through another path (the UDS shutdown command).
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)

		// Second signal → force exit
		go func() {
			<-sigCh
			d.logger.Warnf("received second signal, forcing exit")
			d.forceExit.Store(true)
			os.Exit(1)
		}()

		d.Shutdown()
	case <-d.done:
	}
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Infof("shutdown started")

		// 1. Cancel context (stops background loops)
		d.cancel()

		// 2. Stop producers
		d.refresher.Stop()
		d.dog.StopPeriodic()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}
		d.stopDebounce()

		// 3. Drain queued work with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 10
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		defer cancel()
		if err := d.queue.Stop(ctx); err != nil {
			d.logger.Warnf("task queue drain: %v", err)
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.logger.Warnf("shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Final flush
		if err := d.store.Save(); err != nil {
			d.logger.Errorf("final store save: %v", err)
		}
		d.writeMetrics(time.Now())

		// 5. Cleanup
		d.cleanup()
		d.logger.Infof("daemon stopped")
		close(d.done)
	})
}

func (d *Daemon) stopDebounce() {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
		d.debounceTimer = nil
	}
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if d.ledger != nil {
		d.ledger.Close()
	}
	d.bus.Close()
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}
