// Package taskq runs background work with a bounded in-flight pool. Tasks
// carry a priority class and drain high before medium before low, FIFO within
// a class. A task that errors, times out, or panics is re-enqueued at the
// tail of its class until it has executed maxAttempts times, then dropped
// with a warning. Nothing here survives a restart; the queue is rebuilt from
// scratch on every launch.
package taskq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mizuno/missiond/internal/logging"
	"github.com/mizuno/missiond/internal/model"
)

// Priority orders task classes. Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps the wire/CLI spelling to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "medium", "med", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// Func is the unit of work. The context carries the per-task timeout; work
// that can block should honor it.
type Func func(ctx context.Context) error

type task struct {
	id       string
	priority Priority
	fn       Func
	timeout  time.Duration
	attempts int // executions so far, including the one in flight
	seq      uint64
}

// Option adjusts a scheduled task.
type Option func(*task)

// WithID pins the task id instead of generating one. Ids are how Cancel
// addresses queued work.
func WithID(id string) Option {
	return func(t *task) { t.id = id }
}

// WithTimeout overrides the queue's default per-execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *task) { t.timeout = d }
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Dropped   int `json:"dropped"`
}

// Queue is the scheduler. One drain-loop goroutine picks the next task by
// priority then enqueue order; a weighted semaphore caps how many run at
// once.
type Queue struct {
	mu      sync.Mutex
	pending []*task
	seq     uint64
	stopped bool

	running   int
	executed  int
	succeeded int
	retried   int
	dropped   int

	sem            *semaphore.Weighted
	maxAttempts    int
	defaultTimeout time.Duration

	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a stopped queue from config. Zero or negative config values fall
// back to the defaults (3 concurrent, 3 attempts, 30s timeout).
func New(cfg model.QueueConfig, logger *logging.Logger) *Queue {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := time.Duration(cfg.DefaultTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		maxAttempts:    maxAttempts,
		defaultTimeout: timeout,
		logger:         logger.WithComponent("taskq"),
		ctx:            ctx,
		cancel:         cancel,
		wake:           make(chan struct{}, 1),
		quit:           make(chan struct{}),
	}
}

// Start launches the drain loop. Safe to call more than once.
func (q *Queue) Start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go q.loop()
	})
}

// GenerateTaskID mints a queue-unique task id: task_<unix>_<8 hex chars>.
func GenerateTaskID() string {
	return fmt.Sprintf("task_%010d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

// Schedule accepts work unconditionally and returns its id. After Stop the
// task is logged and discarded instead.
func (q *Queue) Schedule(priority Priority, fn Func, opts ...Option) string {
	t := &task{
		id:       GenerateTaskID(),
		priority: priority,
		fn:       fn,
	}
	for _, opt := range opts {
		opt(t)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warnf("queue stopped, discarding task %s", t.id)
		return t.id
	}
	q.seq++
	t.seq = q.seq
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	q.logger.Debugf("scheduled task %s priority=%s", t.id, priority)
	q.wakeup()
	return t.id
}

// Cancel removes a task that is still queued. Running tasks are not
// interrupted; Cancel returns false for them and for unknown ids.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.pending {
		if t.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// CancelAll discards every queued task and returns how many were dropped.
// In-flight work keeps running to completion.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	if n > 0 {
		q.logger.Infof("cancelled %d queued tasks", n)
	}
	return n
}

// Stop discards queued tasks and waits for running ones to finish. When ctx
// expires first the remaining task contexts are cancelled and Stop returns
// the ctx error after they unwind.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.pending = nil
	q.mu.Unlock()
	close(q.quit)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats snapshots the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    len(q.pending),
		Running:   q.running,
		Executed:  q.executed,
		Succeeded: q.succeeded,
		Retried:   q.retried,
		Dropped:   q.dropped,
	}
}

func (q *Queue) wakeup() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// loop acquires capacity first, then picks work, so a task never sits popped
// while waiting for a slot and a later high-priority arrival still wins.
func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		t := q.next()
		if t == nil {
			q.sem.Release(1)
			return
		}
		q.wg.Add(1)
		go q.run(t)
	}
}

// next blocks until a task is available or the queue shuts down. Selection
// follows priority ascending, then enqueue order.
func (q *Queue) next() *task {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			best := 0
			for i := 1; i < len(q.pending); i++ {
				if q.pending[i].priority < q.pending[best].priority ||
					(q.pending[i].priority == q.pending[best].priority && q.pending[i].seq < q.pending[best].seq) {
					best = i
				}
			}
			t := q.pending[best]
			q.pending = append(q.pending[:best], q.pending[best+1:]...)
			q.mu.Unlock()
			return t
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.quit:
			return nil
		case <-q.ctx.Done():
			return nil
		}
	}
}

func (q *Queue) run(t *task) {
	defer q.wg.Done()
	defer q.sem.Release(1)

	q.mu.Lock()
	q.running++
	q.executed++
	t.attempts++
	attempt := t.attempts
	q.mu.Unlock()

	timeout := t.timeout
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(q.ctx, timeout)
	err := runProtected(ctx, t.fn)
	cancel()

	q.mu.Lock()
	q.running--
	if err == nil {
		q.succeeded++
		q.mu.Unlock()
		q.logger.Debugf("task %s succeeded attempt=%d", t.id, attempt)
		return
	}
	if attempt >= q.maxAttempts {
		q.dropped++
		q.mu.Unlock()
		q.logger.Warnf("task %s dropped, max attempts exceeded (%d/%d): %v", t.id, attempt, q.maxAttempts, err)
		return
	}
	q.retried++
	if !q.stopped {
		q.seq++
		t.seq = q.seq
		q.pending = append(q.pending, t)
	}
	q.mu.Unlock()
	q.logger.Warnf("task %s attempt %d/%d failed, requeued: %v", t.id, attempt, q.maxAttempts, err)
	q.wakeup()
}

// runProtected executes fn and returns when it finishes or the deadline
// passes, whichever is first. A panic inside the task becomes an ordinary
// error so one bad task cannot take the pool down. A task that outlives its
// deadline keeps running on its own goroutine; the buffered channel lets it
// exit without a reader.
func runProtected(ctx context.Context, fn Func) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
