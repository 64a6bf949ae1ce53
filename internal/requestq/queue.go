// Package requestq bounds the rate of outbound calls to one exchange. Each
// exchange gets its own Queue; tasks run strictly one at a time in enqueue
// order with a fixed delay between dispatches, a rolling request window, and
// exponential-backoff retry of transient failures. Queues are independent of
// each other, so a slow exchange never stalls its peers.
package requestq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrQueueClosed is returned for tasks that were still pending when the
// queue shut down, and for enqueues after shutdown.
var ErrQueueClosed = errors.New("request queue closed")

// Task is one unit of outbound work.
type Task func(ctx context.Context) (any, error)

// Outcome is the terminal result of a task: its value, or the error left
// after retries were exhausted.
type Outcome struct {
	Value any
	Err   error
}

// Config tunes a Queue. Zero values fall back to the defaults below.
type Config struct {
	// RequestDelay is the pause inserted between task dispatches.
	RequestDelay time.Duration
	// WindowLimit caps requests per second across retries; 0 disables the
	// rolling window.
	WindowLimit int
	// MaxRetries is the total number of attempts for a transient failure.
	MaxRetries int
	// BackoffUnit scales the 2^attempt backoff; production keeps the
	// default of one second.
	BackoffUnit time.Duration
	// Timeout bounds each individual attempt; 0 means no per-attempt bound.
	Timeout time.Duration
	// Retryable classifies errors; a nil func retries everything. Domain
	// errors such as "symbol not found" must return false here.
	Retryable func(error) bool
}

func (c Config) withDefaults() Config {
	if c.RequestDelay == 0 {
		c.RequestDelay = 200 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffUnit == 0 {
		c.BackoffUnit = time.Second
	}
	return c
}

type pendingTask struct {
	ctx  context.Context
	task Task
	done chan Outcome
}

// Queue serializes outbound calls for a single exchange.
type Queue struct {
	name    string
	cfg     Config
	limiter *rate.Limiter
	logger  *logrus.Logger

	mu    sync.Mutex
	tasks []*pendingTask

	draining atomic.Bool
	closed   atomic.Bool
	idle     sync.WaitGroup
}

// New creates a queue for the named exchange.
func New(name string, cfg Config, logger *logrus.Logger) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{name: name, cfg: cfg, logger: logger}
	if cfg.WindowLimit > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.WindowLimit), cfg.WindowLimit)
	}
	return q
}

// Enqueue submits a task and returns a channel that resolves exactly once
// with the task's terminal outcome. Draining is triggered on every enqueue
// and is idempotent; concurrent enqueues never spawn a second drain loop.
func (q *Queue) Enqueue(ctx context.Context, task Task) <-chan Outcome {
	done := make(chan Outcome, 1)
	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		done <- Outcome{Err: ErrQueueClosed}
		return done
	}
	q.tasks = append(q.tasks, &pendingTask{ctx: ctx, task: task, done: done})
	q.mu.Unlock()
	q.wake()
	return done
}

// Do submits a task and blocks until it resolves or ctx is canceled.
func (q *Queue) Do(ctx context.Context, task Task) (any, error) {
	select {
	case outcome := <-q.Enqueue(ctx, task):
		return outcome.Value, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects all pending tasks with ErrQueueClosed and blocks until the
// in-flight task, if any, has finished. Close is idempotent.
func (q *Queue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, p := range pending {
		p.done <- Outcome{Err: ErrQueueClosed}
	}
	q.idle.Wait()
}

func (q *Queue) wake() {
	// Close flushes whatever is queued; spawning a drain loop after that
	// would race its WaitGroup.
	if q.closed.Load() {
		return
	}
	if q.draining.CompareAndSwap(false, true) {
		q.idle.Add(1)
		go q.drain()
	}
}

func (q *Queue) drain() {
	defer q.idle.Done()
	for {
		p := q.pop()
		if p == nil {
			q.draining.Store(false)
			// Re-check: a task may have been enqueued after the last pop
			// but before the flag flip, and its wake() lost the CAS race.
			if q.pending() && q.draining.CompareAndSwap(false, true) {
				continue
			}
			return
		}
		p.done <- q.execute(p)
		time.Sleep(q.cfg.RequestDelay)
	}
}

func (q *Queue) pop() *pendingTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	p := q.tasks[0]
	q.tasks = q.tasks[1:]
	return p
}

func (q *Queue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) > 0
}

// execute runs one task with window limiting, per-attempt timeout, and
// exponential backoff on transient errors.
func (q *Queue) execute(p *pendingTask) Outcome {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxRetries; attempt++ {
		if q.closed.Load() {
			return Outcome{Err: ErrQueueClosed}
		}
		if err := p.ctx.Err(); err != nil {
			return Outcome{Err: err}
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(p.ctx); err != nil {
				return Outcome{Err: err}
			}
		}

		value, err := q.runAttempt(p)
		if err == nil {
			return Outcome{Value: value}
		}
		lastErr = err

		if q.cfg.Retryable != nil && !q.cfg.Retryable(err) {
			return Outcome{Err: err}
		}
		if attempt == q.cfg.MaxRetries {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * q.cfg.BackoffUnit
		if q.logger != nil {
			q.logger.WithFields(logrus.Fields{
				"queue":   q.name,
				"attempt": attempt,
				"backoff": backoff,
			}).WithError(err).Warn("transient request failure, backing off")
		}
		select {
		case <-time.After(backoff):
		case <-p.ctx.Done():
			return Outcome{Err: p.ctx.Err()}
		}
	}
	return Outcome{Err: lastErr}
}

func (q *Queue) runAttempt(p *pendingTask) (any, error) {
	ctx := p.ctx
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}
	return p.task(ctx)
}
