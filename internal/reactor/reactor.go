// Copyright 2025 James Ross
// Package reactor is the event/task executor: a bounded FIFO queue feeding
// a fixed-size worker pool that runs plugin event handlers. It owns the
// "current plugin" dispatch context threaded through listener invocation
// and the rate-limited warning emitted when the queue backs up.
package reactor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kafuuchino-desu/mcdr-go/internal/obs"
)

// ErrQueueFull is returned by AddInfoTask when the bounded queue has no
// room left. Callers must treat this as recoverable back-pressure, not a
// fatal error.
var ErrQueueFull = errors.New("reactor: task queue is full")

// Task is one unit of work run on a reactor worker: a parsed Info record
// being dispatched to listeners, or a façade call requesting inline
// execution. ctx marks the call as running on a reactor worker (see
// IsWorker); the current-plugin value is attached per listener invocation
// by the dispatcher (see WithPlugin), not by the worker itself.
type Task func(ctx context.Context)

type workerKey struct{}

// onWorker marks ctx as running on a reactor worker goroutine, so
// ExecuteOrEnqueue can tell a façade call made from inside an event
// dispatch apart from one made from an arbitrary external goroutine.
func onWorker(ctx context.Context) context.Context {
	return context.WithValue(ctx, workerKey{}, true)
}

// IsWorker reports whether ctx originates from a reactor worker.
func IsWorker(ctx context.Context) bool {
	v, _ := ctx.Value(workerKey{}).(bool)
	return v
}

type pluginKey struct{}

// WithPlugin attaches the id of the plugin a listener invocation belongs
// to. This is the explicit dispatch-context stand-in for a thread-local:
// Go has no ambient per-goroutine storage, so the value travels on the
// context the worker passes into the listener callback.
func WithPlugin(ctx context.Context, pluginID string) context.Context {
	return context.WithValue(ctx, pluginKey{}, pluginID)
}

// CurrentPlugin returns the plugin id a façade call is being made on behalf
// of, if ctx was produced during listener dispatch.
func CurrentPlugin(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(pluginKey{}).(string)
	return v, ok
}

// Reactor is the bounded queue plus fixed worker pool. A single Reactor
// serves the whole daemon: all plugin-set mutation and event dispatch runs
// through it, so ordering and the current-plugin context stay meaningful.
type Reactor struct {
	queue       chan Task
	workerCount int
	warnPeriod  time.Duration
	logger      *zap.Logger

	warnLimiter rate.Sometimes

	cancel   context.CancelFunc
	shutdown chan struct{}
}

// New builds a Reactor with the given queue capacity and worker count.
// warnPeriod bounds how often the "queue full" condition is logged at warn
// level; occurrences inside that window are logged at debug instead.
func New(queueSize, workerCount int, warnPeriod time.Duration, logger *zap.Logger) *Reactor {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Reactor{
		queue:       make(chan Task, queueSize),
		workerCount: workerCount,
		warnPeriod:  warnPeriod,
		logger:      logger,
		warnLimiter: rate.Sometimes{Interval: warnPeriod},
		shutdown:    make(chan struct{}),
	}
}

// Run starts the worker pool; it returns once every worker has exited,
// which happens when ctx is cancelled or when Shutdown cancels the workers
// after draining (or timing out on) the remaining queue.
func (r *Reactor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workerCount; i++ {
		g.Go(func() error {
			r.runWorker(gctx)
			return nil
		})
	}
	err := g.Wait()
	close(r.shutdown)
	return err
}

func (r *Reactor) runWorker(ctx context.Context) {
	workerCtx := onWorker(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-r.queue:
			if !ok {
				return
			}
			obs.ReactorQueueDepth.Set(float64(len(r.queue)))
			start := time.Now()
			task(workerCtx)
			obs.ReactorDispatchDuration.Observe(time.Since(start).Seconds())
			obs.ReactorTasksProcessed.Inc()
		}
	}
}

// AddInfoTask enqueues fn, the way the I/O pump submits a freshly-parsed
// Info record for dispatch. It never blocks: if the queue is full it
// returns ErrQueueFull immediately and logs a rate-limited warning (debug
// for occurrences inside the current warn window, warn once per
// warnPeriod), matching REACTOR_QUEUE_FULL_WARN_INTERVAL_SEC.
func (r *Reactor) AddInfoTask(fn Task) error {
	select {
	case r.queue <- fn:
		obs.ReactorQueueDepth.Set(float64(len(r.queue)))
		return nil
	default:
		obs.ReactorQueueFullTotal.Inc()
		warned := false
		r.warnLimiter.Do(func() {
			warned = true
			r.logger.Warn("reactor task queue is full, dropping task", zap.Int("queue_capacity", cap(r.queue)))
		})
		if !warned {
			r.logger.Debug("reactor task queue is full")
		}
		return ErrQueueFull
	}
}

// ExecuteOrEnqueue runs fn inline if the caller is already on a reactor
// worker (ctx satisfies IsWorker), otherwise enqueues it and blocks until
// either it is accepted or ctx is cancelled. Façade calls use this path:
// a listener calling back into plugin-management during its own dispatch
// must not deadlock waiting on the very queue it's being served from.
func (r *Reactor) ExecuteOrEnqueue(ctx context.Context, fn Task) error {
	if IsWorker(ctx) {
		fn(ctx)
		return nil
	}
	select {
	case r.queue <- fn:
		obs.ReactorQueueDepth.Set(float64(len(r.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueLen reports the number of tasks currently queued, for diagnostics.
func (r *Reactor) QueueLen() int { return len(r.queue) }

// Shutdown waits up to deadline for the running workers to drain the
// queue, then cancels the workers' context and waits for Run to return;
// anything still queued past the deadline is abandoned, matching the
// "no per-task cancellation, drain-then-abandon" shutdown model. The queue
// only drains if the ctx given to Run is still live when Shutdown is called.
func (r *Reactor) Shutdown(deadline time.Duration) {
	if r.cancel == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		for len(r.queue) > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		r.logger.Warn("reactor shutdown deadline exceeded, abandoning queued tasks", zap.Int("remaining", len(r.queue)))
	}
	r.cancel()
	<-r.shutdown
}
