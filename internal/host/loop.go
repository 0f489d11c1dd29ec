// Package host runs work with the thread affinity a game server expects: one main loop that owns
// session state, plus a bounded worker pool for blocking I/O.
package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Inpuzah/stafftools/internal/infra"
)

// ErrStopped is returned by Call when the loop is not running.
var ErrStopped = errors.New("host loop stopped")

const (
	defaultQueueSize = 1024
	defaultWorkers   = 4
)

type Loop struct {
	tasks   chan func()
	workers *semaphore.Weighted

	deferred atomic.Int64

	runMutex  sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	mainDone  chan struct{}
	workersWg sync.WaitGroup
}

func NewLoop(queueSize int, workers int64) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Loop{
		tasks:   make(chan func(), queueSize),
		workers: semaphore.NewWeighted(workers),
		runCtx:  context.Background(),
	}
}

func (l *Loop) getLogEntry() *log.Entry {
	return log.WithField("object", "HostLoop")
}

func (l *Loop) Start(ctx context.Context) error {
	l.runMutex.Lock()
	defer l.runMutex.Unlock()
	if l.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.runCtx = runCtx
	l.runCancel = cancel
	l.mainDone = make(chan struct{})

	mainDone := l.mainDone
	go infra.GoRecoverable(-1, "host_main_loop", func() {
		l.drain(runCtx, mainDone)
	})

	l.started = true
	l.getLogEntry().Debug("main loop started")
	return nil
}

func (l *Loop) Stop(ctx context.Context) error {
	l.runMutex.Lock()
	if !l.started {
		l.runMutex.Unlock()
		return nil
	}
	l.started = false
	cancel := l.runCancel
	mainDone := l.mainDone
	l.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-mainDone
		l.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (l *Loop) drain(ctx context.Context, done chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			l.flush()
			close(done)
			return
		case task := <-l.tasks:
			l.run(task)
		}
	}
}

// flush runs whatever was queued before shutdown so that pending kicks and messages still land.
func (l *Loop) flush() {
	for {
		select {
		case task := <-l.tasks:
			l.run(task)
		default:
			return
		}
	}
}

func (l *Loop) run(task func()) {
	if err := infra.Safely("main_loop_task", task); err != nil {
		l.getLogEntry().WithError(err).Error("main loop task failed")
	}
}

// RunOnMainLoop queues fn for the main loop. It never blocks the caller. When the queue is full the
// task waits on a side goroutine, and is dropped if the loop stops first.
func (l *Loop) RunOnMainLoop(fn func()) {
	select {
	case l.tasks <- fn:
	default:
		l.getLogEntry().WithField("queue", cap(l.tasks)).Warn("main loop queue is full, deferring task")
		ctx := l.context()
		l.deferred.Add(1)
		go func() {
			defer l.deferred.Add(-1)
			select {
			case l.tasks <- fn:
			case <-ctx.Done():
				l.getLogEntry().Warn("main loop stopped, dropping deferred task")
			}
		}()
	}
}

// RunAsync runs fn on the worker pool. Tasks submitted after shutdown still run, with a cancelled context,
// so callers waiting on a result channel always get an answer.
func (l *Loop) RunAsync(fn func(ctx context.Context)) {
	ctx := l.context()
	l.workersWg.Add(1)
	go func() {
		defer l.workersWg.Done()
		if err := l.workers.Acquire(ctx, 1); err != nil {
			l.runWorker(ctx, fn)
			return
		}
		defer l.workers.Release(1)
		l.runWorker(ctx, fn)
	}()
}

func (l *Loop) runWorker(ctx context.Context, fn func(ctx context.Context)) {
	if err := infra.Safely("worker_task", func() { fn(ctx) }); err != nil {
		l.getLogEntry().WithError(err).Error("worker task failed")
	}
}

// RunLater queues fn on the main loop after delay.
func (l *Loop) RunLater(fn func(), delay time.Duration) {
	if delay <= 0 {
		l.RunOnMainLoop(fn)
		return
	}
	time.AfterFunc(delay, func() { l.RunOnMainLoop(fn) })
}

// RunRepeating calls fn every interval on its own goroutine until the loop stops or the returned
// cancel func is called.
func (l *Loop) RunRepeating(id string, interval time.Duration, fn func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(l.context())
	l.workersWg.Add(1)
	go func() {
		defer l.workersWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := infra.Safely(id, func() { fn(ctx) }); err != nil {
					l.getLogEntry().WithError(err).WithField("task", id).Error("repeating task failed")
				}
			}
		}
	}()
	return cancel
}

// Call runs fn on the main loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if !l.running() {
		return ErrStopped
	}
	done := make(chan struct{})
	l.RunOnMainLoop(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) running() bool {
	l.runMutex.Lock()
	defer l.runMutex.Unlock()
	return l.started
}

func (l *Loop) context() context.Context {
	l.runMutex.Lock()
	defer l.runMutex.Unlock()
	return l.runCtx
}
