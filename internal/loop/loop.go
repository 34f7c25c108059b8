package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loop is a Scheduler backed by one goroutine draining a task queue.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	exited    chan struct{}
}

// New creates a loop with the given queue depth. Start must be called before
// posted tasks run.
func New(logger *zap.Logger, queue int) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue <= 0 {
		queue = 256
	}
	return &Loop{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger,
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		ctx, l.cancel = context.WithCancel(ctx)
		go l.run(ctx)
	})
}

// Stop terminates the loop and waits for the goroutine to exit. Tasks still
// queued are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		if l.cancel != nil {
			l.cancel()
			<-l.exited
		}
	})
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.exited)
	for {
		select {
		case f := <-l.tasks:
			l.exec(f)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	f()
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Post queues f. It is dropped once the loop is stopped.
func (l *Loop) Post(f func()) {
	select {
	case l.tasks <- f:
	case <-l.done:
	}
}

// PostContext queues f unless ctx ends or the loop stops first. It reports
// whether f was queued. Producers that must not outlive a cancelled context
// use it instead of Post.
func (l *Loop) PostContext(ctx context.Context, f func()) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Call runs f on the loop and waits. It returns without running f if the loop
// is stopped first.
func (l *Loop) Call(f func()) {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		f()
	})
	select {
	case <-finished:
	case <-l.done:
	}
}

// Go runs work on a new goroutine and posts then when it returns.
func (l *Loop) Go(work func(), then func()) {
	go func() {
		work()
		l.Post(then)
	}()
}

type loopTimer struct {
	stopped atomic.Bool
	t       *time.Timer
	quit    chan struct{}
}

func (lt *loopTimer) Stop() bool {
	if lt.stopped.Swap(true) {
		return false
	}
	if lt.quit != nil {
		close(lt.quit)
	} else {
		lt.t.Stop()
	}
	return true
}

// AfterFunc runs f on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped.Swap(true) {
				return
			}
			f()
		})
	})
	return lt
}

// Every runs f on the loop every d until the timer is stopped or the loop ends.
func (l *Loop) Every(d time.Duration, f func()) Timer {
	lt := &loopTimer{quit: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Post(func() {
					if lt.stopped.Load() {
						return
					}
					f()
				})
			case <-lt.quit:
				return
			case <-l.done:
				return
			}
		}
	}()
	return lt
}
