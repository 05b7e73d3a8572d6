// Package loop provides the cooperative event loop that serializes all
// overlay state mutations.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"
)

// Cancel stops a scheduled callback.
type Cancel interface {
	Stop()
}

// Scheduler schedules callbacks onto the loop.
type Scheduler interface {
	// Every runs fn on the loop every d until cancelled.
	Every(d time.Duration, fn func()) Cancel
	// After runs fn on the loop once after d unless cancelled.
	After(d time.Duration, fn func()) Cancel
}

// Executor runs tasks one at a time and schedules timers.
type Executor interface {
	Scheduler
	// Post queues fn for execution. Returns false if the executor has stopped.
	Post(fn func()) bool
}

// Loop executes posted tasks sequentially on a single goroutine.
type Loop struct {
	clock clockwork.Clock
	tasks chan func()

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a new loop. Tasks posted before Run are queued.
func New(clock clockwork.Clock, buffer int) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		clock: clock,
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Clock returns the clock driving the loop timers.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.doneOnce.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("loop: task panicked: %v", r)
		}
	}()
	fn()
}

// Post queues fn for execution on the loop goroutine.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call posts fn and waits until it has run.
// Must not be called from the loop goroutine.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// timer is a loop timer. Once stopped, ticks already queued on the loop
// are dropped when they reach the front of the queue.
type timer struct {
	stopped atomic.Bool
	cancel  context.CancelFunc
}

func (t *timer) Stop() {
	t.stopped.Store(true)
	t.cancel()
}

func (t *timer) wrap(fn func()) func() {
	return func() {
		if t.stopped.Load() {
			return
		}
		fn()
	}
}

// Every runs fn on the loop every d until the returned Cancel is stopped.
func (l *Loop) Every(d time.Duration, fn func()) Cancel {
	ctx, cancel := context.WithCancel(context.Background())
	t := &timer{cancel: cancel}
	task := t.wrap(fn)

	ticker := l.clock.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case <-ticker.Chan():
				if !l.Post(task) {
					return
				}
			}
		}
	}()

	return t
}

// After runs fn on the loop once after d unless the returned Cancel is stopped.
func (l *Loop) After(d time.Duration, fn func()) Cancel {
	ctx, cancel := context.WithCancel(context.Background())
	t := &timer{cancel: cancel}
	task := t.wrap(func() {
		t.stopped.Store(true)
		fn()
	})

	tm := l.clock.NewTimer(d)
	go func() {
		defer tm.Stop()
		select {
		case <-ctx.Done():
		case <-l.done:
		case <-tm.Chan():
			l.Post(task)
		}
	}()

	return t
}
