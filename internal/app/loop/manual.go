package loop

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// advancer is the subset of the clockwork fake clock used by Manual.
type advancer interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// Manual is a synchronous Executor driven by a fake clock.
// Posted tasks run immediately in the caller goroutine and timers fire
// only when Advance moves the clock past their deadline.
type Manual struct {
	clock  advancer
	timers []*manualTimer
}

type manualTimer struct {
	due      time.Time
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *manualTimer) Stop() {
	t.stopped = true
}

// NewManual creates a manual executor whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		clock: clockwork.NewFakeClockAt(start),
	}
}

// Clock returns the fake clock.
func (m *Manual) Clock() clockwork.Clock {
	return m.clock
}

// Post runs fn immediately.
func (m *Manual) Post(fn func()) bool {
	fn()
	return true
}

// Every schedules fn every d.
func (m *Manual) Every(d time.Duration, fn func()) Cancel {
	t := &manualTimer{due: m.clock.Now().Add(d), interval: d, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// After schedules fn once after d.
func (m *Manual) After(d time.Duration, fn func()) Cancel {
	t := &manualTimer{due: m.clock.Now().Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Pending returns the number of live timers.
func (m *Manual) Pending() int {
	m.compact()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.clock.Now().Add(d)

	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		if wait := next.due.Sub(m.clock.Now()); wait > 0 {
			m.clock.Advance(wait)
		}
		if next.interval > 0 {
			next.due = next.due.Add(next.interval)
		} else {
			next.stopped = true
		}
		next.fn()
	}

	if rest := target.Sub(m.clock.Now()); rest > 0 {
		m.clock.Advance(rest)
	}
	m.compact()
}

func (m *Manual) nextDue(limit time.Time) *manualTimer {
	var next *manualTimer
	for _, t := range m.timers {
		if t.stopped || t.due.After(limit) {
			continue
		}
		if next == nil || t.due.Before(next.due) {
			next = t
		}
	}
	return next
}

func (m *Manual) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
}
