// Package countdown provides the pausable display countdown.
package countdown

import (
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/osa030/livechat-overlay/internal/app/loop"
)

// DefaultTickInterval is the countdown recompute interval.
const DefaultTickInterval = 200 * time.Millisecond

// Config holds countdown configuration.
type Config struct {
	TickInterval time.Duration
}

// Countdown tracks the remaining display time of the active job.
// Remaining time is recomputed from the wall-clock delta since the last
// tick, so scheduling jitter never accumulates.
type Countdown struct {
	clock    clockwork.Clock
	sched    loop.Scheduler
	interval time.Duration

	set       bool
	remaining time.Duration
	paused    bool
	lastTick  time.Time
	autoClear bool
	ticker    loop.Cancel

	onTick   func(remainingMs int64)
	onExpire func(autoClear bool)
}

// New creates a new countdown.
func New(clock clockwork.Clock, sched loop.Scheduler, config Config) *Countdown {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	return &Countdown{
		clock:    clock,
		sched:    sched,
		interval: config.TickInterval,
	}
}

// OnTick registers the callback receiving remaining-time snapshots.
func (c *Countdown) OnTick(fn func(remainingMs int64)) {
	c.onTick = fn
}

// OnExpire registers the callback invoked once the countdown reaches zero.
func (c *Countdown) OnExpire(fn func(autoClear bool)) {
	c.onExpire = fn
}

// Start starts a countdown of durationSec seconds.
// Returns false without touching the current state if the duration is
// not a finite positive number.
func (c *Countdown) Start(durationSec float64, autoClear bool) bool {
	if math.IsNaN(durationSec) || math.IsInf(durationSec, 0) || durationSec <= 0 {
		return false
	}

	c.stopTicker()
	c.set = true
	c.remaining = time.Duration(durationSec * float64(time.Second))
	c.lastTick = c.clock.Now()
	c.paused = false
	c.autoClear = autoClear
	c.emitTick()
	c.ticker = c.sched.Every(c.interval, c.tick)

	return true
}

// Pause recomputes the remaining time once and freezes it.
func (c *Countdown) Pause() {
	if !c.set || c.paused {
		return
	}

	c.tick()
	if !c.set {
		return
	}
	c.paused = true
}

// Resume unfreezes the countdown without catching up the paused interval.
func (c *Countdown) Resume() {
	if !c.set || !c.paused {
		return
	}

	c.paused = false
	c.lastTick = c.clock.Now()
}

// Clear resets all state and stops ticking.
func (c *Countdown) Clear() {
	c.stopTicker()
	c.set = false
	c.remaining = 0
	c.lastTick = time.Time{}
	c.paused = false
	c.autoClear = false
}

// Remaining returns the remaining time in milliseconds.
// Returns false if no countdown is set.
func (c *Countdown) Remaining() (int64, bool) {
	if !c.set {
		return 0, false
	}
	return toMillis(c.remaining), true
}

// Paused returns true if the countdown is paused.
func (c *Countdown) Paused() bool {
	return c.paused
}

// Active returns true while the countdown is ticking.
func (c *Countdown) Active() bool {
	return c.ticker != nil
}

// AutoClear returns the auto-clear flag of the current countdown.
func (c *Countdown) AutoClear() bool {
	return c.autoClear
}

func (c *Countdown) tick() {
	if !c.set {
		return
	}

	now := c.clock.Now()
	if !c.paused {
		elapsed := now.Sub(c.lastTick)
		if elapsed < 0 {
			elapsed = 0
		}
		c.remaining -= elapsed
		if c.remaining < 0 {
			c.remaining = 0
		}
	}
	c.lastTick = now
	c.emitTick()

	if c.remaining <= 0 && c.ticker != nil {
		c.stopTicker()
		if c.onExpire != nil {
			c.onExpire(c.autoClear)
		}
	}
}

func (c *Countdown) emitTick() {
	if c.onTick != nil {
		c.onTick(toMillis(c.remaining))
	}
}

func (c *Countdown) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func toMillis(d time.Duration) int64 {
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}

// FormatRemaining formats a remaining time as MM:SS, rounding seconds up.
func FormatRemaining(remainingMs int64) string {
	sec := WholeSeconds(remainingMs)
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// WholeSeconds returns the remaining time in seconds, rounded up.
func WholeSeconds(remainingMs int64) int64 {
	if remainingMs <= 0 {
		return 0
	}
	return (remainingMs + 999) / 1000
}
