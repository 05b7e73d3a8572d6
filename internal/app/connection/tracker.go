package connection

import (
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"
)

// DefaultReasonMaxLength bounds the reason shown in the tray.
const DefaultReasonMaxLength = 80

// Config holds tracker configuration.
type Config struct {
	ReasonMaxLength int
	Enabled         bool
	Paired          bool
}

// Tracker reflects the transport lifecycle as a single connection state.
// It owns no retries; reconnection belongs to the transport.
type Tracker struct {
	mu sync.RWMutex

	clock     clockwork.Clock
	maxReason int

	status  Status
	enabled bool
	paired  bool

	onChange func(Status)
}

// NewTracker creates a new tracker. The initial state is derived from
// the enabled and paired flags.
func NewTracker(clock clockwork.Clock, config Config) *Tracker {
	if config.ReasonMaxLength <= 0 {
		config.ReasonMaxLength = DefaultReasonMaxLength
	}
	t := &Tracker{
		clock:     clock,
		maxReason: config.ReasonMaxLength,
		enabled:   config.Enabled,
		paired:    config.Paired,
	}
	t.status = Status{State: t.idleState(), Since: clock.Now()}
	return t
}

// OnChange registers the callback invoked after every change.
func (t *Tracker) OnChange(fn func(Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.State
}

// Enabled returns true if the overlay is enabled.
func (t *Tracker) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Paired returns true if pairing is complete.
func (t *Tracker) Paired() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paired
}

// SetState records the state and reason.
func (t *Tracker) SetState(next State, reason string) {
	t.mu.Lock()
	changed := t.setLocked(next, reason)
	status, onChange := t.status, t.onChange
	t.mu.Unlock()

	if changed {
		zlog.Info().Msgf("connection: state changed: state=%s reason=%q", status.State, status.Reason)
		if onChange != nil {
			onChange(status)
		}
	}
}

// OnConnect handles a transport connect. Returns false if the connect
// was ignored because the overlay is disabled or unpaired.
func (t *Tracker) OnConnect() bool {
	if !t.Enabled() || !t.Paired() {
		return false
	}
	t.SetState(StateConnected, "")
	return true
}

// OnDisconnect handles a transport disconnect.
func (t *Tracker) OnDisconnect(reason string) {
	t.mu.RLock()
	enabled, paired := t.enabled, t.paired
	t.mu.RUnlock()

	switch {
	case !enabled:
		t.SetState(StateDisabled, "")
	case !paired:
		t.SetState(StateNotPaired, "")
	case strings.TrimSpace(reason) == LocalDisconnectReason:
		t.SetState(StateDisconnected, reason)
	default:
		t.SetState(StateReconnecting, reason)
	}
}

// OnConnectError handles a failed connection attempt.
func (t *Tracker) OnConnectError(err error) {
	if t.State().IsTerminal() {
		return
	}
	reason := "connect_error"
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		reason = err.Error()
	}
	t.SetState(StateError, reason)
}

// OnReconnectAttempt handles a reconnection attempt notification.
func (t *Tracker) OnReconnectAttempt() {
	current := t.Status()
	if current.State.IsTerminal() {
		return
	}
	t.SetState(StateReconnecting, current.Reason)
}

// SetEnabled applies the overlay enabled flag.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
	t.SetState(t.idleState(), "")
}

// SetPaired applies the pairing flag.
func (t *Tracker) SetPaired(paired bool) {
	t.mu.Lock()
	t.paired = paired
	t.mu.Unlock()
	t.SetState(t.idleState(), "")
}

// idleState returns the state to show before the transport reports anything.
func (t *Tracker) idleState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch {
	case !t.enabled:
		return StateDisabled
	case !t.paired:
		return StateNotPaired
	default:
		return StateConnecting
	}
}

func (t *Tracker) setLocked(next State, reason string) bool {
	reason = truncate(strings.TrimSpace(reason), t.maxReason)
	if t.status.State == next && t.status.Reason == reason {
		return false
	}
	t.status = Status{State: next, Reason: reason, Since: t.clock.Now()}
	return true
}

// truncate bounds s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
