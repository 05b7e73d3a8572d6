package connection

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(enabled, paired bool) *Tracker {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewTracker(clock, Config{Enabled: enabled, Paired: paired})
}

func TestNewTracker_InitialState(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		paired   bool
		expected State
	}{
		{name: "disabled", enabled: false, paired: true, expected: StateDisabled},
		{name: "disabled and unpaired", enabled: false, paired: false, expected: StateDisabled},
		{name: "unpaired", enabled: true, paired: false, expected: StateNotPaired},
		{name: "ready", enabled: true, paired: true, expected: StateConnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, newTracker(tt.enabled, tt.paired).State())
		})
	}
}

func TestTracker_OnDisconnect(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		paired     bool
		reason     string
		expected   State
		wantReason string
	}{
		{name: "local disconnect", enabled: true, paired: true, reason: LocalDisconnectReason, expected: StateDisconnected, wantReason: LocalDisconnectReason},
		{name: "transport close", enabled: true, paired: true, reason: "transport close", expected: StateReconnecting, wantReason: "transport close"},
		{name: "ping timeout", enabled: true, paired: true, reason: "ping timeout", expected: StateReconnecting, wantReason: "ping timeout"},
		{name: "disabled wins", enabled: false, paired: true, reason: "transport close", expected: StateDisabled},
		{name: "disabled wins over local", enabled: false, paired: true, reason: LocalDisconnectReason, expected: StateDisabled},
		{name: "unpaired", enabled: true, paired: false, reason: "transport close", expected: StateNotPaired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(tt.enabled, tt.paired)
			tr.OnDisconnect(tt.reason)
			assert.Equal(t, tt.expected, tr.State())
			assert.Equal(t, tt.wantReason, tr.Status().Reason)
		})
	}
}

func TestTracker_OnConnectClearsReason(t *testing.T) {
	tr := newTracker(true, true)
	tr.OnConnectError(errors.New("dial tcp: connection refused"))
	require.Equal(t, StateError, tr.State())

	assert.True(t, tr.OnConnect())
	assert.Equal(t, StateConnected, tr.State())
	assert.Empty(t, tr.Status().Reason)
}

func TestTracker_OnConnectIgnoredWhenDisabled(t *testing.T) {
	tr := newTracker(false, true)
	assert.False(t, tr.OnConnect())
	assert.Equal(t, StateDisabled, tr.State())
}

func TestTracker_OnConnectError(t *testing.T) {
	tr := newTracker(true, true)
	tr.OnConnectError(nil)
	assert.Equal(t, StateError, tr.State())
	assert.Equal(t, "connect_error", tr.Status().Reason)

	tr.OnConnectError(errors.New("bad handshake"))
	assert.Equal(t, "bad handshake", tr.Status().Reason)
}

func TestTracker_OnReconnectAttempt(t *testing.T) {
	tr := newTracker(true, true)
	tr.OnConnectError(errors.New("refused"))
	tr.OnReconnectAttempt()
	assert.Equal(t, StateReconnecting, tr.State())

	disabled := newTracker(false, true)
	disabled.OnReconnectAttempt()
	assert.Equal(t, StateDisabled, disabled.State())

	unpaired := newTracker(true, false)
	unpaired.OnReconnectAttempt()
	assert.Equal(t, StateNotPaired, unpaired.State())
}

func TestTracker_SetEnabledAndPaired(t *testing.T) {
	tr := newTracker(true, true)
	tr.OnConnect()

	tr.SetEnabled(false)
	assert.Equal(t, StateDisabled, tr.State())
	tr.OnDisconnect(LocalDisconnectReason)
	assert.Equal(t, StateDisabled, tr.State())

	tr.SetEnabled(true)
	assert.Equal(t, StateConnecting, tr.State())

	tr.SetPaired(false)
	assert.Equal(t, StateNotPaired, tr.State())
	assert.False(t, tr.Paired())
}

func TestTracker_ReasonIsTrimmedAndTruncated(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, Config{Enabled: true, Paired: true, ReasonMaxLength: 10})

	tr.SetState(StateError, "   short  ")
	assert.Equal(t, "short", tr.Status().Reason)

	tr.SetState(StateError, strings.Repeat("é", 30))
	reason := tr.Status().Reason
	assert.Equal(t, 10, len([]rune(reason)))
	assert.True(t, strings.HasSuffix(reason, "…"))
}

func TestTracker_OnChangeOnlyOnChange(t *testing.T) {
	tr := newTracker(true, true)

	var got []Status
	tr.OnChange(func(s Status) { got = append(got, s) })

	tr.OnConnect()
	tr.OnConnect()
	tr.OnDisconnect("transport close")
	tr.OnReconnectAttempt()

	require.Len(t, got, 2)
	assert.Equal(t, StateConnected, got[0].State)
	assert.Equal(t, StateReconnecting, got[1].State)
}

func TestStatus_Tooltip(t *testing.T) {
	assert.Equal(t, "Livechat Overlay: Connected", Status{State: StateConnected}.Tooltip())
	assert.Equal(t, "Livechat Overlay: Reconnecting... (transport close)",
		Status{State: StateReconnecting, Reason: "transport close"}.Tooltip())
	assert.Equal(t, "Not paired", Status{State: StateNotPaired}.Label())
}
