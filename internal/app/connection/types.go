// Package connection tracks the socket connection lifecycle shown in the tray.
package connection

import (
	"fmt"
	"time"
)

// State represents the connection state.
type State string

const (
	StateDisabled     State = "disabled"
	StateNotPaired    State = "not_paired"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// LocalDisconnectReason is the disconnect reason reported after an
// intentional client-side disconnect.
const LocalDisconnectReason = "io client disconnect"

// ProductName prefixes the tray tooltip.
const ProductName = "Livechat Overlay"

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true for states that only an explicit user action leaves.
func (s State) IsTerminal() bool {
	return s == StateDisabled || s == StateNotPaired
}

// Label returns the tray label of the state.
func (s State) Label() string {
	switch s {
	case StateDisabled:
		return "Disabled"
	case StateNotPaired:
		return "Not paired"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting..."
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Connection error"
	default:
		return "Unknown"
	}
}

// Status is a snapshot of the connection state.
type Status struct {
	State  State
	Reason string
	Since  time.Time
}

// Label returns the tray label.
func (s Status) Label() string {
	return s.State.Label()
}

// Tooltip returns the tray tooltip text.
func (s Status) Tooltip() string {
	if s.Reason == "" {
		return fmt.Sprintf("%s: %s", ProductName, s.State.Label())
	}
	return fmt.Sprintf("%s: %s (%s)", ProductName, s.State.Label(), s.Reason)
}
