// Package playback tracks the single active playback job and reports its state.
package playback

import "time"

// State represents the observable playback state of a job.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Session represents the active "play" instruction.
type Session struct {
	JobID     string
	State     State
	CreatedAt time.Time
}
