// Package protocol provides the overlay socket event names and payloads.
package protocol

import (
	"encoding/json"
	"time"
)

// Event represents an overlay socket event name.
type Event string

const (
	EventPlay          Event = "overlay:play"
	EventStop          Event = "overlay:stop"
	EventSettings      Event = "overlay:settings"
	EventHeartbeat     Event = "overlay:heartbeat"
	EventError         Event = "overlay:error"
	EventPlaybackState Event = "overlay:playback-state"
	EventPlaybackStop  Event = "overlay:playback-stop"
	EventMemeTrigger   Event = "overlay:meme-trigger"
)

// String returns the wire name of the event.
func (e Event) String() string {
	return string(e)
}

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PlaybackStatePayload reports the derived state of the active job.
// RemainingMs is nil while no countdown is running.
type PlaybackStatePayload struct {
	JobID       string `json:"jobId"`
	State       string `json:"state"`
	RemainingMs *int64 `json:"remainingMs"`
}

// PlaybackStopPayload reports the end of a job.
type PlaybackStopPayload struct {
	JobID string `json:"jobId"`
}

// ErrorPayload reports a render failure for a job.
type ErrorPayload struct {
	JobID   string `json:"jobId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes reported with ErrorPayload.
const (
	ErrorCodeRenderFailed = "render_failed"
)

// HeartbeatPayload is sent periodically while connected.
type HeartbeatPayload struct {
	ClientID string    `json:"clientId,omitempty"`
	JobID    string    `json:"jobId,omitempty"`
	At       time.Time `json:"at"`
}

// MemeTriggerPayload asks the server to play a meme board item.
type MemeTriggerPayload struct {
	ItemID  string `json:"itemId"`
	Trigger string `json:"trigger"`
}

// Meme trigger sources.
const (
	TriggerShortcut = "shortcut"
	TriggerUI       = "ui"
)
