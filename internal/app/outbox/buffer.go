// Package outbox holds outbound playback events while the transport is unavailable.
package outbox

import (
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/domain/protocol"
)

// Sender delivers events over the transport.
type Sender interface {
	Connected() bool
	Send(event protocol.Event, payload any) error
}

// Buffer keeps at most one pending playback-state and one pending
// playback-stop event. A newer event of the same kind overwrites the
// older one; intermediate states are not guaranteed delivery.
type Buffer struct {
	pendingState *protocol.PlaybackStatePayload
	pendingStop  *protocol.PlaybackStopPayload
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// BufferState stores the latest playback-state payload.
func (b *Buffer) BufferState(payload protocol.PlaybackStatePayload) {
	b.pendingState = &payload
}

// BufferStop stores the latest playback-stop payload.
func (b *Buffer) BufferStop(payload protocol.PlaybackStopPayload) {
	b.pendingStop = &payload
}

// Pending returns copies of the pending payloads (nil when empty).
func (b *Buffer) Pending() (*protocol.PlaybackStatePayload, *protocol.PlaybackStopPayload) {
	var state *protocol.PlaybackStatePayload
	var stop *protocol.PlaybackStopPayload
	if b.pendingState != nil {
		s := *b.pendingState
		state = &s
	}
	if b.pendingStop != nil {
		s := *b.pendingStop
		stop = &s
	}
	return state, stop
}

// Empty returns true if nothing is pending.
func (b *Buffer) Empty() bool {
	return b.pendingState == nil && b.pendingStop == nil
}

// Flush sends the pending state first, then the pending stop, and
// clears each slot once sent. It is a no-op while the sender is
// unavailable; a failed send keeps the remaining slots for the next
// connect. Returns the number of events sent.
func (b *Buffer) Flush(sender Sender) int {
	if sender == nil || !sender.Connected() {
		return 0
	}

	flushed := 0

	if b.pendingState != nil {
		payload := *b.pendingState
		if err := sender.Send(protocol.EventPlaybackState, payload); err != nil {
			zlog.Warn().Msgf("outbox: failed to flush playback-state: job_id=%s err=%v", payload.JobID, err)
			return flushed
		}
		b.pendingState = nil
		flushed++
		zlog.Debug().Msgf("outbox: flushed playback-state: job_id=%s state=%s", payload.JobID, payload.State)
	}

	if b.pendingStop != nil {
		payload := *b.pendingStop
		if err := sender.Send(protocol.EventPlaybackStop, payload); err != nil {
			zlog.Warn().Msgf("outbox: failed to flush playback-stop: job_id=%s err=%v", payload.JobID, err)
			return flushed
		}
		b.pendingStop = nil
		flushed++
		zlog.Debug().Msgf("outbox: flushed playback-stop: job_id=%s", payload.JobID)
	}

	return flushed
}
