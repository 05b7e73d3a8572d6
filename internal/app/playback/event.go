package playback

import "github.com/osa030/livechat-overlay/internal/domain/protocol"

// Reporter receives the outbound reports of the tracker.
type Reporter interface {
	ReportState(payload protocol.PlaybackStatePayload)
	ReportStop(payload protocol.PlaybackStopPayload)
}

// CountdownSource is the read-only view of the countdown used to derive state.
type CountdownSource interface {
	Paused() bool
	Remaining() (int64, bool)
}

// Media is the media element bound to the active job.
type Media interface {
	Paused() bool
	Ended() bool
}

func statePayload(jobID string, state State, countdown CountdownSource) protocol.PlaybackStatePayload {
	payload := protocol.PlaybackStatePayload{
		JobID: jobID,
		State: state.String(),
	}
	if countdown != nil {
		if ms, ok := countdown.Remaining(); ok {
			payload.RemainingMs = &ms
		}
	}
	return payload
}
