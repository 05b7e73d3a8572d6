package playback

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/app/loop"
	"github.com/osa030/livechat-overlay/internal/domain/protocol"
)

// DefaultReportInterval is the heartbeat interval of state reports.
const DefaultReportInterval = time.Second

// Config holds tracker configuration.
type Config struct {
	ReportInterval time.Duration
}

// Tracker owns the lifecycle of the active playback session.
// At most one session exists; a new Start supersedes the current one.
type Tracker struct {
	clock    clockwork.Clock
	sched    loop.Scheduler
	interval time.Duration

	countdown CountdownSource
	reporter  Reporter
	media     Media

	session   *Session
	heartbeat loop.Cancel
}

// NewTracker creates a new session tracker.
func NewTracker(clock clockwork.Clock, sched loop.Scheduler, countdown CountdownSource, reporter Reporter, config Config) *Tracker {
	if config.ReportInterval <= 0 {
		config.ReportInterval = DefaultReportInterval
	}
	return &Tracker{
		clock:     clock,
		sched:     sched,
		interval:  config.ReportInterval,
		countdown: countdown,
		reporter:  reporter,
	}
}

// BindMedia binds the media element of the active job (nil to unbind).
func (t *Tracker) BindMedia(m Media) {
	t.media = m
}

// Start starts a session for jobID, ending the current one first.
// An empty or whitespace-only jobID creates no session and emits no
// report for it.
func (t *Tracker) Start(jobID string) bool {
	t.End()

	id := strings.TrimSpace(jobID)
	if id == "" {
		zlog.Debug().Msg("playback: ignoring session start without job id")
		return false
	}

	t.session = &Session{
		JobID:     id,
		State:     StatePlaying,
		CreatedAt: t.clock.Now(),
	}
	zlog.Debug().Msgf("playback: session started: job_id=%s", id)

	t.emit(StatePlaying)
	t.heartbeat = t.sched.Every(t.interval, t.beat)

	return true
}

// SetState records an explicit state change and reports it.
func (t *Tracker) SetState(state State) {
	if t.session == nil {
		return
	}
	t.session.State = state
	t.emit(state)
}

// Report re-emits the current derived state.
func (t *Tracker) Report() {
	if t.session == nil {
		return
	}
	t.session.State = t.derive()
	t.emit(t.session.State)
}

// End reports the end of the current session and discards it.
func (t *Tracker) End() {
	if t.session == nil {
		return
	}

	jobID := t.session.JobID
	t.emit(StateEnded)
	if t.reporter != nil {
		t.reporter.ReportStop(protocol.PlaybackStopPayload{JobID: jobID})
	}

	t.session = nil
	t.media = nil
	if t.heartbeat != nil {
		t.heartbeat.Stop()
		t.heartbeat = nil
	}
	zlog.Debug().Msgf("playback: session ended: job_id=%s", jobID)
}

// Current returns a copy of the active session.
func (t *Tracker) Current() (Session, bool) {
	if t.session == nil {
		return Session{}, false
	}
	return *t.session, true
}

// DerivedState returns the state the next heartbeat would report.
func (t *Tracker) DerivedState() (State, bool) {
	if t.session == nil {
		return "", false
	}
	return t.derive(), true
}

func (t *Tracker) beat() {
	if t.session == nil {
		return
	}
	t.session.State = t.derive()
	t.emit(t.session.State)
}

// derive applies, in order: countdown paused, media element state, last explicit state.
func (t *Tracker) derive() State {
	if t.countdown != nil && t.countdown.Paused() {
		return StatePaused
	}
	if t.media != nil && !t.media.Ended() {
		if t.media.Paused() {
			return StatePaused
		}
		return StatePlaying
	}
	return t.session.State
}

func (t *Tracker) emit(state State) {
	if t.reporter == nil {
		return
	}
	t.reporter.ReportState(statePayload(t.session.JobID, state, t.countdown))
}
