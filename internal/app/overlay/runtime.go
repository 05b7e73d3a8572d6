// Package overlay provides the runtime context that owns the playback
// synchronization and reconnection state of the overlay client.
package overlay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/app/bindings"
	"github.com/osa030/livechat-overlay/internal/app/connection"
	"github.com/osa030/livechat-overlay/internal/app/countdown"
	"github.com/osa030/livechat-overlay/internal/app/loop"
	"github.com/osa030/livechat-overlay/internal/app/notification"
	"github.com/osa030/livechat-overlay/internal/app/outbox"
	"github.com/osa030/livechat-overlay/internal/app/playback"
	"github.com/osa030/livechat-overlay/internal/domain/media"
	"github.com/osa030/livechat-overlay/internal/domain/protocol"
	"github.com/osa030/livechat-overlay/internal/infra/config"
	"github.com/osa030/livechat-overlay/internal/infra/socket"
)

// Default runtime intervals.
const (
	DefaultAutoClearGrace    = 100 * time.Millisecond
	DefaultHeartbeatInterval = 15 * time.Second
)

var (
	ErrSocketOffline   = errors.New("socket_offline")
	ErrUnboundShortcut = errors.New("shortcut is not bound")
	ErrMissingItem     = errors.New("meme item id is required")
	ErrStopped         = errors.New("overlay runtime is stopped")
)

// Transport is the realtime connection driven by the runtime.
type Transport interface {
	Connect(ctx context.Context, creds socket.Credentials) error
	Disconnect()
	Connected() bool
	Send(event protocol.Event, payload any) error
}

// Renderer displays play instructions. Implementations must not block.
type Renderer interface {
	Render(instr media.PlayInstruction, settings media.Settings) error
	Clear()
	ApplySettings(settings media.Settings)
	ShowRemaining(remainingMs int64)
}

// Store persists runtime changes to the configuration.
type Store interface {
	Update(fn func(*config.Config)) error
}

// Config holds runtime configuration.
type Config struct {
	TickInterval      time.Duration
	ReportInterval    time.Duration
	AutoClearGrace    time.Duration
	HeartbeatInterval time.Duration
	ReasonMaxLength   int
}

// Options are the collaborators and initial state of a Runtime.
type Options struct {
	Config      Config
	Credentials socket.Credentials
	Enabled     bool
	Settings    media.Settings
	Bindings    *bindings.Registry
	Notifier    *notification.Manager
	Store       Store
	// Persist runs config writes. Defaults to the runtime executor.
	Persist loop.Executor
}

// Runtime is the owned context of the overlay. Every mutation runs on the
// executor; public methods only post tasks.
type Runtime struct {
	exec  loop.Executor
	clock clockwork.Clock
	cfg   Config
	ctx   context.Context

	transport Transport
	renderer  Renderer
	store     Store
	persister loop.Executor
	bindings  *bindings.Registry
	notifier  *notification.Manager

	conn      *connection.Tracker
	countdown *countdown.Countdown
	tracker   *playback.Tracker
	buffer    *outbox.Buffer

	creds      socket.Credentials
	settings   media.Settings
	current    *media.PlayInstruction
	media      playback.Media
	resetTimer loop.Cancel
	heartbeat  loop.Cancel
	lastSecond int64

	// generation identifies the current transport session. Hooks
	// captured under an older generation are dropped.
	generation atomic.Uint64
}

// New creates a runtime. The transport is attached with SetTransport since
// it needs the runtime as its handler.
func New(exec loop.Executor, clock clockwork.Clock, renderer Renderer, opts Options) *Runtime {
	cfg := opts.Config
	if cfg.AutoClearGrace < 0 {
		cfg.AutoClearGrace = DefaultAutoClearGrace
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Bindings == nil {
		opts.Bindings = bindings.NewRegistry()
	}
	if opts.Notifier == nil {
		opts.Notifier = notification.NewManager()
	}
	if opts.Persist == nil {
		opts.Persist = exec
	}

	r := &Runtime{
		exec:       exec,
		clock:      clock,
		cfg:        cfg,
		ctx:        context.Background(),
		renderer:   renderer,
		store:      opts.Store,
		persister:  opts.Persist,
		bindings:   opts.Bindings,
		notifier:   opts.Notifier,
		buffer:     outbox.New(),
		creds:      opts.Credentials,
		settings:   opts.Settings,
		lastSecond: -1,
	}

	r.conn = connection.NewTracker(clock, connection.Config{
		ReasonMaxLength: cfg.ReasonMaxLength,
		Enabled:         opts.Enabled,
		Paired:          r.paired(),
	})
	r.conn.OnChange(func(s connection.Status) {
		r.notifier.Broadcast(notification.FromStatus(s))
	})

	r.countdown = countdown.New(clock, exec, countdown.Config{TickInterval: cfg.TickInterval})
	r.countdown.OnTick(r.onCountdownTick)
	r.countdown.OnExpire(r.onCountdownExpire)

	r.tracker = playback.NewTracker(clock, exec, r.countdown, r, playback.Config{
		ReportInterval: cfg.ReportInterval,
	})

	return r
}

// SetTransport attaches the transport. Must be called before Start.
func (r *Runtime) SetTransport(t Transport) {
	r.transport = t
}

// Start connects the transport when the overlay is enabled and paired.
func (r *Runtime) Start(ctx context.Context) {
	r.post(func() {
		r.ctx = ctx
		r.notifier.Broadcast(notification.FromStatus(r.conn.Status()))
		r.connect()
	})
}

// Shutdown clears the overlay and disconnects the transport.
func (r *Runtime) Shutdown() {
	r.post(func() {
		r.clear()
		r.disconnect()
	})
}

// Status returns the current connection status.
func (r *Runtime) Status() connection.Status {
	return r.conn.Status()
}

// Notifier returns the status notifier.
func (r *Runtime) Notifier() *notification.Manager {
	return r.notifier
}

// Bindings returns the shortcut registry.
func (r *Runtime) Bindings() *bindings.Registry {
	return r.bindings
}

// Play handles an overlay:play instruction.
func (r *Runtime) Play(instr media.PlayInstruction) {
	r.post(func() { r.play(instr) })
}

// Stop handles an overlay:stop instruction.
func (r *Runtime) Stop() {
	r.post(r.clear)
}

// BindMedia binds the media element rendered for the active job.
func (r *Runtime) BindMedia(m playback.Media) {
	r.post(func() {
		if r.current == nil {
			return
		}
		r.media = m
		r.tracker.BindMedia(m)
	})
}

// MediaPlaying handles the media element starting or resuming playback.
func (r *Runtime) MediaPlaying() {
	r.post(func() {
		r.countdown.Resume()
		r.tracker.SetState(playback.StatePlaying)
	})
}

// MediaPaused handles the media element pausing. Ignored once ended.
func (r *Runtime) MediaPaused() {
	r.post(func() {
		if r.media != nil && r.media.Ended() {
			return
		}
		r.countdown.Pause()
		r.tracker.SetState(playback.StatePaused)
	})
}

// MediaEnded handles the media element reaching its natural end.
func (r *Runtime) MediaEnded() {
	r.post(r.clear)
}

// RenderFailed handles an asynchronous render failure of jobID.
func (r *Runtime) RenderFailed(jobID string, err error) {
	r.post(func() {
		if r.current != nil && jobID != "" && r.current.NormalizedJobID() != jobID {
			zlog.Debug().Msgf("overlay: ignoring render failure of stale job: job_id=%s", jobID)
			return
		}
		if jobID == "" && r.current != nil {
			jobID = r.current.NormalizedJobID()
		}
		r.renderFailed(jobID, err)
	})
}

// SetEnabled enables or disables the overlay.
func (r *Runtime) SetEnabled(enabled bool) {
	r.post(func() {
		r.persist(func(c *config.Config) { c.SetEnabled(enabled) })

		if !enabled {
			r.clear()
			r.conn.SetEnabled(false)
			r.disconnect()
			return
		}

		if r.conn.Enabled() {
			return
		}
		r.conn.SetEnabled(true)
		r.connect()
	})
}

// Pair stores new credentials and connects.
func (r *Runtime) Pair(creds socket.Credentials) {
	r.post(func() {
		r.persist(func(c *config.Config) {
			c.SetPairing(creds.ServerURL, creds.Token, creds.GuildID, creds.ClientID)
		})
		r.creds = creds
		r.disconnect()
		r.conn.SetPaired(r.paired())
		r.connect()
	})
}

// ResetPairing clears the credentials and disconnects.
func (r *Runtime) ResetPairing() {
	r.post(func() {
		r.persist(func(c *config.Config) { c.ClearPairing() })
		r.clear()
		r.creds = socket.Credentials{ServerURL: r.creds.ServerURL}
		r.conn.SetPaired(false)
		r.disconnect()
	})
}

// TriggerBinding sends the meme item bound to accelerator.
func (r *Runtime) TriggerBinding(accelerator string) error {
	itemID, ok := r.bindings.Resolve(accelerator)
	if !ok {
		return errors.Wrapf(ErrUnboundShortcut, "accelerator %q", accelerator)
	}
	return r.TriggerMeme(itemID, protocol.TriggerShortcut)
}

// TriggerMeme asks the server to play a meme board item.
func (r *Runtime) TriggerMeme(itemID, trigger string) error {
	if itemID == "" {
		return ErrMissingItem
	}
	if trigger == "" {
		trigger = protocol.TriggerUI
	}
	if !r.online() {
		return ErrSocketOffline
	}

	err := r.transport.Send(protocol.EventMemeTrigger, protocol.MemeTriggerPayload{
		ItemID:  itemID,
		Trigger: trigger,
	})
	if errors.Is(err, socket.ErrNotConnected) {
		return ErrSocketOffline
	}
	return err
}

func (r *Runtime) post(fn func()) {
	if !r.exec.Post(fn) {
		zlog.Debug().Msg("overlay: dropping task after shutdown")
	}
}

func (r *Runtime) paired() bool {
	return r.creds.Validate() == nil
}

// online reports whether events may go out directly. The tracker must
// have processed the connect, so buffered events are flushed first.
func (r *Runtime) online() bool {
	return r.transport != nil &&
		r.conn.State() == connection.StateConnected &&
		r.transport.Connected()
}

// hook posts fn on behalf of the transport session current at call time.
func (r *Runtime) hook(fn func()) {
	gen := r.generation.Load()
	r.post(func() {
		if gen != r.generation.Load() {
			zlog.Debug().Msgf("overlay: dropping hook of superseded transport session: generation=%d", gen)
			return
		}
		fn()
	})
}

// disconnect stops the transport session and applies the local
// disconnect directly. Hooks still queued from that session are dropped.
func (r *Runtime) disconnect() {
	r.stopHeartbeat()
	if r.transport == nil {
		return
	}
	wasConnected := r.transport.Connected()
	r.transport.Disconnect()
	r.generation.Add(1)
	if wasConnected {
		r.conn.OnDisconnect(connection.LocalDisconnectReason)
	}
}

func (r *Runtime) connect() {
	if r.transport == nil || !r.conn.Enabled() || !r.paired() {
		return
	}
	wasConnected := r.transport.Connected()
	r.disconnect()
	if wasConnected {
		r.conn.SetState(connection.StateConnecting, "")
	}
	if err := r.transport.Connect(r.ctx, r.creds); err != nil {
		zlog.Warn().Msgf("overlay: connect failed: err=%v", err)
		r.conn.OnConnectError(err)
	}
}

func (r *Runtime) persist(fn func(*config.Config)) {
	if r.store == nil {
		return
	}
	r.persister.Post(func() {
		if err := r.store.Update(fn); err != nil {
			zlog.Warn().Msgf("overlay: failed to persist config: err=%v", err)
		}
	})
}

func (r *Runtime) play(instr media.PlayInstruction) {
	r.clear()

	r.current = &instr
	r.tracker.Start(instr.JobID)
	zlog.Info().Msgf("overlay: play: job_id=%s", instr.NormalizedJobID())

	if err := r.renderer.Render(instr, r.settings); err != nil {
		r.renderFailed(instr.ReportJobID(), err)
		return
	}

	duration, ok := instr.Duration()
	if !ok {
		r.countdown.Clear()
		return
	}

	autoClear := instr.AutoClearByTimer()
	r.countdown.Start(duration, autoClear)
	if autoClear {
		r.resetTimer = r.exec.After(media.SecondsToDuration(duration)+r.cfg.AutoClearGrace, r.clear)
	}
}

// clear ends the session and removes everything from the overlay.
func (r *Runtime) clear() {
	r.tracker.End()
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
	r.countdown.Clear()
	r.media = nil
	r.lastSecond = -1
	if r.current != nil {
		r.current = nil
		r.renderer.Clear()
	}
}

func (r *Runtime) renderFailed(jobID string, err error) {
	if jobID == "" {
		jobID = media.UnknownJobID
	}
	message := "unknown_render_error"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	zlog.Warn().Msgf("overlay: render failed: job_id=%s err=%s", jobID, message)

	r.sendNow(protocol.EventError, protocol.ErrorPayload{
		JobID:   jobID,
		Code:    protocol.ErrorCodeRenderFailed,
		Message: message,
	})
	r.clear()
}

func (r *Runtime) onCountdownTick(remainingMs int64) {
	r.renderer.ShowRemaining(remainingMs)

	sec := countdown.WholeSeconds(remainingMs)
	if sec == r.lastSecond {
		return
	}
	r.lastSecond = sec
	r.tracker.Report()
}

func (r *Runtime) onCountdownExpire(autoClear bool) {
	mediaRunning := r.media != nil && !r.media.Ended()
	if autoClear || !mediaRunning {
		r.clear()
	}
}

// sendNow sends an event that is never buffered.
func (r *Runtime) sendNow(event protocol.Event, payload any) {
	if !r.online() {
		zlog.Debug().Msgf("overlay: dropping %s while offline", event)
		return
	}
	if err := r.transport.Send(event, payload); err != nil {
		zlog.Warn().Msgf("overlay: send failed: event=%s err=%v", event, err)
	}
}

// ReportState implements playback.Reporter.
func (r *Runtime) ReportState(payload protocol.PlaybackStatePayload) {
	if r.trySend(protocol.EventPlaybackState, payload) {
		return
	}
	r.buffer.BufferState(payload)
}

// ReportStop implements playback.Reporter.
func (r *Runtime) ReportStop(payload protocol.PlaybackStopPayload) {
	if r.trySend(protocol.EventPlaybackStop, payload) {
		return
	}
	r.buffer.BufferStop(payload)
}

func (r *Runtime) trySend(event protocol.Event, payload any) bool {
	if !r.online() {
		return false
	}
	if err := r.transport.Send(event, payload); err != nil {
		zlog.Debug().Msgf("overlay: buffering after send failure: event=%s err=%v", event, err)
		return false
	}
	return true
}

func (r *Runtime) startHeartbeat() {
	r.stopHeartbeat()
	r.heartbeat = r.exec.Every(r.cfg.HeartbeatInterval, r.sendHeartbeat)
}

func (r *Runtime) stopHeartbeat() {
	if r.heartbeat != nil {
		r.heartbeat.Stop()
		r.heartbeat = nil
	}
}

func (r *Runtime) sendHeartbeat() {
	payload := protocol.HeartbeatPayload{
		ClientID: r.creds.ClientID,
		At:       r.clock.Now().UTC(),
	}
	if s, ok := r.tracker.Current(); ok {
		payload.JobID = s.JobID
	}
	r.sendNow(protocol.EventHeartbeat, payload)
}
