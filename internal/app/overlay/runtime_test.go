package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/livechat-overlay/internal/app/bindings"
	"github.com/osa030/livechat-overlay/internal/app/connection"
	"github.com/osa030/livechat-overlay/internal/app/loop"
	"github.com/osa030/livechat-overlay/internal/app/notification"
	"github.com/osa030/livechat-overlay/internal/domain/media"
	"github.com/osa030/livechat-overlay/internal/domain/protocol"
	"github.com/osa030/livechat-overlay/internal/infra/config"
	"github.com/osa030/livechat-overlay/internal/infra/socket"
)

var testCreds = socket.Credentials{
	ServerURL: "https://overlay.example.com",
	Token:     "tok",
	GuildID:   "g1",
	ClientID:  "c1",
}

type fakeTransport struct {
	handler     socket.Handler
	connected   bool
	connects    int
	disconnects int
	sent        []string
	payloads    []any
}

func (f *fakeTransport) Connect(ctx context.Context, creds socket.Credentials) error {
	f.connects++
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.disconnects++
	if f.connected {
		f.connected = false
		f.handler.OnDisconnect(connection.LocalDisconnectReason)
	}
}

func (f *fakeTransport) Connected() bool {
	return f.connected
}

func (f *fakeTransport) Send(event protocol.Event, payload any) error {
	if !f.connected {
		return socket.ErrNotConnected
	}
	f.sent = append(f.sent, describe(event, payload))
	f.payloads = append(f.payloads, payload)
	return nil
}

// up simulates the transport establishing a connection.
func (f *fakeTransport) up() {
	f.connected = true
	f.handler.OnConnect()
}

// drop simulates the transport losing the connection.
func (f *fakeTransport) drop(reason string) {
	f.connected = false
	f.handler.OnDisconnect(reason)
}

func (f *fakeTransport) take() []string {
	out := f.sent
	f.sent = nil
	f.payloads = nil
	return out
}

func describe(event protocol.Event, payload any) string {
	switch p := payload.(type) {
	case protocol.PlaybackStatePayload:
		remaining := "null"
		if p.RemainingMs != nil {
			remaining = fmt.Sprint(*p.RemainingMs)
		}
		return fmt.Sprintf("state:%s:%s:%s", p.JobID, p.State, remaining)
	case protocol.PlaybackStopPayload:
		return "stop:" + p.JobID
	case protocol.ErrorPayload:
		return fmt.Sprintf("error:%s:%s:%s", p.JobID, p.Code, p.Message)
	case protocol.HeartbeatPayload:
		return fmt.Sprintf("heartbeat:%s:%s", p.ClientID, p.JobID)
	case protocol.MemeTriggerPayload:
		return fmt.Sprintf("meme:%s:%s", p.ItemID, p.Trigger)
	}
	return event.String()
}

// withoutRemaining drops the remainingMs suffix of state entries.
func withoutRemaining(events []string) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		if strings.HasPrefix(e, "state:") {
			e = e[:strings.LastIndex(e, ":")]
		}
		out = append(out, e)
	}
	return out
}

type fakeRenderer struct {
	renders   []string
	clears    int
	settings  []media.Settings
	remaining []int64
	err       error
}

func (f *fakeRenderer) Render(instr media.PlayInstruction, settings media.Settings) error {
	f.renders = append(f.renders, instr.JobID)
	return f.err
}

func (f *fakeRenderer) Clear() { f.clears++ }

func (f *fakeRenderer) ApplySettings(settings media.Settings) {
	f.settings = append(f.settings, settings)
}

func (f *fakeRenderer) ShowRemaining(remainingMs int64) {
	f.remaining = append(f.remaining, remainingMs)
}

type fakeMedia struct {
	paused bool
	ended  bool
}

func (m *fakeMedia) Paused() bool { return m.paused }
func (m *fakeMedia) Ended() bool { return m.ended }

type fakeStore struct {
	cfg     config.Config
	updates int
}

func (s *fakeStore) Update(fn func(*config.Config)) error {
	s.updates++
	fn(&s.cfg)
	return nil
}

type harness struct {
	exec      *loop.Manual
	rt        *Runtime
	transport *fakeTransport
	renderer  *fakeRenderer
	store     *fakeStore
}

func newHarness(t *testing.T, enabled bool, creds socket.Credentials) *harness {
	t.Helper()
	exec := loop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	h := &harness{
		exec:      exec,
		transport: &fakeTransport{},
		renderer:  &fakeRenderer{},
		store:     &fakeStore{},
	}
	h.rt = New(exec, exec.Clock(), h.renderer, Options{
		Config: Config{
			AutoClearGrace:    100 * time.Millisecond,
			HeartbeatInterval: 15 * time.Second,
		},
		Credentials: creds,
		Enabled:     enabled,
		Settings:    media.DefaultSettings(),
		Store:       h.store,
	})
	h.transport.handler = h.rt
	h.rt.SetTransport(h.transport)
	h.rt.Start(context.Background())
	return h
}

func seconds(v float64) *float64 {
	return &v
}

func TestRuntime_StartConnectsOnlyWhenEnabledAndPaired(t *testing.T) {
	tests := []struct {
		name         string
		enabled      bool
		creds        socket.Credentials
		wantState    connection.State
		wantConnects int
	}{
		{name: "enabled and paired", enabled: true, creds: testCreds, wantState: connection.StateConnecting, wantConnects: 1},
		{name: "disabled", enabled: false, creds: testCreds, wantState: connection.StateDisabled},
		{name: "not paired", enabled: true, wantState: connection.StateNotPaired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.enabled, tt.creds)
			assert.Equal(t, tt.wantState, h.rt.Status().State)
			assert.Equal(t, tt.wantConnects, h.transport.connects)
		})
	}
}

func TestRuntime_NewPlaySupersedesOldSession(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.rt.Play(media.PlayInstruction{JobID: "job-1", DurationSec: seconds(10)})
	h.transport.take()

	h.rt.Play(media.PlayInstruction{JobID: "job-2", DurationSec: seconds(10)})
	got := withoutRemaining(h.transport.take())
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, []string{
		"state:job-1:ended",
		"stop:job-1",
		"state:job-2:playing",
	}, got[:3])
	for _, e := range got[3:] {
		assert.True(t, strings.HasPrefix(e, "state:job-2:"), e)
	}

	h.exec.Advance(3 * time.Second)
	for _, e := range h.transport.take() {
		assert.NotContains(t, e, "job-1")
	}
}

func TestRuntime_BufferedEventsFlushOnceOnReconnect(t *testing.T) {
	h := newHarness(t, true, testCreds)

	h.rt.Play(media.PlayInstruction{JobID: "job-1"})
	h.rt.Stop()
	assert.Empty(t, h.transport.sent)

	h.transport.up()
	assert.Equal(t, []string{"state:job-1:ended:null", "stop:job-1"}, h.transport.take())

	h.transport.drop("transport close")
	h.transport.up()
	assert.Empty(t, h.transport.take())

	h.transport.drop("transport close")
	h.rt.Play(media.PlayInstruction{JobID: "job-2"})
	h.transport.up()
	assert.Equal(t, []string{"state:job-2:playing:null"}, h.transport.take())
}

func TestRuntime_DisconnectReasons(t *testing.T) {
	tests := []struct {
		reason string
		want   connection.State
	}{
		{reason: "io client disconnect", want: connection.StateDisconnected},
		{reason: "transport close", want: connection.StateReconnecting},
		{reason: "ping timeout", want: connection.StateReconnecting},
		{reason: "io server disconnect", want: connection.StateReconnecting},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			h := newHarness(t, true, testCreds)
			h.transport.up()
			assert.Equal(t, connection.StateConnected, h.rt.Status().State)

			h.transport.drop(tt.reason)
			assert.Equal(t, tt.want, h.rt.Status().State)
		})
	}
}

func TestRuntime_ConnectErrorAndReconnectAttempt(t *testing.T) {
	h := newHarness(t, true, testCreds)

	h.rt.OnConnectError(errors.New("connect_error: dial tcp: refused"))
	assert.Equal(t, connection.StateError, h.rt.Status().State)

	h.rt.OnReconnectAttempt(1)
	status := h.rt.Status()
	assert.Equal(t, connection.StateReconnecting, status.State)
	assert.Equal(t, "connect_error: dial tcp: refused", status.Reason)
}

func TestRuntime_DisableMidSession(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()
	h.rt.Play(media.PlayInstruction{JobID: "job-1", DurationSec: seconds(30)})
	h.transport.take()

	h.rt.SetEnabled(false)

	assert.Equal(t, connection.StateDisabled, h.rt.Status().State)
	assert.Equal(t, []string{"state:job-1:ended", "stop:job-1"}, withoutRemaining(h.transport.take()))
	assert.Equal(t, 2, h.transport.disconnects)
	assert.False(t, h.store.cfg.Enabled())
	assert.Equal(t, 1, h.renderer.clears)

	h.exec.Advance(time.Minute)
	assert.Empty(t, h.transport.take())
	assert.Equal(t, 0, h.exec.Pending())

	h.rt.SetEnabled(true)
	assert.Equal(t, connection.StateConnecting, h.rt.Status().State)
	assert.Equal(t, 2, h.transport.connects)
}

func TestRuntime_ConnectIgnoredWhileDisabled(t *testing.T) {
	h := newHarness(t, false, testCreds)
	h.transport.up()
	assert.Equal(t, connection.StateDisabled, h.rt.Status().State)
}

func TestRuntime_ImageCountdownAutoClears(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.rt.Play(media.PlayInstruction{
		JobID:       "job-1",
		DurationSec: seconds(2),
		Media:       &media.Media{Kind: media.KindImage, URL: "https://cdn.example.com/a.png"},
	})

	h.exec.Advance(1900 * time.Millisecond)
	assert.Equal(t, 0, h.renderer.clears)

	h.exec.Advance(300 * time.Millisecond)
	assert.Equal(t, 1, h.renderer.clears)
	assert.Equal(t, int64(0), h.renderer.remaining[len(h.renderer.remaining)-1])

	events := withoutRemaining(h.transport.take())
	assert.Equal(t, []string{"state:job-1:ended", "stop:job-1"}, events[len(events)-2:])
	assert.Equal(t, 1, countPrefix(events, "stop:"))
	// Only the connection heartbeat is left.
	assert.Equal(t, 1, h.exec.Pending())
}

func TestRuntime_PlayableMediaOutlivesCountdown(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.rt.Play(media.PlayInstruction{
		JobID:       "job-1",
		DurationSec: seconds(1),
		Media:       &media.Media{Kind: media.KindVideo, URL: "https://cdn.example.com/a.mp4"},
	})
	video := &fakeMedia{}
	h.rt.BindMedia(video)

	h.exec.Advance(2 * time.Second)
	assert.Equal(t, 0, h.renderer.clears)
	assert.Equal(t, 0, countPrefix(h.transport.take(), "stop:"))

	video.ended = true
	h.rt.MediaEnded()
	assert.Equal(t, 1, h.renderer.clears)
	assert.Equal(t, []string{"state:job-1:ended", "stop:job-1"}, withoutRemaining(h.transport.take()))
}

func TestRuntime_PlayableMediaWithoutElementClearsOnExpiry(t *testing.T) {
	h := newHarness(t, true, testCreds)

	h.rt.Play(media.PlayInstruction{
		JobID:       "job-1",
		DurationSec: seconds(1),
		Media:       &media.Media{Kind: media.KindAudio, URL: "https://cdn.example.com/a.mp3"},
	})
	h.exec.Advance(1200 * time.Millisecond)
	assert.Equal(t, 1, h.renderer.clears)
}

func TestRuntime_MediaPauseAndResume(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.rt.Play(media.PlayInstruction{
		JobID:       "job-1",
		DurationSec: seconds(10),
		Media:       &media.Media{Kind: media.KindVideo},
	})
	video := &fakeMedia{}
	h.rt.BindMedia(video)
	h.exec.Advance(time.Second)
	h.transport.take()

	video.paused = true
	h.rt.MediaPaused()
	events := h.transport.take()
	require.NotEmpty(t, events)
	assert.Equal(t, "state:job-1:paused:9000", events[len(events)-1])

	h.exec.Advance(5 * time.Second)
	for _, e := range h.transport.take() {
		assert.Equal(t, "state:job-1:paused:9000", e)
	}

	video.paused = false
	h.rt.MediaPlaying()
	assert.Equal(t, []string{"state:job-1:playing:9000"}, h.transport.take())
}

func TestRuntime_MediaPausedIgnoredAfterEnd(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.rt.Play(media.PlayInstruction{JobID: "job-1", DurationSec: seconds(10), Media: &media.Media{Kind: media.KindVideo}})
	video := &fakeMedia{ended: true}
	h.rt.BindMedia(video)
	h.transport.take()

	h.rt.MediaPaused()
	assert.Empty(t, h.transport.take())
}

func TestRuntime_RenderFailure(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()
	h.renderer.err = errors.New("decode failed")

	h.rt.Play(media.PlayInstruction{DurationSec: seconds(5)})
	assert.Equal(t, []string{"error:unknown-job:render_failed:decode failed"}, h.transport.take())
	assert.Equal(t, 1, h.renderer.clears)
	assert.Equal(t, 1, h.exec.Pending())

	h.rt.Play(media.PlayInstruction{JobID: "job-2"})
	assert.Equal(t, []string{
		"state:job-2:playing:null",
		"error:job-2:render_failed:decode failed",
		"state:job-2:ended:null",
		"stop:job-2",
	}, h.transport.take())
}

func TestRuntime_AsyncRenderFailureIgnoresStaleJob(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()
	h.rt.Play(media.PlayInstruction{JobID: "job-2"})
	h.transport.take()

	h.rt.RenderFailed("job-1", errors.New("late"))
	assert.Empty(t, h.transport.take())

	h.rt.RenderFailed("job-2", nil)
	assert.Equal(t, []string{
		"error:job-2:render_failed:unknown_render_error",
		"state:job-2:ended:null",
		"stop:job-2",
	}, h.transport.take())
}

func TestRuntime_ApplySettings(t *testing.T) {
	h := newHarness(t, true, testCreds)

	h.rt.ApplySettings(map[string]any{"volume": 0.5})
	h.rt.ApplySettings(map[string]any{"showText": false})
	h.rt.ApplySettings(map[string]any{"volume": "loud"})
	h.rt.ApplySettings(map[string]any{"volume": 3})
	h.rt.ApplySettings(map[string]any{"unrelated": true})

	assert.Equal(t, []media.Settings{
		{Volume: 0.5, ShowText: true},
		{Volume: 0.5, ShowText: false},
		{Volume: 1, ShowText: false},
	}, h.renderer.settings)
	assert.Equal(t, media.Settings{Volume: 1, ShowText: false}, h.store.cfg.Settings())
}

func TestRuntime_OnMessage(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.rt.OnMessage(protocol.EventPlay, json.RawMessage(`{"jobId":"job-1","durationSec":5,"media":{"kind":"image","url":"u"}}`))
	assert.Equal(t, []string{"job-1"}, h.renderer.renders)

	h.rt.OnMessage(protocol.EventSettings, json.RawMessage(`{"volume":0.25}`))
	require.Len(t, h.renderer.settings, 1)
	assert.Equal(t, 0.25, h.renderer.settings[0].Volume)

	h.rt.OnMessage(protocol.EventPlay, json.RawMessage(`not json`))
	assert.Len(t, h.renderer.renders, 1)

	h.transport.take()
	h.rt.OnMessage(protocol.EventStop, nil)
	assert.Equal(t, []string{"state:job-1:ended", "stop:job-1"}, withoutRemaining(h.transport.take()))
}

func TestRuntime_Heartbeat(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()

	h.exec.Advance(15 * time.Second)
	assert.Equal(t, []string{"heartbeat:c1:"}, h.transport.take())

	h.rt.Play(media.PlayInstruction{JobID: "job-1"})
	h.transport.take()
	h.exec.Advance(15 * time.Second)
	assert.Equal(t, 1, countPrefix(h.transport.take(), "heartbeat:c1:job-1"))

	h.transport.drop("transport close")
	h.exec.Advance(time.Minute)
	assert.Empty(t, h.transport.take())
}

func TestRuntime_TriggerMeme(t *testing.T) {
	h := newHarness(t, true, testCreds)
	_, err := h.rt.Bindings().Bind("ctrl+1", "item-1")
	require.NoError(t, err)

	assert.ErrorIs(t, h.rt.TriggerBinding("Ctrl+1"), ErrSocketOffline)
	assert.ErrorIs(t, h.rt.TriggerMeme("", protocol.TriggerUI), ErrMissingItem)

	h.transport.up()
	require.NoError(t, h.rt.TriggerBinding("Control+1"))
	require.NoError(t, h.rt.TriggerMeme("item-2", ""))
	assert.Equal(t, []string{"meme:item-1:shortcut", "meme:item-2:ui"}, h.transport.take())

	assert.ErrorIs(t, h.rt.TriggerBinding("Ctrl+2"), ErrUnboundShortcut)
}

func TestRuntime_ResetPairingAndPair(t *testing.T) {
	h := newHarness(t, true, testCreds)
	h.transport.up()
	h.rt.Play(media.PlayInstruction{JobID: "job-1"})
	h.transport.take()

	h.rt.ResetPairing()
	assert.Equal(t, connection.StateNotPaired, h.rt.Status().State)
	assert.Equal(t, []string{"state:job-1:ended:null", "stop:job-1"}, h.transport.take())
	assert.Equal(t, 2, h.transport.disconnects)

	h.rt.Pair(testCreds)
	assert.Equal(t, connection.StateConnecting, h.rt.Status().State)
	assert.Equal(t, 2, h.transport.connects)
	assert.True(t, h.store.cfg.Paired())
}

func TestRuntime_StatusBroadcast(t *testing.T) {
	notifier := notification.NewManager()
	exec := loop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	transport := &fakeTransport{}
	rt := New(exec, exec.Clock(), &fakeRenderer{}, Options{
		Credentials: testCreds,
		Enabled:     true,
		Notifier:    notifier,
		Bindings:    bindings.NewRegistry(),
	})
	transport.handler = rt
	rt.SetTransport(transport)

	var mu sync.Mutex
	var states []connection.State
	notifier.Subscribe(notification.StreamFunc(func(n *notification.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, n.State)
		return nil
	}))
	defer notifier.Close()

	rt.Start(context.Background())
	transport.up()
	transport.drop("transport close")

	want := []connection.State{
		connection.StateConnecting,
		connection.StateConnected,
		connection.StateReconnecting,
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(want, states)
	}, time.Second, 5*time.Millisecond)
}

func TestRuntime_LiveEventsWaitForConnectFlush(t *testing.T) {
	h := newHarness(t, true, testCreds)

	h.rt.Play(media.PlayInstruction{JobID: "job-1"})
	h.rt.Stop()

	// The socket is up but the connect hook has not run yet.
	h.transport.connected = true
	h.rt.Play(media.PlayInstruction{JobID: "job-2"})
	h.exec.Advance(15 * time.Second)
	assert.Empty(t, h.transport.take())
	assert.ErrorIs(t, h.rt.TriggerMeme("item-1", ""), ErrSocketOffline)

	h.rt.OnConnect()
	assert.Equal(t, []string{"state:job-2:playing:null", "stop:job-1"}, h.transport.take())

	h.rt.Stop()
	assert.Equal(t, []string{"state:job-2:ended:null", "stop:job-2"}, h.transport.take())
}

func TestRuntime_PairWhileConnectedOnLoop(t *testing.T) {
	lp := loop.New(clockwork.NewFakeClock(), 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = lp.Run(ctx) }()

	transport := &fakeTransport{}
	rt := New(lp, lp.Clock(), &fakeRenderer{}, Options{
		Credentials: testCreds,
		Enabled:     true,
	})
	transport.handler = rt
	rt.SetTransport(transport)
	rt.Start(ctx)

	// up posts the connect hook, the empty Call waits for it.
	require.True(t, lp.Call(transport.up))
	require.True(t, lp.Call(func() {}))
	assert.Equal(t, connection.StateConnected, rt.Status().State)

	paired := testCreds
	paired.ClientID = "c2"
	rt.Pair(paired)
	require.True(t, lp.Call(func() {}))
	require.True(t, lp.Call(func() {}))

	status := rt.Status()
	assert.Equal(t, connection.StateConnecting, status.State)
	assert.Empty(t, status.Reason)

	var connects, disconnects int
	require.True(t, lp.Call(func() {
		connects, disconnects = transport.connects, transport.disconnects
	}))
	assert.Equal(t, 2, connects)
	assert.Equal(t, 3, disconnects)

	// Hooks of the new session still apply.
	rt.OnDisconnect("transport close")
	require.True(t, lp.Call(func() {}))
	assert.Equal(t, connection.StateReconnecting, rt.Status().State)
}

func TestRuntime_PersistRunsOnPersister(t *testing.T) {
	exec := loop.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	persist := &queuedExecutor{Manual: exec}
	store := &fakeStore{}
	rt := New(exec, exec.Clock(), &fakeRenderer{}, Options{
		Credentials: testCreds,
		Enabled:     true,
		Store:       store,
		Persist:     persist,
	})
	rt.SetTransport(&fakeTransport{handler: rt})

	rt.SetEnabled(false)
	assert.Equal(t, connection.StateDisabled, rt.Status().State)
	assert.Equal(t, 0, store.updates)

	persist.run()
	assert.Equal(t, 1, store.updates)
	assert.False(t, store.cfg.Enabled())
}

// queuedExecutor holds posted tasks until run is called.
type queuedExecutor struct {
	*loop.Manual
	tasks []func()
}

func (q *queuedExecutor) Post(fn func()) bool {
	q.tasks = append(q.tasks, fn)
	return true
}

func (q *queuedExecutor) run() {
	tasks := q.tasks
	q.tasks = nil
	for _, fn := range tasks {
		fn()
	}
}

func countPrefix(events []string, prefix string) int {
	n := 0
	for _, e := range events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}
