package overlay

import (
	"encoding/json"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/domain/media"
	"github.com/osa030/livechat-overlay/internal/domain/protocol"
)

// OnConnect implements socket.Handler.
func (r *Runtime) OnConnect() {
	r.hook(func() {
		if !r.conn.OnConnect() {
			return
		}
		if n := r.buffer.Flush(r.transport); n > 0 {
			zlog.Info().Msgf("overlay: flushed buffered events: count=%d", n)
		}
		r.startHeartbeat()
	})
}

// OnDisconnect implements socket.Handler.
func (r *Runtime) OnDisconnect(reason string) {
	r.hook(func() {
		r.stopHeartbeat()
		r.conn.OnDisconnect(reason)
	})
}

// OnConnectError implements socket.Handler.
func (r *Runtime) OnConnectError(err error) {
	r.hook(func() {
		r.conn.OnConnectError(err)
	})
}

// OnReconnectAttempt implements socket.Handler.
func (r *Runtime) OnReconnectAttempt(attempt int) {
	r.hook(func() {
		zlog.Debug().Msgf("overlay: reconnect attempt: attempt=%d", attempt)
		r.conn.OnReconnectAttempt()
	})
}

// OnMessage implements socket.Handler.
func (r *Runtime) OnMessage(event protocol.Event, data json.RawMessage) {
	switch event {
	case protocol.EventPlay:
		var instr media.PlayInstruction
		if err := json.Unmarshal(data, &instr); err != nil {
			zlog.Warn().Msgf("overlay: invalid play payload: err=%v", err)
			return
		}
		r.Play(instr)
	case protocol.EventStop:
		r.Stop()
	case protocol.EventSettings:
		var patch map[string]any
		if err := json.Unmarshal(data, &patch); err != nil {
			zlog.Warn().Msgf("overlay: invalid settings payload: err=%v", err)
			return
		}
		r.ApplySettings(patch)
	default:
		zlog.Debug().Msgf("overlay: ignoring event: event=%s", event)
	}
}
