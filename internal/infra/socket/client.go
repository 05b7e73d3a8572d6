// Package socket provides the overlay WebSocket transport.
package socket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/domain/protocol"
)

// Disconnect reasons reported to Handler.OnDisconnect.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
)

// DefaultPath is the socket endpoint on the overlay server.
const DefaultPath = "/overlay/socket"

var (
	ErrNotConnected       = errors.New("socket is not connected")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credentials identify the paired overlay client.
type Credentials struct {
	ServerURL string
	Token     string
	GuildID   string
	ClientID  string
}

// Validate checks that the credentials can be used to connect.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.Wrap(ErrInvalidCredentials, "missing client token")
	}
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil {
		return errors.Wrap(ErrInvalidCredentials, err.Error())
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.Wrapf(ErrInvalidCredentials, "unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.Wrap(ErrInvalidCredentials, "missing server host")
	}
	return nil
}

// Handler receives transport lifecycle hooks and inbound events.
// Hooks of a single client are never invoked concurrently.
type Handler interface {
	OnConnect()
	OnDisconnect(reason string)
	OnConnectError(err error)
	OnReconnectAttempt(attempt int)
	OnMessage(event protocol.Event, data json.RawMessage)
}

type nopHandler struct{}

func (nopHandler) OnConnect() {}
func (nopHandler) OnDisconnect(string) {}
func (nopHandler) OnConnectError(error) {}
func (nopHandler) OnReconnectAttempt(int) {}
func (nopHandler) OnMessage(protocol.Event, json.RawMessage) {}

// Config represents transport configuration.
type Config struct {
	Path              string
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	MaxMessageSize    int64
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectDelayMax < c.ReconnectDelay {
		c.ReconnectDelayMax = 3 * time.Second
		if c.ReconnectDelayMax < c.ReconnectDelay {
			c.ReconnectDelayMax = c.ReconnectDelay
		}
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval + 20*time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	return c
}

// Client is a reconnecting WebSocket client.
type Client struct {
	cfg     Config
	clock   clockwork.Clock
	handler Handler
	dialer  *websocket.Dialer

	mu      sync.Mutex
	current *session
	last    *session
}

// NewClient creates a new client. A nil clock uses the real clock.
func NewClient(cfg Config, clock clockwork.Clock, handler Handler) *Client {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if handler == nil {
		handler = nopHandler{}
	}
	return &Client{
		cfg:     cfg,
		clock:   clock,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Connect starts the connection loop. Any previous loop is stopped first.
// The loop retries with exponential backoff until Disconnect or ctx is done.
func (c *Client) Connect(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	endpoint, err := c.endpoint(creds)
	if err != nil {
		return err
	}

	c.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		client:   c,
		endpoint: endpoint,
		header:   http.Header{"Authorization": []string{"Bearer " + creds.Token}},
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.current = s
	c.last = s
	c.mu.Unlock()

	zlog.Info().Msgf("socket: connecting: server=%s client_id=%s", creds.ServerURL, creds.ClientID)
	go s.run()
	return nil
}

// Disconnect stops the connection loop. If a connection was live, the
// handler receives OnDisconnect(ReasonClientDisconnect) before it returns.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s != nil {
		s.stop()
	}
}

// Wait blocks until the most recent connection loop has exited.
func (c *Client) Wait() {
	c.mu.Lock()
	s := c.last
	c.mu.Unlock()
	if s != nil {
		<-s.done
	}
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	return s != nil && s.live() != nil
}

// Send writes a single event. Delivery is best-effort and at most once.
func (c *Client) Send(event protocol.Event, payload any) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	conn := s.live()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s payload", event)
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		return errors.Wrap(err, "failed to encode envelope")
	}
	if err := conn.write(websocket.TextMessage, frame, c.cfg.WriteTimeout); err != nil {
		return errors.Wrapf(err, "failed to send %s", event)
	}
	return nil
}

// endpoint builds the socket URL from the server URL.
func (c *Client) endpoint(creds Credentials) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(creds.ServerURL), "/"))
	if err != nil {
		return "", errors.Wrap(err, "failed to parse server url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.cfg.Path

	q := u.Query()
	q.Set("token", creds.Token)
	if creds.GuildID != "" {
		q.Set("guildId", creds.GuildID)
	}
	if creds.ClientID != "" {
		q.Set("clientId", creds.ClientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// conn wraps a websocket connection with a write lock.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// session is one Connect..Disconnect lifetime.
type session struct {
	client   *Client
	endpoint string
	header   http.Header
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	// cbMu serializes handler hooks with stop.
	cbMu    sync.Mutex
	stopped bool

	connMu sync.Mutex
	conn   *conn
}

func (s *session) live() *conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *session) setConn(c *conn) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

// notify runs fn unless the session has been stopped.
func (s *session) notify(fn func(Handler)) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.stopped {
		return false
	}
	fn(s.client.handler)
	return true
}

func (s *session) stop() {
	s.cbMu.Lock()
	if s.stopped {
		s.cbMu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()

	c := s.live()
	s.setConn(nil)
	if c != nil {
		_ = c.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			s.client.cfg.WriteTimeout)
		_ = c.ws.Close()
		s.client.handler.OnDisconnect(ReasonClientDisconnect)
	}
	s.cbMu.Unlock()
	zlog.Info().Msg("socket: disconnected by client")
}

func (s *session) run() {
	defer close(s.done)

	cfg := s.client.cfg
	delay := cfg.ReconnectDelay
	attempt := 0

	for {
		if attempt > 0 {
			if !s.notify(func(h Handler) { h.OnReconnectAttempt(attempt) }) {
				return
			}
		}

		ws, _, err := s.client.dialer.DialContext(s.ctx, s.endpoint, s.header)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			zlog.Warn().Msgf("socket: connect failed: attempt=%d err=%v", attempt, err)
			if !s.notify(func(h Handler) { h.OnConnectError(errors.Wrap(err, "connect_error")) }) {
				return
			}
		} else {
			delay = cfg.ReconnectDelay
			c := &conn{ws: ws}
			connected := s.notify(func(h Handler) {
				s.setConn(c)
				h.OnConnect()
			})
			if !connected {
				_ = ws.Close()
				return
			}
			zlog.Info().Msg("socket: connected")

			reason := s.serve(c)

			ok := s.notify(func(h Handler) {
				s.setConn(nil)
				h.OnDisconnect(reason)
			})
			_ = ws.Close()
			if !ok {
				return
			}
			zlog.Warn().Msgf("socket: connection lost: reason=%s", reason)
		}

		attempt++
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.clock.After(delay):
		}
		delay *= 2
		if delay > cfg.ReconnectDelayMax {
			delay = cfg.ReconnectDelayMax
		}
	}
}

// serve pumps the connection until it fails and returns the disconnect reason.
func (s *session) serve(c *conn) string {
	cfg := s.client.cfg
	ws := c.ws

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := s.client.clock.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.Chan():
				if err := c.write(websocket.PingMessage, nil, cfg.WriteTimeout); err != nil {
					zlog.Debug().Msgf("socket: ping failed: err=%v", err)
					return
				}
			}
		}
	}()

	ws.SetReadLimit(cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return disconnectReason(err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			zlog.Warn().Msgf("socket: dropping malformed frame: size=%d", len(message))
			continue
		}
		zlog.Debug().Msgf("socket: received: event=%s", env.Event)
		if !s.notify(func(h Handler) { h.OnMessage(env.Event, env.Data) }) {
			return ReasonClientDisconnect
		}
	}
}

func disconnectReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return ReasonServerDisconnect
		}
		return ReasonTransportClose
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportClose
}
