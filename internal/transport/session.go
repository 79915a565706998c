package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/nhle/notifybell/internal/metrics"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/wire"
)

// CloseAuthRejected is the close code the server uses when it rejects the
// token. It suppresses reconnection.
const CloseAuthRejected = 4001

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

// ErrNotConnected is returned by Send when no channel is open.
var ErrNotConnected = errors.New("channel not connected")

// Handler receives session events. Methods are called from the session's
// goroutines, never while the session holds its lock.
type Handler interface {
	OnOpen()
	OnMessage(msg wire.ServerMessage)
	OnClose(code int)
	OnError(err error)
	OnState(state model.ConnectionState)
}

// Options configures a Session. Zero values fall back to the defaults in
// the model package.
type Options struct {
	Dialer            Dialer
	Clock             clockwork.Clock
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration

	// Authenticated is consulted before scheduling a reconnect. It must not
	// call back into the Session. Defaults to "token is non-empty".
	Authenticated func() bool

	Metrics *metrics.ChannelMetrics
	Logger  zerolog.Logger
}

// Session owns exactly one live channel connection at a time. It dials in
// the background, sends heartbeats while connected and schedules a single
// fixed-delay reconnect after an unexpected close.
type Session struct {
	handler Handler
	opts    Options
	log     zerolog.Logger

	mu         sync.Mutex
	state      model.ConnectionState
	endpoint   string
	token      string
	closed     bool
	gen        uint64 // bumped for every connection attempt and on Close
	conn       Conn
	dialCancel context.CancelFunc
	heartbeat  gocron.Scheduler

	reconnect    clockwork.Timer
	reconnectSeq uint64

	writeMu sync.Mutex
}

// NewSession creates a disconnected session reporting to h.
func NewSession(h Handler, opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = model.DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = model.DefaultReconnectDelay
	}

	return &Session{
		handler: h,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "transport").Logger(),
		state:   model.StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Session) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReconnectPending reports whether a reconnect timer is armed.
func (s *Session) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect != nil
}

// Open connects to the channel derived from the REST base endpoint,
// replacing any existing connection or pending reconnect. It returns
// immediately; the outcome is reported through the Handler. A bad endpoint
// leaves the session disconnected and is reported via OnError.
func (s *Session) Open(endpoint, token string) {
	s.mu.Lock()
	s.closed = false
	s.endpoint = endpoint
	s.token = token
	s.cancelReconnectLocked()
	stale, transitions, err := s.openLocked()
	s.mu.Unlock()

	s.finish(stale)
	s.emitStates(transitions)
	if err != nil {
		s.handler.OnError(err)
	}
}

// openLocked tears down the current connection and starts a dial. The
// returned teardown must be finished after the lock is released.
func (s *Session) openLocked() (teardown, []model.ConnectionState, error) {
	stale := s.teardownLocked()
	var transitions []model.ConnectionState

	target, err := ChannelURL(s.endpoint, s.token)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot build channel address")
		if s.setStateLocked(model.StateDisconnected) {
			transitions = append(transitions, model.StateDisconnected)
		}
		return stale, transitions, fmt.Errorf("opening channel: %w", err)
	}

	if s.setStateLocked(model.StateConnecting) {
		transitions = append(transitions, model.StateConnecting)
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel

	go s.dial(ctx, gen, target)
	return stale, transitions, nil
}

func (s *Session) dial(ctx context.Context, gen uint64, target string) {
	conn, err := s.opts.Dialer.Dial(ctx, target)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("channel dial failed")
		s.handler.OnError(err)
		s.handleClose(gen, closeCode(err))
		return
	}

	s.conn = conn
	hb, hbErr := s.startHeartbeat(gen)
	if hbErr != nil {
		s.log.Error().Err(hbErr).Msg("heartbeat not started")
	}
	s.heartbeat = hb
	changed := s.setStateLocked(model.StateConnected)
	s.mu.Unlock()

	s.opts.Metrics.IncConnection()
	s.log.Info().Msg("channel connected")
	if changed {
		s.handler.OnState(model.StateConnected)
	}
	s.handler.OnOpen()

	go s.readLoop(gen, conn)
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := closeCode(err)
			s.log.Debug().Err(err).Int("code", code).Msg("channel read ended")
			s.handleClose(gen, code)
			return
		}
		s.handleFrame(gen, data)
	}
}

// handleFrame decodes one frame and forwards it. Malformed frames are
// logged and dropped without affecting the connection.
func (s *Session) handleFrame(gen uint64, data []byte) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}

	msg, err := wire.Decode(data)
	if err != nil {
		s.opts.Metrics.IncMalformed()
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return
	}
	switch m := msg.(type) {
	case wire.Pong:
		s.opts.Metrics.IncMessage(m.Tag())
		s.log.Trace().Msg("pong")
	case wire.Unknown:
		// Label kept bounded; the raw tag only goes to the log.
		s.opts.Metrics.IncMessage("unknown")
		s.log.Info().Str("type", m.Type).Msg("ignoring unknown frame type")
	default:
		s.opts.Metrics.IncMessage(msg.Tag())
		s.handler.OnMessage(msg)
	}
}

// handleClose moves to disconnected and, unless the close means the token
// was rejected or the session is no longer authenticated, schedules one
// reconnect. A reconnect already pending is replaced.
func (s *Session) handleClose(gen uint64, code int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	stale := s.teardownLocked()
	changed := s.setStateLocked(model.StateDisconnected)

	reconnect := !s.closed && code != CloseAuthRejected && s.authenticatedLocked()
	if reconnect {
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	s.finish(stale)
	if reconnect {
		s.opts.Metrics.IncReconnect()
		s.log.Info().Int("code", code).Dur("delay", s.opts.ReconnectDelay).Msg("channel closed, reconnect scheduled")
	} else {
		s.log.Info().Int("code", code).Msg("channel closed, not reconnecting")
	}
	if changed {
		s.handler.OnState(model.StateDisconnected)
	}
	s.handler.OnClose(code)
}

func (s *Session) authenticatedLocked() bool {
	if s.opts.Authenticated != nil {
		return s.opts.Authenticated()
	}
	return s.token != ""
}

func (s *Session) scheduleReconnectLocked() {
	s.cancelReconnectLocked()
	s.reconnectSeq++
	seq := s.reconnectSeq
	s.reconnect = s.opts.Clock.AfterFunc(s.opts.ReconnectDelay, func() {
		s.fireReconnect(seq)
	})
}

func (s *Session) cancelReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.reconnectSeq++
}

func (s *Session) fireReconnect(seq uint64) {
	s.mu.Lock()
	if seq != s.reconnectSeq || s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	s.log.Info().Msg("reconnecting channel")
	stale, transitions, err := s.openLocked()
	s.mu.Unlock()

	s.finish(stale)
	s.emitStates(transitions)
	if err != nil {
		s.handler.OnError(err)
	}
}

// Send writes a frame. It returns ErrNotConnected, and sends nothing, when
// the channel is not connected.
func (s *Session) Send(msg wire.ClientMessage) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == model.StateConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", msg.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(s.opts.Clock.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", msg.Type, err)
	}
	return nil
}

// Close cancels any pending reconnect, stops the heartbeat and closes the
// socket. It is safe to call repeatedly and on a session never opened.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cancelReconnectLocked()
	stale := s.teardownLocked()
	s.gen++
	changed := s.setStateLocked(model.StateDisconnected)
	s.mu.Unlock()

	err := s.finishGracefully(stale)
	if changed {
		s.handler.OnState(model.StateDisconnected)
	}
	return err
}

// teardown holds resources detached from the session under lock and
// released after it.
type teardown struct {
	conn      Conn
	heartbeat gocron.Scheduler
}

func (s *Session) teardownLocked() teardown {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	t := teardown{conn: s.conn, heartbeat: s.heartbeat}
	s.conn = nil
	s.heartbeat = nil
	return t
}

func (s *Session) finish(t teardown) {
	if err := s.release(t, false); err != nil {
		s.log.Debug().Err(err).Msg("releasing previous connection")
	}
}

func (s *Session) finishGracefully(t teardown) error {
	return s.release(t, true)
}

func (s *Session) release(t teardown, graceful bool) error {
	var err error
	if t.heartbeat != nil {
		err = multierr.Append(err, t.heartbeat.Shutdown())
	}
	if t.conn != nil {
		if graceful {
			s.writeMu.Lock()
			_ = t.conn.SetWriteDeadline(s.opts.Clock.Now().Add(time.Second))
			_ = t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"))
			s.writeMu.Unlock()
		}
		err = multierr.Append(err, t.conn.Close())
	}
	return err
}

func (s *Session) setStateLocked(state model.ConnectionState) bool {
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *Session) emitStates(states []model.ConnectionState) {
	for _, st := range states {
		s.handler.OnState(st)
	}
}
