// Package sync ties one signed-in session together: it seeds the store from
// the snapshot, keeps the live channel open, routes channel events into the
// store and forwards read intents back to the server.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/nhle/notifybell/internal/authtoken"
	"github.com/nhle/notifybell/internal/metrics"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/store"
	"github.com/nhle/notifybell/internal/transport"
	"github.com/nhle/notifybell/internal/wire"
)

// SnapshotSource loads the seed for the store.
type SnapshotSource interface {
	Load(ctx context.Context, token string) (model.Snapshot, error)
}

// ConfirmAPI is the REST side of read confirmation.
type ConfirmAPI interface {
	MarkRead(ctx context.Context, token, id string) error
	MarkAllRead(ctx context.Context, token string) error
	Close() error
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Store     *store.Store
	Snapshots SnapshotSource
	API       ConfirmAPI
}

// Options configures a Manager.
type Options struct {
	BaseURL string

	// ResyncAfter is the disconnection length after which a reconnect
	// reloads the snapshot before applying live events.
	ResyncAfter time.Duration

	// ConfirmRetries is how many times a failed REST confirmation is
	// retried. Zero sends it once.
	ConfirmRetries int
	ConfirmTimeout time.Duration
	RetryBackoff   time.Duration

	Transport transport.Options
	Metrics   *metrics.ChannelMetrics
	Logger    zerolog.Logger
}

// Manager owns the store and channel lifecycle for one signed-in user.
type Manager struct {
	id        string
	store     *store.Store
	snapshots SnapshotSource
	api       ConfirmAPI
	session   *transport.Session
	clock     clockwork.Clock
	opts      Options
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             gosync.Mutex
	token          string
	active         bool
	disconnectedAt time.Time
	// epoch is bumped by Logout; loads started in an older epoch are
	// discarded.
	epoch uint64

	// lifecycle serialises Logout against seeding and opening after a
	// snapshot load. Never held while calling expire.
	lifecycle gosync.Mutex

	confirms gosync.WaitGroup

	updates     chan store.View
	events      chan any
	unsubscribe func()
}

// NewManager wires a Manager to its collaborators and registers it as the
// store's confirmer.
func NewManager(deps Deps, opts Options) *Manager {
	if opts.Transport.Clock == nil {
		opts.Transport.Clock = clockwork.NewRealClock()
	}
	if opts.ResyncAfter <= 0 {
		opts.ResyncAfter = model.DefaultResyncAfter
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = model.DefaultAPITimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.ConfirmRetries < 0 {
		opts.ConfirmRetries = 0
	}

	id := uuid.NewString()
	logger := opts.Logger.With().Str("session_id", id).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		id:        id,
		store:     deps.Store,
		snapshots: deps.Snapshots,
		api:       deps.API,
		clock:     opts.Transport.Clock,
		opts:      opts,
		log:       logger.With().Str("component", "sync").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		updates:   make(chan store.View, 1),
		events:    make(chan any, 4),
	}

	topts := opts.Transport
	topts.Logger = logger
	topts.Metrics = opts.Metrics
	topts.Authenticated = m.authenticated
	m.session = transport.NewSession(m, topts)

	m.store.SetConfirmer(m)
	m.unsubscribe = m.store.Subscribe(m.publish)
	return m
}

// ID identifies this manager in logs.
func (m *Manager) ID() string { return m.id }

// Store returns the store the manager feeds.
func (m *Manager) Store() *store.Store { return m.store }

// Start signs the session in with token: it loads the snapshot, seeds the
// store and only then opens the live channel. A rejected token runs the
// logout flow and returns the auth error.
func (m *Manager) Start(ctx context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.active = true
	m.disconnectedAt = time.Time{}
	epoch := m.epoch
	m.mu.Unlock()

	snap, err := m.snapshots.Load(ctx, token)

	m.lifecycle.Lock()
	if !m.current(epoch) {
		m.lifecycle.Unlock()
		m.log.Info().Msg("logged out while signing in, snapshot discarded")
		return nil
	}
	if err != nil {
		m.lifecycle.Unlock()
		if lerr := m.Logout(); lerr != nil {
			m.log.Warn().Err(lerr).Msg("logout after rejected snapshot")
		}
		return fmt.Errorf("starting session: %w", err)
	}
	m.store.Seed(snap.Notifications, snap.UnreadCount)
	m.session.Open(m.opts.BaseURL, token)
	m.lifecycle.Unlock()

	m.log.Info().
		Int("items", len(snap.Notifications)).
		Int("unread", snap.UnreadCount).
		Msg("session started")
	return nil
}

// Logout closes the channel and clears the store. Read confirmations
// already in flight are left to finish.
func (m *Manager) Logout() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.active = false
	m.token = ""
	m.disconnectedAt = time.Time{}
	m.epoch++
	m.mu.Unlock()

	err := m.session.Close()
	m.store.Clear()
	m.log.Info().Msg("session logged out")
	return err
}

// Close logs out, waits for confirmations and releases the REST client.
// The manager cannot be started again afterwards.
func (m *Manager) Close() error {
	err := m.Logout()
	m.cancel()
	m.confirms.Wait()
	m.unsubscribe()
	if m.api != nil {
		err = multierr.Append(err, m.api.Close())
	}
	return err
}

// Wait blocks until every read confirmation started so far has finished.
func (m *Manager) Wait() {
	m.confirms.Wait()
}

func (m *Manager) authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && authtoken.Usable(m.token, m.clock.Now())
}

func (m *Manager) currentToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.active
}

// signedIn returns the token, whether the session is active and the
// current epoch.
func (m *Manager) signedIn() (string, bool, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.active, m.epoch
}

// current reports whether the session is still signed in within epoch.
func (m *Manager) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.epoch == epoch
}

// expire ends a session the server no longer accepts and tells the UI.
func (m *Manager) expire(reason string) {
	m.log.Warn().Str("reason", reason).Msg("session rejected")
	if err := m.Logout(); err != nil {
		m.log.Warn().Err(err).Msg("logout after rejection")
	}
	m.emit(LoggedOutMsg{Reason: reason})
}

// OnOpen implements transport.Handler. A reconnect after a long outage
// reloads the snapshot first; live frames are read only after it returns.
func (m *Manager) OnOpen() {
	m.mu.Lock()
	since := m.disconnectedAt
	m.disconnectedAt = time.Time{}
	token := m.token
	active := m.active
	epoch := m.epoch
	m.mu.Unlock()

	if !active || since.IsZero() || m.clock.Since(since) < m.opts.ResyncAfter {
		return
	}

	m.log.Info().Dur("offline", m.clock.Since(since)).Msg("resyncing after long disconnection")
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.ConfirmTimeout)
	defer cancel()

	snap, err := m.snapshots.Load(ctx, token)
	if err != nil {
		if m.current(epoch) {
			m.expire("snapshot rejected credential")
		}
		return
	}
	m.seedIfCurrent(epoch, snap)
}

// seedIfCurrent re-seeds the store unless the session was logged out since
// epoch.
func (m *Manager) seedIfCurrent(epoch uint64, snap model.Snapshot) bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if !m.current(epoch) {
		m.log.Debug().Msg("stale snapshot discarded")
		return false
	}
	m.store.Seed(snap.Notifications, snap.UnreadCount)
	return true
}

// OnMessage implements transport.Handler.
func (m *Manager) OnMessage(msg wire.ServerMessage) {
	switch v := msg.(type) {
	case wire.Init:
		m.store.ReplaceUnreadCount(v.UnreadCount)
	case wire.UnreadCount:
		m.store.ReplaceUnreadCount(v.Count)
	case wire.NotificationPush:
		m.store.Insert(v.Notification)
	default:
		m.log.Debug().Str("type", msg.Tag()).Msg("unhandled channel message")
	}
}

// OnClose implements transport.Handler.
func (m *Manager) OnClose(code int) {
	if code == transport.CloseAuthRejected {
		m.expire("channel rejected credential")
		return
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active && !m.authenticated() {
		m.expire("session token expired")
	}
}

// OnError implements transport.Handler.
func (m *Manager) OnError(err error) {
	m.log.Debug().Err(err).Msg("channel error")
}

// OnState implements transport.Handler.
func (m *Manager) OnState(state model.ConnectionState) {
	if state == model.StateDisconnected {
		m.mu.Lock()
		if m.active && m.disconnectedAt.IsZero() {
			m.disconnectedAt = m.clock.Now()
		}
		m.mu.Unlock()
	}
	m.store.SetConnectionState(state)
}
