package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifybell/internal/api"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/snapshot"
	"github.com/nhle/notifybell/internal/store"
	"github.com/nhle/notifybell/internal/transport"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

// backend fakes the REST endpoints and the live channel on one server.
type backend struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu              gosync.Mutex
	snapshot        api.SnapshotResponse
	snapshotStatus  int
	snapshotCalls   int
	readIDs         []string
	readAll         int
	markReadFailing int
	frames          []map[string]any
	conn            *websocket.Conn
	connects        int
}

func newBackend(t *testing.T, configure func(b *backend)) *backend {
	t.Helper()
	b := &backend{t: t}
	if configure != nil {
		configure(b)
	}

	r := chi.NewRouter()
	r.Get(api.PathNotifications, func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			b.serveChannel(w, r)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.snapshotCalls++
		if b.snapshotStatus != 0 {
			w.WriteHeader(b.snapshotStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.snapshot)
	})
	r.Post("/api/ws/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.readIDs = append(b.readIDs, chi.URLParam(r, "id"))
		if b.markReadFailing > 0 {
			b.markReadFailing--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post(api.PathMarkAllRead, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.readAll++
		w.WriteHeader(http.StatusOK)
	})

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) serveChannel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	b.mu.Lock()
	unread := b.snapshot.UnreadCount
	b.mu.Unlock()
	_ = conn.WriteJSON(map[string]any{"type": "init", "unread_count": unread})

	b.mu.Lock()
	b.conn = conn
	b.connects++
	b.mu.Unlock()

	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		b.mu.Lock()
		b.frames = append(b.frames, frame)
		b.mu.Unlock()
	}
}

func (b *backend) connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *backend) push(v any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	require.NotNil(b.t, conn)
	require.NoError(b.t, conn.WriteJSON(v))
}

func (b *backend) closeChannel(code int) {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	require.NotNil(b.t, conn)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	_ = conn.Close()
}

func (b *backend) sawFrame(frameType, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		if f["type"] != frameType {
			continue
		}
		if id == "" || f["notification_id"] == id {
			return true
		}
	}
	return false
}

func (b *backend) reads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.readIDs...)
}

func (b *backend) count(fn func(*backend) int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b)
}

func notification(id string, minute int) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.TypeContractSigned,
		Title:     "Contract signed",
		Message:   "Your contract " + id + " was signed",
		Link:      "/contracts/" + id,
		CreatedAt: time.Date(2026, 10, 16, 9, minute, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func newManager(t *testing.T, b *backend, opts Options) *Manager {
	t.Helper()
	return newManagerWithSource(t, b, nil, opts)
}

// newManagerWithSource builds a manager against b. A nil src loads the
// snapshot from b.
func newManagerWithSource(t *testing.T, b *backend, src SnapshotSource, opts Options) *Manager {
	t.Helper()
	logger := zerolog.Nop()
	client := api.NewClient(b.srv.URL, 5*time.Second, logger)
	st := store.New(0, nil, logger)
	if src == nil {
		src = snapshot.NewLoader(client, 20, logger)
	}

	opts.BaseURL = b.srv.URL
	opts.Logger = logger
	m := NewManager(Deps{
		Store:     st,
		Snapshots: src,
		API:       client,
	}, opts)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// gatedSnapshots serves a fixed snapshot. While blocking, each Load waits
// for release after signalling entered.
type gatedSnapshots struct {
	snap    model.Snapshot
	entered chan struct{}
	release chan struct{}

	mu       gosync.Mutex
	blocking bool
}

func newGatedSnapshots(snap model.Snapshot, blocking bool) *gatedSnapshots {
	return &gatedSnapshots{
		snap:     snap,
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		blocking: blocking,
	}
}

func (g *gatedSnapshots) block() {
	g.mu.Lock()
	g.blocking = true
	g.mu.Unlock()
}

func (g *gatedSnapshots) Load(ctx context.Context, token string) (model.Snapshot, error) {
	g.mu.Lock()
	blocking := g.blocking
	g.mu.Unlock()
	if blocking {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return model.Snapshot{}, nil
		}
	}
	return g.snap, nil
}

func (g *gatedSnapshots) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(waitFor):
		t.Fatal("snapshot load never started")
	}
}

func storeIDs(s *store.Store) []string {
	var out []string
	for _, n := range s.Notifications() {
		out = append(out, n.ID)
	}
	return out
}

func TestEndToEndSeedPushAndMarkRead(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{
			Success:       true,
			Notifications: []model.Notification{notification("n1", 0)},
			UnreadCount:   1,
		}
	})
	m := newManager(t, b, Options{})
	st := m.Store()

	require.NoError(t, m.Start(context.Background(), "tok"))
	assert.Equal(t, []string{"n1"}, storeIDs(st))
	assert.Equal(t, 1, st.UnreadCount())

	require.Eventually(t, func() bool { return st.IsConnected() && b.connected() }, waitFor, tick)

	b.push(map[string]any{"type": "notification", "notification": notification("n2", 5)})
	require.Eventually(t, func() bool { return len(st.Notifications()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"n2", "n1"}, storeIDs(st))
	assert.Equal(t, 2, st.UnreadCount())

	st.MarkRead("n2")
	assert.True(t, st.Notifications()[0].Read)
	assert.Equal(t, 1, st.UnreadCount())

	m.Wait()
	assert.Equal(t, []string{"n2"}, b.reads())
	require.Eventually(t, func() bool { return b.sawFrame("mark_read", "n2") }, waitFor, tick)
}

func TestMarkAllReadConfirmsBothPaths(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{
			Success:       true,
			Notifications: []model.Notification{notification("n1", 0), notification("n2", 1)},
			UnreadCount:   2,
		}
	})
	m := newManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, func() bool { return m.Store().IsConnected() && b.connected() }, waitFor, tick)

	m.Store().MarkAllRead()
	m.Wait()

	assert.Zero(t, m.Store().UnreadCount())
	assert.Equal(t, 1, b.count(func(b *backend) int { return b.readAll }))
	require.Eventually(t, func() bool { return b.sawFrame("mark_all_read", "") }, waitFor, tick)
}

func TestLiveUnreadCountReplacesCounter(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{Success: true, UnreadCount: 3}
	})
	m := newManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, b.connected, waitFor, tick)

	b.push(map[string]any{"type": "unread_count", "count": 7})
	require.Eventually(t, func() bool { return m.Store().UnreadCount() == 7 }, waitFor, tick)
}

func TestSnapshotFailureStillOpensChannel(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshotStatus = http.StatusInternalServerError
	})
	m := newManager(t, b, Options{})

	require.NoError(t, m.Start(context.Background(), "tok"))
	assert.Empty(t, m.Store().Notifications())
	require.Eventually(t, m.Store().IsConnected, waitFor, tick)
}

func TestSnapshotUnauthorizedLogsOut(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshotStatus = http.StatusUnauthorized
	})
	m := newManager(t, b, Options{})

	err := m.Start(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, b.count(func(b *backend) int { return b.connects }))
	assert.Equal(t, model.StateDisconnected, m.Store().ConnectionState())
}

func TestChannelAuthRejectionLogsOut(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{
			Success:       true,
			Notifications: []model.Notification{notification("n1", 0)},
			UnreadCount:   1,
		}
	})
	m := newManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, b.connected, waitFor, tick)

	b.closeChannel(transport.CloseAuthRejected)

	msg := waitForMsg[LoggedOutMsg](t, m)
	assert.Contains(t, msg.Reason, "rejected")
	assert.Empty(t, m.Store().Notifications())
	assert.Zero(t, m.Store().UnreadCount())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.count(func(b *backend) int { return b.connects }))
}

func TestReconnectAfterLongOutageResyncs(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{Success: true}
	})
	clock := clockwork.NewFakeClock()
	m := newManager(t, b, Options{
		ResyncAfter: time.Minute,
		Transport:   transport.Options{Clock: clock, ReconnectDelay: 5 * time.Second},
	})
	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, b.connected, waitFor, tick)

	b.mu.Lock()
	b.snapshot = api.SnapshotResponse{
		Success:       true,
		Notifications: []model.Notification{notification("missed", 3)},
		UnreadCount:   1,
	}
	b.mu.Unlock()
	b.closeChannel(websocket.CloseGoingAway)
	require.Eventually(t, func() bool { return !m.Store().IsConnected() }, waitFor, tick)

	require.Eventually(t, func() bool {
		clock.Advance(61 * time.Second)
		return b.connected()
	}, waitFor, 50*time.Millisecond)

	require.Eventually(t, func() bool { return len(m.Store().Notifications()) == 1 }, waitFor, tick)
	assert.Equal(t, "missed", m.Store().Notifications()[0].ID)
	assert.Equal(t, 2, b.count(func(b *backend) int { return b.snapshotCalls }))
}

func TestShortOutageDoesNotResync(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{Success: true}
	})
	clock := clockwork.NewFakeClock()
	m := newManager(t, b, Options{
		ResyncAfter: time.Hour,
		Transport:   transport.Options{Clock: clock, ReconnectDelay: 5 * time.Second},
	})
	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, b.connected, waitFor, tick)

	b.closeChannel(websocket.CloseGoingAway)
	require.Eventually(t, func() bool { return !m.Store().IsConnected() }, waitFor, tick)

	require.Eventually(t, func() bool {
		clock.Advance(5 * time.Second)
		return b.connected()
	}, waitFor, 50*time.Millisecond)
	require.Eventually(t, m.Store().IsConnected, waitFor, tick)

	assert.Equal(t, 1, b.count(func(b *backend) int { return b.snapshotCalls }))
}

func TestRestConfirmationRetries(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{
			Success:       true,
			Notifications: []model.Notification{notification("n1", 0)},
			UnreadCount:   1,
		}
		b.markReadFailing = 1
	})
	m := newManager(t, b, Options{ConfirmRetries: 2, RetryBackoff: 10 * time.Millisecond})
	require.NoError(t, m.Start(context.Background(), "tok"))

	m.Store().MarkRead("n1")
	m.Wait()

	assert.Equal(t, []string{"n1", "n1"}, b.reads())
	assert.True(t, m.Store().Notifications()[0].Read)
}

func TestRestConfirmationFailureKeepsOptimisticState(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{
			Success:       true,
			Notifications: []model.Notification{notification("n1", 0)},
			UnreadCount:   1,
		}
		b.markReadFailing = 5
	})
	m := newManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background(), "tok"))

	m.Store().MarkRead("n1")
	m.Wait()

	assert.Len(t, b.reads(), 1)
	assert.True(t, m.Store().Notifications()[0].Read)
	assert.Zero(t, m.Store().UnreadCount())
}

func TestWaitForNextUpdateDeliversLatestView(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshot = api.SnapshotResponse{Success: true}
	})
	m := newManager(t, b, Options{})

	m.Store().Insert(notification("a", 0))
	m.Store().Insert(notification("b", 1))

	msg := waitForMsg[UpdateMsg](t, m)
	assert.Len(t, msg.View.Notifications, 2)
	assert.Equal(t, 2, msg.View.UnreadCount)
}

func TestStartCmd(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.snapshotStatus = http.StatusUnauthorized
	})
	m := newManager(t, b, Options{})

	msg := m.StartCmd("tok")()
	require.IsType(t, StartFailedMsg{}, msg)
	assert.True(t, api.IsAuthError(msg.(StartFailedMsg).Err))

	b.mu.Lock()
	b.snapshotStatus = 0
	b.snapshot = api.SnapshotResponse{Success: true}
	b.mu.Unlock()
	assert.IsType(t, StartedMsg{}, m.StartCmd("tok")())
}

// waitForMsg drains bridge messages until one of type T arrives.
func waitForMsg[T any](t *testing.T, m *Manager) T {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		got := make(chan any, 1)
		go func() { got <- m.WaitForNextUpdate()() }()
		select {
		case msg := <-got:
			if v, ok := msg.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func TestLogoutDuringStartDiscardsSnapshot(t *testing.T) {
	b := newBackend(t, nil)
	src := newGatedSnapshots(model.Snapshot{
		Notifications: []model.Notification{notification("n1", 0)},
		UnreadCount:   1,
	}, true)
	m := newManagerWithSource(t, b, src, Options{})

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background(), "tok") }()
	src.waitEntered(t)

	require.NoError(t, m.Logout())
	close(src.release)
	require.NoError(t, <-done)

	assert.Empty(t, m.Store().Notifications())
	assert.Zero(t, m.Store().UnreadCount())
	assert.Equal(t, model.StateDisconnected, m.Store().ConnectionState())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, b.count(func(b *backend) int { return b.connects }))
	assert.Equal(t, model.StateDisconnected, m.Store().ConnectionState())
}

func TestLogoutDuringRefreshDiscardsSnapshot(t *testing.T) {
	b := newBackend(t, nil)
	src := newGatedSnapshots(model.Snapshot{
		Notifications: []model.Notification{notification("n1", 0)},
		UnreadCount:   1,
	}, false)
	m := newManagerWithSource(t, b, src, Options{})
	require.NoError(t, m.Start(context.Background(), "tok"))
	require.Eventually(t, b.connected, waitFor, tick)

	src.block()
	done := make(chan struct{})
	go func() {
		m.RefreshCmd()()
		close(done)
	}()
	src.waitEntered(t)

	require.NoError(t, m.Logout())
	close(src.release)
	<-done

	assert.Empty(t, m.Store().Notifications())
	assert.Zero(t, m.Store().UnreadCount())
}
