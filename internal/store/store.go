package store

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/notifybell/internal/model"
)

// Confirmer forwards optimistic read-state changes to the server. Both
// methods are called after the local state has changed and must not block.
type Confirmer interface {
	ConfirmRead(id string)
	ConfirmAllRead()
}

// View is an immutable copy of the store state handed to observers.
type View struct {
	Notifications []model.Notification
	UnreadCount   int
	State         model.ConnectionState
}

// IsConnected reports whether the live channel is up.
func (v View) IsConnected() bool {
	return v.State == model.StateConnected
}

// Store is the single source of truth for the signed-in user's
// notifications. It merges the snapshot, live pushes and optimistic user
// actions. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	items     []model.Notification // newest first
	ids       map[string]struct{}
	unread    int
	state     model.ConnectionState
	maxItems  int
	confirmer Confirmer

	observers map[int]func(View)
	nextObs   int

	log zerolog.Logger
}

// New creates an empty store keeping at most maxItems notifications
// (model.DefaultMaxItems when maxItems <= 0). c may be nil.
func New(maxItems int, c Confirmer, logger zerolog.Logger) *Store {
	if maxItems <= 0 {
		maxItems = model.DefaultMaxItems
	}
	return &Store{
		ids:       make(map[string]struct{}),
		maxItems:  maxItems,
		confirmer: c,
		observers: make(map[int]func(View)),
		log:       logger.With().Str("component", "store").Logger(),
	}
}

// SetConfirmer replaces the confirmer used by MarkRead and MarkAllRead.
func (s *Store) SetConfirmer(c Confirmer) {
	s.mu.Lock()
	s.confirmer = c
	s.mu.Unlock()
}

// Subscribe registers fn to be called with a fresh View after every change.
// The returned function removes the observer.
func (s *Store) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// View returns a copy of the current state.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Notifications returns a copy of the list, newest first.
func (s *Store) Notifications() []model.Notification {
	return s.View().Notifications
}

// UnreadCount returns the unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// ConnectionState returns the mirrored channel state.
func (s *Store) ConnectionState() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the live channel is up.
func (s *Store) IsConnected() bool {
	return s.ConnectionState() == model.StateConnected
}

// Seed replaces the list and the unread counter wholesale. Items are
// ordered newest first by created_at; equal timestamps keep their input
// order. Duplicate ids keep the first occurrence.
func (s *Store) Seed(notifications []model.Notification, unreadCount int) {
	items := make([]model.Notification, 0, len(notifications))
	ids := make(map[string]struct{}, len(notifications))
	for _, n := range notifications {
		if _, dup := ids[n.ID]; dup {
			continue
		}
		ids[n.ID] = struct{}{}
		items = append(items, n)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]).After(createdAt(items[j]))
	})

	s.mu.Lock()
	s.items = items
	s.ids = ids
	s.unread = clamp(unreadCount)
	s.evictLocked()
	s.mu.Unlock()

	s.log.Debug().Int("items", len(items)).Int("unread", unreadCount).Msg("store seeded")
	s.publish()
}

// Insert puts a live notification at the front and bumps the unread
// counter. A notification whose id is already present is ignored.
func (s *Store) Insert(n model.Notification) {
	s.mu.Lock()
	if _, dup := s.ids[n.ID]; dup {
		s.mu.Unlock()
		s.log.Debug().Str("notification_id", n.ID).Msg("duplicate notification ignored")
		return
	}

	s.items = append([]model.Notification{n}, s.items...)
	s.ids[n.ID] = struct{}{}
	if !n.Read {
		s.unread++
	}
	s.evictLocked()
	s.mu.Unlock()

	s.publish()
}

// ReplaceUnreadCount overwrites the unread counter with the server's value.
func (s *Store) ReplaceUnreadCount(n int) {
	s.mu.Lock()
	s.unread = clamp(n)
	s.mu.Unlock()

	s.publish()
}

// MarkRead flips one notification to read and decrements the counter, then
// asks the confirmer to tell the server. Unknown or already read ids are a
// no-op. A failed confirmation is never rolled back.
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 || s.items[idx].Read {
		s.mu.Unlock()
		return
	}

	s.items[idx].Read = true
	s.unread = clamp(s.unread - 1)
	c := s.confirmer
	s.mu.Unlock()

	s.publish()
	if c != nil {
		c.ConfirmRead(id)
	}
}

// MarkAllRead flips every notification to read and zeroes the counter,
// then asks the confirmer to tell the server. Calling it when nothing is
// unread changes nothing and sends nothing.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	changed := s.unread != 0
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	s.unread = 0
	c := s.confirmer
	s.mu.Unlock()

	if !changed {
		return
	}

	s.publish()
	if c != nil {
		c.ConfirmAllRead()
	}
}

// Clear empties the store. It is used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.ids = make(map[string]struct{})
	s.unread = 0
	s.mu.Unlock()

	s.publish()
}

// SetConnectionState mirrors the transport state for observers.
func (s *Store) SetConnectionState(state model.ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.publish()
}

// evictLocked drops the oldest entries beyond the cap. An evicted unread
// entry takes its share of the counter with it.
func (s *Store) evictLocked() {
	if len(s.items) <= s.maxItems {
		return
	}
	for _, n := range s.items[s.maxItems:] {
		delete(s.ids, n.ID)
		if !n.Read {
			s.unread = clamp(s.unread - 1)
		}
	}
	s.items = s.items[:s.maxItems:s.maxItems]
}

func (s *Store) indexLocked(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) viewLocked() View {
	items := make([]model.Notification, len(s.items))
	copy(items, s.items)
	return View{
		Notifications: items,
		UnreadCount:   s.unread,
		State:         s.state,
	}
}

func (s *Store) publish() {
	s.mu.Lock()
	v := s.viewLocked()
	fns := make([]func(View), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func createdAt(n model.Notification) time.Time {
	t, _ := n.Time()
	return t
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
