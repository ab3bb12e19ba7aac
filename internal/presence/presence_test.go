package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	name string
}

func (c *fakeConn) Push(event string, payload any) {}

type recordingStore struct {
	mu     sync.Mutex
	writes []bool
}

func (s *recordingStore) SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, online)
	return nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []bool
}

func (a *recordingAnnouncer) AnnounceStatus(userID uuid.UUID, online bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, online)
}

func (a *recordingAnnouncer) snapshot() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool{}, a.events...)
}

type fakeCache struct {
	mu     sync.Mutex
	online map[uuid.UUID]bool
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{online: make(map[uuid.UUID]bool)}
}

func (c *fakeCache) SetOnline(ctx context.Context, userID uuid.UUID, online bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online {
		c.online[userID] = true
	} else {
		delete(c.online, userID)
	}
	return nil
}

func (c *fakeCache) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID], c.err
}

func newTestTracker() (*Tracker, *recordingStore) {
	st := &recordingStore{}
	return New(st, nil, zerolog.Nop()), st
}

func TestMarkOnlineResolve(t *testing.T) {
	req := require.New(t)
	tracker, _ := newTestTracker()

	user := uuid.New()
	conn := &fakeConn{name: "a"}

	req.False(tracker.IsOnline(user))
	tracker.MarkOnline(user, conn)
	req.True(tracker.IsOnline(user))

	got, ok := tracker.Resolve(user)
	req.True(ok)
	req.Same(conn, got.(*fakeConn))
}

func TestLastConnectionWins(t *testing.T) {
	req := require.New(t)
	tracker, _ := newTestTracker()

	user := uuid.New()
	first := &fakeConn{name: "first"}
	second := &fakeConn{name: "second"}

	tracker.MarkOnline(user, first)
	tracker.MarkOnline(user, second)

	got, ok := tracker.Resolve(user)
	req.True(ok)
	req.Same(second, got.(*fakeConn))
}

func TestStaleDisconnectIgnored(t *testing.T) {
	req := require.New(t)
	tracker, _ := newTestTracker()

	user := uuid.New()
	old := &fakeConn{name: "old"}
	fresh := &fakeConn{name: "fresh"}

	tracker.MarkOnline(user, old)
	tracker.MarkOnline(user, fresh)

	// The old connection's teardown arrives after the replacement.
	tracker.MarkOffline(user, old)
	req.True(tracker.IsOnline(user))

	tracker.MarkOffline(user, fresh)
	req.False(tracker.IsOnline(user))
}

func TestMarkOfflineWithoutConn(t *testing.T) {
	req := require.New(t)
	tracker, _ := newTestTracker()

	user := uuid.New()
	tracker.MarkOnline(user, &fakeConn{})

	// nil conn is an unconditional logout.
	tracker.MarkOffline(user, nil)
	req.False(tracker.IsOnline(user))

	// Offline for an unknown user is a no-op.
	tracker.MarkOffline(uuid.New(), nil)
}

func TestAnnounceOnTransitions(t *testing.T) {
	req := require.New(t)
	tracker, _ := newTestTracker()
	ann := &recordingAnnouncer{}
	tracker.SetAnnouncer(ann)

	user := uuid.New()
	conn := &fakeConn{}

	tracker.MarkOnline(user, conn)
	tracker.MarkOffline(user, conn)

	req.Equal([]bool{true, false}, ann.snapshot())
}

func TestPersistEventuallyWrites(t *testing.T) {
	req := require.New(t)
	tracker, st := newTestTracker()

	tracker.MarkOnline(uuid.New(), &fakeConn{})

	req.Eventually(func() bool { return st.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestIsOnlineFallsBackToCache(t *testing.T) {
	req := require.New(t)
	cache := newFakeCache()
	tracker := New(&recordingStore{}, cache, zerolog.Nop())

	// Held by a sibling instance: present in the shared set but not in
	// the local map.
	sibling := uuid.New()
	req.NoError(cache.SetOnline(context.Background(), sibling, true))

	req.True(tracker.IsOnline(sibling))
	req.False(tracker.IsOnline(uuid.New()))

	// A local connection answers without consulting the cache.
	local := uuid.New()
	tracker.MarkOnline(local, &fakeConn{})
	req.True(tracker.IsOnline(local))
}

func TestIsOnlineCacheFailureReadsOffline(t *testing.T) {
	req := require.New(t)
	cache := newFakeCache()
	cache.err = context.DeadlineExceeded
	tracker := New(&recordingStore{}, cache, zerolog.Nop())

	req.False(tracker.IsOnline(uuid.New()))
}

func TestOnlineAndReset(t *testing.T) {
	req := require.New(t)
	tracker, _ := newTestTracker()

	a, b := uuid.New(), uuid.New()
	tracker.MarkOnline(a, &fakeConn{})
	tracker.MarkOnline(b, &fakeConn{})
	req.ElementsMatch([]uuid.UUID{a, b}, tracker.Online())

	tracker.Reset()
	req.Empty(tracker.Online())
}
