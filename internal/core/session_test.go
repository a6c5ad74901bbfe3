package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyai.dev/notes/internal/auth"
	"studyai.dev/notes/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedManager(ttl time.Duration) (*SessionManager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewSessionManager(ttl)
	m.now = clock.Now
	return m, clock
}

func TestSessionManager_ExpiredSessionsAreSwept(t *testing.T) {
	m, clock := newClockedManager(time.Hour)
	for i := 0; i < 50; i++ {
		m.Create(auth.Identity{Email: "student@example.com"})
	}
	require.Equal(t, 50, m.Len())

	clock.Advance(59 * time.Minute)
	assert.Zero(t, m.Sweep())
	assert.Equal(t, 50, m.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 50, m.Sweep())
	assert.Zero(t, m.Len())
}

func TestSessionManager_GetDropsExpiredSession(t *testing.T) {
	m, clock := newClockedManager(time.Hour)
	old := m.Create(auth.Identity{Email: "a@example.com"})
	assert.Equal(t, old.CreatedAt.Add(time.Hour), old.ExpiresAt)

	clock.Advance(30 * time.Minute)
	fresh := m.Create(auth.Identity{Email: "b@example.com"})

	clock.Advance(45 * time.Minute)
	_, ok := m.Get(old.ID)
	assert.False(t, ok)

	got, ok := m.Get(fresh.ID)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, 1, m.Len())
}

func TestSessionManager_NoTTLKeepsSessions(t *testing.T) {
	m, clock := newClockedManager(0)
	sess := m.Create(auth.Identity{Email: "a@example.com"})
	assert.True(t, sess.ExpiresAt.IsZero())

	clock.Advance(365 * 24 * time.Hour)
	assert.Zero(t, m.Sweep())
	_, ok := m.Get(sess.ID)
	assert.True(t, ok)
}

func TestSessionManager_RunSweeperStopsWithContext(t *testing.T) {
	m, clock := newClockedManager(time.Minute)
	m.Create(auth.Identity{Email: "a@example.com"})
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 5*time.Millisecond, logging.Discard())
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
