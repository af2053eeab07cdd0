package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(idle time.Duration) (*SessionStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSessionStore(idle)
	s.now = clock.Now
	return s, clock
}

func TestSessionStore_Expiry(t *testing.T) {
	s, clock := newTestStore(30 * time.Minute)
	s.Put(&Session{UserID: 1, State: StatePlatformChosen})

	clock.Advance(29 * time.Minute)
	got, expired := s.Get(1)
	require.NotNil(t, got)
	assert.False(t, expired)

	clock.Advance(2 * time.Minute)
	got, expired = s.Get(1)
	assert.Nil(t, got)
	assert.True(t, expired)

	got, expired = s.Get(1)
	assert.Nil(t, got)
	assert.False(t, expired, "expiry is reported once")
}

func TestSessionStore_PutRefreshesActivity(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)
	sess := &Session{UserID: 1}
	s.Put(sess)
	clock.Advance(8 * time.Minute)
	s.Put(sess)
	clock.Advance(8 * time.Minute)
	got, expired := s.Get(1)
	assert.NotNil(t, got)
	assert.False(t, expired)
}

func TestSessionStore_Sweep(t *testing.T) {
	s, clock := newTestStore(time.Minute)
	s.Put(&Session{UserID: 1})
	clock.Advance(30 * time.Second)
	s.Put(&Session{UserID: 2})
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
	got, _ := s.Get(2)
	assert.NotNil(t, got)
}

func TestSessionStore_Lock(t *testing.T) {
	s := NewSessionStore(time.Minute)
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(7)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Submitted", StateSubmitted.String())
	assert.Equal(t, "Unknown", SessionState(42).String())
}
