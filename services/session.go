package services

import (
	"context"
	"sync"
	"time"

	"smm-telegram/models"

	"github.com/shopspring/decimal"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StatePlatformChosen
	StateCategoryChosen
	StateServiceChosen
	StateLinkProvided
	StateQuantityChosen
	StateReviewReady
	StateAwaitingPayment
	StateAwaitingProof
	StateSubmitted
)

var stateNames = [...]string{
	"Idle", "PlatformChosen", "CategoryChosen", "ServiceChosen", "LinkProvided",
	"QuantityChosen", "ReviewReady", "AwaitingPayment", "AwaitingProof", "Submitted",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Session is the in-progress order of one user. It is never persisted.
type Session struct {
	UserID   int64
	ChatID   int64
	State    SessionState
	Platform models.Platform
	Category string
	Service  *models.ServiceEntry
	Link     string
	Quantity int

	// Set when ReviewReady is reached and refreshed on confirm.
	ComputedPrice *decimal.Decimal
	UnitPrice     decimal.Decimal
	MarginPercent decimal.Decimal

	PaymentRef string // set in AwaitingPayment
	LastActive time.Time
}

// SessionStore holds sessions in memory and drops the ones idle for longer
// than the configured timeout.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	locks    sync.Map // map[userID]*sync.Mutex
	idle     time.Duration
	now      func() time.Time
}

func NewSessionStore(idle time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*Session),
		idle:     idle,
		now:      time.Now,
	}
}

func (s *SessionStore) IdleTimeout() time.Duration { return s.idle }

// Lock serializes handling for one user and returns the unlock function.
func (s *SessionStore) Lock(userID int64) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the user's session, or nil. expired is true when a session
// existed but had been idle too long; it is removed in that case.
func (s *SessionStore) Get(userID int64) (sess *Session, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	if s.expired(sess) {
		delete(s.sessions, userID)
		return nil, true
	}
	return sess, false
}

// Put stores the session and marks it active now.
func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.LastActive = s.now()
	s.sessions[sess.UserID] = sess
}

func (s *SessionStore) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *SessionStore) expired(sess *Session) bool {
	return s.idle > 0 && s.now().Sub(sess.LastActive) > s.idle
}
