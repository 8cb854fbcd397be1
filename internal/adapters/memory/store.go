// Package memory keeps sessions and tokens in process memory. State is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
)

// Store is a mutex-guarded map store. Sessions and tokens not saved for longer than the
// TTL are dropped on access, and writes sweep the maps at most once per TTL. A zero TTL
// keeps them forever.
type Store struct {
	mu        sync.RWMutex
	ttl       time.Duration
	now       func() time.Time
	sessions  map[string]entry
	tokens    map[string]tokenEntry
	lastSweep time.Time
}

type entry struct {
	session domain.Session
	touched time.Time
}

type tokenEntry struct {
	token   domain.Token
	touched time.Time
}

var _ ports.Store = (*Store)(nil)

func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]entry),
		tokens:   make(map[string]tokenEntry),
	}
}

func (s *Store) Load(_ context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return domain.NewSession(id), nil
	}
	if s.expired(e.touched, s.now()) {
		delete(s.sessions, id)
		return domain.NewSession(id), nil
	}
	return clone(e.session), nil
}

func (s *Store) Save(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeSweep(now)
	s.sessions[sess.ID] = entry{session: clone(sess), touched: now}
	return nil
}

func (s *Store) GetToken(_ context.Context, sessionID string) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tokens[sessionID]
	if !ok || s.expired(e.touched, s.now()) {
		return domain.Token{}, domain.ErrNotFound
	}
	return e.token, nil
}

func (s *Store) SaveToken(_ context.Context, sessionID string, tok domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeSweep(now)
	if prev, ok := s.tokens[sessionID]; ok && tok.RefreshToken == "" && !s.expired(prev.touched, now) {
		tok.RefreshToken = prev.token.RefreshToken
	}
	s.tokens[sessionID] = tokenEntry{token: tok, touched: now}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) expired(touched, now time.Time) bool {
	return s.ttl > 0 && now.Sub(touched) > s.ttl
}

// maybeSweep drops expired entries. Callers hold the write lock.
func (s *Store) maybeSweep(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for id, e := range s.sessions {
		if s.expired(e.touched, now) {
			delete(s.sessions, id)
		}
	}
	for id, e := range s.tokens {
		if s.expired(e.touched, now) {
			delete(s.tokens, id)
		}
	}
}

// clone copies the slices so callers never share backing arrays with the store.
func clone(sess domain.Session) domain.Session {
	out := sess
	out.Context.LastSuggestedSongs = append([]domain.Track(nil), sess.Context.LastSuggestedSongs...)
	out.History.Entries = sess.History.Snapshot()
	return out
}
