package memory

import (
	"context"
	"sync"
	"time"

	"insure-rag/internal/core/domain"
)

// Store keeps session history in process memory. It backs development
// setups without Redis and the test suite. A single mutex serializes all
// appends, which trivially satisfies the single-writer-per-key discipline.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	turns       []domain.SessionTurn
	lastUpdated time.Time
}

func New(maxTurns int, ttl time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *Store) Get(_ context.Context, sessionID string) ([]domain.SessionTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	now := s.now()
	if now.Sub(sess.lastUpdated) > s.ttl {
		delete(s.sessions, sessionID)
		return nil, nil
	}
	sess.lastUpdated = now

	out := make([]domain.SessionTurn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

func (s *Store) Append(_ context.Context, sessionID string, turn domain.SessionTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok || now.Sub(sess.lastUpdated) > s.ttl {
		sess = &session{}
		s.sessions[sessionID] = sess
	}

	sess.turns = append(sess.turns, turn)
	if overflow := len(sess.turns) - s.maxTurns; overflow > 0 {
		sess.turns = sess.turns[overflow:]
	}
	sess.lastUpdated = now
	return nil
}

// EvictExpired drops every session idle beyond the TTL and reports how many
// were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUpdated) > s.ttl {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor runs periodic eviction until the context ends. Lazy eviction
// on access already guarantees expired history is never served; the janitor
// only reclaims memory.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EvictExpired()
			}
		}
	}()
}
