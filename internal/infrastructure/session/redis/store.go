package redis

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"time"

	"github.com/redis/go-redis/v9"

	"insure-rag/internal/core/domain"
)

const keyPrefix = "session:"

// Commands is the subset of the go-redis client the store issues. Satisfied
// by *redis.Client and by test fakes.
type Commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	GetEx(ctx context.Context, key string, expiration time.Duration) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store keeps session history as a JSON turn list per key with a TTL
// refreshed on every read and write. Appends for the same session are
// serialized through striped in-process locks, so a read-modify-write never
// loses a concurrent follow-up from the same user.
type Store struct {
	client   Commands
	maxTurns int
	ttl      time.Duration

	locks [64]sync.Mutex
}

func New(client Commands, maxTurns int, ttl time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, maxTurns: maxTurns, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, sessionID string) ([]domain.SessionTurn, error) {
	raw, err := s.client.GetEx(ctx, keyPrefix+sessionID, s.ttl).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrSessionStoreUnavailable, "session get", err)
	}

	var turns []domain.SessionTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		// A corrupt value is unrecoverable; start the session over rather
		// than failing every following turn.
		return nil, nil
	}
	return turns, nil
}

func (s *Store) Append(ctx context.Context, sessionID string, turn domain.SessionTurn) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	key := keyPrefix + sessionID
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return domain.WrapError(domain.ErrSessionStoreUnavailable, "session read for append", err)
	}

	var turns []domain.SessionTurn
	if err == nil {
		// Corrupt history is dropped, same as on Get.
		_ = json.Unmarshal([]byte(raw), &turns)
	}

	turns = append(turns, turn)
	if overflow := len(turns) - s.maxTurns; overflow > 0 {
		turns = turns[overflow:]
	}

	payload, err := json.Marshal(turns)
	if err != nil {
		return domain.WrapError(domain.ErrSessionStoreUnavailable, "session encode", err)
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrSessionStoreUnavailable, "session append", err)
	}
	return nil
}

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}
