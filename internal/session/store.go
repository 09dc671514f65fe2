package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"partnerscope/internal/common/config"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/common/metrics"
)

// Backend persists session state snapshots outside process memory. Live
// sessions always run from the in-memory map; the backend is write-through
// so state survives a restart for inspection.
type Backend interface {
	Save(ctx context.Context, state *State, ttl time.Duration) error
	Load(ctx context.Context, id string) (*State, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// RedisBackend stores session snapshots as JSON blobs with TTL.
type RedisBackend struct {
	client *redis.Client
	logger logger.Logger
}

const redisKeyPrefix = "partnerscope:session:"

func NewRedisBackend(cfg config.RedisConfig, log logger.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client, logger: log}, nil
}

// NewRedisBackendWithClient wires an existing client, used by tests.
func NewRedisBackendWithClient(client *redis.Client, log logger.Logger) *RedisBackend {
	return &RedisBackend{client: client, logger: log}
}

func (b *RedisBackend) Save(ctx context.Context, state *State, ttl time.Duration) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisKeyPrefix+state.ID, blob, ttl).Err()
}

func (b *RedisBackend) Load(ctx context.Context, id string) (*State, error) {
	blob, err := b.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	return b.client.Del(ctx, redisKeyPrefix+id).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Store holds live sessions in memory with TTL expiry and optional
// write-through persistence.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl           time.Duration
	sweepInterval time.Duration
	snapshotDepth int
	backend       Backend
	logger        logger.Logger

	stop chan struct{}
	once sync.Once
}

func NewStore(cfg config.SessionConfig, backend Backend, log logger.Logger) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		ttl:           config.GetDuration(cfg.TTL),
		sweepInterval: config.GetDuration(cfg.SweepInterval),
		snapshotDepth: cfg.SnapshotDepth,
		backend:       backend,
		logger:        log.With(map[string]interface{}{"component": "session-store"}),
		stop:          make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Put registers a session.
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	metrics.SessionsActive.Set(float64(s.Len()))
}

// Get returns the live session, or nil if unknown or expired.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	sess := s.sessions[id]
	s.mu.RUnlock()
	return sess
}

// Delete removes the session from memory and the backend.
func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	metrics.SessionsActive.Set(float64(s.Len()))

	if s.backend != nil {
		if err := s.backend.Delete(ctx, id); err != nil {
			s.logger.Warn("backend delete failed", map[string]interface{}{
				"session_id": id,
				"error":      err.Error(),
			})
		}
	}
}

// Persist writes the session's current state through to the backend. Callers
// hold the session lock. Persistence failures are logged, never fatal.
func (s *Store) Persist(ctx context.Context, sess *Session) {
	if s.backend == nil {
		return
	}
	if err := s.backend.Save(ctx, sess.Snapshot(), s.ttl); err != nil {
		s.logger.Warn("backend save failed", map[string]interface{}{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
	}
}

// LoadFallback reads a persisted snapshot for a session no longer in memory.
// Returns nil when the backend is absent or holds nothing.
func (s *Store) LoadFallback(ctx context.Context, id string) (*State, error) {
	if s.backend == nil {
		return nil, nil
	}
	return s.backend.Load(ctx, id)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SnapshotDepth is the configured undo depth for candidate stores.
func (s *Store) SnapshotDepth() int {
	return s.snapshotDepth
}

// Close stops the sweep loop and releases the backend.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

func (s *Store) sweepLoop() {
	if s.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Info("expired idle sessions", map[string]interface{}{"count": len(expired)})
		metrics.SessionsActive.Set(float64(s.Len()))
	}
}
