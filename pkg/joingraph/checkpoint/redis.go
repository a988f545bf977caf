package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces checkpoint keys.
const DefaultRedisPrefix = "joingraph:checkpoint:"

// RedisStore persists checkpoints to Redis, one key per (run, sequence).
// Keys expire after the configured TTL; zero keeps them forever.
// It is suitable for multi-process deployments sharing one Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool

	mu     sync.RWMutex
	closed bool
}

// redisRecord is the stored value.
type redisRecord struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisTTL sets the expiry applied to every saved checkpoint.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedisStore wraps an existing client. Close does not close the client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis connects to addr, verifies the connection, and returns a store
// that owns the client.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	s := NewRedisStore(client, opts...)
	s.owned = true
	return s, nil
}

func (s *RedisStore) key(runID string, sequence int) string {
	return fmt.Sprintf("%s%s:%010d", s.prefix, runID, sequence)
}

func (s *RedisStore) runPattern(runID string) string {
	return s.prefix + runID + ":*"
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, runID string, sequence int, nodeID string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	payload, err := json.Marshal(redisRecord{NodeID: nodeID, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(runID, sequence), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string) (*redisRecord, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &rec, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, runID string, sequence int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, err := s.get(ctx, s.key(runID, sequence))
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, runID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	seqs, err := s.sequences(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, ErrNotFound
	}
	rec, err := s.get(ctx, s.key(runID, seqs[len(seqs)-1]))
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, runID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	seqs, err := s.sequences(ctx, runID)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(seqs))
	for _, seq := range seqs {
		rec, err := s.get(ctx, s.key(runID, seq))
		if errors.Is(err, ErrNotFound) {
			// Expired between scan and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{
			RunID:     runID,
			NodeID:    rec.NodeID,
			Sequence:  seq,
			Timestamp: rec.Timestamp,
			Size:      int64(len(rec.Data)),
		})
	}
	return infos, nil
}

// DeleteRun implements Store.
func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	keys, err := s.scan(ctx, s.runPattern(runID))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete run checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// sequences returns the stored sequence numbers of a run in ascending order.
func (s *RedisStore) sequences(ctx context.Context, runID string) ([]int, error) {
	keys, err := s.scan(ctx, s.runPattern(runID))
	if err != nil {
		return nil, err
	}
	prefix := s.prefix + runID + ":"
	seqs := make([]int, 0, len(keys))
	for _, key := range keys {
		seq, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			// Belongs to a run whose ID extends this one after a colon.
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func (s *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
