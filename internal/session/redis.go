package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces session keys.
const RedisKeyPrefix = "leadpipe:session:"

// RedisStore keeps sessions as JSON documents in Redis so several gateway
// processes can share conversation state. Flow-less sessions carry a TTL equal
// to the inactivity timeout; sessions with an active flow have none.
type RedisStore struct {
	client redis.UniversalClient
	opts   Opts
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: buildOpts(opts)}
}

// NewRedisStoreFromURL parses a redis:// or rediss:// URL, connects and pings the server.
func NewRedisStoreFromURL(ctx context.Context, redisURL string, opts ...Option) (*RedisStore, error) {
	ropt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(ropt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("RedisStore: connected", "addr", ropt.Addr, "db", ropt.DB)
	return NewRedisStore(client, opts...), nil
}

func redisKey(conversationID string) string {
	return RedisKeyPrefix + conversationID
}

func (r *RedisStore) ttlFor(s *models.Session) time.Duration {
	if s.HasActiveFlow() {
		return 0
	}
	return r.opts.InactivityTimeout
}

func (r *RedisStore) write(ctx context.Context, s *models.Session, onlyIfAbsent bool) (bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session: %w", err)
	}
	if onlyIfAbsent {
		ok, err := r.client.SetNX(ctx, redisKey(s.ConversationID), data, r.ttlFor(s)).Result()
		if err != nil {
			return false, fmt.Errorf("failed to create session: %w", err)
		}
		return ok, nil
	}
	if err := r.client.Set(ctx, redisKey(s.ConversationID), data, r.ttlFor(s)).Err(); err != nil {
		return false, fmt.Errorf("failed to save session: %w", err)
	}
	return true, nil
}

func (r *RedisStore) read(ctx context.Context, key string) (*models.Session, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", key, err)
	}
	return &s, nil
}

func (r *RedisStore) GetOrCreate(ctx context.Context, conversationID string) (*models.Session, error) {
	s, err := r.read(ctx, redisKey(conversationID))
	if err == nil {
		slog.Debug("RedisStore.GetOrCreate: retrieved session", "conversationID", conversationID, "activeFlow", s.ActiveFlow)
		return s, nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Error("RedisStore.GetOrCreate: read failed", "conversationID", conversationID, "error", err)
		return nil, err
	}

	s = models.NewSession(conversationID, r.opts.Now())
	created, err := r.write(ctx, s, true)
	if err != nil {
		return nil, err
	}
	if !created {
		// Another process created it between GET and SETNX.
		return r.read(ctx, redisKey(conversationID))
	}
	slog.Debug("RedisStore.GetOrCreate: created new session", "conversationID", conversationID)
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	s.LastUpdated = r.opts.Now()
	if _, err := r.write(ctx, s, false); err != nil {
		slog.Error("RedisStore.Save: write failed", "conversationID", s.ConversationID, "error", err)
		return err
	}
	slog.Debug("RedisStore.Save: saved session", "conversationID", s.ConversationID, "activeFlow", s.ActiveFlow, "step", s.Step())
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, redisKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	slog.Debug("RedisStore.Clear: cleared session", "conversationID", conversationID)
	return nil
}

// Sweep scans the session keyspace and removes stale flow-less sessions.
// TTLs already expire most of them; Sweep catches sessions written without one.
func (r *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		s, err := r.read(ctx, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			slog.Warn("RedisStore.Sweep: skipping unreadable session", "key", key, "error", err)
			continue
		}
		if !s.IsStale(now, r.opts.InactivityTimeout) {
			continue
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("failed to evict %s: %w", key, err)
		}
		removed++
		slog.Debug("RedisStore.Sweep: evicted stale session", "conversationID", s.ConversationID)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("session scan failed: %w", err)
	}
	return removed, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
