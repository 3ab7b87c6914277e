// Package kv is the shared coordination store: workflow locks, progress
// snapshots, bounded webhook log lists and one-shot claims. Every mutation is
// a single atomic Redis primitive or a MULTI block; nothing reads then writes.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when no backing store is configured.
var ErrUnavailable = errors.New("kv: store unavailable")

type Store interface {
	TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
	SetProgress(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetProgress(ctx context.Context, key string) ([]byte, bool, error)
	AppendLog(ctx context.Context, keys []string, entry []byte, maxLen int, ttl time.Duration) error
	ListLogs(ctx context.Context, key string, maxLen int) ([][]byte, error)
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

func LockKey(workflowType, orgID string) string {
	return fmt.Sprintf("%s:%s:lock", workflowType, orgID)
}

func ProgressKey(workflowType, orgID string) string {
	return fmt.Sprintf("%s:progress:%s", workflowType, orgID)
}

func LogKey(orgID, integrationType, integrationID string) string {
	return fmt.Sprintf("webhook-logs:%s:%s:%s", orgID, integrationType, integrationID)
}

func AllLogsKey(orgID string) string {
	return fmt.Sprintf("webhook-logs:%s:all", orgID)
}

func DeliveryKey(orgID, deliveryID string) string {
	return fmt.Sprintf("webhook-delivery:%s:%s", orgID, deliveryID)
}

// Connect accepts either a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps client. A nil client yields a store that refuses
// coordination and silently drops log appends.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, ErrUnavailable
	}
	return s.client.SetNX(ctx, key, owner, ttl).Result()
}

func (s *RedisStore) RefreshLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, ErrUnavailable
	}
	n, err := refreshScript.Run(ctx, s.client, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key, owner string) error {
	if s.client == nil {
		return ErrUnavailable
	}
	return releaseScript.Run(ctx, s.client, []string{key}, owner).Err()
}

func (s *RedisStore) SetProgress(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client == nil {
		return ErrUnavailable
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) GetProgress(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, ErrUnavailable
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) AppendLog(ctx context.Context, keys []string, entry []byte, maxLen int, ttl time.Duration) error {
	if s.client == nil || len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			p.LPush(ctx, key, entry)
			p.LTrim(ctx, key, 0, int64(maxLen-1))
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (s *RedisStore) ListLogs(ctx context.Context, key string, maxLen int) ([][]byte, error) {
	if s.client == nil {
		return nil, ErrUnavailable
	}
	vals, err := s.client.LRange(ctx, key, 0, int64(maxLen-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (s *RedisStore) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, ErrUnavailable
	}
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}

// Forget drops a claim so the next ClaimOnce on key succeeds.
func (s *RedisStore) Forget(ctx context.Context, key string) error {
	if s.client == nil {
		return ErrUnavailable
	}
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return ErrUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for components sharing the connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
