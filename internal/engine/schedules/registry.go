// Package schedules keeps the set of cron schedules in Redis and runs them
// in-process with robfig/cron.
package schedules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"draftr/internal/platform/kv"
)

const hashKey = "schedules"

// Schedule fires a trigger on a cron expression. ID is the trigger id, so
// registering the same trigger twice overwrites rather than duplicates.
type Schedule struct {
	ID             string `json:"id"`
	Cron           string `json:"cron"`
	OrganizationID string `json:"organization_id"`
	TriggerID      string `json:"trigger_id"`
}

type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Register(ctx context.Context, s Schedule) error {
	if r.client == nil {
		return kv.ErrUnavailable
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, hashKey, s.ID, b).Err()
}

func (r *RedisRegistry) Deregister(ctx context.Context, id string) error {
	if r.client == nil {
		return kv.ErrUnavailable
	}
	return r.client.HDel(ctx, hashKey, id).Err()
}

func (r *RedisRegistry) List(ctx context.Context) ([]Schedule, error) {
	if r.client == nil {
		return nil, kv.ErrUnavailable
	}
	raw, err := r.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Schedule, 0, len(raw))
	for id, v := range raw {
		var s Schedule
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", id, err)
		}
		out = append(out, s)
	}
	return out, nil
}
