package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SlavaLB/it-school/internal/domain"

	wbfredis "github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
)

const keyPrefix = "task:"

// TaskCache is the read-through cache in front of the task store. It holds
// last-known task snapshots only; the store deletes an entry on every status
// transition, so a hit never serves a stale claim or a finished task as
// pending for longer than one invalidation round-trip.
type TaskCache struct {
	client  *wbfredis.Client
	retries retry.Strategy
}

func NewTaskCache(client *wbfredis.Client, retries retry.Strategy) *TaskCache {
	return &TaskCache{
		client:  client,
		retries: retries,
	}
}

// Get returns the cached task, or nil on a miss. An unparsable entry is
// reported rather than silently treated as a miss.
func (c *TaskCache) Get(ctx context.Context, id string) (*domain.Task, error) {
	val, err := c.client.GetWithRetry(ctx, c.retries, keyPrefix+id)
	if err != nil || val == "" {
		return nil, err
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, fmt.Errorf("failed to decode cached task %s: %w", id, err)
	}
	return &task, nil
}

// Set stores a task snapshot. The wbf client exposes no per-key TTL variant,
// so entries live until the next invalidation; ttl is kept in the signature
// for callers that configure it.
func (c *TaskCache) Set(ctx context.Context, id string, task *domain.Task, ttl time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s for cache: %w", id, err)
	}
	return c.client.SetWithRetry(ctx, c.retries, keyPrefix+id, string(data))
}

// Del drops the snapshot; the store calls this on every status transition.
func (c *TaskCache) Del(ctx context.Context, id string) error {
	return c.client.DelWithRetry(ctx, c.retries, keyPrefix+id)
}

func (c *TaskCache) Close() error {
	return c.client.Close()
}
