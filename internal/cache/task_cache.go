package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
	"github.com/taskfi/taskfi-escrow/internal/model"
	"go.uber.org/zap"
)

const taskKeyPrefix = "taskfi:task:"

// TaskCache is a read-through cache for task rows keyed by derived address.
// Every method fails open: a broken or absent Redis degrades to database
// reads, it never fails a request.
type TaskCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewTaskCache(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*TaskCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &TaskCache{client: client, logger: logger, ttl: ttl}, nil
}

// Get returns the cached task or nil on a miss.
func (c *TaskCache) Get(ctx context.Context, address string) *model.Task {
	if c == nil || c.client == nil {
		return nil
	}

	payload, err := c.client.Get(ctx, taskKeyPrefix+address).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logRedisError("get", err)
		}
		return nil
	}

	task := &model.Task{}
	if err = json.Unmarshal(payload, task); err != nil {
		c.logRedisError("unmarshal", err)
		return nil
	}
	return task
}

func (c *TaskCache) Set(ctx context.Context, task *model.Task) {
	if c == nil || c.client == nil || task == nil {
		return
	}

	payload, err := json.Marshal(task)
	if err != nil {
		c.logRedisError("marshal", err)
		return
	}
	if err = c.client.Set(ctx, taskKeyPrefix+task.Address, payload, c.ttl).Err(); err != nil {
		c.logRedisError("set", err)
	}
}

// Invalidate drops a task after any mutation so readers never see a stale
// status.
func (c *TaskCache) Invalidate(ctx context.Context, address string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, taskKeyPrefix+address).Err(); err != nil {
		c.logRedisError("del", err)
	}
}

// Ping reports cache liveness for the health endpoint.
func (c *TaskCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("task cache is not configured")
	}
	return c.client.Ping(ctx).Err()
}

func (c *TaskCache) Close() {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Close()
}

func (c *TaskCache) logRedisError(op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("task cache error", zap.String("op", op), zap.Error(err))
}
