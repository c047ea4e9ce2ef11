package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix = "contractflow:workflow:"
	redisSnapTTL   = 24 * time.Hour
)

// RedisRegistry is a Redis-backed Registry. Snapshots are stored as JSON
// values with a TTL so finished workflows age out on their own. Useful when
// polling clients hit a different process than the one running the pipeline;
// in-flight coordination state still lives only in the coordinating process.
type RedisRegistry struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(redisURL string, logger *zap.Logger) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRegistry{rdb: rdb, logger: logger}, nil
}

func (r *RedisRegistry) Get(workflowID string) (Snapshot, bool) {
	data, err := r.rdb.Get(context.Background(), redisKeyPrefix+workflowID).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("redis get failed", zap.String("workflow", workflowID), zap.Error(err))
		}
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Warn("corrupt snapshot in redis", zap.String("workflow", workflowID), zap.Error(err))
		return Snapshot{}, false
	}
	return snap, true
}

func (r *RedisRegistry) Put(snap Snapshot) {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		r.logger.Error("marshal snapshot", zap.String("workflow", snap.WorkflowID), zap.Error(err))
		return
	}
	if err := r.rdb.Set(context.Background(), redisKeyPrefix+snap.WorkflowID, data, redisSnapTTL).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.String("workflow", snap.WorkflowID), zap.Error(err))
	}
}

func (r *RedisRegistry) Delete(workflowID string) {
	if err := r.rdb.Del(context.Background(), redisKeyPrefix+workflowID).Err(); err != nil {
		r.logger.Warn("redis del failed", zap.String("workflow", workflowID), zap.Error(err))
	}
}

func (r *RedisRegistry) List() []Snapshot {
	var out []Snapshot
	iter := r.rdb.Scan(context.Background(), 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(context.Background()) {
		data, err := r.rdb.Get(context.Background(), iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var snap Snapshot
		if json.Unmarshal(data, &snap) == nil {
			out = append(out, snap)
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis scan failed", zap.Error(err))
	}
	return out
}

// Close shuts down the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}
