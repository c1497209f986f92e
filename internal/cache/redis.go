package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis server, shared across instances.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the given Redis address and verifies the
// connection with a ping.
func NewRedis(addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb}, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Get returns the value for key if present; expiry is handled by Redis.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes a single key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// InvalidateUser drops the student's risk entries and all list entries.
func (r *Redis) InvalidateUser(ctx context.Context, userID int64) error {
	return errors.Join(
		r.deletePattern(ctx, userRiskPattern(userID)),
		r.deletePattern(ctx, listPattern()),
	)
}

// InvalidateCourse drops the course's stat entries and all list entries.
func (r *Redis) InvalidateCourse(ctx context.Context, courseID int64) error {
	return errors.Join(
		r.deletePattern(ctx, courseStatsPattern(courseID)),
		r.deletePattern(ctx, listPattern()),
	)
}

// Flush drops all keys in the service namespace.
func (r *Redis) Flush(ctx context.Context) error {
	return r.deletePattern(ctx, keyPrefix+":*")
}

func (r *Redis) deletePattern(ctx context.Context, pattern string) error {
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.rdb.Del(ctx, batch...).Err()
	}
	return nil
}
