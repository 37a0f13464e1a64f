package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// Redis stores cached lists as JSON values with a TTL.
type Redis struct {
	client redis.UniversalClient
	opts   options
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{client: client, opts: o}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, opts ...Option) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb, opts...), nil
}

func (r *Redis) key(email string) string {
	return r.opts.prefix + normalize(email)
}

// Get reads and decodes the cached list. A missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, email string) ([]model.Meeting, bool, error) {
	raw, err := r.client.Get(ctx, r.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var meetings []model.Meeting
	if err := json.Unmarshal(raw, &meetings); err != nil {
		return nil, false, fmt.Errorf("redis decode: %w", err)
	}
	return meetings, true, nil
}

// Set encodes and stores the list with the configured TTL.
func (r *Redis) Set(ctx context.Context, email string, meetings []model.Meeting) error {
	if meetings == nil {
		meetings = []model.Meeting{}
	}
	raw, err := json.Marshal(meetings)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(email), raw, r.opts.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
