package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"xpsocial/pkg/logging"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
)

type Redis struct {
	client *redis.Client
	log    *logrus.Entry
}

// New connects to the Redis instance at url and checks it with a ping.
func New(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 3

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, log: logging.For("cache")}, nil
}

// Client exposes the underlying connection so the broker can share the pool.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Get retrieves a JSON-encoded value. A miss and a decode failure both report false.
func (r *Redis) Get(ctx context.Context, key string, dest any) bool {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		r.logMiss(key, err)
		return false
	}
	return json.Unmarshal(val, dest) == nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

func (r *Redis) GetProto(ctx context.Context, key string, dest proto.Message) bool {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		r.logMiss(key, err)
		return false
	}
	return proto.Unmarshal(val, dest) == nil
}

// SetProto stores a protobuf-encoded value.
func (r *Redis) SetProto(ctx context.Context, key string, msg proto.Message, ttl time.Duration) {
	data, err := proto.Marshal(msg)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

func (r *Redis) Del(ctx context.Context, keys ...string) {
	r.client.Del(ctx, keys...)
}

// DelPattern deletes keys matching a pattern in batches to go easy on memory.
func (r *Redis) DelPattern(ctx context.Context, pattern string) {
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	const batchSize = 100

	pipe := r.client.Pipeline()
	count := 0

	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++

		if count >= batchSize {
			pipe.Exec(ctx)
			count = 0
		}
	}

	if count > 0 {
		pipe.Exec(ctx)
	}
	if err := iter.Err(); err != nil {
		r.log.WithError(err).WithField("pattern", pattern).Warn("cache scan failed")
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) logMiss(key string, err error) {
	if err != redis.Nil {
		r.log.WithError(err).WithField("key", key).Debug("cache get failed")
	}
}
