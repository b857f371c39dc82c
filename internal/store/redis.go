package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ Backend = (*Redis)(nil)

const defaultRedisPrefix = "ediportal"

// Redis keeps each collection as a hash of documents plus a sorted set that
// records first-insertion order.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects using a redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisWithClient(client, defaultRedisPrefix), nil
}

// NewRedisWithClient wraps an existing client; keys are namespaced by prefix.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) docsKey(collection string) string  { return r.prefix + ":" + collection + ":docs" }
func (r *Redis) orderKey(collection string) string { return r.prefix + ":" + collection + ":order" }
func (r *Redis) seqKey() string                     { return r.prefix + ":seq" }

func (r *Redis) Get(ctx context.Context, collection, id string) ([]byte, error) {
	raw, err := r.client.HGet(ctx, r.docsKey(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return raw, nil
}

func (r *Redis) Put(ctx context.Context, collection, id string, body []byte) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis seq failed: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.docsKey(collection), id, body)
		pipe.ZAddNX(ctx, r.orderKey(collection), &redis.Z{Score: float64(seq), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, collection, id string) error {
	var hdel *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hdel = pipe.HDel(ctx, r.docsKey(collection), id)
		pipe.ZRem(ctx, r.orderKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if hdel.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) List(ctx context.Context, collection string) ([][]byte, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.client.HMGet(ctx, r.docsKey(collection), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list failed: %w", err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, []byte(s))
	}
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
