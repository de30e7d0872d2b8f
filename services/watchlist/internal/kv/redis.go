package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain Redis strings with no expiry.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a client from a redis:// URL, falling back to treating dsn as host:port.
func NewRedis(dsn string) *Redis {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return &Redis{client: redis.NewClient(opts)}
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classifyRedis("ping", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, classifyRedis("get", err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return classifyRedis("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return classifyRedis("delete", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func classifyRedis(op string, err error) error {
	op = "redis " + op
	// maxmemory reached with a noeviction policy.
	if strings.HasPrefix(err.Error(), "OOM ") {
		return tag(ErrQuotaExceeded, op, err)
	}
	if isTransient(err) {
		return tag(ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isTransient reports connection-level failures shared by the network backends.
func isTransient(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
