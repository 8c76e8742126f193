package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Namespace prefixes every key. Default: "chupik".
	Namespace   string
	DialTimeout time.Duration
}

// Redis stores each document under "<namespace>:snapshot:<name>".
type Redis struct {
	client    goredis.UniversalClient
	namespace string
}

// NewRedis connects to a single Redis node and pings it.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("snapshot: redis ping: %w", err)
	}
	return NewRedisFromClient(client, cfg.Namespace), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client goredis.UniversalClient, namespace string) *Redis {
	if namespace == "" {
		namespace = "chupik"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) key(name string) string {
	return r.namespace + ":snapshot:" + name
}

// Load reads the document.
func (r *Redis) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// Save replaces the document. Snapshots never expire.
func (r *Redis) Save(ctx context.Context, name string, data []byte) error {
	return r.client.Set(ctx, r.key(name), data, 0).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
