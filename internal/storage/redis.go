package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions holds Redis adapter configuration
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisAdapter implements the Adapter interface on Redis strings, letting
// several controller processes share one cache
type RedisAdapter struct {
	client *redis.Client
	prefix string
}

// NewRedisAdapter connects to Redis and verifies the connection
func NewRedisAdapter(opts RedisOptions) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisAdapterFromClient(client, opts.KeyPrefix), nil
}

// NewRedisAdapterFromClient wraps an existing client
func NewRedisAdapterFromClient(client *redis.Client, keyPrefix string) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		prefix: keyPrefix,
	}
}

func (r *RedisAdapter) key(path string) string {
	return r.prefix + path
}

// Put stores data at the given path
func (r *RedisAdapter) Put(ctx context.Context, path string, data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	if err := r.client.Set(ctx, r.key(path), buf, 0).Err(); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Get retrieves data from the given path
func (r *RedisAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	value, err := r.client.Get(ctx, r.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return io.NopCloser(bytes.NewReader(value)), nil
}

// Delete removes data at the given path
func (r *RedisAdapter) Delete(ctx context.Context, path string) error {
	if err := r.client.Del(ctx, r.key(path)).Err(); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks if data exists at the given path
func (r *RedisAdapter) Exists(ctx context.Context, path string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(path)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return n > 0, nil
}

// List returns paths matching the given prefix
func (r *RedisAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	paths := make([]string, 0)
	iter := r.client.Scan(ctx, 0, escapeGlob(r.key(prefix))+"*", 256).Iterator()
	for iter.Next(ctx) {
		paths = append(paths, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Close closes the client
func (r *RedisAdapter) Close() error {
	return r.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats specially
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
