package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ford-at-home/storygen/session"
)

// DefaultL2TTL is how long the shared tier keeps an entry.
const DefaultL2TTL = 30 * time.Minute

// DefaultKeyPrefix namespaces every key this package writes to Redis.
const DefaultKeyPrefix = "storygen:"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configures mutual TLS. Nil disables it.
	TLS *TLSConfig

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// NewRedisClient opens and pings a Redis connection.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	tlsCfg, err := opts.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		redisOpts.TLSConfig = tlsCfg
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisTier is the shared L2 tier. Each session is one string key written
// with SET EX, so Redis expires entries on its own.
type RedisTier struct {
	client *redis.Client
	codec  Codec
	ttl    time.Duration
	prefix string
}

// RedisTierOption configures a RedisTier.
type RedisTierOption func(*RedisTier)

// WithRedisTTL sets the entry lifetime.
func WithRedisTTL(ttl time.Duration) RedisTierOption {
	return func(t *RedisTier) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithRedisCodec sets the codec used for stored values.
func WithRedisCodec(c Codec) RedisTierOption {
	return func(t *RedisTier) {
		t.codec = codecOrDefault(c)
	}
}

// WithRedisKeyPrefix overrides DefaultKeyPrefix.
func WithRedisKeyPrefix(prefix string) RedisTierOption {
	return func(t *RedisTier) {
		t.prefix = prefix
	}
}

// NewRedisTier wraps an open client. The tier does not own the client.
func NewRedisTier(client *redis.Client, opts ...RedisTierOption) *RedisTier {
	t := &RedisTier{
		client: client,
		codec:  JSONCodec{},
		ttl:    DefaultL2TTL,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RedisTier) key(id string) string {
	return t.prefix + "session:" + id
}

// Name implements Tier.
func (t *RedisTier) Name() string { return "l2" }

// Get implements Tier.
func (t *RedisTier) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := t.client.Get(ctx, t.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTierMiss
		}
		return nil, fmt.Errorf("failed to read session from cache: %w", err)
	}

	var s session.Session
	if err := t.codec.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}
	return &s, nil
}

// Set implements Tier. The shared tier does not check versions; the durable
// tier is the arbiter and invalidates this one on conflict.
func (t *RedisTier) Set(ctx context.Context, s *session.Session) error {
	data, err := t.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := t.client.Set(ctx, t.key(s.ID), data, t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session to cache: %w", err)
	}
	return nil
}

// Delete implements Tier.
func (t *RedisTier) Delete(ctx context.Context, id string) error {
	if err := t.client.Del(ctx, t.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
