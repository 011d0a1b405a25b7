package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ford-at-home/storygen"
	"github.com/ford-at-home/storygen/config"
	"github.com/ford-at-home/storygen/health"
	"github.com/ford-at-home/storygen/llm"
	"github.com/ford-at-home/storygen/logger"
	"github.com/ford-at-home/storygen/secure"
	"github.com/ford-at-home/storygen/store"
)

// errNoGenerator is returned by the placeholder generator used by the admin
// commands, which never run a transition.
var errNoGenerator = errors.New("no generator is configured for administrative commands")

// runtime holds everything a command needs, assembled from configuration.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	repo   store.Repository
	client *redis.Client
	l2     *store.RedisTier
	store  *store.Store

	keys   *secure.Keyring
	secure *secure.Store

	svc *storygen.Service
}

// openRuntime connects the configured tiers and builds the service.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	var codec store.Codec
	if cfg.Security.Enabled {
		keys, err := secure.NewKeyringFromStrings(cfg.Security.Secrets)
		if err != nil {
			return nil, fmt.Errorf("failed to build keyring: %w", err)
		}
		rt.keys = keys
		codec = secure.NewCodec(keys, nil)
	}

	repo, err := openRepository(cfg, codec)
	if err != nil {
		return nil, err
	}
	rt.repo = repo

	opts := []store.Option{
		store.WithL1TTL(cfg.Store.L1TTL),
		store.WithInactivityTimeout(cfg.Store.InactivityTimeout),
		store.WithLogger(logger),
	}

	if cfg.Redis.URL != "" {
		client, err := store.NewRedisClient(store.RedisOptions{URL: cfg.Redis.URL, TLS: cfg.Redis.TLS})
		if err != nil {
			storygen.CloseWithLog(repo, logger, "session repository")
			return nil, err
		}
		rt.client = client

		tierOpts := []store.RedisTierOption{
			store.WithRedisTTL(cfg.Redis.TTL),
			store.WithRedisKeyPrefix(cfg.Redis.KeyPrefix),
		}
		if codec != nil {
			tierOpts = append(tierOpts, store.WithRedisCodec(codec))
		}
		rt.l2 = store.NewRedisTier(client, tierOpts...)

		policy := store.PolicyMasked
		if cfg.Redis.Required {
			policy = store.PolicyRequired
		}
		opts = append(opts, store.WithCachePolicy(rt.l2, policy))
	}

	rt.store = store.New(repo, opts...)

	var sessions storygen.SessionStore = rt.store
	if cfg.Security.Enabled {
		var revocations secure.RevocationList
		if rt.client != nil {
			revocations = secure.NewRedisRevocationList(rt.client)
		} else {
			logger.Warn("no Redis configured, revocations are process-local")
			revocations = secure.NewMemoryRevocationList(nil)
		}
		rt.secure = secure.New(rt.store, revocations,
			secure.WithMaxSessionsPerOwner(cfg.Security.MaxSessionsPerOwner),
			secure.WithMaxAddrChanges(cfg.Security.MaxAddrChanges),
			secure.WithRetention(cfg.Store.Retention),
			secure.WithLogger(logger),
		)
		sessions = rt.secure
	}

	offline := llm.GeneratorFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		return "", errNoGenerator
	})
	svc, err := storygen.New(offline, nil, sessions,
		storygen.WithEngineConfig(cfg.Engine),
		storygen.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.svc = svc

	return rt, nil
}

func openRepository(cfg *config.Config, codec store.Codec) (store.Repository, error) {
	switch cfg.Store.Backend {
	case config.BackendEtcd:
		return store.NewEtcdRepository(store.EtcdOptions{
			Endpoints:   cfg.Etcd.Endpoints,
			Namespace:   cfg.Etcd.Namespace,
			Retention:   cfg.Store.Retention,
			TLS:         cfg.Etcd.TLS,
			Codec:       codec,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
	default:
		return store.NewSQLiteRepository(store.SQLiteOptions{
			Path:      cfg.SQLite.Path,
			Retention: cfg.Store.Retention,
			Codec:     codec,
		})
	}
}

// checks returns the health checks for the configured tiers.
func (rt *runtime) checks() []health.Check {
	checks := []health.Check{health.PingCheck("l3", rt.repo, true)}
	if rt.l2 != nil {
		checks = append(checks, health.PingCheck("l2", rt.l2, rt.cfg.Redis.Required))
	}
	return checks
}

// reload applies the parts of a new configuration that can change without
// a restart: the log level and the primary encryption secret.
func (rt *runtime) reload(cfg *config.Config, level *slog.LevelVar) {
	level.Set(logger.ParseLevel(cfg.Logging.Level))

	if rt.keys == nil || len(cfg.Security.Secrets) == 0 {
		return
	}
	before := rt.keys.PrimaryID()
	if err := rt.keys.Rotate([]byte(cfg.Security.Secrets[0])); err != nil {
		rt.logger.Error("failed to rotate encryption key", "error", err)
		return
	}
	if after := rt.keys.PrimaryID(); after != before {
		rt.logger.Info("encryption key rotated", "key_id", after, "keys", rt.keys.Len())
	}
}

// Close releases the Redis client and the repository.
func (rt *runtime) Close() {
	if rt.client != nil {
		storygen.CloseWithLog(rt.client, rt.logger, "redis client")
	}
	if rt.store != nil {
		storygen.CloseWithLog(rt.store, rt.logger, "session store")
	} else if rt.repo != nil {
		storygen.CloseWithLog(rt.repo, rt.logger, "session repository")
	}
}
