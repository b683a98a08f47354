package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps replay entries in redis with a per-key TTL.
type RedisStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisStore(log *logger.Logger, cfg RedisConfig) (*RedisStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{
		log: log.With("service", "RedisReplayStore"),
		rdb: rdb,
		ttl: cfg.TTL,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, userID uuid.UUID, nonce string) (*Entry, error) {
	raw, err := s.rdb.Get(ctx, Key(userID, nonce)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replay get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.log.Warn("Discarding undecodable replay entry", "error", err)
		return nil, nil
	}
	return &e, nil
}

func (s *RedisStore) Put(ctx context.Context, userID uuid.UUID, nonce string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, Key(userID, nonce), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("replay put: %w", err)
	}
	return nil
}

// Client exposes the underlying connection for health collectors.
func (s *RedisStore) Client() goredis.UniversalClient { return s.rdb }

func (s *RedisStore) Close() error { return s.rdb.Close() }
