package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quickjot/quickjot/config"
	"github.com/quickjot/quickjot/types"
)

// CachedStore layers a redis read-through cache over an inner Store. Only
// the context row is cached; the turn log always hits the database. Every
// cache failure degrades to the inner store, never to a request failure.
type CachedStore struct {
	inner  Store
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with a redis context cache.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		inner:  inner,
		redis:  client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "conversation_cache")),
	}
}

// NewRedisClient builds the redis client from configuration and verifies
// connectivity.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func contextKey(userID string) string {
	return "quickjot:ctx:" + userID
}

// GetContext serves from the cache when possible and falls back to the
// inner store, repopulating the cache on a miss.
func (s *CachedStore) GetContext(ctx context.Context, userID string) (*types.Context, error) {
	raw, err := s.redis.Get(ctx, contextKey(userID)).Result()
	if err == nil {
		var c types.Context
		if json.Unmarshal([]byte(raw), &c) == nil && c.UserID == userID {
			return &c, nil
		}
		// Unreadable payload: drop it and fall through to the database.
		s.redis.Del(ctx, contextKey(userID))
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("context cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	// Concurrent misses for the same user collapse into one database read.
	v, err, _ := s.group.Do(userID, func() (any, error) {
		c, err := s.inner.GetContext(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.populate(ctx, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Context).Clone(), nil
}

// UpsertContext writes through to the inner store, then refreshes the
// cached copy so the next read observes the new snapshot.
func (s *CachedStore) UpsertContext(ctx context.Context, c *types.Context) error {
	if err := s.inner.UpsertContext(ctx, c); err != nil {
		return err
	}
	s.populate(ctx, c)
	return nil
}

func (s *CachedStore) populate(ctx context.Context, c *types.Context) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, contextKey(c.UserID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("context cache write failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

// AppendTurn passes through to the inner store.
func (s *CachedStore) AppendTurn(ctx context.Context, turn *types.Turn) error {
	return s.inner.AppendTurn(ctx, turn)
}

// RecentTurns passes through to the inner store.
func (s *CachedStore) RecentTurns(ctx context.Context, userID string, limit int) ([]types.Turn, error) {
	return s.inner.RecentTurns(ctx, userID, limit)
}
