package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/pkg/client"
)

// RedisStore wraps a redis client.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}

const (
	fieldObserved  = "observed"
	fieldSinceLast = "since_last"
	fieldShown     = "shown"
)

// CadenceStore keeps cadence counters in one Redis hash per session so that
// every gateway replica sees the same counts. Hashes expire after ttl of
// inactivity.
type CadenceStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ client.CadenceStore = (*CadenceStore)(nil)

// NewCadenceStore creates a store on rs. A non-positive ttl defaults to 24h.
func NewCadenceStore(rs *RedisStore, ttl time.Duration) *CadenceStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CadenceStore{rdb: rs.Client, ttl: ttl}
}

func cadenceKey(session string) string {
	return "cadence:" + session
}

func (s *CadenceStore) Observe(ctx context.Context, session string) (client.CadenceState, error) {
	key := cadenceKey(session)
	var (
		observed  *redis.IntCmd
		sinceLast *redis.IntCmd
		shown     *redis.StringCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		observed = pipe.HIncrBy(ctx, key, fieldObserved, 1)
		sinceLast = pipe.HIncrBy(ctx, key, fieldSinceLast, 1)
		shown = pipe.HGet(ctx, key, fieldShown)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return client.CadenceState{}, fmt.Errorf("observe cadence: %w", err)
	}
	return client.CadenceState{
		Observed:  int(observed.Val()),
		SinceLast: int(sinceLast.Val()),
		Shown:     shown.Val() == "1",
	}, nil
}

func (s *CadenceStore) Get(ctx context.Context, session string) (client.CadenceState, error) {
	vals, err := s.rdb.HGetAll(ctx, cadenceKey(session)).Result()
	if err != nil {
		return client.CadenceState{}, fmt.Errorf("get cadence: %w", err)
	}
	observed, _ := strconv.Atoi(vals[fieldObserved])
	sinceLast, _ := strconv.Atoi(vals[fieldSinceLast])
	return client.CadenceState{
		Observed:  observed,
		SinceLast: sinceLast,
		Shown:     vals[fieldShown] == "1",
	}, nil
}

func (s *CadenceStore) MarkFetched(ctx context.Context, session string) error {
	key := cadenceKey(session)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldSinceLast, 0, fieldShown, 1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark cadence fetched: %w", err)
	}
	return nil
}

func (s *CadenceStore) Reset(ctx context.Context, session string) error {
	if err := s.rdb.Del(ctx, cadenceKey(session)).Err(); err != nil {
		return fmt.Errorf("reset cadence: %w", err)
	}
	return nil
}
