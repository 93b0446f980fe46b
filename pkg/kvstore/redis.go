package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore implements Store on a Redis server via go-redis.
type RedisStore struct {
	client    *redis.Client
	available bool
	logger    zerolog.Logger
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Logger   zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
// A failed ping does not return an error: the store is created in
// unavailable mode and every operation becomes a no-op, so the service
// runs without caching or rate limiting instead of refusing to start.
func NewRedisStore(ctx context.Context, cfg RedisConfig) *RedisStore {
	s := &RedisStore{logger: cfg.Logger}

	if cfg.Addr == "" {
		s.logger.Warn().Msg("Redis address not configured, store disabled")
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		s.logger.Error().Err(err).Str("addr", cfg.Addr).Msg("Failed to connect to Redis, store disabled")
		return s
	}

	s.available = true
	s.logger.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return s
}

// Available reports whether the Redis connection was established.
func (s *RedisStore) Available() bool {
	return s.available
}

// Get returns the value for key, treating any backend error as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	if !s.available {
		return "", false
	}

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Redis GET failed")
		}
		return "", false
	}
	return val, true
}

// Set stores value under key with an optional TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !s.available {
		return false
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Redis SET failed")
		return false
	}
	return true
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) bool {
	if !s.available {
		return false
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Redis DEL failed")
		return false
	}
	return true
}

// Incr increments the integer at key.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, bool) {
	if !s.available {
		return 0, false
	}

	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Redis INCR failed")
		return 0, false
	}
	return val, true
}

// Expire sets a TTL on an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !s.available {
		return false
	}

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Redis EXPIRE failed")
		return false
	}
	return true
}

// TTL returns the remaining lifetime of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if !s.available {
		return 0, false
	}

	d, err := s.client.TTL(ctx, key).Result()
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
