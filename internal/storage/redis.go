package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ai-gamer/server/internal/config"
)

const activeMemoryKey = "ai-gamer:active_memory_id"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveActiveMemoryID persists the active memory slot so it survives
// restarts. Zero clears the slot.
func (s *RedisStore) SaveActiveMemoryID(ctx context.Context, id uint) error {
	if id == 0 {
		return s.client.Del(ctx, activeMemoryKey).Err()
	}
	return s.client.Set(ctx, activeMemoryKey, strconv.FormatUint(uint64(id), 10), 0).Err()
}

// LoadActiveMemoryID reads the persisted slot, reporting whether one was set.
func (s *RedisStore) LoadActiveMemoryID(ctx context.Context) (uint, bool, error) {
	val, err := s.client.Get(ctx, activeMemoryKey).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt active memory id %q: %w", val, err)
	}
	return uint(id), true, nil
}
