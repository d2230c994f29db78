package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ai-tracker-go/internal/config"
	"ai-tracker-go/internal/constants"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

// Redis wraps the Redis client。
// 在这个服务里Redis只承担资料版本的旁路缓存：版本读取在每次生成请求的
// 热路径上，直查MySQL太重。
type Redis struct {
	Client *redis.Client
	cfg    *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries: cfg.MaxRetries,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, cfg: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// versionKey 资料版本缓存键
func versionKey(subjectID string) string {
	return fmt.Sprintf(constants.KeyProfileVersion, subjectID)
}

// GetCachedProfileVersion 读取缓存的资料版本。
// 返回ErrNotFound表示缓存未命中，调用方回源MySQL。
func (r *Redis) GetCachedProfileVersion(ctx context.Context, subjectID string) (int64, error) {
	val, err := r.Client.Get(ctx, versionKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("读取版本缓存失败: %w", err)
	}
	version, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// 损坏的值当未命中处理，删掉等回源覆盖
		r.Client.Del(ctx, versionKey(subjectID))
		return 0, ErrNotFound
	}
	return version, nil
}

// SetCachedProfileVersion 写入资料版本缓存
func (r *Redis) SetCachedProfileVersion(ctx context.Context, subjectID string, version int64) error {
	err := r.Client.Set(ctx, versionKey(subjectID), strconv.FormatInt(version, 10), r.cfg.VersionCacheTTL()).Err()
	if err != nil {
		return fmt.Errorf("写入版本缓存失败: %w", err)
	}
	return nil
}

// DeleteCachedProfileVersion 删除资料版本缓存，下次读取强制回源
func (r *Redis) DeleteCachedProfileVersion(ctx context.Context, subjectID string) error {
	if err := r.Client.Del(ctx, versionKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("删除版本缓存失败: %w", err)
	}
	return nil
}
