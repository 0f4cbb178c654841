package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cv-filter/internal/config"
	"cv-filter/internal/constants"
	"cv-filter/internal/tracing"
	"cv-filter/internal/types"
	"cv-filter/pkg/utils"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultFilterCacheTTL = 10 * time.Minute

// Redis 检索条件缓存
type Redis struct {
	Client    *redis.Client
	filterTTL time.Duration
}

// NewRedis 连接 Redis 并注册 OpenTelemetry 钩子
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return NewRedisWithClient(client, config.GetDuration(cfg.FilterCacheTTL, defaultFilterCacheTTL)), nil
}

// NewRedisWithClient 使用已有客户端
func NewRedisWithClient(client *redis.Client, filterTTL time.Duration) *Redis {
	return &Redis{Client: client, filterTTL: filterTTL}
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// FilterCacheEnabled TTL 为 0 时不缓存
func (r *Redis) FilterCacheEnabled() bool {
	return r != nil && r.Client != nil && r.filterTTL > 0
}

// filterCacheKey query 需事先归一化
func filterCacheKey(query string) string {
	return fmt.Sprintf(constants.KeySearchFilter, utils.CalculateMD5([]byte(query)))
}

// GetFilter 未命中时返回 nil, nil
func (r *Redis) GetFilter(ctx context.Context, query string) (*types.SearchFilter, error) {
	key := filterCacheKey(query)
	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeRedis,
			attribute.String("cache.key", tracing.SafeRedisKey(key)))
		return nil, err
	}

	var filter types.SearchFilter
	if err := json.Unmarshal(val, &filter); err != nil {
		// 损坏的缓存按未命中处理，并删除
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeRedis,
			attribute.String("cache.key", tracing.SafeRedisKey(key)))
		r.Client.Del(ctx, key)
		return nil, nil
	}
	return &filter, nil
}

// SetFilter 写入缓存
func (r *Redis) SetFilter(ctx context.Context, query string, filter types.SearchFilter) error {
	data, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("序列化检索条件失败: %w", err)
	}
	key := filterCacheKey(query)
	if err := r.Client.Set(ctx, key, data, r.filterTTL).Err(); err != nil {
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeRedis,
			attribute.String("cache.key", tracing.SafeRedisKey(key)))
		return err
	}
	return nil
}
