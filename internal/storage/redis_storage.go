package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/charging-platform/ocpp-attack-lab/internal/config"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// ErrSessionNotFound 表示存储中没有对应的会话记录
var ErrSessionNotFound = errors.New("storage: session not found")

// RedisSessionStore 使用 Redis 来存储中继会话记录
type RedisSessionStore struct {
	Client *redis.Client // 公共字段, 以便测试注入 mock 客户端
	Prefix string
	TTL    time.Duration
}

// NewRedisSessionStore 创建一个新的 RedisSessionStore 实例
func NewRedisSessionStore(cfg config.RedisConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 尝试 ping Redis 以验证连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return &RedisSessionStore{Client: client, Prefix: "mitm:session:", TTL: cfg.SessionTTL}, nil
}

// SaveSession 写入或刷新一条会话记录
func (r *RedisSessionStore) SaveSession(ctx context.Context, record *session.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	key := fmt.Sprintf("%s%s", r.Prefix, record.ChargePointID)
	return r.Client.Set(ctx, key, data, r.TTL).Err()
}

// GetSession 获取指定充电桩的会话记录
func (r *RedisSessionStore) GetSession(ctx context.Context, chargePointID string) (*session.Record, error) {
	key := fmt.Sprintf("%s%s", r.Prefix, chargePointID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var record session.Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// DeleteSession 删除一个充电桩的会话记录
func (r *RedisSessionStore) DeleteSession(ctx context.Context, chargePointID string) error {
	key := fmt.Sprintf("%s%s", r.Prefix, chargePointID)
	return r.Client.Del(ctx, key).Err()
}

// Close 关闭与存储后端的连接
func (r *RedisSessionStore) Close() error {
	return r.Client.Close()
}
