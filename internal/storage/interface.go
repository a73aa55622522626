package storage

import (
	"context"

	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// SessionStore 定义了持久化中继会话记录的接口
type SessionStore interface {
	// SaveSession 写入或刷新一条会话记录
	// record.ChargePointID 作为键的一部分, 过期时间用于自动清理僵尸会话
	SaveSession(ctx context.Context, record *session.Record) error

	// GetSession 获取指定充电桩的会话记录
	// 如果键不存在, 应返回 ErrSessionNotFound
	GetSession(ctx context.Context, chargePointID string) (*session.Record, error)

	// DeleteSession 删除一个充电桩的会话记录（例如, 会话正常关闭时）
	DeleteSession(ctx context.Context, chargePointID string) error

	// Close 关闭与存储后端的连接
	Close() error
}

// NopStore 不做任何持久化, 用于无Redis的离线运行
type NopStore struct{}

func (NopStore) SaveSession(context.Context, *session.Record) error { return nil }

func (NopStore) GetSession(context.Context, string) (*session.Record, error) {
	return nil, ErrSessionNotFound
}

func (NopStore) DeleteSession(context.Context, string) error { return nil }

func (NopStore) Close() error { return nil }
