package message

import "github.com/charging-platform/ocpp-attack-lab/internal/domain/events"

// EventProducer 定义了向消息队列发布实验事件的接口
type EventProducer interface {
	// PublishEvent 异步发布一个事件
	PublishEvent(event events.Event) error
	// Close 关闭生产者
	Close() error
}

// NopProducer 丢弃所有事件, 用于未配置消息队列的离线运行
type NopProducer struct{}

func (NopProducer) PublishEvent(events.Event) error { return nil }

func (NopProducer) Close() error { return nil }
