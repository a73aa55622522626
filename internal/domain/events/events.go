package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event 统一业务事件接口
type Event interface {
	// GetID 获取事件ID
	GetID() string
	// GetType 获取事件类型
	GetType() EventType
	// GetChargePointID 获取充电桩ID
	GetChargePointID() string
	// GetTimestamp 获取事件时间戳
	GetTimestamp() time.Time
	// GetSeverity 获取事件严重程度
	GetSeverity() EventSeverity
	// GetMetadata 获取事件元数据
	GetMetadata() Metadata
	// GetPayload 获取事件载荷
	GetPayload() interface{}
	// ToJSON 序列化为JSON
	ToJSON() ([]byte, error)
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	ID            string        `json:"id"`
	Type          EventType     `json:"type"`
	ChargePointID string        `json:"charge_point_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Severity      EventSeverity `json:"severity"`
	Metadata      Metadata      `json:"metadata"`
}

// GetID 实现Event接口
func (e *BaseEvent) GetID() string {
	return e.ID
}

// GetType 实现Event接口
func (e *BaseEvent) GetType() EventType {
	return e.Type
}

// GetChargePointID 实现Event接口
func (e *BaseEvent) GetChargePointID() string {
	return e.ChargePointID
}

// GetTimestamp 实现Event接口
func (e *BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

// GetSeverity 实现Event接口
func (e *BaseEvent) GetSeverity() EventSeverity {
	return e.Severity
}

// GetMetadata 实现Event接口
func (e *BaseEvent) GetMetadata() Metadata {
	return e.Metadata
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType EventType, chargePointID string, severity EventSeverity, metadata Metadata) *BaseEvent {
	return &BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		ChargePointID: chargePointID,
		Timestamp:     time.Now().UTC(),
		Severity:      severity,
		Metadata:      metadata,
	}
}

// SessionOpenedEvent 中继会话建立事件
type SessionOpenedEvent struct {
	*BaseEvent
	SessionInfo SessionInfo `json:"session_info"`
}

// GetPayload 实现Event接口
func (e *SessionOpenedEvent) GetPayload() interface{} {
	return e.SessionInfo
}

// ToJSON 实现Event接口
func (e *SessionOpenedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SessionClosedEvent 中继会话关闭事件
type SessionClosedEvent struct {
	*BaseEvent
	SessionInfo SessionInfo  `json:"session_info"`
	Stats       SessionStats `json:"stats"`
	Reason      string       `json:"reason"`
}

// GetPayload 实现Event接口
func (e *SessionClosedEvent) GetPayload() interface{} {
	return map[string]interface{}{
		"session_info": e.SessionInfo,
		"stats":        e.Stats,
		"reason":       e.Reason,
	}
}

// ToJSON 实现Event接口
func (e *SessionClosedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ProfileManipulatedEvent 充电配置被篡改事件
type ProfileManipulatedEvent struct {
	*BaseEvent
	ManipulationInfo ManipulationInfo `json:"manipulation_info"`
}

// GetPayload 实现Event接口
func (e *ProfileManipulatedEvent) GetPayload() interface{} {
	return e.ManipulationInfo
}

// ToJSON 实现Event接口
func (e *ProfileManipulatedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ManipulationAcknowledgedEvent 被篡改请求得到对端应答事件
type ManipulationAcknowledgedEvent struct {
	*BaseEvent
	AcknowledgementInfo AcknowledgementInfo `json:"acknowledgement_info"`
}

// GetPayload 实现Event接口
func (e *ManipulationAcknowledgedEvent) GetPayload() interface{} {
	return e.AcknowledgementInfo
}

// ToJSON 实现Event接口
func (e *ManipulationAcknowledgedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// AnomalyDetectedEvent 检出异常事件
type AnomalyDetectedEvent struct {
	*BaseEvent
	DetectionInfo DetectionInfo `json:"detection_info"`
}

// GetPayload 实现Event接口
func (e *AnomalyDetectedEvent) GetPayload() interface{} {
	return e.DetectionInfo
}

// ToJSON 实现Event接口
func (e *AnomalyDetectedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// BatteryDegradedEvent 电池退化事件
type BatteryDegradedEvent struct {
	*BaseEvent
	DegradationInfo DegradationInfo `json:"degradation_info"`
}

// GetPayload 实现Event接口
func (e *BatteryDegradedEvent) GetPayload() interface{} {
	return e.DegradationInfo
}

// ToJSON 实现Event接口
func (e *BatteryDegradedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ProtocolErrorEvent 协议错误事件
type ProtocolErrorEvent struct {
	*BaseEvent
	ErrorInfo       ErrorInfo   `json:"error_info"`
	OriginalMessage interface{} `json:"original_message,omitempty"`
}

// GetPayload 实现Event接口
func (e *ProtocolErrorEvent) GetPayload() interface{} {
	return map[string]interface{}{
		"error_info":       e.ErrorInfo,
		"original_message": e.OriginalMessage,
	}
}

// ToJSON 实现Event接口
func (e *ProtocolErrorEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFactory 事件工厂
type EventFactory struct{}

// NewEventFactory 创建事件工厂
func NewEventFactory() *EventFactory {
	return &EventFactory{}
}

// CreateSessionOpenedEvent 创建会话建立事件
func (f *EventFactory) CreateSessionOpenedEvent(chargePointID string, info SessionInfo, metadata Metadata) *SessionOpenedEvent {
	return &SessionOpenedEvent{
		BaseEvent:   NewBaseEvent(EventTypeSessionOpened, chargePointID, EventSeverityInfo, metadata),
		SessionInfo: info,
	}
}

// CreateSessionClosedEvent 创建会话关闭事件
func (f *EventFactory) CreateSessionClosedEvent(chargePointID string, info SessionInfo, stats SessionStats, reason string, metadata Metadata) *SessionClosedEvent {
	return &SessionClosedEvent{
		BaseEvent:   NewBaseEvent(EventTypeSessionClosed, chargePointID, EventSeverityInfo, metadata),
		SessionInfo: info,
		Stats:       stats,
		Reason:      reason,
	}
}

// CreateProfileManipulatedEvent 创建配置篡改事件
func (f *EventFactory) CreateProfileManipulatedEvent(chargePointID string, info ManipulationInfo, metadata Metadata) *ProfileManipulatedEvent {
	return &ProfileManipulatedEvent{
		BaseEvent:        NewBaseEvent(EventTypeProfileManipulated, chargePointID, EventSeverityWarning, metadata),
		ManipulationInfo: info,
	}
}

// CreateManipulationAcknowledgedEvent 创建篡改应答事件
func (f *EventFactory) CreateManipulationAcknowledgedEvent(chargePointID string, info AcknowledgementInfo, metadata Metadata) *ManipulationAcknowledgedEvent {
	return &ManipulationAcknowledgedEvent{
		BaseEvent:           NewBaseEvent(EventTypeManipulationAcknowledged, chargePointID, EventSeverityInfo, metadata),
		AcknowledgementInfo: info,
	}
}

// CreateAnomalyDetectedEvent 创建异常检出事件
func (f *EventFactory) CreateAnomalyDetectedEvent(chargePointID string, info DetectionInfo, metadata Metadata) *AnomalyDetectedEvent {
	return &AnomalyDetectedEvent{
		BaseEvent:     NewBaseEvent(EventTypeAnomalyDetected, chargePointID, EventSeverityWarning, metadata),
		DetectionInfo: info,
	}
}

// CreateBatteryDegradedEvent 创建电池退化事件
func (f *EventFactory) CreateBatteryDegradedEvent(chargePointID string, info DegradationInfo, metadata Metadata) *BatteryDegradedEvent {
	return &BatteryDegradedEvent{
		BaseEvent:       NewBaseEvent(EventTypeBatteryDegraded, chargePointID, EventSeverityInfo, metadata),
		DegradationInfo: info,
	}
}

// CreateProtocolErrorEvent 创建协议错误事件
func (f *EventFactory) CreateProtocolErrorEvent(chargePointID string, errorInfo ErrorInfo, originalMessage interface{}, metadata Metadata) *ProtocolErrorEvent {
	return &ProtocolErrorEvent{
		BaseEvent:       NewBaseEvent(EventTypeProtocolError, chargePointID, EventSeverityError, metadata),
		ErrorInfo:       errorInfo,
		OriginalMessage: originalMessage,
	}
}
