package events

import (
	"time"
)

// EventType 事件类型
type EventType string

const (
	// 中继会话生命周期事件
	EventTypeSessionOpened EventType = "session.opened"
	EventTypeSessionClosed EventType = "session.closed"

	// 攻击链事件
	EventTypeProfileManipulated       EventType = "profile.manipulated"
	EventTypeManipulationAcknowledged EventType = "manipulation.acknowledged"

	// 检测与退化事件
	EventTypeAnomalyDetected EventType = "anomaly.detected"
	EventTypeBatteryDegraded EventType = "battery.degraded"

	// 错误事件
	EventTypeProtocolError EventType = "protocol.error"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityError    EventSeverity = "error"
	EventSeverityCritical EventSeverity = "critical"
)

// ErrorCode 统一错误代码
type ErrorCode string

const (
	ErrorCodeMalformedFrame      ErrorCode = "malformed_frame"
	ErrorCodeUnsupportedVersion  ErrorCode = "unsupported_version"
	ErrorCodeManipulationFailed  ErrorCode = "manipulation_failed"
	ErrorCodeUpstreamUnreachable ErrorCode = "upstream_unreachable"
	ErrorCodeInternalError       ErrorCode = "internal_error"
)

// SessionInfo 中继会话信息
type SessionInfo struct {
	ChargePointID string    `json:"charge_point_id"`
	Version       string    `json:"version"`
	RemoteAddr    string    `json:"remote_addr"`
	UpstreamAddr  string    `json:"upstream_addr"`
	OpenedAt      time.Time `json:"opened_at"`
}

// SessionStats 会话关闭时的累计流量计数
type SessionStats struct {
	FramesClientToServer int64 `json:"frames_client_to_server"`
	FramesServerToClient int64 `json:"frames_server_to_client"`
	BytesClientToServer  int64 `json:"bytes_client_to_server"`
	BytesServerToClient  int64 `json:"bytes_server_to_client"`
	ManipulatedFrames    int64 `json:"manipulated_frames"`
}

// ManipulationInfo 单次配置篡改的摘要
type ManipulationInfo struct {
	MessageID           string  `json:"message_id"`
	Action              string  `json:"action"`
	Strategy            string  `json:"strategy"`
	Direction           string  `json:"direction"`
	EventCount          int     `json:"event_count"`
	MaxDeviationPercent float64 `json:"max_deviation_percent"`
}

// AcknowledgementInfo 被篡改请求得到应答的摘要
type AcknowledgementInfo struct {
	MessageID string `json:"message_id"`
	Action    string `json:"action"`
	Strategy  string `json:"strategy"`
	Status    string `json:"status"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// DetectionInfo 异常检出摘要
type DetectionInfo struct {
	MessageID           string  `json:"message_id"`
	Method              string  `json:"method"`
	ConfidenceScore     float64 `json:"confidence_score"`
	AnomalousParameters int     `json:"anomalous_parameters"`
	ParametersChecked   int     `json:"parameters_checked"`
}

// DegradationInfo 单次充电循环的电池退化摘要
type DegradationInfo struct {
	CycleNumber          int     `json:"cycle_number"`
	SoHBefore            float64 `json:"soh_before"`
	SoHAfter             float64 `json:"soh_after"`
	DegradationPercent   float64 `json:"degradation_percent"`
	CombinedStressFactor float64 `json:"combined_stress_factor"`
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Code        ErrorCode              `json:"code"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Metadata 事件元数据
type Metadata struct {
	Source          string                 `json:"source"`                   // 事件源标识
	CorrelationID   *string                `json:"correlation_id,omitempty"` // 关联ID
	ProtocolVersion string                 `json:"protocol_version"`         // 协议版本
	MessageID       *string                `json:"message_id,omitempty"`     // 原始消息ID
	Custom          map[string]interface{} `json:"custom,omitempty"`         // 自定义字段
}
