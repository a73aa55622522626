package ocpp

import (
	"encoding/json"
	"fmt"
)

// MessageType OCPP帧类型, 即JSON数组的首元素
type MessageType int

const (
	CallMessage       MessageType = 2
	CallResultMessage MessageType = 3
	CallErrorMessage  MessageType = 4
)

// Message 解码后的OCPP帧
// 按Type区分有效字段: Call使用Action+Payload, CallResult只有Payload,
// CallError使用ErrorCode/ErrorDescription/ErrorDetails
type Message struct {
	Type    MessageType
	ID      string
	Action  string
	Payload json.RawMessage

	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// CodecError 帧编解码错误
type CodecError struct {
	Operation string
	Message   string
	Cause     error
}

// Error 实现error接口
func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap 返回底层错误
func (e *CodecError) Unwrap() error {
	return e.Cause
}

// NewCall 构造Call帧
func NewCall(id, action string, payload json.RawMessage) *Message {
	return &Message{
		Type:    CallMessage,
		ID:      id,
		Action:  action,
		Payload: payload,
	}
}

// NewCallResult 构造CallResult帧
func NewCallResult(id string, payload json.RawMessage) *Message {
	return &Message{
		Type:    CallResultMessage,
		ID:      id,
		Payload: payload,
	}
}

// NewCallError 构造CallError帧
func NewCallError(id, code, description string, details json.RawMessage) *Message {
	return &Message{
		Type:             CallErrorMessage,
		ID:               id,
		ErrorCode:        code,
		ErrorDescription: description,
		ErrorDetails:     details,
	}
}

// DecodeMessage 解码OCPP帧
// 帧格式: Call=[2,id,action,payload], CallResult=[3,id,payload],
// CallError=[4,id,errorCode,errorDescription,errorDetails], 长度严格校验
func DecodeMessage(data []byte) (*Message, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &CodecError{
			Operation: "DecodeMessage",
			Message:   "Failed to unmarshal JSON array",
			Cause:     err,
		}
	}

	if len(frame) < 3 {
		return nil, &CodecError{
			Operation: "DecodeMessage",
			Message:   "Message array too short",
		}
	}

	// 解析消息类型
	var msgType int
	if err := json.Unmarshal(frame[0], &msgType); err != nil {
		return nil, &CodecError{
			Operation: "DecodeMessage",
			Message:   "Failed to parse message type",
			Cause:     err,
		}
	}

	// 解析消息ID
	var msgID string
	if err := json.Unmarshal(frame[1], &msgID); err != nil {
		return nil, &CodecError{
			Operation: "DecodeMessage",
			Message:   "Failed to parse message ID",
			Cause:     err,
		}
	}

	switch MessageType(msgType) {
	case CallMessage:
		if len(frame) != 4 {
			return nil, &CodecError{
				Operation: "DecodeMessage",
				Message:   "Call message must have exactly 4 elements",
			}
		}

		var action string
		if err := json.Unmarshal(frame[2], &action); err != nil {
			return nil, &CodecError{
				Operation: "DecodeMessage",
				Message:   "Failed to parse action",
				Cause:     err,
			}
		}

		return &Message{
			Type:    CallMessage,
			ID:      msgID,
			Action:  action,
			Payload: frame[3],
		}, nil

	case CallResultMessage:
		if len(frame) != 3 {
			return nil, &CodecError{
				Operation: "DecodeMessage",
				Message:   "CallResult message must have exactly 3 elements",
			}
		}

		return &Message{
			Type:    CallResultMessage,
			ID:      msgID,
			Payload: frame[2],
		}, nil

	case CallErrorMessage:
		if len(frame) != 5 {
			return nil, &CodecError{
				Operation: "DecodeMessage",
				Message:   "CallError message must have exactly 5 elements",
			}
		}

		var errorCode string
		if err := json.Unmarshal(frame[2], &errorCode); err != nil {
			return nil, &CodecError{
				Operation: "DecodeMessage",
				Message:   "Failed to parse error code",
				Cause:     err,
			}
		}

		var errorDescription string
		if err := json.Unmarshal(frame[3], &errorDescription); err != nil {
			return nil, &CodecError{
				Operation: "DecodeMessage",
				Message:   "Failed to parse error description",
				Cause:     err,
			}
		}

		return &Message{
			Type:             CallErrorMessage,
			ID:               msgID,
			ErrorCode:        errorCode,
			ErrorDescription: errorDescription,
			ErrorDetails:     frame[4],
		}, nil

	default:
		return nil, &CodecError{
			Operation: "DecodeMessage",
			Message:   fmt.Sprintf("Invalid message type: %d", msgType),
		}
	}
}

// Encode 编码为OCPP帧
func (m *Message) Encode() ([]byte, error) {
	var frame []interface{}

	switch m.Type {
	case CallMessage:
		frame = []interface{}{int(m.Type), m.ID, m.Action, rawOrEmpty(m.Payload)}
	case CallResultMessage:
		frame = []interface{}{int(m.Type), m.ID, rawOrEmpty(m.Payload)}
	case CallErrorMessage:
		frame = []interface{}{int(m.Type), m.ID, m.ErrorCode, m.ErrorDescription, rawOrEmpty(m.ErrorDetails)}
	default:
		return nil, &CodecError{
			Operation: "Encode",
			Message:   fmt.Sprintf("Invalid message type: %d", m.Type),
		}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, &CodecError{
			Operation: "Encode",
			Message:   "Failed to marshal JSON",
			Cause:     err,
		}
	}

	return data, nil
}

// rawOrEmpty 空载荷编码为{}, OCPP不允许载荷位写null
func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
