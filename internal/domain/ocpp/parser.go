package ocpp

import (
	"encoding/json"
	"fmt"
)

// SetChargingProfile在各版本帧里可能出现的action名称
var setChargingProfileActions = map[string]bool{
	"SetChargingProfile":        true,
	"SetChargingProfileRequest": true,
}

// IsSetChargingProfileAction 判断action是否为SetChargingProfile
func IsSetChargingProfileAction(action string) bool {
	return setChargingProfileActions[action]
}

// Parser 绑定到固定OCPP版本的SetChargingProfile载荷解析器
// 每条连接在握手时创建一个, 连接存活期间版本不再变化
type Parser struct {
	version Version
}

// NewParser 创建指定版本的解析器
func NewParser(version Version) *Parser {
	return &Parser{version: version}
}

// Version 返回解析器绑定的协议版本
func (p *Parser) Version() Version {
	return p.version
}

// profileKey 返回该版本载荷中充电配置所在的键名
func (p *Parser) profileKey() string {
	if p.version == Version16 {
		return "csChargingProfiles"
	}
	return "chargingProfile"
}

// profileWire16 OCPP 1.6线路格式, chargingSchedule为单个对象
type profileWire16 struct {
	ChargingProfileID int              `json:"chargingProfileId"`
	TransactionID     json.RawMessage  `json:"transactionId,omitempty"`
	StackLevel        int              `json:"stackLevel"`
	Purpose           string           `json:"chargingProfilePurpose"`
	Kind              string           `json:"chargingProfileKind"`
	RecurrencyKind    string           `json:"recurrencyKind,omitempty"`
	ValidFrom         string           `json:"validFrom,omitempty"`
	ValidTo           string           `json:"validTo,omitempty"`
	ChargingSchedule  ChargingSchedule `json:"chargingSchedule"`
}

// profileWire2 OCPP 2.0/2.0.1线路格式, chargingSchedule为数组
type profileWire2 struct {
	ID               int                `json:"id"`
	StackLevel       int                `json:"stackLevel"`
	Purpose          string             `json:"chargingProfilePurpose"`
	Kind             string             `json:"chargingProfileKind"`
	RecurrencyKind   string             `json:"recurrencyKind,omitempty"`
	ValidFrom        string             `json:"validFrom,omitempty"`
	ValidTo          string             `json:"validTo,omitempty"`
	TransactionID    json.RawMessage    `json:"transactionId,omitempty"`
	ChargingSchedule []ChargingSchedule `json:"chargingSchedule"`
}

// ParseSetChargingProfile 从SetChargingProfile载荷中提取充电配置
// 载荷中没有配置键时返回(nil, nil), 由调用方决定是否透传
func (p *Parser) ParseSetChargingProfile(payload []byte) (*ChargingProfile, error) {
	envelope, err := decodeEnvelope("ParseSetChargingProfile", payload)
	if err != nil {
		return nil, err
	}

	raw, ok := envelope[p.profileKey()]
	if !ok {
		return nil, nil
	}

	return p.decodeProfile(raw)
}

// decodeProfile 按版本解码配置对象
func (p *Parser) decodeProfile(raw json.RawMessage) (*ChargingProfile, error) {
	if p.version == Version16 {
		var wire profileWire16
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, &CodecError{
				Operation: "ParseSetChargingProfile",
				Message:   fmt.Sprintf("Failed to parse %s charging profile", p.version),
				Cause:     err,
			}
		}
		return &ChargingProfile{
			ID:             wire.ChargingProfileID,
			TransactionID:  wire.TransactionID,
			StackLevel:     wire.StackLevel,
			Purpose:        wire.Purpose,
			Kind:           wire.Kind,
			RecurrencyKind: wire.RecurrencyKind,
			ValidFrom:      wire.ValidFrom,
			ValidTo:        wire.ValidTo,
			Schedules:      []ChargingSchedule{wire.ChargingSchedule},
		}, nil
	}

	var wire profileWire2
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &CodecError{
			Operation: "ParseSetChargingProfile",
			Message:   fmt.Sprintf("Failed to parse %s charging profile", p.version),
			Cause:     err,
		}
	}
	return &ChargingProfile{
		ID:             wire.ID,
		TransactionID:  wire.TransactionID,
		StackLevel:     wire.StackLevel,
		Purpose:        wire.Purpose,
		Kind:           wire.Kind,
		RecurrencyKind: wire.RecurrencyKind,
		ValidFrom:      wire.ValidFrom,
		ValidTo:        wire.ValidTo,
		Schedules:      wire.ChargingSchedule,
	}, nil
}

// ReinsertChargingProfile 把修改后的配置写回载荷
// 只替换版本对应的配置键, 载荷中的其他键(connectorId/evseId等)原样保留
func (p *Parser) ReinsertChargingProfile(payload []byte, profile *ChargingProfile) ([]byte, error) {
	envelope, err := decodeEnvelope("ReinsertChargingProfile", payload)
	if err != nil {
		return nil, err
	}

	encoded, err := p.encodeProfile(profile)
	if err != nil {
		return nil, err
	}
	envelope[p.profileKey()] = encoded

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, &CodecError{
			Operation: "ReinsertChargingProfile",
			Message:   "Failed to marshal payload",
			Cause:     err,
		}
	}
	return data, nil
}

// encodeProfile 按版本编码配置对象
func (p *Parser) encodeProfile(profile *ChargingProfile) (json.RawMessage, error) {
	var wire interface{}

	if p.version == Version16 {
		w := profileWire16{
			ChargingProfileID: profile.ID,
			TransactionID:     profile.TransactionID,
			StackLevel:        profile.StackLevel,
			Purpose:           profile.Purpose,
			Kind:              profile.Kind,
			RecurrencyKind:    profile.RecurrencyKind,
			ValidFrom:         profile.ValidFrom,
			ValidTo:           profile.ValidTo,
		}
		if len(profile.Schedules) > 0 {
			w.ChargingSchedule = profile.Schedules[0]
		}
		wire = w
	} else {
		wire = profileWire2{
			ID:               profile.ID,
			StackLevel:       profile.StackLevel,
			Purpose:          profile.Purpose,
			Kind:             profile.Kind,
			RecurrencyKind:   profile.RecurrencyKind,
			ValidFrom:        profile.ValidFrom,
			ValidTo:          profile.ValidTo,
			TransactionID:    profile.TransactionID,
			ChargingSchedule: profile.Schedules,
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, &CodecError{
			Operation: "ReinsertChargingProfile",
			Message:   fmt.Sprintf("Failed to encode %s charging profile", p.version),
			Cause:     err,
		}
	}
	return data, nil
}

// decodeEnvelope 把载荷解码为原始键值映射, 未触碰的键保持原始字节
func decodeEnvelope(operation string, payload []byte) (map[string]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &CodecError{
			Operation: operation,
			Message:   "Payload is not a JSON object",
			Cause:     err,
		}
	}
	return envelope, nil
}
