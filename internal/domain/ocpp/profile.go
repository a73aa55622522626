package ocpp

import "encoding/json"

// ChargingSchedulePeriod 充电计划时段
// Limit单位由所属Schedule的ChargingRateUnit决定(A或W)
type ChargingSchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod"`
	Limit        float64 `json:"limit"`
	NumberPhases *int    `json:"numberPhases,omitempty"`
	PhaseToUse   *int    `json:"phaseToUse,omitempty"`
}

// ChargingSchedule 充电计划
// 1.6与2.x的schedule对象字段兼容, 2.x多出id字段
type ChargingSchedule struct {
	ID               *int                     `json:"id,omitempty"`
	Duration         *int                     `json:"duration,omitempty"`
	StartSchedule    *string                  `json:"startSchedule,omitempty"`
	ChargingRateUnit string                   `json:"chargingRateUnit"`
	Periods          []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
	MinChargingRate  *float64                 `json:"minChargingRate,omitempty"`
	SalesTariff      json.RawMessage          `json:"salesTariff,omitempty"`
}

// ChargingProfile 版本无关的充电配置模型
// 1.6在线路上用chargingProfileId和单个schedule对象, 2.x用id和schedule数组,
// 解析后统一为本结构, 线路差异由Parser的wire结构处理
type ChargingProfile struct {
	ID             int
	TransactionID  json.RawMessage // 1.6为整数, 2.x为字符串, 原样透传
	StackLevel     int
	Purpose        string
	Kind           string
	RecurrencyKind string
	ValidFrom      string
	ValidTo        string
	Schedules      []ChargingSchedule
}

// FirstSchedule 返回首个充电计划, 没有则返回nil
// 1.6只有一个schedule, 2.x取数组首元素
func (p *ChargingProfile) FirstSchedule() *ChargingSchedule {
	if p == nil || len(p.Schedules) == 0 {
		return nil
	}
	return &p.Schedules[0]
}

// PeriodCount 统计所有schedule中的时段总数
func (p *ChargingProfile) PeriodCount() int {
	if p == nil {
		return 0
	}
	count := 0
	for _, s := range p.Schedules {
		count += len(s.Periods)
	}
	return count
}

// Clone 深拷贝整个配置
// 篡改引擎只在副本上操作, 原始配置必须保持不变
func (p *ChargingProfile) Clone() *ChargingProfile {
	if p == nil {
		return nil
	}

	clone := *p
	clone.TransactionID = cloneRaw(p.TransactionID)
	clone.Schedules = make([]ChargingSchedule, len(p.Schedules))
	for i, s := range p.Schedules {
		clone.Schedules[i] = s.clone()
	}
	return &clone
}

func (s ChargingSchedule) clone() ChargingSchedule {
	out := s
	out.ID = cloneIntPtr(s.ID)
	out.Duration = cloneIntPtr(s.Duration)
	out.StartSchedule = cloneStringPtr(s.StartSchedule)
	out.MinChargingRate = cloneFloatPtr(s.MinChargingRate)
	out.SalesTariff = cloneRaw(s.SalesTariff)
	out.Periods = make([]ChargingSchedulePeriod, len(s.Periods))
	for i, period := range s.Periods {
		cp := period
		cp.NumberPhases = cloneIntPtr(period.NumberPhases)
		cp.PhaseToUse = cloneIntPtr(period.PhaseToUse)
		out.Periods[i] = cp
	}
	return out
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	c := make(json.RawMessage, len(v))
	copy(c, v)
	return c
}
