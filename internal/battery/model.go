package battery

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCapacityAh 默认电池容量
const DefaultCapacityAh = 75.0

// Parameters 退化模型参数, 取值参考电池老化文献
type Parameters struct {
	OptimalVoltage           float64 `mapstructure:"optimal_voltage"`
	VoltageStressCoefficient float64 `mapstructure:"voltage_stress_coefficient"`

	OptimalCRate             float64 `mapstructure:"optimal_c_rate"`
	CurrentStressCoefficient float64 `mapstructure:"current_stress_coefficient"`

	OptimalSoCMin        float64 `mapstructure:"optimal_soc_min"`
	OptimalSoCMax        float64 `mapstructure:"optimal_soc_max"`
	SoCStressCoefficient float64 `mapstructure:"soc_stress_coefficient"`

	BaseDegradationPerCycle float64 `mapstructure:"base_degradation_per_cycle"`

	// 温度建模预留
	TemperatureCoefficient float64 `mapstructure:"temperature_coefficient"`
}

// DefaultParameters 返回默认退化参数
func DefaultParameters() Parameters {
	return Parameters{
		OptimalVoltage:           3.7,
		VoltageStressCoefficient: 0.5,
		OptimalCRate:             0.5,
		CurrentStressCoefficient: 0.3,
		OptimalSoCMin:            20.0,
		OptimalSoCMax:            80.0,
		SoCStressCoefficient:     0.2,
		BaseDegradationPerCycle:  0.001,
		TemperatureCoefficient:   0.1,
	}
}

// CycleProfile 一次充电循环的工况
type CycleProfile struct {
	Voltage     float64 // 单体电压 (V)
	Current     float64 // 充电倍率 (C)
	SoCMin      float64 // 循环最低SoC (%)
	SoCMax      float64 // 循环最高SoC (%)
	Temperature float64 // 电池温度 (°C)
}

// OptimalCycleProfile 返回最优工况
// 调用方以此为基线, 只覆盖场景要扰动的字段
func OptimalCycleProfile() CycleProfile {
	params := DefaultParameters()
	return CycleProfile{
		Voltage:     params.OptimalVoltage,
		Current:     params.OptimalCRate,
		SoCMin:      params.OptimalSoCMin,
		SoCMax:      params.OptimalSoCMax,
		Temperature: 25.0,
	}
}

// DegradationResult 单次循环的退化计算结果
type DegradationResult struct {
	CycleNumber          int
	Timestamp            time.Time
	DurationHours        float64
	SoHBefore            float64
	SoHAfter             float64
	DegradationPercent   float64
	VoltageStressFactor  float64
	CurrentStressFactor  float64
	SoCStressFactor      float64
	CombinedStressFactor float64
}

// Model 电池健康度(SoH)退化模型
// 状态由单个goroutine持有, 不做内部加锁
type Model struct {
	soh        float64
	cycleCount int
	capacityAh float64
	params     Parameters
}

// NewModel 创建电池模型
// capacityAh不大于0时使用默认容量, params为nil时使用默认参数
func NewModel(capacityAh float64, params *Parameters) *Model {
	if capacityAh <= 0 {
		capacityAh = DefaultCapacityAh
	}

	p := DefaultParameters()
	if params != nil {
		p = *params
	}

	model := &Model{
		soh:        100.0,
		capacityAh: capacityAh,
		params:     p,
	}
	log.Info().
		Float64("capacity_ah", capacityAh).
		Float64("soh", model.soh).
		Msg("Battery degradation model initialized")
	return model
}

// SimulateChargingCycle 模拟一次充电循环并计算退化量
// 各应力因子相乘得到综合应力, 退化量随时长线性放大
func (m *Model) SimulateChargingCycle(profile CycleProfile, durationHours float64) DegradationResult {
	sohBefore := m.soh

	voltageStress := m.CalculateVoltageStressFactor(profile.Voltage)
	currentStress := m.CalculateCurrentStressFactor(profile.Current)
	socStress := m.CalculateSoCCyclingFactor(profile.SoCMin, profile.SoCMax)
	temperatureStress := m.CalculateTemperatureStressFactor(profile.Temperature)

	combinedStress := voltageStress * currentStress * socStress * temperatureStress
	degradation := m.params.BaseDegradationPerCycle * combinedStress * durationHours

	m.updateSoH(degradation)

	log.Debug().
		Int("cycle", m.cycleCount).
		Float64("voltage", profile.Voltage).
		Float64("c_rate", profile.Current).
		Float64("soc_min", profile.SoCMin).
		Float64("soc_max", profile.SoCMax).
		Float64("duration_hours", durationHours).
		Float64("combined_stress", combinedStress).
		Float64("degradation_percent", degradation).
		Msg("Charging cycle simulated")

	return DegradationResult{
		CycleNumber:          m.cycleCount,
		Timestamp:            time.Now().UTC(),
		DurationHours:        durationHours,
		SoHBefore:            sohBefore,
		SoHAfter:             m.soh,
		DegradationPercent:   degradation,
		VoltageStressFactor:  voltageStress,
		CurrentStressFactor:  currentStress,
		SoCStressFactor:      socStress,
		CombinedStressFactor: combinedStress,
	}
}

// CalculateVoltageStressFactor 电压应力因子
// 偏离最优电压的绝对值按指数放大: exp(k * |V - V_opt|)
func (m *Model) CalculateVoltageStressFactor(voltage float64) float64 {
	deviation := voltage - m.params.OptimalVoltage
	return math.Exp(m.params.VoltageStressCoefficient * math.Abs(deviation))
}

// CalculateCurrentStressFactor 电流应力因子
// 对偏离最优倍率做二次惩罚, 过快和过慢充电都会增加应力:
// 1 + k * (C - C_opt)^2
func (m *Model) CalculateCurrentStressFactor(cRate float64) float64 {
	deviation := cRate - m.params.OptimalCRate
	return 1.0 + m.params.CurrentStressCoefficient*deviation*deviation
}

// CalculateSoCCyclingFactor SoC循环应力因子
// 低于最优下限和高于最优上限的部分相加后按系数折算
func (m *Model) CalculateSoCCyclingFactor(socMin, socMax float64) float64 {
	lowStress := 0.0
	if socMin < m.params.OptimalSoCMin {
		lowStress = m.params.OptimalSoCMin - socMin
	}

	highStress := 0.0
	if socMax > m.params.OptimalSoCMax {
		highStress = socMax - m.params.OptimalSoCMax
	}

	return 1.0 + m.params.SoCStressCoefficient*(lowStress+highStress)/100.0
}

// CalculateTemperatureStressFactor 温度应力因子
// 温度建模尚未实现, 恒为1.0
func (m *Model) CalculateTemperatureStressFactor(temperature float64) float64 {
	return 1.0
}

// updateSoH 扣减健康度并推进循环计数, SoH下限为0
func (m *Model) updateSoH(degradationPercent float64) {
	m.soh = math.Max(0.0, m.soh-degradationPercent)
	m.cycleCount++
}

// SoH 当前健康度百分比
func (m *Model) SoH() float64 {
	return m.soh
}

// CycleCount 已模拟的循环次数
func (m *Model) CycleCount() int {
	return m.cycleCount
}

// CapacityAh 标称容量
func (m *Model) CapacityAh() float64 {
	return m.capacityAh
}

// RemainingCapacity 按当前SoH折算的剩余容量
func (m *Model) RemainingCapacity() float64 {
	return m.capacityAh * (m.soh / 100.0)
}

// Reset 恢复到出厂状态
func (m *Model) Reset() {
	m.soh = 100.0
	m.cycleCount = 0
	log.Info().Msg("Battery model reset to initial state")
}
