package detection

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Method 异常检测方法
type Method string

const (
	// MethodStatistical 基于统计阈值的检测
	MethodStatistical Method = "statistical"
	// MethodRangeBased 基于参数安全区间的检测
	MethodRangeBased Method = "range_based"
	// MethodPatternBased 基于充电曲线形态的检测
	MethodPatternBased Method = "pattern_based"
)

// ParseMethod 解析检测方法名称, 无效值回退到statistical
func ParseMethod(s string) Method {
	switch Method(strings.ToLower(s)) {
	case MethodStatistical:
		return MethodStatistical
	case MethodRangeBased:
		return MethodRangeBased
	case MethodPatternBased:
		return MethodPatternBased
	case "":
		return MethodStatistical
	default:
		log.Warn().Str("method", s).Msg("Invalid detection method, defaulting to statistical")
		return MethodStatistical
	}
}

// Config 异常检测配置
// 基线参数来自正常运行时的观测分布
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  Method `mapstructure:"method"`

	VoltageThresholdPercent float64 `mapstructure:"voltage_threshold_percent" validate:"gte=0"`
	CurrentThresholdPercent float64 `mapstructure:"current_threshold_percent" validate:"gte=0"`
	PowerThresholdPercent   float64 `mapstructure:"power_threshold_percent" validate:"gte=0"`

	VoltageMin float64 `mapstructure:"voltage_min"`
	VoltageMax float64 `mapstructure:"voltage_max"`
	CurrentMin float64 `mapstructure:"current_min"`
	CurrentMax float64 `mapstructure:"current_max"`

	EnableCurveAnalysis      bool    `mapstructure:"enable_curve_analysis"`
	CurveSmoothnessThreshold float64 `mapstructure:"curve_smoothness_threshold" validate:"gt=0"`

	ConfidenceWeightStatistical float64 `mapstructure:"confidence_weight_statistical" validate:"gte=0"`
	ConfidenceWeightRange       float64 `mapstructure:"confidence_weight_range" validate:"gte=0"`
	ConfidenceWeightPattern     float64 `mapstructure:"confidence_weight_pattern" validate:"gte=0"`

	BaselineVoltageMean float64 `mapstructure:"baseline_voltage_mean"`
	BaselineVoltageStd  float64 `mapstructure:"baseline_voltage_std"`
	BaselineCurrentMean float64 `mapstructure:"baseline_current_mean"`
	BaselineCurrentStd  float64 `mapstructure:"baseline_current_std"`
	BaselinePowerMean   float64 `mapstructure:"baseline_power_mean"`
	BaselinePowerStd    float64 `mapstructure:"baseline_power_std"`
}

// DefaultConfig 返回默认检测配置
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		Method:                      MethodStatistical,
		VoltageThresholdPercent:     10.0,
		CurrentThresholdPercent:     15.0,
		PowerThresholdPercent:       12.0,
		VoltageMin:                  3.0,
		VoltageMax:                  4.2,
		CurrentMin:                  0.0,
		CurrentMax:                  60.0,
		EnableCurveAnalysis:         true,
		CurveSmoothnessThreshold:    0.3,
		ConfidenceWeightStatistical: 0.4,
		ConfidenceWeightRange:       0.3,
		ConfidenceWeightPattern:     0.3,
		BaselineVoltageMean:         3.7,
		BaselineVoltageStd:          0.2,
		BaselineCurrentMean:         30.0,
		BaselineCurrentStd:          5.0,
		BaselinePowerMean:           7.0,
		BaselinePowerStd:            1.5,
	}
}
