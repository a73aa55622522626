package attack

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Strategy 攻击策略
type Strategy string

const (
	// StrategyAggressive 使用配置的最大偏移
	StrategyAggressive Strategy = "aggressive"
	// StrategySubtle 缩小偏移以规避检测
	StrategySubtle Strategy = "subtle"
	// StrategyRandom 随机偏移
	StrategyRandom Strategy = "random"
	// StrategyTargeted 针对特定参数
	StrategyTargeted Strategy = "targeted"
)

// CurveMode 充电曲线篡改方式
type CurveMode string

const (
	CurveFlatten CurveMode = "flatten"
	CurveSteepen CurveMode = "steepen"
	CurveInvert  CurveMode = "invert"
)

// ParseStrategy 解析策略名称, 无效值回退到aggressive
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(s)) {
	case StrategyAggressive:
		return StrategyAggressive
	case StrategySubtle:
		return StrategySubtle
	case StrategyRandom:
		return StrategyRandom
	case StrategyTargeted:
		return StrategyTargeted
	case "":
		return StrategyAggressive
	default:
		log.Warn().Str("strategy", s).Msg("Invalid strategy, defaulting to aggressive")
		return StrategyAggressive
	}
}

// ParseCurveMode 解析曲线篡改方式, 无效值回退到flatten
func ParseCurveMode(s string) CurveMode {
	switch CurveMode(strings.ToLower(s)) {
	case CurveFlatten:
		return CurveFlatten
	case CurveSteepen:
		return CurveSteepen
	case CurveInvert:
		return CurveInvert
	case "":
		return CurveFlatten
	default:
		log.Warn().Str("mode", s).Msg("Invalid curve modification type, defaulting to flatten")
		return CurveFlatten
	}
}

// Config 攻击引擎配置
// 目标区间只作为参考信息, 引擎按百分比篡改, 不会向区间截断
type Config struct {
	Enabled  bool     `mapstructure:"enabled"`
	Strategy Strategy `mapstructure:"strategy"`

	VoltageEnabled          bool       `mapstructure:"voltage_enabled"`
	VoltageDeviationPercent float64    `mapstructure:"voltage_deviation_percent" validate:"gte=0"`
	VoltageTargetRange      [2]float64 `mapstructure:"voltage_target_range"`

	CurrentEnabled          bool       `mapstructure:"current_enabled"`
	CurrentDeviationPercent float64    `mapstructure:"current_deviation_percent" validate:"gte=0"`
	CurrentTargetRange      [2]float64 `mapstructure:"current_target_range"`

	CurveEnabled bool      `mapstructure:"curve_enabled"`
	CurveMode    CurveMode `mapstructure:"curve_modification_type"`

	RandomizationEnabled bool       `mapstructure:"randomization_enabled"`
	RandomizationSeed    int64      `mapstructure:"randomization_seed"`
	RandomizationRange   [2]float64 `mapstructure:"randomization_deviation_range"`
}

// DefaultConfig 返回默认攻击配置
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Strategy:                StrategyAggressive,
		VoltageEnabled:          true,
		VoltageDeviationPercent: 15.0,
		VoltageTargetRange:      [2]float64{4.2, 4.35},
		CurrentEnabled:          true,
		CurrentDeviationPercent: 25.0,
		CurrentTargetRange:      [2]float64{50, 80},
		CurveEnabled:            true,
		CurveMode:               CurveFlatten,
		RandomizationEnabled:    false,
		RandomizationSeed:       42,
		RandomizationRange:      [2]float64{5, 30},
	}
}
