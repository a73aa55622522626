package simulator

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/battery"
	"github.com/charging-platform/ocpp-attack-lab/internal/detection"
)

// ParameterOverride 单个篡改参数的场景级覆盖
// 指针字段为nil表示沿用默认值
type ParameterOverride struct {
	Enabled          *bool     `yaml:"enabled" json:"enabled,omitempty"`
	DeviationPercent *float64  `yaml:"deviation_percent" json:"deviation_percent,omitempty"`
	TargetRange      []float64 `yaml:"target_range" json:"target_range,omitempty"`
}

// CurveOverride 充电曲线篡改的场景级覆盖
type CurveOverride struct {
	Enabled          *bool  `yaml:"enabled" json:"enabled,omitempty"`
	ModificationType string `yaml:"modification_type" json:"modification_type,omitempty"`
}

// ManipulationOverrides 按参数分组的篡改覆盖
type ManipulationOverrides struct {
	Voltage       ParameterOverride `yaml:"voltage" json:"voltage,omitempty"`
	Current       ParameterOverride `yaml:"current" json:"current,omitempty"`
	ChargingCurve CurveOverride     `yaml:"charging_curve" json:"charging_curve,omitempty"`
}

// RandomizationOverrides 随机化篡改的场景级覆盖
type RandomizationOverrides struct {
	Enabled        bool      `yaml:"enabled" json:"enabled,omitempty"`
	Seed           *int64    `yaml:"seed" json:"seed,omitempty"`
	DeviationRange []float64 `yaml:"deviation_range" json:"deviation_range,omitempty"`
}

// ScenarioConfig 单个攻击场景
// attack_enabled未配置时默认开启, cycles未配置时默认1000
type ScenarioConfig struct {
	Name          string                 `yaml:"name" json:"name"`
	Description   string                 `yaml:"description" json:"description,omitempty"`
	AttackEnabled *bool                  `yaml:"attack_enabled" json:"attack_enabled"`
	Strategy      string                 `yaml:"strategy" json:"strategy"`
	Cycles        int                    `yaml:"cycles" json:"cycles"`
	Manipulations ManipulationOverrides  `yaml:"manipulations" json:"manipulations"`
	Randomization RandomizationOverrides `yaml:"randomization" json:"randomization"`
}

// ToAttackConfig 以默认攻击配置为基底套用场景覆盖
func (s *ScenarioConfig) ToAttackConfig() attack.Config {
	config := attack.DefaultConfig()
	config.Enabled = boolOr(s.AttackEnabled, true)
	config.Strategy = attack.ParseStrategy(s.Strategy)

	voltage := s.Manipulations.Voltage
	config.VoltageEnabled = boolOr(voltage.Enabled, config.VoltageEnabled)
	config.VoltageDeviationPercent = floatOr(voltage.DeviationPercent, config.VoltageDeviationPercent)
	if r, ok := rangeOf(voltage.TargetRange); ok {
		config.VoltageTargetRange = r
	}

	current := s.Manipulations.Current
	config.CurrentEnabled = boolOr(current.Enabled, config.CurrentEnabled)
	config.CurrentDeviationPercent = floatOr(current.DeviationPercent, config.CurrentDeviationPercent)
	if r, ok := rangeOf(current.TargetRange); ok {
		config.CurrentTargetRange = r
	}

	curve := s.Manipulations.ChargingCurve
	config.CurveEnabled = boolOr(curve.Enabled, config.CurveEnabled)
	if curve.ModificationType != "" {
		config.CurveMode = attack.ParseCurveMode(curve.ModificationType)
	}

	config.RandomizationEnabled = s.Randomization.Enabled
	config.RandomizationSeed = int64Or(s.Randomization.Seed, config.RandomizationSeed)
	if r, ok := rangeOf(s.Randomization.DeviationRange); ok {
		config.RandomizationRange = r
	}

	return config
}

// DetectionOverrides 异常检测的批次级覆盖
type DetectionOverrides struct {
	Enabled                 *bool    `yaml:"enabled" json:"enabled,omitempty"`
	Method                  string   `yaml:"method" json:"method,omitempty"`
	VoltageThresholdPercent *float64 `yaml:"voltage_threshold_percent" json:"voltage_threshold_percent,omitempty"`
	CurrentThresholdPercent *float64 `yaml:"current_threshold_percent" json:"current_threshold_percent,omitempty"`
	BaselineCurrentMean     *float64 `yaml:"baseline_current_mean" json:"baseline_current_mean,omitempty"`
	BaselineCurrentStd      *float64 `yaml:"baseline_current_std" json:"baseline_current_std,omitempty"`
}

// ToDetectionConfig 以默认检测配置为基底套用批次覆盖
func (d *DetectionOverrides) ToDetectionConfig() detection.Config {
	config := detection.DefaultConfig()
	config.Enabled = boolOr(d.Enabled, true)
	if d.Method != "" {
		config.Method = detection.ParseMethod(d.Method)
	}
	config.VoltageThresholdPercent = floatOr(d.VoltageThresholdPercent, config.VoltageThresholdPercent)
	config.CurrentThresholdPercent = floatOr(d.CurrentThresholdPercent, config.CurrentThresholdPercent)
	config.BaselineCurrentMean = floatOr(d.BaselineCurrentMean, config.BaselineCurrentMean)
	config.BaselineCurrentStd = floatOr(d.BaselineCurrentStd, config.BaselineCurrentStd)
	return config
}

// BatteryModelConfig 电池模型的批次配置
type BatteryModelConfig struct {
	InitialCapacityAh float64 `yaml:"initial_capacity_ah" json:"initial_capacity_ah"`
}

// ExecutionConfig 批次执行策略
// parallel目前只接受不执行, 运行时降级为串行
type ExecutionConfig struct {
	ContinueOnError *bool `yaml:"continue_on_error" json:"continue_on_error,omitempty"`
	Parallel        bool  `yaml:"parallel" json:"parallel,omitempty"`
}

// OutputConfig 结果输出配置
type OutputConfig struct {
	Directory       string `yaml:"directory" json:"directory"`
	GenerateReports *bool  `yaml:"generate_reports" json:"generate_reports,omitempty"`
}

// BatchConfig 一次批量模拟的完整配置
type BatchConfig struct {
	Name         string             `yaml:"name" json:"name"`
	Description  string             `yaml:"description" json:"description,omitempty"`
	Scenarios    []ScenarioConfig   `yaml:"scenarios" json:"scenarios"`
	BatteryModel BatteryModelConfig `yaml:"battery_model" json:"battery_model"`
	Detection    DetectionOverrides `yaml:"detection" json:"detection"`
	Execution    ExecutionConfig    `yaml:"execution" json:"execution"`
	Output       OutputConfig       `yaml:"output" json:"output"`
}

// LoadBatchConfig 从YAML文件加载批次配置
func LoadBatchConfig(path string) (*BatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch config: %w", err)
	}
	batch, err := ParseBatchConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	log.Info().
		Str("batch", batch.Name).
		Int("scenarios", len(batch.Scenarios)).
		Str("output_dir", batch.Output.Directory).
		Msg("Batch configuration loaded")
	return batch, nil
}

// ParseBatchConfig 解析并校验批次配置
func ParseBatchConfig(data []byte) (*BatchConfig, error) {
	var batch BatchConfig
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal batch YAML: %w", err)
	}

	batch.applyDefaults()
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return &batch, nil
}

// applyDefaults 填充未配置的字段
func (b *BatchConfig) applyDefaults() {
	if b.Name == "" {
		b.Name = "Unnamed Batch"
	}
	if b.Output.Directory == "" {
		b.Output.Directory = "./results/batch_001"
	}
	if b.BatteryModel.InitialCapacityAh <= 0 {
		b.BatteryModel.InitialCapacityAh = battery.DefaultCapacityAh
	}

	for i := range b.Scenarios {
		scenario := &b.Scenarios[i]
		if scenario.Name == "" {
			scenario.Name = fmt.Sprintf("scenario_%d", i+1)
		}
		if scenario.Cycles <= 0 {
			scenario.Cycles = 1000
		}
		scenario.Strategy = string(attack.ParseStrategy(scenario.Strategy))
	}
}

// Validate 校验结构性约束
func (b *BatchConfig) Validate() error {
	if len(b.Scenarios) == 0 {
		return fmt.Errorf("batch %q contains no scenarios", b.Name)
	}

	for i := range b.Scenarios {
		scenario := &b.Scenarios[i]
		if err := validateRange(scenario.Manipulations.Voltage.TargetRange, "voltage target_range"); err != nil {
			return fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
		if err := validateRange(scenario.Manipulations.Current.TargetRange, "current target_range"); err != nil {
			return fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
		if err := validateRange(scenario.Randomization.DeviationRange, "randomization deviation_range"); err != nil {
			return fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
	}
	return nil
}

func validateRange(values []float64, name string) error {
	if len(values) != 0 && len(values) != 2 {
		return fmt.Errorf("%s must have exactly 2 values, got %d", name, len(values))
	}
	return nil
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func floatOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}

func int64Or(value *int64, fallback int64) int64 {
	if value == nil {
		return fallback
	}
	return *value
}

func rangeOf(values []float64) ([2]float64, bool) {
	if len(values) != 2 {
		return [2]float64{}, false
	}
	return [2]float64{values[0], values[1]}, true
}
