package simulator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/battery"
	"github.com/charging-platform/ocpp-attack-lab/internal/detection"
)

func TestParseBatchConfig_DefaultsApplied(t *testing.T) {
	data := []byte(`
scenarios:
  - description: "bare scenario"
`)

	batch, err := ParseBatchConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "Unnamed Batch", batch.Name)
	assert.Equal(t, "./results/batch_001", batch.Output.Directory)
	assert.Equal(t, battery.DefaultCapacityAh, batch.BatteryModel.InitialCapacityAh)

	require.Len(t, batch.Scenarios, 1)
	scenario := batch.Scenarios[0]
	assert.Equal(t, "scenario_1", scenario.Name)
	assert.Equal(t, 1000, scenario.Cycles)
	assert.Equal(t, "aggressive", scenario.Strategy)
}

func TestParseBatchConfig_StrategyNormalized(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		want     string
	}{
		{"uppercase folded", "AGGRESSIVE", "aggressive"},
		{"valid kept", "subtle", "subtle"},
		// 无效策略回退到aggressive
		{"unknown falls back", "nuke", "aggressive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte("scenarios:\n  - name: s1\n    strategy: \"" + tt.strategy + "\"\n")
			batch, err := ParseBatchConfig(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, batch.Scenarios[0].Strategy)
		})
	}
}

func TestParseBatchConfig_NoScenarios(t *testing.T) {
	_, err := ParseBatchConfig([]byte("name: empty\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios")
}

func TestParseBatchConfig_InvalidYAML(t *testing.T) {
	_, err := ParseBatchConfig([]byte("scenarios: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal batch YAML")
}

func TestParseBatchConfig_BadTargetRange(t *testing.T) {
	data := []byte(`
scenarios:
  - name: broken
    manipulations:
      voltage:
        target_range: [1.0, 2.0, 3.0]
`)

	_, err := ParseBatchConfig(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 2 values")
	assert.Contains(t, err.Error(), "broken")
}

func TestScenarioConfig_ToAttackConfigDefaults(t *testing.T) {
	// 空场景等价于默认攻击配置
	scenario := ScenarioConfig{}
	assert.Equal(t, attack.DefaultConfig(), scenario.ToAttackConfig())
}

func TestScenarioConfig_ToAttackConfigOverrides(t *testing.T) {
	data := []byte(`
scenarios:
  - name: subtle_attack
    attack_enabled: false
    strategy: subtle
    cycles: 50
    manipulations:
      voltage:
        enabled: false
      current:
        deviation_percent: 40
        target_range: [60, 90]
      charging_curve:
        enabled: true
        modification_type: invert
    randomization:
      enabled: true
      seed: 7
      deviation_range: [10, 20]
`)

	batch, err := ParseBatchConfig(data)
	require.NoError(t, err)
	require.Len(t, batch.Scenarios, 1)

	config := batch.Scenarios[0].ToAttackConfig()
	assert.False(t, config.Enabled)
	assert.Equal(t, attack.StrategySubtle, config.Strategy)
	assert.False(t, config.VoltageEnabled)
	assert.InDelta(t, 40.0, config.CurrentDeviationPercent, 1e-12)
	assert.Equal(t, [2]float64{60, 90}, config.CurrentTargetRange)
	assert.True(t, config.CurveEnabled)
	assert.Equal(t, attack.CurveInvert, config.CurveMode)
	assert.True(t, config.RandomizationEnabled)
	assert.Equal(t, int64(7), config.RandomizationSeed)
	assert.Equal(t, [2]float64{10, 20}, config.RandomizationRange)

	// 未覆盖的字段保持默认
	defaults := attack.DefaultConfig()
	assert.Equal(t, defaults.VoltageDeviationPercent, config.VoltageDeviationPercent)
	assert.Equal(t, defaults.VoltageTargetRange, config.VoltageTargetRange)
}

func TestDetectionOverrides_ToDetectionConfig(t *testing.T) {
	empty := DetectionOverrides{}
	assert.Equal(t, detection.DefaultConfig(), empty.ToDetectionConfig())

	mean := 35.0
	std := 4.0
	threshold := 20.0
	disabled := false
	overrides := DetectionOverrides{
		Enabled:                 &disabled,
		Method:                  "range_based",
		CurrentThresholdPercent: &threshold,
		BaselineCurrentMean:     &mean,
		BaselineCurrentStd:      &std,
	}

	config := overrides.ToDetectionConfig()
	assert.False(t, config.Enabled)
	assert.Equal(t, detection.MethodRangeBased, config.Method)
	assert.InDelta(t, 20.0, config.CurrentThresholdPercent, 1e-12)
	assert.InDelta(t, 35.0, config.BaselineCurrentMean, 1e-12)
	assert.InDelta(t, 4.0, config.BaselineCurrentStd, 1e-12)
	assert.Equal(t, detection.DefaultConfig().VoltageThresholdPercent, config.VoltageThresholdPercent)
}

func TestLoadBatchConfig_FileNotFound(t *testing.T) {
	_, err := LoadBatchConfig("/nonexistent/batch.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read batch config")
}

func TestLoadBatchConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	data := []byte(`
name: "Degradation Study"
description: "baseline vs aggressive"
scenarios:
  - name: baseline
    attack_enabled: false
    cycles: 10
  - name: aggressive_attack
    strategy: aggressive
    cycles: 10
battery_model:
  initial_capacity_ah: 100
execution:
  continue_on_error: false
output:
  directory: ./out
  generate_reports: false
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	batch, err := LoadBatchConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "Degradation Study", batch.Name)
	require.Len(t, batch.Scenarios, 2)
	assert.Equal(t, "baseline", batch.Scenarios[0].Name)
	assert.False(t, boolOr(batch.Scenarios[0].AttackEnabled, true))
	assert.True(t, boolOr(batch.Scenarios[1].AttackEnabled, true))
	assert.InDelta(t, 100.0, batch.BatteryModel.InitialCapacityAh, 1e-12)
	assert.False(t, boolOr(batch.Execution.ContinueOnError, true))
	assert.Equal(t, "./out", batch.Output.Directory)
	assert.False(t, boolOr(batch.Output.GenerateReports, true))
}
