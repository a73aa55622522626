package attack

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
)

// captureSink 收集引擎推送的篡改事件
type captureSink struct {
	events []ManipulationEvent
}

func (s *captureSink) LogManipulation(event ManipulationEvent) {
	s.events = append(s.events, event)
}

func newTestProfile(limits ...float64) *ocpp.ChargingProfile {
	periods := make([]ocpp.ChargingSchedulePeriod, len(limits))
	for i, limit := range limits {
		periods[i] = ocpp.ChargingSchedulePeriod{StartPeriod: i * 1800, Limit: limit}
	}
	return &ocpp.ChargingProfile{
		ID:         1,
		StackLevel: 0,
		Purpose:    "TxProfile",
		Kind:       "Absolute",
		Schedules: []ocpp.ChargingSchedule{
			{ChargingRateUnit: "A", Periods: periods},
		},
	}
}

func voltageOnlyConfig() Config {
	cfg := DefaultConfig()
	cfg.CurrentEnabled = false
	cfg.CurveEnabled = false
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, StrategyAggressive, cfg.Strategy)
	assert.Equal(t, 15.0, cfg.VoltageDeviationPercent)
	assert.Equal(t, [2]float64{4.2, 4.35}, cfg.VoltageTargetRange)
	assert.Equal(t, 25.0, cfg.CurrentDeviationPercent)
	assert.Equal(t, [2]float64{50, 80}, cfg.CurrentTargetRange)
	assert.Equal(t, CurveFlatten, cfg.CurveMode)
	assert.False(t, cfg.RandomizationEnabled)
	assert.Equal(t, int64(42), cfg.RandomizationSeed)
	assert.Equal(t, [2]float64{5, 30}, cfg.RandomizationRange)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input string
		want  Strategy
	}{
		{"aggressive", StrategyAggressive},
		{"subtle", StrategySubtle},
		{"random", StrategyRandom},
		{"targeted", StrategyTargeted},
		{"SUBTLE", StrategySubtle},
		{"", StrategyAggressive},
		{"bogus", StrategyAggressive},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseStrategy(tt.input), "input=%q", tt.input)
	}
}

func TestParseCurveMode(t *testing.T) {
	tests := []struct {
		input string
		want  CurveMode
	}{
		{"flatten", CurveFlatten},
		{"steepen", CurveSteepen},
		{"invert", CurveInvert},
		{"INVERT", CurveInvert},
		{"", CurveFlatten},
		{"bogus", CurveFlatten},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCurveMode(tt.input), "input=%q", tt.input)
	}
}

func TestEngine_ShouldManipulate(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	call := ocpp.NewCall("1", "SetChargingProfile", json.RawMessage(`{}`))
	assert.True(t, engine.ShouldManipulate(call))

	callRequest := ocpp.NewCall("1", "SetChargingProfileRequest", json.RawMessage(`{}`))
	assert.True(t, engine.ShouldManipulate(callRequest))

	heartbeat := ocpp.NewCall("1", "Heartbeat", json.RawMessage(`{}`))
	assert.False(t, engine.ShouldManipulate(heartbeat))

	// CallResult不是篡改目标, 即使载荷里带配置
	result := ocpp.NewCallResult("1", json.RawMessage(`{"status":"Accepted"}`))
	assert.False(t, engine.ShouldManipulate(result))

	assert.False(t, engine.ShouldManipulate(nil))

	disabled := DefaultConfig()
	disabled.Enabled = false
	assert.False(t, NewEngine(disabled, nil).ShouldManipulate(call))
}

func TestEngine_VoltageManipulation_Aggressive(t *testing.T) {
	engine := NewEngine(voltageOnlyConfig(), nil)
	profile := newTestProfile(32.0, 24.0)

	modified, events, err := engine.ManipulateChargingProfile(profile)
	require.NoError(t, err)

	// 每个时段的限值放大 1 + 15/100
	want0 := 32.0 * (1 + 15.0/100.0)
	want1 := 24.0 * (1 + 15.0/100.0)
	assert.InDelta(t, want0, modified.Schedules[0].Periods[0].Limit, 1e-9)
	assert.InDelta(t, want1, modified.Schedules[0].Periods[1].Limit, 1e-9)

	require.Len(t, events, 2)
	assert.Equal(t, "limit_period_0", events[0].ParameterName)
	assert.Equal(t, "limit_period_1", events[1].ParameterName)
	assert.Equal(t, 32.0, events[0].OriginalValue)
	assert.InDelta(t, 15.0, events[0].DeviationPercent, 1e-9)
	assert.Equal(t, StrategyAggressive, events[0].Strategy)
}

func TestEngine_VoltageAndCurrent_Compound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CurveEnabled = false
	engine := NewEngine(cfg, nil)

	modified, _, err := engine.ManipulateChargingProfile(newTestProfile(32.0))
	require.NoError(t, err)

	// 电压与电流篡改顺序叠加
	want := 32.0 * (1 + 15.0/100.0) * (1 + 25.0/100.0)
	assert.InDelta(t, want, modified.Schedules[0].Periods[0].Limit, 1e-9)
}

func TestEngine_SubtleDeviation(t *testing.T) {
	cfg := voltageOnlyConfig()
	cfg.Strategy = StrategySubtle
	engine := NewEngine(cfg, nil)

	modified, events, err := engine.ManipulateChargingProfile(newTestProfile(40.0))
	require.NoError(t, err)

	// 低调策略的偏移是基准的20%: 15% * 0.2 = 3%
	want := 40.0 * (1 + 15.0*0.2/100.0)
	assert.InDelta(t, want, modified.Schedules[0].Periods[0].Limit, 1e-9)
	require.Len(t, events, 1)
	assert.InDelta(t, 3.0, events[0].DeviationPercent, 1e-9)
}

func TestEngine_SubtleStrategySkipsCurve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VoltageEnabled = false
	cfg.CurrentEnabled = false
	cfg.CurveEnabled = true
	engine := NewEngine(cfg, nil)

	profile := newTestProfile(10.0, 20.0, 30.0)

	// 默认流水线仍会做曲线篡改
	modified, _, err := engine.ManipulateChargingProfile(profile)
	require.NoError(t, err)
	assert.Equal(t, 30.0, modified.Schedules[0].Periods[0].Limit)

	// 低调策略入口完全跳过曲线篡改
	modified, events, err := engine.ApplySubtleStrategy(profile)
	require.NoError(t, err)
	assert.Equal(t, 10.0, modified.Schedules[0].Periods[0].Limit)
	assert.Empty(t, events)
}

func TestEngine_CurveFlatten(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VoltageEnabled = false
	cfg.CurrentEnabled = false
	cfg.CurveMode = CurveFlatten
	engine := NewEngine(cfg, nil)

	modified, _, err := engine.ManipulateChargingProfile(newTestProfile(10.0, 30.0, 20.0))
	require.NoError(t, err)

	for _, period := range modified.Schedules[0].Periods {
		assert.Equal(t, 30.0, period.Limit)
	}

	// 拉平是幂等的
	again, events, err := engine.ManipulateChargingProfile(modified)
	require.NoError(t, err)
	for _, period := range again.Schedules[0].Periods {
		assert.Equal(t, 30.0, period.Limit)
	}
	assert.Empty(t, events)
}

func TestEngine_CurveSteepen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VoltageEnabled = false
	cfg.CurrentEnabled = false
	cfg.CurveMode = CurveSteepen
	engine := NewEngine(cfg, nil)

	limits := []float64{10.0, 20.0, 30.0, 40.0}
	modified, _, err := engine.ManipulateChargingProfile(newTestProfile(limits...))
	require.NoError(t, err)

	n := float64(len(limits))
	for i, limit := range limits {
		factor := 1.0 + (float64(i)/n)*0.5
		assert.InDelta(t, limit*factor, modified.Schedules[0].Periods[i].Limit, 1e-9, "period %d", i)
	}
}

func TestEngine_CurveInvert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VoltageEnabled = false
	cfg.CurrentEnabled = false
	cfg.CurveMode = CurveInvert
	engine := NewEngine(cfg, nil)

	profile := newTestProfile(10.0, 20.0, 30.0)
	modified, _, err := engine.ManipulateChargingProfile(profile)
	require.NoError(t, err)

	// 限值反转, startPeriod保持原顺序
	assert.Equal(t, 30.0, modified.Schedules[0].Periods[0].Limit)
	assert.Equal(t, 20.0, modified.Schedules[0].Periods[1].Limit)
	assert.Equal(t, 10.0, modified.Schedules[0].Periods[2].Limit)
	assert.Equal(t, 0, modified.Schedules[0].Periods[0].StartPeriod)
	assert.Equal(t, 1800, modified.Schedules[0].Periods[1].StartPeriod)
	assert.Equal(t, 3600, modified.Schedules[0].Periods[2].StartPeriod)

	// 再反转一次恢复原曲线
	restored, _, err := engine.ManipulateChargingProfile(modified)
	require.NoError(t, err)
	assert.Equal(t, 10.0, restored.Schedules[0].Periods[0].Limit)
	assert.Equal(t, 20.0, restored.Schedules[0].Periods[1].Limit)
	assert.Equal(t, 30.0, restored.Schedules[0].Periods[2].Limit)
}

func TestEngine_CurveNeedsTwoPeriods(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VoltageEnabled = false
	cfg.CurrentEnabled = false
	engine := NewEngine(cfg, nil)

	// 单时段无法做曲线篡改, 原样返回
	modified, events, err := engine.ManipulateChargingProfile(newTestProfile(32.0))
	require.NoError(t, err)
	assert.Equal(t, 32.0, modified.Schedules[0].Periods[0].Limit)
	assert.Empty(t, events)
}

func TestEngine_InputNeverMutated(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	profile := newTestProfile(32.0, 24.0, 16.0)

	_, _, err := engine.ManipulateChargingProfile(profile)
	require.NoError(t, err)

	assert.Equal(t, 32.0, profile.Schedules[0].Periods[0].Limit)
	assert.Equal(t, 24.0, profile.Schedules[0].Periods[1].Limit)
	assert.Equal(t, 16.0, profile.Schedules[0].Periods[2].Limit)
}

func TestEngine_RandomStrategy_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyRandom
	cfg.RandomizationEnabled = true
	cfg.RandomizationSeed = 7

	profile := newTestProfile(32.0, 24.0, 16.0)

	first, _, err := NewEngine(cfg, nil).ApplyRandomStrategy(profile)
	require.NoError(t, err)
	second, _, err := NewEngine(cfg, nil).ApplyRandomStrategy(profile)
	require.NoError(t, err)

	// 相同种子下两个引擎的输出完全一致
	for i := range first.Schedules[0].Periods {
		assert.Equal(t, first.Schedules[0].Periods[i].Limit, second.Schedules[0].Periods[i].Limit, "period %d", i)
	}
}

func TestEngine_RandomDeviationWithinRange(t *testing.T) {
	cfg := voltageOnlyConfig()
	cfg.Strategy = StrategyRandom
	cfg.RandomizationEnabled = true
	cfg.RandomizationSeed = 99
	cfg.RandomizationRange = [2]float64{5, 30}
	engine := NewEngine(cfg, nil)

	profile := newTestProfile(32.0, 24.0, 16.0, 8.0)
	modified, _, err := engine.ManipulateChargingProfile(profile)
	require.NoError(t, err)

	// 每个时段的偏移独立采样, 都落在配置区间内
	for i, period := range modified.Schedules[0].Periods {
		ratio := period.Limit / profile.Schedules[0].Periods[i].Limit
		assert.GreaterOrEqual(t, ratio, 1.05-1e-9, "period %d", i)
		assert.LessOrEqual(t, ratio, 1.30+1e-9, "period %d", i)
	}
}

func TestEngine_TargetedStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CurveEnabled = false
	engine := NewEngine(cfg, nil)

	// 只针对电流, 电压篡改不执行
	modified, _, err := engine.ApplyTargetedStrategy(newTestProfile(32.0), "current")
	require.NoError(t, err)
	assert.InDelta(t, 32.0*(1+25.0/100.0), modified.Schedules[0].Periods[0].Limit, 1e-9)

	// 目标未启用时不执行
	cfg2 := voltageOnlyConfig()
	engine2 := NewEngine(cfg2, nil)
	modified, events, err := engine2.ApplyTargetedStrategy(newTestProfile(32.0), "current")
	require.NoError(t, err)
	assert.Equal(t, 32.0, modified.Schedules[0].Periods[0].Limit)
	assert.Empty(t, events)
}

func TestEngine_EventsSkipZeroLimits(t *testing.T) {
	sink := &captureSink{}
	engine := NewEngine(voltageOnlyConfig(), sink)

	_, events, err := engine.ManipulateChargingProfile(newTestProfile(32.0, 0.0))
	require.NoError(t, err)

	// 原值为0的时段不产生事件
	require.Len(t, events, 1)
	assert.Equal(t, "limit_period_0", events[0].ParameterName)
	assert.Equal(t, events, sink.events)
}

func TestEngine_NilProfile(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	modified, events, err := engine.ManipulateChargingProfile(nil)
	assert.ErrorIs(t, err, ErrNilProfile)
	assert.Nil(t, modified)
	assert.Nil(t, events)
}

func TestEngine_EmptyProfile(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	// 没有schedule的配置不报错, 返回未变化的副本
	modified, events, err := engine.ManipulateChargingProfile(&ocpp.ChargingProfile{ID: 1})
	require.NoError(t, err)
	assert.NotNil(t, modified)
	assert.Empty(t, events)
}

func TestEngine_ManipulationSummary(t *testing.T) {
	engine := NewEngine(voltageOnlyConfig(), nil)

	_, _, err := engine.ManipulateChargingProfile(newTestProfile(32.0, 24.0))
	require.NoError(t, err)

	summary := engine.ManipulationSummary()
	assert.Equal(t, StrategyAggressive, summary.Strategy)
	assert.True(t, summary.VoltageEnabled)
	assert.False(t, summary.CurrentEnabled)
	assert.Equal(t, 15.0, summary.VoltageDeviationPercent)
	assert.Equal(t, int64(1), summary.ManipulatedProfiles)
	assert.Equal(t, int64(2), summary.EmittedEvents)
}
