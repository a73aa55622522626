package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/battery"
	"github.com/charging-platform/ocpp-attack-lab/internal/detection"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
)

const (
	// cycleDurationHours 单个充电循环的模拟时长
	cycleDurationHours = 1.0
	// progressInterval 进度日志的循环间隔
	progressInterval = 100
)

// Runner 按批次配置顺序执行攻击场景
// 每个场景独享一套攻击引擎, 电池模型和检测器
type Runner struct {
	batch    *BatchConfig
	logger   *logger.Logger
	sessions map[string]string
}

// NewRunner 创建批次执行器
func NewRunner(batch *BatchConfig, log *logger.Logger) *Runner {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}
	return &Runner{
		batch:    batch,
		logger:   log,
		sessions: make(map[string]string),
	}
}

// SessionDirs 返回场景名到会话目录的映射
func (r *Runner) SessionDirs() map[string]string {
	dirs := make(map[string]string, len(r.sessions))
	for name, dir := range r.sessions {
		dirs[name] = dir
	}
	return dirs
}

// RunBatch 顺序执行全部场景并返回各自的汇总
// 上下文取消会中止批次, 其他场景错误按continue_on_error处理
func (r *Runner) RunBatch(ctx context.Context) ([]SimulationSummary, error) {
	if r.batch.Execution.Parallel {
		r.logger.Warn("Parallel execution is not implemented, running scenarios sequentially")
	}

	r.logger.Infof("Starting batch %s with %d scenarios", r.batch.Name, len(r.batch.Scenarios))
	start := time.Now()

	results := make([]SimulationSummary, 0, len(r.batch.Scenarios))
	failures := 0
	for i := range r.batch.Scenarios {
		scenario := &r.batch.Scenarios[i]
		if err := ctx.Err(); err != nil {
			return results, err
		}

		summary, err := r.runScenario(ctx, scenario)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return results, err
			}
			if !boolOr(r.batch.Execution.ContinueOnError, true) {
				return results, fmt.Errorf("scenario %q: %w", scenario.Name, err)
			}
			r.logger.Errorf("Scenario %s failed, continuing with next: %v", scenario.Name, err)
			results = append(results, failedSummary(scenario.Name))
			failures++
			continue
		}
		results = append(results, *summary)
	}

	r.logger.Infof("Batch %s finished in %s: %d/%d scenarios succeeded",
		r.batch.Name, time.Since(start).Round(time.Millisecond), len(results)-failures, len(results))

	if boolOr(r.batch.Output.GenerateReports, true) && len(results) >= 2 {
		if err := r.writeComparisonReport(results); err != nil {
			r.logger.Errorf("Failed to write comparison report: %v", err)
		}
	}
	return results, nil
}

type scenarioRecord struct {
	BatchName string         `json:"batch_name"`
	Scenario  ScenarioConfig `json:"scenario"`
}

func (r *Runner) runScenario(ctx context.Context, scenario *ScenarioConfig) (*SimulationSummary, error) {
	sessionID := fmt.Sprintf("%s_%s_%s",
		scenario.Name, time.Now().UTC().Format("20060102_150405"), uuid.New().String()[:8])

	collector, err := NewCollector(r.batch.Output.Directory, sessionID)
	if err != nil {
		return nil, fmt.Errorf("create collector: %w", err)
	}
	defer func() {
		if err := collector.Close(); err != nil {
			r.logger.Errorf("Failed to close collector for %s: %v", sessionID, err)
		}
	}()
	r.sessions[scenario.Name] = collector.SessionDir()

	if err := collector.SaveConfig(scenarioRecord{BatchName: r.batch.Name, Scenario: *scenario}); err != nil {
		r.logger.Warnf("Failed to save scenario config: %v", err)
	}

	attackConfig := scenario.ToAttackConfig()
	engine := attack.NewEngine(attackConfig, collector)
	model := battery.NewModel(r.batch.BatteryModel.InitialCapacityAh, nil)
	detector := detection.NewDetector(r.batch.Detection.ToDetectionConfig(), collector)

	r.logger.Infof("Running scenario %s: attack=%v strategy=%s cycles=%d",
		scenario.Name, attackConfig.Enabled, attackConfig.Strategy, scenario.Cycles)

	predictions := make([]detection.Prediction, 0, scenario.Cycles)
	for cycle := 1; cycle <= scenario.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		profile := sampleChargingProfile()
		active := profile
		if attackConfig.Enabled {
			manipulated, _, err := engine.ManipulateChargingProfile(profile)
			if err != nil {
				// 篡改失败按原始曲线继续充电, 错误落入errors.csv
				collector.LogError("manipulate_charging_profile", err)
				r.logger.Warnf("Cycle %d manipulation failed, charging with original profile: %v", cycle, err)
			} else {
				active = manipulated
			}
		}

		params := extractCycleProfile(active)
		result := model.SimulateChargingCycle(params, cycleDurationHours)
		energyKWh := params.Current * model.CapacityAh() * cycleDurationHours
		collector.LogChargingCycle(cycle, params, cycleDurationHours, energyKWh, result)
		collector.LogDegradation(cycle, result)

		detected := detector.DetectAnomaly(active, fmt.Sprintf("cycle_%04d", cycle), attackConfig.Enabled)
		predictions = append(predictions, detection.Prediction{
			Confidence:    detected.ConfidenceScore,
			IsManipulated: attackConfig.Enabled,
		})

		if cycle%progressInterval == 0 || cycle == scenario.Cycles {
			r.logger.Infof("Progress: %d/%d cycles, SoH %.2f%%", cycle, scenario.Cycles, model.SoH())
		}
	}

	points, auc := detection.CalculateROCCurve(predictions)
	report := detection.GeneratePerformanceReport(detector.Metrics(), points, auc)
	if err := collector.WritePerformanceReport(report); err != nil {
		r.logger.Warnf("Failed to write performance report: %v", err)
	}

	summary, err := collector.WriteSummary(auc)
	if err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	return summary, nil
}

// sampleChargingProfile 构造一条32A单时段TxProfile, 模拟CSMS下发的正常曲线
func sampleChargingProfile() *ocpp.ChargingProfile {
	phases := 3
	return &ocpp.ChargingProfile{
		ID:         1,
		StackLevel: 0,
		Purpose:    "TxProfile",
		Kind:       "Absolute",
		Schedules: []ocpp.ChargingSchedule{
			{
				ChargingRateUnit: "A",
				Periods: []ocpp.ChargingSchedulePeriod{
					{StartPeriod: 0, Limit: 32.0, NumberPhases: &phases},
				},
			},
		},
	}
}

// extractCycleProfile 把充电曲线折算为电池循环工况
// 倍率按标称75Ah折算, 单体电压随倍率线性抬升
func extractCycleProfile(profile *ocpp.ChargingProfile) battery.CycleProfile {
	limit := 32.0
	if schedule := profile.FirstSchedule(); schedule != nil && len(schedule.Periods) > 0 {
		limit = schedule.Periods[0].Limit
	}

	cRate := limit / battery.DefaultCapacityAh
	return battery.CycleProfile{
		Voltage:     4.0 + cRate*0.1,
		Current:     cRate,
		SoCMin:      20.0,
		SoCMax:      80.0,
		Temperature: 25.0,
	}
}

// failedSummary 场景失败时的占位汇总, 电池按出厂状态报告
func failedSummary(name string) SimulationSummary {
	return SimulationSummary{
		SessionID:  name + "_failed",
		InitialSoH: 100.0,
		FinalSoH:   100.0,
	}
}
