package simulator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ComparisonEntry 对比报告中单个场景的关键指标
type ComparisonEntry struct {
	ScenarioName            string  `json:"scenario_name"`
	AttackEnabled           bool    `json:"attack_enabled"`
	Strategy                string  `json:"strategy"`
	TotalCycles             int     `json:"total_cycles"`
	FinalSoH                float64 `json:"final_soh"`
	TotalDegradation        float64 `json:"total_degradation"`
	DegradationRatePerCycle float64 `json:"degradation_rate_per_cycle"`
	AUC                     float64 `json:"auc"`
}

// PairwiseComparison 攻击场景相对基线的退化对比
type PairwiseComparison struct {
	Baseline              string  `json:"baseline"`
	Scenario              string  `json:"scenario"`
	DegradationDifference float64 `json:"degradation_difference"`
	AccelerationFactor    float64 `json:"acceleration_factor"`
}

// ComparisonReport 批次内所有场景的横向对比
// 基线取第一个关闭攻击的场景, 没有基线时只输出场景列表
type ComparisonReport struct {
	BatchName        string               `json:"batch_name"`
	GeneratedAt      time.Time            `json:"generated_at"`
	Scenarios        []ComparisonEntry    `json:"scenarios"`
	BaselineScenario string               `json:"baseline_scenario,omitempty"`
	Pairwise         []PairwiseComparison `json:"pairwise,omitempty"`
}

func (r *Runner) writeComparisonReport(results []SimulationSummary) error {
	report := &ComparisonReport{
		BatchName:   r.batch.Name,
		GeneratedAt: time.Now().UTC(),
		Scenarios:   make([]ComparisonEntry, 0, len(results)),
	}

	baselineIdx := -1
	for i := range results {
		scenario := &r.batch.Scenarios[i]
		entry := ComparisonEntry{
			ScenarioName:            scenario.Name,
			AttackEnabled:           boolOr(scenario.AttackEnabled, true),
			Strategy:                scenario.Strategy,
			TotalCycles:             results[i].TotalCycles,
			FinalSoH:                results[i].FinalSoH,
			TotalDegradation:        results[i].TotalDegradation,
			DegradationRatePerCycle: results[i].DegradationRatePerCycle,
			AUC:                     results[i].AUC,
		}
		report.Scenarios = append(report.Scenarios, entry)
		if baselineIdx < 0 && !entry.AttackEnabled {
			baselineIdx = i
		}
	}

	if baselineIdx < 0 {
		r.logger.Warn("No baseline scenario with attack disabled, skipping pairwise comparison")
	} else {
		baseline := &report.Scenarios[baselineIdx]
		report.BaselineScenario = baseline.ScenarioName
		for i := range report.Scenarios {
			entry := &report.Scenarios[i]
			if !entry.AttackEnabled {
				continue
			}
			factor := 1.0
			if baseline.DegradationRatePerCycle != 0 {
				factor = entry.DegradationRatePerCycle / baseline.DegradationRatePerCycle
			}
			report.Pairwise = append(report.Pairwise, PairwiseComparison{
				Baseline:              baseline.ScenarioName,
				Scenario:              entry.ScenarioName,
				DegradationDifference: entry.TotalDegradation - baseline.TotalDegradation,
				AccelerationFactor:    factor,
			})
		}
	}

	dir := filepath.Join(r.batch.Output.Directory, "comparison")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create comparison directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal comparison report: %w", err)
	}
	path := filepath.Join(dir, "comparison_report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	r.logger.Infof("Comparison report written to %s", path)
	return nil
}
