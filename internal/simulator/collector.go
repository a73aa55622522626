package simulator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/battery"
	"github.com/charging-platform/ocpp-attack-lab/internal/detection"
)

// SimulationSummary 单场景模拟的汇总结果
type SimulationSummary struct {
	SessionID               string  `json:"session_id"`
	TotalCycles             int     `json:"total_cycles"`
	TotalDurationHours      float64 `json:"total_duration_hours"`
	InitialSoH              float64 `json:"initial_soh"`
	FinalSoH                float64 `json:"final_soh"`
	TotalDegradation        float64 `json:"total_degradation"`
	DegradationRatePerCycle float64 `json:"degradation_rate_per_cycle"`
	AvgVoltageDeviation     float64 `json:"average_voltage_deviation"`
	AvgCurrentDeviation     float64 `json:"average_current_deviation"`
	ManipulationCount       int     `json:"manipulation_count"`
	DetectionCount          int     `json:"detection_count"`
	AUC                     float64 `json:"auc"`
}

type csvFile struct {
	file   *os.File
	writer *csv.Writer
}

func newCSVFile(path string, header []string) (*csvFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}
	writer.Flush()
	return &csvFile{file: file, writer: writer}, nil
}

// writeRow 逐行落盘, 进程中断时已记录的数据仍然可用
func (c *csvFile) writeRow(record []string) {
	if err := c.writer.Write(record); err != nil {
		log.Error().Err(err).Str("file", c.file.Name()).Msg("Failed to write CSV row")
		return
	}
	c.writer.Flush()
}

func (c *csvFile) close() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// Collector 把一次模拟会话的全部指标写入会话目录
// 同时充当攻击引擎与检测器的事件接收端
type Collector struct {
	mu sync.Mutex

	sessionID  string
	sessionDir string

	manipulations *csvFile
	cycles        *csvFile
	timeline      *csvFile
	detections    *csvFile
	errors        *csvFile

	totalCycles        int
	totalDurationHours float64
	initialSoH         float64
	finalSoH           float64
	sohRecorded        bool

	manipulationCount int
	detectionCount    int

	voltageDeviationSum float64
	voltageDeviations   int
	currentDeviationSum float64
	currentDeviations   int
}

// NewCollector 在outputDir下创建会话目录和五个指标CSV
func NewCollector(outputDir, sessionID string) (*Collector, error) {
	sessionDir := filepath.Join(outputDir, "session_"+sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	collector := &Collector{
		sessionID:  sessionID,
		sessionDir: sessionDir,
	}

	files := []struct {
		target **csvFile
		name   string
		header []string
	}{
		{&collector.manipulations, "manipulations.csv",
			[]string{"timestamp", "parameter_name", "original_value", "modified_value", "deviation_percent"}},
		{&collector.cycles, "charging_cycles.csv",
			[]string{"cycle_num", "timestamp", "duration_hours", "energy_kwh", "voltage_avg", "current_avg", "soc_min", "soc_max", "soh_before", "soh_after", "degradation_percent"}},
		{&collector.timeline, "degradation_timeline.csv",
			[]string{"timestamp", "cycle_num", "soh", "voltage_stress", "current_stress", "soc_stress", "combined_stress"}},
		{&collector.detections, "detection_events.csv",
			[]string{"timestamp", "message_id", "parameter_name", "observed_value", "expected_value", "deviation_percent", "confidence_score", "is_anomaly", "detection_method"}},
		{&collector.errors, "errors.csv",
			[]string{"timestamp", "error_type", "error_message", "context"}},
	}
	for _, f := range files {
		csvf, err := newCSVFile(filepath.Join(sessionDir, f.name), f.header)
		if err != nil {
			collector.Close()
			return nil, err
		}
		*f.target = csvf
	}

	log.Info().Str("session_id", sessionID).Str("dir", sessionDir).Msg("Metrics collector initialized")
	return collector, nil
}

// SessionID 返回会话标识
func (c *Collector) SessionID() string {
	return c.sessionID
}

// SessionDir 返回会话目录
func (c *Collector) SessionDir() string {
	return c.sessionDir
}

// LogManipulation 记录一次参数篡改
func (c *Collector) LogManipulation(event attack.ManipulationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manipulationCount++
	name := strings.ToLower(event.ParameterName)
	if strings.Contains(name, "voltage") {
		c.voltageDeviationSum += math.Abs(event.DeviationPercent)
		c.voltageDeviations++
	}
	if strings.Contains(name, "current") {
		c.currentDeviationSum += math.Abs(event.DeviationPercent)
		c.currentDeviations++
	}

	c.manipulations.writeRow([]string{
		event.Timestamp.UTC().Format(time.RFC3339),
		event.ParameterName,
		formatFloat(event.OriginalValue),
		formatFloat(event.ModifiedValue),
		formatFloat(event.DeviationPercent),
	})
}

// LogChargingCycle 记录一个充电循环及其退化结果
func (c *Collector) LogChargingCycle(cycleNum int, profile battery.CycleProfile, durationHours, energyKWh float64, result battery.DegradationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCycles++
	c.totalDurationHours += durationHours
	if !c.sohRecorded {
		c.initialSoH = result.SoHBefore
		c.sohRecorded = true
	}
	c.finalSoH = result.SoHAfter

	c.cycles.writeRow([]string{
		strconv.Itoa(cycleNum),
		result.Timestamp.UTC().Format(time.RFC3339),
		formatFloat(durationHours),
		formatFloat(energyKWh),
		formatFloat(profile.Voltage),
		formatFloat(profile.Current),
		formatFloat(profile.SoCMin),
		formatFloat(profile.SoCMax),
		formatFloat(result.SoHBefore),
		formatFloat(result.SoHAfter),
		formatFloat(result.SoHBefore - result.SoHAfter),
	})
}

// LogDegradation 记录退化时间线上的一个采样点
func (c *Collector) LogDegradation(cycleNum int, result battery.DegradationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeline.writeRow([]string{
		result.Timestamp.UTC().Format(time.RFC3339),
		strconv.Itoa(cycleNum),
		formatFloat(result.SoHAfter),
		formatFloat(result.VoltageStressFactor),
		formatFloat(result.CurrentStressFactor),
		formatFloat(result.SoCStressFactor),
		formatFloat(result.CombinedStressFactor),
	})
}

// LogDetectionEvent 记录一次异常检测命中
func (c *Collector) LogDetectionEvent(event detection.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detectionCount++
	c.detections.writeRow([]string{
		event.Timestamp.UTC().Format(time.RFC3339),
		event.MessageID,
		event.ParameterName,
		formatFloat(event.ObservedValue),
		formatFloat(event.ExpectedValue),
		formatFloat(event.DeviationPercent),
		formatFloat(event.ConfidenceScore),
		strconv.FormatBool(event.IsAnomaly),
		string(event.Method),
	})
}

// LogError 记录模拟过程中的非致命错误
func (c *Collector) LogError(context string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors.writeRow([]string{
		time.Now().UTC().Format(time.RFC3339),
		fmt.Sprintf("%T", err),
		err.Error(),
		context,
	})
}

// SaveConfig 把生效配置存为config.json, 便于结果复现
func (c *Collector) SaveConfig(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(c.sessionDir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WritePerformanceReport 把检测性能报告存为performance.json
func (c *Collector) WritePerformanceReport(report *detection.PerformanceReport) error {
	if report == nil {
		return nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal performance report: %w", err)
	}
	path := filepath.Join(c.sessionDir, "performance.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteSummary 汇总本会话并写入summary.json
// 没有任何循环时SoH按出厂状态100%报告
func (c *Collector) WriteSummary(auc float64) (*SimulationSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := &SimulationSummary{
		SessionID:          c.sessionID,
		TotalCycles:        c.totalCycles,
		TotalDurationHours: c.totalDurationHours,
		InitialSoH:         100.0,
		FinalSoH:           100.0,
		ManipulationCount:  c.manipulationCount,
		DetectionCount:     c.detectionCount,
		AUC:                auc,
	}
	if c.sohRecorded {
		summary.InitialSoH = c.initialSoH
		summary.FinalSoH = c.finalSoH
	}
	summary.TotalDegradation = summary.InitialSoH - summary.FinalSoH
	if c.totalCycles > 0 {
		summary.DegradationRatePerCycle = summary.TotalDegradation / float64(c.totalCycles)
	}
	if c.voltageDeviations > 0 {
		summary.AvgVoltageDeviation = c.voltageDeviationSum / float64(c.voltageDeviations)
	}
	if c.currentDeviations > 0 {
		summary.AvgCurrentDeviation = c.currentDeviationSum / float64(c.currentDeviations)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(c.sessionDir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	log.Info().
		Str("session_id", c.sessionID).
		Int("cycles", summary.TotalCycles).
		Float64("final_soh", summary.FinalSoH).
		Int("manipulations", summary.ManipulationCount).
		Int("detections", summary.DetectionCount).
		Msg("Simulation summary written")
	return summary, nil
}

// Close 关闭全部CSV文件, 返回遇到的第一个错误
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, f := range []*csvFile{c.manipulations, c.cycles, c.timeline, c.detections, c.errors} {
		if f == nil {
			continue
		}
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.manipulations, c.cycles, c.timeline, c.detections, c.errors = nil, nil, nil, nil, nil
	return firstErr
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
