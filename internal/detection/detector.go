package detection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
)

// Event 单个参数的异常检出记录
type Event struct {
	Timestamp        time.Time
	MessageID        string
	ParameterName    string
	ObservedValue    float64
	ExpectedValue    float64
	DeviationPercent float64
	ConfidenceScore  float64
	IsAnomaly        bool
	Method           Method
	Details          map[string]interface{}
}

// Result 对单份充电配置的检测结论
type Result struct {
	IsAnomalous         bool
	ConfidenceScore     float64
	Events              []Event
	ParametersChecked   int
	AnomalousParameters int
}

// Metrics 检测性能混淆矩阵
type Metrics struct {
	TruePositives   int `json:"true_positives"`
	FalsePositives  int `json:"false_positives"`
	TrueNegatives   int `json:"true_negatives"`
	FalseNegatives  int `json:"false_negatives"`
	TotalDetections int `json:"total_detections"`
}

// addDetection 按(预测, 真值)归入混淆矩阵
func (m *Metrics) addDetection(predicted, actual bool) {
	m.TotalDetections++
	switch {
	case predicted && actual:
		m.TruePositives++
	case predicted && !actual:
		m.FalsePositives++
	case !predicted && actual:
		m.FalseNegatives++
	default:
		m.TrueNegatives++
	}
}

// Accuracy 准确率, 无样本时为0
func (m Metrics) Accuracy() float64 {
	if m.TotalDetections == 0 {
		return 0.0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(m.TotalDetections)
}

// Precision 精确率, 无正预测时为0
func (m Metrics) Precision() float64 {
	denominator := m.TruePositives + m.FalsePositives
	if denominator == 0 {
		return 0.0
	}
	return float64(m.TruePositives) / float64(denominator)
}

// Recall 召回率, 无正样本时为0
func (m Metrics) Recall() float64 {
	denominator := m.TruePositives + m.FalseNegatives
	if denominator == 0 {
		return 0.0
	}
	return float64(m.TruePositives) / float64(denominator)
}

// F1Score 精确率与召回率的调和平均
func (m Metrics) F1Score() float64 {
	precision := m.Precision()
	recall := m.Recall()
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * precision * recall / (precision + recall)
}

// FalsePositiveRate 误报率, 无负样本时为0
func (m Metrics) FalsePositiveRate() float64 {
	denominator := m.FalsePositives + m.TrueNegatives
	if denominator == 0 {
		return 0.0
	}
	return float64(m.FalsePositives) / float64(denominator)
}

// EventSink 接收检出事件的下游, 通常是指标采集器
type EventSink interface {
	LogDetectionEvent(event Event)
}

// Detector 充电配置篡改检测器
// 按配置的单一方法检测, 混淆矩阵与事件历史随调用累积; 所有公开方法并发安全
type Detector struct {
	mu      sync.Mutex
	config  Config
	sink    EventSink
	metrics Metrics
	history []Event
}

// NewDetector 创建异常检测器
// sink可以为nil, 此时事件只通过返回值暴露
func NewDetector(config Config, sink EventSink) *Detector {
	config.Method = ParseMethod(string(config.Method))

	detector := &Detector{
		config: config,
		sink:   sink,
	}

	log.Info().
		Str("method", string(config.Method)).
		Bool("enabled", config.Enabled).
		Float64("voltage_threshold_percent", config.VoltageThresholdPercent).
		Float64("current_threshold_percent", config.CurrentThresholdPercent).
		Msg("Anomaly detector initialized")

	return detector
}

// DetectAnomaly 检测充电配置是否被篡改
// isManipulated是真值标签, 只用于累积混淆矩阵, 不影响检测本身
func (d *Detector) DetectAnomaly(profile *ocpp.ChargingProfile, messageID string, isManipulated bool) *Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.config.Enabled {
		log.Debug().Msg("Detection disabled, skipping")
		return &Result{}
	}

	timestamp := time.Now().UTC()
	parameters := extractParameters(profile)

	var events []Event
	switch d.config.Method {
	case MethodStatistical:
		events = d.detectStatisticalAnomalies(parameters, messageID, timestamp)
	case MethodRangeBased:
		events = d.detectRangeViolations(parameters, messageID, timestamp)
	case MethodPatternBased:
		events = d.detectPatternAnomalies(profile, messageID, timestamp)
	}

	confidence := d.confidenceScore(events)
	isAnomalous := len(events) > 0 && confidence > 0.5

	d.metrics.addDetection(isAnomalous, isManipulated)
	d.history = append(d.history, events...)

	if d.sink != nil {
		for _, event := range events {
			d.sink.LogDetectionEvent(event)
		}
	}

	if isAnomalous {
		log.Info().
			Str("message_id", messageID).
			Int("anomalous_parameters", len(events)).
			Float64("confidence", confidence).
			Msg("Anomaly detected")
	}

	return &Result{
		IsAnomalous:         isAnomalous,
		ConfidenceScore:     confidence,
		Events:              events,
		ParametersChecked:   len(parameters),
		AnomalousParameters: len(events),
	}
}

// extractParameters 从配置中提取待检参数
// 每个时段的限值加上跨时段的均值/最大/最小/标准差
func extractParameters(profile *ocpp.ChargingProfile) map[string]float64 {
	parameters := make(map[string]float64)

	schedule := profile.FirstSchedule()
	if schedule == nil || len(schedule.Periods) == 0 {
		return parameters
	}

	limits := make([]float64, len(schedule.Periods))
	for i, period := range schedule.Periods {
		parameters[fmt.Sprintf("limit_period_%d", i)] = period.Limit
		limits[i] = period.Limit
	}

	parameters["limit_mean"] = mean(limits)
	parameters["limit_max"] = maxOf(limits)
	parameters["limit_min"] = minOf(limits)
	if len(limits) > 1 {
		parameters["limit_std"] = math.Sqrt(sampleVariance(limits))
	}

	return parameters
}

// detectStatisticalAnomalies 均值与峰值对基线分布的偏离检测
func (d *Detector) detectStatisticalAnomalies(parameters map[string]float64, messageID string, timestamp time.Time) []Event {
	var anomalies []Event

	if observed, ok := parameters["limit_mean"]; ok {
		expected := d.config.BaselineCurrentMean
		if d.config.BaselineCurrentStd > 0 {
			zScore := math.Abs((observed - expected) / d.config.BaselineCurrentStd)
			deviationPercent := math.Abs((observed-expected)/expected) * 100.0

			if deviationPercent > d.config.CurrentThresholdPercent {
				anomalies = append(anomalies, Event{
					Timestamp:        timestamp,
					MessageID:        messageID,
					ParameterName:    "limit_mean",
					ObservedValue:    observed,
					ExpectedValue:    expected,
					DeviationPercent: deviationPercent,
					ConfidenceScore:  math.Min(1.0, zScore/3.0),
					IsAnomaly:        true,
					Method:           MethodStatistical,
					Details:          map[string]interface{}{"z_score": zScore},
				})
			}
		}
	}

	if observed, ok := parameters["limit_max"]; ok {
		// 正常曲线的峰值按基线均值的1.5倍估计
		expected := d.config.BaselineCurrentMean * 1.5
		deviationPercent := math.Abs((observed-expected)/expected) * 100.0

		if deviationPercent > d.config.CurrentThresholdPercent {
			anomalies = append(anomalies, Event{
				Timestamp:        timestamp,
				MessageID:        messageID,
				ParameterName:    "limit_max",
				ObservedValue:    observed,
				ExpectedValue:    expected,
				DeviationPercent: deviationPercent,
				ConfidenceScore:  math.Min(1.0, deviationPercent/50.0),
				IsAnomaly:        true,
				Method:           MethodStatistical,
			})
		}
	}

	return anomalies
}

// detectRangeViolations 逐参数检查是否越出安全区间
func (d *Detector) detectRangeViolations(parameters map[string]float64, messageID string, timestamp time.Time) []Event {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	var anomalies []Event
	for _, name := range names {
		if !strings.Contains(name, "limit") {
			continue
		}
		value := parameters[name]

		if value > d.config.CurrentMax {
			deviationPercent := (value - d.config.CurrentMax) / d.config.CurrentMax * 100.0
			anomalies = append(anomalies, Event{
				Timestamp:        timestamp,
				MessageID:        messageID,
				ParameterName:    name,
				ObservedValue:    value,
				ExpectedValue:    d.config.CurrentMax,
				DeviationPercent: deviationPercent,
				ConfidenceScore:  math.Min(1.0, deviationPercent/20.0),
				IsAnomaly:        true,
				Method:           MethodRangeBased,
				Details:          map[string]interface{}{"violation_type": "exceeds_maximum"},
			})
		} else if value < d.config.CurrentMin {
			// 下限为0时相对偏差无定义, 按最大违规处理
			deviationPercent := 100.0
			if d.config.CurrentMin > 0 {
				deviationPercent = (d.config.CurrentMin - value) / d.config.CurrentMin * 100.0
			}
			anomalies = append(anomalies, Event{
				Timestamp:        timestamp,
				MessageID:        messageID,
				ParameterName:    name,
				ObservedValue:    value,
				ExpectedValue:    d.config.CurrentMin,
				DeviationPercent: deviationPercent,
				ConfidenceScore:  math.Min(1.0, deviationPercent/20.0),
				IsAnomaly:        true,
				Method:           MethodRangeBased,
				Details:          map[string]interface{}{"violation_type": "below_minimum"},
			})
		}
	}

	return anomalies
}

// detectPatternAnomalies 充电曲线形态检测
// 一阶差分的样本方差除以均值平方得到不规则度, 超过阈值判为异常
func (d *Detector) detectPatternAnomalies(profile *ocpp.ChargingProfile, messageID string, timestamp time.Time) []Event {
	if !d.config.EnableCurveAnalysis {
		return nil
	}

	schedule := profile.FirstSchedule()
	if schedule == nil {
		return nil
	}

	periods := schedule.Periods
	if len(periods) < 3 {
		// 形态分析至少需要3个采样点
		return nil
	}

	limits := make([]float64, len(periods))
	for i, period := range periods {
		limits[i] = period.Limit
	}

	differences := make([]float64, len(limits)-1)
	for i := 0; i < len(limits)-1; i++ {
		differences[i] = limits[i+1] - limits[i]
	}

	diffVariance := sampleVariance(differences)
	meanLimit := mean(limits)
	if meanLimit <= 0 {
		return nil
	}

	irregularity := diffVariance / (meanLimit * meanLimit)
	if irregularity <= d.config.CurveSmoothnessThreshold {
		return nil
	}

	return []Event{{
		Timestamp:        timestamp,
		MessageID:        messageID,
		ParameterName:    "charging_curve",
		ObservedValue:    irregularity,
		ExpectedValue:    d.config.CurveSmoothnessThreshold,
		DeviationPercent: (irregularity/d.config.CurveSmoothnessThreshold - 1) * 100.0,
		ConfidenceScore:  math.Min(1.0, irregularity/d.config.CurveSmoothnessThreshold),
		IsAnomaly:        true,
		Method:           MethodPatternBased,
		Details: map[string]interface{}{
			"irregularity_score": irregularity,
			"diff_variance":      diffVariance,
			"num_periods":        len(periods),
		},
	}}
}

// confidenceScore 按产生方法加权平均各事件置信度, 截断到[0,1]
func (d *Detector) confidenceScore(events []Event) float64 {
	if len(events) == 0 {
		return 0.0
	}

	var weightedSum, totalWeight float64
	for _, event := range events {
		weight := 1.0
		switch event.Method {
		case MethodStatistical:
			weight = d.config.ConfidenceWeightStatistical
		case MethodRangeBased:
			weight = d.config.ConfidenceWeightRange
		case MethodPatternBased:
			weight = d.config.ConfidenceWeightPattern
		}
		weightedSum += event.ConfidenceScore * weight
		totalWeight += weight
	}

	if totalWeight <= 0 {
		return 0.0
	}
	return math.Min(1.0, weightedSum/totalWeight)
}

// Metrics 返回混淆矩阵快照
func (d *Detector) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// History 返回全部检出事件的副本
func (d *Detector) History() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.history...)
}

// ResetMetrics 清空混淆矩阵与事件历史
func (d *Detector) ResetMetrics() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = Metrics{}
	d.history = nil
	log.Info().Msg("Detection metrics reset")
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func minOf(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// sampleVariance 样本方差, n-1分母, 调用方保证len>=2
func sampleVariance(values []float64) float64 {
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values)-1)
}
