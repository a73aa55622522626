package detection

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"
)

// Prediction 一次检测的置信度与真值标签
type Prediction struct {
	Confidence    float64
	IsManipulated bool
}

// ROCPoint ROC曲线上的一个点
type ROCPoint struct {
	Threshold         float64 `json:"threshold"`
	TruePositiveRate  float64 `json:"true_positive_rate"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
}

// PerformanceReport 检测性能汇总
type PerformanceReport struct {
	AUC               float64    `json:"auc"`
	Accuracy          float64    `json:"accuracy"`
	Precision         float64    `json:"precision"`
	Recall            float64    `json:"recall"`
	F1Score           float64    `json:"f1_score"`
	FalsePositiveRate float64    `json:"false_positive_rate"`
	TruePositives     int        `json:"true_positives"`
	FalsePositives    int        `json:"false_positives"`
	TrueNegatives     int        `json:"true_negatives"`
	FalseNegatives    int        `json:"false_negatives"`
	TotalDetections   int        `json:"total_detections"`
	ROCPoints         []ROCPoint `json:"roc_points"`
}

// CalculateROCCurve 由(置信度, 真值)序列计算ROC曲线与AUC
// 正负样本缺一时曲线无定义, 返回空结果
func CalculateROCCurve(predictions []Prediction) ([]ROCPoint, float64) {
	if len(predictions) == 0 {
		log.Warn().Msg("No predictions provided for ROC calculation")
		return nil, 0.0
	}

	totalPositives := 0
	for _, prediction := range predictions {
		if prediction.IsManipulated {
			totalPositives++
		}
	}
	totalNegatives := len(predictions) - totalPositives
	if totalPositives == 0 || totalNegatives == 0 {
		log.Warn().
			Int("positives", totalPositives).
			Int("negatives", totalNegatives).
			Msg("Need both positive and negative samples for ROC curve")
		return nil, 0.0
	}

	sorted := append([]Prediction(nil), predictions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	points := make([]ROCPoint, 0, len(sorted)+2)
	// 阈值1.0处的锚点, 没有任何检出
	points = append(points, ROCPoint{Threshold: 1.0})

	truePositives := 0
	falsePositives := 0
	for i := 0; i < len(sorted); {
		threshold := sorted[i].Confidence
		// 同分样本合并为一个点
		for i < len(sorted) && sorted[i].Confidence == threshold {
			if sorted[i].IsManipulated {
				truePositives++
			} else {
				falsePositives++
			}
			i++
		}

		tpr := float64(truePositives) / float64(totalPositives)
		points = append(points, ROCPoint{
			Threshold:         threshold,
			TruePositiveRate:  tpr,
			FalsePositiveRate: float64(falsePositives) / float64(totalNegatives),
			Precision:         float64(truePositives) / float64(truePositives+falsePositives),
			Recall:            tpr,
		})
	}

	if points[len(points)-1].Threshold > 0 {
		// 阈值0处的锚点, 全部判为异常
		points = append(points, ROCPoint{
			Threshold:         0.0,
			TruePositiveRate:  1.0,
			FalsePositiveRate: 1.0,
			Precision:         float64(totalPositives) / float64(len(predictions)),
			Recall:            1.0,
		})
	}

	auc := trapezoidalAUC(points)
	log.Info().Int("points", len(points)).Float64("auc", auc).Msg("ROC curve calculated")

	return points, auc
}

// trapezoidalAUC 梯形法则求曲线下面积
func trapezoidalAUC(points []ROCPoint) float64 {
	if len(points) < 2 {
		return 0.0
	}

	auc := 0.0
	for i := 0; i < len(points)-1; i++ {
		width := math.Abs(points[i+1].FalsePositiveRate - points[i].FalsePositiveRate)
		height := (points[i].TruePositiveRate + points[i+1].TruePositiveRate) / 2.0
		auc += width * height
	}
	return auc
}

// GeneratePerformanceReport 汇总混淆矩阵与ROC结果
// 渲染与落盘由调用方负责
func GeneratePerformanceReport(metrics Metrics, points []ROCPoint, auc float64) *PerformanceReport {
	report := &PerformanceReport{
		AUC:               auc,
		Accuracy:          metrics.Accuracy(),
		Precision:         metrics.Precision(),
		Recall:            metrics.Recall(),
		F1Score:           metrics.F1Score(),
		FalsePositiveRate: metrics.FalsePositiveRate(),
		TruePositives:     metrics.TruePositives,
		FalsePositives:    metrics.FalsePositives,
		TrueNegatives:     metrics.TrueNegatives,
		FalseNegatives:    metrics.FalseNegatives,
		TotalDetections:   metrics.TotalDetections,
		ROCPoints:         points,
	}

	log.Info().
		Float64("auc", report.AUC).
		Float64("accuracy", report.Accuracy).
		Float64("f1_score", report.F1Score).
		Msg("Performance report generated")

	return report
}
