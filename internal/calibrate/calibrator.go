// Package calibrate selects the smoothed-score threshold that holds the false
// positive rate of the smoothed classifier at or below a target on a benign
// sample, and quantifies the finite-sample uncertainty of that estimate.
package calibrate

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/certstack/delcert/internal/metrics"
	"github.com/certstack/delcert/internal/models"
	"github.com/certstack/delcert/internal/stats"
)

// Calibrator sweeps thresholds over benign smoothed scores. DeletionProb and
// ModelID are recorded into the produced artifact; a calibration is only valid
// for the exact channel it was run under.
type Calibrator struct {
	modelID      string
	deletionProb float64
	logger       *slog.Logger
}

// New constructs a Calibrator. A nil logger falls back to slog.Default().
func New(modelID string, deletionProb float64, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{modelID: modelID, deletionProb: deletionProb, logger: logger}
}

// Calibrate mean-aggregates each benign score vector, sweeps candidate
// thresholds just above each distinct observed mean (plus the 0 and 1
// endpoints), and returns the record for the smallest threshold whose
// empirical FPR is at or below the target. When no threshold below 1
// reaches the target the record carries Threshold=1 and TargetMet=false;
// no numbers are fabricated.
func (c *Calibrator) Calibrate(benign []models.ScoreVector, targetFPR, confidence float64) (models.CalibrationRecord, error) {
	started := time.Now()
	if len(benign) == 0 {
		return models.CalibrationRecord{}, fmt.Errorf("calibration requires at least one benign sample")
	}
	if targetFPR < 0 || targetFPR >= 1 {
		return models.CalibrationRecord{}, fmt.Errorf("target FPR %v outside [0,1)", targetFPR)
	}
	if confidence <= 0 || confidence >= 1 {
		return models.CalibrationRecord{}, fmt.Errorf("confidence %v outside (0,1)", confidence)
	}

	means := make([]float64, 0, len(benign))
	for _, v := range benign {
		if v.EffectiveN() == 0 {
			return models.CalibrationRecord{}, fmt.Errorf("benign sample %s has no effective repeats", v.InputID)
		}
		means = append(means, v.Mean())
	}

	curve := sweep(means)
	record := models.CalibrationRecord{
		Version:      1,
		ModelID:      c.modelID,
		DeletionProb: c.deletionProb,
		TargetFPR:    targetFPR,
		Threshold:    1,
		TargetMet:    false,
		SampleSize:   len(means),
		Confidence:   confidence,
		Curve:        curve,
		CreatedAt:    time.Now().UTC(),
	}

	for _, point := range curve {
		if point.FPR <= targetFPR {
			record.Threshold = point.Threshold
			record.TargetMet = true
			break
		}
	}

	positives := 0
	for _, mean := range means {
		if mean >= record.Threshold {
			positives++
		}
	}
	upper, err := stats.UpperBound(positives, len(means), confidence)
	if err != nil {
		return models.CalibrationRecord{}, fmt.Errorf("fpr upper bound: %w", err)
	}
	record.FPRUpperBound = upper

	c.logger.Info("calibration complete",
		"model", c.modelID,
		"samples", len(means),
		"target_fpr", targetFPR,
		"threshold", record.Threshold,
		"target_met", record.TargetMet,
		"fpr_upper_bound", upper)
	metrics.ObserveCalibration(time.Since(started))
	return record, nil
}

// sweep produces the empirical FPR curve over candidate thresholds in
// ascending order. Candidates sit just above each distinct observed mean, so
// each one excludes that mean and everything below it; the curve is monotone
// non-increasing by construction.
func sweep(means []float64) []models.CurvePoint {
	sorted := append([]float64(nil), means...)
	sort.Float64s(sorted)

	candidates := []float64{0}
	for i, mean := range sorted {
		if i > 0 && mean == sorted[i-1] {
			continue
		}
		next := math.Nextafter(mean, math.Inf(1))
		if next < 1 {
			candidates = append(candidates, next)
		}
	}
	candidates = append(candidates, 1)

	curve := make([]models.CurvePoint, 0, len(candidates))
	for _, threshold := range candidates {
		positives := 0
		for _, mean := range means {
			if mean >= threshold {
				positives++
			}
		}
		curve = append(curve, models.CurvePoint{
			Threshold: threshold,
			FPR:       float64(positives) / float64(len(means)),
		})
	}
	return curve
}
