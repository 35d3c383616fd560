package models

import "time"

// CurvePoint is one (threshold, empirical FPR) pair of the calibration sweep.
type CurvePoint struct {
	Threshold float64 `json:"threshold"`
	FPR       float64 `json:"fpr"`
}

// CalibrationRecord is the immutable artifact produced by one calibration run.
// Threshold is the empirical minimizer over the benign sample; its guarantee
// on the true FPR at deployment scale requires the finite-sample correction
// recorded in FPRUpperBound (the one-sided Clopper-Pearson upper bound at the
// recorded confidence level and sample size). Records are created once,
// persisted, and only ever superseded by a higher-version record, never
// mutated in place.
type CalibrationRecord struct {
	Version       int          `json:"version"`
	ModelID       string       `json:"model_id"`
	ArtifactID    string       `json:"artifact_id,omitempty"`
	DeletionProb  float64      `json:"deletion_prob"`
	TargetFPR     float64      `json:"target_fpr"`
	Threshold     float64      `json:"threshold"`
	TargetMet     bool         `json:"target_met"`
	SampleSize    int          `json:"sample_size"`
	Confidence    float64      `json:"confidence"`
	FPRUpperBound float64      `json:"fpr_upper_bound"`
	Curve         []CurvePoint `json:"curve"`
	CreatedAt     time.Time    `json:"created_at"`
	Signature     string       `json:"signature,omitempty"`
}
