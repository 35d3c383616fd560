package models

// Decision is the outcome of certifying one input.
type Decision string

const (
	// DecisionCertified means the lower confidence bound clears the
	// threshold and a non-negative certified radius was derived.
	DecisionCertified Decision = "CERTIFIED"
	// DecisionNotRobust means the lower bound fails the threshold at radius 0.
	DecisionNotRobust Decision = "NOT_ROBUST"
	// DecisionAbstain means too few repeats survived to bound anything.
	DecisionAbstain Decision = "ABSTAIN"
)

// CertificationResult is the per-input output of the certification engine.
// Radius is the maximum certified deletion edit distance and is meaningful
// only when Decision is DecisionCertified. Immutable once computed.
type CertificationResult struct {
	InputID    string   `json:"input_id"`
	MeanScore  float64  `json:"mean_score"`
	LowerBound float64  `json:"lower_bound"`
	Decision   Decision `json:"decision"`
	Radius     int      `json:"radius,omitempty"`
	EffectiveN int      `json:"effective_n"`
	Dropped    int      `json:"dropped"`
	Err        string   `json:"error,omitempty"`
}
