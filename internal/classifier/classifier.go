// Package classifier defines the scoring boundary the certification core
// depends on, plus the two concrete adapters: a local ONNX session and a
// remote HTTP scoring service.
package classifier

import (
	"context"
	"fmt"
)

// Classifier scores batches of token sequences. Scores are confidences in
// [0,1] (1 = positive/malicious), one per input sequence, in input order.
// Implementations must tolerate variable-length and empty sequences and be
// safe for concurrent use.
type Classifier interface {
	Forward(ctx context.Context, batch [][]int32) ([]float64, error)
}

// InvocationError marks a recoverable single-call failure. The estimator
// drops the affected repeats and continues; only configuration problems
// abort a run.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("classifier invocation: %v", e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func checkScores(scores []float64, want int) error {
	if len(scores) != want {
		return fmt.Errorf("classifier returned %d scores for %d inputs", len(scores), want)
	}
	for i, s := range scores {
		if s < 0 || s > 1 {
			return fmt.Errorf("score %d = %v outside [0,1]", i, s)
		}
	}
	return nil
}
