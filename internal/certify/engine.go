// Package certify turns assembled score vectors into certification decisions:
// a Clopper-Pearson lower confidence bound on the vote rate, compared against
// the calibrated threshold, and on success a certified deletion-edit radius.
package certify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/certstack/delcert/internal/metrics"
	"github.com/certstack/delcert/internal/models"
	"github.com/certstack/delcert/internal/stats"
)

// Config fixes the decision parameters for one certification run. They must
// match the calibration artifact the threshold came from.
type Config struct {
	// Threshold is the calibrated vote threshold tau.
	Threshold float64
	// Confidence is the one-sided confidence level for the lower bound.
	Confidence float64
	// MinEffective is the abstention floor on surviving repeats.
	MinEffective int
	// DeletionProb is the channel parameter p the radius bound depends on.
	DeletionProb float64
	// Workers bounds CertifyAll concurrency.
	Workers int
}

// Validate checks the decision parameters.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold %v outside [0,1)", c.Threshold)
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("confidence %v outside (0,1)", c.Confidence)
	}
	if c.MinEffective < 1 {
		return fmt.Errorf("minimum effective repeats %d, need at least 1", c.MinEffective)
	}
	if c.DeletionProb <= 0 || c.DeletionProb >= 1 {
		return fmt.Errorf("deletion probability %v outside (0,1)", c.DeletionProb)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers %d, need at least 1", c.Workers)
	}
	return nil
}

// Engine certifies score vectors. It is stateless per call and safe for
// concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an Engine. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Certify decides one input. The decision is a pure function of the score
// vector and the engine parameters: too few effective repeats aborts to
// ABSTAIN, a lower bound at or below the threshold yields NOT_ROBUST, and a
// lower bound above it yields CERTIFIED with the largest radius r for which
// the lower bound still clears the threshold after r adversarial deletions.
func (e *Engine) Certify(sv models.ScoreVector) models.CertificationResult {
	result := models.CertificationResult{
		InputID:    sv.InputID,
		MeanScore:  sv.Mean(),
		EffectiveN: sv.EffectiveN(),
		Dropped:    sv.Dropped,
	}

	if sv.EffectiveN() < e.cfg.MinEffective {
		result.Decision = models.DecisionAbstain
		metrics.ObserveCertification(string(result.Decision))
		return result
	}

	votes := sv.Votes(e.cfg.Threshold)
	lower, err := stats.LowerBound(votes, sv.EffectiveN(), e.cfg.Confidence)
	if err != nil {
		result.Decision = models.DecisionAbstain
		result.Err = err.Error()
		metrics.ObserveCertification(string(result.Decision))
		return result
	}
	result.LowerBound = lower

	if lower <= e.cfg.Threshold {
		result.Decision = models.DecisionNotRobust
		metrics.ObserveCertification(string(result.Decision))
		return result
	}

	result.Decision = models.DecisionCertified
	result.Radius = radius(lower, e.cfg.Threshold, e.cfg.DeletionProb)
	metrics.ObserveCertification(string(result.Decision))
	return result
}

// radius is the certified deletion-edit distance. The event "all r edited
// positions are deleted by the channel" has probability p^r, under which the
// perturbed and original smoothed distributions coincide, so the vote rate
// can drop by at most 1-p^r. The certificate survives every r with
// 1 - L <= p^r * (1 - tau), i.e. r <= log((1-L)/(1-tau)) / log p.
func radius(lower, threshold, p float64) int {
	ratio := (1 - lower) / (1 - threshold)
	r := math.Floor(math.Log(ratio) / math.Log(p))
	if r < 0 {
		return 0
	}
	return int(r)
}

// CertifyAll certifies independent inputs over a bounded worker pool. One
// input never blocks or fails another; results keep input order.
func (e *Engine) CertifyAll(ctx context.Context, vectors []models.ScoreVector) []models.CertificationResult {
	results := make([]models.CertificationResult, len(vectors))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.Certify(vectors[idx])
			}
		}()
	}

	for idx := range vectors {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			// Undispatched inputs abstain with the cancellation recorded.
			for rest := range vectors {
				if results[rest].Decision == "" {
					results[rest] = models.CertificationResult{
						InputID:  vectors[rest].InputID,
						Decision: models.DecisionAbstain,
						Err:      ctx.Err().Error(),
					}
				}
			}
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
