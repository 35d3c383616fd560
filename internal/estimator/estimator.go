// Package estimator runs the repeated noisy forward passes that turn one
// input sequence into a score vector. Repeats are addressed by index, seeded
// individually, and grouped into contiguous partitions, so the same run can be
// executed by one worker or spread across many and produce identical scores.
package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/certstack/delcert/internal/checkpoint"
	"github.com/certstack/delcert/internal/classifier"
	"github.com/certstack/delcert/internal/metrics"
	"github.com/certstack/delcert/internal/models"
	"github.com/certstack/delcert/internal/noise"
)

// PartitionSpec names one contiguous slice of the N repeats.
type PartitionSpec struct {
	Index int
	Total int
}

// Repeats returns the half-open repeat range [start, end) owned by the
// partition. Earlier partitions absorb the remainder when N does not divide
// evenly.
func (p PartitionSpec) Repeats(n int) (int, int) {
	base := n / p.Total
	rem := n % p.Total

	start := p.Index * base
	if p.Index < rem {
		start += p.Index
	} else {
		start += rem
	}
	size := base
	if p.Index < rem {
		size++
	}
	return start, start + size
}

// Config fixes the estimation parameters for a run.
type Config struct {
	// Repeats is N, the number of noisy forward passes per input.
	Repeats int
	// BatchSize is how many perturbed variants go into one classifier call.
	BatchSize int
	// Workers bounds the concurrent inputs processed by Run.
	Workers int
	// RunID namespaces checkpoint keys; RunSeed roots per-repeat seeds.
	RunID   string
	RunSeed int64
}

// Validate checks the estimation parameters.
func (c Config) Validate() error {
	if c.Repeats < 1 {
		return fmt.Errorf("repeats %d, need at least 1", c.Repeats)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size %d, need at least 1", c.BatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers %d, need at least 1", c.Workers)
	}
	return nil
}

// Estimator drives a classifier through the deletion channel.
type Estimator struct {
	cfg         Config
	sampler     *noise.Sampler
	cls         classifier.Classifier
	checkpoints checkpoint.Store
	logger      *slog.Logger
}

// New constructs an Estimator. A nil checkpoint store disables resumption; a
// nil logger falls back to slog.Default().
func New(cfg Config, sampler *noise.Sampler, cls classifier.Classifier, checkpoints checkpoint.Store, logger *slog.Logger) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, errors.New("estimator requires a sampler")
	}
	if cls == nil {
		return nil, errors.New("estimator requires a classifier")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{cfg: cfg, sampler: sampler, cls: cls, checkpoints: checkpoints, logger: logger}, nil
}

// Estimate runs the repeats owned by one partition. A failed classifier call
// drops only that batch's repeats; they are counted in Partition.Dropped and
// the remaining batches proceed. Context cancellation aborts the partition.
func (e *Estimator) Estimate(ctx context.Context, seq models.Sequence, part PartitionSpec) (models.Partition, error) {
	if part.Total < 1 || part.Index < 0 || part.Index >= part.Total {
		return models.Partition{}, fmt.Errorf("partition %d of %d is invalid", part.Index, part.Total)
	}

	start, end := part.Repeats(e.cfg.Repeats)
	result := models.Partition{Index: part.Index, Total: part.Total}

	for batchStart := start; batchStart < end; batchStart += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return models.Partition{}, err
		}
		batchEnd := batchStart + e.cfg.BatchSize
		if batchEnd > end {
			batchEnd = end
		}

		batch := make([][]int32, 0, batchEnd-batchStart)
		for repeat := batchStart; repeat < batchEnd; repeat++ {
			rng := noise.NewRand(noise.DeriveSeed(e.cfg.RunSeed, seq.ID, repeat))
			batch = append(batch, e.sampler.Sample(seq, rng))
		}

		scores, err := e.cls.Forward(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return models.Partition{}, ctx.Err()
			}
			metrics.ObserveForwardPass(metrics.OutcomeError)
			metrics.AddDroppedRepeats(len(batch))
			result.Dropped += len(batch)
			e.logger.Warn("forward batch failed, dropping repeats",
				"input", seq.ID,
				"partition", part.Index,
				"repeats", len(batch),
				"error", err)
			continue
		}
		metrics.ObserveForwardPass(metrics.OutcomeSuccess)
		result.Scores = append(result.Scores, scores...)
	}
	return result, nil
}

// EstimateVector runs every partition of one input in index order and
// assembles the score vector. With totalParts == 1 this is the plain
// single-worker estimation path.
func (e *Estimator) EstimateVector(ctx context.Context, seq models.Sequence, totalParts int) (models.ScoreVector, error) {
	if totalParts < 1 {
		totalParts = 1
	}
	started := time.Now()

	parts := make([]models.Partition, 0, totalParts)
	for index := 0; index < totalParts; index++ {
		part, err := e.estimateCheckpointed(ctx, seq, PartitionSpec{Index: index, Total: totalParts})
		if err != nil {
			return models.ScoreVector{}, err
		}
		parts = append(parts, part)
	}

	vector, err := models.AssembleScoreVector(seq.ID, e.cfg.Repeats, parts)
	if err != nil {
		return models.ScoreVector{}, err
	}
	metrics.ObserveEstimation(time.Since(started))
	return vector, nil
}

// estimateCheckpointed consults the checkpoint store before working a
// partition: completed partitions are loaded instead of re-scored, and fresh
// work is claimed first so concurrent workers sharing a cache stay disjoint.
func (e *Estimator) estimateCheckpointed(ctx context.Context, seq models.Sequence, part PartitionSpec) (models.Partition, error) {
	if e.checkpoints == nil {
		return e.Estimate(ctx, seq, part)
	}

	if payload, done, err := e.checkpoints.Load(ctx, e.cfg.RunID, seq.ID, part.Index); err == nil && done {
		var stored models.Partition
		if err := json.Unmarshal(payload, &stored); err == nil && stored.Total == part.Total {
			e.logger.Debug("partition restored from checkpoint", "input", seq.ID, "partition", part.Index)
			return stored, nil
		}
		e.logger.Warn("discarding unreadable checkpoint payload", "input", seq.ID, "partition", part.Index)
	}

	claimed, err := e.checkpoints.Claim(ctx, e.cfg.RunID, seq.ID, part.Index)
	if err != nil {
		return models.Partition{}, fmt.Errorf("claim partition %d of %s: %w", part.Index, seq.ID, err)
	}
	if !claimed {
		// Raced with a completed claim between Load and Claim.
		if payload, done, err := e.checkpoints.Load(ctx, e.cfg.RunID, seq.ID, part.Index); err == nil && done {
			var stored models.Partition
			if err := json.Unmarshal(payload, &stored); err == nil && stored.Total == part.Total {
				return stored, nil
			}
		}
		return models.Partition{}, fmt.Errorf("partition %d of %s is claimed by another worker", part.Index, seq.ID)
	}

	result, err := e.Estimate(ctx, seq, part)
	if err != nil {
		if relErr := e.checkpoints.Release(ctx, e.cfg.RunID, seq.ID, part.Index); relErr != nil {
			e.logger.Warn("failed to release partition claim", "input", seq.ID, "partition", part.Index, "error", relErr)
		}
		return models.Partition{}, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return models.Partition{}, fmt.Errorf("encode partition %d of %s: %w", part.Index, seq.ID, err)
	}
	if err := e.checkpoints.Complete(ctx, e.cfg.RunID, seq.ID, part.Index, payload); err != nil {
		e.logger.Warn("failed to checkpoint partition", "input", seq.ID, "partition", part.Index, "error", err)
	}
	return result, nil
}

// Run estimates score vectors for a set of inputs over a bounded worker pool.
// Per-input failures are reported alongside the successes rather than failing
// the whole batch.
func (e *Estimator) Run(ctx context.Context, seqs []models.Sequence, totalParts int) ([]models.ScoreVector, map[string]error) {
	type outcome struct {
		vector models.ScoreVector
		err    error
		id     string
		order  int
	}

	jobs := make(chan int)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				vector, err := e.EstimateVector(ctx, seqs[idx], totalParts)
				results <- outcome{vector: vector, err: err, id: seqs[idx].ID, order: idx}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for idx := range seqs {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*models.ScoreVector, len(seqs))
	failures := make(map[string]error)
	for out := range results {
		if out.err != nil {
			failures[out.id] = out.err
			continue
		}
		v := out.vector
		ordered[out.order] = &v
	}

	vectors := make([]models.ScoreVector, 0, len(seqs))
	for _, v := range ordered {
		if v != nil {
			vectors = append(vectors, *v)
		}
	}
	return vectors, failures
}
