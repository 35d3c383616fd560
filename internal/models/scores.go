package models

import (
	"fmt"
	"sort"
)

// Partition holds the scores produced by one slice of the N repeats of a
// single input. Partitions are produced independently (possibly on different
// machines) and reassembled by index, never by arrival order.
type Partition struct {
	Index   int
	Total   int
	Scores  []float64
	Dropped int
}

// ScoreVector is the assembled outcome of the repeated noisy forward passes
// for one input. Scores holds only the successful repeats; Dropped counts the
// repeats lost to classifier failures. All downstream statistics use
// EffectiveN, not Requested.
type ScoreVector struct {
	InputID   string
	Requested int
	Scores    []float64
	Dropped   int
}

// EffectiveN is the number of successfully completed repeats.
func (v ScoreVector) EffectiveN() int { return len(v.Scores) }

// Mean returns the empirical mean score over the effective repeats,
// or 0 when no repeat succeeded.
func (v ScoreVector) Mean() float64 {
	if len(v.Scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range v.Scores {
		sum += s
	}
	return sum / float64(len(v.Scores))
}

// Votes counts repeats whose score reaches the threshold.
func (v ScoreVector) Votes(threshold float64) int {
	votes := 0
	for _, s := range v.Scores {
		if s >= threshold {
			votes++
		}
	}
	return votes
}

// AssembleScoreVector merges the partitions of one input in partition-index
// order. It rejects duplicate or missing indices and inconsistent totals, so
// resumed runs cannot silently double-count a partition.
func AssembleScoreVector(inputID string, requested int, parts []Partition) (ScoreVector, error) {
	if len(parts) == 0 {
		return ScoreVector{}, fmt.Errorf("no partitions for input %s", inputID)
	}

	sorted := append([]Partition(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	total := sorted[0].Total
	vector := ScoreVector{InputID: inputID, Requested: requested}
	for i, part := range sorted {
		if part.Total != total {
			return ScoreVector{}, fmt.Errorf("input %s: partition %d reports total %d, expected %d", inputID, part.Index, part.Total, total)
		}
		if part.Index != i {
			return ScoreVector{}, fmt.Errorf("input %s: expected partition %d, got %d", inputID, i, part.Index)
		}
		vector.Scores = append(vector.Scores, part.Scores...)
		vector.Dropped += part.Dropped
	}
	if len(sorted) != total {
		return ScoreVector{}, fmt.Errorf("input %s: %d of %d partitions present", inputID, len(sorted), total)
	}
	return vector, nil
}
