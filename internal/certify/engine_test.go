package certify

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/certstack/delcert/internal/models"
)

// voteVector builds a score vector with k scores above and n-k below a 0.5
// threshold.
func voteVector(id string, k, n int) models.ScoreVector {
	scores := make([]float64, n)
	for i := 0; i < k; i++ {
		scores[i] = 0.99
	}
	for i := k; i < n; i++ {
		scores[i] = 0.01
	}
	return models.ScoreVector{InputID: id, Requested: n, Scores: scores}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func defaultConfig() Config {
	return Config{
		Threshold:    0.5,
		Confidence:   0.95,
		MinEffective: 100,
		DeletionProb: 0.98,
		Workers:      2,
	}
}

func TestCertifyAbstainsBelowEffectiveFloor(t *testing.T) {
	e := newEngine(t, defaultConfig())

	result := e.Certify(voteVector("small", 50, 50))
	if result.Decision != models.DecisionAbstain {
		t.Fatalf("decision %s, want ABSTAIN", result.Decision)
	}
	if result.Radius != 0 {
		t.Fatalf("abstention must not carry a radius, got %d", result.Radius)
	}
}

func TestCertifyNotRobust(t *testing.T) {
	e := newEngine(t, defaultConfig())

	// 400 of 1000 votes: even the point estimate misses the threshold.
	result := e.Certify(voteVector("weak", 400, 1000))
	if result.Decision != models.DecisionNotRobust {
		t.Fatalf("decision %s, want NOT_ROBUST", result.Decision)
	}
	if result.LowerBound >= 0.5 {
		t.Fatalf("lower bound %v should be below the threshold", result.LowerBound)
	}
}

func TestCertifyBorderlineVoteRate(t *testing.T) {
	e := newEngine(t, defaultConfig())

	// 520 of 1000: above threshold empirically, but the confidence bound
	// pulls it back under.
	result := e.Certify(voteVector("borderline", 520, 1000))
	if result.Decision != models.DecisionNotRobust {
		t.Fatalf("decision %s, want NOT_ROBUST", result.Decision)
	}
}

func TestCertifyCertifiedRadius(t *testing.T) {
	e := newEngine(t, defaultConfig())

	result := e.Certify(voteVector("strong", 995, 1000))
	if result.Decision != models.DecisionCertified {
		t.Fatalf("decision %s, want CERTIFIED", result.Decision)
	}
	if result.LowerBound <= 0.5 {
		t.Fatalf("lower bound %v should clear the threshold", result.LowerBound)
	}
	if result.Radius < 1 {
		t.Fatalf("radius %d, want at least 1 under a high deletion probability", result.Radius)
	}
	want := int(math.Floor(math.Log((1-result.LowerBound)/(1-0.5)) / math.Log(0.98)))
	if result.Radius != want {
		t.Fatalf("radius %d inconsistent with reported lower bound, want %d", result.Radius, want)
	}
}

func TestCertifyIsDeterministic(t *testing.T) {
	e := newEngine(t, defaultConfig())
	sv := voteVector("stable", 950, 1000)

	first := e.Certify(sv)
	for i := 0; i < 5; i++ {
		again := e.Certify(sv)
		if again != first {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestHigherConfidenceShrinksRadius(t *testing.T) {
	cfg := defaultConfig()

	relaxed := newEngine(t, cfg)
	cfg.Confidence = 0.999
	strict := newEngine(t, cfg)

	sv := voteVector("strong", 990, 1000)
	loose := relaxed.Certify(sv)
	tight := strict.Certify(sv)

	if loose.Decision != models.DecisionCertified || tight.Decision != models.DecisionCertified {
		t.Fatalf("decisions %s/%s, want CERTIFIED for both", loose.Decision, tight.Decision)
	}
	if tight.LowerBound >= loose.LowerBound {
		t.Fatalf("stricter confidence should lower the bound: %v vs %v", tight.LowerBound, loose.LowerBound)
	}
	if tight.Radius > loose.Radius {
		t.Fatalf("stricter confidence enlarged the radius: %d vs %d", tight.Radius, loose.Radius)
	}
}

func TestCertifyCountsDrops(t *testing.T) {
	e := newEngine(t, defaultConfig())

	sv := voteVector("lossy", 150, 150)
	sv.Requested = 200
	sv.Dropped = 50

	result := e.Certify(sv)
	if result.EffectiveN != 150 || result.Dropped != 50 {
		t.Fatalf("effective=%d dropped=%d, want 150/50", result.EffectiveN, result.Dropped)
	}
	if result.Decision != models.DecisionCertified {
		t.Fatalf("decision %s, want CERTIFIED from unanimous surviving votes", result.Decision)
	}
}

func TestCertifyAllMixedBatch(t *testing.T) {
	e := newEngine(t, defaultConfig())

	vectors := []models.ScoreVector{
		voteVector("certified", 995, 1000),
		voteVector("tiny", 10, 10),
		voteVector("weak", 300, 1000),
	}
	results := e.CertifyAll(context.Background(), vectors)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.InputID != vectors[i].InputID {
			t.Fatalf("result %d is %s, want %s", i, r.InputID, vectors[i].InputID)
		}
	}
	if results[0].Decision != models.DecisionCertified {
		t.Fatalf("first decision %s, want CERTIFIED", results[0].Decision)
	}
	if results[1].Decision != models.DecisionAbstain {
		t.Fatalf("second decision %s, want ABSTAIN", results[1].Decision)
	}
	if results[2].Decision != models.DecisionNotRobust {
		t.Fatalf("third decision %s, want NOT_ROBUST", results[2].Decision)
	}
}

func TestCertifyAllCancelledContext(t *testing.T) {
	e := newEngine(t, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vectors := make([]models.ScoreVector, 8)
	for i := range vectors {
		vectors[i] = voteVector(fmt.Sprintf("in-%d", i), 900, 1000)
	}
	results := e.CertifyAll(ctx, vectors)
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	for i, r := range results {
		if r.Decision == "" {
			t.Fatalf("result %d has no decision", i)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Threshold: 1, Confidence: 0.95, MinEffective: 1, DeletionProb: 0.9, Workers: 1},
		{Threshold: 0.5, Confidence: 1, MinEffective: 1, DeletionProb: 0.9, Workers: 1},
		{Threshold: 0.5, Confidence: 0.95, MinEffective: 0, DeletionProb: 0.9, Workers: 1},
		{Threshold: 0.5, Confidence: 0.95, MinEffective: 1, DeletionProb: 0, Workers: 1},
		{Threshold: 0.5, Confidence: 0.95, MinEffective: 1, DeletionProb: 0.9, Workers: 0},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("config %d should be rejected", i)
		}
	}
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
