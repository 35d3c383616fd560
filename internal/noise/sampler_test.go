package noise

import (
	"testing"

	"github.com/certstack/delcert/internal/models"
)

func seq(id string, tokens []int32, regions ...models.ProtectedRegion) models.Sequence {
	return models.Sequence{ID: id, Tokens: tokens, Regions: regions}
}

func TestSampleZeroProbIsIdentity(t *testing.T) {
	s, err := NewSampler(Config{DeletionProb: 0, Policy: PolicyExcludeRegions})
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	in := seq("a", []int32{1, 2, 3, 4, 5})
	out := s.Sample(in, NewRand(DeriveSeed(1, "a", 0)))
	if len(out) != len(in.Tokens) {
		t.Fatalf("expected identity, got %d tokens", len(out))
	}
	for i, tok := range out {
		if tok != in.Tokens[i] {
			t.Fatalf("token %d mutated: %d != %d", i, tok, in.Tokens[i])
		}
	}
}

func TestSampleEmptySequence(t *testing.T) {
	s, _ := NewSampler(Config{DeletionProb: 0.5, Policy: PolicyExcludeRegions})
	out := s.Sample(seq("e", nil), NewRand(7))
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestSampleDeterministicForSeed(t *testing.T) {
	s, _ := NewSampler(Config{DeletionProb: 0.4, Policy: PolicyExcludeRegions})
	in := seq("d", []int32{9, 8, 7, 6, 5, 4, 3, 2, 1, 0})
	seed := DeriveSeed(42, "d", 3)

	first := s.Sample(in, NewRand(seed))
	second := s.Sample(in, NewRand(seed))
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("position %d differs: %d vs %d", i, first[i], second[i])
		}
	}

	other := s.Sample(in, NewRand(DeriveSeed(42, "d", 4)))
	same := len(other) == len(first)
	if same {
		for i := range first {
			if first[i] != other[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatalf("different repeats produced identical perturbations")
	}
}

func TestSampleExcludePolicyKeepsRegions(t *testing.T) {
	s, _ := NewSampler(Config{DeletionProb: 0.99, Policy: PolicyExcludeRegions})
	tokens := make([]int32, 64)
	for i := range tokens {
		tokens[i] = int32(i + 1)
	}
	in := seq("hdr", tokens, models.ProtectedRegion{Name: "header", Start: 0, End: 8})

	out := s.Sample(in, NewRand(11))
	if len(out) < 8 {
		t.Fatalf("protected header lost: %d survivors", len(out))
	}
	for i := 0; i < 8; i++ {
		if out[i] != tokens[i] {
			t.Fatalf("header token %d altered: %d != %d", i, out[i], tokens[i])
		}
	}
}

func TestSampleZeroPolicyMasksRegions(t *testing.T) {
	s, _ := NewSampler(Config{DeletionProb: 0.99, Policy: PolicyZeroRegions})
	tokens := []int32{5, 5, 5, 5, 5, 5, 5, 5}
	in := seq("z", tokens, models.ProtectedRegion{Name: "header", Start: 0, End: len(tokens)})

	out := s.Sample(in, NewRand(3))
	if len(out) != len(tokens) {
		t.Fatalf("zero policy must preserve length: got %d", len(out))
	}
	zeroed := 0
	for _, tok := range out {
		if tok == 0 {
			zeroed++
		}
	}
	if zeroed == 0 {
		t.Fatalf("expected some positions zero-masked at p=0.99")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{DeletionProb: -0.1, Policy: PolicyExcludeRegions},
		{DeletionProb: 1.0, Policy: PolicyExcludeRegions},
		{DeletionProb: 0.5, Policy: RegionPolicy("shuffle")},
	}
	for _, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
	if err := (Config{DeletionProb: 0.98, Policy: PolicyZeroRegions}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestDeriveSeedStability(t *testing.T) {
	a := DeriveSeed(1, "input", 0)
	if a != DeriveSeed(1, "input", 0) {
		t.Fatalf("seed derivation not stable")
	}
	if a == DeriveSeed(1, "input", 1) || a == DeriveSeed(2, "input", 0) || a == DeriveSeed(1, "other", 0) {
		t.Fatalf("seed derivation collides across distinct inputs")
	}
	if a < 0 {
		t.Fatalf("seed must be non-negative, got %d", a)
	}
}
