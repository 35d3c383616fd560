package noise

import (
	"fmt"
	"math/rand"

	"github.com/certstack/delcert/internal/models"
)

// RegionPolicy selects how protected regions interact with the deletion channel.
type RegionPolicy string

const (
	// PolicyExcludeRegions keeps protected positions untouched.
	PolicyExcludeRegions RegionPolicy = "exclude"
	// PolicyZeroRegions zero-masks protected positions instead of deleting
	// them, so region boundaries stay unambiguous after deletion.
	PolicyZeroRegions RegionPolicy = "zero"
)

// Config fixes the deletion channel for one certification run. DeletionProb
// must be identical for every repeat of every input and for all calibration
// samples of the run; the calibrated threshold is only valid at that p.
type Config struct {
	DeletionProb float64
	Policy       RegionPolicy
}

// Validate checks the channel parameters.
func (c Config) Validate() error {
	if c.DeletionProb < 0 || c.DeletionProb >= 1 {
		return fmt.Errorf("deletion probability %v outside [0,1)", c.DeletionProb)
	}
	switch c.Policy {
	case PolicyExcludeRegions, PolicyZeroRegions:
		return nil
	default:
		return fmt.Errorf("unknown protected-region policy %q", c.Policy)
	}
}

// Sampler applies the randomized deletion channel to token sequences.
type Sampler struct {
	cfg Config
}

// NewSampler constructs a Sampler for a validated config.
func NewSampler(cfg Config) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{cfg: cfg}, nil
}

// Config returns the channel parameters the sampler was built with.
func (s *Sampler) Config() Config { return s.cfg }

// Sample deletes each position independently with probability p, drawing from
// rng. It is a pure function of (sequence, config, rng draws): one draw is
// consumed per position regardless of protection, so a given seed produces
// the same deletion decisions under either policy. An empty sequence yields
// an empty output, p=0 is the identity, and p near 1 may delete every
// unprotected token -- the classifier contract requires tolerating empty
// input; the sampler guarantees no survivor.
func (s *Sampler) Sample(seq models.Sequence, rng *rand.Rand) []int32 {
	if len(seq.Tokens) == 0 {
		return []int32{}
	}

	out := make([]int32, 0, len(seq.Tokens))
	for i, tok := range seq.Tokens {
		drop := rng.Float64() < s.cfg.DeletionProb
		if !drop {
			out = append(out, tok)
			continue
		}
		if !seq.Protected(i) {
			continue
		}
		switch s.cfg.Policy {
		case PolicyZeroRegions:
			out = append(out, 0)
		default:
			out = append(out, tok)
		}
	}
	return out
}
