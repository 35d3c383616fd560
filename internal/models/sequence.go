package models

import "fmt"

// Sequence is an ordered list of discrete tokens (bytes or instruction ids)
// plus the named regions the noise channel must treat specially. The core
// never mutates a Sequence after it has been handed in.
type Sequence struct {
	ID      string
	Tokens  []int32
	Regions []ProtectedRegion
}

// ProtectedRegion marks a half-open token range [Start, End) such as the PE
// header or an instruction boundary emitted by the preprocessing stage.
type ProtectedRegion struct {
	Name  string
	Start int
	End   int
}

// Len returns the token count.
func (s Sequence) Len() int { return len(s.Tokens) }

// Protected reports whether position i falls inside any protected region.
func (s Sequence) Protected(i int) bool {
	for _, r := range s.Regions {
		if i >= r.Start && i < r.End {
			return true
		}
	}
	return false
}

// ValidateRegions checks region bounds against the token range.
func (s Sequence) ValidateRegions() error {
	for _, r := range s.Regions {
		if r.Start < 0 || r.End < r.Start || r.End > len(s.Tokens) {
			return fmt.Errorf("region %q [%d,%d) out of bounds for sequence of length %d", r.Name, r.Start, r.End, len(s.Tokens))
		}
	}
	return nil
}
