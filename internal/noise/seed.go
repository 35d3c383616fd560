package noise

import (
	"encoding/binary"
	"math/rand"

	"golang.org/x/crypto/blake2b"
)

// DeriveSeed maps (run seed, input id, repeat index) to a stable 63-bit seed.
// Every repeat owns its own seed, so any partitioning of the N repeats
// reproduces the identical perturbations: partition workers derive the same
// seeds a single worker would.
func DeriveSeed(runSeed int64, inputID string, repeat int) int64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(runSeed))
	binary.BigEndian.PutUint64(buf[8:], uint64(repeat))

	h, _ := blake2b.New256(nil)
	h.Write(buf[:])
	h.Write([]byte(inputID))
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
}

// NewRand returns a rand.Rand for a derived seed. Callers must not share the
// returned source across goroutines.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
