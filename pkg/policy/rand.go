package policy

import (
	"math/rand/v2"
	"sync"
)

// Rand is the randomness source consulted by weighted criteria and message
// selection.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a seeded PCG source safe for concurrent use. The same seed
// always yields the same sequence.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Fixed always returns the same values. Useful for pinning weighted criteria
// to pass (F near 0) or fail (F near 1).
type Fixed struct {
	F float64
	I int
}

func (f Fixed) Float64() float64 { return f.F }

func (f Fixed) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return f.I % n
}
