package heval

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// OpCounts is a census of the primitive operations a circuit performs,
// split by homomorphic cost class.
type OpCounts struct {
	Additions            int // ciphertext and plaintext additions/subtractions
	Multiplications      int // ciphertext-ciphertext products, including squares
	PlainMultiplications int // products with public scalars and masks
	Negations            int
	Rotations            int
	Relinearizations     int
	Rescales             int
	LevelReductions      int // total levels dropped by ReduceLevel
}

func (c OpCounts) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "additions:           %d\n", c.Additions)
	fmt.Fprintf(&b, "multiplications:     %d\n", c.Multiplications)
	fmt.Fprintf(&b, "plain mults:         %d\n", c.PlainMultiplications)
	fmt.Fprintf(&b, "negations:           %d\n", c.Negations)
	fmt.Fprintf(&b, "rotations:           %d\n", c.Rotations)
	fmt.Fprintf(&b, "relinearizations:    %d\n", c.Relinearizations)
	fmt.Fprintf(&b, "rescales:            %d\n", c.Rescales)
	fmt.Fprintf(&b, "levels dropped:      %d", c.LevelReductions)
	return b.String()
}

// OpCount tallies the operations of a circuit without executing them, for
// cost comparisons between algorithm variants. It follows the implicit
// level convention of DepthFinder, so it doubles as a depth probe.
type OpCount struct {
	core

	mu     sync.Mutex
	counts OpCounts
	depth  int
}

var _ Instance = (*OpCount)(nil)

func NewOpCount(slots int) *OpCount {
	o := &OpCount{}
	o.core = core{
		impl:         o,
		slots:        slots,
		checkLevels:  true,
		rescaleFloor: noFloor,
		baseScale:    math.Exp2(defaultLogScale),
	}
	return o
}

// Counts returns a snapshot of the tallies so far.
func (o *OpCount) Counts() OpCounts {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts
}

// Depth returns the multiplicative depth observed so far.
func (o *OpCount) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.depth
}

func (o *OpCount) Encrypt(values []float64) (*Ciphertext, error) {
	return o.freshHandle(values, 0, o.baseScale)
}

func (o *OpCount) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	return nil, fmt.Errorf("cannot Encrypt: operation counter assigns levels implicitly: %w", ErrInvalidLevelTarget)
}

func (o *OpCount) Decrypt(ct *Ciphertext) ([]float64, error) {
	return nil, fmt.Errorf("cannot Decrypt: operation counter carries no plaintext: %w", ErrIncompatibleOperands)
}

func (o *OpCount) rotate(*Ciphertext, int) error         { return nil }
func (o *OpCount) negate(*Ciphertext) error              { return nil }
func (o *OpCount) add(_, _ *Ciphertext) error            { return nil }
func (o *OpCount) sub(_, _ *Ciphertext) error            { return nil }
func (o *OpCount) addPlain(*Ciphertext, float64) error   { return nil }
func (o *OpCount) subPlain(*Ciphertext, float64) error   { return nil }
func (o *OpCount) addPlainVec(*Ciphertext, []float64) error { return nil }
func (o *OpCount) subPlainVec(*Ciphertext, []float64) error { return nil }
func (o *OpCount) mul(_, _ *Ciphertext) error            { return nil }
func (o *OpCount) mulPlain(*Ciphertext, float64) error   { return nil }
func (o *OpCount) mulPlainVec(*Ciphertext, []float64) error { return nil }
func (o *OpCount) square(*Ciphertext) error              { return nil }
func (o *OpCount) relinearize(*Ciphertext) error         { return nil }

func (o *OpCount) reduceLevel(ct *Ciphertext, target int) error {
	o.mu.Lock()
	o.counts.LevelReductions += ct.level - target
	o.mu.Unlock()
	return nil
}

func (o *OpCount) rescale(ct *Ciphertext) error {
	ct.scale /= o.baseScale
	return nil
}

func (o *OpCount) observe(op string, ct *Ciphertext) error {
	o.mu.Lock()
	switch op {
	case "Add", "Sub", "AddPlain", "SubPlain", "AddPlainVec", "SubPlainVec":
		o.counts.Additions++
	case "Mul", "Square":
		o.counts.Multiplications++
	case "MulPlain", "MulPlainVec":
		o.counts.PlainMultiplications++
	case "Negate":
		o.counts.Negations++
	case "RotateLeft", "RotateRight":
		o.counts.Rotations++
	case "Relinearize":
		o.counts.Relinearizations++
	case "Rescale":
		o.counts.Rescales++
	}
	if -ct.level > o.depth {
		o.depth = -ct.level
	}
	o.mu.Unlock()
	return nil
}
