package heval

import (
	"fmt"
	"math"
	"sync"
)

// PlaintextLogMax is the headroom, in bits, that an encoded plaintext
// coefficient may occupy under a 60-bit prime before decoding breaks down.
const PlaintextLogMax = 59

// maxLogQP is the largest total modulus size (in bits) that keeps 128-bit
// security for a given ring degree logN, per the homomorphic encryption
// standard tables.
var maxLogQP = map[int]int{
	10: 27,
	11: 54,
	12: 109,
	13: 218,
	14: 438,
	15: 881,
}

// specialModulusBits is the share of the modulus budget reserved for the
// key-switching primes.
const specialModulusBits = 120

// ScaleEstimator runs the circuit on cleartext shadows while accounting for
// scale growth, and reports the largest log2 scale the circuit can afford:
// every intermediate value, amplified by the scale factors it still carries
// above its level, must stay under PlaintextLogMax bits, and depth+1 primes
// plus the key-switching primes must fit the security budget for the ring
// degree implied by the slot count.
type ScaleEstimator struct {
	core

	depth int
	logN  int

	mu          sync.Mutex
	maxVal      float64
	maxLogScale float64
}

var _ Instance = (*ScaleEstimator)(nil)

// NewScaleEstimator builds an estimator for a circuit of the given
// multiplicative depth over ciphertexts with the given slot count. The slot
// count must be a power of two with 2*slots a supported ring degree.
func NewScaleEstimator(slots, depth int) (*ScaleEstimator, error) {
	if slots <= 0 || slots&(slots-1) != 0 {
		return nil, fmt.Errorf("cannot NewScaleEstimator: slot count %d is not a power of two: %w", slots, ErrDimension)
	}
	if depth < 0 {
		return nil, fmt.Errorf("cannot NewScaleEstimator: negative depth %d: %w", depth, ErrDimension)
	}
	logN := bitsLen(slots) + 1
	if _, ok := maxLogQP[logN]; !ok {
		return nil, fmt.Errorf("cannot NewScaleEstimator: no security budget for ring degree 2^%d: %w", logN, ErrDimension)
	}
	return newScaleEstimator(slots, depth, logN, math.Exp2(defaultLogScale)), nil
}

// newScaleEstimator is shared with the Debug evaluator, which anchors the
// exponent bookkeeping to the real default scale of its context.
func newScaleEstimator(slots, depth, logN int, baseScale float64) *ScaleEstimator {
	s := &ScaleEstimator{
		depth:       depth,
		logN:        logN,
		maxLogScale: math.Inf(1),
	}
	s.core = core{
		impl:         s,
		slots:        slots,
		checkLevels:  true,
		rescaleFloor: 0,
		baseScale:    baseScale,
	}
	return s
}

// bitsLen returns log2 of a power of two.
func bitsLen(n int) int {
	l := 0
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// EstimatedMaxLogScale returns the largest log2 scale compatible with every
// value observed so far and with the modulus budget. A non-positive result
// means no parameter choice can run the circuit at this ring degree.
func (s *ScaleEstimator) EstimatedMaxLogScale() float64 {
	s.mu.Lock()
	bound := s.maxLogScale
	s.mu.Unlock()
	d := s.depth
	if d < 1 {
		d = 1
	}
	budget := float64(maxLogQP[s.logN]-specialModulusBits) / float64(d)
	return math.Min(bound, budget)
}

// MaxValue returns the largest absolute value observed so far.
func (s *ScaleEstimator) MaxValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxVal
}

// UpdatePlaintextMaxVal accounts for a plaintext operand of magnitude m
// (a mask or constant the circuit multiplies in), which must itself encode
// under the headroom at scale exponent one.
func (s *ScaleEstimator) UpdatePlaintextMaxVal(m float64) error {
	if m == 0 {
		return nil
	}
	logM := math.Log2(math.Abs(m))
	if logM > PlaintextLogMax {
		return fmt.Errorf("plaintext magnitude 2^%.1f exceeds encoding headroom 2^%d: %w", logM, PlaintextLogMax, ErrScaleOverflow)
	}
	s.mu.Lock()
	if b := PlaintextLogMax - logM; b < s.maxLogScale {
		s.maxLogScale = b
	}
	if m := math.Abs(m); m > s.maxVal {
		s.maxVal = m
	}
	s.mu.Unlock()
	return nil
}

func (s *ScaleEstimator) Encrypt(values []float64) (*Ciphertext, error) {
	return s.EncryptAtLevel(values, s.depth)
}

func (s *ScaleEstimator) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	if level < 0 || level > s.depth {
		return nil, fmt.Errorf("cannot Encrypt: level %d outside modulus chain [0, %d]: %w", level, s.depth, ErrInvalidLevelTarget)
	}
	out, err := s.freshHandle(values, level, s.baseScale)
	if err != nil {
		return nil, err
	}
	out.shadow = padSlots(values, s.slots)
	return out, s.observe("Encrypt", out)
}

func (s *ScaleEstimator) Decrypt(ct *Ciphertext) ([]float64, error) {
	if ct.shadow == nil {
		return nil, fmt.Errorf("cannot Decrypt: handle has no plaintext shadow: %w", ErrIncompatibleOperands)
	}
	return append([]float64(nil), ct.shadow...), nil
}

func (s *ScaleEstimator) rotate(ct *Ciphertext, k int) error {
	shadowRotate(ct.shadow, k)
	return nil
}

func (s *ScaleEstimator) negate(ct *Ciphertext) error {
	shadowNegate(ct.shadow)
	return nil
}

func (s *ScaleEstimator) add(op0, op1 *Ciphertext) error {
	shadowAdd(op0.shadow, op1.shadow)
	return nil
}

func (s *ScaleEstimator) sub(op0, op1 *Ciphertext) error {
	shadowSub(op0.shadow, op1.shadow)
	return nil
}

func (s *ScaleEstimator) addPlain(ct *Ciphertext, c float64) error {
	shadowAddConst(ct.shadow, c)
	return nil
}

func (s *ScaleEstimator) subPlain(ct *Ciphertext, c float64) error {
	shadowAddConst(ct.shadow, -c)
	return nil
}

func (s *ScaleEstimator) addPlainVec(ct *Ciphertext, v []float64) error {
	shadowAddVec(ct.shadow, v, 1)
	return nil
}

func (s *ScaleEstimator) subPlainVec(ct *Ciphertext, v []float64) error {
	shadowAddVec(ct.shadow, v, -1)
	return nil
}

func (s *ScaleEstimator) mul(op0, op1 *Ciphertext) error {
	shadowMul(op0.shadow, op1.shadow)
	return nil
}

func (s *ScaleEstimator) mulPlain(ct *Ciphertext, c float64) error {
	if err := s.UpdatePlaintextMaxVal(c); err != nil {
		return err
	}
	shadowMulConst(ct.shadow, c)
	return nil
}

func (s *ScaleEstimator) mulPlainVec(ct *Ciphertext, v []float64) error {
	if err := s.UpdatePlaintextMaxVal(shadowMaxAbs(v)); err != nil {
		return err
	}
	shadowMulVec(ct.shadow, v)
	return nil
}

func (s *ScaleEstimator) square(ct *Ciphertext) error {
	shadowMul(ct.shadow, ct.shadow)
	return nil
}

func (s *ScaleEstimator) reduceLevel(*Ciphertext, int) error { return nil }

func (s *ScaleEstimator) rescale(ct *Ciphertext) error {
	ct.scale /= s.baseScale
	return nil
}

func (s *ScaleEstimator) relinearize(*Ciphertext) error { return nil }

// observe tightens the scale bound: a value of magnitude m carrying e scale
// exponents above its level must satisfy log2(m) + e*logScale <= headroom,
// and a value with no excess exponents must fit the headroom outright.
func (s *ScaleEstimator) observe(op string, ct *Ciphertext) error {
	m := shadowMaxAbs(ct.shadow)
	if m == 0 {
		return nil
	}
	logM := math.Log2(m)
	excess := s.scaleExp(ct.scale) - ct.level
	s.mu.Lock()
	defer s.mu.Unlock()
	if m > s.maxVal {
		s.maxVal = m
	}
	if excess > 0 {
		if b := (PlaintextLogMax - logM) / float64(excess); b < s.maxLogScale {
			s.maxLogScale = b
		}
	} else if logM > PlaintextLogMax {
		return fmt.Errorf("value magnitude 2^%.1f exceeds encoding headroom 2^%d at level %d during %s: %w", logM, PlaintextLogMax, ct.level, op, ErrScaleOverflow)
	}
	return nil
}
