package heval

import (
	"fmt"
	"math"
	"sync"
)

// Shadow slot-vector arithmetic. These helpers implement the vocabulary on
// plain []float64 slot vectors and are shared by every evaluator that
// maintains a plaintext mirror (PlaintextEval, ScaleEstimator, Debug).

// shadowRotate cyclically shifts v by k slots, k > 0 to the left.
func shadowRotate(v []float64, k int) {
	n := len(v)
	k = ((k % n) + n) % n
	if k == 0 {
		return
	}
	tmp := make([]float64, n)
	copy(tmp, v[k:])
	copy(tmp[n-k:], v[:k])
	copy(v, tmp)
}

func shadowNegate(v []float64) {
	for i := range v {
		v[i] = -v[i]
	}
}

func shadowAdd(v, w []float64) {
	for i := range v {
		v[i] += w[i]
	}
}

func shadowSub(v, w []float64) {
	for i := range v {
		v[i] -= w[i]
	}
}

func shadowAddConst(v []float64, c float64) {
	for i := range v {
		v[i] += c
	}
}

func shadowMul(v, w []float64) {
	for i := range v {
		v[i] *= w[i]
	}
}

func shadowMulConst(v []float64, c float64) {
	for i := range v {
		v[i] *= c
	}
}

// shadowAddVec adds w (padded with zeros) into v.
func shadowAddVec(v, w []float64, sign float64) {
	for i := range w {
		v[i] += sign * w[i]
	}
}

// shadowMulVec multiplies v slotwise by w padded with zeros.
func shadowMulVec(v, w []float64) {
	for i := range v {
		if i < len(w) {
			v[i] *= w[i]
		} else {
			v[i] = 0
		}
	}
}

func shadowMaxAbs(v []float64) float64 {
	max := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > max {
			max = a
		}
	}
	return max
}

// PlaintextEval executes the vocabulary on cleartext slot vectors. It obeys
// the same shape and metadata rules as the other evaluators, so a circuit
// can be validated for exact results (no encryption noise) before paying
// for a homomorphic run. It also records the largest absolute slot value it
// ever sees, which the scale estimator turns into precision bounds.
type PlaintextEval struct {
	core

	mu     sync.Mutex
	maxVal float64
}

var _ Instance = (*PlaintextEval)(nil)

func NewPlaintextEval(slots int) *PlaintextEval {
	p := &PlaintextEval{}
	p.core = core{
		impl:         p,
		slots:        slots,
		checkLevels:  false,
		rescaleFloor: noFloor,
		baseScale:    math.Exp2(defaultLogScale),
	}
	return p
}

// MaxValue returns the largest absolute slot value observed across all
// inputs and intermediates so far.
func (p *PlaintextEval) MaxValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxVal
}

func (p *PlaintextEval) record(v []float64) {
	m := shadowMaxAbs(v)
	p.mu.Lock()
	if m > p.maxVal {
		p.maxVal = m
	}
	p.mu.Unlock()
}

func (p *PlaintextEval) Encrypt(values []float64) (*Ciphertext, error) {
	return p.EncryptAtLevel(values, 0)
}

func (p *PlaintextEval) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	out, err := p.freshHandle(values, level, p.baseScale)
	if err != nil {
		return nil, err
	}
	out.shadow = padSlots(values, p.slots)
	p.record(out.shadow)
	return out, nil
}

// Decrypt returns a copy of the cleartext slot vector.
func (p *PlaintextEval) Decrypt(ct *Ciphertext) ([]float64, error) {
	if ct.shadow == nil {
		return nil, fmt.Errorf("cannot Decrypt: handle has no plaintext shadow: %w", ErrIncompatibleOperands)
	}
	return append([]float64(nil), ct.shadow...), nil
}

func (p *PlaintextEval) rotate(ct *Ciphertext, k int) error {
	shadowRotate(ct.shadow, k)
	return nil
}

func (p *PlaintextEval) negate(ct *Ciphertext) error {
	shadowNegate(ct.shadow)
	return nil
}

func (p *PlaintextEval) add(op0, op1 *Ciphertext) error {
	shadowAdd(op0.shadow, op1.shadow)
	return nil
}

func (p *PlaintextEval) sub(op0, op1 *Ciphertext) error {
	shadowSub(op0.shadow, op1.shadow)
	return nil
}

func (p *PlaintextEval) addPlain(ct *Ciphertext, c float64) error {
	shadowAddConst(ct.shadow, c)
	return nil
}

func (p *PlaintextEval) subPlain(ct *Ciphertext, c float64) error {
	shadowAddConst(ct.shadow, -c)
	return nil
}

func (p *PlaintextEval) addPlainVec(ct *Ciphertext, v []float64) error {
	shadowAddVec(ct.shadow, v, 1)
	return nil
}

func (p *PlaintextEval) subPlainVec(ct *Ciphertext, v []float64) error {
	shadowAddVec(ct.shadow, v, -1)
	return nil
}

func (p *PlaintextEval) mul(op0, op1 *Ciphertext) error {
	shadowMul(op0.shadow, op1.shadow)
	return nil
}

func (p *PlaintextEval) mulPlain(ct *Ciphertext, c float64) error {
	shadowMulConst(ct.shadow, c)
	return nil
}

func (p *PlaintextEval) mulPlainVec(ct *Ciphertext, v []float64) error {
	shadowMulVec(ct.shadow, v)
	return nil
}

func (p *PlaintextEval) square(ct *Ciphertext) error {
	shadowMul(ct.shadow, ct.shadow)
	return nil
}

func (p *PlaintextEval) reduceLevel(*Ciphertext, int) error { return nil }

func (p *PlaintextEval) rescale(ct *Ciphertext) error {
	ct.scale /= p.baseScale
	return nil
}

func (p *PlaintextEval) relinearize(*Ciphertext) error { return nil }

func (p *PlaintextEval) observe(_ string, ct *Ciphertext) error {
	p.record(ct.shadow)
	return nil
}
