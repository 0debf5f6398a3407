package heval

import (
	"fmt"
	"sync"
)

// RotationSet collects the distinct rotation offsets a circuit uses, so the
// exact set of Galois keys can be generated up front with
// Context.GenRotationKeys. Left rotations are recorded as positive offsets,
// right rotations as negative ones. Levels and scales are ignored: the set
// of offsets does not depend on parameters.
type RotationSet struct {
	core

	mu  sync.Mutex
	set map[int]struct{}
}

var _ Instance = (*RotationSet)(nil)

func NewRotationSet(slots int) *RotationSet {
	r := &RotationSet{set: make(map[int]struct{})}
	// baseScale 0 disables the scale-exponent precondition: a dry run
	// collects offsets even from circuits that rescale lazily.
	r.core = core{
		impl:         r,
		slots:        slots,
		checkLevels:  false,
		rescaleFloor: noFloor,
	}
	return r
}

// NeededRotations returns the collected offsets in ascending order.
func (r *RotationSet) NeededRotations() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.set)
}

func (r *RotationSet) Encrypt(values []float64) (*Ciphertext, error) {
	return r.freshHandle(values, 0, 1)
}

func (r *RotationSet) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	return r.freshHandle(values, level, 1)
}

func (r *RotationSet) Decrypt(ct *Ciphertext) ([]float64, error) {
	return nil, fmt.Errorf("cannot Decrypt: rotation collector carries no plaintext: %w", ErrIncompatibleOperands)
}

func (r *RotationSet) rotate(_ *Ciphertext, k int) error {
	r.mu.Lock()
	r.set[k] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *RotationSet) negate(*Ciphertext) error              { return nil }
func (r *RotationSet) add(_, _ *Ciphertext) error            { return nil }
func (r *RotationSet) sub(_, _ *Ciphertext) error            { return nil }
func (r *RotationSet) addPlain(*Ciphertext, float64) error   { return nil }
func (r *RotationSet) subPlain(*Ciphertext, float64) error   { return nil }
func (r *RotationSet) addPlainVec(*Ciphertext, []float64) error { return nil }
func (r *RotationSet) subPlainVec(*Ciphertext, []float64) error { return nil }
func (r *RotationSet) mul(_, _ *Ciphertext) error            { return nil }
func (r *RotationSet) mulPlain(*Ciphertext, float64) error   { return nil }
func (r *RotationSet) mulPlainVec(*Ciphertext, []float64) error { return nil }
func (r *RotationSet) square(*Ciphertext) error              { return nil }
func (r *RotationSet) reduceLevel(*Ciphertext, int) error    { return nil }

func (r *RotationSet) rescale(*Ciphertext) error { return nil }

func (r *RotationSet) relinearize(*Ciphertext) error { return nil }

func (r *RotationSet) observe(string, *Ciphertext) error { return nil }
