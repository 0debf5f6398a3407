package heval

import (
	"fmt"
	"math"
	"sync"
)

// defaultLogScale is the nominal scale exponent used by the abstract
// evaluators. Its value is irrelevant to the quantities they compute; it
// only anchors the shared scale-exponent bookkeeping.
const defaultLogScale = 45

// DepthFinder discovers the multiplicative depth of a circuit without key
// material. Fresh ciphertexts enter at level 0 and every rescale walks the
// level down by one, into the negatives; the depth of the circuit is the
// deepest excursion below zero. Feeding the result back as the modulus
// chain length makes the same circuit run level-exactly under Homomorphic.
type DepthFinder struct {
	core

	mu    sync.Mutex
	depth int
}

var _ Instance = (*DepthFinder)(nil)

func NewDepthFinder(slots int) *DepthFinder {
	d := &DepthFinder{}
	d.core = core{
		impl:         d,
		slots:        slots,
		checkLevels:  true,
		rescaleFloor: noFloor,
		baseScale:    math.Exp2(defaultLogScale),
	}
	return d
}

// Depth returns the multiplicative depth observed so far.
func (d *DepthFinder) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth
}

func (d *DepthFinder) Encrypt(values []float64) (*Ciphertext, error) {
	return d.freshHandle(values, 0, d.baseScale)
}

// EncryptAtLevel is not meaningful under the implicit depth convention;
// circuits that encrypt at explicit levels need ExplicitDepthFinder.
func (d *DepthFinder) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	return nil, fmt.Errorf("cannot Encrypt: depth finder assigns levels implicitly: %w", ErrInvalidLevelTarget)
}

func (d *DepthFinder) Decrypt(ct *Ciphertext) ([]float64, error) {
	return nil, fmt.Errorf("cannot Decrypt: depth finder carries no plaintext: %w", ErrIncompatibleOperands)
}

func (d *DepthFinder) rotate(*Ciphertext, int) error         { return nil }
func (d *DepthFinder) negate(*Ciphertext) error              { return nil }
func (d *DepthFinder) add(_, _ *Ciphertext) error            { return nil }
func (d *DepthFinder) sub(_, _ *Ciphertext) error            { return nil }
func (d *DepthFinder) addPlain(*Ciphertext, float64) error   { return nil }
func (d *DepthFinder) subPlain(*Ciphertext, float64) error   { return nil }
func (d *DepthFinder) addPlainVec(*Ciphertext, []float64) error { return nil }
func (d *DepthFinder) subPlainVec(*Ciphertext, []float64) error { return nil }
func (d *DepthFinder) mul(_, _ *Ciphertext) error            { return nil }
func (d *DepthFinder) mulPlain(*Ciphertext, float64) error   { return nil }
func (d *DepthFinder) mulPlainVec(*Ciphertext, []float64) error { return nil }
func (d *DepthFinder) square(*Ciphertext) error              { return nil }
func (d *DepthFinder) reduceLevel(*Ciphertext, int) error    { return nil }
func (d *DepthFinder) relinearize(*Ciphertext) error         { return nil }

func (d *DepthFinder) rescale(ct *Ciphertext) error {
	ct.scale /= d.baseScale
	return nil
}

func (d *DepthFinder) observe(_ string, ct *Ciphertext) error {
	d.mu.Lock()
	if -ct.level > d.depth {
		d.depth = -ct.level
	}
	d.mu.Unlock()
	return nil
}

// DepthReport is the outcome of an ExplicitDepthFinder run.
type DepthReport struct {
	// Depth is the multiplicative depth consumed by lineages of fresh
	// encryptions, i.e. the minimum depth the modulus chain must support
	// before the first bootstrap.
	Depth int
	// PostBootstrapDepth is the depth consumed below the highest explicit
	// encryption level, i.e. the minimum level a bootstrap must restore.
	// Zero when the circuit never encrypts at an explicit level.
	PostBootstrapDepth int
	// UsesBootstrapping reports whether any explicit-level encryption was
	// observed.
	UsesBootstrapping bool
}

// ExplicitDepthFinder is the depth finder for circuits that re-enter
// ciphertexts at explicit levels, modelling the output of a bootstrapper.
// Fresh encryptions follow the implicit convention (level 0 downwards);
// explicit-level encryptions start at their stated level and may not be
// rescaled below level 0. Lineages are tracked separately so the report can
// state both the pre-bootstrap depth and the level a bootstrap must restore.
type ExplicitDepthFinder struct {
	core

	mu            sync.Mutex
	minFresh      int
	maxExplicit   int
	minBootLevel  int
	usesBootstrap bool
	// bootConsumed locks maxExplicit: once a bootstrapped lineage has spent
	// depth against it, a higher explicit level would invalidate the depth
	// already reconciled.
	bootConsumed bool
}

var _ Instance = (*ExplicitDepthFinder)(nil)

func NewExplicitDepthFinder(slots int) *ExplicitDepthFinder {
	d := &ExplicitDepthFinder{}
	d.core = core{
		impl:         d,
		slots:        slots,
		checkLevels:  true,
		rescaleFloor: noFloor,
		baseScale:    math.Exp2(defaultLogScale),
	}
	return d
}

// Report returns the depth facts observed so far. On a circuit with no
// explicit-level encryptions it agrees with DepthFinder.Depth.
func (d *ExplicitDepthFinder) Report() DepthReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := DepthReport{UsesBootstrapping: d.usesBootstrap}
	if d.minFresh < 0 {
		r.Depth = -d.minFresh
	}
	if d.usesBootstrap {
		r.PostBootstrapDepth = d.maxExplicit - d.minBootLevel
	}
	return r
}

func (d *ExplicitDepthFinder) Encrypt(values []float64) (*Ciphertext, error) {
	return d.freshHandle(values, 0, d.baseScale)
}

// EncryptAtLevel models a ciphertext re-entering the circuit from a
// bootstrapper at the given level. level must be non-negative, and once a
// bootstrapped lineage has consumed depth the circuit's explicit levels are
// reconciled: a later encryption above the highest level seen so far is an
// inconsistency, since the consumed depth was measured against that level.
func (d *ExplicitDepthFinder) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	if level < 0 {
		return nil, fmt.Errorf("cannot Encrypt: explicit level %d is negative: %w", level, ErrInvalidLevelTarget)
	}
	out, err := d.freshHandle(values, level, d.baseScale)
	if err != nil {
		return nil, err
	}
	out.bootstrapped = true
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bootConsumed && level > d.maxExplicit {
		return nil, fmt.Errorf("cannot Encrypt: explicit level %d exceeds the reconciled bootstrap level %d: %w", level, d.maxExplicit, ErrInvalidLevelTarget)
	}
	if !d.usesBootstrap || level < d.minBootLevel {
		d.minBootLevel = level
	}
	if level > d.maxExplicit {
		d.maxExplicit = level
	}
	d.usesBootstrap = true
	return out, nil
}

func (d *ExplicitDepthFinder) Decrypt(ct *Ciphertext) ([]float64, error) {
	return nil, fmt.Errorf("cannot Decrypt: depth finder carries no plaintext: %w", ErrIncompatibleOperands)
}

func (d *ExplicitDepthFinder) rotate(*Ciphertext, int) error         { return nil }
func (d *ExplicitDepthFinder) negate(*Ciphertext) error              { return nil }
func (d *ExplicitDepthFinder) add(_, _ *Ciphertext) error            { return nil }
func (d *ExplicitDepthFinder) sub(_, _ *Ciphertext) error            { return nil }
func (d *ExplicitDepthFinder) addPlain(*Ciphertext, float64) error   { return nil }
func (d *ExplicitDepthFinder) subPlain(*Ciphertext, float64) error   { return nil }
func (d *ExplicitDepthFinder) addPlainVec(*Ciphertext, []float64) error { return nil }
func (d *ExplicitDepthFinder) subPlainVec(*Ciphertext, []float64) error { return nil }
func (d *ExplicitDepthFinder) mul(_, _ *Ciphertext) error            { return nil }
func (d *ExplicitDepthFinder) mulPlain(*Ciphertext, float64) error   { return nil }
func (d *ExplicitDepthFinder) mulPlainVec(*Ciphertext, []float64) error { return nil }
func (d *ExplicitDepthFinder) square(*Ciphertext) error              { return nil }
func (d *ExplicitDepthFinder) reduceLevel(*Ciphertext, int) error    { return nil }
func (d *ExplicitDepthFinder) relinearize(*Ciphertext) error         { return nil }

func (d *ExplicitDepthFinder) rescale(ct *Ciphertext) error {
	if ct.bootstrapped {
		if ct.level <= 0 {
			return fmt.Errorf("explicit-level lineage has no level left below %d: %w", ct.level, ErrInvalidLevelTarget)
		}
		d.mu.Lock()
		d.bootConsumed = true
		d.mu.Unlock()
	}
	ct.scale /= d.baseScale
	return nil
}

func (d *ExplicitDepthFinder) observe(_ string, ct *Ciphertext) error {
	d.mu.Lock()
	if ct.bootstrapped {
		if ct.level < d.minBootLevel {
			d.minBootLevel = ct.level
		}
	} else if ct.level < d.minFresh {
		d.minFresh = ct.level
	}
	d.mu.Unlock()
	return nil
}
