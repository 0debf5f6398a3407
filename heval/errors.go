package heval

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes surfaced by this package. All
// errors returned by evaluators wrap one of these, so callers can sort
// failures with errors.Is. None of them is recoverable at the point it is
// raised: a miscomputed level or scale silently propagated would corrupt
// every downstream operation, so the circuit (or its parameters) must be
// fixed and the computation re-run from scratch.
var (
	// ErrIncompatibleOperands reports a shape or encoding mismatch between
	// two operands. Always detected before either operand is mutated, and
	// always a circuit-author bug.
	ErrIncompatibleOperands = errors.New("incompatible operands")

	// ErrLevelMismatch reports two operands at different levels. Resolved
	// by explicit ReduceLevel/ReduceLevelMin calls on the caller side.
	ErrLevelMismatch = errors.New("level mismatch")

	// ErrInvalidLevelTarget reports a level-manipulation request that would
	// raise a ciphertext's level, or a rescale below the lowest level.
	ErrInvalidLevelTarget = errors.New("invalid level target")

	// ErrScaleOverflow reports that a plaintext value exceeds the encoding
	// safety ceiling regardless of scale choice. The circuit itself must
	// change; no parameter choice can work around it.
	ErrScaleOverflow = errors.New("scale overflow")

	// ErrDivergence reports that the Debug evaluator's cross-check between
	// tracked and actual state failed. Unlike every other class, this
	// indicates a bug in an evaluator or the backend binding, not in the
	// circuit under evaluation.
	ErrDivergence = errors.New("interpreter divergence")

	// ErrDimension reports a tiling or decoding size mismatch in the
	// linear-algebra layer (empty input, ragged rows, trim past the data).
	ErrDimension = errors.New("dimension error")
)

// DivergenceError carries the full diagnostic state of a failed Debug
// cross-check: which assertion failed, the tracked (expected) and backend
// (actual) values, and error statistics over the decrypted slots.
type DivergenceError struct {
	Op    string // vocabulary operation during which the check failed
	Check string // "level", "scale" or "plaintext"

	ExpectedLevel, ActualLevel int
	ExpectedScale, ActualScale float64

	// Expected and Actual hold the shadow plaintext and the decryption,
	// truncated to at most maxDiagSlots entries for readability.
	Expected, Actual []float64

	MaxErr, MeanErr float64
}

const maxDiagSlots = 8

func (e *DivergenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %s check failed during %s", ErrDivergence, e.Check, e.Op)
	switch e.Check {
	case "level":
		fmt.Fprintf(&b, ": expected level %d, backend reports %d", e.ExpectedLevel, e.ActualLevel)
	case "scale":
		fmt.Fprintf(&b, ": expected scale %g (or its square), backend reports %g", e.ExpectedScale, e.ActualScale)
	case "plaintext":
		fmt.Fprintf(&b, ": max relative error %.3e (mean %.3e)", e.MaxErr, e.MeanErr)
		fmt.Fprintf(&b, "\n  expected %v", e.Expected)
		fmt.Fprintf(&b, "\n  actual   %v", e.Actual)
	}
	return b.String()
}

func (e *DivergenceError) Unwrap() error { return ErrDivergence }

// truncateDiag clips a slot vector for inclusion in a DivergenceError.
func truncateDiag(v []float64) []float64 {
	if len(v) <= maxDiagSlots {
		return append([]float64(nil), v...)
	}
	return append([]float64(nil), v[:maxDiagSlots]...)
}
