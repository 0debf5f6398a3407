package heval

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Encoding describes how the slots of a ciphertext relate to a logical
// linear-algebra object. Raw ciphertexts produced by Encrypt carry
// EncodingUnset; the linalg package tags tiles with the other kinds.
type Encoding int

const (
	// EncodingUnset marks a plain slot vector with no linear-algebra shape.
	EncodingUnset Encoding = iota
	// EncodingMatrix marks one tile of an encoded matrix.
	EncodingMatrix
	// EncodingRowVector marks one tile of a row vector, packed as a column
	// of unit tiles with the vector laid down the rows of each tile and
	// replicated across its columns.
	EncodingRowVector
	// EncodingColVector marks one tile of a column vector, packed as a row
	// of unit tiles with the vector laid along the columns of each tile and
	// replicated down its rows.
	EncodingColVector
	// EncodingRowMatrix is the transient state of a row vector that has
	// been multiplied into a matrix but not yet reduced with a row sum.
	// It exists only so that one extra componentwise operation can be
	// applied before the reduction; it is not a real linear-algebra object.
	EncodingRowMatrix
	// EncodingColMatrix is the column-vector counterpart of EncodingRowMatrix.
	EncodingColMatrix
)

func (e Encoding) String() string {
	switch e {
	case EncodingUnset:
		return "Unset"
	case EncodingMatrix:
		return "Matrix"
	case EncodingRowVector:
		return "RowVector"
	case EncodingColVector:
		return "ColVector"
	case EncodingRowMatrix:
		return "RowMatrix"
	case EncodingColMatrix:
		return "ColMatrix"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// intermediate reports whether the encoding is one of the two
// deferred-reduction states.
func (e Encoding) intermediate() bool {
	return e == EncodingRowMatrix || e == EncodingColMatrix
}

func (e Encoding) vector() bool {
	return e == EncodingRowVector || e == EncodingColVector
}

// Shape is the logical and encoded geometry of a ciphertext.
type Shape struct {
	Kind Encoding
	// Height and Width are the logical dimensions of the object this
	// ciphertext belongs to (a vector has one of them set to 1).
	Height, Width int
	// EncodedHeight and EncodedWidth are the dimensions of the encoding
	// unit the tile was packed with. Zero for raw slot vectors.
	EncodedHeight, EncodedWidth int
}

func (s Shape) String() string {
	return fmt.Sprintf("%s %dx%d (unit %dx%d)", s.Kind, s.Height, s.Width, s.EncodedHeight, s.EncodedWidth)
}

// Ciphertext is an opaque handle on one backend ciphertext together with
// the metadata every evaluator tracks about it: level, scale, degree and
// logical shape. Which facets are populated depends on the evaluator that
// produced it: only Homomorphic and Debug attach a backend payload, only
// the plaintext-shadowing evaluators attach a shadow slot vector.
//
// A Ciphertext behaves as a value: every evaluator operation that is not
// explicitly in place returns a new handle and leaves its inputs
// unchanged, and in-place operations mutate only their first operand.
type Ciphertext struct {
	// Shape is mutated by the linalg layer when tagging tiles.
	Shape Shape

	slots  int
	level  int
	scale  float64
	degree int

	ct     *rlwe.Ciphertext
	shadow []float64

	// bootstrapped marks handles whose lineage includes an explicit-level
	// encryption under the explicit depth finder.
	bootstrapped bool
}

// Level returns the tracked position in the modulus chain.
func (c *Ciphertext) Level() int { return c.level }

// Scale returns the tracked nominal scale factor.
func (c *Ciphertext) Scale() float64 { return c.scale }

// Degree returns the tracked ciphertext degree: 1 for a linear ciphertext,
// 2 after a ciphertext-ciphertext multiplication that has not been
// relinearized yet.
func (c *Ciphertext) Degree() int { return c.degree }

// Slots returns the number of plaintext slots the handle spans.
func (c *Ciphertext) Slots() int { return c.slots }

// Shadow returns the plaintext mirror of the encrypted value, or nil if the
// producing evaluator does not maintain one. The returned slice aliases the
// handle's state and must not be modified.
func (c *Ciphertext) Shadow() []float64 { return c.shadow }

// Backend returns the backend ciphertext, or nil under the abstract
// evaluators.
func (c *Ciphertext) Backend() *rlwe.Ciphertext { return c.ct }

// Copy returns a deep copy of the handle. The backend payload is duplicated
// rather than shared, so the copy keeps by-value semantics even though the
// backend's native ciphertext type is reference-like.
func (c *Ciphertext) Copy() *Ciphertext {
	out := *c
	if c.ct != nil {
		out.ct = c.ct.CopyNew()
	}
	if c.shadow != nil {
		out.shadow = append([]float64(nil), c.shadow...)
	}
	return &out
}
