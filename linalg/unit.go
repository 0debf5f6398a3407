// Package linalg implements encrypted linear algebra on top of the heval
// operation vocabulary. Matrices and vectors are tiled into fixed-size
// encoding units, one ciphertext per tile, and the algorithms reduce tiles
// with slot rotations. Because everything is expressed through
// heval.Evaluator, the same code runs encrypted, on cleartext shadows, or
// under any of the analysis evaluators.
package linalg

import (
	"fmt"

	"github.com/hekit/hekit/heval"
)

// EncodingUnit is the geometry of one tile: a rows x cols block of slots in
// row-major order. Both dimensions are powers of two and their product is
// the slot count of the ciphertexts, so one tile fills one ciphertext
// exactly.
type EncodingUnit struct {
	rows, cols int
}

// NewEncodingUnit validates the tile geometry against a slot count.
func NewEncodingUnit(rows, cols, slots int) (EncodingUnit, error) {
	if rows <= 0 || rows&(rows-1) != 0 || cols <= 0 || cols&(cols-1) != 0 {
		return EncodingUnit{}, fmt.Errorf("cannot NewEncodingUnit: %dx%d is not a power-of-two geometry: %w", rows, cols, heval.ErrDimension)
	}
	if rows*cols != slots {
		return EncodingUnit{}, fmt.Errorf("cannot NewEncodingUnit: %dx%d unit does not fill %d slots: %w", rows, cols, slots, heval.ErrDimension)
	}
	return EncodingUnit{rows: rows, cols: cols}, nil
}

func (u EncodingUnit) Rows() int  { return u.rows }
func (u EncodingUnit) Cols() int  { return u.cols }
func (u EncodingUnit) Slots() int { return u.rows * u.cols }

// Transposed returns the unit with its dimensions swapped. The single-tile
// transposed-operand matrix product takes its right operand, and yields its
// result, in this unit.
func (u EncodingUnit) Transposed() EncodingUnit {
	return EncodingUnit{rows: u.cols, cols: u.rows}
}

func (u EncodingUnit) String() string {
	return fmt.Sprintf("%dx%d", u.rows, u.cols)
}

// tileGrid returns how many tiles are needed to cover an object of the
// given logical dimensions.
func (u EncodingUnit) tileGrid(rows, cols int) (int, int) {
	return (rows + u.rows - 1) / u.rows, (cols + u.cols - 1) / u.cols
}
