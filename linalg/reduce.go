package linalg

import (
	"github.com/hekit/hekit/heval"
)

// Tile-level rotation reductions. Slots are row-major, so rotating by a
// multiple of the unit width moves whole rows and stays within columns,
// while rotating by less than the width moves along rows. The rotate-and-add
// ladders below run log2 steps and consume no level; only the column
// reduction pays one level for the mask that cuts away the slots its ladder
// contaminates.

// reduceRowsTile folds all rows of a tile into every row: afterwards each
// slot (i,j) holds the sum over rows of column j.
func (e *Engine) reduceRowsTile(u EncodingUnit, acc *heval.Ciphertext) error {
	for k := u.cols; k < u.Slots(); k <<= 1 {
		rot, err := e.ev.RotateLeftNew(acc, k)
		if err != nil {
			return err
		}
		if err := e.ev.Add(acc, rot); err != nil {
			return err
		}
	}
	return nil
}

// reduceColsTile folds the columns of a tile into column 0, scales by c,
// and replicates the result back across all columns: afterwards each slot
// (i,j) holds c times the sum over columns of row i. Costs one level.
func (e *Engine) reduceColsTile(u EncodingUnit, acc *heval.Ciphertext, c float64) error {
	for k := 1; k < u.cols; k <<= 1 {
		rot, err := e.ev.RotateLeftNew(acc, k)
		if err != nil {
			return err
		}
		if err := e.ev.Add(acc, rot); err != nil {
			return err
		}
	}
	// The ladder runs across row boundaries, so only column 0 holds clean
	// row sums; mask it (folding in the scalar) and rescale.
	if err := e.ev.MulPlainVec(acc, colMask(u, 0, c)); err != nil {
		return err
	}
	if err := e.ev.Rescale(acc); err != nil {
		return err
	}
	return e.replicateCols(u, acc)
}

// replicateCols spreads column 0 across all columns of a tile. All other
// columns must be zero.
func (e *Engine) replicateCols(u EncodingUnit, ct *heval.Ciphertext) error {
	for k := 1; k < u.cols; k <<= 1 {
		rot, err := e.ev.RotateRightNew(ct, k)
		if err != nil {
			return err
		}
		if err := e.ev.Add(ct, rot); err != nil {
			return err
		}
	}
	return nil
}

// replicateRows spreads row 0 down all rows of a tile. All other rows must
// be zero.
func (e *Engine) replicateRows(u EncodingUnit, ct *heval.Ciphertext) error {
	for k := u.cols; k < u.Slots(); k <<= 1 {
		rot, err := e.ev.RotateRightNew(ct, k)
		if err != nil {
			return err
		}
		if err := e.ev.Add(ct, rot); err != nil {
			return err
		}
	}
	return nil
}

// SumRows sums the rows of a matrix, yielding the column totals as a
// column vector of length Cols. Consumes no level.
func (e *Engine) SumRows(m *EncryptedMatrix) (*EncryptedColVector, error) {
	return e.SumRowsMany([]*EncryptedMatrix{m})
}

// SumRowsMany sums the rows of the elementwise sum of several matrices of
// the same dimensions, paying the rotation ladder only once.
func (e *Engine) SumRowsMany(ms []*EncryptedMatrix) (*EncryptedColVector, error) {
	if err := checkMatrixBatch(ms); err != nil {
		return nil, err
	}
	first := ms[0]
	gc := len(first.grid[0])
	tls := make([]*heval.Ciphertext, gc)
	err := e.run(gc, func(c int) error {
		ops := make([]*heval.Ciphertext, 0, len(ms)*len(first.grid))
		for _, m := range ms {
			for r := range m.grid {
				ops = append(ops, m.grid[r][c])
			}
		}
		acc, err := e.ev.AddMany(ops)
		if err != nil {
			return err
		}
		if err := e.reduceRowsTile(e.unit, acc); err != nil {
			return err
		}
		acc.Shape = e.colVectorShape(first.cols)
		tls[c] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedColVector{unit: e.unit, n: first.cols, tls: tls}, nil
}

// SumCols sums the columns of a matrix scaled by c, yielding c times the
// row totals as a row vector of length Rows. Consumes one level.
func (e *Engine) SumCols(m *EncryptedMatrix, c float64) (*EncryptedRowVector, error) {
	return e.SumColsMany([]*EncryptedMatrix{m}, c)
}

// SumColsMany sums the columns of the elementwise sum of several matrices
// of the same dimensions, scaled by c.
func (e *Engine) SumColsMany(ms []*EncryptedMatrix, c float64) (*EncryptedRowVector, error) {
	if err := checkMatrixBatch(ms); err != nil {
		return nil, err
	}
	first := ms[0]
	gr := len(first.grid)
	tls := make([]*heval.Ciphertext, gr)
	err := e.run(gr, func(r int) error {
		ops := make([]*heval.Ciphertext, 0, len(ms)*len(first.grid[0]))
		for _, m := range ms {
			ops = append(ops, m.grid[r]...)
		}
		acc, err := e.ev.AddMany(ops)
		if err != nil {
			return err
		}
		if err := e.reduceColsTile(e.unit, acc, c); err != nil {
			return err
		}
		acc.Shape = e.rowVectorShape(first.rows)
		tls[r] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedRowVector{unit: e.unit, n: first.rows, tls: tls}, nil
}

func checkMatrixBatch(ms []*EncryptedMatrix) error {
	if len(ms) == 0 {
		return errEmptyBatch()
	}
	for _, m := range ms[1:] {
		if err := compatible(ms[0], m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) rowVectorShape(n int) heval.Shape {
	return heval.Shape{
		Kind:          heval.EncodingRowVector,
		Height:        1,
		Width:         n,
		EncodedHeight: e.unit.rows,
		EncodedWidth:  e.unit.cols,
	}
}

func (e *Engine) colVectorShape(n int) heval.Shape {
	return heval.Shape{
		Kind:          heval.EncodingColVector,
		Height:        n,
		Width:         1,
		EncodedHeight: e.unit.rows,
		EncodedWidth:  e.unit.cols,
	}
}

func (e *Engine) matrixShape(rows, cols int) heval.Shape {
	return heval.Shape{
		Kind:          heval.EncodingMatrix,
		Height:        rows,
		Width:         cols,
		EncodedHeight: e.unit.rows,
		EncodedWidth:  e.unit.cols,
	}
}
