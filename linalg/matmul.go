package linalg

import (
	"fmt"

	"github.com/hekit/hekit/heval"
)

// MulVecMat multiplies a row vector into a matrix: v must have length
// a.Rows(), the result holds v*A as a column vector of length a.Cols().
// The replicated vector packing turns the product into one slotwise
// multiplication per tile followed by a free row reduction, so the whole
// product costs a single level. The operands must be at the same level.
func (e *Engine) MulVecMat(v *EncryptedRowVector, a *EncryptedMatrix) (*EncryptedColVector, error) {
	if v.unit != a.unit || v.n != a.rows {
		return nil, fmt.Errorf("cannot MulVecMat: %s vs %s: %w", describe(v), describe(a), heval.ErrIncompatibleOperands)
	}
	gr, gc := len(a.grid), len(a.grid[0])
	tls := make([]*heval.Ciphertext, gc)
	err := e.run(gc, func(c int) error {
		prods := make([]*heval.Ciphertext, gr)
		for r := 0; r < gr; r++ {
			p, err := e.ev.MulNew(v.tls[r], a.grid[r][c])
			if err != nil {
				return err
			}
			prods[r] = p
		}
		acc, err := e.ev.AddMany(prods)
		if err != nil {
			return err
		}
		if err := e.ev.Relinearize(acc); err != nil {
			return err
		}
		if err := e.ev.Rescale(acc); err != nil {
			return err
		}
		if err := e.reduceRowsTile(e.unit, acc); err != nil {
			return err
		}
		acc.Shape = e.colVectorShape(a.cols)
		tls[c] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedColVector{unit: e.unit, n: a.cols, tls: tls}, nil
}

// MulMatVec multiplies a matrix into a column vector, scaled by c: w must
// have length a.Cols(), the result holds c*A*w as a row vector of length
// a.Rows(). Costs two levels: one for the slotwise products and one for the
// mask of the column reduction. The operands must be at the same level.
func (e *Engine) MulMatVec(a *EncryptedMatrix, w *EncryptedColVector, c float64) (*EncryptedRowVector, error) {
	if w.unit != a.unit || w.n != a.cols {
		return nil, fmt.Errorf("cannot MulMatVec: %s vs %s: %w", describe(a), describe(w), heval.ErrIncompatibleOperands)
	}
	gr, gc := len(a.grid), len(a.grid[0])
	tls := make([]*heval.Ciphertext, gr)
	err := e.run(gr, func(r int) error {
		prods := make([]*heval.Ciphertext, gc)
		for k := 0; k < gc; k++ {
			p, err := e.ev.MulNew(w.tls[k], a.grid[r][k])
			if err != nil {
				return err
			}
			prods[k] = p
		}
		acc, err := e.ev.AddMany(prods)
		if err != nil {
			return err
		}
		if err := e.ev.Relinearize(acc); err != nil {
			return err
		}
		if err := e.ev.Rescale(acc); err != nil {
			return err
		}
		if err := e.reduceColsTile(e.unit, acc, c); err != nil {
			return err
		}
		acc.Shape = e.rowVectorShape(a.rows)
		tls[r] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedRowVector{unit: e.unit, n: a.rows, tls: tls}, nil
}

// ExtractRow isolates row k of a matrix as a column vector of length
// a.Cols(). Costs one level for the row mask.
func (e *Engine) ExtractRow(a *EncryptedMatrix, k int) (*EncryptedColVector, error) {
	if k < 0 || k >= a.rows {
		return nil, fmt.Errorf("cannot ExtractRow: row %d of %s: %w", k, describe(a), heval.ErrDimension)
	}
	r, i0 := k/e.unit.rows, k%e.unit.rows
	gc := len(a.grid[0])
	tls := make([]*heval.Ciphertext, gc)
	err := e.run(gc, func(c int) error {
		ct, err := e.ev.MulPlainVecNew(a.grid[r][c], rowMask(e.unit, i0, 1))
		if err != nil {
			return err
		}
		if err := e.ev.Rescale(ct); err != nil {
			return err
		}
		if err := e.ev.RotateLeft(ct, i0*e.unit.cols); err != nil {
			return err
		}
		if err := e.replicateRows(e.unit, ct); err != nil {
			return err
		}
		ct.Shape = e.colVectorShape(a.cols)
		tls[c] = ct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedColVector{unit: e.unit, n: a.cols, tls: tls}, nil
}

// ExtractCol isolates column k of a matrix as a row vector of length
// a.Rows(). Costs one level for the column mask.
func (e *Engine) ExtractCol(a *EncryptedMatrix, k int) (*EncryptedRowVector, error) {
	if k < 0 || k >= a.cols {
		return nil, fmt.Errorf("cannot ExtractCol: column %d of %s: %w", k, describe(a), heval.ErrDimension)
	}
	c, j0 := k/e.unit.cols, k%e.unit.cols
	gr := len(a.grid)
	tls := make([]*heval.Ciphertext, gr)
	err := e.run(gr, func(r int) error {
		ct, err := e.ev.MulPlainVecNew(a.grid[r][c], colMask(e.unit, j0, 1))
		if err != nil {
			return err
		}
		if err := e.ev.Rescale(ct); err != nil {
			return err
		}
		if err := e.ev.RotateLeft(ct, j0); err != nil {
			return err
		}
		if err := e.replicateCols(e.unit, ct); err != nil {
			return err
		}
		ct.Shape = e.rowVectorShape(a.rows)
		tls[r] = ct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedRowVector{unit: e.unit, n: a.rows, tls: tls}, nil
}

// MatMul multiplies two encrypted matrices, scaled by c. The left operand
// is passed transposed: aTrans holds the s x t transpose of A, so the
// result is the t x u matrix c*A*B with u = b.Cols(). Row i of A is pulled
// out of aTrans as a replicated row vector, multiplied through B, masked
// into its output row and accumulated; the whole product costs three
// levels regardless of dimensions.
func (e *Engine) MatMul(aTrans, b *EncryptedMatrix, c float64) (*EncryptedMatrix, error) {
	s, t := aTrans.rows, aTrans.cols
	if b.rows != s {
		return nil, fmt.Errorf("cannot MatMul: inner dimensions %d and %d differ: %w", s, b.rows, heval.ErrIncompatibleOperands)
	}
	if aTrans.unit != e.unit || b.unit != e.unit {
		return nil, fmt.Errorf("cannot MatMul: operands not in unit %v: %w", e.unit, heval.ErrIncompatibleOperands)
	}

	// Align the operands, with b one level lower to meet the extracted
	// rows after their mask rescaling.
	lmin := aTrans.Level()
	if b.Level() < lmin {
		lmin = b.Level()
	}
	left := aTrans
	if left.Level() > lmin {
		left = aTrans.Copy()
		if err := e.ReduceLevel(left, lmin); err != nil {
			return nil, err
		}
	}
	bb := b.Copy()
	if err := e.ReduceLevel(bb, lmin-1); err != nil {
		return nil, err
	}

	gcOut := len(b.grid[0])
	contribs := make([][]*heval.Ciphertext, t)
	err := e.run(t, func(i int) error {
		row, err := e.ExtractCol(left, i)
		if err != nil {
			return err
		}
		out, err := e.MulVecMat(row, bb)
		if err != nil {
			return err
		}
		masked := make([]*heval.Ciphertext, gcOut)
		for col := 0; col < gcOut; col++ {
			m, err := e.ev.MulPlainVecNew(out.tls[col], rowMask(e.unit, i%e.unit.rows, c))
			if err != nil {
				return err
			}
			m.Shape = e.matrixShape(t, b.cols)
			masked[col] = m
		}
		contribs[i] = masked
		return nil
	})
	if err != nil {
		return nil, err
	}

	grOut, _ := e.unit.tileGrid(t, b.cols)
	grid := make([][]*heval.Ciphertext, grOut)
	err = e.run(grOut, func(r int) error {
		grid[r] = make([]*heval.Ciphertext, gcOut)
		for col := 0; col < gcOut; col++ {
			ops := make([]*heval.Ciphertext, 0, e.unit.rows)
			for i := r * e.unit.rows; i < (r+1)*e.unit.rows && i < t; i++ {
				ops = append(ops, contribs[i][col])
			}
			acc, err := e.ev.AddMany(ops)
			if err != nil {
				return err
			}
			if err := e.ev.Rescale(acc); err != nil {
				return err
			}
			grid[r][col] = acc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedMatrix{unit: e.unit, rows: t, cols: b.cols, grid: grid}, nil
}

// MatMulUnitTranspose is the single-tile matrix product: aTrans holds the
// transpose of A in the engine unit and b holds B in the transposed unit,
// each in one tile. Encrypt b through a second engine built around
// Unit().Transposed(). Column k of aTrans is gathered slot by slot into the
// transposed unit's replicated row-vector packing, so no intermediate has
// to leave the tile; like MatMul it costs three levels, but the final
// rescale is shared across all output rows. The result is c*A*B in the
// transposed unit.
func (e *Engine) MatMulUnitTranspose(aTrans, b *EncryptedMatrix, c float64) (*EncryptedMatrix, error) {
	ut := e.unit.Transposed()
	s, t := aTrans.rows, aTrans.cols
	switch {
	case len(aTrans.grid) != 1 || len(aTrans.grid[0]) != 1:
		return nil, fmt.Errorf("cannot MatMulUnitTranspose: %s spans several tiles: %w", describe(aTrans), heval.ErrDimension)
	case len(b.grid) != 1 || len(b.grid[0]) != 1:
		return nil, fmt.Errorf("cannot MatMulUnitTranspose: %s spans several tiles: %w", describe(b), heval.ErrDimension)
	case aTrans.unit != e.unit:
		return nil, fmt.Errorf("cannot MatMulUnitTranspose: left operand not in unit %v: %w", e.unit, heval.ErrIncompatibleOperands)
	case b.unit != ut:
		return nil, fmt.Errorf("cannot MatMulUnitTranspose: right operand not in unit %v: %w", ut, heval.ErrIncompatibleOperands)
	case b.rows != s:
		return nil, fmt.Errorf("cannot MatMulUnitTranspose: inner dimensions %d and %d differ: %w", s, b.rows, heval.ErrIncompatibleOperands)
	case t > ut.rows || b.cols > ut.cols:
		return nil, fmt.Errorf("cannot MatMulUnitTranspose: %dx%d result does not fit unit %v: %w", t, b.cols, ut, heval.ErrDimension)
	}

	lmin := aTrans.Level()
	if b.Level() < lmin {
		lmin = b.Level()
	}
	a0 := aTrans.grid[0][0]
	if a0.Level() > lmin {
		a0 = a0.Copy()
		if err := e.ev.ReduceLevel(a0, lmin); err != nil {
			return nil, err
		}
	}
	bb := b.grid[0][0].Copy()
	if err := e.ev.ReduceLevel(bb, lmin-1); err != nil {
		return nil, err
	}

	n, m := e.unit.cols, e.unit.rows
	contribs := make([]*heval.Ciphertext, t)
	err := e.run(t, func(k int) error {
		// Gather column k of aTrans into column 0 of the transposed unit:
		// slot i*n+k carries A[k][i] and moves to slot i*m.
		parts := make([]*heval.Ciphertext, s)
		for i := 0; i < s; i++ {
			p, err := e.ev.MulPlainVecNew(a0, slotMask(e.unit, i*n+k, 1))
			if err != nil {
				return err
			}
			switch off := i*(n-m) + k; {
			case off > 0:
				err = e.ev.RotateLeft(p, off)
			case off < 0:
				err = e.ev.RotateRight(p, -off)
			}
			if err != nil {
				return err
			}
			parts[i] = p
		}
		row, err := e.ev.AddMany(parts)
		if err != nil {
			return err
		}
		if err := e.ev.Rescale(row); err != nil {
			return err
		}
		if err := e.replicateCols(ut, row); err != nil {
			return err
		}
		row.Shape = heval.Shape{
			Kind:          heval.EncodingRowVector,
			Height:        1,
			Width:         s,
			EncodedHeight: ut.rows,
			EncodedWidth:  ut.cols,
		}

		prod, err := e.ev.MulNew(row, bb)
		if err != nil {
			return err
		}
		if err := e.ev.Relinearize(prod); err != nil {
			return err
		}
		if err := e.ev.Rescale(prod); err != nil {
			return err
		}
		if err := e.reduceRowsTile(ut, prod); err != nil {
			return err
		}

		if err := e.ev.MulPlainVec(prod, rowMask(ut, k, c)); err != nil {
			return err
		}
		prod.Shape = heval.Shape{
			Kind:          heval.EncodingMatrix,
			Height:        t,
			Width:         b.cols,
			EncodedHeight: ut.rows,
			EncodedWidth:  ut.cols,
		}
		contribs[k] = prod
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err := e.ev.AddMany(contribs)
	if err != nil {
		return nil, err
	}
	if err := e.ev.Rescale(out); err != nil {
		return nil, err
	}
	return &EncryptedMatrix{unit: ut, rows: t, cols: b.cols, grid: [][]*heval.Ciphertext{{out}}}, nil
}
