package linalg

import (
	"fmt"

	"github.com/hekit/hekit/heval"
)

// compatible reports whether two encrypted objects have the same type,
// logical dimensions and unit.
func compatible(a, b Encrypted) error {
	if a.Unit() != b.Unit() {
		return fmt.Errorf("units %v and %v differ: %w", a.Unit(), b.Unit(), heval.ErrIncompatibleOperands)
	}
	switch x := a.(type) {
	case *EncryptedMatrix:
		y, ok := b.(*EncryptedMatrix)
		if !ok || x.rows != y.rows || x.cols != y.cols {
			return fmt.Errorf("%s vs %s: %w", describe(a), describe(b), heval.ErrIncompatibleOperands)
		}
	case *EncryptedRowVector:
		y, ok := b.(*EncryptedRowVector)
		if !ok || x.n != y.n {
			return fmt.Errorf("%s vs %s: %w", describe(a), describe(b), heval.ErrIncompatibleOperands)
		}
	case *EncryptedColVector:
		y, ok := b.(*EncryptedColVector)
		if !ok || x.n != y.n {
			return fmt.Errorf("%s vs %s: %w", describe(a), describe(b), heval.ErrIncompatibleOperands)
		}
	default:
		return fmt.Errorf("unknown operand type %T: %w", a, heval.ErrIncompatibleOperands)
	}
	return nil
}

func errEmptyBatch() error {
	return fmt.Errorf("empty batch: %w", heval.ErrDimension)
}

func describe(a Encrypted) string {
	switch x := a.(type) {
	case *EncryptedMatrix:
		return fmt.Sprintf("matrix %dx%d", x.rows, x.cols)
	case *EncryptedRowVector:
		return fmt.Sprintf("row vector %d", x.n)
	case *EncryptedColVector:
		return fmt.Sprintf("column vector %d", x.n)
	default:
		return fmt.Sprintf("%T", a)
	}
}

// mapTiles applies f tile-wise over a's tiles, honoring the dispatch
// policy, and rebuilds a container of a's type around the results.
func (e *Engine) mapTiles(a Encrypted, f func(ct *heval.Ciphertext) (*heval.Ciphertext, error)) (Encrypted, error) {
	in := a.tiles()
	out := make([]*heval.Ciphertext, len(in))
	err := e.run(len(in), func(i int) error {
		ct, err := f(in[i])
		out[i] = ct
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.withTiles(out), nil
}

func (e *Engine) zipTiles(a, b Encrypted, f func(x, y *heval.Ciphertext) (*heval.Ciphertext, error)) (Encrypted, error) {
	if err := compatible(a, b); err != nil {
		return nil, err
	}
	at, bt := a.tiles(), b.tiles()
	out := make([]*heval.Ciphertext, len(at))
	err := e.run(len(at), func(i int) error {
		ct, err := f(at[i], bt[i])
		out[i] = ct
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.withTiles(out), nil
}

// Add returns a + b. The operands must have the same type and dimensions.
func (e *Engine) Add(a, b Encrypted) (Encrypted, error) {
	return e.zipTiles(a, b, e.ev.AddNew)
}

// Sub returns a - b.
func (e *Engine) Sub(a, b Encrypted) (Encrypted, error) {
	return e.zipTiles(a, b, e.ev.SubNew)
}

// AddMany sums any number of compatible objects.
func (e *Engine) AddMany(vs []Encrypted) (Encrypted, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("cannot AddMany: no operands: %w", heval.ErrDimension)
	}
	for _, v := range vs[1:] {
		if err := compatible(vs[0], v); err != nil {
			return nil, err
		}
	}
	n := len(vs[0].tiles())
	out := make([]*heval.Ciphertext, n)
	err := e.run(n, func(i int) error {
		ops := make([]*heval.Ciphertext, len(vs))
		for t, v := range vs {
			ops[t] = v.tiles()[i]
		}
		ct, err := e.ev.AddMany(ops)
		out[i] = ct
		return err
	})
	if err != nil {
		return nil, err
	}
	return vs[0].withTiles(out), nil
}

// AddPlain adds a cleartext object of the same shape slot-wise: a
// [][]float64 for encrypted matrices, a []float64 for encrypted vectors.
// The cleartext goes through the same tiling as the ciphertext, so
// replication and padding line up exactly. Consumes no level.
func (e *Engine) AddPlain(a Encrypted, p any) (Encrypted, error) {
	tiles, err := plainTiles(a, p)
	if err != nil {
		return nil, err
	}
	in := a.tiles()
	out := make([]*heval.Ciphertext, len(in))
	err = e.run(len(in), func(i int) error {
		ct, err := e.ev.AddPlainVecNew(in[i], tiles[i])
		out[i] = ct
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.withTiles(out), nil
}

// plainTiles encodes a cleartext operand with a's tiling, flattened in
// tiles() order.
func plainTiles(a Encrypted, p any) ([][]float64, error) {
	switch x := a.(type) {
	case *EncryptedMatrix:
		m, ok := p.([][]float64)
		if !ok || len(m) != x.rows || len(m[0]) != x.cols {
			return nil, fmt.Errorf("cannot AddPlain: %s needs a %dx%d [][]float64: %w", describe(a), x.rows, x.cols, heval.ErrIncompatibleOperands)
		}
		grid, err := encodeMatrixTiles(x.unit, m)
		if err != nil {
			return nil, err
		}
		tiles := make([][]float64, 0, len(grid)*len(grid[0]))
		for r := range grid {
			tiles = append(tiles, grid[r]...)
		}
		return tiles, nil
	case *EncryptedRowVector:
		v, ok := p.([]float64)
		if !ok || len(v) != x.n {
			return nil, fmt.Errorf("cannot AddPlain: %s needs a []float64 of length %d: %w", describe(a), x.n, heval.ErrIncompatibleOperands)
		}
		return encodeRowVectorTiles(x.unit, v)
	case *EncryptedColVector:
		v, ok := p.([]float64)
		if !ok || len(v) != x.n {
			return nil, fmt.Errorf("cannot AddPlain: %s needs a []float64 of length %d: %w", describe(a), x.n, heval.ErrIncompatibleOperands)
		}
		return encodeColVectorTiles(x.unit, v)
	}
	return nil, fmt.Errorf("unknown operand type %T: %w", a, heval.ErrIncompatibleOperands)
}

// AddScalar adds c to every logical entry of a. The scalar enters through a
// mask over the slots the object actually uses, so padding slots stay zero
// and later reductions remain exact. Consumes no level.
func (e *Engine) AddScalar(a Encrypted, c float64) (Encrypted, error) {
	masks := tileMasks(a, c)
	in := a.tiles()
	out := make([]*heval.Ciphertext, len(in))
	err := e.run(len(in), func(i int) error {
		ct, err := e.ev.AddPlainVecNew(in[i], masks[i])
		out[i] = ct
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.withTiles(out), nil
}

// tileMasks builds the per-tile used-slot masks of an object, flattened in
// tiles() order.
func tileMasks(a Encrypted, c float64) [][]float64 {
	switch x := a.(type) {
	case *EncryptedMatrix:
		masks := make([][]float64, 0, len(x.grid)*len(x.grid[0]))
		for r := range x.grid {
			for col := range x.grid[r] {
				masks = append(masks, matrixTileMask(x.unit, x.rows, x.cols, r, col, c))
			}
		}
		return masks
	case *EncryptedRowVector:
		masks := make([][]float64, len(x.tls))
		for t := range masks {
			masks[t] = rowVectorTileMask(x.unit, x.n, t, c)
		}
		return masks
	case *EncryptedColVector:
		masks := make([][]float64, len(x.tls))
		for t := range masks {
			masks[t] = colVectorTileMask(x.unit, x.n, t, c)
		}
		return masks
	}
	return nil
}

// Negate returns -a without consuming a level.
func (e *Engine) Negate(a Encrypted) (Encrypted, error) {
	return e.mapTiles(a, e.ev.NegateNew)
}

// MulScalar returns c*a, consuming one level.
func (e *Engine) MulScalar(a Encrypted, c float64) (Encrypted, error) {
	return e.mapTiles(a, func(ct *heval.Ciphertext) (*heval.Ciphertext, error) {
		out, err := e.ev.MulPlainNew(ct, c)
		if err != nil {
			return nil, err
		}
		return out, e.ev.Rescale(out)
	})
}

// HadamardMul returns the slotwise product of two objects of the same type
// and dimensions, relinearized and rescaled: one level.
func (e *Engine) HadamardMul(a, b Encrypted) (Encrypted, error) {
	return e.zipTiles(a, b, func(x, y *heval.Ciphertext) (*heval.Ciphertext, error) {
		out, err := e.ev.MulNew(x, y)
		if err != nil {
			return nil, err
		}
		if err := e.ev.Relinearize(out); err != nil {
			return nil, err
		}
		return out, e.ev.Rescale(out)
	})
}

// HadamardSquare squares each slot of a, relinearized and rescaled: one
// level.
func (e *Engine) HadamardSquare(a Encrypted) (Encrypted, error) {
	return e.mapTiles(a, func(ct *heval.Ciphertext) (*heval.Ciphertext, error) {
		out, err := e.ev.SquareNew(ct)
		if err != nil {
			return nil, err
		}
		if err := e.ev.Relinearize(out); err != nil {
			return nil, err
		}
		return out, e.ev.Rescale(out)
	})
}

// ReduceLevel lowers all tiles of a to the target level in place.
func (e *Engine) ReduceLevel(a Encrypted, target int) error {
	tls := a.tiles()
	return e.run(len(tls), func(i int) error {
		return e.ev.ReduceLevel(tls[i], target)
	})
}

// ReduceLevelMin lowers whichever of a, b sits higher to the level of the
// other, in place.
func (e *Engine) ReduceLevelMin(a, b Encrypted) error {
	la, lb := a.Level(), b.Level()
	switch {
	case la > lb:
		return e.ReduceLevel(a, lb)
	case lb > la:
		return e.ReduceLevel(b, la)
	}
	return nil
}

// Rescale rescales all tiles in place.
func (e *Engine) Rescale(a Encrypted) error {
	tls := a.tiles()
	return e.run(len(tls), func(i int) error {
		return e.ev.Rescale(tls[i])
	})
}

// Relinearize relinearizes all tiles in place.
func (e *Engine) Relinearize(a Encrypted) error {
	tls := a.tiles()
	return e.run(len(tls), func(i int) error {
		return e.ev.Relinearize(tls[i])
	})
}
