package linalg

import (
	"fmt"

	"github.com/hekit/hekit/heval"
)

// Encrypted is any tiled encrypted linear-algebra object. Level and scale
// management applies uniformly across all tiles of an object.
type Encrypted interface {
	Unit() EncodingUnit
	// Level returns the modulus-chain level shared by all tiles.
	Level() int
	tiles() []*heval.Ciphertext
	// withTiles rebuilds the container around a new flat tile slice of the
	// same length.
	withTiles(tls []*heval.Ciphertext) Encrypted
}

// EncryptedMatrix is a rows x cols matrix tiled into a grid of ciphertexts.
type EncryptedMatrix struct {
	unit       EncodingUnit
	rows, cols int
	grid       [][]*heval.Ciphertext
}

func (m *EncryptedMatrix) Unit() EncodingUnit { return m.unit }
func (m *EncryptedMatrix) Rows() int          { return m.rows }
func (m *EncryptedMatrix) Cols() int          { return m.cols }
func (m *EncryptedMatrix) Level() int         { return m.grid[0][0].Level() }

func (m *EncryptedMatrix) tiles() []*heval.Ciphertext {
	out := make([]*heval.Ciphertext, 0, len(m.grid)*len(m.grid[0]))
	for _, row := range m.grid {
		out = append(out, row...)
	}
	return out
}

func (m *EncryptedMatrix) withTiles(tls []*heval.Ciphertext) Encrypted {
	grid := make([][]*heval.Ciphertext, len(m.grid))
	for r := range grid {
		grid[r] = tls[r*len(m.grid[0]) : (r+1)*len(m.grid[0])]
	}
	return &EncryptedMatrix{unit: m.unit, rows: m.rows, cols: m.cols, grid: grid}
}

// Copy returns a deep copy.
func (m *EncryptedMatrix) Copy() *EncryptedMatrix {
	grid := make([][]*heval.Ciphertext, len(m.grid))
	for r := range grid {
		grid[r] = make([]*heval.Ciphertext, len(m.grid[r]))
		for c := range grid[r] {
			grid[r][c] = m.grid[r][c].Copy()
		}
	}
	return &EncryptedMatrix{unit: m.unit, rows: m.rows, cols: m.cols, grid: grid}
}

// EncryptedRowVector is a vector packed down the rows of a column of tiles.
type EncryptedRowVector struct {
	unit EncodingUnit
	n    int
	tls  []*heval.Ciphertext
}

func (v *EncryptedRowVector) Unit() EncodingUnit { return v.unit }
func (v *EncryptedRowVector) Len() int           { return v.n }
func (v *EncryptedRowVector) Level() int         { return v.tls[0].Level() }

func (v *EncryptedRowVector) tiles() []*heval.Ciphertext { return v.tls }

func (v *EncryptedRowVector) withTiles(tls []*heval.Ciphertext) Encrypted {
	return &EncryptedRowVector{unit: v.unit, n: v.n, tls: tls}
}

func (v *EncryptedRowVector) Copy() *EncryptedRowVector {
	return &EncryptedRowVector{unit: v.unit, n: v.n, tls: copyTiles(v.tls)}
}

// EncryptedColVector is a vector packed along the columns of a row of tiles.
type EncryptedColVector struct {
	unit EncodingUnit
	n    int
	tls  []*heval.Ciphertext
}

func (v *EncryptedColVector) Unit() EncodingUnit { return v.unit }
func (v *EncryptedColVector) Len() int           { return v.n }
func (v *EncryptedColVector) Level() int         { return v.tls[0].Level() }

func (v *EncryptedColVector) tiles() []*heval.Ciphertext { return v.tls }

func (v *EncryptedColVector) withTiles(tls []*heval.Ciphertext) Encrypted {
	return &EncryptedColVector{unit: v.unit, n: v.n, tls: tls}
}

func (v *EncryptedColVector) Copy() *EncryptedColVector {
	return &EncryptedColVector{unit: v.unit, n: v.n, tls: copyTiles(v.tls)}
}

func copyTiles(in []*heval.Ciphertext) []*heval.Ciphertext {
	out := make([]*heval.Ciphertext, len(in))
	for i := range in {
		out[i] = in[i].Copy()
	}
	return out
}

// Engine binds the linear-algebra algorithms to an evaluator and a tile
// geometry. All algorithms go through the evaluator interface, so the
// engine computes encrypted results under heval.Homomorphic, exact
// cleartext results under heval.PlaintextEval, and circuit facts under the
// analysis evaluators.
type Engine struct {
	ev   heval.Instance
	unit EncodingUnit

	policy  Policy
	workers int
}

// NewEngine validates that the unit fills the evaluator's ciphertexts.
func NewEngine(ev heval.Instance, unit EncodingUnit, opts ...Option) (*Engine, error) {
	if unit.Slots() != ev.Slots() {
		return nil, fmt.Errorf("cannot NewEngine: unit %v does not fill %d slots: %w", unit, ev.Slots(), heval.ErrDimension)
	}
	e := &Engine{ev: ev, unit: unit, policy: Sequential}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Unit returns the engine's tile geometry.
func (e *Engine) Unit() EncodingUnit { return e.unit }

// Evaluator returns the evaluator the engine is bound to.
func (e *Engine) Evaluator() heval.Instance { return e.ev }

// EncryptMatrix tiles and encrypts a matrix.
func (e *Engine) EncryptMatrix(a [][]float64) (*EncryptedMatrix, error) {
	return e.encryptMatrix(a, e.ev.Encrypt)
}

// EncryptMatrixAtLevel tiles and encrypts a matrix directly at the given
// level.
func (e *Engine) EncryptMatrixAtLevel(a [][]float64, level int) (*EncryptedMatrix, error) {
	return e.encryptMatrix(a, func(v []float64) (*heval.Ciphertext, error) {
		return e.ev.EncryptAtLevel(v, level)
	})
}

func (e *Engine) encryptMatrix(a [][]float64, enc func([]float64) (*heval.Ciphertext, error)) (*EncryptedMatrix, error) {
	tiles, err := encodeMatrixTiles(e.unit, a)
	if err != nil {
		return nil, err
	}
	rows, cols := len(a), len(a[0])
	grid := make([][]*heval.Ciphertext, len(tiles))
	for r := range tiles {
		grid[r] = make([]*heval.Ciphertext, len(tiles[r]))
		for c := range tiles[r] {
			ct, err := enc(tiles[r][c])
			if err != nil {
				return nil, err
			}
			ct.Shape = heval.Shape{
				Kind:          heval.EncodingMatrix,
				Height:        rows,
				Width:         cols,
				EncodedHeight: e.unit.rows,
				EncodedWidth:  e.unit.cols,
			}
			grid[r][c] = ct
		}
	}
	return &EncryptedMatrix{unit: e.unit, rows: rows, cols: cols, grid: grid}, nil
}

// DecryptMatrix decrypts and untiles, trimming the padding.
func (e *Engine) DecryptMatrix(m *EncryptedMatrix) ([][]float64, error) {
	tiles := make([][][]float64, len(m.grid))
	for r := range m.grid {
		tiles[r] = make([][]float64, len(m.grid[r]))
		for c := range m.grid[r] {
			slots, err := e.ev.Decrypt(m.grid[r][c])
			if err != nil {
				return nil, err
			}
			tiles[r][c] = slots
		}
	}
	return decodeMatrixTiles(m.unit, tiles, m.rows, m.cols)
}

// EncryptRowVector tiles and encrypts a vector in row-vector packing.
func (e *Engine) EncryptRowVector(v []float64) (*EncryptedRowVector, error) {
	return e.encryptRowVector(v, e.ev.Encrypt)
}

// EncryptRowVectorAtLevel encrypts a row vector directly at the given level.
func (e *Engine) EncryptRowVectorAtLevel(v []float64, level int) (*EncryptedRowVector, error) {
	return e.encryptRowVector(v, func(vals []float64) (*heval.Ciphertext, error) {
		return e.ev.EncryptAtLevel(vals, level)
	})
}

func (e *Engine) encryptRowVector(v []float64, enc func([]float64) (*heval.Ciphertext, error)) (*EncryptedRowVector, error) {
	tiles, err := encodeRowVectorTiles(e.unit, v)
	if err != nil {
		return nil, err
	}
	tls, err := e.encryptVectorTiles(tiles, heval.EncodingRowVector, 1, len(v), enc)
	if err != nil {
		return nil, err
	}
	return &EncryptedRowVector{unit: e.unit, n: len(v), tls: tls}, nil
}

// EncryptColVector tiles and encrypts a vector in column-vector packing.
func (e *Engine) EncryptColVector(v []float64) (*EncryptedColVector, error) {
	return e.encryptColVector(v, e.ev.Encrypt)
}

// EncryptColVectorAtLevel encrypts a column vector directly at the given
// level.
func (e *Engine) EncryptColVectorAtLevel(v []float64, level int) (*EncryptedColVector, error) {
	return e.encryptColVector(v, func(vals []float64) (*heval.Ciphertext, error) {
		return e.ev.EncryptAtLevel(vals, level)
	})
}

func (e *Engine) encryptColVector(v []float64, enc func([]float64) (*heval.Ciphertext, error)) (*EncryptedColVector, error) {
	tiles, err := encodeColVectorTiles(e.unit, v)
	if err != nil {
		return nil, err
	}
	tls, err := e.encryptVectorTiles(tiles, heval.EncodingColVector, len(v), 1, enc)
	if err != nil {
		return nil, err
	}
	return &EncryptedColVector{unit: e.unit, n: len(v), tls: tls}, nil
}

func (e *Engine) encryptVectorTiles(tiles [][]float64, kind heval.Encoding, height, width int, enc func([]float64) (*heval.Ciphertext, error)) ([]*heval.Ciphertext, error) {
	tls := make([]*heval.Ciphertext, len(tiles))
	for t := range tiles {
		ct, err := enc(tiles[t])
		if err != nil {
			return nil, err
		}
		ct.Shape = heval.Shape{
			Kind:          kind,
			Height:        height,
			Width:         width,
			EncodedHeight: e.unit.rows,
			EncodedWidth:  e.unit.cols,
		}
		tls[t] = ct
	}
	return tls, nil
}

// DecryptRowVector decrypts a row vector.
func (e *Engine) DecryptRowVector(v *EncryptedRowVector) ([]float64, error) {
	tiles, err := e.decryptTiles(v.tls)
	if err != nil {
		return nil, err
	}
	return decodeRowVectorTiles(v.unit, tiles, v.n)
}

// DecryptColVector decrypts a column vector.
func (e *Engine) DecryptColVector(v *EncryptedColVector) ([]float64, error) {
	tiles, err := e.decryptTiles(v.tls)
	if err != nil {
		return nil, err
	}
	return decodeColVectorTiles(v.unit, tiles, v.n)
}

func (e *Engine) decryptTiles(tls []*heval.Ciphertext) ([][]float64, error) {
	out := make([][]float64, len(tls))
	for t := range tls {
		slots, err := e.ev.Decrypt(tls[t])
		if err != nil {
			return nil, err
		}
		out[t] = slots
	}
	return out, nil
}
