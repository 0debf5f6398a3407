package linalg

import (
	"fmt"

	"github.com/hekit/hekit/heval"
)

// Plaintext tiling. A matrix is cut into a grid of unit-sized blocks, each
// flattened row-major into one slot vector; padding slots are zero so they
// are inert under sums. A row vector runs down the rows of a column of
// tiles, replicated across each tile's columns; a column vector runs along
// the columns of a row of tiles, replicated down each tile's rows. The
// replication is what lets a single slotwise product implement a
// vector-matrix product before a rotation reduction.

func checkRectangular(a [][]float64) (rows, cols int, err error) {
	if len(a) == 0 || len(a[0]) == 0 {
		return 0, 0, fmt.Errorf("empty matrix: %w", heval.ErrDimension)
	}
	rows, cols = len(a), len(a[0])
	for i := range a {
		if len(a[i]) != cols {
			return 0, 0, fmt.Errorf("ragged matrix: row %d has %d entries, want %d: %w", i, len(a[i]), cols, heval.ErrDimension)
		}
	}
	return rows, cols, nil
}

// encodeMatrixTiles flattens a into a grid of slot vectors.
func encodeMatrixTiles(u EncodingUnit, a [][]float64) ([][][]float64, error) {
	rows, cols, err := checkRectangular(a)
	if err != nil {
		return nil, fmt.Errorf("cannot encode matrix: %w", err)
	}
	gr, gc := u.tileGrid(rows, cols)
	tiles := make([][][]float64, gr)
	for r := range tiles {
		tiles[r] = make([][]float64, gc)
		for c := range tiles[r] {
			slots := make([]float64, u.Slots())
			for i := 0; i < u.rows; i++ {
				for j := 0; j < u.cols; j++ {
					ai, aj := r*u.rows+i, c*u.cols+j
					if ai < rows && aj < cols {
						slots[i*u.cols+j] = a[ai][aj]
					}
				}
			}
			tiles[r][c] = slots
		}
	}
	return tiles, nil
}

// decodeMatrixTiles reassembles a rows x cols matrix from tile slot
// vectors, trimming the padding. Asking for more than the tiles hold is an
// error rather than silent zeros.
func decodeMatrixTiles(u EncodingUnit, tiles [][][]float64, rows, cols int) ([][]float64, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("cannot decode matrix: %dx%d target: %w", rows, cols, heval.ErrDimension)
	}
	if rows > len(tiles)*u.rows || cols > len(tiles[0])*u.cols {
		return nil, fmt.Errorf("cannot decode matrix: %dx%d exceeds the %dx%d tile grid: %w", rows, cols, len(tiles), len(tiles[0]), heval.ErrDimension)
	}
	a := make([][]float64, rows)
	for i := range a {
		a[i] = make([]float64, cols)
		for j := range a[i] {
			tile := tiles[i/u.rows][j/u.cols]
			a[i][j] = tile[(i%u.rows)*u.cols+j%u.cols]
		}
	}
	return a, nil
}

// encodeRowVectorTiles packs v down the rows of ceil(len(v)/u.rows) tiles,
// replicated across columns.
func encodeRowVectorTiles(u EncodingUnit, v []float64) ([][]float64, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("cannot encode row vector: empty input: %w", heval.ErrDimension)
	}
	n := (len(v) + u.rows - 1) / u.rows
	tiles := make([][]float64, n)
	for t := range tiles {
		slots := make([]float64, u.Slots())
		for i := 0; i < u.rows; i++ {
			if k := t*u.rows + i; k < len(v) {
				for j := 0; j < u.cols; j++ {
					slots[i*u.cols+j] = v[k]
				}
			}
		}
		tiles[t] = slots
	}
	return tiles, nil
}

// encodeColVectorTiles packs v along the columns of ceil(len(v)/u.cols)
// tiles, replicated down rows.
func encodeColVectorTiles(u EncodingUnit, v []float64) ([][]float64, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("cannot encode column vector: empty input: %w", heval.ErrDimension)
	}
	n := (len(v) + u.cols - 1) / u.cols
	tiles := make([][]float64, n)
	for t := range tiles {
		slots := make([]float64, u.Slots())
		for j := 0; j < u.cols; j++ {
			if k := t*u.cols + j; k < len(v) {
				for i := 0; i < u.rows; i++ {
					slots[i*u.cols+j] = v[k]
				}
			}
		}
		tiles[t] = slots
	}
	return tiles, nil
}

// decodeRowVectorTiles reads a row vector of the given length back from
// column 0 of each tile.
func decodeRowVectorTiles(u EncodingUnit, tiles [][]float64, length int) ([]float64, error) {
	if length <= 0 || length > len(tiles)*u.rows {
		return nil, fmt.Errorf("cannot decode row vector: length %d does not fit %d tiles: %w", length, len(tiles), heval.ErrDimension)
	}
	v := make([]float64, length)
	for k := range v {
		v[k] = tiles[k/u.rows][(k%u.rows)*u.cols]
	}
	return v, nil
}

// decodeColVectorTiles reads a column vector of the given length back from
// row 0 of each tile.
func decodeColVectorTiles(u EncodingUnit, tiles [][]float64, length int) ([]float64, error) {
	if length <= 0 || length > len(tiles)*u.cols {
		return nil, fmt.Errorf("cannot decode column vector: length %d does not fit %d tiles: %w", length, len(tiles), heval.ErrDimension)
	}
	v := make([]float64, length)
	for k := range v {
		v[k] = tiles[k/u.cols][k%u.cols]
	}
	return v, nil
}

// matrixTileMask marks the slots tile (r, c) of a rows x cols matrix
// actually uses, with value v, leaving the padding zero.
func matrixTileMask(u EncodingUnit, rows, cols, r, c int, v float64) []float64 {
	mask := make([]float64, u.Slots())
	for i := 0; i < u.rows && r*u.rows+i < rows; i++ {
		for j := 0; j < u.cols && c*u.cols+j < cols; j++ {
			mask[i*u.cols+j] = v
		}
	}
	return mask
}

// rowVectorTileMask marks the slots tile t of a length-n row vector uses,
// replicas included.
func rowVectorTileMask(u EncodingUnit, n, t int, v float64) []float64 {
	mask := make([]float64, u.Slots())
	for i := 0; i < u.rows && t*u.rows+i < n; i++ {
		for j := 0; j < u.cols; j++ {
			mask[i*u.cols+j] = v
		}
	}
	return mask
}

// colVectorTileMask marks the slots tile t of a length-n column vector uses,
// replicas included.
func colVectorTileMask(u EncodingUnit, n, t int, v float64) []float64 {
	mask := make([]float64, u.Slots())
	for j := 0; j < u.cols && t*u.cols+j < n; j++ {
		for i := 0; i < u.rows; i++ {
			mask[i*u.cols+j] = v
		}
	}
	return mask
}

// rowMask selects one row of a unit, scaled by c.
func rowMask(u EncodingUnit, row int, c float64) []float64 {
	mask := make([]float64, u.Slots())
	for j := 0; j < u.cols; j++ {
		mask[row*u.cols+j] = c
	}
	return mask
}

// slotMask selects a single slot, scaled by c.
func slotMask(u EncodingUnit, idx int, c float64) []float64 {
	mask := make([]float64, u.Slots())
	mask[idx] = c
	return mask
}

// colMask selects one column of a unit, scaled by c.
func colMask(u EncodingUnit, col int, c float64) []float64 {
	mask := make([]float64, u.Slots())
	for i := 0; i < u.rows; i++ {
		mask[i*u.cols+col] = c
	}
	return mask
}
