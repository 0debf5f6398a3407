package linalg

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hekit/hekit/heval"
)

func testEngine(t *testing.T, rows, cols int, opts ...Option) *Engine {
	t.Helper()
	pe := heval.NewPlaintextEval(rows * cols)
	u, err := NewEncodingUnit(rows, cols, rows*cols)
	require.NoError(t, err)
	e, err := NewEngine(pe, u, opts...)
	require.NoError(t, err)
	return e
}

func testMatrix(rows, cols int) [][]float64 {
	a := make([][]float64, rows)
	for i := range a {
		a[i] = make([]float64, cols)
		for j := range a[i] {
			a[i][j] = 0.1*float64(i+1) + 0.01*float64(j+1)
		}
	}
	return a
}

func testVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 0.2*float64(i+1) - 0.5
	}
	return v
}

func TestNewEncodingUnit(t *testing.T) {
	_, err := NewEncodingUnit(4, 8, 32)
	require.NoError(t, err)
	_, err = NewEncodingUnit(3, 8, 24)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = NewEncodingUnit(4, 8, 64)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = NewEncodingUnit(0, 8, 0)
	require.ErrorIs(t, err, heval.ErrDimension)
}

func TestMatrixRoundTrip(t *testing.T) {
	e := testEngine(t, 4, 8)
	for _, rows := range []int{1, 3, 4, 5, 8} {
		for _, cols := range []int{1, 7, 8, 9, 16} {
			t.Run(fmt.Sprintf("%dx%d", rows, cols), func(t *testing.T) {
				want := testMatrix(rows, cols)
				m, err := e.EncryptMatrix(want)
				require.NoError(t, err)
				require.Equal(t, rows, m.Rows())
				require.Equal(t, cols, m.Cols())
				got, err := e.DecryptMatrix(m)
				require.NoError(t, err)
				require.Equal(t, want, got)
			})
		}
	}
}

func TestRowVectorRoundTrip(t *testing.T) {
	e := testEngine(t, 4, 8)
	for _, n := range []int{1, 3, 4, 5, 8} {
		want := testVector(n)
		v, err := e.EncryptRowVector(want)
		require.NoError(t, err)
		require.Equal(t, n, v.Len())
		got, err := e.DecryptRowVector(v)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestColVectorRoundTrip(t *testing.T) {
	e := testEngine(t, 4, 8)
	for _, n := range []int{1, 7, 8, 9, 16} {
		want := testVector(n)
		v, err := e.EncryptColVector(want)
		require.NoError(t, err)
		require.Equal(t, n, v.Len())
		got, err := e.DecryptColVector(v)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestEncodeDimensionErrors(t *testing.T) {
	e := testEngine(t, 4, 8)

	_, err := e.EncryptMatrix(nil)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = e.EncryptMatrix([][]float64{{1, 2}, {1}})
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = e.EncryptRowVector(nil)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = e.EncryptColVector([]float64{})
	require.ErrorIs(t, err, heval.ErrDimension)
}

func TestDecodeTrimBounds(t *testing.T) {
	u, err := NewEncodingUnit(4, 8, 32)
	require.NoError(t, err)
	tiles, err := encodeMatrixTiles(u, testMatrix(4, 8))
	require.NoError(t, err)

	_, err = decodeMatrixTiles(u, tiles, 5, 8)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = decodeMatrixTiles(u, tiles, 4, 9)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = decodeMatrixTiles(u, tiles, 0, 8)
	require.ErrorIs(t, err, heval.ErrDimension)

	got, err := decodeMatrixTiles(u, tiles, 3, 5)
	require.NoError(t, err)
	require.Equal(t, testMatrix(3, 5), got)
}

func TestEngineUnitMustFillSlots(t *testing.T) {
	pe := heval.NewPlaintextEval(64)
	u, err := NewEncodingUnit(4, 8, 32)
	require.NoError(t, err)
	_, err = NewEngine(pe, u)
	require.ErrorIs(t, err, heval.ErrDimension)
}
