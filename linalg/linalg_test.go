package linalg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/hekit/hekit/heval"
)

// The rotation ladders reassociate sums, so results can differ from the
// references in the last few bits even under the exact cleartext evaluator.
var approx = cmpopts.EquateApprox(1e-9, 1e-12)

func requireMatrixEqual(t *testing.T, want, got [][]float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("matrix mismatch (-want +got):\n%s", diff)
	}
}

func requireVectorEqual(t *testing.T, want, got []float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("vector mismatch (-want +got):\n%s", diff)
	}
}

func transpose(a [][]float64) [][]float64 {
	out := make([][]float64, len(a[0]))
	for i := range out {
		out[i] = make([]float64, len(a))
		for j := range out[i] {
			out[i][j] = a[j][i]
		}
	}
	return out
}

func refVecMat(v []float64, a [][]float64) []float64 {
	out := make([]float64, len(a[0]))
	for j := range out {
		for i := range v {
			out[j] += v[i] * a[i][j]
		}
	}
	return out
}

func refMatVec(a [][]float64, w []float64, c float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		for j := range w {
			out[i] += a[i][j] * w[j]
		}
		out[i] *= c
	}
	return out
}

func refMatMul(a, b [][]float64, c float64) [][]float64 {
	out := make([][]float64, len(a))
	for i := range out {
		out[i] = make([]float64, len(b[0]))
		for j := range out[i] {
			for k := range b {
				out[i][j] += a[i][k] * b[k][j]
			}
			out[i][j] *= c
		}
	}
	return out
}

func TestAddSubNegate(t *testing.T) {
	e := testEngine(t, 4, 8)
	av, bv := testMatrix(6, 10), testMatrix(6, 10)
	for i := range bv {
		for j := range bv[i] {
			bv[i][j] *= -3
		}
	}
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)
	b, err := e.EncryptMatrix(bv)
	require.NoError(t, err)

	sum, err := e.Add(a, b)
	require.NoError(t, err)
	got, err := e.DecryptMatrix(sum.(*EncryptedMatrix))
	require.NoError(t, err)
	want := testMatrix(6, 10)
	for i := range want {
		for j := range want[i] {
			want[i][j] += bv[i][j]
		}
	}
	requireMatrixEqual(t, want, got)

	diff, err := e.Sub(sum, b)
	require.NoError(t, err)
	got, err = e.DecryptMatrix(diff.(*EncryptedMatrix))
	require.NoError(t, err)
	requireMatrixEqual(t, av, got)

	neg, err := e.Negate(a)
	require.NoError(t, err)
	got, err = e.DecryptMatrix(neg.(*EncryptedMatrix))
	require.NoError(t, err)
	for i := range want {
		for j := range want[i] {
			want[i][j] = -av[i][j]
		}
	}
	requireMatrixEqual(t, want, got)
}

func TestAddRejectsMismatchedOperands(t *testing.T) {
	e := testEngine(t, 4, 8)
	a, err := e.EncryptMatrix(testMatrix(6, 10))
	require.NoError(t, err)
	b, err := e.EncryptMatrix(testMatrix(6, 9))
	require.NoError(t, err)
	v, err := e.EncryptRowVector(testVector(6))
	require.NoError(t, err)

	_, err = e.Add(a, b)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
	_, err = e.Add(a, v)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
	_, err = e.AddMany(nil)
	require.ErrorIs(t, err, heval.ErrDimension)
}

func TestMulScalarAndHadamard(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(5, 9)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	scaled, err := e.MulScalar(a, 2.5)
	require.NoError(t, err)
	require.Equal(t, a.Level()-1, scaled.Level())
	got, err := e.DecryptMatrix(scaled.(*EncryptedMatrix))
	require.NoError(t, err)
	want := testMatrix(5, 9)
	for i := range want {
		for j := range want[i] {
			want[i][j] *= 2.5
		}
	}
	requireMatrixEqual(t, want, got)

	had, err := e.HadamardMul(a, a)
	require.NoError(t, err)
	require.Equal(t, a.Level()-1, had.Level())
	got, err = e.DecryptMatrix(had.(*EncryptedMatrix))
	require.NoError(t, err)
	for i := range want {
		for j := range want[i] {
			want[i][j] = av[i][j] * av[i][j]
		}
	}
	requireMatrixEqual(t, want, got)
}

func TestAddScalar(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(3, 5)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	sum, err := e.AddScalar(a, 0.3)
	require.NoError(t, err)
	require.Equal(t, a.Level(), sum.Level())
	got, err := e.DecryptMatrix(sum.(*EncryptedMatrix))
	require.NoError(t, err)
	want := testMatrix(3, 5)
	for i := range want {
		for j := range want[i] {
			want[i][j] += 0.3
		}
	}
	requireMatrixEqual(t, want, got)

	// Padding slots must stay zero: the column sums see the scalar exactly
	// once per real row.
	cols, err := e.SumRows(sum.(*EncryptedMatrix))
	require.NoError(t, err)
	gotV, err := e.DecryptColVector(cols)
	require.NoError(t, err)
	wantV := make([]float64, 5)
	for j := range wantV {
		for i := 0; i < 3; i++ {
			wantV[j] += want[i][j]
		}
	}
	requireVectorEqual(t, wantV, gotV)

	bv := testVector(6)
	b, err := e.EncryptColVector(bv)
	require.NoError(t, err)
	shifted, err := e.AddScalar(b, -1.5)
	require.NoError(t, err)
	gotV, err = e.DecryptColVector(shifted.(*EncryptedColVector))
	require.NoError(t, err)
	wantV = testVector(6)
	for i := range wantV {
		wantV[i] -= 1.5
	}
	requireVectorEqual(t, wantV, gotV)
}

func TestAddPlain(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(5, 9)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	pv := testMatrix(5, 9)
	for i := range pv {
		for j := range pv[i] {
			pv[i][j] = float64(i) - float64(j)
		}
	}
	sum, err := e.AddPlain(a, pv)
	require.NoError(t, err)
	require.Equal(t, a.Level(), sum.Level())
	got, err := e.DecryptMatrix(sum.(*EncryptedMatrix))
	require.NoError(t, err)
	want := testMatrix(5, 9)
	for i := range want {
		for j := range want[i] {
			want[i][j] += pv[i][j]
		}
	}
	requireMatrixEqual(t, want, got)

	bv := testVector(6)
	b, err := e.EncryptRowVector(bv)
	require.NoError(t, err)
	shifted, err := e.AddPlain(b, testVector(6))
	require.NoError(t, err)
	gotV, err := e.DecryptRowVector(shifted.(*EncryptedRowVector))
	require.NoError(t, err)
	wantV := make([]float64, 6)
	for i := range wantV {
		wantV[i] = 2 * bv[i]
	}
	requireVectorEqual(t, wantV, gotV)

	_, err = e.AddPlain(a, testMatrix(4, 9))
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
	_, err = e.AddPlain(b, testVector(7))
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
}

func TestHadamardSquare(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(5, 9)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	sq, err := e.HadamardSquare(a)
	require.NoError(t, err)
	require.Equal(t, a.Level()-1, sq.Level())
	got, err := e.DecryptMatrix(sq.(*EncryptedMatrix))
	require.NoError(t, err)
	want := testMatrix(5, 9)
	for i := range want {
		for j := range want[i] {
			want[i][j] *= want[i][j]
		}
	}
	requireMatrixEqual(t, want, got)
}

func TestEncryptAtLevel(t *testing.T) {
	e := testEngine(t, 4, 8)

	a, err := e.EncryptMatrixAtLevel(testMatrix(3, 5), 3)
	require.NoError(t, err)
	require.Equal(t, 3, a.Level())
	got, err := e.DecryptMatrix(a)
	require.NoError(t, err)
	requireMatrixEqual(t, testMatrix(3, 5), got)

	r, err := e.EncryptRowVectorAtLevel(testVector(6), 2)
	require.NoError(t, err)
	require.Equal(t, 2, r.Level())
	gotV, err := e.DecryptRowVector(r)
	require.NoError(t, err)
	requireVectorEqual(t, testVector(6), gotV)

	c, err := e.EncryptColVectorAtLevel(testVector(9), 5)
	require.NoError(t, err)
	require.Equal(t, 5, c.Level())
	gotV, err = e.DecryptColVector(c)
	require.NoError(t, err)
	requireVectorEqual(t, testVector(9), gotV)
}

func TestSumRows(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(6, 10)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	v, err := e.SumRows(a)
	require.NoError(t, err)
	require.Equal(t, 10, v.Len())
	require.Equal(t, a.Level(), v.Level())

	got, err := e.DecryptColVector(v)
	require.NoError(t, err)
	want := make([]float64, 10)
	for j := range want {
		for i := range av {
			want[j] += av[i][j]
		}
	}
	requireVectorEqual(t, want, got)
}

func TestSumRowsOnes(t *testing.T) {
	e := testEngine(t, 8, 8)
	ones := make([][]float64, 64)
	for i := range ones {
		ones[i] = make([]float64, 64)
		for j := range ones[i] {
			ones[i][j] = 1
		}
	}
	a, err := e.EncryptMatrix(ones)
	require.NoError(t, err)

	v, err := e.SumRows(a)
	require.NoError(t, err)
	got, err := e.DecryptColVector(v)
	require.NoError(t, err)
	require.Len(t, got, 64)
	for _, x := range got {
		require.InDelta(t, 64.0, x, 1e-9)
	}
}

func TestSumCols(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(6, 10)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	v, err := e.SumCols(a, 0.5)
	require.NoError(t, err)
	require.Equal(t, 6, v.Len())
	require.Equal(t, a.Level()-1, v.Level())

	got, err := e.DecryptRowVector(v)
	require.NoError(t, err)
	want := make([]float64, 6)
	for i := range want {
		for j := range av[i] {
			want[i] += av[i][j]
		}
		want[i] *= 0.5
	}
	requireVectorEqual(t, want, got)
}

func TestSumManyBatches(t *testing.T) {
	e := testEngine(t, 4, 8)
	av, bv := testMatrix(5, 9), testMatrix(5, 9)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)
	b, err := e.EncryptMatrix(bv)
	require.NoError(t, err)

	v, err := e.SumRowsMany([]*EncryptedMatrix{a, b})
	require.NoError(t, err)
	got, err := e.DecryptColVector(v)
	require.NoError(t, err)
	want := make([]float64, 9)
	for j := range want {
		for i := range av {
			want[j] += av[i][j] + bv[i][j]
		}
	}
	requireVectorEqual(t, want, got)

	_, err = e.SumRowsMany(nil)
	require.ErrorIs(t, err, heval.ErrDimension)
	c, err := e.EncryptMatrix(testMatrix(5, 8))
	require.NoError(t, err)
	_, err = e.SumColsMany([]*EncryptedMatrix{a, c}, 1)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
}

func TestMulVecMat(t *testing.T) {
	e := testEngine(t, 4, 8)
	av, vv := testMatrix(6, 10), testVector(6)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)
	v, err := e.EncryptRowVector(vv)
	require.NoError(t, err)

	out, err := e.MulVecMat(v, a)
	require.NoError(t, err)
	require.Equal(t, 10, out.Len())
	require.Equal(t, a.Level()-1, out.Level())

	got, err := e.DecryptColVector(out)
	require.NoError(t, err)
	requireVectorEqual(t, refVecMat(vv, av), got)

	short, err := e.EncryptRowVector(testVector(5))
	require.NoError(t, err)
	_, err = e.MulVecMat(short, a)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
}

func TestMulMatVec(t *testing.T) {
	e := testEngine(t, 4, 8)
	av, wv := testMatrix(6, 10), testVector(10)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)
	w, err := e.EncryptColVector(wv)
	require.NoError(t, err)

	out, err := e.MulMatVec(a, w, 2)
	require.NoError(t, err)
	require.Equal(t, 6, out.Len())
	require.Equal(t, a.Level()-2, out.Level())

	got, err := e.DecryptRowVector(out)
	require.NoError(t, err)
	requireVectorEqual(t, refMatVec(av, wv, 2), got)
}

func TestExtractRowCol(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(6, 10)
	a, err := e.EncryptMatrix(av)
	require.NoError(t, err)

	for _, k := range []int{0, 3, 5} {
		row, err := e.ExtractRow(a, k)
		require.NoError(t, err)
		require.Equal(t, a.Level()-1, row.Level())
		got, err := e.DecryptColVector(row)
		require.NoError(t, err)
		requireVectorEqual(t, av[k], got)
	}
	for _, k := range []int{0, 7, 9} {
		col, err := e.ExtractCol(a, k)
		require.NoError(t, err)
		got, err := e.DecryptRowVector(col)
		require.NoError(t, err)
		want := make([]float64, 6)
		for i := range want {
			want[i] = av[i][k]
		}
		requireVectorEqual(t, want, got)
	}

	_, err = e.ExtractRow(a, 6)
	require.ErrorIs(t, err, heval.ErrDimension)
	_, err = e.ExtractCol(a, -1)
	require.ErrorIs(t, err, heval.ErrDimension)
}

func TestMatMul(t *testing.T) {
	e := testEngine(t, 4, 8)
	av := testMatrix(5, 6) // A is 5x6, passed as its 6x5 transpose
	bv := testMatrix(6, 9)
	aT, err := e.EncryptMatrix(transpose(av))
	require.NoError(t, err)
	b, err := e.EncryptMatrix(bv)
	require.NoError(t, err)

	out, err := e.MatMul(aT, b, 2)
	require.NoError(t, err)
	require.Equal(t, 5, out.Rows())
	require.Equal(t, 9, out.Cols())
	require.Equal(t, aT.Level()-3, out.Level())

	got, err := e.DecryptMatrix(out)
	require.NoError(t, err)
	requireMatrixEqual(t, refMatMul(av, bv, 2), got)

	// Operands are not consumed.
	again, err := e.DecryptMatrix(aT)
	require.NoError(t, err)
	requireMatrixEqual(t, transpose(av), again)

	bad, err := e.EncryptMatrix(testMatrix(7, 9))
	require.NoError(t, err)
	_, err = e.MatMul(aT, bad, 1)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
}

func TestMatMulUnitTranspose(t *testing.T) {
	e := testEngine(t, 4, 8)
	et, err := NewEngine(e.Evaluator(), e.Unit().Transposed())
	require.NoError(t, err)

	av := testMatrix(5, 3) // A is 5x3, passed as its 3x5 transpose
	bv := testMatrix(3, 4)
	aT, err := e.EncryptMatrix(transpose(av))
	require.NoError(t, err)
	b, err := et.EncryptMatrix(bv)
	require.NoError(t, err)

	out, err := e.MatMulUnitTranspose(aT, b, 1.5)
	require.NoError(t, err)
	require.Equal(t, e.Unit().Transposed(), out.Unit())
	require.Equal(t, 5, out.Rows())
	require.Equal(t, 4, out.Cols())
	require.Equal(t, aT.Level()-3, out.Level())

	got, err := et.DecryptMatrix(out)
	require.NoError(t, err)
	requireMatrixEqual(t, refMatMul(av, bv, 1.5), got)
}

func TestMatMulUnitTransposeRejections(t *testing.T) {
	e := testEngine(t, 4, 8)
	et, err := NewEngine(e.Evaluator(), e.Unit().Transposed())
	require.NoError(t, err)

	wide, err := e.EncryptMatrix(testMatrix(4, 9)) // two tiles
	require.NoError(t, err)
	b, err := et.EncryptMatrix(testMatrix(4, 4))
	require.NoError(t, err)
	_, err = e.MatMulUnitTranspose(wide, b, 1)
	require.ErrorIs(t, err, heval.ErrDimension)

	// Right operand in the engine unit instead of the transposed one.
	aT, err := e.EncryptMatrix(testMatrix(3, 5))
	require.NoError(t, err)
	wrong, err := e.EncryptMatrix(testMatrix(3, 4))
	require.NoError(t, err)
	_, err = e.MatMulUnitTranspose(aT, wrong, 1)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)

	// Inner dimensions differ.
	b2, err := et.EncryptMatrix(testMatrix(4, 4))
	require.NoError(t, err)
	_, err = e.MatMulUnitTranspose(aT, b2, 1)
	require.ErrorIs(t, err, heval.ErrIncompatibleOperands)
}

func TestParallelMatchesSequential(t *testing.T) {
	seq := testEngine(t, 4, 8)
	par := testEngine(t, 4, 8, WithPolicy(Parallel), WithWorkers(4))

	av := testMatrix(5, 6)
	bv := testMatrix(6, 9)
	run := func(e *Engine) [][]float64 {
		aT, err := e.EncryptMatrix(transpose(av))
		require.NoError(t, err)
		b, err := e.EncryptMatrix(bv)
		require.NoError(t, err)
		out, err := e.MatMul(aT, b, 1)
		require.NoError(t, err)
		got, err := e.DecryptMatrix(out)
		require.NoError(t, err)
		return got
	}
	requireMatrixEqual(t, run(seq), run(par))
}

func TestLinalgDepths(t *testing.T) {
	run := func(f func(e *Engine) error) int {
		df := heval.NewDepthFinder(32)
		u, err := NewEncodingUnit(4, 8, 32)
		require.NoError(t, err)
		e, err := NewEngine(df, u)
		require.NoError(t, err)
		require.NoError(t, f(e))
		return df.Depth()
	}

	depth := run(func(e *Engine) error {
		a, err := e.EncryptMatrix(testMatrix(6, 10))
		if err != nil {
			return err
		}
		v, err := e.EncryptRowVector(testVector(6))
		if err != nil {
			return err
		}
		_, err = e.MulVecMat(v, a)
		return err
	})
	require.Equal(t, 1, depth)

	depth = run(func(e *Engine) error {
		a, err := e.EncryptMatrix(testMatrix(6, 10))
		if err != nil {
			return err
		}
		w, err := e.EncryptColVector(testVector(10))
		if err != nil {
			return err
		}
		_, err = e.MulMatVec(a, w, 1)
		return err
	})
	require.Equal(t, 2, depth)

	depth = run(func(e *Engine) error {
		aT, err := e.EncryptMatrix(testMatrix(6, 5))
		if err != nil {
			return err
		}
		b, err := e.EncryptMatrix(testMatrix(6, 9))
		if err != nil {
			return err
		}
		_, err = e.MatMul(aT, b, 1)
		return err
	})
	require.Equal(t, 3, depth)
}

func TestLinalgRotations(t *testing.T) {
	rs := heval.NewRotationSet(32)
	u, err := NewEncodingUnit(4, 8, 32)
	require.NoError(t, err)
	e, err := NewEngine(rs, u)
	require.NoError(t, err)

	a, err := e.EncryptMatrix(testMatrix(6, 10))
	require.NoError(t, err)
	w, err := e.EncryptColVector(testVector(10))
	require.NoError(t, err)
	_, err = e.MulMatVec(a, w, 1)
	require.NoError(t, err)

	ks := rs.NeededRotations()
	require.NotEmpty(t, ks)
	// The column reduction ladder and its replication.
	require.Contains(t, ks, 1)
	require.Contains(t, ks, -1)
}

func TestMulVecMatOpCounts(t *testing.T) {
	oc := heval.NewOpCount(32)
	u, err := NewEncodingUnit(4, 8, 32)
	require.NoError(t, err)
	e, err := NewEngine(oc, u)
	require.NoError(t, err)

	a, err := e.EncryptMatrix(testMatrix(4, 8)) // single tile
	require.NoError(t, err)
	v, err := e.EncryptRowVector(testVector(4))
	require.NoError(t, err)
	_, err = e.MulVecMat(v, a)
	require.NoError(t, err)

	counts := oc.Counts()
	require.Equal(t, 1, counts.Multiplications)
	require.Equal(t, 1, counts.Relinearizations)
	require.Equal(t, 1, counts.Rescales)
	// The row reduction ladder: log2(unit rows) rotate-and-add steps.
	require.Equal(t, 2, counts.Rotations)
	require.Equal(t, 2, counts.Additions)
	require.Equal(t, 0, counts.PlainMultiplications)
}
