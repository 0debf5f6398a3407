package heval

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Insecure toy parameters, sized for test speed.
var testParamsLiteral = ckks.ParametersLiteral{
	LogN:            12,
	LogQ:            []int{55, 45, 45},
	LogP:            []int{61},
	LogDefaultScale: 45,
}

func newTestContext(t *testing.T, rotations ...int) *Context {
	t.Helper()
	ctx, err := NewContext(testParamsLiteral)
	require.NoError(t, err)
	if len(rotations) > 0 {
		ctx.GenRotationKeys(rotations)
	}
	return ctx
}

func testValues(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i%7)/7 - 0.5
	}
	return v
}

func requireSlicesInDelta(t *testing.T, want, got []float64, delta float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.InDelta(t, want[i], got[i], delta, "slot %d", i)
	}
}

func TestHomomorphicRoundTrip(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	want := testValues(64)
	ct, err := h.Encrypt(want)
	require.NoError(t, err)
	require.Equal(t, h.ctx.params.MaxLevel(), ct.Level())
	require.Equal(t, 1, ct.Degree())

	got, err := h.Decrypt(ct)
	require.NoError(t, err)
	requireSlicesInDelta(t, want, got[:64], 1e-4)
}

func TestHomomorphicMulRelinRescale(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	va, vb := testValues(32), testValues(32)
	a, err := h.Encrypt(va)
	require.NoError(t, err)
	b, err := h.Encrypt(vb)
	require.NoError(t, err)

	require.NoError(t, h.Mul(a, b))
	require.Equal(t, 2, a.Degree())
	require.NoError(t, h.Relinearize(a))
	require.Equal(t, 1, a.Degree())
	require.NoError(t, h.Rescale(a))
	require.Equal(t, h.ctx.params.MaxLevel()-1, a.Level())

	want := make([]float64, 32)
	for i := range want {
		want[i] = va[i] * vb[i]
	}
	got, err := h.Decrypt(a)
	require.NoError(t, err)
	requireSlicesInDelta(t, want, got[:32], 1e-4)
}

func TestHomomorphicTrackedScaleMatchesBackend(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	a, err := h.Encrypt(testValues(8))
	require.NoError(t, err)
	require.NoError(t, h.Square(a))
	require.NoError(t, h.Relinearize(a))
	require.NoError(t, h.Rescale(a))

	backend := a.Backend().Scale.Float64()
	require.InEpsilon(t, backend, a.Scale(), 1e-9)
	require.Equal(t, a.Level(), a.Backend().Level())
}

func TestHomomorphicRotation(t *testing.T) {
	h := NewHomomorphic(newTestContext(t, 3, -2))

	v := testValues(16)
	ct, err := h.Encrypt(v)
	require.NoError(t, err)

	require.NoError(t, h.RotateLeft(ct, 3))
	require.NoError(t, h.RotateRight(ct, 2))

	want := padSlots(v, h.Slots())
	shadowRotate(want, 3)
	shadowRotate(want, -2)
	got, err := h.Decrypt(ct)
	require.NoError(t, err)
	requireSlicesInDelta(t, want[:16], got[:16], 1e-4)
}

func TestHomomorphicPlainOps(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	v := testValues(16)
	mask := []float64{1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0}

	ct, err := h.Encrypt(v)
	require.NoError(t, err)
	require.NoError(t, h.AddPlain(ct, 0.25))
	require.NoError(t, h.MulPlainVec(ct, mask))
	require.NoError(t, h.Rescale(ct))
	require.NoError(t, h.SubPlainVec(ct, mask))

	want := make([]float64, 16)
	for i := range want {
		want[i] = (v[i]+0.25)*mask[i] - mask[i]
	}
	got, err := h.Decrypt(ct)
	require.NoError(t, err)
	requireSlicesInDelta(t, want, got[:16], 1e-4)
}

func TestHomomorphicReduceLevel(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	a, err := h.Encrypt(testValues(8))
	require.NoError(t, err)
	b, err := h.EncryptAtLevel(testValues(8), h.ctx.params.MaxLevel()-1)
	require.NoError(t, err)

	require.ErrorIs(t, h.Add(a, b), ErrLevelMismatch)
	require.NoError(t, h.ReduceLevelMin(a, b))
	require.NoError(t, h.Add(a, b))
	require.Equal(t, a.Backend().Level(), a.Level())
}

func TestHomomorphicReduceLevelFloor(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	a, err := h.EncryptAtLevel(testValues(8), 0)
	require.NoError(t, err)
	require.ErrorIs(t, h.ReduceLevel(a, -1), ErrInvalidLevelTarget)

	// The rejected call must not have touched the backend.
	require.Equal(t, 0, a.Level())
	require.Equal(t, 0, a.Backend().Level())
}

func TestHomomorphicRescaleFloor(t *testing.T) {
	h := NewHomomorphic(newTestContext(t))

	a, err := h.EncryptAtLevel(testValues(8), 0)
	require.NoError(t, err)
	require.ErrorIs(t, h.Rescale(a), ErrInvalidLevelTarget)
}

func TestDebugCleanRun(t *testing.T) {
	ctx := newTestContext(t, 1)
	dbg := NewDebug(ctx)

	va, vb := testValues(32), testValues(32)
	a, err := dbg.Encrypt(va)
	require.NoError(t, err)
	b, err := dbg.Encrypt(vb)
	require.NoError(t, err)

	require.NoError(t, dbg.Mul(a, b))
	require.NoError(t, dbg.Relinearize(a))
	require.NoError(t, dbg.Rescale(a))
	require.NoError(t, dbg.RotateLeft(a, 1))
	require.NoError(t, dbg.AddPlain(a, 0.125))

	want := padSlots(va, dbg.Slots())
	for i := range want {
		want[i] *= padSlots(vb, dbg.Slots())[i]
	}
	shadowRotate(want, 1)
	shadowAddConst(want, 0.125)

	got, err := dbg.Decrypt(a)
	require.NoError(t, err)
	requireSlicesInDelta(t, want[:32], got[:32], 1e-4)

	// The toy parameters bust the security budget for their ring degree,
	// and the embedded estimator reports that: no positive scale fits.
	require.Negative(t, dbg.EstimatedMaxLogScale())
}

func TestDebugDetectsDivergence(t *testing.T) {
	dbg := NewDebug(newTestContext(t))

	ct, err := dbg.Encrypt(testValues(8))
	require.NoError(t, err)

	// Corrupt the shadow so the next cross-check must trip.
	ct.Shadow()[0] += 1000

	err = dbg.AddPlain(ct, 0)
	require.ErrorIs(t, err, ErrDivergence)
	var de *DivergenceError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "plaintext", de.Check)
	require.Equal(t, "AddPlain", de.Op)
	require.Greater(t, de.MaxErr, DefaultMaxNorm)
}

func TestDepthFinderSizesChainForHomomorphic(t *testing.T) {
	circuit := func(ev Instance, v []float64) (*Ciphertext, error) {
		ct, err := ev.Encrypt(v)
		if err != nil {
			return nil, err
		}
		for i := 0; i < 2; i++ {
			if err := ev.Square(ct); err != nil {
				return nil, err
			}
			if err := ev.Relinearize(ct); err != nil {
				return nil, err
			}
			if err := ev.Rescale(ct); err != nil {
				return nil, err
			}
		}
		return ct, nil
	}

	v := testValues(8)

	df := NewDepthFinder(1 << (testParamsLiteral.LogN - 1))
	_, err := circuit(df, v)
	require.NoError(t, err)
	require.Equal(t, 2, df.Depth())

	// The discovered depth is exactly the chain the real run needs.
	require.Equal(t, len(testParamsLiteral.LogQ)-1, df.Depth())
	h := NewHomomorphic(newTestContext(t))
	ct, err := circuit(h, v)
	require.NoError(t, err)
	require.Equal(t, 0, ct.Level())

	want := make([]float64, 8)
	for i := range want {
		want[i] = v[i] * v[i] * v[i] * v[i]
	}
	got, err := h.Decrypt(ct)
	require.NoError(t, err)
	requireSlicesInDelta(t, want, got[:8], 1e-3)
}
