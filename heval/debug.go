package heval

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ALTree/bigfloat"
	"github.com/montanaflynn/stats"
)

// DefaultMaxNorm is the largest relative slot error tolerated between a
// decryption and its plaintext shadow before Debug declares divergence.
const DefaultMaxNorm = 0.02

// Debug executes every operation homomorphically and on a plaintext shadow
// in lockstep, then cross-checks after each step that the backend agrees
// with the tracked metadata: the backend level must equal the tracked
// level, the backend scale must equal the tracked scale, and the decryption
// must stay within MaxNorm relative error of the shadow. A failed check
// surfaces as a *DivergenceError wrapping ErrDivergence and points at the
// first operation where tracking and reality parted ways.
//
// Debug holds the secret key and decrypts after every operation; it exists
// for development runs, never for production traffic.
type Debug struct {
	core
	h   *Homomorphic
	est *ScaleEstimator

	maxNorm float64
}

var _ Instance = (*Debug)(nil)

func NewDebug(ctx *Context) *Debug {
	d := &Debug{
		h:       NewHomomorphic(ctx),
		maxNorm: DefaultMaxNorm,
	}
	params := ctx.params
	d.est = newScaleEstimator(params.MaxSlots(), params.MaxLevel(), params.LogN(), params.DefaultScale().Float64())
	d.core = core{
		impl:         d,
		slots:        params.MaxSlots(),
		checkLevels:  true,
		rescaleFloor: 0,
		baseScale:    params.DefaultScale().Float64(),
	}
	return d
}

// SetMaxNorm adjusts the divergence tolerance for the plaintext check.
func (d *Debug) SetMaxNorm(norm float64) { d.maxNorm = norm }

// EstimatedMaxLogScale reports the scale bound accumulated during the run,
// as a ScaleEstimator over the same circuit would.
func (d *Debug) EstimatedMaxLogScale() float64 { return d.est.EstimatedMaxLogScale() }

func (d *Debug) Encrypt(values []float64) (*Ciphertext, error) {
	return d.EncryptAtLevel(values, d.h.ctx.params.MaxLevel())
}

func (d *Debug) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	out, err := d.h.EncryptAtLevel(values, level)
	if err != nil {
		return nil, err
	}
	out.shadow = padSlots(values, d.slots)
	return out, d.observe("Encrypt", out)
}

func (d *Debug) Decrypt(ct *Ciphertext) ([]float64, error) {
	return d.h.Decrypt(ct)
}

func (d *Debug) rotate(ct *Ciphertext, k int) error {
	if err := d.h.rotate(ct, k); err != nil {
		return err
	}
	shadowRotate(ct.shadow, k)
	return nil
}

func (d *Debug) negate(ct *Ciphertext) error {
	if err := d.h.negate(ct); err != nil {
		return err
	}
	shadowNegate(ct.shadow)
	return nil
}

func (d *Debug) add(op0, op1 *Ciphertext) error {
	if err := d.h.add(op0, op1); err != nil {
		return err
	}
	shadowAdd(op0.shadow, op1.shadow)
	return nil
}

func (d *Debug) sub(op0, op1 *Ciphertext) error {
	if err := d.h.sub(op0, op1); err != nil {
		return err
	}
	shadowSub(op0.shadow, op1.shadow)
	return nil
}

func (d *Debug) addPlain(ct *Ciphertext, c float64) error {
	if err := d.h.addPlain(ct, c); err != nil {
		return err
	}
	shadowAddConst(ct.shadow, c)
	return nil
}

func (d *Debug) subPlain(ct *Ciphertext, c float64) error {
	if err := d.h.subPlain(ct, c); err != nil {
		return err
	}
	shadowAddConst(ct.shadow, -c)
	return nil
}

func (d *Debug) addPlainVec(ct *Ciphertext, v []float64) error {
	if err := d.h.addPlainVec(ct, v); err != nil {
		return err
	}
	shadowAddVec(ct.shadow, v, 1)
	return nil
}

func (d *Debug) subPlainVec(ct *Ciphertext, v []float64) error {
	if err := d.h.subPlainVec(ct, v); err != nil {
		return err
	}
	shadowAddVec(ct.shadow, v, -1)
	return nil
}

func (d *Debug) mul(op0, op1 *Ciphertext) error {
	if err := d.h.mul(op0, op1); err != nil {
		return err
	}
	shadowMul(op0.shadow, op1.shadow)
	return nil
}

func (d *Debug) mulPlain(ct *Ciphertext, c float64) error {
	if err := d.est.UpdatePlaintextMaxVal(c); err != nil {
		return err
	}
	if err := d.h.mulPlain(ct, c); err != nil {
		return err
	}
	shadowMulConst(ct.shadow, c)
	return nil
}

func (d *Debug) mulPlainVec(ct *Ciphertext, v []float64) error {
	if err := d.est.UpdatePlaintextMaxVal(shadowMaxAbs(v)); err != nil {
		return err
	}
	if err := d.h.mulPlainVec(ct, v); err != nil {
		return err
	}
	shadowMulVec(ct.shadow, v)
	return nil
}

func (d *Debug) square(ct *Ciphertext) error {
	if err := d.h.square(ct); err != nil {
		return err
	}
	shadowMul(ct.shadow, ct.shadow)
	return nil
}

func (d *Debug) reduceLevel(ct *Ciphertext, target int) error {
	return d.h.reduceLevel(ct, target)
}

func (d *Debug) rescale(ct *Ciphertext) error {
	return d.h.rescale(ct)
}

func (d *Debug) relinearize(ct *Ciphertext) error {
	return d.h.relinearize(ct)
}

// observe runs the cross-checks after the metadata of the handle has been
// finalized: estimator bounds first, then level, scale and plaintext
// agreement between the backend and the tracked state.
func (d *Debug) observe(op string, ct *Ciphertext) error {
	if err := d.est.observe(op, ct); err != nil {
		return err
	}
	if actual := ct.ct.Level(); actual != ct.level {
		return &DivergenceError{
			Op:            op,
			Check:         "level",
			ExpectedLevel: ct.level,
			ActualLevel:   actual,
		}
	}
	actualScale := logBigScale(&ct.ct.Scale.Value)
	expectedScale := math.Log2(ct.scale)
	if math.Abs(actualScale-expectedScale) > 1e-4*math.Max(1, math.Abs(expectedScale)) {
		return &DivergenceError{
			Op:            op,
			Check:         "scale",
			ExpectedScale: ct.scale,
			ActualScale:   math.Exp2(actualScale),
		}
	}
	return d.checkPlaintext(op, ct)
}

// logBigScale returns log2 of a big.Float scale without leaving arbitrary
// precision, since scales can exceed the float64 exponent range once
// squared high in the chain.
func logBigScale(s *big.Float) float64 {
	ln := bigfloat.Log(s)
	ln2 := bigfloat.Log(big.NewFloat(2))
	f, _ := new(big.Float).Quo(ln, ln2).Float64()
	return f
}

func (d *Debug) checkPlaintext(op string, ct *Ciphertext) error {
	decrypted, err := d.h.Decrypt(ct)
	if err != nil {
		return err
	}
	errs := make([]float64, len(decrypted))
	for i := range decrypted {
		errs[i] = math.Abs(decrypted[i]-ct.shadow[i]) / math.Max(1, math.Abs(ct.shadow[i]))
	}
	maxErr, err := stats.Max(errs)
	if err != nil {
		return fmt.Errorf("cannot cross-check %s: %w", op, err)
	}
	meanErr, err := stats.Mean(errs)
	if err != nil {
		return fmt.Errorf("cannot cross-check %s: %w", op, err)
	}
	if maxErr > d.maxNorm {
		return &DivergenceError{
			Op:       op,
			Check:    "plaintext",
			Expected: truncateDiag(ct.shadow),
			Actual:   truncateDiag(decrypted),
			MaxErr:   maxErr,
			MeanErr:  meanErr,
		}
	}
	return nil
}
