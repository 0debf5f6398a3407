package heval

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Context bundles a CKKS parameter set with the key material needed to run
// circuits homomorphically. One Context can back any number of Homomorphic
// and Debug evaluators; the evaluation keys are shared read-only.
type Context struct {
	params ckks.Parameters
	sk     *rlwe.SecretKey
	pk     *rlwe.PublicKey
	rlk    *rlwe.RelinearizationKey
	evk    *rlwe.MemEvaluationKeySet
}

// NewContext generates a fresh key pair and relinearization key for the
// given parameter literal. Rotation keys are not generated here; call
// GenRotationKeys with the offsets the circuit needs (typically discovered
// with a RotationSet run) before constructing a Homomorphic evaluator that
// rotates.
func NewContext(lit ckks.ParametersLiteral) (*Context, error) {
	params, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("cannot NewContext: %w", err)
	}
	kgen := ckks.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)
	return &Context{
		params: params,
		sk:     sk,
		pk:     pk,
		rlk:    rlk,
		evk:    rlwe.NewMemEvaluationKeySet(rlk),
	}, nil
}

// GenRotationKeys generates Galois keys for the given rotation offsets
// (positive left, negative right) and installs them in the evaluation key
// set. It replaces any previously generated rotation keys.
func (c *Context) GenRotationKeys(rotations []int) {
	kgen := ckks.NewKeyGenerator(c.params)
	galEls := make([]uint64, 0, len(rotations))
	for _, k := range rotations {
		galEls = append(galEls, c.params.GaloisElementForRotation(k))
	}
	gks := kgen.GenGaloisKeysNew(galEls, c.sk)
	c.evk = rlwe.NewMemEvaluationKeySet(c.rlk, gks...)
}

// Parameters returns the CKKS parameter set of the context.
func (c *Context) Parameters() ckks.Parameters { return c.params }

// SecretKey exposes the secret key for external tooling (serialization,
// collective key generation). Production deployments keep it out of the
// evaluation path; only Decrypt touches it.
func (c *Context) SecretKey() *rlwe.SecretKey { return c.sk }

// Homomorphic executes the vocabulary on real CKKS ciphertexts. It is the
// only evaluator whose results are actually encrypted; all others reason
// about the circuit without key material.
//
// All methods are safe for concurrent use: the stateful backend objects are
// drawn from pools of shallow copies sharing the read-only keys.
type Homomorphic struct {
	core
	ctx *Context

	evals      sync.Pool
	encoders   sync.Pool
	encryptors sync.Pool
	decryptors sync.Pool
}

var _ Instance = (*Homomorphic)(nil)

// NewHomomorphic binds an evaluator to a context. The context must already
// hold the rotation keys for every offset the circuit will use.
func NewHomomorphic(ctx *Context) *Homomorphic {
	h := &Homomorphic{ctx: ctx}
	h.core = core{
		impl:         h,
		slots:        ctx.params.MaxSlots(),
		checkLevels:  true,
		rescaleFloor: 0,
		baseScale:    ctx.params.DefaultScale().Float64(),
	}
	eval := ckks.NewEvaluator(ctx.params, ctx.evk)
	h.evals.New = func() any { return eval.ShallowCopy() }
	ecd := ckks.NewEncoder(ctx.params)
	h.encoders.New = func() any { return ecd.ShallowCopy() }
	enc := ckks.NewEncryptor(ctx.params, ctx.pk)
	h.encryptors.New = func() any { return enc.ShallowCopy() }
	dec := ckks.NewDecryptor(ctx.params, ctx.sk)
	h.decryptors.New = func() any { return dec.ShallowCopy() }
	return h
}

func (h *Homomorphic) getEval() *ckks.Evaluator  { return h.evals.Get().(*ckks.Evaluator) }
func (h *Homomorphic) putEval(e *ckks.Evaluator) { h.evals.Put(e) }

func (h *Homomorphic) getEncoder() *ckks.Encoder  { return h.encoders.Get().(*ckks.Encoder) }
func (h *Homomorphic) putEncoder(e *ckks.Encoder) { h.encoders.Put(e) }

// Encrypt encodes and encrypts at the top of the modulus chain with the
// default scale.
func (h *Homomorphic) Encrypt(values []float64) (*Ciphertext, error) {
	return h.EncryptAtLevel(values, h.ctx.params.MaxLevel())
}

// EncryptAtLevel encrypts directly at the given level.
func (h *Homomorphic) EncryptAtLevel(values []float64, level int) (*Ciphertext, error) {
	if level < 0 || level > h.ctx.params.MaxLevel() {
		return nil, fmt.Errorf("cannot Encrypt: level %d outside modulus chain [0, %d]: %w", level, h.ctx.params.MaxLevel(), ErrInvalidLevelTarget)
	}
	out, err := h.freshHandle(values, level, h.baseScale)
	if err != nil {
		return nil, err
	}
	pt := ckks.NewPlaintext(h.ctx.params, level)
	ecd := h.getEncoder()
	err = ecd.Encode(padSlots(values, h.slots), pt)
	h.putEncoder(ecd)
	if err != nil {
		return nil, fmt.Errorf("cannot Encrypt: %w", err)
	}
	enc := h.encryptors.Get().(*rlwe.Encryptor)
	out.ct, err = enc.EncryptNew(pt)
	h.encryptors.Put(enc)
	if err != nil {
		return nil, fmt.Errorf("cannot Encrypt: %w", err)
	}
	return out, nil
}

// Decrypt decrypts and decodes the full slot vector.
func (h *Homomorphic) Decrypt(ct *Ciphertext) ([]float64, error) {
	if ct.ct == nil {
		return nil, fmt.Errorf("cannot Decrypt: handle has no backend ciphertext: %w", ErrIncompatibleOperands)
	}
	dec := h.decryptors.Get().(*rlwe.Decryptor)
	pt := dec.DecryptNew(ct.ct)
	h.decryptors.Put(dec)
	values := make([]float64, h.slots)
	ecd := h.getEncoder()
	err := ecd.Decode(pt, values)
	h.putEncoder(ecd)
	if err != nil {
		return nil, fmt.Errorf("cannot Decrypt: %w", err)
	}
	return values, nil
}

// encodeAt encodes v across all slots at the ciphertext's exact level and
// scale, so the tracked scale arithmetic matches the backend bit for bit.
func (h *Homomorphic) encodeAt(ct *Ciphertext, v []float64) (*rlwe.Plaintext, error) {
	pt := ckks.NewPlaintext(h.ctx.params, ct.level)
	pt.Scale = ct.ct.Scale
	ecd := h.getEncoder()
	err := ecd.Encode(padSlots(v, h.slots), pt)
	h.putEncoder(ecd)
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func (h *Homomorphic) splat(c float64) []float64 {
	v := make([]float64, h.slots)
	for i := range v {
		v[i] = c
	}
	return v
}

func (h *Homomorphic) rotate(ct *Ciphertext, k int) error {
	ev := h.getEval()
	err := ev.Rotate(ct.ct, k, ct.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) negate(ct *Ciphertext) error {
	ev := h.getEval()
	err := ev.Mul(ct.ct, -1, ct.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) add(op0, op1 *Ciphertext) error {
	ev := h.getEval()
	err := ev.Add(op0.ct, op1.ct, op0.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) sub(op0, op1 *Ciphertext) error {
	ev := h.getEval()
	err := ev.Sub(op0.ct, op1.ct, op0.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) addPlain(ct *Ciphertext, c float64) error {
	return h.addPlainVec(ct, h.splat(c))
}

func (h *Homomorphic) subPlain(ct *Ciphertext, c float64) error {
	return h.subPlainVec(ct, h.splat(c))
}

func (h *Homomorphic) addPlainVec(ct *Ciphertext, v []float64) error {
	pt, err := h.encodeAt(ct, v)
	if err != nil {
		return err
	}
	ev := h.getEval()
	err = ev.Add(ct.ct, pt, ct.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) subPlainVec(ct *Ciphertext, v []float64) error {
	pt, err := h.encodeAt(ct, v)
	if err != nil {
		return err
	}
	ev := h.getEval()
	err = ev.Sub(ct.ct, pt, ct.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) mul(op0, op1 *Ciphertext) error {
	ev := h.getEval()
	out, err := ev.MulNew(op0.ct, op1.ct)
	h.putEval(ev)
	if err != nil {
		return err
	}
	op0.ct = out
	return nil
}

func (h *Homomorphic) mulPlain(ct *Ciphertext, c float64) error {
	return h.mulPlainVec(ct, h.splat(c))
}

// mulPlainVec encodes the mask at the ciphertext's own scale, so the result
// lands at exactly scale squared. Note that multiplying by a mask is not
// constant-time in the mask; masks must be public.
func (h *Homomorphic) mulPlainVec(ct *Ciphertext, v []float64) error {
	pt, err := h.encodeAt(ct, v)
	if err != nil {
		return err
	}
	ev := h.getEval()
	err = ev.Mul(ct.ct, pt, ct.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) square(ct *Ciphertext) error {
	ev := h.getEval()
	out, err := ev.MulNew(ct.ct, ct.ct)
	h.putEval(ev)
	if err != nil {
		return err
	}
	ct.ct = out
	return nil
}

func (h *Homomorphic) reduceLevel(ct *Ciphertext, target int) error {
	ev := h.getEval()
	ev.DropLevel(ct.ct, ct.ct.Level()-target)
	h.putEval(ev)
	return nil
}

func (h *Homomorphic) rescale(ct *Ciphertext) error {
	ev := h.getEval()
	err := ev.Rescale(ct.ct, ct.ct)
	h.putEval(ev)
	if err != nil {
		return err
	}
	ct.scale /= float64(h.ctx.params.Q()[ct.level])
	return nil
}

func (h *Homomorphic) relinearize(ct *Ciphertext) error {
	ev := h.getEval()
	err := ev.Relinearize(ct.ct, ct.ct)
	h.putEval(ev)
	return err
}

func (h *Homomorphic) observe(string, *Ciphertext) error { return nil }
