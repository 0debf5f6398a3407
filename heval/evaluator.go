package heval

import (
	"fmt"
	"math"
)

// Evaluator is the shared operation vocabulary. A circuit written against
// this interface can be bound to any of the evaluators in this package:
// Homomorphic for real encrypted execution, DepthFinder and
// ExplicitDepthFinder for multiplicative-depth discovery, ScaleEstimator
// for scale bounds, PlaintextEval for cleartext shadow execution, OpCount
// and RotationSet for static circuit facts, and Debug for lockstep
// cross-checking of all of the above.
//
// Every operation has an in-place form, which mutates its first operand,
// and a *New form, which copies the first operand and mutates the copy.
// All argument validation happens before either operand is touched, so a
// rejected operation leaves its inputs unchanged.
type Evaluator interface {
	// Slots returns the number of plaintext slots per ciphertext.
	Slots() int

	// RotateLeft cyclically shifts the slots of ct by k positions to the
	// left. k must be non-negative; use RotateRight for the other
	// direction.
	RotateLeft(ct *Ciphertext, k int) error
	RotateLeftNew(ct *Ciphertext, k int) (*Ciphertext, error)
	RotateRight(ct *Ciphertext, k int) error
	RotateRightNew(ct *Ciphertext, k int) (*Ciphertext, error)

	Negate(ct *Ciphertext) error
	NegateNew(ct *Ciphertext) (*Ciphertext, error)

	Add(op0, op1 *Ciphertext) error
	AddNew(op0, op1 *Ciphertext) (*Ciphertext, error)
	// AddMany sums all operands into a freshly allocated handle.
	AddMany(ops []*Ciphertext) (*Ciphertext, error)
	AddPlain(ct *Ciphertext, c float64) error
	AddPlainNew(ct *Ciphertext, c float64) (*Ciphertext, error)
	AddPlainVec(ct *Ciphertext, v []float64) error
	AddPlainVecNew(ct *Ciphertext, v []float64) (*Ciphertext, error)

	Sub(op0, op1 *Ciphertext) error
	SubNew(op0, op1 *Ciphertext) (*Ciphertext, error)
	SubPlain(ct *Ciphertext, c float64) error
	SubPlainNew(ct *Ciphertext, c float64) (*Ciphertext, error)
	SubPlainVec(ct *Ciphertext, v []float64) error
	SubPlainVecNew(ct *Ciphertext, v []float64) (*Ciphertext, error)

	// Mul multiplies two ciphertexts without relinearization; the result
	// has degree 2 and must be relinearized before rotations or further
	// multiplications.
	Mul(op0, op1 *Ciphertext) error
	MulNew(op0, op1 *Ciphertext) (*Ciphertext, error)
	// MulPlain multiplies by a public scalar. Multiplying by exactly 0 is
	// not constant-time on some backends and must only be used when the
	// scalar is public.
	MulPlain(ct *Ciphertext, c float64) error
	MulPlainNew(ct *Ciphertext, c float64) (*Ciphertext, error)
	MulPlainVec(ct *Ciphertext, v []float64) error
	MulPlainVecNew(ct *Ciphertext, v []float64) (*Ciphertext, error)
	Square(ct *Ciphertext) error
	SquareNew(ct *Ciphertext) (*Ciphertext, error)

	// ReduceLevel lowers ct to the target level. It never raises a level:
	// a target above the current level fails with ErrInvalidLevelTarget,
	// as does a target below the bottom of a real modulus chain.
	ReduceLevel(ct *Ciphertext, target int) error
	ReduceLevelNew(ct *Ciphertext, target int) (*Ciphertext, error)
	// ReduceLevelTo lowers ct to the level of the target ciphertext.
	ReduceLevelTo(ct, target *Ciphertext) error
	// ReduceLevelMin lowers whichever of a, b is higher to the level of
	// the other.
	ReduceLevelMin(a, b *Ciphertext) error

	// Rescale divides the scale by the modulus prime being dropped and
	// decrements the level.
	Rescale(ct *Ciphertext) error
	RescaleNew(ct *Ciphertext) (*Ciphertext, error)

	// Relinearize restores a degree-2 ciphertext to degree 1. It is a
	// no-op on a ciphertext that is already linear.
	Relinearize(ct *Ciphertext) error
	RelinearizeNew(ct *Ciphertext) (*Ciphertext, error)
}

// Instance extends the vocabulary with data entry and exit. Every evaluator
// in this package implements Instance; decryption under the abstract
// evaluators returns the shadow plaintext when one is maintained.
type Instance interface {
	Evaluator
	Encrypt(values []float64) (*Ciphertext, error)
	EncryptAtLevel(values []float64, level int) (*Ciphertext, error)
	Decrypt(ct *Ciphertext) ([]float64, error)
}

// kernel is the narrow per-evaluator surface behind the shared vocabulary
// front end. The core front end performs all argument validation and
// metadata bookkeeping; kernels only update their own facet of the handle
// (backend payload, shadow vector, running aggregates). observe runs after
// an operation's metadata has been finalized.
type kernel interface {
	rotate(ct *Ciphertext, k int) error // k > 0 rotates left, k < 0 right
	negate(ct *Ciphertext) error
	add(op0, op1 *Ciphertext) error
	sub(op0, op1 *Ciphertext) error
	addPlain(ct *Ciphertext, c float64) error
	subPlain(ct *Ciphertext, c float64) error
	addPlainVec(ct *Ciphertext, v []float64) error
	subPlainVec(ct *Ciphertext, v []float64) error
	mul(op0, op1 *Ciphertext) error
	mulPlain(ct *Ciphertext, c float64) error
	mulPlainVec(ct *Ciphertext, v []float64) error
	square(ct *Ciphertext) error
	reduceLevel(ct *Ciphertext, target int) error
	rescale(ct *Ciphertext) error // must update ct.scale
	relinearize(ct *Ciphertext) error
	observe(op string, ct *Ciphertext) error
}

// noFloor disables the rescale floor (the implicit depth finder lets levels
// go negative and reads the depth off the downward excursion).
const noFloor = math.MinInt

// core implements the Evaluator interface on top of a kernel. It owns the
// operand canonicalization, the compatibility and level checks shared by
// every interpretation, and the uniform metadata updates on the handle.
type core struct {
	impl  kernel
	slots int

	// checkLevels enables the level-equality precondition on binary
	// operations. The rotation-collecting evaluator ignores levels.
	checkLevels bool

	// rescaleFloor is the lowest level Rescale may consume, or noFloor.
	rescaleFloor int

	// baseScale, when non-zero, enables the scale-exponent precondition:
	// no operation may push a ciphertext's scale above baseScale^2, i.e.
	// every multiplication must be followed by a rescale before the next.
	baseScale float64
}

func (e *core) Slots() int { return e.slots }

func (e *core) checkRotation(op string, ct *Ciphertext, k int) error {
	if k < 0 {
		return fmt.Errorf("cannot %s: negative offset %d: %w", op, k, ErrIncompatibleOperands)
	}
	if k >= ct.slots {
		return fmt.Errorf("cannot %s: offset %d exceeds slot count %d: %w", op, k, ct.slots, ErrIncompatibleOperands)
	}
	if ct.degree != 1 {
		return fmt.Errorf("cannot %s: ciphertext must be relinearized first: %w", op, ErrIncompatibleOperands)
	}
	return nil
}

func (e *core) RotateLeft(ct *Ciphertext, k int) error {
	if err := e.checkRotation("RotateLeft", ct, k); err != nil {
		return err
	}
	if k == 0 {
		return nil
	}
	if err := e.impl.rotate(ct, k); err != nil {
		return fmt.Errorf("cannot RotateLeft: %w", err)
	}
	return e.impl.observe("RotateLeft", ct)
}

func (e *core) RotateLeftNew(ct *Ciphertext, k int) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.RotateLeft(out, k)
}

func (e *core) RotateRight(ct *Ciphertext, k int) error {
	if err := e.checkRotation("RotateRight", ct, k); err != nil {
		return err
	}
	if k == 0 {
		return nil
	}
	if err := e.impl.rotate(ct, -k); err != nil {
		return fmt.Errorf("cannot RotateRight: %w", err)
	}
	return e.impl.observe("RotateRight", ct)
}

func (e *core) RotateRightNew(ct *Ciphertext, k int) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.RotateRight(out, k)
}

func (e *core) Negate(ct *Ciphertext) error {
	if err := e.impl.negate(ct); err != nil {
		return fmt.Errorf("cannot Negate: %w", err)
	}
	return e.impl.observe("Negate", ct)
}

func (e *core) NegateNew(ct *Ciphertext) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.Negate(out)
}

func (e *core) checkLevelEq(op string, a, b *Ciphertext) error {
	if e.checkLevels && a.level != b.level {
		return fmt.Errorf("cannot %s: operand levels %d and %d differ: %w", op, a.level, b.level, ErrLevelMismatch)
	}
	return nil
}

func (e *core) Add(op0, op1 *Ciphertext) error {
	shape, err := additiveShape("Add", op0, op1)
	if err != nil {
		return err
	}
	if err := e.checkLevelEq("Add", op0, op1); err != nil {
		return err
	}
	if err := e.impl.add(op0, op1); err != nil {
		return fmt.Errorf("cannot Add: %w", err)
	}
	e.mergeAdditive(op0, op1, shape)
	return e.impl.observe("Add", op0)
}

func (e *core) AddNew(op0, op1 *Ciphertext) (*Ciphertext, error) {
	out := op0.Copy()
	return out, e.Add(out, op1)
}

func (e *core) AddMany(ops []*Ciphertext) (*Ciphertext, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("cannot AddMany: no operands: %w", ErrDimension)
	}
	out := ops[0].Copy()
	for _, op := range ops[1:] {
		if err := e.Add(out, op); err != nil {
			return nil, fmt.Errorf("cannot AddMany: %w", err)
		}
	}
	return out, nil
}

func (e *core) Sub(op0, op1 *Ciphertext) error {
	shape, err := additiveShape("Sub", op0, op1)
	if err != nil {
		return err
	}
	if err := e.checkLevelEq("Sub", op0, op1); err != nil {
		return err
	}
	if err := e.impl.sub(op0, op1); err != nil {
		return fmt.Errorf("cannot Sub: %w", err)
	}
	e.mergeAdditive(op0, op1, shape)
	return e.impl.observe("Sub", op0)
}

func (e *core) SubNew(op0, op1 *Ciphertext) (*Ciphertext, error) {
	out := op0.Copy()
	return out, e.Sub(out, op1)
}

// mergeAdditive applies the uniform metadata rules for Add/Sub: the result
// takes the canonicalized shape, the larger scale and the larger degree.
func (e *core) mergeAdditive(op0, op1 *Ciphertext, shape Shape) {
	op0.Shape = shape
	op0.scale = math.Max(op0.scale, op1.scale)
	if op1.degree > op0.degree {
		op0.degree = op1.degree
	}
	op0.bootstrapped = op0.bootstrapped || op1.bootstrapped
}

func (e *core) AddPlain(ct *Ciphertext, c float64) error {
	if err := e.impl.addPlain(ct, c); err != nil {
		return fmt.Errorf("cannot AddPlain: %w", err)
	}
	return e.impl.observe("AddPlain", ct)
}

func (e *core) AddPlainNew(ct *Ciphertext, c float64) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.AddPlain(out, c)
}

func (e *core) SubPlain(ct *Ciphertext, c float64) error {
	if err := e.impl.subPlain(ct, c); err != nil {
		return fmt.Errorf("cannot SubPlain: %w", err)
	}
	return e.impl.observe("SubPlain", ct)
}

func (e *core) SubPlainNew(ct *Ciphertext, c float64) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.SubPlain(out, c)
}

func (e *core) checkPlainVec(op string, ct *Ciphertext, v []float64) error {
	if len(v) > ct.slots {
		return fmt.Errorf("cannot %s: plaintext vector of length %d exceeds %d slots: %w", op, len(v), ct.slots, ErrDimension)
	}
	return nil
}

func (e *core) AddPlainVec(ct *Ciphertext, v []float64) error {
	if err := e.checkPlainVec("AddPlainVec", ct, v); err != nil {
		return err
	}
	if err := e.impl.addPlainVec(ct, v); err != nil {
		return fmt.Errorf("cannot AddPlainVec: %w", err)
	}
	return e.impl.observe("AddPlainVec", ct)
}

func (e *core) AddPlainVecNew(ct *Ciphertext, v []float64) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.AddPlainVec(out, v)
}

func (e *core) SubPlainVec(ct *Ciphertext, v []float64) error {
	if err := e.checkPlainVec("SubPlainVec", ct, v); err != nil {
		return err
	}
	if err := e.impl.subPlainVec(ct, v); err != nil {
		return fmt.Errorf("cannot SubPlainVec: %w", err)
	}
	return e.impl.observe("SubPlainVec", ct)
}

func (e *core) SubPlainVecNew(ct *Ciphertext, v []float64) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.SubPlainVec(out, v)
}

// scaleExp returns the tracked scale expressed as an exponent of the base
// scale, rounded to the nearest integer.
func (e *core) scaleExp(scale float64) int {
	return int(math.Round(math.Log2(scale) / math.Log2(e.baseScale)))
}

func (e *core) checkScaleExp(op string, product float64) error {
	if e.baseScale == 0 {
		return nil
	}
	if exp := e.scaleExp(product); exp > 2 {
		return fmt.Errorf("cannot %s: resulting scale exponent %d exceeds 2, rescale between multiplications: %w", op, exp, ErrScaleOverflow)
	}
	return nil
}

func (e *core) Mul(op0, op1 *Ciphertext) error {
	shape, err := multiplicativeShape("Mul", op0, op1)
	if err != nil {
		return err
	}
	if err := e.checkLevelEq("Mul", op0, op1); err != nil {
		return err
	}
	if op0.degree != 1 || op1.degree != 1 {
		return fmt.Errorf("cannot Mul: operands must be relinearized first: %w", ErrIncompatibleOperands)
	}
	if err := e.checkScaleExp("Mul", op0.scale*op1.scale); err != nil {
		return err
	}
	if err := e.impl.mul(op0, op1); err != nil {
		return fmt.Errorf("cannot Mul: %w", err)
	}
	op0.Shape = shape
	op0.scale *= op1.scale
	op0.degree = 2
	op0.bootstrapped = op0.bootstrapped || op1.bootstrapped
	return e.impl.observe("Mul", op0)
}

func (e *core) MulNew(op0, op1 *Ciphertext) (*Ciphertext, error) {
	out := op0.Copy()
	return out, e.Mul(out, op1)
}

func (e *core) MulPlain(ct *Ciphertext, c float64) error {
	if err := e.checkScaleExp("MulPlain", ct.scale*ct.scale); err != nil {
		return err
	}
	if err := e.impl.mulPlain(ct, c); err != nil {
		return fmt.Errorf("cannot MulPlain: %w", err)
	}
	ct.scale *= ct.scale
	return e.impl.observe("MulPlain", ct)
}

func (e *core) MulPlainNew(ct *Ciphertext, c float64) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.MulPlain(out, c)
}

func (e *core) MulPlainVec(ct *Ciphertext, v []float64) error {
	if err := e.checkPlainVec("MulPlainVec", ct, v); err != nil {
		return err
	}
	if err := e.checkScaleExp("MulPlainVec", ct.scale*ct.scale); err != nil {
		return err
	}
	if err := e.impl.mulPlainVec(ct, v); err != nil {
		return fmt.Errorf("cannot MulPlainVec: %w", err)
	}
	ct.scale *= ct.scale
	return e.impl.observe("MulPlainVec", ct)
}

func (e *core) MulPlainVecNew(ct *Ciphertext, v []float64) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.MulPlainVec(out, v)
}

func (e *core) Square(ct *Ciphertext) error {
	if ct.degree != 1 {
		return fmt.Errorf("cannot Square: operand must be relinearized first: %w", ErrIncompatibleOperands)
	}
	if err := e.checkScaleExp("Square", ct.scale*ct.scale); err != nil {
		return err
	}
	if err := e.impl.square(ct); err != nil {
		return fmt.Errorf("cannot Square: %w", err)
	}
	ct.scale *= ct.scale
	ct.degree = 2
	return e.impl.observe("Square", ct)
}

func (e *core) SquareNew(ct *Ciphertext) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.Square(out)
}

func (e *core) ReduceLevel(ct *Ciphertext, target int) error {
	if e.rescaleFloor != noFloor && target < e.rescaleFloor {
		return fmt.Errorf("cannot ReduceLevel: target %d below the bottom of the modulus chain: %w", target, ErrInvalidLevelTarget)
	}
	if target > ct.level {
		return fmt.Errorf("cannot ReduceLevel: target %d above current level %d: %w", target, ct.level, ErrInvalidLevelTarget)
	}
	if target == ct.level {
		return nil
	}
	if err := e.impl.reduceLevel(ct, target); err != nil {
		return fmt.Errorf("cannot ReduceLevel: %w", err)
	}
	ct.level = target
	return e.impl.observe("ReduceLevel", ct)
}

func (e *core) ReduceLevelNew(ct *Ciphertext, target int) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.ReduceLevel(out, target)
}

func (e *core) ReduceLevelTo(ct, target *Ciphertext) error {
	return e.ReduceLevel(ct, target.level)
}

func (e *core) ReduceLevelMin(a, b *Ciphertext) error {
	switch {
	case a.level > b.level:
		return e.ReduceLevel(a, b.level)
	case b.level > a.level:
		return e.ReduceLevel(b, a.level)
	}
	return nil
}

func (e *core) Rescale(ct *Ciphertext) error {
	if e.rescaleFloor != noFloor && ct.level <= e.rescaleFloor {
		return fmt.Errorf("cannot Rescale: level %d is the bottom of the modulus chain: %w", ct.level, ErrInvalidLevelTarget)
	}
	if err := e.impl.rescale(ct); err != nil {
		return fmt.Errorf("cannot Rescale: %w", err)
	}
	ct.level--
	return e.impl.observe("Rescale", ct)
}

func (e *core) RescaleNew(ct *Ciphertext) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.Rescale(out)
}

func (e *core) Relinearize(ct *Ciphertext) error {
	if ct.degree == 1 {
		return nil
	}
	if err := e.impl.relinearize(ct); err != nil {
		return fmt.Errorf("cannot Relinearize: %w", err)
	}
	ct.degree = 1
	return e.impl.observe("Relinearize", ct)
}

func (e *core) RelinearizeNew(ct *Ciphertext) (*Ciphertext, error) {
	out := ct.Copy()
	return out, e.Relinearize(out)
}

// freshHandle allocates the metadata common to every evaluator's Encrypt.
func (e *core) freshHandle(values []float64, level int, scale float64) (*Ciphertext, error) {
	if len(values) > e.slots {
		return nil, fmt.Errorf("cannot Encrypt: %d values exceed %d slots: %w", len(values), e.slots, ErrDimension)
	}
	return &Ciphertext{
		Shape:  Shape{Kind: EncodingUnset, Height: 1, Width: len(values)},
		slots:  e.slots,
		level:  level,
		scale:  scale,
		degree: 1,
	}, nil
}

// padSlots extends a value vector with zeros up to the slot count.
func padSlots(values []float64, slots int) []float64 {
	out := make([]float64, slots)
	copy(out, values)
	return out
}

// additiveShape canonicalizes an Add/Sub operand pair and returns the shape
// of the result. Two operands are compatible when their encodings and
// shapes are identical, or when one is a deferred-reduction intermediate
// and the other a matrix of the same dimensions.
func additiveShape(op string, a, b *Ciphertext) (Shape, error) {
	if a.slots != b.slots {
		return Shape{}, incompatible(op, a, b)
	}
	x, y := a.Shape, b.Shape
	if y.Kind.intermediate() && !x.Kind.intermediate() {
		x, y = y, x
	}
	switch {
	case x == y:
		return x, nil
	case x.Kind.intermediate() && y.Kind == EncodingMatrix && sameDims(x, y):
		return x, nil
	}
	return Shape{}, incompatible(op, a, b)
}

// multiplicativeShape canonicalizes a Mul operand pair (vector operand
// first) and returns the shape of the result: componentwise products keep
// their shape, vector-matrix products yield the matching intermediate.
func multiplicativeShape(op string, a, b *Ciphertext) (Shape, error) {
	if a.slots != b.slots {
		return Shape{}, incompatible(op, a, b)
	}
	x, y := a.Shape, b.Shape
	if y.Kind.vector() && !x.Kind.vector() {
		x, y = y, x
	}
	switch {
	case x == y:
		return x, nil
	case x.Kind == EncodingRowVector && (y.Kind == EncodingMatrix || y.Kind == EncodingRowMatrix):
		if x.Width == y.Height && sameUnit(x, y) {
			return Shape{Kind: EncodingRowMatrix, Height: y.Height, Width: y.Width, EncodedHeight: y.EncodedHeight, EncodedWidth: y.EncodedWidth}, nil
		}
	case x.Kind == EncodingColVector && (y.Kind == EncodingMatrix || y.Kind == EncodingColMatrix):
		if x.Height == y.Width && sameUnit(x, y) {
			return Shape{Kind: EncodingColMatrix, Height: y.Height, Width: y.Width, EncodedHeight: y.EncodedHeight, EncodedWidth: y.EncodedWidth}, nil
		}
	}
	return Shape{}, incompatible(op, a, b)
}

func sameDims(x, y Shape) bool {
	return x.Height == y.Height && x.Width == y.Width && sameUnit(x, y)
}

func sameUnit(x, y Shape) bool {
	return x.EncodedHeight == y.EncodedHeight && x.EncodedWidth == y.EncodedWidth
}

func incompatible(op string, a, b *Ciphertext) error {
	return fmt.Errorf("cannot %s: %v vs %v: %w", op, a.Shape, b.Shape, ErrIncompatibleOperands)
}
