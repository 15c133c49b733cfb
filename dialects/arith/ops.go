package arith

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	infos := []*ir.OpInfo{constantInfo()}
	infos = append(infos, binaryInfos()...)
	infos = append(infos, unaryInfos()...)
	infos = append(infos, coercionInfos()...)
	for _, info := range infos {
		if _, err := ctx.RegisterOperation(d, info); err != nil {
			return err
		}
	}
	return nil
}

func constantInfo() *ir.OpInfo {
	return &ir.OpInfo{
		Name:   "constant",
		Traits: ir.TraitConstantLike | ir.TraitAlwaysSpeculatable | ir.TraitNoMemoryEffect,
		InferReturnTypes: func(_ *ir.Context, _ []*ir.Value, attrs ir.AttrList) ([]ir.Type, error) {
			v, ok := attrs.Get("value")
			if !ok {
				return nil, errors.New("missing \"value\" attribute")
			}
			a, ok := v.(ir.IntegerAttr)
			if !ok {
				return nil, errors.Errorf("\"value\" must be an integer attribute, got %s", v)
			}
			return []ir.Type{a.Type()}, nil
		},
		// A constant folds to its own value attribute; folding the fold
		// result yields the identical attribute again.
		Fold: func(op *ir.Operation, _ []ir.Attribute) ([]ir.FoldResult, bool) {
			v, _ := op.Attr("value")
			return []ir.FoldResult{{Attr: v}}, true
		},
		Verify: func(op *ir.Operation) error {
			v, _ := op.Attr("value")
			a, ok := v.(ir.IntegerAttr)
			if !ok {
				return errors.New("\"value\" must be an integer attribute")
			}
			if op.NumResults() == 1 && op.Result(0).Type() != a.Type() {
				return errors.Errorf("result type %s does not match constant type %s", op.Result(0).Type(), a.Type())
			}
			return nil
		},
	}
}

// binDef describes one binary operation kind for table-driven registration.
type binDef struct {
	name        string
	commutative bool
	comparison  bool
	boolean     bool // logical ops over i1
	feltOK      bool
	speculative bool
	overflow    bool // honors the "overflow" attribute
	evalInt     func(t *ir.IntType, a, b uint64) (uint64, bool)
	evalFelt    func(a, b uint64) (uint64, bool)
}

func binaryInfos() []*ir.OpInfo {
	defs := []binDef{
		{name: "add", commutative: true, feltOK: true, speculative: true, overflow: true,
			evalInt:  func(t *ir.IntType, a, b uint64) (uint64, bool) { return a + b, true },
			evalFelt: func(a, b uint64) (uint64, bool) { return feltAdd(a, b), true }},
		{name: "sub", feltOK: true, speculative: true, overflow: true,
			evalInt:  func(t *ir.IntType, a, b uint64) (uint64, bool) { return a - b, true },
			evalFelt: func(a, b uint64) (uint64, bool) { return feltSub(a, b), true }},
		{name: "mul", commutative: true, feltOK: true, speculative: true, overflow: true,
			evalInt:  func(t *ir.IntType, a, b uint64) (uint64, bool) { return a * b, true },
			evalFelt: func(a, b uint64) (uint64, bool) { return feltMul(a, b), true }},
		{name: "div",
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				if b == 0 {
					return 0, false
				}
				return a / b, true
			}},
		{name: "sdiv",
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				if b == 0 {
					return 0, false
				}
				return uint64(sext(a, t.Width()) / sext(b, t.Width())), true
			}},
		{name: "mod",
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				if b == 0 {
					return 0, false
				}
				return a % b, true
			}},
		{name: "smod",
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				if b == 0 {
					return 0, false
				}
				return uint64(sext(a, t.Width()) % sext(b, t.Width())), true
			}},
		{name: "and", commutative: true, boolean: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a & b, true }},
		{name: "or", commutative: true, boolean: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a | b, true }},
		{name: "xor", commutative: true, boolean: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a ^ b, true }},
		{name: "band", commutative: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a & b, true }},
		{name: "bor", commutative: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a | b, true }},
		{name: "bxor", commutative: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a ^ b, true }},
		{name: "shl", speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a << (b % uint64(t.Width())), true }},
		{name: "shr", speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return a >> (b % uint64(t.Width())), true }},
		{name: "ashr", speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				return uint64(sext(a, t.Width()) >> (b % uint64(t.Width()))), true
			}},
		{name: "rotl", speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return rotate(t, a, int(b%uint64(t.Width()))), true }},
		{name: "rotr", speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				return rotate(t, a, int(t.Width())-int(b%uint64(t.Width()))), true
			}},
		{name: "eq", commutative: true, comparison: true, feltOK: true, speculative: true,
			evalInt:  func(t *ir.IntType, a, b uint64) (uint64, bool) { return b2i(a == b), true },
			evalFelt: func(a, b uint64) (uint64, bool) { return b2i(a == b), true }},
		{name: "neq", commutative: true, comparison: true, feltOK: true, speculative: true,
			evalInt:  func(t *ir.IntType, a, b uint64) (uint64, bool) { return b2i(a != b), true },
			evalFelt: func(a, b uint64) (uint64, bool) { return b2i(a != b), true }},
		{name: "lt", comparison: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return b2i(cmp(t, a, b) < 0), true }},
		{name: "lte", comparison: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return b2i(cmp(t, a, b) <= 0), true }},
		{name: "gt", comparison: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return b2i(cmp(t, a, b) > 0), true }},
		{name: "gte", comparison: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) { return b2i(cmp(t, a, b) >= 0), true }},
		{name: "min", commutative: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				if cmp(t, a, b) <= 0 {
					return a, true
				}
				return b, true
			}},
		{name: "max", commutative: true, speculative: true,
			evalInt: func(t *ir.IntType, a, b uint64) (uint64, bool) {
				if cmp(t, a, b) >= 0 {
					return a, true
				}
				return b, true
			}},
	}
	infos := make([]*ir.OpInfo, 0, len(defs))
	for i := range defs {
		infos = append(infos, binaryInfo(defs[i]))
	}
	return infos
}

func binaryInfo(def binDef) *ir.OpInfo {
	traits := ir.TraitNoMemoryEffect
	if def.comparison {
		traits |= ir.TraitSameTypeOperands
	} else {
		traits |= ir.TraitSameOperandsAndResultType
	}
	if def.commutative {
		traits |= ir.TraitCommutative
	}
	if def.speculative {
		traits |= ir.TraitAlwaysSpeculatable
	}
	fullName := "arith." + def.name
	info := &ir.OpInfo{
		Name:   def.name,
		Traits: traits,
		InferReturnTypes: func(ctx *ir.Context, operands []*ir.Value, _ ir.AttrList) ([]ir.Type, error) {
			if len(operands) != 2 {
				return nil, errors.Errorf("%s expects 2 operands, got %d", fullName, len(operands))
			}
			ty := operands[0].Type()
			if operands[1].Type() != ty {
				return nil, errors.Errorf("%s operand types differ: %s vs %s", fullName, ty, operands[1].Type())
			}
			if def.boolean {
				if !ir.IsBool(ty) {
					return nil, errors.Errorf("%s requires i1 operands, got %s", fullName, ty)
				}
			} else if def.feltOK {
				if err := checkNumeric(fullName, ty); err != nil {
					return nil, err
				}
			} else if err := checkInteger(fullName, ty); err != nil {
				return nil, err
			}
			if def.comparison {
				return []ir.Type{ctx.I1()}, nil
			}
			return []ir.Type{ty}, nil
		},
		Fold: func(op *ir.Operation, operands []ir.Attribute) ([]ir.FoldResult, bool) {
			return foldBinary(def, op, operands)
		},
	}
	if def.commutative {
		info.Canonicalize = []ir.RewriteFn{canonicalizeCommutative}
	}
	return info
}

// foldBinary folds a binary op when both operands are constant, and applies
// cheap operand identities when only one is.
func foldBinary(def binDef, op *ir.Operation, operands []ir.Attribute) ([]ir.FoldResult, bool) {
	lhs, lhsOK := intAttr(operands[0])
	rhs, rhsOK := intAttr(operands[1])

	if lhsOK && rhsOK {
		ty := op.Operand(0).Type()
		switch t := ty.(type) {
		case *ir.IntType:
			if t.Width() > 64 || def.evalInt == nil {
				break
			}
			if def.overflow {
				if r, ok := foldOverflowing(def.name, op, t, lhs.Bits(), rhs.Bits()); ok {
					return r, true
				}
				return nil, false
			}
			raw, ok := def.evalInt(t, lhs.Bits(), rhs.Bits())
			if !ok {
				break
			}
			resultTy := op.Result(0).Type()
			return []ir.FoldResult{{Attr: ir.NewIntegerAttr(resultTy, raw)}}, true
		case *ir.FeltType:
			if def.evalFelt == nil {
				break
			}
			raw, ok := def.evalFelt(lhs.Bits(), rhs.Bits())
			if !ok {
				break
			}
			return []ir.FoldResult{{Attr: ir.NewIntegerAttr(op.Result(0).Type(), raw)}}, true
		}
	}

	if r, ok := foldIdentity(def.name, op, lhs, lhsOK, rhs, rhsOK); ok {
		return r, true
	}
	return nil, false
}

// foldOverflowing folds add/sub/mul subject to the op's overflow behavior.
func foldOverflowing(name string, op *ir.Operation, t *ir.IntType, a, b uint64) ([]ir.FoldResult, bool) {
	behavior := OverflowBehaviorOf(op)
	raw, overflowed := evalOverflowing(name, t, a, b)
	switch behavior {
	case ir.OverflowWrapping:
		return []ir.FoldResult{{Attr: ir.NewIntegerAttr(t, raw)}}, true
	case ir.OverflowChecked:
		if overflowed {
			// Would trap at runtime; leave the op in place.
			return nil, false
		}
		return []ir.FoldResult{{Attr: ir.NewIntegerAttr(t, raw)}}, true
	case ir.OverflowSaturating:
		if overflowed {
			raw = saturated(name, t, a, b)
		}
		return []ir.FoldResult{{Attr: ir.NewIntegerAttr(t, raw)}}, true
	default:
		return nil, false
	}
}

func evalOverflowing(name string, t *ir.IntType, a, b uint64) (raw uint64, overflowed bool) {
	w := t.Width()
	if t.IsSigned() {
		sa, sb := sext(a, w), sext(b, w)
		var r int64
		switch name {
		case "add":
			r = sa + sb
			if w == 64 {
				return uint64(r), (sb > 0 && r < sa) || (sb < 0 && r > sa)
			}
		case "sub":
			r = sa - sb
			if w == 64 {
				return uint64(r), (sb < 0 && r < sa) || (sb > 0 && r > sa)
			}
		case "mul":
			r = sa * sb
			switch {
			case sa == -1:
				// MinInt64 / -1 would fault below.
				if sb == -1<<63 {
					return uint64(r), true
				}
			case sa != 0:
				if r/sa != sb {
					return uint64(r), true
				}
			}
		}
		lo, hi := signedRange(w)
		return uint64(r), r < lo || r > hi
	}
	switch name {
	case "add":
		sum, carry := bits.Add64(a, b, 0)
		if w < 64 {
			return sum, sum>>w != 0
		}
		return sum, carry != 0
	case "sub":
		diff, borrow := bits.Sub64(a, b, 0)
		return diff, borrow != 0
	case "mul":
		hi, lo := bits.Mul64(a, b)
		if w < 64 {
			return lo, hi != 0 || lo>>w != 0
		}
		return lo, hi != 0
	}
	return 0, false
}

func saturated(name string, t *ir.IntType, a, b uint64) uint64 {
	w := t.Width()
	if t.IsSigned() {
		lo, hi := signedRange(w)
		sa, sb := sext(a, w), sext(b, w)
		var toward int64
		switch name {
		case "add":
			toward = sb
		case "sub":
			if sb == -1<<63 {
				toward = 1
			} else {
				toward = -sb
			}
		case "mul":
			// The sign of the true product decides the clamp direction.
			if (sa < 0) != (sb < 0) {
				toward = -1
			} else {
				toward = 1
			}
		}
		if toward < 0 {
			return uint64(lo)
		}
		return uint64(hi)
	}
	if name == "sub" {
		return 0
	}
	if w < 64 {
		return (1 << w) - 1
	}
	return ^uint64(0)
}

// foldIdentity applies operand identities that need only one constant side.
func foldIdentity(name string, op *ir.Operation, lhs ir.IntegerAttr, lhsOK bool, rhs ir.IntegerAttr, rhsOK bool) ([]ir.FoldResult, bool) {
	x := op.Operand(0)
	use := func(v *ir.Value) ([]ir.FoldResult, bool) {
		return []ir.FoldResult{{Value: v}}, true
	}
	constant := func(bits uint64) ([]ir.FoldResult, bool) {
		return []ir.FoldResult{{Attr: ir.NewIntegerAttr(op.Result(0).Type(), bits)}}, true
	}
	switch name {
	case "add", "bor", "bxor", "shl", "shr", "ashr", "or", "xor":
		if rhsOK && rhs.IsZero() {
			return use(x)
		}
		if name == "or" && rhsOK && !rhs.IsZero() {
			return constant(1)
		}
	case "sub":
		if rhsOK && rhs.IsZero() {
			return use(x)
		}
	case "mul":
		if rhsOK {
			if rhs.IsZero() {
				return constant(0)
			}
			if rhs.Bits() == 1 {
				return use(x)
			}
		}
	case "div", "sdiv":
		if rhsOK && rhs.Bits() == 1 {
			return use(x)
		}
	case "band":
		if rhsOK && rhs.IsZero() {
			return constant(0)
		}
	case "and":
		if rhsOK {
			if rhs.IsZero() {
				return constant(0)
			}
			return use(x)
		}
	}
	return nil, false
}

// canonicalizeCommutative moves a constant operand of a commutative binary
// op to the right, so folds and CSE see one canonical operand order.
func canonicalizeCommutative(op *ir.Operation, _ ir.Rewriter) (bool, error) {
	if op.NumOperands() != 2 {
		return false, nil
	}
	lhs, rhs := op.Operand(0), op.Operand(1)
	lhsConst := lhs.DefiningOp() != nil && lhs.DefiningOp().IsConstantLike()
	rhsConst := rhs.DefiningOp() != nil && rhs.DefiningOp().IsConstantLike()
	if !lhsConst || rhsConst {
		return false, nil
	}
	op.SetOperand(0, rhs)
	op.SetOperand(1, lhs)
	return true, nil
}

func unaryInfos() []*ir.OpInfo {
	type unDef struct {
		name    string
		feltOK  bool
		boolTy  bool
		evalInt func(t *ir.IntType, a uint64) uint64
	}
	defs := []unDef{
		{name: "neg", feltOK: true, evalInt: func(t *ir.IntType, a uint64) uint64 { return -a }},
		{name: "not", boolTy: true, evalInt: func(t *ir.IntType, a uint64) uint64 { return a ^ 1 }},
		{name: "bnot", evalInt: func(t *ir.IntType, a uint64) uint64 { return ^a }},
		{name: "popcnt", evalInt: func(t *ir.IntType, a uint64) uint64 { return uint64(bits.OnesCount64(a)) }},
		{name: "clz", evalInt: func(t *ir.IntType, a uint64) uint64 {
			return uint64(bits.LeadingZeros64(a) - (64 - int(t.Width())))
		}},
		{name: "ctz", evalInt: func(t *ir.IntType, a uint64) uint64 {
			if a == 0 {
				return uint64(t.Width())
			}
			return uint64(bits.TrailingZeros64(a))
		}},
	}
	infos := make([]*ir.OpInfo, 0, len(defs))
	for i := range defs {
		def := defs[i]
		fullName := "arith." + def.name
		infos = append(infos, &ir.OpInfo{
			Name:   def.name,
			Traits: ir.TraitSameOperandsAndResultType | ir.TraitAlwaysSpeculatable | ir.TraitNoMemoryEffect,
			InferReturnTypes: func(_ *ir.Context, operands []*ir.Value, _ ir.AttrList) ([]ir.Type, error) {
				if len(operands) != 1 {
					return nil, errors.Errorf("%s expects 1 operand, got %d", fullName, len(operands))
				}
				ty := operands[0].Type()
				if def.boolTy {
					if !ir.IsBool(ty) {
						return nil, errors.Errorf("%s requires an i1 operand, got %s", fullName, ty)
					}
				} else if def.feltOK {
					if err := checkNumeric(fullName, ty); err != nil {
						return nil, err
					}
				} else if err := checkInteger(fullName, ty); err != nil {
					return nil, err
				}
				return []ir.Type{ty}, nil
			},
			Fold: func(op *ir.Operation, operands []ir.Attribute) ([]ir.FoldResult, bool) {
				a, ok := intAttr(operands[0])
				if !ok {
					return nil, false
				}
				switch t := op.Operand(0).Type().(type) {
				case *ir.IntType:
					if t.Width() > 64 {
						return nil, false
					}
					return []ir.FoldResult{{Attr: ir.NewIntegerAttr(t, def.evalInt(t, a.Bits()))}}, true
				case *ir.FeltType:
					if def.name != "neg" {
						return nil, false
					}
					return []ir.FoldResult{{Attr: ir.NewIntegerAttr(t, feltSub(0, a.Bits()))}}, true
				}
				return nil, false
			},
		})
	}
	return infos
}

func coercionInfos() []*ir.OpInfo {
	type coDef struct {
		name  string
		check func(from, to *ir.IntType) error
		eval  func(from, to *ir.IntType, a uint64) uint64
	}
	defs := []coDef{
		{name: "zext",
			check: func(from, to *ir.IntType) error {
				if to.Width() <= from.Width() {
					return errors.Errorf("zext must widen: %s -> %s", from, to)
				}
				return nil
			},
			eval: func(from, to *ir.IntType, a uint64) uint64 { return a }},
		{name: "sext",
			check: func(from, to *ir.IntType) error {
				if to.Width() <= from.Width() {
					return errors.Errorf("sext must widen: %s -> %s", from, to)
				}
				return nil
			},
			eval: func(from, to *ir.IntType, a uint64) uint64 { return uint64(sext(a, from.Width())) }},
		{name: "trunc",
			check: func(from, to *ir.IntType) error {
				if to.Width() >= from.Width() {
					return errors.Errorf("trunc must narrow: %s -> %s", from, to)
				}
				return nil
			},
			eval: func(from, to *ir.IntType, a uint64) uint64 { return a }},
	}
	infos := make([]*ir.OpInfo, 0, len(defs))
	for i := range defs {
		def := defs[i]
		fullName := "arith." + def.name
		infos = append(infos, &ir.OpInfo{
			Name:   def.name,
			Traits: ir.TraitAlwaysSpeculatable | ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumOperands() != 1 || op.NumResults() != 1 {
					return errors.Errorf("%s expects 1 operand and 1 result", fullName)
				}
				from, ok := op.Operand(0).Type().(*ir.IntType)
				if !ok {
					return errors.Errorf("%s requires an integer operand, got %s", fullName, op.Operand(0).Type())
				}
				to, ok := op.Result(0).Type().(*ir.IntType)
				if !ok {
					return errors.Errorf("%s requires an integer result, got %s", fullName, op.Result(0).Type())
				}
				return def.check(from, to)
			},
			Fold: func(op *ir.Operation, operands []ir.Attribute) ([]ir.FoldResult, bool) {
				a, ok := intAttr(operands[0])
				if !ok {
					return nil, false
				}
				from := op.Operand(0).Type().(*ir.IntType)
				to := op.Result(0).Type().(*ir.IntType)
				if from.Width() > 64 || to.Width() > 64 {
					return nil, false
				}
				return []ir.FoldResult{{Attr: ir.NewIntegerAttr(to, def.eval(from, to, a.Bits()))}}, true
			},
		})
	}
	return infos
}

// OverflowBehaviorOf returns the overflow behavior of an arithmetic op,
// defaulting to wrapping.
func OverflowBehaviorOf(op *ir.Operation) ir.OverflowBehavior {
	if a, ok := op.Attr("overflow"); ok {
		if b, ok := a.(ir.OverflowBehavior); ok {
			return b
		}
	}
	return ir.OverflowWrapping
}

func intAttr(a ir.Attribute) (ir.IntegerAttr, bool) {
	if a == nil {
		return ir.IntegerAttr{}, false
	}
	ia, ok := a.(ir.IntegerAttr)
	return ia, ok
}

func b2i(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// sext sign-extends the low width bits of a.
func sext(a uint64, width uint32) int64 {
	if width >= 64 {
		return int64(a)
	}
	shift := 64 - width
	return int64(a<<shift) >> shift
}

func signedRange(width uint32) (int64, int64) {
	if width >= 64 {
		return -1 << 63, 1<<63 - 1
	}
	return -1 << (width - 1), 1<<(width-1) - 1
}

// cmp compares two normalized bit patterns of type t.
func cmp(t *ir.IntType, a, b uint64) int {
	if t.IsSigned() {
		sa, sb := sext(a, t.Width()), sext(b, t.Width())
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func rotate(t *ir.IntType, a uint64, n int) uint64 {
	w := int(t.Width())
	n %= w
	if n == 0 {
		return a
	}
	mask := ^uint64(0)
	if w < 64 {
		mask = (1 << w) - 1
	}
	a &= mask
	return ((a << n) | (a >> (w - n))) & mask
}

// Field arithmetic modulo ir.FeltModulus.

func feltAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 || sum >= ir.FeltModulus {
		sum -= ir.FeltModulus
	}
	return sum
}

func feltSub(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return ir.FeltModulus - (b - a)
}

func feltMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return feltReduce(hi, lo)
}

// feltReduce reduces a 128-bit product modulo 2^64 - 2^32 + 1 using the
// identity 2^64 ≡ 2^32 - 1 (mod p).
func feltReduce(hi, lo uint64) uint64 {
	const epsilon = uint64(0xffffffff) // 2^32 - 1
	hiHi := hi >> 32
	hiLo := hi & epsilon
	t, borrow := bits.Sub64(lo, hiHi, 0)
	if borrow != 0 {
		t -= epsilon
	}
	r, carry := bits.Add64(t, hiLo*epsilon, 0)
	if carry != 0 {
		r += epsilon
	}
	if r >= ir.FeltModulus {
		r -= ir.FeltModulus
	}
	return r
}
