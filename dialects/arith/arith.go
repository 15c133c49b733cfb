// Package arith provides integer and field element arithmetic operations.
//
// Fixed-width integer ops use two's-complement wraparound by default; the
// "overflow" attribute on add/sub/mul selects wrapping, checked (trapping) or
// saturating behavior. Field element ops compute modulo the Miden prime.
package arith

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

const (
	ConstantOp = "arith.constant"

	AddOp  = "arith.add"
	SubOp  = "arith.sub"
	MulOp  = "arith.mul"
	DivOp  = "arith.div"
	SdivOp = "arith.sdiv"
	ModOp  = "arith.mod"
	SmodOp = "arith.smod"

	AndOp = "arith.and"
	OrOp  = "arith.or"
	XorOp = "arith.xor"

	BandOp = "arith.band"
	BorOp  = "arith.bor"
	BxorOp = "arith.bxor"
	BnotOp = "arith.bnot"

	ShlOp  = "arith.shl"
	ShrOp  = "arith.shr"
	AshrOp = "arith.ashr"
	RotlOp = "arith.rotl"
	RotrOp = "arith.rotr"

	EqOp  = "arith.eq"
	NeqOp = "arith.neq"
	LtOp  = "arith.lt"
	LteOp = "arith.lte"
	GtOp  = "arith.gt"
	GteOp = "arith.gte"

	MinOp = "arith.min"
	MaxOp = "arith.max"

	NegOp    = "arith.neg"
	NotOp    = "arith.not"
	PopcntOp = "arith.popcnt"
	ClzOp    = "arith.clz"
	CtzOp    = "arith.ctz"

	ZextOp  = "arith.zext"
	SextOp  = "arith.sext"
	TruncOp = "arith.trunc"
)

// Dialect is the arith dialect.
type Dialect struct{}

// Register registers the arith dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "arith" }

// MaterializeConstant builds an arith.constant for integer, felt and boolean
// attributes of a matching type.
func (d *Dialect) MaterializeConstant(b *ir.Builder, attr ir.Attribute, ty ir.Type, span ir.SourceSpan) (*ir.Operation, bool) {
	switch a := attr.(type) {
	case ir.IntegerAttr:
		if a.Type() != ty {
			return nil, false
		}
	case ir.BoolAttr:
		if !ir.IsBool(ty) {
			return nil, false
		}
		bits := uint64(0)
		if a {
			bits = 1
		}
		attr = ir.NewIntegerAttr(ty, bits)
	default:
		return nil, false
	}
	op, err := b.Create(ir.OpState{
		Name:        ConstantOp,
		Span:        span,
		ResultTypes: []ir.Type{ty},
		Attributes:  ir.AttrList{{Name: "value", Value: attr}},
	})
	if err != nil {
		return nil, false
	}
	return op, true
}

// Builder helpers for the common cases; the full op set is reachable through
// ir.Builder.Create with the exported op name constants.

// Constant creates an arith.constant of the attribute's type.
func Constant(b *ir.Builder, value ir.IntegerAttr, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        ConstantOp,
		Span:        span,
		ResultTypes: []ir.Type{value.Type()},
		Attributes:  ir.AttrList{{Name: "value", Value: value}},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// Int creates an integer constant of type ty.
func Int(b *ir.Builder, ty ir.Type, bits uint64, span ir.SourceSpan) (*ir.Value, error) {
	return Constant(b, ir.NewIntegerAttr(ty, bits), span)
}

// Bool creates an i1 constant.
func Bool(b *ir.Builder, v bool, span ir.SourceSpan) (*ir.Value, error) {
	bits := uint64(0)
	if v {
		bits = 1
	}
	return Int(b, b.Context().I1(), bits, span)
}

func binary(b *ir.Builder, name string, lhs, rhs *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:     name,
		Span:     span,
		Operands: []*ir.Value{lhs, rhs},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

func Add(b *ir.Builder, lhs, rhs *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	return binary(b, AddOp, lhs, rhs, span)
}

func Sub(b *ir.Builder, lhs, rhs *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	return binary(b, SubOp, lhs, rhs, span)
}

func Mul(b *ir.Builder, lhs, rhs *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	return binary(b, MulOp, lhs, rhs, span)
}

func Eq(b *ir.Builder, lhs, rhs *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	return binary(b, EqOp, lhs, rhs, span)
}

func Lt(b *ir.Builder, lhs, rhs *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	return binary(b, LtOp, lhs, rhs, span)
}

// checkNumeric verifies that ty participates in arithmetic at all.
func checkNumeric(name string, ty ir.Type) error {
	if !ir.IsInteger(ty) && !ir.IsFelt(ty) {
		return errors.Errorf("%s requires integer or felt operands, got %s", name, ty)
	}
	return nil
}

// checkInteger verifies that ty is a fixed-width integer.
func checkInteger(name string, ty ir.Type) error {
	if !ir.IsInteger(ty) {
		return errors.Errorf("%s requires integer operands, got %s", name, ty)
	}
	return nil
}
