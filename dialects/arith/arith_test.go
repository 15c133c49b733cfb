package arith_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/ir"
)

func newArithBuilder(t *testing.T) (*ir.Context, *ir.Builder) {
	t.Helper()
	ctx := ir.NewContext()
	require.NoError(t, builtin.Register(ctx))
	require.NoError(t, arith.Register(ctx))
	b := ir.NewBuilder(ctx)
	module, err := builtin.NewModule(b, "test", ir.UnknownSpan)
	require.NoError(t, err)
	fn, err := builtin.NewFunction(b, module, "f", ctx.FunctionType(nil, nil), ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(builtin.FunctionBody(fn).Entry())
	return ctx, b
}

// binOp creates name over two fresh constants of ty and returns it together
// with the constant attributes as fold operands.
func binOp(t *testing.T, b *ir.Builder, name string, ty ir.Type, lhs, rhs uint64, attrs ir.AttrList) (*ir.Operation, []ir.Attribute) {
	t.Helper()
	la := ir.NewIntegerAttr(ty, lhs)
	ra := ir.NewIntegerAttr(ty, rhs)
	lv, err := arith.Constant(b, la, ir.UnknownSpan)
	require.NoError(t, err)
	rv, err := arith.Constant(b, ra, ir.UnknownSpan)
	require.NoError(t, err)
	op, err := b.Create(ir.OpState{
		Name:       name,
		Operands:   []*ir.Value{lv, rv},
		Attributes: attrs,
	})
	require.NoError(t, err)
	return op, []ir.Attribute{la, ra}
}

func foldToBits(t *testing.T, op *ir.Operation, operands []ir.Attribute) uint64 {
	t.Helper()
	results, ok := op.Fold(operands)
	require.True(t, ok, "expected %s to fold", op.Name())
	require.Len(t, results, 1)
	attr, isAttr := results[0].Attr.(ir.IntegerAttr)
	require.True(t, isAttr, "expected a constant fold result")
	return attr.Bits()
}

func TestFoldBinaryInteger(t *testing.T) {
	tests := []struct {
		name string
		op   string
		ty   func(*ir.Context) ir.Type
		lhs  uint64
		rhs  uint64
		want uint64
	}{
		{name: "add wraps at width", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.U32() }, lhs: 0xffffffff, rhs: 1, want: 0},
		{name: "sub wraps below zero", op: arith.SubOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, lhs: 2, rhs: 3, want: 0xff},
		{name: "mul wraps", op: arith.MulOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, lhs: 16, rhs: 17, want: 0x10},
		{name: "udiv", op: arith.DivOp, ty: func(c *ir.Context) ir.Type { return c.U32() }, lhs: 7, rhs: 2, want: 3},
		{name: "sdiv rounds toward zero", op: arith.SdivOp, ty: func(c *ir.Context) ir.Type { return c.I32() }, lhs: 0xfffffff9, rhs: 2, want: 0xfffffffd}, // -7 / 2 = -3
		{name: "umod", op: arith.ModOp, ty: func(c *ir.Context) ir.Type { return c.U32() }, lhs: 7, rhs: 4, want: 3},
		{name: "band", op: arith.BandOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, lhs: 0b1100, rhs: 0b1010, want: 0b1000},
		{name: "shl masks shift amount", op: arith.ShlOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, lhs: 1, rhs: 9, want: 2},
		{name: "ashr keeps sign", op: arith.AshrOp, ty: func(c *ir.Context) ir.Type { return c.I8() }, lhs: 0x80, rhs: 1, want: 0xc0},
		{name: "rotl", op: arith.RotlOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, lhs: 0x81, rhs: 1, want: 0x03},
		{name: "umin", op: arith.MinOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, lhs: 200, rhs: 3, want: 3},
		{name: "smax picks signed larger", op: arith.MaxOp, ty: func(c *ir.Context) ir.Type { return c.I8() }, lhs: 0xff, rhs: 1, want: 1}, // max(-1, 1)
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, b := newArithBuilder(t)
			op, operands := binOp(t, b, tc.op, tc.ty(ctx), tc.lhs, tc.rhs, nil)
			require.Equal(t, tc.want, foldToBits(t, op, operands))
		})
	}
}

func TestFoldComparisons(t *testing.T) {
	tests := []struct {
		name string
		op   string
		lhs  uint64
		rhs  uint64
		want uint64
	}{
		{name: "eq", op: arith.EqOp, lhs: 5, rhs: 5, want: 1},
		{name: "neq", op: arith.NeqOp, lhs: 5, rhs: 5, want: 0},
		{name: "slt signed", op: arith.LtOp, lhs: 0xff, rhs: 1, want: 1}, // -1 < 1
		{name: "gte", op: arith.GteOp, lhs: 3, rhs: 3, want: 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, b := newArithBuilder(t)
			op, operands := binOp(t, b, tc.op, ctx.I8(), tc.lhs, tc.rhs, nil)
			require.Equal(t, ctx.I1(), op.Result(0).Type())
			require.Equal(t, tc.want, foldToBits(t, op, operands))
		})
	}
}

func TestFoldDivisionByZeroRefused(t *testing.T) {
	for _, name := range []string{arith.DivOp, arith.SdivOp, arith.ModOp, arith.SmodOp} {
		name := name
		t.Run(name, func(t *testing.T) {
			ctx, b := newArithBuilder(t)
			op, operands := binOp(t, b, name, ctx.U32(), 1, 0, nil)
			_, ok := op.Fold(operands)
			require.False(t, ok, "division by zero must not fold")
		})
	}
}

func TestOverflowBehaviors(t *testing.T) {
	overflow := func(b ir.OverflowBehavior) ir.AttrList {
		return ir.AttrList{{Name: "overflow", Value: b}}
	}
	tests := []struct {
		name     string
		op       string
		ty       func(*ir.Context) ir.Type
		lhs, rhs uint64
		attrs    ir.AttrList
		folds    bool
		want     uint64
	}{
		{name: "wrapping add i8", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.I8() },
			lhs: 127, rhs: 1, attrs: overflow(ir.OverflowWrapping), folds: true, want: 0x80},
		{name: "checked add overflow stays", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.I8() },
			lhs: 127, rhs: 1, attrs: overflow(ir.OverflowChecked), folds: false},
		{name: "checked add in range folds", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.I8() },
			lhs: 100, rhs: 20, attrs: overflow(ir.OverflowChecked), folds: true, want: 120},
		{name: "saturating add clamps high", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.I8() },
			lhs: 127, rhs: 10, attrs: overflow(ir.OverflowSaturating), folds: true, want: 127},
		{name: "saturating sub clamps low unsigned", op: arith.SubOp, ty: func(c *ir.Context) ir.Type { return c.U8() },
			lhs: 1, rhs: 5, attrs: overflow(ir.OverflowSaturating), folds: true, want: 0},
		{name: "saturating mul clamps negative", op: arith.MulOp, ty: func(c *ir.Context) ir.Type { return c.I8() },
			lhs: 100, rhs: 0xfe, attrs: overflow(ir.OverflowSaturating), folds: true, want: 0x80}, // 100 * -2
		{name: "checked u64 add carry stays", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.U64() },
			lhs: ^uint64(0), rhs: 1, attrs: overflow(ir.OverflowChecked), folds: false},
		{name: "checked i64 add overflow stays", op: arith.AddOp, ty: func(c *ir.Context) ir.Type { return c.I64() },
			lhs: 1<<63 - 1, rhs: 1, attrs: overflow(ir.OverflowChecked), folds: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, b := newArithBuilder(t)
			op, operands := binOp(t, b, tc.op, tc.ty(ctx), tc.lhs, tc.rhs, tc.attrs)
			results, ok := op.Fold(operands)
			require.Equal(t, tc.folds, ok)
			if !tc.folds {
				return
			}
			attr := results[0].Attr.(ir.IntegerAttr)
			require.Equal(t, tc.want, attr.Bits())
		})
	}
}

func TestFoldFelt(t *testing.T) {
	tests := []struct {
		name string
		op   string
		lhs  uint64
		rhs  uint64
		want uint64
	}{
		{name: "add reduces", op: arith.AddOp, lhs: ir.FeltModulus - 1, rhs: 2, want: 1},
		{name: "sub borrows", op: arith.SubOp, lhs: 1, rhs: 2, want: ir.FeltModulus - 1},
		{name: "mul small", op: arith.MulOp, lhs: 1 << 32, rhs: 1 << 32, want: 0xffffffff}, // 2^64 mod p = 2^32 - 1
		{name: "mul p-1 squared", op: arith.MulOp, lhs: ir.FeltModulus - 1, rhs: ir.FeltModulus - 1, want: 1},
		{name: "eq", op: arith.EqOp, lhs: 42, rhs: 42, want: 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, b := newArithBuilder(t)
			op, operands := binOp(t, b, tc.op, ctx.Felt(), tc.lhs, tc.rhs, nil)
			require.Equal(t, tc.want, foldToBits(t, op, operands))
		})
	}
}

func TestFoldNegFelt(t *testing.T) {
	ctx, b := newArithBuilder(t)
	a := ir.NewIntegerAttr(ctx.Felt(), 5)
	v, err := arith.Constant(b, a, ir.UnknownSpan)
	require.NoError(t, err)
	op, err := b.Create(ir.OpState{Name: arith.NegOp, Operands: []*ir.Value{v}})
	require.NoError(t, err)
	require.Equal(t, ir.FeltModulus-5, foldToBits(t, op, []ir.Attribute{a}))
}

func TestFoldUnary(t *testing.T) {
	tests := []struct {
		name string
		op   string
		ty   func(*ir.Context) ir.Type
		in   uint64
		want uint64
	}{
		{name: "not flips i1", op: arith.NotOp, ty: func(c *ir.Context) ir.Type { return c.I1() }, in: 1, want: 0},
		{name: "bnot masks", op: arith.BnotOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, in: 0x0f, want: 0xf0},
		{name: "popcnt", op: arith.PopcntOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, in: 0xf0, want: 4},
		{name: "clz adjusts for width", op: arith.ClzOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, in: 1, want: 7},
		{name: "ctz of zero is width", op: arith.CtzOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, in: 0, want: 8},
		{name: "neg wraps", op: arith.NegOp, ty: func(c *ir.Context) ir.Type { return c.U8() }, in: 1, want: 0xff},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, b := newArithBuilder(t)
			a := ir.NewIntegerAttr(tc.ty(ctx), tc.in)
			v, err := arith.Constant(b, a, ir.UnknownSpan)
			require.NoError(t, err)
			op, err := b.Create(ir.OpState{Name: tc.op, Operands: []*ir.Value{v}})
			require.NoError(t, err)
			require.Equal(t, tc.want, foldToBits(t, op, []ir.Attribute{a}))
		})
	}
}

func TestFoldIdentities(t *testing.T) {
	ctx, b := newArithBuilder(t)

	x, err := arith.Int(b, ctx.U32(), 0, ir.UnknownSpan)
	require.NoError(t, err)
	// The left operand plays a non-constant value; only rhs is known.
	zero := ir.NewIntegerAttr(ctx.U32(), 0)
	one := ir.NewIntegerAttr(ctx.U32(), 1)

	newBin := func(name string, rhs ir.IntegerAttr) *ir.Operation {
		rv, err := arith.Constant(b, rhs, ir.UnknownSpan)
		require.NoError(t, err)
		op, err := b.Create(ir.OpState{Name: name, Operands: []*ir.Value{x, rv}})
		require.NoError(t, err)
		return op
	}

	t.Run("x plus zero is x", func(t *testing.T) {
		op := newBin(arith.AddOp, zero)
		results, ok := op.Fold([]ir.Attribute{nil, zero})
		require.True(t, ok)
		require.Equal(t, x, results[0].Value)
	})
	t.Run("x times one is x", func(t *testing.T) {
		op := newBin(arith.MulOp, one)
		results, ok := op.Fold([]ir.Attribute{nil, one})
		require.True(t, ok)
		require.Equal(t, x, results[0].Value)
	})
	t.Run("x times zero is zero", func(t *testing.T) {
		op := newBin(arith.MulOp, zero)
		results, ok := op.Fold([]ir.Attribute{nil, zero})
		require.True(t, ok)
		attr := results[0].Attr.(ir.IntegerAttr)
		require.True(t, attr.IsZero())
	})
	t.Run("band zero is zero", func(t *testing.T) {
		op := newBin(arith.BandOp, zero)
		results, ok := op.Fold([]ir.Attribute{nil, zero})
		require.True(t, ok)
		require.True(t, results[0].Attr.(ir.IntegerAttr).IsZero())
	})
	t.Run("no identity no fold", func(t *testing.T) {
		op := newBin(arith.AddOp, one)
		_, ok := op.Fold([]ir.Attribute{nil, one})
		require.False(t, ok)
	})
}

func TestCoercionFoldsAndChecks(t *testing.T) {
	ctx, b := newArithBuilder(t)

	a := ir.NewIntegerAttr(ctx.I8(), 0x80) // -128
	v, err := arith.Constant(b, a, ir.UnknownSpan)
	require.NoError(t, err)

	sextOp, err := b.Create(ir.OpState{
		Name:        arith.SextOp,
		Operands:    []*ir.Value{v},
		ResultTypes: []ir.Type{ctx.I32()},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0xffffff80), foldToBits(t, sextOp, []ir.Attribute{a}))

	zextOp, err := b.Create(ir.OpState{
		Name:        arith.ZextOp,
		Operands:    []*ir.Value{v},
		ResultTypes: []ir.Type{ctx.I32()},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0x80), foldToBits(t, zextOp, []ir.Attribute{a}))

	// Widening coercions must widen.
	_, err = b.Create(ir.OpState{
		Name:        arith.ZextOp,
		Operands:    []*ir.Value{v},
		ResultTypes: []ir.Type{ctx.I8()},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "must widen")

	wide, err := arith.Int(b, ctx.U32(), 0x1ff, ir.UnknownSpan)
	require.NoError(t, err)
	truncOp, err := b.Create(ir.OpState{
		Name:        arith.TruncOp,
		Operands:    []*ir.Value{wide},
		ResultTypes: []ir.Type{ctx.U8()},
	})
	require.NoError(t, err)
	wa := ir.NewIntegerAttr(ctx.U32(), 0x1ff)
	require.Equal(t, uint64(0xff), foldToBits(t, truncOp, []ir.Attribute{wa}))

	_, err = b.Create(ir.OpState{
		Name:        arith.TruncOp,
		Operands:    []*ir.Value{v},
		ResultTypes: []ir.Type{ctx.I32()},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "must narrow")
}

func TestCommutativeCanonicalization(t *testing.T) {
	ctx, b := newArithBuilder(t)

	c, err := arith.Int(b, ctx.U32(), 4, ir.UnknownSpan)
	require.NoError(t, err)
	// A block argument plays the non-constant side.
	arg := b.InsertionBlock().AddArgument(ctx.U32(), ir.UnknownSpan)

	op, err := b.Create(ir.OpState{Name: arith.AddOp, Operands: []*ir.Value{c, arg}})
	require.NoError(t, err)

	pattern := op.Name().Info().Canonicalize[0]
	changed, err := pattern(op, nil)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, arg, op.Operand(0))
	require.Equal(t, c, op.Operand(1))

	// Already canonical: nothing to do.
	changed, err = pattern(op, nil)
	require.NoError(t, err)
	require.False(t, changed)
}
