package ir_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/dialects/cf"
	"github.com/miden-compiler/midenc/ir"
)

func newTestContext(t *testing.T) *ir.Context {
	t.Helper()
	ctx := ir.NewContext()
	require.NoError(t, builtin.Register(ctx))
	require.NoError(t, arith.Register(ctx))
	require.NoError(t, cf.Register(ctx))
	return ctx
}

// newTestFunction builds a module with one function whose entry block takes
// the given parameter types, and returns the function with a builder
// positioned at the end of the entry block.
func newTestFunction(t *testing.T, ctx *ir.Context, params ...ir.Type) (*ir.Operation, *ir.Builder) {
	t.Helper()
	b := ir.NewBuilder(ctx)
	module, err := builtin.NewModule(b, "test", ir.UnknownSpan)
	require.NoError(t, err)
	sig := ctx.FunctionType(params, nil)
	fn, err := builtin.NewFunction(b, module, "f", sig, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(builtin.FunctionBody(fn).Entry())
	return fn, b
}

func TestTypeInterning(t *testing.T) {
	ctx := ir.NewContext()

	require.True(t, ctx.U32() == ctx.U32())
	require.True(t, ctx.Felt() == ctx.Felt())
	require.True(t, ctx.PointerType(ctx.U32()) == ctx.PointerType(ctx.U32()))
	require.True(t, ctx.ArrayType(ctx.U8(), 4) == ctx.ArrayType(ctx.U8(), 4))
	require.False(t, ctx.ArrayType(ctx.U8(), 4) == ctx.ArrayType(ctx.U8(), 8))
	require.True(t,
		ctx.FunctionType([]ir.Type{ctx.U32()}, []ir.Type{ctx.I1()}) ==
			ctx.FunctionType([]ir.Type{ctx.U32()}, []ir.Type{ctx.I1()}))

	other := ir.NewContext()
	require.False(t, ctx.U32() == other.U32())

	require.Panics(t, func() { ctx.IntType(7, false) })
	require.Panics(t, func() { ctx.IntType(1, true) })
}

func TestIntegerAttrNormalization(t *testing.T) {
	ctx := ir.NewContext()
	tests := []struct {
		name string
		ty   ir.Type
		bits uint64
		want uint64
	}{
		{name: "u8 wraps", ty: ctx.U8(), bits: 0x1ff, want: 0xff},
		{name: "i1 masks", ty: ctx.I1(), bits: 2, want: 0},
		{name: "u64 untouched", ty: ctx.U64(), bits: ^uint64(0), want: ^uint64(0)},
		{name: "felt reduced", ty: ctx.Felt(), bits: ir.FeltModulus + 5, want: 5},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ir.NewIntegerAttr(tc.ty, tc.bits).Bits())
		})
	}

	neg := ir.NewIntegerAttr(ctx.I8(), 0xff)
	require.Equal(t, int64(-1), neg.Int64())
	require.Equal(t, uint64(0xff), neg.Bits())
}

func TestUseDefChains(t *testing.T) {
	ctx := newTestContext(t)
	_, b := newTestFunction(t, ctx)

	x, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	y, err := arith.Int(b, ctx.U32(), 2, ir.UnknownSpan)
	require.NoError(t, err)

	sum, err := arith.Add(b, x, y, ir.UnknownSpan)
	require.NoError(t, err)
	prod, err := arith.Mul(b, x, sum, ir.UnknownSpan)
	require.NoError(t, err)

	require.Equal(t, 2, x.NumUses())
	require.Equal(t, 1, y.NumUses())
	require.True(t, sum.HasOneUse())
	require.False(t, prod.HasUses())

	users := x.Users()
	require.Len(t, users, 2)

	// RAUW moves every use of x to y.
	x.ReplaceAllUsesWith(y)
	require.False(t, x.HasUses())
	require.Equal(t, 3, y.NumUses())
	require.Equal(t, y, sum.DefiningOp().Operand(0))
	require.Equal(t, y, prod.DefiningOp().Operand(0))

	// SetOperand rewires a single edge atomically.
	sum.DefiningOp().SetOperand(1, x)
	require.Equal(t, 1, x.NumUses())
	require.Equal(t, 2, y.NumUses())
}

func TestEraseRefusesLiveUses(t *testing.T) {
	ctx := newTestContext(t)
	_, b := newTestFunction(t, ctx)

	x, err := arith.Int(b, ctx.U32(), 7, ir.UnknownSpan)
	require.NoError(t, err)
	sum, err := arith.Add(b, x, x, ir.UnknownSpan)
	require.NoError(t, err)

	err = x.DefiningOp().Erase()
	require.Error(t, err)
	require.Contains(t, err.Error(), "still has 2 uses")

	// Once the last user is gone the erase goes through, and touching the
	// erased entity afterwards is a hard failure.
	sumOp := sum.DefiningOp()
	require.NoError(t, sumOp.Erase())
	require.NoError(t, x.DefiningOp().Erase())
	require.Panics(t, func() { _ = sumOp.Erase() })
	require.Panics(t, func() { x.Uses() })
}

func TestBuilderInfersResultTypes(t *testing.T) {
	ctx := newTestContext(t)
	_, b := newTestFunction(t, ctx)

	x, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	y, err := arith.Int(b, ctx.U32(), 2, ir.UnknownSpan)
	require.NoError(t, err)

	sum, err := arith.Add(b, x, y, ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, ctx.U32(), sum.Type())

	cmp, err := arith.Lt(b, x, y, ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, ctx.I1(), cmp.Type())

	// Mixed operand types are rejected by the trait verifier before the
	// operation is ever inserted.
	f, err := arith.Int(b, ctx.U64(), 3, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = arith.Add(b, x, f, ir.UnknownSpan)
	require.Error(t, err)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	ctx := newTestContext(t)
	b := ir.NewBuilder(ctx)
	_, err := b.Create(ir.OpState{Name: "nosuch.op"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `"nosuch.op" is not registered`)
}

func TestTerminatorDiscipline(t *testing.T) {
	ctx := newTestContext(t)
	fn, b := newTestFunction(t, ctx)
	module := fn.ParentOp()

	// A block without a terminator fails module verification.
	err := ir.Verify(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not end in a terminator")

	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(module))

	// Successors are terminator-only.
	entry := builtin.FunctionBody(fn).Entry()
	_, err = b.Create(ir.OpState{
		Name:       arith.ConstantOp,
		Successors: []ir.SuccessorSpec{{Dest: entry}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "only terminators may have successors")
}

func TestSuccessorArgumentAgreement(t *testing.T) {
	ctx := newTestContext(t)
	fn, b := newTestFunction(t, ctx)
	module := fn.ParentOp()
	body := builtin.FunctionBody(fn)

	exit := body.NewBlock(ctx.U32())
	bexit := ir.NewBuilder(ctx)
	bexit.SetInsertionPointToEnd(exit)
	_, err := builtin.Ret(bexit, ir.UnknownSpan)
	require.NoError(t, err)

	// Branch passing no value to a one-argument block.
	br, err := cf.Br(b, exit, nil, ir.UnknownSpan)
	require.NoError(t, err)
	err = ir.Verify(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), "receives 0 arguments, block expects 1")

	require.NoError(t, br.Erase())
	v, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.Br(b, exit, []*ir.Value{v}, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(module))

	// The successor argument is a use like any other.
	require.Equal(t, 1, v.NumUses())
	require.Equal(t, []*ir.Block{fn.Region(0).Entry()}, exit.Predecessors())
}

func TestWalkOrders(t *testing.T) {
	ctx := newTestContext(t)
	fn, b := newTestFunction(t, ctx)
	module := fn.ParentOp()

	_, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	var pre, post []string
	module.Walk(ir.PreOrder, func(op *ir.Operation) ir.WalkResult {
		pre = append(pre, op.Name().String())
		return ir.WalkAdvance
	})
	module.Walk(ir.PostOrder, func(op *ir.Operation) ir.WalkResult {
		post = append(post, op.Name().String())
		return ir.WalkAdvance
	})
	require.Equal(t, []string{"builtin.module", "builtin.function", "arith.constant", "builtin.ret"}, pre)
	require.Equal(t, []string{"arith.constant", "builtin.ret", "builtin.function", "builtin.module"}, post)

	// WalkSkip prunes the function body; WalkInterrupt stops cold.
	var skipped []string
	module.Walk(ir.PreOrder, func(op *ir.Operation) ir.WalkResult {
		skipped = append(skipped, op.Name().String())
		if op.Is(builtin.FunctionOp) {
			return ir.WalkSkip
		}
		return ir.WalkAdvance
	})
	require.Equal(t, []string{"builtin.module", "builtin.function"}, skipped)

	count := 0
	module.Walk(ir.PreOrder, func(op *ir.Operation) ir.WalkResult {
		count++
		return ir.WalkInterrupt
	})
	require.Equal(t, 1, count)
}

func TestPrintDeterministic(t *testing.T) {
	ctx := newTestContext(t)
	fn, b := newTestFunction(t, ctx, ctx.U32())
	entry := builtin.FunctionBody(fn).Entry()

	one, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	sum, err := arith.Add(b, entry.Argument(0), one, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = builtin.Ret(b, ir.UnknownSpan, sum)
	require.NoError(t, err)

	want := `builtin.function {signature = (u32) -> (), sym_name = "f"} {
^bb0(%0: u32):
  %1 = arith.constant {value = 1 : u32} : u32
  %2 = arith.add(%0, %1) : u32
  builtin.ret(%2)
}
`
	require.Equal(t, want, ir.Print(fn))
	// Printing twice yields the same text; numbering does not leak state.
	require.Equal(t, want, ir.Print(fn))
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		input  string
		valid  bool
		render string
	}{
		{input: "any", valid: true, render: "any"},
		{input: "symbol:*", valid: true, render: "symbol:*"},
		{input: "symbol:main", valid: true, render: "symbol:main"},
		{input: "op:arith.add", valid: true, render: "op:arith.add"},
		{input: "symbol:", valid: false},
		{input: "op:add", valid: false},
		{input: "op:arith.", valid: false},
		{input: "bogus", valid: false},
		{input: "", valid: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("%q", tc.input), func(t *testing.T) {
			f, err := ir.ParseFilter(tc.input)
			if !tc.valid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.render, f.String())
		})
	}
}

func TestFilterMatches(t *testing.T) {
	ctx := newTestContext(t)
	fn, b := newTestFunction(t, ctx)
	v, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	constOp := v.DefiningOp()

	any, err := ir.ParseFilter("any")
	require.NoError(t, err)
	require.True(t, any.Matches(fn))
	require.True(t, any.Matches(constOp))

	bySym, err := ir.ParseFilter("symbol:f")
	require.NoError(t, err)
	require.True(t, bySym.Matches(fn))
	require.False(t, bySym.Matches(constOp))

	star, err := ir.ParseFilter("symbol:*")
	require.NoError(t, err)
	require.True(t, star.Matches(fn))

	byOp, err := ir.ParseFilter("op:arith.constant")
	require.NoError(t, err)
	require.True(t, byOp.Matches(constOp))
	require.False(t, byOp.Matches(fn))
}

func TestIsolationFromAbove(t *testing.T) {
	ctx := newTestContext(t)
	fn, b := newTestFunction(t, ctx)
	module := fn.ParentOp()

	// Sneak a value definition outside the function and reference it inside.
	outer := builtin.ModuleBody(module)
	bOuter := ir.NewBuilder(ctx)
	bOuter.SetInsertionPointToStart(outer)
	leak, err := arith.Int(bOuter, ctx.U32(), 9, ir.UnknownSpan)
	require.NoError(t, err)

	_, err = builtin.Ret(b, ir.UnknownSpan, leak)
	require.NoError(t, err)

	err = ir.Verify(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), "isolated from above")
}

func TestMoveAndRemove(t *testing.T) {
	ctx := newTestContext(t)
	_, b := newTestFunction(t, ctx)

	a, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	c, err := arith.Int(b, ctx.U32(), 2, ir.UnknownSpan)
	require.NoError(t, err)
	aOp, cOp := a.DefiningOp(), c.DefiningOp()

	require.True(t, aOp.IsBeforeInBlock(cOp))
	aOp.MoveAfter(cOp)
	require.True(t, cOp.IsBeforeInBlock(aOp))
	aOp.MoveBefore(cOp)
	require.True(t, aOp.IsBeforeInBlock(cOp))

	// Remove detaches without destroying; the op stays usable.
	cOp.Remove()
	require.Nil(t, cOp.Parent())
	require.Equal(t, ctx.U32(), c.Type())
}
