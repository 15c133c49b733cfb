package scf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/dialects/scf"
	"github.com/miden-compiler/midenc/ir"
)

func newSCFBuilder(t *testing.T) (*ir.Context, *ir.Builder, *ir.Operation) {
	t.Helper()
	ctx := ir.NewContext()
	require.NoError(t, builtin.Register(ctx))
	require.NoError(t, arith.Register(ctx))
	require.NoError(t, scf.Register(ctx))
	b := ir.NewBuilder(ctx)
	module, err := builtin.NewModule(b, "test", ir.UnknownSpan)
	require.NoError(t, err)
	fn, err := builtin.NewFunction(b, module, "f", ctx.FunctionType(nil, nil), ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(builtin.FunctionBody(fn).Entry())
	return ctx, b, module
}

func TestIfRequiresBoolCondition(t *testing.T) {
	ctx, b, _ := newSCFBuilder(t)
	notBool, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = scf.If(b, notBool, nil, ir.UnknownSpan)
	require.Error(t, err)
	require.Contains(t, err.Error(), "i1 condition")
}

func TestIfYieldTypesChecked(t *testing.T) {
	ctx, b, module := newSCFBuilder(t)
	cond, err := arith.Bool(b, true, ir.UnknownSpan)
	require.NoError(t, err)
	x, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	wide, err := arith.Int(b, ctx.U64(), 2, ir.UnknownSpan)
	require.NoError(t, err)

	ifOp, err := scf.If(b, cond, []ir.Type{ctx.U32()}, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(scf.ThenBody(ifOp))
	_, err = scf.Yield(b, ir.UnknownSpan, x)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(scf.ElseBody(ifOp))
	_, err = scf.Yield(b, ir.UnknownSpan, x)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(ifOp.Parent())
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(module))

	// A yield of the wrong type is caught once the regions are populated.
	elseYield := scf.ElseBody(ifOp).Terminator()
	elseYield.SetOperand(0, wide)
	err = ir.Verify(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), "yielded value 0 has type u64, expected u32")
}

func TestConditionRequiresBoolOperand(t *testing.T) {
	ctx, b, _ := newSCFBuilder(t)
	notBool, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = scf.Condition(b, notBool, nil, ir.UnknownSpan)
	require.Error(t, err)
	require.Contains(t, err.Error(), "i1 operand")
}

func TestWhileVerification(t *testing.T) {
	ctx, b, module := newSCFBuilder(t)
	entry := b.InsertionBlock()

	init, err := arith.Int(b, ctx.U32(), 0, ir.UnknownSpan)
	require.NoError(t, err)
	limit, err := arith.Int(b, ctx.U32(), 10, ir.UnknownSpan)
	require.NoError(t, err)

	whileOp, err := scf.While(b, []*ir.Value{init}, []ir.Type{ctx.U32()}, ir.UnknownSpan)
	require.NoError(t, err)

	before := scf.BeforeBody(whileOp)
	b.SetInsertionPointToEnd(before)
	cond, err := arith.Lt(b, before.Argument(0), limit, ir.UnknownSpan)
	require.NoError(t, err)
	condition, err := scf.Condition(b, cond, []*ir.Value{before.Argument(0)}, ir.UnknownSpan)
	require.NoError(t, err)

	after := scf.AfterBody(whileOp)
	b.SetInsertionPointToEnd(after)
	one, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	next, err := arith.Add(b, after.Argument(0), one, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = scf.Yield(b, ir.UnknownSpan, next)
	require.NoError(t, err)

	b.SetInsertionPointToEnd(entry)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(module))

	// Dropping the forwarded value desynchronizes condition and results.
	require.NoError(t, condition.Erase())
	b.SetInsertionPointToEnd(before)
	_, err = scf.Condition(b, cond, nil, ir.UnknownSpan)
	require.NoError(t, err)
	err = ir.Verify(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), "condition forwards 0 values, expected 1")
}
