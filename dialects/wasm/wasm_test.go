package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/dialects/wasm"
	"github.com/miden-compiler/midenc/ir"
)

func newWASMBuilder(t *testing.T) (*ir.Context, *ir.Builder, *ir.Operation) {
	t.Helper()
	ctx := ir.NewContext()
	require.NoError(t, builtin.Register(ctx))
	require.NoError(t, arith.Register(ctx))
	require.NoError(t, wasm.Register(ctx))
	b := ir.NewBuilder(ctx)
	module, err := builtin.NewModule(b, "test", ir.UnknownSpan)
	require.NoError(t, err)
	fn, err := builtin.NewFunction(b, module, "f", ctx.FunctionType(nil, nil), ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(builtin.FunctionBody(fn).Entry())
	return ctx, b, module
}

func TestGlobalAccess(t *testing.T) {
	ctx, b, module := newWASMBuilder(t)

	v, err := wasm.GlobalGet(b, 3, ctx.U32(), ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, ctx.U32(), v.Type())

	get := v.DefiningOp()
	idx, ok := get.Attr("global")
	require.True(t, ok)
	require.Equal(t, ir.NewIntegerAttr(ctx.U32(), 3), idx)
	// Globals are module state: reads and writes must not be erased or
	// reordered as if they were pure.
	require.False(t, get.HasNoEffect())

	set, err := wasm.GlobalSet(b, 3, v, ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, []*ir.Value{v}, set.Operands())
	require.False(t, set.HasNoEffect())

	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(module))
}

func TestMemoryOps(t *testing.T) {
	ctx, b, module := newWASMBuilder(t)

	size, err := wasm.MemorySize(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, ctx.U32(), size.Type())
	require.False(t, size.DefiningOp().HasNoEffect())

	prev, err := wasm.MemoryGrow(b, size, ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, ctx.U32(), prev.Type())
	require.False(t, prev.DefiningOp().HasNoEffect())

	// memory_size addresses ambient state only.
	_, err = b.Create(ir.OpState{
		Name:        wasm.MemorySizeOp,
		Operands:    []*ir.Value{size},
		ResultTypes: []ir.Type{ctx.U32()},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "memory_size takes no operands")

	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(module))
}

func TestCallByIndex(t *testing.T) {
	ctx, b, _ := newWASMBuilder(t)

	sig := ctx.FunctionType([]ir.Type{ctx.U32()}, []ir.Type{ctx.U32()})
	x, err := arith.Int(b, ctx.U32(), 41, ir.UnknownSpan)
	require.NoError(t, err)

	call, err := wasm.Call(b, 7, sig, []*ir.Value{x}, ir.UnknownSpan)
	require.NoError(t, err)
	require.Equal(t, 1, call.NumResults())
	require.Equal(t, ctx.U32(), call.Result(0).Type())

	idx, ok := call.Attr("func")
	require.True(t, ok)
	require.Equal(t, ir.NewIntegerAttr(ctx.U32(), 7), idx)
	sigAttr, ok := call.Attr("signature")
	require.True(t, ok)
	require.Equal(t, ir.NewTypeAttr(sig), sigAttr)

	// The function index attribute is mandatory.
	_, err = b.Create(ir.OpState{
		Name:     wasm.CallOp,
		Operands: []*ir.Value{x},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `requires a "func" index attribute`)
}
