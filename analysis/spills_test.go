package analysis_test

import (
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/ir"
)

func TestSpillStraightLine(t *testing.T) {
	ctx, b, body := newFuncRegion(t)

	v1, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	v2, err := arith.Int(b, ctx.U32(), 2, ir.UnknownSpan)
	require.NoError(t, err)
	v3, err := arith.Int(b, ctx.U32(), 3, ir.UnknownSpan)
	require.NoError(t, err)
	r1, err := arith.Add(b, v1, v2, ir.UnknownSpan)
	require.NoError(t, err)
	r2, err := arith.Add(b, r1, v3, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	live, err := analysis.ComputeLiveness(body.Owner(), testr.New(t))
	require.NoError(t, err)

	// Three constants compete for two registers; v3 has the furthest next
	// use and is the Belady victim.
	plan := analysis.ComputeSpills(body, live, 2, testr.New(t))
	require.Equal(t, 2, plan.Capacity)
	require.Equal(t, 1, plan.NumSlots())
	require.Contains(t, plan.Slots, v3)

	require.Len(t, plan.Spills, 1)
	require.Equal(t, v3, plan.Spills[0].Value)
	require.Equal(t, v3.DefiningOp(), plan.Spills[0].After)

	require.Len(t, plan.Reloads, 1)
	require.Equal(t, v3, plan.Reloads[0].Value)
	require.Equal(t, r2.DefiningOp(), plan.Reloads[0].Before)
}

func TestSpillBlockArgument(t *testing.T) {
	ctx, b, body := newFuncRegion(t)
	entry := body.Entry()
	a := entry.AddArgument(ctx.U32(), ir.UnknownSpan)

	c1, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = arith.Add(b, c1, c1, ir.UnknownSpan)
	require.NoError(t, err)
	neg, err := b.Create(ir.OpState{
		Name:     arith.NegOp,
		Operands: []*ir.Value{a},
	})
	require.NoError(t, err)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	live, err := analysis.ComputeLiveness(body.Owner(), testr.New(t))
	require.NoError(t, err)

	// With one register the argument is displaced right away and comes back
	// for its use at the end of the block.
	plan := analysis.ComputeSpills(body, live, 1, testr.New(t))
	require.Equal(t, 1, plan.NumSlots())
	require.Contains(t, plan.Slots, a)

	require.Len(t, plan.Spills, 1)
	require.Equal(t, a, plan.Spills[0].Value)
	require.Nil(t, plan.Spills[0].After)
	require.Equal(t, entry, plan.Spills[0].Block)

	require.Len(t, plan.Reloads, 1)
	require.Equal(t, a, plan.Reloads[0].Value)
	require.Equal(t, neg, plan.Reloads[0].Before)
}

func TestSpillNothingUnderCapacity(t *testing.T) {
	ctx, b, body := newFuncRegion(t)

	x, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	y, err := arith.Int(b, ctx.U32(), 2, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = arith.Add(b, x, y, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	live, err := analysis.ComputeLiveness(body.Owner(), testr.New(t))
	require.NoError(t, err)

	plan := analysis.ComputeSpills(body, live, 0, testr.New(t))
	require.Equal(t, analysis.StackCapacity, plan.Capacity)
	require.Zero(t, plan.NumSlots())
	require.Empty(t, plan.Spills)
	require.Empty(t, plan.Reloads)
}
