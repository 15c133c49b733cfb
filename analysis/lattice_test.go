package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/ir"
)

func TestConstantLatticeTransitions(t *testing.T) {
	ctx := ir.NewContext()
	five := ir.NewIntegerAttr(ctx.U32(), 5)
	six := ir.NewIntegerAttr(ctx.U32(), 6)

	var c analysis.ConstantValue
	require.True(t, c.Unknown())

	require.Equal(t, analysis.Changed, c.MarkConstant(five))
	attr, ok := c.Constant()
	require.True(t, ok)
	require.Equal(t, five, attr)

	// Re-learning the same constant is not news.
	require.Equal(t, analysis.Unchanged, c.MarkConstant(five))

	// A conflicting constant pushes the element to top, permanently.
	require.Equal(t, analysis.Changed, c.MarkConstant(six))
	require.True(t, c.Overdefined())
	require.Equal(t, analysis.Unchanged, c.MarkConstant(five))
	require.Equal(t, analysis.Unchanged, c.MarkOverdefined())
}

func TestConstantLatticeArrayAttrs(t *testing.T) {
	ctx := ir.NewContext()
	pair := ir.ArrayAttr{ir.NewIntegerAttr(ctx.U32(), 1), ir.NewIntegerAttr(ctx.U32(), 2)}
	same := ir.ArrayAttr{ir.NewIntegerAttr(ctx.U32(), 1), ir.NewIntegerAttr(ctx.U32(), 2)}
	other := ir.ArrayAttr{ir.NewIntegerAttr(ctx.U32(), 1), ir.NewIntegerAttr(ctx.U32(), 3)}

	// Array attributes are slices, so the lattice must compare them
	// structurally rather than by interface equality.
	var c analysis.ConstantValue
	require.Equal(t, analysis.Changed, c.MarkConstant(pair))
	require.Equal(t, analysis.Unchanged, c.MarkConstant(same))
	attr, ok := c.Constant()
	require.True(t, ok)
	require.Equal(t, pair, attr)

	require.Equal(t, analysis.Changed, c.MarkConstant(other))
	require.True(t, c.Overdefined())
}

func TestConstantLatticeJoin(t *testing.T) {
	ctx := ir.NewContext()
	five := ir.NewIntegerAttr(ctx.U32(), 5)

	var known analysis.ConstantValue
	known.MarkConstant(five)

	var c analysis.ConstantValue
	require.Equal(t, analysis.Unchanged, c.Join(&analysis.ConstantValue{}))
	require.Equal(t, analysis.Changed, c.Join(&known))
	attr, ok := c.Constant()
	require.True(t, ok)
	require.Equal(t, five, attr)

	var top analysis.ConstantValue
	top.MarkOverdefined()
	require.Equal(t, analysis.Changed, c.Join(&top))
	require.True(t, c.Overdefined())
}
