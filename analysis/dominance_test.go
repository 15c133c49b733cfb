package analysis_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/dialects/cf"
	"github.com/miden-compiler/midenc/ir"
)

// newFuncRegion builds a module with one function and returns a builder
// positioned at the end of the function's entry block, plus the body region.
func newFuncRegion(t *testing.T) (*ir.Context, *ir.Builder, *ir.Region) {
	t.Helper()
	ctx := ir.NewContext()
	require.NoError(t, builtin.Register(ctx))
	require.NoError(t, arith.Register(ctx))
	require.NoError(t, cf.Register(ctx))
	b := ir.NewBuilder(ctx)
	module, err := builtin.NewModule(b, "test", ir.UnknownSpan)
	require.NoError(t, err)
	fn, err := builtin.NewFunction(b, module, "f", ctx.FunctionType(nil, nil), ir.UnknownSpan)
	require.NoError(t, err)
	body := builtin.FunctionBody(fn)
	b.SetInsertionPointToEnd(body.Entry())
	return ctx, b, body
}

// buildDiamond appends the classic diamond below the entry block:
//
//	entry -> b1, b2 -> b3 (ret)
func buildDiamond(t *testing.T, b *ir.Builder, body *ir.Region) (b1, b2, b3 *ir.Block) {
	t.Helper()
	b1, b2, b3 = body.NewBlock(), body.NewBlock(), body.NewBlock()
	cond, err := arith.Bool(b, true, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.CondBr(b, cond, b1, nil, b2, nil, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(b1)
	_, err = cf.Br(b, b3, nil, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(b2)
	_, err = cf.Br(b, b3, nil, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(b3)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	return b1, b2, b3
}

// idomMap flattens the tree to block IDs so trees can be diffed.
func idomMap(tree *analysis.DomTree, blocks []*ir.Block) map[uint32]int64 {
	out := map[uint32]int64{}
	for _, b := range blocks {
		if !tree.IsReachable(b) {
			continue
		}
		if idom := tree.Idom(b); idom != nil {
			out[b.ID()] = int64(idom.ID())
		} else {
			out[b.ID()] = -1
		}
	}
	return out
}

func TestDomTreeDiamond(t *testing.T) {
	_, b, body := newFuncRegion(t)
	entry := body.Entry()
	b1, b2, b3 := buildDiamond(t, b, body)

	tree := analysis.NewDomTree(body)
	require.False(t, tree.IsPostDominator())
	require.Equal(t, body, tree.Region())

	require.Nil(t, tree.Idom(entry))
	require.Equal(t, entry, tree.Idom(b1))
	require.Equal(t, entry, tree.Idom(b2))
	require.Equal(t, entry, tree.Idom(b3))

	require.True(t, tree.Dominates(entry, entry))
	require.True(t, tree.Dominates(entry, b3))
	require.False(t, tree.Dominates(b1, b3))
	require.False(t, tree.ProperlyDominates(b3, b3))
	require.True(t, tree.ProperlyDominates(entry, b1))

	require.Equal(t, entry, tree.NCA(b1, b2))
	require.Equal(t, b1, tree.NCA(b1, b1))
	require.Equal(t, 0, tree.Depth(entry))
	require.Equal(t, 1, tree.Depth(b3))

	require.ElementsMatch(t, tree.Children(entry), []*ir.Block{b1, b2, b3})

	require.Empty(t, tree.Frontier(entry))
	require.Equal(t, []*ir.Block{b3}, tree.Frontier(b1))
	require.Equal(t, []*ir.Block{b3}, tree.Frontier(b2))
	require.Empty(t, tree.Frontier(b3))
}

func TestDomTreeUnreachableBlock(t *testing.T) {
	_, b, body := newFuncRegion(t)
	entry := body.Entry()
	buildDiamond(t, b, body)
	dead := body.NewBlock()

	tree := analysis.NewDomTree(body)
	require.False(t, tree.IsReachable(dead))
	require.Nil(t, tree.Idom(dead))
	require.Equal(t, -1, tree.Depth(dead))
	require.False(t, tree.Dominates(entry, dead))
	require.False(t, tree.Dominates(dead, entry))
}

func TestPostDomTreeDiamond(t *testing.T) {
	_, b, body := newFuncRegion(t)
	entry := body.Entry()
	b1, b2, b3 := buildDiamond(t, b, body)

	post := analysis.NewPostDomTree(body)
	require.True(t, post.IsPostDominator())
	require.Equal(t, b3, post.Idom(entry))
	require.Equal(t, b3, post.Idom(b1))
	require.Equal(t, b3, post.Idom(b2))
	// b3 is immediately post-dominated by the virtual exit.
	require.True(t, post.IsReachable(b3))
	require.Nil(t, post.Idom(b3))

	require.True(t, post.Dominates(b3, entry))
	require.False(t, post.Dominates(b1, entry))
}

func TestBatchUpdateInsertionMatchesRecompute(t *testing.T) {
	_, b, body := newFuncRegion(t)
	entry := body.Entry()
	b1, b2 := body.NewBlock(), body.NewBlock()
	_, err := cf.Br(b, b1, nil, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(b1)
	_, err = cf.Br(b, b2, nil, ir.UnknownSpan)
	require.NoError(t, err)
	b.SetInsertionPointToEnd(b2)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	tree := analysis.NewDomTree(body)
	require.Equal(t, b1, tree.Idom(b2))

	// Replace entry's unconditional branch with a conditional one that also
	// reaches b2 directly.
	require.NoError(t, entry.Terminator().Erase())
	b.SetInsertionPointToEnd(entry)
	cond, err := arith.Bool(b, true, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.CondBr(b, cond, b1, nil, b2, nil, ir.UnknownSpan)
	require.NoError(t, err)

	tree.BatchUpdate([]analysis.CFGEdge{{From: entry, To: b2}}, nil)
	require.Equal(t, entry, tree.Idom(b2))

	fresh := analysis.NewDomTree(body)
	blocks := body.Blocks()
	if diff := cmp.Diff(idomMap(fresh, blocks), idomMap(tree, blocks)); diff != "" {
		t.Fatalf("incremental tree diverged from recompute (-want +got):\n%s", diff)
	}
}

func TestBatchUpdateRemovalRecomputes(t *testing.T) {
	_, b, body := newFuncRegion(t)
	b1, b2, b3 := buildDiamond(t, b, body)

	tree := analysis.NewDomTree(body)
	require.Equal(t, body.Entry(), tree.Idom(b3))

	// Retire the b2 -> b3 edge; b3 becomes dominated by b1.
	require.NoError(t, b2.Terminator().Erase())
	b.SetInsertionPointToEnd(b2)
	_, err := builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	tree.BatchUpdate(nil, []analysis.CFGEdge{{From: b2, To: b3}})
	require.Equal(t, b1, tree.Idom(b3))

	fresh := analysis.NewDomTree(body)
	blocks := body.Blocks()
	if diff := cmp.Diff(idomMap(fresh, blocks), idomMap(tree, blocks)); diff != "" {
		t.Fatalf("incremental tree diverged from recompute (-want +got):\n%s", diff)
	}
}

func TestDominatesOp(t *testing.T) {
	ctx, b, body := newFuncRegion(t)
	entry := body.Entry()
	b1, b2, b3 := body.NewBlock(), body.NewBlock(), body.NewBlock()

	cond, err := arith.Bool(b, true, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.CondBr(b, cond, b1, nil, b2, nil, ir.UnknownSpan)
	require.NoError(t, err)

	b.SetInsertionPointToEnd(b1)
	x, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.Br(b, b3, nil, ir.UnknownSpan)
	require.NoError(t, err)

	b.SetInsertionPointToEnd(b2)
	y, err := arith.Int(b, ctx.U32(), 2, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.Br(b, b3, nil, ir.UnknownSpan)
	require.NoError(t, err)

	b.SetInsertionPointToEnd(b3)
	ret, err := builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	tree := analysis.NewDomTree(body)
	require.True(t, tree.DominatesOp(cond, ret))
	require.False(t, tree.DominatesOp(x, y.DefiningOp()))
	require.False(t, tree.DominatesOp(y, x.DefiningOp()))

	// Same-block ordering: the definition must come strictly before the use.
	require.True(t, tree.DominatesOp(x, b1.Terminator()))
	require.False(t, tree.DominatesOp(x, x.DefiningOp()))
	require.False(t, tree.DominatesOp(cond, entry.FirstOp()))
}

func TestVerifyDominance(t *testing.T) {
	ctx, b, body := newFuncRegion(t)
	b1, b2 := body.NewBlock(), body.NewBlock()
	fn := body.Owner()

	cond, err := arith.Bool(b, true, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = cf.CondBr(b, cond, b1, nil, b2, nil, ir.UnknownSpan)
	require.NoError(t, err)

	b.SetInsertionPointToEnd(b1)
	x, err := arith.Int(b, ctx.U32(), 1, ir.UnknownSpan)
	require.NoError(t, err)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)

	b.SetInsertionPointToEnd(b2)
	_, err = builtin.Ret(b, ir.UnknownSpan)
	require.NoError(t, err)
	require.NoError(t, analysis.VerifyDominance(fn))

	// A use in b2 of a value defined only on the b1 path is invalid.
	b.SetInsertionPointToStart(b2)
	_, err = arith.Add(b, x, x, ir.UnknownSpan)
	require.NoError(t, err)
	err = analysis.VerifyDominance(fn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not dominated by its definition")
}
