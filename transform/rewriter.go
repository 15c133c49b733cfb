// Package transform provides the rewrites of the lowering pipeline:
// greedy canonicalization, common subexpression elimination, sparse
// conditional constant propagation, control-flow structuring, and
// spill/reload insertion.
package transform

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

// maxRewriteIterations bounds the greedy driver; a well-behaved pattern set
// converges in a handful of rounds.
const maxRewriteIterations = 10

// rewriter is the concrete ir.Rewriter handed to canonicalization patterns.
// It tracks erased operations so the driver can skip stale worklist entries.
type rewriter struct {
	ctx    *ir.Context
	b      *ir.Builder
	erased map[*ir.Operation]struct{}
}

func newRewriter(ctx *ir.Context) *rewriter {
	return &rewriter{
		ctx:    ctx,
		b:      ir.NewBuilder(ctx),
		erased: map[*ir.Operation]struct{}{},
	}
}

func (rw *rewriter) Context() *ir.Context { return rw.ctx }

func (rw *rewriter) Builder() *ir.Builder { return rw.b }

func (rw *rewriter) isErased(op *ir.Operation) bool {
	_, ok := rw.erased[op]
	return ok
}

// ReplaceOp replaces all uses of op's results with the given values and
// erases op.
func (rw *rewriter) ReplaceOp(op *ir.Operation, with ...*ir.Value) error {
	if len(with) != op.NumResults() {
		return errors.Errorf("replacing %s: got %d values for %d results", op.Name(), len(with), op.NumResults())
	}
	op.ReplaceAllUsesWith(with...)
	return rw.EraseOp(op)
}

// EraseOp erases an operation whose results have no remaining uses.
func (rw *rewriter) EraseOp(op *ir.Operation) error {
	if err := op.Erase(); err != nil {
		return err
	}
	rw.erased[op] = struct{}{}
	return nil
}

// MergeBlocks splices source's operations onto the end of dest, replacing
// source's block arguments with argValues, and erases source.
func (rw *rewriter) MergeBlocks(source, dest *ir.Block, argValues []*ir.Value) error {
	if source.NumArguments() != len(argValues) {
		return errors.Errorf("merging blocks: %d values for %d block arguments",
			len(argValues), source.NumArguments())
	}
	for i := source.NumArguments() - 1; i >= 0; i-- {
		arg := source.Argument(i)
		arg.ReplaceAllUsesWith(argValues[i])
		if err := source.EraseArgument(i); err != nil {
			return err
		}
	}
	for _, op := range source.Ops() {
		op.Remove()
		dest.PushBack(op)
	}
	return source.Erase()
}

// RewriteGreedily drives folds, registered canonicalization patterns, and
// trivially-dead elimination to a bounded fixpoint over everything nested in
// root. It reports whether anything changed.
func RewriteGreedily(root *ir.Operation, log logr.Logger) (bool, error) {
	rw := newRewriter(root.Context())
	anyChange := false
	for iter := 0; iter < maxRewriteIterations; iter++ {
		changed, err := rewriteOnce(root, rw, log)
		if err != nil {
			return anyChange, err
		}
		if !changed {
			return anyChange, nil
		}
		anyChange = true
	}
	log.V(1).Info("greedy rewrite hit the iteration bound", "iterations", maxRewriteIterations)
	return anyChange, nil
}

func rewriteOnce(root *ir.Operation, rw *rewriter, log logr.Logger) (bool, error) {
	var worklist []*ir.Operation
	root.Walk(ir.PostOrder, func(op *ir.Operation) ir.WalkResult {
		if op != root {
			worklist = append(worklist, op)
		}
		return ir.WalkAdvance
	})

	changed := false
	for _, op := range worklist {
		if rw.isErased(op) {
			continue
		}
		if eraseTriviallyDead(op, rw) {
			changed = true
			continue
		}
		folded, err := foldOp(op, rw)
		if err != nil {
			return changed, err
		}
		if folded {
			changed = true
			continue
		}
		applied, err := applyPatterns(op, rw)
		if err != nil {
			return changed, err
		}
		if applied {
			changed = true
		}
	}
	if changed {
		log.V(2).Info("rewrite round changed the IR")
	}
	return changed, nil
}

// eraseTriviallyDead removes pure operations whose results nobody uses.
func eraseTriviallyDead(op *ir.Operation, rw *rewriter) bool {
	if op.IsTerminator() || op.NumResults() == 0 {
		return false
	}
	if !op.HasNoEffect() || op.HasUses() {
		return false
	}
	if err := rw.EraseOp(op); err != nil {
		return false
	}
	return true
}

// foldOp folds op against its constant operands and replaces it with the
// fold results.
func foldOp(op *ir.Operation, rw *rewriter) (bool, error) {
	if op.IsConstantLike() || op.NumResults() == 0 || op.IsTerminator() {
		return false, nil
	}
	info := op.Name().Info()
	if info.Fold == nil {
		return false, nil
	}
	operands := make([]ir.Attribute, op.NumOperands())
	for i := range operands {
		if defOp := op.Operand(i).DefiningOp(); defOp != nil {
			if attr, ok := defOp.ConstantValue(); ok {
				operands[i] = attr
			}
		}
	}
	results, ok := op.Fold(operands)
	if !ok {
		return false, nil
	}

	rw.b.SetInsertionPointBefore(op)
	replacements := make([]*ir.Value, len(results))
	for i, r := range results {
		switch {
		case r.Value != nil:
			replacements[i] = r.Value
		case r.Attr != nil:
			cst, err := rw.ctx.MaterializeConstant(rw.b, r.Attr, op.Result(i).Type(), op.Span())
			if err != nil {
				return false, errors.Wrapf(err, "materializing fold result of %s", op.Name())
			}
			replacements[i] = cst.Result(0)
		default:
			return false, errors.Errorf("empty fold result from %s: a bug in the fold implementation", op.Name())
		}
	}
	if err := rw.ReplaceOp(op, replacements...); err != nil {
		return false, err
	}
	return true, nil
}

// applyPatterns runs the op kind's canonicalization patterns until one
// fires.
func applyPatterns(op *ir.Operation, rw *rewriter) (bool, error) {
	patterns := op.Name().Info().Canonicalize
	if len(patterns) == 0 {
		return false, nil
	}
	rw.b.SetInsertionPointBefore(op)
	for _, pattern := range patterns {
		changed, err := pattern(op, rw)
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
		if rw.isErased(op) {
			return true, nil
		}
	}
	return false, nil
}
