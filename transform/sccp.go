package transform

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/dialects/cf"
	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
)

// SCCPPass runs sparse conditional constant propagation: the executability
// and constant analyses solve jointly, then proven constants are
// materialized and substituted, branches on known conditions are folded, and
// blocks the solver proved unreachable are deleted.
type SCCPPass struct {
	// Interprocedural propagates constants through direct calls inside the
	// scheduled op.
	Interprocedural bool
}

// NewSCCPPass creates the constant propagation pass in its default
// intraprocedural configuration.
func NewSCCPPass() *SCCPPass { return &SCCPPass{} }

func (p *SCCPPass) Name() string        { return "SCCP" }
func (p *SCCPPass) Argument() string    { return "sccp" }
func (p *SCCPPass) Description() string { return "Sparse conditional constant propagation" }

func (p *SCCPPass) CanScheduleOn(*ir.OperationName) bool { return true }

func (p *SCCPPass) Run(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
	solver := analysis.NewSolver(analysis.Config{Interprocedural: p.Interprocedural}, am.Logger())
	solver.Load(analysis.NewDeadCodeAnalysis())
	solver.Load(analysis.NewConstantAnalysis())
	if err := solver.InitializeAndRun(op); err != nil {
		return pass.PreserveNone(), err
	}

	changed, err := p.materializeConstants(op, solver)
	if err != nil {
		return pass.PreserveNone(), err
	}
	branchesChanged, err := p.foldKnownBranches(op, solver)
	if err != nil {
		return pass.PreserveNone(), err
	}
	pruned, err := p.pruneUnreachable(op, solver)
	if err != nil {
		return pass.PreserveNone(), err
	}
	if !changed && !branchesChanged && !pruned {
		return pass.PreserveAll(), nil
	}
	return pass.PreserveNone(), nil
}

// materializeConstants substitutes every value the solver proved constant.
// Op results get their constant right before the definition; block argument
// constants go at the top of the owning block.
func (p *SCCPPass) materializeConstants(root *ir.Operation, solver *analysis.Solver) (bool, error) {
	ctx := root.Context()
	b := ir.NewBuilder(ctx)
	changed := false
	var failure error
	root.WalkBlocks(func(block *ir.Block) ir.WalkResult {
		if !analysis.IsBlockExecutable(solver, block) {
			return ir.WalkAdvance
		}
		for _, arg := range block.Arguments() {
			if !arg.HasUses() {
				continue
			}
			attr, ok := analysis.ConstantOf(solver, arg)
			if !ok {
				continue
			}
			b.SetInsertionPointToStart(block)
			cst, err := ctx.MaterializeConstant(b, attr, arg.Type(), arg.Span())
			if err != nil {
				failure = err
				return ir.WalkInterrupt
			}
			arg.ReplaceAllUsesWith(cst.Result(0))
			changed = true
		}
		for _, op := range block.Ops() {
			if op.IsConstantLike() {
				continue
			}
			for _, r := range op.Results() {
				if !r.HasUses() {
					continue
				}
				attr, ok := analysis.ConstantOf(solver, r)
				if !ok {
					continue
				}
				b.SetInsertionPointBefore(op)
				cst, err := ctx.MaterializeConstant(b, attr, r.Type(), op.Span())
				if err != nil {
					failure = err
					return ir.WalkInterrupt
				}
				r.ReplaceAllUsesWith(cst.Result(0))
				changed = true
			}
		}
		return ir.WalkAdvance
	})
	return changed, failure
}

// foldKnownBranches rewrites multi-way terminators down to the single edge
// the solver proved takeable.
func (p *SCCPPass) foldKnownBranches(root *ir.Operation, solver *analysis.Solver) (bool, error) {
	ctx := root.Context()
	b := ir.NewBuilder(ctx)
	changed := false
	var failure error
	root.WalkBlocks(func(block *ir.Block) ir.WalkResult {
		if !analysis.IsBlockExecutable(solver, block) {
			return ir.WalkAdvance
		}
		term := block.Terminator()
		if term == nil || term.NumSuccessors() < 2 {
			return ir.WalkAdvance
		}
		live := -1
		for i := 0; i < term.NumSuccessors(); i++ {
			if analysis.IsEdgeExecutable(solver, term, i) {
				if live >= 0 {
					return ir.WalkAdvance // more than one takeable edge
				}
				live = i
			}
		}
		if live < 0 {
			return ir.WalkAdvance
		}
		b.SetInsertionPointBefore(term)
		if _, err := cf.Br(b, term.Successor(live), term.SuccessorArgs(live), term.Span()); err != nil {
			failure = err
			return ir.WalkInterrupt
		}
		if err := term.Erase(); err != nil {
			failure = err
			return ir.WalkInterrupt
		}
		changed = true
		return ir.WalkAdvance
	})
	return changed, failure
}

// pruneUnreachable deletes blocks the solver proved dead. Operations inside
// dead blocks can only be referenced from other dead blocks, so repeated
// sweeps drain them.
func (p *SCCPPass) pruneUnreachable(root *ir.Operation, solver *analysis.Solver) (bool, error) {
	var dead []*ir.Block
	root.WalkBlocks(func(block *ir.Block) ir.WalkResult {
		if !analysis.IsBlockExecutable(solver, block) {
			dead = append(dead, block)
		}
		return ir.WalkAdvance
	})
	if len(dead) == 0 {
		return false, nil
	}

	// Only delete blocks whose every remaining predecessor is itself being
	// deleted; a dead block still targeted by a live multi-way branch must
	// stay behind for a later round.
	erasable := map[*ir.Block]struct{}{}
	for progress := true; progress; {
		progress = false
		for _, block := range dead {
			if _, ok := erasable[block]; ok {
				continue
			}
			allDead := true
			for _, pred := range block.Predecessors() {
				if _, ok := erasable[pred]; !ok {
					allDead = false
					break
				}
			}
			if allDead {
				erasable[block] = struct{}{}
				progress = true
			}
		}
	}
	dead = dead[:0]
	for block := range erasable {
		dead = append(dead, block)
	}
	if len(dead) == 0 {
		return false, nil
	}

	for progress := true; progress; {
		progress = false
		for _, block := range dead {
			ops := block.Ops()
			for i := len(ops) - 1; i >= 0; i-- {
				op := ops[i]
				if op.HasUses() {
					continue
				}
				if err := op.Erase(); err == nil {
					progress = true
				}
			}
		}
	}
	erasedAny := false
	for _, block := range dead {
		if err := block.Erase(); err != nil {
			return erasedAny, errors.Wrap(err, "deleting unreachable block")
		}
		erasedAny = true
	}
	return erasedAny, nil
}
