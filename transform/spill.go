package transform

import (
	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/dialects/hir"
	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
)

// InsertSpillsPass materializes the operand-stack discipline of the target:
// whenever more values are live than the stack comfortably holds, the excess
// is saved to numbered local slots (hir.spill) and restored right before use
// (hir.reload). Placement follows Belady's rule via analysis.ComputeSpills.
type InsertSpillsPass struct {
	// Capacity overrides the simulated stack depth; zero means
	// analysis.StackCapacity.
	Capacity int
}

// NewInsertSpillsPass creates the spill insertion pass with the default
// stack capacity.
func NewInsertSpillsPass() *InsertSpillsPass { return &InsertSpillsPass{} }

func (p *InsertSpillsPass) Name() string     { return "InsertSpills" }
func (p *InsertSpillsPass) Argument() string { return "insert-spills" }
func (p *InsertSpillsPass) Description() string {
	return "Insert spill/reload pairs where live values exceed the stack capacity"
}

func (p *InsertSpillsPass) CanScheduleOn(*ir.OperationName) bool { return true }

func (p *InsertSpillsPass) Run(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
	live, err := am.Liveness()
	if err != nil {
		return pass.PreserveNone(), err
	}

	var plans []*analysis.SpillPlan
	var regions []*ir.Region
	op.Walk(ir.PreOrder, func(inner *ir.Operation) ir.WalkResult {
		for i := 0; i < inner.NumRegions(); i++ {
			region := inner.Region(i)
			if region.Empty() {
				continue
			}
			plan := analysis.ComputeSpills(region, live, p.Capacity, am.Logger())
			if len(plan.Spills) > 0 || len(plan.Reloads) > 0 {
				plans = append(plans, plan)
				regions = append(regions, region)
			}
		}
		return ir.WalkAdvance
	})
	if len(plans) == 0 {
		return pass.PreserveAll(), nil
	}

	b := ir.NewBuilder(op.Context())
	for _, plan := range plans {
		if err := applySpillPlan(b, plan); err != nil {
			return pass.PreserveNone(), err
		}
	}
	// Spills and reloads are straight-line insertions; the CFG shape is
	// untouched, but liveness is not.
	return pass.Preserve(pass.DomTreeAnalysis, pass.PostDomTreeAnalysis, pass.LoopInfoAnalysis), nil
}

// applySpillPlan inserts the save and restore operations a plan calls for.
// Saves go right after the definition (or at the top of the block for block
// arguments); each restore feeds exactly the operand slots of the requesting
// operation.
func applySpillPlan(b *ir.Builder, plan *analysis.SpillPlan) error {
	for _, sp := range plan.Spills {
		if sp.After != nil {
			b.SetInsertionPointAfter(sp.After)
		} else {
			b.SetInsertionPointToStart(sp.Block)
		}
		if _, err := hir.Spill(b, sp.Value, plan.Slots[sp.Value], sp.Value.Span()); err != nil {
			return err
		}
	}
	for _, rp := range plan.Reloads {
		b.SetInsertionPointBefore(rp.Before)
		restored, err := hir.Reload(b, rp.Value.Type(), plan.Slots[rp.Value], rp.Before.Span())
		if err != nil {
			return err
		}
		for _, use := range rp.Value.Uses() {
			if use.Owner() == rp.Before {
				use.Set(restored)
			}
		}
	}
	return nil
}
