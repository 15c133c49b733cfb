package analysis

import (
	"github.com/miden-compiler/midenc/ir"
)

// ConstantName is the registered name of the constant propagation analysis.
const ConstantName = "constant-prop"

// ConstantAnalysis is sparse conditional constant propagation over SSA
// values. It folds operations whose operands resolve to constants, joins
// branch arguments into block arguments along executable edges only, and —
// when the solver is configured interprocedurally — flows call arguments
// into callee entry arguments and return operands back into call results.
type ConstantAnalysis struct{}

// NewConstantAnalysis creates the constant propagation analysis.
func NewConstantAnalysis() *ConstantAnalysis { return &ConstantAnalysis{} }

func (a *ConstantAnalysis) Name() string { return ConstantName }

// Initialize seeds value states and the subscription graph for every
// operation under root.
func (a *ConstantAnalysis) Initialize(s *Solver, root *ir.Operation) error {
	interproc := s.Config().Interprocedural
	root.WalkBlocks(func(b *ir.Block) ir.WalkResult {
		for _, arg := range b.Arguments() {
			st := s.GetOrCreate(a, ValueAnchor(arg), func() State { return &ConstantValue{} }).(*ConstantValue)
			if b.IsEntry() && a.entryArgsOverdefined(b, interproc) {
				s.Update(a, ValueAnchor(arg), st.MarkOverdefined())
			}
		}
		for _, op := range b.Ops() {
			for _, r := range op.Results() {
				s.GetOrCreate(a, ValueAnchor(r), func() State { return &ConstantValue{} })
			}
			// Re-visit on block wakeup, operand movement, and (for
			// terminators) edge executability changes.
			s.Subscribe(DeadCodeName, BlockAnchor(b), a, OpAnchor(op))
			for _, operand := range op.AllOperands() {
				s.Subscribe(ConstantName, ValueAnchor(operand.Get()), a, OpAnchor(op))
			}
			if op.NumSuccessors() > 0 {
				s.Subscribe(DeadCodeName, OpAnchor(op), a, OpAnchor(op))
			}
			s.Enqueue(a, OpAnchor(op))
		}
		return ir.WalkAdvance
	})
	return nil
}

// entryArgsOverdefined decides whether a region's entry arguments must be
// assumed arbitrary. Function entry arguments are unknowable without
// interprocedural reasoning; other region entries (loop bodies and the like)
// are always conservative.
func (a *ConstantAnalysis) entryArgsOverdefined(b *ir.Block, interproc bool) bool {
	owner := b.Parent().Owner()
	if owner == nil {
		return true
	}
	if owner.HasTrait(ir.TraitIsolatedFromAbove) {
		return !interproc
	}
	return true
}

// Visit recomputes the constant states produced by one operation.
func (a *ConstantAnalysis) Visit(s *Solver, anchor Anchor) error {
	op := anchor.Op
	if op == nil {
		return nil
	}
	block := op.Parent()
	if block == nil {
		return nil
	}
	if st, ok := s.LookupByName(DeadCodeName, BlockAnchor(block)); ok && !st.(*Executable).Live {
		return nil
	}

	if op.NumSuccessors() > 0 {
		a.propagateBranchArgs(s, op)
		return nil
	}
	if op.HasTrait(ir.TraitReturnLike) {
		// Return operands feed call results through the call's own visit.
		return nil
	}
	if isCall(op) {
		return a.visitCall(s, op)
	}
	if op.NumResults() == 0 {
		return nil
	}

	if op.IsConstantLike() {
		attr, _ := op.ConstantValue()
		st := a.state(s, op.Result(0))
		s.Update(a, ValueAnchor(op.Result(0)), st.MarkConstant(attr))
		return nil
	}
	if op.NumRegions() > 0 {
		a.markAllOverdefined(s, op)
		return nil
	}

	operands := make([]ir.Attribute, op.NumOperands())
	for i := 0; i < op.NumOperands(); i++ {
		cv := a.state(s, op.Operand(i))
		if cv.Unknown() {
			// Wait for more facts before committing to overdefined.
			return nil
		}
		if attr, ok := cv.Constant(); ok {
			operands[i] = attr
		}
	}

	results, ok := op.Fold(operands)
	if !ok {
		a.markAllOverdefined(s, op)
		return nil
	}
	for i, r := range results {
		st := a.state(s, op.Result(i))
		switch {
		case r.Attr != nil:
			s.Update(a, ValueAnchor(op.Result(i)), st.MarkConstant(r.Attr))
		case r.Value != nil:
			s.Subscribe(ConstantName, ValueAnchor(r.Value), a, OpAnchor(op))
			s.Update(a, ValueAnchor(op.Result(i)), st.Join(a.state(s, r.Value)))
		default:
			s.Update(a, ValueAnchor(op.Result(i)), st.MarkOverdefined())
		}
	}
	return nil
}

// propagateBranchArgs joins passed values into successor block arguments
// along executable edges.
func (a *ConstantAnalysis) propagateBranchArgs(s *Solver, term *ir.Operation) {
	for i := 0; i < term.NumSuccessors(); i++ {
		if !IsEdgeExecutable(s, term, i) {
			continue
		}
		succ := term.Successor(i)
		args := term.SuccessorArgs(i)
		for j, passed := range args {
			target := succ.Argument(j)
			st := a.state(s, target)
			s.Update(a, ValueAnchor(target), st.Join(a.state(s, passed)))
		}
	}
}

// visitCall handles direct calls. Opaque calls produce overdefined results;
// interprocedural mode links the call site with the callee body.
func (a *ConstantAnalysis) visitCall(s *Solver, op *ir.Operation) error {
	if !s.Config().Interprocedural {
		a.markAllOverdefined(s, op)
		return nil
	}
	callee := resolveCallee(op)
	if callee == nil {
		a.markAllOverdefined(s, op)
		return nil
	}
	body := callee.Region(0)
	entry := body.Entry()
	if entry == nil {
		a.markAllOverdefined(s, op)
		return nil
	}
	for i := 0; i < op.NumOperands() && i < entry.NumArguments(); i++ {
		target := entry.Argument(i)
		st := a.state(s, target)
		s.Update(a, ValueAnchor(target), st.Join(a.state(s, op.Operand(i))))
	}
	for _, b := range body.Blocks() {
		term := b.Terminator()
		if term == nil || !term.HasTrait(ir.TraitReturnLike) {
			continue
		}
		for i := 0; i < op.NumResults() && i < term.NumOperands(); i++ {
			s.Subscribe(ConstantName, ValueAnchor(term.Operand(i)), a, OpAnchor(op))
			st := a.state(s, op.Result(i))
			s.Update(a, ValueAnchor(op.Result(i)), st.Join(a.state(s, term.Operand(i))))
		}
	}
	return nil
}

func (a *ConstantAnalysis) markAllOverdefined(s *Solver, op *ir.Operation) {
	for _, r := range op.Results() {
		st := a.state(s, r)
		s.Update(a, ValueAnchor(r), st.MarkOverdefined())
	}
}

func (a *ConstantAnalysis) state(s *Solver, v *ir.Value) *ConstantValue {
	return s.GetOrCreate(a, ValueAnchor(v), func() State { return &ConstantValue{} }).(*ConstantValue)
}

// isCall matches direct call operations by their "callee" or "func"
// reference attribute.
func isCall(op *ir.Operation) bool {
	if _, ok := op.Attr("callee"); ok {
		return true
	}
	if op.Is("wasm.call") {
		return true
	}
	return false
}

// resolveCallee finds the builtin.function named by op's "callee" attribute
// in the nearest enclosing module.
func resolveCallee(op *ir.Operation) *ir.Operation {
	calleeAttr, ok := op.Attr("callee")
	if !ok {
		return nil
	}
	name, ok := calleeAttr.(ir.StringAttr)
	if !ok {
		return nil
	}
	module := op.ParentOp()
	for module != nil && !module.Is("builtin.module") {
		module = module.ParentOp()
	}
	if module == nil {
		return nil
	}
	for _, candidate := range module.Region(0).Entry().Ops() {
		if !candidate.Is("builtin.function") {
			continue
		}
		sym, _ := candidate.Attr("sym_name")
		if sym == ir.StringAttr(string(name)) {
			return candidate
		}
	}
	return nil
}

// ConstantOf reads the final constant state of v from a finished solver.
func ConstantOf(s *Solver, v *ir.Value) (ir.Attribute, bool) {
	st, ok := s.LookupByName(ConstantName, ValueAnchor(v))
	if !ok {
		return nil, false
	}
	return st.(*ConstantValue).Constant()
}
