package analysis

import (
	"github.com/go-logr/logr"

	"github.com/miden-compiler/midenc/ir"
)

// LivenessName is the registered name of the liveness analysis.
const LivenessName = "liveness"

// liveSet is the dense backward lattice: the set of values live on entry to
// a block.
type liveSet struct {
	values map[*ir.Value]struct{}
}

// LivenessAnalysis computes per-block live-in sets by backward iteration:
// a value is live-in if it is used in the block before any redefinition, or
// live-out and not defined in the block. Successor-argument operands count
// as uses in the predecessor, so values flowing through branch arguments
// stay live across the edge.
type LivenessAnalysis struct{}

// NewLivenessAnalysis creates the liveness analysis.
func NewLivenessAnalysis() *LivenessAnalysis { return &LivenessAnalysis{} }

func (a *LivenessAnalysis) Name() string { return LivenessName }

func (a *LivenessAnalysis) Initialize(s *Solver, root *ir.Operation) error {
	root.WalkBlocks(func(b *ir.Block) ir.WalkResult {
		s.GetOrCreate(a, BlockAnchor(b), func() State {
			return &liveSet{values: map[*ir.Value]struct{}{}}
		})
		for _, succ := range b.Successors() {
			s.Subscribe(LivenessName, BlockAnchor(succ), a, BlockAnchor(b))
		}
		s.Enqueue(a, BlockAnchor(b))
		return ir.WalkAdvance
	})
	return nil
}

func (a *LivenessAnalysis) Visit(s *Solver, anchor Anchor) error {
	b := anchor.Block
	if b == nil {
		return nil
	}
	live := map[*ir.Value]struct{}{}
	for _, succ := range b.Successors() {
		if st, ok := s.Lookup(a, BlockAnchor(succ)); ok {
			for v := range st.(*liveSet).values {
				live[v] = struct{}{}
			}
		}
	}

	ops := b.Ops()
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		for _, r := range op.Results() {
			delete(live, r)
		}
		for _, v := range usedValues(op) {
			live[v] = struct{}{}
		}
	}
	for _, arg := range b.Arguments() {
		delete(live, arg)
	}

	st := s.GetOrCreate(a, BlockAnchor(b), func() State {
		return &liveSet{values: map[*ir.Value]struct{}{}}
	}).(*liveSet)
	if sameValueSet(st.values, live) {
		return nil
	}
	st.values = live
	s.Update(a, BlockAnchor(b), Changed)
	return nil
}

// usedValues collects every value op reads: its own operands, successor
// arguments included, plus values flowing into its nested regions from
// outside.
func usedValues(op *ir.Operation) []*ir.Value {
	var out []*ir.Value
	for _, operand := range op.AllOperands() {
		if v := operand.Get(); v != nil {
			out = append(out, v)
		}
	}
	if op.NumRegions() == 0 {
		return out
	}
	op.Walk(ir.PreOrder, func(nested *ir.Operation) ir.WalkResult {
		if nested == op {
			return ir.WalkAdvance
		}
		for _, operand := range nested.AllOperands() {
			v := operand.Get()
			if v != nil && !definedInside(v, op) {
				out = append(out, v)
			}
		}
		return ir.WalkAdvance
	})
	return out
}

// definedInside reports whether v's definition is nested anywhere under op.
func definedInside(v *ir.Value, op *ir.Operation) bool {
	var at *ir.Operation
	if v.IsBlockArgument() {
		at = v.OwnerBlock().ParentOp()
	} else {
		at = v.DefiningOp()
	}
	for at != nil {
		if at == op {
			return true
		}
		at = at.ParentOp()
	}
	return false
}

func sameValueSet(a, b map[*ir.Value]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if _, ok := b[v]; !ok {
			return false
		}
	}
	return true
}

// LivenessInfo answers liveness queries from a finished solver run.
type LivenessInfo struct {
	solver *Solver
}

// ComputeLiveness runs the liveness analysis over every block nested in
// root.
func ComputeLiveness(root *ir.Operation, log logr.Logger) (*LivenessInfo, error) {
	s := NewSolver(Config{}, log)
	s.Load(NewLivenessAnalysis())
	if err := s.InitializeAndRun(root); err != nil {
		return nil, err
	}
	return &LivenessInfo{solver: s}, nil
}

// LiveIn returns the values live on entry to b.
func (li *LivenessInfo) LiveIn(b *ir.Block) []*ir.Value {
	st, ok := li.solver.LookupByName(LivenessName, BlockAnchor(b))
	if !ok {
		return nil
	}
	out := make([]*ir.Value, 0, len(st.(*liveSet).values))
	for v := range st.(*liveSet).values {
		out = append(out, v)
	}
	return out
}

// IsLiveIn reports whether v is live on entry to b.
func (li *LivenessInfo) IsLiveIn(v *ir.Value, b *ir.Block) bool {
	st, ok := li.solver.LookupByName(LivenessName, BlockAnchor(b))
	if !ok {
		return false
	}
	_, live := st.(*liveSet).values[v]
	return live
}

// LiveOut returns the values live on exit from b: the union of its
// successors' live-in sets plus their consumed branch arguments.
func (li *LivenessInfo) LiveOut(b *ir.Block) []*ir.Value {
	seen := map[*ir.Value]struct{}{}
	var out []*ir.Value
	for _, succ := range b.Successors() {
		for _, v := range li.LiveIn(succ) {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}
