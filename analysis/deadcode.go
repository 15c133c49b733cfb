package analysis

import (
	"github.com/miden-compiler/midenc/ir"
)

// DeadCodeName is the registered name of the executability analysis.
const DeadCodeName = "dead-code"

// edgeExec tracks which successor edges of a terminator are known to be
// takeable. It grows monotonically.
type edgeExec struct {
	live []bool
}

// DeadCodeAnalysis computes which blocks and CFG edges can execute. It is
// optimistic: everything starts dead, and liveness spreads from region entry
// blocks along edges whose branch conditions permit it. Interleaved with the
// constant analysis this yields sparse conditional constant propagation.
type DeadCodeAnalysis struct{}

// NewDeadCodeAnalysis creates the executability analysis.
func NewDeadCodeAnalysis() *DeadCodeAnalysis { return &DeadCodeAnalysis{} }

func (a *DeadCodeAnalysis) Name() string { return DeadCodeName }

// Initialize marks every region entry block live and schedules terminator
// visits for live blocks. Non-entry blocks wake up when an incoming edge
// becomes executable.
func (a *DeadCodeAnalysis) Initialize(s *Solver, root *ir.Operation) error {
	root.WalkBlocks(func(b *ir.Block) ir.WalkResult {
		exec := s.GetOrCreate(a, BlockAnchor(b), func() State { return &Executable{} }).(*Executable)
		if b.IsEntry() {
			s.Update(a, BlockAnchor(b), exec.SetLive())
		}
		if term := b.Terminator(); term != nil && term.NumSuccessors() > 0 {
			// The terminator re-runs when its block wakes up or its
			// condition becomes known.
			s.Subscribe(DeadCodeName, BlockAnchor(b), a, OpAnchor(term))
			for i := 0; i < term.NumOperands(); i++ {
				s.Subscribe(ConstantName, ValueAnchor(term.Operand(i)), a, OpAnchor(term))
			}
			if exec.Live {
				s.Enqueue(a, OpAnchor(term))
			}
		}
		return ir.WalkAdvance
	})
	return nil
}

// Visit recomputes the executable successor set of one terminator.
func (a *DeadCodeAnalysis) Visit(s *Solver, anchor Anchor) error {
	term := anchor.Op
	if term == nil {
		return nil
	}
	block := term.Parent()
	if block == nil || !a.IsBlockLive(s, block) {
		return nil
	}
	edges := s.GetOrCreate(a, OpAnchor(term), func() State {
		return &edgeExec{live: make([]bool, term.NumSuccessors())}
	}).(*edgeExec)

	takeable := a.takeableEdges(s, term)
	changed := Unchanged
	for i, take := range takeable {
		if !take || edges.live[i] {
			continue
		}
		edges.live[i] = true
		changed = Changed
		succ := term.Successor(i)
		exec := s.GetOrCreate(a, BlockAnchor(succ), func() State { return &Executable{} }).(*Executable)
		s.Update(a, BlockAnchor(succ), exec.SetLive())
	}
	s.Update(a, OpAnchor(term), changed)
	return nil
}

// takeableEdges resolves branch conditions against the constant analysis.
// Unknown conditions keep all edges dead for now; overdefined conditions make
// every edge takeable.
func (a *DeadCodeAnalysis) takeableEdges(s *Solver, term *ir.Operation) []bool {
	n := term.NumSuccessors()
	out := make([]bool, n)
	switch {
	case term.Is("cf.cond_br"):
		cond, known := a.constantOperand(s, term.Operand(0))
		if !known {
			return out
		}
		if cond == nil {
			out[0], out[1] = true, true
		} else if !cond.IsZero() {
			out[0] = true
		} else {
			out[1] = true
		}
	case term.Is("cf.switch"):
		sel, known := a.constantOperand(s, term.Operand(0))
		if !known {
			return out
		}
		if sel == nil {
			for i := range out {
				out[i] = true
			}
			return out
		}
		casesAttr, _ := term.Attr("cases")
		cases, _ := casesAttr.(ir.ArrayAttr)
		taken := 0
		for i, c := range cases {
			if ca, ok := c.(ir.IntegerAttr); ok && ca.Bits() == sel.Bits() {
				taken = i + 1
				break
			}
		}
		out[taken] = true
	default:
		for i := range out {
			out[i] = true
		}
	}
	return out
}

// constantOperand returns (attr, true) for a known constant, (nil, true) for
// overdefined, and (nil, false) while still unknown.
func (a *DeadCodeAnalysis) constantOperand(s *Solver, v *ir.Value) (*ir.IntegerAttr, bool) {
	st, ok := s.LookupByName(ConstantName, ValueAnchor(v))
	if !ok {
		// The constant analysis is not loaded; be conservative.
		return nil, true
	}
	cv := st.(*ConstantValue)
	if cv.Unknown() {
		return nil, false
	}
	if attr, ok := cv.Constant(); ok {
		if ia, ok := attr.(ir.IntegerAttr); ok {
			return &ia, true
		}
	}
	return nil, true
}

// IsBlockLive reports whether the analysis found b reachable.
func (a *DeadCodeAnalysis) IsBlockLive(s *Solver, b *ir.Block) bool {
	st, ok := s.Lookup(a, BlockAnchor(b))
	return ok && st.(*Executable).Live
}

// IsEdgeLive reports whether successor edge i of term is takeable.
func (a *DeadCodeAnalysis) IsEdgeLive(s *Solver, term *ir.Operation, i int) bool {
	st, ok := s.Lookup(a, OpAnchor(term))
	if !ok {
		return false
	}
	edges := st.(*edgeExec)
	return i < len(edges.live) && edges.live[i]
}

// IsBlockExecutable reads the executability result from a finished solver.
func IsBlockExecutable(s *Solver, b *ir.Block) bool {
	st, ok := s.LookupByName(DeadCodeName, BlockAnchor(b))
	return ok && st.(*Executable).Live
}

// IsEdgeExecutable reads the per-edge result from a finished solver.
func IsEdgeExecutable(s *Solver, term *ir.Operation, i int) bool {
	st, ok := s.LookupByName(DeadCodeName, OpAnchor(term))
	if !ok {
		return false
	}
	edges := st.(*edgeExec)
	return i < len(edges.live) && edges.live[i]
}
