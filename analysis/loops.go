package analysis

import (
	"github.com/miden-compiler/midenc/ir"
)

// Loop is one natural loop: a header block dominating a set of latch blocks
// that branch back to it, plus every block on a path from header to latch.
type Loop struct {
	header  *ir.Block
	latches []*ir.Block
	blocks  map[*ir.Block]struct{}

	parent   *Loop
	children []*Loop
	depth    int
}

// Header returns the loop header.
func (l *Loop) Header() *ir.Block { return l.header }

// Latches returns the blocks with a back edge to the header.
func (l *Loop) Latches() []*ir.Block { return l.latches }

// SingleLatch returns the latch if the loop has exactly one, else nil.
func (l *Loop) SingleLatch() *ir.Block {
	if len(l.latches) == 1 {
		return l.latches[0]
	}
	return nil
}

// Contains reports whether b belongs to the loop (header included).
func (l *Loop) Contains(b *ir.Block) bool {
	_, ok := l.blocks[b]
	return ok
}

// Parent returns the enclosing loop, or nil for a top-level loop.
func (l *Loop) Parent() *Loop { return l.parent }

// Children returns the loops nested directly inside this one.
func (l *Loop) Children() []*Loop { return l.children }

// Depth returns the nesting depth; top-level loops have depth 1.
func (l *Loop) Depth() int { return l.depth }

// Blocks returns the loop's member blocks in no particular order.
func (l *Loop) Blocks() []*ir.Block {
	out := make([]*ir.Block, 0, len(l.blocks))
	for b := range l.blocks {
		out = append(out, b)
	}
	return out
}

// ExitEdges returns the CFG edges leaving the loop.
func (l *Loop) ExitEdges() []CFGEdge {
	var out []CFGEdge
	for b := range l.blocks {
		for _, succ := range b.Successors() {
			if !l.Contains(succ) {
				out = append(out, CFGEdge{From: b, To: succ})
			}
		}
	}
	return out
}

// LoopInfo is the loop forest of one region together with per-edge
// classification and irreducibility detection.
type LoopInfo struct {
	region *ir.Region
	tree   *DomTree

	loops  []*Loop
	loopOf map[*ir.Block]*Loop // innermost containing loop

	irreducible     bool
	irreducibleEdge CFGEdge
}

// ComputeLoops discovers the natural loops of region using its dominator
// tree. Retreating edges whose target does not dominate their source mark
// the region irreducible; such regions get no loop for the offending cycle.
func ComputeLoops(region *ir.Region, tree *DomTree) *LoopInfo {
	li := &LoopInfo{
		region: region,
		tree:   tree,
		loopOf: map[*ir.Block]*Loop{},
	}
	li.detectIrreducibility()
	li.discoverLoops()
	li.finalize()
	return li
}

// Loops returns every discovered loop, inner loops before the loops that
// contain them.
func (li *LoopInfo) Loops() []*Loop { return li.loops }

// InnermostLoop returns the innermost loop containing b, or nil.
func (li *LoopInfo) InnermostLoop(b *ir.Block) *Loop { return li.loopOf[b] }

// Irreducible reports whether the region has a cycle with multiple entry
// points.
func (li *LoopInfo) Irreducible() bool { return li.irreducible }

// IrreducibleEdge returns one retreating edge witnessing irreducibility.
func (li *LoopInfo) IrreducibleEdge() CFGEdge { return li.irreducibleEdge }

// detectIrreducibility runs a DFS looking for retreating edges to blocks
// that do not dominate the edge source.
func (li *LoopInfo) detectIrreducibility() {
	entry := li.region.Entry()
	if entry == nil {
		return
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[*ir.Block]int{}
	type frame struct {
		b     *ir.Block
		succs []*ir.Block
		next  int
	}
	color[entry] = gray
	stack := []frame{{b: entry, succs: entry.Successors()}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next >= len(f.succs) {
			color[f.b] = black
			stack = stack[:len(stack)-1]
			continue
		}
		s := f.succs[f.next]
		f.next++
		switch color[s] {
		case white:
			color[s] = gray
			stack = append(stack, frame{b: s, succs: s.Successors()})
		case gray:
			if !li.tree.Dominates(s, f.b) {
				li.irreducible = true
				li.irreducibleEdge = CFGEdge{From: f.b, To: s}
			}
		}
	}
}

// discoverLoops walks dominator-tree post-order so inner loops are built
// before the loops enclosing them.
func (li *LoopInfo) discoverLoops() {
	entry := li.region.Entry()
	if entry == nil || !li.tree.IsReachable(entry) {
		return
	}
	for _, header := range li.domPostOrder(entry) {
		var latches []*ir.Block
		for _, p := range header.Predecessors() {
			if li.tree.Dominates(header, p) {
				latches = append(latches, p)
			}
		}
		if len(latches) == 0 {
			continue
		}
		loop := &Loop{header: header, latches: latches, blocks: map[*ir.Block]struct{}{}}
		li.loops = append(li.loops, loop)
		li.collectLoopBody(loop)
	}
}

func (li *LoopInfo) domPostOrder(root *ir.Block) []*ir.Block {
	var out []*ir.Block
	type frame struct {
		b        *ir.Block
		children []*ir.Block
		next     int
	}
	stack := []frame{{b: root, children: li.tree.Children(root)}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next >= len(f.children) {
			out = append(out, f.b)
			stack = stack[:len(stack)-1]
			continue
		}
		c := f.children[f.next]
		f.next++
		stack = append(stack, frame{b: c, children: li.tree.Children(c)})
	}
	return out
}

// collectLoopBody walks backwards from the latches, mapping blocks into the
// loop and nesting already-discovered inner loops under it.
func (li *LoopInfo) collectLoopBody(loop *Loop) {
	worklist := append([]*ir.Block{}, loop.latches...)
	li.loopOf[loop.header] = loop
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if !li.tree.IsReachable(b) {
			continue
		}
		inner := li.outermost(li.loopOf[b])
		switch {
		case inner == nil:
			li.loopOf[b] = loop
			if b == loop.header {
				continue
			}
			worklist = append(worklist, b.Predecessors()...)
		case inner == loop:
			// Already mapped.
		default:
			inner.parent = loop
			worklist = append(worklist, inner.header.Predecessors()...)
		}
	}
}

func (li *LoopInfo) outermost(l *Loop) *Loop {
	if l == nil {
		return nil
	}
	for l.parent != nil {
		l = l.parent
	}
	return l
}

// finalize resolves children lists, depths, and full block membership once
// all parent links are known.
func (li *LoopInfo) finalize() {
	for _, l := range li.loops {
		if l.parent != nil {
			l.parent.children = append(l.parent.children, l)
		}
	}
	var setDepth func(l *Loop, d int)
	setDepth = func(l *Loop, d int) {
		l.depth = d
		for _, c := range l.children {
			setDepth(c, d+1)
		}
	}
	for _, l := range li.loops {
		if l.parent == nil {
			setDepth(l, 1)
		}
	}
	for b, inner := range li.loopOf {
		for l := inner; l != nil; l = l.parent {
			l.blocks[b] = struct{}{}
		}
	}
}

// EdgeAction classifies the control-flow edge from → to. Edges that play
// multiple roles at once (leaving one loop while entering a sibling, say)
// join to LoopActionUnknown; edges touching no loop are LoopActionNone.
func (li *LoopInfo) EdgeAction(from, to *ir.Block) LoopAction {
	lf := li.loopOf[from]
	lt := li.loopOf[to]
	action := LoopActionUninitialized

	if lt != nil && lt.header == to && lt.Contains(from) {
		action = action.Join(LoopActionLatch)
	}
	if lt != nil && lt.header == to && !lt.Contains(from) {
		action = action.Join(LoopActionEnter)
	}
	for l := lf; l != nil; l = l.parent {
		if !l.Contains(to) {
			action = action.Join(LoopActionExit)
			break
		}
	}
	if action == LoopActionUninitialized {
		return LoopActionNone
	}
	return action
}
