// Package analysis provides the control-flow and data-flow analyses the
// transform passes are built on: dominator trees, loop structure, a
// worklist-based data-flow solver, and the concrete analyses that run on it.
package analysis

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

// CFGEdge is one control-flow edge between blocks of a region.
type CFGEdge struct {
	From, To *ir.Block
}

// DomTree is a dominator or post-dominator tree over the blocks of one
// region. Queries are O(1) via pre/post interval numbering; the tree is
// rebuilt or incrementally updated through BatchUpdate after CFG edits.
type DomTree struct {
	region *ir.Region
	post   bool

	nodes     map[*ir.Block]*domNode
	root      *domNode
	frontiers map[*ir.Block][]*ir.Block
}

type domNode struct {
	block    *ir.Block // nil for the virtual exit of a post-dominator tree
	idom     *domNode
	children []*domNode
	depth    int
	pre, end int
}

// NewDomTree computes the dominator tree of region using the semi-NCA
// algorithm.
func NewDomTree(region *ir.Region) *DomTree {
	t := &DomTree{region: region, post: false}
	t.recompute()
	return t
}

// NewPostDomTree computes the post-dominator tree of region over the
// reversed CFG, rooted at a virtual exit that all exiting blocks reach.
func NewPostDomTree(region *ir.Region) *DomTree {
	t := &DomTree{region: region, post: true}
	t.recompute()
	return t
}

// IsPostDominator reports whether this tree answers post-dominance queries.
func (t *DomTree) IsPostDominator() bool { return t.post }

// Region returns the region the tree was computed for.
func (t *DomTree) Region() *ir.Region { return t.region }

// IsReachable reports whether b is reachable from the entry (or, for a
// post-dominator tree, reaches an exit).
func (t *DomTree) IsReachable(b *ir.Block) bool {
	_, ok := t.nodes[b]
	return ok
}

// Idom returns the immediate dominator of b, or nil for the root and for
// unreachable blocks. For a post-dominator tree a nil result with b
// reachable means b is immediately post-dominated by the virtual exit.
func (t *DomTree) Idom(b *ir.Block) *ir.Block {
	n, ok := t.nodes[b]
	if !ok || n.idom == nil {
		return nil
	}
	return n.idom.block
}

// Children returns the blocks immediately dominated by b.
func (t *DomTree) Children(b *ir.Block) []*ir.Block {
	n, ok := t.nodes[b]
	if !ok {
		return nil
	}
	out := make([]*ir.Block, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c.block)
	}
	return out
}

// Depth returns the dominator tree depth of b; the root has depth 0.
func (t *DomTree) Depth(b *ir.Block) int {
	if n, ok := t.nodes[b]; ok {
		return n.depth
	}
	return -1
}

// Dominates reports whether a dominates b. Every reachable block dominates
// itself. Unreachable blocks neither dominate nor are dominated.
func (t *DomTree) Dominates(a, b *ir.Block) bool {
	na, ok := t.nodes[a]
	if !ok {
		return false
	}
	nb, ok := t.nodes[b]
	if !ok {
		return false
	}
	return na.pre <= nb.pre && nb.end <= na.end
}

// ProperlyDominates reports whether a dominates b and a != b.
func (t *DomTree) ProperlyDominates(a, b *ir.Block) bool {
	return a != b && t.Dominates(a, b)
}

// NCA returns the nearest common ancestor of a and b in the tree, or nil if
// either is unreachable or their only common ancestor is the virtual exit.
func (t *DomTree) NCA(a, b *ir.Block) *ir.Block {
	na, ok := t.nodes[a]
	if !ok {
		return nil
	}
	nb, ok := t.nodes[b]
	if !ok {
		return nil
	}
	return t.ncaNodes(na, nb).block
}

func (t *DomTree) ncaNodes(a, b *domNode) *domNode {
	for a.depth > b.depth {
		a = a.idom
	}
	for b.depth > a.depth {
		b = b.idom
	}
	for a != b {
		a = a.idom
		b = b.idom
	}
	return a
}

// Frontier returns the dominance frontier of b: the blocks where b's
// dominance ends.
func (t *DomTree) Frontier(b *ir.Block) []*ir.Block {
	if t.frontiers == nil {
		t.computeFrontiers()
	}
	return t.frontiers[b]
}

// BatchUpdate applies a batch of CFG edge changes to the tree. Pure
// insertions are handled incrementally: the affected vertices all acquire
// the nearest common ancestor of the edge endpoints as their new immediate
// dominator. Any removal, or an insertion that makes a previously
// unreachable block reachable, falls back to a full recompute.
func (t *DomTree) BatchUpdate(inserted, removed []CFGEdge) {
	if len(removed) > 0 {
		t.recompute()
		return
	}
	for _, e := range inserted {
		from, to := e.From, e.To
		if t.post {
			from, to = to, from
		}
		nu, okU := t.nodes[from]
		nv, okV := t.nodes[to]
		if !okV {
			// The edge reaches into previously dead territory.
			t.recompute()
			return
		}
		if !okU {
			// Edge out of an unreachable block changes nothing.
			continue
		}
		t.insertReachable(nu, nv)
	}
	t.renumber()
	t.frontiers = nil
}

// insertReachable applies the affected-set rule for one inserted edge whose
// endpoints are both reachable.
func (t *DomTree) insertReachable(nu, nv *domNode) {
	nca := t.ncaNodes(nu, nv)
	if nca == nv {
		return
	}
	visited := map[*domNode]struct{}{nv: {}}
	stack := []*domNode{nv}
	var affected []*domNode
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if w.depth <= nca.depth+1 {
			continue
		}
		affected = append(affected, w)
		for _, s := range t.cfgSuccessors(w.block) {
			if sn, ok := t.nodes[s]; ok {
				if _, seen := visited[sn]; !seen {
					visited[sn] = struct{}{}
					stack = append(stack, sn)
				}
			}
		}
	}
	for _, w := range affected {
		w.idom = nca
	}
	if len(affected) > 0 {
		t.rebuildChildren()
	}
}

// cfgSuccessors returns the successors of b in the direction the tree walks:
// forward for dominators, reversed for post-dominators.
func (t *DomTree) cfgSuccessors(b *ir.Block) []*ir.Block {
	if b == nil {
		return nil
	}
	if t.post {
		return b.Predecessors()
	}
	return b.Successors()
}

func (t *DomTree) cfgPredecessors(b *ir.Block) []*ir.Block {
	if t.post {
		return b.Successors()
	}
	return b.Predecessors()
}

// recompute rebuilds the whole tree with semi-NCA.
func (t *DomTree) recompute() {
	t.nodes = make(map[*ir.Block]*domNode)
	t.frontiers = nil

	var roots []*ir.Block
	if t.post {
		t.root = &domNode{} // virtual exit
		for _, b := range t.region.Blocks() {
			term := b.Terminator()
			if term == nil || term.NumSuccessors() == 0 {
				roots = append(roots, b)
			}
		}
	} else {
		entry := t.region.Entry()
		if entry == nil {
			t.root = nil
			return
		}
		t.root = &domNode{block: entry}
		t.nodes[entry] = t.root
		roots = nil
	}

	// DFS preorder from the root(s).
	var vertices []*domNode
	var parent []int
	num := map[*domNode]int{}
	push := func(n *domNode, p int) {
		num[n] = len(vertices)
		vertices = append(vertices, n)
		parent = append(parent, p)
	}
	push(t.root, -1)

	type frame struct {
		n     *domNode
		succs []*ir.Block
		next  int
	}
	rootSuccs := roots
	if !t.post {
		rootSuccs = t.cfgSuccessors(t.root.block)
	}
	stack := []frame{{n: t.root, succs: rootSuccs}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next >= len(f.succs) {
			stack = stack[:len(stack)-1]
			continue
		}
		sb := f.succs[f.next]
		f.next++
		if _, ok := t.nodes[sb]; ok {
			continue
		}
		sn := &domNode{block: sb}
		t.nodes[sb] = sn
		push(sn, num[f.n])
		stack = append(stack, frame{n: sn, succs: t.cfgSuccessors(sb)})
	}

	n := len(vertices)
	semi := make([]int, n)
	label := make([]int, n)
	ancestor := make([]int, n)
	idom := make([]int, n)
	for i := 0; i < n; i++ {
		semi[i] = i
		label[i] = i
		ancestor[i] = -1
		idom[i] = parent[i]
	}

	var compress func(v int)
	compress = func(v int) {
		a := ancestor[v]
		if ancestor[a] == -1 {
			return
		}
		compress(a)
		if semi[label[a]] < semi[label[v]] {
			label[v] = label[a]
		}
		ancestor[v] = ancestor[a]
	}
	eval := func(v int) int {
		if ancestor[v] == -1 {
			return v
		}
		compress(v)
		return label[v]
	}

	// Semi-dominators, processed in reverse preorder.
	for w := n - 1; w >= 1; w-- {
		wn := vertices[w]
		var preds []*ir.Block
		if wn.block != nil {
			preds = t.cfgPredecessors(wn.block)
		}
		for _, pb := range preds {
			pn, ok := t.nodes[pb]
			if !ok {
				continue
			}
			u := eval(num[pn])
			if semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}
		if t.post && wn.block != nil {
			// Exit blocks also have the virtual exit as predecessor.
			if term := wn.block.Terminator(); term == nil || term.NumSuccessors() == 0 {
				if u := eval(0); semi[u] < semi[w] {
					semi[w] = semi[u]
				}
			}
		}
		ancestor[w] = parent[w]
	}

	// NCA pass: climb from the DFS parent to the semi-dominator.
	for w := 1; w < n; w++ {
		j := idom[w]
		for j > semi[w] {
			j = idom[j]
		}
		idom[w] = j
	}

	for w := 1; w < n; w++ {
		vertices[w].idom = vertices[idom[w]]
	}
	t.rebuildChildren()
	t.renumber()
}

func (t *DomTree) rebuildChildren() {
	if t.root == nil {
		return
	}
	t.root.children = nil
	for _, n := range t.nodes {
		n.children = nil
	}
	for _, n := range t.nodes {
		if n.idom != nil {
			n.idom.children = append(n.idom.children, n)
		}
	}
}

// renumber assigns depths and pre/post interval numbers by walking the tree.
func (t *DomTree) renumber() {
	if t.root == nil {
		return
	}
	counter := 0
	type frame struct {
		n    *domNode
		next int
	}
	t.root.depth = 0
	t.root.pre = counter
	counter++
	stack := []frame{{n: t.root}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next >= len(f.n.children) {
			f.n.end = counter
			counter++
			stack = stack[:len(stack)-1]
			continue
		}
		c := f.n.children[f.next]
		f.next++
		c.depth = f.n.depth + 1
		c.pre = counter
		counter++
		stack = append(stack, frame{n: c})
	}
}

// computeFrontiers fills the dominance frontier map with Cooper's algorithm.
func (t *DomTree) computeFrontiers() {
	t.frontiers = map[*ir.Block][]*ir.Block{}
	for b, n := range t.nodes {
		if b == nil {
			continue
		}
		preds := t.cfgPredecessors(b)
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			runner, ok := t.nodes[p]
			if !ok {
				continue
			}
			for runner != nil && runner != n.idom {
				if runner.block != nil {
					t.frontiers[runner.block] = append(t.frontiers[runner.block], b)
				}
				runner = runner.idom
			}
		}
	}
}

// DominatesOp reports whether the definition point of v dominates op, which
// must live in the same region tree the dominator tree was computed for (or
// nested inside it). Block arguments dominate every operation of their block.
func (t *DomTree) DominatesOp(v *ir.Value, op *ir.Operation) bool {
	user := ancestorInRegion(op, t.region)
	if user == nil {
		return false
	}
	if v.IsBlockArgument() {
		defBlock := v.OwnerBlock()
		if defBlock.Parent() != t.region {
			// Defined in an enclosing region; visible everywhere below.
			return true
		}
		return t.Dominates(defBlock, user.Parent())
	}
	defOp := v.DefiningOp()
	defAnchor := ancestorInRegion(defOp, t.region)
	if defAnchor == nil {
		return true
	}
	if defAnchor.Parent() == user.Parent() {
		if defAnchor == user {
			// A use by the op itself, or nested inside its own regions,
			// comes before the results exist.
			return false
		}
		return defAnchor.IsBeforeInBlock(user)
	}
	return t.Dominates(defAnchor.Parent(), user.Parent())
}

// ancestorInRegion walks from op to the ancestor operation directly inside
// region, or nil when op is not nested in it.
func ancestorInRegion(op *ir.Operation, region *ir.Region) *ir.Operation {
	for op != nil {
		if op.ParentRegion() == region {
			return op
		}
		op = op.ParentOp()
	}
	return nil
}

// VerifyDominance checks that every operand use in root's regions is
// dominated by its definition. The structural verifier in the ir package
// deliberately leaves this to the analysis layer.
func VerifyDominance(root *ir.Operation) error {
	var failure error
	root.Walk(ir.PreOrder, func(op *ir.Operation) ir.WalkResult {
		for i := 0; i < op.NumRegions(); i++ {
			region := op.Region(i)
			if region.Empty() {
				continue
			}
			tree := NewDomTree(region)
			if err := verifyRegionDominance(tree, region); err != nil {
				failure = err
				return ir.WalkInterrupt
			}
		}
		return ir.WalkAdvance
	})
	return failure
}

func verifyRegionDominance(tree *DomTree, region *ir.Region) error {
	var failure error
	for _, b := range region.Blocks() {
		if !tree.IsReachable(b) {
			continue
		}
		for _, top := range b.Ops() {
			// Nested operations may also use values defined at this
			// region's level; check those against this tree too.
			top.Walk(ir.PreOrder, func(op *ir.Operation) ir.WalkResult {
				for i, v := range op.Operands() {
					if definedAtLevel(v, region) && !tree.DominatesOp(v, op) {
						failure = errors.Errorf("operand %d of %s is not dominated by its definition", i, op.Name())
						return ir.WalkInterrupt
					}
				}
				return ir.WalkAdvance
			})
			if failure != nil {
				return failure
			}
		}
	}
	return nil
}

// definedAtLevel reports whether v's definition sits directly inside region.
func definedAtLevel(v *ir.Value, region *ir.Region) bool {
	if v.IsBlockArgument() {
		return v.OwnerBlock().Parent() == region
	}
	if defOp := v.DefiningOp(); defOp != nil {
		return defOp.ParentRegion() == region
	}
	return false
}
