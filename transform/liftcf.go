package transform

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/cf"
	"github.com/miden-compiler/midenc/dialects/scf"
	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
)

// maxStructureIterations bounds the structuring loop; every successful step
// removes at least one block, so a bound proportional to the region size is
// generous.
const maxStructureIterations = 1024

// LiftControlFlowPass rebuilds structured control flow (scf.if, scf.while)
// from a branch-based CFG. It works inside-out: conditional diamonds and
// triangles become scf.if, single-latch loops become scf.while, and the
// greedy canonicalizer collapses the straight-line chains left behind.
// Irreducible control flow is rejected with a diagnostic; Miden Assembly
// cannot express it.
type LiftControlFlowPass struct{}

// NewLiftControlFlowPass creates the control-flow structuring pass.
func NewLiftControlFlowPass() *LiftControlFlowPass { return &LiftControlFlowPass{} }

func (p *LiftControlFlowPass) Name() string     { return "LiftControlFlow" }
func (p *LiftControlFlowPass) Argument() string { return "lift-control-flow" }
func (p *LiftControlFlowPass) Description() string {
	return "Rebuild structured scf control flow from cf branches"
}

func (p *LiftControlFlowPass) CanScheduleOn(*ir.OperationName) bool { return true }

func (p *LiftControlFlowPass) Run(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
	for i := 0; i < op.NumRegions(); i++ {
		if err := p.liftRegion(op, op.Region(i), am); err != nil {
			return pass.PreserveNone(), err
		}
	}
	return pass.PreserveNone(), nil
}

func (p *LiftControlFlowPass) liftRegion(root *ir.Operation, region *ir.Region, am *pass.AnalysisManager) error {
	log := am.Logger()
	for iter := 0; iter < maxStructureIterations; iter++ {
		if region.NumBlocks() <= 1 {
			return nil
		}
		if _, err := RewriteGreedily(root, log); err != nil {
			return err
		}
		if region.NumBlocks() <= 1 {
			return nil
		}

		tree := analysis.NewDomTree(region)
		loops := analysis.ComputeLoops(region, tree)
		if loops.Irreducible() {
			edge := loops.IrreducibleEdge()
			return errors.Errorf("cannot structure irreducible control flow: block b%d re-enters a cycle it does not dominate from b%d",
				edge.To.ID(), edge.From.ID())
		}

		lifted, err := p.tryLiftIf(region, loops)
		if err != nil {
			return err
		}
		if lifted {
			continue
		}
		lifted, err = p.tryLiftLoop(region, loops)
		if err != nil {
			return err
		}
		if lifted {
			continue
		}
		return errors.Errorf("control flow of %d remaining blocks does not match any structurable shape", region.NumBlocks())
	}
	return errors.New("control-flow structuring did not converge")
}

// tryLiftIf finds one conditional whose arms reconverge and rewrites it into
// scf.if. Branches that are part of a loop (the loop's own exit conditional)
// are left for tryLiftLoop.
func (p *LiftControlFlowPass) tryLiftIf(region *ir.Region, loops *analysis.LoopInfo) (bool, error) {
	for _, x := range region.Blocks() {
		term := x.Terminator()
		if term == nil || !term.Is(cf.CondBrOp) {
			continue
		}
		t, f := term.Successor(0), term.Successor(1)
		if t == f {
			continue
		}
		// A conditional that leaves or re-enters a loop is loop structure.
		if loops.EdgeAction(x, t) != analysis.LoopActionNone ||
			loops.EdgeAction(x, f) != analysis.LoopActionNone {
			continue
		}

		thenArm, elseArm, join := matchArms(x, term, t, f)
		if join == nil {
			continue
		}
		if err := p.buildIf(x, term, thenArm, elseArm, join); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// matchArms recognizes diamonds (both successors are single-predecessor
// blocks branching to a common join) and triangles (one successor is the
// join itself). A nil arm means that side falls through to the join.
func matchArms(x *ir.Block, term *ir.Operation, t, f *ir.Block) (thenArm, elseArm, join *ir.Block) {
	tj := armJoin(x, term, t)
	fj := armJoin(x, term, f)
	switch {
	case tj != nil && fj != nil && tj == fj:
		return t, f, tj
	case tj != nil && tj == f:
		return t, nil, f
	case fj != nil && fj == t:
		return nil, f, t
	default:
		return nil, nil, nil
	}
}

// armJoin returns the block arm unconditionally branches to, provided arm is
// a dedicated single-predecessor arm of x.
func armJoin(x *ir.Block, term *ir.Operation, arm *ir.Block) *ir.Block {
	if arm == x || arm.IsEntry() {
		return nil
	}
	edge := arm.SinglePredecessor()
	if edge == nil || edge.Owner() != term {
		return nil
	}
	armTerm := arm.Terminator()
	if armTerm == nil || !armTerm.Is(cf.BrOp) {
		return nil
	}
	dest := armTerm.Successor(0)
	if dest == arm {
		return nil
	}
	return dest
}

// buildIf replaces the conditional in x with an scf.if computing the join
// block's arguments, then branches to the join with the if results.
func (p *LiftControlFlowPass) buildIf(x *ir.Block, term *ir.Operation, thenArm, elseArm, join *ir.Block) error {
	ctx := x.Context()
	b := ir.NewBuilder(ctx)
	b.SetInsertionPointBefore(term)

	resultTypes := make([]ir.Type, join.NumArguments())
	for i := range resultTypes {
		resultTypes[i] = join.Argument(i).Type()
	}
	ifOp, err := scf.If(b, term.Operand(0), resultTypes, term.Span())
	if err != nil {
		return err
	}

	if err := fillArm(b, scf.ThenBody(ifOp), x, term, 0, thenArm, join); err != nil {
		return err
	}
	if err := fillArm(b, scf.ElseBody(ifOp), x, term, 1, elseArm, join); err != nil {
		return err
	}

	b.SetInsertionPointBefore(term)
	if _, err := cf.Br(b, join, ifOp.Results(), term.Span()); err != nil {
		return err
	}
	if err := term.Erase(); err != nil {
		return err
	}
	if thenArm != nil {
		if err := thenArm.Erase(); err != nil {
			return errors.Wrap(err, "deleting absorbed then arm")
		}
	}
	if elseArm != nil {
		if err := elseArm.Erase(); err != nil {
			return errors.Wrap(err, "deleting absorbed else arm")
		}
	}
	return nil
}

// fillArm moves one arm's operations into an scf.if body and terminates it
// with a yield of the values the arm handed to the join. A nil arm is the
// fallthrough side: it yields the values x passed to the join directly.
func fillArm(b *ir.Builder, body *ir.Block, x *ir.Block, term *ir.Operation, succ int, arm, join *ir.Block) error {
	var yieldVals []*ir.Value
	span := term.Span()
	if arm == nil {
		yieldVals = term.SuccessorArgs(succ)
	} else {
		for i, passed := range term.SuccessorArgs(succ) {
			arm.Argument(i).ReplaceAllUsesWith(passed)
		}
		armTerm := arm.Terminator()
		yieldVals = armTerm.SuccessorArgs(0)
		span = armTerm.Span()
		for _, op := range arm.Ops() {
			if op == armTerm {
				continue
			}
			op.Remove()
			body.PushBack(op)
		}
		if err := armTerm.Erase(); err != nil {
			return err
		}
	}
	b.SetInsertionPointToEnd(body)
	_, err := scf.Yield(b, span, yieldVals...)
	return err
}

// tryLiftLoop structures one loop of the two collapsed shapes the
// canonicalizer leaves behind: a self-loop (header conditionally branching
// to itself) or a header/latch pair. Anything else is reported with a
// diagnostic naming the obstacle.
func (p *LiftControlFlowPass) tryLiftLoop(region *ir.Region, loops *analysis.LoopInfo) (bool, error) {
	all := loops.Loops()
	if len(all) == 0 {
		return false, nil
	}
	var obstacle error
	for _, l := range all {
		latch := l.SingleLatch()
		if latch == nil {
			obstacle = errors.Errorf("loop with %d latches cannot become a single structured loop", len(l.Latches()))
			continue
		}
		h := l.Header()
		blocks := l.Blocks()
		switch {
		case len(blocks) == 1 && latch == h:
		case len(blocks) == 2 && latch != h:
		default:
			obstacle = errors.Errorf("loop body of %d blocks did not collapse; it likely has multiple exits", len(blocks))
			continue
		}
		if h.IsEntry() {
			splitEntry(region, h)
			return true, nil
		}
		lifted, err := p.buildWhile(region, l, h, latch)
		if err != nil {
			obstacle = err
			continue
		}
		if lifted {
			return true, nil
		}
	}
	if obstacle != nil {
		return false, obstacle
	}
	return false, nil
}

// splitEntry peels the region entry off a loop header so the header can be
// rebuilt as a loop op: the entry keeps the region arguments and branches to
// a fresh header carrying the same argument list. Back edges move with the
// header, otherwise the canonicalizer would fold the split straight back.
func splitEntry(region *ir.Region, h *ir.Block) {
	argTypes := make([]ir.Type, h.NumArguments())
	for i := range argTypes {
		argTypes[i] = h.Argument(i).Type()
	}
	h2 := region.NewBlock(argTypes...)
	for i := 0; i < h.NumArguments(); i++ {
		h.Argument(i).ReplaceAllUsesWith(h2.Argument(i))
	}
	for _, op := range h.Ops() {
		op.Remove()
		h2.PushBack(op)
	}
	// The entry has no predecessors from outside the region, so every edge
	// into h is a latch edge and belongs to the new header.
	for _, edge := range h.PredecessorEdges() {
		edge.Owner().SetSuccessor(edge.Index(), h2)
	}
	b := ir.NewBuilder(region.Context())
	b.SetInsertionPointToEnd(h)
	args := make([]*ir.Value, h.NumArguments())
	for i := range args {
		args[i] = h.Argument(i)
	}
	b.MustCreate(ir.OpState{
		Name:       cf.BrOp,
		Successors: []ir.SuccessorSpec{{Dest: h2, Args: args}},
	})
}

// buildWhile rewrites one collapsed loop into scf.while. The header becomes
// the before region (its conditional becomes scf.condition), the latch
// becomes the after region, and every header-defined value consumed outside
// the before region is threaded through the condition's forwarded operands.
func (p *LiftControlFlowPass) buildWhile(region *ir.Region, l *analysis.Loop, h, latch *ir.Block) (bool, error) {
	term := h.Terminator()
	if term == nil || !term.Is(cf.CondBrOp) {
		return false, errors.New("loop header does not end in a two-way conditional")
	}
	inLoop, exit := -1, -1
	for i := 0; i < 2; i++ {
		if l.Contains(term.Successor(i)) {
			inLoop = i
		} else {
			exit = i
		}
	}
	if inLoop < 0 || exit < 0 {
		return false, errors.New("loop header conditional does not separate the loop from its exit")
	}
	if latch != h && term.Successor(inLoop) != latch {
		return false, errors.New("loop body entry is not the latch block")
	}
	if latch != h {
		latchTerm := latch.Terminator()
		if latchTerm == nil || !latchTerm.Is(cf.BrOp) || latchTerm.Successor(0) != h {
			return false, errors.New("loop latch does not branch straight back to the header")
		}
	}
	exitBlock := term.Successor(exit)

	ctx := region.Context()
	b := ir.NewBuilder(ctx)

	// The merge block replaces the header as the target of every edge from
	// outside the loop; its arguments mirror the header's.
	argTypes := make([]ir.Type, h.NumArguments())
	for i := range argTypes {
		argTypes[i] = h.Argument(i).Type()
	}
	m := region.NewBlock(argTypes...)
	for _, edge := range h.PredecessorEdges() {
		if l.Contains(edge.Owner().Parent()) {
			continue
		}
		edge.Owner().SetSuccessor(edge.Index(), m)
	}

	b.SetInsertionPointToEnd(m)
	inits := make([]*ir.Value, m.NumArguments())
	for i := range inits {
		inits[i] = m.Argument(i)
	}

	// Header contents move into the before region.
	hOps := h.Ops()
	bodyOps := hOps[:len(hOps)-1]
	var hDefined []*ir.Value

	// Forwarded values are decided after the move, so compute result types
	// from a first classification pass.
	for i := 0; i < h.NumArguments(); i++ {
		hDefined = append(hDefined, h.Argument(i))
	}
	for _, op := range bodyOps {
		hDefined = append(hDefined, op.Results()...)
	}
	var needFwd []*ir.Value
	for _, v := range hDefined {
		if usedBeyondHeader(v, h, term) {
			needFwd = append(needFwd, v)
		}
	}
	resultTypes := make([]ir.Type, len(needFwd))
	for i, v := range needFwd {
		resultTypes[i] = v.Type()
	}

	whileOp, err := scf.While(b, inits, resultTypes, term.Span())
	if err != nil {
		return false, err
	}
	before := scf.BeforeBody(whileOp)
	after := scf.AfterBody(whileOp)

	for i := 0; i < h.NumArguments(); i++ {
		h.Argument(i).ReplaceAllUsesWith(before.Argument(i))
		// Forwarded header arguments live on as before-region arguments.
		for j, v := range needFwd {
			if v == h.Argument(i) {
				needFwd[j] = before.Argument(i)
			}
		}
	}
	for _, op := range bodyOps {
		op.Remove()
		before.PushBack(op)
	}

	b.SetInsertionPointToEnd(before)
	cond := term.Operand(0)
	if exit == 0 {
		// The conditional exits on true; scf.while continues on true.
		notOp, err := b.Create(ir.OpState{
			Name:     arith.NotOp,
			Span:     term.Span(),
			Operands: []*ir.Value{cond},
		})
		if err != nil {
			return false, err
		}
		cond = notOp.Result(0)
	}
	if _, err := scf.Condition(b, cond, needFwd, term.Span()); err != nil {
		return false, err
	}

	// Latch contents move into the after region; its yield carries the
	// values the back edge handed to the header.
	var yieldVals []*ir.Value
	var yieldSpan ir.SourceSpan
	if latch == h {
		yieldVals = term.SuccessorArgs(inLoop)
		yieldSpan = term.Span()
	} else {
		for i, passed := range term.SuccessorArgs(inLoop) {
			latch.Argument(i).ReplaceAllUsesWith(passed)
		}
		latchTerm := latch.Terminator()
		yieldVals = latchTerm.SuccessorArgs(0)
		yieldSpan = latchTerm.Span()
		for _, op := range latch.Ops() {
			if op == latchTerm {
				continue
			}
			op.Remove()
			after.PushBack(op)
		}
		if err := latchTerm.Erase(); err != nil {
			return false, err
		}
	}
	b.SetInsertionPointToEnd(after)
	if _, err := scf.Yield(b, yieldSpan, yieldVals...); err != nil {
		return false, err
	}

	// The merge block continues to the exit with the values the header's
	// exit edge carried; forwarded ones become loop results below.
	b.SetInsertionPointToEnd(m)
	if _, err := cf.Br(b, exitBlock, term.SuccessorArgs(exit), term.Span()); err != nil {
		return false, err
	}

	// Re-home every remaining cross-region use of a forwarded value: uses
	// in the after region read the forwarded block argument, uses outside
	// the loop read the loop result.
	for i, v := range needFwd {
		for _, use := range v.Uses() {
			owner := use.Owner()
			if owner == term {
				continue
			}
			switch {
			case nestedUnderBlock(owner, before):
			case nestedUnderBlock(owner, after):
				use.Set(after.Argument(i))
			default:
				use.Set(whileOp.Result(i))
			}
		}
	}

	if err := term.Erase(); err != nil {
		return false, err
	}
	if err := h.Erase(); err != nil {
		return false, errors.Wrap(err, "deleting absorbed loop header")
	}
	if latch != h {
		if err := latch.Erase(); err != nil {
			return false, errors.Wrap(err, "deleting absorbed loop latch")
		}
	}
	return true, nil
}

// usedBeyondHeader reports whether v has a consumer that will not end up in
// the before region: an op outside the header, or the header terminator's
// successor arguments (which become yields, results, or exit values).
func usedBeyondHeader(v *ir.Value, h *ir.Block, term *ir.Operation) bool {
	for _, use := range v.Uses() {
		owner := use.Owner()
		if owner == term {
			if use.Index() >= term.NumOperands() {
				return true
			}
			continue
		}
		if !nestedUnderBlock(owner, h) {
			return true
		}
	}
	return false
}

// nestedUnderBlock reports whether op lives in block, directly or inside a
// region of one of block's operations.
func nestedUnderBlock(op *ir.Operation, block *ir.Block) bool {
	for op != nil {
		if op.Parent() == block {
			return true
		}
		op = op.ParentOp()
	}
	return false
}
