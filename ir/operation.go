package ir

import (
	"github.com/pkg/errors"
)

// Operation is a single IR instruction: an interned kind, ordered operands,
// owned results, an attribute dictionary, optional successor edges (for
// terminators) and optional owned regions. Operations live in the intrusive
// operation list of their parent block, or are detached.
type Operation struct {
	id   uint32
	ctx  *Context
	name *OperationName
	span SourceSpan

	// operands holds the fixed operands first, then the argument operands
	// of each successor, in successor order.
	operands   []*Operand
	numFixed   int
	results    []*Value
	attrs      AttrList
	regions    []*Region
	successors []*OpSuccessor

	block *Block
	prev  *Operation
	next  *Operation

	// order is the lazily-assigned position within the block, used for O(1)
	// intra-block dominance queries. See Block.ensureOpOrder.
	order uint32

	dead bool
}

// OpSuccessor is one successor edge of a terminator, together with the range
// of operands passed as the successor block's arguments.
type OpSuccessor struct {
	owner    *Operation
	index    int
	block    *Block
	argStart int
	argCount int
}

// Block returns the successor's destination block.
func (s *OpSuccessor) Block() *Block { return s.block }

// Owner returns the terminator owning this edge.
func (s *OpSuccessor) Owner() *Operation { return s.owner }

// Index returns the successor position within the owner.
func (s *OpSuccessor) Index() int { return s.index }

// Args returns the operands passed to the destination's block arguments.
func (s *OpSuccessor) Args() []*Operand {
	return s.owner.operands[s.argStart : s.argStart+s.argCount]
}

func (op *Operation) checkLive() {
	if op.dead {
		liveCheckFailed("operation", op.id)
	}
}

// ID returns the context-unique ordinal of this operation.
func (op *Operation) ID() uint32 { return op.id }

// Context returns the owning context.
func (op *Operation) Context() *Context { return op.ctx }

// Name returns the interned operation kind.
func (op *Operation) Name() *OperationName { return op.name }

// Is reports whether the operation is of the named kind, e.g. "cf.br".
func (op *Operation) Is(fullName string) bool { return op.name.full == fullName }

// Span returns the source span the operation was derived from.
func (op *Operation) Span() SourceSpan { return op.span }

// HasTrait reports whether the operation's kind carries the trait.
func (op *Operation) HasTrait(t Trait) bool { return op.name.HasTrait(t) }

// IsTerminator reports whether the operation must terminate its block.
func (op *Operation) IsTerminator() bool { return op.HasTrait(TraitTerminator) }

// IsConstantLike reports whether the operation produces a single constant
// result described by its "value" attribute.
func (op *Operation) IsConstantLike() bool { return op.HasTrait(TraitConstantLike) }

// ConstantValue returns the "value" attribute of a constant-like operation.
func (op *Operation) ConstantValue() (Attribute, bool) {
	if !op.IsConstantLike() {
		return nil, false
	}
	return op.Attr("value")
}

// Operands

// NumOperands returns the number of fixed operands, excluding successor
// arguments.
func (op *Operation) NumOperands() int { return op.numFixed }

// Operand returns the i-th fixed operand's value.
func (op *Operation) Operand(i int) *Value { return op.operands[i].value }

// OperandRef returns the i-th fixed operand edge.
func (op *Operation) OperandRef(i int) *Operand { return op.operands[i] }

// Operands returns a snapshot of the fixed operand values.
func (op *Operation) Operands() []*Value {
	out := make([]*Value, op.numFixed)
	for i := 0; i < op.numFixed; i++ {
		out[i] = op.operands[i].value
	}
	return out
}

// AllOperands returns every operand edge, including successor arguments.
func (op *Operation) AllOperands() []*Operand {
	out := make([]*Operand, len(op.operands))
	copy(out, op.operands)
	return out
}

// SetOperand atomically rewires fixed operand i to value: the old value's
// use list and the new value's use list are updated together.
func (op *Operation) SetOperand(i int, v *Value) {
	op.checkLive()
	if i < 0 || i >= op.numFixed {
		panic("operand index out of range: a bug in the caller")
	}
	op.operands[i].Set(v)
}

func (op *Operation) addOperand(v *Value) *Operand {
	o := &Operand{owner: op, index: len(op.operands)}
	op.operands = append(op.operands, o)
	o.set(v)
	return o
}

// Results

// NumResults returns the number of results the operation defines.
func (op *Operation) NumResults() int { return len(op.results) }

// Result returns the i-th result value.
func (op *Operation) Result(i int) *Value { return op.results[i] }

// Results returns a snapshot of the result values.
func (op *Operation) Results() []*Value {
	out := make([]*Value, len(op.results))
	copy(out, op.results)
	return out
}

func (op *Operation) addResult(ty Type) *Value {
	v := op.ctx.newValue(ty, op.span)
	v.defOp = op
	v.index = len(op.results)
	op.results = append(op.results, v)
	return v
}

// ReplaceAllUsesWith rewires every use of each result to the corresponding
// replacement value. len(with) must equal NumResults.
func (op *Operation) ReplaceAllUsesWith(with ...*Value) {
	op.checkLive()
	if len(with) != len(op.results) {
		panic("replacement count does not match result count: a bug in the caller")
	}
	for i, r := range op.results {
		r.ReplaceAllUsesWith(with[i])
	}
}

// HasUses reports whether any result of the operation has remaining uses.
func (op *Operation) HasUses() bool {
	for _, r := range op.results {
		if r.HasUses() {
			return true
		}
	}
	return false
}

// Attributes

// Attr looks up an attribute by name.
func (op *Operation) Attr(name string) (Attribute, bool) { return op.attrs.Get(name) }

// SetAttr sets or replaces an attribute.
func (op *Operation) SetAttr(name string, value Attribute) {
	op.checkLive()
	op.attrs = op.attrs.Set(name, value)
}

// RemoveAttr deletes an attribute if present.
func (op *Operation) RemoveAttr(name string) {
	op.attrs = op.attrs.Remove(name)
}

// Attrs returns the attribute dictionary in insertion order.
func (op *Operation) Attrs() AttrList { return op.attrs }

// Regions

// NumRegions returns the number of regions the operation owns.
func (op *Operation) NumRegions() int { return len(op.regions) }

// Region returns the i-th owned region.
func (op *Operation) Region(i int) *Region { return op.regions[i] }

func (op *Operation) addRegion() *Region {
	r := op.ctx.newRegion()
	r.owner = op
	r.index = len(op.regions)
	op.regions = append(op.regions, r)
	return r
}

// Successors

// NumSuccessors returns the number of successor edges.
func (op *Operation) NumSuccessors() int { return len(op.successors) }

// Successor returns the i-th successor block.
func (op *Operation) Successor(i int) *Block { return op.successors[i].block }

// SuccessorEdge returns the i-th successor edge.
func (op *Operation) SuccessorEdge(i int) *OpSuccessor { return op.successors[i] }

// SuccessorArgs returns the values passed to the i-th successor's block
// arguments.
func (op *Operation) SuccessorArgs(i int) []*Value {
	s := op.successors[i]
	out := make([]*Value, s.argCount)
	for j := 0; j < s.argCount; j++ {
		out[j] = op.operands[s.argStart+j].value
	}
	return out
}

// SetSuccessor redirects successor edge i to a new destination block. The
// argument operands are kept; the caller is responsible for arity/type
// agreement with the new destination (checked by the verifier).
func (op *Operation) SetSuccessor(i int, dest *Block) {
	op.checkLive()
	dest.checkLive()
	s := op.successors[i]
	if s.block == dest {
		return
	}
	s.block.removePred(s)
	s.block = dest
	dest.addPred(s)
}

func (op *Operation) addSuccessor(dest *Block, args []*Value) *OpSuccessor {
	s := &OpSuccessor{
		owner:    op,
		index:    len(op.successors),
		block:    dest,
		argStart: len(op.operands),
		argCount: len(args),
	}
	for _, a := range args {
		op.addOperand(a)
	}
	op.successors = append(op.successors, s)
	dest.addPred(s)
	return s
}

// Placement

// Parent returns the block containing the operation, or nil if detached.
func (op *Operation) Parent() *Block { return op.block }

// ParentOp returns the operation owning the region this operation lives in,
// or nil at the root.
func (op *Operation) ParentOp() *Operation {
	if op.block == nil || op.block.region == nil {
		return nil
	}
	return op.block.region.owner
}

// ParentRegion returns the region this operation's block belongs to.
func (op *Operation) ParentRegion() *Region {
	if op.block == nil {
		return nil
	}
	return op.block.region
}

// PrevOp and NextOp navigate the block's operation list.
func (op *Operation) PrevOp() *Operation { return op.prev }
func (op *Operation) NextOp() *Operation { return op.next }

// IsBeforeInBlock reports whether op appears strictly before other in their
// shared block. Both operations must be attached to the same block.
func (op *Operation) IsBeforeInBlock(other *Operation) bool {
	op.checkLive()
	other.checkLive()
	if op.block == nil || op.block != other.block {
		panic("operations are not in the same block: a bug in the caller")
	}
	op.block.ensureOpOrder()
	return op.order < other.order
}

// MoveBefore detaches the operation and reinserts it immediately before
// point, which must be attached.
func (op *Operation) MoveBefore(point *Operation) {
	op.checkLive()
	point.checkLive()
	if point.block == nil {
		panic("insertion point is detached: a bug in the caller")
	}
	if op.ctx != point.ctx {
		panic("cross-context operation move: a bug in the caller")
	}
	op.Remove()
	point.block.insertBefore(op, point)
}

// MoveAfter detaches the operation and reinserts it immediately after point.
func (op *Operation) MoveAfter(point *Operation) {
	op.checkLive()
	point.checkLive()
	if point.block == nil {
		panic("insertion point is detached: a bug in the caller")
	}
	if op.ctx != point.ctx {
		panic("cross-context operation move: a bug in the caller")
	}
	op.Remove()
	if point.next == nil {
		point.block.PushBack(op)
	} else {
		point.block.insertBefore(op, point.next)
	}
}

// Remove detaches the operation from its block without destroying it. The
// operation remains valid and can be reinserted.
func (op *Operation) Remove() {
	op.checkLive()
	if op.block == nil {
		return
	}
	op.block.remove(op)
}

// Erase removes the operation from its block and destroys it, including all
// nested regions. It fails if any result still has uses.
func (op *Operation) Erase() error {
	op.checkLive()
	for i, r := range op.results {
		if r.HasUses() {
			return errors.Errorf("cannot erase %s: result %d still has %d uses", op.name, i, r.NumUses())
		}
	}
	op.Remove()
	op.destroy()
	return nil
}

// destroy tears down the operation and everything it transitively owns. All
// operand edges are unlinked first so no use list is left dangling.
func (op *Operation) destroy() {
	for _, r := range op.regions {
		for b := r.firstBlock; b != nil; b = b.next {
			for inner := b.firstOp; inner != nil; inner = inner.next {
				inner.dropEdges()
			}
		}
	}
	op.dropEdges()
	for _, r := range op.regions {
		for b := r.firstBlock; b != nil; b = b.next {
			for inner := b.firstOp; inner != nil; inner = inner.next {
				inner.markDestroyed()
			}
			b.markDestroyed()
		}
	}
	op.markDestroyed()
}

// dropEdges unlinks every operand from its use list and every successor edge
// from its destination's predecessor list.
func (op *Operation) dropEdges() {
	for _, o := range op.operands {
		if o.value != nil {
			o.unlink()
			o.value = nil
		}
	}
	for _, s := range op.successors {
		if s.block != nil {
			s.block.removePred(s)
			s.block = nil
		}
	}
}

func (op *Operation) markDestroyed() {
	for _, r := range op.results {
		r.dropAllUses()
		r.dead = true
	}
	op.dead = true
}

// Interface dispatch

// Fold attempts to fold the operation given the constant value (or nil) of
// each fixed operand. Folding is all-or-nothing: either every result gets a
// FoldResult, or ok is false and nothing happened.
func (op *Operation) Fold(operands []Attribute) ([]FoldResult, bool) {
	fn := op.name.info.Fold
	if fn == nil {
		return nil, false
	}
	results, ok := fn(op, operands)
	if ok && len(results) != len(op.results) {
		panic("partial fold: a bug in the " + op.name.full + " fold implementation")
	}
	return results, ok
}

// InferReturnTypes recomputes the operation's result types from its current
// operand types, updating the result values in place. It fails when the
// operand types are outside the operation's accepted domain.
func (op *Operation) InferReturnTypes() error {
	fn := op.name.info.InferReturnTypes
	if fn == nil {
		return errors.Errorf("%s does not implement return type inference", op.name)
	}
	tys, err := fn(op.ctx, op.Operands(), op.attrs)
	if err != nil {
		return err
	}
	if len(tys) != len(op.results) {
		return errors.Errorf("%s: type inference produced %d types for %d results", op.name, len(tys), len(op.results))
	}
	for i, ty := range tys {
		op.results[i].SetType(ty)
	}
	return nil
}

func (op *Operation) String() string {
	return Print(op)
}
