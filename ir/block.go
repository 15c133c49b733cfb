package ir

import "github.com/pkg/errors"

// Block is an ordered list of operations with typed block arguments,
// owned by a Region. Control enters at the first operation; the last
// operation must be a terminator unless the owning operation's regions are
// exempt (TraitNoTerminator) or the block is still under construction.
type Block struct {
	id   uint32
	ctx  *Context
	args []*Value

	region *Region
	prev   *Block
	next   *Block

	firstOp *Operation
	lastOp  *Operation
	numOps  int

	// preds are the successor edges of terminators targeting this block.
	preds []*OpSuccessor

	opOrderValid bool
	dead         bool
}

func (b *Block) checkLive() {
	if b.dead {
		liveCheckFailed("block", b.id)
	}
}

// ID returns the context-unique ordinal of this block.
func (b *Block) ID() uint32 { return b.id }

// Context returns the owning context.
func (b *Block) Context() *Context { return b.ctx }

// Arguments

// NumArguments returns the number of block arguments.
func (b *Block) NumArguments() int { return len(b.args) }

// Argument returns the i-th block argument.
func (b *Block) Argument(i int) *Value { return b.args[i] }

// Arguments returns a snapshot of the block arguments.
func (b *Block) Arguments() []*Value {
	out := make([]*Value, len(b.args))
	copy(out, b.args)
	return out
}

// AddArgument appends a new typed block argument.
func (b *Block) AddArgument(ty Type, span SourceSpan) *Value {
	b.checkLive()
	v := b.ctx.newValue(ty, span)
	v.defBlock = b
	v.index = len(b.args)
	b.args = append(b.args, v)
	return v
}

// EraseArgument removes block argument i. It fails if the argument still has
// uses; predecessors passing a value for it must be rewritten first.
func (b *Block) EraseArgument(i int) error {
	b.checkLive()
	arg := b.args[i]
	if arg.HasUses() {
		return errors.Errorf("cannot erase block argument %d: still has %d uses", i, arg.NumUses())
	}
	arg.dead = true
	b.args = append(b.args[:i:i], b.args[i+1:]...)
	for j := i; j < len(b.args); j++ {
		b.args[j].index = j
	}
	return nil
}

// Placement

// Parent returns the region owning this block.
func (b *Block) Parent() *Region { return b.region }

// ParentOp returns the operation owning this block's region.
func (b *Block) ParentOp() *Operation {
	if b.region == nil {
		return nil
	}
	return b.region.owner
}

// PrevBlock and NextBlock navigate the region's block list.
func (b *Block) PrevBlock() *Block { return b.prev }
func (b *Block) NextBlock() *Block { return b.next }

// IsEntry reports whether this is the region's entry block.
func (b *Block) IsEntry() bool {
	return b.region != nil && b.region.firstBlock == b
}

// Operations

// FirstOp and LastOp bound the block's operation list.
func (b *Block) FirstOp() *Operation { return b.firstOp }
func (b *Block) LastOp() *Operation  { return b.lastOp }

// NumOps returns the number of operations in the block.
func (b *Block) NumOps() int { return b.numOps }

// Empty reports whether the block holds no operations.
func (b *Block) Empty() bool { return b.firstOp == nil }

// Ops returns a snapshot of the block's operations in order; edits made
// while ranging over the snapshot do not invalidate it.
func (b *Block) Ops() []*Operation {
	out := make([]*Operation, 0, b.numOps)
	for op := b.firstOp; op != nil; op = op.next {
		out = append(out, op)
	}
	return out
}

// Terminator returns the block's terminator, or nil when the block is empty
// or still open.
func (b *Block) Terminator() *Operation {
	if b.lastOp != nil && b.lastOp.IsTerminator() {
		return b.lastOp
	}
	return nil
}

// PushBack appends a detached operation at the end of the block.
func (b *Block) PushBack(op *Operation) {
	b.checkLive()
	op.checkLive()
	if op.block != nil {
		panic("operation is already attached: a bug in the caller")
	}
	if op.ctx != b.ctx {
		panic("cross-context insertion: a bug in the caller")
	}
	op.block = b
	op.prev = b.lastOp
	op.next = nil
	if b.lastOp != nil {
		b.lastOp.next = op
	} else {
		b.firstOp = op
	}
	b.lastOp = op
	b.numOps++
	b.opOrderValid = false
}

// PushFront prepends a detached operation at the start of the block.
func (b *Block) PushFront(op *Operation) {
	if b.firstOp == nil {
		b.PushBack(op)
		return
	}
	b.insertBefore(op, b.firstOp)
}

// insertBefore splices a detached op immediately before point, which must be
// attached to b.
func (b *Block) insertBefore(op, point *Operation) {
	b.checkLive()
	op.checkLive()
	if op.block != nil {
		panic("operation is already attached: a bug in the caller")
	}
	if point.block != b {
		panic("insertion point is not in this block: a bug in the caller")
	}
	if op.ctx != b.ctx {
		panic("cross-context insertion: a bug in the caller")
	}
	op.block = b
	op.next = point
	op.prev = point.prev
	if point.prev != nil {
		point.prev.next = op
	} else {
		b.firstOp = op
	}
	point.prev = op
	b.numOps++
	b.opOrderValid = false
}

func (b *Block) remove(op *Operation) {
	if op.block != b {
		panic("operation is not in this block: a bug in the ir package")
	}
	if op.prev != nil {
		op.prev.next = op.next
	} else {
		b.firstOp = op.next
	}
	if op.next != nil {
		op.next.prev = op.prev
	} else {
		b.lastOp = op.prev
	}
	op.prev = nil
	op.next = nil
	op.block = nil
	b.numOps--
	b.opOrderValid = false
}

// ensureOpOrder lazily renumbers the block's operations so IsBeforeInBlock
// answers in O(1) between edits.
func (b *Block) ensureOpOrder() {
	if b.opOrderValid {
		return
	}
	var i uint32
	for op := b.firstOp; op != nil; op = op.next {
		op.order = i
		i++
	}
	b.opOrderValid = true
}

// CFG edges

func (b *Block) addPred(s *OpSuccessor) {
	b.preds = append(b.preds, s)
}

func (b *Block) removePred(s *OpSuccessor) {
	for i, p := range b.preds {
		if p == s {
			b.preds = append(b.preds[:i:i], b.preds[i+1:]...)
			return
		}
	}
	panic("predecessor edge not found: a bug in the ir package")
}

// PredecessorEdges returns the successor edges targeting this block.
func (b *Block) PredecessorEdges() []*OpSuccessor {
	out := make([]*OpSuccessor, len(b.preds))
	copy(out, b.preds)
	return out
}

// Predecessors returns the distinct blocks branching to this block.
func (b *Block) Predecessors() []*Block {
	var out []*Block
	seen := map[*Block]struct{}{}
	for _, s := range b.preds {
		p := s.owner.Parent()
		if p == nil {
			continue
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// SinglePredecessor returns the unique predecessor edge, or nil when the
// block has zero or multiple predecessor edges (a single block reaching it
// through multiple edges counts as multiple).
func (b *Block) SinglePredecessor() *OpSuccessor {
	if len(b.preds) != 1 {
		return nil
	}
	return b.preds[0]
}

// Successors returns the successor blocks of the block's terminator.
func (b *Block) Successors() []*Block {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	out := make([]*Block, t.NumSuccessors())
	for i := range out {
		out[i] = t.Successor(i)
	}
	return out
}

// Erase removes the block from its region and destroys its contents. It
// fails while the block still has predecessor edges or any argument or
// result defined in it has uses outside the block.
func (b *Block) Erase() error {
	b.checkLive()
	if len(b.preds) != 0 {
		return errors.Errorf("cannot erase block: %d predecessor edges remain", len(b.preds))
	}
	for _, arg := range b.args {
		for u := arg.firstUse; u != nil; u = u.next {
			if u.owner.Parent() != b {
				return errors.New("cannot erase block: argument has uses outside the block")
			}
		}
	}
	for op := b.firstOp; op != nil; op = op.next {
		for _, r := range op.results {
			for u := r.firstUse; u != nil; u = u.next {
				if u.owner.Parent() != b {
					return errors.Errorf("cannot erase block: result of %s has uses outside the block", op.name)
				}
			}
		}
	}
	if b.region != nil {
		b.region.remove(b)
	}
	for op := b.firstOp; op != nil; op = op.next {
		op.dropEdges()
	}
	for op := b.firstOp; op != nil; op = op.next {
		op.markDestroyed()
	}
	b.markDestroyed()
	return nil
}

func (b *Block) markDestroyed() {
	for _, arg := range b.args {
		arg.dropAllUses()
		arg.dead = true
	}
	b.firstOp = nil
	b.lastOp = nil
	b.numOps = 0
	b.dead = true
}
