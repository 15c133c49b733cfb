package ir

// Region is an ordered list of blocks owned by an operation. The first
// block, if any, is the region's entry block.
type Region struct {
	ctx   *Context
	owner *Operation
	index int

	firstBlock *Block
	lastBlock  *Block
	numBlocks  int
}

// Owner returns the operation owning this region.
func (r *Region) Owner() *Operation { return r.owner }

// Index returns the region's position within its owner.
func (r *Region) Index() int { return r.index }

// Context returns the owning context.
func (r *Region) Context() *Context { return r.ctx }

// Entry returns the region's entry block, or nil when the region is empty.
func (r *Region) Entry() *Block { return r.firstBlock }

// FirstBlock and LastBlock bound the region's block list.
func (r *Region) FirstBlock() *Block { return r.firstBlock }
func (r *Region) LastBlock() *Block  { return r.lastBlock }

// NumBlocks returns the number of blocks in the region.
func (r *Region) NumBlocks() int { return r.numBlocks }

// Empty reports whether the region holds no blocks.
func (r *Region) Empty() bool { return r.firstBlock == nil }

// Blocks returns a snapshot of the region's blocks in order.
func (r *Region) Blocks() []*Block {
	out := make([]*Block, 0, r.numBlocks)
	for b := r.firstBlock; b != nil; b = b.next {
		out = append(out, b)
	}
	return out
}

// NewBlock creates a block with the given argument types and appends it to
// the region.
func (r *Region) NewBlock(argTypes ...Type) *Block {
	b := r.ctx.newBlock()
	for _, ty := range argTypes {
		b.AddArgument(ty, UnknownSpan)
	}
	r.PushBack(b)
	return b
}

// PushBack appends a detached block at the end of the region.
func (r *Region) PushBack(b *Block) {
	b.checkLive()
	if b.region != nil {
		panic("block is already attached: a bug in the caller")
	}
	if b.ctx != r.ctx {
		panic("cross-context insertion: a bug in the caller")
	}
	b.region = r
	b.prev = r.lastBlock
	b.next = nil
	if r.lastBlock != nil {
		r.lastBlock.next = b
	} else {
		r.firstBlock = b
	}
	r.lastBlock = b
	r.numBlocks++
}

// InsertAfter splices a detached block immediately after point, which must
// be attached to this region.
func (r *Region) InsertAfter(b, point *Block) {
	b.checkLive()
	point.checkLive()
	if b.region != nil {
		panic("block is already attached: a bug in the caller")
	}
	if point.region != r {
		panic("insertion point is not in this region: a bug in the caller")
	}
	b.region = r
	b.prev = point
	b.next = point.next
	if point.next != nil {
		point.next.prev = b
	} else {
		r.lastBlock = b
	}
	point.next = b
	r.numBlocks++
}

func (r *Region) remove(b *Block) {
	if b.region != r {
		panic("block is not in this region: a bug in the ir package")
	}
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		r.firstBlock = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		r.lastBlock = b.prev
	}
	b.prev = nil
	b.next = nil
	b.region = nil
	r.numBlocks--
}

// Detach removes the block from the region without destroying it.
func (r *Region) Detach(b *Block) {
	b.checkLive()
	r.remove(b)
}
