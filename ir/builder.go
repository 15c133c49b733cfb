package ir

import "github.com/pkg/errors"

// SuccessorSpec names a successor block and the values passed to its block
// arguments when constructing a terminator.
type SuccessorSpec struct {
	Dest *Block
	Args []*Value
}

// OpState is the recipe for constructing one operation. ResultTypes may be
// nil for kinds implementing return type inference.
type OpState struct {
	Name        string
	Span        SourceSpan
	Operands    []*Value
	ResultTypes []Type
	Attributes  AttrList
	Successors  []SuccessorSpec
	NumRegions  int
}

// Builder constructs operations at a movable insertion point. All dialect
// builder helpers and the WASM frontend go through this type; it is the only
// way to create operations.
type Builder struct {
	ctx    *Context
	block  *Block
	before *Operation // nil appends at the end of block
}

// NewBuilder creates a builder with no insertion point; created operations
// stay detached until one is set.
func NewBuilder(ctx *Context) *Builder {
	return &Builder{ctx: ctx}
}

// Context returns the builder's context.
func (b *Builder) Context() *Context { return b.ctx }

// InsertionBlock returns the block operations are currently inserted into,
// or nil when the builder is detached.
func (b *Builder) InsertionBlock() *Block { return b.block }

// InsertionPoint returns the operation before which new operations are
// inserted, or nil when appending at the end of the insertion block.
func (b *Builder) InsertionPoint() *Operation { return b.before }

// ClearInsertionPoint detaches the builder; created ops are not inserted.
func (b *Builder) ClearInsertionPoint() {
	b.block = nil
	b.before = nil
}

// SetInsertionPointToStart inserts before the first operation of bl.
func (b *Builder) SetInsertionPointToStart(bl *Block) {
	bl.checkLive()
	b.block = bl
	b.before = bl.firstOp
}

// SetInsertionPointToEnd appends at the end of bl.
func (b *Builder) SetInsertionPointToEnd(bl *Block) {
	bl.checkLive()
	b.block = bl
	b.before = nil
}

// SetInsertionPointBefore inserts immediately before op.
func (b *Builder) SetInsertionPointBefore(op *Operation) {
	op.checkLive()
	if op.block == nil {
		panic("insertion point is detached: a bug in the caller")
	}
	b.block = op.block
	b.before = op
}

// SetInsertionPointAfter inserts immediately after op.
func (b *Builder) SetInsertionPointAfter(op *Operation) {
	op.checkLive()
	if op.block == nil {
		panic("insertion point is detached: a bug in the caller")
	}
	b.block = op.block
	b.before = op.next
}

// CreateBlock appends a new block with the given argument types to region.
func (b *Builder) CreateBlock(region *Region, argTypes ...Type) *Block {
	return region.NewBlock(argTypes...)
}

// Create builds an operation from state and inserts it at the insertion
// point, if one is set. Result types are inferred when not supplied. The
// kind-specific verifier runs on the finished operation.
func (b *Builder) Create(state OpState) (*Operation, error) {
	name, ok := b.ctx.GetOperationName(state.Name)
	if !ok {
		return nil, errors.Errorf("operation kind %q is not registered", state.Name)
	}
	info := name.info

	op := b.ctx.newOperation()
	op.name = name
	op.span = state.Span
	op.attrs = state.Attributes.Clone()

	for _, v := range state.Operands {
		if v == nil {
			return nil, errors.Errorf("%s: nil operand", name)
		}
		v.checkLive()
		op.addOperand(v)
	}
	op.numFixed = len(state.Operands)

	for _, s := range state.Successors {
		if !name.HasTrait(TraitTerminator) {
			return nil, errors.Errorf("%s: only terminators may have successors", name)
		}
		s.Dest.checkLive()
		op.addSuccessor(s.Dest, s.Args)
	}

	for i := 0; i < state.NumRegions; i++ {
		op.addRegion()
	}

	resultTypes := state.ResultTypes
	if resultTypes == nil && info.InferReturnTypes != nil {
		tys, err := info.InferReturnTypes(b.ctx, state.Operands, op.attrs)
		if err != nil {
			op.destroy()
			return nil, errors.Wrapf(err, "inferring return types of %s", name)
		}
		resultTypes = tys
	}
	for _, ty := range resultTypes {
		op.addResult(ty)
	}

	if info.Verify != nil {
		if err := info.Verify(op); err != nil {
			op.destroy()
			return nil, errors.Wrapf(err, "verifying %s", name)
		}
	}
	if err := verifyTraits(op); err != nil {
		op.destroy()
		return nil, err
	}

	if b.block != nil {
		if b.before != nil {
			b.block.insertBefore(op, b.before)
		} else {
			b.block.PushBack(op)
		}
	}
	return op, nil
}

// MustCreate is Create for construction sites where failure indicates a bug
// rather than bad input (e.g. materializing an already-verified constant).
func (b *Builder) MustCreate(state OpState) *Operation {
	op, err := b.Create(state)
	if err != nil {
		panic(err)
	}
	return op
}
