package ir

// Trait is a structural marker capability an operation kind opts into.
// Traits are checked at construction/verification time and carried as a
// bitset on the OperationName.
type Trait uint32

const (
	// TraitTerminator marks operations that may only appear last in a block
	// and transfer control.
	TraitTerminator Trait = 1 << iota
	// TraitReturnLike marks terminators that exit the enclosing region.
	TraitReturnLike
	// TraitCommutative permits operand reordering.
	TraitCommutative
	// TraitSameOperandsAndResultType requires all operands and results to
	// share one type.
	TraitSameOperandsAndResultType
	// TraitSameTypeOperands requires all operands to share one type.
	TraitSameTypeOperands
	// TraitSingleBlock restricts each region of the op to at most one block.
	TraitSingleBlock
	// TraitIsolatedFromAbove forbids references to values defined outside
	// the op's regions.
	TraitIsolatedFromAbove
	// TraitConstantLike marks operations producing a single constant result
	// from a "value" attribute.
	TraitConstantLike
	// TraitAlwaysSpeculatable marks ops that can be executed speculatively.
	TraitAlwaysSpeculatable
	// TraitNoMemoryEffect marks ops with an always-empty effect list.
	TraitNoMemoryEffect
	// TraitNoTerminator relaxes the terminator rule for blocks of the op's
	// regions (e.g. a module body).
	TraitNoTerminator
)

// FoldResult is one result of a successful fold: either a constant attribute
// to materialize, or an existing value to reuse. Exactly one field is set.
type FoldResult struct {
	Attr  Attribute
	Value *Value
}

// FoldFn folds an operation given the constant values (or nil) of each
// operand. A fold is all-or-nothing: it either returns one FoldResult per
// result and true, or false with no partial effects.
type FoldFn func(op *Operation, operands []Attribute) ([]FoldResult, bool)

// InferFn computes result types from operand values and attributes. It is
// the InferTypeOpInterface hook; an error means the operand types are not in
// the operation's accepted domain.
type InferFn func(ctx *Context, operands []*Value, attrs AttrList) ([]Type, error)

// EffectsFn reports the memory effects of one operation instance.
type EffectsFn func(op *Operation) []Effect

// VerifyFn checks kind-specific structural invariants of an operation.
type VerifyFn func(op *Operation) error

// RewriteFn is a canonicalization pattern for one operation kind. It must be
// monotonically simplifying; returning true means the IR changed.
type RewriteFn func(op *Operation, rw Rewriter) (bool, error)

// Rewriter is the mutation interface handed to canonicalization patterns.
// The concrete implementation lives in the transform package; keeping the
// interface here lets dialects register patterns without a dependency cycle.
type Rewriter interface {
	Context() *Context
	// Builder returns a builder positioned immediately before the operation
	// currently being rewritten.
	Builder() *Builder
	// ReplaceOp replaces all uses of op's results with the given values and
	// erases op.
	ReplaceOp(op *Operation, with ...*Value) error
	// EraseOp erases an operation whose results have no remaining uses.
	EraseOp(op *Operation) error
	// MergeBlocks splices source's operations into dest at the end,
	// replacing source's block arguments with argValues, and erases source.
	MergeBlocks(source, dest *Block, argValues []*Value) error
}

// OpInfo describes one operation kind: its traits plus the interface hooks
// the kind implements. Nil hooks mean the interface is not implemented.
type OpInfo struct {
	// Name is the opcode without the dialect prefix.
	Name   string
	Traits Trait

	InferReturnTypes InferFn
	Fold             FoldFn
	Effects          EffectsFn
	Verify           VerifyFn
	Canonicalize     []RewriteFn
}

// OperationName is the interned identity of an operation kind: the dialect,
// the fully-qualified name, and the behavior table resolved at registration.
type OperationName struct {
	dialect Dialect
	full    string
	info    *OpInfo
}

// String returns the fully-qualified "dialect.opcode" name.
func (n *OperationName) String() string { return n.full }

// Dialect returns the dialect that contributed this operation kind.
func (n *OperationName) Dialect() Dialect { return n.dialect }

// Info returns the registered behavior table.
func (n *OperationName) Info() *OpInfo { return n.info }

// HasTrait reports whether the kind carries the given trait.
func (n *OperationName) HasTrait(t Trait) bool { return n.info.Traits&t == t }
