package ir

import "fmt"

// Value is an SSA-like definition: either a result of an Operation or an
// argument of a Block. Every value tracks its uses through an intrusive
// doubly-linked list of Operands; structural editors keep the two sides of
// the use-def graph consistent atomically.
type Value struct {
	id   uint32
	ty   Type
	span SourceSpan

	// Exactly one of defOp/defBlock is set.
	defOp    *Operation
	defBlock *Block
	index    int

	firstUse *Operand
	dead     bool
}

func (v *Value) checkLive() {
	if v.dead {
		liveCheckFailed("value", v.id)
	}
}

// ID returns the context-unique ordinal of this value.
func (v *Value) ID() uint32 { return v.id }

// Type returns the value's type.
func (v *Value) Type() Type { return v.ty }

// SetType replaces the value's type, e.g. after return-type inference.
func (v *Value) SetType(ty Type) {
	v.checkLive()
	v.ty = ty
}

// Span returns the source location the value was derived from.
func (v *Value) Span() SourceSpan { return v.span }

// IsOpResult reports whether the value is defined by an operation.
func (v *Value) IsOpResult() bool { return v.defOp != nil }

// IsBlockArgument reports whether the value is a block argument.
func (v *Value) IsBlockArgument() bool { return v.defBlock != nil }

// DefiningOp returns the operation defining this value, or nil for block
// arguments.
func (v *Value) DefiningOp() *Operation { return v.defOp }

// OwnerBlock returns the block this value is defined in: the parent block of
// the defining operation, or the block itself for block arguments. It is nil
// for results of detached operations.
func (v *Value) OwnerBlock() *Block {
	if v.defBlock != nil {
		return v.defBlock
	}
	return v.defOp.Parent()
}

// Index returns the result or argument position of this value.
func (v *Value) Index() int { return v.index }

// HasUses reports whether any operand currently references this value.
func (v *Value) HasUses() bool { return v.firstUse != nil }

// HasOneUse reports whether exactly one operand references this value.
func (v *Value) HasOneUse() bool {
	return v.firstUse != nil && v.firstUse.next == nil
}

// NumUses counts the operands referencing this value.
func (v *Value) NumUses() int {
	n := 0
	for u := v.firstUse; u != nil; u = u.next {
		n++
	}
	return n
}

// Uses returns a snapshot of the operands referencing this value. The
// snapshot stays valid across edits that the iteration itself performs.
func (v *Value) Uses() []*Operand {
	v.checkLive()
	var uses []*Operand
	for u := v.firstUse; u != nil; u = u.next {
		uses = append(uses, u)
	}
	return uses
}

// Users returns the distinct operations using this value, in use-list order.
func (v *Value) Users() []*Operation {
	var users []*Operation
	seen := map[*Operation]struct{}{}
	for u := v.firstUse; u != nil; u = u.next {
		if _, ok := seen[u.owner]; !ok {
			seen[u.owner] = struct{}{}
			users = append(users, u.owner)
		}
	}
	return users
}

// ReplaceAllUsesWith rewires every use of v to the new value. Afterwards v's
// use list is empty.
func (v *Value) ReplaceAllUsesWith(newValue *Value) {
	v.checkLive()
	newValue.checkLive()
	if v == newValue {
		return
	}
	for u := v.firstUse; u != nil; u = v.firstUse {
		u.set(newValue)
	}
}

// dropAllUses detaches every operand from v's use list without rewiring,
// leaving the owning operations with nil operand slots. Only used while
// destroying IR subtrees.
func (v *Value) dropAllUses() {
	for u := v.firstUse; u != nil; u = v.firstUse {
		u.unlink()
		u.value = nil
	}
}

func (v *Value) String() string {
	return fmt.Sprintf("%%%d", v.id)
}

// Operand is one use of a Value by an Operation: a non-owning edge of the
// use-def graph. An operand's position in the owning operation's operand
// list and its membership in the value's use list change together, never
// independently.
type Operand struct {
	owner *Operation
	index int
	value *Value

	prev *Operand
	next *Operand
}

// Owner returns the operation holding this operand.
func (o *Operand) Owner() *Operation { return o.owner }

// Index returns the operand's position in the owner's operand list.
func (o *Operand) Index() int { return o.index }

// Get returns the value this operand references.
func (o *Operand) Get() *Value { return o.value }

// Set atomically rewires this operand to reference newValue.
func (o *Operand) Set(newValue *Value) {
	newValue.checkLive()
	o.set(newValue)
}

func (o *Operand) set(newValue *Value) {
	if o.value == newValue {
		return
	}
	if o.value != nil {
		o.unlink()
	}
	o.value = newValue
	if newValue != nil {
		o.link(newValue)
	}
}

func (o *Operand) link(v *Value) {
	o.prev = nil
	o.next = v.firstUse
	if v.firstUse != nil {
		v.firstUse.prev = o
	}
	v.firstUse = o
}

func (o *Operand) unlink() {
	v := o.value
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		if v.firstUse != o {
			panic("use-list corruption: a bug in the ir package: operand not at list head")
		}
		v.firstUse = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	}
	o.prev = nil
	o.next = nil
}
