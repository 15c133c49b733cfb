package analysis

import (
	"fmt"

	"github.com/miden-compiler/midenc/ir"
)

// ChangeResult reports whether a lattice update moved the state.
type ChangeResult uint8

const (
	Unchanged ChangeResult = iota
	Changed
)

// Or combines two change results.
func (c ChangeResult) Or(other ChangeResult) ChangeResult {
	if c == Changed || other == Changed {
		return Changed
	}
	return Unchanged
}

func (c ChangeResult) String() string {
	if c == Changed {
		return "changed"
	}
	return "unchanged"
}

// Executable is the lattice tracking whether a block or CFG edge can be
// reached. It moves monotonically from dead to live.
type Executable struct {
	Live bool
}

// SetLive marks the anchor executable, reporting whether that is news.
func (e *Executable) SetLive() ChangeResult {
	if e.Live {
		return Unchanged
	}
	e.Live = true
	return Changed
}

// constKind orders the three-level constant lattice.
type constKind uint8

const (
	constUnknown constKind = iota // uninitialized, bottom
	constKnown
	constOverdefined // top
)

// ConstantValue is the sparse conditional constant lattice of one SSA value:
// unknown until evidence arrives, then either a single known attribute or
// overdefined.
type ConstantValue struct {
	kind constKind
	attr ir.Attribute
}

// Unknown reports whether no fact has been learned yet.
func (c *ConstantValue) Unknown() bool { return c.kind == constUnknown }

// Overdefined reports whether the value is known to be non-constant.
func (c *ConstantValue) Overdefined() bool { return c.kind == constOverdefined }

// Constant returns the known constant attribute, if any.
func (c *ConstantValue) Constant() (ir.Attribute, bool) {
	if c.kind != constKnown {
		return nil, false
	}
	return c.attr, true
}

// MarkConstant joins a known constant into the lattice element.
func (c *ConstantValue) MarkConstant(attr ir.Attribute) ChangeResult {
	switch c.kind {
	case constUnknown:
		c.kind = constKnown
		c.attr = attr
		return Changed
	case constKnown:
		if ir.AttrEqual(c.attr, attr) {
			return Unchanged
		}
		c.kind = constOverdefined
		c.attr = nil
		return Changed
	default:
		return Unchanged
	}
}

// MarkOverdefined moves the element to top.
func (c *ConstantValue) MarkOverdefined() ChangeResult {
	if c.kind == constOverdefined {
		return Unchanged
	}
	c.kind = constOverdefined
	c.attr = nil
	return Changed
}

// Join merges another element into this one.
func (c *ConstantValue) Join(other *ConstantValue) ChangeResult {
	switch other.kind {
	case constUnknown:
		return Unchanged
	case constKnown:
		return c.MarkConstant(other.attr)
	default:
		return c.MarkOverdefined()
	}
}

func (c *ConstantValue) String() string {
	switch c.kind {
	case constUnknown:
		return "<unknown>"
	case constKnown:
		return fmt.Sprintf("<constant %s>", c.attr)
	default:
		return "<overdefined>"
	}
}

// LoopAction classifies what a control-flow edge does with respect to loop
// structure.
type LoopAction uint8

const (
	// LoopActionUninitialized is the bottom element: nothing learned yet.
	LoopActionUninitialized LoopAction = iota
	// LoopActionUnknown is the top element: conflicting classifications.
	LoopActionUnknown
	// LoopActionNone marks an edge that neither enters nor leaves a loop.
	LoopActionNone
	// LoopActionEnter marks an edge into a loop header from outside.
	LoopActionEnter
	// LoopActionLatch marks a back edge to the loop header.
	LoopActionLatch
	// LoopActionExit marks an edge leaving the loop.
	LoopActionExit
)

func (a LoopAction) String() string {
	switch a {
	case LoopActionUninitialized:
		return "uninitialized"
	case LoopActionUnknown:
		return "unknown"
	case LoopActionNone:
		return "none"
	case LoopActionEnter:
		return "enter"
	case LoopActionLatch:
		return "latch"
	case LoopActionExit:
		return "exit"
	default:
		return fmt.Sprintf("LoopAction(%d)", uint8(a))
	}
}

// Join merges two classifications: anything joined with uninitialized is
// itself; conflicting facts go to unknown.
func (a LoopAction) Join(other LoopAction) LoopAction {
	switch {
	case a == LoopActionUninitialized:
		return other
	case other == LoopActionUninitialized:
		return a
	case a == other:
		return a
	default:
		return LoopActionUnknown
	}
}
