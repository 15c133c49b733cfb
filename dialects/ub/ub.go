// Package ub models undefined behavior: poison values standing in for
// results whose producing computation was removed, and unreachable control
// flow.
package ub

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

const (
	PoisonOp      = "ub.poison"
	UnreachableOp = "ub.unreachable"
)

// Dialect is the ub dialect.
type Dialect struct{}

// Register registers the ub dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "ub" }

// MaterializeConstant materializes poison for a unit attribute of any type.
func (d *Dialect) MaterializeConstant(b *ir.Builder, attr ir.Attribute, ty ir.Type, span ir.SourceSpan) (*ir.Operation, bool) {
	if _, ok := attr.(ir.UnitAttr); !ok {
		return nil, false
	}
	op, err := Poison(b, ty, span)
	if err != nil {
		return nil, false
	}
	return op, true
}

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	ops := []*ir.OpInfo{
		{
			Name:   "poison",
			Traits: ir.TraitConstantLike | ir.TraitAlwaysSpeculatable | ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumOperands() != 0 {
					return errors.New("poison takes no operands")
				}
				return nil
			},
			// Poison folds to itself so it participates in constant
			// propagation without claiming a concrete value.
			Fold: func(op *ir.Operation, _ []ir.Attribute) ([]ir.FoldResult, bool) {
				v, _ := op.Attr("value")
				return []ir.FoldResult{{Attr: v}}, true
			},
		},
		{
			Name:   "unreachable",
			Traits: ir.TraitTerminator | ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumSuccessors() != 0 {
					return errors.New("unreachable has no successors")
				}
				return nil
			},
		},
	}
	for _, info := range ops {
		if _, err := ctx.RegisterOperation(d, info); err != nil {
			return err
		}
	}
	return nil
}

// Poison creates a poison value of the given type.
func Poison(b *ir.Builder, ty ir.Type, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:        PoisonOp,
		Span:        span,
		ResultTypes: []ir.Type{ty},
		Attributes:  ir.AttrList{{Name: "value", Value: ir.UnitAttr{}}},
	})
}

// Unreachable terminates a block that control flow can never reach.
func Unreachable(b *ir.Builder, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{Name: UnreachableOp, Span: span})
}
