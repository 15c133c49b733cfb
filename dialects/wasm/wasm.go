// Package wasm provides the operations that model WASM module-level state
// during lowering: globals, linear memory management, and direct calls by
// function index. Function bodies themselves lower to hir/arith/cf form.
package wasm

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

const (
	GlobalGetOp  = "wasm.global_get"
	GlobalSetOp  = "wasm.global_set"
	MemoryGrowOp = "wasm.memory_grow"
	MemorySizeOp = "wasm.memory_size"
	CallOp       = "wasm.call"
)

// Dialect is the wasm dialect.
type Dialect struct{}

// Register registers the wasm dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "wasm" }

func (d *Dialect) MaterializeConstant(_ *ir.Builder, _ ir.Attribute, _ ir.Type, _ ir.SourceSpan) (*ir.Operation, bool) {
	return nil, false
}

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	ops := []*ir.OpInfo{
		{
			Name:   "global_get",
			Verify: verifyIndexed("global_get", "global", 0, 1),
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectRead}}
			},
		},
		{
			Name:   "global_set",
			Verify: verifyIndexed("global_set", "global", 1, 0),
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectWrite}}
			},
		},
		{
			// Growing memory both allocates and publishes the new size, so
			// it must not be reordered with memory reads.
			Name:   "memory_grow",
			Verify: verifyMemoryGrow,
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{
					{Kind: ir.EffectAllocate},
					{Kind: ir.EffectWrite},
				}
			},
		},
		{
			Name:   "memory_size",
			Verify: verifyMemorySize,
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectRead}}
			},
		},
		{
			// Opaque like hir.call.
			Name:   "call",
			Verify: verifyIndexed("call", "func", -1, -1),
		},
	}
	for _, info := range ops {
		if _, err := ctx.RegisterOperation(d, info); err != nil {
			return err
		}
	}
	return nil
}

// verifyIndexed checks an op that addresses a module entity by integer
// index. Negative operand/result counts skip the count check.
func verifyIndexed(what, attr string, numOperands, numResults int) ir.VerifyFn {
	return func(op *ir.Operation) error {
		idx, ok := op.Attr(attr)
		if !ok {
			return errors.Errorf("%s requires a %q index attribute", what, attr)
		}
		if _, ok := idx.(ir.IntegerAttr); !ok {
			return errors.Errorf("%s %q must be an integer attribute", what, attr)
		}
		if numOperands >= 0 && op.NumOperands() != numOperands {
			return errors.Errorf("%s expects %d operands, got %d", what, numOperands, op.NumOperands())
		}
		if numResults >= 0 && op.NumResults() != numResults {
			return errors.Errorf("%s expects %d results, got %d", what, numResults, op.NumResults())
		}
		return nil
	}
}

func verifyMemoryGrow(op *ir.Operation) error {
	if op.NumOperands() != 1 || !ir.IsInteger(op.Operand(0).Type()) {
		return errors.New("memory_grow expects a single integer page-count operand")
	}
	if op.NumResults() != 1 || !ir.IsInteger(op.Result(0).Type()) {
		return errors.New("memory_grow produces a single integer result")
	}
	return nil
}

func verifyMemorySize(op *ir.Operation) error {
	if op.NumOperands() != 0 {
		return errors.New("memory_size takes no operands")
	}
	if op.NumResults() != 1 || !ir.IsInteger(op.Result(0).Type()) {
		return errors.New("memory_size produces a single integer result")
	}
	return nil
}

// GlobalGet reads the module global at index, producing a value of type ty.
func GlobalGet(b *ir.Builder, index uint32, ty ir.Type, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        GlobalGetOp,
		Span:        span,
		ResultTypes: []ir.Type{ty},
		Attributes:  ir.AttrList{{Name: "global", Value: ir.NewIntegerAttr(b.Context().U32(), uint64(index))}},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// GlobalSet writes value to the module global at index.
func GlobalSet(b *ir.Builder, index uint32, value *ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:       GlobalSetOp,
		Span:       span,
		Operands:   []*ir.Value{value},
		Attributes: ir.AttrList{{Name: "global", Value: ir.NewIntegerAttr(b.Context().U32(), uint64(index))}},
	})
}

// MemoryGrow grows linear memory by pages, returning the previous size in
// pages, or all-ones on failure.
func MemoryGrow(b *ir.Builder, pages *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        MemoryGrowOp,
		Span:        span,
		Operands:    []*ir.Value{pages},
		ResultTypes: []ir.Type{pages.Type()},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// MemorySize returns the current linear memory size in pages.
func MemorySize(b *ir.Builder, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        MemorySizeOp,
		Span:        span,
		ResultTypes: []ir.Type{b.Context().U32()},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// Call invokes the module function at index with the given signature.
func Call(b *ir.Builder, index uint32, signature *ir.FunctionType, args []*ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:        CallOp,
		Span:        span,
		Operands:    args,
		ResultTypes: signature.Results(),
		Attributes: ir.AttrList{
			{Name: "func", Value: ir.NewIntegerAttr(b.Context().U32(), uint64(index))},
			{Name: "signature", Value: ir.NewTypeAttr(signature)},
		},
	})
}
