// Package hir provides the high-level operations lowered out of WASM
// function bodies: linear memory access, stack allocation, calls, runtime
// assertions, and the spill/reload pair inserted by operand stack
// management.
package hir

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

const (
	ConstantOp = "hir.constant"
	LoadOp     = "hir.load"
	StoreOp    = "hir.store"
	AllocaOp   = "hir.alloca"
	CallOp     = "hir.call"
	SpillOp    = "hir.spill"
	ReloadOp   = "hir.reload"
	AssertOp   = "hir.assert"
)

// Dialect is the hir dialect.
type Dialect struct{}

// Register registers the hir dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "hir" }

// MaterializeConstant builds an hir.constant for any integer attribute whose
// type matches the requested type.
func (d *Dialect) MaterializeConstant(b *ir.Builder, attr ir.Attribute, ty ir.Type, span ir.SourceSpan) (*ir.Operation, bool) {
	a, ok := attr.(ir.IntegerAttr)
	if !ok || a.Type() != ty {
		return nil, false
	}
	op, err := b.Create(ir.OpState{
		Name:        ConstantOp,
		Span:        span,
		ResultTypes: []ir.Type{ty},
		Attributes:  ir.AttrList{{Name: "value", Value: attr}},
	})
	if err != nil {
		return nil, false
	}
	return op, true
}

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	ops := []*ir.OpInfo{
		{
			Name:   "constant",
			Traits: ir.TraitConstantLike | ir.TraitAlwaysSpeculatable | ir.TraitNoMemoryEffect,
			Fold: func(op *ir.Operation, _ []ir.Attribute) ([]ir.FoldResult, bool) {
				v, _ := op.Attr("value")
				return []ir.FoldResult{{Attr: v}}, true
			},
		},
		{
			Name:             "load",
			InferReturnTypes: inferLoad,
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectRead, Value: op.Operand(0)}}
			},
		},
		{
			Name:   "store",
			Verify: verifyStore,
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectWrite, Value: op.Operand(0)}}
			},
		},
		{
			Name:   "alloca",
			Verify: verifyAlloca,
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectAllocate, Value: op.Result(0)}}
			},
		},
		{
			// Calls are opaque unless the solver is configured to enter
			// them, so the effect interface stays unimplemented here.
			Name:   "call",
			Verify: verifyCall,
		},
		{
			Name:   "spill",
			Verify: verifySlotted(1, "spill"),
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectWrite}}
			},
		},
		{
			Name:   "reload",
			Verify: verifySlotted(0, "reload"),
			Effects: func(op *ir.Operation) []ir.Effect {
				return []ir.Effect{{Kind: ir.EffectRead}}
			},
		},
		{
			// Asserts trap on failure; no effect info keeps them out of
			// trivially-dead elimination.
			Name:   "assert",
			Verify: verifyAssert,
		},
	}
	for _, info := range ops {
		if _, err := ctx.RegisterOperation(d, info); err != nil {
			return err
		}
	}
	return nil
}

func inferLoad(_ *ir.Context, operands []*ir.Value, _ ir.AttrList) ([]ir.Type, error) {
	if len(operands) != 1 {
		return nil, errors.Errorf("load expects 1 operand, got %d", len(operands))
	}
	pt, ok := operands[0].Type().(*ir.PointerType)
	if !ok {
		return nil, errors.Errorf("load requires a pointer operand, got %s", operands[0].Type())
	}
	return []ir.Type{pt.Pointee()}, nil
}

func verifyStore(op *ir.Operation) error {
	if op.NumOperands() != 2 {
		return errors.New("store expects a pointer and a value")
	}
	pt, ok := op.Operand(0).Type().(*ir.PointerType)
	if !ok {
		return errors.Errorf("store requires a pointer operand, got %s", op.Operand(0).Type())
	}
	if op.Operand(1).Type() != pt.Pointee() {
		return errors.Errorf("store of %s through %s", op.Operand(1).Type(), pt)
	}
	return nil
}

func verifyAlloca(op *ir.Operation) error {
	if op.NumResults() != 1 {
		return errors.New("alloca must have exactly one result")
	}
	if _, ok := op.Result(0).Type().(*ir.PointerType); !ok {
		return errors.Errorf("alloca result must be a pointer, got %s", op.Result(0).Type())
	}
	return nil
}

func verifyCall(op *ir.Operation) error {
	callee, ok := op.Attr("callee")
	if !ok {
		return errors.New("call requires a \"callee\" attribute")
	}
	if _, ok := callee.(ir.StringAttr); !ok {
		return errors.New("call \"callee\" must be a string attribute")
	}
	sigAttr, ok := op.Attr("signature")
	if !ok {
		return errors.New("call requires a \"signature\" attribute")
	}
	ta, ok := sigAttr.(ir.TypeAttr)
	if !ok {
		return errors.New("call \"signature\" must be a type attribute")
	}
	sig, ok := ta.Type().(*ir.FunctionType)
	if !ok {
		return errors.Errorf("call signature must be a function type, got %s", ta.Type())
	}
	if op.NumOperands() != len(sig.Params()) {
		return errors.Errorf("call passes %d arguments, callee takes %d", op.NumOperands(), len(sig.Params()))
	}
	for i, p := range sig.Params() {
		if op.Operand(i).Type() != p {
			return errors.Errorf("call argument %d has type %s, callee takes %s", i, op.Operand(i).Type(), p)
		}
	}
	if op.NumResults() != len(sig.Results()) {
		return errors.Errorf("call has %d results, callee returns %d", op.NumResults(), len(sig.Results()))
	}
	for i, r := range sig.Results() {
		if op.Result(i).Type() != r {
			return errors.Errorf("call result %d has type %s, callee returns %s", i, op.Result(i).Type(), r)
		}
	}
	return nil
}

// verifySlotted checks the shared shape of spill and reload: a "slot"
// integer attribute plus the given operand count.
func verifySlotted(numOperands int, what string) ir.VerifyFn {
	return func(op *ir.Operation) error {
		if op.NumOperands() != numOperands {
			return errors.Errorf("%s expects %d operands, got %d", what, numOperands, op.NumOperands())
		}
		slot, ok := op.Attr("slot")
		if !ok {
			return errors.Errorf("%s requires a \"slot\" attribute", what)
		}
		if _, ok := slot.(ir.IntegerAttr); !ok {
			return errors.Errorf("%s \"slot\" must be an integer attribute", what)
		}
		return nil
	}
}

func verifyAssert(op *ir.Operation) error {
	if op.NumOperands() != 1 || !ir.IsBool(op.Operand(0).Type()) {
		return errors.New("assert requires a single i1 operand")
	}
	if msg, ok := op.Attr("message"); ok {
		if _, ok := msg.(ir.StringAttr); !ok {
			return errors.New("assert \"message\" must be a string attribute")
		}
	}
	return nil
}

// Constant creates an hir.constant of the attribute's type.
func Constant(b *ir.Builder, value ir.IntegerAttr, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        ConstantOp,
		Span:        span,
		ResultTypes: []ir.Type{value.Type()},
		Attributes:  ir.AttrList{{Name: "value", Value: value}},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// Load reads the pointee of addr from linear memory.
func Load(b *ir.Builder, addr *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:     LoadOp,
		Span:     span,
		Operands: []*ir.Value{addr},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// Store writes value through addr into linear memory.
func Store(b *ir.Builder, addr, value *ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:     StoreOp,
		Span:     span,
		Operands: []*ir.Value{addr, value},
	})
}

// Alloca reserves stack storage for one value of type pointee.
func Alloca(b *ir.Builder, pointee ir.Type, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        AllocaOp,
		Span:        span,
		ResultTypes: []ir.Type{b.Context().PointerType(pointee)},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// Call invokes callee with the given signature and arguments.
func Call(b *ir.Builder, callee string, signature *ir.FunctionType, args []*ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:        CallOp,
		Span:        span,
		Operands:    args,
		ResultTypes: signature.Results(),
		Attributes: ir.AttrList{
			{Name: "callee", Value: ir.StringAttr(callee)},
			{Name: "signature", Value: ir.NewTypeAttr(signature)},
		},
	})
}

// Spill saves value to the given spill slot.
func Spill(b *ir.Builder, value *ir.Value, slot uint32, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:       SpillOp,
		Span:       span,
		Operands:   []*ir.Value{value},
		Attributes: ir.AttrList{{Name: "slot", Value: ir.NewIntegerAttr(b.Context().U32(), uint64(slot))}},
	})
}

// Reload restores a previously spilled value of type ty from the given slot.
func Reload(b *ir.Builder, ty ir.Type, slot uint32, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:        ReloadOp,
		Span:        span,
		ResultTypes: []ir.Type{ty},
		Attributes:  ir.AttrList{{Name: "slot", Value: ir.NewIntegerAttr(b.Context().U32(), uint64(slot))}},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}

// Assert traps at runtime unless cond holds.
func Assert(b *ir.Builder, cond *ir.Value, message string, span ir.SourceSpan) (*ir.Operation, error) {
	attrs := ir.AttrList{}
	if message != "" {
		attrs = attrs.Set("message", ir.StringAttr(message))
	}
	return b.Create(ir.OpState{
		Name:       AssertOp,
		Span:       span,
		Operands:   []*ir.Value{cond},
		Attributes: attrs,
	})
}
