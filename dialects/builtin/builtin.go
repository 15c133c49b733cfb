// Package builtin provides the structural operations every lowering starts
// from: modules, functions, and function returns.
package builtin

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

// Fully-qualified operation names contributed by this dialect.
const (
	ModuleOp   = "builtin.module"
	FunctionOp = "builtin.function"
	RetOp      = "builtin.ret"
)

// Dialect is the builtin dialect.
type Dialect struct{}

// Register registers the builtin dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "builtin" }

func (d *Dialect) MaterializeConstant(_ *ir.Builder, _ ir.Attribute, _ ir.Type, _ ir.SourceSpan) (*ir.Operation, bool) {
	return nil, false
}

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	ops := []*ir.OpInfo{
		{
			Name: "module",
			Traits: ir.TraitSingleBlock | ir.TraitIsolatedFromAbove | ir.TraitNoTerminator |
				ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumRegions() != 1 {
					return errors.New("module must have exactly one region")
				}
				return nil
			},
		},
		{
			Name:   "function",
			Traits: ir.TraitIsolatedFromAbove | ir.TraitNoMemoryEffect,
			Verify: verifyFunction,
		},
		{
			Name:   "ret",
			Traits: ir.TraitTerminator | ir.TraitReturnLike | ir.TraitNoMemoryEffect,
		},
	}
	for _, info := range ops {
		if _, err := ctx.RegisterOperation(d, info); err != nil {
			return err
		}
	}
	return nil
}

func verifyFunction(op *ir.Operation) error {
	if op.NumRegions() != 1 {
		return errors.New("function must have exactly one region")
	}
	if _, ok := op.Attr("sym_name"); !ok {
		return errors.New("function requires a \"sym_name\" attribute")
	}
	sig, ok := op.Attr("signature")
	if !ok {
		return errors.New("function requires a \"signature\" attribute")
	}
	ta, ok := sig.(ir.TypeAttr)
	if !ok {
		return errors.New("function \"signature\" attribute must be a type attribute")
	}
	if _, ok := ta.Type().(*ir.FunctionType); !ok {
		return errors.Errorf("function signature must be a function type, got %s", ta.Type())
	}
	return nil
}

// NewModule creates an empty module with one open body block.
func NewModule(b *ir.Builder, name string, span ir.SourceSpan) (*ir.Operation, error) {
	op, err := b.Create(ir.OpState{
		Name:       ModuleOp,
		Span:       span,
		NumRegions: 1,
		Attributes: ir.AttrList{{Name: "sym_name", Value: ir.StringAttr(name)}},
	})
	if err != nil {
		return nil, err
	}
	op.Region(0).NewBlock()
	return op, nil
}

// ModuleBody returns the single block of a module's body region.
func ModuleBody(module *ir.Operation) *ir.Block {
	return module.Region(0).Entry()
}

// NewFunction creates a function with the given symbol name and signature
// inside module's body. The entry block is created with one argument per
// parameter type.
func NewFunction(b *ir.Builder, module *ir.Operation, name string, signature *ir.FunctionType, span ir.SourceSpan) (*ir.Operation, error) {
	if !module.Is(ModuleOp) {
		return nil, errors.Errorf("functions must be created inside %s, got %s", ModuleOp, module.Name())
	}
	saved := *b
	defer func() { *b = saved }()
	b.SetInsertionPointToEnd(ModuleBody(module))
	fn, err := b.Create(ir.OpState{
		Name:       FunctionOp,
		Span:       span,
		NumRegions: 1,
		Attributes: ir.AttrList{
			{Name: "sym_name", Value: ir.StringAttr(name)},
			{Name: "signature", Value: ir.NewTypeAttr(signature)},
		},
	})
	if err != nil {
		return nil, err
	}
	fn.Region(0).NewBlock(signature.Params()...)
	return fn, nil
}

// FunctionName returns the symbol name of a function operation.
func FunctionName(fn *ir.Operation) string {
	sym, _ := fn.Attr("sym_name")
	name, _ := sym.(ir.StringAttr)
	return string(name)
}

// FunctionSignature returns the signature of a function operation.
func FunctionSignature(fn *ir.Operation) *ir.FunctionType {
	sig, _ := fn.Attr("signature")
	ta, _ := sig.(ir.TypeAttr)
	ft, _ := ta.Type().(*ir.FunctionType)
	return ft
}

// FunctionBody returns a function's body region.
func FunctionBody(fn *ir.Operation) *ir.Region {
	return fn.Region(0)
}

// Ret creates a function return carrying the given values.
func Ret(b *ir.Builder, span ir.SourceSpan, values ...*ir.Value) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:     RetOp,
		Span:     span,
		Operands: values,
	})
}
