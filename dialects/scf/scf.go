// Package scf provides structured control flow: region-based conditionals
// and loops whose results are carried by region terminators instead of block
// arguments. Miden Assembly is structured, so every function must reach scf
// form before code generation.
package scf

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/dialects/cf"
	"github.com/miden-compiler/midenc/ir"
)

const (
	IfOp        = "scf.if"
	WhileOp     = "scf.while"
	YieldOp     = "scf.yield"
	ConditionOp = "scf.condition"
)

// Dialect is the scf dialect.
type Dialect struct{}

// Register registers the scf dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "scf" }

func (d *Dialect) MaterializeConstant(_ *ir.Builder, _ ir.Attribute, _ ir.Type, _ ir.SourceSpan) (*ir.Operation, bool) {
	return nil, false
}

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	ops := []*ir.OpInfo{
		{
			Name:         "if",
			Traits:       ir.TraitSingleBlock,
			Verify:       verifyIf,
			Canonicalize: []ir.RewriteFn{liftTrivialIfToSelect},
		},
		{
			Name:   "while",
			Traits: ir.TraitSingleBlock,
			Verify: verifyWhile,
		},
		{
			Name:   "yield",
			Traits: ir.TraitTerminator | ir.TraitReturnLike | ir.TraitNoMemoryEffect,
		},
		{
			Name:   "condition",
			Traits: ir.TraitTerminator | ir.TraitReturnLike | ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumOperands() < 1 || !ir.IsBool(op.Operand(0).Type()) {
					return errors.New("condition requires an i1 operand first")
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

// Region verification tolerates empty regions so the builder can create the
// op first and populate its bodies afterwards; the whole-module verifier runs
// the hook again once the regions are filled in.

func verifyIf(op *ir.Operation) error {
	if op.NumRegions() != 2 {
		return errors.New("if must have a then region and an else region")
	}
	if op.NumOperands() != 1 || !ir.IsBool(op.Operand(0).Type()) {
		return errors.New("if requires a single i1 condition operand")
	}
	for i := 0; i < 2; i++ {
		body := op.Region(i).Entry()
		if body == nil {
			continue
		}
		if body.NumArguments() != 0 {
			return errors.Errorf("if region %d must not have block arguments", i)
		}
		if err := checkYieldTypes(op, body, op.Results(), 0); err != nil {
			return err
		}
	}
	return nil
}

func verifyWhile(op *ir.Operation) error {
	if op.NumRegions() != 2 {
		return errors.New("while must have a before region and an after region")
	}
	inits := op.Operands()
	if before := op.Region(0).Entry(); before != nil {
		if err := checkArgTypes(op, "before", before, inits); err != nil {
			return err
		}
		if term := before.Terminator(); term != nil {
			if !term.Is(ConditionOp) {
				return errors.Errorf("while before region must end in %s, got %s", ConditionOp, term.Name())
			}
			// condition forwards one value per op result into the after
			// region and out of the loop.
			if got, want := term.NumOperands()-1, op.NumResults(); got != want {
				return errors.Errorf("while condition forwards %d values, expected %d", got, want)
			}
			for i := 0; i < op.NumResults(); i++ {
				if term.Operand(i+1).Type() != op.Result(i).Type() {
					return errors.Errorf("while condition forwarded value %d has type %s, result is %s",
						i, term.Operand(i+1).Type(), op.Result(i).Type())
				}
			}
		}
	}
	if after := op.Region(1).Entry(); after != nil {
		if err := checkArgTypes(op, "after", after, op.Results()); err != nil {
			return err
		}
		if err := checkYieldTypes(op, after, inits, 0); err != nil {
			return err
		}
	}
	return nil
}

func checkArgTypes(op *ir.Operation, which string, body *ir.Block, values []*ir.Value) error {
	if body.NumArguments() != len(values) {
		return errors.Errorf("while %s region has %d arguments, expected %d",
			which, body.NumArguments(), len(values))
	}
	for i, v := range values {
		if body.Argument(i).Type() != v.Type() {
			return errors.Errorf("while %s region argument %d has type %s, expected %s",
				which, i, body.Argument(i).Type(), v.Type())
		}
	}
	return nil
}

func checkYieldTypes(op *ir.Operation, body *ir.Block, values []*ir.Value, skip int) error {
	term := body.Terminator()
	if term == nil || !term.Is(YieldOp) {
		return nil
	}
	if got, want := term.NumOperands()-skip, len(values); got != want {
		return errors.Errorf("%s yields %d values, expected %d", op.Name(), got, want)
	}
	for i, v := range values {
		if term.Operand(i + skip).Type() != v.Type() {
			return errors.Errorf("%s yielded value %d has type %s, expected %s",
				op.Name(), i, term.Operand(i+skip).Type(), v.Type())
		}
	}
	return nil
}

// liftTrivialIfToSelect rewrites an if whose arms only yield values into one
// cf.select per result.
func liftTrivialIfToSelect(op *ir.Operation, rw ir.Rewriter) (bool, error) {
	if op.NumResults() == 0 {
		return false, nil
	}
	thenBody, elseBody := op.Region(0).Entry(), op.Region(1).Entry()
	if thenBody == nil || elseBody == nil {
		return false, nil
	}
	thenYield, elseYield := onlyYield(thenBody), onlyYield(elseBody)
	if thenYield == nil || elseYield == nil {
		return false, nil
	}
	b := rw.Builder()
	cond := op.Operand(0)
	replacements := make([]*ir.Value, op.NumResults())
	for i := range replacements {
		sel, err := b.Create(ir.OpState{
			Name:     cf.SelectOp,
			Span:     op.Span(),
			Operands: []*ir.Value{cond, thenYield.Operand(i), elseYield.Operand(i)},
		})
		if err != nil {
			return false, err
		}
		replacements[i] = sel.Result(0)
	}
	if err := rw.ReplaceOp(op, replacements...); err != nil {
		return false, err
	}
	return true, nil
}

// onlyYield returns the block's terminator if it is a yield and the block
// contains nothing else.
func onlyYield(body *ir.Block) *ir.Operation {
	term := body.Terminator()
	if term == nil || !term.Is(YieldOp) || body.FirstOp() != term {
		return nil
	}
	return term
}

// If creates an scf.if with empty then/else bodies, each opened with a block.
func If(b *ir.Builder, cond *ir.Value, resultTypes []ir.Type, span ir.SourceSpan) (*ir.Operation, error) {
	op, err := b.Create(ir.OpState{
		Name:        IfOp,
		Span:        span,
		Operands:    []*ir.Value{cond},
		ResultTypes: resultTypes,
		NumRegions:  2,
	})
	if err != nil {
		return nil, err
	}
	op.Region(0).NewBlock()
	op.Region(1).NewBlock()
	return op, nil
}

// ThenBody and ElseBody return the arm blocks of an scf.if.
func ThenBody(ifOp *ir.Operation) *ir.Block { return ifOp.Region(0).Entry() }
func ElseBody(ifOp *ir.Operation) *ir.Block { return ifOp.Region(1).Entry() }

// While creates an scf.while over the given loop-carried values. The before
// block receives one argument per init value; the after block one argument
// per result.
func While(b *ir.Builder, inits []*ir.Value, resultTypes []ir.Type, span ir.SourceSpan) (*ir.Operation, error) {
	op, err := b.Create(ir.OpState{
		Name:        WhileOp,
		Span:        span,
		Operands:    inits,
		ResultTypes: resultTypes,
		NumRegions:  2,
	})
	if err != nil {
		return nil, err
	}
	initTypes := make([]ir.Type, len(inits))
	for i, v := range inits {
		initTypes[i] = v.Type()
	}
	op.Region(0).NewBlock(initTypes...)
	op.Region(1).NewBlock(resultTypes...)
	return op, nil
}

// BeforeBody and AfterBody return the condition and body blocks of a while.
func BeforeBody(whileOp *ir.Operation) *ir.Block { return whileOp.Region(0).Entry() }
func AfterBody(whileOp *ir.Operation) *ir.Block  { return whileOp.Region(1).Entry() }

// Yield terminates a structured control flow region with the given values.
func Yield(b *ir.Builder, span ir.SourceSpan, values ...*ir.Value) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:     YieldOp,
		Span:     span,
		Operands: values,
	})
}

// Condition terminates a while's before region: cond decides whether the
// loop continues, and forwarded values feed the after region and the loop
// results.
func Condition(b *ir.Builder, cond *ir.Value, forwarded []*ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	operands := append([]*ir.Value{cond}, forwarded...)
	return b.Create(ir.OpState{
		Name:     ConditionOp,
		Span:     span,
		Operands: operands,
	})
}
