// Package cf provides unstructured control flow: branches, conditional
// branches, multi-way switches and value selection. Lowerings start in cf
// form; the lift-control-flow transform rebuilds structured scf form from it.
package cf

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

const (
	BrOp     = "cf.br"
	CondBrOp = "cf.cond_br"
	SwitchOp = "cf.switch"
	SelectOp = "cf.select"
)

// Dialect is the cf dialect.
type Dialect struct{}

// Register registers the cf dialect with ctx.
func Register(ctx *ir.Context) error {
	return ctx.RegisterDialect(&Dialect{})
}

func (d *Dialect) Name() string { return "cf" }

func (d *Dialect) MaterializeConstant(_ *ir.Builder, _ ir.Attribute, _ ir.Type, _ ir.SourceSpan) (*ir.Operation, bool) {
	return nil, false
}

func (d *Dialect) RegisterOps(ctx *ir.Context) error {
	ops := []*ir.OpInfo{
		{
			Name:   "br",
			Traits: ir.TraitTerminator | ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumSuccessors() != 1 {
					return errors.New("br must have exactly one successor")
				}
				if op.NumOperands() != 0 {
					return errors.New("br takes no operands besides successor arguments")
				}
				return nil
			},
			Canonicalize: []ir.RewriteFn{mergeSinglePredecessor, forwardPassthroughBr},
		},
		{
			Name:   "cond_br",
			Traits: ir.TraitTerminator | ir.TraitNoMemoryEffect,
			Verify: func(op *ir.Operation) error {
				if op.NumSuccessors() != 2 {
					return errors.New("cond_br must have exactly two successors")
				}
				if op.NumOperands() != 1 || !ir.IsBool(op.Operand(0).Type()) {
					return errors.New("cond_br requires a single i1 condition operand")
				}
				return nil
			},
			Canonicalize: []ir.RewriteFn{foldConstantCondBr, collapseSameTargetCondBr},
		},
		{
			Name:   "switch",
			Traits: ir.TraitTerminator | ir.TraitNoMemoryEffect,
			Verify: verifySwitch,
			Canonicalize: []ir.RewriteFn{
				foldConstantSwitch,
			},
		},
		{
			Name:   "select",
			Traits: ir.TraitAlwaysSpeculatable | ir.TraitNoMemoryEffect,
			InferReturnTypes: func(_ *ir.Context, operands []*ir.Value, _ ir.AttrList) ([]ir.Type, error) {
				if len(operands) != 3 {
					return nil, errors.Errorf("select expects 3 operands, got %d", len(operands))
				}
				if !ir.IsBool(operands[0].Type()) {
					return nil, errors.Errorf("select condition must be i1, got %s", operands[0].Type())
				}
				if operands[1].Type() != operands[2].Type() {
					return nil, errors.Errorf("select arms must agree on type: %s vs %s",
						operands[1].Type(), operands[2].Type())
				}
				return []ir.Type{operands[1].Type()}, nil
			},
			Fold: foldSelect,
		},
	}
	for _, info := range ops {
		if _, err := ctx.RegisterOperation(d, info); err != nil {
			return err
		}
	}
	return nil
}

func verifySwitch(op *ir.Operation) error {
	if op.NumOperands() != 1 || !ir.IsInteger(op.Operand(0).Type()) {
		return errors.New("switch requires a single integer selector operand")
	}
	if op.NumSuccessors() < 1 {
		return errors.New("switch must have a default successor")
	}
	cases, _ := op.Attr("cases")
	arr, ok := cases.(ir.ArrayAttr)
	if !ok {
		return errors.New("switch requires a \"cases\" array attribute")
	}
	if len(arr) != op.NumSuccessors()-1 {
		return errors.Errorf("switch has %d case values but %d case successors",
			len(arr), op.NumSuccessors()-1)
	}
	for i, c := range arr {
		if _, ok := c.(ir.IntegerAttr); !ok {
			return errors.Errorf("switch case %d must be an integer attribute, got %s", i, c)
		}
	}
	return nil
}

// foldSelect resolves a select whose condition is known, or whose arms are
// the same value.
func foldSelect(op *ir.Operation, operands []ir.Attribute) ([]ir.FoldResult, bool) {
	if cond, ok := operands[0].(ir.IntegerAttr); ok {
		picked := op.Operand(2)
		if !cond.IsZero() {
			picked = op.Operand(1)
		}
		return []ir.FoldResult{{Value: picked}}, true
	}
	if op.Operand(1) == op.Operand(2) {
		return []ir.FoldResult{{Value: op.Operand(1)}}, true
	}
	return nil, false
}

// mergeSinglePredecessor inlines the branch target into the branching block
// when the target has no other predecessors.
func mergeSinglePredecessor(op *ir.Operation, rw ir.Rewriter) (bool, error) {
	dest := op.Successor(0)
	parent := op.Parent()
	if dest == parent || dest.IsEntry() {
		return false, nil
	}
	if edge := dest.SinglePredecessor(); edge == nil || edge.Owner() != op {
		return false, nil
	}
	args := op.SuccessorArgs(0)
	if err := rw.EraseOp(op); err != nil {
		return false, err
	}
	if err := rw.MergeBlocks(dest, parent, args); err != nil {
		return false, err
	}
	return true, nil
}

// forwardPassthroughBr retargets a branch whose destination does nothing but
// branch again.
func forwardPassthroughBr(op *ir.Operation, rw ir.Rewriter) (bool, error) {
	dest := op.Successor(0)
	inner := dest.FirstOp()
	if inner == nil || inner != dest.Terminator() || !inner.Is(BrOp) {
		return false, nil
	}
	next := inner.Successor(0)
	if next == dest || dest == op.Parent() {
		return false, nil
	}
	args := forwardedArgs(inner.SuccessorArgs(0), dest, op.SuccessorArgs(0))
	if args == nil {
		return false, nil
	}
	b := rw.Builder()
	if _, err := b.Create(ir.OpState{
		Name:       BrOp,
		Span:       op.Span(),
		Successors: []ir.SuccessorSpec{{Dest: next, Args: args}},
	}); err != nil {
		return false, err
	}
	if err := rw.EraseOp(op); err != nil {
		return false, err
	}
	return true, nil
}

// forwardedArgs maps the passthrough block's outgoing arguments through its
// block arguments onto the original branch's arguments. Values that are
// neither block arguments of mid nor defined outside it cannot be forwarded.
func forwardedArgs(out []*ir.Value, mid *ir.Block, in []*ir.Value) []*ir.Value {
	mapped := make([]*ir.Value, len(out))
	for i, v := range out {
		if v.IsBlockArgument() && v.OwnerBlock() == mid {
			mapped[i] = in[v.Index()]
			continue
		}
		if defOp := v.DefiningOp(); defOp != nil && defOp.Parent() == mid {
			return nil
		}
		mapped[i] = v
	}
	return mapped
}

// foldConstantCondBr rewrites a conditional branch on a known condition into
// an unconditional branch to the taken side.
func foldConstantCondBr(op *ir.Operation, rw ir.Rewriter) (bool, error) {
	cond, ok := constantOf(op.Operand(0))
	if !ok {
		return false, nil
	}
	taken := 1
	if !cond.IsZero() {
		taken = 0
	}
	b := rw.Builder()
	if _, err := b.Create(ir.OpState{
		Name: BrOp,
		Span: op.Span(),
		Successors: []ir.SuccessorSpec{
			{Dest: op.Successor(taken), Args: op.SuccessorArgs(taken)},
		},
	}); err != nil {
		return false, err
	}
	if err := rw.EraseOp(op); err != nil {
		return false, err
	}
	return true, nil
}

// collapseSameTargetCondBr turns cond_br into br when both sides agree on the
// destination and its arguments.
func collapseSameTargetCondBr(op *ir.Operation, rw ir.Rewriter) (bool, error) {
	if op.Successor(0) != op.Successor(1) {
		return false, nil
	}
	trueArgs, falseArgs := op.SuccessorArgs(0), op.SuccessorArgs(1)
	if len(trueArgs) != len(falseArgs) {
		return false, nil
	}
	for i := range trueArgs {
		if trueArgs[i] != falseArgs[i] {
			return false, nil
		}
	}
	b := rw.Builder()
	if _, err := b.Create(ir.OpState{
		Name:       BrOp,
		Span:       op.Span(),
		Successors: []ir.SuccessorSpec{{Dest: op.Successor(0), Args: trueArgs}},
	}); err != nil {
		return false, err
	}
	if err := rw.EraseOp(op); err != nil {
		return false, err
	}
	return true, nil
}

// foldConstantSwitch resolves a switch on a known selector to a branch to the
// matching case, or the default when no case matches.
func foldConstantSwitch(op *ir.Operation, rw ir.Rewriter) (bool, error) {
	sel, ok := constantOf(op.Operand(0))
	if !ok {
		return false, nil
	}
	casesAttr, _ := op.Attr("cases")
	cases := casesAttr.(ir.ArrayAttr)
	taken := 0 // default successor
	for i, c := range cases {
		if c.(ir.IntegerAttr).Bits() == sel.Bits() {
			taken = i + 1
			break
		}
	}
	b := rw.Builder()
	if _, err := b.Create(ir.OpState{
		Name: BrOp,
		Span: op.Span(),
		Successors: []ir.SuccessorSpec{
			{Dest: op.Successor(taken), Args: op.SuccessorArgs(taken)},
		},
	}); err != nil {
		return false, err
	}
	if err := rw.EraseOp(op); err != nil {
		return false, err
	}
	return true, nil
}

func constantOf(v *ir.Value) (ir.IntegerAttr, bool) {
	defOp := v.DefiningOp()
	if defOp == nil {
		return ir.IntegerAttr{}, false
	}
	attr, ok := defOp.ConstantValue()
	if !ok {
		return ir.IntegerAttr{}, false
	}
	ia, ok := attr.(ir.IntegerAttr)
	return ia, ok
}

// Br creates an unconditional branch.
func Br(b *ir.Builder, dest *ir.Block, args []*ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:       BrOp,
		Span:       span,
		Successors: []ir.SuccessorSpec{{Dest: dest, Args: args}},
	})
}

// CondBr creates a two-way conditional branch.
func CondBr(b *ir.Builder, cond *ir.Value, trueDest *ir.Block, trueArgs []*ir.Value,
	falseDest *ir.Block, falseArgs []*ir.Value, span ir.SourceSpan) (*ir.Operation, error) {
	return b.Create(ir.OpState{
		Name:     CondBrOp,
		Span:     span,
		Operands: []*ir.Value{cond},
		Successors: []ir.SuccessorSpec{
			{Dest: trueDest, Args: trueArgs},
			{Dest: falseDest, Args: falseArgs},
		},
	})
}

// SwitchCase pairs one selector value with its destination.
type SwitchCase struct {
	Value ir.IntegerAttr
	Dest  *ir.Block
	Args  []*ir.Value
}

// Switch creates a multi-way branch on an integer selector. Successor 0 is
// the default destination.
func Switch(b *ir.Builder, selector *ir.Value, defaultDest *ir.Block, defaultArgs []*ir.Value,
	cases []SwitchCase, span ir.SourceSpan) (*ir.Operation, error) {
	succs := make([]ir.SuccessorSpec, 0, len(cases)+1)
	succs = append(succs, ir.SuccessorSpec{Dest: defaultDest, Args: defaultArgs})
	values := make(ir.ArrayAttr, 0, len(cases))
	for _, c := range cases {
		succs = append(succs, ir.SuccessorSpec{Dest: c.Dest, Args: c.Args})
		values = append(values, c.Value)
	}
	return b.Create(ir.OpState{
		Name:       SwitchOp,
		Span:       span,
		Operands:   []*ir.Value{selector},
		Successors: succs,
		Attributes: ir.AttrList{{Name: "cases", Value: values}},
	})
}

// Select creates a value selection between two arms of the same type.
func Select(b *ir.Builder, cond, trueValue, falseValue *ir.Value, span ir.SourceSpan) (*ir.Value, error) {
	op, err := b.Create(ir.OpState{
		Name:     SelectOp,
		Span:     span,
		Operands: []*ir.Value{cond, trueValue, falseValue},
	})
	if err != nil {
		return nil, err
	}
	return op.Result(0), nil
}
