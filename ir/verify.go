package ir

import "github.com/pkg/errors"

// verifyTraits checks the structural trait invariants of a single operation.
func verifyTraits(op *Operation) error {
	name := op.name
	if name.HasTrait(TraitSameTypeOperands) || name.HasTrait(TraitSameOperandsAndResultType) {
		var ty Type
		for i := 0; i < op.numFixed; i++ {
			t := op.Operand(i).Type()
			if ty == nil {
				ty = t
			} else if ty != t {
				return errors.Errorf("%s: operand %d has type %s, expected %s", name, i, t, ty)
			}
		}
		if name.HasTrait(TraitSameOperandsAndResultType) {
			for i, r := range op.results {
				if ty == nil {
					ty = r.Type()
				} else if r.Type() != ty {
					return errors.Errorf("%s: result %d has type %s, expected %s", name, i, r.Type(), ty)
				}
			}
		}
	}
	if name.HasTrait(TraitSingleBlock) {
		for i, r := range op.regions {
			if r.numBlocks > 1 {
				return errors.Errorf("%s: region %d must have at most one block, has %d", name, i, r.numBlocks)
			}
		}
	}
	if name.HasTrait(TraitConstantLike) {
		if _, ok := op.Attr("value"); !ok {
			return errors.Errorf("%s: constant-like operation requires a \"value\" attribute", name)
		}
		if len(op.results) != 1 {
			return errors.Errorf("%s: constant-like operation must have exactly one result", name)
		}
	}
	return nil
}

// Verify checks the structural validity of op and everything nested inside:
// terminator discipline, successor argument agreement, trait invariants, and
// region isolation. It does not check dominance of value uses; that is the
// analysis package's dominance verifier.
func Verify(root *Operation) error {
	var failure error
	root.Walk(PreOrder, func(op *Operation) WalkResult {
		if err := verifyOp(op); err != nil {
			failure = err
			return WalkInterrupt
		}
		return WalkAdvance
	})
	return failure
}

func verifyOp(op *Operation) error {
	if op.dead {
		return errors.Errorf("erased operation reachable in IR: a bug in a rewrite")
	}
	if err := verifyTraits(op); err != nil {
		return err
	}
	if v := op.name.info.Verify; v != nil {
		if err := v(op); err != nil {
			return errors.Wrapf(err, "verifying %s", op.name)
		}
	}
	for i := 0; i < op.NumSuccessors(); i++ {
		s := op.successors[i]
		if got, want := s.argCount, s.block.NumArguments(); got != want {
			return errors.Errorf("%s: successor %d receives %d arguments, block expects %d", op.name, i, got, want)
		}
		for j := 0; j < s.argCount; j++ {
			passed := op.operands[s.argStart+j].value
			if passed.Type() != s.block.Argument(j).Type() {
				return errors.Errorf("%s: successor %d argument %d has type %s, block argument is %s",
					op.name, i, j, passed.Type(), s.block.Argument(j).Type())
			}
		}
	}
	noTerm := op.name.HasTrait(TraitNoTerminator)
	for ri, r := range op.regions {
		for b := r.firstBlock; b != nil; b = b.next {
			if err := verifyBlock(op, ri, b, noTerm); err != nil {
				return err
			}
		}
	}
	if op.name.HasTrait(TraitIsolatedFromAbove) {
		if err := verifyIsolation(op); err != nil {
			return err
		}
	}
	return nil
}

func verifyBlock(parent *Operation, regionIndex int, b *Block, noTerm bool) error {
	for inner := b.firstOp; inner != nil; inner = inner.next {
		if inner.IsTerminator() && inner.next != nil {
			return errors.Errorf("%s region %d: terminator %s is not the last operation in its block",
				parent.name, regionIndex, inner.name)
		}
	}
	if noTerm {
		return nil
	}
	if b.lastOp == nil || !b.lastOp.IsTerminator() {
		return errors.Errorf("%s region %d: block does not end in a terminator", parent.name, regionIndex)
	}
	return nil
}

// verifyIsolation checks that no operation nested inside op references a
// value defined outside op's regions.
func verifyIsolation(op *Operation) error {
	inside := map[*Value]struct{}{}
	for _, r := range op.regions {
		for b := r.firstBlock; b != nil; b = b.next {
			for _, arg := range b.args {
				inside[arg] = struct{}{}
			}
			for inner := b.firstOp; inner != nil; inner = inner.next {
				inner.Walk(PreOrder, func(nested *Operation) WalkResult {
					for _, res := range nested.results {
						inside[res] = struct{}{}
					}
					for _, nr := range nested.regions {
						for nb := nr.firstBlock; nb != nil; nb = nb.next {
							for _, arg := range nb.args {
								inside[arg] = struct{}{}
							}
						}
					}
					return WalkAdvance
				})
			}
		}
	}
	var failure error
	for _, r := range op.regions {
		for b := r.firstBlock; b != nil; b = b.next {
			for inner := b.firstOp; inner != nil; inner = inner.next {
				inner.Walk(PreOrder, func(nested *Operation) WalkResult {
					for _, o := range nested.operands {
						if o.value == nil {
							continue
						}
						if _, ok := inside[o.value]; !ok {
							failure = errors.Errorf("%s is isolated from above, but %s uses a value defined outside it",
								op.name, nested.name)
							return WalkInterrupt
						}
					}
					return WalkAdvance
				})
				if failure != nil {
					return failure
				}
			}
		}
	}
	return nil
}
