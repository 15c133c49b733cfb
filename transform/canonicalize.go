package transform

import (
	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
)

// CanonicalizePass runs the greedy rewrite driver: operation folds,
// per-kind canonicalization patterns, and trivially-dead elimination, to a
// bounded fixpoint.
type CanonicalizePass struct{}

// NewCanonicalizePass creates the canonicalization pass.
func NewCanonicalizePass() *CanonicalizePass { return &CanonicalizePass{} }

func (p *CanonicalizePass) Name() string        { return "Canonicalizer" }
func (p *CanonicalizePass) Argument() string    { return "canonicalize" }
func (p *CanonicalizePass) Description() string { return "Fold and canonicalize operations greedily" }

// CanScheduleOn allows any kind; canonicalization is structure-agnostic.
func (p *CanonicalizePass) CanScheduleOn(*ir.OperationName) bool { return true }

func (p *CanonicalizePass) Run(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
	changed, err := RewriteGreedily(op, am.Logger())
	if err != nil {
		return pass.PreserveNone(), err
	}
	if !changed {
		return pass.PreserveAll(), nil
	}
	return pass.PreserveNone(), nil
}
