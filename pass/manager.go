package pass

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

// ManagerConfig tunes a pass manager pipeline.
type ManagerConfig struct {
	// VerifyEach re-runs the structural verifier after every pass, failing
	// the pipeline on the first broken invariant. Slower, but it pins the
	// blame on the pass that broke the IR.
	VerifyEach bool
}

// PassManager schedules a linear pipeline of passes over operations of one
// registered kind, with nested pipelines running on matching operations
// inside. A manager anchored on builtin.module with a nested pipeline on
// builtin.function is the usual shape.
type PassManager struct {
	ctx    *ir.Context
	cfg    ManagerConfig
	anchor string

	passes []Pass
	nested []*PassManager
	exec   ExecutionState
}

// NewPassManager creates a pipeline anchored on operations named anchor
// (e.g. "builtin.module").
func NewPassManager(ctx *ir.Context, anchor string, cfg ManagerConfig) *PassManager {
	return &PassManager{ctx: ctx, cfg: cfg, anchor: anchor}
}

// Anchor returns the operation kind the pipeline runs on.
func (pm *PassManager) Anchor() string { return pm.anchor }

// State returns the execution state of the most recent run.
func (pm *PassManager) State() *ExecutionState { return &pm.exec }

// AddPass appends a pass to the pipeline. The pass must be schedulable on
// the pipeline's anchor kind.
func (pm *PassManager) AddPass(p Pass) error {
	name, ok := pm.ctx.GetOperationName(pm.anchor)
	if !ok {
		return errors.Errorf("pipeline anchor %q is not a registered operation", pm.anchor)
	}
	if !p.CanScheduleOn(name) {
		return errors.Errorf("pass %q cannot be scheduled on %s", p.Argument(), pm.anchor)
	}
	pm.passes = append(pm.passes, p)
	return nil
}

// Nest creates (or returns) a nested pipeline that runs on every operation
// of the given kind found inside the ops this pipeline runs on.
func (pm *PassManager) Nest(anchor string) *PassManager {
	for _, n := range pm.nested {
		if n.anchor == anchor {
			return n
		}
	}
	n := NewPassManager(pm.ctx, anchor, pm.cfg)
	pm.nested = append(pm.nested, n)
	return n
}

// Run executes the pipeline on op, which must be of the anchor kind. On
// failure the execution state records the error and the IR must be treated
// as unusable.
func (pm *PassManager) Run(op *ir.Operation) error {
	if !op.Is(pm.anchor) {
		return errors.Errorf("pipeline anchored on %s cannot run on %s", pm.anchor, op.Name())
	}
	pm.exec.start()
	if err := pm.run(op); err != nil {
		pm.exec.fail(err)
		return err
	}
	pm.exec.finish()
	return nil
}

func (pm *PassManager) run(op *ir.Operation) error {
	log := pm.ctx.Logger()
	am := NewAnalysisManager(op, log)
	for _, p := range pm.passes {
		log.V(1).Info("running pass", "pass", p.Argument(), "on", op.Name().String())
		preserved, err := p.Run(op, am)
		if err != nil {
			return errors.Wrapf(err, "pass %q on %s", p.Argument(), op.Name())
		}
		am.Invalidate(preserved)
		if pm.cfg.VerifyEach {
			if err := ir.Verify(op); err != nil {
				return errors.Wrapf(err, "verifier failed after pass %q", p.Argument())
			}
		}
	}
	for _, nested := range pm.nested {
		var anchored []*ir.Operation
		op.Walk(ir.PreOrder, func(inner *ir.Operation) ir.WalkResult {
			if inner != op && inner.Is(nested.anchor) {
				anchored = append(anchored, inner)
				return ir.WalkSkip
			}
			return ir.WalkAdvance
		})
		for _, inner := range anchored {
			if err := nested.run(inner); err != nil {
				return err
			}
		}
	}
	return nil
}
