// Package midenc is the compiler core lowering WebAssembly-shaped programs
// toward Miden Assembly. It ties together the IR kernel (ir), the dialect
// definitions (dialects/...), the analyses (analysis), and the rewrites
// (transform) into a ready-to-run lowering pipeline.
//
// The usual flow is:
//
//	ctx := ir.NewContext()
//	if err := midenc.RegisterDefaultDialects(ctx); err != nil { ... }
//	// build a builtin.module with ir.Builder and the dialect helpers ...
//	pm, err := midenc.BuildLoweringPipeline(ctx, midenc.PipelineConfig{})
//	if err != nil { ... }
//	err = pm.Run(module)
package midenc

import (
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/dialects/arith"
	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/dialects/cf"
	"github.com/miden-compiler/midenc/dialects/hir"
	"github.com/miden-compiler/midenc/dialects/scf"
	"github.com/miden-compiler/midenc/dialects/ub"
	"github.com/miden-compiler/midenc/dialects/wasm"
	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
	"github.com/miden-compiler/midenc/transform"
)

// RegisterDefaultDialects registers every dialect the lowering pipeline
// expects: builtin, hir, arith, cf, scf, ub, and wasm.
func RegisterDefaultDialects(ctx *ir.Context) error {
	for _, register := range []func(*ir.Context) error{
		builtin.Register,
		hir.Register,
		arith.Register,
		cf.Register,
		scf.Register,
		ub.Register,
		wasm.Register,
	} {
		if err := register(ctx); err != nil {
			return errors.Wrap(err, "registering default dialects")
		}
	}
	return nil
}

// NewPassRegistry returns a registry with every pass of the lowering
// pipeline available under its command-line argument name.
func NewPassRegistry() (*pass.Registry, error) {
	r := pass.NewRegistry()
	for _, factory := range []func() pass.Pass{
		func() pass.Pass { return transform.NewCanonicalizePass() },
		func() pass.Pass { return transform.NewCSEPass() },
		func() pass.Pass { return transform.NewSCCPPass() },
		func() pass.Pass { return transform.NewLiftControlFlowPass() },
		func() pass.Pass { return transform.NewInsertSpillsPass() },
	} {
		if err := r.Register(factory); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// PipelineConfig adjusts the default lowering pipeline.
type PipelineConfig struct {
	// VerifyEach re-verifies the IR after every pass.
	VerifyEach bool
	// InterproceduralSCCP lets constant propagation follow direct calls
	// between the module's functions.
	InterproceduralSCCP bool
	// StackCapacity overrides the simulated operand stack depth used by
	// spill insertion; zero keeps the target default.
	StackCapacity int
}

// BuildLoweringPipeline assembles the standard module-level pipeline:
// cleanup (canonicalize, cse, sccp, canonicalize) followed by per-function
// control-flow structuring and spill insertion.
func BuildLoweringPipeline(ctx *ir.Context, cfg PipelineConfig) (*pass.PassManager, error) {
	pm := pass.NewPassManager(ctx, builtin.ModuleOp, pass.ManagerConfig{VerifyEach: cfg.VerifyEach})
	if err := pm.AddPass(transform.NewCanonicalizePass()); err != nil {
		return nil, err
	}
	if err := pm.AddPass(transform.NewCSEPass()); err != nil {
		return nil, err
	}
	if err := pm.AddPass(&transform.SCCPPass{Interprocedural: cfg.InterproceduralSCCP}); err != nil {
		return nil, err
	}
	if err := pm.AddPass(transform.NewCanonicalizePass()); err != nil {
		return nil, err
	}

	fn := pm.Nest(builtin.FunctionOp)
	if err := fn.AddPass(transform.NewLiftControlFlowPass()); err != nil {
		return nil, err
	}
	if err := fn.AddPass(&transform.InsertSpillsPass{Capacity: cfg.StackCapacity}); err != nil {
		return nil, err
	}
	return pm, nil
}
