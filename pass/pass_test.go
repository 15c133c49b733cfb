package pass_test

import (
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/miden-compiler/midenc/dialects/builtin"
	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
)

// stubPass is a configurable pass for exercising the manager.
type stubPass struct {
	arg    string
	onlyOn string
	run    func(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error)
}

func (p *stubPass) Name() string        { return p.arg }
func (p *stubPass) Argument() string    { return p.arg }
func (p *stubPass) Description() string { return "test pass" }

func (p *stubPass) CanScheduleOn(name *ir.OperationName) bool {
	return p.onlyOn == "" || name.String() == p.onlyOn
}

func (p *stubPass) Run(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
	if p.run == nil {
		return pass.PreserveAll(), nil
	}
	return p.run(op, am)
}

// newModule builds a module containing functions with the given names, each
// just returning.
func newModule(t *testing.T, fnNames ...string) (*ir.Context, *ir.Operation) {
	t.Helper()
	ctx := ir.NewContext()
	require.NoError(t, builtin.Register(ctx))
	b := ir.NewBuilder(ctx)
	module, err := builtin.NewModule(b, "test", ir.UnknownSpan)
	require.NoError(t, err)
	for _, name := range fnNames {
		fn, err := builtin.NewFunction(b, module, name, ctx.FunctionType(nil, nil), ir.UnknownSpan)
		require.NoError(t, err)
		b.SetInsertionPointToEnd(builtin.FunctionBody(fn).Entry())
		_, err = builtin.Ret(b, ir.UnknownSpan)
		require.NoError(t, err)
	}
	return ctx, module
}

func TestRegistry(t *testing.T) {
	r := pass.NewRegistry()
	require.NoError(t, r.Register(func() pass.Pass { return &stubPass{arg: "beta"} }))
	require.NoError(t, r.Register(func() pass.Pass { return &stubPass{arg: "alpha"} }))

	err := r.Register(func() pass.Pass { return &stubPass{arg: "alpha"} })
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")

	err = r.Register(func() pass.Pass { return &stubPass{} })
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty argument")

	require.Equal(t, []string{"alpha", "beta"}, r.Arguments())

	p, err := r.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, "alpha", p.Argument())

	_, err = r.Get("nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown pass "nope"`)
}

func TestRegistryParse(t *testing.T) {
	ctx, module := newModule(t, "f")
	var ran []string
	r := pass.NewRegistry()
	for _, arg := range []string{"alpha", "beta"} {
		arg := arg
		require.NoError(t, r.Register(func() pass.Pass {
			return &stubPass{arg: arg, run: func(*ir.Operation, *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
				ran = append(ran, arg)
				return pass.PreserveAll(), nil
			}}
		}))
	}

	pm := pass.NewPassManager(ctx, builtin.ModuleOp, pass.ManagerConfig{})
	require.NoError(t, r.Parse(pm, " alpha , beta "))
	require.NoError(t, r.Parse(pm, ""))
	require.NoError(t, pm.Run(module))
	require.Equal(t, []string{"alpha", "beta"}, ran)

	err := r.Parse(pm, "alpha,,beta")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty pass name")

	err = r.Parse(pm, "alpha,nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown pass "nope"`)
}

func TestPassManagerLifecycle(t *testing.T) {
	ctx, module := newModule(t, "f")
	pm := pass.NewPassManager(ctx, builtin.ModuleOp, pass.ManagerConfig{})
	require.Equal(t, pass.Idle, pm.State().State())

	require.NoError(t, pm.AddPass(&stubPass{arg: "ok"}))
	require.NoError(t, pm.Run(module))
	require.Equal(t, pass.Converged, pm.State().State())
	require.NoError(t, pm.State().Err())

	boom := errors.New("boom")
	require.NoError(t, pm.AddPass(&stubPass{arg: "explode", run: func(*ir.Operation, *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
		return pass.PreserveNone(), boom
	}}))
	err := pm.Run(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), `pass "explode"`)
	require.Equal(t, pass.Failed, pm.State().State())
	require.Equal(t, err, pm.State().Err())
}

func TestRunRejectsWrongAnchor(t *testing.T) {
	ctx, module := newModule(t, "f")
	pm := pass.NewPassManager(ctx, builtin.FunctionOp, pass.ManagerConfig{})
	err := pm.Run(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot run on builtin.module")
}

func TestAddPassScheduling(t *testing.T) {
	ctx, _ := newModule(t)
	pm := pass.NewPassManager(ctx, builtin.ModuleOp, pass.ManagerConfig{})

	err := pm.AddPass(&stubPass{arg: "fn-only", onlyOn: builtin.FunctionOp})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot be scheduled on builtin.module")

	unknown := pass.NewPassManager(ctx, "nope.op", pass.ManagerConfig{})
	err = unknown.AddPass(&stubPass{arg: "any"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a registered operation")
}

func TestNestedPipelines(t *testing.T) {
	ctx, module := newModule(t, "f", "g")
	pm := pass.NewPassManager(ctx, builtin.ModuleOp, pass.ManagerConfig{})

	var seen []string
	nested := pm.Nest(builtin.FunctionOp)
	require.Same(t, nested, pm.Nest(builtin.FunctionOp))
	require.NoError(t, nested.AddPass(&stubPass{arg: "per-fn", run: func(op *ir.Operation, _ *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
		seen = append(seen, builtin.FunctionName(op))
		return pass.PreserveAll(), nil
	}}))

	require.NoError(t, pm.Run(module))
	require.Equal(t, []string{"f", "g"}, seen)
}

func TestVerifyEachCatchesBrokenIR(t *testing.T) {
	ctx, module := newModule(t, "f")
	pm := pass.NewPassManager(ctx, builtin.ModuleOp, pass.ManagerConfig{VerifyEach: true})

	require.NoError(t, pm.AddPass(&stubPass{arg: "vandal", run: func(op *ir.Operation, _ *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
		fn := builtin.ModuleBody(op).FirstOp()
		if err := builtin.FunctionBody(fn).Entry().Terminator().Erase(); err != nil {
			return pass.PreserveNone(), err
		}
		return pass.PreserveNone(), nil
	}}))

	err := pm.Run(module)
	require.Error(t, err)
	require.Contains(t, err.Error(), `verifier failed after pass "vandal"`)
	require.Equal(t, pass.Failed, pm.State().State())
}

func TestAnalysisManagerCaching(t *testing.T) {
	_, module := newModule(t, "f")
	fn := builtin.ModuleBody(module).FirstOp()
	body := builtin.FunctionBody(fn)

	am := pass.NewAnalysisManager(fn, testr.New(t))
	require.Same(t, fn, am.Op())

	tree := am.DomTree(body)
	require.Same(t, tree, am.DomTree(body))

	// Preserving the analysis keeps the cached tree; dropping it does not.
	am.Invalidate(pass.Preserve(pass.DomTreeAnalysis))
	require.Same(t, tree, am.DomTree(body))
	am.Invalidate(pass.PreserveNone())
	require.NotSame(t, tree, am.DomTree(body))

	li := am.LoopInfo(body)
	require.Same(t, li, am.LoopInfo(body))
	am.Invalidate(pass.PreserveAll())
	require.Same(t, li, am.LoopInfo(body))

	live, err := am.Liveness()
	require.NoError(t, err)
	again, err := am.Liveness()
	require.NoError(t, err)
	require.Same(t, live, again)
	am.Invalidate(pass.Preserve(pass.DomTreeAnalysis))
	third, err := am.Liveness()
	require.NoError(t, err)
	require.NotSame(t, live, third)
}

func TestPreservedAnalyses(t *testing.T) {
	require.True(t, pass.PreserveAll().IsPreserved(pass.DomTreeAnalysis))
	require.False(t, pass.PreserveNone().IsPreserved(pass.DomTreeAnalysis))
	p := pass.Preserve(pass.DomTreeAnalysis, pass.LivenessAnalysis)
	require.True(t, p.IsPreserved(pass.DomTreeAnalysis))
	require.True(t, p.IsPreserved(pass.LivenessAnalysis))
	require.False(t, p.IsPreserved(pass.LoopInfoAnalysis))
}
