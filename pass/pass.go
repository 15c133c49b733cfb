// Package pass provides the pass manager: a pipeline of transformations
// scheduled over operations of a particular kind, with cached analyses,
// preservation-based invalidation, and optional verification between passes.
package pass

import "github.com/miden-compiler/midenc/ir"

// RunState tracks the lifecycle of one pipeline execution.
type RunState uint8

const (
	// Idle means the pipeline has not run yet.
	Idle RunState = iota
	// Running means a pass is currently executing.
	Running
	// Converged means the pipeline finished successfully.
	Converged
	// Failed means a pass returned an error; the IR may be partially
	// transformed and should be discarded.
	Failed
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// PreservedAnalyses names the cached analyses a pass kept valid. A pass that
// changes nothing preserves all; the zero value preserves none.
type PreservedAnalyses struct {
	all  bool
	keep map[string]struct{}
}

// PreserveAll marks every analysis as still valid.
func PreserveAll() PreservedAnalyses { return PreservedAnalyses{all: true} }

// PreserveNone invalidates every cached analysis (the safe default).
func PreserveNone() PreservedAnalyses { return PreservedAnalyses{} }

// Preserve marks the named analyses as still valid.
func Preserve(names ...string) PreservedAnalyses {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	return PreservedAnalyses{keep: keep}
}

// IsPreserved reports whether the named analysis survived the pass.
func (p PreservedAnalyses) IsPreserved(name string) bool {
	if p.all {
		return true
	}
	_, ok := p.keep[name]
	return ok
}

// Pass is one transformation scheduled by the pass manager. Run receives the
// operation the pass is anchored on and the analysis manager scoped to it,
// and reports which analyses it preserved.
type Pass interface {
	// Name is the human-readable pass name.
	Name() string
	// Argument is the stable identifier used in textual pipelines.
	Argument() string
	// Description is a one-line summary for pipeline help output.
	Description() string
	// CanScheduleOn reports whether the pass may run on operations of the
	// given registered kind.
	CanScheduleOn(name *ir.OperationName) bool
	// Run transforms op in place.
	Run(op *ir.Operation, am *AnalysisManager) (PreservedAnalyses, error)
}

// ExecutionState is the bookkeeping for one pipeline run: the lifecycle
// state and the first error encountered.
type ExecutionState struct {
	state RunState
	err   error
}

// State returns the current lifecycle state.
func (e *ExecutionState) State() RunState { return e.state }

// Err returns the error that failed the run, if any.
func (e *ExecutionState) Err() error { return e.err }

func (e *ExecutionState) start()         { e.state = Running; e.err = nil }
func (e *ExecutionState) finish()        { e.state = Converged }
func (e *ExecutionState) fail(err error) { e.state = Failed; e.err = err }
