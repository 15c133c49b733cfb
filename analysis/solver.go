package analysis

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/miden-compiler/midenc/ir"
)

// Anchor identifies the program point a piece of analysis state attaches to:
// exactly one of a value, an operation, or a block.
type Anchor struct {
	Value *ir.Value
	Op    *ir.Operation
	Block *ir.Block
}

// ValueAnchor, OpAnchor and BlockAnchor build the three anchor shapes.
func ValueAnchor(v *ir.Value) Anchor     { return Anchor{Value: v} }
func OpAnchor(op *ir.Operation) Anchor   { return Anchor{Op: op} }
func BlockAnchor(b *ir.Block) Anchor     { return Anchor{Block: b} }

func (a Anchor) String() string {
	switch {
	case a.Value != nil:
		return "value " + a.Value.String()
	case a.Op != nil:
		return "op " + a.Op.Name().String()
	case a.Block != nil:
		return "block"
	default:
		return "<nil anchor>"
	}
}

// State is one lattice element owned by an analysis. The solver stores and
// routes states; their meaning belongs to the owning analysis.
type State interface{}

// Config controls solver-wide behavior shared by the loaded analyses.
type Config struct {
	// Interprocedural enters calls when the callee body is available.
	// When false (the default) calls are opaque: their results are
	// overdefined and their effects unknown.
	Interprocedural bool
}

// Analysis is one data-flow analysis run on the solver. Initialize seeds
// states and enqueues the initial work; Visit recomputes the states at one
// anchor after a dependency changed.
type Analysis interface {
	Name() string
	Initialize(s *Solver, root *ir.Operation) error
	Visit(s *Solver, anchor Anchor) error
}

type stateKey struct {
	analysis string
	anchor   Anchor
}

type workItem struct {
	analysis Analysis
	anchor   Anchor
}

// Solver runs a set of interdependent data-flow analyses to a fixpoint with
// a FIFO worklist. States are keyed by (analysis, anchor); an analysis that
// reads another's state subscribes to it and is re-visited when it changes.
type Solver struct {
	cfg Config
	log logr.Logger

	analyses []Analysis
	byName   map[string]Analysis

	states map[stateKey]State
	deps   map[stateKey][]workItem

	queue  []workItem
	queued map[workItem]struct{}
}

// NewSolver creates a solver with the given configuration. The logger is
// used at V(2) for per-visit tracing.
func NewSolver(cfg Config, log logr.Logger) *Solver {
	return &Solver{
		cfg:    cfg,
		log:    log,
		byName: map[string]Analysis{},
		states: map[stateKey]State{},
		deps:   map[stateKey][]workItem{},
		queued: map[workItem]struct{}{},
	}
}

// Config returns the solver configuration.
func (s *Solver) Config() Config { return s.cfg }

// Logger returns the solver's logger.
func (s *Solver) Logger() logr.Logger { return s.log }

// Load adds an analysis to the solver. Later analyses may read the states of
// earlier ones.
func (s *Solver) Load(a Analysis) {
	s.analyses = append(s.analyses, a)
	s.byName[a.Name()] = a
}

// Lookup returns the state stored for (a, anchor), if any.
func (s *Solver) Lookup(a Analysis, anchor Anchor) (State, bool) {
	st, ok := s.states[stateKey{analysis: a.Name(), anchor: anchor}]
	return st, ok
}

// LookupByName resolves the analysis by name first; it is how one analysis
// reads another's results after the run.
func (s *Solver) LookupByName(name string, anchor Anchor) (State, bool) {
	st, ok := s.states[stateKey{analysis: name, anchor: anchor}]
	return st, ok
}

// GetOrCreate returns the state at (a, anchor), creating it with fresh when
// absent.
func (s *Solver) GetOrCreate(a Analysis, anchor Anchor, fresh func() State) State {
	key := stateKey{analysis: a.Name(), anchor: anchor}
	if st, ok := s.states[key]; ok {
		return st
	}
	st := fresh()
	s.states[key] = st
	return st
}

// Update records that the state at (owner, anchor) moved. When changed, all
// subscribers of that state are enqueued.
func (s *Solver) Update(owner Analysis, anchor Anchor, changed ChangeResult) {
	if changed == Unchanged {
		return
	}
	key := stateKey{analysis: owner.Name(), anchor: anchor}
	for _, item := range s.deps[key] {
		s.enqueue(item)
	}
}

// Subscribe re-visits (subscriber, at) whenever the state at (owner, anchor)
// changes. The owner is named so analyses can depend on each other without
// holding references.
func (s *Solver) Subscribe(owner string, anchor Anchor, subscriber Analysis, at Anchor) {
	key := stateKey{analysis: owner, anchor: anchor}
	item := workItem{analysis: subscriber, anchor: at}
	for _, existing := range s.deps[key] {
		if existing == item {
			return
		}
	}
	s.deps[key] = append(s.deps[key], item)
}

// Enqueue schedules (a, anchor) for a visit.
func (s *Solver) Enqueue(a Analysis, anchor Anchor) {
	s.enqueue(workItem{analysis: a, anchor: anchor})
}

func (s *Solver) enqueue(item workItem) {
	if _, ok := s.queued[item]; ok {
		return
	}
	s.queued[item] = struct{}{}
	s.queue = append(s.queue, item)
}

// InitializeAndRun seeds every loaded analysis on root and drains the
// worklist to a fixpoint. Monotonic lattices of finite height guarantee
// termination.
func (s *Solver) InitializeAndRun(root *ir.Operation) error {
	for _, a := range s.analyses {
		s.log.V(1).Info("initializing analysis", "analysis", a.Name())
		if err := a.Initialize(s, root); err != nil {
			return errors.Wrapf(err, "initializing analysis %q", a.Name())
		}
	}
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, item)
		s.log.V(2).Info("visiting", "analysis", item.analysis.Name(), "anchor", item.anchor.String())
		if err := item.analysis.Visit(s, item.anchor); err != nil {
			return errors.Wrapf(err, "running analysis %q", item.analysis.Name())
		}
	}
	return nil
}
