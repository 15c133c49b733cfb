package pass

import (
	"github.com/go-logr/logr"

	"github.com/miden-compiler/midenc/analysis"
	"github.com/miden-compiler/midenc/ir"
)

// Names of the analyses the manager knows how to cache and invalidate.
const (
	DomTreeAnalysis     = "dom-tree"
	PostDomTreeAnalysis = "post-dom-tree"
	LoopInfoAnalysis    = "loop-info"
	LivenessAnalysis    = "liveness"
)

// AnalysisManager caches per-operation analysis results between passes.
// Results are computed on first request and dropped when a pass does not
// preserve them.
type AnalysisManager struct {
	op  *ir.Operation
	log logr.Logger

	domTrees     map[*ir.Region]*analysis.DomTree
	postDomTrees map[*ir.Region]*analysis.DomTree
	loopInfos    map[*ir.Region]*analysis.LoopInfo
	liveness     *analysis.LivenessInfo
}

// NewAnalysisManager creates a manager scoped to op.
func NewAnalysisManager(op *ir.Operation, log logr.Logger) *AnalysisManager {
	return &AnalysisManager{
		op:           op,
		log:          log,
		domTrees:     map[*ir.Region]*analysis.DomTree{},
		postDomTrees: map[*ir.Region]*analysis.DomTree{},
		loopInfos:    map[*ir.Region]*analysis.LoopInfo{},
	}
}

// Op returns the operation the manager is scoped to.
func (am *AnalysisManager) Op() *ir.Operation { return am.op }

// Logger returns the manager's logger.
func (am *AnalysisManager) Logger() logr.Logger { return am.log }

// DomTree returns the cached dominator tree of region.
func (am *AnalysisManager) DomTree(region *ir.Region) *analysis.DomTree {
	if t, ok := am.domTrees[region]; ok {
		return t
	}
	t := analysis.NewDomTree(region)
	am.domTrees[region] = t
	return t
}

// PostDomTree returns the cached post-dominator tree of region.
func (am *AnalysisManager) PostDomTree(region *ir.Region) *analysis.DomTree {
	if t, ok := am.postDomTrees[region]; ok {
		return t
	}
	t := analysis.NewPostDomTree(region)
	am.postDomTrees[region] = t
	return t
}

// LoopInfo returns the cached loop forest of region.
func (am *AnalysisManager) LoopInfo(region *ir.Region) *analysis.LoopInfo {
	if li, ok := am.loopInfos[region]; ok {
		return li
	}
	li := analysis.ComputeLoops(region, am.DomTree(region))
	am.loopInfos[region] = li
	return li
}

// Liveness returns cached liveness information for the scoped operation.
func (am *AnalysisManager) Liveness() (*analysis.LivenessInfo, error) {
	if am.liveness != nil {
		return am.liveness, nil
	}
	li, err := analysis.ComputeLiveness(am.op, am.log)
	if err != nil {
		return nil, err
	}
	am.liveness = li
	return li, nil
}

// Invalidate drops every cached result a pass did not preserve.
func (am *AnalysisManager) Invalidate(preserved PreservedAnalyses) {
	if !preserved.IsPreserved(DomTreeAnalysis) {
		am.domTrees = map[*ir.Region]*analysis.DomTree{}
	}
	if !preserved.IsPreserved(PostDomTreeAnalysis) {
		am.postDomTrees = map[*ir.Region]*analysis.DomTree{}
	}
	if !preserved.IsPreserved(LoopInfoAnalysis) {
		am.loopInfos = map[*ir.Region]*analysis.LoopInfo{}
	}
	if !preserved.IsPreserved(LivenessAnalysis) {
		am.liveness = nil
	}
}
