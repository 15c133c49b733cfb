package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miden-compiler/midenc/ir"
	"github.com/miden-compiler/midenc/pass"
)

// CSEPass eliminates duplicate pure operations. It walks each region's
// dominator tree with a scoped hash table, so a replacement is only made
// when the surviving definition dominates the duplicate.
type CSEPass struct{}

// NewCSEPass creates the common subexpression elimination pass.
func NewCSEPass() *CSEPass { return &CSEPass{} }

func (p *CSEPass) Name() string        { return "CSE" }
func (p *CSEPass) Argument() string    { return "cse" }
func (p *CSEPass) Description() string { return "Eliminate dominated duplicate pure operations" }

func (p *CSEPass) CanScheduleOn(*ir.OperationName) bool { return true }

func (p *CSEPass) Run(op *ir.Operation, am *pass.AnalysisManager) (pass.PreservedAnalyses, error) {
	changed := false
	var failure error
	op.Walk(ir.PreOrder, func(inner *ir.Operation) ir.WalkResult {
		for i := 0; i < inner.NumRegions(); i++ {
			region := inner.Region(i)
			if region.Empty() {
				continue
			}
			c, err := cseRegion(region, am)
			if err != nil {
				failure = err
				return ir.WalkInterrupt
			}
			changed = changed || c
		}
		return ir.WalkAdvance
	})
	if failure != nil {
		return pass.PreserveNone(), failure
	}
	if !changed {
		return pass.PreserveAll(), nil
	}
	// Erasures do not move blocks, so the CFG-shaped analyses survive.
	return pass.Preserve(pass.DomTreeAnalysis, pass.PostDomTreeAnalysis, pass.LoopInfoAnalysis), nil
}

// scopedTable is a hash table with block-scoped shadowing: entries added in
// a dominator-tree subtree are dropped when the walk leaves it.
type scopedTable struct {
	entries map[string]*ir.Operation
	undo    [][]string
}

func (t *scopedTable) push() {
	t.undo = append(t.undo, nil)
}

func (t *scopedTable) pop() {
	top := t.undo[len(t.undo)-1]
	t.undo = t.undo[:len(t.undo)-1]
	for _, key := range top {
		delete(t.entries, key)
	}
}

func (t *scopedTable) insert(key string, op *ir.Operation) {
	t.entries[key] = op
	t.undo[len(t.undo)-1] = append(t.undo[len(t.undo)-1], key)
}

func cseRegion(region *ir.Region, am *pass.AnalysisManager) (bool, error) {
	tree := am.DomTree(region)
	entry := region.Entry()
	if entry == nil || !tree.IsReachable(entry) {
		return false, nil
	}
	table := &scopedTable{entries: map[string]*ir.Operation{}}
	changed := false

	var visit func(b *ir.Block) error
	visit = func(b *ir.Block) error {
		table.push()
		defer table.pop()
		for _, op := range b.Ops() {
			if !cseEligible(op) {
				continue
			}
			key := cseKey(op)
			if existing, ok := table.entries[key]; ok {
				op.ReplaceAllUsesWith(existing.Results()...)
				if err := op.Erase(); err != nil {
					return err
				}
				changed = true
				continue
			}
			table.insert(key, op)
		}
		for _, child := range tree.Children(b) {
			if err := visit(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(entry); err != nil {
		return false, err
	}
	return changed, nil
}

// cseEligible restricts CSE to pure, region-free, non-terminator ops.
func cseEligible(op *ir.Operation) bool {
	return !op.IsTerminator() &&
		op.NumRegions() == 0 &&
		op.NumResults() > 0 &&
		op.HasNoEffect()
}

// cseKey is the structural identity of an operation: kind, operand
// identities, attributes, and result types.
func cseKey(op *ir.Operation) string {
	var sb strings.Builder
	sb.WriteString(op.Name().String())
	sb.WriteByte('(')
	for i := 0; i < op.NumOperands(); i++ {
		fmt.Fprintf(&sb, "v%d,", op.Operand(i).ID())
	}
	sb.WriteByte(')')
	attrs := op.Attrs().Clone()
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	sb.WriteByte('{')
	for _, na := range attrs {
		fmt.Fprintf(&sb, "%s=%s,", na.Name, na.Value)
	}
	sb.WriteByte('}')
	for _, r := range op.Results() {
		sb.WriteByte(':')
		sb.WriteString(r.Type().String())
	}
	return sb.String()
}
