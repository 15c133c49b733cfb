package analysis

import (
	"math"

	"github.com/go-logr/logr"

	"github.com/miden-compiler/midenc/ir"
)

// StackCapacity is the number of values the Miden operand stack holds
// without shuffling penalties; past it, values must be spilled to locals.
const StackCapacity = 16

// SpillPoint asks for a value to be saved to its slot right after its
// definition: after the defining operation, or at the start of Block for
// block arguments.
type SpillPoint struct {
	Value *ir.Value
	After *ir.Operation
	Block *ir.Block
}

// ReloadPoint asks for a value to be restored immediately before the
// operation that needs it.
type ReloadPoint struct {
	Value  *ir.Value
	Before *ir.Operation
}

// SpillPlan is the placement decision set for one region: which values get
// slots, where they are saved, and where they are restored.
type SpillPlan struct {
	Capacity int
	Spills   []SpillPoint
	Reloads  []ReloadPoint
	Slots    map[*ir.Value]uint32
}

// NumSlots returns how many spill slots the plan uses.
func (p *SpillPlan) NumSlots() int { return len(p.Slots) }

// ComputeSpills builds a spill plan for region under the given capacity
// using Belady's rule: when the simulated register set overflows, the value
// whose next use is furthest away is evicted. Values dead past the eviction
// point cost nothing; live ones get a slot, a spill at their definition, and
// a reload at each use arriving while they are evicted.
func ComputeSpills(region *ir.Region, live *LivenessInfo, capacity int, log logr.Logger) *SpillPlan {
	if capacity <= 0 {
		capacity = StackCapacity
	}
	plan := &SpillPlan{
		Capacity: capacity,
		Slots:    map[*ir.Value]uint32{},
	}
	s := &spiller{plan: plan, live: live, log: log}
	for _, b := range region.Blocks() {
		s.runBlock(b)
	}
	return plan
}

type spiller struct {
	plan *SpillPlan
	live *LivenessInfo
	log  logr.Logger
}

func (s *spiller) runBlock(b *ir.Block) {
	ops := b.Ops()

	// next[i][v] = index of the first use of v at or after op i.
	nextUse := make([]map[*ir.Value]int, len(ops)+1)
	nextUse[len(ops)] = map[*ir.Value]int{}
	for i := len(ops) - 1; i >= 0; i-- {
		m := map[*ir.Value]int{}
		for v, d := range nextUse[i+1] {
			m[v] = d
		}
		for _, operand := range ops[i].AllOperands() {
			if v := operand.Get(); v != nil {
				m[v] = i
			}
		}
		nextUse[i] = m
	}

	// Seed the register set with the live-in values nearest to their next
	// use; the remainder are treated as evicted on entry.
	inRegs := map[*ir.Value]struct{}{}
	for _, arg := range b.Arguments() {
		inRegs[arg] = struct{}{}
	}
	liveIn := s.live.LiveIn(b)
	for _, v := range liveIn {
		inRegs[v] = struct{}{}
	}
	s.evictDownTo(b, inRegs, nextUse[0], s.plan.Capacity)

	for i, op := range ops {
		for _, operand := range op.AllOperands() {
			v := operand.Get()
			if v == nil {
				continue
			}
			if _, ok := inRegs[v]; ok {
				continue
			}
			// Evicted earlier; bring it back for this use.
			s.ensureSpilled(v)
			s.plan.Reloads = append(s.plan.Reloads, ReloadPoint{Value: v, Before: op})
			inRegs[v] = struct{}{}
			s.evictDownTo(b, inRegs, nextUse[i], s.plan.Capacity)
		}
		for _, r := range op.Results() {
			inRegs[r] = struct{}{}
		}
		s.evictDownTo(b, inRegs, nextUse[i+1], s.plan.Capacity)
	}
}

// evictDownTo shrinks the simulated register set to capacity, evicting the
// values used furthest in the future first.
func (s *spiller) evictDownTo(b *ir.Block, inRegs map[*ir.Value]struct{}, next map[*ir.Value]int, capacity int) {
	for len(inRegs) > capacity {
		victim := s.pickVictim(b, inRegs, next)
		if victim == nil {
			return
		}
		delete(inRegs, victim)
		_, usedLater := next[victim]
		if usedLater || s.liveOut(victim, b) {
			s.ensureSpilled(victim)
		}
	}
}

// pickVictim returns the register-resident value with the furthest next
// use, preferring values never used again in the block and dead on exit.
func (s *spiller) pickVictim(b *ir.Block, inRegs map[*ir.Value]struct{}, next map[*ir.Value]int) *ir.Value {
	var victim *ir.Value
	best := -1
	for v := range inRegs {
		d, ok := next[v]
		if !ok {
			if !s.liveOut(v, b) {
				// Dead past this point; the cheapest possible eviction.
				return v
			}
			d = math.MaxInt32
		}
		if d > best {
			best = d
			victim = v
		}
	}
	return victim
}

func (s *spiller) liveOut(v *ir.Value, b *ir.Block) bool {
	for _, succ := range b.Successors() {
		if s.live.IsLiveIn(v, succ) {
			return true
		}
	}
	return false
}

// ensureSpilled assigns a slot and a definition-point spill exactly once per
// value.
func (s *spiller) ensureSpilled(v *ir.Value) {
	if _, ok := s.plan.Slots[v]; ok {
		return
	}
	slot := uint32(len(s.plan.Slots))
	s.plan.Slots[v] = slot

	point := SpillPoint{Value: v}
	if defOp := v.DefiningOp(); defOp != nil {
		point.After = defOp
		point.Block = defOp.Parent()
	} else {
		point.Block = v.OwnerBlock()
	}
	s.plan.Spills = append(s.plan.Spills, point)
	s.log.V(2).Info("assigned spill slot", "value", v.String(), "slot", slot)
}
