package ir

// EffectKind classifies a memory effect of an operation.
type EffectKind uint8

const (
	EffectRead EffectKind = iota
	EffectWrite
	EffectAllocate
	EffectFree
)

func (k EffectKind) String() string {
	switch k {
	case EffectRead:
		return "read"
	case EffectWrite:
		return "write"
	case EffectAllocate:
		return "allocate"
	case EffectFree:
		return "free"
	default:
		return "unknown"
	}
}

// Effect is one memory effect, optionally scoped to a specific value (e.g. a
// write through a particular pointer). A nil Value means the effect targets
// unknown memory.
type Effect struct {
	Kind  EffectKind
	Value *Value
}

// Effects returns the operation's memory effects. Operations without the
// effect interface are treated conservatively: nil with ok=false, meaning
// the effects are unknown.
func (op *Operation) Effects() ([]Effect, bool) {
	if op.name.HasTrait(TraitNoMemoryEffect) {
		return nil, true
	}
	if fn := op.name.info.Effects; fn != nil {
		return fn(op), true
	}
	return nil, false
}

// HasNoEffect reports whether the operation is known to have an empty effect
// list. It is the fast path for "is this operation pure" and is consistent
// with Effects by construction.
func (op *Operation) HasNoEffect() bool {
	if op.name.HasTrait(TraitNoMemoryEffect) {
		return true
	}
	if fn := op.name.info.Effects; fn != nil {
		return len(fn(op)) == 0
	}
	return false
}

// IsSpeculatable reports whether executing the operation early is safe.
func (op *Operation) IsSpeculatable() bool {
	return op.name.HasTrait(TraitAlwaysSpeculatable)
}
