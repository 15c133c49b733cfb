package ir

// WalkOrder selects when the visitor sees an operation relative to the
// operations nested inside it.
type WalkOrder uint8

const (
	PreOrder WalkOrder = iota
	PostOrder
)

// WalkResult steers a traversal.
type WalkResult uint8

const (
	// WalkAdvance continues the traversal normally.
	WalkAdvance WalkResult = iota
	// WalkSkip skips the current operation's nested regions (pre-order only).
	WalkSkip
	// WalkInterrupt stops the traversal immediately.
	WalkInterrupt
)

// Walk visits op and every operation nested within it in deterministic
// structural order: regions in order, blocks in region order, operations in
// block order. Snapshots are taken per block, so the visitor may erase the
// operation it is currently visiting.
func (op *Operation) Walk(order WalkOrder, fn func(*Operation) WalkResult) WalkResult {
	return walkOp(op, order, fn)
}

func walkOp(op *Operation, order WalkOrder, fn func(*Operation) WalkResult) WalkResult {
	if order == PreOrder {
		switch fn(op) {
		case WalkInterrupt:
			return WalkInterrupt
		case WalkSkip:
			return WalkAdvance
		}
	}
	for _, r := range op.regions {
		for _, b := range r.Blocks() {
			for _, inner := range b.Ops() {
				if inner.dead {
					continue
				}
				if walkOp(inner, order, fn) == WalkInterrupt {
					return WalkInterrupt
				}
			}
		}
	}
	if order == PostOrder {
		if fn(op) == WalkInterrupt {
			return WalkInterrupt
		}
	}
	return WalkAdvance
}

// WalkBlocks visits every block nested under op in structural order.
func (op *Operation) WalkBlocks(fn func(*Block) WalkResult) WalkResult {
	for _, r := range op.regions {
		for _, b := range r.Blocks() {
			switch fn(b) {
			case WalkInterrupt:
				return WalkInterrupt
			case WalkSkip:
				continue
			}
			for _, inner := range b.Ops() {
				if inner.dead {
					continue
				}
				if inner.WalkBlocks(fn) == WalkInterrupt {
					return WalkInterrupt
				}
			}
		}
	}
	return WalkAdvance
}
