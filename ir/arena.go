package ir

import "fmt"

// IR entities are allocated out of per-context chunked arenas. Chunks are
// never reallocated, so entity pointers are stable for the lifetime of the
// Context, and erased entities are flagged dead rather than freed: any
// subsequent structural access fails fast via checkLive instead of silently
// reading a stale node. This is the runtime-checked replacement for the
// ownership guards the graph's back references would otherwise require.
const arenaChunkSize = 64

type operationArena struct {
	chunks [][]Operation
	used   int
}

func (a *operationArena) alloc() *Operation {
	if n := len(a.chunks); n == 0 || a.used == arenaChunkSize {
		a.chunks = append(a.chunks, make([]Operation, arenaChunkSize))
		a.used = 0
	}
	chunk := a.chunks[len(a.chunks)-1]
	op := &chunk[a.used]
	a.used++
	return op
}

type blockArena struct {
	chunks [][]Block
	used   int
}

func (a *blockArena) alloc() *Block {
	if n := len(a.chunks); n == 0 || a.used == arenaChunkSize {
		a.chunks = append(a.chunks, make([]Block, arenaChunkSize))
		a.used = 0
	}
	chunk := a.chunks[len(a.chunks)-1]
	b := &chunk[a.used]
	a.used++
	return b
}

type regionArena struct {
	chunks [][]Region
	used   int
}

func (a *regionArena) alloc() *Region {
	if n := len(a.chunks); n == 0 || a.used == arenaChunkSize {
		a.chunks = append(a.chunks, make([]Region, arenaChunkSize))
		a.used = 0
	}
	chunk := a.chunks[len(a.chunks)-1]
	r := &chunk[a.used]
	a.used++
	return r
}

type valueArena struct {
	chunks [][]Value
	used   int
}

func (a *valueArena) alloc() *Value {
	if n := len(a.chunks); n == 0 || a.used == arenaChunkSize {
		a.chunks = append(a.chunks, make([]Value, arenaChunkSize))
		a.used = 0
	}
	chunk := a.chunks[len(a.chunks)-1]
	v := &chunk[a.used]
	a.used++
	return v
}

func liveCheckFailed(kind string, id uint32) {
	panic(fmt.Sprintf("invalid IR access: a bug in the caller: %s #%d was erased and must not be used", kind, id))
}
