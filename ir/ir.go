// Package ir implements the core intermediate representation used to lower
// WebAssembly modules to Miden Assembly: a multi-dialect, region-based IR in
// the style of MLIR.
//
// The structural model is strictly hierarchical: a Context owns dialects and
// interned types, operations own regions, regions own ordered lists of blocks,
// and blocks own ordered lists of operations. Values (operation results and
// block arguments) are linked to their consumers through intrusive use lists,
// so every structural edit keeps both sides of the use-def graph consistent.
//
// Dialects contribute operation kinds at Context initialization. Behavior that
// cuts across dialects (folding, type inference, memory effects, constant
// materialization, canonicalization patterns) is registered per operation kind
// in an OpInfo table and dispatched through the OperationName, so analyses and
// rewrites never need to know concrete operation types.
package ir
