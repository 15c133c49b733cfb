package ir

// Dialect is a named, pluggable extension contributing a closed set of
// operation kinds to a Context.
type Dialect interface {
	// Name is the dialect's namespace prefix, e.g. "arith".
	Name() string
	// RegisterOps registers the dialect's operation kinds with the context.
	// Called exactly once, from Context.RegisterDialect.
	RegisterOps(ctx *Context) error
	// MaterializeConstant builds an operation producing attr as a value of
	// type ty at the builder's insertion point, or returns false when the
	// dialect cannot represent the constant.
	MaterializeConstant(b *Builder, attr Attribute, ty Type, span SourceSpan) (*Operation, bool)
}
