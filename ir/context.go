package ir

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Context owns everything for one compilation unit: the dialect table, the
// operation-kind registry, interned types, and the arenas all IR entities are
// allocated from. Entities from different contexts must never be mixed; the
// structural editors check for it.
//
// A Context is not safe for concurrent use. The whole pipeline is
// single-threaded by design.
type Context struct {
	log logr.Logger

	dialects     map[string]Dialect
	dialectOrder []Dialect
	opNames      map[string]*OperationName

	types map[string]Type

	ops     operationArena
	blocks  blockArena
	regions regionArena
	values  valueArena

	nextOpID    uint32
	nextBlockID uint32
	nextValueID uint32
}

// ContextOption configures a Context at construction time.
type ContextOption func(*Context)

// WithLogger attaches a structured logger used by passes and analyses for
// debug output. The default discards everything.
func WithLogger(log logr.Logger) ContextOption {
	return func(c *Context) { c.log = log }
}

// NewContext creates an empty Context. Dialects must be registered before
// any of their operations can be built.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		log:      logr.Discard(),
		dialects: make(map[string]Dialect),
		opNames:  make(map[string]*OperationName),
		types:    make(map[string]Type),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Logger returns the context's structured logger.
func (c *Context) Logger() logr.Logger { return c.log }

// RegisterDialect adds a dialect to the context and lets it register its
// operation kinds. Registering the same dialect name twice is an error.
func (c *Context) RegisterDialect(d Dialect) error {
	name := d.Name()
	if _, ok := c.dialects[name]; ok {
		return errors.Errorf("dialect %q is already registered", name)
	}
	c.dialects[name] = d
	c.dialectOrder = append(c.dialectOrder, d)
	if err := d.RegisterOps(c); err != nil {
		return errors.Wrapf(err, "registering operations of dialect %q", name)
	}
	c.log.V(2).Info("registered dialect", "dialect", name)
	return nil
}

// GetDialect looks up a registered dialect by name.
func (c *Context) GetDialect(name string) (Dialect, bool) {
	d, ok := c.dialects[name]
	return d, ok
}

// Dialects returns all registered dialects in registration order.
func (c *Context) Dialects() []Dialect { return c.dialectOrder }

// RegisterOperation registers one operation kind contributed by dialect d.
// Called by dialects from their RegisterOps hook.
func (c *Context) RegisterOperation(d Dialect, info *OpInfo) (*OperationName, error) {
	full := d.Name() + "." + info.Name
	if _, ok := c.opNames[full]; ok {
		return nil, errors.Errorf("operation %q is already registered", full)
	}
	name := &OperationName{dialect: d, full: full, info: info}
	c.opNames[full] = name
	return name, nil
}

// GetOperationName resolves a fully-qualified "dialect.opcode" name.
func (c *Context) GetOperationName(full string) (*OperationName, bool) {
	n, ok := c.opNames[full]
	return n, ok
}

// MaterializeConstant asks each registered dialect, in registration order, to
// build an operation producing the given constant. It returns an error only
// when no dialect can represent the constant as a value of type ty.
func (c *Context) MaterializeConstant(b *Builder, attr Attribute, ty Type, span SourceSpan) (*Operation, error) {
	for _, d := range c.dialectOrder {
		if op, ok := d.MaterializeConstant(b, attr, ty, span); ok {
			return op, nil
		}
	}
	return nil, errors.Errorf("no registered dialect can materialize constant %s as %s", attr, ty)
}

func (c *Context) newOperation() *Operation {
	op := c.ops.alloc()
	c.nextOpID++
	op.id = c.nextOpID
	op.ctx = c
	return op
}

func (c *Context) newBlock() *Block {
	b := c.blocks.alloc()
	c.nextBlockID++
	b.id = c.nextBlockID
	b.ctx = c
	return b
}

func (c *Context) newRegion() *Region {
	r := c.regions.alloc()
	r.ctx = c
	return r
}

func (c *Context) newValue(ty Type, span SourceSpan) *Value {
	v := c.values.alloc()
	c.nextValueID++
	v.id = c.nextValueID
	v.ty = ty
	v.span = span
	return v
}
