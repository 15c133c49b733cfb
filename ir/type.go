package ir

import (
	"fmt"
	"strings"
)

// FeltModulus is the prime modulus of the Miden VM base field,
// 2^64 - 2^32 + 1. All felt arithmetic is performed modulo this value.
const FeltModulus uint64 = 0xffffffff00000001

// Type describes the representation of a Value. Types are immutable and
// uniqued per Context: two structurally equal types obtained from the same
// Context are pointer-equal, so type comparison is O(1).
type Type interface {
	fmt.Stringer
	isType()
}

// IntType is a fixed-width two's-complement integer type. Valid widths are
// 1, 8, 16, 32, 64 and 128; width 1 is the boolean type and is unsigned.
type IntType struct {
	width  uint32
	signed bool
}

func (t *IntType) isType()        {}
func (t *IntType) Width() uint32  { return t.width }
func (t *IntType) IsSigned() bool { return t.signed }

func (t *IntType) String() string {
	if t.signed {
		return fmt.Sprintf("i%d", t.width)
	}
	return fmt.Sprintf("u%d", t.width)
}

// FeltType is the Miden base field element type.
type FeltType struct{}

func (t *FeltType) isType()        {}
func (t *FeltType) String() string { return "felt" }

// PointerType is a pointer to a value of the pointee type in linear memory.
type PointerType struct {
	pointee Type
}

func (t *PointerType) isType()       {}
func (t *PointerType) Pointee() Type { return t.pointee }

func (t *PointerType) String() string { return fmt.Sprintf("ptr<%s>", t.pointee) }

// ArrayType is a fixed-length homogeneous aggregate.
type ArrayType struct {
	elem Type
	size uint32
}

func (t *ArrayType) isType()      {}
func (t *ArrayType) Elem() Type   { return t.elem }
func (t *ArrayType) Size() uint32 { return t.size }

func (t *ArrayType) String() string { return fmt.Sprintf("array<%d x %s>", t.size, t.elem) }

// StructType is a heterogeneous aggregate with positional fields.
type StructType struct {
	fields []Type
}

func (t *StructType) isType()        {}
func (t *StructType) Fields() []Type { return t.fields }

func (t *StructType) String() string {
	var sb strings.Builder
	sb.WriteString("struct<")
	for i, f := range t.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
	sb.WriteByte('>')
	return sb.String()
}

// FunctionType describes a function signature.
type FunctionType struct {
	params  []Type
	results []Type
}

func (t *FunctionType) isType()         {}
func (t *FunctionType) Params() []Type  { return t.params }
func (t *FunctionType) Results() []Type { return t.results }

func (t *FunctionType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range t.params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(") -> (")
	for i, r := range t.results {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// internType returns the canonical instance for the structural key of t.
func (c *Context) internType(t Type) Type {
	key := t.String()
	if existing, ok := c.types[key]; ok {
		return existing
	}
	c.types[key] = t
	return t
}

// IntType returns the canonical integer type of the given width and
// signedness. It panics on widths other than 1, 8, 16, 32, 64 or 128; the
// type domain is closed.
func (c *Context) IntType(width uint32, signed bool) *IntType {
	switch width {
	case 1, 8, 16, 32, 64, 128:
	default:
		panic(fmt.Sprintf("invalid integer type width %d", width))
	}
	if width == 1 && signed {
		panic("i1 is unsigned by definition")
	}
	return c.internType(&IntType{width: width, signed: signed}).(*IntType)
}

func (c *Context) I1() *IntType   { return c.IntType(1, false) }
func (c *Context) U8() *IntType   { return c.IntType(8, false) }
func (c *Context) I8() *IntType   { return c.IntType(8, true) }
func (c *Context) U16() *IntType  { return c.IntType(16, false) }
func (c *Context) I16() *IntType  { return c.IntType(16, true) }
func (c *Context) U32() *IntType  { return c.IntType(32, false) }
func (c *Context) I32() *IntType  { return c.IntType(32, true) }
func (c *Context) U64() *IntType  { return c.IntType(64, false) }
func (c *Context) I64() *IntType  { return c.IntType(64, true) }
func (c *Context) U128() *IntType { return c.IntType(128, false) }

// Felt returns the canonical field element type.
func (c *Context) Felt() *FeltType {
	return c.internType(&FeltType{}).(*FeltType)
}

// PointerType returns the canonical pointer type for the given pointee.
func (c *Context) PointerType(pointee Type) *PointerType {
	return c.internType(&PointerType{pointee: pointee}).(*PointerType)
}

// ArrayType returns the canonical array type of size elements of elem.
func (c *Context) ArrayType(elem Type, size uint32) *ArrayType {
	return c.internType(&ArrayType{elem: elem, size: size}).(*ArrayType)
}

// StructType returns the canonical struct type with the given fields.
func (c *Context) StructType(fields ...Type) *StructType {
	fs := make([]Type, len(fields))
	copy(fs, fields)
	return c.internType(&StructType{fields: fs}).(*StructType)
}

// FunctionType returns the canonical function type with the given signature.
func (c *Context) FunctionType(params, results []Type) *FunctionType {
	ps := make([]Type, len(params))
	copy(ps, params)
	rs := make([]Type, len(results))
	copy(rs, results)
	return c.internType(&FunctionType{params: ps, results: rs}).(*FunctionType)
}

// IsInteger reports whether t is a fixed-width integer type.
func IsInteger(t Type) bool {
	_, ok := t.(*IntType)
	return ok
}

// IsBool reports whether t is the 1-bit integer type.
func IsBool(t Type) bool {
	it, ok := t.(*IntType)
	return ok && it.width == 1
}

// IsFelt reports whether t is the field element type.
func IsFelt(t Type) bool {
	_, ok := t.(*FeltType)
	return ok
}
