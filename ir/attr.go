package ir

import (
	"fmt"
	"strings"
)

// Attribute is an immutable, compile-time-constant payload attached to an
// operation. Concrete attribute types are small values whose component types
// are interned; compare them with AttrEqual, since ArrayAttr is a slice and
// the built-in == would panic on it.
type Attribute interface {
	fmt.Stringer
	isAttribute()
}

// AttrEqual reports structural equality of two attributes.
func AttrEqual(a, b Attribute) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aArr, aOK := a.(ArrayAttr)
	bArr, bOK := b.(ArrayAttr)
	if aOK != bOK {
		return false
	}
	if aOK {
		if len(aArr) != len(bArr) {
			return false
		}
		for i := range aArr {
			if !AttrEqual(aArr[i], bArr[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// IntegerAttr is a constant integer or field element of a specific type. The
// raw bits are stored two's-complement, truncated to the type width; felt
// values are stored reduced modulo FeltModulus.
type IntegerAttr struct {
	ty   Type
	bits uint64
}

// NewIntegerAttr builds an IntegerAttr of type ty, normalizing bits to the
// value domain of ty.
func NewIntegerAttr(ty Type, bits uint64) IntegerAttr {
	return IntegerAttr{ty: ty, bits: normalizeBits(ty, bits)}
}

func normalizeBits(ty Type, bits uint64) uint64 {
	switch t := ty.(type) {
	case *IntType:
		if t.width < 64 {
			return bits & ((1 << t.width) - 1)
		}
		return bits
	case *FeltType:
		return bits % FeltModulus
	default:
		return bits
	}
}

func (a IntegerAttr) isAttribute() {}
func (a IntegerAttr) Type() Type   { return a.ty }

// Bits returns the raw two's-complement bit pattern.
func (a IntegerAttr) Bits() uint64 { return a.bits }

// Int64 returns the value sign-extended from the type width.
func (a IntegerAttr) Int64() int64 {
	t, ok := a.ty.(*IntType)
	if !ok || !t.signed || t.width >= 64 {
		return int64(a.bits)
	}
	shift := 64 - t.width
	return int64(a.bits<<shift) >> shift
}

// IsZero reports whether the constant is zero.
func (a IntegerAttr) IsZero() bool { return a.bits == 0 }

func (a IntegerAttr) String() string {
	if t, ok := a.ty.(*IntType); ok && t.signed {
		return fmt.Sprintf("%d : %s", a.Int64(), a.ty)
	}
	return fmt.Sprintf("%d : %s", a.bits, a.ty)
}

// BoolAttr is a boolean constant.
type BoolAttr bool

func (a BoolAttr) isAttribute() {}

func (a BoolAttr) String() string {
	if a {
		return "true"
	}
	return "false"
}

// StringAttr is an interned string constant, used for symbol names and
// callee references.
type StringAttr string

func (a StringAttr) isAttribute()   {}
func (a StringAttr) String() string { return fmt.Sprintf("%q", string(a)) }

// TypeAttr carries a Type as attribute data, e.g. a function signature.
type TypeAttr struct {
	ty Type
}

func NewTypeAttr(ty Type) TypeAttr { return TypeAttr{ty: ty} }

func (a TypeAttr) isAttribute()   {}
func (a TypeAttr) Type() Type     { return a.ty }
func (a TypeAttr) String() string { return a.ty.String() }

// UnitAttr marks the presence of a flag; it carries no data.
type UnitAttr struct{}

func (a UnitAttr) isAttribute()   {}
func (a UnitAttr) String() string { return "unit" }

// OverflowBehavior selects the semantics of arithmetic ops whose result may
// exceed the type width.
type OverflowBehavior uint8

const (
	// OverflowWrapping wraps around the type width (the default).
	OverflowWrapping OverflowBehavior = iota
	// OverflowChecked traps at runtime on overflow.
	OverflowChecked
	// OverflowSaturating clamps to the representable range.
	OverflowSaturating
)

func (b OverflowBehavior) isAttribute() {}

func (b OverflowBehavior) String() string {
	switch b {
	case OverflowWrapping:
		return "wrapping"
	case OverflowChecked:
		return "checked"
	case OverflowSaturating:
		return "saturating"
	default:
		return fmt.Sprintf("OverflowBehavior(%d)", uint8(b))
	}
}

// ArrayAttr is an ordered sequence of attributes, e.g. switch case values.
type ArrayAttr []Attribute

func (a ArrayAttr) isAttribute() {}

func (a ArrayAttr) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(elem.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// NamedAttribute is a single name/value entry of an operation's attribute
// dictionary.
type NamedAttribute struct {
	Name  string
	Value Attribute
}

// AttrList is an operation's attribute dictionary, kept sorted by insertion
// order. Dictionaries are small, so linear scans beat a map and preserve a
// deterministic print order.
type AttrList []NamedAttribute

func (l AttrList) Get(name string) (Attribute, bool) {
	for _, na := range l {
		if na.Name == name {
			return na.Value, true
		}
	}
	return nil, false
}

func (l AttrList) Set(name string, value Attribute) AttrList {
	for i, na := range l {
		if na.Name == name {
			l[i].Value = value
			return l
		}
	}
	return append(l, NamedAttribute{Name: name, Value: value})
}

func (l AttrList) Remove(name string) AttrList {
	for i, na := range l {
		if na.Name == name {
			return append(l[:i:i], l[i+1:]...)
		}
	}
	return l
}

func (l AttrList) Clone() AttrList {
	if len(l) == 0 {
		return nil
	}
	out := make(AttrList, len(l))
	copy(out, l)
	return out
}
