package ir

import (
	"strings"

	"github.com/pkg/errors"
)

// Filter selects operations for diagnostic dumps. The textual grammar is:
//
//	"any"                     matches every operation
//	"symbol:<pattern|*>"      matches symbol-defining ops whose "sym_name"
//	                          attribute equals the pattern ("*" matches all)
//	"op:<dialect>.<opcode>"   matches a specific operation kind
type Filter struct {
	kind    filterKind
	pattern string
}

type filterKind uint8

const (
	filterAny filterKind = iota
	filterSymbol
	filterOp
)

// ParseFilter parses the filter mini-language. Malformed input yields a
// descriptive error, never a panic.
func ParseFilter(s string) (Filter, error) {
	switch {
	case s == "any":
		return Filter{kind: filterAny}, nil
	case strings.HasPrefix(s, "symbol:"):
		pattern := strings.TrimPrefix(s, "symbol:")
		if pattern == "" {
			return Filter{}, errors.Errorf("invalid filter %q: empty symbol pattern, expected \"symbol:<pattern|*>\"", s)
		}
		return Filter{kind: filterSymbol, pattern: pattern}, nil
	case strings.HasPrefix(s, "op:"):
		name := strings.TrimPrefix(s, "op:")
		dot := strings.IndexByte(name, '.')
		if dot <= 0 || dot == len(name)-1 {
			return Filter{}, errors.Errorf("invalid filter %q: expected \"op:<dialect>.<opcode>\"", s)
		}
		return Filter{kind: filterOp, pattern: name}, nil
	default:
		return Filter{}, errors.Errorf("invalid filter %q: expected \"any\", \"symbol:<pattern|*>\" or \"op:<dialect>.<opcode>\"", s)
	}
}

// Matches reports whether the filter selects op.
func (f Filter) Matches(op *Operation) bool {
	switch f.kind {
	case filterAny:
		return true
	case filterSymbol:
		sym, ok := op.Attr("sym_name")
		if !ok {
			return false
		}
		name, ok := sym.(StringAttr)
		if !ok {
			return false
		}
		return f.pattern == "*" || string(name) == f.pattern
	case filterOp:
		return op.name.full == f.pattern
	default:
		return false
	}
}

func (f Filter) String() string {
	switch f.kind {
	case filterAny:
		return "any"
	case filterSymbol:
		return "symbol:" + f.pattern
	case filterOp:
		return "op:" + f.pattern
	default:
		return "<invalid>"
	}
}
