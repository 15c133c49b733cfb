package ir

import "fmt"

// SourceSpan identifies a half-open byte range in the original source the IR
// was derived from. The zero value is the unknown span.
type SourceSpan struct {
	Start uint32
	End   uint32
}

// UnknownSpan is used for synthesized operations with no source location.
var UnknownSpan = SourceSpan{}

func (s SourceSpan) IsUnknown() bool {
	return s.Start == 0 && s.End == 0
}

func (s SourceSpan) String() string {
	if s.IsUnknown() {
		return "<unknown>"
	}
	return fmt.Sprintf("%d..%d", s.Start, s.End)
}
