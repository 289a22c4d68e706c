package ast

import "fmt"

// Span locates a construct in its file. Bytes are 0-indexed and end-exclusive;
// lines and columns are 1-indexed.
type Span struct {
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartCol  int `json:"start_col"`
	EndCol    int `json:"end_col"`
}

// Valid reports whether the span is well ordered.
func (s Span) Valid() bool {
	return s.StartByte >= 0 && s.StartByte <= s.EndByte && s.StartLine <= s.EndLine
}

// Len returns the number of bytes covered.
func (s Span) Len() int {
	return s.EndByte - s.StartByte
}

// Contains reports whether other lies entirely inside s.
func (s Span) Contains(other Span) bool {
	return s.StartByte <= other.StartByte && other.EndByte <= s.EndByte
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", s.StartLine, s.StartCol, s.EndLine, s.EndCol)
}
