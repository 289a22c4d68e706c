package ast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for NodeID:
// - Same inputs produce the same id
// - Changing any of repo, path, span or kind changes the id
// - Moving characters between repo and path changes the id
// - Path normalization makes equivalent paths hash identically
// - Hex form is 32 lowercase characters and round-trips
// - Malformed hex is rejected with ErrInvalidNodeID
// - JSON encodes ids as hex strings

func testSpan() Span {
	return Span{StartByte: 10, EndByte: 42, StartLine: 2, EndLine: 4, StartCol: 1, EndCol: 9}
}

func TestNewNodeID_Deterministic(t *testing.T) {
	t.Parallel()

	a := NewNodeID("repo", "pkg/a.py", testSpan(), KindFunction)
	b := NewNodeID("repo", "pkg/a.py", testSpan(), KindFunction)
	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestNewNodeID_Sensitivity(t *testing.T) {
	t.Parallel()

	base := NewNodeID("repo", "pkg/a.py", testSpan(), KindFunction)

	shifted := testSpan()
	shifted.EndByte++

	tests := []struct {
		name string
		id   NodeID
	}{
		{"repo", NewNodeID("other", "pkg/a.py", testSpan(), KindFunction)},
		{"path", NewNodeID("repo", "pkg/b.py", testSpan(), KindFunction)},
		{"span", NewNodeID("repo", "pkg/a.py", shifted, KindFunction)},
		{"kind", NewNodeID("repo", "pkg/a.py", testSpan(), KindMethod)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.id)
		})
	}
}

func TestNewNodeID_RepoPathBoundary(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t,
		NewNodeID("app", "sx.py", testSpan(), KindFunction),
		NewNodeID("apps", "x.py", testSpan(), KindFunction))
	assert.NotEqual(t,
		NewNodeID("", "repo/a.py", testSpan(), KindFunction),
		NewNodeID("repo/", "a.py", testSpan(), KindFunction))
}

func TestNewNodeID_LineChangeOnlyKeepsID(t *testing.T) {
	t.Parallel()

	// Lines and columns are not part of the identity.
	s1 := testSpan()
	s2 := testSpan()
	s2.StartLine, s2.EndLine = 7, 9
	assert.Equal(t,
		NewNodeID("repo", "a.py", s1, KindCall),
		NewNodeID("repo", "a.py", s2, KindCall))
}

func TestNewNodeID_PathNormalization(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		NewNodeID("repo", "pkg/a.py", testSpan(), KindClass),
		NewNodeID("repo", "pkg/./sub/../a.py", testSpan(), KindClass))
}

func TestNodeID_HexRoundTrip(t *testing.T) {
	t.Parallel()

	id := NewNodeID("repo", "main.go", testSpan(), KindFunction)
	s := id.String()
	require.Len(t, s, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", s)

	parsed, err := ParseNodeID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseNodeID_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "zz" + string(make([]byte, 30)), "0123456789abcdef0123456789abcdeg"} {
		_, err := ParseNodeID(in)
		assert.ErrorIs(t, err, ErrInvalidNodeID, "input %q", in)
	}
}

func TestNodeID_JSON(t *testing.T) {
	t.Parallel()

	n := NewNode("repo", KindFunction, "foo", LangPython, "a.py", testSpan())
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"`+n.ID.String()+`"`)

	var decoded Node
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, n.Equal(decoded))
}
