package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/lattice/internal/ast"
)

const maxSignatureLen = 200

var nameKinds = map[string]bool{
	"identifier":                            true,
	"type_identifier":                       true,
	"field_identifier":                      true,
	"property_identifier":                   true,
	"private_property_identifier":           true,
	"shorthand_property_identifier":         true,
	"shorthand_property_identifier_pattern": true,
	"package_identifier":                    true,
	"constant":                              true,
	"name":                                  true,
	"namespace_name":                        true,
	"qualified_name":                        true,
	"scoped_identifier":                     true,
	"scope_resolution":                      true,
	"variable_name":                         true,
	"simple_identifier":                     true,
}

func isNameKind(kind string) bool {
	return nameKinds[kind]
}

// nodeText returns the source text covered by n.
func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

// textName cleans a name node's text: sigils and whitespace are dropped.
func textName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	if n.Kind() == "self_parameter" {
		return "self"
	}
	return strings.TrimLeft(strings.TrimSpace(nodeText(n, src)), "$*&@")
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Kind() == b.Kind()
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := n.NamedChildCount()
	out := make([]*sitter.Node, 0, count)
	for i := uint(0); i < count; i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func firstNamedChild(n *sitter.Node) *sitter.Node {
	if n == nil || n.NamedChildCount() == 0 {
		return nil
	}
	return n.NamedChild(0)
}

func childOfKind(n *sitter.Node, kinds ...string) *sitter.Node {
	for _, c := range namedChildren(n) {
		for _, k := range kinds {
			if c.Kind() == k {
				return c
			}
		}
	}
	return nil
}

// declarator follows a C style declarator chain down to the declared name.
// isFunc reports whether a function declarator was crossed.
func declarator(n *sitter.Node) (name *sitter.Node, isFunc bool) {
	cur := n
	for i := 0; cur != nil && i < 16; i++ {
		if isNameKind(cur.Kind()) {
			return cur, isFunc
		}
		if cur.Kind() == "function_declarator" {
			isFunc = true
		}
		next := cur.ChildByFieldName("declarator")
		if next == nil {
			next = firstNamedChild(cur)
		}
		cur = next
	}
	return nil, isFunc
}

// nameNode finds the node naming a definition.
func nameNode(n *sitter.Node) *sitter.Node {
	if c := n.ChildByFieldName("name"); c != nil {
		return c
	}
	if d := n.ChildByFieldName("declarator"); d != nil {
		if name, _ := declarator(d); name != nil {
			return name
		}
	}
	for _, c := range namedChildren(n) {
		if isNameKind(c.Kind()) {
			return c
		}
	}
	return nil
}

func nameOf(n *sitter.Node, src []byte) string {
	return textName(nameNode(n), src)
}

// paramsNode locates a callable's parameter list.
func paramsNode(n *sitter.Node) *sitter.Node {
	if p := n.ChildByFieldName("parameters"); p != nil {
		return p
	}
	if p := n.ChildByFieldName("parameter"); p != nil {
		return p
	}
	cur := n.ChildByFieldName("declarator")
	for i := 0; cur != nil && i < 8; i++ {
		if p := cur.ChildByFieldName("parameters"); p != nil {
			return p
		}
		cur = cur.ChildByFieldName("declarator")
	}
	return nil
}

// paramNames returns the name nodes a single parameter declares.
func paramNames(p *sitter.Node, depth int) []*sitter.Node {
	if p == nil || depth > 6 {
		return nil
	}
	kind := p.Kind()
	switch {
	case isNameKind(kind), kind == "self_parameter", kind == "self":
		return []*sitter.Node{p}
	case kind == "comment":
		return nil
	case kind == "parameter_declaration" || kind == "variadic_parameter_declaration":
		if d := p.ChildByFieldName("declarator"); d != nil {
			if name, _ := declarator(d); name != nil {
				return []*sitter.Node{name}
			}
			return nil
		}
		var names []*sitter.Node
		for _, c := range namedChildren(p) {
			if c.Kind() == "identifier" {
				names = append(names, c)
			}
		}
		return names
	}
	for _, field := range []string{"name", "pattern", "left", "declarator"} {
		if c := p.ChildByFieldName(field); c != nil {
			return paramNames(c, depth+1)
		}
	}
	var names []*sitter.Node
	for _, c := range namedChildren(p) {
		if isNameKind(c.Kind()) {
			names = append(names, c)
		}
	}
	if len(names) > 0 {
		return names
	}
	for _, c := range namedChildren(p) {
		if found := paramNames(c, depth+1); len(found) > 0 {
			return found
		}
	}
	return nil
}

// signature is the definition's header: its text up to the body, on one line.
func signature(n *sitter.Node, src []byte) string {
	end := n.EndByte()
	if body := n.ChildByFieldName("body"); body != nil {
		end = body.StartByte()
	}
	sig := strings.Join(strings.Fields(string(src[n.StartByte():end])), " ")
	sig = strings.TrimRight(sig, " {:=>")
	return truncate(sig, maxSignatureLen)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// baseNames collects the type names listed in a superclass or interface clause.
func baseNames(n *sitter.Node, src []byte, depth int) []string {
	if n == nil || depth > 12 {
		return nil
	}
	switch n.Kind() {
	case "identifier", "type_identifier", "constant", "name":
		return []string{nodeText(n, src)}
	case "attribute":
		return baseNames(n.ChildByFieldName("attribute"), src, depth+1)
	case "member_expression":
		return baseNames(n.ChildByFieldName("property"), src, depth+1)
	case "property_identifier":
		return []string{nodeText(n, src)}
	case "scoped_type_identifier", "scoped_identifier", "scope_resolution":
		return baseNames(n.ChildByFieldName("name"), src, depth+1)
	case "qualified_name":
		children := namedChildren(n)
		if len(children) == 0 {
			return nil
		}
		return baseNames(children[len(children)-1], src, depth+1)
	case "generic_type":
		return baseNames(firstNamedChild(n), src, depth+1)
	case "keyword_argument", "type_arguments", "type_parameters", "comment":
		return nil
	}
	var out []string
	for _, c := range namedChildren(n) {
		out = append(out, baseNames(c, src, depth+1)...)
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`<>")
}

// firstString returns the unquoted text of the first string literal under n.
func firstString(n *sitter.Node, src []byte, depth int) string {
	if n == nil || depth > 4 {
		return ""
	}
	switch n.Kind() {
	case "string", "string_literal", "interpreted_string_literal", "raw_string_literal",
		"encapsed_string", "system_lib_string", "template_string":
		return unquote(nodeText(n, src))
	}
	for _, c := range namedChildren(n) {
		if s := firstString(c, src, depth+1); s != "" {
			return s
		}
	}
	return ""
}

// spanOf converts a syntax node's range into a Span.
func spanOf(n *sitter.Node) ast.Span {
	start, end := n.StartPosition(), n.EndPosition()
	return ast.Span{
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		StartLine: int(start.Row) + 1,
		EndLine:   int(end.Row) + 1,
		StartCol:  int(start.Column) + 1,
		EndCol:    int(end.Column) + 1,
	}
}

// fileSpan covers the whole source.
func fileSpan(src []byte) ast.Span {
	end := pointAt(src, len(src))
	return ast.Span{
		StartByte: 0,
		EndByte:   len(src),
		StartLine: 1,
		EndLine:   int(end.Row) + 1,
		StartCol:  1,
		EndCol:    int(end.Column) + 1,
	}
}
