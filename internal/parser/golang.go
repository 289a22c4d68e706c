package parser

import (
	"unicode"
	"unicode/utf8"

	sitter "github.com/tree-sitter/go-tree-sitter"
	golang "github.com/tree-sitter/tree-sitter-go/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func goSpec() LanguageSpec {
	return LanguageSpec{
		Language:      ast.LangGo,
		Extensions:    []string{".go"},
		Grammar:       golang.Language,
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration", "method_elem", "method_spec"},
		LambdaTypes:   []string{"func_literal"},
		ClassTypes:    map[string]ast.NodeKind{"type_spec": ast.KindStruct},
		DefinitionTypes: map[string]ast.NodeKind{
			"type_alias":     ast.KindTypeAlias,
			"package_clause": ast.KindPackage,
		},
		CallTypes:       map[string]string{"call_expression": "function"},
		ImportTypes:     []string{"import_declaration"},
		AssignmentTypes: []string{"var_declaration", "const_declaration", "field_declaration"},
		Imports:         goImports,
		Variables:       goVariables,
		ClassKind:       goTypeKind,
		Visibility:      goVisibility,
	}
}

// goTypeKind classifies a type spec by its underlying type.
func goTypeKind(n *sitter.Node, _ ast.NodeKind) ast.NodeKind {
	t := n.ChildByFieldName("type")
	if t == nil {
		return ast.KindTypeAlias
	}
	switch t.Kind() {
	case "struct_type":
		return ast.KindStruct
	case "interface_type":
		return ast.KindInterface
	}
	return ast.KindTypeAlias
}

func goImports(n *sitter.Node, src []byte) importInfo {
	var info importInfo
	var collect func(c *sitter.Node)
	collect = func(c *sitter.Node) {
		switch c.Kind() {
		case "import_spec":
			if p := c.ChildByFieldName("path"); p != nil {
				info.modules = append(info.modules, unquote(nodeText(p, src)))
			}
			if alias := c.ChildByFieldName("name"); alias != nil {
				info.alias = nodeText(alias, src)
			}
		case "import_spec_list":
			for _, cc := range namedChildren(c) {
				collect(cc)
			}
		}
	}
	for _, c := range namedChildren(n) {
		collect(c)
	}
	return info
}

func goVariables(n *sitter.Node, _ []byte) []binding {
	if n.Kind() == "field_declaration" {
		var out []binding
		for _, c := range namedChildren(n) {
			if c.Kind() == "field_identifier" {
				out = append(out, binding{name: c})
			}
		}
		return out
	}
	var out []binding
	var collect func(c *sitter.Node)
	collect = func(c *sitter.Node) {
		switch c.Kind() {
		case "var_spec", "const_spec":
			for _, id := range namedChildren(c) {
				if id.Kind() == "identifier" {
					out = append(out, binding{name: id})
				}
			}
		case "var_spec_list", "const_spec_list":
			for _, cc := range namedChildren(c) {
				collect(cc)
			}
		}
	}
	for _, c := range namedChildren(n) {
		collect(c)
	}
	return out
}

func goVisibility(name string, _ []string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return "public"
	}
	return "private"
}
