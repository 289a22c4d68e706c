package parser

import (
	"slices"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tsc "github.com/tree-sitter/tree-sitter-c/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func cSpec() LanguageSpec {
	return LanguageSpec{
		Language:      ast.LangC,
		Extensions:    []string{".c", ".h"},
		Grammar:       tsc.Language,
		FunctionTypes: []string{"function_definition"},
		ClassTypes: map[string]ast.NodeKind{
			"struct_specifier": ast.KindStruct,
			"union_specifier":  ast.KindStruct,
			"enum_specifier":   ast.KindEnum,
		},
		DefinitionTypes: map[string]ast.NodeKind{
			"type_definition":      ast.KindTypeAlias,
			"preproc_def":          ast.KindMacro,
			"preproc_function_def": ast.KindMacro,
		},
		CallTypes:       map[string]string{"call_expression": "function"},
		ImportTypes:     []string{"preproc_include"},
		AssignmentTypes: []string{"declaration", "field_declaration"},
		Imports:         cImports,
		Variables:       cVariables,
		ClassKind:       cTypeKind,
		Visibility:      cVisibility,
	}
}

// cTypeKind keeps only specifiers with a body; the rest are type references.
func cTypeKind(n *sitter.Node, kind ast.NodeKind) ast.NodeKind {
	if n.ChildByFieldName("body") == nil {
		return ""
	}
	return kind
}

func cImports(n *sitter.Node, src []byte) importInfo {
	p := n.ChildByFieldName("path")
	if p == nil {
		return importInfo{}
	}
	return importInfo{modules: []string{unquote(nodeText(p, src))}}
}

func cVariables(n *sitter.Node, _ []byte) []binding {
	var out []binding
	for _, d := range namedChildren(n) {
		switch d.Kind() {
		case "init_declarator", "identifier", "field_identifier", "pointer_declarator", "array_declarator":
		default:
			continue
		}
		name, isFunc := declarator(d)
		if name == nil || isFunc {
			continue
		}
		out = append(out, binding{name: name, value: d.ChildByFieldName("value")})
	}
	return out
}

func cVisibility(_ string, modifiers []string) string {
	if slices.Contains(modifiers, "static") {
		return "private"
	}
	return "public"
}
