package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func javaSpec() LanguageSpec {
	return LanguageSpec{
		Language:         ast.LangJava,
		Extensions:       []string{".java"},
		Grammar:          java.Language,
		MethodTypes:      []string{"method_declaration"},
		ConstructorTypes: []string{"constructor_declaration", "compact_constructor_declaration"},
		LambdaTypes:      []string{"lambda_expression"},
		ClassTypes: map[string]ast.NodeKind{
			"class_declaration":           ast.KindClass,
			"record_declaration":          ast.KindClass,
			"interface_declaration":       ast.KindInterface,
			"enum_declaration":            ast.KindEnum,
			"annotation_type_declaration": ast.KindAnnotation,
		},
		DefinitionTypes: map[string]ast.NodeKind{"package_declaration": ast.KindPackage},
		CallTypes: map[string]string{
			"method_invocation":          "name",
			"object_creation_expression": "type",
		},
		ImportTypes:     []string{"import_declaration"},
		AssignmentTypes: []string{"field_declaration", "constant_declaration"},
		BaseKinds:       []string{"superclass", "super_interfaces", "extends_interfaces"},
		Imports:         javaImports,
		Variables:       declaratorVariables,
		Visibility:      func(string, []string) string { return "package" },
	}
}

func javaImports(n *sitter.Node, src []byte) importInfo {
	path := childOfKind(n, "scoped_identifier", "identifier")
	if path == nil {
		return importInfo{}
	}
	module := nodeText(path, src)
	info := importInfo{modules: []string{module}}
	if childOfKind(n, "asterisk") != nil {
		info.names = []string{"*"}
		return info
	}
	if i := strings.LastIndex(module, "."); i >= 0 {
		info.names = []string{module[i+1:]}
	} else {
		info.names = []string{module}
	}
	return info
}

// declaratorVariables reads variable_declarator children, as used by Java fields.
func declaratorVariables(n *sitter.Node, _ []byte) []binding {
	var out []binding
	for _, d := range namedChildren(n) {
		if d.Kind() != "variable_declarator" {
			continue
		}
		if name := d.ChildByFieldName("name"); name != nil {
			out = append(out, binding{name: name, value: d.ChildByFieldName("value")})
		}
	}
	return out
}
