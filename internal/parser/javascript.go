package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func javascriptSpec() LanguageSpec {
	return LanguageSpec{
		Language:   ast.LangJavaScript,
		Extensions: []string{".js", ".mjs", ".cjs", ".jsx"},
		Grammar:    javascript.Language,
		FunctionTypes: []string{
			"function_declaration",
			"generator_function_declaration",
		},
		MethodTypes:      []string{"method_definition"},
		ConstructorNames: []string{"constructor"},
		LambdaTypes:      []string{"arrow_function", "function_expression", "generator_function"},
		ClassTypes:       map[string]ast.NodeKind{"class_declaration": ast.KindClass},
		CallTypes: map[string]string{
			"call_expression": "function",
			"new_expression":  "constructor",
		},
		ImportTypes:     []string{"import_statement"},
		ImportCalls:     []string{"require"},
		AssignmentTypes: []string{"lexical_declaration", "variable_declaration", "field_definition"},
		BaseKinds:       []string{"class_heritage"},
		Imports:         jsImports,
		Variables:       jsVariables,
	}
}

func typescriptSpec() LanguageSpec {
	spec := javascriptSpec()
	spec.Language = ast.LangTypeScript
	spec.Extensions = []string{".ts", ".mts", ".cts"}
	spec.Grammar = typescript.LanguageTypescript
	spec.FunctionTypes = append(spec.FunctionTypes, "function_signature")
	spec.MethodTypes = append(spec.MethodTypes, "method_signature", "abstract_method_signature")
	spec.ClassTypes = map[string]ast.NodeKind{
		"class_declaration":          ast.KindClass,
		"abstract_class_declaration": ast.KindClass,
		"interface_declaration":      ast.KindInterface,
		"enum_declaration":           ast.KindEnum,
	}
	spec.ContainerTypes = map[string]ast.NodeKind{
		"internal_module": ast.KindNamespace,
		"module":          ast.KindNamespace,
	}
	spec.DefinitionTypes = map[string]ast.NodeKind{"type_alias_declaration": ast.KindTypeAlias}
	spec.AssignmentTypes = append(spec.AssignmentTypes, "public_field_definition")
	spec.BaseKinds = []string{"class_heritage", "extends_type_clause"}
	return spec
}

func tsxSpec() LanguageSpec {
	spec := typescriptSpec()
	spec.Language = ast.LangTSX
	spec.Extensions = []string{".tsx"}
	spec.Grammar = typescript.LanguageTSX
	return spec
}

func jsImports(n *sitter.Node, src []byte) importInfo {
	var info importInfo
	if source := n.ChildByFieldName("source"); source != nil {
		info.modules = append(info.modules, unquote(nodeText(source, src)))
	}
	var collect func(c *sitter.Node)
	collect = func(c *sitter.Node) {
		switch c.Kind() {
		case "identifier":
			info.names = append(info.names, nodeText(c, src))
		case "import_specifier":
			info.names = append(info.names, unquote(nodeText(c.ChildByFieldName("name"), src)))
			if alias := c.ChildByFieldName("alias"); alias != nil {
				info.alias = nodeText(alias, src)
			}
		case "namespace_import":
			if id := childOfKind(c, "identifier"); id != nil {
				info.alias = nodeText(id, src)
			}
		case "import_clause", "named_imports":
			for _, cc := range namedChildren(c) {
				collect(cc)
			}
		}
	}
	if clause := childOfKind(n, "import_clause"); clause != nil {
		collect(clause)
	}
	return info
}

func jsVariables(n *sitter.Node, src []byte) []binding {
	switch n.Kind() {
	case "field_definition":
		if name := n.ChildByFieldName("property"); name != nil {
			return []binding{{name: name, value: n.ChildByFieldName("value")}}
		}
		return nil
	case "public_field_definition":
		if name := n.ChildByFieldName("name"); name != nil {
			return []binding{{name: name, value: n.ChildByFieldName("value")}}
		}
		return nil
	}
	var out []binding
	for _, d := range namedChildren(n) {
		if d.Kind() != "variable_declarator" {
			continue
		}
		name := d.ChildByFieldName("name")
		if name == nil || !isNameKind(name.Kind()) {
			continue
		}
		out = append(out, binding{name: name, value: d.ChildByFieldName("value")})
	}
	return out
}
