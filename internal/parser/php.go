package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	php "github.com/tree-sitter/tree-sitter-php/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func phpSpec() LanguageSpec {
	return LanguageSpec{
		Language:         ast.LangPHP,
		Extensions:       []string{".php"},
		Grammar:          php.LanguagePHP,
		FunctionTypes:    []string{"function_definition"},
		MethodTypes:      []string{"method_declaration"},
		ConstructorNames: []string{"__construct"},
		LambdaTypes:      []string{"anonymous_function", "anonymous_function_creation_expression", "arrow_function"},
		ClassTypes: map[string]ast.NodeKind{
			"class_declaration":     ast.KindClass,
			"interface_declaration": ast.KindInterface,
			"trait_declaration":     ast.KindTrait,
			"enum_declaration":      ast.KindEnum,
		},
		ContainerTypes: map[string]ast.NodeKind{"namespace_definition": ast.KindNamespace},
		CallTypes: map[string]string{
			"function_call_expression":        "function",
			"member_call_expression":          "name",
			"nullsafe_member_call_expression": "name",
			"scoped_call_expression":          "name",
			"object_creation_expression":      "",
		},
		ImportTypes: []string{
			"namespace_use_declaration",
			"include_expression", "include_once_expression",
			"require_expression", "require_once_expression",
		},
		AssignmentTypes: []string{"const_declaration", "property_declaration", "assignment_expression"},
		BaseKinds:       []string{"base_clause", "class_interface_clause"},
		Imports:         phpImports,
		Variables:       phpVariables,
		Visibility:      func(string, []string) string { return "public" },
	}
}

func phpImports(n *sitter.Node, src []byte) importInfo {
	if n.Kind() != "namespace_use_declaration" {
		if module := firstString(n, src, 0); module != "" {
			return importInfo{modules: []string{module}}
		}
		return importInfo{}
	}
	var info importInfo
	for _, clause := range namedChildren(n) {
		if clause.Kind() != "namespace_use_clause" {
			continue
		}
		target := childOfKind(clause, "qualified_name", "name")
		if target == nil {
			continue
		}
		module := strings.TrimLeft(nodeText(target, src), `\`)
		info.modules = append(info.modules, module)
		if i := strings.LastIndex(module, `\`); i >= 0 {
			info.names = append(info.names, module[i+1:])
		} else {
			info.names = append(info.names, module)
		}
		if alias := clause.ChildByFieldName("alias"); alias != nil {
			info.alias = nodeText(alias, src)
		} else if aliasing := childOfKind(clause, "namespace_aliasing_clause"); aliasing != nil {
			info.alias = nodeText(childOfKind(aliasing, "name"), src)
		}
	}
	return info
}

func phpVariables(n *sitter.Node, _ []byte) []binding {
	switch n.Kind() {
	case "assignment_expression":
		left := n.ChildByFieldName("left")
		if left == nil || left.Kind() != "variable_name" {
			return nil
		}
		return []binding{{name: left, value: n.ChildByFieldName("right")}}
	case "const_declaration":
		var out []binding
		for _, el := range namedChildren(n) {
			if el.Kind() != "const_element" {
				continue
			}
			children := namedChildren(el)
			if len(children) == 0 || children[0].Kind() != "name" {
				continue
			}
			b := binding{name: children[0]}
			if len(children) > 1 {
				b.value = children[1]
			}
			out = append(out, b)
		}
		return out
	case "property_declaration":
		var out []binding
		for _, el := range namedChildren(n) {
			if el.Kind() != "property_element" {
				continue
			}
			name := el.ChildByFieldName("name")
			if name == nil {
				name = childOfKind(el, "variable_name")
			}
			if name != nil {
				out = append(out, binding{name: name})
			}
		}
		return out
	}
	return nil
}
