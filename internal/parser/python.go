package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func pythonSpec() LanguageSpec {
	return LanguageSpec{
		Language:         ast.LangPython,
		Extensions:       []string{".py", ".pyi"},
		Grammar:          python.Language,
		FunctionTypes:    []string{"function_definition"},
		ConstructorNames: []string{"__init__"},
		LambdaTypes:      []string{"lambda"},
		ClassTypes:       map[string]ast.NodeKind{"class_definition": ast.KindClass},
		CallTypes:        map[string]string{"call": "function"},
		ImportTypes:      []string{"import_statement", "import_from_statement"},
		AssignmentTypes:  []string{"assignment"},
		DecoratedTypes:   []string{"decorated_definition"},
		Imports:          pythonImports,
		Variables:        pythonVariables,
		Visibility:       pythonVisibility,
	}
}

func pythonImports(n *sitter.Node, src []byte) importInfo {
	var info importInfo
	if n.Kind() == "import_from_statement" {
		module := n.ChildByFieldName("module_name")
		if module != nil {
			info.modules = append(info.modules, nodeText(module, src))
		}
		for _, c := range namedChildren(n) {
			if sameNode(c, module) {
				continue
			}
			switch c.Kind() {
			case "dotted_name", "identifier":
				info.names = append(info.names, nodeText(c, src))
			case "aliased_import":
				info.names = append(info.names, nodeText(c.ChildByFieldName("name"), src))
				info.alias = nodeText(c.ChildByFieldName("alias"), src)
			case "wildcard_import":
				info.names = append(info.names, "*")
			}
		}
		return info
	}
	for _, c := range namedChildren(n) {
		switch c.Kind() {
		case "dotted_name":
			info.modules = append(info.modules, nodeText(c, src))
		case "aliased_import":
			info.modules = append(info.modules, nodeText(c.ChildByFieldName("name"), src))
			info.alias = nodeText(c.ChildByFieldName("alias"), src)
		}
	}
	return info
}

func pythonVariables(n *sitter.Node, src []byte) []binding {
	left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
	if left == nil {
		return nil
	}
	switch left.Kind() {
	case "identifier":
		return []binding{{name: left, value: right}}
	case "pattern_list", "tuple_pattern", "list_pattern":
		var out []binding
		for _, c := range namedChildren(left) {
			if c.Kind() == "identifier" {
				out = append(out, binding{name: c})
			}
		}
		return out
	}
	return nil
}

func pythonVisibility(name string, _ []string) string {
	switch {
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return "public"
	case strings.HasPrefix(name, "_"):
		return "private"
	}
	return "public"
}
