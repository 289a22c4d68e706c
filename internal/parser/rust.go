package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func rustSpec() LanguageSpec {
	return LanguageSpec{
		Language:      ast.LangRust,
		Extensions:    []string{".rs"},
		Grammar:       rust.Language,
		FunctionTypes: []string{"function_item", "function_signature_item"},
		LambdaTypes:   []string{"closure_expression"},
		ClassTypes: map[string]ast.NodeKind{
			"struct_item": ast.KindStruct,
			"union_item":  ast.KindStruct,
			"enum_item":   ast.KindEnum,
			"trait_item":  ast.KindTrait,
		},
		ContainerTypes: map[string]ast.NodeKind{"mod_item": ast.KindNamespace},
		ImplTypes:      map[string]string{"impl_item": "type"},
		DefinitionTypes: map[string]ast.NodeKind{
			"type_item":        ast.KindTypeAlias,
			"macro_definition": ast.KindMacro,
		},
		CallTypes: map[string]string{
			"call_expression":  "function",
			"macro_invocation": "macro",
		},
		ImportTypes:     []string{"use_declaration"},
		AssignmentTypes: []string{"const_item", "static_item", "field_declaration"},
		BaseKinds:       []string{"trait_bounds"},
		Imports:         rustImports,
		Variables:       rustVariables,
		Visibility:      func(string, []string) string { return "private" },
	}
}

func rustImports(n *sitter.Node, src []byte) importInfo {
	arg := n.ChildByFieldName("argument")
	if arg == nil {
		return importInfo{}
	}
	info := importInfo{modules: []string{strings.Join(strings.Fields(nodeText(arg, src)), "")}}
	var collect func(c *sitter.Node)
	collect = func(c *sitter.Node) {
		switch c.Kind() {
		case "identifier":
			info.names = append(info.names, nodeText(c, src))
		case "scoped_identifier":
			if name := c.ChildByFieldName("name"); name != nil {
				info.names = append(info.names, nodeText(name, src))
			}
		case "use_as_clause":
			if p := c.ChildByFieldName("path"); p != nil {
				collect(p)
			}
			if alias := c.ChildByFieldName("alias"); alias != nil {
				info.alias = nodeText(alias, src)
			}
		case "scoped_use_list":
			if list := c.ChildByFieldName("list"); list != nil {
				collect(list)
			}
		case "use_list":
			for _, cc := range namedChildren(c) {
				collect(cc)
			}
		case "use_wildcard":
			info.names = append(info.names, "*")
		}
	}
	collect(arg)
	return info
}

func rustVariables(n *sitter.Node, _ []byte) []binding {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	return []binding{{name: name, value: n.ChildByFieldName("value")}}
}
