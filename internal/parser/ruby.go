package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"

	"github.com/mvp-joe/lattice/internal/ast"
)

func rubySpec() LanguageSpec {
	return LanguageSpec{
		Language:         ast.LangRuby,
		Extensions:       []string{".rb"},
		Grammar:          ruby.Language,
		FunctionTypes:    []string{"method"},
		MethodTypes:      []string{"singleton_method"},
		ConstructorNames: []string{"initialize"},
		LambdaTypes:      []string{"lambda"},
		ClassTypes: map[string]ast.NodeKind{
			"class":  ast.KindClass,
			"module": ast.KindNamespace,
		},
		CallTypes:       map[string]string{"call": "method"},
		ImportCalls:     []string{"require", "require_relative", "load"},
		AssignmentTypes: []string{"assignment"},
		BaseKinds:       []string{"superclass"},
		Variables:       rubyVariables,
		Visibility:      func(string, []string) string { return "public" },
	}
}

func rubyVariables(n *sitter.Node, _ []byte) []binding {
	left := n.ChildByFieldName("left")
	if left == nil {
		return nil
	}
	switch left.Kind() {
	case "identifier", "constant":
		return []binding{{name: left, value: n.ChildByFieldName("right")}}
	}
	return nil
}
