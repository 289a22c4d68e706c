package parser

import (
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// AnonymousCall names a call whose callee has no usable identifier.
const AnonymousCall = "anonymous_call"

var identRun = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// callName derives a call's name from its callee expression. The result is
// never empty, always holds an identifier character and is never a bare
// parenthesis.
func callName(target *sitter.Node, src []byte) string {
	if name := calleeName(target, src, 0); validCallName(name) {
		return name
	}
	if target != nil {
		if runs := identRun.FindAllString(nodeText(target, src), -1); len(runs) > 0 {
			return runs[len(runs)-1]
		}
	}
	return AnonymousCall
}

func calleeName(n *sitter.Node, src []byte, depth int) string {
	if n == nil || depth > 16 {
		return ""
	}
	switch n.Kind() {
	case "identifier", "field_identifier", "property_identifier", "private_property_identifier",
		"type_identifier", "constant", "name", "simple_identifier":
		return textName(n, src)
	case "attribute":
		return calleeName(n.ChildByFieldName("attribute"), src, depth+1)
	case "member_expression":
		return calleeName(n.ChildByFieldName("property"), src, depth+1)
	case "selector_expression", "field_expression":
		return calleeName(n.ChildByFieldName("field"), src, depth+1)
	case "scoped_identifier", "scoped_type_identifier", "scope_resolution", "member_access_expression":
		return calleeName(n.ChildByFieldName("name"), src, depth+1)
	case "qualified_name", "namespace_name":
		children := namedChildren(n)
		if len(children) == 0 {
			return ""
		}
		return calleeName(children[len(children)-1], src, depth+1)
	case "subscript", "subscript_expression", "index_expression", "element_reference":
		for _, field := range []string{"value", "object", "operand"} {
			if c := n.ChildByFieldName(field); c != nil {
				return calleeName(c, src, depth+1)
			}
		}
		return calleeName(firstNamedChild(n), src, depth+1)
	case "call", "call_expression":
		if c := n.ChildByFieldName("function"); c != nil {
			return calleeName(c, src, depth+1)
		}
		return calleeName(n.ChildByFieldName("method"), src, depth+1)
	case "generic_function", "generic_type":
		if c := n.ChildByFieldName("function"); c != nil {
			return calleeName(c, src, depth+1)
		}
		return calleeName(firstNamedChild(n), src, depth+1)
	case "parenthesized_expression", "non_null_expression", "await_expression":
		return calleeName(firstNamedChild(n), src, depth+1)
	case "lambda", "arrow_function", "function_expression", "func_literal", "closure_expression",
		"anonymous_function", "lambda_expression":
		return AnonymousCall
	case "variable_name":
		return strings.TrimPrefix(nodeText(n, src), "$")
	}
	return ""
}

func validCallName(name string) bool {
	if name == "" || name == "(" || name == ")" {
		return false
	}
	return identRun.MatchString(name) || strings.ContainsAny(name, "0123456789")
}
