package parser

import (
	"context"
	"path"
	"slices"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/lattice/internal/ast"
)

// DefaultMaxDepth bounds how deep the mapper descends into a syntax tree.
const DefaultMaxDepth = 512

const ctxCheckInterval = 1024

// Metadata keys set by the mapper.
const (
	MetaBases      = "bases"
	MetaModule     = "module"
	MetaNames      = "names"
	MetaAlias      = "alias"
	MetaCallee     = "callee"
	MetaReceiver   = "receiver"
	MetaModifiers  = "modifiers"
	MetaVisibility = "visibility"
	MetaDecorators = "decorators"
	MetaAsync      = "async"
)

var modifierTokens = map[string]bool{
	"async": true, "static": true, "abstract": true, "final": true, "public": true,
	"private": true, "protected": true, "readonly": true, "override": true,
	"const": true, "unsafe": true, "extern": true, "inline": true, "get": true, "set": true,
}

var modifierGroups = map[string]bool{
	"modifiers": true, "function_modifiers": true, "visibility_modifier": true,
	"accessibility_modifier": true, "static_modifier": true, "abstract_modifier": true,
	"final_modifier": true, "readonly_modifier": true, "storage_class_specifier": true,
	"override_modifier": true,
}

var decoratorKinds = map[string]bool{
	"decorator": true, "marker_annotation": true, "annotation": true, "attribute_list": true,
}

type scope struct {
	node      ast.Node
	classLike bool
	callable  bool
	receiver  string
}

// mapper turns one syntax tree into universal nodes and edges. It is bound to
// a single file and discarded after use.
type mapper struct {
	ctx      context.Context
	lang     *language
	repoID   string
	file     string
	src      []byte
	maxDepth int

	nodes     []ast.Node
	edges     []ast.Edge
	seenNodes map[ast.NodeID]struct{}
	seenEdges map[ast.Edge]struct{}

	scopes     []scope
	decorators []string
	steps      int
	err        error
}

func newMapper(ctx context.Context, lang *language, repoID, file string, src []byte, maxDepth int) *mapper {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &mapper{
		ctx:       ctx,
		lang:      lang,
		repoID:    repoID,
		file:      ast.NormalizePath(file),
		src:       src,
		maxDepth:  maxDepth,
		seenNodes: make(map[ast.NodeID]struct{}),
		seenEdges: make(map[ast.Edge]struct{}),
	}
}

// extract walks the tree rooted at root. It returns the context error if the
// walk was interrupted.
func (m *mapper) extract(root *sitter.Node) ([]ast.Node, []ast.Edge, error) {
	base := path.Base(m.file)
	stem := strings.TrimSuffix(base, path.Ext(base))
	module := m.newNode(ast.KindModule, stem, fileSpan(m.src))
	m.emit(module)
	m.scopes = append(m.scopes, scope{node: module})

	for _, child := range namedChildren(root) {
		m.walk(child, 1)
		if m.err != nil {
			return nil, nil, m.err
		}
	}
	return m.nodes, m.edges, nil
}

func (m *mapper) walk(n *sitter.Node, depth int) {
	if m.err != nil || depth > m.maxDepth {
		return
	}
	m.steps++
	if m.steps%ctxCheckInterval == 0 {
		if err := m.ctx.Err(); err != nil {
			m.err = err
			return
		}
	}

	kind := n.Kind()
	l := m.lang
	switch {
	case l.decorated[kind]:
		m.decorators = append(m.decorators, m.decoratorNames(n)...)
		m.walkChildren(n, depth)
		m.decorators = nil
	case l.functions[kind] || l.methods[kind] || l.constructors[kind]:
		m.callable(n, depth)
	case l.lambdas[kind]:
		m.lambda(n, depth)
	case l.spec.ClassTypes[kind] != "":
		m.class(n, l.spec.ClassTypes[kind], true, depth)
	case l.spec.ContainerTypes[kind] != "":
		m.class(n, l.spec.ContainerTypes[kind], false, depth)
	case l.spec.ImplTypes[kind] != "":
		m.impl(n, l.spec.ImplTypes[kind], depth)
	case l.spec.DefinitionTypes[kind] != "":
		m.definition(n, l.spec.DefinitionTypes[kind])
	case l.imports[kind]:
		m.importNode(n)
	case l.assignments[kind]:
		m.variables(n)
		m.walkChildren(n, depth)
	default:
		if field, ok := l.spec.CallTypes[kind]; ok {
			m.call(n, field)
		}
		m.walkChildren(n, depth)
	}
}

func (m *mapper) walkChildren(n *sitter.Node, depth int) {
	for _, child := range namedChildren(n) {
		m.walk(child, depth+1)
	}
}

func (m *mapper) newNode(kind ast.NodeKind, name string, span ast.Span) ast.Node {
	return ast.NewNode(m.repoID, kind, name, m.lang.spec.Language, m.file, span)
}

func (m *mapper) emit(n ast.Node) bool {
	if _, dup := m.seenNodes[n.ID]; dup {
		return false
	}
	m.seenNodes[n.ID] = struct{}{}
	m.nodes = append(m.nodes, n)
	return true
}

func (m *mapper) link(source, target ast.NodeID, kind ast.EdgeKind) {
	e := ast.NewEdge(source, target, kind)
	if _, dup := m.seenEdges[e]; dup {
		return
	}
	m.seenEdges[e] = struct{}{}
	m.edges = append(m.edges, e)
}

func (m *mapper) top() scope {
	return m.scopes[len(m.scopes)-1]
}

func (m *mapper) module() ast.Node {
	return m.scopes[0].node
}

// caller is the nearest enclosing callable, or the module.
func (m *mapper) caller() ast.Node {
	for i := len(m.scopes) - 1; i > 0; i-- {
		if m.scopes[i].callable {
			return m.scopes[i].node
		}
	}
	return m.module()
}

func (m *mapper) receiver() string {
	for i := len(m.scopes) - 1; i > 0; i-- {
		s := m.scopes[i]
		if s.callable {
			return ""
		}
		if s.classLike {
			if s.receiver != "" {
				return s.receiver
			}
			return s.node.Name
		}
	}
	return ""
}

func (m *mapper) callable(n *sitter.Node, depth int) {
	l := m.lang
	kind := n.Kind()
	name := nameOf(n, m.src)
	if name == "" {
		name = "anonymous"
	}

	var nodeKind ast.NodeKind
	switch {
	case l.constructors[kind]:
		nodeKind = ast.KindConstructor
	case l.methods[kind]:
		nodeKind = ast.KindMethod
	case m.top().classLike:
		nodeKind = ast.KindMethod
	default:
		nodeKind = ast.KindFunction
	}
	if nodeKind == ast.KindMethod && l.ctorNames[name] {
		nodeKind = ast.KindConstructor
	}
	m.enterCallable(n, nodeKind, name, m.takeDecorators(), depth)
}

func (m *mapper) lambda(n *sitter.Node, depth int) {
	name := lambdaName(n, m.src)
	kind := ast.KindLambda
	switch {
	case name == "":
		name = "lambda"
	case m.top().classLike:
		kind = ast.KindMethod
	default:
		kind = ast.KindFunction
	}
	m.enterCallable(n, kind, name, nil, depth)
}

func (m *mapper) enterCallable(n *sitter.Node, kind ast.NodeKind, name string, decorators []string, depth int) {
	node := m.newNode(kind, name, spanOf(n)).WithSignature(signature(n, m.src))
	node = m.annotate(n, node, name, decorators)
	if kind == ast.KindMethod || kind == ast.KindConstructor {
		recv := m.receiver()
		if r := n.ChildByFieldName("receiver"); r != nil {
			recv = receiverType(r, m.src)
		}
		if recv != "" {
			node = node.WithMetadata(MetaReceiver, recv)
		}
	}

	parent := m.top().node
	m.emit(node)
	m.link(parent.ID, node.ID, ast.EdgeContains)
	m.parameters(n, node)

	m.scopes = append(m.scopes, scope{node: node, callable: true})
	m.walkChildren(n, depth)
	m.scopes = m.scopes[:len(m.scopes)-1]
}

func (m *mapper) parameters(n *sitter.Node, owner ast.Node) {
	params := paramsNode(n)
	if params == nil {
		return
	}
	list := namedChildren(params)
	if isNameKind(params.Kind()) {
		list = []*sitter.Node{params}
	}
	for _, p := range list {
		for _, nameNode := range paramNames(p, 0) {
			name := textName(nameNode, m.src)
			if name == "" {
				continue
			}
			param := m.newNode(ast.KindParameter, name, spanOf(nameNode))
			m.emit(param)
			m.link(owner.ID, param.ID, ast.EdgeDefines)
		}
	}
}

func (m *mapper) class(n *sitter.Node, kind ast.NodeKind, classLike bool, depth int) {
	if hook := m.lang.spec.ClassKind; hook != nil && classLike {
		kind = hook(n, kind)
	}
	name := nameOf(n, m.src)
	if kind == "" || name == "" {
		m.walkChildren(n, depth)
		return
	}

	node := m.newNode(kind, name, spanOf(n)).WithSignature(signature(n, m.src))
	node = m.annotate(n, node, name, m.takeDecorators())
	if bases := m.bases(n); len(bases) > 0 {
		node = node.WithMetadata(MetaBases, strings.Join(bases, ","))
	}

	parent := m.top().node
	m.emit(node)
	m.link(parent.ID, node.ID, ast.EdgeContains)

	m.scopes = append(m.scopes, scope{node: node, classLike: classLike})
	m.walkChildren(n, depth)
	m.scopes = m.scopes[:len(m.scopes)-1]
}

// impl opens a class-like scope for a type defined elsewhere, as in Rust impl blocks.
func (m *mapper) impl(n *sitter.Node, field string, depth int) {
	recv := receiverType(n.ChildByFieldName(field), m.src)
	m.scopes = append(m.scopes, scope{node: m.top().node, classLike: true, receiver: recv})
	m.walkChildren(n, depth)
	m.scopes = m.scopes[:len(m.scopes)-1]
}

func (m *mapper) definition(n *sitter.Node, kind ast.NodeKind) {
	name := nameOf(n, m.src)
	if name == "" {
		return
	}
	node := m.newNode(kind, name, spanOf(n)).WithSignature(signature(n, m.src))
	parent := m.top().node
	m.emit(node)
	m.link(parent.ID, node.ID, ast.EdgeContains)
}

func (m *mapper) call(n *sitter.Node, field string) {
	var target *sitter.Node
	if field != "" {
		target = n.ChildByFieldName(field)
	}
	if target == nil {
		target = firstNamedChild(n)
	}
	name := callName(target, m.src)

	node := m.newNode(ast.KindCall, name, spanOf(n))
	if target != nil {
		node = node.WithMetadata(MetaCallee, truncate(strings.Join(strings.Fields(nodeText(target, m.src)), " "), 120))
	}
	if recv := callReceiver(n, target, m.src); recv != "" {
		node = node.WithMetadata(MetaReceiver, recv)
	}
	m.emit(node)
	m.link(m.caller().ID, node.ID, ast.EdgeCalls)

	if m.lang.importCalls[name] {
		args := n.ChildByFieldName("arguments")
		if args == nil {
			args = childOfKind(n, "arguments", "argument_list")
		}
		if module := firstString(args, m.src, 0); module != "" {
			m.emitImport(n, importInfo{modules: []string{module}})
		}
	}
}

func (m *mapper) importNode(n *sitter.Node) {
	if m.lang.spec.Imports == nil {
		return
	}
	m.emitImport(n, m.lang.spec.Imports(n, m.src))
}

func (m *mapper) emitImport(n *sitter.Node, info importInfo) {
	if info.empty() {
		return
	}
	name := ""
	if len(info.modules) > 0 {
		name = info.modules[0]
	} else {
		name = info.names[0]
	}
	node := m.newNode(ast.KindImport, name, spanOf(n))
	if len(info.modules) > 0 {
		node = node.WithMetadata(MetaModule, strings.Join(info.modules, ","))
	}
	if len(info.names) > 0 {
		node = node.WithMetadata(MetaNames, strings.Join(info.names, ","))
	}
	if info.alias != "" {
		node = node.WithMetadata(MetaAlias, info.alias)
	}
	m.emit(node)
	m.link(m.module().ID, node.ID, ast.EdgeImports)
}

// variables records module and class level bindings. Locals are skipped.
func (m *mapper) variables(n *sitter.Node) {
	if m.lang.spec.Variables == nil {
		return
	}
	sc := m.top()
	if sc.callable {
		return
	}
	kind := ast.KindVariable
	if sc.classLike {
		kind = ast.KindField
	}
	for _, b := range m.lang.spec.Variables(n, m.src) {
		if b.value != nil && m.lang.lambdas[b.value.Kind()] {
			continue
		}
		name := textName(b.name, m.src)
		if name == "" {
			continue
		}
		v := m.newNode(kind, name, spanOf(b.name))
		if vis := m.visibility(name, nil); vis != "" {
			v = v.WithMetadata(MetaVisibility, vis)
		}
		m.emit(v)
		m.link(sc.node.ID, v.ID, ast.EdgeWrites)
	}
}

func (m *mapper) takeDecorators() []string {
	d := m.decorators
	m.decorators = nil
	return d
}

// annotate attaches modifiers, visibility and decorators to a definition.
func (m *mapper) annotate(n *sitter.Node, node ast.Node, name string, decorators []string) ast.Node {
	mods, decos := m.modifiers(n)
	decorators = append(decorators, decos...)
	if len(mods) > 0 {
		node = node.WithMetadata(MetaModifiers, strings.Join(mods, ","))
	}
	if slices.Contains(mods, "async") {
		node = node.WithMetadata(MetaAsync, "true")
	}
	if vis := m.visibility(name, mods); vis != "" {
		node = node.WithMetadata(MetaVisibility, vis)
	}
	if len(decorators) > 0 {
		node = node.WithMetadata(MetaDecorators, strings.Join(decorators, ","))
	}
	return node
}

func (m *mapper) modifiers(n *sitter.Node) (mods, decorators []string) {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		kind := c.Kind()
		switch {
		case decoratorKinds[kind]:
			decorators = append(decorators, decoratorName(c, m.src))
		case modifierTokens[kind]:
			mods = append(mods, kind)
		case kind == "visibility_modifier" || kind == "accessibility_modifier":
			mods = append(mods, strings.Join(strings.Fields(nodeText(c, m.src)), ""))
		case modifierGroups[kind]:
			if c.ChildCount() == 0 {
				mods = append(mods, strings.Fields(nodeText(c, m.src))...)
				continue
			}
			for j := uint(0); j < c.ChildCount(); j++ {
				g := c.Child(j)
				switch {
				case decoratorKinds[g.Kind()]:
					decorators = append(decorators, decoratorName(g, m.src))
				case g.ChildCount() == 0:
					mods = append(mods, strings.Fields(nodeText(g, m.src))...)
				}
			}
		}
	}
	slices.Sort(mods)
	return slices.Compact(mods), decorators
}

func (m *mapper) visibility(name string, mods []string) string {
	for _, mod := range mods {
		switch {
		case mod == "public" || mod == "private" || mod == "protected":
			return mod
		case strings.HasPrefix(mod, "pub"):
			return "public"
		}
	}
	if hook := m.lang.spec.Visibility; hook != nil {
		return hook(name, mods)
	}
	return ""
}

func (m *mapper) decoratorNames(n *sitter.Node) []string {
	var names []string
	for _, c := range namedChildren(n) {
		if decoratorKinds[c.Kind()] {
			names = append(names, decoratorName(c, m.src))
		}
	}
	return names
}

func (m *mapper) bases(n *sitter.Node) []string {
	var out []string
	for _, c := range namedChildren(n) {
		if m.lang.bases[c.Kind()] {
			out = append(out, baseNames(c, m.src, 0)...)
		}
	}
	if sc := n.ChildByFieldName("superclasses"); sc != nil && !m.lang.bases[sc.Kind()] {
		out = append(out, baseNames(sc, m.src, 0)...)
	}
	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, b := range out {
		if b != "" && !seen[b] {
			seen[b] = true
			uniq = append(uniq, b)
		}
	}
	return uniq
}

func decoratorName(n *sitter.Node, src []byte) string {
	text := strings.TrimSpace(nodeText(n, src))
	text = strings.TrimLeft(text, "@#[")
	if i := strings.IndexAny(text, "(\n"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimRight(strings.TrimSpace(text), "]")
}

// lambdaName returns the name an anonymous function is bound to, if any.
func lambdaName(n *sitter.Node, src []byte) string {
	p := n.Parent()
	if p == nil {
		return ""
	}
	var name, value *sitter.Node
	switch p.Kind() {
	case "variable_declarator", "const_item", "static_item":
		name, value = p.ChildByFieldName("name"), p.ChildByFieldName("value")
	case "assignment", "assignment_expression":
		name, value = p.ChildByFieldName("left"), p.ChildByFieldName("right")
	case "let_declaration":
		name, value = p.ChildByFieldName("pattern"), p.ChildByFieldName("value")
	case "pair":
		name, value = p.ChildByFieldName("key"), p.ChildByFieldName("value")
	case "field_definition":
		name, value = p.ChildByFieldName("property"), p.ChildByFieldName("value")
	case "public_field_definition":
		name, value = p.ChildByFieldName("name"), p.ChildByFieldName("value")
	default:
		return ""
	}
	if name == nil || !sameNode(value, n) {
		return ""
	}
	if !isNameKind(name.Kind()) && name.Kind() != "string" {
		return ""
	}
	return unquote(textName(name, src))
}

// receiverType reduces a receiver or impl target to its bare type name.
func receiverType(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	text := nodeText(n, src)
	if n.Kind() == "parameter_list" {
		for _, p := range namedChildren(n) {
			if t := p.ChildByFieldName("type"); t != nil {
				text = nodeText(t, src)
				break
			}
		}
	}
	text = strings.TrimLeft(strings.TrimSpace(text), "*&")
	if i := strings.IndexAny(text, "<["); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// callReceiver returns the object a method call is made on, when the shape names one.
func callReceiver(call, target *sitter.Node, src []byte) string {
	for _, field := range []string{"object", "receiver", "scope"} {
		if r := call.ChildByFieldName(field); r != nil {
			return truncate(nodeText(r, src), 80)
		}
	}
	if target == nil {
		return ""
	}
	for _, field := range []string{"object", "operand"} {
		if r := target.ChildByFieldName(field); r != nil {
			return truncate(nodeText(r, src), 80)
		}
	}
	return ""
}
