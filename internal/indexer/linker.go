package indexer

import (
	"path"
	"slices"
	"strings"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/parser"
)

// Unit is the mapped content of one file.
type Unit struct {
	File  string
	Nodes []ast.Node
	Edges []ast.Edge
}

// SymbolSource answers the lookups the Linker performs. The bulk indexer uses
// a SymbolTable; the monitoring pipeline reads from the graph store.
type SymbolSource interface {
	// NodesNamed returns nodes whose name equals name exactly.
	NodesNamed(name string) []ast.Node

	// FileModule returns the Module node of a file.
	FileModule(file string) (ast.Node, bool)
}

// linkable reports whether the linker ever resolves a reference to this kind.
func linkable(k ast.NodeKind) bool {
	return isCallableDef(k) || k.IsType() || k == ast.KindModule || k == ast.KindPackage
}

func isCallableDef(k ast.NodeKind) bool {
	return k == ast.KindFunction || k == ast.KindMethod || k == ast.KindConstructor
}

// SymbolTable is an in-memory SymbolSource over a set of units.
type SymbolTable struct {
	byName  map[string][]ast.Node
	modules map[string]ast.Node
}

// NewSymbolTable indexes the definitions of the given units.
func NewSymbolTable(units ...Unit) *SymbolTable {
	t := &SymbolTable{
		byName:  make(map[string][]ast.Node),
		modules: make(map[string]ast.Node),
	}
	for _, u := range units {
		t.Add(u)
	}
	return t
}

// Add indexes one more unit.
func (t *SymbolTable) Add(u Unit) {
	for _, n := range u.Nodes {
		if !linkable(n.Kind) {
			continue
		}
		t.byName[n.Name] = append(t.byName[n.Name], n)
		if n.Kind == ast.KindModule {
			t.modules[n.File] = n
		}
	}
}

func (t *SymbolTable) NodesNamed(name string) []ast.Node {
	return t.byName[name]
}

func (t *SymbolTable) FileModule(file string) (ast.Node, bool) {
	n, ok := t.modules[ast.NormalizePath(file)]
	return n, ok
}

// Overlay returns a source that reads from base except for file, whose
// content is replaced by nodes. Passing no nodes hides the file entirely.
func Overlay(base SymbolSource, file string, nodes []ast.Node) SymbolSource {
	return &overlay{
		base:  base,
		file:  ast.NormalizePath(file),
		local: NewSymbolTable(Unit{File: file, Nodes: nodes}),
	}
}

type overlay struct {
	base  SymbolSource
	file  string
	local *SymbolTable
}

func (o *overlay) NodesNamed(name string) []ast.Node {
	var out []ast.Node
	for _, n := range o.base.NodesNamed(name) {
		if n.File != o.file {
			out = append(out, n)
		}
	}
	return append(out, o.local.NodesNamed(name)...)
}

func (o *overlay) FileModule(file string) (ast.Node, bool) {
	if ast.NormalizePath(file) == o.file {
		return o.local.FileModule(file)
	}
	return o.base.FileModule(file)
}

// IsLinkEdge reports whether an edge is one the Linker produces rather than
// one the mapper emits, given the kind of its target. Mapper Calls edges
// always end at a Call node and mapper Imports edges at an Import node.
func IsLinkEdge(e ast.Edge, target ast.NodeKind) bool {
	switch e.Kind {
	case ast.EdgeExtends, ast.EdgeImplements:
		return true
	case ast.EdgeCalls:
		return target != ast.KindCall
	case ast.EdgeImports:
		return target != ast.KindImport
	}
	return false
}

// Linker resolves references in one file against definitions anywhere in
// the repository.
//
// Calls are resolved by name in three tiers: definitions in the same file,
// definitions in files the caller imports, and finally a definition whose
// name is unique across the repository. Within a tier, a call on self or on a
// named type prefers methods of that type; any remaining candidates are all
// linked.
type Linker struct {
	src SymbolSource
}

func NewLinker(src SymbolSource) *Linker {
	return &Linker{src: src}
}

// Link returns the cross-file edges for a unit. The result is deterministic
// for a given unit and source.
func (l *Linker) Link(u Unit) []ast.Edge {
	fc := newFileContext(u)
	var out []ast.Edge
	seen := make(map[ast.Edge]struct{})
	add := func(src, tgt ast.NodeID, kind ast.EdgeKind) {
		e := ast.NewEdge(src, tgt, kind)
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	for _, n := range u.Nodes {
		switch {
		case n.Kind == ast.KindCall:
			l.linkCall(fc, n, add)
		case n.Kind == ast.KindImport:
			l.linkImport(fc, n, add)
		case n.Kind.IsType() && n.Meta(parser.MetaBases) != "":
			l.linkBases(fc, n, add)
		}
	}
	return out
}

type addFunc func(src, tgt ast.NodeID, kind ast.EdgeKind)

func (l *Linker) linkCall(fc *fileContext, call ast.Node, add addFunc) {
	if call.Name == parser.AnonymousCall {
		return
	}
	var cands []ast.Node
	for _, n := range l.src.NodesNamed(call.Name) {
		if isCallableDef(n.Kind) && n.RepoID == call.RepoID {
			cands = append(cands, n)
		}
	}
	caller, hasCaller := fc.callers[call.ID]
	for _, def := range fc.choose(call.Name, cands, func(tier []ast.Node) []ast.Node {
		return narrowByReceiver(call, caller, tier)
	}) {
		add(call.ID, def.ID, ast.EdgeCalls)
		if hasCaller {
			add(caller.ID, def.ID, ast.EdgeCalls)
		}
	}
}

var selfReceivers = map[string]bool{
	"self": true, "this": true, "cls": true, "$this": true, "Self": true, "static": true,
}

// narrowByReceiver prefers methods of the type a call is made on. Calls with
// no receiver prefer free functions.
func narrowByReceiver(call, caller ast.Node, cands []ast.Node) []ast.Node {
	if len(cands) <= 1 {
		return cands
	}
	recv := call.Meta(parser.MetaReceiver)
	want := recv
	if selfReceivers[recv] {
		want = caller.Meta(parser.MetaReceiver)
	}
	keep := func(pred func(ast.Node) bool) []ast.Node {
		var out []ast.Node
		for _, c := range cands {
			if pred(c) {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return cands
		}
		return out
	}
	switch {
	case recv == "":
		return keep(func(c ast.Node) bool { return c.Kind == ast.KindFunction })
	case want != "":
		return keep(func(c ast.Node) bool { return c.Meta(parser.MetaReceiver) == want })
	}
	return cands
}

func (l *Linker) linkBases(fc *fileContext, n ast.Node, add addFunc) {
	for _, base := range n.MetaList(parser.MetaBases) {
		segs := moduleSegments(base)
		if len(segs) == 0 {
			continue
		}
		name := segs[len(segs)-1]
		var cands []ast.Node
		for _, c := range l.src.NodesNamed(name) {
			if c.Kind.IsType() && c.ID != n.ID && c.RepoID == n.RepoID {
				cands = append(cands, c)
			}
		}
		for _, t := range fc.choose(name, cands, nil) {
			kind := ast.EdgeExtends
			if t.Kind == ast.KindInterface || t.Kind == ast.KindTrait {
				kind = ast.EdgeImplements
			}
			add(n.ID, t.ID, kind)
		}
	}
}

func (l *Linker) linkImport(fc *fileContext, imp ast.Node, add addFunc) {
	for _, module := range imp.MetaList(parser.MetaModule) {
		segs := moduleSegments(module)
		if len(segs) == 0 {
			continue
		}
		last := segs[len(segs)-1]
		var modules, loose []ast.Node
		dirs := make(map[string]bool)
		for _, c := range l.src.NodesNamed(last) {
			if c.File == fc.file || c.RepoID != imp.RepoID {
				continue
			}
			switch c.Kind {
			case ast.KindModule:
				if pathMatches(c.File, segs) {
					modules = append(modules, c)
				} else {
					loose = append(loose, c)
				}
			case ast.KindPackage:
				dir := path.Dir(c.File)
				if path.Base(dir) != last || dirs[dir] {
					continue
				}
				dirs[dir] = true
				if m, ok := l.src.FileModule(c.File); ok {
					add(imp.ID, c.ID, ast.EdgeImports)
					if fc.hasModule {
						add(fc.module.ID, m.ID, ast.EdgeImports)
					}
				}
			}
		}
		if len(modules) == 0 && len(loose) == 1 {
			modules = loose
		}
		for _, m := range modules {
			add(imp.ID, m.ID, ast.EdgeImports)
			if fc.hasModule {
				add(fc.module.ID, m.ID, ast.EdgeImports)
			}
		}
	}
}

// pathMatches reports whether file, without its extension, ends with the
// module path given as segments. Only the overlapping tail is compared, so a
// dotted module rooted above the repository still matches.
func pathMatches(file string, segs []string) bool {
	fileSegs := strings.Split(strings.TrimSuffix(file, path.Ext(file)), "/")
	n := min(len(segs), len(fileSegs))
	return slices.Equal(fileSegs[len(fileSegs)-n:], segs[len(segs)-n:])
}

// moduleSegments splits an import path or qualified name into its parts,
// dropping a trailing source file extension and relative markers.
func moduleSegments(module string) []string {
	module = strings.Trim(strings.TrimSpace(module), `"'<>`)
	if ext := path.Ext(module); ext != "" && ast.LanguageFromExtension(ext) != ast.LangUnknown {
		module = strings.TrimSuffix(module, ext)
	}
	if i := strings.IndexAny(module, "[<("); i >= 0 {
		module = module[:i]
	}
	fields := strings.FieldsFunc(module, func(r rune) bool {
		return r == '/' || r == '.' || r == ':' || r == '\\'
	})
	return slices.DeleteFunc(fields, func(s string) bool { return s == "" || s == "*" || s == "~" || s == "@" })
}

// fileContext holds what the linker needs to know about the file being linked.
type fileContext struct {
	file      string
	module    ast.Node
	hasModule bool
	callers   map[ast.NodeID]ast.Node
	imports   []ast.Node
}

func newFileContext(u Unit) *fileContext {
	fc := &fileContext{
		file:    ast.NormalizePath(u.File),
		callers: make(map[ast.NodeID]ast.Node),
	}
	byID := make(map[ast.NodeID]ast.Node, len(u.Nodes))
	for _, n := range u.Nodes {
		byID[n.ID] = n
		switch n.Kind {
		case ast.KindModule:
			fc.module, fc.hasModule = n, true
		case ast.KindImport:
			fc.imports = append(fc.imports, n)
		}
	}
	for _, e := range u.Edges {
		if e.Kind != ast.EdgeCalls {
			continue
		}
		if tgt, ok := byID[e.Target]; ok && tgt.Kind == ast.KindCall {
			if src, ok := byID[e.Source]; ok {
				fc.callers[e.Target] = src
			}
		}
	}
	return fc
}

// choose applies the resolution tiers to candidates for name.
func (fc *fileContext) choose(name string, cands []ast.Node, narrow func([]ast.Node) []ast.Node) []ast.Node {
	if len(cands) == 0 {
		return nil
	}
	if narrow == nil {
		narrow = func(c []ast.Node) []ast.Node { return c }
	}
	var local, imported []ast.Node
	for _, c := range cands {
		switch {
		case c.File == fc.file:
			local = append(local, c)
		case fc.importsFrom(c.File, name):
			imported = append(imported, c)
		}
	}
	switch {
	case len(local) > 0:
		return narrow(local)
	case len(imported) > 0:
		return narrow(imported)
	case len(cands) == 1:
		return cands
	}
	return nil
}

// importsFrom reports whether any import of the file plausibly refers to file.
func (fc *fileContext) importsFrom(file, name string) bool {
	stem := strings.TrimSuffix(path.Base(file), path.Ext(file))
	dir := path.Base(path.Dir(file))
	for _, imp := range fc.imports {
		for _, module := range imp.MetaList(parser.MetaModule) {
			segs := moduleSegments(module)
			if len(segs) == 0 {
				continue
			}
			// The last segment may name the symbol itself, as in Java and Rust.
			tail := segs[max(0, len(segs)-2):]
			for _, seg := range tail {
				if seg == stem || seg == dir {
					return true
				}
			}
		}
		if imp.Meta(parser.MetaModule) == "" && slices.Contains(imp.MetaList(parser.MetaNames), name) {
			return true
		}
	}
	return false
}
