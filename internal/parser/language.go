package parser

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unsafe"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/lattice/internal/ast"
)

// LanguageSpec describes how one grammar maps onto the universal graph. The
// mapper is shared by every language; only the node type tables and the few
// hooks below differ.
type LanguageSpec struct {
	Language   ast.Language
	Extensions []string
	Grammar    func() unsafe.Pointer

	// Callable definitions. FunctionTypes become Method when nested in a
	// class-like scope; MethodTypes are always methods.
	FunctionTypes    []string
	MethodTypes      []string
	ConstructorTypes []string
	ConstructorNames []string
	LambdaTypes      []string

	// ClassTypes open a class-like scope. ContainerTypes (namespaces, modules)
	// emit a node but keep nested functions as functions. ImplTypes open a
	// class-like scope without a node; the value is the field naming the type.
	ClassTypes     map[string]ast.NodeKind
	ContainerTypes map[string]ast.NodeKind
	ImplTypes      map[string]string

	// DefinitionTypes are named leaf definitions such as type aliases and macros.
	DefinitionTypes map[string]ast.NodeKind

	// CallTypes maps a call node type to the field holding the callee. An
	// empty field means the first named child.
	CallTypes map[string]string

	ImportTypes []string
	// ImportCalls are callee names that load another file, like require.
	ImportCalls []string

	AssignmentTypes []string
	DecoratedTypes  []string
	BaseKinds       []string

	Imports    func(n *sitter.Node, src []byte) importInfo
	Variables  func(n *sitter.Node, src []byte) []binding
	ClassKind  func(n *sitter.Node, kind ast.NodeKind) ast.NodeKind
	Visibility func(name string, modifiers []string) string
}

// importInfo is what an import statement brings into a file.
type importInfo struct {
	modules []string
	names   []string
	alias   string
}

func (i importInfo) empty() bool {
	return len(i.modules) == 0 && len(i.names) == 0
}

// binding is one name introduced by an assignment or declaration.
type binding struct {
	name  *sitter.Node
	value *sitter.Node
}

// language is a LanguageSpec compiled for lookups.
type language struct {
	spec    LanguageSpec
	grammar *sitter.Language

	functions    map[string]bool
	methods      map[string]bool
	constructors map[string]bool
	ctorNames    map[string]bool
	lambdas      map[string]bool
	imports      map[string]bool
	importCalls  map[string]bool
	assignments  map[string]bool
	decorated    map[string]bool
	bases        map[string]bool
}

func compile(spec LanguageSpec) (*language, error) {
	if spec.Grammar == nil {
		return nil, fmt.Errorf("language %s has no grammar", spec.Language)
	}
	ptr := spec.Grammar()
	if ptr == nil {
		return nil, fmt.Errorf("language %s grammar is nil", spec.Language)
	}
	return &language{
		spec:         spec,
		grammar:      sitter.NewLanguage(ptr),
		functions:    toSet(spec.FunctionTypes),
		methods:      toSet(spec.MethodTypes),
		constructors: toSet(spec.ConstructorTypes),
		ctorNames:    toSet(spec.ConstructorNames),
		lambdas:      toSet(spec.LambdaTypes),
		imports:      toSet(spec.ImportTypes),
		importCalls:  toSet(spec.ImportCalls),
		assignments:  toSet(spec.AssignmentTypes),
		decorated:    toSet(spec.DecoratedTypes),
		bases:        toSet(spec.BaseKinds),
	}, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Registry is the explicit extension to language table.
type Registry struct {
	byExt  map[string]*language
	byLang map[ast.Language]*language
}

// NewRegistry compiles specs into a registry. With no specs it registers
// every built-in language.
func NewRegistry(specs ...LanguageSpec) (*Registry, error) {
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}
	r := &Registry{
		byExt:  make(map[string]*language),
		byLang: make(map[ast.Language]*language),
	}
	for _, spec := range specs {
		if _, dup := r.byLang[spec.Language]; dup {
			return nil, fmt.Errorf("language %s registered twice", spec.Language)
		}
		lang, err := compile(spec)
		if err != nil {
			return nil, err
		}
		r.byLang[spec.Language] = lang
		for _, ext := range spec.Extensions {
			ext = strings.ToLower(ext)
			if other, dup := r.byExt[ext]; dup {
				return nil, fmt.Errorf("extension %s claimed by both %s and %s", ext, other.spec.Language, spec.Language)
			}
			r.byExt[ext] = lang
		}
	}
	return r, nil
}

// DefaultSpecs returns the built-in language table.
func DefaultSpecs() []LanguageSpec {
	return []LanguageSpec{
		pythonSpec(),
		javascriptSpec(),
		typescriptSpec(),
		tsxSpec(),
		goSpec(),
		javaSpec(),
		rustSpec(),
		cSpec(),
		rubySpec(),
		phpSpec(),
	}
}

func (r *Registry) lookup(path string) (*language, error) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := r.byExt[ext]
	if !ok {
		return nil, &UnsupportedLanguageError{Extension: ext}
	}
	return lang, nil
}

// Language returns the language registered for path's extension.
func (r *Registry) Language(path string) (ast.Language, error) {
	lang, err := r.lookup(path)
	if err != nil {
		return ast.LangUnknown, err
	}
	return lang.spec.Language, nil
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Languages returns the registered languages, sorted.
func (r *Registry) Languages() []ast.Language {
	langs := make([]ast.Language, 0, len(r.byLang))
	for l := range r.byLang {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}
