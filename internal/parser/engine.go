package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/lattice/internal/ast"
)

// DefaultParseTimeout bounds a single file parse.
const DefaultParseTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	// Registry is the extension table. Nil means every built-in language.
	Registry *Registry
	// MaxDepth bounds the mapper walk. Zero means DefaultMaxDepth.
	MaxDepth int
	// ParseTimeout bounds one parse. Zero disables the limit.
	ParseTimeout time.Duration
	// PoolSize is the number of idle parsers kept per language.
	PoolSize int
}

// ParseContext is the input to one parse.
type ParseContext struct {
	RepoID   string
	FilePath string
	Content  []byte
	// PreviousTree, when set, is the tree from the last parse of the same
	// file and makes the parse incremental. It is not consumed.
	PreviousTree *Tree
}

// ParseResult is the output of one parse. The caller owns Tree.
type ParseResult struct {
	Tree     *Tree
	Language ast.Language
	Nodes    []ast.Node
	Edges    []ast.Edge
}

// Engine routes files to a language and maps their syntax trees into the
// universal graph. It is safe for concurrent use.
type Engine struct {
	registry *Registry
	opts     Options

	mu    sync.Mutex
	pools map[ast.Language]*providerPool
}

// NewEngine creates an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		reg, err := NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to build language registry: %w", err)
		}
		opts.Registry = reg
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		registry: opts.Registry,
		opts:     opts,
		pools:    make(map[ast.Language]*providerPool),
	}, nil
}

// Registry returns the engine's extension table.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// DetectLanguage returns the language for path.
func (e *Engine) DetectLanguage(path string) (ast.Language, error) {
	return e.registry.Language(path)
}

// SupportedExtensions returns every extension the engine can parse.
func (e *Engine) SupportedExtensions() []string {
	return e.registry.Extensions()
}

// Parse parses one file. It fails with *UnsupportedLanguageError when the
// extension is unknown and *ParseError when the provider or mapper fails.
func (e *Engine) Parse(ctx context.Context, pc ParseContext) (*ParseResult, error) {
	lang, err := e.registry.lookup(pc.FilePath)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(pc.Content) {
		return nil, &ParseError{File: pc.FilePath, Message: "content is not valid UTF-8"}
	}

	parseCtx := ctx
	if e.opts.ParseTimeout > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, e.opts.ParseTimeout)
		defer cancel()
	}

	src := bytes.Clone(pc.Content)
	tree, err := e.syntaxTree(parseCtx, lang, src, pc.PreviousTree)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ParseError{File: pc.FilePath, Message: "parse timeout exceeded", Err: err}
		}
		return nil, &ParseError{File: pc.FilePath, Message: err.Error(), Err: err}
	}

	m := newMapper(parseCtx, lang, pc.RepoID, pc.FilePath, src, e.opts.MaxDepth)
	nodes, edges, err := m.extract(tree.RootNode())
	if err != nil {
		tree.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ParseError{File: pc.FilePath, Message: "parse timeout exceeded", Err: err}
		}
		return nil, &ParseError{File: pc.FilePath, Message: err.Error(), Err: err}
	}

	return &ParseResult{
		Tree:     newTree(tree, src, lang.spec.Language),
		Language: lang.spec.Language,
		Nodes:    nodes,
		Edges:    edges,
	}, nil
}

// syntaxTree runs the provider, reusing prev when it belongs to the same
// language. The provider checks ctx periodically and stops once it is done.
func (e *Engine) syntaxTree(ctx context.Context, lang *language, src []byte, prev *Tree) (*sitter.Tree, error) {
	pool := e.pool(lang)
	ps, err := pool.get()
	if err != nil {
		return nil, err
	}
	defer pool.put(ps)

	old := prev.editedClone(lang.spec.Language, src)
	if old != nil {
		defer old.Close()
	}
	tree := ps.ParseWithOptions(func(i int, _ sitter.Point) []byte {
		if i < len(src) {
			return src[i:]
		}
		return nil
	}, old, &sitter.ParseOptions{
		ProgressCallback: func(sitter.ParseState) bool { return ctx.Err() != nil },
	})
	if tree == nil {
		// A halted parse resumes on the next call unless the parser is reset.
		ps.Reset()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("syntax tree provider returned no tree")
	}
	return tree, nil
}

func (e *Engine) pool(lang *language) *providerPool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[lang.spec.Language]
	if !ok {
		p = newProviderPool(lang.grammar, e.opts.PoolSize)
		e.pools[lang.spec.Language] = p
	}
	return p
}

// Close releases every idle parser.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pools {
		p.close()
	}
	e.pools = make(map[ast.Language]*providerPool)
}
