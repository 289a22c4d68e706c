package search

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/zeebo/blake3"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/scanner"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// ContentType classifies a chunk.
type ContentType string

const (
	ContentDocumentation ContentType = "documentation"
	ContentConfiguration ContentType = "configuration"
	ContentComment       ContentType = "comment"
)

// ParseContentType accepts the lowercase names above.
func ParseContentType(s string) (ContentType, bool) {
	switch t := ContentType(strings.ToLower(s)); t {
	case ContentDocumentation, ContentConfiguration, ContentComment:
		return t, true
	}
	return "", false
}

// documentFormats maps an extension, or a whole dotfile name, to its type
// and format.
var documentFormats = map[string]struct {
	typ    ContentType
	format string
}{
	".md":         {ContentDocumentation, "markdown"},
	".markdown":   {ContentDocumentation, "markdown"},
	".rst":        {ContentDocumentation, "restructuredtext"},
	".adoc":       {ContentDocumentation, "asciidoc"},
	".asciidoc":   {ContentDocumentation, "asciidoc"},
	".html":       {ContentDocumentation, "html"},
	".htm":        {ContentDocumentation, "html"},
	".txt":        {ContentDocumentation, "text"},
	".json":       {ContentConfiguration, "json"},
	".yaml":       {ContentConfiguration, "yaml"},
	".yml":        {ContentConfiguration, "yaml"},
	".toml":       {ContentConfiguration, "toml"},
	".ini":        {ContentConfiguration, "ini"},
	".properties": {ContentConfiguration, "properties"},
	".env":        {ContentConfiguration, "env"},
	".xml":        {ContentConfiguration, "xml"},
}

// ContentExtensions lists the documentation and configuration extensions
// the content index reads, for scanner.Options.ContentExtensions.
func ContentExtensions() []string {
	exts := make([]string, 0, len(documentFormats))
	for ext := range documentFormats {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

func classifyDocument(rel string) (ContentType, string, bool) {
	name := strings.ToLower(path.Base(rel))
	if f, ok := documentFormats[path.Ext(name)]; ok {
		return f.typ, f.format, true
	}
	if f, ok := documentFormats[name]; ok {
		return f.typ, f.format, true
	}
	return "", "", false
}

// Chunk is one indexed piece of documentation, configuration or comment.
type Chunk struct {
	ID     string      `json:"id"`
	RepoID string      `json:"repo_id"`
	File   string      `json:"file"`
	Type   ContentType `json:"type"`
	// Format is the document or configuration format, or the language of a
	// comment.
	Format    string       `json:"format"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
	Doc       bool         `json:"doc,omitempty"`
	Related   []ast.NodeID `json:"related,omitempty"`
}

// chunkID hashes the location and text of a chunk so unchanged chunks keep
// their id across reindexing.
func chunkID(repoID, file string, index int, text string) string {
	h := blake3.New()
	var buf [8]byte
	for _, s := range []string{repoID, file, text} {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// CommentSource extracts comments from a source file. *parser.Engine
// implements it.
type CommentSource interface {
	Comments(ctx context.Context, path string, src []byte) ([]parser.Comment, error)
}

// ContentOptions configures a ContentIndex.
type ContentOptions struct {
	// Comments, when set, adds source comments to the index.
	Comments CommentSource
	// Store, when set, links comments to the graph nodes they document.
	Store *graph.Store
	// ChunkTokens is the target chunk size. Zero means DefaultChunkTokens.
	ChunkTokens int
	Logger      *slog.Logger
}

// ContentStats counts indexed content.
type ContentStats struct {
	Files  int                 `json:"files"`
	Chunks int                 `json:"chunks"`
	ByType map[ContentType]int `json:"by_type"`
}

type fileKey struct {
	repo string
	file string
}

type fileEntry struct {
	typ ContentType
	ids []string
}

// ContentIndex is an in-memory bleve index over documentation,
// configuration files and source comments. It is safe for concurrent use.
type ContentIndex struct {
	opts    ContentOptions
	chunker *chunker
	logger  *slog.Logger

	mu    sync.RWMutex
	index bleve.Index
	files map[fileKey]fileEntry
	// roots maps an indexed repository to its absolute root.
	roots map[string]string
}

// NewContentIndex creates an empty index.
func NewContentIndex(opts ContentOptions) (*ContentIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	index, err := bleve.NewMemOnly(buildContentMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &ContentIndex{
		opts:    opts,
		chunker: newChunker(opts.ChunkTokens),
		logger:  logger,
		index:   index,
		files:   make(map[fileKey]fileEntry),
		roots:   make(map[string]string),
	}, nil
}

// buildContentMapping stores every field so hits can be rebuilt without a
// second lookup. Only text and title feed the default field.
func buildContentMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	text := func(inAll bool) *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = "standard"
		f.Store = true
		f.Index = true
		f.IncludeTermVectors = true
		f.IncludeInAll = inAll
		return f
	}
	keyword := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = "keyword"
		f.Store = true
		f.Index = true
		f.IncludeInAll = false
		return f
	}
	number := func() *mapping.FieldMapping {
		f := bleve.NewNumericFieldMapping()
		f.Store = true
		f.Index = false
		f.IncludeInAll = false
		return f
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false
	docMapping.AddFieldMappingsAt("text", text(true))
	docMapping.AddFieldMappingsAt("title", text(true))
	docMapping.AddFieldMappingsAt("type", keyword())
	docMapping.AddFieldMappingsAt("format", keyword())
	docMapping.AddFieldMappingsAt("repo", keyword())
	docMapping.AddFieldMappingsAt("file", keyword())
	docMapping.AddFieldMappingsAt("doc", keyword())
	docMapping.AddFieldMappingsAt("related", keyword())
	docMapping.AddFieldMappingsAt("start_line", number())
	docMapping.AddFieldMappingsAt("end_line", number())

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func contentDocument(c Chunk) map[string]any {
	related := make([]string, len(c.Related))
	for i, id := range c.Related {
		related[i] = id.String()
	}
	return map[string]any{
		"text":       c.Text,
		"title":      c.Title,
		"type":       string(c.Type),
		"format":     c.Format,
		"repo":       c.RepoID,
		"file":       c.File,
		"doc":        fmt.Sprint(c.Doc),
		"related":    related,
		"start_line": float64(c.StartLine),
		"end_line":   float64(c.EndLine),
	}
}

// Extensions returns the documentation and configuration extensions the
// index reads, for the scanner and the file watcher.
func (c *ContentIndex) Extensions() []string {
	return ContentExtensions()
}

// IndexRepository replaces every chunk of repoID with the content of scan:
// its ContentFiles and, when a CommentSource is set, the comments of its
// source files. Files that cannot be read are logged and skipped.
func (c *ContentIndex) IndexRepository(ctx context.Context, repoID string, scan *scanner.ScanResult) error {
	if repoID == "" {
		return errors.New("repository id is required")
	}
	files := scan.ContentFiles
	if c.opts.Comments != nil {
		files = slices.Concat(files, scan.Files())
	}
	chunks := make(map[string][]Chunk, len(files))
	for i, rel := range files {
		if i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fc, err := c.chunkFile(ctx, repoID, scan.Root, rel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("search.content_skipped", "repo", repoID, "file", rel, "error", err)
			continue
		}
		chunks[rel] = fc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return ErrClosed
	}
	batch := c.index.NewBatch()
	for key, entry := range c.files {
		if key.repo != repoID {
			continue
		}
		for _, id := range entry.ids {
			batch.Delete(id)
		}
		delete(c.files, key)
	}
	for rel, fc := range chunks {
		if err := c.stage(batch, repoID, rel, fc); err != nil {
			return err
		}
		if batch.Size() >= batchSize {
			if err := c.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to execute batch: %w", err)
			}
			batch = c.index.NewBatch()
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute final batch: %w", err)
	}
	c.roots[repoID] = scan.Root
	c.logger.Debug("search.content_indexed", "repo", repoID, "files", len(chunks))
	return nil
}

// stage adds one file's chunks to batch. Caller holds c.mu.
func (c *ContentIndex) stage(batch *bleve.Batch, repoID, rel string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	entry := fileEntry{typ: chunks[0].Type}
	for _, ch := range chunks {
		if err := batch.Index(ch.ID, contentDocument(ch)); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", ch.ID, err)
		}
		entry.ids = append(entry.ids, ch.ID)
	}
	c.files[fileKey{repoID, rel}] = entry
	return nil
}

// Update applies one file change of a repository indexed with
// IndexRepository. Changes to unrelated files are ignored.
func (c *ContentIndex) Update(ctx context.Context, repoID string, ev watcher.ChangeEvent) error {
	c.mu.RLock()
	root, ok := c.roots[repoID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	var removed []string
	changed := map[string][]Chunk{}
	for _, p := range []string{ev.OldPath, ev.Path} {
		if p == "" {
			continue
		}
		rel, err := relPath(root, p)
		if err != nil {
			continue
		}
		if ev.Dir || ev.Kind == watcher.Deleted || p == ev.OldPath {
			removed = append(removed, rel)
			continue
		}
		fc, err := c.chunkFile(ctx, repoID, root, rel)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			removed = append(removed, rel)
		case errors.Is(err, errNotContent):
		case err != nil:
			return err
		default:
			changed[rel] = fc
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return ErrClosed
	}
	batch := c.index.NewBatch()
	drop := func(key fileKey) {
		for _, id := range c.files[key].ids {
			batch.Delete(id)
		}
		delete(c.files, key)
	}
	for _, rel := range removed {
		for key := range c.files {
			if key.repo == repoID && (key.file == rel || strings.HasPrefix(key.file, rel+"/")) {
				drop(key)
			}
		}
	}
	for rel, fc := range changed {
		drop(fileKey{repoID, rel})
		if err := c.stage(batch, repoID, rel, fc); err != nil {
			return err
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// RemoveRepository drops every chunk of repoID.
func (c *ContentIndex) RemoveRepository(repoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return nil
	}
	batch := c.index.NewBatch()
	for key, entry := range c.files {
		if key.repo != repoID {
			continue
		}
		for _, id := range entry.ids {
			batch.Delete(id)
		}
		delete(c.files, key)
	}
	delete(c.roots, repoID)
	return c.index.Batch(batch)
}

var errNotContent = errors.New("not a content file")

// chunkFile reads rel and splits it by its type. Source files yield their
// comments.
func (c *ContentIndex) chunkFile(ctx context.Context, repoID, root, rel string) ([]Chunk, error) {
	typ, format, isDoc := classifyDocument(rel)
	if !isDoc && c.opts.Comments == nil {
		return nil, errNotContent
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}

	if !isDoc {
		return c.commentChunks(ctx, repoID, rel, data)
	}

	var pieces []piece
	switch {
	case format == "markdown":
		pieces = c.chunker.markdown(string(data))
	case typ == ContentConfiguration:
		pieces = c.chunker.config(string(data))
	default:
		pieces = c.chunker.text(string(data))
	}
	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, Chunk{
			ID:        chunkID(repoID, rel, i, p.text),
			RepoID:    repoID,
			File:      rel,
			Type:      typ,
			Format:    format,
			Title:     p.title,
			Text:      p.text,
			StartLine: p.startLine,
			EndLine:   p.endLine,
		})
	}
	return chunks, nil
}

func (c *ContentIndex) commentChunks(ctx context.Context, repoID, rel string, data []byte) ([]Chunk, error) {
	comments, err := c.opts.Comments.Comments(ctx, rel, data)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedLanguage) {
			return nil, errNotContent
		}
		return nil, err
	}
	lang := ast.LanguageFromPath(rel)
	var nodes []ast.Node
	if c.opts.Store != nil {
		nodes = c.opts.Store.NodesInFile(repoID, rel)
	}
	chunks := make([]Chunk, 0, len(comments))
	for i, cm := range comments {
		chunks = append(chunks, Chunk{
			ID:        chunkID(repoID, rel, i, cm.Text),
			RepoID:    repoID,
			File:      rel,
			Type:      ContentComment,
			Format:    string(lang),
			Text:      cm.Text,
			StartLine: cm.Span.StartLine,
			EndLine:   cm.Span.EndLine,
			Doc:       cm.Doc,
			Related:   documented(nodes, cm),
		})
	}
	return chunks, nil
}

// documented returns the definitions a comment describes: those starting
// on the line after it, or for a docstring the innermost definition that
// contains it.
func documented(nodes []ast.Node, cm parser.Comment) []ast.NodeID {
	var (
		out      []ast.NodeID
		inner    ast.Node
		hasInner bool
	)
	for _, n := range nodes {
		if !Indexable(n) {
			continue
		}
		switch {
		case n.Span.StartLine == cm.Span.EndLine+1:
			out = append(out, n.ID)
		case n.Kind != ast.KindModule && n.Span.StartByte < cm.Span.StartByte && cm.Span.EndByte <= n.Span.EndByte:
			if !hasInner || n.Span.EndByte-n.Span.StartByte < inner.Span.EndByte-inner.Span.StartByte {
				inner, hasInner = n, true
			}
		}
	}
	if len(out) == 0 && hasInner && cm.Doc && inner.Span.StartLine < cm.Span.StartLine {
		out = append(out, inner.ID)
	}
	return out
}

func relPath(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", fmt.Errorf("%s is outside %s", p, root)
	}
	return rel, nil
}

// Stats counts the indexed files and chunks, for one repository when
// repoID is set.
func (c *ContentIndex) Stats(repoID string) ContentStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := ContentStats{ByType: map[ContentType]int{}}
	for key, entry := range c.files {
		if repoID != "" && key.repo != repoID {
			continue
		}
		st.Files++
		st.Chunks += len(entry.ids)
		st.ByType[entry.typ] += len(entry.ids)
	}
	return st
}

// Close releases the index.
func (c *ContentIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return nil
	}
	err := c.index.Close()
	c.index = nil
	return err
}
