package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
)

// insertBatch bounds rows per INSERT to stay under SQLite's variable limit.
const insertBatch = 200

var nodeColumns = []string{
	"repo_id", "node_id", "kind", "name", "language", "file_path",
	"start_byte", "end_byte", "start_line", "end_line", "start_col", "end_col",
	"signature", "metadata",
}

// SQLiteBackend stores every repository's snapshot in one database.
type SQLiteBackend struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// PRAGMA foreign_keys is per connection.
	db.SetMaxOpenConns(1)

	b, err := NewSQLiteBackendWithDB(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// NewSQLiteBackendWithDB uses an existing connection. The caller keeps
// ownership and Close does not close db.
func NewSQLiteBackendWithDB(ctx context.Context, db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := CreateSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Close() error {
	if !b.ownsDB || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Save replaces the repository's rows in a single transaction.
func (b *SQLiteBackend) Save(ctx context.Context, snap *graph.Snapshot) error {
	if err := checkRepo(snap.RepoID); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Cascades to nodes and edges.
	if _, err := sq.Delete("snapshots").Where(sq.Eq{"repo_id": snap.RepoID}).RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	meta := snap.Metadata
	_, err = sq.Insert("snapshots").
		Columns("repo_id", "version", "generated_at", "revision_tag", "node_count", "edge_count").
		Values(snap.RepoID, meta.Version, meta.GeneratedAt.UTC().Format(time.RFC3339Nano),
			meta.RevisionTag, len(snap.Nodes), len(snap.Edges)).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to write snapshot metadata: %w", err)
	}

	if err := writeNodes(ctx, tx, snap.RepoID, snap.Nodes); err != nil {
		return err
	}
	if err := writeEdges(ctx, tx, snap.RepoID, snap.Edges); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func writeNodes(ctx context.Context, tx *sql.Tx, repoID string, nodes []ast.Node) error {
	for start := 0; start < len(nodes); start += insertBatch {
		end := min(start+insertBatch, len(nodes))
		q := sq.Insert("nodes").Columns(nodeColumns...)
		for _, n := range nodes[start:end] {
			var md any
			if len(n.Metadata) > 0 {
				raw, err := json.Marshal(n.Metadata)
				if err != nil {
					return fmt.Errorf("failed to encode metadata for %s: %w", n.ID, err)
				}
				md = string(raw)
			}
			q = q.Values(repoID, n.ID.String(), string(n.Kind), n.Name, string(n.Language), n.File,
				n.Span.StartByte, n.Span.EndByte, n.Span.StartLine, n.Span.EndLine,
				n.Span.StartCol, n.Span.EndCol, n.Signature, md)
		}
		if _, err := q.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to write nodes: %w", err)
		}
	}
	return nil
}

func writeEdges(ctx context.Context, tx *sql.Tx, repoID string, edges []ast.Edge) error {
	for start := 0; start < len(edges); start += insertBatch {
		end := min(start+insertBatch, len(edges))
		q := sq.Insert("edges").Columns("repo_id", "source_id", "target_id", "kind")
		for _, e := range edges[start:end] {
			q = q.Values(repoID, e.Source.String(), e.Target.String(), string(e.Kind))
		}
		if _, err := q.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to write edges: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, repoID string) (*graph.Snapshot, error) {
	if err := checkRepo(repoID); err != nil {
		return nil, err
	}

	var (
		snap        = &graph.Snapshot{RepoID: repoID}
		generatedAt string
	)
	err := sq.Select("version", "generated_at", "revision_tag", "node_count", "edge_count").
		From("snapshots").
		Where(sq.Eq{"repo_id": repoID}).
		RunWith(b.db).
		QueryRowContext(ctx).
		Scan(&snap.Metadata.Version, &generatedAt, &snap.Metadata.RevisionTag,
			&snap.Metadata.NodeCount, &snap.Metadata.EdgeCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if snap.Metadata.GeneratedAt, err = time.Parse(time.RFC3339Nano, generatedAt); err != nil {
		return nil, fmt.Errorf("invalid generated_at %q: %w", generatedAt, err)
	}

	if snap.Nodes, err = b.readNodes(ctx, repoID); err != nil {
		return nil, err
	}
	if snap.Edges, err = b.readEdges(ctx, repoID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (b *SQLiteBackend) readNodes(ctx context.Context, repoID string) ([]ast.Node, error) {
	rows, err := sq.Select(nodeColumns[1:]...).
		From("nodes").
		Where(sq.Eq{"repo_id": repoID}).
		OrderBy("file_path", "start_byte", "node_id").
		RunWith(b.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []ast.Node{}
	for rows.Next() {
		var (
			n          = ast.Node{RepoID: repoID}
			id         string
			kind, lang string
			md         sql.NullString
		)
		if err := rows.Scan(&id, &kind, &n.Name, &lang, &n.File,
			&n.Span.StartByte, &n.Span.EndByte, &n.Span.StartLine, &n.Span.EndLine,
			&n.Span.StartCol, &n.Span.EndCol, &n.Signature, &md); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if n.ID, err = ast.ParseNodeID(id); err != nil {
			return nil, fmt.Errorf("corrupt node row: %w", err)
		}
		n.Kind = ast.NodeKind(kind)
		n.Language = ast.Language(lang)
		if md.Valid {
			if err := json.Unmarshal([]byte(md.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata for %s: %w", id, err)
			}
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}
	return nodes, nil
}

func (b *SQLiteBackend) readEdges(ctx context.Context, repoID string) ([]ast.Edge, error) {
	rows, err := sq.Select("source_id", "target_id", "kind").
		From("edges").
		Where(sq.Eq{"repo_id": repoID}).
		OrderBy("source_id", "target_id", "kind").
		RunWith(b.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	edges := []ast.Edge{}
	for rows.Next() {
		var source, target, kind string
		if err := rows.Scan(&source, &target, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		var e ast.Edge
		if e.Source, err = ast.ParseNodeID(source); err != nil {
			return nil, fmt.Errorf("corrupt edge row: %w", err)
		}
		if e.Target, err = ast.ParseNodeID(target); err != nil {
			return nil, fmt.Errorf("corrupt edge row: %w", err)
		}
		e.Kind = ast.EdgeKind(kind)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edges: %w", err)
	}
	return edges, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, repoID string) error {
	if err := checkRepo(repoID); err != nil {
		return err
	}
	if _, err := sq.Delete("snapshots").Where(sq.Eq{"repo_id": repoID}).RunWith(b.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, repoID string) bool {
	var n int
	err := sq.Select("COUNT(*)").From("snapshots").Where(sq.Eq{"repo_id": repoID}).
		RunWith(b.db).QueryRowContext(ctx).Scan(&n)
	return err == nil && n > 0
}

// Repositories lists the repository ids with a stored snapshot.
func (b *SQLiteBackend) Repositories(ctx context.Context) ([]string, error) {
	rows, err := sq.Select("repo_id").From("snapshots").OrderBy("repo_id").RunWith(b.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
