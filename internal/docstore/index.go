// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pmc-harvest/internal/fsutil"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

const defaultMaxResults = 20

// Index is a SQLite full-text index over document sections. The FTS5
// table requires building with the sqlite_fts5 tag.
type Index struct {
	db         *sql.DB
	path       string
	maxResults int
}

// OpenIndex opens or creates the index database at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ix := &Index{db: db, path: path, maxResults: defaultMaxResults}
	if err := ix.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return ix, nil
}

// Close releases the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Path returns the database file path.
func (ix *Index) Path() string { return ix.path }

func (ix *Index) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT,
			abstract TEXT,
			venue TEXT,
			year INTEGER,
			article_type TEXT,
			authors TEXT,
			keywords TEXT,
			mesh_terms TEXT,
			secondary_ids TEXT,
			citation_count INTEGER,
			collected_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sections (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			label TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_document_id ON sections(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(year)`,
	}
	for _, stmt := range statements {
		if _, err := ix.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	var ftsExists int
	if err := ix.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sections_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		return nil
	}

	ftsStatements := []string{
		`CREATE VIRTUAL TABLE sections_fts USING fts5(label, text, content=sections, content_rowid=rowid)`,
		`CREATE TRIGGER sections_ai AFTER INSERT ON sections BEGIN
			INSERT INTO sections_fts(rowid, label, text) VALUES (new.rowid, new.label, new.text);
		END`,
		`CREATE TRIGGER sections_ad AFTER DELETE ON sections BEGIN
			INSERT INTO sections_fts(sections_fts, rowid, label, text) VALUES('delete', old.rowid, old.label, old.text);
		END`,
		`CREATE TRIGGER sections_au AFTER UPDATE ON sections BEGIN
			INSERT INTO sections_fts(sections_fts, rowid, label, text) VALUES('delete', old.rowid, old.label, old.text);
			INSERT INTO sections_fts(rowid, label, text) VALUES (new.rowid, new.label, new.text);
		END`,
	}
	for _, stmt := range ftsStatements {
		if _, err := ix.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	return nil
}

// Put inserts or replaces doc and its sections in one transaction.
func (ix *Index) Put(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("deleting old sections: %w", err)
	}

	authorsJSON, _ := json.Marshal(doc.Meta.Authors)
	keywordsJSON, _ := json.Marshal(doc.Meta.Keywords)
	meshJSON, _ := json.Marshal(doc.Meta.MeshTerms)
	secondaryJSON, _ := json.Marshal(doc.SecondaryIDs)
	var citations sql.NullInt64
	if doc.CitationCount != nil {
		citations = sql.NullInt64{Int64: int64(*doc.CitationCount), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, abstract, venue, year, article_type, authors,
			keywords, mesh_terms, secondary_ids, citation_count, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, abstract=excluded.abstract, venue=excluded.venue,
			year=excluded.year, article_type=excluded.article_type, authors=excluded.authors,
			keywords=excluded.keywords, mesh_terms=excluded.mesh_terms,
			secondary_ids=excluded.secondary_ids, citation_count=excluded.citation_count,
			collected_at=excluded.collected_at`,
		doc.ID, doc.Title, doc.Abstract, doc.Meta.Venue, doc.Meta.Year, doc.Meta.ArticleType,
		string(authorsJSON), string(keywordsJSON), string(meshJSON), string(secondaryJSON),
		citations, doc.CollectedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sections (document_id, position, label, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, sec := range doc.Sections {
		if _, err := stmt.ExecContext(ctx, doc.ID, i, sec.Label, sec.Text); err != nil {
			return fmt.Errorf("inserting section %q of %s: %w", sec.Label, doc.ID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of indexed documents.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n)
	return n, err
}

// QueryOptions holds parameters for index searches.
type QueryOptions struct {
	// Query is an FTS5 match expression over section labels and text.
	Query string

	// Venue filters by exact journal title.
	Venue string

	// Year filters by publication year.
	Year int

	// DocumentID restricts results to one document.
	DocumentID string

	// MaxResults limits result count. Zero uses the index default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Venue == "" && q.Year == 0 && q.DocumentID == ""
}

// Hit is one matching section with its document's metadata.
type Hit struct {
	DocumentID string   `json:"document_id" yaml:"document_id"`
	Title      string   `json:"title" yaml:"title"`
	Venue      string   `json:"venue,omitempty" yaml:"venue,omitempty"`
	Year       int      `json:"year,omitempty" yaml:"year,omitempty"`
	Authors    []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Section    string   `json:"section" yaml:"section"`
	Text       string   `json:"text" yaml:"text"`
}

// Search queries the index. Full-text queries are ranked by relevance;
// filter-only queries are ordered by document ID and section position.
func (ix *Index) Search(ctx context.Context, opts QueryOptions) ([]Hit, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = ix.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT s.document_id, d.title, d.venue, d.year, d.authors, s.label, s.text
			FROM sections_fts
			JOIN sections s ON s.rowid = sections_fts.rowid
			JOIN documents d ON d.id = s.document_id
			WHERE sections_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT s.document_id, d.title, d.venue, d.year, d.authors, s.label, s.text
			FROM sections s
			JOIN documents d ON d.id = s.document_id
			WHERE 1=1`)
	}

	if opts.Venue != "" {
		qb.WriteString(` AND d.venue = ?`)
		args = append(args, opts.Venue)
	}
	if opts.Year != 0 {
		qb.WriteString(` AND d.year = ?`)
		args = append(args, opts.Year)
	}
	if opts.DocumentID != "" {
		qb.WriteString(` AND s.document_id = ?`)
		args = append(args, opts.DocumentID)
	}

	if useFTS {
		qb.WriteString(` ORDER BY sections_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY s.document_id, s.position`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := ix.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h           Hit
			title       sql.NullString
			venue       sql.NullString
			year        sql.NullInt64
			authorsJSON sql.NullString
		)
		if err := rows.Scan(&h.DocumentID, &title, &venue, &year, &authorsJSON, &h.Section, &h.Text); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		h.Title = title.String
		h.Venue = venue.String
		h.Year = int(year.Int64)
		if authorsJSON.Valid {
			var authors []types.Author
			json.Unmarshal([]byte(authorsJSON.String), &authors)
			for _, a := range authors {
				h.Authors = append(h.Authors, a.Name)
			}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ExportEntry is one document in the flat JSON export.
type ExportEntry struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Venue         string            `json:"venue,omitempty"`
	Year          int               `json:"year,omitempty"`
	Authors       []string          `json:"authors,omitempty"`
	Keywords      []string          `json:"keywords,omitempty"`
	MeshTerms     []string          `json:"mesh_terms,omitempty"`
	SecondaryIDs  map[string]string `json:"secondary_ids,omitempty"`
	CitationCount *int              `json:"citation_count,omitempty"`
	Sections      int               `json:"sections"`
}

// ExportJSON writes every indexed document, ordered by ID, to path.
func (ix *Index) ExportJSON(ctx context.Context, path string) (int, error) {
	entries, err := ix.exportEntries(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshaling JSON: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (ix *Index) exportEntries(ctx context.Context) ([]ExportEntry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT d.id, d.title, d.venue, d.year, d.authors, d.keywords, d.mesh_terms,
			d.secondary_ids, d.citation_count,
			(SELECT count(*) FROM sections s WHERE s.document_id = d.id)
		FROM documents d ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}
	defer rows.Close()

	entries := []ExportEntry{}
	for rows.Next() {
		var (
			e                                    ExportEntry
			title, venue                         sql.NullString
			year, citations                      sql.NullInt64
			authorsJSON, kwJSON, meshJSON, sJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &title, &venue, &year, &authorsJSON, &kwJSON, &meshJSON,
			&sJSON, &citations, &e.Sections); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.Title = title.String
		e.Venue = venue.String
		e.Year = int(year.Int64)
		if citations.Valid {
			n := int(citations.Int64)
			e.CitationCount = &n
		}
		var authors []types.Author
		unmarshalNullJSON(authorsJSON, &authors)
		for _, a := range authors {
			e.Authors = append(e.Authors, a.Name)
		}
		unmarshalNullJSON(kwJSON, &e.Keywords)
		unmarshalNullJSON(meshJSON, &e.MeshTerms)
		unmarshalNullJSON(sJSON, &e.SecondaryIDs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func unmarshalNullJSON(s sql.NullString, v any) {
	if s.Valid {
		json.Unmarshal([]byte(s.String), v)
	}
}
