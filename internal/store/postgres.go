package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/paperdex/paperdex/internal/paper"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/postgres"
)

// Postgres implements Store on PostgreSQL.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "paper-store"),
	}
}

// EnsureSchema creates the papers table and its indexes when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			external_id  TEXT PRIMARY KEY,
			title        TEXT NOT NULL DEFAULT '',
			summary      TEXT NOT NULL DEFAULT '',
			authors      TEXT[] NOT NULL DEFAULT '{}',
			categories   TEXT[] NOT NULL DEFAULT '{}',
			payload_path TEXT NOT NULL DEFAULT '',
			full_text    TEXT NOT NULL DEFAULT '',
			sections     JSONB NOT NULL DEFAULT '[]',
			published_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			indexed_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_published_at ON papers (published_at)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_indexed_at ON papers (indexed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring papers schema: %w", err)
		}
	}
	s.logger.Info("papers schema ensured")
	return nil
}

func (s *Postgres) Upsert(ctx context.Context, doc paper.Document) error {
	sections, err := json.Marshal(doc.Sections)
	if err != nil {
		return fmt.Errorf("encoding sections for %s: %w", doc.ExternalID, err)
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO papers
				(external_id, title, summary, authors, categories, payload_path,
				 full_text, sections, published_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (external_id) DO UPDATE SET
				title        = EXCLUDED.title,
				summary      = EXCLUDED.summary,
				authors      = EXCLUDED.authors,
				categories   = EXCLUDED.categories,
				payload_path = EXCLUDED.payload_path,
				full_text    = EXCLUDED.full_text,
				sections     = EXCLUDED.sections,
				published_at = EXCLUDED.published_at,
				indexed_at   = NULL`,
			doc.ExternalID, doc.Title, doc.Summary,
			pq.Array(doc.Authors), pq.Array(doc.Categories),
			doc.PayloadPath, doc.FullText, sections,
			nullableTime(doc.PublishedAt), createdAt,
		)
		if err != nil {
			return fmt.Errorf("upserting paper %s: %w", doc.ExternalID, err)
		}
		return nil
	})
}

const paperColumns = `external_id, title, summary, authors, categories,
	payload_path, full_text, sections, published_at, created_at, indexed_at`

func (s *Postgres) FindByExternalID(ctx context.Context, externalID string) (paper.Document, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE external_id = $1`, externalID)
	doc, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return paper.Document{}, fmt.Errorf("paper %s: %w", externalID, apperrors.ErrPaperNotFound)
	}
	if err != nil {
		return paper.Document{}, fmt.Errorf("querying paper %s: %w", externalID, err)
	}
	return doc, nil
}

func (s *Postgres) ExistingIDs(ctx context.Context, externalIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT external_id FROM papers WHERE external_id = ANY($1)`, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("querying existing papers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning existing paper id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating existing papers: %w", err)
	}
	return existing, nil
}

func (s *Postgres) All(ctx context.Context) ([]paper.Document, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+paperColumns+` FROM papers ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("querying all papers: %w", err)
	}
	defer rows.Close()

	var docs []paper.Document
	for rows.Next() {
		doc, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning paper row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating papers: %w", err)
	}
	return docs, nil
}

func (s *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting papers: %w", err)
	}
	return n, nil
}

func (s *Postgres) MarkIndexed(ctx context.Context, externalID string, at time.Time) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE papers SET indexed_at = $2 WHERE external_id = $1`, externalID, at)
	if err != nil {
		return fmt.Errorf("marking paper %s indexed: %w", externalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("paper %s: %w", externalID, apperrors.ErrPaperNotFound)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (paper.Document, error) {
	var (
		doc         paper.Document
		authors     pq.StringArray
		categories  pq.StringArray
		sections    []byte
		publishedAt sql.NullTime
		indexedAt   sql.NullTime
	)
	err := row.Scan(
		&doc.ExternalID, &doc.Title, &doc.Summary, &authors, &categories,
		&doc.PayloadPath, &doc.FullText, &sections, &publishedAt,
		&doc.CreatedAt, &indexedAt,
	)
	if err != nil {
		return paper.Document{}, err
	}
	doc.Authors = []string(authors)
	doc.Categories = []string(categories)
	if err := json.Unmarshal(sections, &doc.Sections); err != nil {
		return paper.Document{}, fmt.Errorf("decoding sections for %s: %w", doc.ExternalID, err)
	}
	if publishedAt.Valid {
		doc.PublishedAt = publishedAt.Time
	}
	if indexedAt.Valid {
		t := indexedAt.Time
		doc.IndexedAt = &t
	}
	return doc, nil
}

// nullableTime converts a zero time to NULL.
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
