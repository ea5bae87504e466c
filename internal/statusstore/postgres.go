// Package statusstore persists the per-document status records in Postgres
// and exposes their mutations as a change stream.
package statusstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/bull/doc-chat-server/internal/domain"
	"github.com/bull/doc-chat-server/internal/statusstore/migrations"
)

// Postgres implements domain.StatusStore over a documents table.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres opens the status store connection pool.
func NewPostgres(dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	return &Postgres{db: db, logger: logger}, nil
}

// Ping verifies connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunMigrations applies the embedded schema migrations.
func (p *Postgres) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, p.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Create inserts a new status record. Ids are unique; a duplicate insert is
// an error because ids are minted exactly once by the upload URL issuer.
func (p *Postgres) Create(ctx context.Context, doc domain.Document) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO documents (id, original_file_name, file_name, status)
		 VALUES ($1, $2, $3, $4)`,
		doc.ID, doc.OriginalFileName, doc.FileName, string(doc.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create record %q: already exists: %w", doc.ID, err)
		}
		return fmt.Errorf("create record %q: %w", doc.ID, err)
	}
	return nil
}

// SetTerminalStatus conditionally moves a PENDING record to a terminal
// status. The status guard keeps transitions monotonic and turns a lost
// race with deletion into ErrConditionFailed instead of a silent resurrect.
func (p *Postgres) SetTerminalStatus(ctx context.Context, id string, status domain.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE documents SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(status), string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("update record %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update record %q to %s: %w", id, status, domain.ErrConditionFailed)
	}
	return nil
}

// Delete removes a record. A missing record counts as deleted.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete record %q: %w", id, err)
	}
	return nil
}

// List returns every status record, newest first by id. Document ids are
// time-ordered, so this is upload order.
func (p *Postgres) List(ctx context.Context) ([]domain.Document, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, original_file_name, file_name, status FROM documents ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var status string
		if err := rows.Scan(&d.ID, &d.OriginalFileName, &d.FileName, &status); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		d.Status = domain.Status(status)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return docs, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
