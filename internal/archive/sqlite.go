//go:build sqlite
// +build sqlite

package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	logx "crosspub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ArchivedAt.IsZero() {
		r.ArchivedAt = time.Now()
	}
	platforms, err := json.Marshal(r.Platforms)
	if err != nil {
		return err
	}

	q, args, err := sq.Insert("items").
		Columns("id", "content_id", "title", "body", "platforms", "priority", "status",
			"retry_count", "last_error", "results", "created_at", "published_at", "archived_at").
		Values(r.ID, nullStr(r.ContentID), nullStr(r.Title), r.Body, string(platforms),
			r.Priority, r.Status, r.RetryCount, nullStr(r.LastError), nullStr(r.ResultsJSON),
			r.CreatedAt.Format(time.RFC3339Nano), nullTime(r.PublishedAt),
			r.ArchivedAt.Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *sqliteStore) List(ctx context.Context, f Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}

	b := sq.Select("id", "content_id", "title", "body", "platforms", "priority", "status",
		"retry_count", "last_error", "results", "created_at", "published_at", "archived_at").
		From("items").
		OrderBy("archived_at DESC")
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Platform != "" {
		// platforms is a JSON array of strings; a quoted LIKE match avoids
		// false positives on substrings of other platform names.
		b = b.Where(sq.Like{"platforms": `%"` + f.Platform + `"%`})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"archived_at": f.Since.Format(time.RFC3339Nano)})
	}
	if !f.Until.IsZero() {
		b = b.Where(sq.Lt{"archived_at": f.Until.Format(time.RFC3339Nano)})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			contentID  sql.NullString
			title      sql.NullString
			platforms  string
			lastError  sql.NullString
			results    sql.NullString
			createdAt  string
			published  sql.NullString
			archivedAt string
		)
		if err := rows.Scan(&r.ID, &contentID, &title, &r.Body, &platforms, &r.Priority,
			&r.Status, &r.RetryCount, &lastError, &results, &createdAt, &published, &archivedAt); err != nil {
			return nil, err
		}
		r.ContentID = contentID.String
		r.Title = title.String
		r.LastError = lastError.String
		r.ResultsJSON = results.String
		_ = json.Unmarshal([]byte(platforms), &r.Platforms)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if published.Valid {
			r.PublishedAt, _ = time.Parse(time.RFC3339Nano, published.String)
		}
		r.ArchivedAt, _ = time.Parse(time.RFC3339Nano, archivedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	q, args, err := sq.Delete("items").
		Where(sq.Lt{"archived_at": olderThan.Format(time.RFC3339Nano)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
