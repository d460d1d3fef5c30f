// Package sqlite provides a SQLite-backed document store backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"whosaid/internal/docstore"
	"whosaid/internal/docstore/sqlite/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Backend persists documents as JSON text rows keyed by (collection, id).
type Backend struct {
	sqlDB *sql.DB
}

// Open opens (or creates) a SQLite database at path and applies migrations.
func Open(path string) (*Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time keeps commits serialized without SQLITE_BUSY upgrades
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Backend{sqlDB: sqlDB}, nil
}

// OpenStore opens a SQLite backend wrapped in the store engine.
func OpenStore(path string) (*docstore.Engine, error) {
	backend, err := Open(path)
	if err != nil {
		return nil, err
	}
	return docstore.New(backend), nil
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, ref docstore.Ref) (docstore.Record, bool, error) {
	if b == nil || b.sqlDB == nil {
		return docstore.Record{}, false, docstore.ErrClosed
	}
	var (
		version int64
		data    string
	)
	err := b.sqlDB.QueryRowContext(ctx,
		`SELECT version, data FROM documents WHERE collection = ? AND id = ?`,
		ref.Collection, ref.ID,
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Record{}, false, nil
	}
	if err != nil {
		return docstore.Record{}, false, fmt.Errorf("load %s: %w", ref, err)
	}
	return docstore.Record{Ref: ref, Version: version, Data: []byte(data)}, true, nil
}

// List implements docstore.Backend. Equality filters are evaluated with
// json_extract so only matching rows leave the database.
func (b *Backend) List(ctx context.Context, q docstore.Query) ([]docstore.Record, error) {
	if b == nil || b.sqlDB == nil {
		return nil, docstore.ErrClosed
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, version, data FROM documents WHERE collection = ?`)
	args := []any{q.Collection}
	for _, f := range q.Filters {
		value, err := sqlValue(f.Value)
		if err != nil {
			return nil, err
		}
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, jsonPath(f.Field), value)
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := b.sqlDB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.Collection, err)
	}
	defer rows.Close()

	out := make([]docstore.Record, 0)
	for rows.Next() {
		var (
			id      string
			version int64
			data    string
		)
		if err := rows.Scan(&id, &version, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		out = append(out, docstore.Record{
			Ref:     docstore.Doc(q.Collection, id),
			Version: version,
			Data:    []byte(data),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return out, nil
}

// Commit implements docstore.Backend.
func (b *Backend) Commit(ctx context.Context, preconditions map[docstore.Ref]int64, writes []docstore.Write) (err error) {
	if b == nil || b.sqlDB == nil {
		return docstore.ErrClosed
	}

	tx, err := b.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("begin commit: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for ref, want := range preconditions {
		var have int64
		scanErr := tx.QueryRowContext(ctx,
			`SELECT version FROM documents WHERE collection = ? AND id = ?`,
			ref.Collection, ref.ID,
		).Scan(&have)
		if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			return mapBusy(fmt.Errorf("check %s: %w", ref, scanErr))
		}
		if have != want {
			return fmt.Errorf("%w: %s at version %d, read %d", docstore.ErrConflict, ref, have, want)
		}
	}

	now := time.Now().UTC().UnixMilli()
	for _, w := range writes {
		if w.Data == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`,
				w.Ref.Collection, w.Ref.ID,
			); err != nil {
				return mapBusy(fmt.Errorf("delete %s: %w", w.Ref, err))
			}
			continue
		}

		var version int64
		if err := tx.QueryRowContext(ctx,
			`UPDATE store_clock SET value = value + 1 WHERE id = 1 RETURNING value`,
		).Scan(&version); err != nil {
			return mapBusy(fmt.Errorf("advance clock: %w", err))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, version, data, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET
			   version = excluded.version,
			   data = excluded.data,
			   updated_at = excluded.updated_at`,
			w.Ref.Collection, w.Ref.ID, version, string(w.Data), now,
		); err != nil {
			return mapBusy(fmt.Errorf("write %s: %w", w.Ref, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return mapBusy(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Close closes the SQLite handle.
func (b *Backend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported filter value %T", v)
	}
}

// mapBusy turns lock contention into a retryable conflict.
func mapBusy(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", docstore.ErrConflict, err)
		}
	}
	return err
}
