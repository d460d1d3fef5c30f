// Package postgres provides a PostgreSQL-backed document store backend.
// Documents are JSONB rows keyed by (collection, id); commits run at
// serializable isolation so concurrent writers surface as conflicts.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"whosaid/internal/docstore"
)

//go:embed schema.sql
var schema string

// Backend persists documents in PostgreSQL.
type Backend struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Backend{pool: pool}, nil
}

// OpenStore opens a PostgreSQL backend wrapped in the store engine.
func OpenStore(ctx context.Context, dsn string) (*docstore.Engine, error) {
	backend, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return docstore.New(backend), nil
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, ref docstore.Ref) (docstore.Record, bool, error) {
	var (
		version int64
		data    []byte
	)
	err := b.pool.QueryRow(ctx,
		`SELECT version, data FROM documents WHERE collection = $1 AND id = $2`,
		ref.Collection, ref.ID,
	).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Record{}, false, nil
	}
	if err != nil {
		return docstore.Record{}, false, mapError(fmt.Errorf("load %s: %w", ref, err))
	}
	return docstore.Record{Ref: ref, Version: version, Data: data}, true, nil
}

// List implements docstore.Backend. Equality filters become one JSONB
// containment test.
func (b *Backend) List(ctx context.Context, q docstore.Query) ([]docstore.Record, error) {
	sql := `SELECT id, version, data FROM documents WHERE collection = $1`
	args := []any{q.Collection}
	if len(q.Filters) > 0 {
		match, ok, err := containment(q.Filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []docstore.Record{}, nil
		}
		sql += ` AND data @> $2`
		args = append(args, match)
	}
	sql += ` ORDER BY id`

	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list %s: %w", q.Collection, err))
	}
	defer rows.Close()

	out := make([]docstore.Record, 0)
	for rows.Next() {
		var (
			id      string
			version int64
			data    []byte
		)
		if err := rows.Scan(&id, &version, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		out = append(out, docstore.Record{
			Ref:     docstore.Doc(q.Collection, id),
			Version: version,
			Data:    data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("iterate %s: %w", q.Collection, err))
	}
	return out, nil
}

// Commit implements docstore.Backend.
func (b *Backend) Commit(ctx context.Context, preconditions map[docstore.Ref]int64, writes []docstore.Write) (err error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(fmt.Errorf("begin commit: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for ref, want := range preconditions {
		var have int64
		scanErr := tx.QueryRow(ctx,
			`SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			ref.Collection, ref.ID,
		).Scan(&have)
		if scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) {
			return mapError(fmt.Errorf("check %s: %w", ref, scanErr))
		}
		if have != want {
			return fmt.Errorf("%w: %s at version %d, read %d", docstore.ErrConflict, ref, have, want)
		}
	}

	for _, w := range writes {
		if w.Data == nil {
			if _, err := tx.Exec(ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`,
				w.Ref.Collection, w.Ref.ID,
			); err != nil {
				return mapError(fmt.Errorf("delete %s: %w", w.Ref, err))
			}
			continue
		}

		var version int64
		if err := tx.QueryRow(ctx,
			`UPDATE store_clock SET value = value + 1 WHERE id = 1 RETURNING value`,
		).Scan(&version); err != nil {
			return mapError(fmt.Errorf("advance clock: %w", err))
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, version, data, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (collection, id) DO UPDATE SET
			   version = excluded.version,
			   data = excluded.data,
			   updated_at = excluded.updated_at`,
			w.Ref.Collection, w.Ref.ID, version, w.Data,
		); err != nil {
			return mapError(fmt.Errorf("write %s: %w", w.Ref, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// containment renders filters as a JSON object for the @> operator. It
// reports false when two filters on one field can never both match.
func containment(filters []docstore.Filter) ([]byte, bool, error) {
	match := make(map[string]any, len(filters))
	for _, f := range filters {
		switch f.Value.(type) {
		case string, bool, int, int32, int64, float64:
		default:
			return nil, false, fmt.Errorf("unsupported filter value %T", f.Value)
		}
		if prev, ok := match[f.Field]; ok && prev != f.Value {
			return nil, false, nil
		}
		match[f.Field] = f.Value
	}
	data, err := json.Marshal(match)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// mapError turns serialization failures and deadlocks into retryable
// conflicts and connection failures into ErrUnavailable.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", docstore.ErrConflict, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
	}
	return err
}
