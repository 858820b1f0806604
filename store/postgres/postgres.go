// Package postgres implements store.Store backed by PostgreSQL.
//
// Documents live in a single table keyed by (collection, id) with the
// field map stored as JSONB. Merge updates use the JSONB concatenation
// operator so untouched fields are never rewritten, mirroring the
// per-document atomic update the subsystem relies on.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

// Store implements store.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New returns a Store backed by the given pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a new Store.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return New(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (record.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var fields record.Record
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding document %s/%s: %w", collection, id, err)
	}
	return fields, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields record.Record) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, fields)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET fields = $3, updated_at = now()`,
		collection, id, data)
	return err
}

func (s *Store) Update(ctx context.Context, collection, id string, fields record.Record) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET fields = fields || $3, updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]store.Document, string, error) {
	sql, args := buildQuery(collection, q)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, "", err
		}
		var fields record.Record
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, "", fmt.Errorf("decoding document %s/%s: %w", collection, id, err)
		}
		docs = append(docs, store.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if q.StartAfter != "" && len(docs) == 0 {
		// Distinguish an exhausted walk from a cursor pointing nowhere.
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
			collection, q.StartAfter).Scan(&exists)
		if err != nil {
			return nil, "", err
		}
		if !exists {
			return nil, "", store.ErrBadCursor
		}
	}

	next := ""
	if q.Limit > 0 && len(docs) == q.Limit {
		next = docs[len(docs)-1].ID
	}
	return docs, next, nil
}

// buildQuery assembles the paginated SELECT. Ordering is by id, or by a
// string field with id as same-direction tiebreak; the cursor is resolved
// to its sort value with a row-comparison subquery.
func buildQuery(collection string, q store.Query) (string, []any) {
	args := []any{collection}
	where := "collection = $1"

	for _, f := range q.Filters {
		args = append(args, f.Field, f.Value)
		where += fmt.Sprintf(" AND fields->>$%d = $%d", len(args)-1, len(args))
	}

	dir, cmp := "ASC", ">"
	if q.Descending {
		dir, cmp = "DESC", "<"
	}

	var orderBy, cursorCond string
	if q.OrderBy == "" {
		orderBy = fmt.Sprintf("id %s", dir)
		if q.StartAfter != "" {
			args = append(args, q.StartAfter)
			cursorCond = fmt.Sprintf(" AND id %s $%d", cmp, len(args))
		}
	} else {
		args = append(args, q.OrderBy)
		sortExpr := fmt.Sprintf("fields->>$%d", len(args))
		orderBy = fmt.Sprintf("%s %s, id %s", sortExpr, dir, dir)
		if q.StartAfter != "" {
			args = append(args, q.StartAfter)
			cursorCond = fmt.Sprintf(
				" AND (%s, id) %s (SELECT fields->>$%d, id FROM documents WHERE collection = $1 AND id = $%d)",
				sortExpr, cmp, len(args)-1, len(args))
		}
	}

	sql := fmt.Sprintf(
		`SELECT id, fields FROM documents WHERE %s%s ORDER BY %s`,
		where, cursorCond, orderBy)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return sql, args
}

type batchTx struct {
	ctx        context.Context
	tx         pgx.Tx
	collection string
	count      int
}

func (t *batchTx) Set(id string, fields record.Record) error {
	if t.count >= store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}
	t.count++
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO documents (collection, id, fields)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET fields = $3, updated_at = now()`,
		t.collection, id, data)
	return err
}

func (t *batchTx) Update(id string, fields record.Record) error {
	if t.count >= store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}
	t.count++
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE documents SET fields = fields || $3, updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		t.collection, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", t.collection, id, store.ErrNotFound)
	}
	return nil
}

// Batch runs fn inside one transaction. On error everything rolls back.
func (s *Store) Batch(ctx context.Context, collection string, fn func(tx store.BatchTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&batchTx{ctx: ctx, tx: tx, collection: collection})
	})
}
