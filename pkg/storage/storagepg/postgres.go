// Package storagepg is the networked storage backend, selected when
// PERSISTENT_BACKEND=networked. One physical table holds every logical
// table's rows as JSONB, in the same single-table shape as vectorindexpg's
// vector_entries. Predicates compile to JSONB operators instead of
// per-entity columns so the adapter never needs a migration per new
// memory field.
package storagepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aimemory/platform/pkg/storage"
)

const defaultTableName = "storage_rows"

// Backend implements storage.Backend over a single JSONB-rows table.
type Backend struct {
	db        *sqlx.DB
	tableName string
}

func New(db *sqlx.DB) *Backend {
	return &Backend{db: db, tableName: defaultTableName}
}

func Connect(ctx context.Context, connStr string, maxConns int) (*Backend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres storage backend: %w", err)
	}
	db.SetMaxOpenConns(maxConns)

	b := &Backend{db: db, tableName: defaultTableName}
	if err := b.Migrate(ctx, 1); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the underlying connection for repositories with native
// Postgres tables.
func (b *Backend) DB() *sqlx.DB { return b.db }

var _ storage.Backend = (*Backend)(nil)

func (b *Backend) Migrate(ctx context.Context, _ int) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			table_name TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (table_name, id)
		)`, b.tableName)
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create storage rows table: %w", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_fields_gin ON %s USING GIN (fields)`, b.tableName, b.tableName)
	if _, err := b.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create fields gin index: %w", err)
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b *Backend) Put(ctx context.Context, table, id string, row storage.Row) error {
	fields, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (table_name, id, fields) VALUES ($1, $2, $3)`, b.tableName)
	if _, err := b.db.ExecContext(ctx, query, table, id, fields); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return storage.ErrConflict().WithDetail("table", table).WithDetail("id", id)
		}
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

func (b *Backend) Upsert(ctx context.Context, table, id string, row storage.Row) error {
	fields, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (table_name, id, fields, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (table_name, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = now()`, b.tableName)
	if _, err := b.db.ExecContext(ctx, query, table, id, fields); err != nil {
		return fmt.Errorf("upsert row: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, table, id string) (*storage.Row, error) {
	query := fmt.Sprintf(`SELECT fields FROM %s WHERE table_name = $1 AND id = $2`, b.tableName)
	var raw []byte
	if err := b.db.GetContext(ctx, &raw, query, table, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound().WithDetail("table", table).WithDetail("id", id)
		}
		return nil, fmt.Errorf("get row: %w", err)
	}
	var fields map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return &storage.Row{ID: id, Fields: fields}, nil
}

func (b *Backend) Delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE table_name = $1 AND id = $2`, b.tableName)
	_, err := b.db.ExecContext(ctx, query, table, id)
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	return nil
}

func (b *Backend) Query(ctx context.Context, table string, spec storage.QuerySpec) ([]storage.Row, int, error) {
	where := "table_name = $1"
	args := []any{table}

	if spec.Predicate.Kind != "" {
		clause, predArgs := compilePredicate(spec.Predicate, &args)
		if clause != "" {
			where += " AND " + clause
		}
		_ = predArgs // args already appended by compilePredicate
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, b.tableName, where)
	var total int
	if err := b.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count rows: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, fields FROM %s WHERE %s`, b.tableName, where)
	if len(spec.Order) > 0 {
		var orderParts []string
		for _, o := range spec.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			orderParts = append(orderParts, fmt.Sprintf("fields->>'%s' %s", o.Field, dir))
		}
		query += " ORDER BY " + strings.Join(orderParts, ", ")
	} else {
		query += " ORDER BY id"
	}
	if spec.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", spec.Limit)
	}
	if spec.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", spec.Offset)
	}

	rows, err := b.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}
		var fields map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, 0, fmt.Errorf("unmarshal fields: %w", err)
			}
		}
		out = append(out, storage.Row{ID: id, Fields: fields})
	}
	return out, total, rows.Err()
}

func (b *Backend) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx, tableName: b.tableName}, nil
}

type pgTx struct {
	tx        *sqlx.Tx
	tableName string
}

// Upsert writes inside the open transaction; nothing is visible to other
// connections until Commit.
func (t *pgTx) Upsert(ctx context.Context, table, id string, row storage.Row) error {
	fields, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (table_name, id, fields, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (table_name, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = now()`, t.tableName)
	if _, err := t.tx.ExecContext(ctx, query, table, id, fields); err != nil {
		return fmt.Errorf("upsert row in tx: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(_ context.Context) error   { return t.tx.Commit() }
func (t *pgTx) Rollback(_ context.Context) error { return t.tx.Rollback() }

// compilePredicate compiles the closed predicate algebra to a JSONB-aware
// SQL fragment, appending its parameters to args and returning the WHERE
// clause fragment. args is a pointer so nested And/Or calls share one
// monotonically increasing placeholder counter.
func compilePredicate(p storage.Predicate, args *[]any) (string, []any) {
	nextArg := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	switch p.Kind {
	case storage.PredEq:
		ph := nextArg(fmt.Sprintf("%v", p.Value))
		return fmt.Sprintf("fields->>'%s' = %s", p.Field, ph), nil
	case storage.PredRange:
		var clauses []string
		if p.Min != nil {
			ph := nextArg(fmt.Sprintf("%v", p.Min))
			clauses = append(clauses, fmt.Sprintf("fields->>'%s' >= %s", p.Field, ph))
		}
		if p.Max != nil {
			ph := nextArg(fmt.Sprintf("%v", p.Max))
			clauses = append(clauses, fmt.Sprintf("fields->>'%s' <= %s", p.Field, ph))
		}
		return strings.Join(clauses, " AND "), nil
	case storage.PredIn:
		vals := make([]string, len(p.Values))
		for i, v := range p.Values {
			vals[i] = fmt.Sprintf("%v", v)
		}
		ph := nextArg(pq.StringArray(vals))
		return fmt.Sprintf("fields->>'%s' = ANY(%s)", p.Field, ph), nil
	case storage.PredTagContainsAny:
		ph := nextArg(pq.StringArray(p.Tags))
		return fmt.Sprintf("fields->'%s' ?| %s", p.Field, ph), nil
	case storage.PredTextMatch:
		ph := nextArg("%" + p.Query + "%")
		return fmt.Sprintf("fields->>'%s' ILIKE %s", p.Field, ph), nil
	case storage.PredAnd:
		var parts []string
		for _, term := range p.Terms {
			clause, _ := compilePredicate(term, args)
			if clause != "" {
				parts = append(parts, "("+clause+")")
			}
		}
		return strings.Join(parts, " AND "), nil
	case storage.PredOr:
		var parts []string
		for _, term := range p.Terms {
			clause, _ := compilePredicate(term, args)
			if clause != "" {
				parts = append(parts, "("+clause+")")
			}
		}
		if len(parts) == 0 {
			return "", nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	default:
		return "", nil
	}
}
