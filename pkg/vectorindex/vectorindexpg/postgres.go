// Package vectorindexpg is the networked vector index provider, backed by
// PostgreSQL with the pgvector extension.
package vectorindexpg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aimemory/platform/pkg/vectorindex"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const defaultTableName = "vector_entries"

// Provider implements vectorindex.VectorStorer over a pgvector-enabled table.
// One physical table backs every collection; rows are partitioned by the
// (owner_user_id, logical_name) pair.
type Provider struct {
	db        *sqlx.DB
	tableName string
}

// New wraps an existing connection; the caller owns its lifecycle.
func New(db *sqlx.DB) *Provider {
	return &Provider{db: db, tableName: defaultTableName}
}

// Connect opens a new connection and ensures the schema exists.
func Connect(ctx context.Context, connStr string, maxConns int) (*Provider, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	db.SetMaxOpenConns(maxConns)

	p := &Provider{db: db, tableName: defaultTableName}
	if err := p.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Provider) initialize(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("ensure pgvector extension: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			owner_user_id TEXT NOT NULL,
			logical_name  TEXT NOT NULL,
			id            TEXT NOT NULL,
			embedding     vector NOT NULL,
			metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner_user_id, logical_name, id)
		)`, p.tableName)
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}
	return nil
}

func (p *Provider) Close() error { return p.db.Close() }

// EnsureCollection is a no-op beyond checking that dim is positive: rows are
// partitioned logically, not physically, so no DDL is needed per collection.
// Neither dim nor metric is recorded, so upserts of another dimension are
// not rejected and queries always score by cosine distance.
func (p *Provider) EnsureCollection(ctx context.Context, key vectorindex.CollectionKey, dim int, metric vectorindex.Metric) error {
	if dim <= 0 {
		return fmt.Errorf("collection dimension must be positive, got %d", dim)
	}
	return nil
}

func (p *Provider) Upsert(ctx context.Context, key vectorindex.CollectionKey, vectors []vectorindex.Vector, opts ...vectorindex.Option) error {
	if len(vectors) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (owner_user_id, logical_name, id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (owner_user_id, logical_name, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = now()`, p.tableName)

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vectors {
		meta, err := json.Marshal(v.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", v.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, key.OwnerUserID, key.LogicalName, v.ID, pgvectorLiteral(v.Values), meta); err != nil {
			return fmt.Errorf("upsert vector %s: %w", v.ID, err)
		}
	}

	return tx.Commit()
}

func (p *Provider) Query(ctx context.Context, key vectorindex.CollectionKey, vector []float32, opts ...vectorindex.Option) (*vectorindex.QueryResult, error) {
	options := vectorindex.ApplyOptions(opts...)

	selectCols := "id, 1 - (embedding <=> $1) AS score"
	if options.IncludeValues {
		selectCols += ", embedding"
	}
	if options.IncludeMetadata {
		selectCols += ", metadata"
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_user_id = $2 AND logical_name = $3`, selectCols, p.tableName)
	args := []any{pgvectorLiteral(vector), key.OwnerUserID, key.LogicalName}

	if options.Filter != nil {
		clause, filterArgs := buildFilterClause(options.Filter, len(args)+1)
		if clause != "" {
			query += " AND " + clause
			args = append(args, filterArgs...)
		}
	}

	topK := options.TopK
	if topK <= 0 {
		topK = 10
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", topK)

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	result := &vectorindex.QueryResult{}
	for rows.Next() {
		m, score, values, meta, err := scanMatch(rows, options.IncludeValues, options.IncludeMetadata)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if score < options.MinScore {
			continue
		}
		match := vectorindex.Match{ID: m, Score: score, Values: values, Metadata: meta}
		result.Matches = append(result.Matches, match)
	}
	return result, rows.Err()
}

func (p *Provider) Delete(ctx context.Context, key vectorindex.CollectionKey, ids []string, opts ...vectorindex.Option) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE owner_user_id = $1 AND logical_name = $2 AND id = ANY($3)`, p.tableName)
	_, err := p.db.ExecContext(ctx, query, key.OwnerUserID, key.LogicalName, pqStringArray(ids))
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

func (p *Provider) Fetch(ctx context.Context, key vectorindex.CollectionKey, ids []string, opts ...vectorindex.Option) ([]vectorindex.Vector, error) {
	if len(ids) == 0 {
		return []vectorindex.Vector{}, nil
	}
	query := fmt.Sprintf(`SELECT id, embedding, metadata FROM %s WHERE owner_user_id = $1 AND logical_name = $2 AND id = ANY($3)`, p.tableName)
	rows, err := p.db.QueryxContext(ctx, query, key.OwnerUserID, key.LogicalName, pqStringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch vectors: %w", err)
	}
	defer rows.Close()

	out := make([]vectorindex.Vector, 0, len(ids))
	for rows.Next() {
		var id string
		var embedding pgVectorScan
		var metaRaw []byte
		if err := rows.Scan(&id, &embedding, &metaRaw); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		var meta map[string]any
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &meta); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, vectorindex.Vector{ID: id, Values: embedding.values, Metadata: meta})
	}
	return out, rows.Err()
}

func (p *Provider) Count(ctx context.Context, key vectorindex.CollectionKey) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE owner_user_id = $1 AND logical_name = $2`, p.tableName)
	if err := p.db.GetContext(ctx, &count, query, key.OwnerUserID, key.LogicalName); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return count, nil
}

// ============================================================================
// MetadataFilterer
// ============================================================================

func (p *Provider) QueryWithFilter(ctx context.Context, key vectorindex.CollectionKey, vector []float32, filter vectorindex.Filter, opts ...vectorindex.Option) (*vectorindex.QueryResult, error) {
	opts = append(opts, vectorindex.WithFilter(&filter))
	return p.Query(ctx, key, vector, opts...)
}

// ============================================================================
// BatchProcessor
// ============================================================================

func (p *Provider) UpsertBatch(ctx context.Context, key vectorindex.CollectionKey, vectors []vectorindex.Vector, opts ...vectorindex.Option) (*vectorindex.BatchResult, error) {
	const batchSize = 100
	result := &vectorindex.BatchResult{}
	for i := 0; i < len(vectors); i += batchSize {
		end := min(i+batchSize, len(vectors))
		batch := vectors[i:end]
		if err := p.Upsert(ctx, key, batch, opts...); err != nil {
			result.FailedCount += len(batch)
			for _, v := range batch {
				result.Errors = append(result.Errors, vectorindex.BatchError{ID: v.ID, Error: err.Error()})
			}
			continue
		}
		result.SuccessCount += len(batch)
	}
	return result, nil
}

func (p *Provider) DeleteBatch(ctx context.Context, key vectorindex.CollectionKey, ids []string, opts ...vectorindex.Option) (*vectorindex.BatchResult, error) {
	if err := p.Delete(ctx, key, ids, opts...); err != nil {
		return &vectorindex.BatchResult{FailedCount: len(ids)}, err
	}
	return &vectorindex.BatchResult{SuccessCount: len(ids)}, nil
}

// ============================================================================
// NamespaceManager (collection lifecycle)
// ============================================================================

func (p *Provider) ListCollections(ctx context.Context, ownerUserID string) ([]string, error) {
	var names []string
	query := fmt.Sprintf(`SELECT DISTINCT logical_name FROM %s WHERE owner_user_id = $1 ORDER BY logical_name`, p.tableName)
	if err := p.db.SelectContext(ctx, &names, query, ownerUserID); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

func (p *Provider) DeleteCollection(ctx context.Context, key vectorindex.CollectionKey) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE owner_user_id = $1 AND logical_name = $2`, p.tableName)
	_, err := p.db.ExecContext(ctx, query, key.OwnerUserID, key.LogicalName)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// ============================================================================
// StatisticsProvider
// ============================================================================

func (p *Provider) GetStatistics(ctx context.Context, key vectorindex.CollectionKey) (*vectorindex.Statistics, error) {
	count, err := p.Count(ctx, key)
	if err != nil {
		return nil, err
	}
	return &vectorindex.Statistics{TotalVectorCount: count}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func buildFilterClause(filter *vectorindex.Filter, startArgNum int) (string, []any) {
	var clauses []string
	var args []any
	argNum := startArgNum

	for _, cond := range filter.Must {
		clause, condArgs := buildCondition(cond, argNum)
		if clause != "" {
			clauses = append(clauses, clause)
			args = append(args, condArgs...)
			argNum += len(condArgs)
		}
	}
	if len(filter.Should) > 0 {
		var should []string
		for _, cond := range filter.Should {
			clause, condArgs := buildCondition(cond, argNum)
			if clause != "" {
				should = append(should, clause)
				args = append(args, condArgs...)
				argNum += len(condArgs)
			}
		}
		if len(should) > 0 {
			clauses = append(clauses, "("+strings.Join(should, " OR ")+")")
		}
	}
	for _, cond := range filter.MustNot {
		clause, condArgs := buildCondition(cond, argNum)
		if clause != "" {
			clauses = append(clauses, "NOT ("+clause+")")
			args = append(args, condArgs...)
			argNum += len(condArgs)
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), args
}

func buildCondition(cond vectorindex.Condition, argNum int) (string, []any) {
	field := fmt.Sprintf("metadata->>'%s'", cond.Field)
	switch cond.Operator {
	case vectorindex.OpEqual:
		return fmt.Sprintf("%s = $%d", field, argNum), []any{fmt.Sprintf("%v", cond.Value)}
	case vectorindex.OpNotEqual:
		return fmt.Sprintf("%s != $%d", field, argNum), []any{fmt.Sprintf("%v", cond.Value)}
	case vectorindex.OpGreaterThan:
		return fmt.Sprintf("(%s)::float > $%d", field, argNum), []any{cond.Value}
	case vectorindex.OpLessThan:
		return fmt.Sprintf("(%s)::float < $%d", field, argNum), []any{cond.Value}
	case vectorindex.OpGreaterThanOrEqual:
		return fmt.Sprintf("(%s)::float >= $%d", field, argNum), []any{cond.Value}
	case vectorindex.OpLessThanOrEqual:
		return fmt.Sprintf("(%s)::float <= $%d", field, argNum), []any{cond.Value}
	case vectorindex.OpContainsAny:
		return fmt.Sprintf("metadata->'%s' ?| $%d", cond.Field, argNum), []any{pqStringArray(asStrings(cond.Value))}
	default:
		return "", nil
	}
}

func asStrings(v any) []string {
	if s, ok := v.([]string); ok {
		return s
	}
	return nil
}

// pgvectorLiteral formats a []float32 as pgvector's text input format, e.g. "[0.1,0.2]".
func pgvectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func pqStringArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// pgVectorScan parses pgvector's text output format back into []float32.
type pgVectorScan struct {
	values []float32
}

func (p *pgVectorScan) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported scan type %T for vector", src)
	}
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	values := make([]float32, len(parts))
	for i, part := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &f); err != nil {
			return fmt.Errorf("parse vector component %q: %w", part, err)
		}
		values[i] = float32(f)
	}
	p.values = values
	return nil
}

func scanMatch(rows *sqlx.Rows, includeValues, includeMetadata bool) (id string, score float32, values []float32, meta map[string]any, err error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", 0, nil, nil, err
	}

	dest := make([]any, len(cols))
	var embedding pgVectorScan
	var metaRaw []byte
	for i, c := range cols {
		switch c {
		case "id":
			dest[i] = &id
		case "score":
			dest[i] = &score
		case "embedding":
			dest[i] = &embedding
		case "metadata":
			dest[i] = &metaRaw
		default:
			var ignore any
			dest[i] = &ignore
		}
	}

	if err := rows.Scan(dest...); err != nil {
		return "", 0, nil, nil, err
	}

	if includeValues {
		values = embedding.values
	}
	if includeMetadata && len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return "", 0, nil, nil, err
		}
	}
	return id, score, values, meta, nil
}
