// Package storage defines the storage adapter: a uniform read/write
// interface over relational (rows + JSON) and key-value (cache) backends.
// Callers never construct backend-specific queries — predicates are
// expressed in the small closed algebra below and compiled by each adapter.
package storage

import (
	"context"
	"time"
)

// Row is a generic persisted record: a table, an id, and an opaque set of
// columns. Storing it as a map keeps the adapter agnostic of any specific
// entity's Go type — callers marshal/unmarshal at their own boundary.
type Row struct {
	ID     string
	Fields map[string]any
}

// Order describes a single sort key on a Query.
type Order struct {
	Field string
	Desc  bool
}

// ============================================================================
// Predicate algebra — Eq, Range, In, TagContainsAny, TextMatch, And, Or
// ============================================================================

// PredicateKind tags which shape a Predicate holds.
type PredicateKind string

const (
	PredEq             PredicateKind = "eq"
	PredRange          PredicateKind = "range"
	PredIn             PredicateKind = "in"
	PredTagContainsAny PredicateKind = "tag_contains_any"
	PredTextMatch      PredicateKind = "text_match"
	PredAnd            PredicateKind = "and"
	PredOr             PredicateKind = "or"
)

// Predicate is a closed-union query expression. Exactly one set of fields
// is meaningful per Kind; the adapter switches on Kind to compile it.
type Predicate struct {
	Kind PredicateKind

	// PredEq
	Field string
	Value any

	// PredRange
	Min, Max any // either may be nil for a one-sided range

	// PredIn
	Values []any

	// PredTagContainsAny — Field names the tag-set column, Tags is the
	// candidate set; matches if any overlap.
	Tags []string

	// PredTextMatch — Field names the nominated full-text column.
	Query string

	// PredAnd / PredOr
	Terms []Predicate
}

func Eq(field string, value any) Predicate {
	return Predicate{Kind: PredEq, Field: field, Value: value}
}

func Range(field string, min, max any) Predicate {
	return Predicate{Kind: PredRange, Field: field, Min: min, Max: max}
}

func In(field string, values ...any) Predicate {
	return Predicate{Kind: PredIn, Field: field, Values: values}
}

func TagContainsAny(field string, tags ...string) Predicate {
	return Predicate{Kind: PredTagContainsAny, Field: field, Tags: tags}
}

func TextMatch(field, query string) Predicate {
	return Predicate{Kind: PredTextMatch, Field: field, Query: query}
}

func And(terms ...Predicate) Predicate {
	return Predicate{Kind: PredAnd, Terms: terms}
}

func Or(terms ...Predicate) Predicate {
	return Predicate{Kind: PredOr, Terms: terms}
}

// QuerySpec bundles a predicate with ordering and paging.
type QuerySpec struct {
	Predicate Predicate
	Order     []Order
	Limit     int
	Offset    int
}

// Tx is a logical transaction handle. For the embedded backend this may be
// a no-op serialization token; for the networked backend it wraps a real
// database transaction. Writes that must land atomically with the rest of
// the transaction go through the handle's own Upsert — writes issued on
// the Backend while a Tx is open commit independently.
type Tx interface {
	Upsert(ctx context.Context, table, id string, row Row) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is the storage adapter contract every implementation satisfies.
// Index selection and query planning live entirely inside the adapter.
type Backend interface {
	Put(ctx context.Context, table, id string, row Row) error
	Get(ctx context.Context, table, id string) (*Row, error)
	Query(ctx context.Context, table string, spec QuerySpec) ([]Row, int, error)
	Delete(ctx context.Context, table, id string) error
	Upsert(ctx context.Context, table, id string, row Row) error

	Begin(ctx context.Context) (Tx, error)

	Migrate(ctx context.Context, schemaVersion int) error
	Ping(ctx context.Context) error
}

// Cache is the key-value side of the adapter: session store, API-key
// usage counters, embedding cache, and the hot-memory read-through cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}
