// Package vectorindex defines the vector index adapter: upsert/query/
// delete of embedding vectors scoped to collections owned by a single user.
package vectorindex

import "context"

// CollectionKey identifies a collection by owner and logical name: every
// collection belongs to exactly one user.
type CollectionKey struct {
	OwnerUserID string
	LogicalName string
}

func (k CollectionKey) String() string {
	return k.OwnerUserID + ":" + k.LogicalName
}

// ============================================================================
// LAYER 1: Core Capabilities (Single Responsibility Interfaces)
// ============================================================================

// VectorStorer is the minimal vector index interface every provider implements.
type VectorStorer interface {
	EnsureCollection(ctx context.Context, key CollectionKey, dim int, metric Metric) error
	Upsert(ctx context.Context, key CollectionKey, vectors []Vector, opts ...Option) error
	Query(ctx context.Context, key CollectionKey, vector []float32, opts ...Option) (*QueryResult, error)
	Delete(ctx context.Context, key CollectionKey, ids []string, opts ...Option) error
	Fetch(ctx context.Context, key CollectionKey, ids []string, opts ...Option) ([]Vector, error)
	Count(ctx context.Context, key CollectionKey) (int64, error)
}

// MetadataFilterer supports attribute filtering (owner/agent/tags/scope/kind/importance).
type MetadataFilterer interface {
	QueryWithFilter(ctx context.Context, key CollectionKey, vector []float32, filter Filter, opts ...Option) (*QueryResult, error)
}

// BatchProcessor supports efficient batch operations.
type BatchProcessor interface {
	UpsertBatch(ctx context.Context, key CollectionKey, vectors []Vector, opts ...Option) (*BatchResult, error)
	DeleteBatch(ctx context.Context, key CollectionKey, ids []string, opts ...Option) (*BatchResult, error)
}

// NamespaceManager supports collection lifecycle beyond EnsureCollection.
type NamespaceManager interface {
	ListCollections(ctx context.Context, ownerUserID string) ([]string, error)
	DeleteCollection(ctx context.Context, key CollectionKey) error
}

// HybridSearcher supports combined vector + lexical search inside the adapter itself.
type HybridSearcher interface {
	HybridQuery(ctx context.Context, key CollectionKey, vector []float32, query string, opts ...Option) (*QueryResult, error)
}

// StatisticsProvider reports collection statistics.
type StatisticsProvider interface {
	GetStatistics(ctx context.Context, key CollectionKey) (*Statistics, error)
}

// ============================================================================
// LAYER 2: Core Data Models
// ============================================================================

// Vector is a dense embedding plus the filterable attributes copied from its
// memory row.
type Vector struct {
	ID         string
	Values     []float32
	Metadata   map[string]any
}

// QueryResult contains search results for one query.
type QueryResult struct {
	Matches []Match
}

// Match is a single search result.
type Match struct {
	ID       string
	Score    float32
	Values   []float32
	Metadata map[string]any
}

// Filter expresses attribute filtering over the copied memory attributes.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Condition is a single filter predicate.
type Condition struct {
	Field    string
	Operator FilterOperator
	Value    any
}

type FilterOperator string

const (
	OpEqual              FilterOperator = "eq"
	OpNotEqual           FilterOperator = "ne"
	OpGreaterThan        FilterOperator = "gt"
	OpLessThan           FilterOperator = "lt"
	OpGreaterThanOrEqual FilterOperator = "gte"
	OpLessThanOrEqual    FilterOperator = "lte"
	OpIn                 FilterOperator = "in"
	OpNotIn              FilterOperator = "nin"
	OpContainsAny        FilterOperator = "contains_any"
)

// Metric is the distance/similarity metric a collection is created with.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricDotProduct Metric = "dotproduct"
	MetricEuclidean  Metric = "euclidean"
)

// BatchResult reports per-item outcomes of a batch operation.
type BatchResult struct {
	SuccessCount int
	FailedCount  int
	Errors       []BatchError
}

type BatchError struct {
	ID    string
	Error string
}

// Statistics describes a collection's current shape.
type Statistics struct {
	TotalVectorCount int64
	Dimension        int
	IndexFullness    float32
}

// NewFilter returns an empty filter ready for AddMust/AddShould/AddMustNot.
func NewFilter() *Filter {
	return &Filter{}
}

func (f *Filter) AddMust(field string, op FilterOperator, value any) *Filter {
	f.Must = append(f.Must, Condition{Field: field, Operator: op, Value: value})
	return f
}

func (f *Filter) AddShould(field string, op FilterOperator, value any) *Filter {
	f.Should = append(f.Should, Condition{Field: field, Operator: op, Value: value})
	return f
}

func (f *Filter) AddMustNot(field string, op FilterOperator, value any) *Filter {
	f.MustNot = append(f.MustNot, Condition{Field: field, Operator: op, Value: value})
	return f
}
