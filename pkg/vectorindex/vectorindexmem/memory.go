// Package vectorindexmem is the embedded (in-process) vector index provider.
package vectorindexmem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/aimemory/platform/pkg/vectorindex"
)

type collection struct {
	dim    int
	metric vectorindex.Metric
	ids    []string
	byID   map[string]*storedVector
}

type storedVector struct {
	id       string
	values   []float32
	metadata map[string]any
}

// Store is an in-memory implementation of the vector index adapter, keyed by
// (owner_user_id, logical_name) collection.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty embedded vector index.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) EnsureCollection(ctx context.Context, key vectorindex.CollectionKey, dim int, metric vectorindex.Metric) error {
	if metric == "" {
		metric = vectorindex.MetricCosine
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := key.String()
	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("collection %s already exists with dim %d, requested %d", name, c.dim, dim)
		}
		return nil
	}

	s.collections[name] = &collection{dim: dim, metric: metric, byID: make(map[string]*storedVector)}
	return nil
}

func (s *Store) Upsert(ctx context.Context, key vectorindex.CollectionKey, vectors []vectorindex.Vector, opts ...vectorindex.Option) error {
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[key.String()]
	if !ok {
		return fmt.Errorf("collection %s does not exist: call EnsureCollection first", key.String())
	}

	for _, v := range vectors {
		if len(v.Values) != c.dim {
			return fmt.Errorf("vector dimension mismatch: collection expects %d, got %d", c.dim, len(v.Values))
		}

		stored := &storedVector{
			id:       v.ID,
			values:   append([]float32(nil), v.Values...),
			metadata: make(map[string]any, len(v.Metadata)),
		}
		for k, val := range v.Metadata {
			stored.metadata[k] = val
		}

		if _, exists := c.byID[v.ID]; !exists {
			c.ids = append(c.ids, v.ID)
		}
		c.byID[v.ID] = stored
	}

	return nil
}

func (s *Store) Query(ctx context.Context, key vectorindex.CollectionKey, vector []float32, opts ...vectorindex.Option) (*vectorindex.QueryResult, error) {
	options := vectorindex.ApplyOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[key.String()]
	if !ok {
		return &vectorindex.QueryResult{}, nil
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("query vector dimension mismatch: collection expects %d, got %d", c.dim, len(vector))
	}

	type scored struct {
		id    string
		score float32
	}
	scores := make([]scored, 0, len(c.ids))

	for _, id := range c.ids {
		stored := c.byID[id]
		if stored == nil {
			continue
		}
		if options.Filter != nil && !matchesFilter(stored.metadata, options.Filter) {
			continue
		}
		score := similarity(c.metric, vector, stored.values)
		if score >= options.MinScore {
			scores = append(scores, scored{id: id, score: score})
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	topK := options.TopK
	if topK <= 0 {
		topK = 10
	}
	if topK > len(scores) {
		topK = len(scores)
	}

	matches := make([]vectorindex.Match, topK)
	for i := 0; i < topK; i++ {
		stored := c.byID[scores[i].id]
		m := vectorindex.Match{ID: stored.id, Score: scores[i].score, Metadata: make(map[string]any)}
		if options.IncludeValues {
			m.Values = append([]float32(nil), stored.values...)
		}
		if options.IncludeMetadata {
			for k, v := range stored.metadata {
				m.Metadata[k] = v
			}
		}
		matches[i] = m
	}

	return &vectorindex.QueryResult{Matches: matches}, nil
}

func (s *Store) Delete(ctx context.Context, key vectorindex.CollectionKey, ids []string, opts ...vectorindex.Option) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[key.String()]
	if !ok {
		return nil
	}

	toDelete := make(map[string]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
		delete(c.byID, id)
	}

	kept := c.ids[:0]
	for _, id := range c.ids {
		if !toDelete[id] {
			kept = append(kept, id)
		}
	}
	c.ids = kept

	return nil
}

func (s *Store) Fetch(ctx context.Context, key vectorindex.CollectionKey, ids []string, opts ...vectorindex.Option) ([]vectorindex.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[key.String()]
	if !ok {
		return []vectorindex.Vector{}, nil
	}

	out := make([]vectorindex.Vector, 0, len(ids))
	for _, id := range ids {
		stored, exists := c.byID[id]
		if !exists {
			continue
		}
		v := vectorindex.Vector{ID: stored.id, Values: append([]float32(nil), stored.values...), Metadata: make(map[string]any)}
		for k, val := range stored.metadata {
			v.Metadata[k] = val
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, key vectorindex.CollectionKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[key.String()]
	if !ok {
		return 0, nil
	}
	return int64(len(c.ids)), nil
}

// ============================================================================
// MetadataFilterer
// ============================================================================

func (s *Store) QueryWithFilter(ctx context.Context, key vectorindex.CollectionKey, vector []float32, filter vectorindex.Filter, opts ...vectorindex.Option) (*vectorindex.QueryResult, error) {
	opts = append(opts, vectorindex.WithFilter(&filter))
	return s.Query(ctx, key, vector, opts...)
}

// ============================================================================
// NamespaceManager (collection lifecycle)
// ============================================================================

func (s *Store) ListCollections(ctx context.Context, ownerUserID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	prefix := ownerUserID + ":"
	for name, c := range s.collections {
		if strings.HasPrefix(name, prefix) && len(c.ids) > 0 {
			out = append(out, strings.TrimPrefix(name, prefix))
		}
	}
	return out, nil
}

func (s *Store) DeleteCollection(ctx context.Context, key vectorindex.CollectionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, key.String())
	return nil
}

// ============================================================================
// StatisticsProvider
// ============================================================================

func (s *Store) GetStatistics(ctx context.Context, key vectorindex.CollectionKey) (*vectorindex.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[key.String()]
	if !ok {
		return &vectorindex.Statistics{}, nil
	}
	return &vectorindex.Statistics{TotalVectorCount: int64(len(c.ids)), Dimension: c.dim}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func matchesFilter(metadata map[string]any, filter *vectorindex.Filter) bool {
	for _, cond := range filter.Must {
		if !matchesCondition(metadata, cond) {
			return false
		}
	}
	if len(filter.Should) > 0 {
		matched := false
		for _, cond := range filter.Should {
			if matchesCondition(metadata, cond) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, cond := range filter.MustNot {
		if matchesCondition(metadata, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(metadata map[string]any, cond vectorindex.Condition) bool {
	value, exists := metadata[cond.Field]

	switch cond.Operator {
	case vectorindex.OpEqual:
		return exists && fmt.Sprintf("%v", value) == fmt.Sprintf("%v", cond.Value)
	case vectorindex.OpNotEqual:
		return !exists || fmt.Sprintf("%v", value) != fmt.Sprintf("%v", cond.Value)
	case vectorindex.OpGreaterThan:
		return exists && compareValues(value, cond.Value) > 0
	case vectorindex.OpLessThan:
		return exists && compareValues(value, cond.Value) < 0
	case vectorindex.OpGreaterThanOrEqual:
		return exists && compareValues(value, cond.Value) >= 0
	case vectorindex.OpLessThanOrEqual:
		return exists && compareValues(value, cond.Value) <= 0
	case vectorindex.OpIn:
		return exists && valueInList(value, cond.Value)
	case vectorindex.OpNotIn:
		return !exists || !valueInList(value, cond.Value)
	case vectorindex.OpContainsAny:
		return exists && tagsContainAny(value, cond.Value)
	default:
		return false
	}
}

func valueInList(value, list any) bool {
	items, ok := list.([]string)
	if !ok {
		return false
	}
	str := fmt.Sprintf("%v", value)
	for _, item := range items {
		if item == str {
			return true
		}
	}
	return false
}

func tagsContainAny(value, wanted any) bool {
	tags, ok := value.([]string)
	if !ok {
		return false
	}
	want, ok := wanted.([]string)
	if !ok {
		return false
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

func compareValues(a, b any) int {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func similarity(metric vectorindex.Metric, v1, v2 []float32) float32 {
	switch metric {
	case vectorindex.MetricDotProduct:
		return dotProduct(v1, v2)
	case vectorindex.MetricEuclidean:
		return euclideanSimilarity(v1, v2)
	default:
		return cosineSimilarity(v1, v2)
	}
}

func cosineSimilarity(v1, v2 []float32) float32 {
	if len(v1) != len(v2) {
		return 0
	}
	var dot, normA, normB float32
	for i := range v1 {
		dot += v1[i] * v2[i]
		normA += v1[i] * v1[i]
		normB += v2[i] * v2[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func dotProduct(v1, v2 []float32) float32 {
	if len(v1) != len(v2) {
		return 0
	}
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return sum
}

func euclideanSimilarity(v1, v2 []float32) float32 {
	if len(v1) != len(v2) {
		return 0
	}
	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}
	distance := float32(math.Sqrt(float64(sum)))
	return 1.0 / (1.0 + distance)
}
