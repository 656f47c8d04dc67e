// Package memstoreinfra persists memories through the storage adapter, so
// one repository implementation serves both the embedded and the networked
// backend.
package memstoreinfra

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/storage"
)

const memoriesTable = "memories"

// BackendMemoryRepository implements memstore.MemoryRepository over a
// storage.Backend.
type BackendMemoryRepository struct {
	backend storage.Backend
}

func NewBackendMemoryRepository(backend storage.Backend) *BackendMemoryRepository {
	return &BackendMemoryRepository{backend: backend}
}

// SearchText returns memories whose value matches the query text, ordered
// by importance and then by most recent update. Used as the lexical
// candidate source for hybrid retrieval.
func (r *BackendMemoryRepository) SearchText(ctx context.Context, owner kernel.UserID, query string, filter memstore.ListFilter, limit int) ([]memstore.Memory, error) {
	terms := []storage.Predicate{
		storage.Eq("owner_user_id", owner.String()),
		storage.TextMatch("value", query),
	}
	if filter.AgentName != "" {
		terms = append(terms, storage.Eq("agent_name", filter.AgentName))
	}
	if filter.Scope != "" {
		terms = append(terms, storage.Eq("scope", string(filter.Scope)))
	}
	if filter.Kind != "" {
		terms = append(terms, storage.Eq("kind", string(filter.Kind)))
	}
	if len(filter.Tags) > 0 {
		terms = append(terms, storage.TagContainsAny("tags", filter.Tags...))
	}
	if filter.MinImportance != nil || filter.MaxImportance != nil {
		var lo, hi any
		if filter.MinImportance != nil {
			lo = *filter.MinImportance
		}
		if filter.MaxImportance != nil {
			hi = *filter.MaxImportance
		}
		terms = append(terms, storage.Range("importance", lo, hi))
	}

	rows, _, err := r.backend.Query(ctx, memoriesTable, storage.QuerySpec{
		Predicate: storage.And(terms...),
		Order: []storage.Order{
			{Field: "importance", Desc: true},
			{Field: "updated_at", Desc: true},
		},
		Limit: limit,
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return toDomainSlice(rows), nil
}

func (r *BackendMemoryRepository) Save(ctx context.Context, m memstore.Memory) error {
	if err := r.backend.Upsert(ctx, memoriesTable, m.ID, toRow(m)); err != nil {
		return errx.Wrap(err, "failed to save memory", errx.TypeInternal).
			WithDetail("memory_id", m.ID)
	}
	return nil
}

func (r *BackendMemoryRepository) FindByID(ctx context.Context, id string) (*memstore.Memory, error) {
	row, err := r.backend.Get(ctx, memoriesTable, id)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	m := toDomain(*row)
	return &m, nil
}

func (r *BackendMemoryRepository) FindByKey(ctx context.Context, owner kernel.UserID, agentName, key string) (*memstore.Memory, error) {
	rows, _, err := r.backend.Query(ctx, memoriesTable, storage.QuerySpec{
		Predicate: storage.And(
			storage.Eq("owner_user_id", owner.String()),
			storage.Eq("agent_name", agentName),
			storage.Eq("key", key),
		),
		Limit: 1,
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if len(rows) == 0 {
		return nil, memstore.ErrNotFound()
	}
	m := toDomain(rows[0])
	return &m, nil
}

func (r *BackendMemoryRepository) List(ctx context.Context, owner kernel.UserID, filter memstore.ListFilter, page kernel.PaginationOptions) (kernel.Paginated[memstore.Memory], error) {
	terms := []storage.Predicate{storage.Eq("owner_user_id", owner.String())}

	if filter.AgentName != "" {
		terms = append(terms, storage.Eq("agent_name", filter.AgentName))
	}
	if filter.Scope != "" {
		terms = append(terms, storage.Eq("scope", string(filter.Scope)))
	}
	if filter.Kind != "" {
		terms = append(terms, storage.Eq("kind", string(filter.Kind)))
	}
	if len(filter.Tags) > 0 {
		terms = append(terms, storage.TagContainsAny("tags", filter.Tags...))
	}
	if filter.MinImportance != nil || filter.MaxImportance != nil {
		var lo, hi any
		if filter.MinImportance != nil {
			lo = *filter.MinImportance
		}
		if filter.MaxImportance != nil {
			hi = *filter.MaxImportance
		}
		terms = append(terms, storage.Range("importance", lo, hi))
	}

	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize < 1 {
		page.PageSize = 50
	}

	rows, total, err := r.backend.Query(ctx, memoriesTable, storage.QuerySpec{
		Predicate: storage.And(terms...),
		Order:     []storage.Order{{Field: "updated_at", Desc: true}},
		Limit:     page.PageSize,
		Offset:    (page.Page - 1) * page.PageSize,
	})
	if err != nil {
		return kernel.Paginated[memstore.Memory]{}, mapStorageErr(err)
	}

	items := make([]memstore.Memory, len(rows))
	for i, row := range rows {
		items[i] = toDomain(row)
	}
	return kernel.NewPaginated(items, page.Page, page.PageSize, total), nil
}

func (r *BackendMemoryRepository) Delete(ctx context.Context, id string) error {
	err := r.backend.Delete(ctx, memoriesTable, id)
	if err != nil {
		return mapStorageErr(err)
	}
	return nil
}

func (r *BackendMemoryRepository) MarkAccessed(ctx context.Context, id string, at time.Time) error {
	row, err := r.backend.Get(ctx, memoriesTable, id)
	if err != nil {
		return mapStorageErr(err)
	}
	m := toDomain(*row)
	m.AccessCount++
	m.LastAccessedAt = at
	return r.Save(ctx, m)
}

func (r *BackendMemoryRepository) SetNeedsReindex(ctx context.Context, id string, needs bool) error {
	row, err := r.backend.Get(ctx, memoriesTable, id)
	if err != nil {
		return mapStorageErr(err)
	}
	m := toDomain(*row)
	m.NeedsReindex = needs
	return r.Save(ctx, m)
}

func (r *BackendMemoryRepository) FindNeedsReindex(ctx context.Context, limit int) ([]memstore.Memory, error) {
	rows, _, err := r.backend.Query(ctx, memoriesTable, storage.QuerySpec{
		Predicate: storage.Eq("needs_reindex", true),
		Order:     []storage.Order{{Field: "updated_at"}},
		Limit:     limit,
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return toDomainSlice(rows), nil
}

func (r *BackendMemoryRepository) FindEvictable(ctx context.Context, owner kernel.UserID, cutoff time.Time, limit int) ([]memstore.Memory, error) {
	terms := []storage.Predicate{
		storage.Eq("scope", string(memstore.ScopeWorking)),
		storage.Range("last_accessed_at", nil, cutoff.UTC().Format(time.RFC3339Nano)),
	}
	if !owner.IsEmpty() {
		terms = append(terms, storage.Eq("owner_user_id", owner.String()))
	}
	rows, _, err := r.backend.Query(ctx, memoriesTable, storage.QuerySpec{
		Predicate: storage.And(terms...),
		Order:     []storage.Order{{Field: "last_accessed_at"}},
		Limit:     limit,
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return toDomainSlice(rows), nil
}

func (r *BackendMemoryRepository) Stats(ctx context.Context, owner kernel.UserID) (*memstore.Stats, error) {
	const pageSize = 500
	stats := &memstore.Stats{
		CountByScope: make(map[memstore.Scope]int),
		TagHistogram: make(map[string]int),
	}
	agents := make(map[string]struct{})
	var importanceSum float64

	for offset := 0; ; offset += pageSize {
		rows, _, err := r.backend.Query(ctx, memoriesTable, storage.QuerySpec{
			Predicate: storage.Eq("owner_user_id", owner.String()),
			Order:     []storage.Order{{Field: "created_at"}},
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, mapStorageErr(err)
		}
		for _, row := range rows {
			m := toDomain(row)
			stats.TotalCount++
			stats.CountByScope[m.Scope]++
			stats.TotalBytes += int64(len(m.Value))
			importanceSum += m.Importance
			agents[m.AgentName] = struct{}{}
			for _, tag := range m.Tags {
				stats.TagHistogram[tag]++
			}
		}
		if len(rows) < pageSize {
			break
		}
	}

	stats.DistinctAgents = len(agents)
	if stats.TotalCount > 0 {
		stats.AvgImportance = importanceSum / float64(stats.TotalCount)
	}
	return stats, nil
}

// mapStorageErr translates adapter errors into the memory taxonomy.
func mapStorageErr(err error) error {
	var e *errx.Error
	if errx.As(err, &e) && e.Type == errx.TypeNotFound {
		return memstore.ErrNotFound()
	}
	return err
}

// ============================================================================
// Row converters
// ============================================================================

func toRow(m memstore.Memory) storage.Row {
	return storage.Row{
		ID: m.ID,
		Fields: map[string]any{
			"owner_user_id":    m.OwnerUserID.String(),
			"agent_name":       m.AgentName,
			"key":              m.Key,
			"value":            m.Value,
			"scope":            string(m.Scope),
			"kind":             string(m.Kind),
			"importance":       m.Importance,
			"tags":             m.Tags,
			"metadata":         m.Metadata,
			"created_at":       m.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at":       m.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"last_accessed_at": m.LastAccessedAt.UTC().Format(time.RFC3339Nano),
			"access_count":     m.AccessCount,
			"needs_reindex":    m.NeedsReindex,
		},
	}
}

func toDomain(row storage.Row) memstore.Memory {
	f := row.Fields
	return memstore.Memory{
		ID:             row.ID,
		OwnerUserID:    kernel.UserID(fieldString(f, "owner_user_id")),
		AgentName:      fieldString(f, "agent_name"),
		Key:            fieldString(f, "key"),
		Value:          fieldString(f, "value"),
		Scope:          memstore.Scope(fieldString(f, "scope")),
		Kind:           memstore.Kind(fieldString(f, "kind")),
		Importance:     fieldFloat(f, "importance"),
		Tags:           fieldStringSlice(f, "tags"),
		Metadata:       fieldMap(f, "metadata"),
		CreatedAt:      fieldTime(f, "created_at"),
		UpdatedAt:      fieldTime(f, "updated_at"),
		LastAccessedAt: fieldTime(f, "last_accessed_at"),
		AccessCount:    fieldInt64(f, "access_count"),
		NeedsReindex:   fieldBool(f, "needs_reindex"),
	}
}

func toDomainSlice(rows []storage.Row) []memstore.Memory {
	out := make([]memstore.Memory, len(rows))
	for i, row := range rows {
		out[i] = toDomain(row)
	}
	return out
}

// Field readers tolerate both native Go values (embedded backend) and
// JSON-decoded values (networked backend: float64 numbers, string times,
// []any slices).

func fieldString(f map[string]any, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

func fieldFloat(f map[string]any, key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func fieldInt64(f map[string]any, key string) int64 {
	switch v := f[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func fieldBool(f map[string]any, key string) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return false
}

func fieldTime(f map[string]any, key string) time.Time {
	switch v := f[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func fieldStringSlice(f map[string]any, key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fieldMap(f map[string]any, key string) map[string]any {
	if v, ok := f[key].(map[string]any); ok {
		return v
	}
	return nil
}
