// Package memstoresrv implements the memory store service: validation,
// per-key write serialization, embedding upkeep, and lifecycle policy.
package memstoresrv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/storage"
	"github.com/aimemory/platform/pkg/vectorindex"
	"github.com/google/uuid"
)

// MemoryCollection is the logical vector collection every user's memory
// embeddings live in.
const MemoryCollection = "memories"

type MemoryService struct {
	repo      memstore.MemoryRepository
	users     memstore.UserDirectory
	vectors   *vectorindex.Client
	embedder  *embedgateway.Gateway
	cache     storage.Cache
	reindexer memstore.ReindexEnqueuer
	refs      memstore.RefClearer
	locks     *memstore.KeyLock
	cfg       config.MemoryConfig
}

// NewMemoryService wires the memory store. reindexer and refs may be nil:
// without a reindexer, failed vector upserts are only flagged; without a
// ref clearer, graph references to deleted memories are left as-is.
func NewMemoryService(
	repo memstore.MemoryRepository,
	users memstore.UserDirectory,
	vectors *vectorindex.Client,
	embedder *embedgateway.Gateway,
	cache storage.Cache,
	reindexer memstore.ReindexEnqueuer,
	refs memstore.RefClearer,
	cfg config.MemoryConfig,
) *MemoryService {
	return &MemoryService{
		repo:      repo,
		users:     users,
		vectors:   vectors,
		embedder:  embedder,
		cache:     cache,
		reindexer: reindexer,
		refs:      refs,
		locks:     memstore.NewKeyLock(),
		cfg:       cfg,
	}
}

// AttachReindexer wires the background reconciler after construction;
// the reconciler itself depends on this service, so the cycle is broken
// with a late setter at the composition root.
func (s *MemoryService) AttachReindexer(r memstore.ReindexEnqueuer) {
	s.reindexer = r
}

// Put creates or overwrites the memory at (owner, agent, key).
func (s *MemoryService) Put(ctx context.Context, owner kernel.UserID, req memstore.PutRequest) (*memstore.Memory, error) {
	if err := s.validatePut(&req); err != nil {
		return nil, err
	}

	if exists, err := s.users.UserExists(ctx, owner); err != nil {
		return nil, err
	} else if !exists {
		return nil, memstore.ErrUnknownOwner().WithDetail("owner_user_id", owner.String())
	}

	unlock := s.locks.Lock(owner.String(), req.AgentName, req.Key)
	defer unlock()

	now := time.Now().UTC()

	m := memstore.Memory{
		OwnerUserID:    owner,
		AgentName:      req.AgentName,
		Key:            req.Key,
		Value:          req.Value,
		Scope:          req.Scope,
		Kind:           req.Kind,
		Importance:     0.5,
		Tags:           memstore.NormalizeTags(req.Tags),
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	if req.Importance != nil {
		m.Importance = memstore.ClampImportance(*req.Importance)
	}

	// Overwrite keeps the row id and creation time so the vector index
	// entry stays addressed by the same id.
	if existing, err := s.repo.FindByKey(ctx, owner, req.AgentName, req.Key); err == nil {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.AccessCount = existing.AccessCount
	} else {
		m.ID = uuid.NewString()
	}

	computeEmbedding := m.Scope == memstore.ScopePersistent
	if req.ComputeEmbedding != nil {
		computeEmbedding = *req.ComputeEmbedding
	}

	if err := s.repo.Save(ctx, m); err != nil {
		return nil, err
	}

	if computeEmbedding {
		if err := s.indexMemory(ctx, &m); err != nil {
			// The row is durable; the embedding is reconciled later.
			m.NeedsReindex = true
			if err := s.repo.SetNeedsReindex(ctx, m.ID, true); err != nil {
				logx.WithError(err).Error("memstore: failed to flag memory for reindex")
			}
			if s.reindexer != nil {
				if err := s.reindexer.EnqueueReindex(ctx, m.ID, owner); err != nil {
					logx.WithError(err).Error("memstore: failed to enqueue reindex job")
				}
			}
		}
	}

	s.cacheInvalidate(ctx, &m)
	return &m, nil
}

// Get returns the memory and records the access.
func (s *MemoryService) Get(ctx context.Context, owner kernel.UserID, agentName, key string) (*memstore.Memory, error) {
	m, err := s.lookup(ctx, owner, agentName, key)
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkAccessed(ctx, m.ID, time.Now().UTC()); err != nil {
		logx.WithError(err).Warn("memstore: access bookkeeping failed")
	} else {
		m.AccessCount++
		m.LastAccessedAt = time.Now().UTC()
	}

	s.cachePut(ctx, m)
	return m, nil
}

// Peek returns the memory without access bookkeeping, so the read leaves
// access_count and last_accessed_at unchanged.
func (s *MemoryService) Peek(ctx context.Context, owner kernel.UserID, agentName, key string) (*memstore.Memory, error) {
	return s.lookup(ctx, owner, agentName, key)
}

// List enumerates the owner's memories matching filter.
func (s *MemoryService) List(ctx context.Context, owner kernel.UserID, filter memstore.ListFilter, page kernel.PaginationOptions) (kernel.Paginated[memstore.Memory], error) {
	return s.repo.List(ctx, owner, filter, page)
}

// Update applies a partial mutation, re-embedding persistent-scope memories
// when the value changes. A working-scope memory's vector, if it has one, is
// not refreshed.
func (s *MemoryService) Update(ctx context.Context, owner kernel.UserID, agentName, key string, patch memstore.UpdateRequest) (*memstore.Memory, error) {
	unlock := s.locks.Lock(owner.String(), agentName, key)
	defer unlock()

	m, err := s.repo.FindByKey(ctx, owner, agentName, key)
	if err != nil {
		return nil, err
	}

	valueChanged := false
	if patch.Value != nil && *patch.Value != m.Value {
		if len(*patch.Value) > s.cfg.MaxValueBytes {
			return nil, memstore.ErrValueTooLarge().
				WithDetail("max_bytes", s.cfg.MaxValueBytes)
		}
		m.Value = *patch.Value
		valueChanged = true
	}
	if patch.Scope != nil {
		if !patch.Scope.IsValid() {
			return nil, memstore.ErrInvalidScope()
		}
		m.Scope = *patch.Scope
	}
	if patch.Kind != nil {
		if !patch.Kind.IsValid() {
			return nil, memstore.ErrInvalidKind()
		}
		m.Kind = *patch.Kind
	}
	if patch.Importance != nil {
		m.Importance = memstore.ClampImportance(*patch.Importance)
	}
	if patch.Tags != nil {
		m.Tags = memstore.NormalizeTags(patch.Tags)
	}
	if patch.Metadata != nil {
		m.Metadata = patch.Metadata
	}

	m.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(ctx, *m); err != nil {
		return nil, err
	}

	if valueChanged && m.Scope == memstore.ScopePersistent {
		if err := s.indexMemory(ctx, m); err != nil {
			m.NeedsReindex = true
			if err := s.repo.SetNeedsReindex(ctx, m.ID, true); err != nil {
				logx.WithError(err).Error("memstore: failed to flag memory for reindex")
			}
			if s.reindexer != nil {
				if err := s.reindexer.EnqueueReindex(ctx, m.ID, owner); err != nil {
					logx.WithError(err).Error("memstore: failed to enqueue reindex job")
				}
			}
		}
	}

	s.cacheInvalidate(ctx, m)
	return m, nil
}

// Delete removes the row and best-effort-deletes the embedding. Deleting a
// memory that does not exist succeeds.
func (s *MemoryService) Delete(ctx context.Context, owner kernel.UserID, agentName, key string) error {
	unlock := s.locks.Lock(owner.String(), agentName, key)
	defer unlock()

	m, err := s.repo.FindByKey(ctx, owner, agentName, key)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil // idempotent
		}
		return err
	}

	if err := s.repo.Delete(ctx, m.ID); err != nil {
		return err
	}

	collection := vectorindex.CollectionKey{OwnerUserID: owner.String(), LogicalName: MemoryCollection}
	if err := s.vectors.Delete(ctx, collection, []string{m.ID}); err != nil {
		logx.WithError(err).Warn("memstore: vector delete failed, entry will be orphaned until reconciliation")
	}

	if s.refs != nil {
		if err := s.refs.ClearMemoryRefs(ctx, owner, m.ID); err != nil {
			logx.WithError(err).Warn("memstore: failed to clear graph references")
		}
	}

	s.cacheInvalidate(ctx, m)
	return nil
}

// Stats summarizes the owner's memories.
func (s *MemoryService) Stats(ctx context.Context, owner kernel.UserID) (*memstore.Stats, error) {
	return s.repo.Stats(ctx, owner)
}

// GC deletes working-scope memories idle past the configured horizon.
// Persistent memories are never touched. Callers gate this behind an admin
// principal or the scheduled sweep job.
func (s *MemoryService) GC(ctx context.Context, owner kernel.UserID) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.GCHorizon)
	deleted := 0

	for {
		batch, err := s.repo.FindEvictable(ctx, owner, cutoff, 100)
		if err != nil {
			return deleted, err
		}
		if len(batch) == 0 {
			return deleted, nil
		}
		for _, m := range batch {
			if err := s.Delete(ctx, m.OwnerUserID, m.AgentName, m.Key); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
}

// Reindex recomputes and upserts the embedding for one memory, clearing
// its reconciliation flag on success. The background reconciler calls this.
func (s *MemoryService) Reindex(ctx context.Context, memoryID string) error {
	m, err := s.repo.FindByID(ctx, memoryID)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil // deleted since the job was enqueued
		}
		return err
	}

	if err := s.indexMemory(ctx, m); err != nil {
		return err
	}
	if err := s.repo.SetNeedsReindex(ctx, m.ID, false); err != nil {
		return err
	}
	s.cacheInvalidate(ctx, m)
	return nil
}

// ============================================================================
// Internals
// ============================================================================

func (s *MemoryService) validatePut(req *memstore.PutRequest) error {
	if req.Key == "" {
		return memstore.ErrEmptyKey()
	}
	if len(req.Key) > s.cfg.MaxKeyLength {
		return memstore.ErrKeyTooLong().WithDetail("max_length", s.cfg.MaxKeyLength)
	}
	if len(req.Value) > s.cfg.MaxValueBytes {
		return memstore.ErrValueTooLarge().WithDetail("max_bytes", s.cfg.MaxValueBytes)
	}
	if req.AgentName == "" {
		req.AgentName = "default"
	}
	if req.Scope == "" {
		req.Scope = memstore.ScopePersistent
	}
	if !req.Scope.IsValid() {
		return memstore.ErrInvalidScope().WithDetail("scope", string(req.Scope))
	}
	if req.Kind == "" {
		req.Kind = memstore.KindNormal
	}
	if !req.Kind.IsValid() {
		return memstore.ErrInvalidKind().WithDetail("kind", string(req.Kind))
	}
	return nil
}

// indexMemory embeds the value and upserts it into the owner's collection,
// copying the filterable attributes alongside the vector.
func (s *MemoryService) indexMemory(ctx context.Context, m *memstore.Memory) error {
	vector, err := s.embedder.EmbedOne(ctx, m.Value)
	if err != nil {
		return err
	}

	collection := vectorindex.CollectionKey{OwnerUserID: m.OwnerUserID.String(), LogicalName: MemoryCollection}
	if err := s.vectors.EnsureCollection(ctx, collection, s.embedder.Dim(), vectorindex.MetricCosine); err != nil {
		return err
	}

	return s.vectors.Upsert(ctx, collection, []vectorindex.Vector{{
		ID:     m.ID,
		Values: vector,
		Metadata: map[string]any{
			"owner_user_id": m.OwnerUserID.String(),
			"agent_name":    m.AgentName,
			"key":           m.Key,
			"tags":          m.Tags,
			"scope":         string(m.Scope),
			"kind":          string(m.Kind),
			"importance":    m.Importance,
		},
	}})
}

func (s *MemoryService) lookup(ctx context.Context, owner kernel.UserID, agentName, key string) (*memstore.Memory, error) {
	if agentName == "" {
		agentName = "default"
	}

	if m, ok := s.cacheGet(ctx, owner, agentName, key); ok {
		return m, nil
	}

	m, err := s.repo.FindByKey(ctx, owner, agentName, key)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, m)
	return m, nil
}

func hotKey(owner kernel.UserID, agent, key string) string {
	return "hot:" + owner.String() + ":" + agent + ":" + key
}

func (s *MemoryService) cacheGet(ctx context.Context, owner kernel.UserID, agent, key string) (*memstore.Memory, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, hotKey(owner, agent, key))
	if err != nil || !ok {
		return nil, false
	}
	var m memstore.Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}

func (s *MemoryService) cachePut(ctx context.Context, m *memstore.Memory) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, hotKey(m.OwnerUserID, m.AgentName, m.Key), raw, s.cfg.HotCacheTTL); err != nil {
		logx.WithError(err).Debug("memstore: hot cache write failed")
	}
}

func (s *MemoryService) cacheInvalidate(ctx context.Context, m *memstore.Memory) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, hotKey(m.OwnerUserID, m.AgentName, m.Key)); err != nil {
		logx.WithError(err).Debug("memstore: hot cache invalidation failed")
	}
}
