package retrieval

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/aimemory/platform/pkg/asyncx"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/aimemory/platform/pkg/vectorindex"
)

// Repository is the slice of memory persistence the engine needs.
type Repository interface {
	LexicalSearcher
	Lister
	Hydrator
	AccessMarker
}

// Engine runs the retrieval pipeline.
type Engine struct {
	repo     Repository
	vectors  *vectorindex.Client
	embedder *embedgateway.Gateway
	cfg      config.RetrievalConfig
}

func NewEngine(repo Repository, vectors *vectorindex.Client, embedder *embedgateway.Gateway, cfg config.RetrievalConfig) *Engine {
	if cfg.FusionConstant <= 0 {
		cfg.FusionConstant = 60
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 200
	}
	if cfg.RerankCandidates <= 0 {
		cfg.RerankCandidates = 50
	}
	if cfg.CandidateMultiple <= 0 {
		cfg.CandidateMultiple = 4
	}
	return &Engine{repo: repo, vectors: vectors, embedder: embedder, cfg: cfg}
}

// candidate accumulates per-source evidence for one memory.
type candidate struct {
	memory      memstore.Memory
	lexRank     int // 1-based, 0 when absent
	vecRank     int
	fused       float64
	rerankScore float64
	origins     []Origin
}

// Search resolves the principal, gathers candidates per mode, fuses,
// post-filters, optionally reranks, and returns the top K. Ordering is
// deterministic for fixed inputs and stable stores.
func (e *Engine) Search(ctx context.Context, auth *kernel.AuthContext, req SearchRequest) ([]SearchResult, error) {
	owner, err := resolveOwner(auth, req.TargetUser)
	if err != nil {
		return nil, err
	}

	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if !req.Mode.IsValid() {
		return nil, errx.Validation("mode must be vector, lexical, or hybrid")
	}
	if req.K < 0 {
		return nil, errx.Validation("k cannot be negative")
	}
	if req.K == 0 {
		return []SearchResult{}, nil // no candidate calls at all
	}

	var tagPattern *regexp.Regexp
	if req.TagPattern != "" {
		tagPattern, err = regexp.Compile(req.TagPattern)
		if err != nil {
			return nil, errx.Validation("invalid tag_pattern regex").WithDetail("error", err.Error())
		}
	}

	// With no query text the pipeline degrades to a filtered listing
	// ordered by importance, then recency.
	if req.QueryText == "" {
		return e.searchWithoutQuery(ctx, owner, req, tagPattern)
	}

	kCand := req.K * e.cfg.CandidateMultiple
	if kCand > e.cfg.MaxCandidates {
		kCand = e.cfg.MaxCandidates
	}

	// Both candidate sources are independent network hops; fetch them
	// concurrently and merge afterwards.
	wantLexical := req.Mode == ModeLexical || req.Mode == ModeHybrid
	wantVector := req.Mode == ModeVector || req.Mode == ModeHybrid

	batches, err := asyncx.All(ctx,
		func(ctx context.Context) (candidateBatch, error) {
			if !wantLexical {
				return candidateBatch{}, nil
			}
			lexical, err := e.repo.SearchText(ctx, owner, req.QueryText, req.Filter, kCand)
			return candidateBatch{lexical: lexical}, err
		},
		func(ctx context.Context) (candidateBatch, error) {
			if !wantVector {
				return candidateBatch{}, nil
			}
			matches, err := e.vectorCandidates(ctx, owner, req, kCand)
			return candidateBatch{matches: matches}, err
		},
	)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*candidate)
	for i, m := range batches[0].lexical {
		byID[m.ID] = &candidate{
			memory:  m,
			lexRank: i + 1,
			origins: []Origin{OriginLexical},
		}
	}
	if err := e.mergeVectorMatches(ctx, batches[1].matches, byID); err != nil {
		return nil, err
	}

	candidates := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		c.fused = e.fuse(c)
		candidates = append(candidates, c)
	}

	// Post-filters the backends could not express natively.
	if tagPattern != nil {
		candidates = filterByTagPattern(candidates, tagPattern)
	}

	sortCandidates(candidates)

	if req.Rerank && e.embedder.CanRerank() {
		candidates = e.rerank(ctx, req.QueryText, req.K, candidates)
	}

	if len(candidates) > req.K {
		candidates = candidates[:req.K]
	}

	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = SearchResult{Memory: c.memory, Score: c.fused, Origins: c.origins}
	}

	if req.MarkAsRead {
		e.markRead(ctx, results)
	}

	return results, nil
}

// RetrieveIDs runs the same pipeline but returns only ids and previews to
// keep response size small.
func (e *Engine) RetrieveIDs(ctx context.Context, auth *kernel.AuthContext, req SearchRequest) ([]IDPreview, error) {
	results, err := e.Search(ctx, auth, req)
	if err != nil {
		return nil, err
	}
	previews := make([]IDPreview, len(results))
	for i, r := range results {
		previews[i] = IDPreview{
			ID:        r.Memory.ID,
			AgentName: r.Memory.AgentName,
			Key:       r.Memory.Key,
			Preview:   preview(r.Memory.Value),
			Score:     r.Score,
			Origins:   r.Origins,
		}
	}
	return previews, nil
}

// ============================================================================
// Pipeline stages
// ============================================================================

// resolveOwner enforces that only admins may search another user's data.
func resolveOwner(auth *kernel.AuthContext, target kernel.UserID) (kernel.UserID, error) {
	if auth == nil || !auth.IsValid() {
		return "", errx.Unauthorized("no authenticated principal")
	}
	if !target.IsEmpty() && target != *auth.UserID {
		if auth.Role != kernel.RoleAdmin {
			return "", errx.Forbidden("cross-user search requires admin role")
		}
		return target, nil
	}
	return *auth.UserID, nil
}

func (e *Engine) searchWithoutQuery(ctx context.Context, owner kernel.UserID, req SearchRequest, tagPattern *regexp.Regexp) ([]SearchResult, error) {
	fetch := req.K * e.cfg.CandidateMultiple
	if fetch > e.cfg.MaxCandidates {
		fetch = e.cfg.MaxCandidates
	}
	page, err := e.repo.List(ctx, owner, req.Filter, kernel.PaginationOptions{Page: 1, PageSize: fetch})
	if err != nil {
		return nil, err
	}

	candidates := make([]*candidate, 0, len(page.Items))
	for _, m := range page.Items {
		candidates = append(candidates, &candidate{memory: m, fused: m.Importance})
	}
	if tagPattern != nil {
		candidates = filterByTagPattern(candidates, tagPattern)
	}
	sortCandidates(candidates)

	if len(candidates) > req.K {
		candidates = candidates[:req.K]
	}
	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = SearchResult{Memory: c.memory, Score: c.fused, Origins: nil}
	}
	if req.MarkAsRead {
		e.markRead(ctx, results)
	}
	return results, nil
}

// candidateBatch carries one source's results through the concurrent fetch.
type candidateBatch struct {
	lexical []memstore.Memory
	matches []vectorindex.Match
}

func (e *Engine) vectorCandidates(ctx context.Context, owner kernel.UserID, req SearchRequest, kCand int) ([]vectorindex.Match, error) {
	queryVec, err := e.embedder.EmbedOne(ctx, req.QueryText)
	if err != nil {
		return nil, err
	}

	filter := buildVectorFilter(owner, req.Filter)
	collection := vectorindex.CollectionKey{OwnerUserID: owner.String(), LogicalName: memstoresrv.MemoryCollection}

	result, err := e.vectors.Query(ctx, collection, queryVec,
		vectorindex.WithTopK(kCand),
		vectorindex.WithFilter(filter),
		vectorindex.WithIncludeMetadata(true),
	)
	if err != nil {
		return nil, err
	}
	return result.Matches, nil
}

// mergeVectorMatches folds vector hits into the candidate set, hydrating
// rows the lexical pass did not already load.
func (e *Engine) mergeVectorMatches(ctx context.Context, matches []vectorindex.Match, byID map[string]*candidate) error {
	for i, match := range matches {
		if existing, ok := byID[match.ID]; ok {
			existing.vecRank = i + 1
			existing.origins = append(existing.origins, OriginVector)
			continue
		}
		m, err := e.repo.FindByID(ctx, match.ID)
		if err != nil {
			// Index entry with no row: stale; skip rather than fail the query.
			logx.WithField("memory_id", match.ID).Debug("retrieval: orphaned vector hit skipped")
			continue
		}
		byID[match.ID] = &candidate{
			memory:  *m,
			vecRank: i + 1,
			origins: []Origin{OriginVector},
		}
	}
	return nil
}

// fuse computes the reciprocal-rank score: sum of 1/(rank+c) over every
// source the candidate appears in.
func (e *Engine) fuse(c *candidate) float64 {
	score := 0.0
	if c.lexRank > 0 {
		score += 1.0 / (float64(c.lexRank) + e.cfg.FusionConstant)
	}
	if c.vecRank > 0 {
		score += 1.0 / (float64(c.vecRank) + e.cfg.FusionConstant)
	}
	return score
}

// rerank reorders the head of the candidate list by provider relevance
// scores; candidates past the rerank window keep their fused order.
func (e *Engine) rerank(ctx context.Context, query string, k int, candidates []*candidate) []*candidate {
	window := e.cfg.RerankCandidates
	if limit := k * e.cfg.CandidateMultiple; limit < window {
		window = limit
	}
	if window > len(candidates) {
		window = len(candidates)
	}
	if window == 0 {
		return candidates
	}

	texts := make([]string, window)
	for i := 0; i < window; i++ {
		texts[i] = candidates[i].memory.Value
	}

	scores, err := e.embedder.Rerank(ctx, query, texts)
	if err != nil {
		logx.WithError(err).Warn("retrieval: rerank failed, keeping fused order")
		return candidates
	}

	reordered := make([]*candidate, 0, len(candidates))
	seen := make(map[int]bool, window)
	for _, s := range scores {
		if s.Index < 0 || s.Index >= window || seen[s.Index] {
			continue
		}
		seen[s.Index] = true
		c := candidates[s.Index]
		c.rerankScore = s.Score
		c.origins = append(c.origins, OriginRerank)
		reordered = append(reordered, c)
	}
	// Window members the reranker dropped, then the tail, in fused order.
	for i := 0; i < window; i++ {
		if !seen[i] {
			reordered = append(reordered, candidates[i])
		}
	}
	return append(reordered, candidates[window:]...)
}

func (e *Engine) markRead(ctx context.Context, results []SearchResult) {
	now := time.Now().UTC()
	for i := range results {
		if err := e.repo.MarkAccessed(ctx, results[i].Memory.ID, now); err != nil {
			logx.WithError(err).Debug("retrieval: mark-as-read bookkeeping failed")
		} else {
			results[i].Memory.AccessCount++
			results[i].Memory.LastAccessedAt = now
		}
	}
}

// ============================================================================
// Helpers
// ============================================================================

func buildVectorFilter(owner kernel.UserID, f memstore.ListFilter) *vectorindex.Filter {
	filter := vectorindex.NewFilter().
		AddMust("owner_user_id", vectorindex.OpEqual, owner.String())

	if f.AgentName != "" {
		filter.AddMust("agent_name", vectorindex.OpEqual, f.AgentName)
	}
	if f.Scope != "" {
		filter.AddMust("scope", vectorindex.OpEqual, string(f.Scope))
	}
	if f.Kind != "" {
		filter.AddMust("kind", vectorindex.OpEqual, string(f.Kind))
	}
	if len(f.Tags) > 0 {
		filter.AddMust("tags", vectorindex.OpContainsAny, f.Tags)
	}
	if f.MinImportance != nil {
		filter.AddMust("importance", vectorindex.OpGreaterThanOrEqual, *f.MinImportance)
	}
	if f.MaxImportance != nil {
		filter.AddMust("importance", vectorindex.OpLessThanOrEqual, *f.MaxImportance)
	}
	return filter
}

func filterByTagPattern(candidates []*candidate, pattern *regexp.Regexp) []*candidate {
	out := candidates[:0]
	for _, c := range candidates {
		for _, tag := range c.memory.Tags {
			if pattern.MatchString(tag) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// sortCandidates applies the tie-breaking chain: fused score, importance,
// recency, then key, so equal inputs always produce equal output order.
func sortCandidates(candidates []*candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.fused != b.fused {
			return a.fused > b.fused
		}
		if a.memory.Importance != b.memory.Importance {
			return a.memory.Importance > b.memory.Importance
		}
		if !a.memory.UpdatedAt.Equal(b.memory.UpdatedAt) {
			return a.memory.UpdatedAt.After(b.memory.UpdatedAt)
		}
		return a.memory.Key < b.memory.Key
	})
}

func preview(value string) string {
	const max = 160
	if len(value) <= max {
		return value
	}
	return value[:max] + "…"
}
