package embedgateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
)

// GatewayConfig tunes the gateway's caching and outbound limits.
type GatewayConfig struct {
	ProviderName   string // cache key component, e.g. "openai"
	Model          string
	Dim            int // declared dimension; mismatched vectors are rejected
	CacheTTL       time.Duration
	MaxConcurrency int
	MaxRetries     int
}

// Gateway wraps a provider with an embedding cache, a concurrency cap, and
// retry-with-backoff on transient failures. All callers go through here —
// nothing talks to a provider client directly.
type Gateway struct {
	provider Embedder
	reranker Reranker // nil when neither the provider nor an external reranker supports it
	cache    storage.Cache
	cfg      GatewayConfig
	sem      chan struct{}
}

// NewGateway builds a gateway around provider. cache may be nil to disable
// the embedding cache (tests, one-shot tools). When the provider itself
// implements Reranker that capability is picked up automatically; a
// separate rerank provider can be attached with UseReranker.
func NewGateway(provider Embedder, cache storage.Cache, cfg GatewayConfig) *Gateway {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	g := &Gateway{
		provider: provider,
		cache:    cache,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
	}
	if r, ok := provider.(Reranker); ok {
		g.reranker = r
	}
	return g
}

// UseReranker attaches a rerank provider distinct from the embedder.
func (g *Gateway) UseReranker(r Reranker) {
	g.reranker = r
}

// Dim reports the declared embedding dimension.
func (g *Gateway) Dim() int { return g.cfg.Dim }

// CanRerank reports whether a reranker is available.
func (g *Gateway) CanRerank() bool {
	return g.reranker != nil
}

// Embed turns texts into vectors, serving cache hits without touching the
// provider. The returned slice is index-aligned with the input.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errorRegistry.New(ErrEmptyInput)
	}

	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if v, ok := g.cacheGet(ctx, text); ok {
			vectors[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	embeddings, err := g.embedWithRetry(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, emb := range embeddings {
		if g.cfg.Dim > 0 && len(emb.Vector) != g.cfg.Dim {
			return nil, errorRegistry.New(ErrDimensionMismatch).
				WithDetail("expected", g.cfg.Dim).
				WithDetail("got", len(emb.Vector))
		}
		vectors[missIdx[j]] = emb.Vector
		g.cachePut(ctx, missTexts[j], emb.Vector)
	}

	return vectors, nil
}

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Rerank reorders candidates by relevance to query. Fails with
// ErrRerankUnsupported when the provider has no rerank capability; callers
// that want graceful degradation check CanRerank first.
func (g *Gateway) Rerank(ctx context.Context, query string, candidates []string) ([]RerankResult, error) {
	if g.reranker == nil {
		return nil, errorRegistry.New(ErrRerankUnsupported).
			WithDetail("provider", g.cfg.ProviderName)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	g.sem <- struct{}{}
	defer func() { <-g.sem }()

	return g.reranker.Rerank(ctx, query, candidates)
}

func (g *Gateway) embedWithRetry(ctx context.Context, texts []string) ([]Embedding, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errx.Timeout("embedding request cancelled while queued")
	}
	defer func() { <-g.sem }()

	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, errx.Timeout("embedding retry cancelled")
			}
			backoff *= 2
		}

		embeddings, err := g.provider.EmbedDocuments(ctx, texts, WithModel(g.cfg.Model), WithDimensions(g.cfg.Dim))
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if !isTransient(err) {
			return nil, err
		}
		logx.WithError(err).Warnf("embedgateway: transient provider error, attempt %d/%d", attempt+1, g.cfg.MaxRetries)
	}

	return nil, errx.Wrap(lastErr, "embedding provider failed after retries", errx.TypeUnavailable)
}

// isTransient reports whether an error is worth retrying: rate limits,
// timeouts, and upstream unavailability. Validation errors are not.
func isTransient(err error) bool {
	var e *errx.Error
	if !errx.As(err, &e) {
		return true // unclassified network-level failure
	}
	switch e.Type {
	case errx.TypeRateLimited, errx.TypeTimeout, errx.TypeUnavailable, errx.TypeExternal:
		return true
	}
	return false
}

// ============================================================================
// Cache
// ============================================================================

func (g *Gateway) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:%s:%s:%s", g.cfg.ProviderName, g.cfg.Model, hex.EncodeToString(sum[:]))
}

func (g *Gateway) cacheGet(ctx context.Context, text string) ([]float32, bool) {
	if g.cache == nil {
		return nil, false
	}
	raw, ok, err := g.cache.Get(ctx, g.cacheKey(text))
	if err != nil || !ok {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if g.cfg.Dim > 0 && len(v) != g.cfg.Dim {
		return nil, false // stale entry from a different model config
	}
	return v, true
}

func (g *Gateway) cachePut(ctx context.Context, text string, vector []float32) {
	if g.cache == nil {
		return
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, g.cacheKey(text), raw, g.cfg.CacheTTL); err != nil {
		logx.WithError(err).Debug("embedgateway: cache write failed")
	}
}
