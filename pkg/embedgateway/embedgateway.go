// Package embedgateway turns text into fixed-dimension vectors and
// optionally reranks candidate lists. Providers are pluggable behind the
// Embedder interface; reranking is an optional capability detected by type
// assertion, the same way vectorindex detects provider capabilities.
package embedgateway

import "context"

// Embedding is one dense vector plus the provider's token accounting.
type Embedding struct {
	Vector []float32
	Usage  Usage
}

// Usage reports token consumption for an embedding call.
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// Embedder is the minimal capability every provider implements.
type Embedder interface {
	EmbedDocuments(ctx context.Context, documents []string, opts ...Option) ([]Embedding, error)
	EmbedQuery(ctx context.Context, text string, opts ...Option) (Embedding, error)
}

// RerankResult is one candidate with its relevance score, higher is better.
type RerankResult struct {
	Index int     // position in the input candidates slice
	Score float64 // relevance in [0,1]
}

// Reranker is an optional provider capability: reorder candidates by
// relevance to the query. Detected via type assertion on the Embedder.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string, opts ...Option) ([]RerankResult, error)
}
