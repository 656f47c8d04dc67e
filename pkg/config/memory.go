package config

import "time"

// MemoryConfig bounds and lifecycle policy for stored memories.
type MemoryConfig struct {
	MaxKeyLength  int
	MaxValueBytes int
	GCHorizon     time.Duration // working-scope memories idle longer than this are evictable
	HotCacheTTL   time.Duration
}

func loadMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxKeyLength:  getEnvInt("MEMORY_MAX_KEY_LENGTH", 256),
		MaxValueBytes: getEnvInt("MEMORY_MAX_VALUE_BYTES", 256*1024),
		GCHorizon:     getEnvDuration("MEMORY_GC_HORIZON", 7*24*time.Hour),
		HotCacheTTL:   getEnvDuration("MEMORY_HOT_CACHE_TTL", 5*time.Minute),
	}
}

// RetrievalConfig tunes the hybrid search pipeline.
type RetrievalConfig struct {
	FusionConstant    float64 // reciprocal-rank fusion constant
	MaxCandidates     int     // per-source candidate cap
	RerankCandidates  int
	CandidateMultiple int // candidates fetched per requested result
}

func loadRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		FusionConstant:    float64(getEnvInt("RETRIEVAL_FUSION_CONSTANT", 60)),
		MaxCandidates:     getEnvInt("RETRIEVAL_MAX_CANDIDATES", 200),
		RerankCandidates:  getEnvInt("RETRIEVAL_RERANK_CANDIDATES", 50),
		CandidateMultiple: getEnvInt("RETRIEVAL_CANDIDATE_MULTIPLE", 4),
	}
}

// EmbeddingConfig selects the embedding provider and its limits.
type EmbeddingConfig struct {
	Provider       string // "openai" | "azure" | "gemini" | "bedrock"
	Endpoint       string // azure only: the resource endpoint
	Model          string
	Dim            int
	CacheTTL       time.Duration
	MaxConcurrency int
	MaxRetries     int
	RerankProvider string // "" disables reranking
	RerankModel    string
}

func loadEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       getEnv("EMBEDDING_PROVIDER", "openai"),
		Endpoint:       getEnv("EMBEDDING_ENDPOINT", ""),
		Model:          getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		Dim:            getEnvInt("EMBEDDING_DIM", 1536),
		CacheTTL:       getEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),
		MaxConcurrency: getEnvInt("EMBEDDING_MAX_CONCURRENCY", 8),
		MaxRetries:     getEnvInt("EMBEDDING_MAX_RETRIES", 3),
		RerankProvider: getEnv("RERANK_PROVIDER", ""),
		RerankModel:    getEnv("RERANK_MODEL", ""),
	}
}
