// Package retrieval is the hybrid search engine: lexical and vector
// candidates fused by reciprocal rank, optionally reranked, filtered to the
// requesting principal, and deterministically ordered.
package retrieval

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/memstore"
)

// Mode selects which candidate sources participate.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeLexical Mode = "lexical"
	ModeHybrid  Mode = "hybrid"
)

func (m Mode) IsValid() bool {
	return m == ModeVector || m == ModeLexical || m == ModeHybrid
}

// Origin names a source a result came from.
type Origin string

const (
	OriginLexical Origin = "lexical"
	OriginVector  Origin = "vector"
	OriginRerank  Origin = "rerank"
)

// SearchRequest carries one retrieval query. TargetUser is honored only for
// admin principals; a non-admin naming another user is refused.
type SearchRequest struct {
	QueryText  string              `json:"query_text,omitempty"`
	Filter     memstore.ListFilter `json:"filter,omitempty"`
	TagPattern string              `json:"tag_pattern,omitempty"` // regex post-filter on tags
	K          int                 `json:"k"`
	Mode       Mode                `json:"mode,omitempty"`
	Rerank     bool                `json:"rerank,omitempty"`
	MarkAsRead bool                `json:"mark_as_read,omitempty"`
	TargetUser kernel.UserID       `json:"target_user,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Memory  memstore.Memory `json:"memory"`
	Score   float64         `json:"score"`
	Origins []Origin        `json:"origins"`
}

// IDPreview is the slim variant returned by RetrieveIDs: callers hydrate
// full records on demand.
type IDPreview struct {
	ID        string   `json:"id"`
	AgentName string   `json:"agent_name"`
	Key       string   `json:"key"`
	Preview   string   `json:"preview"`
	Score     float64  `json:"score"`
	Origins   []Origin `json:"origins"`
}

// LexicalSearcher supplies ranked lexical candidates from the relational
// backend.
type LexicalSearcher interface {
	SearchText(ctx context.Context, owner kernel.UserID, query string, filter memstore.ListFilter, limit int) ([]memstore.Memory, error)
}

// Lister supplies filter-only listings for queries with no text.
type Lister interface {
	List(ctx context.Context, owner kernel.UserID, filter memstore.ListFilter, page kernel.PaginationOptions) (kernel.Paginated[memstore.Memory], error)
}

// Hydrator resolves vector hits back to full memory records.
type Hydrator interface {
	FindByID(ctx context.Context, id string) (*memstore.Memory, error)
}

// AccessMarker records a read for results the caller explicitly marks.
type AccessMarker interface {
	MarkAccessed(ctx context.Context, id string, at time.Time) error
}
