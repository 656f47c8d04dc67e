// Package memstore owns the memory record model and its lifecycle: create,
// read with access bookkeeping, partial update, delete, stats, and eviction
// of stale working-scope records.
package memstore

import (
	"sort"
	"strings"
	"time"

	"github.com/aimemory/platform/pkg/kernel"
)

// Scope is a memory's lifecycle class.
type Scope string

const (
	ScopeWorking    Scope = "working"    // evictable once idle past the gc horizon
	ScopePersistent Scope = "persistent" // never evicted
)

func (s Scope) IsValid() bool {
	return s == ScopeWorking || s == ScopePersistent
}

// Kind is a memory's category tag, used for grouping, never for access control.
type Kind string

const (
	KindNormal Kind = "normal"
	KindCoding Kind = "coding"
)

func (k Kind) IsValid() bool {
	return k == KindNormal || k == KindCoding
}

// Memory is one stored knowledge fragment. Identity is the composite
// (owner, agent, key); ID is the stable row id shared with the vector index.
type Memory struct {
	ID             string         `json:"id"`
	OwnerUserID    kernel.UserID  `json:"owner_user_id"`
	AgentName      string         `json:"agent_name"`
	Key            string         `json:"key"`
	Value          string         `json:"value"`
	Scope          Scope          `json:"scope"`
	Kind           Kind           `json:"kind"`
	Importance     float64        `json:"importance"`
	Tags           []string       `json:"tags"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int64          `json:"access_count"`
	NeedsReindex   bool           `json:"needs_reindex,omitempty"`
}

// CompositeKey returns the per-owner lookup key "{agent}/{key}".
func (m *Memory) CompositeKey() string {
	return m.AgentName + "/" + m.Key
}

// PutRequest carries the options for a create-or-overwrite.
type PutRequest struct {
	AgentName        string         `json:"agent_name"`
	Key              string         `json:"key"`
	Value            string         `json:"value"`
	Scope            Scope          `json:"scope,omitempty"`
	Kind             Kind           `json:"kind,omitempty"`
	Importance       *float64       `json:"importance,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ComputeEmbedding *bool          `json:"compute_embedding,omitempty"`
}

// UpdateRequest is a partial mutation; nil fields are left untouched.
type UpdateRequest struct {
	Value      *string        `json:"value,omitempty"`
	Scope      *Scope         `json:"scope,omitempty"`
	Kind       *Kind          `json:"kind,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ListFilter narrows a listing to a subset of the principal's memories.
type ListFilter struct {
	AgentName     string   `json:"agent_name,omitempty"`
	Scope         Scope    `json:"scope,omitempty"`
	Kind          Kind     `json:"kind,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	MinImportance *float64 `json:"min_importance,omitempty"`
	MaxImportance *float64 `json:"max_importance,omitempty"`
}

// Stats summarizes a user's memory footprint.
type Stats struct {
	TotalCount     int            `json:"total_count"`
	CountByScope   map[Scope]int  `json:"count_by_scope"`
	TotalBytes     int64          `json:"total_bytes"`
	AvgImportance  float64        `json:"avg_importance"`
	DistinctAgents int            `json:"distinct_agents"`
	TagHistogram   map[string]int `json:"tag_histogram"`
}

// NormalizeTags lowercases, trims, and deduplicates a tag set, dropping
// empties. The result is sorted for stable comparison and storage.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ClampImportance bounds importance to [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
