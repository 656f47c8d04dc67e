// Package graph is the knowledge-graph overlay: a directed typed graph of
// entities and relations layered over stored memories. Each node and edge
// belongs to exactly one owner; traversal never crosses owners.
package graph

import (
	"time"

	"github.com/aimemory/platform/pkg/kernel"
)

// MaxDepth caps traversal depth. Requests beyond it are clamped, not
// rejected.
const MaxDepth = 5

// Node is one graph entity, optionally referencing a memory record.
type Node struct {
	ID          string         `json:"id"` // unique per owner
	OwnerUserID kernel.UserID  `json:"owner_user_id"`
	Type        string         `json:"type"`
	MemoryRef   *string        `json:"memory_ref,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Edge is one directed relation. An undirected relation is stored as two
// edges.
type Edge struct {
	OwnerUserID kernel.UserID  `json:"owner_user_id"`
	Src         string         `json:"src"`
	Dst         string         `json:"dst"`
	RelType     string         `json:"rel_type"`
	Weight      float64        `json:"weight"`
	ValidFrom   *time.Time     `json:"valid_from,omitempty"`
	ValidUntil  *time.Time     `json:"valid_until,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ActiveAt reports whether the edge's validity window contains t.
func (e *Edge) ActiveAt(t time.Time) bool {
	if e.ValidFrom != nil && t.Before(*e.ValidFrom) {
		return false
	}
	if e.ValidUntil != nil && !t.Before(*e.ValidUntil) {
		return false
	}
	return true
}

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

func (d Direction) IsValid() bool {
	return d == DirectionOut || d == DirectionIn || d == DirectionBoth
}

// TraversalQuery describes one breadth-first walk.
type TraversalQuery struct {
	StartIDs  []string   `json:"start_ids"`
	RelTypes  []string   `json:"rel_types,omitempty"` // empty matches every relation
	MaxDepth  int        `json:"max_depth,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
	At        *time.Time `json:"at,omitempty"` // temporal filter; defaults to now
}

// Path is one discovered route with its accumulated edge weight.
type Path struct {
	NodeIDs []string `json:"node_ids"`
	Weight  float64  `json:"weight"`
}

// TraversalResult is the reachable subgraph plus the paths that reached it.
type TraversalResult struct {
	Nodes []Node `json:"nodes"`
	Paths []Path `json:"paths"`
}
