// Package graphsrv implements the graph overlay service: node/edge CRUD and
// bounded breadth-first traversal with temporal edge filtering.
package graphsrv

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/aimemory/platform/pkg/graph"
	"github.com/aimemory/platform/pkg/kernel"
)

const ownerLockStripes = 128

type GraphService struct {
	repo graph.GraphRepository

	// Graph updates are serialized per owner; reads take no lock.
	locks [ownerLockStripes]sync.Mutex
}

func NewGraphService(repo graph.GraphRepository) *GraphService {
	return &GraphService{repo: repo}
}

func (s *GraphService) ownerLock(owner kernel.UserID) func() {
	h := fnv.New32a()
	h.Write([]byte(owner.String()))
	stripe := &s.locks[h.Sum32()%ownerLockStripes]
	stripe.Lock()
	return stripe.Unlock
}

// AddNodeRequest carries one node upsert.
type AddNodeRequest struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	MemoryRef *string        `json:"memory_ref,omitempty"`
}

// AddNode creates or updates a node in the owner's graph.
func (s *GraphService) AddNode(ctx context.Context, owner kernel.UserID, req AddNodeRequest) (*graph.Node, error) {
	if req.ID == "" {
		return nil, graph.ErrEmptyNodeID()
	}

	unlock := s.ownerLock(owner)
	defer unlock()

	now := time.Now().UTC()
	node := graph.Node{
		ID:          req.ID,
		OwnerUserID: owner,
		Type:        req.Type,
		MemoryRef:   req.MemoryRef,
		Attrs:       req.Attrs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if existing, err := s.repo.FindNode(ctx, owner, req.ID); err == nil {
		node.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.SaveNode(ctx, node); err != nil {
		return nil, err
	}
	return &node, nil
}

// AddEdgeRequest carries one edge upsert.
type AddEdgeRequest struct {
	Src        string         `json:"src"`
	Dst        string         `json:"dst"`
	RelType    string         `json:"rel_type"`
	Weight     *float64       `json:"weight,omitempty"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidUntil *time.Time     `json:"valid_until,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// AddEdge connects two existing nodes.
func (s *GraphService) AddEdge(ctx context.Context, owner kernel.UserID, req AddEdgeRequest) (*graph.Edge, error) {
	if req.Src == "" || req.Dst == "" {
		return nil, graph.ErrEmptyNodeID()
	}
	if req.Src == req.Dst {
		return nil, graph.ErrSelfEdge()
	}
	if req.RelType == "" {
		return nil, graph.ErrEmptyRelType()
	}

	unlock := s.ownerLock(owner)
	defer unlock()

	// Both endpoints must exist in this owner's graph.
	if _, err := s.repo.FindNode(ctx, owner, req.Src); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindNode(ctx, owner, req.Dst); err != nil {
		return nil, err
	}

	weight := 1.0
	if req.Weight != nil {
		weight = *req.Weight
	}

	edge := graph.Edge{
		OwnerUserID: owner,
		Src:         req.Src,
		Dst:         req.Dst,
		RelType:     req.RelType,
		Weight:      weight,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
		Attrs:       req.Attrs,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.SaveEdge(ctx, edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

// RemoveNode deletes the node and every edge attached to it.
func (s *GraphService) RemoveNode(ctx context.Context, owner kernel.UserID, nodeID string) error {
	unlock := s.ownerLock(owner)
	defer unlock()

	if err := s.repo.DeleteEdgesOfNode(ctx, owner, nodeID); err != nil {
		return err
	}
	return s.repo.DeleteNode(ctx, owner, nodeID)
}

// RemoveEdge deletes one directed edge.
func (s *GraphService) RemoveEdge(ctx context.Context, owner kernel.UserID, src, dst, relType string) error {
	unlock := s.ownerLock(owner)
	defer unlock()

	return s.repo.DeleteEdge(ctx, owner, src, dst, relType)
}

// Neighbors returns the nodes one hop from id, honoring the relation filter.
func (s *GraphService) Neighbors(ctx context.Context, owner kernel.UserID, nodeID string, relTypes []string, direction graph.Direction) ([]graph.Node, error) {
	if !direction.IsValid() {
		direction = graph.DirectionOut
	}

	result, err := s.Query(ctx, owner, graph.TraversalQuery{
		StartIDs:  []string{nodeID},
		RelTypes:  relTypes,
		MaxDepth:  1,
		Direction: direction,
	})
	if err != nil {
		return nil, err
	}

	neighbors := result.Nodes[:0]
	for _, n := range result.Nodes {
		if n.ID != nodeID {
			neighbors = append(neighbors, n)
		}
	}
	return neighbors, nil
}

// Query runs a breadth-first traversal from the start nodes. Depth clamps
// at MaxDepth; edges outside their validity window at query time are
// skipped; paths carry accumulated weight.
func (s *GraphService) Query(ctx context.Context, owner kernel.UserID, q graph.TraversalQuery) (*graph.TraversalResult, error) {
	if len(q.StartIDs) == 0 {
		return nil, graph.ErrNoStartNodes()
	}
	if q.MaxDepth <= 0 || q.MaxDepth > graph.MaxDepth {
		q.MaxDepth = graph.MaxDepth
	}
	if !q.Direction.IsValid() {
		q.Direction = graph.DirectionOut
	}
	at := time.Now().UTC()
	if q.At != nil {
		at = *q.At
	}

	relFilter := make(map[string]bool, len(q.RelTypes))
	for _, rt := range q.RelTypes {
		relFilter[rt] = true
	}

	visited := make(map[string]bool)
	var paths []graph.Path

	frontier := make([]visit, 0, len(q.StartIDs))
	for _, id := range q.StartIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		frontier = append(frontier, visit{nodeID: id, path: []string{id}})
	}

	for depth := 0; depth < q.MaxDepth && len(frontier) > 0; depth++ {
		ids := make([]string, len(frontier))
		byID := make(map[string][]visit, len(frontier))
		for i, v := range frontier {
			ids[i] = v.nodeID
			byID[v.nodeID] = append(byID[v.nodeID], v)
		}

		edges, err := s.repo.EdgesTouching(ctx, owner, ids, q.Direction)
		if err != nil {
			return nil, err
		}

		var next []visit
		for _, e := range edges {
			if len(relFilter) > 0 && !relFilter[e.RelType] {
				continue
			}
			if !e.ActiveAt(at) {
				continue
			}

			for _, step := range expandEdge(e, byID, q.Direction) {
				if visited[step.nodeID] {
					continue
				}
				visited[step.nodeID] = true
				next = append(next, step)
				paths = append(paths, graph.Path{NodeIDs: step.path, Weight: step.weight})
			}
		}

		// Deterministic frontier order regardless of edge listing order.
		sort.Slice(next, func(i, j int) bool { return next[i].nodeID < next[j].nodeID })
		frontier = next
	}

	reached := make([]string, 0, len(visited))
	for id := range visited {
		reached = append(reached, id)
	}
	sort.Strings(reached)

	nodes, err := s.repo.FindNodes(ctx, owner, reached)
	if err != nil {
		return nil, err
	}

	return &graph.TraversalResult{Nodes: nodes, Paths: paths}, nil
}

// visit is one traversal frontier entry: a node plus the path and
// accumulated weight that reached it.
type visit struct {
	nodeID string
	path   []string
	weight float64
}

// expandEdge yields the next visits an edge contributes, given the visits
// sitting on the matching endpoint.
func expandEdge(e graph.Edge, byID map[string][]visit, direction graph.Direction) []visit {
	var out []visit

	follow := func(from, to string) {
		for _, v := range byID[from] {
			path := make([]string, len(v.path), len(v.path)+1)
			copy(path, v.path)
			out = append(out, visit{
				nodeID: to,
				path:   append(path, to),
				weight: v.weight + e.Weight,
			})
		}
	}

	if direction == graph.DirectionOut || direction == graph.DirectionBoth {
		follow(e.Src, e.Dst)
	}
	if direction == graph.DirectionIn || direction == graph.DirectionBoth {
		follow(e.Dst, e.Src)
	}
	return out
}

// ClearMemoryRefs removes dangling references to a deleted memory. The
// nodes themselves stay; whether to remove them is the caller's decision.
func (s *GraphService) ClearMemoryRefs(ctx context.Context, owner kernel.UserID, memoryID string) error {
	unlock := s.ownerLock(owner)
	defer unlock()

	nodes, err := s.repo.FindByMemoryRef(ctx, owner, memoryID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		n.MemoryRef = nil
		n.UpdatedAt = time.Now().UTC()
		if err := s.repo.SaveNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
