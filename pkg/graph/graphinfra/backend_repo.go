// Package graphinfra persists graph nodes and edges through the storage
// adapter as two tables, graph_nodes and graph_edges.
package graphinfra

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/graph"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage"
)

const (
	nodesTable = "graph_nodes"
	edgesTable = "graph_edges"
)

// BackendGraphRepository implements graph.GraphRepository over a
// storage.Backend.
type BackendGraphRepository struct {
	backend storage.Backend
}

func NewBackendGraphRepository(backend storage.Backend) *BackendGraphRepository {
	return &BackendGraphRepository{backend: backend}
}

// Row ids are namespaced by owner so node ids only need to be unique within
// one user's graph.
func nodeRowID(owner kernel.UserID, nodeID string) string {
	return owner.String() + "\x00" + nodeID
}

func edgeRowID(owner kernel.UserID, src, dst, relType string) string {
	return owner.String() + "\x00" + src + "\x00" + dst + "\x00" + relType
}

// ============================================================================
// Nodes
// ============================================================================

func (r *BackendGraphRepository) SaveNode(ctx context.Context, node graph.Node) error {
	row := storage.Row{
		ID: nodeRowID(node.OwnerUserID, node.ID),
		Fields: map[string]any{
			"owner_user_id": node.OwnerUserID.String(),
			"node_id":       node.ID,
			"type":          node.Type,
			"memory_ref":    refValue(node.MemoryRef),
			"attrs":         node.Attrs,
			"created_at":    node.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at":    node.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := r.backend.Upsert(ctx, nodesTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save graph node", errx.TypeInternal).
			WithDetail("node_id", node.ID)
	}
	return nil
}

func (r *BackendGraphRepository) FindNode(ctx context.Context, owner kernel.UserID, nodeID string) (*graph.Node, error) {
	row, err := r.backend.Get(ctx, nodesTable, nodeRowID(owner, nodeID))
	if err != nil {
		return nil, mapNodeErr(err)
	}
	n := nodeFromRow(*row)
	return &n, nil
}

func (r *BackendGraphRepository) FindNodes(ctx context.Context, owner kernel.UserID, nodeIDs []string) ([]graph.Node, error) {
	nodes := make([]graph.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		n, err := r.FindNode(ctx, owner, id)
		if err != nil {
			var e *errx.Error
			if errx.As(err, &e) && e.Type == errx.TypeNotFound {
				continue
			}
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, nil
}

func (r *BackendGraphRepository) DeleteNode(ctx context.Context, owner kernel.UserID, nodeID string) error {
	if err := r.backend.Delete(ctx, nodesTable, nodeRowID(owner, nodeID)); err != nil {
		return mapNodeErr(err)
	}
	return nil
}

func (r *BackendGraphRepository) FindByMemoryRef(ctx context.Context, owner kernel.UserID, memoryID string) ([]graph.Node, error) {
	rows, _, err := r.backend.Query(ctx, nodesTable, storage.QuerySpec{
		Predicate: storage.And(
			storage.Eq("owner_user_id", owner.String()),
			storage.Eq("memory_ref", memoryID),
		),
	})
	if err != nil {
		return nil, err
	}
	nodes := make([]graph.Node, len(rows))
	for i, row := range rows {
		nodes[i] = nodeFromRow(row)
	}
	return nodes, nil
}

// ============================================================================
// Edges
// ============================================================================

func (r *BackendGraphRepository) SaveEdge(ctx context.Context, edge graph.Edge) error {
	row := storage.Row{
		ID: edgeRowID(edge.OwnerUserID, edge.Src, edge.Dst, edge.RelType),
		Fields: map[string]any{
			"owner_user_id": edge.OwnerUserID.String(),
			"src":           edge.Src,
			"dst":           edge.Dst,
			"rel_type":      edge.RelType,
			"weight":        edge.Weight,
			"valid_from":    timeValue(edge.ValidFrom),
			"valid_until":   timeValue(edge.ValidUntil),
			"attrs":         edge.Attrs,
			"created_at":    edge.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := r.backend.Upsert(ctx, edgesTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save graph edge", errx.TypeInternal).
			WithDetail("src", edge.Src).
			WithDetail("dst", edge.Dst)
	}
	return nil
}

func (r *BackendGraphRepository) DeleteEdge(ctx context.Context, owner kernel.UserID, src, dst, relType string) error {
	err := r.backend.Delete(ctx, edgesTable, edgeRowID(owner, src, dst, relType))
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return graph.ErrEdgeNotFound()
		}
		return err
	}
	return nil
}

func (r *BackendGraphRepository) EdgesTouching(ctx context.Context, owner kernel.UserID, nodeIDs []string, direction graph.Direction) ([]graph.Edge, error) {
	ids := make([]any, len(nodeIDs))
	for i, id := range nodeIDs {
		ids[i] = id
	}

	var pred storage.Predicate
	switch direction {
	case graph.DirectionOut:
		pred = storage.In("src", ids...)
	case graph.DirectionIn:
		pred = storage.In("dst", ids...)
	default:
		pred = storage.Or(storage.In("src", ids...), storage.In("dst", ids...))
	}

	rows, _, err := r.backend.Query(ctx, edgesTable, storage.QuerySpec{
		Predicate: storage.And(storage.Eq("owner_user_id", owner.String()), pred),
		Order:     []storage.Order{{Field: "created_at"}},
	})
	if err != nil {
		return nil, err
	}

	edges := make([]graph.Edge, len(rows))
	for i, row := range rows {
		edges[i] = edgeFromRow(row)
	}
	return edges, nil
}

func (r *BackendGraphRepository) DeleteEdgesOfNode(ctx context.Context, owner kernel.UserID, nodeID string) error {
	edges, err := r.EdgesTouching(ctx, owner, []string{nodeID}, graph.DirectionBoth)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := r.backend.Delete(ctx, edgesTable, edgeRowID(owner, e.Src, e.Dst, e.RelType)); err != nil {
			var ex *errx.Error
			if errx.As(err, &ex) && ex.Type == errx.TypeNotFound {
				continue
			}
			return err
		}
	}
	return nil
}

// ============================================================================
// Converters
// ============================================================================

func mapNodeErr(err error) error {
	var e *errx.Error
	if errx.As(err, &e) && e.Type == errx.TypeNotFound {
		return graph.ErrNodeNotFound()
	}
	return err
}

func refValue(ref *string) string {
	if ref == nil {
		return ""
	}
	return *ref
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nodeFromRow(row storage.Row) graph.Node {
	f := row.Fields
	n := graph.Node{
		ID:          fieldString(f, "node_id"),
		OwnerUserID: kernel.UserID(fieldString(f, "owner_user_id")),
		Type:        fieldString(f, "type"),
		Attrs:       fieldMap(f, "attrs"),
		CreatedAt:   fieldTime(f, "created_at"),
		UpdatedAt:   fieldTime(f, "updated_at"),
	}
	if ref := fieldString(f, "memory_ref"); ref != "" {
		n.MemoryRef = &ref
	}
	return n
}

func edgeFromRow(row storage.Row) graph.Edge {
	f := row.Fields
	e := graph.Edge{
		OwnerUserID: kernel.UserID(fieldString(f, "owner_user_id")),
		Src:         fieldString(f, "src"),
		Dst:         fieldString(f, "dst"),
		RelType:     fieldString(f, "rel_type"),
		Weight:      fieldFloat(f, "weight"),
		Attrs:       fieldMap(f, "attrs"),
		CreatedAt:   fieldTime(f, "created_at"),
	}
	if from := fieldString(f, "valid_from"); from != "" {
		if t, err := time.Parse(time.RFC3339Nano, from); err == nil {
			e.ValidFrom = &t
		}
	}
	if until := fieldString(f, "valid_until"); until != "" {
		if t, err := time.Parse(time.RFC3339Nano, until); err == nil {
			e.ValidUntil = &t
		}
	}
	return e
}

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
	}
	return 0
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

func fieldMap(f map[string]any, key string) map[string]any {
	if v, ok := f[key].(map[string]any); ok {
		return v
	}
	return nil
}
