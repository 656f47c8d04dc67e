package graphsrv_test

import (
	"context"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/graph"
	"github.com/aimemory/platform/pkg/graph/graphinfra"
	"github.com/aimemory/platform/pkg/graph/graphsrv"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage/storagemem"
)

func newService() *graphsrv.GraphService {
	return graphsrv.NewGraphService(graphinfra.NewBackendGraphRepository(storagemem.New(nil, "")))
}

func addNode(t *testing.T, svc *graphsrv.GraphService, owner kernel.UserID, id string) {
	t.Helper()
	if _, err := svc.AddNode(context.Background(), owner, graphsrv.AddNodeRequest{ID: id, Type: "entity"}); err != nil {
		t.Fatalf("add node %s: %v", id, err)
	}
}

func addEdge(t *testing.T, svc *graphsrv.GraphService, owner kernel.UserID, src, dst string) {
	t.Helper()
	if _, err := svc.AddEdge(context.Background(), owner, graphsrv.AddEdgeRequest{Src: src, Dst: dst, RelType: "knows"}); err != nil {
		t.Fatalf("add edge %s->%s: %v", src, dst, err)
	}
}

func TestBFSRespectsDepthAndDirection(t *testing.T) {
	svc := newService()
	owner := kernel.UserID("user-a")
	ctx := context.Background()

	// Chain a -> b -> c -> d
	for _, id := range []string{"a", "b", "c", "d"} {
		addNode(t, svc, owner, id)
	}
	addEdge(t, svc, owner, "a", "b")
	addEdge(t, svc, owner, "b", "c")
	addEdge(t, svc, owner, "c", "d")

	result, err := svc.Query(ctx, owner, graph.TraversalQuery{
		StartIDs: []string{"a"},
		MaxDepth: 2,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Nodes) != 3 { // a, b, c — d is 3 hops out
		t.Fatalf("expected 3 nodes at depth 2, got %d", len(result.Nodes))
	}

	// Reverse direction from d reaches c only at depth 1.
	result, err = svc.Query(ctx, owner, graph.TraversalQuery{
		StartIDs:  []string{"d"},
		MaxDepth:  1,
		Direction: graph.DirectionIn,
	})
	if err != nil {
		t.Fatalf("reverse query: %v", err)
	}
	if len(result.Nodes) != 2 {
		t.Fatalf("expected d and c, got %d nodes", len(result.Nodes))
	}
}

func TestDepthClampsAtMaximum(t *testing.T) {
	svc := newService()
	owner := kernel.UserID("user-a")

	// Chain of 8 nodes; a request for depth 50 is capped, not rejected.
	ids := []string{"n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7"}
	for _, id := range ids {
		addNode(t, svc, owner, id)
	}
	for i := 0; i < len(ids)-1; i++ {
		addEdge(t, svc, owner, ids[i], ids[i+1])
	}

	result, err := svc.Query(context.Background(), owner, graph.TraversalQuery{
		StartIDs: []string{"n0"},
		MaxDepth: 50,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Nodes) != graph.MaxDepth+1 {
		t.Fatalf("expected %d nodes with clamped depth, got %d", graph.MaxDepth+1, len(result.Nodes))
	}
}

func TestTemporalEdgeFilter(t *testing.T) {
	svc := newService()
	owner := kernel.UserID("user-a")
	ctx := context.Background()

	addNode(t, svc, owner, "x")
	addNode(t, svc, owner, "y")

	past := time.Now().UTC().Add(-2 * time.Hour)
	expired := time.Now().UTC().Add(-time.Hour)
	if _, err := svc.AddEdge(ctx, owner, graphsrv.AddEdgeRequest{
		Src: "x", Dst: "y", RelType: "worked_at",
		ValidFrom: &past, ValidUntil: &expired,
	}); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	// Now: the edge is expired.
	result, err := svc.Query(ctx, owner, graph.TraversalQuery{StartIDs: []string{"x"}, MaxDepth: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("expired edge should not be followed, got %d nodes", len(result.Nodes))
	}

	// Inside the validity window the edge is active.
	within := time.Now().UTC().Add(-90 * time.Minute)
	result, err = svc.Query(ctx, owner, graph.TraversalQuery{
		StartIDs: []string{"x"}, MaxDepth: 1, At: &within,
	})
	if err != nil {
		t.Fatalf("temporal query: %v", err)
	}
	if len(result.Nodes) != 2 {
		t.Fatalf("edge should be active at %v, got %d nodes", within, len(result.Nodes))
	}
}

func TestCrossOwnerIsolation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	addNode(t, svc, "user-a", "shared-id")
	addNode(t, svc, "user-b", "shared-id")
	addNode(t, svc, "user-a", "private")
	addEdge(t, svc, "user-a", "shared-id", "private")

	// User B's node with the same id has no edges.
	result, err := svc.Query(ctx, "user-b", graph.TraversalQuery{StartIDs: []string{"shared-id"}, MaxDepth: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("cross-owner traversal leak: %d nodes", len(result.Nodes))
	}
}

func TestPathsAccumulateWeight(t *testing.T) {
	svc := newService()
	owner := kernel.UserID("user-a")
	ctx := context.Background()

	addNode(t, svc, owner, "a")
	addNode(t, svc, owner, "b")
	addNode(t, svc, owner, "c")

	w1, w2 := 0.5, 0.25
	if _, err := svc.AddEdge(ctx, owner, graphsrv.AddEdgeRequest{Src: "a", Dst: "b", RelType: "r", Weight: &w1}); err != nil {
		t.Fatalf("edge: %v", err)
	}
	if _, err := svc.AddEdge(ctx, owner, graphsrv.AddEdgeRequest{Src: "b", Dst: "c", RelType: "r", Weight: &w2}); err != nil {
		t.Fatalf("edge: %v", err)
	}

	result, err := svc.Query(ctx, owner, graph.TraversalQuery{StartIDs: []string{"a"}, MaxDepth: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var found bool
	for _, p := range result.Paths {
		if len(p.NodeIDs) == 3 && p.NodeIDs[2] == "c" {
			found = true
			if p.Weight != 0.75 {
				t.Fatalf("expected accumulated weight 0.75, got %f", p.Weight)
			}
		}
	}
	if !found {
		t.Fatal("expected a path a->b->c")
	}
}

func TestRemoveNodeDropsEdges(t *testing.T) {
	svc := newService()
	owner := kernel.UserID("user-a")
	ctx := context.Background()

	addNode(t, svc, owner, "a")
	addNode(t, svc, owner, "b")
	addEdge(t, svc, owner, "a", "b")

	if err := svc.RemoveNode(ctx, owner, "b"); err != nil {
		t.Fatalf("remove node: %v", err)
	}

	result, err := svc.Query(ctx, owner, graph.TraversalQuery{StartIDs: []string{"a"}, MaxDepth: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("dangling edge survived node removal: %d nodes", len(result.Nodes))
	}
}

func TestClearMemoryRefsKeepsNodes(t *testing.T) {
	svc := newService()
	owner := kernel.UserID("user-a")
	ctx := context.Background()

	ref := "memory-123"
	if _, err := svc.AddNode(ctx, owner, graphsrv.AddNodeRequest{ID: "n", Type: "entity", MemoryRef: &ref}); err != nil {
		t.Fatalf("add node: %v", err)
	}

	if err := svc.ClearMemoryRefs(ctx, owner, ref); err != nil {
		t.Fatalf("clear refs: %v", err)
	}

	result, err := svc.Query(ctx, owner, graph.TraversalQuery{StartIDs: []string{"n"}, MaxDepth: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Nodes) != 1 {
		t.Fatal("node must survive reference clearing")
	}
	if result.Nodes[0].MemoryRef != nil {
		t.Fatal("memory reference should be cleared")
	}
}
