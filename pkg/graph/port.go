package graph

import (
	"context"

	"github.com/aimemory/platform/pkg/kernel"
)

// GraphRepository defines the contract for graph persistence.
type GraphRepository interface {
	SaveNode(ctx context.Context, node Node) error
	FindNode(ctx context.Context, owner kernel.UserID, nodeID string) (*Node, error)
	FindNodes(ctx context.Context, owner kernel.UserID, nodeIDs []string) ([]Node, error)
	DeleteNode(ctx context.Context, owner kernel.UserID, nodeID string) error

	SaveEdge(ctx context.Context, edge Edge) error
	DeleteEdge(ctx context.Context, owner kernel.UserID, src, dst, relType string) error

	// EdgesTouching returns every edge whose src (out), dst (in), or
	// either (both) is one of nodeIDs, for one owner.
	EdgesTouching(ctx context.Context, owner kernel.UserID, nodeIDs []string, direction Direction) ([]Edge, error)

	// DeleteEdgesOfNode removes every edge attached to the node.
	DeleteEdgesOfNode(ctx context.Context, owner kernel.UserID, nodeID string) error

	// FindByMemoryRef returns nodes referencing the given memory.
	FindByMemoryRef(ctx context.Context, owner kernel.UserID, memoryID string) ([]Node, error)
}
