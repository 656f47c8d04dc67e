package memstore

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/kernel"
)

// MemoryRepository defines the contract for memory persistence.
type MemoryRepository interface {
	Save(ctx context.Context, m Memory) error
	FindByID(ctx context.Context, id string) (*Memory, error)
	FindByKey(ctx context.Context, owner kernel.UserID, agentName, key string) (*Memory, error)
	List(ctx context.Context, owner kernel.UserID, filter ListFilter, page kernel.PaginationOptions) (kernel.Paginated[Memory], error)
	Delete(ctx context.Context, id string) error

	// MarkAccessed increments access_count and sets last_accessed_at to at.
	MarkAccessed(ctx context.Context, id string, at time.Time) error

	// SetNeedsReindex flips the reconciliation flag.
	SetNeedsReindex(ctx context.Context, id string, needs bool) error

	// FindNeedsReindex returns memories awaiting vector reconciliation.
	FindNeedsReindex(ctx context.Context, limit int) ([]Memory, error)

	// FindEvictable returns working-scope memories idle since before cutoff.
	FindEvictable(ctx context.Context, owner kernel.UserID, cutoff time.Time, limit int) ([]Memory, error)

	Stats(ctx context.Context, owner kernel.UserID) (*Stats, error)
}

// UserDirectory is the slice of the identity module the memory store needs:
// rejecting writes authored for a user that does not exist.
type UserDirectory interface {
	UserExists(ctx context.Context, id kernel.UserID) (bool, error)
}

// ReindexEnqueuer schedules background vector reconciliation for a memory
// whose inline upsert failed.
type ReindexEnqueuer interface {
	EnqueueReindex(ctx context.Context, memoryID string, owner kernel.UserID) error
}

// RefClearer clears graph-node references to a deleted memory. The nodes
// themselves are kept; only the dangling reference is removed.
type RefClearer interface {
	ClearMemoryRefs(ctx context.Context, owner kernel.UserID, memoryID string) error
}
