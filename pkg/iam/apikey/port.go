package apikey

import (
	"context"

	"github.com/aimemory/platform/pkg/kernel"
)

type APIKeyRepository interface {
	Save(ctx context.Context, key APIKey) error
	FindByID(ctx context.Context, id string, owner kernel.UserID) (*APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	FindByOwner(ctx context.Context, owner kernel.UserID) ([]*APIKey, error)
	Delete(ctx context.Context, id string, owner kernel.UserID) error
	UpdateLastUsed(ctx context.Context, id string) error
}
