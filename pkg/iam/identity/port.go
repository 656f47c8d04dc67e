package identity

import (
	"context"

	"github.com/aimemory/platform/pkg/kernel"
)

// UserRepository defines the contract for user persistence.
type UserRepository interface {
	Save(ctx context.Context, user User) error
	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, page kernel.PaginationOptions) (kernel.Paginated[User], error)
}

// SessionRepository defines the contract for session persistence.
type SessionRepository interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, token string) (*Session, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID kernel.UserID) error
	DeleteExpired(ctx context.Context) error
}

// IdentityProvider is the external IdP contract: build the redirect, then
// turn a returned authorization code into validated identity claims.
type IdentityProvider interface {
	AuthorizeURL(state, nonce string) string
	Exchange(ctx context.Context, code, expectedNonce string) (*IdentityClaims, error)
}
