package oauth2

import "context"

// ClientRepository defines the contract for client persistence.
type ClientRepository interface {
	Save(ctx context.Context, client Client) error
	FindByID(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context) ([]Client, error)
	Delete(ctx context.Context, clientID string) error
}

// CodeRepository defines the contract for authorization codes. Consume
// atomically returns and deletes a code so it can never be exchanged twice.
type CodeRepository interface {
	Save(ctx context.Context, code AuthCode) error
	Consume(ctx context.Context, code string) (*AuthCode, error)
	DeleteExpired(ctx context.Context) error
}

// TokenRepository defines the contract for issued tokens.
type TokenRepository interface {
	Save(ctx context.Context, token Token) error
	FindByAccess(ctx context.Context, accessToken string) (*Token, error)
	FindByRefresh(ctx context.Context, refreshToken string) (*Token, error)
	RevokeAccess(ctx context.Context, accessToken string) error
	RevokeRefresh(ctx context.Context, refreshToken string) error

	// RevokeChain flips the global revoked flag on every token sharing
	// the chain id. Triggered by refresh-token reuse.
	RevokeChain(ctx context.Context, chainID string) error
}
