// Package oauth2infra persists OAuth2 clients, codes, and tokens through
// the storage adapter.
package oauth2infra

import (
	"context"
	"sync"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/oauth2"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage"
)

const (
	clientsTable = "oauth_clients"
	codesTable   = "oauth_authorization_codes"
	tokensTable  = "oauth_tokens"
)

// ============================================================================
// Clients
// ============================================================================

type BackendClientRepository struct {
	backend storage.Backend
}

func NewBackendClientRepository(backend storage.Backend) *BackendClientRepository {
	return &BackendClientRepository{backend: backend}
}

func (r *BackendClientRepository) Save(ctx context.Context, client oauth2.Client) error {
	row := storage.Row{
		ID: client.ClientID,
		Fields: map[string]any{
			"secret_hash":                client.SecretHash,
			"name":                       client.Name,
			"redirect_uris":              client.RedirectURIs,
			"grant_types":                client.GrantTypes,
			"response_types":             client.ResponseTypes,
			"scope":                      client.Scope,
			"token_endpoint_auth_method": client.TokenEndpointAuthMethod,
			"created_at":                 client.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := r.backend.Upsert(ctx, clientsTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save oauth2 client", errx.TypeInternal)
	}
	return nil
}

func (r *BackendClientRepository) FindByID(ctx context.Context, clientID string) (*oauth2.Client, error) {
	row, err := r.backend.Get(ctx, clientsTable, clientID)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil, oauth2.ErrClientNotFound()
		}
		return nil, err
	}
	c := clientFromRow(*row)
	return &c, nil
}

func (r *BackendClientRepository) List(ctx context.Context) ([]oauth2.Client, error) {
	rows, _, err := r.backend.Query(ctx, clientsTable, storage.QuerySpec{
		Order: []storage.Order{{Field: "created_at"}},
	})
	if err != nil {
		return nil, err
	}
	clients := make([]oauth2.Client, len(rows))
	for i, row := range rows {
		clients[i] = clientFromRow(row)
	}
	return clients, nil
}

func (r *BackendClientRepository) Delete(ctx context.Context, clientID string) error {
	err := r.backend.Delete(ctx, clientsTable, clientID)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return oauth2.ErrClientNotFound()
		}
	}
	return err
}

// ============================================================================
// Authorization codes
// ============================================================================

type BackendCodeRepository struct {
	backend storage.Backend

	// consumeMu makes Consume's read-then-delete atomic for backends
	// without native single-statement delete-returning.
	consumeMu sync.Mutex
}

func NewBackendCodeRepository(backend storage.Backend) *BackendCodeRepository {
	return &BackendCodeRepository{backend: backend}
}

func (r *BackendCodeRepository) Save(ctx context.Context, code oauth2.AuthCode) error {
	row := storage.Row{
		ID: code.Code,
		Fields: map[string]any{
			"client_id":             code.ClientID,
			"user_id":               code.UserID.String(),
			"redirect_uri":          code.RedirectURI,
			"scope":                 code.Scope,
			"code_challenge":        code.CodeChallenge,
			"code_challenge_method": code.CodeChallengeMethod,
			"auth_time":             code.AuthTime.UTC().Format(time.RFC3339Nano),
			"expires_at":            code.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := r.backend.Put(ctx, codesTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save authorization code", errx.TypeInternal)
	}
	return nil
}

func (r *BackendCodeRepository) Consume(ctx context.Context, code string) (*oauth2.AuthCode, error) {
	r.consumeMu.Lock()
	defer r.consumeMu.Unlock()

	row, err := r.backend.Get(ctx, codesTable, code)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil, oauth2.ErrInvalidGrant()
		}
		return nil, err
	}
	if err := r.backend.Delete(ctx, codesTable, code); err != nil {
		return nil, err
	}
	c := codeFromRow(*row)
	return &c, nil
}

func (r *BackendCodeRepository) DeleteExpired(ctx context.Context) error {
	cutoff := time.Now().UTC().Format(time.RFC3339Nano)
	rows, _, err := r.backend.Query(ctx, codesTable, storage.QuerySpec{
		Predicate: storage.Range("expires_at", nil, cutoff),
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.backend.Delete(ctx, codesTable, row.ID); err != nil {
			var e *errx.Error
			if errx.As(err, &e) && e.Type == errx.TypeNotFound {
				continue
			}
			return err
		}
	}
	return nil
}

// ============================================================================
// Tokens
// ============================================================================

type BackendTokenRepository struct {
	backend storage.Backend
}

func NewBackendTokenRepository(backend storage.Backend) *BackendTokenRepository {
	return &BackendTokenRepository{backend: backend}
}

func (r *BackendTokenRepository) Save(ctx context.Context, token oauth2.Token) error {
	if err := r.backend.Upsert(ctx, tokensTable, token.AccessToken, tokenRow(token)); err != nil {
		return errx.Wrap(err, "failed to save token", errx.TypeInternal)
	}
	return nil
}

func (r *BackendTokenRepository) FindByAccess(ctx context.Context, accessToken string) (*oauth2.Token, error) {
	row, err := r.backend.Get(ctx, tokensTable, accessToken)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil, oauth2.ErrTokenNotFound()
		}
		return nil, err
	}
	t := tokenFromRow(*row)
	return &t, nil
}

func (r *BackendTokenRepository) FindByRefresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	rows, _, err := r.backend.Query(ctx, tokensTable, storage.QuerySpec{
		Predicate: storage.Eq("refresh_token", refreshToken),
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, oauth2.ErrTokenNotFound()
	}
	t := tokenFromRow(rows[0])
	return &t, nil
}

func (r *BackendTokenRepository) RevokeAccess(ctx context.Context, accessToken string) error {
	t, err := r.FindByAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.AccessRevokedAt = &now
	return r.Save(ctx, *t)
}

func (r *BackendTokenRepository) RevokeRefresh(ctx context.Context, refreshToken string) error {
	t, err := r.FindByRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.RefreshRevokedAt = &now
	return r.Save(ctx, *t)
}

func (r *BackendTokenRepository) RevokeChain(ctx context.Context, chainID string) error {
	rows, _, err := r.backend.Query(ctx, tokensTable, storage.QuerySpec{
		Predicate: storage.Eq("chain_id", chainID),
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		t := tokenFromRow(row)
		t.Revoked = true
		if err := r.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Converters
// ============================================================================

func clientFromRow(row storage.Row) oauth2.Client {
	f := row.Fields
	return oauth2.Client{
		ClientID:                row.ID,
		SecretHash:              fieldString(f, "secret_hash"),
		Name:                    fieldString(f, "name"),
		RedirectURIs:            fieldStringSlice(f, "redirect_uris"),
		GrantTypes:              fieldStringSlice(f, "grant_types"),
		ResponseTypes:           fieldStringSlice(f, "response_types"),
		Scope:                   fieldString(f, "scope"),
		TokenEndpointAuthMethod: fieldString(f, "token_endpoint_auth_method"),
		CreatedAt:               fieldTime(f, "created_at"),
	}
}

func codeFromRow(row storage.Row) oauth2.AuthCode {
	f := row.Fields
	return oauth2.AuthCode{
		Code:                row.ID,
		ClientID:            fieldString(f, "client_id"),
		UserID:              kernel.UserID(fieldString(f, "user_id")),
		RedirectURI:         fieldString(f, "redirect_uri"),
		Scope:               fieldString(f, "scope"),
		CodeChallenge:       fieldString(f, "code_challenge"),
		CodeChallengeMethod: fieldString(f, "code_challenge_method"),
		AuthTime:            fieldTime(f, "auth_time"),
		ExpiresAt:           fieldTime(f, "expires_at"),
	}
}

func tokenRow(t oauth2.Token) storage.Row {
	return storage.Row{
		ID: t.AccessToken,
		Fields: map[string]any{
			"refresh_token":      t.RefreshToken,
			"chain_id":           t.ChainID,
			"client_id":          t.ClientID,
			"user_id":            t.UserID.String(),
			"scope":              t.Scope,
			"issued_at":          t.IssuedAt.UTC().Format(time.RFC3339Nano),
			"expires_in":         t.ExpiresIn,
			"revoked":            t.Revoked,
			"access_revoked_at":  timeValue(t.AccessRevokedAt),
			"refresh_revoked_at": timeValue(t.RefreshRevokedAt),
		},
	}
}

func tokenFromRow(row storage.Row) oauth2.Token {
	f := row.Fields
	t := oauth2.Token{
		AccessToken:  row.ID,
		RefreshToken: fieldString(f, "refresh_token"),
		ChainID:      fieldString(f, "chain_id"),
		ClientID:     fieldString(f, "client_id"),
		UserID:       kernel.UserID(fieldString(f, "user_id")),
		Scope:        fieldString(f, "scope"),
		IssuedAt:     fieldTime(f, "issued_at"),
		ExpiresIn:    fieldInt(f, "expires_in"),
		Revoked:      fieldBool(f, "revoked"),
	}
	if v := fieldString(f, "access_revoked_at"); v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t.AccessRevokedAt = &ts
		}
	}
	if v := fieldString(f, "refresh_revoked_at"); v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t.RefreshRevokedAt = &ts
		}
	}
	return t
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func fieldString(f map[string]any, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

func fieldInt(f map[string]any, key string) int {
	switch v := f[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func fieldBool(f map[string]any, key string) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return false
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

func fieldStringSlice(f map[string]any, key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
