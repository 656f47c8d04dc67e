// Package oauth2srv implements the authorization server: code issuance,
// the token endpoint with PKCE, refresh rotation, and revocation.
package oauth2srv

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/oauth2"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/google/uuid"
)

type OAuth2Service struct {
	clients oauth2.ClientRepository
	codes   oauth2.CodeRepository
	tokens  oauth2.TokenRepository
	auditor audit.Recorder
	cfg     config.OAuth2ServerConfig
}

func NewOAuth2Service(
	clients oauth2.ClientRepository,
	codes oauth2.CodeRepository,
	tokens oauth2.TokenRepository,
	auditor audit.Recorder,
	cfg config.OAuth2ServerConfig,
) *OAuth2Service {
	return &OAuth2Service{
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		auditor: auditor,
		cfg:     cfg,
	}
}

// ============================================================================
// Client registration
// ============================================================================

// RegisterClientRequest describes a new client. When the auth method is
// "none" the client is public and receives no secret.
type RegisterClientRequest struct {
	Name                    string   `json:"name"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegisterClientResponse returns the plaintext secret exactly once.
type RegisterClientResponse struct {
	Client       oauth2.Client `json:"client"`
	ClientSecret string        `json:"client_secret,omitempty"`
}

// RegisterClient creates a client registration; admin-gated at the edge.
func (s *OAuth2Service) RegisterClient(ctx context.Context, actor *kernel.AuthContext, req RegisterClientRequest) (*RegisterClientResponse, error) {
	if req.Name == "" {
		return nil, errx.Validation("client name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, errx.Validation("at least one redirect_uri is required")
	}

	method := req.TokenEndpointAuthMethod
	switch method {
	case "":
		method = oauth2.AuthMethodSecretBasic
	case oauth2.AuthMethodSecretBasic, oauth2.AuthMethodSecretPost, oauth2.AuthMethodNone:
	default:
		return nil, errx.Validation("unsupported token_endpoint_auth_method")
	}

	client := oauth2.Client{
		ClientID:                uuid.NewString(),
		Name:                    req.Name,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: method,
		CreatedAt:               time.Now().UTC(),
	}

	var plaintextSecret string
	if method != oauth2.AuthMethodNone {
		secret, err := randomToken(32)
		if err != nil {
			return nil, errx.Internal("failed to generate client secret")
		}
		plaintextSecret = secret
		client.SecretHash = hashSecret(secret)
	}

	if err := s.clients.Save(ctx, client); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:   actor.Email,
		ActorUserID:  *actor.UserID,
		Action:       audit.ActionOAuthClientReg,
		Resource:     "oauth_client:" + client.ClientID,
		NewValueHash: audit.HashValue(client.Name),
	})

	return &RegisterClientResponse{Client: client, ClientSecret: plaintextSecret}, nil
}

// ListClients enumerates registrations; admin-gated at the edge.
func (s *OAuth2Service) ListClients(ctx context.Context) ([]oauth2.Client, error) {
	return s.clients.List(ctx)
}

// ============================================================================
// Authorization endpoint
// ============================================================================

// AuthorizeRequest is the validated query of GET /oauth/authorize.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// IssueCode validates the authorization request for an authenticated user
// and mints a single-use code.
func (s *OAuth2Service) IssueCode(ctx context.Context, userID kernel.UserID, req AuthorizeRequest) (*oauth2.AuthCode, error) {
	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.ResponseType != "code" {
		return nil, errx.Validation("response_type must be code")
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, oauth2.ErrInvalidRedirect().WithDetail("redirect_uri", req.RedirectURI)
	}

	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			req.CodeChallengeMethod = oauth2.PKCEMethodPlain
		}
		if req.CodeChallengeMethod != oauth2.PKCEMethodS256 && req.CodeChallengeMethod != oauth2.PKCEMethodPlain {
			return nil, errx.Validation("unsupported code_challenge_method")
		}
	} else if client.Public() {
		return nil, oauth2.ErrPKCERequired()
	}

	value, err := randomToken(32)
	if err != nil {
		return nil, errx.Internal("failed to generate authorization code")
	}

	now := time.Now().UTC()
	code := oauth2.AuthCode{
		Code:                value,
		ClientID:            client.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            now,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
	}
	if err := s.codes.Save(ctx, code); err != nil {
		return nil, err
	}
	return &code, nil
}

// ============================================================================
// Token endpoint
// ============================================================================

// TokenRequest is the parsed form of POST /oauth/token.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
}

// TokenResponse is the wire shape of a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Exchange handles both grant types of the token endpoint.
func (s *OAuth2Service) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(ctx, req)
	case "refresh_token":
		return s.refresh(ctx, req)
	default:
		return nil, oauth2.ErrUnsupportedGrant().WithDetail("grant_type", req.GrantType)
	}
}

func (s *OAuth2Service) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Consume(ctx, req.Code)
	if err != nil {
		return nil, oauth2.ErrInvalidGrant()
	}

	now := time.Now().UTC()
	switch {
	case code.Expired(now):
		return nil, oauth2.ErrInvalidGrant().WithDetail("reason", "code expired")
	case code.ClientID != client.ClientID:
		return nil, oauth2.ErrInvalidGrant().WithDetail("reason", "code issued to another client")
	case code.RedirectURI != req.RedirectURI:
		return nil, oauth2.ErrInvalidGrant().WithDetail("reason", "redirect_uri mismatch")
	}

	if client.Public() && code.CodeChallenge == "" {
		return nil, oauth2.ErrPKCERequired()
	}
	if !code.VerifyPKCE(req.CodeVerifier) {
		return nil, oauth2.ErrPKCEMismatch()
	}

	return s.mint(ctx, client.ClientID, code.UserID, code.Scope, uuid.NewString())
}

func (s *OAuth2Service) refresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.FindByRefresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, oauth2.ErrInvalidGrant()
	}
	if token.ClientID != client.ClientID {
		return nil, oauth2.ErrInvalidGrant().WithDetail("reason", "token issued to another client")
	}

	// A revoked refresh token presented again is a stolen-token signal:
	// kill the entire chain.
	if !token.RefreshValid() {
		if err := s.tokens.RevokeChain(ctx, token.ChainID); err != nil {
			logx.WithError(err).Error("oauth2: chain revocation failed")
		}
		return nil, oauth2.ErrInvalidGrant().WithDetail("reason", "refresh token reuse detected")
	}

	// Rotation: the presented refresh token dies, a fresh pair is minted
	// on the same chain.
	if err := s.tokens.RevokeRefresh(ctx, req.RefreshToken); err != nil {
		return nil, err
	}

	return s.mint(ctx, token.ClientID, token.UserID, token.Scope, token.ChainID)
}

func (s *OAuth2Service) mint(ctx context.Context, clientID string, userID kernel.UserID, scope, chainID string) (*TokenResponse, error) {
	access, err := randomToken(32)
	if err != nil {
		return nil, errx.Internal("failed to generate access token")
	}
	refresh, err := randomToken(32)
	if err != nil {
		return nil, errx.Internal("failed to generate refresh token")
	}

	token := oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		ChainID:      chainID,
		ClientID:     clientID,
		UserID:       userID,
		Scope:        scope,
		IssuedAt:     time.Now().UTC(),
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}
	if err := s.tokens.Save(ctx, token); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// authenticateClient enforces the client's registered token-endpoint auth
// method. Public clients present no secret; confidential clients must.
func (s *OAuth2Service) authenticateClient(ctx context.Context, req TokenRequest) (*oauth2.Client, error) {
	if req.ClientID == "" {
		return nil, oauth2.ErrInvalidClient().WithDetail("reason", "missing client_id")
	}
	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, oauth2.ErrInvalidClient()
	}

	if client.Public() {
		if req.ClientSecret != "" {
			return nil, oauth2.ErrInvalidClient().WithDetail("reason", "public client must not send a secret")
		}
		return client, nil
	}

	if req.ClientSecret == "" || !hmac.Equal([]byte(hashSecret(req.ClientSecret)), []byte(client.SecretHash)) {
		return nil, oauth2.ErrInvalidClient()
	}
	return client, nil
}

// ============================================================================
// Revocation & introspection
// ============================================================================

// Revoke invalidates a presented token, trying access first, then refresh.
// Per RFC 7009 an unknown token is not an error.
func (s *OAuth2Service) Revoke(ctx context.Context, req TokenRequest, tokenValue string) error {
	if _, err := s.authenticateClient(ctx, req); err != nil {
		return err
	}

	if err := s.tokens.RevokeAccess(ctx, tokenValue); err == nil {
		return nil
	}
	if err := s.tokens.RevokeRefresh(ctx, tokenValue); err == nil {
		return nil
	}
	return nil
}

// Introspection is the answer of the introspect endpoint.
type Introspection struct {
	Active    bool          `json:"active"`
	ClientID  string        `json:"client_id,omitempty"`
	UserID    kernel.UserID `json:"sub,omitempty"`
	Scope     string        `json:"scope,omitempty"`
	ExpiresAt int64         `json:"exp,omitempty"`
}

// Introspect reports a token's state to an authenticated client.
func (s *OAuth2Service) Introspect(ctx context.Context, req TokenRequest, tokenValue string) (*Introspection, error) {
	if _, err := s.authenticateClient(ctx, req); err != nil {
		return nil, err
	}

	token, err := s.tokens.FindByAccess(ctx, tokenValue)
	if err != nil || !token.AccessValid(time.Now().UTC()) {
		return &Introspection{Active: false}, nil
	}
	return &Introspection{
		Active:    true,
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Scope:     token.Scope,
		ExpiresAt: token.IssuedAt.Add(time.Duration(token.ExpiresIn) * time.Second).Unix(),
	}, nil
}

// ResolveAccessToken satisfies the auth middleware's token authenticator.
func (s *OAuth2Service) ResolveAccessToken(ctx context.Context, tokenValue string) (kernel.UserID, []string, error) {
	token, err := s.tokens.FindByAccess(ctx, tokenValue)
	if err != nil {
		return "", nil, err
	}
	if !token.AccessValid(time.Now().UTC()) {
		return "", nil, oauth2.ErrTokenNotFound()
	}

	var scopes []string
	if token.Scope != "" {
		scopes = strings.Fields(token.Scope)
	}
	return token.UserID, scopes, nil
}

// CleanupExpiredCodes drops stale authorization codes; the background
// sweeper calls this.
func (s *OAuth2Service) CleanupExpiredCodes(ctx context.Context) error {
	return s.codes.DeleteExpired(ctx)
}

// ============================================================================
// Helpers
// ============================================================================

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
