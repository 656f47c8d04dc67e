package oauth2srv_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/iam/oauth2"
	"github.com/aimemory/platform/pkg/iam/oauth2/oauth2infra"
	"github.com/aimemory/platform/pkg/iam/oauth2/oauth2srv"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage/storagemem"
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Event) {}

func newService() *oauth2srv.OAuth2Service {
	backend := storagemem.New(nil, "")
	return oauth2srv.NewOAuth2Service(
		oauth2infra.NewBackendClientRepository(backend),
		oauth2infra.NewBackendCodeRepository(backend),
		oauth2infra.NewBackendTokenRepository(backend),
		nopRecorder{},
		config.OAuth2ServerConfig{
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			AuthCodeTTL:     10 * time.Minute,
		},
	)
}

func adminCtx() *kernel.AuthContext {
	id := kernel.UserID("admin")
	return &kernel.AuthContext{UserID: &id, Email: "admin@example.com", Role: kernel.RoleAdmin}
}

func registerPublicClient(t *testing.T, svc *oauth2srv.OAuth2Service) oauth2.Client {
	t.Helper()
	resp, err := svc.RegisterClient(context.Background(), adminCtx(), oauth2srv.RegisterClientRequest{
		Name:                    "cli-tool",
		RedirectURIs:            []string{"http://localhost:9090/callback"},
		Scope:                   "memory:read memory:write",
		TokenEndpointAuthMethod: oauth2.AuthMethodNone,
	})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	if resp.ClientSecret != "" {
		t.Fatal("public client must not receive a secret")
	}
	return resp.Client
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestPKCEHappyPathCodeSingleUseAndRotation(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	client := registerPublicClient(t, svc)

	verifier := "a-very-long-and-random-code-verifier-string"

	code, err := svc.IssueCode(ctx, "user-1", oauth2srv.AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "http://localhost:9090/callback",
		ResponseType:        "code",
		Scope:               "memory:read",
		CodeChallenge:       s256Challenge(verifier),
		CodeChallengeMethod: oauth2.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}

	// Exchange with the right verifier succeeds.
	tokens, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code.Code,
		RedirectURI:  "http://localhost:9090/callback",
		ClientID:     client.ClientID,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}

	// The access token resolves to the user.
	userID, scopes, err := svc.ResolveAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("resolve access: %v", err)
	}
	if userID != "user-1" || len(scopes) != 1 || scopes[0] != "memory:read" {
		t.Fatalf("unexpected principal: %v %v", userID, scopes)
	}

	// Codes are single-use: the same code must never exchange twice.
	if _, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code.Code,
		RedirectURI:  "http://localhost:9090/callback",
		ClientID:     client.ClientID,
		CodeVerifier: verifier,
	}); err == nil {
		t.Fatal("code reuse must fail with invalid_grant")
	}

	// Refresh rotates: the old refresh token dies.
	rotated, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: tokens.RefreshToken,
		ClientID:     client.ClientID,
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == tokens.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}

	// Reusing the dead refresh token revokes the whole chain.
	if _, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: tokens.RefreshToken,
		ClientID:     client.ClientID,
	}); err == nil {
		t.Fatal("revoked refresh reuse must fail")
	}
	if _, _, err := svc.ResolveAccessToken(ctx, rotated.AccessToken); err == nil {
		t.Fatal("chain revocation must kill the rotated access token too")
	}
}

func TestWrongVerifierRejected(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	client := registerPublicClient(t, svc)

	code, err := svc.IssueCode(ctx, "user-1", oauth2srv.AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "http://localhost:9090/callback",
		ResponseType:        "code",
		CodeChallenge:       s256Challenge("correct-verifier"),
		CodeChallengeMethod: oauth2.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}

	if _, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code.Code,
		RedirectURI:  "http://localhost:9090/callback",
		ClientID:     client.ClientID,
		CodeVerifier: "wrong-verifier",
	}); err == nil {
		t.Fatal("wrong verifier must be rejected")
	}
}

func TestPublicClientRequiresPKCE(t *testing.T) {
	svc := newService()
	client := registerPublicClient(t, svc)

	if _, err := svc.IssueCode(context.Background(), "user-1", oauth2srv.AuthorizeRequest{
		ClientID:     client.ClientID,
		RedirectURI:  "http://localhost:9090/callback",
		ResponseType: "code",
	}); err == nil {
		t.Fatal("public client without code_challenge must be rejected")
	}
}

func TestRedirectURIMustMatchRegistrationAndAuthorize(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	client := registerPublicClient(t, svc)

	// Unregistered redirect at authorize time.
	if _, err := svc.IssueCode(ctx, "user-1", oauth2srv.AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "http://evil.example.com/steal",
		ResponseType:        "code",
		CodeChallenge:       s256Challenge("v"),
		CodeChallengeMethod: oauth2.PKCEMethodS256,
	}); err == nil {
		t.Fatal("unregistered redirect_uri must be rejected")
	}

	// Mismatched redirect at token time.
	code, err := svc.IssueCode(ctx, "user-1", oauth2srv.AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "http://localhost:9090/callback",
		ResponseType:        "code",
		CodeChallenge:       s256Challenge("v"),
		CodeChallengeMethod: oauth2.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	if _, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code.Code,
		RedirectURI:  "http://localhost:9090/other",
		ClientID:     client.ClientID,
		CodeVerifier: "v",
	}); err == nil {
		t.Fatal("redirect_uri mismatch at token endpoint must be rejected")
	}
}

func TestConfidentialClientSecretChecked(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	resp, err := svc.RegisterClient(ctx, adminCtx(), oauth2srv.RegisterClientRequest{
		Name:         "server-app",
		RedirectURIs: []string{"https://app.example.com/cb"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.ClientSecret == "" {
		t.Fatal("confidential client must receive a secret once")
	}

	code, err := svc.IssueCode(ctx, "user-1", oauth2srv.AuthorizeRequest{
		ClientID:     resp.Client.ClientID,
		RedirectURI:  "https://app.example.com/cb",
		ResponseType: "code",
	})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}

	if _, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code.Code,
		RedirectURI:  "https://app.example.com/cb",
		ClientID:     resp.Client.ClientID,
		ClientSecret: "wrong-secret",
	}); err == nil {
		t.Fatal("wrong client secret must be rejected")
	}
}

func TestRevokeAccessToken(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	client := registerPublicClient(t, svc)

	code, err := svc.IssueCode(ctx, "user-1", oauth2srv.AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "http://localhost:9090/callback",
		ResponseType:        "code",
		CodeChallenge:       s256Challenge("v"),
		CodeChallengeMethod: oauth2.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	tokens, err := svc.Exchange(ctx, oauth2srv.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code.Code,
		RedirectURI:  "http://localhost:9090/callback",
		ClientID:     client.ClientID,
		CodeVerifier: "v",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	clientAuth := oauth2srv.TokenRequest{ClientID: client.ClientID}
	if err := svc.Revoke(ctx, clientAuth, tokens.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.ResolveAccessToken(ctx, tokens.AccessToken); err == nil {
		t.Fatal("revoked access token must not resolve")
	}
}
