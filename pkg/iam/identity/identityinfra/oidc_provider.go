package identityinfra

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/iam/identity"
	"github.com/golang-jwt/jwt/v5"
)

// OIDCProvider talks to the external identity provider: authorization
// redirect, code exchange, and id_token validation against the provider's
// published signing keys.
type OIDCProvider struct {
	cfg        config.OAuthIdPConfig
	httpClient *http.Client

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	keysFetched time.Time
}

const jwksRefreshInterval = time.Hour

func NewOIDCProvider(cfg config.OAuthIdPConfig) *OIDCProvider {
	return &OIDCProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// AuthorizeURL builds the IdP redirect carrying state and nonce.
func (p *OIDCProvider) AuthorizeURL(state, nonce string) string {
	q := url.Values{}
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("nonce", nonce)
	return p.cfg.AuthorizeURL + "?" + q.Encode()
}

type tokenResponse struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// Exchange swaps the authorization code for tokens and validates the
// returned identity token: issuer, audience, signature, expiry, and nonce.
func (p *OIDCProvider) Exchange(ctx context.Context, code, expectedNonce string) (*identity.IdentityClaims, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("redirect_uri", p.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, identity.ErrExchangeFailed().WithDetail("error", err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, identity.ErrExchangeFailed().WithDetail("error", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, identity.ErrExchangeFailed().WithDetail("error", err.Error())
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, identity.ErrExchangeFailed().WithDetail("status", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || tokens.Error != "" {
		return nil, identity.ErrExchangeFailed().
			WithDetail("status", resp.StatusCode).
			WithDetail("provider_error", tokens.Error)
	}
	if tokens.IDToken == "" {
		return nil, identity.ErrIDTokenInvalid().WithDetail("reason", "no id_token in response")
	}

	return p.validateIDToken(ctx, tokens.IDToken, expectedNonce)
}

type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Nonce   string `json:"nonce"`
	jwt.RegisteredClaims
}

func (p *OIDCProvider) validateIDToken(ctx context.Context, raw, expectedNonce string) (*identity.IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &idTokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return p.signingKey(ctx, kid)
	},
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithAudience(p.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, identity.ErrIDTokenInvalid().WithDetail("error", err.Error())
	}

	claims, ok := token.Claims.(*idTokenClaims)
	if !ok || !token.Valid {
		return nil, identity.ErrIDTokenInvalid()
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return nil, identity.ErrNonceMismatch()
	}
	if claims.Subject == "" {
		return nil, identity.ErrIDTokenInvalid().WithDetail("reason", "empty subject")
	}

	return &identity.IdentityClaims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
		Nonce:     claims.Nonce,
	}, nil
}

// ============================================================================
// JWKS
// ============================================================================

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// signingKey resolves a key id against the provider's JWKS endpoint,
// refreshing the cached set when the kid is unknown or the cache is stale.
func (p *OIDCProvider) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.mu.RLock()
	key, ok := p.keys[kid]
	fresh := time.Since(p.keysFetched) < jwksRefreshInterval
	p.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := p.refreshKeys(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok = p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key with kid %q", kid)
	}
	return key, nil
}

func (p *OIDCProvider) refreshKeys(ctx context.Context) error {
	jwksURL := strings.TrimSuffix(p.cfg.Issuer, "/") + "/.well-known/jwks.json"
	// Google publishes its set at a fixed non-issuer path.
	if strings.Contains(p.cfg.Issuer, "accounts.google.com") {
		jwksURL = "https://www.googleapis.com/oauth2/v3/certs"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var doc jwksDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	p.mu.Lock()
	p.keys = keys
	p.keysFetched = time.Now()
	p.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
