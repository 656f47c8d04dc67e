// Package iamcontainer composes the identity & access bounded context:
// users and sessions, the OAuth2 authorization server, API keys, the
// secret vault, and the unified auth middleware everything else mounts.
package iamcontainer

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeyapi"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeyinfra"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeysrv"
	"github.com/aimemory/platform/pkg/iam/identity"
	"github.com/aimemory/platform/pkg/iam/identity/identityapi"
	"github.com/aimemory/platform/pkg/iam/identity/identityinfra"
	"github.com/aimemory/platform/pkg/iam/identity/identitysrv"
	"github.com/aimemory/platform/pkg/iam/oauth2/oauth2api"
	"github.com/aimemory/platform/pkg/iam/oauth2/oauth2infra"
	"github.com/aimemory/platform/pkg/iam/oauth2/oauth2srv"
	"github.com/aimemory/platform/pkg/iam/vault"
	"github.com/aimemory/platform/pkg/iam/vault/vaultapi"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
	"github.com/jmoiron/sqlx"
)

// ---------------------------------------------------------------------------
// Deps: explicit external dependencies this bounded context requires.
// No hidden globals, no ambient state — everything comes through here.
// ---------------------------------------------------------------------------

type Deps struct {
	Backend storage.Backend
	Cache   storage.Cache
	Cfg     *config.Config
	Auditor audit.Recorder

	// DB is set only for the networked deployment; the API key repository
	// then uses its native Postgres table instead of the generic adapter.
	DB *sqlx.DB

	// IdP may be injected for tests; nil builds the real OIDC provider.
	IdP identity.IdentityProvider
}

// ---------------------------------------------------------------------------
// Container: the public surface of the IAM module.
// Only expose what other modules or cmd/ actually need.
// ---------------------------------------------------------------------------

type Container struct {
	// Services — available for cross-module consumption
	IdentityService *identitysrv.IdentityService
	OAuth2Service   *oauth2srv.OAuth2Service
	APIKeyService   *apikeysrv.APIKeyService
	VaultService    *vault.VaultService

	// Handlers — needed by cmd/ to register routes
	AuthHandlers   *identityapi.AuthHandlers
	OAuth2Handlers *oauth2api.OAuth2Handlers
	APIKeyHandlers *apikeyapi.APIKeyHandlers
	VaultHandlers  *vaultapi.VaultHandlers

	// Middleware — needed by cmd/ to protect route groups
	AuthMiddleware *identity.UnifiedAuthMiddleware
}

// ---------------------------------------------------------------------------
// New: constructs the entire IAM dependency graph.
// Order matters: infra → repos → services → handlers → middleware.
// ---------------------------------------------------------------------------

func New(deps Deps) (*Container, error) {
	logx.Info("Initializing IAM container...")

	c := &Container{}

	// ── Repositories ─────────────────────────────────────────────────────

	userRepo := identityinfra.NewBackendUserRepository(deps.Backend)
	sessionRepo := identityinfra.NewBackendSessionRepository(deps.Backend, deps.Cache)
	clientRepo := oauth2infra.NewBackendClientRepository(deps.Backend)
	codeRepo := oauth2infra.NewBackendCodeRepository(deps.Backend)
	tokenRepo := oauth2infra.NewBackendTokenRepository(deps.Backend)

	var apiKeyRepo apikey.APIKeyRepository
	if deps.DB != nil {
		apiKeyRepo = apikeyinfra.NewPostgresAPIKeyRepository(deps.DB)
		logx.Info("  API keys: native Postgres repository")
	} else {
		apiKeyRepo = apikeyinfra.NewBackendAPIKeyRepository(deps.Backend)
		logx.Info("  API keys: embedded storage repository")
	}

	// ── Infrastructure services ──────────────────────────────────────────

	idp := deps.IdP
	if idp == nil {
		idp = identityinfra.NewOIDCProvider(deps.Cfg.IAM.OAuth)
	}

	apikey.InitAPIKeyConfig(deps.Cfg.IAM.APIKey.Prefix, deps.Cfg.IAM.APIKey.TokenLength)

	cipher, err := vault.NewCipher(deps.Cfg.Vault.Key)
	if err != nil {
		return nil, err
	}

	// ── Domain services ──────────────────────────────────────────────────

	c.IdentityService = identitysrv.NewIdentityService(
		userRepo,
		sessionRepo,
		idp,
		deps.Cache,
		deps.Auditor,
		deps.Cfg.IAM,
	)

	c.OAuth2Service = oauth2srv.NewOAuth2Service(
		clientRepo,
		codeRepo,
		tokenRepo,
		deps.Auditor,
		deps.Cfg.IAM.OAuth2,
	)

	c.APIKeyService = apikeysrv.NewAPIKeyService(
		apiKeyRepo,
		c.IdentityService,
		deps.Cache,
		deps.Auditor,
	)

	c.VaultService = vault.NewVaultService(deps.Backend, cipher, deps.Auditor)

	// ── Handlers ─────────────────────────────────────────────────────────

	c.AuthHandlers = identityapi.NewAuthHandlers(c.IdentityService, deps.Cfg.IAM.Session)
	c.OAuth2Handlers = oauth2api.NewOAuth2Handlers(c.OAuth2Service)
	c.APIKeyHandlers = apikeyapi.NewAPIKeyHandlers(c.APIKeyService)
	c.VaultHandlers = vaultapi.NewVaultHandlers(c.VaultService)

	// ── Middleware ───────────────────────────────────────────────────────

	c.AuthMiddleware = identity.NewUnifiedAuthMiddleware(
		c.IdentityService,
		c.OAuth2Service,
		c.APIKeyService,
		userRepo,
		deps.Cfg.IAM.Session.CookieName,
	)

	logx.Info("IAM container initialized")
	return c, nil
}

// StartBackgroundServices runs the periodic credential cleanup until ctx
// is cancelled: expired sessions and stale authorization codes.
func (c *Container) StartBackgroundServices(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.IdentityService.CleanupExpired(ctx); err != nil {
					logx.WithError(err).Warn("iam: session cleanup failed")
				}
				if err := c.OAuth2Service.CleanupExpiredCodes(ctx); err != nil {
					logx.WithError(err).Warn("iam: auth code cleanup failed")
				}
			}
		}
	}()
	logx.Info("  IAM cleanup service started")
}
