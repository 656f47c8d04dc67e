// Package iam (Identity and Access Management) provides authentication,
// authorization, and credential management for the memory platform.
//
// # Overview
//
// The iam package is organized into several sub-packages that work together:
//
//   - iam/identity — login against the external IdP, users, sessions, CSRF,
//     and the unified auth middleware
//   - iam/oauth2   — the authorization server this platform runs for
//     third-party clients: codes, PKCE, tokens, rotation
//   - iam/apikey   — API key generation, validation, and management
//   - iam/vault    — encrypted storage of third-party provider credentials
//   - iam/rbac     — role and scope checks shared by every surface
//   - iam/scopes   — scope definitions and role groupings
//
// # Architecture
//
// The package follows a layered, domain-driven architecture:
//
//	HTTP Handler  →  Service Layer  →  Repository Interface  →  Infrastructure (storage adapter / Postgres / Redis)
//
// Each sub-domain exposes its own error registry (e.g., "IDENTITY",
// "OAUTH2", "APIKEY", "VAULT"), domain entities with rich methods, and
// repository interfaces.
//
// # Authentication Methods
//
// Three credentials are accepted, in precedence order:
//
//  1. Session cookie — set after OAuth login against the external identity
//     provider. HTTP-only, secure, same-site; state-changing requests must
//     also carry the X-CSRF-Token synchronizer header.
//
//  2. OAuth2 access token — opaque bearer token issued by this server's own
//     authorization endpoint to registered clients (authorization-code
//     grant with PKCE; public clients must use PKCE).
//
//  3. API key — long-lived bearer credential for machine-to-machine use.
//     Stored hashed; the plaintext is shown exactly once at creation.
//
// # Roles
//
// Three roles, totally ordered: admin > user > read_only. The first user
// ever provisioned becomes admin; every later signup is a plain user, and
// only an admin can change roles afterwards. Reads of own data require
// read_only, mutations of own data require user, and cross-user access or
// configuration changes require admin.
//
// # Scopes
//
// Scopes narrow what a given credential may do without touching the role:
// "memory:read", "memory:write", "graph:read", "graph:write",
// "search:read", "apikeys:manage", "vault:manage", "admin". The wildcard
// "*" grants full access. See iam/scopes for groupings.
//
// # Endpoint Reference
//
// ## Login & Sessions (identityapi)
//
//	GET  /auth/login            — redirect to the identity provider
//	GET  /auth/callback         — complete login, set the session cookie
//	GET  /auth/me               — authenticated principal
//	GET  /auth/csrf             — synchronizer token for cookie flows
//	POST /auth/logout           — revoke the session, clear the cookie
//	GET  /auth/users            — list accounts (admin)
//	PUT  /auth/users/:id/role   — change a role (admin, audited)
//
// ## Authorization Server (oauth2api)
//
//	GET  /oauth/authorize   — issue a single-use code for a logged-in user
//	POST /oauth/token       — exchange code or refresh token (RFC 6749 wire shape)
//	POST /oauth/revoke      — revoke a token (RFC 7009)
//	POST /oauth/introspect  — token state for authenticated clients (RFC 7662)
//	POST /oauth/clients     — register a client (admin, audited)
//	GET  /oauth/clients     — list registrations (admin)
//
// Refresh tokens rotate on every use; presenting a rotated-out refresh
// token again revokes the whole token chain.
//
// ## API Keys (apikeyapi)
//
//	GET    /api-keys      — list own keys (hashes and secrets never returned)
//	POST   /api-keys      — create; response carries the plaintext exactly once
//	DELETE /api-keys/:id  — revoke permanently
//
// ## External Secrets (vaultapi — admin only)
//
//	GET    /external-api-keys         — list names and tags, never values
//	POST   /external-api-keys         — store a credential encrypted at rest
//	PUT    /external-api-keys/:name   — replace a credential
//	DELETE /external-api-keys/:name   — remove a credential
//	POST   /external-api-keys/rotate  — re-encrypt everything under a new key
//
// # Error Response Format
//
// All errors follow the errx structured format:
//
//	{
//	  "code":    "IDENTITY.SESSION_INVALID",
//	  "message": "Session is invalid, expired, or revoked",
//	  "type":    "AUTHORIZATION",
//	  "details": { ... }
//	}
//
// The OAuth2 token-family endpoints are the one exception: they answer in
// the RFC 6749 error vocabulary ("invalid_grant", "invalid_client", ...)
// so standard client libraries interoperate.
//
// # Infrastructure Dependencies
//
// Required:
//   - the storage adapter (embedded or Postgres) — users, sessions,
//     oauth_clients, oauth_authorization_codes, oauth_tokens, api_keys,
//     external_api_keys, audit_logs
//
// Optional:
//   - Redis — session cache, per-key usage counters, login-state storage
//     in multi-node deployments
//
// # Background Cleanup
//
// The iamcontainer starts a periodic sweeper that drops expired sessions
// and stale authorization codes.
package iam
