package config

import "time"

// IAMConfig groups every identity, session, and credential concern.
type IAMConfig struct {
	JWT      JWTConfig
	Session  SessionConfig
	OAuth    OAuthIdPConfig
	OAuth2   OAuth2ServerConfig
	APIKey   APIKeyConfig
}

// JWTConfig holds the secret that keys the HMAC behind CSRF tokens. Issuer
// and TTL are loaded but not read anywhere else.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// SessionConfig configures the cookie-backed session store.
type SessionConfig struct {
	CookieName   string
	TTL          time.Duration
	Secure       bool
	CookieDomain string
}

// OAuthIdPConfig points at the external identity provider used for login.
type OAuthIdPConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthorizeURL string
	TokenURL     string
	Issuer       string
	Audience     string
	StateTTL     time.Duration
}

// OAuth2ServerConfig configures the tokens this server itself issues to
// third-party clients.
type OAuth2ServerConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
}

// APIKeyConfig configures generated API keys.
type APIKeyConfig struct {
	Prefix      string
	TokenLength int
}

func loadIAMConfig() IAMConfig {
	return IAMConfig{
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "aimemory"),
			TTL:    getEnvDuration("JWT_TTL", 10*time.Minute),
		},
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "aim_session"),
			TTL:          getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			Secure:       getEnvBool("SESSION_COOKIE_SECURE", true),
			CookieDomain: getEnv("SESSION_COOKIE_DOMAIN", ""),
		},
		OAuth: OAuthIdPConfig{
			ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("OAUTH_REDIRECT_URI", ""),
			AuthorizeURL: getEnv("OAUTH_AUTHORIZE_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			Issuer:       getEnv("OAUTH_ISSUER", "https://accounts.google.com"),
			Audience:     getEnv("OAUTH_AUDIENCE", getEnv("OAUTH_CLIENT_ID", "")),
			StateTTL:     getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute),
		},
		OAuth2: OAuth2ServerConfig{
			AccessTokenTTL:  getEnvDuration("OAUTH2_ACCESS_TOKEN_TTL", time.Hour),
			RefreshTokenTTL: getEnvDuration("OAUTH2_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			AuthCodeTTL:     getEnvDuration("OAUTH2_AUTH_CODE_TTL", 10*time.Minute),
		},
		APIKey: APIKeyConfig{
			Prefix:      getEnv("API_KEY_PREFIX", "kg_"),
			TokenLength: getEnvInt("API_KEY_TOKEN_LENGTH", 32),
		},
	}
}

// VaultConfig holds the process-wide secret that encrypts stored provider
// credentials. The key must be exactly 32 bytes.
type VaultConfig struct {
	Key string
}

func loadVaultConfig() VaultConfig {
	return VaultConfig{
		Key: getEnv("API_KEY_SECRET", ""),
	}
}
