// Package audit records security-sensitive actions as append-only events.
// Values never land in the log in plaintext; callers hash them first.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/aimemory/platform/pkg/kernel"
)

// Actions recorded across the platform.
const (
	ActionLogin            = "auth.login"
	ActionLogout           = "auth.logout"
	ActionRoleChange       = "auth.role_change"
	ActionAPIKeyCreate     = "apikey.create"
	ActionAPIKeyRevoke     = "apikey.revoke"
	ActionOAuthClientReg   = "oauth2.client_register"
	ActionSecretCreate     = "vault.secret_create"
	ActionSecretUpdate     = "vault.secret_update"
	ActionSecretDelete     = "vault.secret_delete"
	ActionSecretRotate     = "vault.rotate"
	ActionMemoryGC         = "memory.gc"
)

// Event is one audit row. Old/NewValueHash carry hashes only — never the
// values themselves.
type Event struct {
	ActorEmail   string         `json:"actor_email"`
	ActorUserID  kernel.UserID  `json:"actor_user_id"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource"`
	OldValueHash string         `json:"old_value_hash,omitempty"`
	NewValueHash string         `json:"new_value_hash,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Recorder appends audit events. Implementations must never fail a caller's
// request path; recording errors are swallowed and logged.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// HashValue produces the storable fingerprint of a sensitive value.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// MultiRecorder fans one event out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, event Event) {
	for _, r := range m {
		r.Record(ctx, event)
	}
}
