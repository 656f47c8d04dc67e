// Package identitysrv implements login, user provisioning, and session
// lifecycle.
package identitysrv

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/identity"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
)

type IdentityService struct {
	users    identity.UserRepository
	sessions identity.SessionRepository
	idp      identity.IdentityProvider
	state    storage.Cache
	auditor  audit.Recorder
	cfg      config.IAMConfig

	// bootstrapMu makes the first-user-admin decision atomic: exactly one
	// login can observe the empty users table.
	bootstrapMu sync.Mutex
}

func NewIdentityService(
	users identity.UserRepository,
	sessions identity.SessionRepository,
	idp identity.IdentityProvider,
	state storage.Cache,
	auditor audit.Recorder,
	cfg config.IAMConfig,
) *IdentityService {
	return &IdentityService{
		users:    users,
		sessions: sessions,
		idp:      idp,
		state:    state,
		auditor:  auditor,
		cfg:      cfg,
	}
}

// ============================================================================
// Login flow
// ============================================================================

type pendingLogin struct {
	Nonce string `json:"nonce"`
}

// StartLogin issues the state/nonce pair and returns the IdP redirect URL.
func (s *IdentityService) StartLogin(ctx context.Context) (string, error) {
	state, err := randomToken(24)
	if err != nil {
		return "", errx.Internal("failed to generate state")
	}
	nonce, err := randomToken(24)
	if err != nil {
		return "", errx.Internal("failed to generate nonce")
	}

	raw, _ := json.Marshal(pendingLogin{Nonce: nonce})
	if err := s.state.Set(ctx, "oauthstate:"+state, raw, s.cfg.OAuth.StateTTL); err != nil {
		return "", errx.Wrap(err, "failed to store login state", errx.TypeInternal)
	}

	return s.idp.AuthorizeURL(state, nonce), nil
}

// HandleCallback completes the login: state check, code exchange, user
// provisioning, and session issuance.
func (s *IdentityService) HandleCallback(ctx context.Context, code, state, ip, userAgent string) (*identity.User, *identity.Session, error) {
	raw, ok, err := s.state.Get(ctx, "oauthstate:"+state)
	if err != nil || !ok {
		return nil, nil, identity.ErrStateMismatch()
	}
	// One-shot: a replayed state must fail.
	if err := s.state.Delete(ctx, "oauthstate:"+state); err != nil {
		logx.WithError(err).Warn("identity: failed to delete login state")
	}

	var pending pendingLogin
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, nil, identity.ErrStateMismatch()
	}

	claims, err := s.idp.Exchange(ctx, code, pending.Nonce)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.provisionUser(ctx, claims)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:  user.Email,
		ActorUserID: user.ID,
		Action:      audit.ActionLogin,
		Resource:    "session",
		IP:          ip,
		UserAgent:   userAgent,
	})

	return user, session, nil
}

// provisionUser finds or creates the user behind the IdP subject. The very
// first user ever provisioned becomes admin; everyone after is a regular
// user.
func (s *IdentityService) provisionUser(ctx context.Context, claims *identity.IdentityClaims) (*identity.User, error) {
	now := time.Now().UTC()
	userID := kernel.UserID(claims.Subject)

	if existing, err := s.users.FindByID(ctx, userID); err == nil {
		existing.Email = claims.Email
		existing.Name = claims.Name
		existing.AvatarURL = claims.AvatarURL
		existing.LastLoginAt = now
		existing.UpdatedAt = now
		if err := s.users.Save(ctx, *existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()

	// Re-check under the lock: a concurrent first login may have won.
	if existing, err := s.users.FindByID(ctx, userID); err == nil {
		return existing, nil
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}

	role := kernel.RoleUser
	if count == 0 {
		role = kernel.RoleAdmin
		logx.WithField("user_id", userID).Info("identity: first user promoted to admin")
	}

	user := identity.User{
		ID:          userID,
		Email:       claims.Email,
		Name:        claims.Name,
		AvatarURL:   claims.AvatarURL,
		Role:        role,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLoginAt: now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ============================================================================
// Sessions
// ============================================================================

func (s *IdentityService) createSession(ctx context.Context, userID kernel.UserID, ip, userAgent string) (*identity.Session, error) {
	token, err := randomToken(32)
	if err != nil {
		return nil, errx.Internal("failed to generate session token")
	}

	now := time.Now().UTC()
	session := identity.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Session.TTL),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ResolveSession returns the user behind a live session token.
func (s *IdentityService) ResolveSession(ctx context.Context, token string) (*identity.User, error) {
	session, err := s.sessions.Find(ctx, token)
	if err != nil {
		return nil, err
	}
	if !session.Active(time.Now().UTC()) {
		return nil, identity.ErrSessionInvalid()
	}
	return s.users.FindByID(ctx, session.UserID)
}

// Logout revokes one session.
func (s *IdentityService) Logout(ctx context.Context, token, ip string) error {
	session, err := s.sessions.Find(ctx, token)
	if err != nil {
		return nil // already gone
	}

	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}

	if user, err := s.users.FindByID(ctx, session.UserID); err == nil {
		s.auditor.Record(ctx, audit.Event{
			ActorEmail:  user.Email,
			ActorUserID: user.ID,
			Action:      audit.ActionLogout,
			Resource:    "session",
			IP:          ip,
		})
	}
	return nil
}

// RevokeAllSessions logs the user out everywhere.
func (s *IdentityService) RevokeAllSessions(ctx context.Context, userID kernel.UserID) error {
	return s.sessions.RevokeAllForUser(ctx, userID)
}

// CleanupExpired drops expired sessions; the background sweeper calls this.
func (s *IdentityService) CleanupExpired(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}

// ============================================================================
// Users
// ============================================================================

// GetUser returns one user.
func (s *IdentityService) GetUser(ctx context.Context, id kernel.UserID) (*identity.User, error) {
	return s.users.FindByID(ctx, id)
}

// UserExists satisfies the memory store's owner check.
func (s *IdentityService) UserExists(ctx context.Context, id kernel.UserID) (bool, error) {
	_, err := s.users.FindByID(ctx, id)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListUsers enumerates accounts; admin only, enforced at the edge.
func (s *IdentityService) ListUsers(ctx context.Context, page kernel.PaginationOptions) (kernel.Paginated[identity.User], error) {
	return s.users.List(ctx, page)
}

// ChangeRole updates a user's role. Only admins reach this, admins cannot
// change their own role, and every change is audited.
func (s *IdentityService) ChangeRole(ctx context.Context, actor *identity.User, targetID kernel.UserID, role kernel.Role, ip string) (*identity.User, error) {
	if !role.IsValid() {
		return nil, identity.ErrInvalidRole().WithDetail("role", role.String())
	}
	if actor.ID == targetID {
		return nil, identity.ErrSelfDemotion()
	}

	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	oldRole := target.Role
	target.Role = role
	target.UpdatedAt = time.Now().UTC()

	if err := s.users.Save(ctx, *target); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:   actor.Email,
		ActorUserID:  actor.ID,
		Action:       audit.ActionRoleChange,
		Resource:     "user:" + targetID.String(),
		OldValueHash: audit.HashValue(oldRole.String()),
		NewValueHash: audit.HashValue(role.String()),
		IP:           ip,
	})

	return target, nil
}

// ============================================================================
// CSRF
// ============================================================================

// CSRFToken derives the synchronizer token for a session. It is stable for
// the session's lifetime and never stored server-side.
func (s *IdentityService) CSRFToken(sessionToken string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.JWT.Secret))
	mac.Write([]byte("csrf:" + sessionToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCSRF checks a presented synchronizer token in constant time.
func (s *IdentityService) VerifyCSRF(sessionToken, presented string) bool {
	expected := s.CSRFToken(sessionToken)
	return hmac.Equal([]byte(expected), []byte(presented))
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
