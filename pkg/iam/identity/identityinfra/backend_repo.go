// Package identityinfra persists users and sessions through the storage
// adapter, with a cache read-through for session lookups on the hot path.
package identityinfra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/identity"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
)

const (
	usersTable    = "users"
	sessionsTable = "sessions"
)

// ============================================================================
// Users
// ============================================================================

type BackendUserRepository struct {
	backend storage.Backend
}

func NewBackendUserRepository(backend storage.Backend) *BackendUserRepository {
	return &BackendUserRepository{backend: backend}
}

func (r *BackendUserRepository) Save(ctx context.Context, user identity.User) error {
	row := storage.Row{
		ID: user.ID.String(),
		Fields: map[string]any{
			"email":         user.Email,
			"name":          user.Name,
			"avatar_url":    user.AvatarURL,
			"role":          user.Role.String(),
			"created_at":    user.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at":    user.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"last_login_at": user.LastLoginAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := r.backend.Upsert(ctx, usersTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save user", errx.TypeInternal).
			WithDetail("user_id", user.ID.String())
	}
	return nil
}

func (r *BackendUserRepository) FindByID(ctx context.Context, id kernel.UserID) (*identity.User, error) {
	row, err := r.backend.Get(ctx, usersTable, id.String())
	if err != nil {
		return nil, mapUserErr(err)
	}
	u := userFromRow(*row)
	return &u, nil
}

func (r *BackendUserRepository) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	rows, _, err := r.backend.Query(ctx, usersTable, storage.QuerySpec{
		Predicate: storage.Eq("email", email),
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, identity.ErrUserNotFound()
	}
	u := userFromRow(rows[0])
	return &u, nil
}

func (r *BackendUserRepository) Count(ctx context.Context) (int, error) {
	_, total, err := r.backend.Query(ctx, usersTable, storage.QuerySpec{Limit: 1})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *BackendUserRepository) List(ctx context.Context, page kernel.PaginationOptions) (kernel.Paginated[identity.User], error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize < 1 {
		page.PageSize = 50
	}
	rows, total, err := r.backend.Query(ctx, usersTable, storage.QuerySpec{
		Order:  []storage.Order{{Field: "created_at"}},
		Limit:  page.PageSize,
		Offset: (page.Page - 1) * page.PageSize,
	})
	if err != nil {
		return kernel.Paginated[identity.User]{}, err
	}
	items := make([]identity.User, len(rows))
	for i, row := range rows {
		items[i] = userFromRow(row)
	}
	return kernel.NewPaginated(items, page.Page, page.PageSize, total), nil
}

func mapUserErr(err error) error {
	var e *errx.Error
	if errx.As(err, &e) && e.Type == errx.TypeNotFound {
		return identity.ErrUserNotFound()
	}
	return err
}

func userFromRow(row storage.Row) identity.User {
	f := row.Fields
	return identity.User{
		ID:          kernel.UserID(row.ID),
		Email:       fieldString(f, "email"),
		Name:        fieldString(f, "name"),
		AvatarURL:   fieldString(f, "avatar_url"),
		Role:        kernel.Role(fieldString(f, "role")),
		CreatedAt:   fieldTime(f, "created_at"),
		UpdatedAt:   fieldTime(f, "updated_at"),
		LastLoginAt: fieldTime(f, "last_login_at"),
	}
}

// ============================================================================
// Sessions
// ============================================================================

type BackendSessionRepository struct {
	backend storage.Backend
	cache   storage.Cache
}

// NewBackendSessionRepository builds the session store. cache may be nil;
// lookups then always hit the backend.
func NewBackendSessionRepository(backend storage.Backend, cache storage.Cache) *BackendSessionRepository {
	return &BackendSessionRepository{backend: backend, cache: cache}
}

func sessionCacheKey(token string) string { return "session:" + token }

func (r *BackendSessionRepository) Save(ctx context.Context, session identity.Session) error {
	row := storage.Row{
		ID: session.Token,
		Fields: map[string]any{
			"user_id":    session.UserID.String(),
			"created_at": session.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"revoked_at": timeValue(session.RevokedAt),
			"ip_address": session.IPAddress,
			"user_agent": session.UserAgent,
		},
	}
	if err := r.backend.Upsert(ctx, sessionsTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save session", errx.TypeInternal)
	}
	r.cachePut(ctx, session)
	return nil
}

func (r *BackendSessionRepository) Find(ctx context.Context, token string) (*identity.Session, error) {
	if s, ok := r.cacheGet(ctx, token); ok {
		return s, nil
	}

	row, err := r.backend.Get(ctx, sessionsTable, token)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil, identity.ErrSessionInvalid()
		}
		return nil, err
	}
	s := sessionFromRow(*row)
	r.cachePut(ctx, s)
	return &s, nil
}

func (r *BackendSessionRepository) Revoke(ctx context.Context, token string) error {
	row, err := r.backend.Get(ctx, sessionsTable, token)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil // revoking a missing session is a no-op
		}
		return err
	}
	s := sessionFromRow(*row)
	now := time.Now().UTC()
	s.RevokedAt = &now

	if err := r.backend.Upsert(ctx, sessionsTable, token, storage.Row{
		ID:     token,
		Fields: sessionFields(s),
	}); err != nil {
		return err
	}
	r.cacheDelete(ctx, token)
	return nil
}

func (r *BackendSessionRepository) RevokeAllForUser(ctx context.Context, userID kernel.UserID) error {
	rows, _, err := r.backend.Query(ctx, sessionsTable, storage.QuerySpec{
		Predicate: storage.Eq("user_id", userID.String()),
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.Revoke(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *BackendSessionRepository) DeleteExpired(ctx context.Context) error {
	cutoff := time.Now().UTC().Format(time.RFC3339Nano)
	rows, _, err := r.backend.Query(ctx, sessionsTable, storage.QuerySpec{
		Predicate: storage.Range("expires_at", nil, cutoff),
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.backend.Delete(ctx, sessionsTable, row.ID); err != nil {
			var e *errx.Error
			if errx.As(err, &e) && e.Type == errx.TypeNotFound {
				continue
			}
			return err
		}
		r.cacheDelete(ctx, row.ID)
	}
	return nil
}

func (r *BackendSessionRepository) cacheGet(ctx context.Context, token string) (*identity.Session, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, ok, err := r.cache.Get(ctx, sessionCacheKey(token))
	if err != nil || !ok {
		return nil, false
	}
	var s identity.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	s.Token = token
	return &s, true
}

func (r *BackendSessionRepository) cachePut(ctx context.Context, s identity.Session) {
	if r.cache == nil {
		return
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, sessionCacheKey(s.Token), raw, ttl); err != nil {
		logx.WithError(err).Debug("identity: session cache write failed")
	}
}

func (r *BackendSessionRepository) cacheDelete(ctx context.Context, token string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, sessionCacheKey(token)); err != nil {
		logx.WithError(err).Debug("identity: session cache delete failed")
	}
}

func sessionFields(s identity.Session) map[string]any {
	return map[string]any{
		"user_id":    s.UserID.String(),
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"revoked_at": timeValue(s.RevokedAt),
		"ip_address": s.IPAddress,
		"user_agent": s.UserAgent,
	}
}

func sessionFromRow(row storage.Row) identity.Session {
	f := row.Fields
	s := identity.Session{
		Token:     row.ID,
		UserID:    kernel.UserID(fieldString(f, "user_id")),
		CreatedAt: fieldTime(f, "created_at"),
		ExpiresAt: fieldTime(f, "expires_at"),
		IPAddress: fieldString(f, "ip_address"),
		UserAgent: fieldString(f, "user_agent"),
	}
	if revoked := fieldString(f, "revoked_at"); revoked != "" {
		if t, err := time.Parse(time.RFC3339Nano, revoked); err == nil {
			s.RevokedAt = &t
		}
	}
	return s
}

// ============================================================================
// Shared field readers
// ============================================================================

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
