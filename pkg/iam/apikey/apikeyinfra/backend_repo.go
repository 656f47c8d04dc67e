package apikeyinfra

import (
	"context"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage"
)

const apiKeysTable = "api_keys"

// BackendAPIKeyRepository implements APIKeyRepository over the storage
// adapter; the embedded deployment uses this instead of Postgres.
type BackendAPIKeyRepository struct {
	backend storage.Backend
}

func NewBackendAPIKeyRepository(backend storage.Backend) apikey.APIKeyRepository {
	return &BackendAPIKeyRepository{backend: backend}
}

func (r *BackendAPIKeyRepository) Save(ctx context.Context, key apikey.APIKey) error {
	row := storage.Row{
		ID: key.ID,
		Fields: map[string]any{
			"key_hash":      key.KeyHash,
			"key_prefix":    key.KeyPrefix,
			"owner_user_id": key.OwnerUserID.String(),
			"name":          key.Name,
			"scopes":        key.Scopes,
			"created_at":    key.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at":    key.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"last_used_at":  timeValue(key.LastUsedAt),
			"revoked_at":    timeValue(key.RevokedAt),
			"expires_at":    timeValue(key.ExpiresAt),
		},
	}
	if err := r.backend.Upsert(ctx, apiKeysTable, row.ID, row); err != nil {
		return errx.Wrap(err, "failed to save API key", errx.TypeInternal)
	}
	return nil
}

func (r *BackendAPIKeyRepository) FindByID(ctx context.Context, id string, owner kernel.UserID) (*apikey.APIKey, error) {
	row, err := r.backend.Get(ctx, apiKeysTable, id)
	if err != nil {
		return nil, apikey.ErrAPIKeyNotFound()
	}
	key := keyFromRow(*row)
	if key.OwnerUserID != owner {
		return nil, apikey.ErrAPIKeyNotFound()
	}
	return &key, nil
}

func (r *BackendAPIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	rows, _, err := r.backend.Query(ctx, apiKeysTable, storage.QuerySpec{
		Predicate: storage.Eq("key_hash", keyHash),
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apikey.ErrAPIKeyNotFound()
	}
	key := keyFromRow(rows[0])
	return &key, nil
}

func (r *BackendAPIKeyRepository) FindByOwner(ctx context.Context, owner kernel.UserID) ([]*apikey.APIKey, error) {
	rows, _, err := r.backend.Query(ctx, apiKeysTable, storage.QuerySpec{
		Predicate: storage.Eq("owner_user_id", owner.String()),
		Order:     []storage.Order{{Field: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	keys := make([]*apikey.APIKey, len(rows))
	for i, row := range rows {
		k := keyFromRow(row)
		keys[i] = &k
	}
	return keys, nil
}

func (r *BackendAPIKeyRepository) Delete(ctx context.Context, id string, owner kernel.UserID) error {
	if _, err := r.FindByID(ctx, id, owner); err != nil {
		return err
	}
	return r.backend.Delete(ctx, apiKeysTable, id)
}

func (r *BackendAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	row, err := r.backend.Get(ctx, apiKeysTable, id)
	if err != nil {
		return apikey.ErrAPIKeyNotFound()
	}
	key := keyFromRow(*row)
	now := time.Now().UTC()
	key.LastUsedAt = &now
	return r.Save(ctx, key)
}

func keyFromRow(row storage.Row) apikey.APIKey {
	f := row.Fields
	key := apikey.APIKey{
		ID:          row.ID,
		KeyHash:     fieldString(f, "key_hash"),
		KeyPrefix:   fieldString(f, "key_prefix"),
		OwnerUserID: kernel.UserID(fieldString(f, "owner_user_id")),
		Name:        fieldString(f, "name"),
		Scopes:      fieldStringSlice(f, "scopes"),
		CreatedAt:   fieldTime(f, "created_at"),
		UpdatedAt:   fieldTime(f, "updated_at"),
	}
	key.LastUsedAt = fieldTimePtr(f, "last_used_at")
	key.RevokedAt = fieldTimePtr(f, "revoked_at")
	key.ExpiresAt = fieldTimePtr(f, "expires_at")
	return key
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

func fieldTimePtr(f map[string]any, key string) *time.Time {
	if v := fieldString(f, key); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &t
		}
	}
	return nil
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
