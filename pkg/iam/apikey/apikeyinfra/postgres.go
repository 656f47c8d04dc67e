// Package apikeyinfra provides API key persistence: a native Postgres
// repository for the networked backend and a storage-adapter repository for
// the embedded one.
package apikeyinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresAPIKeyRepository is the Postgres implementation of APIKeyRepository.
type PostgresAPIKeyRepository struct {
	db *sqlx.DB
}

func NewPostgresAPIKeyRepository(db *sqlx.DB) apikey.APIKeyRepository {
	return &PostgresAPIKeyRepository{
		db: db,
	}
}

// Save inserts or updates an API key.
func (r *PostgresAPIKeyRepository) Save(ctx context.Context, key apikey.APIKey) error {
	exists, err := r.keyExists(ctx, key.ID)
	if err != nil {
		return errx.Wrap(err, "failed to check API key existence", errx.TypeInternal)
	}

	if exists {
		return r.update(ctx, key)
	}
	return r.create(ctx, key)
}

func (r *PostgresAPIKeyRepository) create(ctx context.Context, key apikey.APIKey) error {
	query := `
		INSERT INTO api_keys (
			id, key_hash, key_prefix, owner_user_id, name, scopes,
			created_at, updated_at, last_used_at, revoked_at, expires_at
		) VALUES (
			:id, :key_hash, :key_prefix, :owner_user_id, :name, :scopes,
			:created_at, :updated_at, :last_used_at, :revoked_at, :expires_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, toPersistence(key))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return apikey.ErrAPIKeyInvalid().WithDetail("reason", "key hash already exists")
		}
		return errx.Wrap(err, "failed to create API key", errx.TypeInternal).
			WithDetail("key_id", key.ID)
	}
	return nil
}

func (r *PostgresAPIKeyRepository) update(ctx context.Context, key apikey.APIKey) error {
	query := `
		UPDATE api_keys SET
			name = :name,
			scopes = :scopes,
			updated_at = :updated_at,
			last_used_at = :last_used_at,
			revoked_at = :revoked_at,
			expires_at = :expires_at
		WHERE id = :id AND owner_user_id = :owner_user_id`

	result, err := r.db.NamedExecContext(ctx, query, toPersistence(key))
	if err != nil {
		return errx.Wrap(err, "failed to update API key", errx.TypeInternal).
			WithDetail("key_id", key.ID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on update", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return apikey.ErrAPIKeyNotFound()
	}

	return nil
}

// FindByID looks a key up by id within its owner's scope.
func (r *PostgresAPIKeyRepository) FindByID(ctx context.Context, id string, owner kernel.UserID) (*apikey.APIKey, error) {
	var key apiKeyPersistence
	query := `SELECT * FROM api_keys WHERE id = $1 AND owner_user_id = $2`
	err := r.db.GetContext(ctx, &key, query, id, owner.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrAPIKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by ID", errx.TypeInternal)
	}
	domainKey := toDomain(key)
	return &domainKey, nil
}

// FindByHash looks a key up by its SHA-256 hash; this is the verification
// path, so it is owner-agnostic.
func (r *PostgresAPIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	var key apiKeyPersistence
	query := `SELECT * FROM api_keys WHERE key_hash = $1`
	err := r.db.GetContext(ctx, &key, query, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrAPIKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by hash", errx.TypeInternal)
	}
	domainKey := toDomain(key)
	return &domainKey, nil
}

// FindByOwner lists every key the user owns, newest first.
func (r *PostgresAPIKeyRepository) FindByOwner(ctx context.Context, owner kernel.UserID) ([]*apikey.APIKey, error) {
	var keys []apiKeyPersistence
	query := `SELECT * FROM api_keys WHERE owner_user_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &keys, query, owner.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to find API keys by owner", errx.TypeInternal)
	}
	return toDomainSlice(keys), nil
}

// Delete removes a key permanently.
func (r *PostgresAPIKeyRepository) Delete(ctx context.Context, id string, owner kernel.UserID) error {
	query := `DELETE FROM api_keys WHERE id = $1 AND owner_user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, owner.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete API key", errx.TypeInternal)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on delete", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return apikey.ErrAPIKeyNotFound()
	}
	return nil
}

// UpdateLastUsed stamps the key's last verification time.
func (r *PostgresAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errx.Wrap(err, "failed to update last used time for API key", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAPIKeyRepository) keyExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM api_keys WHERE id = $1)`
	err := r.db.GetContext(ctx, &exists, query, id)
	if err != nil {
		return false, errx.Wrap(err, "failed to check key existence", errx.TypeInternal)
	}
	return exists, nil
}

// apiKeyPersistence handles database-specific types.
type apiKeyPersistence struct {
	ID          string         `db:"id"`
	KeyHash     string         `db:"key_hash"`
	KeyPrefix   string         `db:"key_prefix"`
	OwnerUserID string         `db:"owner_user_id"`
	Name        string         `db:"name"`
	Scopes      pq.StringArray `db:"scopes"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	LastUsedAt  *time.Time     `db:"last_used_at"`
	RevokedAt   *time.Time     `db:"revoked_at"`
	ExpiresAt   *time.Time     `db:"expires_at"`
}

// toPersistence converts the domain model to the persistence model.
func toPersistence(key apikey.APIKey) apiKeyPersistence {
	return apiKeyPersistence{
		ID:          key.ID,
		KeyHash:     key.KeyHash,
		KeyPrefix:   key.KeyPrefix,
		OwnerUserID: key.OwnerUserID.String(),
		Name:        key.Name,
		Scopes:      key.Scopes,
		CreatedAt:   key.CreatedAt,
		UpdatedAt:   key.UpdatedAt,
		LastUsedAt:  key.LastUsedAt,
		RevokedAt:   key.RevokedAt,
		ExpiresAt:   key.ExpiresAt,
	}
}

// toDomain converts the persistence model back to the domain model.
func toDomain(p apiKeyPersistence) apikey.APIKey {
	return apikey.APIKey{
		ID:          p.ID,
		KeyHash:     p.KeyHash,
		KeyPrefix:   p.KeyPrefix,
		OwnerUserID: kernel.UserID(p.OwnerUserID),
		Name:        p.Name,
		Scopes:      p.Scopes,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		LastUsedAt:  p.LastUsedAt,
		RevokedAt:   p.RevokedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}

func toDomainSlice(pKeys []apiKeyPersistence) []*apikey.APIKey {
	domainKeys := make([]*apikey.APIKey, len(pKeys))
	for i, p := range pKeys {
		k := toDomain(p)
		domainKeys[i] = &k
	}
	return domainKeys
}
