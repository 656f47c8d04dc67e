package vault

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage"
)

const secretsTable = "external_api_keys"

// VaultService is the admin-only credential store. Role enforcement lives
// at the edge; every mutation is audited here.
type VaultService struct {
	backend storage.Backend
	cipher  *Cipher
	auditor audit.Recorder
}

func NewVaultService(backend storage.Backend, cipher *Cipher, auditor audit.Recorder) *VaultService {
	return &VaultService{backend: backend, cipher: cipher, auditor: auditor}
}

// Set creates or replaces a secret.
func (s *VaultService) Set(ctx context.Context, actor *kernel.AuthContext, keyName, providerTag, plaintext string) (*Secret, error) {
	if keyName == "" {
		return nil, ErrEmptyName()
	}

	sealed, err := s.cipher.Seal([]byte(plaintext))
	if err != nil {
		return nil, errx.Wrap(err, "failed to encrypt secret", errx.TypeInternal)
	}

	action := audit.ActionSecretCreate
	var oldHash string
	if existing, err := s.find(ctx, keyName); err == nil {
		action = audit.ActionSecretUpdate
		oldHash = audit.HashValue(base64.StdEncoding.EncodeToString(existing.EncryptedValue))
	}

	secret := Secret{
		KeyName:        keyName,
		ProviderTag:    providerTag,
		EncryptedValue: sealed,
		UpdatedBy:      *actor.UserID,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.save(ctx, secret); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:   actor.Email,
		ActorUserID:  *actor.UserID,
		Action:       action,
		Resource:     "external_secret:" + keyName,
		OldValueHash: oldHash,
		NewValueHash: audit.HashValue(plaintext),
	})

	return &secret, nil
}

// Reveal decrypts one secret for immediate use. Callers must not retain or
// log the returned value.
func (s *VaultService) Reveal(ctx context.Context, keyName string) (string, error) {
	secret, err := s.find(ctx, keyName)
	if err != nil {
		return "", err
	}
	plaintext, err := s.cipher.Open(secret.EncryptedValue)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// List enumerates secrets without their values.
func (s *VaultService) List(ctx context.Context) ([]Secret, error) {
	rows, _, err := s.backend.Query(ctx, secretsTable, storage.QuerySpec{
		Order: []storage.Order{{Field: "key_name"}},
	})
	if err != nil {
		return nil, err
	}
	secrets := make([]Secret, len(rows))
	for i, row := range rows {
		secrets[i] = secretFromRow(row)
	}
	return secrets, nil
}

// Delete removes a secret.
func (s *VaultService) Delete(ctx context.Context, actor *kernel.AuthContext, keyName string) error {
	if _, err := s.find(ctx, keyName); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, secretsTable, keyName); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:  actor.Email,
		ActorUserID: *actor.UserID,
		Action:      audit.ActionSecretDelete,
		Resource:    "external_secret:" + keyName,
	})
	return nil
}

// Rotate re-encrypts every secret from the old process key to the new one.
// On the networked backend all writes land in one database transaction;
// the embedded backend's transaction is a logical no-op, so rotation is
// also re-run safe: entries already sealed under the new key decrypt with
// it during phase one and are simply resealed again. The service only
// switches to the new key after a successful commit, so a failed rotation
// never strands entries behind a cipher the service no longer holds.
func (s *VaultService) Rotate(ctx context.Context, actor *kernel.AuthContext, oldKey, newKey string) (int, error) {
	oldCipher, err := NewCipher(oldKey)
	if err != nil {
		return 0, err
	}
	newCipher, err := NewCipher(newKey)
	if err != nil {
		return 0, err
	}

	rows, _, err := s.backend.Query(ctx, secretsTable, storage.QuerySpec{})
	if err != nil {
		return 0, err
	}

	// Phase one: re-encrypt everything in memory. A single undecryptable
	// entry aborts the rotation before any write happens. Entries from an
	// interrupted earlier rotation already carry the new key and are
	// accepted too.
	resealed := make([]Secret, 0, len(rows))
	for _, row := range rows {
		secret := secretFromRow(row)

		plaintext, err := oldCipher.Open(secret.EncryptedValue)
		if err != nil {
			plaintext, err = newCipher.Open(secret.EncryptedValue)
			if err != nil {
				return 0, ErrDecryptFailed().WithDetail("key_name", secret.KeyName)
			}
		}
		sealed, err := newCipher.Seal(plaintext)
		if err != nil {
			return 0, errx.Wrap(err, "failed to re-encrypt secret", errx.TypeInternal)
		}

		secret.EncryptedValue = sealed
		secret.UpdatedBy = *actor.UserID
		secret.UpdatedAt = time.Now().UTC()
		resealed = append(resealed, secret)
	}

	// Phase two: persist through the transaction handle so the networked
	// backend commits all rows or none.
	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for _, secret := range resealed {
		if err := tx.Upsert(ctx, secretsTable, secret.KeyName, secretRow(secret)); err != nil {
			_ = tx.Rollback(ctx)
			return 0, errx.Wrap(err, "failed to save rotated secret", errx.TypeInternal).
				WithDetail("key_name", secret.KeyName)
		}
		rotated++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	// The service itself switches to the new key from here on.
	s.cipher = newCipher

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:  actor.Email,
		ActorUserID: *actor.UserID,
		Action:      audit.ActionSecretRotate,
		Resource:    "external_secrets",
		Metadata:    map[string]any{"rotated": rotated},
	})
	return rotated, nil
}

// ============================================================================
// Persistence
// ============================================================================

func secretRow(secret Secret) storage.Row {
	return storage.Row{
		ID: secret.KeyName,
		Fields: map[string]any{
			"key_name":        secret.KeyName,
			"provider_tag":    secret.ProviderTag,
			"encrypted_value": base64.StdEncoding.EncodeToString(secret.EncryptedValue),
			"updated_by":      secret.UpdatedBy.String(),
			"updated_at":      secret.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func (s *VaultService) save(ctx context.Context, secret Secret) error {
	if err := s.backend.Upsert(ctx, secretsTable, secret.KeyName, secretRow(secret)); err != nil {
		return errx.Wrap(err, "failed to save secret", errx.TypeInternal)
	}
	return nil
}

func (s *VaultService) find(ctx context.Context, keyName string) (*Secret, error) {
	row, err := s.backend.Get(ctx, secretsTable, keyName)
	if err != nil {
		var e *errx.Error
		if errx.As(err, &e) && e.Type == errx.TypeNotFound {
			return nil, ErrSecretNotFound()
		}
		return nil, err
	}
	secret := secretFromRow(*row)
	return &secret, nil
}

func secretFromRow(row storage.Row) Secret {
	f := row.Fields
	secret := Secret{
		KeyName:     row.ID,
		ProviderTag: stringField(f, "provider_tag"),
		UpdatedBy:   kernel.UserID(stringField(f, "updated_by")),
	}
	if raw, err := base64.StdEncoding.DecodeString(stringField(f, "encrypted_value")); err == nil {
		secret.EncryptedValue = raw
	}
	if v := stringField(f, "updated_at"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			secret.UpdatedAt = t
		}
	}
	return secret
}

func stringField(f map[string]any, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}
