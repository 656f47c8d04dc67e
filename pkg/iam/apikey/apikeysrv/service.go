package apikeysrv

import (
	"context"
	"fmt"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
	"github.com/google/uuid"
)

// usageWindow is the rolling retention of per-day usage counters.
const usageWindow = 30 * 24 * time.Hour

// UserDirectory is the slice of identity the key service needs: keys can
// only be minted for users that exist.
type UserDirectory interface {
	UserExists(ctx context.Context, id kernel.UserID) (bool, error)
}

type APIKeyService struct {
	apiKeyRepo apikey.APIKeyRepository
	users      UserDirectory
	cache      storage.Cache
	auditor    audit.Recorder
}

func NewAPIKeyService(
	apiKeyRepo apikey.APIKeyRepository,
	users UserDirectory,
	cache storage.Cache,
	auditor audit.Recorder,
) *APIKeyService {
	return &APIKeyService{
		apiKeyRepo: apiKeyRepo,
		users:      users,
		cache:      cache,
		auditor:    auditor,
	}
}

// CreateAPIKey mints a new key for the owner. The plaintext appears in the
// response and nowhere else, ever.
func (s *APIKeyService) CreateAPIKey(
	ctx context.Context,
	owner *kernel.AuthContext,
	req apikey.CreateAPIKeyRequest,
) (*apikey.CreateAPIKeyResponse, error) {
	if req.Name == "" {
		return nil, apikey.ErrAPIKeyBadName()
	}

	ownerID := *owner.UserID
	if exists, err := s.users.UserExists(ctx, ownerID); err != nil {
		return nil, err
	} else if !exists {
		return nil, apikey.ErrAPIKeyInvalid().WithDetail("reason", "owner does not exist")
	}

	generated, err := apikey.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if req.ExpiresDays != nil && *req.ExpiresDays > 0 {
		expiration := time.Now().UTC().AddDate(0, 0, *req.ExpiresDays)
		expiresAt = &expiration
	}

	now := time.Now().UTC()
	newKey := apikey.APIKey{
		ID:          uuid.NewString(),
		KeyHash:     apikey.HashAPIKey(generated.Key),
		KeyPrefix:   generated.KeyPrefix,
		OwnerUserID: ownerID,
		Name:        req.Name,
		Scopes:      req.Scopes,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
	}

	if err := s.apiKeyRepo.Save(ctx, newKey); err != nil {
		return nil, errx.Wrap(err, "failed to save API key", errx.TypeInternal)
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:   owner.Email,
		ActorUserID:  ownerID,
		Action:       audit.ActionAPIKeyCreate,
		Resource:     "api_key:" + newKey.ID,
		NewValueHash: newKey.KeyHash,
	})

	return &apikey.CreateAPIKeyResponse{
		APIKey:    newKey,
		SecretKey: generated.Key,
		Message:   "Save this key securely. It will not be shown again.",
	}, nil
}

// ListAPIKeys returns the owner's keys.
func (s *APIKeyService) ListAPIKeys(ctx context.Context, owner kernel.UserID) (*apikey.APIKeyListResponse, error) {
	keys, err := s.apiKeyRepo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list API keys", errx.TypeInternal)
	}

	out := make([]apikey.APIKey, 0, len(keys))
	for _, key := range keys {
		out = append(out, *key)
	}
	return &apikey.APIKeyListResponse{APIKeys: out, Total: len(out)}, nil
}

// RevokeAPIKey permanently disables a key.
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, owner *kernel.AuthContext, keyID string) error {
	key, err := s.apiKeyRepo.FindByID(ctx, keyID, *owner.UserID)
	if err != nil {
		return apikey.ErrAPIKeyNotFound()
	}

	key.Revoke()
	if err := s.apiKeyRepo.Save(ctx, *key); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Event{
		ActorEmail:   owner.Email,
		ActorUserID:  *owner.UserID,
		Action:       audit.ActionAPIKeyRevoke,
		Resource:     "api_key:" + key.ID,
		OldValueHash: key.KeyHash,
	})
	return nil
}

// ValidateAPIKey verifies a presented plaintext key: format gate, hash
// lookup, revocation and expiry checks, then best-effort usage bookkeeping.
func (s *APIKeyService) ValidateAPIKey(ctx context.Context, keyString string) (*apikey.APIKey, error) {
	if !apikey.ValidateAPIKeyFormat(keyString) {
		return nil, apikey.ErrAPIKeyInvalid()
	}

	keyHash := apikey.HashAPIKey(keyString)
	key, err := s.apiKeyRepo.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, apikey.ErrAPIKeyNotFound()
	}

	if !key.IsValid() {
		if key.IsExpired() {
			return nil, apikey.ErrAPIKeyExpired()
		}
		return nil, apikey.ErrAPIKeyRevoked()
	}

	if err := s.apiKeyRepo.UpdateLastUsed(ctx, key.ID); err != nil {
		logx.WithError(err).Debug("apikey: last_used bookkeeping failed")
	}
	go s.bumpUsage(context.Background(), keyHash)

	return key, nil
}

// ResolveAPIKey satisfies the auth middleware's API key authenticator.
func (s *APIKeyService) ResolveAPIKey(ctx context.Context, keyString string) (kernel.UserID, []string, error) {
	key, err := s.ValidateAPIKey(ctx, keyString)
	if err != nil {
		return "", nil, err
	}
	return key.OwnerUserID, key.Scopes, nil
}

// bumpUsage increments the per-day counter with a rolling 30-day TTL.
func (s *APIKeyService) bumpUsage(ctx context.Context, keyHash string) {
	if s.cache == nil {
		return
	}
	day := time.Now().UTC().Format("2006-01-02")
	counterKey := fmt.Sprintf("apikey:stats:%s:%s", keyHash, day)
	if _, err := s.cache.Incr(ctx, counterKey, 1, usageWindow); err != nil {
		logx.WithError(err).Debug("apikey: usage counter failed")
	}
}

// UsageForDay reads one day's counter for a key.
func (s *APIKeyService) UsageForDay(ctx context.Context, keyHash string, day time.Time) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	counterKey := fmt.Sprintf("apikey:stats:%s:%s", keyHash, day.UTC().Format("2006-01-02"))
	raw, ok, err := s.cache.Get(ctx, counterKey)
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	for _, b := range raw {
		if b < '0' || b > '9' {
			return 0, nil
		}
		n = n*10 + int64(b-'0')
	}
	return n, nil
}
