package apikeysrv_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeyinfra"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeysrv"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage/cachemem"
	"github.com/aimemory/platform/pkg/storage/storagemem"
)

type allUsers struct{}

func (allUsers) UserExists(context.Context, kernel.UserID) (bool, error) { return true, nil }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Event) {}

func newService() *apikeysrv.APIKeyService {
	return apikeysrv.NewAPIKeyService(
		apikeyinfra.NewBackendAPIKeyRepository(storagemem.New(nil, "")),
		allUsers{},
		cachemem.New(),
		nopRecorder{},
	)
}

func ownerCtx(id string) *kernel.AuthContext {
	uid := kernel.UserID(id)
	return &kernel.AuthContext{UserID: &uid, Email: id + "@example.com", Role: kernel.RoleUser}
}

func TestAPIKeyLifecycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	owner := ownerCtx("user-a")

	created, err := svc.CreateAPIKey(ctx, owner, apikey.CreateAPIKeyRequest{Name: "ci-bot"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(created.SecretKey, "kg_") {
		t.Fatalf("unexpected key format: %q", created.SecretKey)
	}
	if created.APIKey.KeyHash == created.SecretKey {
		t.Fatal("plaintext must never equal the stored hash")
	}

	// Verification succeeds with the plaintext.
	key, err := svc.ValidateAPIKey(ctx, created.SecretKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if key.OwnerUserID != "user-a" {
		t.Fatalf("wrong owner: %s", key.OwnerUserID)
	}

	// Revoke, then verification fails.
	if err := svc.RevokeAPIKey(ctx, owner, created.APIKey.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateAPIKey(ctx, created.SecretKey); err == nil {
		t.Fatal("revoked key must not validate")
	}
}

func TestWrongKeyRejected(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	created, err := svc.CreateAPIKey(ctx, ownerCtx("user-a"), apikey.CreateAPIKeyRequest{Name: "k"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same length, different content: hash differs, must fail.
	tampered := created.SecretKey[:len(created.SecretKey)-1]
	if strings.HasSuffix(created.SecretKey, "0") {
		tampered += "1"
	} else {
		tampered += "0"
	}
	if _, err := svc.ValidateAPIKey(ctx, tampered); err == nil {
		t.Fatal("tampered key must not validate")
	}

	if _, err := svc.ValidateAPIKey(ctx, "not-even-our-format"); err == nil {
		t.Fatal("malformed key must not validate")
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	days := 1
	created, err := svc.CreateAPIKey(ctx, ownerCtx("user-a"), apikey.CreateAPIKeyRequest{
		Name:        "short-lived",
		ExpiresDays: &days,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.APIKey.ExpiresAt == nil {
		t.Fatal("expected an expiry")
	}
	if created.APIKey.ExpiresAt.Before(time.Now().UTC()) {
		t.Fatal("expiry should be in the future")
	}

	// Still valid today.
	if _, err := svc.ValidateAPIKey(ctx, created.SecretKey); err != nil {
		t.Fatalf("fresh key must validate: %v", err)
	}
}

func TestListScopedToOwner(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.CreateAPIKey(ctx, ownerCtx("user-a"), apikey.CreateAPIKeyRequest{Name: "a1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateAPIKey(ctx, ownerCtx("user-b"), apikey.CreateAPIKeyRequest{Name: "b1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	listA, err := svc.ListAPIKeys(ctx, "user-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listA.Total != 1 || listA.APIKeys[0].Name != "a1" {
		t.Fatalf("owner scoping broken: %+v", listA)
	}
}
