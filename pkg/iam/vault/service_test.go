package vault_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/iam/vault"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/storage/storagemem"
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Event) {}

const (
	oldKey   = "0123456789abcdef0123456789abcdef"
	newKey   = "fedcba9876543210fedcba9876543210"
	wrongKey = "deadbeefdeadbeefdeadbeefdeadbeef"
)

func adminCtx() *kernel.AuthContext {
	id := kernel.UserID("admin")
	return &kernel.AuthContext{UserID: &id, Email: "admin@example.com", Role: kernel.RoleAdmin}
}

func newService(t *testing.T, key string) *vault.VaultService {
	t.Helper()
	cipher, err := vault.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return vault.NewVaultService(storagemem.New(nil, ""), cipher, nopRecorder{})
}

func TestKeyLengthEnforced(t *testing.T) {
	if _, err := vault.NewCipher("too-short"); err == nil {
		t.Fatal("short key must be rejected")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	svc := newService(t, oldKey)
	ctx := context.Background()

	stored, err := svc.Set(ctx, adminCtx(), "openai_api_key", "openai", "sk-plaintext-value")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if strings.Contains(string(stored.EncryptedValue), "sk-plaintext-value") {
		t.Fatal("ciphertext must not contain the plaintext")
	}

	revealed, err := svc.Reveal(ctx, "openai_api_key")
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if revealed != "sk-plaintext-value" {
		t.Fatalf("round trip mismatch: %q", revealed)
	}
}

func TestListOmitsValues(t *testing.T) {
	svc := newService(t, oldKey)
	ctx := context.Background()

	if _, err := svc.Set(ctx, adminCtx(), "search_key", "serp", "super-secret"); err != nil {
		t.Fatalf("set: %v", err)
	}

	secrets, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(secrets) != 1 || secrets[0].KeyName != "search_key" {
		t.Fatalf("unexpected listing: %+v", secrets)
	}
}

func TestRotateReencryptsEverything(t *testing.T) {
	svc := newService(t, oldKey)
	ctx := context.Background()

	if _, err := svc.Set(ctx, adminCtx(), "k1", "p", "value-one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := svc.Set(ctx, adminCtx(), "k2", "p", "value-two"); err != nil {
		t.Fatalf("set: %v", err)
	}

	rotated, err := svc.Rotate(ctx, adminCtx(), oldKey, newKey)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated != 2 {
		t.Fatalf("expected 2 rotated, got %d", rotated)
	}

	// The service now decrypts with the new key.
	for name, want := range map[string]string{"k1": "value-one", "k2": "value-two"} {
		got, err := svc.Reveal(ctx, name)
		if err != nil {
			t.Fatalf("reveal %s after rotate: %v", name, err)
		}
		if got != want {
			t.Fatalf("reveal %s: got %q want %q", name, got, want)
		}
	}
}

func TestRotateWithWrongOldKeyFails(t *testing.T) {
	svc := newService(t, oldKey)
	ctx := context.Background()

	if _, err := svc.Set(ctx, adminCtx(), "k1", "p", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Neither the claimed old key nor the target key opens the entries.
	if _, err := svc.Rotate(ctx, adminCtx(), wrongKey, newKey); err == nil {
		t.Fatal("rotation with the wrong old key must fail")
	}

	// Original secret still decrypts with the original key.
	if got, err := svc.Reveal(ctx, "k1"); err != nil || got != "value" {
		t.Fatalf("secret damaged by failed rotation: %q %v", got, err)
	}
}

func TestRotateIsRerunSafe(t *testing.T) {
	svc := newService(t, oldKey)
	ctx := context.Background()

	if _, err := svc.Set(ctx, adminCtx(), "k1", "p", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Running the same rotation twice must succeed both times: entries
	// already sealed under the new key are accepted and resealed.
	for i := 0; i < 2; i++ {
		if _, err := svc.Rotate(ctx, adminCtx(), oldKey, newKey); err != nil {
			t.Fatalf("rotation run %d: %v", i+1, err)
		}
	}

	if got, err := svc.Reveal(ctx, "k1"); err != nil || got != "value" {
		t.Fatalf("secret lost across repeated rotation: %q %v", got, err)
	}
}

func TestDeleteSecret(t *testing.T) {
	svc := newService(t, oldKey)
	ctx := context.Background()

	if _, err := svc.Set(ctx, adminCtx(), "gone", "p", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := svc.Delete(ctx, adminCtx(), "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Reveal(ctx, "gone"); err == nil {
		t.Fatal("deleted secret must not reveal")
	}
}
