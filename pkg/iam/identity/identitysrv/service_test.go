package identitysrv_test

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/iam/identity"
	"github.com/aimemory/platform/pkg/iam/identity/identityinfra"
	"github.com/aimemory/platform/pkg/iam/identity/identitysrv"
	"github.com/aimemory/platform/pkg/storage/cachemem"
	"github.com/aimemory/platform/pkg/storage/storagemem"
)

// fakeIdP maps authorization codes to identities without any network.
type fakeIdP struct {
	identities map[string]identity.IdentityClaims
}

func (f *fakeIdP) AuthorizeURL(state, nonce string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state) + "&nonce=" + url.QueryEscape(nonce)
}

func (f *fakeIdP) Exchange(_ context.Context, code, expectedNonce string) (*identity.IdentityClaims, error) {
	claims, ok := f.identities[code]
	if !ok {
		return nil, identity.ErrExchangeFailed()
	}
	claims.Nonce = expectedNonce
	return &claims, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Event) {}

func newService(idp *fakeIdP) *identitysrv.IdentityService {
	backend := storagemem.New(nil, "")
	return identitysrv.NewIdentityService(
		identityinfra.NewBackendUserRepository(backend),
		identityinfra.NewBackendSessionRepository(backend, cachemem.New()),
		idp,
		cachemem.New(),
		nopRecorder{},
		config.IAMConfig{
			JWT:     config.JWTConfig{Secret: "test-secret"},
			Session: config.SessionConfig{CookieName: "sid", TTL: time.Hour},
			OAuth:   config.OAuthIdPConfig{StateTTL: 10 * time.Minute},
		},
	)
}

// login walks the full state → callback flow for one code.
func login(t *testing.T, svc *identitysrv.IdentityService, code string) (*identity.User, *identity.Session) {
	t.Helper()
	ctx := context.Background()

	redirect, err := svc.StartLogin(ctx)
	if err != nil {
		t.Fatalf("start login: %v", err)
	}
	parsed, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("bad redirect url: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("redirect carries no state")
	}

	user, session, err := svc.HandleCallback(ctx, code, state, "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	return user, session
}

func seedIdP(n int) *fakeIdP {
	idp := &fakeIdP{identities: make(map[string]identity.IdentityClaims)}
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("code-%d", i)
		idp.identities[code] = identity.IdentityClaims{
			Subject: fmt.Sprintf("subject-%d", i),
			Email:   fmt.Sprintf("user%d@example.com", i),
			Name:    fmt.Sprintf("User %d", i),
		}
	}
	return idp
}

func TestFirstUserBecomesAdmin(t *testing.T) {
	svc := newService(seedIdP(3))

	first, _ := login(t, svc, "code-0")
	if first.Role != "admin" {
		t.Fatalf("first user must be admin, got %s", first.Role)
	}

	second, _ := login(t, svc, "code-1")
	if second.Role != "user" {
		t.Fatalf("second user must be plain user, got %s", second.Role)
	}

	third, _ := login(t, svc, "code-2")
	if third.Role != "user" {
		t.Fatalf("third user must be plain user, got %s", third.Role)
	}
}

func TestRepeatLoginKeepsIdentityAndRole(t *testing.T) {
	svc := newService(seedIdP(1))

	first, _ := login(t, svc, "code-0")
	again, _ := login(t, svc, "code-0")

	if first.ID != again.ID {
		t.Fatal("repeat login must map to the same user")
	}
	if again.Role != "admin" {
		t.Fatalf("role must survive repeat login, got %s", again.Role)
	}
}

func TestStateIsSingleUse(t *testing.T) {
	svc := newService(seedIdP(1))
	ctx := context.Background()

	redirect, err := svc.StartLogin(ctx)
	if err != nil {
		t.Fatalf("start login: %v", err)
	}
	parsed, _ := url.Parse(redirect)
	state := parsed.Query().Get("state")

	if _, _, err := svc.HandleCallback(ctx, "code-0", state, "", ""); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if _, _, err := svc.HandleCallback(ctx, "code-0", state, "", ""); err == nil {
		t.Fatal("replayed state must be rejected")
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc := newService(seedIdP(1))
	ctx := context.Background()

	user, session := login(t, svc, "code-0")

	resolved, err := svc.ResolveSession(ctx, session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatal("session resolves to the wrong user")
	}

	if err := svc.Logout(ctx, session.Token, ""); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.ResolveSession(ctx, session.Token); err == nil {
		t.Fatal("revoked session must not resolve")
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	svc := newService(seedIdP(1))
	_, session := login(t, svc, "code-0")

	token := svc.CSRFToken(session.Token)
	if !svc.VerifyCSRF(session.Token, token) {
		t.Fatal("own csrf token must verify")
	}
	if svc.VerifyCSRF(session.Token, token+"x") {
		t.Fatal("tampered csrf token must fail")
	}
	if svc.VerifyCSRF("other-session", token) {
		t.Fatal("csrf token is bound to its session")
	}
}

func TestChangeRoleGuards(t *testing.T) {
	svc := newService(seedIdP(2))
	ctx := context.Background()

	admin, _ := login(t, svc, "code-0")
	target, _ := login(t, svc, "code-1")

	updated, err := svc.ChangeRole(ctx, admin, target.ID, "read_only", "")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if updated.Role != "read_only" {
		t.Fatalf("expected read_only, got %s", updated.Role)
	}

	if _, err := svc.ChangeRole(ctx, admin, admin.ID, "user", ""); err == nil {
		t.Fatal("admins must not change their own role")
	}
	if _, err := svc.ChangeRole(ctx, admin, target.ID, "superuser", ""); err == nil {
		t.Fatal("unknown roles must be rejected")
	}
}
