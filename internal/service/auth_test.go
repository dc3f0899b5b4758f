package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	auth     *service.AuthService
	codes    *service.AccessCodeService
	sessions *service.SessionReconciler
	users    *fakeDirectoryStore
	store    *fakeAuthStore
	crm      *fakeCRMStore
	watcher  *fakeWatcher
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	crm := newFakeCRMStore()
	users := newFakeDirectoryStore()
	store := newFakeAuthStore()
	watcher := newFakeWatcher()

	codes := service.NewAccessCodeService(crm, zap.NewNop())
	sessions := service.NewSessionReconciler(watcher, observability.NewMetrics(), zap.NewNop())
	t.Cleanup(sessions.Close)

	auth := service.NewAuthService(store, users, codes, sessions,
		"test-secret", 15*time.Minute, 7*24*time.Hour, zap.NewNop())

	return &authFixture{
		auth:     auth,
		codes:    codes,
		sessions: sessions,
		users:    users,
		store:    store,
		crm:      crm,
		watcher:  watcher,
	}
}

func (f *authFixture) seedUser(t *testing.T, id, email, password string, status domain.UserStatus) {
	t.Helper()
	f.users.CreateUser(context.Background(), &domain.UserProfile{
		ID:     id,
		Email:  email,
		Role:   domain.RoleAgent,
		Status: status,
	})
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	f.store.CreateCredentials(context.Background(), id, string(hash))
}

// --- Register ---

func TestRegister_RejectedWithoutValidCode(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		FirstName:  "Fatou",
		Email:      "fatou@example.com",
		Password:   "motdepasse",
		AccessCode: "CRM-0000-2026",
	})
	if err == nil {
		t.Fatal("expected error without a valid access code, got nil")
	}
	var invalidCode *domain.ErrInvalidCode
	if !errors.As(err, &invalidCode) {
		t.Errorf("expected ErrInvalidCode, got %T", err)
	}
}

func TestRegister_CreatesPendingAgent(t *testing.T) {
	f := newAuthFixture(t)
	code, err := f.codes.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	resp, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		FirstName:  "Fatou",
		LastName:   "Traoré",
		Email:      "Fatou@Example.com",
		Password:   "motdepasse",
		AccessCode: code.Code,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Status != string(domain.UserPending) {
		t.Errorf("expected status PENDING, got %s", resp.Status)
	}

	user, err := f.users.GetUser(context.Background(), resp.UserID)
	if err != nil {
		t.Fatalf("expected user created, got %v", err)
	}
	if user.Role != domain.RoleAgent {
		t.Errorf("expected role AGENT, got %s", user.Role)
	}
	if user.Status != domain.UserPending {
		t.Errorf("expected status PENDING, got %s", user.Status)
	}
	if user.Email != "fatou@example.com" {
		t.Errorf("expected normalized email, got '%s'", user.Email)
	}
	if !strings.HasPrefix(user.AgentCode, "AG-") {
		t.Errorf("expected agent code with AG- prefix, got '%s'", user.AgentCode)
	}
}

func TestRegister_DuplicateEmailRejected(t *testing.T) {
	f := newAuthFixture(t)
	code, _ := f.codes.Generate(context.Background())
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	_, err := f.auth.Register(context.Background(), &domain.RegisterRequest{
		FirstName:  "Fatou",
		Email:      "fatou@example.com",
		Password:   "motdepasse",
		AccessCode: code.Code,
	})
	if err == nil {
		t.Fatal("expected error for duplicate email, got nil")
	}
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Errorf("expected ErrConflict, got %T", err)
	}
}

// --- Login ---

func TestLogin_ActiveGetsTokensAndSession(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	resp, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "motdepasse",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}

	claims, err := f.auth.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("expected access token to validate, got %v", err)
	}
	if claims.Sub != "u-1" {
		t.Errorf("expected sub 'u-1', got '%s'", claims.Sub)
	}
	if claims.Role != string(domain.RoleAgent) {
		t.Errorf("expected role AGENT, got '%s'", claims.Role)
	}

	// Login opened the profile subscription.
	if state := f.sessions.State("u-1"); state.Phase == domain.SessionUnauthenticated {
		t.Error("expected session reconciliation to start on login")
	}
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	_, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "mauvais-mdp",
	})
	if err == nil {
		t.Fatal("expected error for wrong password, got nil")
	}
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Errorf("expected ErrUnauthorized, got %T", err)
	}
}

func TestLogin_UnknownEmailRejected(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "inconnu@example.com",
		Password: "motdepasse",
	})
	if err == nil {
		t.Fatal("expected error for unknown email, got nil")
	}
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Errorf("expected ErrUnauthorized, got %T", err)
	}
}

func TestLogin_PendingAccountDenied(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserPending)

	_, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "motdepasse",
	})
	if err == nil {
		t.Fatal("expected denial for pending account, got nil")
	}
	var denied *domain.ErrAccountDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrAccountDenied, got %T", err)
	}
	if denied.Reason != domain.DenialPending {
		t.Errorf("expected pending denial reason, got '%s'", denied.Reason)
	}
}

func TestLogin_DisabledAccountDenied(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserDisabled)

	_, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "motdepasse",
	})
	var denied *domain.ErrAccountDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrAccountDenied, got %T", err)
	}
	if denied.Reason != domain.DenialDisabled {
		t.Errorf("expected disabled denial reason, got '%s'", denied.Reason)
	}
}

// --- Refresh ---

func TestRefresh_RotatesToken(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	login, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "motdepasse",
	})
	if err != nil {
		t.Fatalf("login: expected no error, got %v", err)
	}

	refreshed, err := f.auth.Refresh(context.Background(), &domain.RefreshRequest{
		RefreshToken: login.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh: expected no error, got %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("expected a rotated refresh token")
	}

	// The old token is single-use.
	_, err = f.auth.Refresh(context.Background(), &domain.RefreshRequest{
		RefreshToken: login.RefreshToken,
	})
	if err == nil {
		t.Fatal("expected error reusing a rotated token, got nil")
	}
}

func TestRefresh_DisabledAccountDenied(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	login, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "motdepasse",
	})
	if err != nil {
		t.Fatalf("login: expected no error, got %v", err)
	}

	// Admin disables the account between login and refresh.
	f.users.UpdateUser(context.Background(), "u-1", map[string]any{
		"status": string(domain.UserDisabled),
	})

	_, err = f.auth.Refresh(context.Background(), &domain.RefreshRequest{
		RefreshToken: login.RefreshToken,
	})
	var denied *domain.ErrAccountDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrAccountDenied, got %v", err)
	}
}

// --- Logout ---

func TestLogout_RevokesTokensAndDisposesSession(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	login, err := f.auth.Login(context.Background(), &domain.LoginRequest{
		Email:    "fatou@example.com",
		Password: "motdepasse",
	})
	if err != nil {
		t.Fatalf("login: expected no error, got %v", err)
	}

	if err := f.auth.Logout(context.Background(), "u-1"); err != nil {
		t.Fatalf("logout: expected no error, got %v", err)
	}

	if state := f.sessions.State("u-1"); state.Phase != domain.SessionUnauthenticated {
		t.Errorf("expected UNAUTHENTICATED after logout, got %s", state.Phase)
	}
	if _, err := f.auth.Refresh(context.Background(), &domain.RefreshRequest{
		RefreshToken: login.RefreshToken,
	}); err == nil {
		t.Fatal("expected revoked refresh token to fail, got nil")
	}
}

// --- Password reset ---

func TestPasswordReset_FullFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "u-1", "fatou@example.com", "motdepasse", domain.UserActive)

	if err := f.auth.PasswordResetRequest(context.Background(), &domain.ResetRequest{
		Email: "fatou@example.com",
	}); err != nil {
		t.Fatalf("reset request: expected no error, got %v", err)
	}

	// Recover the generated code from the store.
	var code string
	for _, c := range f.store.resetCodes {
		code = c.Code
	}
	if code == "" {
		t.Fatal("expected a reset code to be stored")
	}

	if err := f.auth.PasswordResetConfirm(context.Background(), "fatou@example.com", code, "nouveaumdp"); err != nil {
		t.Fatalf("reset confirm: expected no error, got %v", err)
	}

	// Code is single-use.
	if err := f.auth.PasswordResetConfirm(context.Background(), "fatou@example.com", code, "encoreunmdp"); err == nil {
		t.Fatal("expected error reusing the reset code, got nil")
	}
}

func TestPasswordResetRequest_UnknownEmailSilent(t *testing.T) {
	f := newAuthFixture(t)

	// Never leaks whether the account exists.
	if err := f.auth.PasswordResetRequest(context.Background(), &domain.ResetRequest{
		Email: "inconnu@example.com",
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// --- Token validation ---

func TestValidateAccessToken_Garbage(t *testing.T) {
	f := newAuthFixture(t)

	if _, err := f.auth.ValidateAccessToken("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token, got nil")
	}
}
