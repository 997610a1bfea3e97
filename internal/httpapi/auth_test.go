package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/service"
	"salescrm/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo)
	return NewAuthManager("test-secret", time.Hour, "123456", repo, svc), repo
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	manager, repo := newTestAuth(t)
	ctx := context.Background()

	if err := repo.CreateUser(ctx, domain.UserAccount{
		ID:        "usr-legacy",
		Email:     "legacy@example.com",
		Name:      "Legacy",
		Password:  "plain-secret",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := manager.Login(ctx, domain.LoginRequest{
		Email:    "legacy@example.com",
		Password: "plain-secret",
	}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	user, err := repo.GetUserByEmail(ctx, "legacy@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if user.Password == "plain-secret" {
		t.Fatal("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(user.Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", user.Password)
	}

	// The upgraded hash still authenticates.
	if _, err := manager.Login(ctx, domain.LoginRequest{
		Email:    "legacy@example.com",
		Password: "plain-secret",
	}); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestResolveRoleChecksAdminFirst(t *testing.T) {
	manager, repo := newTestAuth(t)
	ctx := context.Background()

	if err := repo.CreateUser(ctx, domain.UserAccount{
		ID:        "usr-both",
		Email:     "both@example.com",
		Name:      "Both",
		Password:  mustHashPassword(t, "secret1"),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	// An account that is both an admin and linked to a customer record
	// resolves to admin.
	if err := repo.CreateAdmin(ctx, "usr-both", "Both"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if err := repo.LinkUserCustomer(ctx, "usr-both", "C0001"); err != nil {
		t.Fatalf("LinkUserCustomer: %v", err)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Email: "both@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", resp.Role)
	}
	if resp.Custno != "" {
		t.Fatalf("admin login should carry no custno, got %q", resp.Custno)
	}
}

func TestLoginDefaultsToUserRole(t *testing.T) {
	manager, repo := newTestAuth(t)
	ctx := context.Background()

	if err := repo.CreateUser(ctx, domain.UserAccount{
		ID:        "usr-plain",
		Email:     "plain@example.com",
		Name:      "Plain",
		Password:  mustHashPassword(t, "secret1"),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Email: "plain@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleUser {
		t.Fatalf("role = %q, want user", resp.Role)
	}
	if resp.RedirectTo != "/dashboard" {
		t.Fatalf("redirect_to = %q, want /dashboard", resp.RedirectTo)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	manager, repo := newTestAuth(t)
	ctx := context.Background()

	if err := repo.CreateUser(ctx, domain.UserAccount{
		ID:        "usr-inactive",
		Email:     "inactive@example.com",
		Name:      "Inactive",
		Password:  mustHashPassword(t, "secret1"),
		Active:    false,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := manager.Login(ctx, domain.LoginRequest{Email: "inactive@example.com", Password: "secret1"}); err == nil {
		t.Fatal("expected inactive account login to fail")
	}
}

func TestSignupCustomerProvisionsAndLinks(t *testing.T) {
	manager, repo := newTestAuth(t)
	ctx := context.Background()

	resp, err := manager.Signup(ctx, domain.SignupRequest{
		Name:     "Harbor Freight",
		Email:    "harbor@example.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if resp.Role != domain.RoleCustomer {
		t.Fatalf("role = %q, want customer", resp.Role)
	}
	if resp.Custno != "C0004" {
		t.Fatalf("custno = %q, want C0004", resp.Custno)
	}

	customer, err := repo.GetCustomer(ctx, resp.Custno)
	if err != nil {
		t.Fatalf("provisioned customer missing: %v", err)
	}
	if customer.Custname != "Harbor Freight" || customer.Payterm != domain.PaytermCOD {
		t.Fatalf("unexpected provisioned customer: %+v", customer)
	}

	linked, err := repo.CustomerNoForUser(ctx, resp.UserID)
	if err != nil {
		t.Fatalf("CustomerNoForUser: %v", err)
	}
	if linked != resp.Custno {
		t.Fatalf("link row = %q, want %q", linked, resp.Custno)
	}
}

func TestSignupValidation(t *testing.T) {
	manager, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := manager.Signup(ctx, domain.SignupRequest{Name: "X", Email: "not-an-email", Password: "secret1"}); err == nil {
		t.Fatal("expected bad email to fail")
	}
	if _, err := manager.Signup(ctx, domain.SignupRequest{Name: "X", Email: "x@example.com", Password: "short"}); err == nil {
		t.Fatal("expected short password to fail")
	}
	if _, err := manager.Signup(ctx, domain.SignupRequest{Name: "", Email: "x@example.com", Password: "secret1"}); err == nil {
		t.Fatal("expected missing name to fail")
	}
	if _, err := manager.Signup(ctx, domain.SignupRequest{Name: "X", Email: "x@example.com", Password: "secret1", Role: "superuser"}); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}

func TestAdminCodeIsHashedAndStillValidates(t *testing.T) {
	manager, _ := newTestAuth(t)

	if manager.adminCode == "123456" {
		t.Fatal("expected admin signup code to be stored as hash, got plain-text")
	}
	if !manager.ValidateAdminCode("123456") {
		t.Fatal("expected admin code validation to succeed")
	}
	if manager.ValidateAdminCode("111111") {
		t.Fatal("expected wrong admin code to fail")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	manager, _ := newTestAuth(t)
	ctx := context.Background()

	signup, err := manager.Signup(ctx, domain.SignupRequest{
		Name:     "Token Co",
		Email:    "token@example.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	login, err := manager.Login(ctx, domain.LoginRequest{Email: "token@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(login.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if actor.UserID != signup.UserID {
		t.Fatalf("actor user id = %q, want %q", actor.UserID, signup.UserID)
	}
	if actor.Email != "token@example.com" || actor.Role != domain.RoleCustomer || actor.Custno != signup.Custno {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	manager, _ := newTestAuth(t)

	if _, err := manager.ParseToken("not-a-token"); err == nil {
		t.Fatal("expected garbage token to fail")
	}
}
