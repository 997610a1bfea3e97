package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/store"
	"salescrm/backend/internal/xid"
)

// CustomerProvisioner creates the customer record backing a fresh customer
// signup. Satisfied by the service layer.
type CustomerProvisioner interface {
	ProvisionCustomer(ctx context.Context, name string) (domain.Customer, error)
}

type AuthManager struct {
	secret      []byte
	tokenTTL    time.Duration
	adminCode   string
	repo        store.Repository
	provisioner CustomerProvisioner
}

type crmCustomClaims struct {
	jwtlib.RegisteredClaims
	Email  string `json:"email"`
	Role   string `json:"role"`
	Custno string `json:"custno,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, adminCode string, repo store.Repository, provisioner CustomerProvisioner) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	adminCode = strings.TrimSpace(adminCode)
	if adminCode == "" {
		adminCode = "disabled"
	}
	hashedCode, err := hashPassword(adminCode)
	if err == nil {
		adminCode = hashedCode
	}

	return &AuthManager{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		adminCode:   adminCode,
		repo:        repo,
		provisioner: provisioner,
	}
}

// Login authenticates by email and issues a token carrying the resolved role
// and, for customer accounts, the linked customer number. The response also
// names the landing page for that role so the client can redirect without
// knowing the role mapping.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	user, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	stored := user.Password
	if !isPasswordHash(stored) {
		// Legacy plain-text password: verify directly, then upgrade in place.
		if strings.TrimSpace(req.Password) == "" || stored != req.Password {
			return domain.LoginResponse{}, errors.New("invalid credentials")
		}
		if hashed, err := hashPassword(req.Password); err == nil {
			_ = a.repo.UpdateUserPassword(ctx, email, hashed)
		}
	} else if !verifyPassword(stored, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	role, custno, err := a.resolveRole(ctx, user.ID)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user.ID, email, role, custno, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        role,
		Custno:      custno,
		RedirectTo:  redirectForRole(role),
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// resolveRole derives the effective role from the role tables, checked in
// order: an admins row wins, then a user-customer link makes the account a
// customer, and anything else is a plain user.
func (a *AuthManager) resolveRole(ctx context.Context, userID string) (string, string, error) {
	isAdmin, err := a.repo.IsAdmin(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if isAdmin {
		return domain.RoleAdmin, "", nil
	}

	custno, err := a.repo.CustomerNoForUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if custno != "" {
		return domain.RoleCustomer, custno, nil
	}

	return domain.RoleUser, "", nil
}

func redirectForRole(role string) string {
	if role == domain.RoleCustomer {
		return "/customer-profile"
	}
	return "/dashboard"
}

// Signup registers a new account. Customer signups are provisioned a customer
// record and linked to it; admin signups must present the admin signup code.
func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.SignupResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.SignupResponse{}, fmt.Errorf("a valid email is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.SignupResponse{}, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.SignupResponse{}, fmt.Errorf("password must be at least 6 characters")
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCustomer
	}
	switch role {
	case domain.RoleAdmin:
		if !a.ValidateAdminCode(req.AdminCode) {
			return domain.SignupResponse{}, fmt.Errorf("invalid admin signup code")
		}
	case domain.RoleCustomer, domain.RoleUser:
	default:
		return domain.SignupResponse{}, fmt.Errorf("unknown role %q", role)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.SignupResponse{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		ID:        xid.New("usr"),
		Email:     email,
		Name:      name,
		Password:  passwordHash,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return domain.SignupResponse{}, fmt.Errorf("email already registered")
		}
		return domain.SignupResponse{}, err
	}

	resp := domain.SignupResponse{
		UserID: user.ID,
		Email:  email,
		Role:   role,
	}

	switch role {
	case domain.RoleAdmin:
		if err := a.repo.CreateAdmin(ctx, user.ID, name); err != nil {
			return domain.SignupResponse{}, err
		}
	case domain.RoleCustomer:
		customer, err := a.provisioner.ProvisionCustomer(ctx, name)
		if err != nil {
			return domain.SignupResponse{}, err
		}
		if err := a.repo.LinkUserCustomer(ctx, user.ID, customer.Custno); err != nil {
			return domain.SignupResponse{}, err
		}
		resp.Custno = customer.Custno
	}

	return resp, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &crmCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		UserID: sub,
		Email:  claims.Email,
		Role:   claims.Role,
		Custno: claims.Custno,
	}, nil
}

func (a *AuthManager) sign(userID, email, role, custno string, expiresAt time.Time) (string, error) {
	claims := crmCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "salescrm",
		},
		Email:  email,
		Role:   role,
		Custno: custno,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateAdminCode(code string) bool {
	input := strings.TrimSpace(code)
	if input == "" || !isPasswordHash(a.adminCode) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.adminCode), []byte(input)) == nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
