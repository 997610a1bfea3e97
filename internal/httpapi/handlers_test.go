package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"salescrm/backend/internal/dashboard"
	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/service"
	"salescrm/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo, svc)
	dash := dashboard.NewBuilder(repo, nil, time.Second)

	return New(svc, auth, dash, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_AdminRedirect(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"email":    "admin@example.com",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected access_token in response")
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", resp.Role)
	}
	if resp.RedirectTo != "/dashboard" {
		t.Fatalf("redirect_to = %q, want /dashboard", resp.RedirectTo)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"email":    "admin@example.com",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleCustomers_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCustomers_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	customers, ok := body["customers"].([]any)
	if !ok || len(customers) != 3 {
		t.Fatalf("expected 3 customers, got %v", body["customers"])
	}
}

func TestHandleCustomerTransactions(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers/C0001/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Transactions []domain.CustomerTransaction `json:"transactions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(body.Transactions))
	}
	if body.Transactions[0].Transno != "TR5002" {
		t.Fatalf("expected newest first, got %s", body.Transactions[0].Transno)
	}
	if body.Transactions[0].TotalSales.StringFixed(2) != "1590.00" {
		t.Fatalf("TR5002 total = %s, want 1590.00", body.Transactions[0].TotalSales)
	}
}

func TestHandleTransactionDetails(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/TR5001/details?salesdate=2024-02-10", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Details []domain.PricedLine `json:"details"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Details) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(body.Details))
	}
	if body.Details[0].Description == "" {
		t.Fatal("expected product description on detail lines")
	}
	if body.Details[0].Subtotal.StringFixed(2) != "2500.00" {
		t.Fatalf("first subtotal = %s, want 2500.00", body.Details[0].Subtotal)
	}
}

func TestHandleTransactionDetails_BadDate(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/TR5001/details?salesdate=not-a-date", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDashboard(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var summary domain.DashboardSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if summary.Stats.Customers != 3 || summary.Stats.Sales != 3 {
		t.Fatalf("unexpected stats: %+v", summary.Stats)
	}
}

func TestSignupCustomerThenProfile(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"name":     "Delta Builders",
		"email":    "delta@example.com",
		"password": "secret1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var signup domain.SignupResponse
	if err := json.NewDecoder(rec.Body).Decode(&signup); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if signup.Role != domain.RoleCustomer {
		t.Fatalf("role = %q, want customer", signup.Role)
	}
	if signup.Custno != "C0004" {
		t.Fatalf("custno = %q, want C0004", signup.Custno)
	}

	// Login as the new customer and check the role-specific redirect.
	loginPayload, _ := json.Marshal(map[string]string{
		"email":    "delta@example.com",
		"password": "secret1",
	})
	loginReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(loginPayload))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRec := httptest.NewRecorder()
	handler.ServeHTTP(loginRec, loginReq)

	if loginRec.Code != http.StatusOK {
		t.Fatalf("customer login failed: %d %s", loginRec.Code, loginRec.Body.String())
	}
	var login domain.LoginResponse
	if err := json.NewDecoder(loginRec.Body).Decode(&login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if login.Role != domain.RoleCustomer || login.Custno != "C0004" {
		t.Fatalf("unexpected login identity: role=%q custno=%q", login.Role, login.Custno)
	}
	if login.RedirectTo != "/customer-profile" {
		t.Fatalf("redirect_to = %q, want /customer-profile", login.RedirectTo)
	}

	// The profile endpoint serves the provisioned customer record.
	profileReq := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	profileReq.Header.Set("Authorization", "Bearer "+login.AccessToken)
	profileRec := httptest.NewRecorder()
	handler.ServeHTTP(profileRec, profileReq)

	if profileRec.Code != http.StatusOK {
		t.Fatalf("profile expected 200, got %d (body: %s)", profileRec.Code, profileRec.Body.String())
	}
	var profile domain.ProfileResponse
	if err := json.NewDecoder(profileRec.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Customer.Custno != "C0004" || profile.Customer.Payterm != domain.PaytermCOD {
		t.Fatalf("unexpected profile customer: %+v", profile.Customer)
	}
	if len(profile.Transactions) != 0 {
		t.Fatalf("expected no transactions for new customer, got %d", len(profile.Transactions))
	}
}

func TestSignupAdminRequiresCode(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"name":     "Second Admin",
		"email":    "admin2@example.com",
		"password": "secret1",
		"role":     "admin",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin code, got %d", rec.Code)
	}

	payload, _ = json.Marshal(map[string]string{
		"name":       "Second Admin",
		"email":      "admin2@example.com",
		"password":   "secret1",
		"role":       "admin",
		"admin_code": "123456",
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with admin code, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var signup domain.SignupResponse
	if err := json.NewDecoder(rec.Body).Decode(&signup); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if signup.Role != domain.RoleAdmin || signup.Custno != "" {
		t.Fatalf("unexpected admin signup response: %+v", signup)
	}
}

func TestCustomerCannotListCustomers(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := signupAndLoginCustomer(t, api, "gamma@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer role, got %d", rec.Code)
	}
}

func TestHandleCustomerReport_Formats(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	jsonReq := httptest.NewRequest(http.MethodGet, "/api/v1/reports/customer-transactions?custno=C0001", nil)
	jsonReq.Header.Set("Authorization", "Bearer "+token)
	jsonRec := httptest.NewRecorder()
	handler.ServeHTTP(jsonRec, jsonReq)

	if jsonRec.Code != http.StatusOK {
		t.Fatalf("json report expected 200, got %d (body: %s)", jsonRec.Code, jsonRec.Body.String())
	}
	var report domain.CustomerTransactionReport
	if err := json.NewDecoder(jsonRec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.GrandTotal.StringFixed(2) != "4450.00" {
		t.Fatalf("grand total = %s, want 4450.00", report.GrandTotal)
	}

	csvReq := httptest.NewRequest(http.MethodGet, "/api/v1/reports/customer-transactions?custno=C0001&format=csv", nil)
	csvReq.Header.Set("Authorization", "Bearer "+token)
	csvRec := httptest.NewRecorder()
	handler.ServeHTTP(csvRec, csvReq)

	if csvRec.Code != http.StatusOK {
		t.Fatalf("csv report expected 200, got %d", csvRec.Code)
	}
	if ct := csvRec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("csv content type = %q", ct)
	}
	if !bytes.Contains(csvRec.Body.Bytes(), []byte("summary,grand_total,4450.00")) {
		t.Fatalf("csv body missing grand total: %s", csvRec.Body.String())
	}

	pdfReq := httptest.NewRequest(http.MethodGet, "/api/v1/reports/customer-transactions?custno=C0001&format=pdf", nil)
	pdfReq.Header.Set("Authorization", "Bearer "+token)
	pdfRec := httptest.NewRecorder()
	handler.ServeHTTP(pdfRec, pdfReq)

	if pdfRec.Code != http.StatusOK {
		t.Fatalf("printable report expected 200, got %d", pdfRec.Code)
	}
	if !bytes.Contains(pdfRec.Body.Bytes(), []byte("Bayview Trading")) {
		t.Fatal("printable report missing customer name")
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
