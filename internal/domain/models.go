package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	Custno   string `json:"custno"`
	Custname string `json:"custname"`
	Address  string `json:"address"`
	Payterm  string `json:"payterm"`
}

type CustomerCreateRequest struct {
	Custno   string `json:"custno,omitempty"`
	Custname string `json:"custname"`
	Address  string `json:"address"`
	Payterm  string `json:"payterm"`
}

type CustomerUpdateRequest struct {
	Custname *string `json:"custname,omitempty"`
	Address  *string `json:"address,omitempty"`
	Payterm  *string `json:"payterm,omitempty"`
}

type Sale struct {
	Transno   string    `json:"transno"`
	Salesdate time.Time `json:"salesdate"`
	Custno    string    `json:"custno"`
	Empno     string    `json:"empno,omitempty"`
}

// SaleLine is one salesdetail row: a product and quantity on a transaction.
// Quantity defaults to zero when the source row has none.
type SaleLine struct {
	Transno  string `json:"transno"`
	Prodcode string `json:"prodcode"`
	Quantity int    `json:"quantity"`
}

type PriceHistoryEntry struct {
	ID        int64           `json:"id"`
	Prodcode  string          `json:"prodcode"`
	Unitprice decimal.Decimal `json:"unitprice"`
	Effdate   time.Time       `json:"effdate"`
}

type Product struct {
	Prodcode    string `json:"prodcode"`
	Description string `json:"description"`
}

type Payment struct {
	Orno    string          `json:"orno"`
	Paydate time.Time       `json:"paydate"`
	Amount  decimal.Decimal `json:"amount"`
	Transno string          `json:"transno,omitempty"`
}

// PricedLine is a sale line after price resolution: the unit price in effect
// on the transaction date and the computed subtotal. Description is only
// populated by the detail view, which joins the product table.
type PricedLine struct {
	Prodcode    string          `json:"prodcode"`
	Description string          `json:"description,omitempty"`
	Quantity    int             `json:"quantity"`
	Unitprice   decimal.Decimal `json:"unitprice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CustomerTransaction summarizes one sale with its fully computed total.
// When expansion of that one transaction failed, Error carries the failure
// and TotalSales is zero; other transactions in the same listing are
// unaffected.
type CustomerTransaction struct {
	Transno    string          `json:"transno"`
	Salesdate  string          `json:"salesdate"`
	TotalSales decimal.Decimal `json:"total_sales"`
	Error      string          `json:"error,omitempty"`
}

// CustomerTransactionReport is the printable per-customer report: the
// customer header, every transaction summary, and the grand total.
type CustomerTransactionReport struct {
	Customer     Customer              `json:"customer"`
	Transactions []CustomerTransaction `json:"transactions"`
	GrandTotal   decimal.Decimal       `json:"grand_total"`
	GeneratedAt  string                `json:"generated_at"`
}

type DashboardStats struct {
	Customers int64 `json:"customers"`
	Sales     int64 `json:"sales"`
	Products  int64 `json:"products"`
	Payments  int64 `json:"payments"`
}

type DashboardSummary struct {
	Stats          DashboardStats `json:"stats"`
	RecentSales    []Sale         `json:"recent_sales"`
	RecentPayments []Payment      `json:"recent_payments"`
	GeneratedAt    string         `json:"generated_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Custno      string `json:"custno,omitempty"`
	RedirectTo  string `json:"redirect_to"`
	ExpiresAt   string `json:"expires_at"`
}

type SignupRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role,omitempty"`
	AdminCode string `json:"admin_code,omitempty"`
}

type SignupResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Custno string `json:"custno,omitempty"`
}

// Actor is the authenticated principal attached to a request context.
type Actor struct {
	UserID string
	Email  string
	Role   string
	Custno string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Email     string
	Name      string
	Password  string
	Active    bool
	CreatedAt time.Time
}

type ProfileResponse struct {
	Customer     Customer              `json:"customer"`
	Transactions []CustomerTransaction `json:"transactions"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorEmail string    `json:"actor_email"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	RoleUser     = "user"
)

const (
	PaytermCOD = "COD"
	Payterm30D = "30D"
	Payterm45D = "45D"
)

// DateLayout is the wire format for sales, effectivity, and payment dates.
const DateLayout = "2006-01-02"
