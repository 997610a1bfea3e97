package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"salescrm/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the read/write boundary to the externally persisted CRM
// tables. All read projections used by the transaction aggregation core go
// through here; errors from the underlying source bubble up unmodified.
type Repository interface {
	// customer
	ListCustomers(ctx context.Context, search string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, custno string) (*domain.Customer, error)
	LastCustomerNo(ctx context.Context) (string, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, custno string) error

	// sales and line items
	ListSalesByCustomer(ctx context.Context, custno string) ([]domain.Sale, error)
	ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, transno string) (*domain.Sale, error)
	ListSaleLines(ctx context.Context, transno string) ([]domain.SaleLine, error)

	// price history. EffectivePrices resolves, for every requested product
	// code, the unit price in effect on asOf (latest effdate <= asOf, ties
	// broken by highest row id). Codes with no qualifying row are simply
	// absent from the result map.
	EffectivePrices(ctx context.Context, prodcodes []string, asOf time.Time) (map[string]decimal.Decimal, error)
	ListPriceHistory(ctx context.Context, prodcode string, limit int) ([]domain.PriceHistoryEntry, error)

	// products
	GetProductsByCode(ctx context.Context, prodcodes []string) (map[string]domain.Product, error)

	// payments
	ListRecentPayments(ctx context.Context, limit int) ([]domain.Payment, error)

	// dashboard
	GetDashboardStats(ctx context.Context) (domain.DashboardStats, error)

	// users and role links
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
	CreateAdmin(ctx context.Context, userID string, name string) error
	IsAdmin(ctx context.Context, userID string) (bool, error)
	LinkUserCustomer(ctx context.Context, userID string, custno string) error
	CustomerNoForUser(ctx context.Context, userID string) (string, error)
	UnlinkUser(ctx context.Context, userID string) error

	// audit
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
