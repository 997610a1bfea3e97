package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/store"
	"salescrm/backend/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	customers      map[string]domain.Customer
	salesByTransno map[string]domain.Sale
	linesByTransno map[string][]domain.SaleLine
	priceHistory   map[string][]domain.PriceHistoryEntry
	nextPriceID    int64
	products       map[string]domain.Product
	payments       []domain.Payment
	usersByEmail   map[string]domain.UserAccount
	adminsByUserID map[string]string
	custnoByUserID map[string]string
	auditLogs      []domain.AuditLog
}

// seedUsers builds the initial user accounts for dev/demo mode. The admin
// password is read from SEED_ADMIN_PASSWORD; a hardcoded dev default is used
// with a warning when unset. Production deployments use PostgreSQL.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev admin credentials. Set SEED_ADMIN_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed admin password: %v", err)
	}

	return map[string]domain.UserAccount{
		"admin@example.com": {
			ID:        "usr-seed-admin",
			Email:     "admin@example.com",
			Name:      "Seed Admin",
			Password:  string(hash),
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func date(value string) time.Time {
	t, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		log.Fatalf("[memory-store] bad seed date %q: %v", value, err)
	}
	return t
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

// NewSeeded returns a store preloaded with a small dataset: a few customers,
// historical sales with line items, product price effectivity series, and
// payments against the sales.
func NewSeeded() *Store {
	s := New()

	customers := []domain.Customer{
		{Custno: "C0001", Custname: "Bayview Trading", Address: "12 Harbor Rd", Payterm: domain.Payterm30D},
		{Custno: "C0002", Custname: "Luzon Hardware", Address: "88 Mabini St", Payterm: domain.PaytermCOD},
		{Custno: "C0003", Custname: "Riverside Grocers", Address: "5 Creek Lane", Payterm: domain.Payterm45D},
	}
	for _, c := range customers {
		s.customers[c.Custno] = c
	}

	products := []domain.Product{
		{Prodcode: "P100", Description: "Portland Cement 40kg"},
		{Prodcode: "P200", Description: "Galvanized Wire 25m"},
		{Prodcode: "P300", Description: "Marine Plywood 1/2"},
	}
	for _, p := range products {
		s.products[p.Prodcode] = p
	}

	history := []domain.PriceHistoryEntry{
		{Prodcode: "P100", Unitprice: money("250.00"), Effdate: date("2023-11-01")},
		{Prodcode: "P100", Unitprice: money("265.00"), Effdate: date("2024-04-01")},
		{Prodcode: "P200", Unitprice: money("90.00"), Effdate: date("2024-01-15")},
		{Prodcode: "P300", Unitprice: money("610.00"), Effdate: date("2023-09-20")},
		{Prodcode: "P300", Unitprice: money("640.00"), Effdate: date("2024-06-10")},
	}
	for _, entry := range history {
		s.nextPriceID++
		entry.ID = s.nextPriceID
		s.priceHistory[entry.Prodcode] = append(s.priceHistory[entry.Prodcode], entry)
	}

	sales := []domain.Sale{
		{Transno: "TR5001", Salesdate: date("2024-02-10"), Custno: "C0001", Empno: "E01"},
		{Transno: "TR5002", Salesdate: date("2024-05-02"), Custno: "C0001", Empno: "E02"},
		{Transno: "TR5003", Salesdate: date("2024-07-18"), Custno: "C0002", Empno: "E01"},
	}
	for _, sale := range sales {
		s.salesByTransno[sale.Transno] = sale
	}

	s.linesByTransno["TR5001"] = []domain.SaleLine{
		{Transno: "TR5001", Prodcode: "P100", Quantity: 10},
		{Transno: "TR5001", Prodcode: "P200", Quantity: 4},
	}
	s.linesByTransno["TR5002"] = []domain.SaleLine{
		{Transno: "TR5002", Prodcode: "P100", Quantity: 6},
	}
	s.linesByTransno["TR5003"] = []domain.SaleLine{
		{Transno: "TR5003", Prodcode: "P300", Quantity: 2},
		{Transno: "TR5003", Prodcode: "P200", Quantity: 12},
	}

	s.payments = []domain.Payment{
		{Orno: "OR9001", Paydate: date("2024-03-01"), Amount: money("2860.00"), Transno: "TR5001"},
		{Orno: "OR9002", Paydate: date("2024-05-20"), Amount: money("1590.00"), Transno: "TR5002"},
	}

	return s
}

// New returns an empty store with only the seed admin user.
func New() *Store {
	return &Store{
		customers:      make(map[string]domain.Customer),
		salesByTransno: make(map[string]domain.Sale),
		linesByTransno: make(map[string][]domain.SaleLine),
		priceHistory:   make(map[string][]domain.PriceHistoryEntry),
		products:       make(map[string]domain.Product),
		usersByEmail:   seedUsers(),
		adminsByUserID: map[string]string{"usr-seed-admin": "Seed Admin"},
		custnoByUserID: make(map[string]string),
	}
}

func (s *Store) ListCustomers(_ context.Context, search string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Custno), needle) &&
			!strings.Contains(strings.ToLower(c.Custname), needle) &&
			!strings.Contains(strings.ToLower(c.Address), needle) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Custname < out[j].Custname
	})
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, custno string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[custno]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) LastCustomerNo(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := ""
	for custno := range s.customers {
		if custno > last {
			last = custno
		}
	}
	return last, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Custno == "" || customer.Custname == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[customer.Custno]; exists {
		return nil, store.ErrInvalidInput
	}
	s.customers[customer.Custno] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Custno == "" || customer.Custname == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[customer.Custno]; !exists {
		return nil, store.ErrNotFound
	}
	s.customers[customer.Custno] = customer
	updated := customer
	return &updated, nil
}

// DeleteCustomer removes the customer row and cascades to any user-customer
// link rows pointing at it.
func (s *Store) DeleteCustomer(_ context.Context, custno string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[custno]; !exists {
		return store.ErrNotFound
	}
	delete(s.customers, custno)
	for userID, linked := range s.custnoByUserID {
		if linked == custno {
			delete(s.custnoByUserID, userID)
		}
	}
	return nil
}

func (s *Store) ListSalesByCustomer(_ context.Context, custno string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, 8)
	for _, sale := range s.salesByTransno {
		if sale.Custno == custno {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Salesdate.Equal(out[j].Salesdate) {
			return out[i].Salesdate.After(out[j].Salesdate)
		}
		return out[i].Transno > out[j].Transno
	})
	return out, nil
}

func (s *Store) ListRecentSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.salesByTransno))
	for _, sale := range s.salesByTransno {
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Salesdate.Equal(out[j].Salesdate) {
			return out[i].Salesdate.After(out[j].Salesdate)
		}
		return out[i].Transno > out[j].Transno
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetSale(_ context.Context, transno string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByTransno[transno]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSaleLines(_ context.Context, transno string) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.linesByTransno[transno]
	out := make([]domain.SaleLine, len(lines))
	copy(out, lines)
	return out, nil
}

func (s *Store) EffectivePrices(_ context.Context, prodcodes []string, asOf time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(prodcodes))
	for _, code := range prodcodes {
		var best *domain.PriceHistoryEntry
		for i := range s.priceHistory[code] {
			entry := &s.priceHistory[code][i]
			if entry.Effdate.After(asOf) {
				continue
			}
			// Latest effdate wins; equal effdates resolve to the highest id.
			if best == nil ||
				entry.Effdate.After(best.Effdate) ||
				(entry.Effdate.Equal(best.Effdate) && entry.ID > best.ID) {
				best = entry
			}
		}
		if best != nil {
			out[code] = best.Unitprice
		}
	}
	return out, nil
}

func (s *Store) ListPriceHistory(_ context.Context, prodcode string, limit int) ([]domain.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.priceHistory[prodcode]
	out := make([]domain.PriceHistoryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Effdate.Equal(out[j].Effdate) {
			return out[i].Effdate.After(out[j].Effdate)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetProductsByCode(_ context.Context, prodcodes []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(prodcodes))
	for _, code := range prodcodes {
		if p, ok := s.products[code]; ok {
			out[code] = p
		}
	}
	return out, nil
}

func (s *Store) ListRecentPayments(_ context.Context, limit int) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Payment, len(s.payments))
	copy(out, s.payments)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Paydate.Equal(out[j].Paydate) {
			return out[i].Paydate.After(out[j].Paydate)
		}
		return out[i].Orno > out[j].Orno
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetDashboardStats(_ context.Context) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.DashboardStats{
		Customers: int64(len(s.customers)),
		Sales:     int64(len(s.salesByTransno)),
		Products:  int64(len(s.products)),
		Payments:  int64(len(s.payments)),
	}, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || user.ID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[email]; exists {
		return store.ErrInvalidInput
	}
	user.Email = email
	s.usersByEmail[email] = user
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(email))
	user, ok := s.usersByEmail[key]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByEmail[key] = user
	return nil
}

func (s *Store) CreateAdmin(_ context.Context, userID string, name string) error {
	if userID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminsByUserID[userID] = name
	return nil
}

func (s *Store) IsAdmin(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.adminsByUserID[userID]
	return ok, nil
}

func (s *Store) LinkUserCustomer(_ context.Context, userID string, custno string) error {
	if userID == "" || custno == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.custnoByUserID[userID] = custno
	return nil
}

func (s *Store) CustomerNoForUser(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.custnoByUserID[userID], nil
}

func (s *Store) UnlinkUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.custnoByUserID, userID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
