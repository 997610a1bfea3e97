package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// defaultExpandWorkers bounds how many transactions are expanded
// concurrently when listing a customer's history.
const defaultExpandWorkers = 4

type Service struct {
	repo          store.Repository
	expandWorkers int
}

func New(repo store.Repository) *Service {
	return &Service{
		repo:          repo,
		expandWorkers: defaultExpandWorkers,
	}
}

// ResolvePrice returns the unit price of prodcode in effect on asOf: the
// price-history entry with the latest effdate not after asOf. A product with
// no qualifying entry resolves to zero; that is a soft miss, not an error.
func (s *Service) ResolvePrice(ctx context.Context, prodcode string, asOf time.Time) (decimal.Decimal, error) {
	prodcode = strings.TrimSpace(prodcode)
	if prodcode == "" {
		return decimal.Zero, store.ErrInvalidInput
	}

	prices, err := s.repo.EffectivePrices(ctx, []string{prodcode}, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[prodcode]
	if !ok {
		return decimal.Zero, nil
	}
	return price, nil
}

// ExpandTransaction fetches the line items of transno and prices each one as
// of asOf. Distinct product codes are resolved in one batched lookup; output
// order mirrors the line-item fetch order. Any fetch failure aborts the whole
// expansion; partial results are never returned.
func (s *Service) ExpandTransaction(ctx context.Context, transno string, asOf time.Time) ([]domain.PricedLine, error) {
	lines, err := s.repo.ListSaleLines(ctx, transno)
	if err != nil {
		return nil, err
	}

	priced, err := s.priceLines(ctx, lines, asOf)
	if err != nil {
		return nil, err
	}
	return priced, nil
}

func (s *Service) priceLines(ctx context.Context, lines []domain.SaleLine, asOf time.Time) ([]domain.PricedLine, error) {
	prices, err := s.repo.EffectivePrices(ctx, distinctProdcodes(lines), asOf)
	if err != nil {
		return nil, err
	}

	priced := make([]domain.PricedLine, 0, len(lines))
	for _, line := range lines {
		unitprice := prices[line.Prodcode] // zero when never priced as of asOf
		qty := line.Quantity
		if qty < 0 {
			qty = 0
		}
		priced = append(priced, domain.PricedLine{
			Prodcode:  line.Prodcode,
			Quantity:  qty,
			Unitprice: unitprice,
			Subtotal:  unitprice.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return priced, nil
}

func distinctProdcodes(lines []domain.SaleLine) []string {
	seen := make(map[string]bool, len(lines))
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line.Prodcode] {
			seen[line.Prodcode] = true
			codes = append(codes, line.Prodcode)
		}
	}
	return codes
}

// CustomerTransactions lists custno's sales, most recent first, each with its
// fully computed total. Transactions are expanded concurrently with bounded
// parallelism; a failing expansion marks only its own summary with an error
// and a zero total instead of aborting the listing. Failure to fetch the
// sales list itself still fails the call.
func (s *Service) CustomerTransactions(ctx context.Context, custno string) ([]domain.CustomerTransaction, error) {
	custno = strings.TrimSpace(custno)
	if custno == "" {
		return nil, store.ErrInvalidInput
	}

	sales, err := s.repo.ListSalesByCustomer(ctx, custno)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.CustomerTransaction, len(sales))
	workers := s.expandWorkers
	if workers > len(sales) {
		workers = len(sales)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sale := sales[i]
				summary := domain.CustomerTransaction{
					Transno:    sale.Transno,
					Salesdate:  sale.Salesdate.Format(domain.DateLayout),
					TotalSales: decimal.Zero,
				}
				priced, err := s.ExpandTransaction(ctx, sale.Transno, sale.Salesdate)
				if err != nil {
					summary.Error = err.Error()
				} else {
					total := decimal.Zero
					for _, line := range priced {
						total = total.Add(line.Subtotal)
					}
					summary.TotalSales = total
				}
				summaries[i] = summary
			}
		}()
	}
	for i := range sales {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return summaries, nil
}

// TransactionDetails returns the priced breakdown of one transaction for
// display: each line with its product description, unit price in effect on
// salesdate, and subtotal. Unknown product codes get an empty description.
func (s *Service) TransactionDetails(ctx context.Context, transno string, salesdate string) ([]domain.PricedLine, error) {
	transno = strings.TrimSpace(transno)
	if transno == "" {
		return nil, store.ErrInvalidInput
	}
	asOf, err := time.Parse(domain.DateLayout, strings.TrimSpace(salesdate))
	if err != nil {
		return nil, store.ErrInvalidInput
	}

	lines, err := s.repo.ListSaleLines(ctx, transno)
	if err != nil {
		return nil, err
	}

	priced, err := s.priceLines(ctx, lines, asOf)
	if err != nil {
		return nil, err
	}

	products, err := s.repo.GetProductsByCode(ctx, distinctProdcodes(lines))
	if err != nil {
		return nil, err
	}
	for i := range priced {
		priced[i].Description = products[priced[i].Prodcode].Description
	}

	return priced, nil
}

// CustomerTransactionReport assembles the printable per-customer report:
// customer header, full transaction listing, grand total over the
// successfully expanded transactions.
func (s *Service) CustomerTransactionReport(ctx context.Context, custno string) (domain.CustomerTransactionReport, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(custno))
	if err != nil {
		return domain.CustomerTransactionReport{}, err
	}

	transactions, err := s.CustomerTransactions(ctx, customer.Custno)
	if err != nil {
		return domain.CustomerTransactionReport{}, err
	}

	grand := decimal.Zero
	for _, tx := range transactions {
		grand = grand.Add(tx.TotalSales)
	}

	return domain.CustomerTransactionReport{
		Customer:     *customer,
		Transactions: transactions,
		GrandTotal:   grand,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, search)
}

func (s *Service) GetCustomer(ctx context.Context, custno string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(custno))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

var custnoPattern = regexp.MustCompile(`^C\d+$`)

// NextCustomerID generates the next customer code: the highest existing
// C-prefixed numeric code plus one, zero-padded to four digits, starting at
// C0001 when no customer matches the pattern.
func (s *Service) NextCustomerID(ctx context.Context) (string, error) {
	last, err := s.repo.LastCustomerNo(ctx)
	if err != nil {
		return "", err
	}

	nextID := "C0001"
	if custnoPattern.MatchString(last) {
		n, err := strconv.Atoi(last[1:])
		if err != nil {
			return "", fmt.Errorf("malformed customer number %q: %w", last, err)
		}
		nextID = fmt.Sprintf("C%04d", n+1)
	}
	return nextID, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Customer{}, fmt.Errorf("admin role required")
	}

	req.Custname = strings.TrimSpace(req.Custname)
	if req.Custname == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}
	if req.Payterm != "" && !isValidPayterm(req.Payterm) {
		return domain.Customer{}, store.ErrInvalidInput
	}

	custno := strings.TrimSpace(req.Custno)
	if custno == "" {
		next, err := s.NextCustomerID(ctx)
		if err != nil {
			return domain.Customer{}, err
		}
		custno = next
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Custno:   custno,
		Custname: req.Custname,
		Address:  strings.TrimSpace(req.Address),
		Payterm:  req.Payterm,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.Custno, fmt.Sprintf("name=%s,payterm=%s", created.Custname, created.Payterm))
	return *created, nil
}

// ProvisionCustomer creates the customer record backing a fresh customer
// signup: next available code, COD payment terms, empty address.
func (s *Service) ProvisionCustomer(ctx context.Context, name string) (domain.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	custno, err := s.NextCustomerID(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Custno:   custno,
		Custname: name,
		Address:  "",
		Payterm:  domain.PaytermCOD,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, custno string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Customer{}, fmt.Errorf("authentication required")
	}
	// Customers may only edit their own record.
	if actor.Role != domain.RoleAdmin && actor.Custno != custno {
		return domain.Customer{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetCustomer(ctx, strings.TrimSpace(custno))
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Custname != nil {
		name := strings.TrimSpace(*req.Custname)
		if name == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Custname = name
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Payterm != nil {
		if !isValidPayterm(*req.Payterm) {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Payterm = *req.Payterm
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", saved.Custno, fmt.Sprintf("name=%s,payterm=%s", saved.Custname, saved.Payterm))
	return *saved, nil
}

// DeleteCustomer removes the customer record; the store cascades to the
// user-customer link rows so account removal leaves no dangling link.
func (s *Service) DeleteCustomer(ctx context.Context, custno string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin && actor.Custno != custno {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteCustomer(ctx, strings.TrimSpace(custno)); err != nil {
		return err
	}

	s.logAudit(ctx, "customer_delete", "customer", custno, "")
	return nil
}

func (s *Service) RecentSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 10
	}
	return s.repo.ListRecentSales(ctx, limit)
}

func (s *Service) RecentPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 10
	}
	return s.repo.ListRecentPayments(ctx, limit)
}

func (s *Service) ListPriceHistory(ctx context.Context, prodcode string, limit int) ([]domain.PriceHistoryEntry, error) {
	prodcode = strings.TrimSpace(prodcode)
	if prodcode == "" {
		return nil, store.ErrInvalidInput
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPriceHistory(ctx, prodcode, limit)
}

// Profile returns the customer record and transaction history linked to the
// acting user.
func (s *Service) Profile(ctx context.Context) (domain.ProfileResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Custno == "" {
		return domain.ProfileResponse{}, store.ErrNotFound
	}

	customer, err := s.repo.GetCustomer(ctx, actor.Custno)
	if err != nil {
		return domain.ProfileResponse{}, err
	}

	transactions, err := s.CustomerTransactions(ctx, customer.Custno)
	if err != nil {
		return domain.ProfileResponse{}, err
	}

	return domain.ProfileResponse{
		Customer:     *customer,
		Transactions: transactions,
	}, nil
}

// DeleteAccount removes the acting customer's record, its link row, and is
// followed by the caller discarding the token (there is no server-side
// session to revoke).
func (s *Service) DeleteAccount(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Custno == "" {
		return store.ErrNotFound
	}

	if err := s.repo.DeleteCustomer(ctx, actor.Custno); err != nil {
		return err
	}
	if err := s.repo.UnlinkUser(ctx, actor.UserID); err != nil {
		return err
	}

	s.logAudit(ctx, "account_delete", "customer", actor.Custno, "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorEmail: actor.Email,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
}

func isValidPayterm(payterm string) bool {
	switch payterm {
	case domain.PaytermCOD, domain.Payterm30D, domain.Payterm45D:
		return true
	}
	return false
}
