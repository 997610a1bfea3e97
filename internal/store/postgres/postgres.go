package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"salescrm/backend/internal/domain"
	"salescrm/backend/internal/store"
	"salescrm/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	query := `
		SELECT custno, custname, COALESCE(address, ''), COALESCE(payterm, '')
		FROM customer
	`
	args := []any{}
	if needle := strings.TrimSpace(search); needle != "" {
		query += ` WHERE custno ILIKE $1 OR custname ILIKE $1 OR address ILIKE $1`
		args = append(args, "%"+needle+"%")
	}
	query += ` ORDER BY custname`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.Custno, &c.Custname, &c.Address, &c.Payterm); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, custno string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT custno, custname, COALESCE(address, ''), COALESCE(payterm, '')
		FROM customer
		WHERE custno = $1
	`, custno).Scan(&c.Custno, &c.Custname, &c.Address, &c.Payterm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) LastCustomerNo(ctx context.Context) (string, error) {
	var custno string
	err := s.db.QueryRowContext(ctx, `
		SELECT custno
		FROM customer
		ORDER BY custno DESC
		LIMIT 1
	`).Scan(&custno)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return custno, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Custno == "" || customer.Custname == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer (custno, custname, address, payterm)
		VALUES ($1, $2, $3, $4)
	`, customer.Custno, customer.Custname, customer.Address, customer.Payterm)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Custno == "" || customer.Custname == "" {
		return nil, store.ErrInvalidInput
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE customer
		SET custname = $2, address = $3, payterm = $4
		WHERE custno = $1
	`, customer.Custno, customer.Custname, customer.Address, customer.Payterm)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := customer
	return &updated, nil
}

// DeleteCustomer removes the customer row and its user-customer link rows in
// one transaction so an account removal never leaves a dangling link.
func (s *Store) DeleteCustomer(ctx context.Context, custno string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_customer_map WHERE customer_id = $1
	`, custno); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM customer WHERE custno = $1
	`, custno)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) ListSalesByCustomer(ctx context.Context, custno string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transno, salesdate, custno, COALESCE(empno, '')
		FROM sales
		WHERE custno = $1
		ORDER BY salesdate DESC, transno DESC
	`, custno)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSales(rows)
}

func (s *Store) ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transno, salesdate, COALESCE(custno, ''), COALESCE(empno, '')
		FROM sales
		ORDER BY salesdate DESC, transno DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSales(rows)
}

func scanSales(rows *sql.Rows) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.Transno, &sale.Salesdate, &sale.Custno, &sale.Empno); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, transno string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT transno, salesdate, COALESCE(custno, ''), COALESCE(empno, '')
		FROM sales
		WHERE transno = $1
	`, transno).Scan(&sale.Transno, &sale.Salesdate, &sale.Custno, &sale.Empno)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSaleLines(ctx context.Context, transno string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transno, prodcode, COALESCE(quantity, 0)
		FROM salesdetail
		WHERE transno = $1
	`, transno)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.Transno, &line.Prodcode, &line.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// EffectivePrices resolves the unit price in effect on asOf for every
// requested product code in a single query. DISTINCT ON keeps the row with
// the latest effdate per code, ties broken by highest id. Codes with no
// qualifying row are absent from the result.
func (s *Store) EffectivePrices(ctx context.Context, prodcodes []string, asOf time.Time) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(prodcodes))
	if len(prodcodes) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (prodcode) prodcode, unitprice
		FROM pricehist
		WHERE prodcode = ANY($1) AND effdate <= $2
		ORDER BY prodcode, effdate DESC, id DESC
	`, prodcodes, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var price decimal.Decimal
		if err := rows.Scan(&code, &price); err != nil {
			return nil, err
		}
		out[code] = price
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, prodcode string, limit int) ([]domain.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prodcode, unitprice, effdate
		FROM pricehist
		WHERE prodcode = $1
		ORDER BY effdate DESC, id DESC
		LIMIT $2
	`, prodcode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PriceHistoryEntry, 0, limit)
	for rows.Next() {
		var entry domain.PriceHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.Prodcode, &entry.Unitprice, &entry.Effdate); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *Store) GetProductsByCode(ctx context.Context, prodcodes []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(prodcodes))
	if len(prodcodes) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT prodcode, COALESCE(description, '')
		FROM product
		WHERE prodcode = ANY($1)
	`, prodcodes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Prodcode, &p.Description); err != nil {
			return nil, err
		}
		out[p.Prodcode] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) ListRecentPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT orno, paydate, COALESCE(amount, 0), COALESCE(transno, '')
		FROM payment
		ORDER BY paydate DESC, orno DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.Orno, &p.Paydate, &p.Amount, &p.Transno); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func (s *Store) GetDashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM customer),
			(SELECT COUNT(*) FROM sales),
			(SELECT COUNT(*) FROM product),
			(SELECT COUNT(*) FROM payment)
	`).Scan(&stats.Customers, &stats.Sales, &stats.Products, &stats.Payments)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return stats, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" || user.Email == "" {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, strings.ToLower(user.Email), user.Name, user.Password, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), password, active, created_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Email, &user.Name, &user.Password, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)), password)
	return err
}

func (s *Store) CreateAdmin(ctx context.Context, userID string, name string) error {
	if userID == "" {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, name)
	return err
}

func (s *Store) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM admins WHERE user_id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) LinkUserCustomer(ctx context.Context, userID string, custno string) error {
	if userID == "" || custno == "" {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_customer_map (id, user_id, customer_id)
		VALUES ($1, $2, $3)
	`, xid.New("map"), userID, custno)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) CustomerNoForUser(ctx context.Context, userID string) (string, error) {
	var custno string
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id
		FROM user_customer_map
		WHERE user_id = $1
	`, userID).Scan(&custno)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return custno, nil
}

func (s *Store) UnlinkUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_customer_map WHERE user_id = $1
	`, userID)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_email, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ActorEmail, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_email, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorEmail, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
