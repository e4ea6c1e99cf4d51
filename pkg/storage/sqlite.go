package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// schema is the §6 SQL layout: one table per record type, metadata/feature
// columns stored as JSON text since sqlite has no native JSON column type.
const schema = `
CREATE TABLE IF NOT EXISTS payment_plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	payment_type TEXT NOT NULL,
	price TEXT NOT NULL,
	currency TEXT NOT NULL,
	price_per_request TEXT,
	billing_period TEXT,
	requests_per_period INTEGER,
	free_requests INTEGER NOT NULL,
	features TEXT NOT NULL,
	is_active INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	plan_id TEXT NOT NULL,
	status TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT,
	current_period_start TEXT,
	current_period_end TEXT,
	usage_count INTEGER NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);

CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	feature TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	cost TEXT,
	currency TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_user_id ON usage_records(user_id);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	payment_method TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

// SQLiteBackend is the database/sql backend, driven by mattn/go-sqlite3 per
// §6's storage layout. It uses the database's own native transactions
// instead of the snapshot scheme MemoryBackend and FileBackend use, since
// sqlite already gives ACID scopes for free.
type SQLiteBackend struct {
	db       *sql.DB
	scopeTxn *sql.Tx
	lock     *ReentrantLock
}

// NewSQLiteBackend opens (creating if absent) the sqlite file at path and
// applies the schema.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, payerrors.Storage("failed to open sqlite database", map[string]any{"path": path, "error": err.Error()})
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers regardless; avoid SQLITE_BUSY noise
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, payerrors.Storage("failed to apply sqlite schema", map[string]any{"error": err.Error()})
	}
	return &SQLiteBackend{db: db, lock: NewReentrantLock("sqlite-backend")}, nil
}

func (s *SQLiteBackend) Capabilities() Capabilities {
	return Capabilities{SupportsTransactions: true, SupportsBulkOperations: true, MaxDataSize: defaultMaxDataSize}
}

// execer abstracts over *sql.DB and *sql.Tx so every method works whether or
// not a caller-scoped transaction is active.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteBackend) conn() execer {
	if s.scopeTxn != nil {
		return s.scopeTxn
	}
	return s.db
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseRFC3339(v string) (time.Time, error) { return time.Parse(time.RFC3339Nano, v) }

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return rfc3339(*t)
}

func scanNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseRFC3339(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanNullableDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, payerrors.Storage("corrupt decimal column", map[string]any{"error": err.Error()})
	}
	return &d, nil
}

// --- plans ---

func (s *SQLiteBackend) SavePlan(ctx context.Context, p *domain.PaymentPlan) error {
	features, _ := json.Marshal(p.Features)
	isActive := 0
	if p.IsActive {
		isActive = 1
	}
	var requestsPerPeriod any
	if p.RequestsPerPeriod != nil {
		requestsPerPeriod = *p.RequestsPerPeriod
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO payment_plans (id, name, description, payment_type, price, currency, price_per_request,
			billing_period, requests_per_period, free_requests, features, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, payment_type=excluded.payment_type,
			price=excluded.price, currency=excluded.currency, price_per_request=excluded.price_per_request,
			billing_period=excluded.billing_period, requests_per_period=excluded.requests_per_period,
			free_requests=excluded.free_requests, features=excluded.features, is_active=excluded.is_active
	`, p.ID, p.Name, nullableString(p.Description), string(p.PaymentType), p.Price.String(), p.Currency,
		nullableDecimal(p.PricePerRequest), nullableString(string(p.BillingPeriod)), requestsPerPeriod,
		p.FreeRequests, string(features), isActive, rfc3339(p.CreatedAt))
	if err != nil {
		return payerrors.Storage("failed to save payment plan", map[string]any{"error": err.Error()})
	}
	return nil
}

func scanPlanRow(row interface {
	Scan(dest ...any) error
}) (*domain.PaymentPlan, error) {
	var p domain.PaymentPlan
	var description, priceStr, pricePerRequest, billingPeriod sql.NullString
	var requestsPerPeriod sql.NullInt64
	var features string
	var isActive int
	var createdAt string

	err := row.Scan(&p.ID, &p.Name, &description, &p.PaymentType, &priceStr, &p.Currency, &pricePerRequest,
		&billingPeriod, &requestsPerPeriod, &p.FreeRequests, &features, &isActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, payerrors.Storage("failed to scan payment plan", map[string]any{"error": err.Error()})
	}

	p.Description = description.String
	p.BillingPeriod = domain.BillingPeriod(billingPeriod.String)
	p.IsActive = isActive != 0

	price, err := decimal.NewFromString(priceStr.String)
	if err != nil {
		return nil, payerrors.Storage("corrupt price column", map[string]any{"error": err.Error()})
	}
	p.Price = price

	if ppr, err := scanNullableDecimal(pricePerRequest); err != nil {
		return nil, err
	} else {
		p.PricePerRequest = ppr
	}
	if requestsPerPeriod.Valid {
		v := requestsPerPeriod.Int64
		p.RequestsPerPeriod = &v
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, payerrors.Storage("corrupt features column", map[string]any{"error": err.Error()})
	}
	p.CreatedAt, err = parseRFC3339(createdAt)
	if err != nil {
		return nil, payerrors.Storage("corrupt created_at column", map[string]any{"error": err.Error()})
	}
	return &p, nil
}

func (s *SQLiteBackend) GetPlan(ctx context.Context, id string) (*domain.PaymentPlan, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, name, description, payment_type, price, currency, price_per_request,
			billing_period, requests_per_period, free_requests, features, is_active, created_at
		FROM payment_plans WHERE id = ?
	`, id)
	return scanPlanRow(row)
}

func (s *SQLiteBackend) ListPlans(ctx context.Context) ([]*domain.PaymentPlan, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, name, description, payment_type, price, currency, price_per_request,
			billing_period, requests_per_period, free_requests, features, is_active, created_at
		FROM payment_plans
	`)
	if err != nil {
		return nil, payerrors.Storage("failed to list payment plans", map[string]any{"error": err.Error()})
	}
	defer rows.Close()

	var out []*domain.PaymentPlan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// --- subscriptions ---

func (s *SQLiteBackend) SaveSubscription(ctx context.Context, sub *domain.Subscription) error {
	var metadata any
	if sub.Metadata != nil {
		b, _ := json.Marshal(sub.Metadata)
		metadata = string(b)
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, status, start_date, end_date,
			current_period_start, current_period_end, usage_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, plan_id=excluded.plan_id, status=excluded.status,
			start_date=excluded.start_date, end_date=excluded.end_date,
			current_period_start=excluded.current_period_start, current_period_end=excluded.current_period_end,
			usage_count=excluded.usage_count, metadata=excluded.metadata
	`, sub.ID, sub.UserID, sub.PlanID, string(sub.Status), rfc3339(sub.StartDate), nullableTime(sub.EndDate),
		nullableTime(sub.CurrentPeriodStart), nullableTime(sub.CurrentPeriodEnd), sub.UsageCount, metadata)
	if err != nil {
		return payerrors.Storage("failed to save subscription", map[string]any{"error": err.Error()})
	}
	return nil
}

func scanSubscriptionRow(row interface {
	Scan(dest ...any) error
}) (*domain.Subscription, error) {
	var sub domain.Subscription
	var startDate string
	var endDate, periodStart, periodEnd, metadata sql.NullString

	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &startDate, &endDate,
		&periodStart, &periodEnd, &sub.UsageCount, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, payerrors.Storage("failed to scan subscription", map[string]any{"error": err.Error()})
	}

	sub.StartDate, err = parseRFC3339(startDate)
	if err != nil {
		return nil, payerrors.Storage("corrupt start_date column", map[string]any{"error": err.Error()})
	}
	if sub.EndDate, err = scanNullableTime(endDate); err != nil {
		return nil, payerrors.Storage("corrupt end_date column", map[string]any{"error": err.Error()})
	}
	if sub.CurrentPeriodStart, err = scanNullableTime(periodStart); err != nil {
		return nil, payerrors.Storage("corrupt current_period_start column", map[string]any{"error": err.Error()})
	}
	if sub.CurrentPeriodEnd, err = scanNullableTime(periodEnd); err != nil {
		return nil, payerrors.Storage("corrupt current_period_end column", map[string]any{"error": err.Error()})
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sub.Metadata); err != nil {
			return nil, payerrors.Storage("corrupt metadata column", map[string]any{"error": err.Error()})
		}
	}
	return &sub, nil
}

func (s *SQLiteBackend) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, user_id, plan_id, status, start_date, end_date, current_period_start, current_period_end, usage_count, metadata
		FROM subscriptions WHERE id = ?
	`, id)
	return scanSubscriptionRow(row)
}

func (s *SQLiteBackend) GetUserSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, user_id, plan_id, status, start_date, end_date, current_period_start, current_period_end, usage_count, metadata
		FROM subscriptions WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, payerrors.Storage("failed to load user subscription", map[string]any{"error": err.Error()})
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubscriptionRow(rows)
		if err != nil {
			return nil, err
		}
		if sub.IsActive() {
			return sub, nil
		}
	}
	return nil, nil
}

// --- usage ---

func (s *SQLiteBackend) SaveUsage(ctx context.Context, r *domain.UsageRecord) error {
	var metadata any
	if r.Metadata != nil {
		b, _ := json.Marshal(r.Metadata)
		metadata = string(b)
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT OR REPLACE INTO usage_records (id, user_id, feature, timestamp, cost, currency, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Feature, rfc3339(r.Timestamp), nullableDecimal(r.Cost), nullableString(r.Currency), metadata)
	if err != nil {
		return payerrors.Storage("failed to save usage record", map[string]any{"error": err.Error()})
	}
	return nil
}

func (s *SQLiteBackend) GetUserUsage(ctx context.Context, userID string, from, to *time.Time) ([]*domain.UsageRecord, error) {
	query := `SELECT id, user_id, feature, timestamp, cost, currency, metadata FROM usage_records WHERE user_id = ?`
	args := []any{userID}
	if from != nil {
		query += ` AND timestamp >= ?`
		args = append(args, rfc3339(*from))
	}
	if to != nil {
		query += ` AND timestamp <= ?`
		args = append(args, rfc3339(*to))
	}
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, payerrors.Storage("failed to list usage records", map[string]any{"error": err.Error()})
	}
	defer rows.Close()

	var out []*domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		var ts string
		var cost, currency, metadata sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Feature, &ts, &cost, &currency, &metadata); err != nil {
			return nil, payerrors.Storage("failed to scan usage record", map[string]any{"error": err.Error()})
		}
		r.Timestamp, err = parseRFC3339(ts)
		if err != nil {
			return nil, payerrors.Storage("corrupt usage timestamp", map[string]any{"error": err.Error()})
		}
		if r.Cost, err = scanNullableDecimal(cost); err != nil {
			return nil, err
		}
		r.Currency = currency.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, payerrors.Storage("corrupt metadata column", map[string]any{"error": err.Error()})
			}
		}
		out = append(out, &r)
	}
	sortUsageByTimestampAsc(out)
	return out, nil
}

// --- transactions ---

func (s *SQLiteBackend) SaveTransaction(ctx context.Context, t *domain.PaymentTransaction) error {
	var metadata any
	if t.Metadata != nil {
		b, _ := json.Marshal(t.Metadata)
		metadata = string(b)
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, currency, payment_method, status, created_at, completed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Amount.String(), t.Currency, nullableString(t.PaymentMethod), string(t.Status),
		rfc3339(t.CreatedAt), nullableTime(t.CompletedAt), metadata)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return payerrors.Storage("duplicate transaction id", map[string]any{"id": t.ID})
		}
		return payerrors.Storage("failed to save transaction", map[string]any{"error": err.Error()})
	}
	return nil
}

func (s *SQLiteBackend) UpdateTransaction(ctx context.Context, t *domain.PaymentTransaction) error {
	var metadata any
	if t.Metadata != nil {
		b, _ := json.Marshal(t.Metadata)
		metadata = string(b)
	}
	res, err := s.conn().ExecContext(ctx, `
		UPDATE transactions SET amount=?, currency=?, payment_method=?, status=?, completed_at=?, metadata=? WHERE id=?
	`, t.Amount.String(), t.Currency, nullableString(t.PaymentMethod), string(t.Status), nullableTime(t.CompletedAt), metadata, t.ID)
	if err != nil {
		return payerrors.Storage("failed to update transaction", map[string]any{"error": err.Error()})
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return payerrors.Storage("transaction not found", map[string]any{"id": t.ID})
	}
	return nil
}

func scanTransactionRow(row interface {
	Scan(dest ...any) error
}) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	var amountStr string
	var paymentMethod, completedAt, metadata sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.UserID, &amountStr, &t.Currency, &paymentMethod, &t.Status, &createdAt, &completedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, payerrors.Storage("failed to scan transaction", map[string]any{"error": err.Error()})
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, payerrors.Storage("corrupt amount column", map[string]any{"error": err.Error()})
	}
	t.Amount = amount
	t.PaymentMethod = paymentMethod.String

	t.CreatedAt, err = parseRFC3339(createdAt)
	if err != nil {
		return nil, payerrors.Storage("corrupt created_at column", map[string]any{"error": err.Error()})
	}
	if t.CompletedAt, err = scanNullableTime(completedAt); err != nil {
		return nil, payerrors.Storage("corrupt completed_at column", map[string]any{"error": err.Error()})
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, payerrors.Storage("corrupt metadata column", map[string]any{"error": err.Error()})
		}
	}
	return &t, nil
}

func (s *SQLiteBackend) GetTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, user_id, amount, currency, payment_method, status, created_at, completed_at, metadata
		FROM transactions WHERE id = ?
	`, id)
	return scanTransactionRow(row)
}

func (s *SQLiteBackend) ListTransactions(ctx context.Context, userID *string, status *domain.TransactionStatus, limit int) ([]*domain.PaymentTransaction, error) {
	query := `SELECT id, user_id, amount, currency, payment_method, status, created_at, completed_at, metadata FROM transactions WHERE 1=1`
	var args []any
	if userID != nil {
		query += ` AND user_id = ?`
		args = append(args, *userID)
	}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, payerrors.Storage("failed to list transactions", map[string]any{"error": err.Error()})
	}
	defer rows.Close()

	var out []*domain.PaymentTransaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// --- transaction scope ---

func (s *SQLiteBackend) BeginTransaction(ctx context.Context) error {
	if err := s.lock.Acquire(scopeLockTimeout); err != nil {
		return err
	}
	if s.scopeTxn != nil {
		s.lock.Release()
		return payerrors.Storage("transaction already in progress for this goroutine", nil)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.lock.Release()
		return payerrors.Storage("failed to begin sqlite transaction", map[string]any{"error": err.Error()})
	}
	s.scopeTxn = tx
	return nil
}

func (s *SQLiteBackend) Commit(_ context.Context) error {
	if s.scopeTxn == nil {
		return payerrors.Storage("commit without an active transaction", nil)
	}
	err := s.scopeTxn.Commit()
	s.scopeTxn = nil
	s.lock.Release()
	if err != nil {
		return payerrors.Storage("failed to commit sqlite transaction", map[string]any{"error": err.Error()})
	}
	return nil
}

func (s *SQLiteBackend) Rollback(_ context.Context) error {
	if s.scopeTxn == nil {
		return payerrors.Storage("rollback without an active transaction", nil)
	}
	err := s.scopeTxn.Rollback()
	s.scopeTxn = nil
	s.lock.Release()
	if err != nil {
		return payerrors.Storage("failed to rollback sqlite transaction", map[string]any{"error": err.Error()})
	}
	return nil
}

func (s *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return RunHealthCheck("sqlite", func() error {
		if err := s.db.PingContext(ctx); err != nil {
			return payerrors.Storage("sqlite ping failed", map[string]any{"error": err.Error()})
		}
		scratch := &domain.PaymentTransaction{
			ID: "__health_check__", UserID: "__health_check__", Currency: "USD", Status: domain.TransactionPending,
			CreatedAt: time.Now(), Amount: decimal.Zero,
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, scratch.ID)
		if err := s.SaveTransaction(ctx, scratch); err != nil {
			return err
		}
		got, err := s.GetTransaction(ctx, scratch.ID)
		if err != nil {
			return err
		}
		if got == nil || got.ID != scratch.ID {
			return payerrors.Storage("health check round-trip mismatch", nil)
		}
		_, err = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, scratch.ID)
		return err
	})
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
