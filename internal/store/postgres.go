package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
)

// LedgerStore is the Postgres-backed ledger. Every balance change is a
// single conditional UPDATE, so concurrent writers never lose updates.
type LedgerStore struct {
	Db *pgxpool.Pool
}

func NewLedgerStore(db *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{Db: db}
}

// Connect opens a tuned connection pool and verifies it with a ping.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func (s *LedgerStore) Close() {
	s.Db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *LedgerStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- users ---

func (s *LedgerStore) GetOrCreateUser(ctx context.Context, id string) (*domain.User, error) {
	_, err := s.Db.Exec(ctx, "INSERT INTO users (id, balance) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING", id)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *LedgerStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.Db.QueryRow(ctx, "SELECT id, balance, created_at FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Balance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// Debit subtracts amount only if the balance covers it, in one statement.
func (s *LedgerStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.Db.QueryRow(ctx,
		"UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance",
		amount, userID,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("debit: %w", err)
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	return decimal.Zero, ErrInsufficientBalance
}

// --- deposits ---

const depositColumns = "tx_id, charge_id, user_id, amount, paid_amount, status, created_at, confirmed_at, credited_at"

func scanDeposit(row pgx.Row) (*domain.Deposit, error) {
	var d domain.Deposit
	var status string
	err := row.Scan(&d.TxID, &d.ChargeID, &d.UserID, &d.Amount, &d.PaidAmount, &status,
		&d.CreatedAt, &d.ConfirmedAt, &d.CreditedAt)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DepositStatus(status)
	return &d, nil
}

// RecordCharge persists a new pending deposit and, when intent is non-nil,
// its deferred intent in the same transaction.
func (s *LedgerStore) RecordCharge(ctx context.Context, dep *domain.Deposit, intent *domain.DeferredIntent) error {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		"INSERT INTO deposits (tx_id, charge_id, user_id, amount, status) VALUES ($1, $2, $3, $4, 'pending') RETURNING created_at",
		dep.TxID, dep.ChargeID, dep.UserID, dep.Amount,
	).Scan(&dep.CreatedAt)
	if err != nil {
		return translateWriteErr("insert deposit", err)
	}
	dep.Status = domain.DepositPending

	if intent != nil {
		descriptor, err := json.Marshal(intent.Descriptor)
		if err != nil {
			return fmt.Errorf("encode descriptor: %w", err)
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO deferred_intents (id, user_id, charge_id, descriptor, shortfall, status)
			 VALUES ($1, $2, $3, $4, $5, 'waiting_payment') RETURNING created_at`,
			intent.ID, intent.UserID, intent.ChargeID, descriptor, intent.Shortfall,
		).Scan(&intent.CreatedAt)
		if err != nil {
			return translateWriteErr("insert intent", err)
		}
		intent.Status = domain.IntentWaitingPayment
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetDepositByTxID(ctx context.Context, txID string) (*domain.Deposit, error) {
	d, err := scanDeposit(s.Db.QueryRow(ctx, "SELECT "+depositColumns+" FROM deposits WHERE tx_id = $1", txID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deposit: %w", err)
	}
	return d, nil
}

// ConfirmDeposit moves a pending deposit to confirmed and records the paid
// amount. The bool is false when the deposit had already been confirmed.
func (s *LedgerStore) ConfirmDeposit(ctx context.Context, txID string, paid decimal.Decimal) (*domain.Deposit, bool, error) {
	d, err := scanDeposit(s.Db.QueryRow(ctx,
		`UPDATE deposits SET status = 'confirmed', paid_amount = $2, confirmed_at = NOW()
		 WHERE tx_id = $1 AND status = 'pending'
		 RETURNING `+depositColumns,
		txID, paid))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("confirm deposit: %w", err)
	}
	existing, err := s.GetDepositByTxID(ctx, txID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CreditDeposit adds a confirmed deposit's paid amount to its user's
// balance and stamps credited_at, both in one transaction. It returns false
// when the deposit was already credited.
func (s *LedgerStore) CreditDeposit(ctx context.Context, txID string) (decimal.Decimal, bool, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	var paid decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE deposits SET credited_at = NOW()
		 WHERE tx_id = $1 AND status = 'confirmed' AND credited_at IS NULL
		 RETURNING user_id, paid_amount`,
		txID,
	).Scan(&userID, &paid)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.GetDepositByTxID(ctx, txID); err != nil {
			return decimal.Zero, false, err
		}
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("mark credited: %w", err)
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance", paid, userID).
		Scan(&balance)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("credit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return balance, true, nil
}

// ListUncreditedDeposits returns confirmed deposits whose credit never landed.
func (s *LedgerStore) ListUncreditedDeposits(ctx context.Context, limit int) ([]domain.Deposit, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+depositColumns+` FROM deposits
		 WHERE status = 'confirmed' AND credited_at IS NULL
		 ORDER BY confirmed_at ASC LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list uncredited deposits: %w", err)
	}
	defer rows.Close()

	var out []domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListPendingDeposits returns deposits still awaiting a payment notification.
func (s *LedgerStore) ListPendingDeposits(ctx context.Context, limit int) ([]domain.Deposit, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1",
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	defer rows.Close()

	var out []domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// --- orders ---

const orderColumns = "id, user_id, kind, descriptor, amount, status, result, created_at, updated_at"

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var kind, status string
	var descriptor, result []byte
	err := row.Scan(&o.ID, &o.UserID, &kind, &descriptor, &o.Amount, &status, &result, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(descriptor, &o.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	o.Kind = domain.Kind(kind)
	o.Status = domain.OrderStatus(status)
	if len(result) > 0 {
		o.Result = json.RawMessage(result)
	}
	return &o, nil
}

func (s *LedgerStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	descriptor, err := json.Marshal(o.Descriptor)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	err = s.Db.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, kind, descriptor, amount, status, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		o.ID, o.UserID, string(o.Kind), descriptor, o.Amount, string(o.Status), nullableJSON(o.Result),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return translateWriteErr("insert order", err)
	}
	return nil
}

// UpdateOrder sets status and result. A fulfilled or failed order keeps its
// status; only its result payload may still change.
func (s *LedgerStore) UpdateOrder(ctx context.Context, id uuid.UUID, status domain.OrderStatus, result json.RawMessage) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE orders SET status = $2, result = $3, updated_at = NOW()
		 WHERE id = $1 AND (status = 'pending' OR status = $2)`,
		id, string(status), nullableJSON(result))
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return err
	}
	return ErrStateConflict
}

func (s *LedgerStore) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(s.Db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *LedgerStore) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- deferred intents ---

const intentColumns = "i.id, i.user_id, i.charge_id, i.descriptor, i.shortfall, i.status, i.order_id, i.created_at, i.completed_at"

func scanIntent(row pgx.Row) (*domain.DeferredIntent, error) {
	var in domain.DeferredIntent
	var status string
	var descriptor []byte
	err := row.Scan(&in.ID, &in.UserID, &in.ChargeID, &descriptor, &in.Shortfall, &status,
		&in.OrderID, &in.CreatedAt, &in.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(descriptor, &in.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	in.Status = domain.IntentStatus(status)
	return &in, nil
}

// GetWaitingIntent looks up the intent for chargeID that still waits for
// payment. Completed intents are invisible to this lookup.
func (s *LedgerStore) GetWaitingIntent(ctx context.Context, chargeID string) (*domain.DeferredIntent, error) {
	in, err := scanIntent(s.Db.QueryRow(ctx,
		"SELECT "+intentColumns+" FROM deferred_intents i WHERE i.charge_id = $1 AND i.status = 'waiting_payment'",
		chargeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return in, nil
}

// CompleteIntent is the one-way waiting_payment -> completed transition.
// Losing a race against a concurrent completion yields ErrStateConflict.
func (s *LedgerStore) CompleteIntent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE deferred_intents SET status = 'completed', completed_at = NOW() WHERE id = $1 AND status = 'waiting_payment'",
		id)
	if err != nil {
		return fmt.Errorf("complete intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// SetIntentOrder links a completed intent to the order its replay produced.
func (s *LedgerStore) SetIntentOrder(ctx context.Context, id, orderID uuid.UUID) error {
	tag, err := s.Db.Exec(ctx, "UPDATE deferred_intents SET order_id = $2 WHERE id = $1", id, orderID)
	if err != nil {
		return fmt.Errorf("set intent order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStrandedIntents returns waiting intents whose deposit was already
// confirmed and credited, i.e. the replay step never ran.
func (s *LedgerStore) ListStrandedIntents(ctx context.Context, limit int) ([]domain.DeferredIntent, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+intentColumns+` FROM deferred_intents i
		 JOIN deposits d ON d.charge_id = i.charge_id
		 WHERE i.status = 'waiting_payment' AND d.status = 'confirmed' AND d.credited_at IS NOT NULL
		 ORDER BY i.created_at ASC LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list stranded intents: %w", err)
	}
	defer rows.Close()

	var out []domain.DeferredIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func translateWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
