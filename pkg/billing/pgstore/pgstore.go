// Package pgstore implements billing.Store on PostgreSQL with pgx.
//
// Every write to a subscription row happens inside a transaction holding the
// row lock (SELECT ... FOR UPDATE). The partial unique index
// client_subscriptions_one_open_idx enforces at most one open subscription per
// (tenant, client, plan).
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OneOpenIndex is the partial unique index guarding open subscriptions.
const OneOpenIndex = "client_subscriptions_one_open_idx"

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrations, "migrations", table, log)
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ billing.Store           = (*Store)(nil)
	_ billing.RecipientStore  = (*Store)(nil)
	_ gateway.CredentialStore = (*Store)(nil)
)

func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("pgstore: pool is required")
	}
	return &Store{pool: pool}
}

const planColumns = `id, tenant_id, name, description, price_amount, currency, billing_interval,
	trial_days, active, COALESCE(product_ref, ''), COALESCE(price_ref, ''), created_at, updated_at`

func scanPlan(row pgx.Row) (*billing.Plan, error) {
	var p billing.Plan
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Price.Amount, &p.Price.Currency,
		&p.Interval, &p.TrialDays, &p.Active, &p.ProductRef, &p.PriceRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func getPlan(ctx context.Context, db dbtx, tenantID, planID uuid.UUID) (*billing.Plan, error) {
	p, err := scanPlan(db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM service_plans WHERE id = $1 AND tenant_id = $2`, planID, tenantID))
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, tenantID, planID uuid.UUID) (*billing.Plan, error) {
	return getPlan(ctx, s.pool, tenantID, planID)
}

func (s *Store) SetPlanRefs(ctx context.Context, tenantID, planID uuid.UUID, productRef, priceRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE service_plans
		SET product_ref = NULLIF($3, ''), price_ref = NULLIF($4, ''), updated_at = now()
		WHERE id = $1 AND tenant_id = $2`,
		planID, tenantID, productRef, priceRef)
	if err != nil {
		return fmt.Errorf("set plan refs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, tenantID, clientID uuid.UUID) (*billing.Client, error) {
	var c billing.Client
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM clients WHERE id = $1 AND tenant_id = $2`, clientID, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", notFound(err))
	}
	return &c, nil
}

const subColumns = `id, tenant_id, client_id, plan_id, COALESCE(customer_ref, ''), COALESCE(subscription_ref, ''),
	status, current_period_start, current_period_end, past_due_at, canceled_at, COALESCE(cancel_reason, ''), created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var s billing.Subscription
	err := row.Scan(&s.ID, &s.TenantID, &s.ClientID, &s.PlanID, &s.CustomerRef, &s.SubscriptionRef,
		&s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.PastDueAt, &s.CanceledAt, &s.CancelReason,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO client_subscriptions (id, tenant_id, client_id, plan_id, customer_ref, subscription_ref, status, past_due_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING created_at, updated_at`,
		sub.ID, sub.TenantID, sub.ClientID, sub.PlanID, sub.CustomerRef, sub.SubscriptionRef, sub.Status, sub.PastDueAt,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err == nil {
		return nil
	}
	if !pg.IsDuplicateKeyError(err, OneOpenIndex) {
		return fmt.Errorf("insert subscription: %w", err)
	}

	existing, ferr := s.FindOpenSubscription(ctx, sub.TenantID, sub.ClientID, sub.PlanID)
	if ferr != nil {
		// The blocking row was closed in between; report the conflict anyway.
		return &billing.DuplicateActiveSubscriptionError{}
	}
	return &billing.DuplicateActiveSubscriptionError{ExistingID: existing.ID}
}

func (s *Store) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*billing.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM client_subscriptions WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) FindOpenSubscription(ctx context.Context, tenantID, clientID, planID uuid.UUID) (*billing.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subColumns+` FROM client_subscriptions
		WHERE tenant_id = $1 AND client_id = $2 AND plan_id = $3 AND status = ANY($4)
		LIMIT 1`, tenantID, clientID, planID, openStatuses()))
	if err != nil {
		return nil, fmt.Errorf("find open subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID uuid.UUID, f billing.ListFilter) ([]billing.Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM client_subscriptions WHERE tenant_id = $1`
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.ClientID != uuid.Nil {
		args = append(args, f.ClientID)
		query += fmt.Sprintf(` AND client_id = $%d`, len(args))
	}
	if f.PlanID != uuid.Nil {
		args = append(args, f.PlanID)
		query += fmt.Sprintf(` AND plan_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	out := make([]billing.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

const paymentColumns = `id, subscription_id, tenant_id, amount, currency, status, paid_at, failed_at,
	COALESCE(failure_reason, ''), COALESCE(receipt_url, ''), COALESCE(invoice_ref, ''),
	COALESCE(payment_intent_ref, ''), created_at`

func scanPayments(rows pgx.Rows) ([]billing.Payment, error) {
	defer rows.Close()
	out := make([]billing.Payment, 0)
	for rows.Next() {
		var p billing.Payment
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.TenantID, &p.Amount.Amount, &p.Amount.Currency,
			&p.Status, &p.PaidAt, &p.FailedAt, &p.FailureReason, &p.ReceiptURL, &p.InvoiceRef,
			&p.PaymentIntentRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListPayments(ctx context.Context, tenantID, subscriptionID uuid.UUID, limit int) ([]billing.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM subscription_payments
		WHERE tenant_id = $1 AND subscription_id = $2 ORDER BY created_at DESC, id`
	args := []any{tenantID, subscriptionID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return scanPayments(rows)
}

func (s *Store) UpdateSubscription(ctx context.Context, tenantID, id uuid.UUID, fn func(sub *billing.Subscription) error) (*billing.Subscription, error) {
	var out *billing.Subscription
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		sub, err := lockSubscription(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		if err := saveSubscription(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ApplyEvent(ctx context.Context, evt billing.ProcessedEvent, fn func(tx billing.EventTx) error) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO processed_events (tenant_id, provider, event_id, event_type, processed_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, now()))
			ON CONFLICT (tenant_id, provider, event_id) DO NOTHING`,
			evt.TenantID, evt.Provider, evt.EventID, evt.EventType, nullTime(evt.ProcessedAt))
		if err != nil {
			return fmt.Errorf("record processed event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := fn(eventTx{tx: tx}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func lockSubscription(ctx context.Context, db dbtx, tenantID, id uuid.UUID) (*billing.Subscription, error) {
	sub, err := scanSubscription(db.QueryRow(ctx,
		`SELECT `+subColumns+` FROM client_subscriptions WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, id, tenantID))
	if err != nil {
		return nil, fmt.Errorf("lock subscription: %w", err)
	}
	return sub, nil
}

func saveSubscription(ctx context.Context, db dbtx, sub *billing.Subscription) error {
	err := db.QueryRow(ctx, `
		UPDATE client_subscriptions SET
			customer_ref = NULLIF($3, ''),
			subscription_ref = NULLIF($4, ''),
			status = $5,
			current_period_start = $6,
			current_period_end = $7,
			canceled_at = $8,
			cancel_reason = NULLIF($9, ''),
			past_due_at = $10,
			updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at`,
		sub.ID, sub.TenantID, sub.CustomerRef, sub.SubscriptionRef, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt, sub.CancelReason, sub.PastDueAt,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save subscription: %w", notFound(err))
	}
	return nil
}

// eventTx implements billing.EventTx on an open transaction.
type eventTx struct {
	tx pgx.Tx
}

func (t eventTx) GetPlan(ctx context.Context, tenantID, planID uuid.UUID) (*billing.Plan, error) {
	return getPlan(ctx, t.tx, tenantID, planID)
}

func (t eventTx) LockSubscription(ctx context.Context, tenantID, id uuid.UUID) (*billing.Subscription, error) {
	return lockSubscription(ctx, t.tx, tenantID, id)
}

func (t eventTx) LockSubscriptionByRef(ctx context.Context, tenantID uuid.UUID, ref string) (*billing.Subscription, error) {
	if ref == "" {
		return nil, billing.ErrNotFound
	}
	sub, err := scanSubscription(t.tx.QueryRow(ctx, `
		SELECT `+subColumns+` FROM client_subscriptions
		WHERE tenant_id = $1 AND subscription_ref = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, tenantID, ref))
	if err != nil {
		return nil, fmt.Errorf("lock subscription by ref: %w", err)
	}
	return sub, nil
}

func (t eventTx) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	return saveSubscription(ctx, t.tx, sub)
}

func (t eventTx) AppendPayment(ctx context.Context, p *billing.Payment) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO subscription_payments (id, subscription_id, tenant_id, amount, currency, status,
			paid_at, failed_at, failure_reason, receipt_url, invoice_ref, payment_intent_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''))
		ON CONFLICT (subscription_id, invoice_ref, status) WHERE invoice_ref IS NOT NULL DO NOTHING
		RETURNING created_at`,
		p.ID, p.SubscriptionID, p.TenantID, p.Amount.Amount, p.Amount.Currency, p.Status,
		p.PaidAt, p.FailedAt, p.FailureReason, p.ReceiptURL, p.InvoiceRef, p.PaymentIntentRef,
	).Scan(&p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return true, nil
}

func openStatuses() []string {
	out := make([]string, len(billing.OpenStatuses))
	for i, s := range billing.OpenStatuses {
		out[i] = string(s)
	}
	return out
}

func notFound(err error) error {
	if pg.IsNotFoundError(err) {
		return errors.Join(billing.ErrNotFound, err)
	}
	return err
}
