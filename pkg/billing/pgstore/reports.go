package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/pkg/billing"
)

func (s *Store) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[billing.Status]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM client_subscriptions
		WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[billing.Status]int)
	for rows.Next() {
		var (
			status billing.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) CountCanceledBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM client_subscriptions
		WHERE tenant_id = $1 AND canceled_at >= $2 AND canceled_at < $3`,
		tenantID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count canceled: %w", err)
	}
	return n, nil
}

func (s *Store) ListPaidPayments(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]billing.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM subscription_payments
		WHERE tenant_id = $1 AND status = 'paid' AND paid_at >= $2 AND paid_at < $3
		ORDER BY paid_at`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list paid payments: %w", err)
	}
	return scanPayments(rows)
}

func (s *Store) ListActivePrices(ctx context.Context, tenantID uuid.UUID) ([]billing.PlanPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.price_amount, p.billing_interval
		FROM client_subscriptions s
		JOIN service_plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1 AND s.status = 'ACTIVE'`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active prices: %w", err)
	}
	defer rows.Close()

	out := make([]billing.PlanPrice, 0)
	for rows.Next() {
		var p billing.PlanPrice
		if err := rows.Scan(&p.Amount, &p.Interval); err != nil {
			return nil, fmt.Errorf("scan active price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListDelinquent(ctx context.Context, tenantID uuid.UUID) ([]billing.Delinquent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.client_id, c.name, COALESCE(c.email, ''), COALESCE(c.phone, ''),
			p.name, p.price_amount, p.currency, p.billing_interval, s.current_period_end,
			COALESCE(s.past_due_at, s.updated_at) AS past_due_since
		FROM client_subscriptions s
		JOIN clients c ON c.id = s.client_id
		JOIN service_plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1 AND s.status = 'PAST_DUE'
		ORDER BY past_due_since, c.name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list delinquent: %w", err)
	}
	defer rows.Close()

	out := make([]billing.Delinquent, 0)
	for rows.Next() {
		var d billing.Delinquent
		if err := rows.Scan(&d.SubscriptionID, &d.ClientID, &d.ClientName, &d.ClientEmail, &d.ClientPhone,
			&d.PlanName, &d.Price.Amount, &d.Price.Currency, &d.Interval, &d.CurrentPeriodEnd, &d.PastDueSince); err != nil {
			return nil, fmt.Errorf("scan delinquent: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
