package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

// HistoryMonths is the number of months covered by Summary.MonthlyRevenue.
const HistoryMonths = 12

// MonthTotal is the paid amount received in one calendar month.
type MonthTotal struct {
	Month string `json:"month"` // YYYY-MM
	Total int64  `json:"total"`
}

// Summary is a tenant's subscription dashboard. Amounts are in centavos.
type Summary struct {
	ActiveCount       int          `json:"activeCount"`
	PastDueCount      int          `json:"pastDueCount"`
	CanceledThisMonth int          `json:"canceledThisMonth"`
	ReceivedThisMonth int64        `json:"receivedThisMonth"`
	MonthlyRevenue    []MonthTotal `json:"monthlyRevenue"`
	ForecastMRR       int64        `json:"forecastMrr"`
	Delinquent        []Delinquent `json:"delinquent"`
}

// SummaryCache stores computed summaries per tenant and month.
type SummaryCache interface {
	Get(ctx context.Context, tenantID uuid.UUID, month string) (*Summary, bool)
	Set(ctx context.Context, tenantID uuid.UUID, month string, s *Summary)
}

// Reporter aggregates subscriptions and payments into a Summary.
type Reporter struct {
	store ReportStore
	cache SummaryCache
	loc   *time.Location
	log   *slog.Logger
}

type ReporterOption func(*Reporter)

// WithLocation sets the time zone month boundaries are computed in. UTC by
// default.
func WithLocation(loc *time.Location) ReporterOption {
	return func(r *Reporter) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithSummaryCache(c SummaryCache) ReporterOption {
	return func(r *Reporter) {
		if c != nil {
			r.cache = c
		}
	}
}

func WithReporterLogger(l *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if l != nil {
			r.log = l
		}
	}
}

func NewReporter(store ReportStore, opts ...ReporterOption) *Reporter {
	if store == nil {
		panic("billing: ReportStore is required")
	}
	r := &Reporter{store: store, loc: time.UTC, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("billing.reporter"))
	return r
}

// Summary computes the dashboard for the calendar month containing now.
func (r *Reporter) Summary(ctx context.Context, tenantID uuid.UUID, now time.Time) (*Summary, error) {
	monthStart := startOfMonth(now.In(r.loc))
	monthKey := monthStart.Format("2006-01")

	if r.cache != nil {
		if s, ok := r.cache.Get(ctx, tenantID, monthKey); ok {
			return s, nil
		}
	}

	var (
		counts   map[Status]int
		canceled int
		paid     []Payment
		prices   []PlanPrice
		overdue  []Delinquent
	)
	historyStart := monthStart.AddDate(0, -(HistoryMonths - 1), 0)
	nextMonth := monthStart.AddDate(0, 1, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = r.store.CountByStatus(gctx, tenantID)
		return err
	})
	g.Go(func() (err error) {
		canceled, err = r.store.CountCanceledBetween(gctx, tenantID, monthStart, nextMonth)
		return err
	})
	g.Go(func() (err error) {
		paid, err = r.store.ListPaidPayments(gctx, tenantID, historyStart, nextMonth)
		return err
	})
	g.Go(func() (err error) {
		prices, err = r.store.ListActivePrices(gctx, tenantID)
		return err
	})
	g.Go(func() (err error) {
		overdue, err = r.store.ListDelinquent(gctx, tenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history := MonthlyHistory(paid, historyStart, r.loc)
	s := &Summary{
		ActiveCount:       counts[StatusActive],
		PastDueCount:      counts[StatusPastDue],
		CanceledThisMonth: canceled,
		ReceivedThisMonth: history[len(history)-1].Total,
		MonthlyRevenue:    history,
		ForecastMRR:       ForecastMRR(prices),
		Delinquent:        overdue,
	}
	if s.Delinquent == nil {
		s.Delinquent = []Delinquent{}
	}

	if r.cache != nil {
		r.cache.Set(ctx, tenantID, monthKey, s)
	}
	return s, nil
}

// MonthlyHistory buckets paid payments into HistoryMonths calendar months
// starting at from, oldest first. Months without payments total zero.
func MonthlyHistory(payments []Payment, from time.Time, loc *time.Location) []MonthTotal {
	from = startOfMonth(from.In(loc))
	out := make([]MonthTotal, HistoryMonths)
	index := make(map[string]int, HistoryMonths)
	for i := range out {
		key := from.AddDate(0, i, 0).Format("2006-01")
		out[i].Month = key
		index[key] = i
	}

	for _, p := range payments {
		if p.Status != PaymentPaid || p.PaidAt == nil {
			continue
		}
		if i, ok := index[p.PaidAt.In(loc).Format("2006-01")]; ok {
			out[i].Total += p.Amount.Amount
		}
	}
	return out
}

// ForecastMRR normalizes recurring prices to a monthly amount. Prices are
// summed per period length and divided once, rounding half up, so a yearly
// 1200 and a quarterly 300 both contribute exactly 100.
func ForecastMRR(prices []PlanPrice) int64 {
	// Twelfths of a month avoid fractional centavos until the final division.
	var twelfths int64
	for _, p := range prices {
		months := p.Interval.Months()
		if months == 0 {
			continue
		}
		twelfths += p.Amount * (12 / months)
	}
	return (twelfths + 6) / 12
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
