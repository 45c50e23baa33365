package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/logger"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

const dashboardCacheKey = "dashboard:stats"

// DashboardStats is the landing-page summary. Money fields are fixed 2dp
// strings so the cached JSON round-trips without precision surprises.
type DashboardStats struct {
	TotalInvoices  int `json:"total_invoices"`
	ClientCount    int `json:"client_count"`
	DraftCount     int `json:"draft_count"`
	PendingCount   int `json:"pending_count"`
	SentCount      int `json:"sent_count"`
	PaidCount      int `json:"paid_count"`
	OverdueCount   int `json:"overdue_count"`
	CancelledCount int `json:"cancelled_count"`

	OutstandingTotal string `json:"outstanding_total"` // pending + sent + overdue
	OverdueTotal     string `json:"overdue_total"`
	PaidThisMonth    string `json:"paid_this_month"`

	Recent     []*models.Invoice `json:"recent"`
	TopClients []DashboardClient `json:"top_clients"`

	GeneratedAt time.Time `json:"generated_at"`
}

// DashboardClient is one row of the top-clients table.
type DashboardClient struct {
	ID           utils.SixID `json:"id"`
	Name         string      `json:"name"`
	InvoiceCount int         `json:"invoice_count"`
	BilledTotal  string      `json:"billed_total"`
}

// IDashboardService computes the dashboard summary.
type IDashboardService interface {
	Stats(ctx context.Context) (*DashboardStats, error)
	Invalidate(ctx context.Context) error
}

// dashboardService implements IDashboardService with a Redis read-through
// cache. A nil Redis client disables caching.
type dashboardService struct {
	db             *sql.DB
	cfg            *config.Config
	rdb            *redis.Client
	invoiceService IInvoiceService
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(database *sql.DB, cfg *config.Config, rdb *redis.Client, invoiceService IInvoiceService) IDashboardService {
	return &dashboardService{
		db:             database,
		cfg:            cfg,
		rdb:            rdb,
		invoiceService: invoiceService,
	}
}

// Stats returns the cached summary when fresh, recomputing it otherwise.
func (s *dashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, dashboardCacheKey).Bytes()
		if err == nil {
			var stats DashboardStats
			if err := json.Unmarshal(cached, &stats); err == nil {
				return &stats, nil
			}
			// Unreadable cache entry, recompute.
		} else if !errors.Is(err, redis.Nil) {
			logger.L.Warnw("dashboard cache read failed", "error", err)
		}
	}

	stats, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.rdb.Set(ctx, dashboardCacheKey, data, s.cfg.DashboardTTL).Err(); err != nil {
				logger.L.Warnw("dashboard cache write failed", "error", err)
			}
		}
	}
	return stats, nil
}

// Invalidate drops the cached summary; call after invoice mutations.
func (s *dashboardService) Invalidate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, dashboardCacheKey).Err()
}

func (s *dashboardService) compute(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{GeneratedAt: time.Now().UTC()}

	var outstanding, overdue, paidMonth decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'draft'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'paid'),
			COUNT(*) FILTER (WHERE status = 'overdue'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(total_amount) FILTER (WHERE status IN ('pending', 'sent', 'overdue')), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'overdue'), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'paid' AND paid_at >= date_trunc('month', now())), 0)
		FROM invoices
		WHERE NOT deleted
	`).Scan(
		&stats.TotalInvoices, &stats.DraftCount, &stats.PendingCount, &stats.SentCount,
		&stats.PaidCount, &stats.OverdueCount, &stats.CancelledCount,
		&outstanding, &overdue, &paidMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate dashboard stats: %w", err)
	}
	stats.OutstandingTotal = outstanding.StringFixed(2)
	stats.OverdueTotal = overdue.StringFixed(2)
	stats.PaidThisMonth = paidMonth.StringFixed(2)

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE NOT deleted`).Scan(&stats.ClientCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count clients: %w", err)
	}

	recent, _, err := s.invoiceService.List(ctx, InvoiceListOptions{
		Page:     1,
		PageSize: s.cfg.RecentItemsLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent invoices: %w", err)
	}
	stats.Recent = recent

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, COUNT(i.id), COALESCE(SUM(i.total_amount), 0)
		FROM clients c
		JOIN invoices i ON i.client_id = c.id AND NOT i.deleted
		WHERE NOT c.deleted
		GROUP BY c.id, c.name
		ORDER BY SUM(i.total_amount) DESC
		LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query top clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry  DashboardClient
			billed decimal.Decimal
		)
		if err := rows.Scan(&entry.ID, &entry.Name, &entry.InvoiceCount, &billed); err != nil {
			return nil, fmt.Errorf("failed to scan top client: %w", err)
		}
		entry.BilledTotal = billed.StringFixed(2)
		stats.TopClients = append(stats.TopClients, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
