package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// StatusCount holds a count grouped by status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// DashboardStats holds aggregate counts over the jobs and webhooks tables.
type DashboardStats struct {
	JobsByStatus     []StatusCount `json:"jobs_by_status"`
	WebhooksByStatus []StatusCount `json:"webhooks_by_status"`
	WebhooksOverdue  int           `json:"webhooks_overdue"`
}

// DashboardService queries aggregate stats for the operations dashboard.
type DashboardService struct {
	db DB
}

func NewDashboardService(db DB) *DashboardService {
	return &DashboardService{db: db}
}

// Stats runs the aggregate queries in parallel and merges the results.
func (s *DashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	var (
		mu    sync.Mutex
		stats DashboardStats
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.countByStatus(gctx, `SELECT status, count(*) FROM jobs GROUP BY status ORDER BY status`)
		if err != nil {
			return fmt.Errorf("count jobs: %w", err)
		}
		mu.Lock()
		stats.JobsByStatus = counts
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		counts, err := s.countByStatus(gctx, `SELECT status, count(*) FROM webhooks GROUP BY status ORDER BY status`)
		if err != nil {
			return fmt.Errorf("count webhooks: %w", err)
		}
		mu.Lock()
		stats.WebhooksByStatus = counts
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		var overdue int
		err := s.db.QueryRow(gctx,
			`SELECT count(*) FROM webhooks WHERE status = 'pending' AND wait_until <= now()`,
		).Scan(&overdue)
		if err != nil {
			return fmt.Errorf("count overdue webhooks: %w", err)
		}
		mu.Lock()
		stats.WebhooksOverdue = overdue
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *DashboardService) countByStatus(ctx context.Context, query string) ([]StatusCount, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
