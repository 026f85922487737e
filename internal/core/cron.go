package core

import (
	"context"
	"fmt"
	"time"

	"github.com/arkline/escrowd/internal/model"
)

// CronLeaseService manages the advisory execution markers for recurring
// tasks. A marker is claimed with a conditional update on the previously
// observed timestamp, so at most one claimant per observed value wins. This
// is a best-effort lease, not a hard lock: a claimant that reads the marker
// between another's read and update can still race past the interval check.
type CronLeaseService struct {
	db DB
}

func NewCronLeaseService(db DB) *CronLeaseService {
	return &CronLeaseService{db: db}
}

// EnsureMarkers inserts a marker row for every known cron job type. Existing
// rows are left untouched.
func (s *CronLeaseService) EnsureMarkers(ctx context.Context) error {
	for _, t := range model.CronJobTypes() {
		_, err := s.db.Exec(ctx,
			`INSERT INTO cron_jobs (cron_job_type, last_executed_at)
			 VALUES ($1, 'epoch') ON CONFLICT (cron_job_type) DO NOTHING`,
			t,
		)
		if err != nil {
			return fmt.Errorf("ensure cron marker %s: %w", t, err)
		}
	}
	return nil
}

// Claim attempts to claim a run of the given task type. It returns false
// when the configured interval has not yet elapsed since the last run, or
// when another claimant won the conditional update.
func (s *CronLeaseService) Claim(ctx context.Context, cronJobType string, interval time.Duration, now time.Time) (bool, error) {
	var last time.Time
	err := s.db.QueryRow(ctx,
		`SELECT last_executed_at FROM cron_jobs WHERE cron_job_type = $1`, cronJobType,
	).Scan(&last)
	if err != nil {
		return false, fmt.Errorf("read cron marker %s: %w", cronJobType, err)
	}

	if now.Sub(last) < interval {
		return false, nil
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE cron_jobs SET last_executed_at = $1
		 WHERE cron_job_type = $2 AND last_executed_at = $3`,
		now, cronJobType, last,
	)
	if err != nil {
		return false, fmt.Errorf("claim cron marker %s: %w", cronJobType, err)
	}
	return tag.RowsAffected() == 1, nil
}
