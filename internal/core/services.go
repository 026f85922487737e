package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB defines the database operations used by the services.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Services struct {
	Job       *JobService
	Webhook   *WebhookService
	CronLease *CronLeaseService
	APIKey    *APIKeyService
	Dashboard *DashboardService
}

func NewServices(db DB) *Services {
	return &Services{
		Job:       NewJobService(db),
		Webhook:   NewWebhookService(db),
		CronLease: NewCronLeaseService(db),
		APIKey:    NewAPIKeyService(db),
		Dashboard: NewDashboardService(db),
	}
}
