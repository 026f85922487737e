package core

import (
	"context"
	"fmt"
	"time"

	"github.com/arkline/escrowd/internal/model"
)

const jobColumns = `id, chain_id, requester_address, escrow_address, status, manifest_url, manifest_hash,
	 fund_amount, exchange_oracle, recording_oracle, reputation_oracle, escrow_tx_hash, failed_reason,
	 created_at, updated_at, canceled_at`

type JobService struct {
	db DB
}

func NewJobService(db DB) *JobService {
	return &JobService{db: db}
}

func (s *JobService) Create(ctx context.Context, job *model.Job) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, chain_id, requester_address, status, manifest_url, manifest_hash,
		 fund_amount, exchange_oracle, recording_oracle, reputation_oracle, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.ChainID, job.RequesterAddress, job.Status, job.ManifestURL, job.ManifestHash,
		job.FundAmount, job.ExchangeOracle, job.RecordingOracle, job.ReputationOracle,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var j model.Job
	err := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.ChainID, &j.RequesterAddress, &j.EscrowAddress, &j.Status, &j.ManifestURL,
		&j.ManifestHash, &j.FundAmount, &j.ExchangeOracle, &j.RecordingOracle, &j.ReputationOracle,
		&j.EscrowTxHash, &j.FailedReason, &j.CreatedAt, &j.UpdatedAt, &j.CanceledAt)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &j, nil
}

// GetByEscrow looks a job up by its on-chain location.
func (s *JobService) GetByEscrow(ctx context.Context, chainID int64, escrowAddress string) (*model.Job, error) {
	var j model.Job
	err := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE chain_id = $1 AND escrow_address = $2`,
		chainID, escrowAddress,
	).Scan(&j.ID, &j.ChainID, &j.RequesterAddress, &j.EscrowAddress, &j.Status, &j.ManifestURL,
		&j.ManifestHash, &j.FundAmount, &j.ExchangeOracle, &j.RecordingOracle, &j.ReputationOracle,
		&j.EscrowTxHash, &j.FailedReason, &j.CreatedAt, &j.UpdatedAt, &j.CanceledAt)
	if err != nil {
		return nil, fmt.Errorf("get job for escrow %d/%s: %w", chainID, escrowAddress, err)
	}
	return &j, nil
}

func (s *JobService) List(ctx context.Context, status string, limit int, cursor string) ([]model.Job, bool, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(` WHERE status = $%d`, argIdx)
		args = append(args, status)
		argIdx++
	}
	if cursor != "" {
		if status != "" {
			query += fmt.Sprintf(` AND id > $%d`, argIdx)
		} else {
			query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		}
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(&j.ID, &j.ChainID, &j.RequesterAddress, &j.EscrowAddress, &j.Status,
			&j.ManifestURL, &j.ManifestHash, &j.FundAmount, &j.ExchangeOracle, &j.RecordingOracle,
			&j.ReputationOracle, &j.EscrowTxHash, &j.FailedReason, &j.CreatedAt, &j.UpdatedAt,
			&j.CanceledAt); err != nil {
			return nil, false, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate jobs: %w", err)
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}
	return jobs, hasMore, nil
}

// GetActionable returns jobs sitting in the given status whose last update
// is older than the debounce window, in insertion order.
func (s *JobService) GetActionable(ctx context.Context, status string, olderThan time.Duration, limit int) ([]model.Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND updated_at <= now() - make_interval(secs => $2)
		 ORDER BY id LIMIT $3`,
		status, olderThan.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get actionable jobs (%s): %w", status, err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(&j.ID, &j.ChainID, &j.RequesterAddress, &j.EscrowAddress, &j.Status,
			&j.ManifestURL, &j.ManifestHash, &j.FundAmount, &j.ExchangeOracle, &j.RecordingOracle,
			&j.ReputationOracle, &j.EscrowTxHash, &j.FailedReason, &j.CreatedAt, &j.UpdatedAt,
			&j.CanceledAt); err != nil {
			return nil, fmt.Errorf("scan actionable job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actionable jobs: %w", err)
	}
	return jobs, nil
}

// Transition moves a job from one status to another. The update is
// conditional on the stored status still being `from`; it returns false
// with no error when another worker got there first.
func (s *JobService) Transition(ctx context.Context, id, from, to string) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, fmt.Errorf("transition %s -> %s is not allowed", from, to)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition job %s to %s: %w", id, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetEscrow records the escrow address and creating transaction hash,
// transitioning the job out of paid in the same conditional update.
func (s *JobService) SetEscrow(ctx context.Context, id, escrowAddress, txHash, from, to string) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, fmt.Errorf("transition %s -> %s is not allowed", from, to)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET escrow_address = $1, escrow_tx_hash = $2, status = $3, updated_at = now()
		 WHERE id = $4 AND status = $5`,
		escrowAddress, txHash, to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("set escrow on job %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a job to failed with a reason, conditional on its
// current status.
func (s *JobService) MarkFailed(ctx context.Context, id, from, reason string) (bool, error) {
	if !model.CanTransition(from, model.JobStatusFailed) {
		return false, fmt.Errorf("transition %s -> %s is not allowed", from, model.JobStatusFailed)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = $1, failed_reason = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		model.JobStatusFailed, reason, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s failed: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequestCancel moves a job to to_cancel if it is in any cancelable status.
func (s *JobService) RequestCancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = $1, canceled_at = now(), updated_at = now()
		 WHERE id = $2 AND status = ANY($3)`,
		model.JobStatusToCancel, id, model.CancelableJobStatuses(),
	)
	if err != nil {
		return false, fmt.Errorf("request cancel of job %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
