package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/db"
	"github.com/sells-group/therapy-intel/internal/model"
)

const jobColumns = `id, document_id, job_type, priority, status, attempts, max_attempts, error, error_history, not_before, created_at, started_at, completed_at`

func (s *PostgresStore) InsertJob(ctx context.Context, job *model.Job) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, document_id, job_type, priority, status, attempts, max_attempts, error_history, created_at)
		SELECT $1, $2, $3, $4, 'pending', 0, $5, '', $6
		WHERE NOT EXISTS (
			SELECT 1 FROM jobs WHERE document_id = $2 AND status IN ('pending', 'processing')
		)`,
		job.ID, job.DocumentID, job.JobType, job.Priority, job.MaxAttempts, job.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("document %s already has an active job", job.DocumentID)
		}
		return eris.Wrapf(err, "postgres: insert job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("document %s already has an active job", job.DocumentID)
	}
	return nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context, now time.Time) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', started_at = $1, completed_at = NULL
		WHERE status = 'pending' AND id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND (not_before IS NULL OR not_before <= $1)
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now,
	)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim next job")
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		conds = append(conds, fmt.Sprintf("document_id = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, listLimit(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "complete job",
		`UPDATE jobs SET status = 'completed', completed_at = $2 WHERE id = $1 AND status = 'processing'`,
		id, now,
	)
}

func (s *PostgresStore) FailJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "fail job",
		`UPDATE jobs SET status = 'failed', error = $2, attempts = attempts + 1, completed_at = $3
		WHERE id = $1 AND status = 'processing'`,
		id, errMsg, now,
	)
}

func (s *PostgresStore) RetryJob(ctx context.Context, id string, notBefore *time.Time) (bool, error) {
	return s.execApplied(ctx, "retry job",
		`UPDATE jobs SET status = 'pending', error = NULL, started_at = NULL, completed_at = NULL, not_before = $2
		WHERE id = $1 AND status = 'failed' AND attempts < max_attempts`,
		id, notBefore,
	)
}

func (s *PostgresStore) ResetJob(ctx context.Context, id string) (bool, error) {
	return s.execApplied(ctx, "reset job",
		`UPDATE jobs SET status = 'pending',
			error_history = CASE
				WHEN error IS NULL OR error = '' THEN error_history
				WHEN error_history = '' THEN '[attempt ' || attempts || '] ' || error
				ELSE error_history || $2 || '[attempt ' || attempts || '] ' || error
			END,
			error = NULL, started_at = NULL, completed_at = NULL, not_before = NULL
		WHERE id = $1 AND status IN ('processing', 'failed')`,
		id, "\n",
	)
}

func (s *PostgresStore) CancelJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "cancel job",
		`UPDATE jobs SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, errMsg, now,
	)
}

func (s *PostgresStore) JobStats(ctx context.Context, stuckBefore time.Time) (*model.QueueStats, error) {
	var st model.QueueStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'failed' AND attempts >= max_attempts),
			COUNT(*) FILTER (WHERE status = 'processing' AND started_at < $1),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
				FILTER (WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL), 0)::float8
		FROM jobs`,
		stuckBefore,
	).Scan(&st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.Exhausted, &st.Stuck, &st.AvgDurationSeconds)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: job stats")
	}
	return &st, nil
}

func (s *PostgresStore) DeleteCompletedJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status = 'completed' AND completed_at < $1`, before,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete completed jobs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) execApplied(ctx context.Context, op, sql string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: %s", op)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	if err := row.Scan(
		&j.ID, &j.DocumentID, &j.JobType, &j.Priority, &status, &j.Attempts, &j.MaxAttempts,
		&j.Error, &j.ErrorHistory, &j.NotBefore, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}
