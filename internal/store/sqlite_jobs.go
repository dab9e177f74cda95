package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/model"
)

func (s *SQLiteStore) InsertJob(ctx context.Context, job *model.Job) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, document_id, job_type, priority, status, attempts, max_attempts, error_history, created_at)
		SELECT ?1, ?2, ?3, ?4, 'pending', 0, ?5, '', ?6
		WHERE NOT EXISTS (
			SELECT 1 FROM jobs WHERE document_id = ?2 AND status IN ('pending', 'processing')
		)`,
		job.ID, job.DocumentID, job.JobType, job.Priority, job.MaxAttempts, formatTime(job.CreatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return apperr.Conflict("document %s already has an active job", job.DocumentID)
		}
		return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: insert job rows affected")
	}
	if n == 0 {
		return apperr.Conflict("document %s already has an active job", job.DocumentID)
	}
	return nil
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context, now time.Time) (*model.Job, error) {
	ts := formatTime(now)
	row := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'processing', started_at = ?1, completed_at = NULL
		WHERE status = 'pending' AND id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND (not_before IS NULL OR not_before <= ?1)
			ORDER BY priority ASC, created_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		ts,
	)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim next job")
	}
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "complete job",
		`UPDATE jobs SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'processing'`,
		formatTime(now), id,
	)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "fail job",
		`UPDATE jobs SET status = 'failed', error = ?, attempts = attempts + 1, completed_at = ?
		WHERE id = ? AND status = 'processing'`,
		errMsg, formatTime(now), id,
	)
}

func (s *SQLiteStore) RetryJob(ctx context.Context, id string, notBefore *time.Time) (bool, error) {
	return s.execApplied(ctx, "retry job",
		`UPDATE jobs SET status = 'pending', error = NULL, started_at = NULL, completed_at = NULL, not_before = ?
		WHERE id = ? AND status = 'failed' AND attempts < max_attempts`,
		formatNullTime(notBefore), id,
	)
}

func (s *SQLiteStore) ResetJob(ctx context.Context, id string) (bool, error) {
	return s.execApplied(ctx, "reset job",
		`UPDATE jobs SET status = 'pending',
			error_history = CASE
				WHEN error IS NULL OR error = '' THEN error_history
				WHEN error_history = '' THEN '[attempt ' || attempts || '] ' || error
				ELSE error_history || char(10) || '[attempt ' || attempts || '] ' || error
			END,
			error = NULL, started_at = NULL, completed_at = NULL, not_before = NULL
		WHERE id = ? AND status IN ('processing', 'failed')`,
		id,
	)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "cancel job",
		`UPDATE jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		errMsg, formatTime(now), id,
	)
}

func (s *SQLiteStore) JobStats(ctx context.Context, stuckBefore time.Time) (*model.QueueStats, error) {
	var st model.QueueStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status = 'pending' THEN 1 END),
			COUNT(CASE WHEN status = 'processing' THEN 1 END),
			COUNT(CASE WHEN status = 'completed' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' AND attempts >= max_attempts THEN 1 END),
			COUNT(CASE WHEN status = 'processing' AND started_at < ? THEN 1 END),
			COALESCE(AVG(CASE WHEN status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
				THEN (julianday(completed_at) - julianday(started_at)) * 86400.0 END), 0.0)
		FROM jobs`,
		formatTime(stuckBefore),
	).Scan(&st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.Exhausted, &st.Stuck, &st.AvgDurationSeconds)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job stats")
	}
	return &st, nil
}

func (s *SQLiteStore) DeleteCompletedJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = 'completed' AND completed_at < ?`, formatTime(before),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete completed jobs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status, createdAt string
	var errMsg, notBefore, startedAt, completedAt sql.NullString
	if err := row.Scan(
		&j.ID, &j.DocumentID, &j.JobType, &j.Priority, &status, &j.Attempts, &j.MaxAttempts,
		&errMsg, &j.ErrorHistory, &notBefore, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		j.Error = &msg
	}

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{notBefore, &j.NotBefore},
		{startedAt, &j.StartedAt},
		{completedAt, &j.CompletedAt},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, err
		}
	}
	return &j, nil
}
