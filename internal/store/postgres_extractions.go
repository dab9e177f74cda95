package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/db"
	"github.com/sells-group/therapy-intel/internal/model"
)

const extractionColumns = `id, document_id, job_id, payload, review_status, reviewed_by, reviewed_at, review_notes, created_at, updated_at`

func (s *PostgresStore) SaveExtraction(ctx context.Context, e *model.Extraction) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}
	prepareExtraction(e)

	err = s.pool.QueryRow(ctx,
		`INSERT INTO extractions (id, document_id, job_id, payload, review_status, review_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', '', $5, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			payload = EXCLUDED.payload,
			review_status = 'pending',
			reviewed_by = NULL,
			reviewed_at = NULL,
			review_notes = '',
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		e.ID, e.DocumentID, nullString(e.JobID), payload, e.UpdatedAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: save extraction for document %s", e.DocumentID)
	}
	e.Review = model.Review{Status: model.ReviewPending}
	return nil
}

func (s *PostgresStore) GetExtraction(ctx context.Context, id string) (*model.Extraction, error) {
	return getPgExtraction(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " WHERE review_status = $1"
	}
	args = append(args, listLimit(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extractions")
	}
	defer rows.Close()

	var out []model.Extraction
	for rows.Next() {
		e, err := scanPgExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate extractions")
}

func (s *PostgresStore) CountExtractions(ctx context.Context, status model.ReviewStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM extractions WHERE review_status = $1`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count extractions")
}

func (s *PostgresStore) RejectExtraction(ctx context.Context, id, actor, notes string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "reject extraction",
		`UPDATE extractions SET review_status = 'rejected', reviewed_by = $2, reviewed_at = $3, review_notes = $4, updated_at = $3
		WHERE id = $1 AND review_status = 'pending'`,
		id, actor, now, notes,
	)
}

func (s *PostgresStore) DeleteExtraction(ctx context.Context, id string) (bool, error) {
	return s.execApplied(ctx, "delete extraction",
		`DELETE FROM extractions WHERE id = $1 AND review_status = 'pending'`, id,
	)
}

func (s *PostgresStore) RunMerge(ctx context.Context, fn func(ctx context.Context, tx MergeTx) error) error {
	return db.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(ctx, &pgMergeTx{tx: tx})
	})
}

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPgExtraction(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*model.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	e, err := scanPgExtraction(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("extraction %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extraction %s", id)
	}
	return e, nil
}

func scanPgExtraction(row pgx.Row) (*model.Extraction, error) {
	var e model.Extraction
	var jobID, reviewedBy *string
	var payload []byte
	var status string
	if err := row.Scan(
		&e.ID, &e.DocumentID, &jobID, &payload, &status, &reviewedBy, &e.Review.At,
		&e.Review.Notes, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if jobID != nil {
		e.JobID = *jobID
	}
	e.Review.Status = model.ReviewStatus(status)
	if reviewedBy != nil {
		e.Review.Actor = *reviewedBy
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, eris.Wrap(err, "unmarshal payload")
	}
	return &e, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
