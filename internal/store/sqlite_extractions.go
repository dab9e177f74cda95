package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/model"
)

func (s *SQLiteStore) SaveExtraction(ctx context.Context, e *model.Extraction) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}
	prepareExtraction(e)

	var createdAt string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO extractions (id, document_id, job_id, payload, review_status, review_notes, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, 'pending', '', ?5, ?5)
		ON CONFLICT (document_id) DO UPDATE SET
			job_id = excluded.job_id,
			payload = excluded.payload,
			review_status = 'pending',
			reviewed_by = NULL,
			reviewed_at = NULL,
			review_notes = '',
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		e.ID, e.DocumentID, nullString(e.JobID), string(payload), formatTime(e.UpdatedAt),
	).Scan(&e.ID, &createdAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save extraction for document %s", e.DocumentID)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	e.Review = model.Review{Status: model.ReviewPending}
	return nil
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, id string) (*model.Extraction, error) {
	return getSQLiteExtraction(ctx, s.db, id)
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND review_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Extraction
	for rows.Next() {
		e, err := scanSQLiteExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate extractions")
}

func (s *SQLiteStore) CountExtractions(ctx context.Context, status model.ReviewStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extractions WHERE review_status = ?`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count extractions")
}

func (s *SQLiteStore) RejectExtraction(ctx context.Context, id, actor, notes string, now time.Time) (bool, error) {
	return s.execApplied(ctx, "reject extraction",
		`UPDATE extractions SET review_status = 'rejected', reviewed_by = ?2, reviewed_at = ?3, review_notes = ?4, updated_at = ?3
		WHERE id = ?1 AND review_status = 'pending'`,
		id, actor, formatTime(now), notes,
	)
}

func (s *SQLiteStore) DeleteExtraction(ctx context.Context, id string) (bool, error) {
	return s.execApplied(ctx, "delete extraction",
		`DELETE FROM extractions WHERE id = ? AND review_status = 'pending'`, id,
	)
}

// RunMerge holds the store's only connection for the whole transaction, so
// merges are serialized against every other writer.
func (s *SQLiteStore) RunMerge(ctx context.Context, fn func(ctx context.Context, tx MergeTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin merge")
	}
	if err := fn(ctx, &sqliteMergeTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return eris.Wrapf(err, "sqlite: rollback failed: %v", rbErr)
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit merge")
}

func getSQLiteExtraction(ctx context.Context, q sqlRunner, id string) (*model.Extraction, error) {
	e, err := scanSQLiteExtraction(q.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("extraction %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extraction %s", id)
	}
	return e, nil
}

func scanSQLiteExtraction(row scannable) (*model.Extraction, error) {
	var e model.Extraction
	var jobID, reviewedBy, reviewedAt sql.NullString
	var payload, status, createdAt, updatedAt string
	if err := row.Scan(
		&e.ID, &e.DocumentID, &jobID, &payload, &status, &reviewedBy, &reviewedAt,
		&e.Review.Notes, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	e.JobID = jobID.String
	e.Review.Status = model.ReviewStatus(status)
	e.Review.Actor = reviewedBy.String

	var err error
	if e.Review.At, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(payload, &e.Payload); err != nil {
		return nil, err
	}
	return &e, nil
}
