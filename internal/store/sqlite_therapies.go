package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/model"
)

func (s *SQLiteStore) GetTherapy(ctx context.Context, id string) (*model.Therapy, error) {
	t, err := scanSQLiteTherapy(s.db.QueryRowContext(ctx, `SELECT `+therapyColumns+` FROM therapies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("therapy %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get therapy %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) ListTherapies(ctx context.Context) ([]model.Therapy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+therapyColumns+` FROM therapies ORDER BY name, manufacturer`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list therapies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Therapy
	for rows.Next() {
		t, err := scanSQLiteTherapy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan therapy")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate therapies")
}

func (s *SQLiteStore) ListApprovals(ctx context.Context, therapyID string) ([]model.TherapyApproval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, therapy_id, disease_id, region, approval_date, approval_type, sources, last_updated
		FROM therapy_approvals WHERE therapy_id = ? ORDER BY last_updated, id`, therapyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list approvals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TherapyApproval
	for rows.Next() {
		var a model.TherapyApproval
		var sources, lastUpdated string
		if err := rows.Scan(&a.ID, &a.TherapyID, &a.DiseaseID, &a.Region, &a.ApprovalDate, &a.ApprovalType, &sources, &lastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan approval")
		}
		if a.Sources, err = unmarshalSources([]byte(sources)); err != nil {
			return nil, err
		}
		if a.LastUpdated, err = parseTime(lastUpdated); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate approvals")
}

func (s *SQLiteStore) ListRevenueRecords(ctx context.Context, therapyIDs []string) ([]model.RevenueRecord, error) {
	query := `SELECT id, therapy_id, period, region, revenue_millions_usd, sources, last_updated FROM therapy_revenues`
	args := make([]any, len(therapyIDs))
	if len(therapyIDs) > 0 {
		marks := make([]string, len(therapyIDs))
		for i, id := range therapyIDs {
			marks[i] = "?"
			args[i] = id
		}
		query += ` WHERE therapy_id IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list revenue records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RevenueRecord
	for rows.Next() {
		var r model.RevenueRecord
		var sources, lastUpdated string
		if err := rows.Scan(&r.ID, &r.TherapyID, &r.Period, &r.Region, &r.RevenueMillionsUSD, &sources, &lastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan revenue record")
		}
		if r.Sources, err = unmarshalSources([]byte(sources)); err != nil {
			return nil, err
		}
		if r.LastUpdated, err = parseTime(lastUpdated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate revenue records")
}

func (s *SQLiteStore) ImportRevenueRecords(ctx context.Context, records []model.RevenueRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	var inserted int64
	for i := range records {
		ok, err := execSQLiteRevenue(ctx, tx, &records[i], true)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return inserted, nil
}
