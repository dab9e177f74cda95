package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/db"
	"github.com/sells-group/therapy-intel/internal/model"
)

var revenueImportColumns = []string{"id", "therapy_id", "period", "region", "revenue_millions_usd", "sources", "last_updated"}

func (s *PostgresStore) GetTherapy(ctx context.Context, id string) (*model.Therapy, error) {
	t, err := scanPgTherapy(s.pool.QueryRow(ctx, `SELECT `+therapyColumns+` FROM therapies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("therapy %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get therapy %s", id)
	}
	return t, nil
}

func (s *PostgresStore) ListTherapies(ctx context.Context) ([]model.Therapy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+therapyColumns+` FROM therapies ORDER BY name, manufacturer`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list therapies")
	}
	defer rows.Close()

	var out []model.Therapy
	for rows.Next() {
		t, err := scanPgTherapy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan therapy")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate therapies")
}

func (s *PostgresStore) ListApprovals(ctx context.Context, therapyID string) ([]model.TherapyApproval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, therapy_id, disease_id, region, approval_date, approval_type, sources, last_updated
		FROM therapy_approvals WHERE therapy_id = $1 ORDER BY last_updated, id`, therapyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list approvals")
	}
	defer rows.Close()

	var out []model.TherapyApproval
	for rows.Next() {
		var a model.TherapyApproval
		var sources []byte
		if err := rows.Scan(&a.ID, &a.TherapyID, &a.DiseaseID, &a.Region, &a.ApprovalDate, &a.ApprovalType, &sources, &a.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan approval")
		}
		if a.Sources, err = unmarshalSources(sources); err != nil {
			return nil, eris.Wrap(err, "postgres: scan approval")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate approvals")
}

func (s *PostgresStore) ListRevenueRecords(ctx context.Context, therapyIDs []string) ([]model.RevenueRecord, error) {
	query := `SELECT id, therapy_id, period, region, revenue_millions_usd, sources, last_updated FROM therapy_revenues`
	var args []any
	if len(therapyIDs) > 0 {
		query += ` WHERE therapy_id = ANY($1)`
		args = append(args, therapyIDs)
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list revenue records")
	}
	defer rows.Close()

	var out []model.RevenueRecord
	for rows.Next() {
		var r model.RevenueRecord
		var sources []byte
		if err := rows.Scan(&r.ID, &r.TherapyID, &r.Period, &r.Region, &r.RevenueMillionsUSD, &sources, &r.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan revenue record")
		}
		if r.Sources, err = unmarshalSources(sources); err != nil {
			return nil, eris.Wrap(err, "postgres: scan revenue record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate revenue records")
}

func (s *PostgresStore) ImportRevenueRecords(ctx context.Context, records []model.RevenueRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		sources, err := marshalSources(r.Sources)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: import revenue")
		}
		rows = append(rows, []any{r.ID, r.TherapyID, r.Period, r.Region, r.RevenueMillionsUSD, string(sources), r.LastUpdated})
	}
	return db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        "therapy_revenues",
		Columns:      revenueImportColumns,
		ConflictKeys: []string{"therapy_id", "period", "region"},
	}, rows)
}
