package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/model"
)

const therapyColumns = `id, name, manufacturer, mechanism, price_per_unit_usd, sources, last_updated`

// pgMergeTx implements MergeTx on a serializable pgx transaction.
type pgMergeTx struct {
	tx pgx.Tx
}

func (m *pgMergeTx) LockExtraction(ctx context.Context, id string) (*model.Extraction, error) {
	return getPgExtraction(ctx, m.tx, id, true)
}

func (m *pgMergeTx) FindTherapy(ctx context.Context, name, manufacturer string) (*model.Therapy, error) {
	return findPgTherapy(ctx, m.tx, "find therapy",
		`SELECT `+therapyColumns+` FROM therapies WHERE name = $1 AND manufacturer = $2`,
		name, manufacturer,
	)
}

func (m *pgMergeTx) FindTherapyByID(ctx context.Context, id string) (*model.Therapy, error) {
	return findPgTherapy(ctx, m.tx, "find therapy by id",
		`SELECT `+therapyColumns+` FROM therapies WHERE id = $1`, id,
	)
}

func (m *pgMergeTx) FindTherapyByName(ctx context.Context, name string) (*model.Therapy, error) {
	return findPgTherapy(ctx, m.tx, "find therapy by name",
		`SELECT `+therapyColumns+` FROM therapies WHERE name = $1 ORDER BY created_at ASC, id ASC LIMIT 1`, name,
	)
}

func (m *pgMergeTx) InsertTherapy(ctx context.Context, t *model.Therapy) error {
	sources, err := marshalSources(t.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: insert therapy")
	}
	_, err = m.tx.Exec(ctx,
		`INSERT INTO therapies (id, name, manufacturer, mechanism, price_per_unit_usd, sources, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		t.ID, t.Name, t.Manufacturer, t.Mechanism, t.PricePerUnitUSD, sources, t.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: insert therapy %s", t.Name)
}

func (m *pgMergeTx) UpdateTherapy(ctx context.Context, t *model.Therapy) error {
	sources, err := marshalSources(t.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: update therapy")
	}
	_, err = m.tx.Exec(ctx,
		`UPDATE therapies SET mechanism = $2, price_per_unit_usd = $3, sources = $4, last_updated = $5 WHERE id = $1`,
		t.ID, t.Mechanism, t.PricePerUnitUSD, sources, t.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: update therapy %s", t.ID)
}

func (m *pgMergeTx) FindDisease(ctx context.Context, name string) (*model.Disease, error) {
	var d model.Disease
	var sources []byte
	err := m.tx.QueryRow(ctx,
		`SELECT id, name, category, sources, last_updated FROM diseases WHERE name = $1`, name,
	).Scan(&d.ID, &d.Name, &d.Category, &sources, &d.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find disease")
	}
	if d.Sources, err = unmarshalSources(sources); err != nil {
		return nil, eris.Wrap(err, "postgres: find disease")
	}
	return &d, nil
}

func (m *pgMergeTx) InsertDisease(ctx context.Context, d *model.Disease) error {
	sources, err := marshalSources(d.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: insert disease")
	}
	_, err = m.tx.Exec(ctx,
		`INSERT INTO diseases (id, name, category, sources, last_updated) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Name, d.Category, sources, d.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: insert disease %s", d.Name)
}

func (m *pgMergeTx) RevenueExists(ctx context.Context, therapyID, period, region string) (bool, error) {
	var exists bool
	err := m.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM therapy_revenues WHERE therapy_id = $1 AND period = $2 AND region = $3)`,
		therapyID, period, region,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: check revenue")
}

func (m *pgMergeTx) InsertRevenue(ctx context.Context, r *model.RevenueRecord) error {
	sources, err := marshalSources(r.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: insert revenue")
	}
	_, err = m.tx.Exec(ctx,
		`INSERT INTO therapy_revenues (id, therapy_id, period, region, revenue_millions_usd, sources, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.TherapyID, r.Period, r.Region, r.RevenueMillionsUSD, sources, r.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: insert revenue for therapy %s", r.TherapyID)
}

func (m *pgMergeTx) InsertApproval(ctx context.Context, a *model.TherapyApproval) error {
	sources, err := marshalSources(a.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: insert approval")
	}
	_, err = m.tx.Exec(ctx,
		`INSERT INTO therapy_approvals (id, therapy_id, disease_id, region, approval_date, approval_type, sources, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TherapyID, a.DiseaseID, a.Region, a.ApprovalDate, a.ApprovalType, sources, a.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: insert approval for therapy %s", a.TherapyID)
}

func (m *pgMergeTx) MarkApproved(ctx context.Context, id, actor, notes string, now time.Time) (bool, error) {
	tag, err := m.tx.Exec(ctx,
		`UPDATE extractions SET review_status = 'approved', reviewed_by = $2, reviewed_at = $3, review_notes = $4, updated_at = $3
		WHERE id = $1 AND review_status = 'pending'`,
		id, actor, now, notes,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark extraction %s approved", id)
	}
	return tag.RowsAffected() > 0, nil
}

func findPgTherapy(ctx context.Context, q pgQuerier, op, sql string, args ...any) (*model.Therapy, error) {
	t, err := scanPgTherapy(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	return t, nil
}

func scanPgTherapy(row pgx.Row) (*model.Therapy, error) {
	var t model.Therapy
	var sources []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Manufacturer, &t.Mechanism, &t.PricePerUnitUSD, &sources, &t.LastUpdated); err != nil {
		return nil, err
	}
	var err error
	if t.Sources, err = unmarshalSources(sources); err != nil {
		return nil, err
	}
	return &t, nil
}
