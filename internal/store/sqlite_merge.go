package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/model"
)

type sqliteMergeTx struct {
	tx *sql.Tx
}

func (m *sqliteMergeTx) LockExtraction(ctx context.Context, id string) (*model.Extraction, error) {
	return getSQLiteExtraction(ctx, m.tx, id)
}

func (m *sqliteMergeTx) FindTherapy(ctx context.Context, name, manufacturer string) (*model.Therapy, error) {
	return findSQLiteTherapy(ctx, m.tx, "find therapy",
		`SELECT `+therapyColumns+` FROM therapies WHERE name = ? AND manufacturer = ?`,
		name, manufacturer,
	)
}

func (m *sqliteMergeTx) FindTherapyByID(ctx context.Context, id string) (*model.Therapy, error) {
	return findSQLiteTherapy(ctx, m.tx, "find therapy by id",
		`SELECT `+therapyColumns+` FROM therapies WHERE id = ?`, id,
	)
}

func (m *sqliteMergeTx) FindTherapyByName(ctx context.Context, name string) (*model.Therapy, error) {
	return findSQLiteTherapy(ctx, m.tx, "find therapy by name",
		`SELECT `+therapyColumns+` FROM therapies WHERE name = ? ORDER BY created_at ASC, id ASC LIMIT 1`, name,
	)
}

func (m *sqliteMergeTx) InsertTherapy(ctx context.Context, t *model.Therapy) error {
	sources, err := encodeSources(t.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert therapy")
	}
	ts := formatTime(t.LastUpdated)
	_, err = m.tx.ExecContext(ctx,
		`INSERT INTO therapies (id, name, manufacturer, mechanism, price_per_unit_usd, sources, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Manufacturer, t.Mechanism, t.PricePerUnitUSD, sources, ts, ts,
	)
	return eris.Wrapf(err, "sqlite: insert therapy %s", t.Name)
}

func (m *sqliteMergeTx) UpdateTherapy(ctx context.Context, t *model.Therapy) error {
	sources, err := encodeSources(t.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: update therapy")
	}
	_, err = m.tx.ExecContext(ctx,
		`UPDATE therapies SET mechanism = ?, price_per_unit_usd = ?, sources = ?, last_updated = ? WHERE id = ?`,
		t.Mechanism, t.PricePerUnitUSD, sources, formatTime(t.LastUpdated), t.ID,
	)
	return eris.Wrapf(err, "sqlite: update therapy %s", t.ID)
}

func (m *sqliteMergeTx) FindDisease(ctx context.Context, name string) (*model.Disease, error) {
	var d model.Disease
	var sources, lastUpdated string
	err := m.tx.QueryRowContext(ctx,
		`SELECT id, name, category, sources, last_updated FROM diseases WHERE name = ?`, name,
	).Scan(&d.ID, &d.Name, &d.Category, &sources, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find disease")
	}
	if d.Sources, err = unmarshalSources([]byte(sources)); err != nil {
		return nil, err
	}
	if d.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &d, nil
}

func (m *sqliteMergeTx) InsertDisease(ctx context.Context, d *model.Disease) error {
	sources, err := encodeSources(d.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert disease")
	}
	_, err = m.tx.ExecContext(ctx,
		`INSERT INTO diseases (id, name, category, sources, last_updated) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Category, sources, formatTime(d.LastUpdated),
	)
	return eris.Wrapf(err, "sqlite: insert disease %s", d.Name)
}

func (m *sqliteMergeTx) RevenueExists(ctx context.Context, therapyID, period, region string) (bool, error) {
	var exists bool
	err := m.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM therapy_revenues WHERE therapy_id = ? AND period = ? AND region = ?)`,
		therapyID, period, region,
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: check revenue")
}

func (m *sqliteMergeTx) InsertRevenue(ctx context.Context, r *model.RevenueRecord) error {
	_, err := execSQLiteRevenue(ctx, m.tx, r, false)
	return err
}

func (m *sqliteMergeTx) InsertApproval(ctx context.Context, a *model.TherapyApproval) error {
	sources, err := encodeSources(a.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert approval")
	}
	_, err = m.tx.ExecContext(ctx,
		`INSERT INTO therapy_approvals (id, therapy_id, disease_id, region, approval_date, approval_type, sources, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TherapyID, a.DiseaseID, a.Region, a.ApprovalDate, a.ApprovalType, sources, formatTime(a.LastUpdated),
	)
	return eris.Wrapf(err, "sqlite: insert approval for therapy %s", a.TherapyID)
}

func (m *sqliteMergeTx) MarkApproved(ctx context.Context, id, actor, notes string, now time.Time) (bool, error) {
	res, err := m.tx.ExecContext(ctx,
		`UPDATE extractions SET review_status = 'approved', reviewed_by = ?2, reviewed_at = ?3, review_notes = ?4, updated_at = ?3
		WHERE id = ?1 AND review_status = 'pending'`,
		id, actor, formatTime(now), notes,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark extraction %s approved", id)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func findSQLiteTherapy(ctx context.Context, q sqlRunner, op, query string, args ...any) (*model.Therapy, error) {
	t, err := scanSQLiteTherapy(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	return t, nil
}

func scanSQLiteTherapy(row scannable) (*model.Therapy, error) {
	var t model.Therapy
	var price sql.NullFloat64
	var sources, lastUpdated string
	if err := row.Scan(&t.ID, &t.Name, &t.Manufacturer, &t.Mechanism, &price, &sources, &lastUpdated); err != nil {
		return nil, err
	}
	if price.Valid {
		p := price.Float64
		t.PricePerUnitUSD = &p
	}
	var err error
	if t.Sources, err = unmarshalSources([]byte(sources)); err != nil {
		return nil, err
	}
	if t.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &t, nil
}

// execSQLiteRevenue inserts one raw revenue fact. With skipExisting set, a
// row already present for the same therapy, period, and region is left alone
// and the insert reports false.
func execSQLiteRevenue(ctx context.Context, q sqlRunner, r *model.RevenueRecord, skipExisting bool) (bool, error) {
	sources, err := encodeSources(r.Sources)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert revenue")
	}
	query := `INSERT INTO therapy_revenues (id, therapy_id, period, region, revenue_millions_usd, sources, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if skipExisting {
		query += ` ON CONFLICT (therapy_id, period, region) DO NOTHING`
	}
	res, err := q.ExecContext(ctx, query,
		r.ID, r.TherapyID, r.Period, r.Region, r.RevenueMillionsUSD, sources, formatTime(r.LastUpdated),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert revenue for therapy %s", r.TherapyID)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}
