package revenue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/therapy-intel/internal/model"
)

func rec(id, therapy, period, region string, amount float64) model.RevenueRecord {
	return model.RevenueRecord{ID: id, TherapyID: therapy, Period: period, Region: region, RevenueMillionsUSD: amount}
}

func findRow(rows []model.ProcessedRevenue, period, region string) *model.ProcessedRevenue {
	for i := range rows {
		if rows[i].Period == period && rows[i].Region == region {
			return &rows[i]
		}
	}
	return nil
}

func TestResolve_AnnualOnlyInterpolates(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{rec("r1", "t1", "2024", "US", 400)})

	require.Len(t, rows, 4)
	for i, row := range rows {
		assert.Equal(t, "t1", row.TherapyID)
		assert.Equal(t, i+1, row.Quarter)
		assert.Equal(t, "US", row.Region)
		assert.InDelta(t, 100.0, row.RevenueMillionsUSD, 1e-9)
		assert.True(t, row.IsInterpolated)
		assert.Equal(t, 65, row.Confidence)
		assert.Equal(t, model.LevelAnnualRegional, row.Level)
		assert.Equal(t, "annual", row.DataGranularity)
		assert.Equal(t, "regional", row.GeographicScope)
		assert.Equal(t, "2024", row.OriginalPeriod)
		assert.Equal(t, "r1", row.SourceRecordID)
	}
	assert.Equal(t, []string{"2024-Q1", "2024-Q2", "2024-Q3", "2024-Q4"},
		[]string{rows[0].Period, rows[1].Period, rows[2].Period, rows[3].Period})
}

func TestResolve_QuarterlyBeatsGlobalAnnual(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("r1", "t1", "2023-Q1", "US", 100),
		rec("r2", "t1", "2023", "Global", 380),
	})

	q1US := findRow(rows, "2023-Q1", "US")
	require.NotNil(t, q1US)
	assert.InDelta(t, 100.0, q1US.RevenueMillionsUSD, 1e-9)
	assert.False(t, q1US.IsInterpolated)
	assert.Equal(t, 95, q1US.Confidence)
	assert.Nil(t, findRow(rows, "2023-Q1", "Global"), "global must not fill a quarter with regional data")

	for _, period := range []string{"2023-Q2", "2023-Q3", "2023-Q4"} {
		g := findRow(rows, period, "Global")
		require.NotNil(t, g, period)
		assert.InDelta(t, 95.0, g.RevenueMillionsUSD, 1e-9)
		assert.True(t, g.IsInterpolated)
		assert.Equal(t, 55, g.Confidence)
		assert.Equal(t, "global", g.GeographicScope)
		assert.Nil(t, findRow(rows, period, "US"))
	}
	assert.Len(t, rows, 4)
}

func TestResolve_QuarterlyGlobalPreferredOverAnnualGlobal(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("a", "t1", "FY2022", "Worldwide", 800),
		rec("q", "t1", "Q2 2022", "Global", 230),
	})

	q2 := findRow(rows, "2022-Q2", "Global")
	require.NotNil(t, q2)
	assert.Equal(t, "q", q2.SourceRecordID)
	assert.Equal(t, 85, q2.Confidence)
	assert.Equal(t, model.LevelQuarterlyGlobal, q2.Level)

	q1 := findRow(rows, "2022-Q1", "Global")
	require.NotNil(t, q1)
	assert.Equal(t, "a", q1.SourceRecordID)
	assert.InDelta(t, 200.0, q1.RevenueMillionsUSD, 1e-9)
}

func TestResolve_TieGoesToFirstSeen(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("first", "t1", "Q1 2024", "US", 10),
		rec("second", "t1", "2024-Q1", "USA", 20),
	})

	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].SourceRecordID)
	assert.InDelta(t, 10.0, rows[0].RevenueMillionsUSD, 1e-9)
}

func TestResolve_TimelineBoundsFromQuarterlyData(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("r1", "t1", "Q3 2022", "US", 30),
		rec("r2", "t1", "Q2 2023", "US", 40),
	})

	var periods []string
	for _, r := range rows {
		periods = append(periods, r.Period)
	}
	assert.Equal(t, []string{"2022-Q3", "2023-Q2"}, periods,
		"quarters with no covering fact produce no rows")
}

func TestResolve_RegionsKeptSeparate(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("r1", "t1", "Q1 2024", "EU", 50),
		rec("r2", "t1", "Q1 2024", "U.S.", 120),
		rec("r3", "t1", "Q1 2024", "ROW", 15),
	})

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"US", "Europe", "Other"}, []string{rows[0].Region, rows[1].Region, rows[2].Region})
}

func TestResolve_SkipsUnparseablePeriods(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("bad", "t1", "sometime soon", "US", 999),
		rec("ok", "t1", "Q4 2024", "US", 80),
	})

	require.Len(t, rows, 1)
	assert.Equal(t, "ok", rows[0].SourceRecordID)
}

func TestResolve_SortedByTherapyThenPeriod(t *testing.T) {
	rows := Resolve([]model.RevenueRecord{
		rec("b1", "zeta", "Q1 2024", "US", 1),
		rec("a2", "alpha", "Q2 2024", "US", 2),
		rec("a1", "alpha", "Q1 2024", "US", 3),
	})

	require.Len(t, rows, 3)
	assert.Equal(t, "alpha", rows[0].TherapyID)
	assert.Equal(t, "2024-Q1", rows[0].Period)
	assert.Equal(t, "alpha", rows[1].TherapyID)
	assert.Equal(t, "2024-Q2", rows[1].Period)
	assert.Equal(t, "zeta", rows[2].TherapyID)
}

func TestResolve_Empty(t *testing.T) {
	assert.Empty(t, Resolve(nil))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 10, clamp(-5, 10, 100))
	assert.Equal(t, 100, clamp(120, 10, 100))
	assert.Equal(t, 55, clamp(55, 10, 100))
}

type stubReader struct {
	records []model.RevenueRecord
	err     error
	gotIDs  []string
}

func (s *stubReader) ListRevenueRecords(_ context.Context, ids []string) ([]model.RevenueRecord, error) {
	s.gotIDs = ids
	return s.records, s.err
}

func TestServiceTimeline(t *testing.T) {
	reader := &stubReader{records: []model.RevenueRecord{rec("r1", "t1", "2024", "Global", 40)}}
	svc := NewService(reader)

	rows, err := svc.Timeline(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, reader.gotIDs)
	assert.Len(t, rows, 4)

	reader.err = errors.New("connection refused")
	_, err = svc.Timeline(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revenue: load records")
}

func TestLoadRecordsYAML(t *testing.T) {
	src := `
records:
  - therapy_id: keytruda
    period: Q1 2024
    region: US
    revenue_millions_usd: 4200
    sources: ["10-Q"]
  - id: custom
    therapy_id: keytruda
    period: "2023"
    region: Global
    revenue_millions_usd: 25000
`
	records, err := LoadRecordsYAML(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "record-1", records[0].ID)
	assert.Equal(t, []string{"10-Q"}, records[0].Sources)
	assert.Equal(t, "custom", records[1].ID)
	assert.InDelta(t, 25000.0, records[1].RevenueMillionsUSD, 1e-9)
}

func TestLoadRecordsYAML_MissingTherapy(t *testing.T) {
	_, err := LoadRecordsYAML(strings.NewReader("records:\n  - period: '2024'\n    region: US\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no therapy_id")
}

func TestLoadRecordsYAML_Empty(t *testing.T) {
	records, err := LoadRecordsYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
}
