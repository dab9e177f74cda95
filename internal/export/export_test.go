package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/therapy-intel/internal/model"
)

func sampleTimeline() []model.ProcessedRevenue {
	return []model.ProcessedRevenue{
		{
			TherapyID: "t-keytruda", Period: "2024-Q1", Year: 2024, Quarter: 1, Region: "US",
			RevenueMillionsUSD: 4200.5, Level: model.LevelQuarterlyRegional,
			HierarchyLevel: "quarterly_regional", DataGranularity: "quarterly", GeographicScope: "regional",
			OriginalPeriod: "Q1 2024", Confidence: 95,
		},
		{
			TherapyID: "t-keytruda", Period: "2024-Q2", Year: 2024, Quarter: 2, Region: "Global",
			RevenueMillionsUSD: 1000, Level: model.LevelAnnualGlobal,
			HierarchyLevel: "annual_global", DataGranularity: "annual", GeographicScope: "global",
			OriginalPeriod: "FY2024", IsInterpolated: true, Confidence: 55,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTimeline(), Names{"t-keytruda": "Keytruda"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(TimelineHeader, ","), lines[0])
	assert.Equal(t, "t-keytruda,Keytruda,2024-Q1,US,4200.5,quarterly_regional,quarterly,regional,Q1 2024,false,95", lines[1])
	assert.Equal(t, "t-keytruda,Keytruda,2024-Q2,Global,1000,annual_global,annual,global,FY2024,true,55", lines[2])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil, nil))
	assert.Equal(t, strings.Join(TimelineHeader, ",")+"\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteXLSX(f, sampleTimeline(), Names{"t-keytruda": "Keytruda"}))
	require.NoError(t, f.Close())

	wb, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	sheet := wb.Sheets[0]
	assert.Equal(t, "Revenue Timeline", sheet.Name)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "therapy_id", sheet.Rows[0].Cells[0].String())
	row := sheet.Rows[1]
	assert.Equal(t, "Keytruda", row.Cells[1].String())
	rev, err := row.Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 4200.5, rev, 1e-9)
	conf, err := row.Cells[10].Int()
	require.NoError(t, err)
	assert.Equal(t, 95, conf)
}

func TestReadRecordsCSV(t *testing.T) {
	data := `therapy_id,period,region,revenue_millions_usd,sources
t-1,Q1 2024,US,"4,200.5",10-Q p.3; press release
t-1,FY2023,Global,25011,

t-2,2024 Q2,EU,310,
`
	recs, err := ReadRecordsCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "t-1", recs[0].TherapyID)
	assert.Equal(t, "Q1 2024", recs[0].Period)
	assert.InDelta(t, 4200.5, recs[0].RevenueMillionsUSD, 1e-9)
	assert.Equal(t, []string{"10-Q p.3", "press release"}, recs[0].Sources)
	assert.Empty(t, recs[0].ID)
	assert.Nil(t, recs[1].Sources)
	assert.Equal(t, "EU", recs[2].Region)
}

func TestReadRecordsCSV_Errors(t *testing.T) {
	_, err := ReadRecordsCSV(strings.NewReader("therapy_id,period,region\nt-1,2024,US\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "revenue_millions_usd"`)

	_, err = ReadRecordsCSV(strings.NewReader("therapy_id,period,region,revenue_millions_usd\nt-1,2024,US,lots\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")

	_, err = ReadRecordsCSV(strings.NewReader("therapy_id,period,region,revenue_millions_usd\n,2024,US,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs therapy_id and period")

	recs, err := ReadRecordsCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadRecords_XLSXRoundTrip(t *testing.T) {
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("Facts")
	require.NoError(t, err)
	for _, r := range [][]string{
		{"ID", "Therapy_ID", "Period", "Region", "Revenue_Millions_USD"},
		{"r-1", "t-1", "Q3 2024", "United States", "812.25"},
	} {
		row := sheet.AddRow()
		for _, c := range r {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "facts.xlsx")
	require.NoError(t, wb.Save(path))

	recs, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r-1", recs[0].ID)
	assert.Equal(t, "United States", recs[0].Region)
	assert.InDelta(t, 812.25, recs[0].RevenueMillionsUSD, 1e-9)
}

func TestReadRecords_UnsupportedExtension(t *testing.T) {
	_, err := ReadRecords("/tmp/facts.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported import file")
}
