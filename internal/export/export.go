// Package export converts revenue data to and from CSV and XLSX
// spreadsheets.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/therapy-intel/internal/model"
)

// TimelineHeader is the column layout of an exported timeline.
var TimelineHeader = []string{
	"therapy_id",
	"therapy",
	"period",
	"region",
	"revenue_millions_usd",
	"hierarchy_level",
	"data_granularity",
	"geographic_scope",
	"original_period",
	"is_interpolated",
	"confidence",
}

// Names maps therapy ids to display names. Missing ids export blank.
type Names map[string]string

func timelineRow(r model.ProcessedRevenue, names Names) []string {
	return []string{
		r.TherapyID,
		names[r.TherapyID],
		r.Period,
		r.Region,
		strconv.FormatFloat(r.RevenueMillionsUSD, 'f', -1, 64),
		r.HierarchyLevel,
		r.DataGranularity,
		r.GeographicScope,
		r.OriginalPeriod,
		strconv.FormatBool(r.IsInterpolated),
		strconv.Itoa(r.Confidence),
	}
}

// WriteCSV writes a resolved timeline as CSV with a header row.
func WriteCSV(w io.Writer, rows []model.ProcessedRevenue, names Names) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TimelineHeader); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(timelineRow(r, names)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX writes a resolved timeline as a single-sheet workbook. Revenue
// and confidence are numeric cells.
func WriteXLSX(w io.Writer, rows []model.ProcessedRevenue, names Names) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Revenue Timeline")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range TimelineHeader {
		header.AddCell().SetString(h)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.TherapyID)
		row.AddCell().SetString(names[r.TherapyID])
		row.AddCell().SetString(r.Period)
		row.AddCell().SetString(r.Region)
		row.AddCell().SetFloat(r.RevenueMillionsUSD)
		row.AddCell().SetString(r.HierarchyLevel)
		row.AddCell().SetString(r.DataGranularity)
		row.AddCell().SetString(r.GeographicScope)
		row.AddCell().SetString(r.OriginalPeriod)
		row.AddCell().SetBool(r.IsInterpolated)
		row.AddCell().SetInt(r.Confidence)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
