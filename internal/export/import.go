package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/therapy-intel/internal/model"
)

var requiredImportColumns = []string{"therapy_id", "period", "region", "revenue_millions_usd"}

// ReadRecords reads raw revenue facts from a .csv or .xlsx file. The first
// row is a header naming at least therapy_id, period, region, and
// revenue_millions_usd. Optional columns are id and sources (separated by
// semicolons). Records keep an empty ID when the file has none.
func ReadRecords(path string) ([]model.RevenueRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "export: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadRecordsCSV(f)
	case ".xlsx":
		return ReadRecordsXLSX(path)
	default:
		return nil, eris.Errorf("export: unsupported import file %q", filepath.Base(path))
	}
}

// ReadRecordsCSV reads raw revenue facts from CSV.
func ReadRecordsCSV(r io.Reader) ([]model.RevenueRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "export: read csv")
	}
	return recordsFromRows(rows)
}

// ReadRecordsXLSX reads raw revenue facts from the first sheet of a workbook.
func ReadRecordsXLSX(path string) ([]model.RevenueRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("export: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return recordsFromRows(rows)
}

func recordsFromRows(rows [][]string) ([]model.RevenueRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredImportColumns {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("export: missing column %q", col)
		}
	}

	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []model.RevenueRecord
	for n, row := range rows[1:] {
		line := n + 2
		if isBlank(row) {
			continue
		}

		rec := model.RevenueRecord{
			ID:        get(row, "id"),
			TherapyID: get(row, "therapy_id"),
			Period:    get(row, "period"),
			Region:    get(row, "region"),
		}
		if rec.TherapyID == "" || rec.Period == "" {
			return nil, eris.Errorf("export: row %d needs therapy_id and period", line)
		}

		raw := strings.ReplaceAll(get(row, "revenue_millions_usd"), ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "export: row %d revenue %q", line, raw)
		}
		rec.RevenueMillionsUSD = v

		if s := get(row, "sources"); s != "" {
			for _, src := range strings.Split(s, ";") {
				if src = strings.TrimSpace(src); src != "" {
					rec.Sources = append(rec.Sources, src)
				}
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
