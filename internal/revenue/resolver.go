// Package revenue reconciles raw revenue facts of mixed granularity into a
// single quarterly timeline per therapy and region.
package revenue

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/normalize"
)

const (
	interpolationPenalty = 10
	minConfidence        = 10
	maxConfidence        = 100
)

// fact is a raw record after normalization.
type fact struct {
	rec    model.RevenueRecord
	period normalize.Period
	region normalize.Region
	level  model.HierarchyLevel
	seq    int
}

func (f fact) covers(year, quarter int) bool {
	return f.period.Year == year && (f.period.IsAnnual || f.period.Quarter == quarter)
}

func levelFor(p normalize.Period, r normalize.Region) model.HierarchyLevel {
	switch {
	case !p.IsAnnual && !r.IsGlobal():
		return model.LevelQuarterlyRegional
	case !p.IsAnnual:
		return model.LevelQuarterlyGlobal
	case !r.IsGlobal():
		return model.LevelAnnualRegional
	default:
		return model.LevelAnnualGlobal
	}
}

// Resolve produces one row per therapy, quarter, and region from raw
// records. For each (quarter, region) the most specific fact wins, with ties
// going to the earliest record in input order. Annual facts contribute a
// quarter of their value, flagged as interpolated. Global facts fill a
// quarter only when no regional fact covers it. Unparseable periods are
// logged and skipped. Output is sorted by therapy, period, then region.
func Resolve(records []model.RevenueRecord) []model.ProcessedRevenue {
	log := zap.L().With(zap.String("component", "revenue.resolver"))

	byTherapy := make(map[string][]fact)
	var order []string
	for i, rec := range records {
		p, err := normalize.ParsePeriod(rec.Period)
		if err != nil {
			log.Warn("skipping revenue record with unparseable period",
				zap.String("record_id", rec.ID),
				zap.String("therapy_id", rec.TherapyID),
				zap.String("period", rec.Period),
			)
			continue
		}
		r := normalize.StandardizeRegion(rec.Region)
		if _, seen := byTherapy[rec.TherapyID]; !seen {
			order = append(order, rec.TherapyID)
		}
		byTherapy[rec.TherapyID] = append(byTherapy[rec.TherapyID], fact{
			rec:    rec,
			period: p,
			region: r,
			level:  levelFor(p, r),
			seq:    i,
		})
	}

	var out []model.ProcessedRevenue
	for _, therapyID := range order {
		out = append(out, resolveTherapy(therapyID, byTherapy[therapyID])...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TherapyID != b.TherapyID {
			return a.TherapyID < b.TherapyID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Quarter != b.Quarter {
			return a.Quarter < b.Quarter
		}
		return normalize.Region(a.Region).Order() < normalize.Region(b.Region).Order()
	})
	return out
}

func resolveTherapy(therapyID string, facts []fact) []model.ProcessedRevenue {
	if len(facts) == 0 {
		return nil
	}

	startYear, startQ, endYear, endQ := bounds(facts)

	var out []model.ProcessedRevenue
	for year := startYear; year <= endYear; year++ {
		firstQ, lastQ := 1, 4
		if year == startYear {
			firstQ = startQ
		}
		if year == endYear {
			lastQ = endQ
		}
		for q := firstQ; q <= lastQ; q++ {
			out = append(out, resolveQuarter(therapyID, year, q, facts)...)
		}
	}
	return out
}

// bounds returns the timeline span: the earliest quarter covered in the
// first year through the latest quarter covered in the last year.
func bounds(facts []fact) (startYear, startQ, endYear, endQ int) {
	startYear, endYear = facts[0].period.Year, facts[0].period.Year
	for _, f := range facts {
		if f.period.Year < startYear {
			startYear = f.period.Year
		}
		if f.period.Year > endYear {
			endYear = f.period.Year
		}
	}

	startQ, endQ = 4, 1
	for _, f := range facts {
		qs := f.period.Quarters()
		if f.period.Year == startYear && qs[0] < startQ {
			startQ = qs[0]
		}
		if f.period.Year == endYear && qs[len(qs)-1] > endQ {
			endQ = qs[len(qs)-1]
		}
	}
	return startYear, startQ, endYear, endQ
}

func resolveQuarter(therapyID string, year, quarter int, facts []fact) []model.ProcessedRevenue {
	best := make(map[normalize.Region]fact)
	for _, f := range facts {
		if !f.covers(year, quarter) {
			continue
		}
		cur, ok := best[f.region]
		if !ok || f.level < cur.level || (f.level == cur.level && f.seq < cur.seq) {
			best[f.region] = f
		}
	}

	hasRegional := false
	for r := range best {
		if !r.IsGlobal() {
			hasRegional = true
			break
		}
	}

	var out []model.ProcessedRevenue
	for _, r := range normalize.Regions {
		f, ok := best[r]
		if !ok || (r.IsGlobal() && hasRegional) {
			continue
		}
		out = append(out, toProcessed(therapyID, year, quarter, f))
	}
	return out
}

func toProcessed(therapyID string, year, quarter int, f fact) model.ProcessedRevenue {
	value := f.rec.RevenueMillionsUSD
	confidence := f.level.BaseConfidence()
	interpolated := f.period.IsAnnual
	if interpolated {
		value /= 4
		confidence -= interpolationPenalty
	}

	granularity := "quarterly"
	if f.period.IsAnnual {
		granularity = "annual"
	}
	scope := "regional"
	if f.region.IsGlobal() {
		scope = "global"
	}

	return model.ProcessedRevenue{
		TherapyID:          therapyID,
		Period:             normalize.FormatQuarter(year, quarter),
		Year:               year,
		Quarter:            quarter,
		Region:             string(f.region),
		RevenueMillionsUSD: value,
		Level:              f.level,
		HierarchyLevel:     f.level.String(),
		DataGranularity:    granularity,
		GeographicScope:    scope,
		OriginalPeriod:     f.rec.Period,
		IsInterpolated:     interpolated,
		Confidence:         clamp(confidence, minConfidence, maxConfidence),
		SourceRecordID:     f.rec.ID,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
