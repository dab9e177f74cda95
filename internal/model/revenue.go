package model

import "time"

// RevenueRecord is a raw canonical revenue fact as stored. Period and Region
// are free text and normalized only at resolution time.
type RevenueRecord struct {
	ID                 string    `json:"id" yaml:"id"`
	TherapyID          string    `json:"therapy_id" yaml:"therapy_id"`
	Period             string    `json:"period" yaml:"period"`
	Region             string    `json:"region" yaml:"region"`
	RevenueMillionsUSD float64   `json:"revenue_millions_usd" yaml:"revenue_millions_usd"`
	Sources            []string  `json:"sources" yaml:"sources"`
	LastUpdated        time.Time `json:"last_updated" yaml:"last_updated"`
}

// HierarchyLevel ranks revenue facts by specificity. Lower wins.
type HierarchyLevel int

const (
	LevelQuarterlyRegional HierarchyLevel = 1
	LevelQuarterlyGlobal   HierarchyLevel = 2
	LevelAnnualRegional    HierarchyLevel = 3
	LevelAnnualGlobal      HierarchyLevel = 4
)

func (l HierarchyLevel) String() string {
	switch l {
	case LevelQuarterlyRegional:
		return "quarterly_regional"
	case LevelQuarterlyGlobal:
		return "quarterly_global"
	case LevelAnnualRegional:
		return "annual_regional"
	case LevelAnnualGlobal:
		return "annual_global"
	}
	return "unknown"
}

// BaseConfidence is the confidence of a fact at this level before any
// interpolation penalty.
func (l HierarchyLevel) BaseConfidence() int {
	switch l {
	case LevelQuarterlyRegional:
		return 95
	case LevelQuarterlyGlobal:
		return 85
	case LevelAnnualRegional:
		return 75
	case LevelAnnualGlobal:
		return 65
	}
	return 0
}

// ProcessedRevenue is one resolved (therapy, quarter, region) row.
type ProcessedRevenue struct {
	TherapyID          string         `json:"therapy_id"`
	Period             string         `json:"period"`
	Year               int            `json:"year"`
	Quarter            int            `json:"quarter"`
	Region             string         `json:"region"`
	RevenueMillionsUSD float64        `json:"revenue_millions_usd"`
	Level              HierarchyLevel `json:"hierarchy_rank"`
	HierarchyLevel     string         `json:"hierarchy_level"`
	DataGranularity    string         `json:"data_granularity"`
	GeographicScope    string         `json:"geographic_scope"`
	OriginalPeriod     string         `json:"original_period"`
	IsInterpolated     bool           `json:"is_interpolated"`
	Confidence         int            `json:"confidence"`
	SourceRecordID     string         `json:"source_record_id,omitempty"`
}
