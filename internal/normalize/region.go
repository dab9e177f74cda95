package normalize

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// Region is a canonical reporting region.
type Region string

const (
	RegionUS     Region = "US"
	RegionEurope Region = "Europe"
	RegionOther  Region = "Other"
	RegionGlobal Region = "Global"
)

// Regions lists the canonical regions in display order.
var Regions = []Region{RegionUS, RegionEurope, RegionOther, RegionGlobal}

// Order returns the display position of r.
func (r Region) Order() int {
	for i, x := range Regions {
		if x == r {
			return i
		}
	}
	return len(Regions)
}

// IsGlobal reports whether r is the worldwide total rather than a regional slice.
func (r Region) IsGlobal() bool {
	return r == RegionGlobal
}

var regionAliases = map[string]Region{
	"us":                       RegionUS,
	"usa":                      RegionUS,
	"united states":            RegionUS,
	"united states of america": RegionUS,
	"america":                  RegionUS,
	"north america":            RegionUS,
	"domestic":                 RegionUS,

	"europe":         RegionEurope,
	"eu":             RegionEurope,
	"ema":            RegionEurope,
	"european union": RegionEurope,
	"western europe": RegionEurope,
	"eu5":            RegionEurope,
	"uk":             RegionEurope,
	"united kingdom": RegionEurope,
	"germany":        RegionEurope,
	"france":         RegionEurope,
	"italy":          RegionEurope,
	"spain":          RegionEurope,

	"other":             RegionOther,
	"row":               RegionOther,
	"rest of world":     RegionOther,
	"rest of the world": RegionOther,
	"international":     RegionOther,
	"ex us":             RegionOther,
	"apac":              RegionOther,
	"asia":              RegionOther,
	"asia pacific":      RegionOther,
	"japan":             RegionOther,
	"china":             RegionOther,
	"latin america":     RegionOther,
	"emerging markets":  RegionOther,

	"global":      RegionGlobal,
	"worldwide":   RegionGlobal,
	"world":       RegionGlobal,
	"ww":          RegionGlobal,
	"total":       RegionGlobal,
	"all regions": RegionGlobal,
}

var folder = cases.Fold()

// regionKey folds case and width, drops dots, and collapses separators.
func regionKey(text string) string {
	s := folder.String(width.Fold.String(text))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.NewReplacer("-", " ", "_", " ", "/", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// StandardizeRegion maps a free-text region onto a canonical Region.
// Unmapped input is logged and treated as Other.
func StandardizeRegion(text string) Region {
	if r, ok := regionAliases[regionKey(text)]; ok {
		return r
	}
	zap.L().Warn("unmapped region, using Other", zap.String("region", text))
	return RegionOther
}
