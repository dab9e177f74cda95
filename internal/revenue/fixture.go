package revenue

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/therapy-intel/internal/model"
)

// fixtureFile is the on-disk layout for offline resolution:
//
//	records:
//	  - therapy_id: keytruda
//	    period: Q1 2024
//	    region: US
//	    revenue_millions_usd: 4200
type fixtureFile struct {
	Records []model.RevenueRecord `yaml:"records"`
}

// LoadRecordsYAML reads revenue records from a YAML fixture. Records without
// an id get a positional one so resolved rows stay traceable.
func LoadRecordsYAML(r io.Reader) ([]model.RevenueRecord, error) {
	var f fixtureFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "revenue: decode fixture")
	}
	for i := range f.Records {
		if f.Records[i].ID == "" {
			f.Records[i].ID = fmt.Sprintf("record-%d", i+1)
		}
		if f.Records[i].TherapyID == "" {
			return nil, eris.Errorf("revenue: record %d has no therapy_id", i+1)
		}
	}
	return f.Records, nil
}
