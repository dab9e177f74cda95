package revenue

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/model"
)

// RecordReader loads raw revenue records. An empty id list means all therapies.
type RecordReader interface {
	ListRevenueRecords(ctx context.Context, therapyIDs []string) ([]model.RevenueRecord, error)
}

// Service builds resolved timelines from stored revenue records.
type Service struct {
	reader RecordReader
}

// NewService creates a timeline service.
func NewService(reader RecordReader) *Service {
	return &Service{reader: reader}
}

// Timeline resolves the stored revenue facts for the given therapies.
func (s *Service) Timeline(ctx context.Context, therapyIDs ...string) ([]model.ProcessedRevenue, error) {
	records, err := s.reader.ListRevenueRecords(ctx, therapyIDs)
	if err != nil {
		return nil, eris.Wrap(err, "revenue: load records")
	}
	return Resolve(records), nil
}
