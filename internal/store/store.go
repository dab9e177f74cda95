// Package store persists documents, jobs, extractions, and canonical therapy
// data. PostgresStore is the production backend; SQLiteStore backs local runs
// and tests.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/therapy-intel/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status     model.JobStatus `json:"status,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// ExtractionFilter specifies criteria for listing extractions.
type ExtractionFilter struct {
	Status model.ReviewStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// JobStore persists queue state. The conditional transitions report whether
// a row matched; callers decide between not-found and wrong-state.
type JobStore interface {
	// InsertJob adds a pending job unless the document already has a pending
	// or processing job, in which case it returns an apperr Conflict.
	InsertJob(ctx context.Context, job *model.Job) error
	// ClaimNextJob atomically moves the highest-priority, oldest eligible
	// pending job to processing. It returns nil when nothing is claimable.
	ClaimNextJob(ctx context.Context, now time.Time) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	CompleteJob(ctx context.Context, id string, now time.Time) (bool, error)
	FailJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error)
	RetryJob(ctx context.Context, id string, notBefore *time.Time) (bool, error)
	ResetJob(ctx context.Context, id string) (bool, error)
	CancelJob(ctx context.Context, id, errMsg string, now time.Time) (bool, error)
	JobStats(ctx context.Context, stuckBefore time.Time) (*model.QueueStats, error)
	DeleteCompletedJobs(ctx context.Context, before time.Time) (int64, error)
}

// DocumentStore persists uploaded document metadata.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	// GetDocumentByHash returns nil when no document has the hash.
	GetDocumentByHash(ctx context.Context, hash string) (*model.Document, error)
}

// ExtractionStore persists extraction results and their review state.
type ExtractionStore interface {
	// SaveExtraction upserts by document. A repeat save overwrites the
	// payload and resets review to pending. An empty ID gets a new UUID and a
	// zero UpdatedAt gets the current time. On a repeat save ID and CreatedAt
	// are replaced with the stored row's.
	SaveExtraction(ctx context.Context, e *model.Extraction) error
	GetExtraction(ctx context.Context, id string) (*model.Extraction, error)
	ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.Extraction, error)
	CountExtractions(ctx context.Context, status model.ReviewStatus) (int, error)
	// RejectExtraction records a rejection if the extraction is still pending.
	RejectExtraction(ctx context.Context, id, actor, notes string, now time.Time) (bool, error)
	// DeleteExtraction removes a still-pending extraction.
	DeleteExtraction(ctx context.Context, id string) (bool, error)
	// RunMerge runs fn in a single serializable transaction.
	RunMerge(ctx context.Context, fn func(ctx context.Context, tx MergeTx) error) error
}

// MergeTx is the transactional view used while approving an extraction.
// Lookups return nil when nothing matches.
type MergeTx interface {
	// LockExtraction reads the extraction and holds it for the transaction.
	LockExtraction(ctx context.Context, id string) (*model.Extraction, error)
	FindTherapy(ctx context.Context, name, manufacturer string) (*model.Therapy, error)
	FindTherapyByID(ctx context.Context, id string) (*model.Therapy, error)
	FindTherapyByName(ctx context.Context, name string) (*model.Therapy, error)
	InsertTherapy(ctx context.Context, t *model.Therapy) error
	UpdateTherapy(ctx context.Context, t *model.Therapy) error
	FindDisease(ctx context.Context, name string) (*model.Disease, error)
	InsertDisease(ctx context.Context, d *model.Disease) error
	RevenueExists(ctx context.Context, therapyID, period, region string) (bool, error)
	InsertRevenue(ctx context.Context, r *model.RevenueRecord) error
	InsertApproval(ctx context.Context, a *model.TherapyApproval) error
	MarkApproved(ctx context.Context, id, actor, notes string, now time.Time) (bool, error)
}

// TherapyStore reads canonical therapy data.
type TherapyStore interface {
	GetTherapy(ctx context.Context, id string) (*model.Therapy, error)
	ListTherapies(ctx context.Context) ([]model.Therapy, error)
	ListApprovals(ctx context.Context, therapyID string) ([]model.TherapyApproval, error)
	// ListRevenueRecords returns raw revenue facts in insertion order. An
	// empty id list means all therapies.
	ListRevenueRecords(ctx context.Context, therapyIDs []string) ([]model.RevenueRecord, error)
	// ImportRevenueRecords bulk-loads raw facts, skipping any that already
	// exist for the same therapy, period, and region.
	ImportRevenueRecords(ctx context.Context, records []model.RevenueRecord) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	DocumentStore
	ExtractionStore
	TherapyStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Compile-time checks.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// prepareExtraction fills the fields SaveExtraction needs for a first insert.
func prepareExtraction(e *model.Extraction) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
}
