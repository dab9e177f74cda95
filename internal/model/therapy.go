package model

import "time"

// DefaultDiseaseCategory is assigned to diseases created during a merge.
const DefaultDiseaseCategory = "Uncategorized"

// Therapy is a canonical therapy row. (Name, Manufacturer) identifies it.
type Therapy struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Manufacturer    string    `json:"manufacturer"`
	Mechanism       string    `json:"mechanism,omitempty"`
	PricePerUnitUSD *float64  `json:"price_per_unit_usd,omitempty"`
	Sources         []string  `json:"sources"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Disease is a canonical disease row keyed by exact name.
type Disease struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Sources     []string  `json:"sources"`
	LastUpdated time.Time `json:"last_updated"`
}

// TherapyApproval links a therapy to a disease in a region.
type TherapyApproval struct {
	ID           string    `json:"id"`
	TherapyID    string    `json:"therapy_id"`
	DiseaseID    string    `json:"disease_id"`
	Region       string    `json:"region"`
	ApprovalDate string    `json:"approval_date,omitempty"`
	ApprovalType string    `json:"approval_type,omitempty"`
	Sources      []string  `json:"sources"`
	LastUpdated  time.Time `json:"last_updated"`
}

// MergeSummary counts what an approval merge did.
type MergeSummary struct {
	ExtractionID       string `json:"extraction_id"`
	TherapiesCreated   int    `json:"therapies_created"`
	TherapiesUpdated   int    `json:"therapies_updated"`
	RevenuesInserted   int    `json:"revenues_inserted"`
	RevenuesDuplicate  int    `json:"revenues_duplicate"`
	RevenuesUnresolved int    `json:"revenues_unresolved"`
	ApprovalsInserted  int    `json:"approvals_inserted"`
	ApprovalsSkipped   int    `json:"approvals_skipped"`
	DiseasesCreated    int    `json:"diseases_created"`
}
