package model

import (
	"encoding/json"
	"time"
)

// ReviewStatus is the human review state of an extraction.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Review is the review decision. Actor and At are set only once decided.
type Review struct {
	Status ReviewStatus `json:"status"`
	Actor  string       `json:"actor,omitempty"`
	At     *time.Time   `json:"at,omitempty"`
	Notes  string       `json:"notes,omitempty"`
}

// Decided reports whether the review has left the pending state.
func (r Review) Decided() bool {
	return r.Status == ReviewApproved || r.Status == ReviewRejected
}

// Extraction is the structured result of processing one document.
type Extraction struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"document_id"`
	JobID      string           `json:"job_id,omitempty"`
	Payload    ExtractedPayload `json:"payload"`
	Review     Review           `json:"review"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RequiresReview is the legacy flag: true until a decision is recorded.
func (e *Extraction) RequiresReview() bool {
	return e.Review.Status == ReviewPending
}

// ApprovedBy is the legacy reviewer field. It is set for approvals and
// rejections alike.
func (e *Extraction) ApprovedBy() string {
	if !e.Review.Decided() {
		return ""
	}
	return e.Review.Actor
}

// ApprovedAt is the legacy approval timestamp. Rejections leave it nil.
func (e *Extraction) ApprovedAt() *time.Time {
	if e.Review.Status != ReviewApproved {
		return nil
	}
	return e.Review.At
}

// MarshalJSON adds the legacy review projection next to the explicit state.
func (e Extraction) MarshalJSON() ([]byte, error) {
	type alias Extraction
	return json.Marshal(struct {
		alias
		RequiresReview bool       `json:"requires_review"`
		ApprovedBy     string     `json:"approved_by,omitempty"`
		ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	}{
		alias:          alias(e),
		RequiresReview: e.RequiresReview(),
		ApprovedBy:     e.ApprovedBy(),
		ApprovedAt:     e.ApprovedAt(),
	})
}

// ExtractedPayload holds the candidate facts pulled from a document.
type ExtractedPayload struct {
	Therapies    []TherapyFact  `json:"therapies"`
	Revenues     []RevenueFact  `json:"revenues"`
	Approvals    []ApprovalFact `json:"approvals"`
	Confidence   map[string]int `json:"confidence,omitempty"`
	SourceQuotes []SourceQuote  `json:"source_quotes,omitempty"`
}

// Empty reports whether the payload carries no facts.
func (p ExtractedPayload) Empty() bool {
	return len(p.Therapies) == 0 && len(p.Revenues) == 0 && len(p.Approvals) == 0
}

// TherapyFact is a candidate therapy.
type TherapyFact struct {
	Name            string   `json:"name"`
	Manufacturer    string   `json:"manufacturer"`
	Mechanism       string   `json:"mechanism,omitempty"`
	PricePerUnitUSD *float64 `json:"price_per_unit_usd,omitempty"`
	Sources         []string `json:"sources,omitempty"`
}

// RevenueFact is a candidate revenue observation. TherapyID, when set, takes
// precedence over TherapyName for resolution.
type RevenueFact struct {
	TherapyID          string   `json:"therapy_id,omitempty"`
	TherapyName        string   `json:"therapy_name"`
	Period             string   `json:"period"`
	Region             string   `json:"region"`
	RevenueMillionsUSD float64  `json:"revenue_millions_usd"`
	Sources            []string `json:"sources,omitempty"`
}

// ApprovalFact is a candidate regulatory approval.
type ApprovalFact struct {
	TherapyID    string   `json:"therapy_id,omitempty"`
	TherapyName  string   `json:"therapy_name"`
	DiseaseName  string   `json:"disease_name"`
	Region       string   `json:"region"`
	ApprovalDate string   `json:"approval_date,omitempty"`
	ApprovalType string   `json:"approval_type,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// SourceQuote is a verbatim passage supporting the extraction.
type SourceQuote struct {
	Text    string `json:"text"`
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}
