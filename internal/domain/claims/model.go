package claims

import (
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/platform/risk"
	"github.com/rcm/rcm/pkg/money"
)

// Status is the claim lifecycle state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusApproved    Status = "APPROVED"
	StatusDenied      Status = "DENIED"
	StatusResubmitted Status = "RESUBMITTED"
)

// Decidable reports whether a claim in this status may still be approved or
// rejected.
func (s Status) Decidable() bool {
	return s == StatusPending || s == StatusResubmitted
}

// Claim maps to the claim table. A claim is a reimbursement request to a
// payer; its lifecycle is PENDING/RESUBMITTED -> APPROVED|DENIED. A denied
// claim is terminal — resubmission creates a new claim carrying a
// back-reference, never a mutation of the original.
type Claim struct {
	ID              uuid.UUID            `db:"id" json:"id"`
	PatientID       uuid.UUID            `db:"patient_id" json:"patient_id"`
	Payer           string               `db:"payer" json:"payer"`
	AmountMinor     money.Amount         `db:"amount_minor" json:"amount_minor"`
	Status          Status               `db:"status" json:"status"`
	RiskScore       *float64             `db:"risk_score" json:"risk_score,omitempty"`
	RiskExplanation *string              `db:"risk_explanation" json:"risk_explanation,omitempty"`
	RiskFactors     []risk.Factor        `db:"risk_factors" json:"risk_factors,omitempty"`
	Attributes      risk.Features        `db:"attributes" json:"attributes"`
	AppointmentID   *uuid.UUID           `db:"appointment_id" json:"appointment_id,omitempty"`
	ResubmissionOf  *uuid.UUID           `db:"resubmission_of" json:"resubmission_of,omitempty"`
	SubmittedAt     time.Time            `db:"submitted_at" json:"submitted_at"`
	ProcessedAt     *time.Time           `db:"processed_at" json:"processed_at,omitempty"`
	DecidedBy       *string              `db:"decided_by" json:"decided_by,omitempty"`
	Version         int                  `db:"version" json:"version"`
	UpdatedAt       time.Time            `db:"updated_at" json:"updated_at"`
}

// TopRiskFactors returns the five contributing factors with the largest
// absolute impact, descending.
func (c *Claim) TopRiskFactors() []risk.Factor {
	return risk.TopFactors(c.RiskFactors, 5)
}

// ScoreView is the read-only projection served to the risk-sync poll
// endpoint.
type ScoreView struct {
	ClaimID     uuid.UUID `json:"claim_id"`
	RiskScore   *float64  `json:"risk_score,omitempty"`
	Explanation *string   `json:"risk_explanation,omitempty"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}
