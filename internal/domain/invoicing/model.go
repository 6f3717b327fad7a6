package invoicing

import (
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/pkg/money"
)

// Status is the invoice settlement state.
type Status string

const (
	StatusUnpaid  Status = "UNPAID"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
)

// RecommendationStatus tracks a billable recommendation through invoicing.
type RecommendationStatus string

const (
	RecPending  RecommendationStatus = "PENDING"
	RecInvoiced RecommendationStatus = "INVOICED"
	RecPaid     RecommendationStatus = "PAID"
)

// Invoice maps to the invoices table. An invoice is built either from an
// approved claim (at most one per claim) or from a batch of billable
// recommendations. Amounts are integer minor units; the total always equals
// the sum of the line items.
type Invoice struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	ClaimID     *uuid.UUID   `db:"claim_id" json:"claim_id,omitempty"`
	PatientID   uuid.UUID    `db:"patient_id" json:"patient_id"`
	Status      Status       `db:"status" json:"status"`
	TotalMinor  money.Amount `db:"total_minor" json:"total_minor"`
	PaidMinor   money.Amount `db:"paid_minor" json:"paid_minor"`
	Currency    string       `db:"currency" json:"currency"`
	DueDate     time.Time    `db:"due_date" json:"due_date"`
	Items       []Item       `db:"-" json:"items,omitempty"`
	Version     int          `db:"version" json:"version"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// Balance is the amount still owed.
func (inv *Invoice) Balance() money.Amount {
	return inv.TotalMinor.Sub(inv.PaidMinor)
}

// Item is one invoice line.
type Item struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	InvoiceID        uuid.UUID    `db:"invoice_id" json:"invoice_id"`
	Sequence         int          `db:"sequence" json:"sequence"`
	Description      string       `db:"description" json:"description"`
	AmountMinor      money.Amount `db:"amount_minor" json:"amount_minor"`
	RecommendationID *uuid.UUID   `db:"recommendation_id" json:"recommendation_id,omitempty"`
}

// Recommendation is a billable item proposed during care, invoiced in
// batches. PENDING -> INVOICED when an invoice picks it up, INVOICED -> PAID
// when that invoice settles in full.
type Recommendation struct {
	ID            uuid.UUID            `db:"id" json:"id"`
	PatientID     uuid.UUID            `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID           `db:"appointment_id" json:"appointment_id,omitempty"`
	ServiceCode   string               `db:"service_code" json:"service_code,omitempty"`
	Description   string               `db:"description" json:"description"`
	AmountMinor   money.Amount         `db:"amount_minor" json:"amount_minor"`
	Status        RecommendationStatus `db:"status" json:"status"`
	InvoiceID     *uuid.UUID           `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}

// Receipt is the settlement summary served after payments land.
type Receipt struct {
	InvoiceID    uuid.UUID    `json:"invoice_id"`
	PatientID    uuid.UUID    `json:"patient_id"`
	Status       Status       `json:"status"`
	TotalMinor   money.Amount `json:"total_minor"`
	PaidMinor    money.Amount `json:"paid_minor"`
	BalanceMinor money.Amount `json:"balance_minor"`
	Currency     string       `json:"currency"`
	Items        []Item       `json:"items"`
}
