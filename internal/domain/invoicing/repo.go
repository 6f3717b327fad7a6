package invoicing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists invoices, line items and recommendations. The
// multi-row operations are transactional primitives: either everything in
// the call lands or nothing does.
type Repository interface {
	// CreateWithItems inserts the invoice and its line items atomically.
	// Returns ConflictError when the claim already has an invoice.
	CreateWithItems(ctx context.Context, inv *Invoice, items []Item) error

	// CreateFromRecommendations inserts the invoice and its items and flips
	// the referenced recommendations PENDING -> INVOICED in one transaction.
	// Any recommendation that is missing or not PENDING aborts the whole
	// call with ConflictError, leaving every status untouched.
	CreateFromRecommendations(ctx context.Context, inv *Invoice, items []Item, recIDs []uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByClaim(ctx context.Context, claimID uuid.UUID) (*Invoice, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	GetItems(ctx context.Context, invoiceID uuid.UUID) ([]Item, error)

	CreateRecommendation(ctx context.Context, rec *Recommendation) error
	GetRecommendation(ctx context.Context, id uuid.UUID) (*Recommendation, error)
	ListRecommendationsByPatient(ctx context.Context, patientID uuid.UUID, status RecommendationStatus) ([]*Recommendation, error)
}
