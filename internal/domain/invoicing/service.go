package invoicing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/domain/claims"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/events"
	"github.com/rcm/rcm/pkg/money"
)

// DefaultGracePeriod is the due-date offset when none is configured.
const DefaultGracePeriod = 30 * 24 * time.Hour

// ClaimReader is the slice of the claim ledger the builder needs. Invoicing
// never writes claims.
type ClaimReader interface {
	Get(ctx context.Context, id uuid.UUID) (*claims.Claim, error)
}

// Service builds invoices. It is the only component that creates invoices
// and composes their items; settlement is the payment processor's job.
type Service struct {
	repo        Repository
	claims      ClaimReader
	bus         events.Publisher
	gracePeriod time.Duration
	currency    string
	logger      zerolog.Logger
}

func NewService(repo Repository, cr ClaimReader, bus events.Publisher, gracePeriod time.Duration, currency string, logger zerolog.Logger) *Service {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Service{
		repo:        repo,
		claims:      cr,
		bus:         bus,
		gracePeriod: gracePeriod,
		currency:    currency,
		logger:      logger,
	}
}

// ItemInput is one requested invoice line.
type ItemInput struct {
	Description string `json:"description"`
	AmountMinor int64  `json:"amount_minor"`
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return errs.Validation("invoice requires at least one item")
	}
	for i, it := range items {
		if it.Description == "" {
			return errs.Validation("item %d has no description", i+1)
		}
		if it.AmountMinor <= 0 {
			return errs.Validation("item %q amount must be positive, got %d", it.Description, it.AmountMinor)
		}
	}
	return nil
}

func sumItems(items []ItemInput) money.Amount {
	var total money.Amount
	for _, it := range items {
		total = total.Add(money.Amount(it.AmountMinor))
	}
	return total
}

// FromClaim creates the invoice for an approved claim. One invoice per
// claim; the total is the exact sum of the items.
func (s *Service) FromClaim(ctx context.Context, claimID uuid.UUID, items []ItemInput) (*Invoice, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	cl, err := s.claims.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if cl.Status != claims.StatusApproved {
		return nil, errs.InvalidState("claim %s is %s, only approved claims are invoiced", claimID, cl.Status)
	}

	now := time.Now().UTC()
	inv := &Invoice{
		ID:         uuid.New(),
		ClaimID:    &claimID,
		PatientID:  cl.PatientID,
		Status:     StatusUnpaid,
		TotalMinor: sumItems(items),
		Currency:   s.currency,
		DueDate:    now.Add(s.gracePeriod),
		Version:    1,
	}
	rows := make([]Item, len(items))
	for i, it := range items {
		rows[i] = Item{Description: it.Description, AmountMinor: money.Amount(it.AmountMinor)}
	}
	if err := s.repo.CreateWithItems(ctx, inv, rows); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("claim_id", claimID.String()).
		Int64("total_minor", int64(inv.TotalMinor)).
		Msg("invoice created from claim")
	s.publishCreated(ctx, inv)
	return inv, nil
}

// FromRecommendations folds a batch of pending recommendations into one
// invoice. All-or-nothing: a single recommendation that is missing, owned by
// another patient or already invoiced aborts the whole batch and no status
// changes.
func (s *Service) FromRecommendations(ctx context.Context, patientID uuid.UUID, recIDs []uuid.UUID) (*Invoice, error) {
	if len(recIDs) == 0 {
		return nil, errs.Validation("at least one recommendation is required")
	}
	seen := make(map[uuid.UUID]bool, len(recIDs))
	recs := make([]*Recommendation, 0, len(recIDs))
	for _, id := range recIDs {
		if seen[id] {
			return nil, errs.Validation("recommendation %s listed twice", id)
		}
		seen[id] = true
		rec, err := s.repo.GetRecommendation(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.PatientID != patientID {
			return nil, errs.Validation("recommendation %s belongs to another patient", id)
		}
		if rec.Status != RecPending {
			return nil, errs.Conflict("recommendation %s is %s, expected PENDING", id, rec.Status)
		}
		recs = append(recs, rec)
	}

	now := time.Now().UTC()
	inv := &Invoice{
		ID:        uuid.New(),
		PatientID: patientID,
		Status:    StatusUnpaid,
		Currency:  s.currency,
		DueDate:   now.Add(s.gracePeriod),
		Version:   1,
	}
	rows := make([]Item, len(recs))
	for i, rec := range recs {
		recID := rec.ID
		rows[i] = Item{
			Description:      rec.Description,
			AmountMinor:      rec.AmountMinor,
			RecommendationID: &recID,
		}
		inv.TotalMinor = inv.TotalMinor.Add(rec.AmountMinor)
	}
	// The transactional flip re-checks each status; a batch that raced us
	// loses here and nothing is committed.
	if err := s.repo.CreateFromRecommendations(ctx, inv, rows, recIDs); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("patient_id", patientID.String()).
		Int("recommendations", len(recIDs)).
		Msg("invoice created from recommendations")
	s.publishCreated(ctx, inv)
	return inv, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByClaim(ctx context.Context, claimID uuid.UUID) (*Invoice, error) {
	return s.repo.GetByClaim(ctx, claimID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) GetItems(ctx context.Context, invoiceID uuid.UUID) ([]Item, error) {
	if _, err := s.repo.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.GetItems(ctx, invoiceID)
}

// GetReceipt renders the settlement summary for an invoice.
func (s *Service) GetReceipt(ctx context.Context, invoiceID uuid.UUID) (*Receipt, error) {
	inv, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		InvoiceID:    inv.ID,
		PatientID:    inv.PatientID,
		Status:       inv.Status,
		TotalMinor:   inv.TotalMinor,
		PaidMinor:    inv.PaidMinor,
		BalanceMinor: inv.Balance(),
		Currency:     inv.Currency,
		Items:        inv.Items,
	}, nil
}

// CreateRecommendation records a clinician-proposed billable service.
func (s *Service) CreateRecommendation(ctx context.Context, rec *Recommendation) error {
	if rec.PatientID == uuid.Nil {
		return errs.Validation("patient_id is required")
	}
	if rec.Description == "" {
		return errs.Validation("description is required")
	}
	if rec.AmountMinor <= 0 {
		return errs.Validation("amount_minor must be positive, got %d", rec.AmountMinor)
	}
	rec.ID = uuid.New()
	rec.Status = RecPending
	return s.repo.CreateRecommendation(ctx, rec)
}

func (s *Service) ListRecommendations(ctx context.Context, patientID uuid.UUID, status RecommendationStatus) ([]*Recommendation, error) {
	switch status {
	case "", RecPending, RecInvoiced, RecPaid:
	default:
		return nil, errs.Validation("unknown recommendation status %q", status)
	}
	return s.repo.ListRecommendationsByPatient(ctx, patientID, status)
}

func (s *Service) publishCreated(ctx context.Context, inv *Invoice) {
	payload, _ := json.Marshal(map[string]interface{}{
		"patient_id":  inv.PatientID,
		"total_minor": inv.TotalMinor,
		"due_date":    inv.DueDate,
	})
	s.bus.Publish(ctx, events.Event{
		Type:       events.TypeInvoiceCreated,
		EntityType: "invoice",
		EntityID:   inv.ID.String(),
		Payload:    payload,
	})
}
