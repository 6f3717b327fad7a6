package claims

import (
	"context"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/platform/risk"
)

// Repository is the claim store. Mutation goes through the ledger service
// only; no other component writes claims.
type Repository interface {
	// Create inserts a new claim. Returns ConflictError when the source
	// appointment is already linked to another claim.
	Create(ctx context.Context, c *Claim) error

	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error)
	List(ctx context.Context, status Status, limit, offset int) ([]*Claim, int, error)
	ListDecidable(ctx context.Context) ([]*Claim, error)

	// Decide transitions a decidable claim to APPROVED or DENIED, stamps
	// processed_at exactly once, records the deciding user and advances the
	// version so stale rescores are fenced out. Returns InvalidStateError
	// when the claim is not decidable, NotFoundError when it does not exist.
	Decide(ctx context.Context, id uuid.UUID, to Status, decidedBy string) (*Claim, error)

	// UpdateRiskScore overwrites the risk fields iff the stored version
	// still equals expectedVersion (last-writer-wins with version fencing).
	// Returns false when the write was discarded as stale.
	UpdateRiskScore(ctx context.Context, id uuid.UUID, expectedVersion int, score float64, explanation string, factors []risk.Factor) (bool, error)

	// CurrentScores returns the score projection for the given claims,
	// polled by the risk-sync scheduler.
	CurrentScores(ctx context.Context, ids []uuid.UUID) ([]ScoreView, error)
}
