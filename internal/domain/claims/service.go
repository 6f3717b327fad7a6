package claims

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/events"
	"github.com/rcm/rcm/internal/platform/metrics"
	"github.com/rcm/rcm/internal/platform/risk"
	"github.com/rcm/rcm/pkg/money"
)

// Service owns the claim lifecycle. All claim mutation flows through here:
// submission, decision, resubmission and risk rescoring.
type Service struct {
	repo     Repository
	provider risk.Provider
	bus      events.Publisher
	logger   zerolog.Logger
}

func NewService(repo Repository, provider risk.Provider, bus events.Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, provider: provider, bus: bus, logger: logger}
}

// SubmitInput carries a new claim. Attributes feed the risk model; the
// amount and payer are copied into the feature set at scoring time.
type SubmitInput struct {
	PatientID     uuid.UUID     `json:"patient_id"`
	Payer         string        `json:"payer"`
	AmountMinor   int64         `json:"amount_minor"`
	Attributes    risk.Features `json:"attributes"`
	AppointmentID *uuid.UUID    `json:"appointment_id,omitempty"`
}

func (in *SubmitInput) validate() error {
	if in.PatientID == uuid.Nil {
		return errs.Validation("patient_id is required")
	}
	if in.Payer == "" {
		return errs.Validation("payer is required")
	}
	if in.AmountMinor <= 0 {
		return errs.Validation("amount_minor must be positive, got %d", in.AmountMinor)
	}
	return nil
}

// Submit records a new PENDING claim and kicks off an initial scoring pass
// in the background. The submission itself never waits on the model: a slow
// or unreachable scorer leaves the claim unscored until the next sync.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Claim, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := &Claim{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		Payer:         in.Payer,
		AmountMinor:   money.Amount(in.AmountMinor),
		Status:        StatusPending,
		Attributes:    in.Attributes,
		AppointmentID: in.AppointmentID,
		SubmittedAt:   time.Now().UTC(),
		Version:       1,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	metrics.ClaimsSubmitted.Inc()
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("payer", c.Payer).
		Int64("amount_minor", int64(c.AmountMinor)).
		Msg("claim submitted")

	go s.scoreInBackground(c)
	return c, nil
}

// Resubmit creates a new claim from a denied one. The denied claim is
// terminal and never mutated; the new claim starts in RESUBMITTED with a
// back-reference and fresh attributes.
func (s *Service) Resubmit(ctx context.Context, originalID uuid.UUID, in SubmitInput) (*Claim, error) {
	orig, err := s.repo.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusDenied {
		return nil, errs.InvalidState("claim %s is %s, only denied claims can be resubmitted", originalID, orig.Status)
	}
	if in.PatientID == uuid.Nil {
		in.PatientID = orig.PatientID
	}
	if in.Payer == "" {
		in.Payer = orig.Payer
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.PatientID != orig.PatientID {
		return nil, errs.Validation("resubmission must keep patient %s", orig.PatientID)
	}

	c := &Claim{
		ID:             uuid.New(),
		PatientID:      in.PatientID,
		Payer:          in.Payer,
		AmountMinor:    money.Amount(in.AmountMinor),
		Status:         StatusResubmitted,
		Attributes:     in.Attributes,
		ResubmissionOf: &originalID,
		SubmittedAt:    time.Now().UTC(),
		Version:        1,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	metrics.ClaimsSubmitted.Inc()
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("resubmission_of", originalID.String()).
		Msg("claim resubmitted")

	go s.scoreInBackground(c)
	return c, nil
}

// Decide approves or denies a decidable claim. The transition stamps
// processed_at exactly once and is final: further decisions on the claim
// fail with InvalidStateError.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, approve bool, decidedBy string) (*Claim, error) {
	to := StatusDenied
	if approve {
		to = StatusApproved
	}
	c, err := s.repo.Decide(ctx, id, to, decidedBy)
	if err != nil {
		return nil, err
	}

	outcome, evtType := "denied", events.TypeClaimDenied
	if approve {
		outcome, evtType = "approved", events.TypeClaimApproved
	}
	metrics.ClaimsDecided.WithLabelValues(outcome).Inc()
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("outcome", outcome).
		Str("decided_by", decidedBy).
		Msg("claim decided")

	payload, _ := json.Marshal(map[string]interface{}{
		"patient_id":   c.PatientID,
		"payer":        c.Payer,
		"amount_minor": c.AmountMinor,
		"decided_by":   decidedBy,
	})
	s.bus.Publish(ctx, events.Event{
		Type:       evtType,
		EntityType: "claim",
		EntityID:   c.ID.String(),
		Payload:    payload,
	})
	return c, nil
}

// PredictScore scores a feature set synchronously without touching any
// stored claim. Used for what-if checks before submission.
func (s *Service) PredictScore(ctx context.Context, features risk.Features) (*risk.Score, error) {
	return s.provider.Score(ctx, features)
}

// Rescore re-scores the named claims, or every decidable claim when ids is
// empty. Missing and already-decided claims are skipped. Per-claim timeouts
// are swallowed: the claim keeps its previous score and the pass moves on.
// Writes are fenced on the claim version, so a decision that landed while
// the model was thinking silently wins over the stale score.
func (s *Service) Rescore(ctx context.Context, ids []uuid.UUID) error {
	var open []*Claim
	if len(ids) == 0 {
		var err error
		open, err = s.repo.ListDecidable(ctx)
		if err != nil {
			return err
		}
	} else {
		for _, id := range ids {
			c, err := s.repo.GetByID(ctx, id)
			if err != nil {
				if errs.IsNotFound(err) {
					s.logger.Debug().Str("claim_id", id.String()).Msg("rescore target not found, skipped")
					continue
				}
				return err
			}
			if !c.Status.Decidable() {
				continue
			}
			open = append(open, c)
		}
	}
	for _, c := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.rescoreOne(ctx, c)
	}
	return nil
}

// RescoreAll is the sync scheduler's entry point: a full pass over the open
// ledger.
func (s *Service) RescoreAll(ctx context.Context) error {
	return s.Rescore(ctx, nil)
}

// RescoreClaim re-scores a single claim on demand.
func (s *Service) RescoreClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Decidable() {
		return nil, errs.InvalidState("claim %s is %s, decided claims are not rescored", id, c.Status)
	}

	score, err := s.provider.Score(ctx, c.scoringFeatures())
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.UpdateRiskScore(ctx, c.ID, c.Version, score.Value, score.Explanation, score.Factors)
	if err != nil {
		return nil, err
	}
	if !applied {
		metrics.StaleRescoresDropped.Inc()
		return nil, errs.InvalidState("claim %s changed while scoring, score discarded", id)
	}

	s.publishRescored(ctx, c.ID, score.Value)
	return s.repo.GetByID(ctx, c.ID)
}

// CurrentScores serves the score projection the sync scheduler polls.
func (s *Service) CurrentScores(ctx context.Context, ids []uuid.UUID) ([]ScoreView, error) {
	return s.repo.CurrentScores(ctx, ids)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Claim, int, error) {
	if status != "" {
		switch status {
		case StatusPending, StatusApproved, StatusDenied, StatusResubmitted:
		default:
			return nil, 0, errs.Validation("unknown status %q", status)
		}
	}
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// rescoreOne scores one claim, swallowing timeouts and dropping stale
// writes. Shared by the batch pass and the background scorer.
func (s *Service) rescoreOne(ctx context.Context, c *Claim) {
	score, err := s.provider.Score(ctx, c.scoringFeatures())
	if err != nil {
		if errs.IsUpstreamTimeout(err) {
			metrics.RescoreTimeouts.Inc()
			s.logger.Warn().
				Str("claim_id", c.ID.String()).
				Msg("risk scoring timed out, keeping previous score")
			return
		}
		s.logger.Warn().Err(err).
			Str("claim_id", c.ID.String()).
			Msg("risk scoring failed")
		return
	}

	applied, err := s.repo.UpdateRiskScore(ctx, c.ID, c.Version, score.Value, score.Explanation, score.Factors)
	if err != nil {
		s.logger.Error().Err(err).Str("claim_id", c.ID.String()).Msg("persist risk score")
		return
	}
	if !applied {
		metrics.StaleRescoresDropped.Inc()
		s.logger.Debug().
			Str("claim_id", c.ID.String()).
			Int("version", c.Version).
			Msg("stale rescore dropped")
		return
	}
	s.publishRescored(ctx, c.ID, score.Value)
}

// scoreInBackground runs the initial scoring pass after submission. The
// request context is gone by the time this runs, so it uses a fresh one.
func (s *Service) scoreInBackground(c *Claim) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.rescoreOne(ctx, c)
}

func (s *Service) publishRescored(ctx context.Context, id uuid.UUID, value float64) {
	payload, _ := json.Marshal(map[string]float64{"score": value})
	s.bus.Publish(ctx, events.Event{
		Type:       events.TypeClaimRescored,
		EntityType: "claim",
		EntityID:   id.String(),
		Payload:    payload,
	})
}

// scoringFeatures merges the claim's stored attributes with the fields the
// ledger owns.
func (c *Claim) scoringFeatures() risk.Features {
	f := c.Attributes
	f.AmountMinor = int64(c.AmountMinor)
	if f.Payer == "" {
		f.Payer = c.Payer
	}
	return f
}
