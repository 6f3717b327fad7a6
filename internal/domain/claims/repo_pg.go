package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/risk"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed claim repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const claimCols = `id, patient_id, payer, amount_minor, status,
	risk_score, risk_explanation, risk_factors, attributes,
	appointment_id, resubmission_of,
	submitted_at, processed_at, decided_by, version, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var (
		c          Claim
		factorsRaw []byte
		attrsRaw   []byte
	)
	err := row.Scan(&c.ID, &c.PatientID, &c.Payer, &c.AmountMinor, &c.Status,
		&c.RiskScore, &c.RiskExplanation, &factorsRaw, &attrsRaw,
		&c.AppointmentID, &c.ResubmissionOf,
		&c.SubmittedAt, &c.ProcessedAt, &c.DecidedBy, &c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("claim")
		}
		return nil, err
	}
	if len(factorsRaw) > 0 {
		if err := json.Unmarshal(factorsRaw, &c.RiskFactors); err != nil {
			return nil, fmt.Errorf("decode risk_factors: %w", err)
		}
	}
	if len(attrsRaw) > 0 {
		if err := json.Unmarshal(attrsRaw, &c.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	attrsRaw, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, patient_id, payer, amount_minor, status,
			attributes, appointment_id, resubmission_of, submitted_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.PatientID, c.Payer, c.AmountMinor, c.Status,
		attrsRaw, c.AppointmentID, c.ResubmissionOf, c.SubmittedAt, c.Version)
	if isUniqueViolation(err) {
		return errs.Conflict("appointment %s already has a claim", c.AppointmentID)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims WHERE patient_id = $1 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectClaims(rows)
	return items, total, err
}

func (r *repoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Claim, int, error) {
	where, args := "", []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := fmt.Sprintf(`SELECT %s FROM claims%s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		claimCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectClaims(rows)
	return items, total, err
}

func (r *repoPG) ListDecidable(ctx context.Context) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims WHERE status IN ($1,$2) ORDER BY submitted_at`, StatusPending, StatusResubmitted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClaims(rows)
}

// Decide transitions PENDING/RESUBMITTED -> APPROVED|DENIED in a single
// guarded UPDATE: the status predicate doubles as the state-machine check and
// the version bump fences any rescore that raced the decision.
func (r *repoPG) Decide(ctx context.Context, id uuid.UUID, to Status, decidedBy string) (*Claim, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE claims
		SET status = $2, processed_at = NOW(), decided_by = $3,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING `+claimCols,
		id, to, decidedBy, StatusPending, StatusResubmitted)

	c, err := scanClaim(row)
	if err == nil {
		return c, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}

	// No row matched: either the claim does not exist or it is already
	// decided. Re-read to tell the two apart.
	existing, gerr := r.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, errs.InvalidState("claim %s is %s, decision is final", id, existing.Status)
}

func (r *repoPG) UpdateRiskScore(ctx context.Context, id uuid.UUID, expectedVersion int, score float64, explanation string, factors []risk.Factor) (bool, error) {
	factorsRaw, err := json.Marshal(factors)
	if err != nil {
		return false, fmt.Errorf("encode risk_factors: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims
		SET risk_score = $3, risk_explanation = $4, risk_factors = $5, updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		id, expectedVersion, score, explanation, factorsRaw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) CurrentScores(ctx context.Context, ids []uuid.UUID) ([]ScoreView, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, risk_score, risk_explanation, version, updated_at
		FROM claims WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []ScoreView
	for rows.Next() {
		var v ScoreView
		if err := rows.Scan(&v.ClaimID, &v.RiskScore, &v.Explanation, &v.Version, &v.UpdatedAt); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func collectClaims(rows pgx.Rows) ([]*Claim, error) {
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
