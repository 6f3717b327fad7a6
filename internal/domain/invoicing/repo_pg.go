package invoicing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed invoice repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invCols = `id, claim_id, patient_id, status, total_minor, paid_minor,
	currency, due_date, version, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.ClaimID, &inv.PatientID, &inv.Status,
		&inv.TotalMinor, &inv.PaidMinor, &inv.Currency, &inv.DueDate,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("invoice")
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repoPG) CreateWithItems(ctx context.Context, inv *Invoice, items []Item) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return r.insertInvoice(ctx, inv, items)
	})
}

func (r *repoPG) insertInvoice(ctx context.Context, inv *Invoice, items []Item) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, claim_id, patient_id, status, total_minor, paid_minor,
			currency, due_date, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		inv.ID, inv.ClaimID, inv.PatientID, inv.Status, inv.TotalMinor, inv.PaidMinor,
		inv.Currency, inv.DueDate, inv.Version)
	if isUniqueViolation(err) {
		return errs.Conflict("claim %s already has an invoice", inv.ClaimID)
	}
	if err != nil {
		return err
	}
	for i := range items {
		items[i].ID = uuid.New()
		items[i].InvoiceID = inv.ID
		items[i].Sequence = i + 1
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, sequence, description, amount_minor, recommendation_id)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			items[i].ID, inv.ID, items[i].Sequence, items[i].Description,
			items[i].AmountMinor, items[i].RecommendationID)
		if err != nil {
			return err
		}
	}
	inv.Items = items
	return nil
}

func (r *repoPG) CreateFromRecommendations(ctx context.Context, inv *Invoice, items []Item, recIDs []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.insertInvoice(ctx, inv, items); err != nil {
			return err
		}
		// Flip each recommendation PENDING -> INVOICED; the status predicate
		// makes the update fail if a concurrent batch grabbed it first.
		for _, recID := range recIDs {
			tag, err := r.conn(ctx).Exec(ctx, `
				UPDATE recommendations
				SET status = $3, invoice_id = $2, updated_at = NOW()
				WHERE id = $1 AND status = $4`,
				recID, inv.ID, RecInvoiced, RecPending)
			if err != nil {
				return err
			}
			if tag.RowsAffected() != 1 {
				return errs.Conflict("recommendation %s is not pending", recID)
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	inv.Items, err = r.GetItems(ctx, inv.ID)
	return inv, err
}

func (r *repoPG) GetByClaim(ctx context.Context, claimID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE claim_id = $1`, claimID))
	if err != nil {
		return nil, err
	}
	inv.Items, err = r.GetItems(ctx, inv.ID)
	return inv, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invCols+` FROM invoices WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *repoPG) GetItems(ctx context.Context, invoiceID uuid.UUID) ([]Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, sequence, description, amount_minor, recommendation_id
		FROM invoice_items WHERE invoice_id = $1 ORDER BY sequence`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Sequence, &it.Description,
			&it.AmountMinor, &it.RecommendationID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateRecommendation(ctx context.Context, rec *Recommendation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = RecPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO recommendations (id, patient_id, appointment_id, service_code, description, amount_minor, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.PatientID, rec.AppointmentID, rec.ServiceCode, rec.Description, rec.AmountMinor, rec.Status)
	return err
}

func (r *repoPG) GetRecommendation(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	var rec Recommendation
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, appointment_id, service_code, description, amount_minor, status, invoice_id, created_at, updated_at
		FROM recommendations WHERE id = $1`, id).
		Scan(&rec.ID, &rec.PatientID, &rec.AppointmentID, &rec.ServiceCode, &rec.Description, &rec.AmountMinor,
			&rec.Status, &rec.InvoiceID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("recommendation")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) ListRecommendationsByPatient(ctx context.Context, patientID uuid.UUID, status RecommendationStatus) ([]*Recommendation, error) {
	q := `SELECT id, patient_id, appointment_id, service_code, description, amount_minor, status, invoice_id, created_at, updated_at
		FROM recommendations WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []*Recommendation
	for rows.Next() {
		var rec Recommendation
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.AppointmentID, &rec.ServiceCode, &rec.Description, &rec.AmountMinor,
			&rec.Status, &rec.InvoiceID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
