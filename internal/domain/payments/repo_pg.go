package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/domain/invoicing"
	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/pkg/money"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed payment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// WithInvoiceLock serializes settlement per invoice with a row-level lock:
// SELECT ... FOR UPDATE blocks a concurrent caller until this transaction
// commits, so both cannot read the same stale cumulative total.
func (r *repoPG) WithInvoiceLock(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context, inv *invoicing.Invoice) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var inv invoicing.Invoice
		err := r.conn(ctx).QueryRow(ctx, `
			SELECT id, claim_id, patient_id, status, total_minor, paid_minor,
				currency, due_date, version, created_at, updated_at
			FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID).
			Scan(&inv.ID, &inv.ClaimID, &inv.PatientID, &inv.Status,
				&inv.TotalMinor, &inv.PaidMinor, &inv.Currency, &inv.DueDate,
				&inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFound("invoice")
		}
		if err != nil {
			return err
		}
		return fn(ctx, &inv)
	})
}

func (r *repoPG) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*invoicing.Invoice, error) {
	var inv invoicing.Invoice
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, claim_id, patient_id, status, total_minor, paid_minor,
			currency, due_date, version, created_at, updated_at
		FROM invoices WHERE id = $1`, invoiceID).
		Scan(&inv.ID, &inv.ClaimID, &inv.PatientID, &inv.Status,
			&inv.TotalMinor, &inv.PaidMinor, &inv.Currency, &inv.DueDate,
			&inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("invoice")
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repoPG) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount_minor, method, external_txn_id, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.InvoiceID, p.AmountMinor, p.Method, p.ExternalTxnID, p.RecordedBy)
	if isUniqueViolation(err) {
		return errs.Conflict("external transaction %s already recorded", deref(p.ExternalTxnID))
	}
	return err
}

func (r *repoPG) GetPaymentByExternalTxn(ctx context.Context, externalTxnID string) (*Payment, error) {
	var p Payment
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, invoice_id, amount_minor, method, external_txn_id, recorded_by, created_at
		FROM payments WHERE external_txn_id = $1`, externalTxnID).
		Scan(&p.ID, &p.InvoiceID, &p.AmountMinor, &p.Method, &p.ExternalTxnID, &p.RecordedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("payment")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount_minor, method, external_txn_id, recorded_by, created_at
		FROM payments WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountMinor, &p.Method,
			&p.ExternalTxnID, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateInvoiceSettlement(ctx context.Context, invoiceID uuid.UUID, paid money.Amount, status invoicing.Status) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices
		SET paid_minor = $2, status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1`,
		invoiceID, paid, status)
	return err
}

func (r *repoPG) CascadeRecommendationsPaid(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE recommendations
		SET status = $2, updated_at = NOW()
		WHERE invoice_id = $1 AND status = $3`,
		invoiceID, invoicing.RecPaid, invoicing.RecInvoiced)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) CreateOrder(ctx context.Context, o *GatewayOrder) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO gateway_orders (id, gateway_order_id, invoice_id, amount_minor, status)
		VALUES ($1,$2,$3,$4,$5)`,
		o.ID, o.GatewayOrderID, o.InvoiceID, o.AmountMinor, o.Status)
	return err
}

func (r *repoPG) GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*GatewayOrder, error) {
	var o GatewayOrder
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, gateway_order_id, invoice_id, amount_minor, status, created_at, updated_at
		FROM gateway_orders WHERE gateway_order_id = $1`, gatewayOrderID).
		Scan(&o.ID, &o.GatewayOrderID, &o.InvoiceID, &o.AmountMinor, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("gateway order")
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repoPG) MarkOrderPaid(ctx context.Context, gatewayOrderID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE gateway_orders SET status = $2, updated_at = NOW()
		WHERE gateway_order_id = $1`,
		gatewayOrderID, OrderPaid)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
