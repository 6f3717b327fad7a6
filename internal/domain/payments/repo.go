package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/invoicing"
	"github.com/rcm/rcm/pkg/money"
)

// Repository persists payments and gateway orders and owns the settlement
// write path on invoices. Everything inside WithInvoiceLock runs with the
// invoice row locked, so settlement reads and writes are serialized per
// invoice.
type Repository interface {
	// WithInvoiceLock loads the invoice under an exclusive per-invoice lock
	// and runs fn with it. Writes made through the ctx passed to fn join the
	// same transaction; the lock holds until fn returns.
	WithInvoiceLock(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context, inv *invoicing.Invoice) error) error

	// GetInvoice reads an invoice without taking its lock. Used for
	// visibility checks, never for settlement.
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*invoicing.Invoice, error)

	// CreatePayment appends a payment row. Returns ConflictError when the
	// external transaction id was already recorded.
	CreatePayment(ctx context.Context, p *Payment) error
	GetPaymentByExternalTxn(ctx context.Context, externalTxnID string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)

	// UpdateInvoiceSettlement writes the recomputed paid amount and status.
	// Callers hold the invoice lock.
	UpdateInvoiceSettlement(ctx context.Context, invoiceID uuid.UUID, paid money.Amount, status invoicing.Status) error

	// CascadeRecommendationsPaid flips the invoice's INVOICED
	// recommendations to PAID. Callers hold the invoice lock so the cascade
	// commits atomically with the settlement write.
	CascadeRecommendationsPaid(ctx context.Context, invoiceID uuid.UUID) (int, error)

	CreateOrder(ctx context.Context, o *GatewayOrder) error
	GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*GatewayOrder, error)
	MarkOrderPaid(ctx context.Context, gatewayOrderID string) error
}
