package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/invoicing"
	"github.com/rcm/rcm/pkg/money"
)

// Method is how a payment was taken.
type Method string

const (
	MethodCash    Method = "CASH"
	MethodCard    Method = "CARD"
	MethodGateway Method = "GATEWAY"
)

// Payment maps to the payments table. Payments are append-only; settlement
// state lives on the invoice and is recomputed under the invoice lock.
type Payment struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	InvoiceID     uuid.UUID    `db:"invoice_id" json:"invoice_id"`
	AmountMinor   money.Amount `db:"amount_minor" json:"amount_minor"`
	Method        Method       `db:"method" json:"method"`
	ExternalTxnID *string      `db:"external_txn_id" json:"external_txn_id,omitempty"`
	RecordedBy    string       `db:"recorded_by" json:"recorded_by"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// OrderStatus is a gateway order's lifecycle state.
type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
	OrderPaid    OrderStatus = "PAID"
)

// GatewayOrder maps to the gateway_orders table: one payment intent opened
// with the external gateway.
type GatewayOrder struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	GatewayOrderID string       `db:"gateway_order_id" json:"gateway_order_id"`
	InvoiceID      *uuid.UUID   `db:"invoice_id" json:"invoice_id,omitempty"`
	AmountMinor    money.Amount `db:"amount_minor" json:"amount_minor"`
	Status         OrderStatus  `db:"status" json:"status"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// settle recomputes an invoice's settlement status from its cumulative paid
// amount. UNPAID is unreachable after any successful payment but kept so the
// function is total over its domain.
func settle(total, paid money.Amount) invoicing.Status {
	switch {
	case paid == 0:
		return invoicing.StatusUnpaid
	case paid < total:
		return invoicing.StatusPartial
	default:
		return invoicing.StatusPaid
	}
}
