package payments

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/domain/invoicing"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/events"
	"github.com/rcm/rcm/internal/platform/metrics"
	"github.com/rcm/rcm/pkg/money"
)

// Service owns payment application and the gateway-verified payment
// protocol. It is the only component that writes payment rows or invoice
// settlement state.
type Service struct {
	repo     Repository
	gateway  Gateway
	secret   string
	currency string
	bus      events.Publisher
	logger   zerolog.Logger
}

func NewService(repo Repository, gateway Gateway, secret, currency string, bus events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		secret:   secret,
		currency: currency,
		bus:      bus,
		logger:   logger,
	}
}

func validMethod(m Method) bool {
	switch m {
	case MethodCash, MethodCard, MethodGateway:
		return true
	}
	return false
}

// ApplyPayment records a payment against an invoice and recomputes its
// settlement status under the invoice lock. A payment that would push the
// cumulative total past the invoice total is rejected wholesale with
// OverpaymentError. Reaching PAID cascades the invoice's recommendations to
// PAID in the same transaction.
func (s *Service) ApplyPayment(ctx context.Context, invoiceID uuid.UUID, amountMinor int64, method Method, externalTxnID *string, recordedBy string) (*Payment, error) {
	if amountMinor <= 0 {
		return nil, errs.Validation("payment amount must be positive, got %d", amountMinor)
	}
	if !validMethod(method) {
		return nil, errs.Validation("unknown payment method %q", method)
	}

	p := &Payment{
		ID:            uuid.New(),
		InvoiceID:     invoiceID,
		AmountMinor:   money.Amount(amountMinor),
		Method:        method,
		ExternalTxnID: externalTxnID,
		RecordedBy:    recordedBy,
	}

	var becamePaid bool
	err := s.repo.WithInvoiceLock(ctx, invoiceID, func(ctx context.Context, inv *invoicing.Invoice) error {
		newPaid := inv.PaidMinor.Add(p.AmountMinor)
		if newPaid > inv.TotalMinor {
			metrics.OverpaymentsRejected.Inc()
			if inv.Balance() == 0 {
				return errs.Overpayment("invoice %s is already fully paid", invoiceID)
			}
			return errs.Overpayment("payment of %d exceeds remaining balance %d on invoice %s",
				p.AmountMinor, inv.Balance(), invoiceID)
		}
		if err := s.repo.CreatePayment(ctx, p); err != nil {
			return err
		}

		status := settle(inv.TotalMinor, newPaid)
		if err := s.repo.UpdateInvoiceSettlement(ctx, invoiceID, newPaid, status); err != nil {
			return err
		}
		if status == invoicing.StatusPaid {
			becamePaid = true
			cascaded, err := s.repo.CascadeRecommendationsPaid(ctx, invoiceID)
			if err != nil {
				return err
			}
			if cascaded > 0 {
				s.logger.Info().
					Str("invoice_id", invoiceID.String()).
					Int("recommendations", cascaded).
					Msg("recommendations cascaded to paid")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentsApplied.Inc()
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("invoice_id", invoiceID.String()).
		Int64("amount_minor", amountMinor).
		Str("method", string(method)).
		Msg("payment applied")

	if becamePaid {
		payload, _ := json.Marshal(map[string]interface{}{"payment_id": p.ID})
		s.bus.Publish(ctx, events.Event{
			Type:       events.TypeInvoicePaid,
			EntityType: "invoice",
			EntityID:   invoiceID.String(),
			Payload:    payload,
		})
	}
	return p, nil
}

// CreateOrder opens a payment intent with the external gateway. The order
// may target an invoice or stand alone (invoiceID nil).
func (s *Service) CreateOrder(ctx context.Context, invoiceID *uuid.UUID, amountMinor int64) (*GatewayOrder, error) {
	if amountMinor <= 0 {
		return nil, errs.Validation("order amount must be positive, got %d", amountMinor)
	}
	receipt := "standalone"
	if invoiceID != nil {
		// Existence check only; the lock is released before the gateway
		// call so a slow gateway cannot stall other payments.
		err := s.repo.WithInvoiceLock(ctx, *invoiceID, func(context.Context, *invoicing.Invoice) error { return nil })
		if err != nil {
			return nil, err
		}
		receipt = invoiceID.String()
	}

	gatewayOrderID, err := s.gateway.CreateOrder(ctx, amountMinor, s.currency, receipt)
	if err != nil {
		return nil, err
	}

	o := &GatewayOrder{
		ID:             uuid.New(),
		GatewayOrderID: gatewayOrderID,
		InvoiceID:      invoiceID,
		AmountMinor:    money.Amount(amountMinor),
		Status:         OrderCreated,
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("gateway_order_id", gatewayOrderID).
		Int64("amount_minor", amountMinor).
		Msg("gateway order created")
	return o, nil
}

// VerifyPayment checks the gateway callback signature and, only on success,
// applies the payment. Verification failure never touches financial state.
// Replaying a successful verification is a no-op returning the original
// payment.
func (s *Service) VerifyPayment(ctx context.Context, orderID, paymentID, signature string, invoiceID uuid.UUID) (*Payment, error) {
	order, err := s.repo.GetOrderByGatewayID(ctx, orderID)
	if err != nil {
		if errs.IsNotFound(err) {
			metrics.VerificationFailures.Inc()
			return nil, errs.Verification("unknown gateway order %s", orderID)
		}
		return nil, err
	}

	if !VerifySignature(s.secret, orderID, paymentID, signature) {
		metrics.VerificationFailures.Inc()
		s.logger.Warn().
			Str("gateway_order_id", orderID).
			Str("gateway_payment_id", paymentID).
			Msg("gateway signature verification failed")
		return nil, errs.Verification("signature mismatch for order %s", orderID)
	}
	if order.InvoiceID != nil && *order.InvoiceID != invoiceID {
		metrics.VerificationFailures.Inc()
		return nil, errs.Verification("order %s targets a different invoice", orderID)
	}

	// Idempotent replay: the gateway payment id is recorded at most once.
	if existing, err := s.repo.GetPaymentByExternalTxn(ctx, paymentID); err == nil {
		return existing, nil
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	txnID := paymentID
	p, err := s.ApplyPayment(ctx, invoiceID, int64(order.AmountMinor), MethodGateway, &txnID, "gateway")
	if err != nil {
		// A concurrent verification of the same callback can win the race.
		// The loser sees either the duplicate-txn conflict or, when the
		// winner already settled the invoice, an overpayment. Either way the
		// callback was applied once; surface its payment instead of an error.
		if errs.IsConflict(err) || errs.IsOverpayment(err) {
			if existing, gerr := s.repo.GetPaymentByExternalTxn(ctx, paymentID); gerr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.repo.MarkOrderPaid(ctx, orderID); err != nil {
		s.logger.Error().Err(err).Str("gateway_order_id", orderID).Msg("mark order paid")
	}
	return p, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

// InvoicePatient reports which patient an invoice bills. Handlers use it to
// scope patient-role reads.
func (s *Service) InvoicePatient(ctx context.Context, invoiceID uuid.UUID) (uuid.UUID, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return uuid.Nil, err
	}
	return inv.PatientID, nil
}
