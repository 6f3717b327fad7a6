package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/domain/claims"
	"github.com/rcm/rcm/internal/domain/invoicing"
	"github.com/rcm/rcm/internal/domain/payments"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/events"
	"github.com/rcm/rcm/internal/platform/risk"
)

const testGatewaySecret = "integration-test-secret"

// stubProvider returns a fixed score without network access.
type stubProvider struct {
	score float64
}

func (p *stubProvider) Score(ctx context.Context, features risk.Features) (*risk.Score, error) {
	return &risk.Score{
		Value:       p.score,
		Explanation: "stub",
		Factors: []risk.Factor{
			{Name: "amount", Impact: 0.4, Direction: "increases"},
		},
	}, nil
}

// stubGateway issues deterministic order ids.
type stubGateway struct {
	orders int
}

func (g *stubGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	g.orders++
	return uuid.New().String(), nil
}

type stack struct {
	claims   *claims.Service
	invoices *invoicing.Service
	payments *payments.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()
	bus := events.NopPublisher{}

	claimsRepo := claims.NewRepoPG(globalDB.Pool)
	claimsSvc := claims.NewService(claimsRepo, &stubProvider{score: 42.5}, bus, logger)

	invRepo := invoicing.NewRepoPG(globalDB.Pool)
	invSvc := invoicing.NewService(invRepo, claimsSvc, bus, invoicing.DefaultGracePeriod, "INR", logger)

	payRepo := payments.NewRepoPG(globalDB.Pool)
	paySvc := payments.NewService(payRepo, &stubGateway{}, testGatewaySecret, "INR", bus, logger)

	return &stack{claims: claimsSvc, invoices: invSvc, payments: paySvc}
}

func submitClaim(t *testing.T, ctx context.Context, s *stack, patientID uuid.UUID, amount int64) *claims.Claim {
	t.Helper()
	c, err := s.claims.Submit(ctx, claims.SubmitInput{
		PatientID:   patientID,
		Payer:       "acme-insurance",
		AmountMinor: amount,
	})
	if err != nil {
		t.Fatalf("submit claim: %v", err)
	}
	return c
}

func approveClaim(t *testing.T, ctx context.Context, s *stack, id uuid.UUID) *claims.Claim {
	t.Helper()
	c, err := s.claims.Decide(ctx, id, true, "reviewer-1")
	if err != nil {
		t.Fatalf("approve claim: %v", err)
	}
	return c
}

// waitForScore polls until the background scoring pass lands or the timeout
// elapses.
func waitForScore(t *testing.T, ctx context.Context, s *stack, id uuid.UUID) float64 {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := s.claims.Get(ctx, id)
		if err != nil {
			t.Fatalf("get claim: %v", err)
		}
		if c.RiskScore != nil {
			return *c.RiskScore
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("claim was never scored")
	return 0
}

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	s := newStack(t)
	patient := newPatientID()

	c := submitClaim(t, ctx, s, patient, 150_000)
	if c.Status != claims.StatusPending {
		t.Fatalf("new claim status = %s, want PENDING", c.Status)
	}

	if score := waitForScore(t, ctx, s, c.ID); score != 42.5 {
		t.Errorf("risk score = %v, want 42.5", score)
	}

	decided := approveClaim(t, ctx, s, c.ID)
	if decided.Status != claims.StatusApproved {
		t.Fatalf("decided status = %s, want APPROVED", decided.Status)
	}
	if decided.ProcessedAt == nil {
		t.Error("processed_at not stamped on decision")
	}

	// Decisions are final.
	if _, err := s.claims.Decide(ctx, c.ID, false, "reviewer-2"); !errs.IsInvalidState(err) {
		t.Errorf("second decision error = %v, want InvalidStateError", err)
	}
}

func TestResubmitDeniedClaim(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	s := newStack(t)
	patient := newPatientID()

	orig := submitClaim(t, ctx, s, patient, 90_000)
	if _, err := s.claims.Decide(ctx, orig.ID, false, "reviewer-1"); err != nil {
		t.Fatalf("deny claim: %v", err)
	}

	resub, err := s.claims.Resubmit(ctx, orig.ID, claims.SubmitInput{AmountMinor: 85_000})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resub.Status != claims.StatusResubmitted {
		t.Errorf("resubmission status = %s, want RESUBMITTED", resub.Status)
	}
	if resub.ResubmissionOf == nil || *resub.ResubmissionOf != orig.ID {
		t.Error("resubmission does not reference the denied claim")
	}

	// The denied original stays terminal.
	got, err := s.claims.Get(ctx, orig.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if got.Status != claims.StatusDenied {
		t.Errorf("original status = %s, want DENIED", got.Status)
	}
}

func TestDuplicateAppointmentClaim(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	s := newStack(t)
	patient := newPatientID()
	appt := uuid.New()

	if _, err := s.claims.Submit(ctx, claims.SubmitInput{
		PatientID: patient, Payer: "acme-insurance", AmountMinor: 10_000, AppointmentID: &appt,
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := s.claims.Submit(ctx, claims.SubmitInput{
		PatientID: patient, Payer: "acme-insurance", AmountMinor: 20_000, AppointmentID: &appt,
	})
	if !errs.IsConflict(err) {
		t.Errorf("duplicate appointment error = %v, want ConflictError", err)
	}
}

func TestInvoiceAndPaymentFlow(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	s := newStack(t)
	patient := newPatientID()

	c := submitClaim(t, ctx, s, patient, 100_000)
	approveClaim(t, ctx, s, c.ID)

	inv, err := s.invoices.FromClaim(ctx, c.ID, []invoicing.ItemInput{
		{Description: "consultation", AmountMinor: 60_000},
		{Description: "lab work", AmountMinor: 40_000},
	})
	if err != nil {
		t.Fatalf("invoice from claim: %v", err)
	}
	if int64(inv.TotalMinor) != 100_000 {
		t.Fatalf("invoice total = %d, want 100000", inv.TotalMinor)
	}
	if inv.Status != invoicing.StatusUnpaid {
		t.Fatalf("new invoice status = %s, want UNPAID", inv.Status)
	}

	// One invoice per claim.
	if _, err := s.invoices.FromClaim(ctx, c.ID, []invoicing.ItemInput{
		{Description: "dup", AmountMinor: 1},
	}); !errs.IsConflict(err) {
		t.Errorf("second invoice error = %v, want ConflictError", err)
	}

	// Partial payment.
	if _, err := s.payments.ApplyPayment(ctx, inv.ID, 60_000, payments.MethodCash, nil, "cashier-1"); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	mid, err := s.invoices.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if mid.Status != invoicing.StatusPartial {
		t.Errorf("after partial payment status = %s, want PARTIAL", mid.Status)
	}

	// Overpayment rejected wholesale; balance is 40000.
	if _, err := s.payments.ApplyPayment(ctx, inv.ID, 40_001, payments.MethodCash, nil, "cashier-1"); !errs.IsOverpayment(err) {
		t.Errorf("overpayment error = %v, want OverpaymentError", err)
	}

	// Exact balance settles the invoice.
	if _, err := s.payments.ApplyPayment(ctx, inv.ID, 40_000, payments.MethodCard, nil, "cashier-1"); err != nil {
		t.Fatalf("final payment: %v", err)
	}
	receipt, err := s.invoices.GetReceipt(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Status != invoicing.StatusPaid {
		t.Errorf("settled status = %s, want PAID", receipt.Status)
	}
	if int64(receipt.BalanceMinor) != 0 {
		t.Errorf("settled balance = %d, want 0", receipt.BalanceMinor)
	}

	// Any further payment fails.
	if _, err := s.payments.ApplyPayment(ctx, inv.ID, 1, payments.MethodCash, nil, "cashier-1"); !errs.IsOverpayment(err) {
		t.Errorf("payment on settled invoice error = %v, want OverpaymentError", err)
	}
}

func TestRecommendationInvoiceFlow(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	s := newStack(t)
	patient := newPatientID()

	recA := &invoicing.Recommendation{PatientID: patient, ServiceCode: "LAB-01", Description: "blood panel", AmountMinor: 30_000}
	recB := &invoicing.Recommendation{PatientID: patient, ServiceCode: "IMG-02", Description: "x-ray", AmountMinor: 50_000}
	for _, rec := range []*invoicing.Recommendation{recA, recB} {
		if err := s.invoices.CreateRecommendation(ctx, rec); err != nil {
			t.Fatalf("create recommendation: %v", err)
		}
	}

	inv, err := s.invoices.FromRecommendations(ctx, patient, []uuid.UUID{recA.ID, recB.ID})
	if err != nil {
		t.Fatalf("invoice from recommendations: %v", err)
	}
	if int64(inv.TotalMinor) != 80_000 {
		t.Fatalf("invoice total = %d, want 80000", inv.TotalMinor)
	}

	// Batch containing an already-invoiced recommendation aborts whole.
	recC := &invoicing.Recommendation{PatientID: patient, ServiceCode: "LAB-03", Description: "culture", AmountMinor: 10_000}
	if err := s.invoices.CreateRecommendation(ctx, recC); err != nil {
		t.Fatalf("create recommendation: %v", err)
	}
	if _, err := s.invoices.FromRecommendations(ctx, patient, []uuid.UUID{recA.ID, recC.ID}); !errs.IsConflict(err) {
		t.Fatalf("mixed batch error = %v, want ConflictError", err)
	}
	pending, err := s.invoices.ListRecommendations(ctx, patient, invoicing.RecPending)
	if err != nil {
		t.Fatalf("list recommendations: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != recC.ID {
		t.Errorf("aborted batch should leave recommendation C pending, got %d pending", len(pending))
	}

	// Full settlement cascades recommendations to PAID.
	if _, err := s.payments.ApplyPayment(ctx, inv.ID, 80_000, payments.MethodCash, nil, "cashier-1"); err != nil {
		t.Fatalf("pay invoice: %v", err)
	}
	paid, err := s.invoices.ListRecommendations(ctx, patient, invoicing.RecPaid)
	if err != nil {
		t.Fatalf("list paid recommendations: %v", err)
	}
	if len(paid) != 2 {
		t.Errorf("paid recommendations = %d, want 2", len(paid))
	}
}

func TestGatewayVerificationFlow(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	s := newStack(t)
	patient := newPatientID()

	c := submitClaim(t, ctx, s, patient, 50_000)
	approveClaim(t, ctx, s, c.ID)
	inv, err := s.invoices.FromClaim(ctx, c.ID, []invoicing.ItemInput{
		{Description: "procedure", AmountMinor: 50_000},
	})
	if err != nil {
		t.Fatalf("invoice from claim: %v", err)
	}

	order, err := s.payments.CreateOrder(ctx, &inv.ID, 50_000)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	paymentID := "pay_" + uuid.New().String()
	sig := payments.SignPayment(testGatewaySecret, order.GatewayOrderID, paymentID)

	// A bad signature never touches financial state.
	if _, err := s.payments.VerifyPayment(ctx, order.GatewayOrderID, paymentID, "bad-signature", inv.ID); !errs.IsVerification(err) {
		t.Fatalf("bad signature error = %v, want VerificationError", err)
	}
	untouched, err := s.invoices.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if int64(untouched.PaidMinor) != 0 {
		t.Fatalf("failed verification mutated paid amount: %d", untouched.PaidMinor)
	}

	p, err := s.payments.VerifyPayment(ctx, order.GatewayOrderID, paymentID, sig, inv.ID)
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}

	settled, err := s.invoices.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if settled.Status != invoicing.StatusPaid {
		t.Errorf("verified invoice status = %s, want PAID", settled.Status)
	}

	// Replaying the callback is a no-op returning the original payment.
	again, err := s.payments.VerifyPayment(ctx, order.GatewayOrderID, paymentID, sig, inv.ID)
	if err != nil {
		t.Fatalf("replay verification: %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("replay returned payment %s, want %s", again.ID, p.ID)
	}
	items, err := s.payments.ListByInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("payments recorded = %d, want 1", len(items))
	}
}
