package invoicing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/domain/claims"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/events"
	"github.com/rcm/rcm/pkg/money"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
	byClaim  map[uuid.UUID]uuid.UUID
	items    map[uuid.UUID][]Item
	recs     map[uuid.UUID]*Recommendation
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		byClaim:  make(map[uuid.UUID]uuid.UUID),
		items:    make(map[uuid.UUID][]Item),
		recs:     make(map[uuid.UUID]*Recommendation),
	}
}

func (m *mockRepo) CreateWithItems(_ context.Context, inv *Invoice, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(inv, items)
}

func (m *mockRepo) insertLocked(inv *Invoice, items []Item) error {
	if inv.ClaimID != nil {
		if _, ok := m.byClaim[*inv.ClaimID]; ok {
			return errs.Conflict("claim %s already has an invoice", inv.ClaimID)
		}
		m.byClaim[*inv.ClaimID] = inv.ID
	}
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	for i := range items {
		items[i].ID = uuid.New()
		items[i].InvoiceID = inv.ID
		items[i].Sequence = i + 1
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	m.items[inv.ID] = items
	inv.Items = items
	return nil
}

func (m *mockRepo) CreateFromRecommendations(_ context.Context, inv *Invoice, items []Item, recIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// All-or-nothing: check every recommendation before touching anything.
	for _, id := range recIDs {
		rec, ok := m.recs[id]
		if !ok {
			return errs.NotFound("recommendation")
		}
		if rec.Status != RecPending {
			return errs.Conflict("recommendation %s is not pending", id)
		}
	}
	if err := m.insertLocked(inv, items); err != nil {
		return err
	}
	for _, id := range recIDs {
		m.recs[id].Status = RecInvoiced
		invID := inv.ID
		m.recs[id].InvoiceID = &invID
	}
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, errs.NotFound("invoice")
	}
	cp := *inv
	cp.Items = m.items[id]
	return &cp, nil
}

func (m *mockRepo) GetByClaim(_ context.Context, claimID uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	id, ok := m.byClaim[claimID]
	m.mu.Unlock()
	if !ok {
		return nil, errs.NotFound("invoice")
	}
	return m.GetByID(context.Background(), id)
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Invoice
	for _, inv := range m.invoices {
		if inv.PatientID == patientID {
			cp := *inv
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) GetItems(_ context.Context, invoiceID uuid.UUID) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[invoiceID], nil
}

func (m *mockRepo) CreateRecommendation(_ context.Context, rec *Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *mockRepo) GetRecommendation(_ context.Context, id uuid.UUID) (*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, errs.NotFound("recommendation")
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRepo) ListRecommendationsByPatient(_ context.Context, patientID uuid.UUID, status RecommendationStatus) ([]*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Recommendation
	for _, rec := range m.recs {
		if rec.PatientID == patientID && (status == "" || rec.Status == status) {
			cp := *rec
			result = append(result, &cp)
		}
	}
	return result, nil
}

// -- Mock ClaimReader --

type mockClaims struct {
	mu    sync.Mutex
	items map[uuid.UUID]*claims.Claim
}

func newMockClaims() *mockClaims {
	return &mockClaims{items: make(map[uuid.UUID]*claims.Claim)}
}

func (m *mockClaims) Get(_ context.Context, id uuid.UUID) (*claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, errs.NotFound("claim")
	}
	return c, nil
}

func (m *mockClaims) add(status claims.Status, amount int64) *claims.Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &claims.Claim{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		Payer:       "acme-health",
		AmountMinor: money.Amount(amount),
		Status:      status,
		SubmittedAt: time.Now(),
		Version:     1,
	}
	m.items[c.ID] = c
	return c
}

func newTestService(repo *mockRepo, cr ClaimReader) *Service {
	return NewService(repo, cr, events.NopPublisher{}, DefaultGracePeriod, "INR", zerolog.Nop())
}

// -- Tests --

func TestFromClaim(t *testing.T) {
	repo := newMockRepo()
	cls := newMockClaims()
	svc := newTestService(repo, cls)
	cl := cls.add(claims.StatusApproved, 100000)

	inv, err := svc.FromClaim(context.Background(), cl.ID, []ItemInput{
		{Description: "Consultation", AmountMinor: 60000},
		{Description: "Lab", AmountMinor: 40000},
	})
	if err != nil {
		t.Fatalf("FromClaim: %v", err)
	}
	if inv.TotalMinor != 100000 {
		t.Errorf("total = %d, want 100000", inv.TotalMinor)
	}
	if inv.Status != StatusUnpaid {
		t.Errorf("status = %s, want UNPAID", inv.Status)
	}
	if inv.PatientID != cl.PatientID {
		t.Errorf("patient = %s, want claim's patient %s", inv.PatientID, cl.PatientID)
	}

	wantDue := time.Now().Add(DefaultGracePeriod)
	if d := inv.DueDate.Sub(wantDue); d < -time.Minute || d > time.Minute {
		t.Errorf("due date = %s, want ~%s", inv.DueDate, wantDue)
	}

	// Invariant: total equals the sum of the stored items.
	stored, _ := repo.GetByID(context.Background(), inv.ID)
	var sum money.Amount
	for _, it := range stored.Items {
		sum = sum.Add(it.AmountMinor)
	}
	if sum != stored.TotalMinor {
		t.Errorf("sum(items) = %d, total = %d", sum, stored.TotalMinor)
	}
}

func TestFromClaimValidation(t *testing.T) {
	cls := newMockClaims()
	svc := newTestService(newMockRepo(), cls)
	cl := cls.add(claims.StatusApproved, 1000)

	cases := []struct {
		name  string
		items []ItemInput
	}{
		{"empty items", nil},
		{"zero amount", []ItemInput{{Description: "X", AmountMinor: 0}}},
		{"negative amount", []ItemInput{{Description: "X", AmountMinor: -5}}},
		{"missing description", []ItemInput{{AmountMinor: 100}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.FromClaim(context.Background(), cl.ID, tc.items); !errs.IsValidation(err) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestFromClaimRequiresApproved(t *testing.T) {
	cls := newMockClaims()
	svc := newTestService(newMockRepo(), cls)
	items := []ItemInput{{Description: "Consultation", AmountMinor: 100}}

	for _, status := range []claims.Status{claims.StatusPending, claims.StatusDenied, claims.StatusResubmitted} {
		cl := cls.add(status, 100)
		if _, err := svc.FromClaim(context.Background(), cl.ID, items); !errs.IsInvalidState(err) {
			t.Errorf("FromClaim(%s claim) err = %v, want InvalidStateError", status, err)
		}
	}
}

func TestFromClaimOnePerClaim(t *testing.T) {
	cls := newMockClaims()
	svc := newTestService(newMockRepo(), cls)
	cl := cls.add(claims.StatusApproved, 1000)
	items := []ItemInput{{Description: "Consultation", AmountMinor: 1000}}

	if _, err := svc.FromClaim(context.Background(), cl.ID, items); err != nil {
		t.Fatalf("first FromClaim: %v", err)
	}
	if _, err := svc.FromClaim(context.Background(), cl.ID, items); !errs.IsConflict(err) {
		t.Errorf("second FromClaim err = %v, want ConflictError", err)
	}
}

func TestFromRecommendations(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockClaims())
	patientID := uuid.New()

	var ids []uuid.UUID
	for _, amt := range []int64{30000, 20000} {
		rec := &Recommendation{ID: uuid.New(), PatientID: patientID, Description: "Physio", AmountMinor: money.Amount(amt), Status: RecPending}
		_ = repo.CreateRecommendation(context.Background(), rec)
		ids = append(ids, rec.ID)
	}

	inv, err := svc.FromRecommendations(context.Background(), patientID, ids)
	if err != nil {
		t.Fatalf("FromRecommendations: %v", err)
	}
	if inv.TotalMinor != 50000 {
		t.Errorf("total = %d, want 50000", inv.TotalMinor)
	}
	for _, id := range ids {
		rec, _ := repo.GetRecommendation(context.Background(), id)
		if rec.Status != RecInvoiced {
			t.Errorf("recommendation %s status = %s, want INVOICED", id, rec.Status)
		}
		if rec.InvoiceID == nil || *rec.InvoiceID != inv.ID {
			t.Errorf("recommendation %s not linked to invoice", id)
		}
	}
}

func TestFromRecommendationsAllOrNothing(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockClaims())
	patientID := uuid.New()

	pending := &Recommendation{ID: uuid.New(), PatientID: patientID, Description: "Physio", AmountMinor: 100, Status: RecPending}
	already := &Recommendation{ID: uuid.New(), PatientID: patientID, Description: "X-ray", AmountMinor: 200, Status: RecPending}
	_ = repo.CreateRecommendation(context.Background(), pending)
	_ = repo.CreateRecommendation(context.Background(), already)
	repo.recs[already.ID].Status = RecInvoiced

	_, err := svc.FromRecommendations(context.Background(), patientID, []uuid.UUID{pending.ID, already.ID})
	if !errs.IsConflict(err) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	// Wholesale failure: the pending recommendation is untouched and no
	// invoice exists.
	rec, _ := repo.GetRecommendation(context.Background(), pending.ID)
	if rec.Status != RecPending {
		t.Errorf("pending recommendation status = %s, want PENDING", rec.Status)
	}
	if invs, _, _ := repo.ListByPatient(context.Background(), patientID, 10, 0); len(invs) != 0 {
		t.Errorf("invoices created = %d, want 0", len(invs))
	}
}

func TestFromRecommendationsWrongPatient(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockClaims())

	rec := &Recommendation{ID: uuid.New(), PatientID: uuid.New(), Description: "Physio", AmountMinor: 100, Status: RecPending}
	_ = repo.CreateRecommendation(context.Background(), rec)

	if _, err := svc.FromRecommendations(context.Background(), uuid.New(), []uuid.UUID{rec.ID}); !errs.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestGetReceipt(t *testing.T) {
	repo := newMockRepo()
	cls := newMockClaims()
	svc := newTestService(repo, cls)
	cl := cls.add(claims.StatusApproved, 1000)

	inv, err := svc.FromClaim(context.Background(), cl.ID, []ItemInput{
		{Description: "Consultation", AmountMinor: 600},
		{Description: "Lab", AmountMinor: 400},
	})
	if err != nil {
		t.Fatalf("FromClaim: %v", err)
	}
	repo.invoices[inv.ID].PaidMinor = 400
	repo.invoices[inv.ID].Status = StatusPartial

	receipt, err := svc.GetReceipt(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if receipt.BalanceMinor != 600 {
		t.Errorf("balance = %d, want 600", receipt.BalanceMinor)
	}
	if len(receipt.Items) != 2 {
		t.Errorf("items = %d, want 2", len(receipt.Items))
	}
	if receipt.Status != StatusPartial {
		t.Errorf("status = %s, want PARTIAL", receipt.Status)
	}
}

func TestCreateRecommendationValidation(t *testing.T) {
	svc := newTestService(newMockRepo(), newMockClaims())
	cases := []Recommendation{
		{Description: "X", AmountMinor: 100},
		{PatientID: uuid.New(), AmountMinor: 100},
		{PatientID: uuid.New(), Description: "X", AmountMinor: 0},
	}
	for _, rec := range cases {
		r := rec
		if err := svc.CreateRecommendation(context.Background(), &r); !errs.IsValidation(err) {
			t.Errorf("CreateRecommendation(%+v) err = %v, want ValidationError", rec, err)
		}
	}
}
