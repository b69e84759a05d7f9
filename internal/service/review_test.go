package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/infra/cache"
	"github.com/sengdao/income-review-go/internal/infra/observability"
	"github.com/sengdao/income-review-go/internal/session"
)

// --- Mocks ---

type mockBackend struct {
	calculation  *domain.Calculation
	calcErr      error
	fetchCalls   int
	transactions map[string]*domain.Transaction
	lookupCalls  int
	recalcResult *domain.Calculation
	recalcErr    error
	recalcCalls  int
	lastRecalc   *domain.RecalculateRequest
}

func (m *mockBackend) GetCalculation(_ context.Context, number string) (*domain.Calculation, error) {
	m.fetchCalls++
	if m.calcErr != nil {
		return nil, m.calcErr
	}
	return m.calculation, nil
}

func (m *mockBackend) GetTransaction(_ context.Context, _, billNumber string) (*domain.Transaction, error) {
	m.lookupCalls++
	tx, ok := m.transactions[billNumber]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: billNumber}
	}
	return tx, nil
}

func (m *mockBackend) Recalculate(_ context.Context, _ string, req *domain.RecalculateRequest) (*domain.Calculation, error) {
	m.recalcCalls++
	m.lastRecalc = req
	if m.recalcErr != nil {
		return nil, m.recalcErr
	}
	return m.recalcResult, nil
}

func testCalculation() *domain.Calculation {
	return &domain.Calculation{
		Number:                   "IC-1001",
		Status:                   domain.StatusPending,
		BasicSalaryFromInterview: 50000,
		SalaryBreakdown: domain.SalaryBreakdown{
			MonthlySalaries: []domain.MonthlySalary{
				{
					Month:         domain.MonthKey{Year: 2024, Month: 3},
					TimesReceived: 1,
					Total:         1000,
					Transactions: []domain.Transaction{
						{Date: "15-03-2024", BillNumber: "B1", Noted: "Salary", Amount: 1000},
					},
				},
			},
		},
	}
}

func newTestService(backend *mockBackend) *ReviewService {
	return NewReviewService(
		backend,
		backend,
		backend,
		cache.New[*domain.Calculation](time.Minute),
		cache.New[*session.Session](time.Minute),
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

// --- Tests ---

func TestGetCalculation_CachesResult(t *testing.T) {
	backend := &mockBackend{calculation: testCalculation()}
	svc := newTestService(backend)

	for i := 0; i < 3; i++ {
		c, err := svc.GetCalculation(context.Background(), "IC-1001")
		if err != nil {
			t.Fatalf("get calculation: %v", err)
		}
		if c.Number != "IC-1001" {
			t.Errorf("unexpected calculation: %s", c.Number)
		}
	}
	if backend.fetchCalls != 1 {
		t.Errorf("expected 1 backend fetch, got %d", backend.fetchCalls)
	}
}

func TestOpenSession_OnePerCalculation(t *testing.T) {
	backend := &mockBackend{calculation: testCalculation()}
	svc := newTestService(backend)

	sess, err := svc.OpenSession(context.Background(), "IC-1001")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	_, err = svc.OpenSession(context.Background(), "IC-1001")
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for second session, got %v", err)
	}

	// After a discard the calculation is free again.
	if err := svc.Discard(context.Background(), sess.ID()); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := svc.OpenSession(context.Background(), "IC-1001"); err != nil {
		t.Fatalf("expected new session after discard, got %v", err)
	}
}

func TestOpenSession_RejectsCompleted(t *testing.T) {
	c := testCalculation()
	c.Status = domain.StatusCompleted
	svc := newTestService(&mockBackend{calculation: c})

	_, err := svc.OpenSession(context.Background(), "IC-1001")
	var inv *domain.ErrInvalidState
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestAddTransaction_LooksUpOnceAndApplies(t *testing.T) {
	backend := &mockBackend{
		calculation: testCalculation(),
		transactions: map[string]*domain.Transaction{
			"B2": {Date: "20-03-2024", BillNumber: "B2", Noted: "Overtime", Amount: 300},
		},
	}
	svc := newTestService(backend)
	sess, _ := svc.OpenSession(context.Background(), "IC-1001")

	err := svc.AddTransaction(context.Background(), sess.ID(), &domain.AddTransactionRequest{
		Category:   domain.CategoryCommission,
		BillNumber: "B2",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if backend.lookupCalls != 1 {
		t.Errorf("expected exactly 1 lookup, got %d", backend.lookupCalls)
	}

	snap := sess.Snapshot()
	if len(snap.Commissions) != 1 || snap.Commissions[0].Total != 300 {
		t.Errorf("transaction not applied: %+v", snap.Commissions)
	}
}

func TestAddTransaction_UnknownBillNumber(t *testing.T) {
	backend := &mockBackend{calculation: testCalculation()}
	svc := newTestService(backend)
	sess, _ := svc.OpenSession(context.Background(), "IC-1001")

	err := svc.AddTransaction(context.Background(), sess.ID(), &domain.AddTransactionRequest{
		Category:   domain.CategorySalary,
		BillNumber: "ghost",
	})
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddTransaction_DuplicateInCollection(t *testing.T) {
	backend := &mockBackend{
		calculation: testCalculation(),
		transactions: map[string]*domain.Transaction{
			"B1": {Date: "15-03-2024", BillNumber: "B1", Noted: "Salary", Amount: 1000},
		},
	}
	svc := newTestService(backend)
	sess, _ := svc.OpenSession(context.Background(), "IC-1001")

	err := svc.AddTransaction(context.Background(), sess.ID(), &domain.AddTransactionRequest{
		Category:   domain.CategorySalary,
		BillNumber: "B1",
	})
	var dup *domain.ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if backend.lookupCalls != 0 {
		t.Errorf("duplicate check must run before the lookup, got %d lookups", backend.lookupCalls)
	}

	// The same bill number is still addable to a different collection.
	err = svc.AddTransaction(context.Background(), sess.ID(), &domain.AddTransactionRequest{
		Category:   domain.CategoryAllowance,
		BillNumber: "B1",
	})
	if err != nil {
		t.Fatalf("expected add to another collection to pass, got %v", err)
	}
}

func TestAdjustTransaction_UsesCurrentRowAmount(t *testing.T) {
	backend := &mockBackend{calculation: testCalculation()}
	svc := newTestService(backend)
	sess, _ := svc.OpenSession(context.Background(), "IC-1001")

	// First carve leaves 600 on the row.
	err := svc.AdjustTransaction(context.Background(), sess.ID(), &domain.AdjustTransactionRequest{
		Category:   domain.CategoryCommission,
		Month:      "March-2024",
		BillNumber: "B1",
		Amount:     400,
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}

	// A second carve larger than the remainder must fail.
	err = svc.AdjustTransaction(context.Background(), sess.ID(), &domain.AdjustTransactionRequest{
		Category:   domain.CategoryCommission,
		Month:      "March-2024",
		BillNumber: "B1",
		Amount:     700,
	})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error on over-carve, got %v", err)
	}
}

func TestCommit_ClosesSessionAndRefreshesCache(t *testing.T) {
	confirmed := testCalculation()
	confirmed.TotalIncome = 999
	backend := &mockBackend{calculation: testCalculation(), recalcResult: confirmed}
	svc := newTestService(backend)
	sess, _ := svc.OpenSession(context.Background(), "IC-1001")

	got, err := svc.Commit(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got.TotalIncome != 999 {
		t.Errorf("expected confirmed calculation back, got %+v", got)
	}
	if backend.recalcCalls != 1 {
		t.Errorf("expected 1 recalculate call, got %d", backend.recalcCalls)
	}

	// Session is gone.
	if _, err := svc.GetSession(sess.ID()); err == nil {
		t.Error("expected session to be removed after commit")
	}

	// The cache now serves the confirmed calculation without a refetch.
	fetches := backend.fetchCalls
	c, err := svc.GetCalculation(context.Background(), "IC-1001")
	if err != nil {
		t.Fatalf("get calculation: %v", err)
	}
	if c.TotalIncome != 999 {
		t.Errorf("cache not refreshed with confirmed calculation: %+v", c)
	}
	if backend.fetchCalls != fetches {
		t.Errorf("expected cached read, got %d extra fetches", backend.fetchCalls-fetches)
	}
}

func TestCommit_FailureKeepsSessionOpen(t *testing.T) {
	backend := &mockBackend{
		calculation: testCalculation(),
		recalcErr:   &domain.ErrPrecondition{Message: "statement period too short"},
	}
	svc := newTestService(backend)
	sess, _ := svc.OpenSession(context.Background(), "IC-1001")

	_, err := svc.Commit(context.Background(), sess.ID())
	var pre *domain.ErrPrecondition
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	// The session survives for retry, and the calculation stays locked.
	if _, err := svc.GetSession(sess.ID()); err != nil {
		t.Errorf("expected session to survive failed commit: %v", err)
	}
	var conflict *domain.ErrConflict
	if _, err := svc.OpenSession(context.Background(), "IC-1001"); !errors.As(err, &conflict) {
		t.Errorf("expected calculation still locked, got %v", err)
	}
}

func TestMutationsOnUnknownSession(t *testing.T) {
	svc := newTestService(&mockBackend{calculation: testCalculation()})

	var notFound *domain.ErrNotFound
	if err := svc.MoveTransaction(context.Background(), "nope", &domain.MoveTransactionRequest{Month: "March-2024", BillNumber: "B1"}); !errors.As(err, &notFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := svc.ChangeAllowanceMonths(context.Background(), "nope", "Fuel", 6); !errors.As(err, &notFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.Commit(context.Background(), "nope"); !errors.As(err, &notFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
