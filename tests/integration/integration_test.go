package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/handler"
	"github.com/sengdao/income-review-go/internal/infra/cache"
	"github.com/sengdao/income-review-go/internal/infra/client"
	"github.com/sengdao/income-review-go/internal/infra/observability"
	"github.com/sengdao/income-review-go/internal/infra/resilience"
	"github.com/sengdao/income-review-go/internal/service"
	"github.com/sengdao/income-review-go/internal/session"
)

func backendCalculation() *domain.Calculation {
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
						{Date: "15-03-2024", BillNumber: "B1", Noted: "Fuel", Amount: 1000},
					},
				},
			},
		},
	}
}

// newMockIncomeAPI serves the three income backend endpoints the review
// service depends on. The recalculation handler captures the submitted
// request for assertions.
func newMockIncomeAPI(t *testing.T, lastRecalc **domain.RecalculateRequest) *httptest.Server {
	t.Helper()

	statement := map[string]domain.Transaction{
		"B2": {Date: "20-03-2024", BillNumber: "B2", Noted: "Overtime", Amount: 300},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/transactions/"):
			billNumber := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			tx, ok := statement[billNumber]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"transaction": tx})

		case r.Method == http.MethodGet && r.URL.Path == "/v1/incomes/calculations/IC-1001":
			json.NewEncoder(w).Encode(map[string]any{"calculation": backendCalculation()})

		case r.Method == http.MethodPut && r.URL.Path == "/v1/incomes/calculations/IC-1001":
			var req domain.RecalculateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			*lastRecalc = &req

			confirmed := backendCalculation()
			confirmed.SalaryBreakdown.MonthlySalaries = req.MonthlySalaries
			confirmed.AllowanceBreakdown.Allowances = req.Allowances
			confirmed.CommissionBreakdown.Commissions = req.Commissions
			json.NewEncoder(w).Encode(map[string]any{"calculation": confirmed})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newStack(t *testing.T, backendURL string) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("integration-test")
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	incomeClient := client.NewIncomeAPIClient(httpClient, backendURL, cb, resilience.NewBulkhead(10), cfg)

	svc := service.NewReviewService(
		incomeClient,
		incomeClient,
		incomeClient,
		cache.New[*domain.Calculation](5*time.Minute),
		cache.New[*session.Session](5*time.Minute),
		metrics,
		logger,
	)
	return handler.NewRouter(svc, metrics, logger)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_FullReviewFlow exercises the whole stack against a mock
// income backend: fetch, open session, add, adjust, move, commit.
func TestIntegration_FullReviewFlow(t *testing.T) {
	var lastRecalc *domain.RecalculateRequest
	backend := newMockIncomeAPI(t, &lastRecalc)
	defer backend.Close()

	router := newStack(t, backend.URL)

	// Fetch the calculation.
	rec := do(t, router, http.MethodGet, "/v1/incomes/calculations/IC-1001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get calculation: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Open a session.
	rec = do(t, router, http.MethodPost, "/v1/incomes/calculations/IC-1001/session", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess domain.SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	base := "/v1/incomes/sessions/" + sess.SessionID

	// Add B2 from the statement as commission.
	rec = do(t, router, http.MethodPost, base+"/transactions", domain.AddTransactionRequest{
		Category:   domain.CategoryCommission,
		BillNumber: "B2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Adding a bill number the statement does not carry fails.
	rec = do(t, router, http.MethodPost, base+"/transactions", domain.AddTransactionRequest{
		Category:   domain.CategorySalary,
		BillNumber: "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown bill number: expected 404, got %d", rec.Code)
	}

	// Carve 300 of the salary row into a 6-month allowance.
	rec = do(t, router, http.MethodPost, base+"/transactions/adjust", domain.AdjustTransactionRequest{
		Category:   domain.CategoryAllowance,
		Month:      "March-2024",
		BillNumber: "B1",
		Amount:     300,
		Average:    6,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.MonthlySalaries[0].Total != 700 {
		t.Errorf("expected salary total 700 after adjust, got %d", sess.MonthlySalaries[0].Total)
	}
	if len(sess.Allowances) != 1 || sess.Allowances[0].Title != "Fuel" || sess.Allowances[0].MonthlyAverage != 50 {
		t.Errorf("unexpected allowances after adjust: %+v", sess.Allowances)
	}

	// Commit and verify the backend saw the whole edited breakdown.
	rec = do(t, router, http.MethodPost, base+"/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if lastRecalc == nil {
		t.Fatal("backend never received the recalculation request")
	}
	if lastRecalc.BasicSalaryFromInterview != 50000 {
		t.Errorf("basicSalaryFromInterview not carried: %d", lastRecalc.BasicSalaryFromInterview)
	}
	if len(lastRecalc.MonthlySalaries) != 1 || lastRecalc.MonthlySalaries[0].Total != 700 {
		t.Errorf("edited salaries not submitted: %+v", lastRecalc.MonthlySalaries)
	}
	if len(lastRecalc.Allowances) != 1 || lastRecalc.Allowances[0].Total != 300 {
		t.Errorf("edited allowances not submitted: %+v", lastRecalc.Allowances)
	}
	if len(lastRecalc.Commissions) != 1 || lastRecalc.Commissions[0].Total != 300 {
		t.Errorf("edited commissions not submitted: %+v", lastRecalc.Commissions)
	}
}

// TestIntegration_PreconditionRejection verifies a FAILED_PRECONDITION body
// from the backend surfaces as a 422 with the server message, and the
// session stays open.
func TestIntegration_PreconditionRejection(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"calculation": backendCalculation()})
		case http.MethodPut:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"status":  "FAILED_PRECONDITION",
					"message": "calculation is already completed",
				},
			})
		}
	}))
	defer backend.Close()

	router := newStack(t, backend.URL)

	rec := do(t, router, http.MethodPost, "/v1/incomes/calculations/IC-1001/session", nil)
	var sess domain.SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	rec = do(t, router, http.MethodPost, "/v1/incomes/sessions/"+sess.SessionID+"/commit", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error != "calculation is already completed" {
		t.Errorf("expected server message verbatim, got %q", errResp.Error)
	}

	if rec := do(t, router, http.MethodGet, "/v1/incomes/sessions/"+sess.SessionID, nil); rec.Code != http.StatusOK {
		t.Errorf("expected session to survive rejected commit, got %d", rec.Code)
	}
}

// TestIntegration_CalculationNotFound verifies backend 404s map to 404.
func TestIntegration_CalculationNotFound(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	router := newStack(t, backend.URL)

	rec := do(t, router, http.MethodGet, "/v1/incomes/calculations/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
