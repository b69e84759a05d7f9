package domain

// Request/response shapes for the review API. Kept in domain so handler and
// service share one definition.

// AddTransactionRequest asks the service to look up a bill number on the
// statement and insert it into a collection. Months only applies when the
// insert creates a new allowance group.
type AddTransactionRequest struct {
	Category   Category `json:"category"`
	BillNumber string   `json:"billNumber"`
	Months     int      `json:"months,omitempty"`
}

// RemoveTransactionRequest deletes one transaction from a group. GroupKey is
// the month label for salary/commission and the title for allowance.
type RemoveTransactionRequest struct {
	Category   Category `json:"category"`
	GroupKey   string   `json:"groupKey"`
	BillNumber string   `json:"billNumber"`
}

// MoveTransactionRequest reclassifies a whole salary transaction as
// commission.
type MoveTransactionRequest struct {
	Month      string `json:"month"`
	BillNumber string `json:"billNumber"`
}

// AdjustTransactionRequest splits a salary transaction, carving Amount into
// the target category. Average is required when the target is ALLOWANCE.
type AdjustTransactionRequest struct {
	Category   Category `json:"category"`
	Month      string   `json:"month"`
	BillNumber string   `json:"billNumber"`
	Amount     int64    `json:"amount"`
	Average    int      `json:"average,omitempty"`
}

// ChangeMonthsRequest updates an allowance group's averaging divisor.
type ChangeMonthsRequest struct {
	Months int `json:"months"`
}

// SessionResponse is the rendered working copy of an edit session.
type SessionResponse struct {
	SessionID         string          `json:"sessionId"`
	CalculationNumber string          `json:"calculationNumber"`
	Phase             string          `json:"phase"`
	MonthlySalaries   []MonthlySalary `json:"monthlySalaries"`
	Allowances        []Allowance     `json:"allowances"`
	Commissions       []Commission    `json:"commissions"`
}

// CalculationResponse wraps a calculation the way the income backend does.
type CalculationResponse struct {
	Calculation *Calculation `json:"calculation"`
}

// ReviewMetrics is a lightweight operational snapshot of the service.
type ReviewMetrics struct {
	TotalRequests  int64   `json:"totalRequests"`
	ErrorRate      float64 `json:"errorRate"`
	CacheHitRate   float64 `json:"cacheHitRate"`
	ActiveSessions int64   `json:"activeSessions"`
	TotalMutations int64   `json:"totalMutations"`
	TotalCommits   int64   `json:"totalCommits"`
}
