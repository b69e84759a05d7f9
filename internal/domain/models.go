// Package domain defines the core business entities for the income review
// service. These models are independent of transport and represent the
// canonical data structures used throughout the service.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================
// Categories
// ============================================================

// Category identifies one of the three income breakdown collections.
type Category string

const (
	CategorySalary     Category = "SALARY"
	CategoryAllowance  Category = "ALLOWANCE"
	CategoryCommission Category = "COMMISSION"
)

// Valid reports whether the category is one of the three known collections.
func (c Category) Valid() bool {
	switch c {
	case CategorySalary, CategoryAllowance, CategoryCommission:
		return true
	}
	return false
}

// AllowanceDivisors are the reviewer-selectable divisors for the allowance
// monthly average.
var AllowanceDivisors = []int{3, 6, 12}

// DefaultAllowanceDivisor is used when a new allowance group is created
// without an explicit divisor.
const DefaultAllowanceDivisor = 12

// ValidAllowanceDivisor reports whether months is a permitted divisor.
func ValidAllowanceDivisor(months int) bool {
	for _, d := range AllowanceDivisors {
		if months == d {
			return true
		}
	}
	return false
}

// ============================================================
// Grouping key
// ============================================================

// billDateLayout is the exact textual form of statement line item dates.
const billDateLayout = "02-01-2006"

// monthKeyLayout is the wire form of a monthly grouping key, e.g. "March-2024".
const monthKeyLayout = "January-2006"

// MonthKey is the typed grouping key for salary and commission groups:
// a calendar month. It serializes as "MonthName-yyyy" to match the income
// backend, but is compared as a value internally so locale-format string
// parsing never leaks into the engine.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthKeyFromBillDate derives the grouping key from a transaction date in
// its dd-MM-yyyy source form. The format is strict: anything else is a
// validation error and the caller must not fall back.
func MonthKeyFromBillDate(date string) (MonthKey, error) {
	t, err := time.Parse(billDateLayout, date)
	if err != nil {
		return MonthKey{}, &ErrValidation{
			Field:   "date",
			Message: fmt.Sprintf("%q is not a dd-mm-yyyy date", date),
		}
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

// ParseMonthKey parses the wire form "MonthName-yyyy".
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthKeyLayout, s)
	if err != nil {
		return MonthKey{}, &ErrValidation{
			Field:   "month",
			Message: fmt.Sprintf("%q is not a MonthName-yyyy key", s),
		}
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

// IsZero reports whether the key is the zero value.
func (k MonthKey) IsZero() bool { return k.Year == 0 && k.Month == 0 }

// String formats the key in its wire form.
func (k MonthKey) String() string {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC).Format(monthKeyLayout)
}

// MarshalJSON encodes the key as its "MonthName-yyyy" wire form.
func (k MonthKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes the "MonthName-yyyy" wire form.
func (k *MonthKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMonthKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ============================================================
// Transactions & groups
// ============================================================

// Transaction is one bank-statement line item. Amounts are integer minor
// units; BillNumber is the identity key within a statement.
type Transaction struct {
	Date       string `json:"date"` // dd-MM-yyyy, as provided by the statement
	BillNumber string `json:"billNumber"`
	Noted      string `json:"noted"`
	Amount     int64  `json:"amount"`
}

// MonthlySalary is one calendar month's salary bucket.
type MonthlySalary struct {
	Month         MonthKey      `json:"month"`
	TimesReceived int           `json:"timesReceived"`
	Transactions  []Transaction `json:"transactions"`
	Total         int64         `json:"total"`
}

// Commission is one calendar month's commission/overtime bucket.
type Commission struct {
	Month        MonthKey      `json:"month"`
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
}

// Allowance is one named allowance bucket. Months is the divisor for the
// monthly average and is always one of AllowanceDivisors.
type Allowance struct {
	Title          string        `json:"title"`
	Months         int           `json:"months"`
	MonthlyAverage int64         `json:"monthlyAverage"`
	Transactions   []Transaction `json:"transactions"`
	Total          int64         `json:"total"`
}

// ============================================================
// Calculation (server-held aggregate; this service never derives its
// top-level totals, the income backend does)
// ============================================================

// CalculationStatus is the lifecycle state of a calculation.
type CalculationStatus string

const (
	StatusPending   CalculationStatus = "PENDING"
	StatusCompleted CalculationStatus = "COMPLETED"
)

// Account identifies the statement's bank account.
type Account struct {
	Number      string `json:"number"`
	DisplayName string `json:"displayName"`
	Currency    string `json:"currency"`
}

// SalaryBreakdown is the salary collection plus backend-derived totals.
type SalaryBreakdown struct {
	MonthlySalaries []MonthlySalary `json:"monthlySalaries"`
	BasicSalary     int64           `json:"basicSalary"`
	Total           int64           `json:"total"`
}

// AllowanceBreakdown is the allowance collection plus backend-derived total.
type AllowanceBreakdown struct {
	Allowances []Allowance `json:"allowances"`
	Total      int64       `json:"total"`
}

// CommissionBreakdown is the commission collection plus backend-derived totals.
type CommissionBreakdown struct {
	Commissions    []Commission `json:"commissions"`
	MonthlyAverage int64        `json:"monthlyAverage"`
	Total          int64        `json:"total"`
}

// SourceAggregate carries the as-classified totals detected from the
// statement before any reviewer edits.
type SourceAggregate struct {
	BasicSalary SourceBreakdown `json:"basicSalary"`
	Allowance   SourceBreakdown `json:"allowance"`
	Commission  SourceBreakdown `json:"commission"`
}

// SourceBreakdown is a per-category slice of the source aggregate.
type SourceBreakdown struct {
	MonthlyAverage int64 `json:"monthlyAverage"`
	Total          int64 `json:"total"`
}

// Calculation is the authoritative income calculation held by the backend.
// The review service only ever reads it and submits recalculation requests;
// all derived top-level totals here are backend-computed.
type Calculation struct {
	ID                                int64               `json:"id"`
	StatementFileID                   int64               `json:"statementFileId"`
	Number                            string              `json:"number"`
	Product                           string              `json:"product"`
	Account                           Account             `json:"account"`
	BasicSalaryFromInterview          int64               `json:"basicSalaryFromInterview"`
	ExchangeRate                      float64             `json:"exchangeRate"`
	MonthlyAverageIncome              int64               `json:"monthlyAverageIncome"`
	MonthlyNetIncome                  int64               `json:"monthlyNetIncome"`
	MonthlyOtherIncome                int64               `json:"monthlyOtherIncome"`
	EightyPercentOfMonthlyOtherIncome int64               `json:"eightyPercentOfMonthlyOtherIncome"`
	TotalOtherIncome                  int64               `json:"totalOtherIncome"`
	TotalBasicSalary                  int64               `json:"totalBasicSalary"`
	TotalIncome                       int64               `json:"totalIncome"`
	PeriodInMonth                     int                 `json:"periodInMonth"`
	StartedAt                         string              `json:"startedAt"`
	EndedAt                           string              `json:"endedAt"`
	CreatedBy                         string              `json:"createdBy"`
	CreatedAt                         string              `json:"createdAt"`
	Status                            CalculationStatus   `json:"status"`
	SalaryBreakdown                   SalaryBreakdown     `json:"salaryBreakdown"`
	AllowanceBreakdown                AllowanceBreakdown  `json:"allowanceBreakdown"`
	CommissionBreakdown               CommissionBreakdown `json:"commissionBreakdown"`
	Source                            SourceAggregate     `json:"source"`
}

// RecalculateRequest is the single request a committed edit session sends to
// the backend recalculation endpoint. The whole request either replaces all
// three collections server-side or none of them.
type RecalculateRequest struct {
	BasicSalaryFromInterview int64           `json:"basicSalaryFromInterview"`
	MonthlySalaries          []MonthlySalary `json:"monthlySalaries"`
	Allowances               []Allowance     `json:"allowances"`
	Commissions              []Commission    `json:"commissions"`
}
