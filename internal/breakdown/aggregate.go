package breakdown

import (
	"github.com/sengdao/income-review-go/internal/domain"
)

// Aggregate recomputation. These are pure functions: same group in, same
// derived fields out, no side effects. They run after every structural
// mutation so no caller ever observes stale aggregates.

// RecomputeSalary re-derives timesReceived and total from the group's
// transactions.
func RecomputeSalary(g domain.MonthlySalary) domain.MonthlySalary {
	g.TimesReceived = len(g.Transactions)
	g.Total = sumAmounts(g.Transactions)
	return g
}

// RecomputeCommission re-derives total from the group's transactions.
func RecomputeCommission(g domain.Commission) domain.Commission {
	g.Total = sumAmounts(g.Transactions)
	return g
}

// RecomputeAllowance re-derives total and monthlyAverage. The divisor must
// be a permitted value; a zero or unknown divisor is rejected rather than
// propagated into the division.
func RecomputeAllowance(g domain.Allowance) (domain.Allowance, error) {
	if !domain.ValidAllowanceDivisor(g.Months) {
		return g, &domain.ErrValidation{Field: "months", Message: "divisor must be one of 3, 6 or 12"}
	}
	g.Total = sumAmounts(g.Transactions)
	avg := g.Total / int64(g.Months)
	if avg < 0 {
		avg = 0
	}
	g.MonthlyAverage = avg
	return g, nil
}

// sumAmounts totals transaction amounts. Amounts are integer minor units,
// so the sum is already the floored total the breakdown carries.
func sumAmounts(txs []domain.Transaction) int64 {
	var total int64
	for _, t := range txs {
		total += t.Amount
	}
	return total
}
