// Package breakdown implements the income-breakdown reconciliation engine:
// the three reviewer-editable collections (monthly salaries, allowances,
// commissions) and the mutation operations over them. All operations go
// through Apply, a pure reducer: the input state is never modified, and a
// failed action returns it unchanged.
package breakdown

import (
	"github.com/sengdao/income-review-go/internal/domain"
)

// State holds the working copy of the three collections for one edit
// session. It is a value; mutate it only through Apply.
type State struct {
	Salaries    []domain.MonthlySalary
	Allowances  []domain.Allowance
	Commissions []domain.Commission
}

// NewState deep-copies the server-confirmed collections of a calculation
// into a fresh working copy.
func NewState(c *domain.Calculation) State {
	s := State{
		Salaries:    make([]domain.MonthlySalary, len(c.SalaryBreakdown.MonthlySalaries)),
		Allowances:  make([]domain.Allowance, len(c.AllowanceBreakdown.Allowances)),
		Commissions: make([]domain.Commission, len(c.CommissionBreakdown.Commissions)),
	}
	copy(s.Salaries, c.SalaryBreakdown.MonthlySalaries)
	copy(s.Allowances, c.AllowanceBreakdown.Allowances)
	copy(s.Commissions, c.CommissionBreakdown.Commissions)
	return s.Clone()
}

// Clone returns a deep copy of the state. Transactions slices are copied so
// a clone can be mutated without aliasing its source.
func (s State) Clone() State {
	out := State{
		Salaries:    make([]domain.MonthlySalary, len(s.Salaries)),
		Allowances:  make([]domain.Allowance, len(s.Allowances)),
		Commissions: make([]domain.Commission, len(s.Commissions)),
	}
	for i, g := range s.Salaries {
		g.Transactions = cloneTransactions(g.Transactions)
		out.Salaries[i] = g
	}
	for i, g := range s.Allowances {
		g.Transactions = cloneTransactions(g.Transactions)
		out.Allowances[i] = g
	}
	for i, g := range s.Commissions {
		g.Transactions = cloneTransactions(g.Transactions)
		out.Commissions[i] = g
	}
	return out
}

// Request serializes the working copy into the single recalculation request
// the backend expects, carrying basicSalaryFromInterview through untouched.
func (s State) Request(basicSalaryFromInterview int64) *domain.RecalculateRequest {
	c := s.Clone()
	return &domain.RecalculateRequest{
		BasicSalaryFromInterview: basicSalaryFromInterview,
		MonthlySalaries:          c.Salaries,
		Allowances:               c.Allowances,
		Commissions:              c.Commissions,
	}
}

// FindTransaction locates a transaction by group key and bill number in the
// given category. It returns a copy; ok is false when either the group or
// the bill number is absent.
func (s State) FindTransaction(category domain.Category, groupKey, billNumber string) (domain.Transaction, bool) {
	var txs []domain.Transaction
	switch category {
	case domain.CategorySalary:
		key, err := domain.ParseMonthKey(groupKey)
		if err != nil {
			return domain.Transaction{}, false
		}
		for _, g := range s.Salaries {
			if g.Month == key {
				txs = g.Transactions
			}
		}
	case domain.CategoryCommission:
		key, err := domain.ParseMonthKey(groupKey)
		if err != nil {
			return domain.Transaction{}, false
		}
		for _, g := range s.Commissions {
			if g.Month == key {
				txs = g.Transactions
			}
		}
	case domain.CategoryAllowance:
		for _, g := range s.Allowances {
			if g.Title == groupKey {
				txs = g.Transactions
			}
		}
	}
	for _, t := range txs {
		if t.BillNumber == billNumber {
			return t, true
		}
	}
	return domain.Transaction{}, false
}

// Contains reports whether any group in the category already holds a
// transaction with the given bill number.
func (s State) Contains(category domain.Category, billNumber string) bool {
	switch category {
	case domain.CategorySalary:
		for _, g := range s.Salaries {
			if hasBillNumber(g.Transactions, billNumber) {
				return true
			}
		}
	case domain.CategoryAllowance:
		for _, g := range s.Allowances {
			if hasBillNumber(g.Transactions, billNumber) {
				return true
			}
		}
	case domain.CategoryCommission:
		for _, g := range s.Commissions {
			if hasBillNumber(g.Transactions, billNumber) {
				return true
			}
		}
	}
	return false
}

func hasBillNumber(txs []domain.Transaction, billNumber string) bool {
	for _, t := range txs {
		if t.BillNumber == billNumber {
			return true
		}
	}
	return false
}

func cloneTransactions(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	copy(out, txs)
	return out
}
