package breakdown

import (
	"fmt"

	"github.com/sengdao/income-review-go/internal/domain"
)

// Action is one reviewer edit over the working copy.
type Action interface {
	apply(s *State) error
}

// Apply runs an action against a clone of the state. On success the new
// state is returned; on error the original state is returned untouched, so
// no caller ever observes a half-applied mutation.
func Apply(s State, a Action) (State, error) {
	next := s.Clone()
	if err := a.apply(&next); err != nil {
		return s, err
	}
	return next, nil
}

// ============================================================
// Add
// ============================================================

// Add inserts a transaction into the category's collection. The target
// group is resolved from the transaction (month for salary/commission,
// noted for allowance) and created lazily when absent. Months is only used
// when a new allowance group is created; zero means the default divisor.
type Add struct {
	Category    domain.Category
	Transaction domain.Transaction
	Months      int
}

func (a Add) apply(s *State) error {
	switch a.Category {
	case domain.CategorySalary:
		return s.addSalary(a.Transaction)
	case domain.CategoryCommission:
		return s.addCommission(a.Transaction)
	case domain.CategoryAllowance:
		return s.addAllowance(a.Transaction, a.Months)
	default:
		return &domain.ErrValidation{Field: "category", Message: fmt.Sprintf("unknown category %q", a.Category)}
	}
}

func (s *State) addSalary(tx domain.Transaction) error {
	key, err := domain.MonthKeyFromBillDate(tx.Date)
	if err != nil {
		return err
	}
	for i, g := range s.Salaries {
		if g.Month == key {
			g.Transactions = append(g.Transactions, tx)
			s.Salaries[i] = RecomputeSalary(g)
			return nil
		}
	}
	s.Salaries = append(s.Salaries, RecomputeSalary(domain.MonthlySalary{
		Month:        key,
		Transactions: []domain.Transaction{tx},
	}))
	return nil
}

func (s *State) addCommission(tx domain.Transaction) error {
	key, err := domain.MonthKeyFromBillDate(tx.Date)
	if err != nil {
		return err
	}
	for i, g := range s.Commissions {
		if g.Month == key {
			g.Transactions = append(g.Transactions, tx)
			s.Commissions[i] = RecomputeCommission(g)
			return nil
		}
	}
	s.Commissions = append(s.Commissions, RecomputeCommission(domain.Commission{
		Month:        key,
		Transactions: []domain.Transaction{tx},
	}))
	return nil
}

func (s *State) addAllowance(tx domain.Transaction, months int) error {
	// Existing groups keep their divisor; months only seeds a new group.
	for i, g := range s.Allowances {
		if g.Title == tx.Noted {
			g.Transactions = append(g.Transactions, tx)
			recomputed, err := RecomputeAllowance(g)
			if err != nil {
				return err
			}
			s.Allowances[i] = recomputed
			return nil
		}
	}
	if months == 0 {
		months = domain.DefaultAllowanceDivisor
	}
	group, err := RecomputeAllowance(domain.Allowance{
		Title:        tx.Noted,
		Months:       months,
		Transactions: []domain.Transaction{tx},
	})
	if err != nil {
		return err
	}
	s.Allowances = append(s.Allowances, group)
	return nil
}

// ============================================================
// Remove
// ============================================================

// Remove deletes the transaction with BillNumber from the group identified
// by GroupKey (month label for salary/commission, title for allowance). A
// group emptied by the removal is deleted from its collection. An unmatched
// group key or bill number is reported as not found rather than silently
// ignored.
type Remove struct {
	Category   domain.Category
	GroupKey   string
	BillNumber string
}

func (a Remove) apply(s *State) error {
	switch a.Category {
	case domain.CategorySalary:
		key, err := domain.ParseMonthKey(a.GroupKey)
		if err != nil {
			return err
		}
		for i, g := range s.Salaries {
			if g.Month != key {
				continue
			}
			filtered, ok := withoutBillNumber(g.Transactions, a.BillNumber)
			if !ok {
				return &domain.ErrNotFound{Resource: "transaction", ID: a.BillNumber}
			}
			if len(filtered) == 0 {
				s.Salaries = append(s.Salaries[:i], s.Salaries[i+1:]...)
				return nil
			}
			g.Transactions = filtered
			s.Salaries[i] = RecomputeSalary(g)
			return nil
		}
		return &domain.ErrNotFound{Resource: "salary group", ID: a.GroupKey}

	case domain.CategoryCommission:
		key, err := domain.ParseMonthKey(a.GroupKey)
		if err != nil {
			return err
		}
		for i, g := range s.Commissions {
			if g.Month != key {
				continue
			}
			filtered, ok := withoutBillNumber(g.Transactions, a.BillNumber)
			if !ok {
				return &domain.ErrNotFound{Resource: "transaction", ID: a.BillNumber}
			}
			if len(filtered) == 0 {
				s.Commissions = append(s.Commissions[:i], s.Commissions[i+1:]...)
				return nil
			}
			g.Transactions = filtered
			s.Commissions[i] = RecomputeCommission(g)
			return nil
		}
		return &domain.ErrNotFound{Resource: "commission group", ID: a.GroupKey}

	case domain.CategoryAllowance:
		for i, g := range s.Allowances {
			if g.Title != a.GroupKey {
				continue
			}
			filtered, ok := withoutBillNumber(g.Transactions, a.BillNumber)
			if !ok {
				return &domain.ErrNotFound{Resource: "transaction", ID: a.BillNumber}
			}
			if len(filtered) == 0 {
				s.Allowances = append(s.Allowances[:i], s.Allowances[i+1:]...)
				return nil
			}
			g.Transactions = filtered
			recomputed, err := RecomputeAllowance(g)
			if err != nil {
				return err
			}
			s.Allowances[i] = recomputed
			return nil
		}
		return &domain.ErrNotFound{Resource: "allowance group", ID: a.GroupKey}

	default:
		return &domain.ErrValidation{Field: "category", Message: fmt.Sprintf("unknown category %q", a.Category)}
	}
}

func withoutBillNumber(txs []domain.Transaction, billNumber string) ([]domain.Transaction, bool) {
	filtered := make([]domain.Transaction, 0, len(txs))
	found := false
	for _, t := range txs {
		if t.BillNumber == billNumber {
			found = true
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered, found
}

// ============================================================
// ChangeMonths
// ============================================================

// ChangeMonths updates the divisor of the named allowance group and
// re-derives its monthly average. Transactions and total are untouched.
type ChangeMonths struct {
	Title  string
	Months int
}

func (a ChangeMonths) apply(s *State) error {
	if !domain.ValidAllowanceDivisor(a.Months) {
		return &domain.ErrValidation{Field: "months", Message: "divisor must be one of 3, 6 or 12"}
	}
	for i, g := range s.Allowances {
		if g.Title != a.Title {
			continue
		}
		g.Months = a.Months
		recomputed, err := RecomputeAllowance(g)
		if err != nil {
			return err
		}
		s.Allowances[i] = recomputed
		return nil
	}
	return &domain.ErrNotFound{Resource: "allowance group", ID: a.Title}
}

// ============================================================
// Move
// ============================================================

// Move reclassifies a whole salary transaction as commission: a Remove on
// the salary collection immediately followed by an Add on the commission
// collection, as one logical unit. Because Apply works on a clone, no
// observer ever sees the transaction in neither or both collections.
type Move struct {
	FromMonth  string
	BillNumber string
}

func (a Move) apply(s *State) error {
	tx, ok := s.FindTransaction(domain.CategorySalary, a.FromMonth, a.BillNumber)
	if !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: a.BillNumber}
	}
	if err := (Remove{Category: domain.CategorySalary, GroupKey: a.FromMonth, BillNumber: a.BillNumber}).apply(s); err != nil {
		return err
	}
	return s.addCommission(tx)
}

// ============================================================
// Adjust
// ============================================================

// Adjust splits a salary transaction: the carve amount moves into the
// target category and the original row shrinks in place by the same amount.
// The original row is never removed, even when the remainder reaches zero.
// remainder + carve-out always equals the original amount exactly.
type Adjust struct {
	Category    domain.Category
	Amount      int64
	Transaction domain.Transaction
	Average     int
}

func (a Adjust) apply(s *State) error {
	if a.Category != domain.CategoryAllowance && a.Category != domain.CategoryCommission {
		return &domain.ErrValidation{Field: "category", Message: "adjust target must be ALLOWANCE or COMMISSION"}
	}
	if a.Amount <= 0 {
		return &domain.ErrValidation{Field: "amount", Message: "amount must be greater than 0"}
	}
	if a.Amount > a.Transaction.Amount {
		return &domain.ErrValidation{Field: "amount", Message: fmt.Sprintf("amount cannot exceed %d", a.Transaction.Amount)}
	}
	if a.Category == domain.CategoryAllowance && !domain.ValidAllowanceDivisor(a.Average) {
		return &domain.ErrValidation{Field: "average", Message: "average is required and must be one of 3, 6 or 12"}
	}

	key, err := domain.MonthKeyFromBillDate(a.Transaction.Date)
	if err != nil {
		return err
	}

	// Shrink the original salary row in place. The row keeps its bill
	// number and group; only the amount changes.
	adjusted := false
	for i, g := range s.Salaries {
		if g.Month != key {
			continue
		}
		for j, t := range g.Transactions {
			if t.BillNumber != a.Transaction.BillNumber {
				continue
			}
			g.Transactions[j].Amount = t.Amount - a.Amount
			s.Salaries[i] = RecomputeSalary(g)
			adjusted = true
			break
		}
		break
	}
	if !adjusted {
		return &domain.ErrNotFound{Resource: "transaction", ID: a.Transaction.BillNumber}
	}

	carve := a.Transaction
	carve.Amount = a.Amount

	if a.Category == domain.CategoryAllowance {
		return s.addAllowance(carve, a.Average)
	}
	return s.addCommission(carve)
}
