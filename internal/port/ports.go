// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/sengdao/income-review-go/internal/domain"
)

// CalculationFetcher retrieves an income calculation from the income backend.
type CalculationFetcher interface {
	GetCalculation(ctx context.Context, number string) (*domain.Calculation, error)
}

// TransactionLookup resolves a bill number against the bank statement scoped
// to a calculation. A bill number that does not exist on the statement is
// reported as domain.ErrNotFound.
type TransactionLookup interface {
	GetTransaction(ctx context.Context, number, billNumber string) (*domain.Transaction, error)
}

// Recalculator submits the full edited breakdown and returns the
// server-confirmed calculation.
type Recalculator interface {
	Recalculate(ctx context.Context, number string, req *domain.RecalculateRequest) (*domain.Calculation, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
