// Package client implements the HTTP adapter for the income backend: the
// system of record for calculations, the statement transaction lookup and
// the recalculation endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/infra/resilience"
)

var tracer = otel.Tracer("income-review/client")

// IncomeAPIClient talks to the income backend. Reads (calculation fetch,
// transaction lookup) are retried; the recalculation PUT is submitted once
// and never retried, the caller decides whether to resubmit.
type IncomeAPIClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
}

// NewIncomeAPIClient creates a new IncomeAPIClient.
func NewIncomeAPIClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, cfg resilience.Config) *IncomeAPIClient {
	return &IncomeAPIClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		bulkhead:   bulkhead,
		cfg:        cfg,
	}
}

type calculationEnvelope struct {
	Calculation *domain.Calculation `json:"calculation"`
}

type transactionEnvelope struct {
	Transaction *domain.Transaction `json:"transaction"`
}

type errorEnvelope struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetCalculation fetches a calculation by number with retry, circuit breaker,
// and tracing.
func (c *IncomeAPIClient) GetCalculation(ctx context.Context, number string) (*domain.Calculation, error) {
	ctx, span := tracer.Start(ctx, "IncomeAPIClient.GetCalculation")
	defer span.End()
	span.SetAttributes(attribute.String("calculation.number", number))

	var env calculationEnvelope

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			u := fmt.Sprintf("%s/v1/incomes/calculations/%s", c.baseURL, url.PathEscape(number))
			return c.getJSON(ctx, u, "calculation", number, &env)
		})
	})
	if err != nil {
		return nil, c.classify("income-api", err)
	}
	if env.Calculation == nil {
		return nil, &domain.ErrExternalService{Service: "income-api", Err: errors.New("empty calculation in response")}
	}
	return env.Calculation, nil
}

// GetTransaction resolves a bill number on the statement behind a
// calculation. A bill number the statement does not carry is a not-found,
// never a transport error.
func (c *IncomeAPIClient) GetTransaction(ctx context.Context, number, billNumber string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "IncomeAPIClient.GetTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("calculation.number", number),
		attribute.String("transaction.billNumber", billNumber),
	)

	var env transactionEnvelope

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			u := fmt.Sprintf("%s/v1/incomes/calculations/%s/transactions/%s",
				c.baseURL, url.PathEscape(number), url.PathEscape(billNumber))
			return c.getJSON(ctx, u, "transaction", billNumber, &env)
		})
	})
	if err != nil {
		return nil, c.classify("income-api", err)
	}
	if env.Transaction == nil {
		return nil, &domain.ErrExternalService{Service: "income-api", Err: errors.New("empty transaction in response")}
	}
	return env.Transaction, nil
}

// Recalculate submits the edited breakdown as one PUT. The request is not
// retried: the backend replaces all three collections atomically, and a
// second submission after an ambiguous failure could double-apply.
func (c *IncomeAPIClient) Recalculate(ctx context.Context, number string, req *domain.RecalculateRequest) (*domain.Calculation, error) {
	ctx, span := tracer.Start(ctx, "IncomeAPIClient.Recalculate")
	defer span.End()
	span.SetAttributes(attribute.String("calculation.number", number))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "recalculate bulkhead acquire"}
	}
	defer c.bulkhead.Release()

	var env calculationEnvelope

	_, err := c.cb.Execute(func() (any, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, resilience.Permanent(err)
		}

		u := fmt.Sprintf("%s/v1/incomes/calculations/%s", c.baseURL, url.PathEscape(number))
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, resilience.Permanent(&domain.ErrNotFound{Resource: "calculation", ID: number})
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, resilience.Permanent(decodeBackendError(resp))
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("income API returned status %d", resp.StatusCode)
		}

		return nil, json.NewDecoder(resp.Body).Decode(&env)
	})
	if err != nil {
		return nil, c.classify("income-api", err)
	}
	if env.Calculation == nil {
		return nil, &domain.ErrExternalService{Service: "income-api", Err: errors.New("empty calculation in response")}
	}
	return env.Calculation, nil
}

func (c *IncomeAPIClient) getJSON(ctx context.Context, url, resource, id string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resilience.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resilience.Permanent(&domain.ErrNotFound{Resource: resource, ID: id})
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return resilience.Permanent(decodeBackendError(resp))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("income API returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeBackendError maps the backend's structured error body. A
// FAILED_PRECONDITION carries a reviewer-facing message and is surfaced
// verbatim; anything else stays a generic external error.
func decodeBackendError(resp *http.Response) error {
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error.Status == "FAILED_PRECONDITION" {
		return &domain.ErrPrecondition{Message: env.Error.Message}
	}
	return fmt.Errorf("income API returned status %d", resp.StatusCode)
}

// classify folds transport-level failures into the domain error taxonomy.
// Already-typed domain errors pass through untouched.
func (c *IncomeAPIClient) classify(service string, err error) error {
	var (
		notFound     *domain.ErrNotFound
		precondition *domain.ErrPrecondition
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &precondition):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ErrCircuitOpen{Service: service}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: service + " request"}
	default:
		return &domain.ErrExternalService{Service: service, Err: err}
	}
}
