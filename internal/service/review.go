// Package service implements the review workflows: reading calculations,
// running edit sessions over their breakdowns and committing the result back
// to the income backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sengdao/income-review-go/internal/breakdown"
	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/infra/observability"
	"github.com/sengdao/income-review-go/internal/port"
	"github.com/sengdao/income-review-go/internal/session"
)

var tracer = otel.Tracer("service/review")

// ReviewService orchestrates calculation reads and edit sessions against the
// income backend.
type ReviewService struct {
	calculations port.CalculationFetcher
	lookup       port.TransactionLookup
	recalculator port.Recalculator
	calcCache    port.Cache[*domain.Calculation]
	sessions     port.Cache[*session.Session]
	metrics      *observability.Metrics
	logger       *zap.Logger

	// byCalc maps calculation number to its open session, enforcing the
	// one-session-per-calculation rule.
	mu     sync.Mutex
	byCalc map[string]string
}

// NewReviewService creates the review service with all dependencies injected.
func NewReviewService(
	calculations port.CalculationFetcher,
	lookup port.TransactionLookup,
	recalculator port.Recalculator,
	calcCache port.Cache[*domain.Calculation],
	sessions port.Cache[*session.Session],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ReviewService {
	return &ReviewService{
		calculations: calculations,
		lookup:       lookup,
		recalculator: recalculator,
		calcCache:    calcCache,
		sessions:     sessions,
		metrics:      metrics,
		logger:       logger,
		byCalc:       make(map[string]string),
	}
}

// GetCalculation fetches a calculation by number, serving from cache when
// fresh.
func (s *ReviewService) GetCalculation(ctx context.Context, number string) (*domain.Calculation, error) {
	ctx, span := tracer.Start(ctx, "ReviewService.GetCalculation")
	defer span.End()
	span.SetAttributes(attribute.String("calculation.number", number))

	cacheKey := fmt.Sprintf("calculation:%s", number)
	if cached, ok := s.calcCache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("calculation")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("calculation")

	c, err := s.calculations.GetCalculation(ctx, number)
	if err != nil {
		s.logger.Error("failed to fetch calculation",
			zap.String("calculation_number", number),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("income-api")
		return nil, fmt.Errorf("calculation fetch: %w", err)
	}
	s.calcCache.Set(cacheKey, c)
	return c, nil
}

// OpenSession starts an edit session over a calculation's breakdown. The
// calculation is fetched fresh so the PENDING gate checks the current status,
// and only one session may be open per calculation at a time.
func (s *ReviewService) OpenSession(ctx context.Context, number string) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "ReviewService.OpenSession")
	defer span.End()
	span.SetAttributes(attribute.String("calculation.number", number))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("open_session", time.Since(start))
	}()

	c, err := s.calculations.GetCalculation(ctx, number)
	if err != nil {
		s.metrics.IncrExternalError("income-api")
		return nil, fmt.Errorf("calculation fetch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byCalc[number]; ok {
		if existing, alive := s.sessions.Get(existingID); alive && existing.Phase() == session.PhaseEditing {
			return nil, &domain.ErrConflict{
				Message: "calculation " + number + " already has an open edit session",
			}
		}
		// Stale mapping: the previous session expired or closed.
		delete(s.byCalc, number)
		s.metrics.SessionClosed()
	}

	sess, err := session.Open(c)
	if err != nil {
		return nil, err
	}

	s.sessions.Set(sess.ID(), sess)
	s.byCalc[number] = sess.ID()
	s.metrics.SessionOpened()

	s.logger.Info("edit session opened",
		zap.String("session_id", sess.ID()),
		zap.String("calculation_number", number),
	)
	return sess, nil
}

// GetSession resolves a session id. An expired or unknown id is a not-found;
// expiry is how an abandoned session is discarded.
func (s *ReviewService) GetSession(sessionID string) (*session.Session, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: sessionID}
	}
	return sess, nil
}

// AddTransaction looks a bill number up on the statement and inserts it into
// the target collection of the session's working copy. The lookup runs
// exactly once per attempt; a bill number the statement does not carry fails
// the add.
func (s *ReviewService) AddTransaction(ctx context.Context, sessionID string, req *domain.AddTransactionRequest) error {
	ctx, span := tracer.Start(ctx, "ReviewService.AddTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("transaction.billNumber", req.BillNumber),
	)

	if !req.Category.Valid() {
		return &domain.ErrValidation{Field: "category", Message: fmt.Sprintf("unknown category %q", req.Category)}
	}
	if req.BillNumber == "" {
		return &domain.ErrValidation{Field: "billNumber", Message: "billNumber is required"}
	}

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}

	if sess.Snapshot().Contains(req.Category, req.BillNumber) {
		return &domain.ErrDuplicate{Key: req.BillNumber}
	}

	tx, err := s.lookup.GetTransaction(ctx, sess.CalculationNumber(), req.BillNumber)
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			s.metrics.IncrExternalError("income-api")
		}
		return err
	}

	if err := sess.Apply(breakdown.Add{Category: req.Category, Transaction: *tx, Months: req.Months}); err != nil {
		return err
	}
	s.metrics.IncrMutation("add")
	return nil
}

// RemoveTransaction deletes one transaction from a group of the working copy.
func (s *ReviewService) RemoveTransaction(ctx context.Context, sessionID string, req *domain.RemoveTransactionRequest) error {
	_, span := tracer.Start(ctx, "ReviewService.RemoveTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if !req.Category.Valid() {
		return &domain.ErrValidation{Field: "category", Message: fmt.Sprintf("unknown category %q", req.Category)}
	}

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Apply(breakdown.Remove{Category: req.Category, GroupKey: req.GroupKey, BillNumber: req.BillNumber}); err != nil {
		return err
	}
	s.metrics.IncrMutation("remove")
	return nil
}

// MoveTransaction reclassifies a salary transaction as commission.
func (s *ReviewService) MoveTransaction(ctx context.Context, sessionID string, req *domain.MoveTransactionRequest) error {
	_, span := tracer.Start(ctx, "ReviewService.MoveTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Apply(breakdown.Move{FromMonth: req.Month, BillNumber: req.BillNumber}); err != nil {
		return err
	}
	s.metrics.IncrMutation("move")
	return nil
}

// AdjustTransaction splits a salary transaction, carving part of its amount
// into an allowance or commission group.
func (s *ReviewService) AdjustTransaction(ctx context.Context, sessionID string, req *domain.AdjustTransactionRequest) error {
	_, span := tracer.Start(ctx, "ReviewService.AdjustTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}

	// The carve validates against the row's current amount, which may
	// already have shrunk from earlier adjusts.
	tx, ok := sess.Snapshot().FindTransaction(domain.CategorySalary, req.Month, req.BillNumber)
	if !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: req.BillNumber}
	}

	if err := sess.Apply(breakdown.Adjust{
		Category:    req.Category,
		Amount:      req.Amount,
		Transaction: tx,
		Average:     req.Average,
	}); err != nil {
		return err
	}
	s.metrics.IncrMutation("adjust")
	return nil
}

// ChangeAllowanceMonths updates an allowance group's averaging divisor.
func (s *ReviewService) ChangeAllowanceMonths(ctx context.Context, sessionID, title string, months int) error {
	_, span := tracer.Start(ctx, "ReviewService.ChangeAllowanceMonths")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Apply(breakdown.ChangeMonths{Title: title, Months: months}); err != nil {
		return err
	}
	s.metrics.IncrMutation("change_months")
	return nil
}

// Commit submits the session's working copy as one recalculation and closes
// the session on success. On failure the session stays open for retry.
func (s *ReviewService) Commit(ctx context.Context, sessionID string) (*domain.Calculation, error) {
	ctx, span := tracer.Start(ctx, "ReviewService.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("commit", time.Since(start))
	}()

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	number := sess.CalculationNumber()

	confirmed, err := sess.Commit(ctx, s.recalculator)
	if err != nil {
		s.logger.Error("commit failed",
			zap.String("session_id", sessionID),
			zap.String("calculation_number", number),
			zap.Error(err),
		)
		var precondition *domain.ErrPrecondition
		if !errors.As(err, &precondition) {
			s.metrics.IncrExternalError("income-api")
		}
		s.metrics.IncrCommit("error")
		return nil, err
	}

	s.closeSession(number, sessionID)
	s.calcCache.Set(fmt.Sprintf("calculation:%s", number), confirmed)
	s.metrics.IncrCommit("success")

	s.logger.Info("edit session committed",
		zap.String("session_id", sessionID),
		zap.String("calculation_number", number),
	)
	return confirmed, nil
}

// Discard closes a session without submitting anything.
func (s *ReviewService) Discard(ctx context.Context, sessionID string) error {
	_, span := tracer.Start(ctx, "ReviewService.Discard")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}

	sess.Discard()
	s.closeSession(sess.CalculationNumber(), sessionID)

	s.logger.Info("edit session discarded", zap.String("session_id", sessionID))
	return nil
}

func (s *ReviewService) closeSession(number, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byCalc[number] == sessionID {
		delete(s.byCalc, number)
	}
	s.sessions.Delete(sessionID)
	s.metrics.SessionClosed()
}
