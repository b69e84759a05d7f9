package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sengdao/income-review-go/internal/domain"
	"github.com/sengdao/income-review-go/internal/service"
	"github.com/sengdao/income-review-go/internal/session"
)

// sessionResponse renders the session's working copy for the UI.
func sessionResponse(sess *session.Session) domain.SessionResponse {
	snap := sess.Snapshot()
	return domain.SessionResponse{
		SessionID:         sess.ID(),
		CalculationNumber: sess.CalculationNumber(),
		Phase:             string(sess.Phase()),
		MonthlySalaries:   snap.Salaries,
		Allowances:        snap.Allowances,
		Commissions:       snap.Commissions,
	}
}

// ============================================================
// Calculations
// ============================================================

func getCalculationHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/incomes/calculations/{number}")
		defer span.End()

		number := chi.URLParam(r, "number")
		if number == "" {
			writeError(w, http.StatusBadRequest, "calculation number is required")
			return
		}
		span.SetAttributes(attribute.String("calculation.number", number))

		c, err := svc.GetCalculation(ctx, number)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.CalculationResponse{Calculation: c})
	}
}

func openSessionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/incomes/calculations/{number}/session")
		defer span.End()

		number := chi.URLParam(r, "number")
		if number == "" {
			writeError(w, http.StatusBadRequest, "calculation number is required")
			return
		}
		span.SetAttributes(attribute.String("calculation.number", number))

		sess, err := svc.OpenSession(ctx, number)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, sessionResponse(sess))
	}
}

// ============================================================
// Sessions
// ============================================================

func getSessionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/incomes/sessions/{sessionId}")
		defer span.End()

		sess, err := svc.GetSession(chi.URLParam(r, "sessionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse(sess))
	}
}

func discardSessionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/incomes/sessions/{sessionId}")
		defer span.End()

		if err := svc.Discard(ctx, chi.URLParam(r, "sessionId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addTransactionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/incomes/sessions/{sessionId}/transactions")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		var req domain.AddTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.AddTransaction(ctx, sessionID, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		respondWithSession(w, svc, sessionID, logger)
	}
}

func removeTransactionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/incomes/sessions/{sessionId}/transactions")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		var req domain.RemoveTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.RemoveTransaction(ctx, sessionID, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		respondWithSession(w, svc, sessionID, logger)
	}
}

func moveTransactionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/incomes/sessions/{sessionId}/transactions/move")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		var req domain.MoveTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.MoveTransaction(ctx, sessionID, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		respondWithSession(w, svc, sessionID, logger)
	}
}

func adjustTransactionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/incomes/sessions/{sessionId}/transactions/adjust")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		var req domain.AdjustTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.AdjustTransaction(ctx, sessionID, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		respondWithSession(w, svc, sessionID, logger)
	}
}

func changeMonthsHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/incomes/sessions/{sessionId}/allowances/{title}/months")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		title := chi.URLParam(r, "title")
		var req domain.ChangeMonthsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.ChangeAllowanceMonths(ctx, sessionID, title, req.Months); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		respondWithSession(w, svc, sessionID, logger)
	}
}

func commitSessionHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/incomes/sessions/{sessionId}/commit")
		defer span.End()

		c, err := svc.Commit(ctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.CalculationResponse{Calculation: c})
	}
}

// respondWithSession re-renders the session after a successful mutation.
func respondWithSession(w http.ResponseWriter, svc *service.ReviewService, sessionID string, logger *zap.Logger) {
	sess, err := svc.GetSession(sessionID)
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}
