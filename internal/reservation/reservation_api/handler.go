package reservation_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-reservation/internal/commit"
	"ms-reservation/internal/idempotency"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/payment"
	"ms-reservation/internal/reservation"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Reservations *reservation.Service
	Coordinator  *commit.Coordinator
	Guard        *idempotency.Guard
	Payments     payment.Verifier
	Logger       *logger.Logger
}

func NewHandler(res *reservation.Service, coord *commit.Coordinator, guard *idempotency.Guard, pay payment.Verifier, log *logger.Logger) *Handler {
	return &Handler{
		Reservations: res,
		Coordinator:  coord,
		Guard:        guard,
		Payments:     pay,
		Logger:       log,
	}
}

// CreateReservation handles POST /api/v1/reservations.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.ResourceID == "" || req.RequesterID == "" || req.Quantity <= 0 {
		http.Error(w, "resource_id, requester_id and a positive quantity are required", http.StatusBadRequest)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	res, err := h.Reservations.CreateReservation(r.Context(), req.ResourceID, req.RequesterID, req.Quantity, ttl)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateReservation: %v", err))
		switch {
		case errors.Is(err, models.ErrInsufficientStock):
			// Sold out is a fast first-class answer, not a failure.
			writeJSON(w, http.StatusConflict, map[string]string{"error": "insufficient_stock"})
		case errors.Is(err, models.ErrResourceNotFound):
			http.Error(w, "Resource not found", http.StatusNotFound)
		case errors.Is(err, models.ErrConcurrentModification):
			w.Header().Set("Retry-After", "1")
			http.Error(w, "High contention, retry shortly", http.StatusServiceUnavailable)
		default:
			http.Error(w, "Could not create reservation: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateReservation: token=%s resource=%s qty=%d", res.Token, res.ResourceID, res.Quantity))
	writeJSON(w, http.StatusCreated, models.CreateReservationResponse{
		Token:      res.Token,
		ResourceID: res.ResourceID,
		Quantity:   res.Quantity,
		ExpiresAt:  res.ExpiresAt,
	})
}

// GetReservation handles GET /api/v1/reservations/{token}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	res, err := h.Reservations.GetReservation(r.Context(), token)
	if err != nil {
		if errors.Is(err, models.ErrReservationNotFound) {
			http.Error(w, "Reservation not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetReservation: %v", err))
		http.Error(w, "Could not fetch reservation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// CancelReservation handles POST /api/v1/reservations/{token}/cancel.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.Reservations.CancelReservation(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, models.ErrReservationNotFound):
			http.Error(w, "Reservation not found", http.StatusNotFound)
		case errors.Is(err, models.ErrInvalidState):
			http.Error(w, "Reservation is not pending", http.StatusConflict)
		default:
			h.Logger.Error("API", fmt.Sprintf("CancelReservation: %v", err))
			http.Error(w, "Could not cancel reservation: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CancelReservation: token=%s cancelled", token))
	w.WriteHeader(http.StatusNoContent)
}

// CommitReservation handles POST /api/v1/reservations/{token}/commit.
//
// Payment proof is verified before the idempotency guard is consulted, so
// a bad proof never burns a key. After that the guard either replays the
// stored outcome or hands this request ownership of the commit.
func (h *Handler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req models.CommitReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		http.Error(w, "idempotency_key is required", http.StatusBadRequest)
		return
	}

	pay, err := h.Payments.Verify(r.Context(), req.PaymentIntentID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CommitReservation: payment verification error: %v", err))
		http.Error(w, "Payment verification unavailable, retry shortly", http.StatusServiceUnavailable)
		return
	}
	if !pay.Succeeded {
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":  "payment_not_confirmed",
			"detail": pay.Detail,
		})
		return
	}

	outcome, err := h.Guard.Begin(r.Context(), req.IdempotencyKey, models.OperationCommit, token)
	if err != nil {
		if errors.Is(err, models.ErrRetryLater) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Commit already in progress for this key, retry shortly", http.StatusServiceUnavailable)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CommitReservation: idempotency begin failed: %v", err))
		http.Error(w, "Could not process commit", http.StatusInternalServerError)
		return
	}

	if !outcome.Proceed {
		h.writeStoredOutcome(w, outcome.Record)
		return
	}

	order, commitErr := h.Coordinator.CommitReservation(r.Context(), token, req.IdempotencyKey, pay)
	if commitErr == nil {
		result := models.CommitResult{
			OrderID:          order.OrderID,
			ReservationToken: token,
			Status:           "committed",
		}
		if _, err := h.Guard.Complete(r.Context(), req.IdempotencyKey, models.IdempotencySucceeded, result); err != nil {
			h.Logger.Error("API", fmt.Sprintf("CommitReservation: idempotency complete failed: %v", err))
		}
		writeJSON(w, http.StatusCreated, models.CommitReservationResponse{
			OrderID:          order.OrderID,
			ReservationToken: token,
			Status:           "committed",
		})
		return
	}

	// Terminal domain outcomes are stored so retries replay them; anything
	// transient releases the key instead so the client can try again.
	switch {
	case errors.Is(commitErr, models.ErrAlreadyCommitted):
		result := models.CommitResult{ReservationToken: token, Status: "already_committed"}
		if order != nil {
			result.OrderID = order.OrderID
		}
		h.completeFailed(r, req.IdempotencyKey, result)
		writeJSON(w, http.StatusConflict, result)
	case errors.Is(commitErr, models.ErrReservationExpired):
		result := models.CommitResult{ReservationToken: token, Status: "expired"}
		h.completeFailed(r, req.IdempotencyKey, result)
		writeJSON(w, http.StatusGone, result)
	case errors.Is(commitErr, models.ErrInvalidState):
		result := models.CommitResult{ReservationToken: token, Status: "invalid_state"}
		h.completeFailed(r, req.IdempotencyKey, result)
		writeJSON(w, http.StatusConflict, result)
	case errors.Is(commitErr, models.ErrReservationNotFound):
		h.Guard.Abort(r.Context(), req.IdempotencyKey)
		http.Error(w, "Reservation not found", http.StatusNotFound)
	case errors.Is(commitErr, models.ErrConcurrentModification):
		h.Guard.Abort(r.Context(), req.IdempotencyKey)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "High contention, retry shortly", http.StatusServiceUnavailable)
	default:
		h.Guard.Abort(r.Context(), req.IdempotencyKey)
		h.Logger.Error("API", fmt.Sprintf("CommitReservation: %v", commitErr))
		http.Error(w, "Could not commit reservation: "+commitErr.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) completeFailed(r *http.Request, key string, result models.CommitResult) {
	if _, err := h.Guard.Complete(r.Context(), key, models.IdempotencyFailed, result); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CommitReservation: idempotency complete failed: %v", err))
	}
}

// writeStoredOutcome replays a previously stored commit result with the
// same status code the original request produced.
func (h *Handler) writeStoredOutcome(w http.ResponseWriter, rec *models.IdempotencyRecord) {
	var result models.CommitResult
	if len(rec.Result) > 0 {
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			h.Logger.Error("API", fmt.Sprintf("CommitReservation: stored result unreadable for key %s: %v", rec.Key, err))
			http.Error(w, "Stored result unreadable", http.StatusInternalServerError)
			return
		}
	}

	switch result.Status {
	case "committed":
		writeJSON(w, http.StatusOK, models.CommitReservationResponse{
			OrderID:          result.OrderID,
			ReservationToken: result.ReservationToken,
			Status:           "committed",
		})
	case "expired":
		writeJSON(w, http.StatusGone, result)
	case "already_committed", "invalid_state":
		writeJSON(w, http.StatusConflict, result)
	default:
		writeJSON(w, http.StatusConflict, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
