package ledger_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-reservation/internal/ledger"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	Ledger *ledger.Service
	Logger *logger.Logger
}

func NewHandler(led *ledger.Service, log *logger.Logger) *Handler {
	return &Handler{Ledger: led, Logger: log}
}

// CreateResource handles POST /api/v1/resources: provisions a new pool.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req models.CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.TotalQuantity <= 0 {
		http.Error(w, "total_quantity must be positive", http.StatusBadRequest)
		return
	}
	if req.ResourceID == "" {
		req.ResourceID = uuid.NewString()
	}

	led, err := h.Ledger.Provision(r.Context(), req.ResourceID, req.TotalQuantity)
	if err != nil {
		if errors.Is(err, models.ErrResourceExists) {
			http.Error(w, "Resource already provisioned", http.StatusConflict)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CreateResource: %v", err))
		http.Error(w, "Could not provision resource: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateResource: %s provisioned with %d units", led.ResourceID, led.TotalQuantity))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(led)
}

// GetResource handles GET /api/v1/resources/{resourceId}: the ledger
// snapshot including the derived available count.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceId")

	led, err := h.Ledger.Get(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, models.ErrResourceNotFound) {
			http.Error(w, "Resource not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetResource: %v", err))
		http.Error(w, "Could not fetch resource", http.StatusInternalServerError)
		return
	}

	type snapshot struct {
		models.ResourceLedger
		AvailableQuantity int `json:"available_quantity"`
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot{
		ResourceLedger:    *led,
		AvailableQuantity: led.Available(),
	})
}
