package commit_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/go-chi/chi/v5"
)

// OrderDB is the read surface the order endpoint needs.
type OrderDB interface {
	GetOrderByID(ctx context.Context, orderID string) (*models.CommittedOrder, error)
}

type Handler struct {
	Orders OrderDB
	Logger *logger.Logger
}

func NewHandler(orders OrderDB, log *logger.Logger) *Handler {
	return &Handler{Orders: orders, Logger: log}
}

// GetOrder handles GET /api/v1/orders/{orderId}: the durable record a
// successful commit returned.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.Orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		http.Error(w, "Could not fetch order", http.StatusInternalServerError)
		return
	}
	if order == nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(order)
}
