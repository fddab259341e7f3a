package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/kds/internal/board"
	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"go.uber.org/zap"
)

// Board defines the board operations needed by order handlers.
// Satisfied by *board.Loop; narrow interface for testability.
type Board interface {
	Snapshot(ctx context.Context) ([]kitchen.OrderGroup, error)
	Preview(ctx context.Context, orderID int64) (board.Proposal, error)
	Advance(ctx context.Context, orderID int64, confirmed bool) (board.Result, error)
}

// OrderHandler handles kitchen order endpoints.
type OrderHandler struct {
	board  Board
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(b Board, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{board: b, logger: logger}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted at /orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}/next", h.Next)
	r.Post("/{id}/advance", h.Advance)
}

// --- Request / Response types ---

type advanceRequest struct {
	Confirm bool `json:"confirm"`
}

type deliveredResponse struct {
	OrderID int64          `json:"order_id"`
	Status  kitchen.Status `json:"status"`
	Message string         `json:"message"`
}

// --- Handlers ---

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.board.Snapshot(r.Context())
	if err != nil {
		h.writeBoardError(w, 0, err)
		return
	}
	if orders == nil {
		orders = []kitchen.OrderGroup{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// Next handles GET /orders/{id}/next and returns the confirmation prompt.
func (h *OrderHandler) Next(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	p, err := h.board.Preview(r.Context(), orderID)
	if errors.Is(err, kitchen.ErrAlreadyDelivered) {
		writeJSON(w, http.StatusOK, deliveredResponse{
			OrderID: orderID,
			Status:  kitchen.StatusDelivered,
			Message: fmt.Sprintf("Order %d has already been delivered.", orderID),
		})
		return
	}
	if err != nil {
		h.writeBoardError(w, orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Advance handles POST /orders/{id}/advance.
func (h *OrderHandler) Advance(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.board.Advance(r.Context(), orderID, req.Confirm)
	if err != nil {
		h.writeBoardError(w, orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func parseOrderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return 0, false
	}
	return id, true
}

// writeBoardError maps board errors to HTTP responses.
func (h *OrderHandler) writeBoardError(w http.ResponseWriter, orderID int64, err error) {
	switch {
	case errors.Is(err, board.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, kitchen.ErrInvalidStatus):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": fmt.Sprintf("order %d has an invalid status", orderID)})
	case errors.Is(err, kitchendb.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order status changed, please retry"})
	case errors.Is(err, board.ErrWriteFailed):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": fmt.Sprintf("Order %d status could not be saved. Nothing was changed.", orderID)})
	case errors.Is(err, board.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "board unavailable"})
	default:
		h.logger.Error("order request failed", zap.Int64("order_id", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
