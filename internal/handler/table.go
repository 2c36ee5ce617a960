package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/ordertable"
)

// TableService defines the table operations needed by the order list endpoints.
// Satisfied by *ordertable.Table; narrow interface for testability.
type TableService interface {
	LoadMore(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) error
	Toggle(ctx context.Context, orderID int64) (bool, []model.OrderDetail, error)
	Snapshot() ordertable.Snapshot
}

// TableHandler handles the order list endpoints.
type TableHandler struct {
	table TableService
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(table TableService) *TableHandler {
	return &TableHandler{table: table}
}

// RegisterRoutes registers order list endpoints on the given Chi router.
// Expected to be mounted at /orders.
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/load-more", h.LoadMore)
	r.Post("/refresh", h.Refresh)
	r.Post("/{id}/toggle", h.Toggle)
}

// --- Response types ---

type loadMoreResponse struct {
	Loaded bool                `json:"loaded"`
	Table  ordertable.Snapshot `json:"table"`
}

type toggleResponse struct {
	OrderID  int64               `json:"order_id"`
	Expanded bool                `json:"expanded"`
	Details  []model.OrderDetail `json:"details"`
}

// --- Handlers ---

// List returns the table. The first call loads page one.
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.table.Snapshot()
	if snap.Page == 0 && !snap.Loading {
		if _, err := h.table.LoadMore(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		snap = h.table.Snapshot()
	}
	writeJSON(w, http.StatusOK, snap)
}

// LoadMore appends the next page. Loaded is false when there was nothing
// to fetch or a load was already running.
func (h *TableHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	loaded, err := h.table.LoadMore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loadMoreResponse{Loaded: loaded, Table: h.table.Snapshot()})
}

// Refresh reloads the list from page one.
func (h *TableHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.table.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.table.Snapshot())
}

// Toggle expands or collapses a row, fetching its details on first expand.
func (h *TableHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	expanded, details, err := h.table.Toggle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if details == nil {
		details = []model.OrderDetail{}
	}
	writeJSON(w, http.StatusOK, toggleResponse{OrderID: id, Expanded: expanded, Details: details})
}
