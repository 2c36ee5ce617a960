package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/invoice-extractor/orderdesk/internal/apiclient"
	"github.com/invoice-extractor/orderdesk/internal/form"
	"github.com/invoice-extractor/orderdesk/internal/middleware"
	"github.com/invoice-extractor/orderdesk/internal/model"
)

// DraftService defines the workbench methods needed by draft handlers.
// Satisfied by *service.Workbench; narrow interface for testability.
type DraftService interface {
	NewDraft() *form.Form
	UploadDraft(ctx context.Context, filename string, r io.Reader) (*form.Form, error)
	EditDraft(ctx context.Context, orderID int64) (*form.Form, error)
	Draft(id uuid.UUID) (*form.Form, error)
	Drafts() []*form.Form
	Mutate(f *form.Form, edit func(*form.Form) error) (form.View, error)
	Submit(ctx context.Context, f *form.Form) (*form.SubmitResult, error)
	CloseDraft(id uuid.UUID) error
}

// DraftHandler handles draft endpoints.
type DraftHandler struct {
	svc DraftService
}

// NewDraftHandler creates a new DraftHandler.
func NewDraftHandler(svc DraftService) *DraftHandler {
	return &DraftHandler{svc: svc}
}

// RegisterRoutes registers draft endpoints on the given Chi router.
// Expected to be mounted at /drafts.
func (h *DraftHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/upload", h.Upload)
	r.Post("/edit/{orderID}", h.Edit)

	r.Route("/{did}", func(r chi.Router) {
		r.Use(middleware.RequireDraft(h.svc.Draft))

		r.Get("/", h.Get)
		r.Delete("/", h.Close)
		r.Put("/header", h.SetHeader)
		r.Put("/customer", h.SetCustomer)
		r.Delete("/customer", h.ClearCustomer)
		r.Post("/customer/search", h.SearchCustomer)
		r.Post("/customer/dismiss", h.DismissCustomer)
		r.Post("/items", h.AddItem)
		r.Put("/items/{idx}", h.UpdateItem)
		r.Delete("/items/{idx}", h.RemoveItem)
		r.Post("/items/{idx}/search", h.SearchProduct)
		r.Post("/items/{idx}/dismiss", h.DismissProduct)
		r.Post("/items/{idx}/select", h.SelectProduct)
		r.Post("/submit", h.Submit)
	})
}

// --- Request types ---

type searchRequest struct {
	Query string `json:"query"`
}

// setCustomerRequest picks a customer from the lookup results by id, or
// attaches the given customer directly.
type setCustomerRequest struct {
	CustomerID *int64                `json:"customer_id"`
	Customer   *model.Customer       `json:"customer"`
	Detail     *model.CustomerDetail `json:"customer_detail"`
}

// selectProductRequest picks a product from the item's lookup results by
// id, or sets the given product directly.
type selectProductRequest struct {
	ProductID *int64         `json:"product_id"`
	Product   *model.Product `json:"product"`
}

// --- Collection handlers ---

// List returns a view of every open draft.
func (h *DraftHandler) List(w http.ResponseWriter, r *http.Request) {
	drafts := h.svc.Drafts()
	views := make([]form.View, len(drafts))
	for i, f := range drafts {
		views[i] = f.View()
	}
	writeJSON(w, http.StatusOK, views)
}

// Create opens a blank draft.
func (h *DraftHandler) Create(w http.ResponseWriter, r *http.Request) {
	f := h.svc.NewDraft()
	writeJSON(w, http.StatusCreated, f.View())
}

// Upload forwards a multipart "file" to the extractor and opens a draft
// from the result. The extraction is not tied to the client connection.
func (h *DraftHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, apiclient.MaxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, apiclient.ErrFileTooLarge)
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, apiclient.ErrNoFile)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		}
		return
	}
	defer file.Close()

	f, err := h.svc.UploadDraft(context.WithoutCancel(r.Context()), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f.View())
}

// Edit opens a draft for an existing order.
func (h *DraftHandler) Edit(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	f, err := h.svc.EditDraft(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f.View())
}

// --- Draft handlers ---

func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.DraftFromContext(r.Context()).View())
}

func (h *DraftHandler) Close(w http.ResponseWriter, r *http.Request) {
	f := middleware.DraftFromContext(r.Context())
	if err := h.svc.CloseDraft(f.ID()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DraftHandler) SetHeader(w http.ResponseWriter, r *http.Request) {
	var req model.HeaderFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.mutate(w, r, func(f *form.Form) error { return f.SetHeader(req) })
}

func (h *DraftHandler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var req setCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	switch {
	case req.CustomerID != nil:
		h.mutate(w, r, func(f *form.Form) error { return f.SelectCustomerResult(*req.CustomerID) })
	case req.Customer != nil:
		sel := form.CustomerSelection{Customer: *req.Customer, Detail: req.Detail}
		h.mutate(w, r, func(f *form.Form) error { return f.SetCustomer(sel) })
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_id or customer is required"})
	}
}

func (h *DraftHandler) ClearCustomer(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(f *form.Form) error { return f.ClearCustomer() })
}

func (h *DraftHandler) SearchCustomer(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.mutate(w, r, func(f *form.Form) error { return f.SearchCustomer(req.Query) })
}

func (h *DraftHandler) DismissCustomer(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(f *form.Form) error {
		f.DismissCustomerSearch()
		return nil
	})
}

func (h *DraftHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req model.LineItemDraft
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	f := middleware.DraftFromContext(r.Context())
	v, err := h.svc.Mutate(f, func(f *form.Form) error {
		_, err := f.AddItem(req)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *DraftHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req form.ItemEdit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.mutate(w, r, func(f *form.Form) error {
		_, err := f.UpdateItem(idx, req)
		return err
	})
}

func (h *DraftHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(f *form.Form) error { return f.RemoveItem(idx) })
}

func (h *DraftHandler) SearchProduct(w http.ResponseWriter, r *http.Request) {
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.mutate(w, r, func(f *form.Form) error { return f.SearchProduct(idx, req.Query) })
}

func (h *DraftHandler) DismissProduct(w http.ResponseWriter, r *http.Request) {
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(f *form.Form) error { return f.DismissProductSearch(idx) })
}

func (h *DraftHandler) SelectProduct(w http.ResponseWriter, r *http.Request) {
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req selectProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	switch {
	case req.ProductID != nil:
		h.mutate(w, r, func(f *form.Form) error {
			_, err := f.SelectProductResult(idx, *req.ProductID)
			return err
		})
	case req.Product != nil:
		h.mutate(w, r, func(f *form.Form) error {
			_, err := f.SelectProduct(idx, *req.Product)
			return err
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id or product is required"})
	}
}

// Submit writes the draft back to the back-end. Once started, the writes
// run to completion even if the client goes away.
func (h *DraftHandler) Submit(w http.ResponseWriter, r *http.Request) {
	f := middleware.DraftFromContext(r.Context())
	res, err := h.svc.Submit(context.WithoutCancel(r.Context()), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func (h *DraftHandler) mutate(w http.ResponseWriter, r *http.Request, edit func(*form.Form) error) {
	f := middleware.DraftFromContext(r.Context())
	v, err := h.svc.Mutate(f, edit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item index"})
		return 0, false
	}
	return idx, true
}
