// Package apitest provides an in-memory sales order back-end for tests.
package apitest

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/invoice-extractor/orderdesk/internal/model"
)

// Route names accepted by Fail and Hook.
const (
	RouteListOrders      = "GET /sales_orders"
	RouteCreateOrder     = "POST /sales_orders"
	RouteGetOrder        = "GET /sales_orders/{id}"
	RouteUpdateOrder     = "PUT /sales_orders/{id}"
	RouteCreateDetail    = "POST /sales_order_details"
	RouteUpdateDetail    = "PUT /sales_order_details/{id}"
	RouteDeleteDetail    = "DELETE /sales_order_details/{id}"
	RouteSearchCustomers = "GET /customers/search"
	RouteSearchProducts  = "GET /products/search"
	RouteUpload          = "POST /upload"
)

// Call is one request seen by the back-end.
type Call struct {
	Route string
	Path  string
	Query string
	Body  []byte
}

type failRule struct {
	status int
	ids    map[int64]bool // nil matches every request on the route
}

// Backend is a chi-routed fake of the sales order API.
type Backend struct {
	Server *httptest.Server

	mu           sync.Mutex
	orders       map[int64]model.OrderHeader
	details      map[int64]model.OrderDetail
	nextOrderID  int64
	nextDetailID int64
	calls        []Call
	fails        map[string]failRule
	hooks        map[string]func(r *http.Request)

	Customers  []model.CustomerMatch
	Products   []model.Product
	Extraction *model.ExtractedDocument
}

// New starts a back-end that is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		orders:       make(map[int64]model.OrderHeader),
		details:      make(map[int64]model.OrderDetail),
		nextOrderID:  1000,
		nextDetailID: 5000,
		fails:        make(map[string]failRule),
		hooks:        make(map[string]func(r *http.Request)),
	}

	r := chi.NewRouter()
	r.Get("/sales_orders", b.wrap(RouteListOrders, b.listOrders))
	r.Post("/sales_orders", b.wrap(RouteCreateOrder, b.createOrder))
	r.Get("/sales_orders/{id}", b.wrap(RouteGetOrder, b.getOrder))
	r.Put("/sales_orders/{id}", b.wrap(RouteUpdateOrder, b.updateOrder))
	r.Post("/sales_order_details", b.wrap(RouteCreateDetail, b.createDetail))
	r.Put("/sales_order_details/{id}", b.wrap(RouteUpdateDetail, b.updateDetail))
	r.Delete("/sales_order_details/{id}", b.wrap(RouteDeleteDetail, b.deleteDetail))
	r.Get("/customers/search", b.wrap(RouteSearchCustomers, b.searchCustomers))
	r.Get("/products/search", b.wrap(RouteSearchProducts, b.searchProducts))
	r.Post("/upload", b.wrap(RouteUpload, b.upload))

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the base URL to hand to apiclient.New.
func (b *Backend) URL() string { return b.Server.URL }

// SeedOrder stores a header and its details as-is.
func (b *Backend) SeedOrder(h model.OrderHeader, details ...model.OrderDetail) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[h.SalesOrderID] = h
	for _, d := range details {
		d.SalesOrderID = h.SalesOrderID
		b.details[d.SalesOrderDetailID] = d
	}
}

// Fail makes a route answer with status. With ids, only requests whose
// {id} (or the ProductID of a detail create body) matches fail.
func (b *Backend) Fail(route string, status int, ids ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rule := failRule{status: status}
	if len(ids) > 0 {
		rule.ids = make(map[int64]bool, len(ids))
		for _, id := range ids {
			rule.ids[id] = true
		}
	}
	b.fails[route] = rule
}

// ClearFailures removes every failure rule.
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = make(map[string]failRule)
}

// Hook runs fn before the route is served. fn may block.
func (b *Backend) Hook(route string, fn func(r *http.Request)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[route] = fn
}

// Calls returns every recorded request in arrival order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsTo returns the recorded requests for one route.
func (b *Backend) CallsTo(route string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Route == route {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded requests.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Details returns the stored details of an order ordered by id.
func (b *Backend) Details(orderID int64) []model.OrderDetail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detailsLocked(orderID)
}

// Order returns a stored header.
func (b *Backend) Order(id int64) (model.OrderHeader, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.orders[id]
	return h, ok
}

func (b *Backend) detailsLocked(orderID int64) []model.OrderDetail {
	out := []model.OrderDetail{}
	for _, d := range b.details {
		if d.SalesOrderID == orderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SalesOrderDetailID < out[j].SalesOrderDetailID })
	return out
}

func (b *Backend) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		b.mu.Lock()
		b.calls = append(b.calls, Call{Route: route, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		hook := b.hooks[route]
		rule, failing := b.fails[route]
		b.mu.Unlock()

		if hook != nil {
			hook(r)
		}
		if failing && rule.matches(r, body) {
			writeJSON(w, rule.status, map[string]string{"description": "injected failure"})
			return
		}
		h(w, r)
	}
}

func (f failRule) matches(r *http.Request, body []byte) bool {
	if f.ids == nil {
		return true
	}
	if id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64); err == nil {
		return f.ids[id]
	}
	var detail struct {
		ProductID int64 `json:"ProductID"`
	}
	if json.Unmarshal(body, &detail) == nil {
		return f.ids[detail.ProductID]
	}
	return false
}

// --- Handlers ---

func (b *Backend) listOrders(w http.ResponseWriter, r *http.Request) {
	page := atoiDefault(r.URL.Query().Get("page"), 1)
	perPage := atoiDefault(r.URL.Query().Get("per_page"), 10)
	desc := r.URL.Query().Get("order") == "desc"

	b.mu.Lock()
	all := make([]model.OrderHeader, 0, len(b.orders))
	for _, o := range b.orders {
		all = append(all, o)
	}
	b.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if desc {
			return all[i].SalesOrderID > all[j].SalesOrderID
		}
		return all[i].SalesOrderID < all[j].SalesOrderID
	})

	total := len(all)
	totalPages := 0
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, model.OrderPage{
		Data: all[start:end],
		Pagination: model.Pagination{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	})
}

func (b *Backend) createOrder(w http.ResponseWriter, r *http.Request) {
	var fields model.HeaderFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "Request body must be JSON"})
		return
	}
	if fields.CustomerID == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "CustomerID is required"})
		return
	}
	if fields.TerritoryID == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "TerritoryID is required"})
		return
	}

	b.mu.Lock()
	b.nextOrderID++
	h := model.OrderHeader{SalesOrderID: b.nextOrderID}
	applyHeader(&h, fields)
	b.orders[h.SalesOrderID] = h
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, h)
}

func (b *Backend) getOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	b.mu.Lock()
	h, ok := b.orders[id]
	details := b.detailsLocked(id)
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"description": "Sales order with ID " + strconv.FormatInt(id, 10) + " not found"})
		return
	}
	writeJSON(w, http.StatusOK, model.OrderWithDetails{OrderHeader: h, OrderDetails: details})
}

func (b *Backend) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var fields model.HeaderFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "Request body must be JSON"})
		return
	}

	b.mu.Lock()
	h, ok := b.orders[id]
	if ok {
		applyHeader(&h, fields)
		b.orders[id] = h
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"description": "Sales order not found"})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (b *Backend) createDetail(w http.ResponseWriter, r *http.Request) {
	var fields model.DetailFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "Request body must be JSON"})
		return
	}
	if fields.SalesOrderID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "SalesOrderID is required"})
		return
	}
	if fields.ProductID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "ProductID is required"})
		return
	}

	b.mu.Lock()
	if _, ok := b.orders[fields.SalesOrderID]; !ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"description": "Sales order not found"})
		return
	}
	b.nextDetailID++
	d := model.OrderDetail{SalesOrderDetailID: b.nextDetailID, SalesOrderID: fields.SalesOrderID}
	applyDetail(&d, fields)
	b.details[d.SalesOrderDetailID] = d
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, d)
}

func (b *Backend) updateDetail(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var fields model.DetailFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "Request body must be JSON"})
		return
	}

	b.mu.Lock()
	d, ok := b.details[id]
	if ok {
		applyDetail(&d, fields)
		b.details[id] = d
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"description": "Sales order detail not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (b *Backend) deleteDetail(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	b.mu.Lock()
	_, ok := b.details[id]
	delete(b.details, id)
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"description": "Sales order detail not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) searchCustomers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	limit := atoiDefault(r.URL.Query().Get("limit"), 10)

	b.mu.Lock()
	out := []model.CustomerMatch{}
	for _, c := range b.Customers {
		if strings.Contains(strings.ToLower(c.DisplayName()), q) && len(out) < limit {
			out = append(out, c)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) searchProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	limit := atoiDefault(r.URL.Query().Get("limit"), 10)

	b.mu.Lock()
	out := []model.Product{}
	for _, p := range b.Products {
		if strings.Contains(strings.ToLower(p.DisplayName()), q) && len(out) < limit {
			out = append(out, p)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(11 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "No file provided in request"})
		return
	}
	if _, _, err := r.FormFile("file"); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "No file provided in request"})
		return
	}

	b.mu.Lock()
	doc := b.Extraction
	b.mu.Unlock()
	if doc == nil {
		doc = &model.ExtractedDocument{}
	}
	writeJSON(w, http.StatusOK, doc)
}

// --- Helpers ---

func applyHeader(h *model.OrderHeader, f model.HeaderFields) {
	if f.CustomerID != nil {
		h.CustomerID = *f.CustomerID
	}
	if f.TerritoryID != nil {
		h.TerritoryID = *f.TerritoryID
	}
	if f.RevisionNumber != nil {
		h.RevisionNumber = f.RevisionNumber
	}
	if f.OrderDate != nil {
		h.OrderDate = f.OrderDate
	}
	if f.DueDate != nil {
		h.DueDate = f.DueDate
	}
	if f.ShipDate != nil {
		h.ShipDate = f.ShipDate
	}
	if f.Status != nil {
		h.Status = f.Status
	}
	if f.SalesOrderNumber != nil {
		h.SalesOrderNumber = f.SalesOrderNumber
	}
	if f.PurchaseOrderNumber != nil {
		h.PurchaseOrderNumber = f.PurchaseOrderNumber
	}
	if f.AccountNumber != nil {
		h.AccountNumber = f.AccountNumber
	}
	if f.SubTotal != nil {
		h.SubTotal.Decimal, h.SubTotal.Valid = *f.SubTotal, true
	}
	if f.TaxAmt != nil {
		h.TaxAmt.Decimal, h.TaxAmt.Valid = *f.TaxAmt, true
	}
	if f.TotalDue != nil {
		h.TotalDue.Decimal, h.TotalDue.Valid = *f.TotalDue, true
	}
}

func applyDetail(d *model.OrderDetail, f model.DetailFields) {
	qty := f.OrderQty
	d.ProductID = f.ProductID
	d.OrderQty = &qty
	d.CarrierTrackingNumber = f.CarrierTrackingNumber
	d.SpecialOfferID = f.SpecialOfferID
	d.UnitPrice.Decimal, d.UnitPrice.Valid = f.UnitPrice, true
	d.UnitPriceDiscount.Decimal, d.UnitPriceDiscount.Valid = f.UnitPriceDiscount, true
	d.LineTotal.Decimal, d.LineTotal.Valid = f.LineTotal, true
}

func atoiDefault(s string, fallback int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: apitest: encode response: %v", err)
	}
}
