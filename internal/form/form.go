// Package form holds one order draft while it is being edited: the header,
// the chosen customer, the line items with their product lookups, and the
// submit flow that writes it all back.
package form

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/metrics"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/reconcile"
	"github.com/invoice-extractor/orderdesk/internal/search"
)

// Errors returned by the form.
var (
	ErrCustomerRequired = errors.New("customer required")
	ErrProductRequired  = errors.New("product required")
	ErrSubmitInFlight   = errors.New("submit already in progress")
	ErrClosed           = errors.New("form is closed")
	ErrNoSuchItem       = errors.New("no line item at index")
	ErrNotInResults     = errors.New("not in the current search results")
)

// ValidationError lists everything that blocks a submit.
type ValidationError struct {
	CustomerMissing bool
	MissingProduct  []int
}

func (e *ValidationError) Error() string {
	var msg string
	if e.CustomerMissing {
		msg = ErrCustomerRequired.Error()
	}
	if len(e.MissingProduct) > 0 {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s at item %v", ErrProductRequired, e.MissingProduct)
	}
	return msg
}

// Is matches ErrCustomerRequired and ErrProductRequired.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrCustomerRequired:
		return e.CustomerMissing
	case ErrProductRequired:
		return len(e.MissingProduct) > 0
	}
	return false
}

// API defines the back-end calls a form needs.
// Satisfied by *apiclient.Client.
type API interface {
	reconcile.DetailWriter
	CreateOrder(ctx context.Context, fields model.HeaderFields) (*model.OrderHeader, error)
	UpdateOrder(ctx context.Context, id int64, fields model.HeaderFields) (*model.OrderHeader, error)
	SearchCustomers(ctx context.Context, query string, limit int) ([]model.CustomerMatch, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]model.Product, error)
}

// Options wires a form into the rest of the process. Zero values are usable.
type Options struct {
	ID          uuid.UUID // event room; a random id when zero
	SearchLimit int
	Debounce    time.Duration
	Clock       search.Clock
	Metrics     *metrics.Registry
	Events      events.Publisher
}

// CustomerSelection is the customer attached to a draft.
type CustomerSelection struct {
	Customer model.Customer        `json:"customer"`
	Detail   *model.CustomerDetail `json:"customer_detail,omitempty"`
}

// DisplayName falls back to the account number, then the id.
func (c *CustomerSelection) DisplayName() string {
	m := model.CustomerMatch{Customer: c.Customer, Detail: c.Detail}
	if name := m.DisplayName(); name != "" {
		return name
	}
	return fmt.Sprintf("Customer #%d", c.Customer.CustomerID)
}

// Draft is a copy of the editable content.
type Draft struct {
	Header   model.HeaderFields    `json:"header"`
	Items    []model.LineItemDraft `json:"line_items"`
	Customer *CustomerSelection    `json:"customer,omitempty"`
}

// slot keeps a line item and its product lookup together, so removing an
// item drops its lookup and shifts later ones with it.
type slot struct {
	item   model.LineItemDraft
	search *search.Box[model.Product]
}

// Form is safe for concurrent use.
type Form struct {
	id      uuid.UUID
	api     API
	engine  *reconcile.Engine
	opts    Options
	created time.Time

	mu             sync.Mutex
	orderID        *int64
	createdHere    bool // orderID came from this form's CreateOrder
	original       []model.OrderDetail
	header         model.HeaderFields
	customer       *CustomerSelection
	slots          []*slot
	customerSearch *search.Box[model.CustomerMatch]
	extractedName  *string
	submitting     bool
	closed         bool
}

// New returns an empty draft for manual entry.
func New(api API, opts Options) *Form {
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	f := &Form{
		id:      opts.ID,
		api:     api,
		engine:  reconcile.NewEngine(api, opts.Metrics),
		opts:    opts,
		created: time.Now(),
	}
	f.customerSearch = search.NewBox(
		func(ctx context.Context, q string) ([]model.CustomerMatch, error) {
			return api.SearchCustomers(ctx, q, opts.SearchLimit)
		},
		search.Options[model.CustomerMatch]{
			Name:     enum.SearchBoxCustomer,
			Delay:    opts.Debounce,
			Clock:    opts.Clock,
			Metrics:  opts.Metrics,
			OnUpdate: func(s search.State[model.CustomerMatch]) { f.publishSearch(enum.SearchBoxCustomer, -1, s) },
		},
	)
	return f
}

// NewFromExtraction hydrates a draft from an uploaded document. When no
// customer was matched the extracted name seeds the customer lookup.
func NewFromExtraction(api API, doc *model.ExtractedDocument, opts Options) *Form {
	f := New(api, opts)
	f.header = doc.Header.Fields()
	if doc.Customer != nil {
		f.customer = &CustomerSelection{Customer: *doc.Customer, Detail: doc.CustomerDetail}
	}
	for _, li := range doc.LineItems {
		f.slots = append(f.slots, f.newSlot(model.LineItemFromExtraction(li)))
	}
	f.extractedName = doc.ExtractedCustomerName

	if f.customer != nil {
		f.customerSearch.Select(f.customer.DisplayName())
	} else if doc.ExtractedCustomerName != nil && *doc.ExtractedCustomerName != "" {
		f.customerSearch.Type(*doc.ExtractedCustomerName)
	}
	return f
}

// NewFromOrder hydrates an edit draft. The details are kept as the original
// set that submit reconciles against.
func NewFromOrder(api API, order *model.OrderWithDetails, opts Options) *Form {
	f := New(api, opts)
	id := order.SalesOrderID
	f.orderID = &id
	f.header = model.FieldsFromHeader(order.OrderHeader)
	f.original = append([]model.OrderDetail(nil), order.OrderDetails...)
	f.customer = &CustomerSelection{Customer: model.Customer{
		CustomerID:    order.CustomerID,
		TerritoryID:   order.TerritoryID,
		AccountNumber: order.AccountNumber,
	}}
	for _, od := range order.OrderDetails {
		f.slots = append(f.slots, f.newSlot(model.LineItemFromDetail(od)))
	}
	f.customerSearch.Select(f.customer.DisplayName())
	return f
}

func (f *Form) newSlot(item model.LineItemDraft) *slot {
	s := &slot{item: item}
	s.search = search.NewBox(
		func(ctx context.Context, q string) ([]model.Product, error) {
			return f.api.SearchProducts(ctx, q, f.opts.SearchLimit)
		},
		search.Options[model.Product]{
			Name:    enum.SearchBoxProduct,
			Delay:   f.opts.Debounce,
			Clock:   f.opts.Clock,
			Metrics: f.opts.Metrics,
			OnUpdate: func(st search.State[model.Product]) {
				if i := f.indexOf(s); i >= 0 {
					f.publishSearch(enum.SearchBoxProduct, i, st)
				}
			},
		},
	)
	if item.Product != nil {
		s.search.Select(item.Product.DisplayName())
	}
	return s
}

func (f *Form) ID() uuid.UUID { return f.id }

// Created is when the form was opened.
func (f *Form) Created() time.Time { return f.created }

// OrderID is the order being edited, if any.
func (f *Form) OrderID() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderID == nil {
		return 0, false
	}
	return *f.orderID, true
}

// Draft returns a copy of the editable content.
func (f *Form) Draft() Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draftLocked()
}

func (f *Form) draftLocked() Draft {
	d := Draft{Header: f.header, Items: make([]model.LineItemDraft, len(f.slots))}
	for i, s := range f.slots {
		d.Items[i] = s.item
	}
	if f.customer != nil {
		c := *f.customer
		d.Customer = &c
	}
	return d
}

// editable is called with f.mu held.
func (f *Form) editable() error {
	if f.closed {
		return ErrClosed
	}
	if f.submitting {
		return ErrSubmitInFlight
	}
	return nil
}

func (f *Form) slotAt(i int) (*slot, error) {
	if i < 0 || i >= len(f.slots) {
		return nil, fmt.Errorf("item[%d]: %w", i, ErrNoSuchItem)
	}
	return f.slots[i], nil
}

func (f *Form) indexOf(s *slot) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.slots {
		if cur == s {
			return i
		}
	}
	return -1
}

func (f *Form) publish(eventType string, payload any) {
	if f.opts.Events == nil {
		return
	}
	if err := f.opts.Events.Publish(f.id, eventType, payload); err != nil {
		log.Printf("ERROR: form %s: publish %s: %v", f.id, eventType, err)
	}
}

func (f *Form) publishGlobal(eventType string, payload any) {
	if f.opts.Events == nil {
		return
	}
	if err := f.opts.Events.Publish(events.Global, eventType, payload); err != nil {
		log.Printf("ERROR: form %s: publish %s: %v", f.id, eventType, err)
	}
}

func (f *Form) publishSearch(box string, index int, state any) {
	f.publish(enum.EventSearchResults, events.SearchPayload{DraftID: f.id, Box: box, Index: index, State: state})
}

// Close discards the draft and stops its lookups.
func (f *Form) Close() {
	f.mu.Lock()
	f.closed = true
	boxes := f.stopListLocked()
	f.mu.Unlock()
	for _, stop := range boxes {
		stop()
	}
}

func (f *Form) stopListLocked() []func() {
	stops := []func(){f.customerSearch.Stop}
	for _, s := range f.slots {
		stops = append(stops, s.search.Stop)
	}
	return stops
}

// Closed reports whether the form was submitted or closed.
func (f *Form) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
