package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/form"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/ordertable"
)

// Errors returned by the workbench.
var (
	ErrDraftNotFound = errors.New("draft not found")
)

// API defines the back-end calls the workbench needs.
// Satisfied by *apiclient.Client.
type API interface {
	form.API
	GetOrder(ctx context.Context, id int64) (*model.OrderWithDetails, error)
	Upload(ctx context.Context, filename string, r io.Reader) (*model.ExtractedDocument, error)
}

// Workbench owns the order table and every open draft. It is the only
// place drafts are created, so each one gets the same search and event
// wiring.
type Workbench struct {
	api   API
	table *ordertable.Table
	opts  form.Options

	mu     sync.Mutex
	drafts map[uuid.UUID]*form.Form
}

// NewWorkbench creates a workbench. opts is the template for every draft;
// its ID is ignored.
func NewWorkbench(api API, table *ordertable.Table, opts form.Options) *Workbench {
	opts.ID = uuid.Nil
	return &Workbench{
		api:    api,
		table:  table,
		opts:   opts,
		drafts: make(map[uuid.UUID]*form.Form),
	}
}

// Table returns the shared order table.
func (w *Workbench) Table() *ordertable.Table { return w.table }

func (w *Workbench) draftOptions() form.Options {
	opts := w.opts
	opts.ID = uuid.New()
	return opts
}

func (w *Workbench) track(f *form.Form) *form.Form {
	w.mu.Lock()
	w.drafts[f.ID()] = f
	w.mu.Unlock()
	return f
}

// NewDraft opens a blank draft for manual entry.
func (w *Workbench) NewDraft() *form.Form {
	return w.track(form.New(w.api, w.draftOptions()))
}

// UploadDraft sends the document to the extractor and opens a draft from
// the result.
func (w *Workbench) UploadDraft(ctx context.Context, filename string, r io.Reader) (*form.Form, error) {
	doc, err := w.api.Upload(ctx, filename, r)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	return w.track(form.NewFromExtraction(w.api, doc, w.draftOptions())), nil
}

// EditDraft loads an existing order with its details and opens an edit
// draft for it.
func (w *Workbench) EditDraft(ctx context.Context, orderID int64) (*form.Form, error) {
	order, err := w.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return w.track(form.NewFromOrder(w.api, order, w.draftOptions())), nil
}

// Draft looks up an open draft.
func (w *Workbench) Draft(id uuid.UUID) (*form.Form, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return f, nil
}

// Drafts lists the open drafts, oldest first.
func (w *Workbench) Drafts() []*form.Form {
	w.mu.Lock()
	out := make([]*form.Form, 0, len(w.drafts))
	for _, f := range w.drafts {
		out = append(out, f)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created().Before(out[j].Created()) })
	return out
}

// Mutate runs one edit against a draft and pushes the resulting view to the
// draft's subscribers. The view is returned even when the edit fails.
func (w *Workbench) Mutate(f *form.Form, edit func(*form.Form) error) (form.View, error) {
	err := edit(f)
	v := f.View()
	if err == nil {
		w.publish(f.ID(), enum.EventDraftUpdated, events.DraftPayload{DraftID: f.ID(), Draft: v})
	}
	return v, err
}

// Submit writes the draft back. A submitted draft is forgotten; a failed
// one stays open for a retry.
func (w *Workbench) Submit(ctx context.Context, f *form.Form) (*form.SubmitResult, error) {
	res, err := f.Submit(ctx)
	if err != nil {
		return nil, err
	}
	w.forget(f.ID())
	return res, nil
}

// CloseDraft discards a draft without writing anything.
func (w *Workbench) CloseDraft(id uuid.UUID) error {
	w.mu.Lock()
	f, ok := w.drafts[id]
	delete(w.drafts, id)
	w.mu.Unlock()
	if !ok {
		return ErrDraftNotFound
	}
	f.Close()
	return nil
}

// Shutdown closes every open draft.
func (w *Workbench) Shutdown() {
	w.mu.Lock()
	drafts := w.drafts
	w.drafts = make(map[uuid.UUID]*form.Form)
	w.mu.Unlock()
	for _, f := range drafts {
		f.Close()
	}
}

func (w *Workbench) forget(id uuid.UUID) {
	w.mu.Lock()
	delete(w.drafts, id)
	w.mu.Unlock()
}

func (w *Workbench) publish(room uuid.UUID, eventType string, payload any) {
	if w.opts.Events == nil {
		return
	}
	if err := w.opts.Events.Publish(room, eventType, payload); err != nil {
		log.Printf("ERROR: workbench: publish %s: %v", eventType, err)
	}
}
