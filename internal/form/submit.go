package form

import (
	"context"
	"fmt"

	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/reconcile"
)

// SubmitResult describes a successful submit.
type SubmitResult struct {
	OrderID int64 `json:"order_id"`
	Created bool  `json:"created"`
	Deleted int   `json:"deleted"`
	Updated int   `json:"updated"`
	Inserts int   `json:"inserted"`
}

// Submit writes the draft back. A new order is created header first and
// then its details; an existing order has its header updated and its
// details reconciled against the set loaded at edit start.
//
// Only one submit runs at a time. On success the form closes. On failure it
// stays open, already-applied writes are folded into its state, and a
// retry continues from there.
func (f *Form) Submit(ctx context.Context) (*SubmitResult, error) {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if err := f.validateLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.submitting = true
	draft := f.draftLocked()
	original := append([]model.OrderDetail(nil), f.original...)
	var orderID int64
	editing := f.orderID != nil
	if editing {
		orderID = *f.orderID
	}
	f.mu.Unlock()

	if m := f.opts.Metrics; m != nil {
		m.SubmitsInFlight.Inc()
		defer m.SubmitsInFlight.Dec()
	}

	res, err := f.submit(ctx, draft, original, orderID, editing)
	if err != nil {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
		f.publish(enum.EventSubmitFailed, events.SubmitFailedPayload{DraftID: f.id, Error: err.Error()})
		return nil, err
	}
	f.mu.Lock()
	res.Created = f.createdHere
	f.mu.Unlock()

	f.Close()
	// A row for an order created here was never cached by the table.
	if !res.Created {
		f.publishGlobal(enum.EventOrderInvalidate, events.OrderPayload{OrderID: res.OrderID})
	}
	f.publishGlobal(enum.EventOrdersRefresh, events.OrderPayload{OrderID: res.OrderID})
	return res, nil
}

func (f *Form) submit(ctx context.Context, draft Draft, original []model.OrderDetail, orderID int64, editing bool) (*SubmitResult, error) {
	header := headerForSubmit(draft)

	if editing {
		if _, err := f.api.UpdateOrder(ctx, orderID, header); err != nil {
			return nil, fmt.Errorf("update order %d: %w", orderID, err)
		}
	} else {
		created, err := f.api.CreateOrder(ctx, header)
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
		orderID = created.SalesOrderID
		f.mu.Lock()
		f.orderID = &orderID
		f.createdHere = true
		f.mu.Unlock()
	}

	plan, err := reconcile.Diff(original, draft.Items)
	if err != nil {
		return nil, err
	}
	applied, err := f.engine.Apply(ctx, orderID, plan)
	if err != nil {
		f.absorb(applied)
		return nil, err
	}

	return &SubmitResult{
		OrderID: orderID,
		Deleted: len(applied.Deleted),
		Updated: len(applied.Updated),
		Inserts: len(applied.Created),
	}, nil
}

// absorb folds the writes of a failed run into the form so that a retry
// does not repeat them: deleted details leave the original set, created
// ones join it and their items get a server id.
func (f *Form) absorb(applied *reconcile.Result) {
	if applied == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	gone := make(map[int64]bool, len(applied.Deleted))
	for _, id := range applied.Deleted {
		gone[id] = true
	}
	kept := f.original[:0]
	for _, od := range f.original {
		if !gone[od.SalesOrderDetailID] {
			kept = append(kept, od)
		}
	}
	f.original = kept

	// The k-th create in a plan is the k-th item without a server id.
	k := 0
	for _, s := range f.slots {
		if s.item.ServerID != nil {
			continue
		}
		if d, ok := applied.Created[k]; ok {
			id := d.SalesOrderDetailID
			s.item.ServerID = &id
			f.original = append(f.original, d)
		}
		k++
	}
}

// headerForSubmit copies the customer reference into the header.
func headerForSubmit(d Draft) model.HeaderFields {
	h := d.Header
	if d.Customer == nil {
		return h
	}
	customerID := d.Customer.Customer.CustomerID
	territoryID := d.Customer.Customer.TerritoryID
	h.CustomerID = &customerID
	h.TerritoryID = &territoryID
	if h.AccountNumber == nil && d.Customer.Customer.AccountNumber != nil {
		acct := *d.Customer.Customer.AccountNumber
		h.AccountNumber = &acct
	}
	return h
}
