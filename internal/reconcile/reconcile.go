// Package reconcile turns an edited set of line items into the detail writes
// that make the back-end match it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/invoice-extractor/orderdesk/internal/metrics"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"golang.org/x/sync/errgroup"
)

// Errors returned by Diff and Apply.
var (
	ErrUnknownLineItem = errors.New("line item does not belong to the original order")
	ErrNoProduct       = errors.New("line item has no product")
	ErrDeleteFailed    = errors.New("failed to delete some order details")
	ErrUpdateFailed    = errors.New("failed to update some order details")
	ErrCreateFailed    = errors.New("failed to create some order details")
)

// Update is a full replacement of one persisted detail.
type Update struct {
	ID     int64
	Fields model.DetailFields
}

// Plan partitions a draft into deletes, updates and creates. The three sets
// never overlap: deletes are original ids missing from the draft, updates are
// draft items whose id is in the original set, creates have no id.
type Plan struct {
	Deletes []int64
	Updates []Update
	Creates []model.DetailFields
}

// Len is the number of writes in the plan.
func (p Plan) Len() int { return len(p.Deletes) + len(p.Updates) + len(p.Creates) }

// Diff compares the details loaded at edit start with the submitted items.
// Every surviving item is updated whether or not it changed. A repeated id
// is collapsed into one update carrying the last item's fields.
func Diff(original []model.OrderDetail, items []model.LineItemDraft) (Plan, error) {
	known := make(map[int64]bool, len(original))
	for _, od := range original {
		known[od.SalesOrderDetailID] = true
	}

	var plan Plan
	kept := make(map[int64]bool, len(items))
	updateAt := make(map[int64]int)

	for i, item := range items {
		if _, ok := item.ProductID(); !ok {
			return Plan{}, fmt.Errorf("item[%d]: %w", i, ErrNoProduct)
		}

		if item.ServerID == nil {
			plan.Creates = append(plan.Creates, item.DetailFields(0))
			continue
		}

		id := *item.ServerID
		if !known[id] {
			return Plan{}, fmt.Errorf("item[%d]: detail %d: %w", i, id, ErrUnknownLineItem)
		}
		kept[id] = true
		u := Update{ID: id, Fields: item.DetailFields(0)}
		if at, dup := updateAt[id]; dup {
			plan.Updates[at] = u
			continue
		}
		updateAt[id] = len(plan.Updates)
		plan.Updates = append(plan.Updates, u)
	}

	seen := make(map[int64]bool, len(original))
	for _, od := range original {
		id := od.SalesOrderDetailID
		if kept[id] || seen[id] {
			continue
		}
		seen[id] = true
		plan.Deletes = append(plan.Deletes, id)
	}
	return plan, nil
}

// DetailWriter defines the back-end calls needed to apply a plan.
// Satisfied by *apiclient.Client.
type DetailWriter interface {
	CreateOrderDetail(ctx context.Context, fields model.DetailFields) (*model.OrderDetail, error)
	UpdateOrderDetail(ctx context.Context, id int64, fields model.DetailFields) (*model.OrderDetail, error)
	DeleteOrderDetail(ctx context.Context, id int64) error
}

// Result records the writes that went through, including those of a batch
// that failed part-way. Created is keyed by index into Plan.Creates.
type Result struct {
	Deleted []int64
	Updated []int64
	Created map[int]model.OrderDetail
}

// Engine applies plans against the back-end.
type Engine struct {
	writer  DetailWriter
	metrics *metrics.Registry
}

// NewEngine creates a new Engine. m may be nil.
func NewEngine(w DetailWriter, m *metrics.Registry) *Engine {
	return &Engine{writer: w, metrics: m}
}

// Apply runs the deletes, then the updates, then the creates. Each batch is
// sent concurrently and awaited in full before the next one starts. The
// first failing batch ends the run; writes already applied stay applied.
func (e *Engine) Apply(ctx context.Context, orderID int64, plan Plan) (*Result, error) {
	res := &Result{}

	deleted := make([]bool, len(plan.Deletes))
	err := e.batch(ctx, "delete", len(plan.Deletes), ErrDeleteFailed, func(ctx context.Context, i int) error {
		if err := e.writer.DeleteOrderDetail(ctx, plan.Deletes[i]); err != nil {
			return err
		}
		deleted[i] = true
		return nil
	})
	for i, ok := range deleted {
		if ok {
			res.Deleted = append(res.Deleted, plan.Deletes[i])
		}
	}
	if err != nil {
		return res, err
	}

	updated := make([]bool, len(plan.Updates))
	err = e.batch(ctx, "update", len(plan.Updates), ErrUpdateFailed, func(ctx context.Context, i int) error {
		u := plan.Updates[i]
		u.Fields.SalesOrderID = 0
		if _, err := e.writer.UpdateOrderDetail(ctx, u.ID, u.Fields); err != nil {
			return err
		}
		updated[i] = true
		return nil
	})
	for i, ok := range updated {
		if ok {
			res.Updated = append(res.Updated, plan.Updates[i].ID)
		}
	}
	if err != nil {
		return res, err
	}

	created := make([]*model.OrderDetail, len(plan.Creates))
	err = e.batch(ctx, "create", len(plan.Creates), ErrCreateFailed, func(ctx context.Context, i int) error {
		fields := plan.Creates[i]
		fields.SalesOrderID = orderID
		d, err := e.writer.CreateOrderDetail(ctx, fields)
		if err != nil {
			return err
		}
		created[i] = d
		return nil
	})
	res.Created = make(map[int]model.OrderDetail, len(created))
	for i, d := range created {
		if d != nil {
			res.Created[i] = *d
		}
	}
	return res, err
}

// batch runs fn for every index concurrently and waits for all of them.
// Failures are reported as sentinel plus a count; individual errors are not
// attributed to items.
func (e *Engine) batch(ctx context.Context, kind string, n int, sentinel error, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	var g errgroup.Group
	var failed atomic.Int64
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := fn(ctx, i); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
	}
	first := g.Wait()

	bad := int(failed.Load())
	e.metrics.ObserveReconcile(kind, "ok", n-bad)
	e.metrics.ObserveReconcile(kind, "error", bad)
	if bad == 0 {
		return nil
	}
	return fmt.Errorf("%w (%d of %d): %v", sentinel, bad, n, first)
}
