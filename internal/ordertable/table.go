// Package ordertable keeps the paginated order list and the per-row line
// item cache shown on the main page.
package ordertable

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/invoice-extractor/orderdesk/internal/apiclient"
	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/metrics"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"golang.org/x/sync/singleflight"
)

// ErrDetailsChanged is returned by Toggle when the order kept being
// invalidated while its details were loading.
var ErrDetailsChanged = errors.New("order changed while loading details")

const (
	maxFetchAttempts = 3
	watchBuffer      = 16
)

// OrderSource defines the back-end calls the table needs.
// Satisfied by *apiclient.Client.
type OrderSource interface {
	ListOrders(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error)
	GetOrder(ctx context.Context, id int64) (*model.OrderWithDetails, error)
}

// Snapshot is a copy of the table for rendering.
type Snapshot struct {
	Orders   []model.OrderHeader           `json:"orders"`
	Page     int                           `json:"page"`
	PerPage  int                           `json:"per_page"`
	Total    int                           `json:"total"`
	HasNext  bool                          `json:"has_next"`
	Loading  bool                          `json:"loading"`
	Expanded []int64                       `json:"expanded"`
	Details  map[int64][]model.OrderDetail `json:"details"`
	Err      string                        `json:"error,omitempty"`
}

// Table is safe for concurrent use.
type Table struct {
	src      OrderSource
	pageSize int
	metrics  *metrics.Registry
	fetches  singleflight.Group

	mu       sync.Mutex
	orders   []model.OrderHeader
	page     int
	total    int
	hasNext  bool
	loading  bool
	gen      uint64
	cache    map[int64][]model.OrderDetail
	expanded map[int64]bool
	// Bumped by Invalidate; a detail fetch that saw another value is stale.
	epochs  map[int64]uint64
	resets  uint64
	lastErr string
}

// New creates an empty table. Nothing is fetched until LoadMore or Refresh.
func New(src OrderSource, pageSize int, m *metrics.Registry) *Table {
	return &Table{
		src:      src,
		pageSize: pageSize,
		metrics:  m,
		hasNext:  true,
		cache:    make(map[int64][]model.OrderDetail),
		expanded: make(map[int64]bool),
		epochs:   make(map[int64]uint64),
	}
}

func (t *Table) params(page int) apiclient.ListParams {
	return apiclient.ListParams{
		Page:    page,
		PerPage: t.pageSize,
		SortBy:  enum.SortBySalesOrderID,
		Order:   enum.SortDesc,
	}
}

// LoadMore appends the next page. It does nothing while another fetch is
// running or when the last page has been loaded, and reports whether rows
// were appended. A failure leaves the list as it was.
func (t *Table) LoadMore(ctx context.Context) (bool, error) {
	t.mu.Lock()
	if t.loading || !t.hasNext {
		t.mu.Unlock()
		return false, nil
	}
	t.loading = true
	gen := t.gen
	next := t.page + 1
	t.mu.Unlock()

	page, err := t.src.ListOrders(ctx, t.params(next))

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		// A refresh started meanwhile and owns the list now.
		return false, nil
	}
	t.loading = false
	if err != nil {
		t.lastErr = err.Error()
		return false, err
	}
	t.orders = append(t.orders, page.Data...)
	t.page = next
	t.total = page.Pagination.Total
	t.hasNext = page.Pagination.HasNext
	t.lastErr = ""
	return true, nil
}

// Refresh replaces the list with page 1. A LoadMore that started earlier is
// discarded when it returns.
func (t *Table) Refresh(ctx context.Context) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.loading = true
	t.mu.Unlock()

	page, err := t.src.ListOrders(ctx, t.params(1))

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return nil
	}
	t.loading = false
	if err != nil {
		t.lastErr = err.Error()
		return err
	}
	t.orders = append([]model.OrderHeader(nil), page.Data...)
	t.page = 1
	t.total = page.Pagination.Total
	t.hasNext = page.Pagination.HasNext
	t.lastErr = ""
	return nil
}

// Toggle expands or collapses a row. Details are fetched on the first
// expansion only; later expansions read the cache until Invalidate.
// Concurrent expansions of the same row share one fetch.
func (t *Table) Toggle(ctx context.Context, orderID int64) (bool, []model.OrderDetail, error) {
	t.mu.Lock()
	if t.expanded[orderID] {
		delete(t.expanded, orderID)
		t.mu.Unlock()
		return false, nil, nil
	}
	if details, ok := t.cache[orderID]; ok {
		t.expanded[orderID] = true
		t.mu.Unlock()
		t.metrics.ObserveCache(true)
		return true, details, nil
	}
	t.mu.Unlock()

	v, err, _ := t.fetches.Do(strconv.FormatInt(orderID, 10), func() (any, error) {
		return t.fetchDetails(ctx, orderID)
	})
	if err != nil {
		return false, nil, err
	}
	return true, v.([]model.OrderDetail), nil
}

// fetchDetails loads and caches the details of an order. A result that an
// Invalidate overtook is dropped and fetched again.
func (t *Table) fetchDetails(ctx context.Context, orderID int64) ([]model.OrderDetail, error) {
	t.metrics.ObserveCache(false)
	for attempt := 1; ; attempt++ {
		t.mu.Lock()
		epoch, resets := t.epochs[orderID], t.resets
		t.mu.Unlock()

		order, err := t.src.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		details := order.OrderDetails
		if details == nil {
			details = []model.OrderDetail{}
		}

		t.mu.Lock()
		if t.epochs[orderID] == epoch && t.resets == resets {
			t.cache[orderID] = details
			t.expanded[orderID] = true
			t.mu.Unlock()
			return details, nil
		}
		t.mu.Unlock()
		if attempt == maxFetchAttempts {
			return nil, ErrDetailsChanged
		}
	}
}

// Invalidate drops the cached details of an order and collapses its row,
// so the next expansion fetches again. A fetch already running for the
// order is not cached. Calling it twice is the same as once.
func (t *Table) Invalidate(orderID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cache, orderID)
	delete(t.expanded, orderID)
	t.epochs[orderID]++
}

// invalidateAll is Invalidate for every order.
func (t *Table) invalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	t.cache = make(map[int64][]model.OrderDetail)
	t.expanded = make(map[int64]bool)
}

// Cached returns the cached details of an order.
func (t *Table) Cached(orderID int64) ([]model.OrderDetail, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.cache[orderID]
	return d, ok
}

func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Orders:   append([]model.OrderHeader{}, t.orders...),
		Page:     t.page,
		PerPage:  t.pageSize,
		Total:    t.total,
		HasNext:  t.hasNext,
		Loading:  t.loading,
		Expanded: []int64{},
		Details:  make(map[int64][]model.OrderDetail, len(t.expanded)),
		Err:      t.lastErr,
	}
	for id := range t.expanded {
		s.Expanded = append(s.Expanded, id)
		s.Details[id] = t.cache[id]
	}
	sort.Slice(s.Expanded, func(i, j int) bool { return s.Expanded[i] > s.Expanded[j] })
	return s
}

// Watch subscribes to global events before returning, then applies
// orders.refresh and order.invalidate until ctx is done or the hub stops.
// Invalidations apply as they arrive; refreshes run on a separate goroutine
// and any that arrive while one is running collapse into a single follow-up.
// If the hub drops the subscription, Watch subscribes again, then drops
// every cached detail and refreshes to cover the events it lost. The
// returned channel is closed when both goroutines have exited.
func (t *Table) Watch(ctx context.Context, hub *events.Hub) <-chan struct{} {
	sub := hub.Subscribe(events.Global, watchBuffer)
	refresh := make(chan struct{}, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh:
				if err := t.Refresh(ctx); err != nil {
					log.Printf("ERROR: ordertable: refresh: %v", err)
				}
			}
		}
	}()

	go func() {
		defer close(done)
		defer wg.Wait()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case ev, ok := <-sub.Events():
				if ok {
					t.apply(ev, refresh)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-hub.Done():
					log.Printf("ERROR: ordertable: event hub stopped")
					return
				default:
				}
				log.Printf("ERROR: ordertable: dropped by event hub, resubscribing")
				sub = hub.Subscribe(events.Global, watchBuffer)
				t.invalidateAll()
				signal(refresh)
			}
		}
	}()
	return done
}

func (t *Table) apply(ev events.Event, refresh chan<- struct{}) {
	switch ev.Type {
	case enum.EventOrdersRefresh:
		signal(refresh)
	case enum.EventOrderInvalidate:
		var p events.OrderPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			log.Printf("ERROR: ordertable: bad %s payload: %v", ev.Type, err)
			return
		}
		t.Invalidate(p.OrderID)
	}
}

// signal queues a refresh unless one is already pending.
func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
