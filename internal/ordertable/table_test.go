package ordertable_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/invoice-extractor/orderdesk/internal/apiclient"
	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/metrics"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/ordertable"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- Mock OrderSource ---

type mockSource struct {
	mu         sync.Mutex
	listCalls  []apiclient.ListParams
	getCalls   []int64
	listOrders func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error)
	getOrder   func(ctx context.Context, id int64) (*model.OrderWithDetails, error)
}

func (m *mockSource) ListOrders(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
	m.mu.Lock()
	m.listCalls = append(m.listCalls, p)
	m.mu.Unlock()
	if m.listOrders != nil {
		return m.listOrders(ctx, p)
	}
	return pageOf(p.Page, p.PerPage, 45), nil
}

func (m *mockSource) GetOrder(ctx context.Context, id int64) (*model.OrderWithDetails, error) {
	m.mu.Lock()
	m.getCalls = append(m.getCalls, id)
	m.mu.Unlock()
	if m.getOrder != nil {
		return m.getOrder(ctx, id)
	}
	return &model.OrderWithDetails{
		OrderHeader:  model.OrderHeader{SalesOrderID: id},
		OrderDetails: []model.OrderDetail{{SalesOrderID: id, SalesOrderDetailID: id * 10}},
	}, nil
}

func (m *mockSource) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.getCalls)
}

func (m *mockSource) lists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listCalls)
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// pageOf fakes a descending list of total orders numbered total..1.
func pageOf(page, perPage, total int) *model.OrderPage {
	var data []model.OrderHeader
	for i := (page - 1) * perPage; i < page*perPage && i < total; i++ {
		data = append(data, model.OrderHeader{SalesOrderID: int64(total - i)})
	}
	totalPages := (total + perPage - 1) / perPage
	return &model.OrderPage{
		Data: data,
		Pagination: model.Pagination{
			Page: page, PerPage: perPage, Total: total, TotalPages: totalPages,
			HasNext: page < totalPages, HasPrev: page > 1,
		},
	}
}

func ids(orders []model.OrderHeader) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.SalesOrderID
	}
	return out
}

// --- Pagination ---

func TestLoadMore_AppendIsStable(t *testing.T) {
	src := &mockSource{}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()

	if ok, err := table.LoadMore(ctx); !ok || err != nil {
		t.Fatalf("first load: ok=%v err=%v", ok, err)
	}
	before := ids(table.Snapshot().Orders)

	if ok, err := table.LoadMore(ctx); !ok || err != nil {
		t.Fatalf("second load: ok=%v err=%v", ok, err)
	}
	after := ids(table.Snapshot().Orders)

	if len(after) != 40 {
		t.Fatalf("rows: got %d, want 40", len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("prefix changed at %d: %d -> %d", i, before[i], after[i])
		}
	}
	if after[0] != 45 || after[39] != 6 {
		t.Errorf("order: got first=%d last=%d", after[0], after[39])
	}

	p := src.listCalls[1]
	if p.Page != 2 || p.PerPage != 20 || p.SortBy != enum.SortBySalesOrderID || p.Order != enum.SortDesc {
		t.Errorf("params: got %+v", p)
	}
}

func TestLoadMore_StopsAtLastPage(t *testing.T) {
	src := &mockSource{}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		table.LoadMore(ctx)
	}
	if ok, _ := table.LoadMore(ctx); ok {
		t.Error("load past last page should be a no-op")
	}
	if n := len(src.listCalls); n != 3 {
		t.Errorf("list calls: got %d, want 3", n)
	}
	s := table.Snapshot()
	if s.HasNext || len(s.Orders) != 45 {
		t.Errorf("snapshot: has_next=%v rows=%d", s.HasNext, len(s.Orders))
	}
}

func TestLoadMore_NoOpWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	src := &mockSource{
		listOrders: func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
			entered <- struct{}{}
			<-release
			return pageOf(p.Page, p.PerPage, 45), nil
		},
	}
	table := ordertable.New(src, 20, nil)

	done := make(chan struct{})
	go func() {
		table.LoadMore(context.Background())
		close(done)
	}()
	<-entered

	if ok, err := table.LoadMore(context.Background()); ok || err != nil {
		t.Errorf("concurrent load: ok=%v err=%v, want no-op", ok, err)
	}
	if !table.Snapshot().Loading {
		t.Error("loading: got false while fetch in flight")
	}
	close(release)
	<-done

	if n := len(src.listCalls); n != 1 {
		t.Errorf("list calls: got %d, want 1", n)
	}
}

func TestLoadMore_FailureLeavesListUntouched(t *testing.T) {
	fail := false
	src := &mockSource{
		listOrders: func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
			if fail {
				return nil, &apiclient.APIError{Op: "list_orders", Status: 500, Message: "boom"}
			}
			return pageOf(p.Page, p.PerPage, 45), nil
		},
	}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()
	table.LoadMore(ctx)
	before := ids(table.Snapshot().Orders)

	fail = true
	if _, err := table.LoadMore(ctx); err == nil {
		t.Fatal("expected error")
	}
	s := table.Snapshot()
	if len(s.Orders) != len(before) || s.Page != 1 || s.Err == "" {
		t.Errorf("snapshot after failure: rows=%d page=%d err=%q", len(s.Orders), s.Page, s.Err)
	}

	// Retry fetches page 2, not page 3.
	fail = false
	table.LoadMore(ctx)
	if got := src.listCalls[len(src.listCalls)-1].Page; got != 2 {
		t.Errorf("retry page: got %d, want 2", got)
	}
	if table.Snapshot().Err != "" {
		t.Error("error should clear after a successful load")
	}
}

// --- Refresh ---

func TestRefresh_ResetsToFirstPage(t *testing.T) {
	total := 45
	src := &mockSource{
		listOrders: func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
			return pageOf(p.Page, p.PerPage, total), nil
		},
	}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()
	table.LoadMore(ctx)
	table.LoadMore(ctx)

	total = 46 // a new order was created
	if err := table.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	s := table.Snapshot()
	if len(s.Orders) != 20 || s.Orders[0].SalesOrderID != 46 || s.Page != 1 || !s.HasNext {
		t.Errorf("snapshot: rows=%d first=%d page=%d", len(s.Orders), s.Orders[0].SalesOrderID, s.Page)
	}
}

func TestRefresh_DiscardsEarlierLoadMore(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	src := &mockSource{
		listOrders: func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
			if p.Page == 2 {
				entered <- struct{}{}
				<-release
			}
			return pageOf(p.Page, p.PerPage, 45), nil
		},
	}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()
	table.LoadMore(ctx)

	done := make(chan bool)
	go func() {
		ok, _ := table.LoadMore(ctx)
		done <- ok
	}()
	<-entered

	if err := table.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	close(release)
	if ok := <-done; ok {
		t.Error("stale load more reported success")
	}

	s := table.Snapshot()
	if len(s.Orders) != 20 || s.Page != 1 || s.Loading {
		t.Errorf("snapshot: rows=%d page=%d loading=%v", len(s.Orders), s.Page, s.Loading)
	}
}

func TestRefresh_FailureKeepsList(t *testing.T) {
	fail := false
	src := &mockSource{
		listOrders: func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
			if fail {
				return nil, errors.New("list_orders: connection refused")
			}
			return pageOf(p.Page, p.PerPage, 45), nil
		},
	}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()
	table.LoadMore(ctx)
	table.LoadMore(ctx)

	fail = true
	if err := table.Refresh(ctx); err == nil {
		t.Fatal("expected error")
	}
	s := table.Snapshot()
	if len(s.Orders) != 40 || s.Page != 2 || s.Loading {
		t.Errorf("snapshot: rows=%d page=%d loading=%v", len(s.Orders), s.Page, s.Loading)
	}
}

// --- Expansion cache ---

func TestToggle_FetchesOnce(t *testing.T) {
	src := &mockSource{}
	reg := metrics.NewRegistry()
	table := ordertable.New(src, 20, reg)
	ctx := context.Background()

	open, details, err := table.Toggle(ctx, 7)
	if err != nil || !open || len(details) != 1 {
		t.Fatalf("expand: open=%v details=%d err=%v", open, len(details), err)
	}
	if open, _, _ := table.Toggle(ctx, 7); open {
		t.Fatal("second toggle should collapse")
	}
	if open, details, _ := table.Toggle(ctx, 7); !open || len(details) != 1 {
		t.Fatal("third toggle should expand from cache")
	}
	if n := src.gets(); n != 1 {
		t.Errorf("get calls: got %d, want 1", n)
	}
	if got := testutil.ToFloat64(reg.TableCache.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.TableCache.WithLabelValues("miss")); got != 1 {
		t.Errorf("cache misses: got %v, want 1", got)
	}
}

func TestToggle_FailureDoesNotExpand(t *testing.T) {
	src := &mockSource{
		getOrder: func(ctx context.Context, id int64) (*model.OrderWithDetails, error) {
			return nil, &apiclient.APIError{Op: "get_order", Status: 404, Message: "not found"}
		},
	}
	table := ordertable.New(src, 20, nil)

	open, _, err := table.Toggle(context.Background(), 7)
	if !apiclient.IsNotFound(err) || open {
		t.Fatalf("toggle: open=%v err=%v", open, err)
	}
	if _, ok := table.Cached(7); ok {
		t.Error("failed fetch must not populate the cache")
	}
	if len(table.Snapshot().Expanded) != 0 {
		t.Error("row should stay collapsed")
	}
}

func TestToggle_InvalidateDuringFetchRefetches(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int
	var callsMu sync.Mutex
	src := &mockSource{
		getOrder: func(ctx context.Context, id int64) (*model.OrderWithDetails, error) {
			callsMu.Lock()
			calls++
			n := calls
			callsMu.Unlock()
			detailID := int64(70)
			if n == 1 {
				entered <- struct{}{}
				<-release
				detailID = 999 // pre-edit details
			}
			return &model.OrderWithDetails{
				OrderHeader:  model.OrderHeader{SalesOrderID: id},
				OrderDetails: []model.OrderDetail{{SalesOrderID: id, SalesOrderDetailID: detailID}},
			}, nil
		},
	}
	table := ordertable.New(src, 20, nil)

	type result struct {
		open    bool
		details []model.OrderDetail
		err     error
	}
	done := make(chan result)
	go func() {
		open, details, err := table.Toggle(context.Background(), 7)
		done <- result{open, details, err}
	}()
	<-entered

	table.Invalidate(7)
	close(release)
	res := <-done

	if res.err != nil || !res.open {
		t.Fatalf("toggle: open=%v err=%v", res.open, res.err)
	}
	if len(res.details) != 1 || res.details[0].SalesOrderDetailID != 70 {
		t.Errorf("details: got %+v, want the post-edit set", res.details)
	}
	cached, ok := table.Cached(7)
	if !ok || cached[0].SalesOrderDetailID != 70 {
		t.Errorf("cache: got %+v (ok=%v), stale details must not be cached", cached, ok)
	}
	if n := src.gets(); n != 2 {
		t.Errorf("get calls: got %d, want 2", n)
	}
}

func TestToggle_KeepsInvalidatingGivesUp(t *testing.T) {
	var table *ordertable.Table
	src := &mockSource{}
	src.getOrder = func(ctx context.Context, id int64) (*model.OrderWithDetails, error) {
		table.Invalidate(id)
		return &model.OrderWithDetails{OrderHeader: model.OrderHeader{SalesOrderID: id}}, nil
	}
	table = ordertable.New(src, 20, nil)

	open, _, err := table.Toggle(context.Background(), 7)
	if !errors.Is(err, ordertable.ErrDetailsChanged) || open {
		t.Fatalf("toggle: open=%v err=%v", open, err)
	}
	if _, ok := table.Cached(7); ok {
		t.Error("nothing should be cached")
	}
	if n := src.gets(); n != 3 {
		t.Errorf("get calls: got %d, want 3", n)
	}
}

func TestToggle_ConcurrentExpandFetchesOnce(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	src := &mockSource{}
	src.getOrder = func(ctx context.Context, id int64) (*model.OrderWithDetails, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return &model.OrderWithDetails{
			OrderHeader:  model.OrderHeader{SalesOrderID: id},
			OrderDetails: []model.OrderDetail{{SalesOrderID: id, SalesOrderDetailID: 70}},
		}, nil
	}
	table := ordertable.New(src, 20, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := table.Toggle(context.Background(), 7)
			errs <- err
		}()
	}
	<-entered
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("toggle: %v", err)
		}
	}
	if n := src.gets(); n != 1 {
		t.Errorf("get calls: got %d, want 1", n)
	}
}

func TestInvalidate_Idempotent(t *testing.T) {
	src := &mockSource{}
	table := ordertable.New(src, 20, nil)
	ctx := context.Background()
	table.Toggle(ctx, 7)

	table.Invalidate(7)
	once := table.Snapshot()
	_, cachedOnce := table.Cached(7)

	table.Invalidate(7)
	twice := table.Snapshot()
	_, cachedTwice := table.Cached(7)

	if cachedOnce || cachedTwice {
		t.Error("cache entry should be absent")
	}
	if len(once.Expanded) != len(twice.Expanded) || len(twice.Expanded) != 0 {
		t.Errorf("expanded: once=%v twice=%v", once.Expanded, twice.Expanded)
	}

	table.Toggle(ctx, 7)
	if n := src.gets(); n != 2 {
		t.Errorf("get calls after invalidate: got %d, want 2", n)
	}
}

// --- Events ---

func TestWatch_AppliesHubEvents(t *testing.T) {
	hub := events.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	src := &mockSource{}
	table := ordertable.New(src, 20, nil)
	table.Toggle(ctx, 7)
	done := table.Watch(ctx, hub)

	hub.Publish(events.Global, enum.EventOrderInvalidate, events.OrderPayload{OrderID: 7})
	hub.Publish(events.Global, enum.EventOrdersRefresh, struct{}{})

	deadline := time.Now().Add(time.Second)
	for {
		_, cached := table.Cached(7)
		if !cached && len(table.Snapshot().Orders) == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events not applied: cached=%v rows=%d", cached, len(table.Snapshot().Orders))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_SurvivesBurstDuringSlowRefresh(t *testing.T) {
	hub := events.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var once sync.Once
	src := &mockSource{
		listOrders: func(ctx context.Context, p apiclient.ListParams) (*model.OrderPage, error) {
			block := false
			once.Do(func() { block = true })
			if block {
				entered <- struct{}{}
				<-release
			}
			return pageOf(p.Page, p.PerPage, 45), nil
		},
	}
	table := ordertable.New(src, 20, nil)
	table.Toggle(ctx, 7)
	done := table.Watch(ctx, hub)

	hub.Publish(events.Global, enum.EventOrdersRefresh, struct{}{})
	<-entered
	for i := 0; i < 40; i++ {
		hub.Publish(events.Global, enum.EventOrdersRefresh, struct{}{})
	}
	hub.Publish(events.Global, enum.EventOrderInvalidate, events.OrderPayload{OrderID: 7})

	// Invalidations do not wait for the running refresh.
	waitFor(t, "order 7 invalidated", func() bool {
		_, cached := table.Cached(7)
		return !cached
	})

	close(release)
	waitFor(t, "follow-up refresh", func() bool { return src.lists() == 2 })
	waitFor(t, "refresh applied", func() bool {
		s := table.Snapshot()
		return len(s.Orders) == 20 && !s.Loading
	})
	time.Sleep(20 * time.Millisecond)
	if n := src.lists(); n != 2 {
		t.Errorf("list calls: got %d, want 2 (burst should coalesce)", n)
	}

	select {
	case <-done:
		t.Fatal("watch exited while ctx still live")
	default:
	}

	table.Toggle(ctx, 7)
	hub.Publish(events.Global, enum.EventOrderInvalidate, events.OrderPayload{OrderID: 7})
	waitFor(t, "later invalidate", func() bool {
		_, cached := table.Cached(7)
		return !cached
	})
}
