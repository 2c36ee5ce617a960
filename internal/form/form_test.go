package form_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoice-extractor/orderdesk/internal/apiclient"
	"github.com/invoice-extractor/orderdesk/internal/apiclient/apitest"
	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/form"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/reconcile"
	"github.com/invoice-extractor/orderdesk/internal/search"
	"github.com/invoice-extractor/orderdesk/internal/search/searchtest"
	"github.com/shopspring/decimal"
)

// --- Mock Publisher ---

type published struct {
	Room uuid.UUID
	Type string
}

type recPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recPublisher) Publish(room uuid.UUID, eventType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Room: room, Type: eventType})
	return nil
}

func (p *recPublisher) types(room uuid.UUID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Room == room {
			out = append(out, e.Type)
		}
	}
	return out
}

// --- Test helpers ---

type fixture struct {
	be     *apitest.Backend
	api    *apiclient.Client
	clock  *searchtest.Clock
	events *recPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	be := apitest.New(t)
	return &fixture{
		be:     be,
		api:    apiclient.New(be.URL()),
		clock:  searchtest.NewClock(),
		events: &recPublisher{},
	}
}

func (fx *fixture) opts() form.Options {
	return form.Options{Clock: fx.clock, Events: fx.events, SearchLimit: 10}
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func routes(calls []apitest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Route
	}
	return out
}

func searchQueries(be *apitest.Backend) []string {
	var out []string
	for _, c := range be.CallsTo(apitest.RouteSearchProducts) {
		q, _ := url.ParseQuery(c.Query)
		out = append(out, q.Get("q"))
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- End-to-end scenarios ---

func TestUploadThenSubmit_CreatesHeaderThenDetail(t *testing.T) {
	fx := newFixture(t)
	fx.be.Extraction = &model.ExtractedDocument{
		Header: model.ExtractedHeader{SalesOrderNumber: strPtr("SO-1001")},
		LineItems: []model.ExtractedLineItem{{
			ProductID: int64Ptr(7),
			OrderQty:  int64Ptr(2),
			UnitPrice: decimal.NewNullDecimal(dec("10.0")),
			LineTotal: decimal.NewNullDecimal(dec("20.0")),
		}},
		Customer: &model.Customer{CustomerID: 42, TerritoryID: 3},
	}
	ctx := context.Background()

	doc, err := fx.api.Upload(ctx, "invoice.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f := form.NewFromExtraction(fx.api, doc, fx.opts())

	v := f.View()
	if len(v.Items) != 1 || v.Items[0].Quantity != 2 {
		t.Fatalf("items: got %+v", v.Items)
	}
	if v.Customer == nil || v.Customer.Customer.CustomerID != 42 {
		t.Fatalf("customer: got %+v", v.Customer)
	}
	if v.Header.SalesOrderNumber == nil || *v.Header.SalesOrderNumber != "SO-1001" {
		t.Errorf("header: got %+v", v.Header)
	}

	fx.be.ResetCalls()
	res, err := f.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := routes(fx.be.Calls())
	want := []string{apitest.RouteCreateOrder, apitest.RouteCreateDetail}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls: got %v, want %v", got, want)
	}
	if !res.Created || res.Inserts != 1 {
		t.Errorf("result: got %+v", res)
	}

	details := fx.be.Details(res.OrderID)
	if len(details) != 1 || details[0].ProductID != 7 || details[0].SalesOrderID != res.OrderID {
		t.Errorf("details: got %+v", details)
	}
	h, _ := fx.be.Order(res.OrderID)
	if h.CustomerID != 42 || h.TerritoryID != 3 {
		t.Errorf("header customer: got %d/%d", h.CustomerID, h.TerritoryID)
	}
	if !f.Closed() {
		t.Error("form should close after submit")
	}
	if types := fx.events.types(events.Global); len(types) != 1 || types[0] != enum.EventOrdersRefresh {
		t.Errorf("global events: got %v", types)
	}
}

func TestEditThenSubmit_DeleteUpdateCreate(t *testing.T) {
	fx := newFixture(t)
	fx.be.SeedOrder(
		model.OrderHeader{SalesOrderID: 500, CustomerID: 42, TerritoryID: 3},
		model.OrderDetail{SalesOrderDetailID: 1, ProductID: 101, OrderQty: int64Ptr(1)},
		model.OrderDetail{SalesOrderDetailID: 2, ProductID: 102, OrderQty: int64Ptr(1)},
	)
	ctx := context.Background()

	order, err := fx.api.GetOrder(ctx, 500)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	f := form.NewFromOrder(fx.api, order, fx.opts())

	if err := f.RemoveItem(1); err != nil {
		t.Fatalf("remove B: %v", err)
	}
	if _, err := f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(303), Quantity: 4, UnitPrice: dec("2.5")}); err != nil {
		t.Fatalf("add C: %v", err)
	}

	fx.be.ResetCalls()
	res, err := f.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if n := len(fx.be.CallsTo(apitest.RouteUpdateOrder)); n != 1 {
		t.Errorf("header updates: got %d, want 1", n)
	}
	deletes := fx.be.CallsTo(apitest.RouteDeleteDetail)
	if len(deletes) != 1 || deletes[0].Path != "/sales_order_details/2" {
		t.Errorf("deletes: got %v", deletes)
	}
	// A did not change but is still sent as an update.
	updates := fx.be.CallsTo(apitest.RouteUpdateDetail)
	if len(updates) != 1 || updates[0].Path != "/sales_order_details/1" {
		t.Errorf("updates: got %v", updates)
	}
	if n := len(fx.be.CallsTo(apitest.RouteCreateDetail)); n != 1 {
		t.Errorf("creates: got %d, want 1", n)
	}
	if res.Deleted != 1 || res.Updated != 1 || res.Inserts != 1 || res.Created {
		t.Errorf("result: got %+v", res)
	}

	details := fx.be.Details(500)
	if len(details) != 2 || details[0].SalesOrderDetailID != 1 || details[1].ProductID != 303 {
		t.Errorf("details: got %+v", details)
	}
	if !details[1].LineTotal.Decimal.Equal(dec("10")) {
		t.Errorf("computed total: got %s", details[1].LineTotal.Decimal)
	}

	types := fx.events.types(events.Global)
	if len(types) != 2 || types[0] != enum.EventOrderInvalidate || types[1] != enum.EventOrdersRefresh {
		t.Errorf("global events: got %v", types)
	}
}

func TestProductSearches_IndependentPerItem(t *testing.T) {
	fx := newFixture(t)
	fx.be.Products = []model.Product{
		{ProductID: 1, Name: strPtr("fast bolt")},
		{ProductID: 2, Name: strPtr("slow nut")},
	}
	release := make(chan struct{})
	fx.be.Hook(apitest.RouteSearchProducts, func(r *http.Request) {
		if r.URL.Query().Get("q") == "slow" {
			<-release
		}
	})
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	f.AddItem(model.LineItemDraft{Quantity: 1})
	f.AddItem(model.LineItemDraft{Quantity: 1})

	f.SearchProduct(0, "fast")
	f.SearchProduct(1, "slow")

	done := make(chan struct{})
	go func() {
		fx.clock.Advance(search.DefaultDelay)
		close(done)
	}()

	waitFor(t, "index 1 loading", func() bool {
		v := f.View()
		return v.Items[0].Search.Open && v.Items[1].Search.Loading
	})
	v := f.View()
	if len(v.Items[0].Search.Results) != 1 || v.Items[0].Search.Results[0].ProductID != 1 {
		t.Errorf("index 0 results: got %+v", v.Items[0].Search.Results)
	}

	close(release)
	<-done

	v = f.View()
	if !v.Items[1].Search.Open || v.Items[1].Search.Results[0].ProductID != 2 {
		t.Errorf("index 1: got %+v", v.Items[1].Search)
	}
	if v.Items[0].Search.Results[0].ProductID != 1 || !v.Items[0].Search.Open {
		t.Errorf("index 0 changed: got %+v", v.Items[0].Search)
	}
}

// --- Line item lookups ---

func TestRemoveItem_ReindexesSearches(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	for i := 0; i < 3; i++ {
		f.AddItem(model.LineItemDraft{Quantity: 1})
	}
	f.SearchProduct(0, "zero")
	f.SearchProduct(1, "one")
	f.SearchProduct(2, "two")

	if err := f.RemoveItem(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	v := f.View()
	if len(v.Items) != 2 {
		t.Fatalf("items: got %d, want 2", len(v.Items))
	}
	if v.Items[0].Search.Query != "zero" || v.Items[1].Search.Query != "two" {
		t.Errorf("queries: got %q, %q", v.Items[0].Search.Query, v.Items[1].Search.Query)
	}

	fx.clock.Advance(search.DefaultDelay)
	got := searchQueries(fx.be)
	if len(got) != 2 {
		t.Fatalf("searches: got %v, want zero and two", got)
	}
	for _, q := range got {
		if q == "one" {
			t.Fatal("removed item's search was issued")
		}
	}

	// Results for the shifted box are published under its new index.
	for _, e := range fx.events.types(f.ID()) {
		if e != enum.EventSearchResults {
			t.Errorf("unexpected draft event %q", e)
		}
	}
}

func TestSelectProductResult_FillsListPriceAndTotal(t *testing.T) {
	fx := newFixture(t)
	fx.be.Products = []model.Product{
		{ProductID: 776, Name: strPtr("Mountain-100 Black, 42"), ListPrice: decimal.NewNullDecimal(dec("2024.994"))},
	}
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	i, _ := f.AddItem(model.LineItemDraft{Quantity: 2, Discount: dec("0.5")})

	f.SearchProduct(i, "mountain")
	fx.clock.Advance(search.DefaultDelay)

	item, err := f.SelectProductResult(i, 776)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if pid, ok := item.ProductID(); !ok || pid != 776 {
		t.Errorf("product id: got %d", pid)
	}
	if !item.UnitPrice.Equal(dec("2024.994")) {
		t.Errorf("unit price: got %s", item.UnitPrice)
	}
	if !item.LineTotal.Equal(dec("2024.99")) {
		t.Errorf("line total: got %s", item.LineTotal)
	}
	st := f.View().Items[i].Search
	if st.Open || st.Query != "Mountain-100 Black, 42" || len(st.Results) != 0 {
		t.Errorf("search state: got %+v", st)
	}

	if _, err := f.SelectProductResult(i, 999); !errors.Is(err, form.ErrNotInResults) {
		t.Errorf("unknown product: got %v", err)
	}
}

func TestSelectProduct_KeepsExistingPrice(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	i, _ := f.AddItem(model.LineItemDraft{Quantity: 3, UnitPrice: dec("5")})

	item, err := f.SelectProduct(i, model.Product{ProductID: 9, ListPrice: decimal.NewNullDecimal(dec("99"))})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !item.UnitPrice.Equal(dec("5")) || !item.LineTotal.Equal(dec("15")) {
		t.Errorf("item: price=%s total=%s", item.UnitPrice, item.LineTotal)
	}
}

func TestUpdateItem_RecomputesTotalUnlessGiven(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	i, _ := f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(1), Quantity: 1, UnitPrice: dec("10")})

	qty := int64(3)
	item, err := f.UpdateItem(i, form.ItemEdit{Quantity: &qty})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !item.LineTotal.Equal(dec("30")) {
		t.Errorf("recomputed total: got %s", item.LineTotal)
	}

	total := dec("25")
	disc := dec("0.1")
	item, _ = f.UpdateItem(i, form.ItemEdit{Discount: &disc, LineTotal: &total})
	if !item.LineTotal.Equal(total) {
		t.Errorf("explicit total: got %s", item.LineTotal)
	}

	if _, err := f.UpdateItem(5, form.ItemEdit{}); !errors.Is(err, form.ErrNoSuchItem) {
		t.Errorf("bad index: got %v", err)
	}
}

// --- Customer ---

func TestExtractedName_SeedsCustomerLookup(t *testing.T) {
	fx := newFixture(t)
	fx.be.Customers = []model.CustomerMatch{
		{Customer: model.Customer{CustomerID: 11000, TerritoryID: 9}, Detail: model.NewIndividualDetail(model.IndividualDetail{FirstName: "Jon", LastName: strPtr("Yang")})},
	}
	doc := &model.ExtractedDocument{ExtractedCustomerName: strPtr("Jon Yang")}
	f := form.NewFromExtraction(fx.api, doc, fx.opts())
	defer f.Close()

	if q := f.View().CustomerSearch.Query; q != "Jon Yang" {
		t.Fatalf("query: got %q", q)
	}
	fx.clock.Advance(search.DefaultDelay)

	if err := f.SelectCustomerResult(11000); err != nil {
		t.Fatalf("select: %v", err)
	}
	v := f.View()
	if v.Customer == nil || v.Customer.Customer.TerritoryID != 9 {
		t.Fatalf("customer: got %+v", v.Customer)
	}
	if v.CustomerSearch.Open || v.CustomerSearch.Query != "Jon Yang" {
		t.Errorf("customer search: got %+v", v.CustomerSearch)
	}
}

func TestClearCustomer(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	f.SetCustomer(form.CustomerSelection{Customer: model.Customer{CustomerID: 1}})

	if err := f.ClearCustomer(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if v := f.View(); v.Customer != nil || v.CustomerSearch.Query != "" {
		t.Errorf("view: got %+v", v)
	}
}

// --- Validation ---

func TestValidate_BlocksSubmitWithoutNetwork(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(5), Quantity: 1})
	f.AddItem(model.LineItemDraft{Quantity: 1})
	f.AddItem(model.LineItemDraft{Quantity: 1})

	_, err := f.Submit(context.Background())
	var verr *form.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err: got %v, want ValidationError", err)
	}
	if !verr.CustomerMissing || len(verr.MissingProduct) != 2 || verr.MissingProduct[0] != 1 || verr.MissingProduct[1] != 2 {
		t.Errorf("validation: got %+v", verr)
	}
	if !errors.Is(err, form.ErrCustomerRequired) || !errors.Is(err, form.ErrProductRequired) {
		t.Errorf("errors.Is: got %v", err)
	}
	if n := len(fx.be.Calls()); n != 0 {
		t.Errorf("network calls: got %d, want 0", n)
	}
	if f.Closed() {
		t.Error("form should stay open")
	}
}

func TestValidate_CustomerOnly(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	defer f.Close()
	f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(5), Quantity: 1})

	err := f.Validate()
	if !errors.Is(err, form.ErrCustomerRequired) || errors.Is(err, form.ErrProductRequired) {
		t.Errorf("err: got %v", err)
	}
	if err.Error() != "customer required" {
		t.Errorf("message: got %q", err.Error())
	}
}

// --- Submit ---

func TestSubmit_InFlightRejectsSecondSubmitAndEdits(t *testing.T) {
	fx := newFixture(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	fx.be.Hook(apitest.RouteCreateOrder, func(r *http.Request) {
		entered <- struct{}{}
		<-release
	})
	f := form.New(fx.api, fx.opts())
	f.SetCustomer(form.CustomerSelection{Customer: model.Customer{CustomerID: 1, TerritoryID: 1}})
	f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(5), Quantity: 1})

	errc := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		errc <- err
	}()
	<-entered

	if _, err := f.Submit(context.Background()); !errors.Is(err, form.ErrSubmitInFlight) {
		t.Errorf("second submit: got %v", err)
	}
	if _, err := f.AddItem(model.LineItemDraft{}); !errors.Is(err, form.ErrSubmitInFlight) {
		t.Errorf("edit during submit: got %v", err)
	}
	if !f.View().Submitting {
		t.Error("view should show submitting")
	}

	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.Submit(context.Background()); !errors.Is(err, form.ErrClosed) {
		t.Errorf("submit after close: got %v", err)
	}
	if n := len(fx.be.CallsTo(apitest.RouteCreateOrder)); n != 1 {
		t.Errorf("create calls: got %d, want 1", n)
	}
}

func TestSubmit_PartialFailureThenRetry(t *testing.T) {
	fx := newFixture(t)
	fx.be.Fail(apitest.RouteCreateDetail, http.StatusInternalServerError, 8)
	f := form.New(fx.api, fx.opts())
	f.SetCustomer(form.CustomerSelection{Customer: model.Customer{CustomerID: 1, TerritoryID: 1}})
	f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(7), Quantity: 1})
	f.AddItem(model.LineItemDraft{ManualProductID: int64Ptr(8), Quantity: 1})
	ctx := context.Background()

	_, err := f.Submit(ctx)
	if !errors.Is(err, reconcile.ErrCreateFailed) {
		t.Fatalf("err: got %v, want ErrCreateFailed", err)
	}
	if f.Closed() {
		t.Fatal("form should stay open after failure")
	}
	if types := fx.events.types(f.ID()); len(types) == 0 || types[len(types)-1] != enum.EventSubmitFailed {
		t.Errorf("draft events: got %v", types)
	}
	orderID, ok := f.OrderID()
	if !ok {
		t.Fatal("created header should be remembered")
	}
	if d := f.Draft(); d.Items[0].ServerID == nil || d.Items[1].ServerID != nil {
		t.Fatalf("server ids after failure: got %v / %v", d.Items[0].ServerID, d.Items[1].ServerID)
	}

	fx.be.ClearFailures()
	fx.be.ResetCalls()
	res, err := f.Submit(ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.OrderID != orderID {
		t.Errorf("order id: got %d, want %d", res.OrderID, orderID)
	}
	if !res.Created {
		t.Error("created: got false for an order this draft created")
	}
	for _, typ := range fx.events.types(events.Global) {
		if typ == enum.EventOrderInvalidate {
			t.Errorf("global events: got %v, want no %s", fx.events.types(events.Global), enum.EventOrderInvalidate)
			break
		}
	}
	got := routes(fx.be.Calls())
	want := []string{apitest.RouteUpdateOrder, apitest.RouteUpdateDetail, apitest.RouteCreateDetail}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("retry calls: got %v, want %v", got, want)
	}
	if n := len(fx.be.Details(orderID)); n != 2 {
		t.Errorf("details on server: got %d, want 2", n)
	}
}

func TestSubmit_HeaderFailureKeepsFormOpen(t *testing.T) {
	fx := newFixture(t)
	fx.be.SeedOrder(model.OrderHeader{SalesOrderID: 9, CustomerID: 1, TerritoryID: 1})
	fx.be.Fail(apitest.RouteUpdateOrder, http.StatusBadGateway)
	order, _ := fx.api.GetOrder(context.Background(), 9)
	f := form.NewFromOrder(fx.api, order, fx.opts())
	defer f.Close()

	_, err := f.Submit(context.Background())
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err: got %v", err)
	}
	if n := len(fx.be.CallsTo(apitest.RouteUpdateDetail)) + len(fx.be.CallsTo(apitest.RouteDeleteDetail)); n != 0 {
		t.Errorf("detail writes after header failure: got %d", n)
	}
	if f.Closed() || f.View().Submitting {
		t.Error("form should be open and idle")
	}
}

func TestSubmit_AccountNumberFromCustomer(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	f.SetCustomer(form.CustomerSelection{Customer: model.Customer{CustomerID: 3, TerritoryID: 4, AccountNumber: strPtr("AW00000003")}})

	res, err := f.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h, _ := fx.be.Order(res.OrderID)
	if h.AccountNumber == nil || *h.AccountNumber != "AW00000003" {
		t.Errorf("account number: got %v", h.AccountNumber)
	}
}

func TestClose_StopsLookups(t *testing.T) {
	fx := newFixture(t)
	f := form.New(fx.api, fx.opts())
	i, _ := f.AddItem(model.LineItemDraft{})
	f.SearchProduct(i, "bolt")
	f.SearchCustomer("ann")

	f.Close()
	fx.clock.Advance(time.Second)

	if n := len(fx.be.Calls()); n != 0 {
		t.Errorf("calls after close: got %d", n)
	}
	if err := f.SearchCustomer("x"); !errors.Is(err, form.ErrClosed) {
		t.Errorf("edit after close: got %v", err)
	}
}
