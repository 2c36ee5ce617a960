package form

import (
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/shopspring/decimal"
)

// ItemEdit changes some fields of a line item. Nil fields are left alone.
// When quantity, price or discount change without a LineTotal the total
// is recomputed.
type ItemEdit struct {
	ManualProductID *int64           `json:"manual_product_id,omitempty"`
	Quantity        *int64           `json:"quantity,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
	LineTotal       *decimal.Decimal `json:"line_total,omitempty"`
	TrackingNumber  *string          `json:"tracking_number,omitempty"`
}

func (e ItemEdit) apply(item *model.LineItemDraft) {
	if e.ManualProductID != nil {
		id := *e.ManualProductID
		item.ManualProductID = &id
		item.Product = nil
	}
	if e.TrackingNumber != nil {
		s := *e.TrackingNumber
		item.TrackingNumber = &s
	}

	repriced := false
	if e.Quantity != nil {
		item.Quantity = *e.Quantity
		repriced = true
	}
	if e.UnitPrice != nil {
		item.UnitPrice = *e.UnitPrice
		repriced = true
	}
	if e.Discount != nil {
		item.Discount = *e.Discount
		repriced = true
	}

	switch {
	case e.LineTotal != nil:
		item.LineTotal = *e.LineTotal
	case repriced:
		item.LineTotal = model.ComputeLineTotal(item.Quantity, item.UnitPrice, item.Discount)
	}
}

// SetHeader replaces the header fields.
func (f *Form) SetHeader(h model.HeaderFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editable(); err != nil {
		return err
	}
	f.header = h
	return nil
}

// SetCustomer attaches a customer and shows its name in the lookup.
func (f *Form) SetCustomer(c CustomerSelection) error {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.customer = &c
	f.mu.Unlock()

	f.customerSearch.Select(c.DisplayName())
	return nil
}

// SelectCustomerResult attaches a customer from the current lookup results.
func (f *Form) SelectCustomerResult(customerID int64) error {
	for _, m := range f.customerSearch.State().Results {
		if m.Customer.CustomerID == customerID {
			return f.SetCustomer(CustomerSelection{Customer: m.Customer, Detail: m.Detail})
		}
	}
	return ErrNotInResults
}

// ClearCustomer removes the customer and empties the lookup.
func (f *Form) ClearCustomer() error {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.customer = nil
	f.mu.Unlock()

	f.customerSearch.Select("")
	return nil
}

// SearchCustomer records a keystroke in the customer lookup.
func (f *Form) SearchCustomer(query string) error {
	f.mu.Lock()
	err := f.editable()
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.customerSearch.Type(query)
	return nil
}

// DismissCustomerSearch closes the customer result list.
func (f *Form) DismissCustomerSearch() {
	f.customerSearch.Dismiss()
}

// AddItem appends a line item and returns its index. A zero total is
// computed from the other fields.
func (f *Form) AddItem(item model.LineItemDraft) (int, error) {
	item.ServerID = nil
	if item.LineTotal.IsZero() {
		item.LineTotal = model.ComputeLineTotal(item.Quantity, item.UnitPrice, item.Discount)
	}
	s := f.newSlot(item)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editable(); err != nil {
		s.search.Stop()
		return 0, err
	}
	f.slots = append(f.slots, s)
	return len(f.slots) - 1, nil
}

// UpdateItem edits the item at index i. Its server identity never changes.
func (f *Form) UpdateItem(i int, edit ItemEdit) (model.LineItemDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editable(); err != nil {
		return model.LineItemDraft{}, err
	}
	s, err := f.slotAt(i)
	if err != nil {
		return model.LineItemDraft{}, err
	}
	edit.apply(&s.item)
	return s.item, nil
}

// RemoveItem drops the item at index i with its lookup. Later items and
// their lookups move down by one.
func (f *Form) RemoveItem(i int) error {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return err
	}
	s, err := f.slotAt(i)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.slots = append(f.slots[:i], f.slots[i+1:]...)
	f.mu.Unlock()

	s.search.Stop()
	return nil
}

// SearchProduct records a keystroke in the product lookup of item i.
func (f *Form) SearchProduct(i int, query string) error {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return err
	}
	s, err := f.slotAt(i)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	s.search.Type(query)
	return nil
}

// DismissProductSearch closes the result list of item i.
func (f *Form) DismissProductSearch(i int) error {
	f.mu.Lock()
	s, err := f.slotAt(i)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	s.search.Dismiss()
	return nil
}

// SelectProduct sets the product of item i. An empty unit price takes the
// list price, and the total is recomputed.
func (f *Form) SelectProduct(i int, p model.Product) (model.LineItemDraft, error) {
	f.mu.Lock()
	if err := f.editable(); err != nil {
		f.mu.Unlock()
		return model.LineItemDraft{}, err
	}
	s, err := f.slotAt(i)
	if err != nil {
		f.mu.Unlock()
		return model.LineItemDraft{}, err
	}
	s.item.Product = &p
	s.item.ManualProductID = nil
	if s.item.UnitPrice.IsZero() && p.ListPrice.Valid {
		s.item.UnitPrice = p.ListPrice.Decimal
	}
	if s.item.Quantity == 0 {
		s.item.Quantity = 1
	}
	s.item.LineTotal = model.ComputeLineTotal(s.item.Quantity, s.item.UnitPrice, s.item.Discount)
	item := s.item
	f.mu.Unlock()

	s.search.Select(p.DisplayName())
	return item, nil
}

// SelectProductResult selects a product from the current results of item i.
func (f *Form) SelectProductResult(i int, productID int64) (model.LineItemDraft, error) {
	f.mu.Lock()
	s, err := f.slotAt(i)
	f.mu.Unlock()
	if err != nil {
		return model.LineItemDraft{}, err
	}
	for _, p := range s.search.State().Results {
		if p.ProductID == productID {
			return f.SelectProduct(i, p)
		}
	}
	return model.LineItemDraft{}, ErrNotInResults
}

// Validate checks the draft without touching the network.
func (f *Form) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateLocked()
}

func (f *Form) validateLocked() error {
	verr := &ValidationError{CustomerMissing: f.customer == nil}
	for i, s := range f.slots {
		if _, ok := s.item.ProductID(); !ok {
			verr.MissingProduct = append(verr.MissingProduct, i)
		}
	}
	if verr.CustomerMissing || len(verr.MissingProduct) > 0 {
		return verr
	}
	return nil
}
