package form

import (
	"github.com/google/uuid"
	"github.com/invoice-extractor/orderdesk/internal/model"
	"github.com/invoice-extractor/orderdesk/internal/search"
)

// ItemView is a line item with its lookup state.
type ItemView struct {
	model.LineItemDraft
	Search search.State[model.Product] `json:"search"`
}

// View is everything the page needs to render a draft.
type View struct {
	ID                    uuid.UUID                         `json:"id"`
	OrderID               *int64                            `json:"order_id,omitempty"`
	Header                model.HeaderFields                `json:"header"`
	Customer              *CustomerSelection                `json:"customer,omitempty"`
	CustomerSearch        search.State[model.CustomerMatch] `json:"customer_search"`
	Items                 []ItemView                        `json:"line_items"`
	ExtractedCustomerName *string                           `json:"extracted_customer_name,omitempty"`
	Submitting            bool                              `json:"submitting"`
	Closed                bool                              `json:"closed"`
}

func (f *Form) View() View {
	f.mu.Lock()
	v := View{
		ID:                    f.id,
		Header:                f.header,
		ExtractedCustomerName: f.extractedName,
		Submitting:            f.submitting,
		Closed:                f.closed,
		Items:                 make([]ItemView, len(f.slots)),
	}
	if f.orderID != nil {
		id := *f.orderID
		v.OrderID = &id
	}
	if f.customer != nil {
		c := *f.customer
		v.Customer = &c
	}
	boxes := make([]*search.Box[model.Product], len(f.slots))
	for i, s := range f.slots {
		v.Items[i].LineItemDraft = s.item
		boxes[i] = s.search
	}
	f.mu.Unlock()

	v.CustomerSearch = f.customerSearch.State()
	for i, b := range boxes {
		v.Items[i].Search = b.State()
	}
	return v
}
