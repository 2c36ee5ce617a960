package model

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/invoice-extractor/orderdesk/internal/enum"
)

// ErrUnknownCustomerKind is returned when a detail payload names a kind we do not know.
var ErrUnknownCustomerKind = errors.New("unknown customer detail kind")

// Customer is the reference stored on an order.
type Customer struct {
	CustomerID    int64   `json:"CustomerID"`
	TerritoryID   int64   `json:"TerritoryID"`
	PersonID      *int64  `json:"PersonID"`
	StoreID       *int64  `json:"StoreID"`
	AccountNumber *string `json:"AccountNumber"`
}

// Address is shared by both customer detail variants.
type Address struct {
	AddressType       *string `json:"AddressType"`
	AddressLine1      *string `json:"AddressLine1"`
	AddressLine2      *string `json:"AddressLine2"`
	City              *string `json:"City"`
	StateProvinceName *string `json:"StateProvinceName"`
	PostalCode        *string `json:"PostalCode"`
	CountryRegionName *string `json:"CountryRegionName"`
}

// IndividualDetail describes a person customer.
type IndividualDetail struct {
	BusinessEntityID int64   `json:"BusinessEntityID"`
	FirstName        string  `json:"FirstName"`
	MiddleName       *string `json:"MiddleName"`
	LastName         *string `json:"LastName"`
	Address
}

// StoreDetail describes a store customer.
type StoreDetail struct {
	BusinessEntityID int64  `json:"BusinessEntityID"`
	Name             string `json:"Name"`
	Address
}

// CustomerDetail is a tagged union: exactly one of Individual or Store is
// set, matching Kind.
type CustomerDetail struct {
	Kind       string
	Individual *IndividualDetail
	Store      *StoreDetail
}

// NewIndividualDetail wraps an individual variant.
func NewIndividualDetail(d IndividualDetail) *CustomerDetail {
	return &CustomerDetail{Kind: enum.CustomerKindIndividual, Individual: &d}
}

// NewStoreDetail wraps a store variant.
func NewStoreDetail(d StoreDetail) *CustomerDetail {
	return &CustomerDetail{Kind: enum.CustomerKindStore, Store: &d}
}

// DisplayName is the human label of the customer.
func (c *CustomerDetail) DisplayName() string {
	if c == nil {
		return ""
	}
	switch c.Kind {
	case enum.CustomerKindIndividual:
		parts := []string{c.Individual.FirstName}
		if c.Individual.MiddleName != nil && *c.Individual.MiddleName != "" {
			parts = append(parts, *c.Individual.MiddleName)
		}
		if c.Individual.LastName != nil && *c.Individual.LastName != "" {
			parts = append(parts, *c.Individual.LastName)
		}
		return strings.Join(parts, " ")
	case enum.CustomerKindStore:
		return c.Store.Name
	}
	return ""
}

// UnmarshalJSON assigns the discriminant at decode time. The back-end does
// not send one, so an explicit "kind" wins and otherwise the presence of
// FirstName selects the individual variant.
func (c *CustomerDetail) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind      string           `json:"kind"`
		FirstName *json.RawMessage `json:"FirstName"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	kind := head.Kind
	if kind == "" {
		kind = enum.CustomerKindStore
		if head.FirstName != nil {
			kind = enum.CustomerKindIndividual
		}
	}

	switch kind {
	case enum.CustomerKindIndividual:
		var d IndividualDetail
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		*c = CustomerDetail{Kind: kind, Individual: &d}
	case enum.CustomerKindStore:
		var d StoreDetail
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		*c = CustomerDetail{Kind: kind, Store: &d}
	default:
		return ErrUnknownCustomerKind
	}
	return nil
}

// MarshalJSON flattens the active variant and adds the "kind" field.
func (c CustomerDetail) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case enum.CustomerKindIndividual:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*IndividualDetail
		}{c.Kind, c.Individual})
	case enum.CustomerKindStore:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*StoreDetail
		}{c.Kind, c.Store})
	}
	return nil, ErrUnknownCustomerKind
}

// CustomerMatch is one row of GET /customers/search.
type CustomerMatch struct {
	Customer Customer        `json:"customer"`
	Detail   *CustomerDetail `json:"customer_detail"`
}

// DisplayName falls back to the account number when there is no detail.
func (m CustomerMatch) DisplayName() string {
	if name := m.Detail.DisplayName(); name != "" {
		return name
	}
	if m.Customer.AccountNumber != nil {
		return *m.Customer.AccountNumber
	}
	return ""
}
