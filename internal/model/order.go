// Package model holds the wire types exchanged with the sales order back-end.
// Field names follow the back-end's JSON (PascalCase columns).
package model

import (
	"github.com/shopspring/decimal"
)

func init() {
	// The back-end stores amounts as floats and expects JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderHeader is a persisted sales order header.
type OrderHeader struct {
	SalesOrderID           int64               `json:"SalesOrderID"`
	RevisionNumber         *int64              `json:"RevisionNumber"`
	OrderDate              *string             `json:"OrderDate"`
	DueDate                *string             `json:"DueDate"`
	ShipDate               *string             `json:"ShipDate"`
	Status                 *int64              `json:"Status"`
	OnlineOrderFlag        *bool               `json:"OnlineOrderFlag"`
	SalesOrderNumber       *string             `json:"SalesOrderNumber"`
	PurchaseOrderNumber    *string             `json:"PurchaseOrderNumber"`
	AccountNumber          *string             `json:"AccountNumber"`
	CustomerID             int64               `json:"CustomerID"`
	SalesPersonID          *int64              `json:"SalesPersonID"`
	TerritoryID            int64               `json:"TerritoryID"`
	BillToAddressID        *int64              `json:"BillToAddressID"`
	ShipToAddressID        *int64              `json:"ShipToAddressID"`
	ShipMethodID           *int64              `json:"ShipMethodID"`
	CreditCardID           *int64              `json:"CreditCardID"`
	CreditCardApprovalCode *string             `json:"CreditCardApprovalCode"`
	CurrencyRateID         *int64              `json:"CurrencyRateID"`
	SubTotal               decimal.NullDecimal `json:"SubTotal"`
	TaxAmt                 decimal.NullDecimal `json:"TaxAmt"`
	Freight                decimal.NullDecimal `json:"Freight"`
	TotalDue               decimal.NullDecimal `json:"TotalDue"`
}

// HeaderFields is the editable part of a header. Nil fields are left out of
// the request body, so the same type serves create and partial update.
type HeaderFields struct {
	RevisionNumber         *int64           `json:"RevisionNumber,omitempty"`
	OrderDate              *string          `json:"OrderDate,omitempty"`
	DueDate                *string          `json:"DueDate,omitempty"`
	ShipDate               *string          `json:"ShipDate,omitempty"`
	Status                 *int64           `json:"Status,omitempty"`
	OnlineOrderFlag        *bool            `json:"OnlineOrderFlag,omitempty"`
	SalesOrderNumber       *string          `json:"SalesOrderNumber,omitempty"`
	PurchaseOrderNumber    *string          `json:"PurchaseOrderNumber,omitempty"`
	AccountNumber          *string          `json:"AccountNumber,omitempty"`
	CustomerID             *int64           `json:"CustomerID,omitempty"`
	SalesPersonID          *int64           `json:"SalesPersonID,omitempty"`
	TerritoryID            *int64           `json:"TerritoryID,omitempty"`
	BillToAddressID        *int64           `json:"BillToAddressID,omitempty"`
	ShipToAddressID        *int64           `json:"ShipToAddressID,omitempty"`
	ShipMethodID           *int64           `json:"ShipMethodID,omitempty"`
	CreditCardID           *int64           `json:"CreditCardID,omitempty"`
	CreditCardApprovalCode *string          `json:"CreditCardApprovalCode,omitempty"`
	CurrencyRateID         *int64           `json:"CurrencyRateID,omitempty"`
	SubTotal               *decimal.Decimal `json:"SubTotal,omitempty"`
	TaxAmt                 *decimal.Decimal `json:"TaxAmt,omitempty"`
	Freight                *decimal.Decimal `json:"Freight,omitempty"`
	TotalDue               *decimal.Decimal `json:"TotalDue,omitempty"`
}

// FieldsFromHeader copies the editable fields of a persisted header.
func FieldsFromHeader(h OrderHeader) HeaderFields {
	customerID := h.CustomerID
	territoryID := h.TerritoryID
	return HeaderFields{
		RevisionNumber:         h.RevisionNumber,
		OrderDate:              h.OrderDate,
		DueDate:                h.DueDate,
		ShipDate:               h.ShipDate,
		Status:                 h.Status,
		OnlineOrderFlag:        h.OnlineOrderFlag,
		SalesOrderNumber:       h.SalesOrderNumber,
		PurchaseOrderNumber:    h.PurchaseOrderNumber,
		AccountNumber:          h.AccountNumber,
		CustomerID:             &customerID,
		SalesPersonID:          h.SalesPersonID,
		TerritoryID:            &territoryID,
		BillToAddressID:        h.BillToAddressID,
		ShipToAddressID:        h.ShipToAddressID,
		ShipMethodID:           h.ShipMethodID,
		CreditCardID:           h.CreditCardID,
		CreditCardApprovalCode: h.CreditCardApprovalCode,
		CurrencyRateID:         h.CurrencyRateID,
		SubTotal:               nullToPtr(h.SubTotal),
		TaxAmt:                 nullToPtr(h.TaxAmt),
		Freight:                nullToPtr(h.Freight),
		TotalDue:               nullToPtr(h.TotalDue),
	}
}

// OrderDetail is a persisted line item.
type OrderDetail struct {
	SalesOrderID          int64               `json:"SalesOrderID"`
	SalesOrderDetailID    int64               `json:"SalesOrderDetailID"`
	CarrierTrackingNumber *string             `json:"CarrierTrackingNumber"`
	OrderQty              *int64              `json:"OrderQty"`
	ProductID             int64               `json:"ProductID"`
	SpecialOfferID        *int64              `json:"SpecialOfferID"`
	UnitPrice             decimal.NullDecimal `json:"UnitPrice"`
	UnitPriceDiscount     decimal.NullDecimal `json:"UnitPriceDiscount"`
	LineTotal             decimal.NullDecimal `json:"LineTotal"`
	Product               *Product            `json:"Product,omitempty"`
}

// DetailFields is the body of a detail create or full-replacement update.
type DetailFields struct {
	SalesOrderID          int64           `json:"SalesOrderID,omitempty"`
	ProductID             int64           `json:"ProductID"`
	CarrierTrackingNumber *string         `json:"CarrierTrackingNumber"`
	OrderQty              int64           `json:"OrderQty"`
	UnitPrice             decimal.Decimal `json:"UnitPrice"`
	UnitPriceDiscount     decimal.Decimal `json:"UnitPriceDiscount"`
	LineTotal             decimal.Decimal `json:"LineTotal"`
	SpecialOfferID        *int64          `json:"SpecialOfferID,omitempty"`
}

// OrderWithDetails is the GET /sales_orders/:id response.
type OrderWithDetails struct {
	OrderHeader
	OrderDetails []OrderDetail `json:"OrderDetails"`
}

// Pagination mirrors the back-end's pagination block.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// OrderPage is one page of GET /sales_orders.
type OrderPage struct {
	Data       []OrderHeader `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

func nullToPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
