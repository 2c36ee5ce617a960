package model

import "github.com/shopspring/decimal"

// ExtractedDocument is the POST /upload response.
//
// Example:
//
//	{
//	  "header": {"SalesOrderNumber": "SO-1001", "SubTotal": 20.0},
//	  "line_items": [{"ProductID": 7, "OrderQty": 2, "UnitPrice": 10.0, "LineTotal": 20.0}],
//	  "customer": {"CustomerID": 42, "TerritoryID": 3},
//	  "customer_detail": {"FirstName": "Isabella", "LastName": "Torres"}
//	}
type ExtractedDocument struct {
	Header                ExtractedHeader     `json:"header"`
	LineItems             []ExtractedLineItem `json:"line_items"`
	Customer              *Customer           `json:"customer"`
	CustomerDetail        *CustomerDetail     `json:"customer_detail"`
	ExtractedCustomerName *string             `json:"extracted_customer_name"`
}

// ExtractedHeader holds the header fields the extractor fills in.
type ExtractedHeader struct {
	SalesOrderNumber    *string             `json:"SalesOrderNumber"`
	OrderDate           *string             `json:"OrderDate"`
	DueDate             *string             `json:"DueDate"`
	PurchaseOrderNumber *string             `json:"PurchaseOrderNumber"`
	AccountNumber       *string             `json:"AccountNumber"`
	SubTotal            decimal.NullDecimal `json:"SubTotal"`
	TaxAmt              decimal.NullDecimal `json:"TaxAmt"`
	TotalDue            decimal.NullDecimal `json:"TotalDue"`
}

// Fields converts the extracted header into editable header fields.
func (h ExtractedHeader) Fields() HeaderFields {
	return HeaderFields{
		SalesOrderNumber:    h.SalesOrderNumber,
		OrderDate:           h.OrderDate,
		DueDate:             h.DueDate,
		PurchaseOrderNumber: h.PurchaseOrderNumber,
		AccountNumber:       h.AccountNumber,
		SubTotal:            nullToPtr(h.SubTotal),
		TaxAmt:              nullToPtr(h.TaxAmt),
		TotalDue:            nullToPtr(h.TotalDue),
	}
}

// ExtractedLineItem is one row of the extracted invoice table.
type ExtractedLineItem struct {
	ProductID          *int64              `json:"ProductID"`
	ProductDescription *string             `json:"ProductDescription"`
	OrderQty           *int64              `json:"OrderQty"`
	UnitPrice          decimal.NullDecimal `json:"UnitPrice"`
	UnitPriceDiscount  decimal.NullDecimal `json:"UnitPriceDiscount"`
	LineTotal          decimal.NullDecimal `json:"LineTotal"`
}
