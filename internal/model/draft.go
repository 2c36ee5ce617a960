package model

import "github.com/shopspring/decimal"

// LineItemDraft is an editable line item. Identity while editing is its
// position in the draft; ServerID is set only for items loaded from the
// back-end.
type LineItemDraft struct {
	ServerID        *int64          `json:"server_id,omitempty"`
	Product         *Product        `json:"product,omitempty"`
	ManualProductID *int64          `json:"manual_product_id,omitempty"`
	Quantity        int64           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Discount        decimal.Decimal `json:"discount"`
	LineTotal       decimal.Decimal `json:"line_total"`
	TrackingNumber  *string         `json:"tracking_number,omitempty"`
	SpecialOfferID  *int64          `json:"special_offer_id,omitempty"`
}

// ProductID resolves the selected product first, then the manually entered id.
func (d LineItemDraft) ProductID() (int64, bool) {
	if d.Product != nil && d.Product.ProductID != 0 {
		return d.Product.ProductID, true
	}
	if d.ManualProductID != nil && *d.ManualProductID != 0 {
		return *d.ManualProductID, true
	}
	return 0, false
}

// DetailFields is the full-replacement body for this item. orderID is only
// sent on create.
func (d LineItemDraft) DetailFields(orderID int64) DetailFields {
	productID, _ := d.ProductID()
	return DetailFields{
		SalesOrderID:          orderID,
		ProductID:             productID,
		CarrierTrackingNumber: d.TrackingNumber,
		OrderQty:              d.Quantity,
		UnitPrice:             d.UnitPrice,
		UnitPriceDiscount:     d.Discount,
		LineTotal:             d.LineTotal,
		SpecialOfferID:        d.SpecialOfferID,
	}
}

// ComputeLineTotal is qty × price × (1 − discount), rounded to cents.
func ComputeLineTotal(qty int64, price, discount decimal.Decimal) decimal.Decimal {
	return price.
		Mul(decimal.NewFromInt(qty)).
		Mul(decimal.NewFromInt(1).Sub(discount)).
		Round(2)
}

// LineItemFromDetail hydrates an edit draft item from a persisted detail.
func LineItemFromDetail(od OrderDetail) LineItemDraft {
	id := od.SalesOrderDetailID
	d := LineItemDraft{
		ServerID:       &id,
		Product:        od.Product,
		TrackingNumber: od.CarrierTrackingNumber,
		SpecialOfferID: od.SpecialOfferID,
		UnitPrice:      od.UnitPrice.Decimal,
		Discount:       od.UnitPriceDiscount.Decimal,
		LineTotal:      od.LineTotal.Decimal,
	}
	if od.OrderQty != nil {
		d.Quantity = *od.OrderQty
	}
	if d.Product == nil && od.ProductID != 0 {
		pid := od.ProductID
		d.ManualProductID = &pid
	}
	return d
}

// LineItemFromExtraction hydrates an upload draft item. A missing quantity
// defaults to 1 and a missing total is computed.
func LineItemFromExtraction(e ExtractedLineItem) LineItemDraft {
	d := LineItemDraft{
		ManualProductID: e.ProductID,
		Quantity:        1,
		UnitPrice:       e.UnitPrice.Decimal,
		Discount:        e.UnitPriceDiscount.Decimal,
	}
	if e.OrderQty != nil {
		d.Quantity = *e.OrderQty
	}
	if e.LineTotal.Valid {
		d.LineTotal = e.LineTotal.Decimal
	} else {
		d.LineTotal = ComputeLineTotal(d.Quantity, d.UnitPrice, d.Discount)
	}
	return d
}
