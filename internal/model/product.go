package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry as returned by search and nested in details.
type Product struct {
	ProductID     int64               `json:"ProductID"`
	Name          *string             `json:"Name"`
	ProductNumber *string             `json:"ProductNumber"`
	Color         *string             `json:"Color"`
	Size          *string             `json:"Size"`
	ListPrice     decimal.NullDecimal `json:"ListPrice"`
}

// DisplayName is the label shown in the lookup box once a product is chosen.
func (p Product) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	if p.ProductNumber != nil && *p.ProductNumber != "" {
		return *p.ProductNumber
	}
	return "#" + strconv.FormatInt(p.ProductID, 10)
}
