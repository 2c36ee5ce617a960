package apiclient

import (
	"context"
	"net/http"

	"github.com/invoice-extractor/orderdesk/internal/model"
)

// CreateOrderDetail adds a line item. fields.SalesOrderID must be set.
func (c *Client) CreateOrderDetail(ctx context.Context, fields model.DetailFields) (*model.OrderDetail, error) {
	var detail model.OrderDetail
	if err := c.doJSON(ctx, "create_detail", http.MethodPost, DetailsURL(c.baseURL), fields, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpdateOrderDetail replaces the editable fields of a line item.
func (c *Client) UpdateOrderDetail(ctx context.Context, id int64, fields model.DetailFields) (*model.OrderDetail, error) {
	var detail model.OrderDetail
	if err := c.doJSON(ctx, "update_detail", http.MethodPut, DetailURL(c.baseURL, id), fields, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// DeleteOrderDetail removes a line item.
func (c *Client) DeleteOrderDetail(ctx context.Context, id int64) error {
	return c.doJSON(ctx, "delete_detail", http.MethodDelete, DetailURL(c.baseURL, id), nil, nil)
}
