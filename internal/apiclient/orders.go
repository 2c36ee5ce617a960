package apiclient

import (
	"context"
	"net/http"

	"github.com/invoice-extractor/orderdesk/internal/model"
)

// ListOrders fetches one page of order headers.
func (c *Client) ListOrders(ctx context.Context, p ListParams) (*model.OrderPage, error) {
	var page model.OrderPage
	if err := c.doJSON(ctx, "list_orders", http.MethodGet, OrdersURL(c.baseURL, p), nil, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []model.OrderHeader{}
	}
	return &page, nil
}

// GetOrder fetches a header with its line items.
func (c *Client) GetOrder(ctx context.Context, id int64) (*model.OrderWithDetails, error) {
	var order model.OrderWithDetails
	if err := c.doJSON(ctx, "get_order", http.MethodGet, OrderURL(c.baseURL, id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder posts a new header. The back-end requires CustomerID and TerritoryID.
func (c *Client) CreateOrder(ctx context.Context, fields model.HeaderFields) (*model.OrderHeader, error) {
	var header model.OrderHeader
	if err := c.doJSON(ctx, "create_order", http.MethodPost, OrdersURL(c.baseURL, ListParams{}), fields, &header); err != nil {
		return nil, err
	}
	return &header, nil
}

// UpdateOrder sends the non-nil fields as a partial update.
func (c *Client) UpdateOrder(ctx context.Context, id int64, fields model.HeaderFields) (*model.OrderHeader, error) {
	var header model.OrderHeader
	if err := c.doJSON(ctx, "update_order", http.MethodPut, OrderURL(c.baseURL, id), fields, &header); err != nil {
		return nil, err
	}
	return &header, nil
}
