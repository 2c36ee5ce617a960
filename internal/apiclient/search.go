package apiclient

import (
	"context"
	"net/http"

	"github.com/invoice-extractor/orderdesk/internal/model"
)

func (c *Client) SearchCustomers(ctx context.Context, query string, limit int) ([]model.CustomerMatch, error) {
	var out []model.CustomerMatch
	if err := c.doJSON(ctx, "search_customers", http.MethodGet, CustomerSearchURL(c.baseURL, query, limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]model.Product, error) {
	var out []model.Product
	if err := c.doJSON(ctx, "search_products", http.MethodGet, ProductSearchURL(c.baseURL, query, limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
