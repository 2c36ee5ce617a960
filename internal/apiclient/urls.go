package apiclient

import (
	"net/url"
	"strconv"
)

// ListParams selects one page of orders.
type ListParams struct {
	Page    int
	PerPage int
	SortBy  string
	Order   string
}

func OrdersURL(base string, p ListParams) string {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}
	if p.Order != "" {
		q.Set("order", p.Order)
	}
	if len(q) == 0 {
		return base + "/sales_orders"
	}
	return base + "/sales_orders?" + q.Encode()
}

func OrderURL(base string, id int64) string {
	return base + "/sales_orders/" + strconv.FormatInt(id, 10)
}

func DetailsURL(base string) string {
	return base + "/sales_order_details"
}

func DetailURL(base string, id int64) string {
	return base + "/sales_order_details/" + strconv.FormatInt(id, 10)
}

func CustomerSearchURL(base, query string, limit int) string {
	return base + "/customers/search?" + searchValues(query, limit).Encode()
}

func ProductSearchURL(base, query string, limit int) string {
	return base + "/products/search?" + searchValues(query, limit).Encode()
}

func UploadURL(base string) string {
	return base + "/upload"
}

func searchValues(query string, limit int) url.Values {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}
