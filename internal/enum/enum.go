package enum

// ── Group A: Back-end contract (validated by the sales order API) ──

// The order list is always newest first.
const (
	SortDesc           = "desc"
	SortBySalesOrderID = "SalesOrderID"
)

// Accepted upload extensions (lower-case, no dot).
const (
	FileTypePDF  = "pdf"
	FileTypePNG  = "png"
	FileTypeJPG  = "jpg"
	FileTypeJPEG = "jpeg"
)

// ── Group B: Local discriminants ──

const (
	CustomerKindIndividual = "individual"
	CustomerKindStore      = "store"
)

const (
	SearchBoxCustomer = "customer"
	SearchBoxProduct  = "product"
)

// ── Group C: Event types pushed over the hub ──

const (
	EventOrdersRefresh   = "orders.refresh"
	EventOrderInvalidate = "order.invalidate"
	EventDraftUpdated    = "draft.updated"
	EventSearchResults   = "search.results"
	EventSubmitFailed    = "submit.failed"
)
