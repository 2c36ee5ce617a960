package events

import "github.com/google/uuid"

// OrderPayload accompanies order.invalidate.
type OrderPayload struct {
	OrderID int64 `json:"order_id"`
}

// DraftPayload accompanies draft.updated.
type DraftPayload struct {
	DraftID uuid.UUID `json:"draft_id"`
	Draft   any       `json:"draft,omitempty"`
}

// SearchPayload accompanies search.results. Index is the line item for
// product lookups and -1 for the customer lookup.
type SearchPayload struct {
	DraftID uuid.UUID `json:"draft_id"`
	Box     string    `json:"box"`
	Index   int       `json:"index"`
	State   any       `json:"state"`
}

// SubmitFailedPayload accompanies submit.failed.
type SubmitFailedPayload struct {
	DraftID uuid.UUID `json:"draft_id"`
	Error   string    `json:"error"`
}
