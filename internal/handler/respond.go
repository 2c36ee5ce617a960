package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/invoice-extractor/orderdesk/internal/apiclient"
	"github.com/invoice-extractor/orderdesk/internal/form"
	"github.com/invoice-extractor/orderdesk/internal/ordertable"
	"github.com/invoice-extractor/orderdesk/internal/reconcile"
	"github.com/invoice-extractor/orderdesk/internal/service"
)

type validationResponse struct {
	Error           string `json:"error"`
	MissingCustomer bool   `json:"missing_customer"`
	MissingProducts []int  `json:"missing_products"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// writeError maps domain and back-end errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *form.ValidationError
	var apiErr *apiclient.APIError

	switch {
	case errors.As(err, &verr):
		missing := verr.MissingProduct
		if missing == nil {
			missing = []int{}
		}
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:           verr.Error(),
			MissingCustomer: verr.CustomerMissing,
			MissingProducts: missing,
		})
	case errors.Is(err, form.ErrSubmitInFlight), errors.Is(err, ordertable.ErrDetailsChanged):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, form.ErrClosed):
		writeJSON(w, http.StatusGone, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrDraftNotFound), errors.Is(err, form.ErrNoSuchItem):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, form.ErrNotInResults),
		errors.Is(err, apiclient.ErrNoFile),
		errors.Is(err, apiclient.ErrUnsupportedFileType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, apiclient.ErrFileTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
	case errors.Is(err, reconcile.ErrDeleteFailed),
		errors.Is(err, reconcile.ErrUpdateFailed),
		errors.Is(err, reconcile.ErrCreateFailed):
		log.Printf("ERROR: reconcile: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusNotFound {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": apiErr.Message})
			return
		}
		log.Printf("ERROR: upstream: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": apiErr.Message})
	default:
		log.Printf("ERROR: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
