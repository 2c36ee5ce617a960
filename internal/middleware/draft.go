package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/invoice-extractor/orderdesk/internal/form"
)

type contextKey string

const draftKey contextKey = "draft"

// DraftLookup resolves an open draft by id.
// Satisfied by (*service.Workbench).Draft.
type DraftLookup func(id uuid.UUID) (*form.Form, error)

// RequireDraft resolves the {did} URL parameter to an open draft and stores
// it in the request context. Unknown drafts get a 404.
func RequireDraft(lookup DraftLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			didStr := chi.URLParam(r, "did")
			if didStr == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing draft ID"})
				return
			}

			did, err := uuid.Parse(didStr)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid draft ID"})
				return
			}

			f, err := lookup(did)
			if err != nil || f == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "draft not found"})
				return
			}
			if f.Closed() {
				writeJSON(w, http.StatusGone, map[string]string{"error": form.ErrClosed.Error()})
				return
			}

			ctx := context.WithValue(r.Context(), draftKey, f)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DraftFromContext returns the draft stored by RequireDraft, or nil.
func DraftFromContext(ctx context.Context) *form.Form {
	f, _ := ctx.Value(draftKey).(*form.Form)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
