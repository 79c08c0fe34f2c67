package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/achievehub/apiserver/internal/records"
	"github.com/achievehub/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

const maxSyncBodyBytes = 16 << 20

// RecordHandler provides the per-collection list and sync endpoints.
type RecordHandler struct {
	records *services.RecordService
}

// NewRecordHandler constructs a handler with the provided service.
func NewRecordHandler(recordService *services.RecordService) *RecordHandler {
	return &RecordHandler{records: recordService}
}

// RecordRouter registers the collection routes on the given router.
func RecordRouter(r chi.Router, recordService *services.RecordService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewRecordHandler(recordService)

	r.Route("/{collection}", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.List)
		r.Post("/", handler.Sync)
	})
}

// List returns every record the caller owns in the collection.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	collection, ok := parseCollection(r)
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	recs, err := h.records.List(r.Context(), collection, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

// Sync replaces the caller's entire collection with the submitted list.
// The payload must be a JSON array of record objects; anything else is
// rejected before any mutation.
func (h *RecordHandler) Sync(w http.ResponseWriter, r *http.Request) {
	collection, ok := parseCollection(r)
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSyncBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Shape is checked on the raw bytes: `null` and other non-array
	// values decode into a record slice without an unmarshal error.
	if !jsonArray(body) {
		writeError(w, http.StatusBadRequest, "payload must be a list of records")
		return
	}

	var recs []records.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		writeError(w, http.StatusBadRequest, "payload must be a list of records")
		return
	}

	count, err := h.records.Sync(r.Context(), collection, user.ID, recs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sync records")
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{Status: "synced", Count: count})
}

// SyncResponse reports the outcome of a full-replace sync.
type SyncResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func parseCollection(r *http.Request) (records.Collection, bool) {
	return records.ByName(chi.URLParam(r, "collection"))
}

// jsonArray reports whether the top-level JSON value in body is an array.
func jsonArray(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
