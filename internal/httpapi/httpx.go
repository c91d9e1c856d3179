package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// NewRequestID mints a per-response correlation id, threaded through both
// the JSON envelope and the structured logs for a request.
func NewRequestID() string { return "req_" + uuid.NewString() }

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body into dst, rejecting unknown fields so a
// malformed request_transaction body fails fast instead of silently
// dropping a field the caller meant to set.
func ReadJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// WriteError writes the error envelope {requestId, error}, where error is
// the structured {code, field, reason, entities} entry. requestId is the
// x-request-id the request logger already set, when there is one.
func WriteError(w http.ResponseWriter, status int, verr ValidationError) {
	requestID := w.Header().Get("x-request-id")
	if requestID == "" {
		requestID = NewRequestID()
	}
	WriteJSON(w, status, map[string]interface{}{
		"requestId": requestID,
		"error":     verr,
	})
}
