package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Envelope wraps every JSON response.
type Envelope map[string]any

// APIError is the error body of a failed request.
type APIError struct {
	Code    string `json:"code"` // bad_request, not_found, conflict, unavailable, internal
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload := Envelope{"status": "ok", "data": body}
	if e, ok := body.(*APIError); ok {
		payload = Envelope{"status": "error", "error": e}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, &APIError{
		Code:    code,
		Message: message,
		TraceID: middleware.GetReqID(r.Context()),
	})
}
