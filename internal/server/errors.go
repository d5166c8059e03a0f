package server

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
)

// ErrorBody is the REST error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure to a REST client.
type ErrorDetail struct {
	Kind      domain.Kind `json:"kind"`
	Code      domain.Code `json:"code,omitempty"`
	Message   string      `json:"message"`
	Field     string      `json:"field,omitempty"`
	Retryable bool        `json:"retryable"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteFailure converts err to a REST error response. Internal failures
// carry an opaque message.
func WriteFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := domain.AsFailure(err)
	AddError(r.Context(), f)
	if f.Code != "" {
		AddLogField(r.Context(), "failure_code", string(f.Code))
	}
	WriteJSON(w, f.HTTPStatus(), ErrorBody{Error: ErrorDetail{
		Kind:      f.Kind,
		Code:      f.Code,
		Message:   f.PublicMessage(),
		Field:     f.Field,
		Retryable: f.Retryable,
	}})
}
