// Package httpx renders the uniform response envelope used across every
// route: {success, data?, error?}. It replaces the ad hoc http.Error JSON
// string literals the teacher scattered across its handlers with one helper.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/AlfredDev/virtualize/apperrors"
)

type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Respond writes a successful envelope with the given status and data.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// RespondError writes an error envelope, mapping apperrors.Error kinds to
// their HTTP status; any other error is rendered as invariant-violation/500.
func RespondError(w http.ResponseWriter, err error) {
	kind := apperrors.KindInvariantViolation
	message := "internal error"
	var details map[string]any

	if ae, ok := apperrors.As(err); ok {
		kind = ae.Kind
		message = ae.Message
		details = ae.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &envelopeError{
			Code:    string(kind),
			Message: message,
			Details: details,
		},
	})
}
