// Package httputil writes JSON responses and RFC 6749 error bodies.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "ticketd/pkg/domain-errors"
)

// ErrorBody is the OAuth 2.0 error envelope.
type ErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status. Token responses must not be cached
// (RFC 6749 §5.1) so every JSON response carries no-store.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into status + error body. Internal
// errors never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := ErrorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = message(err)
	}
	status := dErrors.ToHTTPStatus(code)
	if code == dErrors.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	WriteJSON(w, status, body)
}

func message(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
