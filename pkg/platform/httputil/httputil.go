// Package httputil holds the shared HTTP response helpers. Every handler
// writes errors through WriteError so the wire shape stays uniform.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "poscore/pkg/domain-errors"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// errorObserver, when set, receives the stable code of every error
// response written through WriteError. Wired once at startup, before
// any handler runs; not safe to swap afterwards.
var errorObserver func(code string)

// ObserveErrors installs fn as the error-code observer.
func ObserveErrors(fn func(code string)) {
	errorObserver = fn
}

// WriteError renders a domain error as JSON. Internal errors keep their
// message out of the response body; everything else returns the message
// as error_description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	if errorObserver != nil {
		errorObserver(string(code))
	}
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		var dErr *dErrors.DomainError
		if errors.As(err, &dErr) {
			body.ErrorDescription = dErr.Message
		}
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
