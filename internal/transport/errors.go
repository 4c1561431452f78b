package transport

import (
	"fmt"
	"net/http"
)

// CodeTransport is the RemoteAPIError code used when no response could be
// obtained or decoded.
const CodeTransport = "transport_error"

// ConfigurationError reports that no usable authentication mode is configured.
// It is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "CRM client misconfigured: " + e.Reason
}

func (e *ConfigurationError) Status() (int, string) {
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// RemoteAPIError is a failed remote call: either an error reported by the
// CRM, an authentication failure that survived the single refresh, or a
// transport failure (Code is CodeTransport and Err holds the cause).
type RemoteAPIError struct {
	Method      string
	Code        string
	Description string
	StatusCode  int
	Err         error
}

func (e *RemoteAPIError) Error() string {
	msg := fmt.Sprintf("CRM call %s failed: %s", e.Method, e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// Status hides the remote detail from callers of the bridge; the remote
// response is logged instead.
func (e *RemoteAPIError) Status() (int, string) {
	return http.StatusBadGateway, "remote CRM request failed"
}
