package skydropx

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrCredentialsMissing is returned when the client-credentials pair is not
// configured. It is fatal: no retry or candidate advancement can recover it.
var ErrCredentialsMissing = eris.New("skydropx: credentials are not configured")

// AuthError reports a failed token request.
type AuthError struct {
	StatusCode int
	URL        string
	Body       any
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skydropx: auth failed at %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("skydropx: auth failed (%d) at %s: %s", e.StatusCode, e.URL, compactJSON(e.Body))
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError reports a non-2xx carrier response after authentication. It
// carries enough context for diagnostics and for the orchestrator's
// retry-eligibility decision (400 advances to the next payload candidate).
type RequestError struct {
	StatusCode int
	URL        string
	Body       any
	Payload    any
	// Attempts is annotated by the orchestrator when every payload candidate
	// was rejected.
	Attempts int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("skydropx: request failed (%d) at %s: %s", e.StatusCode, e.URL, compactJSON(e.Body))
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
