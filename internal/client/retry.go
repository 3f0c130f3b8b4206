package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/weft-run/weft/internal/stringutil"
)

// httpError represents a non-2xx response from the server.
type httpError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *httpError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("server returned %s", e.Status)
}

// nonRetriableError wraps an error that should not be retried, such as
// a 4xx response.
type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// classifyResponse turns a non-2xx response into an error, marking 4xx
// responses (other than 429) as non-retriable.
func classifyResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	httpErr := &httpError{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       stringutil.TruncString(string(resp.Body()), 200),
	}
	if isRetriableStatus(resp.StatusCode()) {
		return httpErr
	}
	return &nonRetriableError{err: httpErr}
}

// isRetriableStatus reports whether a status code indicates a transient
// condition worth retrying.
func isRetriableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetriableError reports whether err is worth retrying. Network
// errors are retriable; errors marked non-retriable are not.
func isRetriableError(err error) bool {
	var nr *nonRetriableError
	return !errors.As(err, &nr)
}
