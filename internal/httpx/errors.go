package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const errorBodyLimit = 2048

// StatusError reports a non-success HTTP status together with a truncated
// body excerpt for diagnostics.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("unexpected HTTP status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// ErrorFromResponse consumes and closes resp.Body and returns a StatusError
// describing it.
func ErrorFromResponse(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	_ = resp.Body.Close()
	return &StatusError{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Body:       strings.TrimSpace(string(body)),
	}
}

// StatusOf extracts the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsStatus reports whether err carries one of the given status codes.
func IsStatus(err error, codes ...int) bool {
	status := StatusOf(err)
	for _, code := range codes {
		if status == code {
			return true
		}
	}
	return false
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
	_ = resp.Body.Close()
}
