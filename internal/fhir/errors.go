package fhir

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrFetchFailed matches every *FetchError via errors.Is.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError is returned when a resource request fails in transport or
// comes back with a non-2xx status.
type FetchError struct {
	Action     string // e.g. "search patient", "fetch condition"
	StatusCode int    // zero for transport failures
	Status     string // status text without the code, e.g. "Not Found"
	Err        error  // underlying transport error, if any
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("failed to %s: %s", e.Action, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// statusText strips the numeric code from resp.Status ("404 Not Found" -> "Not Found").
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	if text == "" {
		text = "status " + strconv.Itoa(resp.StatusCode)
	}
	return text
}
