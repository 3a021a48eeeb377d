package identityprovider

import (
	"fmt"
)

// RequestError is returned when provider endpoint answered with unexpected response
// or could not be reached at all (Status is 0 then)
type RequestError struct {
	Op     string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s request to %s failed: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s request to %s failed: status %d: %s", e.Op, e.URL, e.Status, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Transport reports whether request failed before any response was received
func (e *RequestError) Transport() bool {
	return e.Status == 0
}
