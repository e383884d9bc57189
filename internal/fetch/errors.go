package fetch

import "fmt"

// NetworkError represents connect failures, transfer failures and non-2xx
// responses.
type NetworkError struct {
	Operation  string // "request", "read" ...
	StatusCode int    // HTTP status code, 0 for transport-level failures
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
