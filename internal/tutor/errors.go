package tutor

import "fmt"

// InvalidRequestError reports caller-supplied data that fails validation.
// Never retried; mapped to a client error at the HTTP boundary.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}
