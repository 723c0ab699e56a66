package ollama

import "fmt"

// UnreachableError reports a network-level failure reaching the completion
// endpoint (connection refused, timeout, DNS).
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("completion endpoint unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from the completion
// endpoint, carrying the raw body for diagnostics.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned HTTP %d: %s", e.Status, e.Body)
}

// EmptyReplyError reports a success status whose body yielded no reply text
// under either supported shape. This is distinct from a successful empty
// reply, which does not exist in this contract.
type EmptyReplyError struct {
	Raw string
}

func (e *EmptyReplyError) Error() string {
	return "completion endpoint returned no reply content"
}
