package remote

import (
	"errors"
	"fmt"
)

// ErrFetchFailed matches every TransportError and RemoteError via errors.Is.
var ErrFetchFailed = errors.New("fetch failed")

// TransportError reports that the concrexit API could not be reached.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("concrexit %s: transport error: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrFetchFailed }

// RemoteError reports an unexpected status or a body that does not decode
// into valid records.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("concrexit %s: unexpected status code %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("concrexit %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrFetchFailed }
