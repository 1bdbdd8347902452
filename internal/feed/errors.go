package feed

import (
	"fmt"
)

// NetworkError reports an unreachable host, a timeout or a non-2xx response
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports a payload that is not a valid GTFS-RT FeedMessage
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d bytes: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
