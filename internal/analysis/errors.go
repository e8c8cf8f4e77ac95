package analysis

import "fmt"

// UploadError means the artifact never reached blob storage; no analysis
// request was sent.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// TransportError is a connection failure, timeout, or non-2xx response.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("analysis request failed: %v", e.Err)
	}
	return fmt.Sprintf("analysis request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable returns true for server errors and network errors.
// Nothing retries automatically; callers may resubmit.
func (e *TransportError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// DecodeError means the response body was empty or not a valid result.
type DecodeError struct {
	BodyLen int
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode analysis response (%d bytes): %v", e.BodyLen, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
