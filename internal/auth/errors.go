package auth

import (
	"errors"
	"fmt"
)

// Lookup error codes. Only ErrCodeInvalidResponse is reported to the client.
const (
	ErrCodeInvalidResponse = "INVALID_RESPONSE"
	ErrCodeLookupFailed    = "LOOKUP_FAILED"
)

// ErrNoUser is reported when a lookup returns neither a user nor an error.
var ErrNoUser = errors.New("lookup returned no user")

// LookupError is a classified failure from a user lookup.
type LookupError struct {
	Code    string
	Message string
	Err     error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// InvalidResponse builds an error whose message is sent back to the client.
func InvalidResponse(message string, err error) *LookupError {
	return &LookupError{Code: ErrCodeInvalidResponse, Message: message, Err: err}
}

// LookupFailed builds an error that results in an empty 401.
func LookupFailed(message string, err error) *LookupError {
	return &LookupError{Code: ErrCodeLookupFailed, Message: message, Err: err}
}

// AsInvalidResponse returns the classified error when err is an INVALID_RESPONSE failure.
func AsInvalidResponse(err error) (*LookupError, bool) {
	var lerr *LookupError
	if errors.As(err, &lerr) && lerr.Code == ErrCodeInvalidResponse {
		return lerr, true
	}
	return nil, false
}
