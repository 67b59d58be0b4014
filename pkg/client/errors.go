package client

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	// KindTransport covers connection failures and timeouts.
	KindTransport ErrorKind = "transport"
	// KindStatusCode means the API answered with a non-2xx status.
	KindStatusCode ErrorKind = "status_code"
	// KindInvalidResponse means the body was not a valid match response.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindInvalidInput means the request could not be built from the arguments.
	KindInvalidInput ErrorKind = "invalid_input"
)

var (
	// ErrMissingAPIKey is returned by constructors when no key was supplied
	// and ADCORTEX_API_KEY is unset.
	ErrMissingAPIKey = errors.New("adcortex: ADCORTEX_API_KEY is not set and not provided")
	// ErrQueueFull is returned by AsyncChatClient.Add when the message was dropped.
	ErrQueueFull = errors.New("adcortex: request queue full, dropping message")
	// ErrClosed is returned when using a client after Close.
	ErrClosed = errors.New("adcortex: client closed")
	// ErrRateLimited is returned when the client-side throttle skipped a fetch.
	ErrRateLimited = errors.New("adcortex: fetch skipped by rate limit")
)

// Error describes a failed call to the match endpoint.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int // HTTP status for KindStatusCode
	Err     error
}

func (e *Error) Error() string {
	msg := "adcortex: " + string(e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &client.Error{Kind: client.KindTransport}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func invalidInput(msg string, err error) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg, Err: err}
}
