package httpmux

import (
	"errors"
	"fmt"
)

// Errno is the transport-level outcome recorded in a Reply.
type Errno int

const (
	ErrnoOK Errno = iota
	ErrnoConnect
	ErrnoTransport
	ErrnoTimeout
	ErrnoParameter
	ErrnoCancelled
)

var (
	ErrConnect   = errors.New("httpmux: connect error")
	ErrTransport = errors.New("httpmux: transport error")
	ErrTimeout   = errors.New("httpmux: timeout")
	ErrParameter = errors.New("httpmux: parameter error")
	ErrCancelled = errors.New("httpmux: cancelled")

	ErrDuplicateHandle = errors.New("httpmux: duplicate handle")
	ErrUnknownHandle   = errors.New("httpmux: unknown handle")
)

// Err returns the sentinel for e, or nil for ErrnoOK.
func (e Errno) Err() error {
	switch e {
	case ErrnoOK:
		return nil
	case ErrnoConnect:
		return ErrConnect
	case ErrnoTimeout:
		return ErrTimeout
	case ErrnoParameter:
		return ErrParameter
	case ErrnoCancelled:
		return ErrCancelled
	default:
		return ErrTransport
	}
}

func (e Errno) String() string {
	switch e {
	case ErrnoOK:
		return "ok"
	case ErrnoConnect:
		return "connect"
	case ErrnoTransport:
		return "transport"
	case ErrnoTimeout:
		return "timeout"
	case ErrnoParameter:
		return "parameter"
	case ErrnoCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Errno(%d)", int(e))
	}
}

// StatusError is a completed transfer whose status was outside 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpmux: http status %d", e.StatusCode)
}

// CreateError reports a transfer that could not be set up.
type CreateError struct {
	URL string
	Err error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create transfer %s: %v", e.URL, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

func errnoOf(err error) Errno {
	switch {
	case err == nil:
		return ErrnoOK
	case errors.Is(err, ErrParameter):
		return ErrnoParameter
	case errors.Is(err, ErrCancelled):
		return ErrnoCancelled
	case errors.Is(err, ErrTimeout):
		return ErrnoTimeout
	case errors.Is(err, ErrConnect):
		return ErrnoConnect
	default:
		return ErrnoTransport
	}
}
