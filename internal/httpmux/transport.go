package httpmux

import (
	"context"
	"time"
)

// Handle identifies one transfer inside a Transport.
type Handle uint64

// Completion is reported by a Transport once for every added transfer that
// finished, successfully or not.
type Completion struct {
	Handle     Handle
	Errno      Errno
	Message    string
	StatusCode int
}

// Transport drives many transfers from a single loop. The Manager calls
// Wait, Perform and Completed from its loop goroutine only; Open, Add,
// Remove, Release and Wakeup may be called from any goroutine.
type Transport interface {
	// Open allocates a handle configured for req. Received body bytes are
	// passed to sink, which must not retain the slice.
	Open(req Request, sink func([]byte)) (Handle, error)
	// Add starts the transfer behind h.
	Add(h Handle) error
	// Remove takes h out of the active set, aborting it if still running.
	Remove(h Handle) error
	// Release frees h. It is called after Remove.
	Release(h Handle)

	// Wait blocks until a transfer completes, Wakeup is called, timeout
	// elapses or ctx is done.
	Wait(ctx context.Context, timeout time.Duration)
	Wakeup()
	// Perform advances the transport and returns the number of running transfers.
	Perform() int
	// Completed pops the next completion surfaced by Perform.
	Completed() (Completion, bool)
}
