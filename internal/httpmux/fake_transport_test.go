package httpmux

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeTransport completes transfers only when the test says so.
type fakeTransport struct {
	mu        sync.Mutex
	next      Handle
	requests  map[Handle]Request
	sinks     map[Handle]func([]byte)
	active    map[Handle]bool
	released  map[Handle]bool
	completed []Completion

	openErr  error
	addErr   error
	reuse    bool
	removals int

	wake chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		requests: make(map[Handle]Request),
		sinks:    make(map[Handle]func([]byte)),
		active:   make(map[Handle]bool),
		released: make(map[Handle]bool),
		wake:     make(chan struct{}, 1),
	}
}

func (f *fakeTransport) Open(req Request, sink func([]byte)) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return 0, f.openErr
	}
	if !f.reuse || f.next == 0 {
		f.next++
	}
	f.requests[f.next] = req
	f.sinks[f.next] = sink
	return f.next, nil
}

func (f *fakeTransport) Add(h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.addErr != nil {
		return f.addErr
	}
	if _, ok := f.requests[h]; !ok {
		return ErrUnknownHandle
	}
	f.active[h] = true
	return nil
}

func (f *fakeTransport) Remove(h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.requests[h]; !ok {
		return ErrUnknownHandle
	}
	f.removals++
	delete(f.active, h)
	return nil
}

func (f *fakeTransport) Release(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[h] = true
}

func (f *fakeTransport) Wait(ctx context.Context, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.wake:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (f *fakeTransport) Wakeup() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeTransport) Perform() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func (f *fakeTransport) Completed() (Completion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.completed) == 0 {
		return Completion{}, false
	}
	c := f.completed[0]
	f.completed = f.completed[1:]
	return c, true
}

// finish feeds body through the sink and reports the completion.
func (f *fakeTransport) finish(h Handle, status int, body string) {
	f.mu.Lock()
	sink := f.sinks[h]
	f.mu.Unlock()

	if sink != nil && body != "" {
		sink([]byte(body))
	}
	f.report(Completion{Handle: h, StatusCode: status})
}

func (f *fakeTransport) report(c Completion) {
	f.mu.Lock()
	f.completed = append(f.completed, c)
	f.mu.Unlock()
	f.Wakeup()
}

func (f *fakeTransport) handleFor(url string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for h, req := range f.requests {
		if req.URL == url {
			return h, nil
		}
	}
	return 0, errors.New("no transfer for " + url)
}

func (f *fakeTransport) isReleased(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[h]
}
