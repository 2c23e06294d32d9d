package httpmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds connection setup for each transfer.
const DefaultConnectTimeout = 5 * time.Second

const readChunk = 16 * 1024

// HTTPTransportConfig configures an HTTPTransport.
type HTTPTransportConfig struct {
	ConnectTimeout time.Duration
	// Client overrides the client built from ConnectTimeout.
	Client *http.Client
}

// HTTPTransport runs each transfer on net/http and reports completions to
// the loop that polls it.
type HTTPTransport struct {
	client *http.Client

	mu        sync.Mutex
	next      Handle
	transfers map[Handle]*transfer
	finished  []Completion
	completed []Completion

	ready chan struct{}
	wake  chan struct{}
}

type transfer struct {
	req     *http.Request
	timeout time.Duration
	sink    func([]byte)

	active bool
	over   bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHTTPTransport creates a transport with its own connection pool.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		connectTimeout := cfg.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = DefaultConnectTimeout
		}
		rt := http.DefaultTransport.(*http.Transport).Clone()
		rt.DialContext = (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		rt.TLSHandshakeTimeout = connectTimeout
		client = &http.Client{Transport: rt}
	}

	return &HTTPTransport{
		client:    client,
		transfers: make(map[Handle]*transfer),
		ready:     make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
	}
}

func (t *HTTPTransport) Open(req Request, sink func([]byte)) (Handle, error) {
	if !req.Method.Valid() {
		return 0, fmt.Errorf("%w: unsupported method %s", ErrParameter, req.Method)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParameter, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, fmt.Errorf("%w: unsupported scheme %q", ErrParameter, u.Scheme)
	}

	var body io.Reader
	if req.Method == MethodPost {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequest(req.Method.String(), req.URL, body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParameter, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.transfers[h] = &transfer{
		req:     httpReq,
		timeout: req.Timeout,
		sink:    sink,
	}
	return h, nil
}

func (t *HTTPTransport) Add(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.transfers[h]
	if !ok {
		return ErrUnknownHandle
	}
	if tr.active {
		return ErrDuplicateHandle
	}

	ctx, cancel := context.WithTimeout(context.Background(), tr.timeout)
	tr.active = true
	tr.cancel = cancel
	tr.done = make(chan struct{})
	go t.run(ctx, h, tr)
	return nil
}

func (t *HTTPTransport) run(ctx context.Context, h Handle, tr *transfer) {
	defer close(tr.done)

	resp, err := t.client.Do(tr.req.WithContext(ctx))
	if err != nil {
		t.complete(h, tr, classify(ctx, err), err.Error(), 0)
		return
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunk)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			tr.sink(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.complete(h, tr, classify(ctx, err), err.Error(), resp.StatusCode)
			return
		}
	}
	t.complete(h, tr, ErrnoOK, "", resp.StatusCode)
}

func (t *HTTPTransport) complete(h Handle, tr *transfer, errno Errno, msg string, status int) {
	t.mu.Lock()
	if cur, ok := t.transfers[h]; !ok || cur != tr || !tr.active {
		t.mu.Unlock()
		return
	}
	tr.over = true
	t.finished = append(t.finished, Completion{
		Handle:     h,
		Errno:      errno,
		Message:    msg,
		StatusCode: status,
	})
	t.mu.Unlock()

	select {
	case t.ready <- struct{}{}:
	default:
	}
}

func classify(ctx context.Context, err error) Errno {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrnoTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrnoCancelled
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if opErr.Timeout() {
			return ErrnoTimeout
		}
		return ErrnoConnect
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrnoConnect
	}
	return ErrnoTransport
}

func (t *HTTPTransport) Remove(h Handle) error {
	t.mu.Lock()
	tr, ok := t.transfers[h]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownHandle
	}
	if !tr.active {
		t.mu.Unlock()
		return nil
	}
	tr.active = false
	t.finished = dropHandle(t.finished, h)
	t.completed = dropHandle(t.completed, h)
	cancel, done := tr.cancel, tr.done
	t.mu.Unlock()

	cancel()
	<-done
	return nil
}

func dropHandle(cs []Completion, h Handle) []Completion {
	out := cs[:0]
	for _, c := range cs {
		if c.Handle != h {
			out = append(out, c)
		}
	}
	return out
}

func (t *HTTPTransport) Release(h Handle) {
	t.mu.Lock()
	tr, ok := t.transfers[h]
	delete(t.transfers, h)
	t.mu.Unlock()

	if ok && tr.active {
		tr.cancel()
		<-tr.done
	}
}

func (t *HTTPTransport) Wait(ctx context.Context, timeout time.Duration) {
	t.mu.Lock()
	ready := len(t.finished) > 0 || len(t.completed) > 0
	t.mu.Unlock()
	if ready {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.ready:
	case <-t.wake:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (t *HTTPTransport) Wakeup() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *HTTPTransport) Perform() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed = append(t.completed, t.finished...)
	t.finished = nil

	running := 0
	for _, tr := range t.transfers {
		if tr.active && !tr.over {
			running++
		}
	}
	return running
}

func (t *HTTPTransport) Completed() (Completion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.completed) == 0 {
		return Completion{}, false
	}
	c := t.completed[0]
	t.completed = t.completed[1:]
	return c, true
}
