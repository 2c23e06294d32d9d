package httpmux

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// task owns one in-flight transfer and the body received so far.
type task struct {
	transport  Transport
	handle     Handle
	req        Request
	onComplete func(Reply)
	start      time.Time

	mu  sync.Mutex
	buf bytes.Buffer
}

func newTask(t Transport, req Request, onComplete func(Reply)) (*task, error) {
	if !req.Method.Valid() {
		return nil, &CreateError{URL: req.URL, Err: fmt.Errorf("%w: unsupported method %s", ErrParameter, req.Method)}
	}

	tk := &task{
		transport:  t,
		req:        req,
		onComplete: onComplete,
		start:      time.Now(),
	}
	h, err := t.Open(req, tk.accumulate)
	if err != nil {
		return nil, &CreateError{URL: req.URL, Err: err}
	}
	tk.handle = h
	return tk, nil
}

func (tk *task) accumulate(p []byte) {
	tk.mu.Lock()
	tk.buf.Write(p)
	tk.mu.Unlock()
}

// finish must be called exactly once.
func (tk *task) finish(errno Errno, msg string, statusCode int) Reply {
	tk.mu.Lock()
	body := tk.buf.String()
	tk.mu.Unlock()

	return Reply{
		StatusCode:   statusCode,
		Errno:        errno,
		ErrorMessage: msg,
		Body:         body,
		Duration:     time.Since(tk.start),
		URL:          tk.req.URL,
		RequestBody:  tk.req.Body,
		Owner:        tk.req.Owner,
	}
}

func (tk *task) release() {
	_ = tk.transport.Remove(tk.handle)
	tk.transport.Release(tk.handle)
}
