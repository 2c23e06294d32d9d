package httpmux

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a request whose Timeout is left at zero.
const DefaultTimeout = 10 * time.Second

// Method is the HTTP verb of a Request.
type Method int

const (
	MethodGet Method = iota
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Valid reports whether the transport knows how to issue m.
func (m Method) Valid() bool {
	return m == MethodGet || m == MethodPost
}

// Request describes one HTTP call. It is copied on submission, so mutating it
// afterwards has no effect on the transfer.
type Request struct {
	Method  Method
	URL     string
	Body    string
	Headers map[string]string
	Timeout time.Duration
	Owner   OwnerID
}

// NewGetRequest creates a GET request with the default timeout.
func NewGetRequest(url string) Request {
	return Request{Method: MethodGet, URL: url, Timeout: DefaultTimeout}
}

// NewPostRequest creates a POST request with the default timeout.
func NewPostRequest(url, body string) Request {
	return Request{Method: MethodPost, URL: url, Body: body, Timeout: DefaultTimeout}
}

// WithHeader returns a copy of r with the header set.
func (r Request) WithHeader(key, value string) Request {
	r = r.snapshot()
	r.Headers[key] = value
	return r
}

func (r Request) snapshot() Request {
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	r.Headers = headers
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	return r
}

// Reply is the outcome of one transfer. Exactly one Reply is produced per
// submitted Request.
type Reply struct {
	StatusCode   int
	Errno        Errno
	ErrorMessage string
	Body         string
	Duration     time.Duration

	URL         string
	RequestBody string
	Owner       OwnerID
}

// OK reports a completed transfer with a 2xx status.
func (r Reply) OK() bool {
	return r.Errno == ErrnoOK && r.StatusCode >= 200 && r.StatusCode < 300
}

// Err classifies the reply. Transport failures map to the Err* sentinels,
// a completed transfer with a non-2xx status maps to *StatusError.
func (r Reply) Err() error {
	if r.Errno != ErrnoOK {
		if r.ErrorMessage == "" {
			return r.Errno.Err()
		}
		return fmt.Errorf("%w: %s", r.Errno.Err(), r.ErrorMessage)
	}
	if !r.OK() {
		return &StatusError{StatusCode: r.StatusCode, Body: r.Body}
	}
	return nil
}

func failedReply(req Request, errno Errno, msg string) Reply {
	return Reply{
		Errno:        errno,
		ErrorMessage: msg,
		URL:          req.URL,
		RequestBody:  req.Body,
		Owner:        req.Owner,
	}
}
