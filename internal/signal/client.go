package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"krtc/native/internal/domain"
	"krtc/native/internal/httpmux"

	"github.com/pion/randutil"
)

const (
	defaultChannel = "livestream"
	tidLength      = 7
	tidRunes       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrInvalidURL = errors.New("signal: invalid server address")
	ErrJSONParse  = errors.New("signal: malformed answer")
	ErrClosed     = errors.New("signal: client closed")
)

// RejectedError is a well-formed answer whose code is not 0.
type RejectedError struct {
	Code int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("signal: offer rejected (code=%d)", e.Code)
}

// NewEndpoint derives the signaling API URL and stream URL for channel on the
// server at serverAddr (http[s]://host[:port]).
func NewEndpoint(serverAddr, channel string, action domain.Action) (domain.Endpoint, error) {
	u, err := url.Parse(serverAddr)
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return domain.Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidURL, serverAddr)
	}
	if channel == "" {
		channel = defaultChannel
	}

	base := strings.TrimRight(serverAddr, "/")
	return domain.Endpoint{
		API:       base + "/rtc/v1/" + string(action) + "/",
		StreamURL: "webrtc://" + u.Hostname() + "/live/" + channel,
	}, nil
}

// Client posts SDP offers through the multiplexer. Each client is its own
// callback owner: closing it drops any reply still in flight.
type Client struct {
	mux     *httpmux.Manager
	timeout time.Duration
	owner   httpmux.OwnerID

	mu     sync.Mutex
	closed bool
}

// NewClient registers a new owner with mux.
func NewClient(mux *httpmux.Manager, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = httpmux.DefaultTimeout
	}
	c := &Client{
		mux:     mux,
		timeout: timeout,
		owner:   httpmux.NewOwnerID(),
	}
	mux.RegisterOwner(c.owner)
	return c
}

// Close unregisters the client. No Negotiate callback starts afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.mux.UnregisterOwner(c.owner)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func generateTID() string {
	tid, err := randutil.GenerateCryptoRandomString(tidLength, tidRunes)
	if err != nil {
		tid = randutil.NewMathRandomGenerator().GenerateString(tidLength, tidRunes)
	}
	return tid
}

// NewRequest encodes the offer for ep as a signaling POST.
func (c *Client) NewRequest(ep domain.Endpoint, sdp string) (httpmux.Request, error) {
	body, err := json.Marshal(domain.Offer{
		API:       ep.API,
		StreamURL: ep.StreamURL,
		SDP:       sdp,
		TID:       generateTID(),
	})
	if err != nil {
		return httpmux.Request{}, fmt.Errorf("marshal offer: %w", err)
	}

	req := httpmux.NewPostRequest(ep.API, string(body)).
		WithHeader("Content-Type", "application/json")
	req.Timeout = c.timeout
	return req, nil
}

// Negotiate posts the offer asynchronously. done runs on the multiplexer's
// dispatcher goroutine and must not block.
func (c *Client) Negotiate(ep domain.Endpoint, sdp string, done func(answer string, err error)) {
	if c.isClosed() {
		done("", ErrClosed)
		return
	}
	req, err := c.NewRequest(ep, sdp)
	if err != nil {
		done("", err)
		return
	}

	log.Printf("[signal] >>> POST %s stream=%s", ep.API, ep.StreamURL)
	c.mux.Post(req, func(reply httpmux.Reply) {
		logReply(reply)
		answer, err := ParseAnswer(reply)
		done(answer.SDP, err)
	}, c.owner)
}

// Exchange posts the offer and waits for the answer.
func (c *Client) Exchange(ctx context.Context, ep domain.Endpoint, sdp string) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	req, err := c.NewRequest(ep, sdp)
	if err != nil {
		return "", err
	}

	log.Printf("[signal] >>> POST %s stream=%s", ep.API, ep.StreamURL)
	reply, err := c.mux.Call(req).Wait(ctx)
	if err != nil {
		return "", err
	}
	logReply(reply)
	answer, err := ParseAnswer(reply)
	return answer.SDP, err
}

func logReply(r httpmux.Reply) {
	log.Printf("[signal] <<< url=%s status=%d errno=%s err=%q took=%s body=%s",
		r.URL, r.StatusCode, r.Errno, r.ErrorMessage, r.Duration.Round(time.Millisecond), r.Body)
}

// ParseAnswer classifies a signaling reply. Transport failures come first,
// then non-200 status, then JSON decoding, then the answer code.
func ParseAnswer(reply httpmux.Reply) (domain.Answer, error) {
	if reply.Errno != httpmux.ErrnoOK {
		return domain.Answer{}, reply.Err()
	}
	if reply.StatusCode != http.StatusOK {
		return domain.Answer{}, &httpmux.StatusError{StatusCode: reply.StatusCode, Body: reply.Body}
	}

	var answer domain.Answer
	if err := json.Unmarshal([]byte(reply.Body), &answer); err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %v", ErrJSONParse, err)
	}
	if answer.Code != 0 {
		return answer, &RejectedError{Code: answer.Code}
	}
	return answer, nil
}
