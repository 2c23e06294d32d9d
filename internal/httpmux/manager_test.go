package httpmux

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T, tr Transport) *Manager {
	t.Helper()
	m := New(Config{Transport: tr, PollInterval: 20 * time.Millisecond})
	t.Cleanup(m.Close)
	return m
}

func waitReply(t *testing.T, ch <-chan Reply) Reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return Reply{}
	}
}

func expectNoReply(t *testing.T, ch <-chan Reply) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected reply: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPost_DeliversReplyToRegisteredOwner(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	owner := NewOwnerID()
	m.RegisterOwner(owner)

	replies := make(chan Reply, 2)
	m.Post(NewPostRequest("http://x/rtc/v1/publish/", `{"sdp":"offer"}`), func(r Reply) {
		replies <- r
	}, owner)

	h, err := ft.handleFor("http://x/rtc/v1/publish/")
	if err != nil {
		t.Fatal(err)
	}
	ft.finish(h, 200, `{"code":0,"sdp":"answer"}`)

	r := waitReply(t, replies)
	if r.StatusCode != 200 || r.Errno != ErrnoOK {
		t.Fatalf("expected 200/ok, got %d/%s", r.StatusCode, r.Errno)
	}
	if r.Body != `{"code":0,"sdp":"answer"}` {
		t.Errorf("unexpected body %q", r.Body)
	}
	if r.RequestBody != `{"sdp":"offer"}` || r.URL != "http://x/rtc/v1/publish/" || r.Owner != owner {
		t.Errorf("request fields not echoed: %+v", r)
	}
	if err := r.Err(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}

	expectNoReply(t, replies)
	if !ft.isReleased(h) {
		t.Error("expected handle to be released")
	}
	if m.Pending() != 0 {
		t.Errorf("expected empty pending table, got %d", m.Pending())
	}
}

func TestUnregisteredOwner_ReplyDropped(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	owner := NewOwnerID()
	m.RegisterOwner(owner)

	replies := make(chan Reply, 1)
	m.Get(NewGetRequest("http://x/a"), func(r Reply) { replies <- r }, owner)
	m.UnregisterOwner(owner)

	h, _ := ft.handleFor("http://x/a")
	ft.finish(h, 200, "late")

	expectNoReply(t, replies)
	if !ft.isReleased(h) {
		t.Error("expected handle to be released even when the reply is dropped")
	}
}

func TestNeverRegisteredOwner_ReplyDropped(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	replies := make(chan Reply, 1)
	m.Get(NewGetRequest("http://x/a"), func(r Reply) { replies <- r }, NewOwnerID())

	h, _ := ft.handleFor("http://x/a")
	ft.finish(h, 200, "")
	expectNoReply(t, replies)
}

func TestNoOwner_AlwaysDelivered(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	replies := make(chan Reply, 1)
	m.Get(NewGetRequest("http://x/a"), func(r Reply) { replies <- r }, NoOwner)

	h, _ := ft.handleFor("http://x/a")
	ft.finish(h, 204, "")
	if r := waitReply(t, replies); r.StatusCode != 204 {
		t.Errorf("expected 204, got %d", r.StatusCode)
	}
}

func TestSubmit_UnsupportedMethodDeliversParameterError(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)

	replies := make(chan Reply, 1)
	req := NewGetRequest("http://x/a")
	req.Method = Method(42)
	m.Submit(req, func(r Reply) { replies <- r })

	r := waitReply(t, replies)
	if r.Errno != ErrnoParameter {
		t.Fatalf("expected parameter errno, got %s", r.Errno)
	}
	if !errors.Is(r.Err(), ErrParameter) {
		t.Errorf("expected ErrParameter, got %v", r.Err())
	}
	if _, err := ft.handleFor("http://x/a"); err == nil {
		t.Error("no handle should be opened for an invalid method")
	}
}

func TestSubmit_OpenFailureDeliversReply(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = errors.New("no handles left")
	m := newTestManager(t, ft)

	replies := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) { replies <- r })

	r := waitReply(t, replies)
	if r.Errno != ErrnoTransport || r.ErrorMessage == "" {
		t.Errorf("expected transport errno with message, got %+v", r)
	}
}

func TestSubmit_AddFailureReleasesHandle(t *testing.T) {
	ft := newFakeTransport()
	ft.addErr = errors.New("multi set full")
	m := newTestManager(t, ft)
	m.Start()

	replies := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) { replies <- r })

	r := waitReply(t, replies)
	if r.Errno != ErrnoTransport {
		t.Errorf("expected transport errno, got %s", r.Errno)
	}
	h, _ := ft.handleFor("http://x/a")
	if !ft.isReleased(h) {
		t.Error("expected handle to be released")
	}
	if m.Pending() != 0 {
		t.Errorf("expected empty pending table, got %d", m.Pending())
	}
}

func TestDuplicateHandle_SecondRequestRejected(t *testing.T) {
	ft := newFakeTransport()
	ft.reuse = true
	m := newTestManager(t, ft)
	m.Start()

	first := make(chan Reply, 1)
	second := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/first"), func(r Reply) { first <- r })
	m.Submit(NewGetRequest("http://x/second"), func(r Reply) { second <- r })

	r := waitReply(t, second)
	if r.Errno != ErrnoTransport || r.URL != "http://x/second" {
		t.Errorf("expected transport failure for second request, got %+v", r)
	}

	ft.finish(1, 200, "")
	if r := waitReply(t, first); r.URL != "http://x/first" {
		t.Errorf("expected first request to complete, got %+v", r)
	}
}

func TestUnknownCompletion_Tolerated(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	ft.report(Completion{Handle: 999, StatusCode: 200})

	replies := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) { replies <- r })
	h, _ := ft.handleFor("http://x/a")
	ft.finish(h, 200, "")
	waitReply(t, replies)

	if m.State() != StateRunning {
		t.Errorf("expected loop to keep running, got %s", m.State())
	}
}

func TestDoubleCompletion_DeliveredOnce(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	var mu sync.Mutex
	calls := 0
	done := make(chan Reply, 2)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- r
	})

	h, _ := ft.handleFor("http://x/a")
	ft.finish(h, 200, "")
	ft.finish(h, 200, "")

	waitReply(t, done)
	expectNoReply(t, done)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly one callback, got %d", calls)
	}
}

func TestStop_CancelsPending(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	replies := make(chan Reply, 2)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) { replies <- r })
	m.Submit(NewGetRequest("http://x/b"), func(r Reply) { replies <- r })

	m.Stop()

	for i := 0; i < 2; i++ {
		r := waitReply(t, replies)
		if r.Errno != ErrnoCancelled || r.StatusCode != 0 {
			t.Errorf("expected cancelled reply, got %+v", r)
		}
		if !errors.Is(r.Err(), ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", r.Err())
		}
	}
	if m.Pending() != 0 {
		t.Errorf("expected empty pending table, got %d", m.Pending())
	}
}

func TestStop_Idempotent(t *testing.T) {
	m := newTestManager(t, newFakeTransport())

	m.Stop()
	if m.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", m.State())
	}

	m.Start()
	m.Start()
	if m.State() != StateRunning {
		t.Fatalf("expected running, got %s", m.State())
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked")
	}
	if m.State() != StateStopped {
		t.Errorf("expected stopped, got %s", m.State())
	}
}

func TestSubmitWhileStopped_ProcessedAfterStart(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)

	replies := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) { replies <- r })
	h, _ := ft.handleFor("http://x/a")
	ft.finish(h, 200, "body")

	expectNoReply(t, replies)

	m.Start()
	if r := waitReply(t, replies); r.Body != "body" {
		t.Errorf("expected body, got %q", r.Body)
	}
}

func TestClose_CancelsRequestsSubmittedWhileStopped(t *testing.T) {
	ft := newFakeTransport()
	m := New(Config{Transport: ft, PollInterval: 20 * time.Millisecond})

	replies := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/a"), func(r Reply) { replies <- r })
	m.Close()

	if r := waitReply(t, replies); r.Errno != ErrnoCancelled {
		t.Errorf("expected cancelled reply, got %+v", r)
	}
}

func TestSubmit_SnapshotsRequest(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)

	req := NewGetRequest("http://x/a").WithHeader("X-Trace", "1")
	req.Timeout = 0
	m.Submit(req, nil)
	req.Headers["X-Trace"] = "changed"

	h, _ := ft.handleFor("http://x/a")
	ft.mu.Lock()
	got := ft.requests[h]
	ft.mu.Unlock()
	if got.Headers["X-Trace"] != "1" {
		t.Errorf("submitted headers were mutated: %v", got.Headers)
	}
	if got.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", got.Timeout)
	}
}

func TestCallbackPanic_DoesNotStopDelivery(t *testing.T) {
	ft := newFakeTransport()
	m := newTestManager(t, ft)
	m.Start()

	m.Submit(NewGetRequest("http://x/a"), func(Reply) { panic("boom") })
	replies := make(chan Reply, 1)
	m.Submit(NewGetRequest("http://x/b"), func(r Reply) { replies <- r })

	a, _ := ft.handleFor("http://x/a")
	b, _ := ft.handleFor("http://x/b")
	ft.finish(a, 200, "")
	ft.finish(b, 200, "")

	if r := waitReply(t, replies); r.URL != "http://x/b" {
		t.Errorf("unexpected reply %+v", r)
	}
}
