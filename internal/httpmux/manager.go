package httpmux

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultPollInterval bounds each readiness wait of the loop.
const DefaultPollInterval = time.Second

// State of the Manager's background loop.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config configures a Manager. Zero values select the defaults.
type Config struct {
	Transport     Transport
	PollInterval  time.Duration
	LoggerFactory logging.LoggerFactory
}

// Manager multiplexes HTTP transfers on one background loop and delivers
// every Reply on a single dispatcher goroutine, gated by owner liveness.
type Manager struct {
	transport    Transport
	pollInterval time.Duration
	log          logging.LeveledLogger

	pending    *pendingTable
	registry   *registry
	dispatcher *dispatcher

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Manager. Its dispatcher goroutine runs until Close.
func New(cfg Config) *Manager {
	factory := cfg.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(HTTPTransportConfig{})
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	log := factory.NewLogger("httpmux")
	reg := newRegistry()
	return &Manager{
		transport:    transport,
		pollInterval: poll,
		log:          log,
		pending:      newPendingTable(),
		registry:     reg,
		dispatcher:   newDispatcher(reg, log),
	}
}

// State returns the current loop state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the number of transfers still in flight.
func (m *Manager) Pending() int {
	return m.pending.len()
}

// Start launches the background loop. It is a no-op unless stopped.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateRunning
	go m.loop(ctx, m.done)
	m.log.Info("started")
}

// Stop ends the background loop and waits for it. Transfers still pending
// receive a Reply with ErrnoCancelled. Stop on a stopped or stopping
// Manager returns immediately.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	m.transport.Wakeup()
	<-done

	m.mu.Lock()
	m.state = StateStopped
	m.cancel = nil
	m.mu.Unlock()
	m.log.Info("stopped")
}

// Close stops the loop, cancels anything submitted while stopped and waits
// for every queued callback to run. It must not be called from a callback.
func (m *Manager) Close() {
	m.Stop()
	m.cancelPending()
	m.dispatcher.close()
}

// RegisterOwner allows callbacks for o to run.
func (m *Manager) RegisterOwner(o OwnerID) {
	m.registry.add(o)
}

// UnregisterOwner prevents any callback for o from starting once it returns.
func (m *Manager) UnregisterOwner(o OwnerID) {
	m.registry.remove(o)
}

// Get submits req as a GET on behalf of owner.
func (m *Manager) Get(req Request, cb func(Reply), owner OwnerID) {
	req.Method = MethodGet
	req.Owner = owner
	m.Submit(req, cb)
}

// Post submits req as a POST on behalf of owner.
func (m *Manager) Post(req Request, cb func(Reply), owner OwnerID) {
	req.Method = MethodPost
	req.Owner = owner
	m.Submit(req, cb)
}

// Submit queues req, owned by req.Owner. cb receives exactly one Reply on
// the dispatcher goroutine, unless the owner is unregistered first.
// Requests submitted while stopped are processed after the next Start.
func (m *Manager) Submit(req Request, cb func(Reply)) {
	req = req.snapshot()
	if cb == nil {
		cb = func(Reply) {}
	}

	tk, err := newTask(m.transport, req, cb)
	if err != nil {
		m.log.Warnf("%v", err)
		m.dispatcher.dispatch(failedReply(req, errnoOf(err), err.Error()), cb, req.Owner)
		return
	}

	if err := m.pending.insert(tk.handle, tk); err != nil {
		// The handle belongs to the task already in the table; leave it alone.
		m.log.Errorf("handle %d for %s: %v", tk.handle, req.URL, err)
		m.dispatcher.dispatch(failedReply(req, ErrnoTransport, err.Error()), cb, req.Owner)
		return
	}

	if err := m.transport.Add(tk.handle); err != nil {
		m.log.Warnf("add transfer %s: %v", req.URL, err)
		if tk, ok := m.pending.take(tk.handle); ok {
			m.deliver(tk, ErrnoTransport, err.Error(), 0)
		}
		return
	}
	m.log.Debugf("submitted %s %s as handle %d", req.Method, req.URL, tk.handle)
	m.transport.Wakeup()
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		m.transport.Wait(ctx, m.pollInterval)
		m.transport.Perform()
		m.collect()
	}

	m.transport.Perform()
	m.collect()
	m.cancelPending()
}

func (m *Manager) collect() {
	for {
		c, ok := m.transport.Completed()
		if !ok {
			return
		}
		tk, ok := m.pending.take(c.Handle)
		if !ok {
			m.log.Warnf("completion for unknown handle %d", c.Handle)
			continue
		}
		m.deliver(tk, c.Errno, c.Message, c.StatusCode)
	}
}

func (m *Manager) cancelPending() {
	for _, tk := range m.pending.drain() {
		m.log.Debugf("cancelling %s", tk.req.URL)
		m.deliver(tk, ErrnoCancelled, "request cancelled by shutdown", 0)
	}
}

func (m *Manager) deliver(tk *task, errno Errno, msg string, statusCode int) {
	reply := tk.finish(errno, msg, statusCode)
	m.dispatcher.dispatch(reply, tk.onComplete, tk.req.Owner)
	tk.release()
}
