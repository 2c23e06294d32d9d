package httpmux

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// OwnerID identifies the logical receiver of callbacks. It is a lookup key
// only; the Manager never holds a reference to the owner itself.
type OwnerID uuid.UUID

// NoOwner marks a request whose reply is delivered unconditionally.
var NoOwner OwnerID

// NewOwnerID returns a fresh random owner token.
func NewOwnerID() OwnerID {
	return OwnerID(uuid.New())
}

func (o OwnerID) String() string {
	return uuid.UUID(o).String()
}

// registry is the set of owners whose callbacks may still run.
type registry struct {
	mu    sync.Mutex
	alive map[OwnerID]struct{}
}

func newRegistry() *registry {
	return &registry{alive: make(map[OwnerID]struct{})}
}

func (r *registry) add(o OwnerID) {
	r.mu.Lock()
	r.alive[o] = struct{}{}
	r.mu.Unlock()
}

func (r *registry) remove(o OwnerID) {
	r.mu.Lock()
	delete(r.alive, o)
	r.mu.Unlock()
}

func (r *registry) isAlive(o OwnerID) bool {
	if o == NoOwner {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.alive[o]
	return ok
}

// dispatcher runs callbacks one at a time, in posting order, on its own
// goroutine. Posting never blocks.
type dispatcher struct {
	registry *registry
	log      logging.LeveledLogger

	mu      sync.Mutex
	queue   []func()
	closing bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(reg *registry, log logging.LeveledLogger) *dispatcher {
	d := &dispatcher{
		registry: reg,
		log:      log,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) dispatch(reply Reply, cb func(Reply), owner OwnerID) {
	d.post(func() {
		if !d.registry.isAlive(owner) {
			d.log.Debugf("dropping reply for %s: owner %s is gone", reply.URL, owner)
			return
		}
		cb(reply)
	})
}

func (d *dispatcher) post(job func()) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed, dropping job")
		return
	}
	d.queue = append(d.queue, job)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		jobs := d.queue
		d.queue = nil
		closing := d.closing
		d.mu.Unlock()

		for _, job := range jobs {
			d.invoke(job)
		}
		if len(jobs) > 0 {
			continue
		}
		if closing {
			return
		}
		<-d.wake
	}
}

func (d *dispatcher) invoke(job func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("callback panicked: %v", r)
		}
	}()
	job()
}

// close runs everything already posted, then stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closing = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
