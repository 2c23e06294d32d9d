package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"krtc/native/internal/domain"
	"krtc/native/internal/signal"

	"github.com/pion/sdp/v3"
)

var errEmptyAnswer = errors.New("answer carries no sdp")

// Options wires a session to its collaborators.
type Options struct {
	Peer     domain.Peer
	Signaler domain.Signaler
	Observer domain.Observer
	Server   string
	Channel  string
	// StatsInterval of 0 disables OnNetworkInfo reporting.
	StatsInterval time.Duration
}

// session holds what Pusher and Puller share: the answer handling, the
// stats loop and teardown.
type session struct {
	name string
	opts Options

	mu        sync.Mutex
	closed    bool
	stopStats chan struct{}
	statsDone chan struct{}
}

func newSession(name string, opts Options) *session {
	return &session{name: name, opts: opts}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// signalingFailure maps a signaling error onto the failure reported to the
// observer.
func signalingFailure(err error) domain.Failure {
	var rejected *signal.RejectedError
	switch {
	case errors.As(err, &rejected):
		return domain.FailureAnswerResponse
	case errors.Is(err, signal.ErrJSONParse):
		return domain.FailureParseAnswer
	default:
		return domain.FailureSendOffer
	}
}

func validateAnswer(answer string) error {
	if answer == "" {
		return errEmptyAnswer
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(answer)); err != nil {
		return fmt.Errorf("unmarshal answer: %w", err)
	}
	return nil
}

// applyAnswer turns a signaling result into either a remote description on
// the peer or a failure. ok is false when the session closed in between.
func (s *session) applyAnswer(answer string, err error) (f domain.Failure, ok bool) {
	if s.isClosed() {
		return 0, false
	}
	if err != nil {
		log.Printf("[%s] signaling failed: %v", s.name, err)
		return signalingFailure(err), true
	}
	if err := validateAnswer(answer); err != nil {
		log.Printf("[%s] bad answer: %v", s.name, err)
		return domain.FailureParseAnswer, true
	}
	if err := s.opts.Peer.SetRemoteDescription(answer); err != nil {
		log.Printf("[%s] set remote description: %v", s.name, err)
		return domain.FailureSetAnswer, true
	}
	return 0, true
}

func (s *session) startStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.opts.StatsInterval <= 0 || s.stopStats != nil {
		return
	}
	s.stopStats = make(chan struct{})
	s.statsDone = make(chan struct{})
	go s.reportStats(s.opts.StatsInterval, s.stopStats, s.statsDone)
}

func (s *session) reportStats(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.opts.Observer.OnNetworkInfo(s.opts.Peer.Stats())
		}
	}
}

// Close detaches from signaling, stops stats reporting and closes the peer.
// It is safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopStats, s.statsDone
	s.mu.Unlock()

	s.opts.Signaler.Close()
	if stop != nil {
		close(stop)
		<-done
	}
	log.Printf("[%s] closed", s.name)
	return s.opts.Peer.Close()
}
