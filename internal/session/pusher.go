package session

import (
	"log"

	"krtc/native/internal/domain"
	"krtc/native/internal/signal"
)

// Pusher publishes the local peer's media to a channel.
type Pusher struct {
	*session
}

func NewPusher(opts Options) *Pusher {
	return &Pusher{session: newSession("pusher", opts)}
}

// Start creates the offer and posts it without blocking. The outcome reaches
// the observer as OnPushSuccess or OnPushFailed.
func (p *Pusher) Start() {
	ep, err := signal.NewEndpoint(p.opts.Server, p.opts.Channel, domain.ActionPublish)
	if err != nil {
		log.Printf("[pusher] %v", err)
		p.opts.Observer.OnPushFailed(domain.FailureInvalidURL)
		return
	}

	offer, err := p.opts.Peer.CreateOffer()
	if err != nil {
		log.Printf("[pusher] create offer: %v", err)
		p.opts.Observer.OnPushFailed(domain.FailureCreateOffer)
		return
	}

	log.Printf("[pusher] publishing to %s", ep.StreamURL)
	p.opts.Signaler.Negotiate(ep, offer, p.onAnswer)
}

func (p *Pusher) onAnswer(answer string, err error) {
	f, ok := p.applyAnswer(answer, err)
	if !ok {
		return
	}
	if f != 0 {
		p.opts.Observer.OnPushFailed(f)
		return
	}
	log.Printf("[pusher] push started")
	p.opts.Observer.OnPushSuccess()
	p.startStats()
}
