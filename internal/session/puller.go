package session

import (
	"context"
	"log"

	"krtc/native/internal/domain"
	"krtc/native/internal/signal"
)

// Puller plays a channel into the local peer.
type Puller struct {
	*session
}

func NewPuller(opts Options) *Puller {
	return &Puller{session: newSession("puller", opts)}
}

// Start negotiates synchronously and reports OnPullSuccess or OnPullFailed
// before returning.
func (p *Puller) Start(ctx context.Context) {
	ep, err := signal.NewEndpoint(p.opts.Server, p.opts.Channel, domain.ActionPlay)
	if err != nil {
		log.Printf("[puller] %v", err)
		p.opts.Observer.OnPullFailed(domain.FailureInvalidURL)
		return
	}

	offer, err := p.opts.Peer.CreateOffer()
	if err != nil {
		log.Printf("[puller] create offer: %v", err)
		p.opts.Observer.OnPullFailed(domain.FailureCreateOffer)
		return
	}

	log.Printf("[puller] playing %s", ep.StreamURL)
	answer, err := p.opts.Signaler.Exchange(ctx, ep, offer)

	f, ok := p.applyAnswer(answer, err)
	if !ok {
		return
	}
	if f != 0 {
		p.opts.Observer.OnPullFailed(f)
		return
	}
	log.Printf("[puller] pull started")
	p.opts.Observer.OnPullSuccess()
	p.startStats()
}
