package domain

import "context"

// Peer is the media engine: it produces the local offer and consumes the
// remote answer.
type Peer interface {
	CreateOffer() (string, error)
	SetRemoteDescription(sdp string) error
	Stats() NetworkStats
	Close() error
}

// Signaler exchanges an SDP offer for an answer with the signaling server.
type Signaler interface {
	// Negotiate posts the offer and calls done with the answer SDP once the
	// reply arrives. done is never called after Close has returned.
	Negotiate(ep Endpoint, offer string, done func(answer string, err error))
	// Exchange is the blocking form of Negotiate.
	Exchange(ctx context.Context, ep Endpoint, offer string) (string, error)
	Close()
}

// Observer receives session level events.
type Observer interface {
	OnPushSuccess()
	OnPushFailed(f Failure)
	OnPullSuccess()
	OnPullFailed(f Failure)
	OnNetworkInfo(stats NetworkStats)
}
