package domain

import (
	"fmt"
	"time"
)

// Action selects the signaling API a session talks to.
type Action string

const (
	ActionPublish Action = "publish"
	ActionPlay    Action = "play"
)

// Endpoint is where an offer goes and which stream it refers to.
type Endpoint struct {
	API       string
	StreamURL string
}

// Offer is the JSON body posted to the signaling API.
type Offer struct {
	API       string `json:"api"`
	StreamURL string `json:"streamurl"`
	SDP       string `json:"sdp"`
	TID       string `json:"tid"`
}

// Answer is the JSON body returned by the signaling API. Code 0 means the
// offer was accepted and SDP carries the answer.
type Answer struct {
	Code      int    `json:"code"`
	SDP       string `json:"sdp,omitempty"`
	Server    string `json:"server,omitempty"`
	SessionID string `json:"sessionid,omitempty"`
}

// NetworkStats is a snapshot of the RTCP-derived link quality.
type NetworkStats struct {
	RTT          time.Duration
	PacketsLost  uint64
	FractionLost float64
}

// Failure is the reason a push or pull did not come up.
type Failure int

const (
	FailureInvalidURL Failure = iota + 1
	FailureAddTrack
	FailureCreateOffer
	FailureSendOffer
	FailureParseAnswer
	FailureAnswerResponse
	FailureSetAnswer
)

func (f Failure) String() string {
	switch f {
	case FailureInvalidURL:
		return "invalid url"
	case FailureAddTrack:
		return "add track failed"
	case FailureCreateOffer:
		return "create offer failed"
	case FailureSendOffer:
		return "send offer failed"
	case FailureParseAnswer:
		return "parse answer failed"
	case FailureAnswerResponse:
		return "answer rejected"
	case FailureSetAnswer:
		return "set remote description failed"
	default:
		return fmt.Sprintf("Failure(%d)", int(f))
	}
}
