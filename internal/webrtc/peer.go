package webrtc

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	"github.com/pion/rtp/codecs"
	pion "github.com/pion/webrtc/v4"
)

const (
	streamID = "krtc"

	defaultGatherTimeout = 5 * time.Second
)

// Role selects the direction of a Peer.
type Role int

const (
	RolePush Role = iota
	RolePull
)

func (r Role) String() string {
	if r == RolePull {
		return "pull"
	}
	return "push"
}

// Config describes the peer to build.
type Config struct {
	Role          Role
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
	// VideoOut receives the H264 Annex-B stream of a pull peer.
	VideoOut io.Writer
	// GatherTimeout bounds how long CreateOffer waits for ICE candidates.
	GatherTimeout time.Duration
}

// Peer wraps a Pion PeerConnection set up for publishing or playing.
type Peer struct {
	pc            *pion.PeerConnection
	role          Role
	videoOut      io.Writer
	gatherTimeout time.Duration

	videoTrack *pion.TrackLocalStaticSample
	audioTrack *pion.TrackLocalStaticSample
}

// NewPeer creates a PeerConnection with H264/Opus and the RTCP feedback the
// role needs.
func NewPeer(cfg Config) (p *Peer, err error) {
	var pc *pion.PeerConnection
	defer func() {
		if err != nil && pc != nil {
			pc.Close()
		}
	}()
	defer err2.Handle(&err)

	if cfg.Role != RolePush && cfg.Role != RolePull {
		return nil, fmt.Errorf("unknown role %d", cfg.Role)
	}

	m := &pion.MediaEngine{}
	try.To(registerCodecs(m))

	i := &interceptor.Registry{}
	try.To(registerInterceptors(i, m, cfg.Role))

	se := pion.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	var servers []pion.ICEServer
	for _, u := range cfg.ICEServers {
		servers = append(servers, pion.ICEServer{URLs: []string{u}})
	}

	pc = try.To1(api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}))

	gather := cfg.GatherTimeout
	if gather <= 0 {
		gather = defaultGatherTimeout
	}
	p = &Peer{
		pc:            pc,
		role:          cfg.Role,
		videoOut:      cfg.VideoOut,
		gatherTimeout: gather,
	}

	if cfg.Role == RolePush {
		try.To(p.addLocalTracks())
	} else {
		try.To(p.addRecvTransceivers())
		p.pc.OnTrack(p.onTrack)
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Printf("[webrtc] ICE connection state: %s", state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Printf("[webrtc] peer connection state: %s", state.String())
	})

	return p, nil
}

func registerCodecs(m *pion.MediaEngine) error {
	h264 := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []pion.RTCPFeedback{
				{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "ccm", Parameter: "fir"},
			},
		},
		PayloadType: 106,
	}
	if err := m.RegisterCodec(h264, pion.RTPCodecTypeVideo); err != nil {
		return fmt.Errorf("register H264: %w", err)
	}

	opus := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opus, pion.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register Opus: %w", err)
	}
	return nil
}

func registerInterceptors(i *interceptor.Registry, m *pion.MediaEngine, role Role) error {
	if err := pion.ConfigureRTCPReports(i); err != nil {
		return fmt.Errorf("configure rtcp reports: %w", err)
	}

	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)

	if role == RolePush {
		responder, err := nack.NewResponderInterceptor()
		if err != nil {
			return fmt.Errorf("create nack responder: %w", err)
		}
		i.Add(responder)
		return nil
	}

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return fmt.Errorf("create interval pli: %w", err)
	}
	i.Add(pli)
	return nil
}

func (p *Peer) addLocalTracks() (err error) {
	defer err2.Handle(&err)

	p.videoTrack = try.To1(pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000}, "video", streamID))
	p.audioTrack = try.To1(pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", streamID))

	for _, track := range []*pion.TrackLocalStaticSample{p.audioTrack, p.videoTrack} {
		sender := try.To1(p.pc.AddTransceiverFromTrack(track, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionSendonly,
		})).Sender()
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads incoming RTCP so the interceptors see NACKs and reports.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) addRecvTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	_, err = p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	return nil
}

func (p *Peer) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()
	log.Printf("[webrtc] got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)

	if track.Kind() == pion.RTPCodecTypeVideo && p.videoOut != nil {
		go p.readVideoTrack(track)
		return
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (p *Peer) readVideoTrack(track *pion.TrackRemote) {
	log.Printf("[webrtc] reading H264 video track")

	depack := &codecs.H264Packet{}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("[webrtc] video track read error: %v", err)
			return
		}

		annexB, err := depack.Unmarshal(pkt.Payload)
		if err != nil {
			log.Printf("[webrtc] depacketize: %v", err)
			continue
		}
		if len(annexB) == 0 {
			continue
		}
		if _, err := p.videoOut.Write(annexB); err != nil {
			log.Printf("[webrtc] video write error: %v", err)
			return
		}
	}
}

// CreateOffer creates an SDP offer, sets it as the local description and
// waits for ICE gathering so the offer carries every candidate.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gathered := pion.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-time.After(p.gatherTimeout):
		log.Printf("[webrtc] ICE gathering not complete after %s, sending partial offer", p.gatherTimeout)
	}

	log.Printf("[webrtc] local SDP offer set (%s)", p.role)
	return p.pc.LocalDescription().SDP, nil
}

// SetRemoteDescription applies the signaling server's answer.
func (p *Peer) SetRemoteDescription(sdp string) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	log.Printf("[webrtc] remote SDP answer set")
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	if p.pc == nil {
		return nil
	}
	return p.pc.Close()
}
