package webrtc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
)

func newTestPeer(t *testing.T, role Role) *Peer {
	t.Helper()
	p, err := NewPeer(Config{Role: role, GatherTimeout: 2 * time.Second, VideoOut: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("new %s peer: %v", role, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func mediaDirections(t *testing.T, offer string) map[string]string {
	t.Helper()
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offer)); err != nil {
		t.Fatalf("offer does not parse: %v", err)
	}
	dirs := make(map[string]string)
	for _, md := range desc.MediaDescriptions {
		for _, dir := range []string{"sendonly", "recvonly", "sendrecv", "inactive"} {
			if _, ok := md.Attribute(dir); ok {
				dirs[md.MediaName.Media] = dir
			}
		}
	}
	return dirs
}

func TestNewPeer_PushOfferIsSendOnly(t *testing.T) {
	p := newTestPeer(t, RolePush)

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	dirs := mediaDirections(t, offer)
	if dirs["audio"] != "sendonly" || dirs["video"] != "sendonly" {
		t.Errorf("unexpected directions %v", dirs)
	}
}

func TestNewPeer_PullOfferIsRecvOnly(t *testing.T) {
	p := newTestPeer(t, RolePull)

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	dirs := mediaDirections(t, offer)
	if dirs["audio"] != "recvonly" || dirs["video"] != "recvonly" {
		t.Errorf("unexpected directions %v", dirs)
	}
}

func TestNewPeer_UnknownRole(t *testing.T) {
	if _, err := NewPeer(Config{Role: Role(9)}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSetRemoteDescription_Garbage(t *testing.T) {
	p := newTestPeer(t, RolePush)
	if _, err := p.CreateOffer(); err != nil {
		t.Fatal(err)
	}
	if err := p.SetRemoteDescription("not an sdp"); err == nil {
		t.Fatal("expected error for garbage answer")
	}
}

func TestStreamH264_PullPeerRefuses(t *testing.T) {
	p := newTestPeer(t, RolePull)
	err := p.StreamH264(context.Background(), bytes.NewReader(nil), 25)
	if !errors.Is(err, ErrNotPublisher) {
		t.Fatalf("expected ErrNotPublisher, got %v", err)
	}
}

func TestStreamH264_StopsOnContext(t *testing.T) {
	p := newTestPeer(t, RolePush)

	var stream []byte
	for i := 0; i < 50; i++ {
		stream = append(stream, 0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.StreamH264(ctx, bytes.NewReader(stream), 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNetworkStats(t *testing.T) {
	report := pion.StatsReport{
		"remote-audio": pion.RemoteInboundRTPStreamStats{RoundTripTime: 0.040, PacketsLost: 2, FractionLost: 0.01},
		"remote-video": pion.RemoteInboundRTPStreamStats{RoundTripTime: 0.125, PacketsLost: 5, FractionLost: 0.05},
		"inbound":      pion.InboundRTPStreamStats{PacketsReceived: 90, PacketsLost: 10},
		"transport":    pion.TransportStats{},
	}

	got := networkStats(report)
	if got.RTT != 125*time.Millisecond {
		t.Errorf("expected 125ms rtt, got %s", got.RTT)
	}
	if got.PacketsLost != 17 {
		t.Errorf("expected 17 lost, got %d", got.PacketsLost)
	}
	if got.FractionLost != 0.1 {
		t.Errorf("expected 0.1 fraction lost, got %v", got.FractionLost)
	}
}
