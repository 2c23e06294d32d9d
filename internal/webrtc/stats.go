package webrtc

import (
	"time"

	"krtc/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

// Stats samples the connection's RTCP derived statistics.
func (p *Peer) Stats() domain.NetworkStats {
	return networkStats(p.pc.GetStats())
}

// networkStats folds a stats report into one summary. A push peer learns RTT
// and loss from remote-inbound reports; a pull peer counts loss locally.
func networkStats(report pion.StatsReport) domain.NetworkStats {
	var (
		out     domain.NetworkStats
		maxRTT  float64
		maxFrac float64
	)

	for _, s := range report {
		switch st := s.(type) {
		case pion.RemoteInboundRTPStreamStats:
			if st.RoundTripTime > maxRTT {
				maxRTT = st.RoundTripTime
			}
			if st.FractionLost > maxFrac {
				maxFrac = st.FractionLost
			}
			if st.PacketsLost > 0 {
				out.PacketsLost += uint64(st.PacketsLost)
			}
		case pion.InboundRTPStreamStats:
			if st.PacketsLost > 0 {
				out.PacketsLost += uint64(st.PacketsLost)
			}
			total := float64(st.PacketsReceived) + float64(max(st.PacketsLost, 0))
			if total > 0 {
				if frac := float64(max(st.PacketsLost, 0)) / total; frac > maxFrac {
					maxFrac = frac
				}
			}
		}
	}

	out.RTT = time.Duration(maxRTT * float64(time.Second))
	out.FractionLost = maxFrac
	return out
}
