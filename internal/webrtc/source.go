package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

const DefaultFPS = 25

var (
	ErrNotPublisher = errors.New("webrtc: peer has no local video track")

	annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}
)

// StreamH264 reads an Annex-B H264 elementary stream from r and writes one
// access unit per frame interval to the video track. It returns nil at EOF.
func (p *Peer) StreamH264(ctx context.Context, r io.Reader, fps int) error {
	if p.videoTrack == nil {
		return ErrNotPublisher
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	reader, err := h264reader.NewReader(r)
	if err != nil {
		return fmt.Errorf("open h264 stream: %w", err)
	}

	frame := time.Second / time.Duration(fps)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	var (
		unit   []byte
		frames int
	)
	for {
		nal, err := reader.NextNAL()
		if errors.Is(err, io.EOF) {
			log.Printf("[webrtc] h264 source finished after %d frames", frames)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read nal: %w", err)
		}

		unit = append(unit, annexBStartCode...)
		unit = append(unit, nal.Data...)
		if !isVCL(nal.UnitType) {
			// SPS, PPS and SEI travel with the next slice.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.videoTrack.WriteSample(media.Sample{Data: unit, Duration: frame}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		unit = nil
		frames++
	}
}

func isVCL(t h264reader.NalUnitType) bool {
	return t == h264reader.NalUnitTypeCodedSliceIdr || t == h264reader.NalUnitTypeCodedSliceNonIdr
}
