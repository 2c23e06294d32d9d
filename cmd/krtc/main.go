package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"krtc/native/internal/config"
	"krtc/native/internal/domain"
	"krtc/native/internal/httpmux"
	"krtc/native/internal/session"
	sigclient "krtc/native/internal/signal"
	"krtc/native/internal/webrtc"

	"github.com/pion/logging"
)

const helpText = `krtc - Publish or play H264 over WebRTC with SRS-style HTTP signaling

Usage:
  krtc push   read an Annex-B H264 stream from stdin and publish it
  krtc pull   play the channel and write the H264 stream to stdout

Pipe from ffmpeg to publish, or to ffplay to watch.

Environment Variables:
  KRTC_SERVER           Signaling server, http[s]://host[:port] (required)
  KRTC_CHANNEL          Channel name (default: livestream)
  KRTC_REQUEST_TIMEOUT  Signaling request timeout (default: 10s)
  KRTC_CONNECT_TIMEOUT  TCP connect timeout (default: 5s)
  KRTC_POLL_INTERVAL    Transfer poll interval (default: 1s)
  KRTC_STATS_INTERVAL   Network stats interval, 0 disables (default: 5s)
  KRTC_ICE_SERVERS      Comma separated STUN/TURN URLs
  KRTC_FPS              Publish frame rate (default: 25)
  KRTC_LOG_LEVEL        trace, debug, info, warn, error or disabled (default: info)

Examples:
  # Publish a camera
  ffmpeg -i /dev/video0 -c:v libx264 -bsf:v h264_mp4toannexb -f h264 - | krtc push

  # Live playback
  krtc pull | ffplay -f h264 -

Options:
  -h, --help  Show this help message
`

// logObserver logs session events and ends the run on failure.
type logObserver struct {
	cancel context.CancelFunc
	ready  chan struct{}
}

func (o *logObserver) OnPushSuccess() {
	log.Printf("[main] push started")
	close(o.ready)
}

func (o *logObserver) OnPushFailed(f domain.Failure) {
	log.Printf("[main] push failed: %s", f)
	o.cancel()
}

func (o *logObserver) OnPullSuccess() {
	log.Printf("[main] pull started")
	close(o.ready)
}

func (o *logObserver) OnPullFailed(f domain.Failure) {
	log.Printf("[main] pull failed: %s", f)
	o.cancel()
}

func (o *logObserver) OnNetworkInfo(s domain.NetworkStats) {
	log.Printf("[main] network: rtt=%s lost=%d fraction=%.3f", s.RTT, s.PacketsLost, s.FractionLost)
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}
	mode := os.Args[1]
	if mode != "push" && mode != "pull" {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", mode, helpText)
		os.Exit(2)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	loggers := cfg.LoggerFactory()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	mux := httpmux.New(httpmux.Config{
		Transport:     httpmux.NewHTTPTransport(httpmux.HTTPTransportConfig{ConnectTimeout: cfg.ConnectTimeout}),
		PollInterval:  cfg.PollInterval,
		LoggerFactory: loggers,
	})
	mux.Start()
	defer mux.Close()

	obs := &logObserver{cancel: cancel, ready: make(chan struct{})}

	if mode == "push" {
		runPush(ctx, cfg, loggers, mux, obs)
	} else {
		runPull(ctx, cfg, loggers, mux, obs)
	}
	log.Printf("[main] done")
}

func runPush(ctx context.Context, cfg *config.Config, loggers logging.LoggerFactory, mux *httpmux.Manager, obs *logObserver) {
	peer, err := webrtc.NewPeer(webrtc.Config{
		Role:          webrtc.RolePush,
		ICEServers:    cfg.ICEServers,
		LoggerFactory: loggers,
	})
	if err != nil {
		log.Printf("[main] create peer: %v", err)
		obs.OnPushFailed(domain.FailureAddTrack)
		return
	}

	pusher := session.NewPusher(session.Options{
		Peer:          peer,
		Signaler:      sigclient.NewClient(mux, cfg.RequestTimeout),
		Observer:      obs,
		Server:        cfg.Server,
		Channel:       cfg.Channel,
		StatsInterval: cfg.StatsInterval,
	})
	defer pusher.Close()
	pusher.Start()

	select {
	case <-ctx.Done():
		return
	case <-obs.ready:
	}

	if err := peer.StreamH264(ctx, os.Stdin, cfg.FPS); err != nil && ctx.Err() == nil {
		log.Printf("[main] stream: %v", err)
	}
}

func runPull(ctx context.Context, cfg *config.Config, loggers logging.LoggerFactory, mux *httpmux.Manager, obs *logObserver) {
	peer, err := webrtc.NewPeer(webrtc.Config{
		Role:          webrtc.RolePull,
		ICEServers:    cfg.ICEServers,
		LoggerFactory: loggers,
		VideoOut:      os.Stdout,
	})
	if err != nil {
		log.Printf("[main] create peer: %v", err)
		obs.OnPullFailed(domain.FailureAddTrack)
		return
	}

	puller := session.NewPuller(session.Options{
		Peer:          peer,
		Signaler:      sigclient.NewClient(mux, cfg.RequestTimeout),
		Observer:      obs,
		Server:        cfg.Server,
		Channel:       cfg.Channel,
		StatsInterval: cfg.StatsInterval,
	})
	defer puller.Close()
	puller.Start(ctx)

	<-ctx.Done()
	log.Printf("[main] shutting down")
}
