package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"camview/internal/control"
	"camview/internal/display"
	"camview/internal/frame"
	"camview/internal/input"
	"camview/internal/onvif"
	"camview/internal/protocol"
	"camview/internal/remote"
	"camview/internal/session"
)

func main() {
	defaults := session.DefaultConfig()

	addr := flag.String("addr", "", "camera IP address or hostname (required)")
	user := flag.String("user", "", "camera account username")
	pass := flag.String("pass", "", "camera account password")
	onvifPort := flag.Int("onvif-port", defaults.OnvifPort, "ONVIF device service port")
	step := flag.Float64("step", defaults.StepSize, "pan/tilt step per key press, in (0,1]")
	panSpeed := flag.Float64("pan-speed", defaults.PanSpeed, "pan speed, in [0,1]")
	tiltSpeed := flag.Float64("tilt-speed", defaults.TiltSpeed, "tilt speed, in [0,1]")
	rate := flag.Float64("rate", defaults.Rate, "control loop rate in Hz")
	timeout := flag.Duration("connect-timeout", defaults.ConnectTimeout, "connect timeout")
	listen := flag.String("listen", "", "monitor listen address, e.g. :8080 (disabled when empty)")
	headless := flag.Bool("headless", false, "run without a local window; requires -listen")
	snapshotDir := flag.String("snapshot-dir", defaults.SnapshotDir, "directory for saved snapshots")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	cfg := defaults
	cfg.Address = *addr
	cfg.Username = *user
	cfg.Password = *pass
	cfg.OnvifPort = *onvifPort
	cfg.StepSize = *step
	cfg.PanSpeed = *panSpeed
	cfg.TiltSpeed = *tiltSpeed
	cfg.Rate = *rate
	cfg.ConnectTimeout = *timeout
	cfg.SnapshotDir = *snapshotDir

	if err := run(cfg, *listen, *headless, log); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func run(cfg session.Config, listen string, headless bool, log zerolog.Logger) error {
	if headless && listen == "" {
		return fmt.Errorf("-headless requires -listen")
	}

	var renderers []control.Renderer
	var inputs []input.Source

	var win *display.Window
	if !headless {
		win = display.NewWindow(fmt.Sprintf("Tapo %s", cfg.Address))
		defer win.Close()
		renderers = append(renderers, win)
		inputs = append(inputs, win)
	}

	var sess *session.Session
	var monitor *remote.Server
	if listen != "" {
		monitor = remote.New(remote.Config{ListenAddr: listen}, display.EncodeJPEG, func() protocol.TelemetryPayload {
			p := protocol.TelemetryPayload{}
			if sess == nil {
				return p
			}
			info := sess.Info()
			p.Model = info.Model
			p.StreamURL = info.StreamURL
			p.DroppedFrames = sess.FrameDrops()
			if mc := sess.Motion(); mc != nil {
				pos := mc.Position()
				p.Pan = pos.Pan
				p.Tilt = pos.Tilt
				p.DroppedCommands = mc.Dropped()
			}
			return p
		}, log)
		renderers = append(renderers, monitor)
		inputs = append(inputs, monitor)
	}

	hooks := session.Hooks{
		Snapshot: func(f *frame.Frame) {
			path, err := display.SaveSnapshot(f, cfg.SnapshotDir)
			if err != nil {
				log.Error().Err(err).Msg("snapshot failed")
				return
			}
			log.Info().Str("path", path).Msg("snapshot saved")
		},
	}

	s, err := session.New(cfg, onvif.NewConnector(cfg, log), multiRenderer(renderers), multiInput(inputs), hooks, log)
	if err != nil {
		return err
	}
	sess = s

	if err := s.Connect(context.Background()); err != nil {
		return err
	}
	defer s.Disconnect()

	if monitor != nil {
		monitor.Start()
		defer monitor.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		s.Stop()
	}()

	return s.Run()
}

// multiRenderer fans a frame out to every renderer; the first error wins but
// every renderer still gets the frame.
type multiRenderer []control.Renderer

func (m multiRenderer) Render(f *frame.Frame, overlay []string) error {
	var first error
	for _, r := range m {
		if err := r.Render(f, overlay); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// multiInput polls sources in order and returns the first real event, so
// local keys win over remote commands within an iteration.
type multiInput []input.Source

func (m multiInput) Poll() input.Event {
	for _, src := range m {
		if ev := src.Poll(); ev != input.None {
			return ev
		}
	}
	return input.None
}
