// Package session owns the client lifecycle: connect to the camera, run the
// capture and control loops, and tear everything down. It is the only
// surface external callers use.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camview/internal/capture"
	"camview/internal/control"
	"camview/internal/frame"
	"camview/internal/input"
	"camview/internal/motion"
)

// Terminal errors at the session boundary.
var (
	ErrNetworkUnavailable = errors.New("session: camera unreachable")
	ErrAuthFailed         = errors.New("session: authentication failed")
	ErrStreamUnavailable  = errors.New("session: no usable video stream")
	ErrConnectTimeout     = errors.New("session: connect timed out")

	ErrNotConnected = errors.New("session: not connected")
	ErrBusy         = errors.New("session: already connected")
)

// How long Disconnect waits for each background task to exit. A timeout is
// logged, not escalated; resources are released regardless.
const teardownTimeout = 2 * time.Second

// DeviceInfo describes the camera, as reported by the device-management
// collaborator.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	Firmware     string
	Serial       string
	StreamURL    string
}

// Handles are the ready-to-use transports a Connector returns. Commander is
// nil when the camera exposes no motion service; motion operations then
// become logged no-ops.
type Handles struct {
	Source    capture.Source
	Commander motion.Commander
	Info      DeviceInfo
}

// Connector negotiates with the device-management service and returns ready
// handles. Opaque to the session.
type Connector interface {
	Connect(ctx context.Context) (Handles, error)
}

// Hooks are optional callbacks wired into the control loop.
type Hooks struct {
	// Snapshot receives the current frame on a snapshot event.
	Snapshot func(*frame.Frame)
}

// State of the session.
type State int

const (
	Disconnected State = iota
	Connected
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session wires the capture pipeline to the control loop.
type Session struct {
	cfg       Config
	connector Connector
	renderer  control.Renderer
	in        input.Source
	hooks     Hooks
	log       zerolog.Logger

	mu      sync.Mutex
	state   State
	handles Handles
	buf     *frame.Buffer
	capLoop *capture.Loop
	mc      *motion.Controller
	ctl     *control.Loop
}

// New validates the configuration and builds an idle session.
func New(cfg Config, conn Connector, r control.Renderer, in input.Source, hooks Hooks, log zerolog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:       cfg,
		connector: conn,
		renderer:  r,
		in:        in,
		hooks:     hooks,
		log:       log.With().Str("component", "session").Logger(),
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the device info captured at connect time.
func (s *Session) Info() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles.Info
}

// Motion exposes the position controller, for telemetry consumers.
func (s *Session) Motion() *motion.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mc
}

// FrameDrops returns how many frames were overwritten unread since connect.
func (s *Session) FrameDrops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return 0
	}
	return s.buf.Drops()
}

// Connect performs the device handshake and assembles the pipeline. The
// whole handshake is bounded by the configured connect timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Connected || s.state == Running {
		return ErrBusy
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.log.Info().
		Str("address", s.cfg.Address).
		Int("onvif_port", s.cfg.OnvifPort).
		Msg("connecting")

	h, err := s.connector.Connect(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return err
	}

	s.handles = h
	s.buf = frame.NewBuffer()
	s.mc = motion.NewController(h.Commander,
		motion.Speed{Pan: s.cfg.PanSpeed, Tilt: s.cfg.TiltSpeed},
		s.cfg.StepSize, s.log)
	s.capLoop = capture.NewLoop(h.Source, s.buf, s.log)
	s.ctl = control.NewLoop(s.buf, s.mc, s.in, s.renderer, control.Config{
		Rate:     s.cfg.Rate,
		Snapshot: s.hooks.Snapshot,
		Info:     s.logDeviceInfo,
	}, s.log)
	s.state = Connected

	s.log.Info().
		Str("manufacturer", h.Info.Manufacturer).
		Str("model", h.Info.Model).
		Str("stream", h.Info.StreamURL).
		Bool("motion", h.Commander != nil).
		Msg("connected")
	return nil
}

// Run starts the background capture loop and blocks in the control loop
// until quit input, a fatal stream loss, or Stop.
func (s *Session) Run() error {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.state = Running
	capLoop, ctl := s.capLoop, s.ctl
	s.mu.Unlock()

	capLoop.Start()
	err := ctl.Run(capLoop.Fatal())

	s.mu.Lock()
	if s.state == Running {
		s.state = Connected
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Msg("run ended")
	} else {
		s.log.Info().Msg("run ended")
	}
	return err
}

// Stop asks a running control loop to exit. Run returns shortly after.
func (s *Session) Stop() {
	s.mu.Lock()
	ctl := s.ctl
	s.mu.Unlock()
	if ctl != nil {
		ctl.Stop()
	}
}

// Disconnect tears the session down: stop flag first, then a bounded wait
// for the capture loop and any in-flight motion dispatch. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected || s.state == Stopped {
		return nil
	}

	if s.ctl != nil {
		s.ctl.Stop()
	}
	if s.capLoop != nil {
		if !s.capLoop.StopWait(teardownTimeout) {
			s.log.Warn().Msg("capture loop did not exit before teardown timeout")
		}
	}
	if s.mc != nil {
		done := make(chan struct{})
		go func() {
			s.mc.Flush()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(teardownTimeout):
			s.log.Warn().Msg("motion dispatch did not finish before teardown timeout")
		}
		if err := s.mc.StopAll(); err != nil {
			s.log.Debug().Err(err).Msg("stop-all failed during teardown")
		}
	}
	if s.handles.Source != nil {
		if err := s.handles.Source.Close(); err != nil {
			s.log.Debug().Err(err).Msg("source close failed")
		}
	}

	s.state = Stopped
	s.log.Info().Msg("disconnected")
	return nil
}

// logDeviceInfo answers the operator's info request.
func (s *Session) logDeviceInfo() {
	s.mu.Lock()
	info := s.handles.Info
	mc := s.mc
	s.mu.Unlock()

	ev := s.log.Info().
		Str("manufacturer", info.Manufacturer).
		Str("model", info.Model).
		Str("firmware", info.Firmware).
		Str("serial", info.Serial).
		Str("stream", info.StreamURL)
	if mc != nil {
		pos := mc.Position()
		ev = ev.Float64("pan", pos.Pan).Float64("tilt", pos.Tilt)
	}
	ev.Msg("camera info")
}
