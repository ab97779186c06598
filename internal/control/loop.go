// Package control runs the foreground operator loop at a fixed cadence:
// read the latest frame, overlay telemetry, hand it to the renderer, poll
// one input event, dispatch motion. It is the only task allowed to block on
// rendering and input; it never blocks on motor I/O.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camview/internal/frame"
	"camview/internal/input"
	"camview/internal/motion"
)

// ErrNoFrames means the stream produced nothing within the startup timeout.
var ErrNoFrames = errors.New("control: no frame within startup timeout")

// Renderer accepts a frame plus overlay text lines for display.
type Renderer interface {
	Render(f *frame.Frame, overlay []string) error
}

// Config tunes the loop. Zero values pick the defaults.
type Config struct {
	Rate              float64       // iterations per second, default 10
	FirstFrameTimeout time.Duration // default 5s

	// Snapshot is invoked with the current frame on a snapshot event.
	Snapshot func(*frame.Frame)
	// Info is invoked on an info event.
	Info func()
}

// Loop is the fixed-cadence control loop.
type Loop struct {
	buf    *frame.Buffer
	motion *motion.Controller
	in     input.Source
	render Renderer
	log    zerolog.Logger

	period       time.Duration
	firstTimeout time.Duration
	snapshot     func(*frame.Frame)
	info         func()

	stopOnce sync.Once
	stopCh   chan struct{}

	overruns uint64
}

// NewLoop builds a control loop. Run drives it on the caller's goroutine.
func NewLoop(buf *frame.Buffer, mc *motion.Controller, in input.Source, r Renderer, cfg Config, log zerolog.Logger) *Loop {
	rate := cfg.Rate
	if rate <= 0 {
		rate = 10
	}
	firstTimeout := cfg.FirstFrameTimeout
	if firstTimeout <= 0 {
		firstTimeout = 5 * time.Second
	}
	return &Loop{
		buf:          buf,
		motion:       mc,
		in:           in,
		render:       r,
		log:          log.With().Str("component", "control").Logger(),
		period:       time.Duration(float64(time.Second) / rate),
		firstTimeout: firstTimeout,
		snapshot:     cfg.Snapshot,
		info:         cfg.Info,
		stopCh:       make(chan struct{}),
	}
}

// Stop asks a running loop to exit after its current iteration. Safe to
// call more than once and from any goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Run blocks until quit input, a fatal capture signal, or Stop. A nil fatal
// channel disables that exit path. Returns nil on an operator quit.
func (l *Loop) Run(fatal <-chan error) error {
	if !l.buf.WaitFirst(l.firstTimeout) {
		return ErrNoFrames
	}
	l.log.Info().Dur("period", l.period).Msg("control loop running")

	var lastSeq uint64
	winStart := time.Now()
	winFrames := 0
	fps := 0.0

	for {
		start := time.Now()

		select {
		case <-l.stopCh:
			return nil
		case err := <-fatal:
			return fmt.Errorf("control: stream lost: %w", err)
		default:
		}

		f := l.buf.Latest()
		if f == nil {
			// Cannot normally happen after the first frame; yield and retry.
			time.Sleep(time.Millisecond)
			continue
		}

		if f.Seq != lastSeq {
			lastSeq = f.Seq
			winFrames++
		}
		if el := start.Sub(winStart); el >= time.Second {
			fps = float64(winFrames) / el.Seconds()
			winStart = start
			winFrames = 0
		}

		if err := l.render.Render(f, l.overlay(f, fps)); err != nil {
			l.log.Debug().Err(err).Msg("render failed")
		}

		switch ev := l.in.Poll(); {
		case ev == input.Quit:
			l.log.Info().Msg("quit requested")
			return nil
		case ev == input.Snapshot:
			if l.snapshot != nil {
				l.snapshot(f)
			}
		case ev == input.Info:
			if l.info != nil {
				l.info()
			}
		case ev == input.Home:
			l.motion.Home()
		case ev.IsDirection():
			l.motion.Step(ev)
		}

		if elapsed := time.Since(start); elapsed < l.period {
			select {
			case <-l.stopCh:
				return nil
			case <-time.After(l.period - elapsed):
			}
		} else {
			l.overruns++
			if l.overruns%100 == 1 {
				l.log.Warn().
					Uint64("overruns", l.overruns).
					Dur("elapsed", elapsed).
					Msg("control loop behind target rate")
			}
		}
	}
}

// overlay builds the telemetry lines drawn over the frame.
func (l *Loop) overlay(f *frame.Frame, fps float64) []string {
	pos := l.motion.Position()
	sp := l.motion.Speeds()

	lines := make([]string, 0, 5)
	lines = append(lines, time.Now().Format("2006-01-02 15:04:05"))
	if fps > 0 {
		lines = append(lines, fmt.Sprintf("FPS: %.1f", fps))
	}
	lines = append(lines, fmt.Sprintf("%dx%d", f.Width, f.Height))
	lines = append(lines, fmt.Sprintf("pan %+.2f tilt %+.2f speed %.1f/%.1f", pos.Pan, pos.Tilt, sp.Pan, sp.Tilt))
	lines = append(lines, "WASD: pan/tilt | R: home | SPACE: snapshot | I: info | Q: quit")
	return lines
}
