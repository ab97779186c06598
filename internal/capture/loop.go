package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"camview/internal/frame"
)

// State of the capture loop.
type State int32

const (
	Starting State = iota
	Capturing
	Degraded
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Capturing:
		return "capturing"
	case Degraded:
		return "degraded"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// Consecutive failures before the loop gives up on the stream.
	maxFailures = 30
	// Consecutive failures before the loop reports itself degraded.
	degradedAfter = 10
	// Pause after a transient failure before the next read attempt.
	failureBackoff = 10 * time.Millisecond
)

// Loop is the sole writer of the frame buffer for the lifetime of a session.
type Loop struct {
	src Source
	buf *frame.Buffer
	log zerolog.Logger

	state atomic.Int32

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	fatal    chan error
}

// NewLoop wires a source to a buffer. Start must be called to begin capture.
func NewLoop(src Source, buf *frame.Buffer, log zerolog.Logger) *Loop {
	return &Loop{
		src:    src,
		buf:    buf,
		log:    log.With().Str("component", "capture").Logger(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		fatal:  make(chan error, 1),
	}
}

// Start launches the background capture goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop signals the loop to exit. It does not wait; use StopWait to join.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// StopWait stops the loop and waits up to timeout for it to exit.
// Reports whether the loop exited in time.
func (l *Loop) StopWait(timeout time.Duration) bool {
	l.Stop()
	select {
	case <-l.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done is closed when the capture goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Fatal delivers at most one error, raised when the stream is lost.
func (l *Loop) Fatal() <-chan error { return l.fatal }

// State returns the loop's current state.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	if old != s {
		l.log.Debug().Stringer("from", old).Stringer("to", s).Msg("capture state change")
	}
}

func (l *Loop) run() {
	defer close(l.done)

	failures := 0
	for {
		select {
		case <-l.stopCh:
			l.setState(Stopped)
			return
		default:
		}

		f, err := l.src.NextFrame()
		if err != nil {
			if errors.Is(err, ErrSourceClosed) {
				l.giveUp(err)
				return
			}

			failures++
			l.log.Debug().Err(err).Int("consecutive_failures", failures).Msg("frame read failed")

			if failures == degradedAfter {
				l.setState(Degraded)
				l.log.Warn().Int("consecutive_failures", failures).Msg("capture degraded")
			}
			if failures >= maxFailures {
				l.giveUp(fmt.Errorf("%w after %d attempts: %v", ErrExhaustedRetries, failures, err))
				return
			}

			select {
			case <-l.stopCh:
				l.setState(Stopped)
				return
			case <-time.After(failureBackoff):
			}
			continue
		}

		if failures > 0 {
			l.log.Info().Int("recovered_after", failures).Msg("capture recovered")
			failures = 0
		}
		l.setState(Capturing)
		l.buf.Publish(f)
	}
}

// giveUp transitions to Stopped and raises the fatal signal exactly once.
func (l *Loop) giveUp(err error) {
	l.setState(Stopped)
	l.log.Error().Err(err).Msg("capture stopped, stream lost")
	select {
	case l.fatal <- err:
	default:
	}
}
