package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"camview/internal/frame"
)

// scriptSource serves NextFrame results from a user function.
type scriptSource struct {
	next   func(call int) (*frame.Frame, error)
	calls  atomic.Int64
	closed atomic.Bool
}

func (s *scriptSource) NextFrame() (*frame.Frame, error) {
	n := int(s.calls.Add(1))
	return s.next(n)
}

func (s *scriptSource) Close() error {
	s.closed.Store(true)
	return nil
}

func goodFrame(seq uint64) *frame.Frame {
	return &frame.Frame{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Seq: seq, Timestamp: time.Now()}
}

func TestPublishesFrames(t *testing.T) {
	src := &scriptSource{next: func(n int) (*frame.Frame, error) {
		return goodFrame(uint64(n)), nil
	}}
	buf := frame.NewBuffer()
	l := NewLoop(src, buf, zerolog.Nop())
	l.Start()
	defer l.StopWait(time.Second)

	if !buf.WaitFirst(time.Second) {
		t.Fatal("no frame published")
	}
	if l.State() != Capturing {
		t.Errorf("state = %v, want capturing", l.State())
	}
}

func TestFatalAfterThirtyFailures(t *testing.T) {
	src := &scriptSource{next: func(int) (*frame.Frame, error) {
		return nil, ErrSourceTimeout
	}}
	l := NewLoop(src, frame.NewBuffer(), zerolog.Nop())
	l.Start()

	select {
	case err := <-l.Fatal():
		if !errors.Is(err, ErrExhaustedRetries) {
			t.Errorf("fatal error = %v, want ErrExhaustedRetries", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal signal")
	}

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after fatal")
	}

	if l.State() != Stopped {
		t.Errorf("state = %v, want stopped", l.State())
	}
	if got := src.calls.Load(); got != 30 {
		t.Errorf("read attempts = %d, want exactly 30", got)
	}

	// The fatal signal is raised exactly once; the channel must be empty now.
	select {
	case err := <-l.Fatal():
		t.Errorf("second fatal signal: %v", err)
	default:
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	// 29 failures, one success, then 29 more failures: never fatal.
	src := &scriptSource{next: func(n int) (*frame.Frame, error) {
		if n == 30 {
			return goodFrame(1), nil
		}
		if n > 59 {
			return goodFrame(uint64(n)), nil
		}
		return nil, ErrSourceTimeout
	}}
	l := NewLoop(src, frame.NewBuffer(), zerolog.Nop())
	l.Start()
	defer l.StopWait(time.Second)

	deadline := time.After(5 * time.Second)
	for src.calls.Load() < 60 {
		select {
		case err := <-l.Fatal():
			t.Fatalf("unexpected fatal after reset: %v", err)
		case <-deadline:
			t.Fatalf("source only reached %d calls", src.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSourceClosedEscalatesImmediately(t *testing.T) {
	src := &scriptSource{next: func(int) (*frame.Frame, error) {
		return nil, ErrSourceClosed
	}}
	l := NewLoop(src, frame.NewBuffer(), zerolog.Nop())
	l.Start()

	select {
	case <-l.Fatal():
	case <-time.After(time.Second):
		t.Fatal("no fatal signal for closed source")
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("read attempts = %d, want 1", got)
	}
}

func TestStopWait(t *testing.T) {
	src := &scriptSource{next: func(n int) (*frame.Frame, error) {
		return goodFrame(uint64(n)), nil
	}}
	l := NewLoop(src, frame.NewBuffer(), zerolog.Nop())
	l.Start()

	if !l.StopWait(time.Second) {
		t.Fatal("loop did not stop in time")
	}
	if l.State() != Stopped {
		t.Errorf("state = %v, want stopped", l.State())
	}
}
