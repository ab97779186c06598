package motion

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"camview/internal/input"
)

// recordCommander records issued moves and can be made to block or fail.
type recordCommander struct {
	mu      sync.Mutex
	moves   [][4]float64
	halts   int
	err     error
	blockCh chan struct{} // when set, AbsoluteMove blocks until closed

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *recordCommander) AbsoluteMove(pan, tilt, panSpeed, tiltSpeed float64) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		max := r.maxSeen.Load()
		if n <= max || r.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}

	if r.blockCh != nil {
		<-r.blockCh
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.moves = append(r.moves, [4]float64{pan, tilt, panSpeed, tiltSpeed})
	return nil
}

func (r *recordCommander) Halt() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halts++
	return nil
}

func newTestController(cmd Commander) *Controller {
	return NewController(cmd, Speed{Pan: 0.5, Tilt: 0.5}, 0.1, zerolog.Nop())
}

func TestAbsolutePanClampsPosition(t *testing.T) {
	for _, in := range []float64{-100, -1.0001, -1, -0.5, 0, 0.5, 1, 1.0001, 100, math.Inf(1), math.Inf(-1)} {
		cmd := &recordCommander{}
		c := newTestController(cmd)
		if !c.AbsolutePan(in, DefaultSpeed) {
			t.Fatalf("AbsolutePan(%v) not accepted", in)
		}
		c.Flush()

		got := c.Position().Pan
		if got < -1 || got > 1 {
			t.Errorf("AbsolutePan(%v): stored pan %v out of [-1,1]", in, got)
		}
	}
}

func TestSpeedClamped(t *testing.T) {
	cmd := &recordCommander{}
	c := newTestController(cmd)
	c.AbsolutePan(0.5, 7.0)
	c.Flush()

	if len(cmd.moves) != 1 {
		t.Fatalf("moves = %d, want 1", len(cmd.moves))
	}
	if sp := cmd.moves[0][2]; sp != 1 {
		t.Errorf("pan speed = %v, want clamped to 1", sp)
	}
}

func TestStepLeftAccumulates(t *testing.T) {
	cmd := &recordCommander{}
	c := newTestController(cmd)

	for n := 1; n <= 15; n++ {
		if !c.Step(input.Left) {
			t.Fatalf("step %d not accepted", n)
		}
		c.Flush()

		want := math.Max(-1, -0.1*float64(n))
		got := c.Position().Pan
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("after %d left steps pan = %v, want %v", n, got, want)
		}
	}
}

func TestStepHoldsOtherAxis(t *testing.T) {
	cmd := &recordCommander{}
	c := newTestController(cmd)

	c.AbsoluteTilt(0.4, DefaultSpeed)
	c.Flush()
	c.Step(input.Right)
	c.Flush()

	pos := c.Position()
	if pos.Tilt != 0.4 {
		t.Errorf("tilt moved to %v during a pan step", pos.Tilt)
	}
	if math.Abs(pos.Pan-0.1) > 1e-9 {
		t.Errorf("pan = %v, want 0.1", pos.Pan)
	}
}

func TestSingleFlightDispatch(t *testing.T) {
	release := make(chan struct{})
	cmd := &recordCommander{blockCh: release}
	c := newTestController(cmd)

	if !c.AbsolutePan(0.5, DefaultSpeed) {
		t.Fatal("first command not accepted")
	}
	// Wait for the dispatch goroutine to enter the commander.
	for cmd.inFlight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if c.AbsolutePan(0.9, DefaultSpeed) {
		t.Error("second command accepted while one was in flight")
	}
	if c.Step(input.Up) {
		t.Error("step accepted while a command was in flight")
	}
	if got := c.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}

	close(release)
	c.Flush()

	if got := cmd.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent commands = %d, want 1", got)
	}
	if pos := c.Position(); pos.Pan != 0.5 {
		t.Errorf("pan = %v, want 0.5 (dropped command must not apply)", pos.Pan)
	}
}

func TestFailedIssuanceLeavesPositionUnchanged(t *testing.T) {
	cmd := &recordCommander{err: errors.New("transport down")}
	c := newTestController(cmd)

	c.AbsolutePan(0.7, DefaultSpeed)
	c.Flush()

	if pos := c.Position(); pos.Pan != 0 {
		t.Errorf("pan = %v after failed issuance, want 0", pos.Pan)
	}
}

func TestHome(t *testing.T) {
	cmd := &recordCommander{}
	c := newTestController(cmd)

	c.AbsolutePan(0.8, DefaultSpeed)
	c.Flush()
	c.AbsoluteTilt(-0.6, DefaultSpeed)
	c.Flush()
	c.Home()
	c.Flush()

	if pos := c.Position(); pos != (Position{}) {
		t.Errorf("position after Home = %+v, want origin", pos)
	}
}

func TestNilCommanderIsNoOp(t *testing.T) {
	c := newTestController(nil)

	if c.AbsolutePan(0.5, DefaultSpeed) {
		t.Error("AbsolutePan accepted without a motion service")
	}
	if c.Step(input.Left) {
		t.Error("Step accepted without a motion service")
	}
	if err := c.StopAll(); err != nil {
		t.Errorf("StopAll = %v, want nil", err)
	}
	if pos := c.Position(); pos != (Position{}) {
		t.Errorf("position = %+v, want origin", pos)
	}
}

func TestStopAll(t *testing.T) {
	cmd := &recordCommander{}
	c := newTestController(cmd)
	if err := c.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if cmd.halts != 1 {
		t.Errorf("halts = %d, want 1", cmd.halts)
	}
}
