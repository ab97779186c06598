// Package motion owns the camera's pan/tilt position state and turns
// directional intents into clamped absolute motor commands. One mutex
// serializes every position read/write and every command issuance; a
// single-flight slot bounds in-flight command goroutines to one so motor
// I/O latency never stalls the control loop.
package motion

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"camview/internal/input"
)

// Position holds normalized motor coordinates, both in [-1,1].
type Position struct {
	Pan  float64
	Tilt float64
}

// Speed holds per-axis movement speeds, both in [0,1]. Fixed after
// construction.
type Speed struct {
	Pan  float64
	Tilt float64
}

// Commander issues absolute position commands to the motor transport.
type Commander interface {
	// AbsoluteMove drives both axes to the given normalized position at the
	// given per-axis speeds.
	AbsoluteMove(pan, tilt, panSpeed, tiltSpeed float64) error

	// Halt stops any movement in progress. Best effort.
	Halt() error
}

// DefaultSpeed selects the axis speed configured at construction.
const DefaultSpeed = -1

type axis int

const (
	axisPan axis = iota
	axisTilt
	axisBoth // home: both axes to zero
)

// Controller is the only owner of the current pan/tilt position. There is
// no hardware position feedback; the stored position is the last target a
// successfully issued command was given.
type Controller struct {
	cmd   Commander // nil when the motion service is unavailable
	speed Speed
	step  float64
	log   zerolog.Logger

	mu  sync.Mutex // guards pos and command issuance
	pos Position

	busy    atomic.Bool // single-flight dispatch slot
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewController creates a controller starting at pan 0, tilt 0. A nil
// commander makes every motion operation a logged no-op.
func NewController(cmd Commander, speed Speed, step float64, log zerolog.Logger) *Controller {
	c := &Controller{
		cmd:   cmd,
		speed: Speed{Pan: clamp(speed.Pan, 0, 1), Tilt: clamp(speed.Tilt, 0, 1)},
		step:  clamp(step, 0, 1),
		log:   log.With().Str("component", "motion").Logger(),
	}
	if cmd == nil {
		c.log.Warn().Msg("motion service unavailable, pan/tilt commands will be ignored")
	}
	return c
}

// Position returns the last successfully commanded position.
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Speeds returns the configured per-axis speeds.
func (c *Controller) Speeds() Speed { return c.speed }

// AbsolutePan moves the pan axis to pos, clamped to [-1,1], holding tilt at
// its last known value. speed overrides the configured pan speed unless it
// is DefaultSpeed. Reports whether the command was accepted for dispatch.
func (c *Controller) AbsolutePan(pos, speed float64) bool {
	return c.dispatch(axisPan, pos, speed)
}

// AbsoluteTilt is the tilt-axis counterpart of AbsolutePan.
func (c *Controller) AbsoluteTilt(pos, speed float64) bool {
	return c.dispatch(axisTilt, pos, speed)
}

// Home moves both axes back to zero at the configured speeds.
func (c *Controller) Home() bool {
	return c.dispatch(axisBoth, 0, DefaultSpeed)
}

// Step moves one step from the current position in the given direction.
func (c *Controller) Step(dir input.Event) bool {
	c.mu.Lock()
	cur := c.pos
	c.mu.Unlock()

	switch dir {
	case input.Left:
		return c.AbsolutePan(cur.Pan-c.step, DefaultSpeed)
	case input.Right:
		return c.AbsolutePan(cur.Pan+c.step, DefaultSpeed)
	case input.Up:
		return c.AbsoluteTilt(cur.Tilt+c.step, DefaultSpeed)
	case input.Down:
		return c.AbsoluteTilt(cur.Tilt-c.step, DefaultSpeed)
	default:
		return false
	}
}

// StopAll asks the transport to halt any movement in progress. Advisory
// only: moves are discrete absolute commands, not velocity streams.
func (c *Controller) StopAll() error {
	if c.cmd == nil {
		return nil
	}
	return c.cmd.Halt()
}

// Flush blocks until any in-flight command goroutine has finished.
func (c *Controller) Flush() { c.wg.Wait() }

// Dropped returns the number of requests rejected because a command was
// already in flight.
func (c *Controller) Dropped() uint64 { return c.dropped.Load() }

// dispatch accepts the request only if the single-flight slot is free.
// Requests arriving mid-flight are dropped, not queued, so rapid input
// cannot build a backlog of stale motion commands.
func (c *Controller) dispatch(ax axis, value, speed float64) bool {
	if c.cmd == nil {
		c.log.Debug().Msg("motion command ignored, no motion service")
		return false
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		c.log.Debug().Msg("motion command dropped, dispatch slot busy")
		return false
	}

	c.wg.Add(1)
	go c.issue(ax, value, speed)
	return true
}

// issue runs on the dispatch goroutine. The stored position is updated only
// after the transport accepts the command; a transport failure leaves it
// unchanged so repeated failures cannot drift the state. Motor I/O happens
// outside the position lock so pollers never stall behind a slow transport;
// the single-flight slot guarantees no other issuance can interleave.
func (c *Controller) issue(ax axis, value, speed float64) {
	defer c.wg.Done()
	defer c.busy.Store(false)

	c.mu.Lock()
	target := c.pos
	sp := c.speed
	switch ax {
	case axisPan:
		target.Pan = clamp(value, -1, 1)
		if speed != DefaultSpeed {
			sp.Pan = clamp(speed, 0, 1)
		}
	case axisTilt:
		target.Tilt = clamp(value, -1, 1)
		if speed != DefaultSpeed {
			sp.Tilt = clamp(speed, 0, 1)
		}
	case axisBoth:
		target = Position{}
	}
	c.mu.Unlock()

	if err := c.cmd.AbsoluteMove(target.Pan, target.Tilt, sp.Pan, sp.Tilt); err != nil {
		c.log.Warn().Err(err).
			Float64("pan", target.Pan).
			Float64("tilt", target.Tilt).
			Msg("absolute move failed")
		return
	}

	c.mu.Lock()
	c.pos = target
	c.mu.Unlock()

	c.log.Debug().
		Float64("pan", target.Pan).
		Float64("tilt", target.Tilt).
		Msg("absolute move issued")
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
