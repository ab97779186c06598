// Package input defines the directional input surface the control loop
// polls. Key mapping lives with the concrete sources (display window,
// remote monitor), not here.
package input

// Event is a single operator input.
type Event int

const (
	None Event = iota
	Left
	Right
	Up
	Down
	Home
	Quit
	Snapshot
	Info
)

func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Left:
		return "left"
	case Right:
		return "right"
	case Up:
		return "up"
	case Down:
		return "down"
	case Home:
		return "home"
	case Quit:
		return "quit"
	case Snapshot:
		return "snapshot"
	case Info:
		return "info"
	default:
		return "unknown"
	}
}

// IsDirection reports whether the event steers the camera.
func (e Event) IsDirection() bool {
	switch e {
	case Left, Right, Up, Down:
		return true
	}
	return false
}

// Source yields at most one pending event per poll, without blocking.
type Source interface {
	Poll() Event
}
