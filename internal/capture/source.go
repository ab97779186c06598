// Package capture runs the background frame-acquisition loop: it pulls
// frames from a Source and publishes them into the shared buffer, absorbing
// transient read failures and escalating once they exhaust the retry budget.
package capture

import (
	"errors"

	"camview/internal/frame"
)

// ErrSourceTimeout marks a single bounded read attempt that produced no
// frame. The loop retries these.
var ErrSourceTimeout = errors.New("capture: frame read timed out")

// ErrSourceClosed marks a transport that will never produce another frame.
// The loop escalates immediately instead of burning the retry budget.
var ErrSourceClosed = errors.New("capture: source closed")

// ErrExhaustedRetries is raised to the session after too many consecutive
// read failures. The stream is considered lost; the caller must reconnect.
var ErrExhaustedRetries = errors.New("capture: consecutive frame read failures exhausted")

// Source is a continuous video transport. NextFrame performs one bounded
// read attempt; it must never block its caller indefinitely.
type Source interface {
	NextFrame() (*frame.Frame, error)
	Close() error
}
