// Package frame defines the decoded video frame and the single-slot buffer
// shared between the capture loop (producer) and the control loop (consumer).
package frame

import "time"

// Frame is a single decoded image sample from the live video transport.
// Data is tightly packed BGR24 pixel data, row-major.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// Clone returns a deep copy of the frame. Readers work on clones so the
// producer can never mutate pixels under them.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:      data,
		Width:     f.Width,
		Height:    f.Height,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}
