// Package video implements the capture source on top of OpenCV's
// VideoCapture, which handles RTSP transport and H264/H265 decoding.
package video

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"camview/internal/capture"
	"camview/internal/frame"
)

// Source pulls decoded frames from an OpenCV VideoCapture. Not safe for
// concurrent use; the capture loop is its only caller.
type Source struct {
	cap *gocv.VideoCapture
	img gocv.Mat
	seq uint64
}

// Open connects to the stream URL and verifies the capture is usable.
func Open(url string) (*Source, error) {
	cap, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("video: open %q: %w", url, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video: capture not opened for %q", url)
	}

	// Keep at most one decoded frame queued inside OpenCV so reads always
	// return the newest image instead of a stale backlog.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	return &Source{cap: cap, img: gocv.NewMat()}, nil
}

// NextFrame performs one bounded read attempt. A failed or empty read maps
// to capture.ErrSourceTimeout; the capture loop owns the retry policy.
func (s *Source) NextFrame() (*frame.Frame, error) {
	if !s.cap.Read(&s.img) {
		return nil, capture.ErrSourceTimeout
	}
	if s.img.Empty() {
		return nil, capture.ErrSourceTimeout
	}

	s.seq++
	return &frame.Frame{
		Data:      s.img.ToBytes(),
		Width:     s.img.Cols(),
		Height:    s.img.Rows(),
		Seq:       s.seq,
		Timestamp: time.Now(),
	}, nil
}

// Close releases the capture and its scratch Mat.
func (s *Source) Close() error {
	s.img.Close()
	return s.cap.Close()
}
