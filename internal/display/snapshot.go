package display

import (
	"fmt"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"camview/internal/frame"
)

// EncodeJPEG compresses a frame for transport to remote viewers.
func EncodeJPEG(f *frame.Frame) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return nil, fmt.Errorf("display: wrap frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("display: encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// SaveSnapshot writes the frame as a timestamped JPEG in dir and returns the
// path.
func SaveSnapshot(f *frame.Frame, dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("tapo_snapshot_%d.jpg", time.Now().Unix()))

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return "", fmt.Errorf("display: wrap frame: %w", err)
	}
	defer mat.Close()

	if !gocv.IMWrite(path, mat) {
		return "", fmt.Errorf("display: write %s failed", path)
	}
	return path, nil
}
