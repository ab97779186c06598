// Package display renders frames in an OpenCV window and turns its keyboard
// events into control inputs. The window must be driven from a single
// goroutine; the control loop's render-then-poll cycle satisfies that.
package display

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"camview/internal/frame"
	"camview/internal/input"
)

const (
	overlayOriginX  = 10
	overlayOriginY  = 25
	overlayLineStep = 22
)

// Window shows the live view and reads key presses.
type Window struct {
	win *gocv.Window
}

// NewWindow opens the viewer window.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Render draws the frame with the overlay lines in the top-left corner.
func (w *Window) Render(f *frame.Frame, overlay []string) error {
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return fmt.Errorf("display: wrap frame: %w", err)
	}
	defer mat.Close()

	y := overlayOriginY
	for _, line := range overlay {
		drawLabel(&mat, line, image.Pt(overlayOriginX, y))
		y += overlayLineStep
	}

	w.win.IMShow(mat)
	return nil
}

// Poll processes pending window events and maps the pressed key, if any, to
// a control event. It never blocks beyond WaitKey's 1ms slice.
func (w *Window) Poll() input.Event {
	switch w.win.WaitKey(1) {
	case 'q', 27: // esc
		return input.Quit
	case 'a':
		return input.Left
	case 'd':
		return input.Right
	case 'w':
		return input.Up
	case 's':
		return input.Down
	case 'r':
		return input.Home
	case ' ':
		return input.Snapshot
	case 'i':
		return input.Info
	default:
		return input.None
	}
}

// Close releases the window.
func (w *Window) Close() error {
	return w.win.Close()
}

// drawLabel renders text with a dark understroke so it stays readable over
// bright video.
func drawLabel(mat *gocv.Mat, text string, at image.Point) {
	gocv.PutText(mat, text, at, gocv.FontHersheySimplex, 0.5, color.RGBA{0, 0, 0, 0}, 3)
	gocv.PutText(mat, text, at, gocv.FontHersheySimplex, 0.5, color.RGBA{255, 255, 255, 0}, 1)
}
