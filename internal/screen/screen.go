package screen

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/scheerer/ble-screen-colors/internal/logging"
)

var logger = logging.New("screen")

var (
	ErrNoDisplay = errors.New("display not active")
	ErrClosed    = errors.New("capturer closed")
)

// CaptureError reports that a frame could not be captured or sampled.
type CaptureError struct {
	Display int
	Err     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture display %d: %v", e.Display, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Capturer grabs frames from one display. Display 0 is the primary screen.
type Capturer struct {
	display int
	closed  bool

	// overridable for tests
	numDisplays func() int
	bounds      func(int) image.Rectangle
	capture     func(image.Rectangle) (*image.RGBA, error)
}

// Open checks that display is active and returns a Capturer for it.
func Open(display int) (*Capturer, error) {
	c := &Capturer{
		display:     display,
		numDisplays: screenshot.NumActiveDisplays,
		bounds:      screenshot.GetDisplayBounds,
		capture:     screenshot.CaptureRect,
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	logger.With(zap.Int("display", display), zap.Stringer("bounds", c.bounds(display))).Info("Opened display for capture")
	return c, nil
}

func (c *Capturer) check() error {
	if n := c.numDisplays(); c.display < 0 || c.display >= n {
		return &CaptureError{Display: c.display, Err: fmt.Errorf("%w: %d active displays", ErrNoDisplay, n)}
	}
	return nil
}

// Grab captures the current contents of the display. Bounds are looked up on
// every call so a resized or re-arranged monitor is picked up.
func (c *Capturer) Grab() (image.Image, error) {
	if c.closed {
		return nil, &CaptureError{Display: c.display, Err: ErrClosed}
	}
	if err := c.check(); err != nil {
		return nil, err
	}

	bounds := c.bounds(c.display)
	if bounds.Empty() {
		return nil, &CaptureError{Display: c.display, Err: ErrNoDisplay}
	}
	img, err := c.capture(bounds)
	if err != nil {
		return nil, &CaptureError{Display: c.display, Err: err}
	}
	return img, nil
}

func (c *Capturer) Close() error {
	c.closed = true
	return nil
}
