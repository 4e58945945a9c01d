// Package sampler reduces a screen frame to one representative color.
package sampler

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/scheerer/ble-screen-colors/internal/logging"
	"github.com/scheerer/ble-screen-colors/lights"
)

var logger = logging.New("sampler")

var ErrEmptyFrame = errors.New("frame has no pixels")

// Sampler computes one color for a frame. Implementations must not retain
// the frame after Sample returns.
type Sampler interface {
	Sample(img image.Image) (lights.Color, error)
}

type Algorithm string

const (
	AlgorithmDominant Algorithm = "DOMINANT"
	AlgorithmBorder   Algorithm = "BORDER"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToUpper(strings.TrimSpace(s))); a {
	case AlgorithmDominant, AlgorithmBorder:
		return a, nil
	}
	return "", fmt.Errorf("unknown color algorithm %q, valid values are [%s, %s]", s, AlgorithmDominant, AlgorithmBorder)
}

// Reduce downsamples img by ratio using area averaging: every output pixel is
// the rounded mean of the block of source pixels it covers. The result is at
// least 1x1 unless img is empty.
func Reduce(img image.Image, ratio float64) (*image.RGBA, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyFrame
	}
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("reduce ratio must be in (0, 1], got %v", ratio)
	}

	nw := max(1, int(float64(w)*ratio))
	nh := max(1, int(float64(h)*ratio))
	px := newPixels(img)
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))

	for oy := 0; oy < nh; oy++ {
		y0 := oy * h / nh
		y1 := max(y0+1, (oy+1)*h/nh)
		for ox := 0; ox < nw; ox++ {
			x0 := ox * w / nw
			x1 := max(x0+1, (ox+1)*w/nw)

			var sumR, sumG, sumB, n uint64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b := px.at(x, y)
					sumR += uint64(r)
					sumG += uint64(g)
					sumB += uint64(b)
					n++
				}
			}

			i := out.PixOffset(ox, oy)
			out.Pix[i+0] = uint8((sumR + n/2) / n)
			out.Pix[i+1] = uint8((sumG + n/2) / n)
			out.Pix[i+2] = uint8((sumB + n/2) / n)
			out.Pix[i+3] = 0xFF
		}
	}
	return out, nil
}

// pixels reads 8-bit RGB relative to the image origin, with a fast path for
// the *image.RGBA frames screen capture produces.
type pixels struct {
	img  image.Image
	rgba *image.RGBA
	min  image.Point
}

func newPixels(img image.Image) pixels {
	rgba, _ := img.(*image.RGBA)
	return pixels{img: img, rgba: rgba, min: img.Bounds().Min}
}

func (p pixels) at(x, y int) (r, g, b uint8) {
	if p.rgba != nil {
		i := p.rgba.PixOffset(p.min.X+x, p.min.Y+y)
		return p.rgba.Pix[i], p.rgba.Pix[i+1], p.rgba.Pix[i+2]
	}
	cr, cg, cb, _ := p.img.At(p.min.X+x, p.min.Y+y).RGBA()
	return uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)
}

// clampRect returns r clamped to a w x h image.
func clampRect(r image.Rectangle, w, h int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, w, h))
}
