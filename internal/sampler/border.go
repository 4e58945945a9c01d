package sampler

import (
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/scheerer/ble-screen-colors/lights"
)

// Border averages four strips along the edges of the reduced frame. Each
// strip has equal weight whatever its pixel count; the left and right strips
// skip the rows the top and bottom strips already cover.
type Border struct {
	ReduceRatio float64
	// BorderRatio is the strip thickness as a fraction of the shorter side of
	// the reduced frame.
	BorderRatio float64
	// Reducer defaults to MeanColor.
	Reducer            Reducer
	NormalizeLightness bool
}

var _ Sampler = (*Border)(nil)

func (s *Border) Sample(img image.Image) (lights.Color, error) {
	if s.BorderRatio <= 0 || s.BorderRatio > 0.5 {
		return lights.Color{}, fmt.Errorf("border ratio must be in (0, 0.5], got %v", s.BorderRatio)
	}
	reduced, err := Reduce(img, s.ReduceRatio)
	if err != nil {
		return lights.Color{}, err
	}
	reduce := s.Reducer
	if reduce == nil {
		reduce = MeanColor
	}

	w, h := reduced.Bounds().Dx(), reduced.Bounds().Dy()
	t := borderThickness(w, h, s.BorderRatio)

	strips := []image.Rectangle{
		clampRect(rect(0, 0, w, t), w, h),     // top
		clampRect(rect(0, h-t, w, h), w, h),   // bottom
		clampRect(rect(0, t, t, h-t), w, h),   // left
		clampRect(rect(w-t, t, w, h-t), w, h), // right
	}

	var sum Channels
	var n int
	for _, strip := range strips {
		if strip.Empty() {
			continue
		}
		c := reduce(reduced, strip)
		for i := range sum {
			sum[i] += c[i]
		}
		n++
	}

	color := lights.Color{
		Red:   roundChannel(sum[0] / float64(n)),
		Green: roundChannel(sum[1] / float64(n)),
		Blue:  roundChannel(sum[2] / float64(n)),
	}
	logger.With(zap.Int("thickness", t), zap.Int("strips", n), zap.Stringer("color", color)).Debug("Computed border color")

	if s.NormalizeLightness {
		color = color.WithLightness(0.5)
	}
	return color, nil
}

// borderThickness is at least one pixel and, unless the shorter side is a
// single pixel, at most half of it.
func borderThickness(w, h int, ratio float64) int {
	short := min(w, h)
	t := int(math.Round(float64(short) * ratio))
	return max(1, min(t, short/2))
}

// rect does not canonicalize like image.Rect, so inverted bounds stay empty.
func rect(x0, y0, x1, y1 int) image.Rectangle {
	return image.Rectangle{Min: image.Pt(x0, y0), Max: image.Pt(x1, y1)}
}

func roundChannel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
