package sampler

import (
	"fmt"
	"image"
	"math"
	"slices"
	"strings"
)

// Channels holds per-channel values in [0, 255] before rounding.
type Channels [3]float64

// Reducer computes a per-channel statistic over the pixels of r.
type Reducer func(img *image.RGBA, r image.Rectangle) Channels

const (
	ReducerMean        = "MEAN"
	ReducerSquaredMean = "SQUARED_MEAN"
	ReducerMedian      = "MEDIAN"
)

func ParseReducer(s string) (Reducer, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case ReducerMean:
		return MeanColor, nil
	case ReducerSquaredMean:
		return SquaredMeanColor, nil
	case ReducerMedian:
		return MedianColor, nil
	}
	return nil, fmt.Errorf("unknown border reducer %q, valid values are [%s, %s, %s]",
		s, ReducerMean, ReducerSquaredMean, ReducerMedian)
}

func MeanColor(img *image.RGBA, r image.Rectangle) Channels {
	var sumR, sumG, sumB uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := img.PixOffset(x, y)
			sumR += uint64(img.Pix[i])
			sumG += uint64(img.Pix[i+1])
			sumB += uint64(img.Pix[i+2])
		}
	}

	n := float64(r.Dx() * r.Dy())
	return Channels{float64(sumR) / n, float64(sumG) / n, float64(sumB) / n}
}

// SquaredMeanColor is the root mean square per channel, which leans towards
// the brighter pixels of a strip.
func SquaredMeanColor(img *image.RGBA, r image.Rectangle) Channels {
	var sumR, sumG, sumB uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := img.PixOffset(x, y)
			red, green, blue := uint64(img.Pix[i]), uint64(img.Pix[i+1]), uint64(img.Pix[i+2])
			sumR += red * red
			sumG += green * green
			sumB += blue * blue
		}
	}

	n := float64(r.Dx() * r.Dy())
	return Channels{
		math.Sqrt(float64(sumR) / n),
		math.Sqrt(float64(sumG) / n),
		math.Sqrt(float64(sumB) / n),
	}
}

func MedianColor(img *image.RGBA, r image.Rectangle) Channels {
	n := r.Dx() * r.Dy()
	reds := make([]uint8, 0, n)
	greens := make([]uint8, 0, n)
	blues := make([]uint8, 0, n)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := img.PixOffset(x, y)
			reds = append(reds, img.Pix[i])
			greens = append(greens, img.Pix[i+1])
			blues = append(blues, img.Pix[i+2])
		}
	}

	slices.Sort(reds)
	slices.Sort(greens)
	slices.Sort(blues)

	median := func(values []uint8) float64 {
		n := len(values)
		if n%2 == 0 {
			return (float64(values[n/2-1]) + float64(values[n/2])) / 2
		}
		return float64(values[n/2])
	}

	return Channels{median(reds), median(greens), median(blues)}
}
