package sampler

import (
	"fmt"
	"image"
	"slices"

	"go.uber.org/zap"

	"github.com/scheerer/ble-screen-colors/lights"
)

// Dominant quantizes the reduced frame to at most NumColors buckets with
// median cut and returns the most populated bucket at full lightness.
type Dominant struct {
	ReduceRatio float64
	NumColors   int
}

var _ Sampler = (*Dominant)(nil)

func (s *Dominant) Sample(img image.Image) (lights.Color, error) {
	if s.NumColors < 1 {
		return lights.Color{}, fmt.Errorf("number of colors must be positive, got %d", s.NumColors)
	}
	reduced, err := Reduce(img, s.ReduceRatio)
	if err != nil {
		return lights.Color{}, err
	}

	hist := histogram(reduced)
	buckets := medianCut(hist, s.NumColors)
	best, count := dominantBucket(hist, buckets)

	color := best.WithLightness(0.5)
	logger.With(zap.Int("buckets", len(buckets)),
		zap.Int("pixels", count),
		zap.Stringer("bucket", best),
		zap.Stringer("color", color)).
		Debug("Computed dominant color")
	return color, nil
}

type entry struct {
	rgb   [3]uint8
	count int
}

func (e entry) key() uint32 {
	return uint32(e.rgb[0])<<16 | uint32(e.rgb[1])<<8 | uint32(e.rgb[2])
}

// histogram lists the distinct colors of img ordered by packed RGB value.
func histogram(img *image.RGBA) []entry {
	counts := make(map[uint32]int)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			counts[uint32(img.Pix[i])<<16|uint32(img.Pix[i+1])<<8|uint32(img.Pix[i+2])]++
		}
	}

	hist := make([]entry, 0, len(counts))
	for k, n := range counts {
		hist = append(hist, entry{rgb: [3]uint8{uint8(k >> 16), uint8(k >> 8), uint8(k)}, count: n})
	}
	slices.SortFunc(hist, func(a, b entry) int { return int(a.key()) - int(b.key()) })
	return hist
}

type box struct {
	entries []entry
	count   int
}

func newBox(entries []entry) box {
	b := box{entries: entries}
	for _, e := range entries {
		b.count += e.count
	}
	return b
}

// widest returns the channel with the largest range, preferring red, then
// green, then blue on ties.
func (b box) widest() (channel int, span int) {
	for c := 0; c < 3; c++ {
		lo, hi := uint8(255), uint8(0)
		for _, e := range b.entries {
			lo = min(lo, e.rgb[c])
			hi = max(hi, e.rgb[c])
		}
		if s := int(hi) - int(lo); s > span {
			channel, span = c, s
		}
	}
	return channel, span
}

// split sorts the box along its widest channel and cuts it at the weighted
// median, keeping both halves non-empty.
func (b box) split() (box, box) {
	c, _ := b.widest()
	entries := slices.Clone(b.entries)
	slices.SortStableFunc(entries, func(x, y entry) int {
		if d := int(x.rgb[c]) - int(y.rgb[c]); d != 0 {
			return d
		}
		return int(x.key()) - int(y.key())
	})

	cut, acc := 1, 0
	for i, e := range entries[:len(entries)-1] {
		acc += e.count
		cut = i + 1
		if acc*2 >= b.count {
			break
		}
	}
	return newBox(entries[:cut]), newBox(entries[cut:])
}

func (b box) mean() lights.Color {
	var r, g, bl int
	for _, e := range b.entries {
		r += int(e.rgb[0]) * e.count
		g += int(e.rgb[1]) * e.count
		bl += int(e.rgb[2]) * e.count
	}
	half := b.count / 2
	return lights.Color{
		Red:   uint8((r + half) / b.count),
		Green: uint8((g + half) / b.count),
		Blue:  uint8((bl + half) / b.count),
	}
}

// medianCut splits the histogram into at most n boxes and returns their
// weighted mean colors. The box with the widest channel span is split first;
// ties go to the box with more pixels, then to the earlier box.
func medianCut(hist []entry, n int) []lights.Color {
	boxes := []box{newBox(hist)}
	for len(boxes) < n {
		pick, pickSpan := -1, 0
		for i, b := range boxes {
			if len(b.entries) < 2 {
				continue
			}
			_, span := b.widest()
			if pick < 0 || span > pickSpan || (span == pickSpan && b.count > boxes[pick].count) {
				pick, pickSpan = i, span
			}
		}
		if pick < 0 {
			break
		}

		left, right := boxes[pick].split()
		boxes = slices.Replace(boxes, pick, pick+1, left, right)
	}

	colors := make([]lights.Color, len(boxes))
	for i, b := range boxes {
		colors[i] = b.mean()
	}
	return colors
}

// dominantBucket assigns every histogram entry to its nearest bucket color
// (the first bucket wins ties) and returns the bucket holding the most pixels.
func dominantBucket(hist []entry, buckets []lights.Color) (lights.Color, int) {
	counts := make([]int, len(buckets))
	for _, e := range hist {
		nearest, best := 0, -1
		for i, b := range buckets {
			dr := int(e.rgb[0]) - int(b.Red)
			dg := int(e.rgb[1]) - int(b.Green)
			db := int(e.rgb[2]) - int(b.Blue)
			d := dr*dr + dg*dg + db*db
			if best < 0 || d < best {
				nearest, best = i, d
			}
		}
		counts[nearest] += e.count
	}

	winner := 0
	for i, n := range counts {
		if n > counts[winner] {
			winner = i
		}
	}
	return buckets[winner], counts[winner]
}
