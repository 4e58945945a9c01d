package palette

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"

	"github.com/scheerer/ble-screen-colors/lights"
)

// Blend selects the color space anchors are interpolated in.
type Blend string

const (
	BlendRGB Blend = "RGB"
	BlendHSL Blend = "HSL"
)

// DefaultAnchors is the demo color wheel; the first and last anchor are equal
// so the cycle closes.
var DefaultAnchors = []string{"red", "orange", "yellow", "green", "cyan", "blue", "violet", "red"}

const DefaultTransitionColors = 100

var (
	ErrTooFewAnchors = errors.New("at least two anchor colors are required")
	ErrUnknownColor  = errors.New("unknown color")
)

// Palette is a fixed, non-empty sequence of colors traversed cyclically.
type Palette struct {
	colors []lights.Color
}

func (p *Palette) Len() int {
	return len(p.colors)
}

// At returns the color at i modulo the palette length.
func (p *Palette) At(i int) lights.Color {
	n := len(p.colors)
	return p.colors[((i%n)+n)%n]
}

// Colors returns a copy of the palette.
func (p *Palette) Colors() []lights.Color {
	return append([]lights.Color(nil), p.colors...)
}

// Cursor walks a palette forever.
type Cursor struct {
	palette *Palette
	index   int
}

func (p *Palette) Cursor() *Cursor {
	return &Cursor{palette: p}
}

// Next returns the current color and advances, wrapping at the end.
func (c *Cursor) Next() lights.Color {
	color := c.palette.colors[c.index]
	c.index++
	if c.index == len(c.palette.colors) {
		c.index = 0
	}
	return color
}

// Generate interpolates n colors from each anchor (inclusive) towards the next
// (exclusive) and closes with the final anchor, giving n*(len(anchors)-1)+1
// colors.
func Generate(anchors []lights.Color, n int, blend Blend) (*Palette, error) {
	if len(anchors) < 2 {
		return nil, ErrTooFewAnchors
	}
	if n < 1 {
		return nil, fmt.Errorf("transition length must be positive, got %d", n)
	}

	var mix func(a, b colorful.Color, t float64) colorful.Color
	switch blend {
	case BlendRGB:
		mix = func(a, b colorful.Color, t float64) colorful.Color { return a.BlendRgb(b, t) }
	case BlendHSL:
		mix = blendHsl
	default:
		return nil, fmt.Errorf("unknown blend %q", blend)
	}

	colors := make([]lights.Color, 0, n*(len(anchors)-1)+1)
	for i := 0; i < len(anchors)-1; i++ {
		from, to := anchors[i].Colorful(), anchors[i+1].Colorful()
		for k := 0; k < n; k++ {
			if k == 0 {
				colors = append(colors, anchors[i])
				continue
			}
			colors = append(colors, lights.FromColorful(mix(from, to, float64(k)/float64(n))))
		}
	}
	colors = append(colors, anchors[len(anchors)-1])

	return &Palette{colors: colors}, nil
}

// blendHsl interpolates hue along the shorter arc. Achromatic endpoints take
// the hue of the other endpoint so greys don't drift through red.
func blendHsl(a, b colorful.Color, t float64) colorful.Color {
	h1, s1, l1 := a.Hsl()
	h2, s2, l2 := b.Hsl()
	if s1 == 0 {
		h1 = h2
	}
	if s2 == 0 {
		h2 = h1
	}

	delta := math.Mod(h2-h1+540, 360) - 180
	h := math.Mod(h1+delta*t+360, 360)
	return colorful.Hsl(h, s1+(s2-s1)*t, l1+(l2-l1)*t)
}

// Resolve maps CSS color names (case-insensitive) or #rrggbb hex strings to
// colors.
func Resolve(names []string) ([]lights.Color, error) {
	colors := make([]lights.Color, 0, len(names))
	for _, name := range names {
		c, err := Named(name)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}

func Named(name string) (lights.Color, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(name, "#") {
		c, err := colorful.Hex(name)
		if err != nil {
			return lights.Color{}, fmt.Errorf("%w: %q", ErrUnknownColor, name)
		}
		return lights.FromColorful(c), nil
	}
	c, ok := colornames.Map[name]
	if !ok {
		return lights.Color{}, fmt.Errorf("%w: %q", ErrUnknownColor, name)
	}
	return lights.Color{Red: c.R, Green: c.G, Blue: c.B}, nil
}
