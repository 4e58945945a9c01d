package lights

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is an 8-bit RGB color as sent to the light strip.
type Color struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

var _ color.Color = Color{}

// FromColorful converts a go-colorful color, clamping out-of-gamut values.
func FromColorful(c colorful.Color) Color {
	r, g, b := c.Clamped().RGB255()
	return Color{Red: r, Green: g, Blue: b}
}

// FromHsl builds a color from hue in degrees and saturation/lightness in [0, 1].
func FromHsl(h, s, l float64) Color {
	return FromColorful(colorful.Hsl(h, s, l))
}

// RGBA implements color.Color, always fully opaque.
func (c Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.Red)
	r |= r << 8
	g = uint32(c.Green)
	g |= g << 8
	b = uint32(c.Blue)
	b |= b << 8
	return r, g, b, 0xFFFF
}

func (c Color) Colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.Red) / 255.0,
		G: float64(c.Green) / 255.0,
		B: float64(c.Blue) / 255.0,
	}
}

// Hsl returns hue in degrees [0, 360) and saturation and lightness in [0, 1].
func (c Color) Hsl() (h, s, l float64) {
	return c.Colorful().Hsl()
}

// WithLightness keeps hue and saturation and replaces lightness. A lightness
// of 0.5 gives the brightest color the strip can show for that hue.
func (c Color) WithLightness(l float64) Color {
	h, s, _ := c.Hsl()
	return FromHsl(h, s, l)
}

func (c Color) Hex() string {
	return c.Colorful().Hex()
}

func (c Color) String() string {
	return c.Hex()
}
