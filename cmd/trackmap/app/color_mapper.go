package app

import (
	"fmt"
	"image/color"
	"math"
)

// ColorTheme is a predefined color scheme for sensor values.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256 // Default number of colors in the map
)

var validThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	JungleTheme:    {},
	ThermalTheme:   {},
	MarineTheme:    {},
}

// ParseColorTheme returns the theme named s
func ParseColorTheme(s string) (ColorTheme, error) {
	if _, ok := validThemes[ColorTheme(s)]; !ok {
		return "", fmt.Errorf("invalid color theme: %s", s)
	}
	return ColorTheme(s), nil
}

// ValueBounds is the range of channel values mapped onto the color scale
type ValueBounds struct {
	Min float64
	Max float64
}

// ColorMapper maps channel values to colors using a pre-computed gradient of
// the selected theme.
type ColorMapper struct {
	colorMap    []color.Color // Pre-computed colors
	theme       func(float64) color.Color
	themeName   ColorTheme
	size        int
	boundsMin   float64
	boundsRange float64
}

// NewColorMapper creates a color mapper with the default size
func NewColorMapper(theme ColorTheme, bounds ValueBounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a color mapper with size pre-computed colors
func NewColorMapperWithSize(theme ColorTheme, bounds ValueBounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap:  make([]color.Color, size),
		theme:     getColorTheme(theme),
		themeName: theme,
		size:      size,
	}
	for i := 0; i < cm.size; i++ {
		cm.colorMap[i] = cm.theme(float64(i) / float64(cm.size-1))
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds changes the value range mapped onto the gradient
func (cm *ColorMapper) UpdateBounds(bounds ValueBounds) {
	cm.boundsMin = bounds.Min
	cm.boundsRange = bounds.Max - bounds.Min
}

// GetColor returns the color of value, clamped to the bounds
func (cm *ColorMapper) GetColor(value float64) color.Color {
	// A flat range maps everything onto the middle of the gradient
	if cm.boundsRange <= 0 || math.IsNaN(value) {
		return cm.colorMap[cm.size/2]
	}

	index := int(math.Round((value - cm.boundsMin) / cm.boundsRange * float64(cm.size-1)))
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// Gradient returns the color at the normalized position p in [0, 1]
func (cm *ColorMapper) Gradient(p float64) color.Color {
	p = math.Max(0, math.Min(1, p))
	return cm.colorMap[int(p*float64(cm.size-1))]
}

func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

func (cm *ColorMapper) Size() int {
	return cm.size
}

// HSV represents a color in HSV (Hue, Saturation, Value) color space
type HSV struct {
	H float64 // Hue angle in degrees [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value/Brightness [0-1]
}

// RGB converts HSV to RGB color space
func (hsv HSV) RGB() color.Color {
	if hsv.S <= 0.0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}

	h := math.Mod(hsv.H, 360)
	if h < 0 {
		h += 360
	}
	h /= 60

	i := int(h)
	f := h - float64(i)

	v := uint8(hsv.V * 255)
	p := uint8((hsv.V * (1 - hsv.S)) * 255)
	q := uint8((hsv.V * (1 - (hsv.S * f))) * 255)
	t := uint8((hsv.V * (1 - (hsv.S * (1 - f)))) * 255)

	switch i {
	case 0:
		return color.RGBA{R: v, G: t, B: p, A: 255}
	case 1:
		return color.RGBA{R: q, G: v, B: p, A: 255}
	case 2:
		return color.RGBA{R: p, G: v, B: t, A: 255}
	case 3:
		return color.RGBA{R: p, G: q, B: v, A: 255}
	case 4:
		return color.RGBA{R: t, G: p, B: v, A: 255}
	default: // case 5:
		return color.RGBA{R: v, G: p, B: q, A: 255}
	}
}

func getColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case GrayscaleTheme:
		return func(p float64) color.Color {
			v := uint8(math.Pow(p, 0.7) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 255}
		}

	case JungleTheme:
		return func(p float64) color.Color {
			return HSV{
				H: 120 - (p * 60),
				S: 1.0,
				V: 0.3 + (math.Pow(p, 0.6) * 0.7),
			}.RGB()
		}

	case ThermalTheme:
		return func(p float64) color.Color {
			if p < 0.33 {
				return color.RGBA{R: uint8((p * 3) * 255), A: 255}
			}
			if p < 0.66 {
				return color.RGBA{R: 255, G: uint8(((p - 0.33) * 3) * 255), A: 255}
			}
			return color.RGBA{R: 255, G: 255, B: uint8(min(1, (p-0.66)*3) * 255), A: 255}
		}

	case MarineTheme:
		return func(p float64) color.Color {
			return HSV{
				H: 240 - (p * 60),
				S: 1.0 - (p * 0.8),
				V: 0.3 + (math.Pow(p, 0.6) * 0.7),
			}.RGB()
		}

	default: // Classic
		return func(p float64) color.Color {
			// Keep the low end visible on a white background
			return HSV{
				H: 240 - (p * 240),
				S: 0.9 + (p * 0.1),
				V: 0.6 + (math.Pow(p, 0.7) * 0.4),
			}.RGB()
		}
	}
}
