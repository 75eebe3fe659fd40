package app

import (
	"image/color"
	"math"
	"testing"
)

func TestColorMapper_GetColor(t *testing.T) {
	cm := NewColorMapper(GrayscaleTheme, ValueBounds{Min: 10, Max: 20})

	tests := []struct {
		name  string
		value float64
		want  color.Color
	}{
		{"below range", -100, cm.colorMap[0]},
		{"minimum", 10, cm.colorMap[0]},
		{"maximum", 20, cm.colorMap[cm.Size()-1]},
		{"above range", 1000, cm.colorMap[cm.Size()-1]},
		{"not a number", math.NaN(), cm.colorMap[cm.Size()/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cm.GetColor(tt.value); got != tt.want {
				t.Errorf("GetColor(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	// Grayscale runs from black to white
	if got := cm.GetColor(10); got != (color.RGBA{A: 255}) {
		t.Errorf("unexpected minimum color %v", got)
	}
	if got := cm.GetColor(20); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("unexpected maximum color %v", got)
	}
}

func TestColorMapper_FlatRange(t *testing.T) {
	cm := NewColorMapperWithSize(ClassicTheme, ValueBounds{Min: 21, Max: 21}, 16)
	if cm.Size() != 16 {
		t.Fatalf("unexpected size %d", cm.Size())
	}
	if got, want := cm.GetColor(21), cm.colorMap[8]; got != want {
		t.Errorf("GetColor() = %v, want %v", got, want)
	}
}

func TestColorThemes(t *testing.T) {
	for theme := range validThemes {
		t.Run(string(theme), func(t *testing.T) {
			cm := NewColorMapper(theme, ValueBounds{Min: 0, Max: 1})
			if cm.ThemeName() != theme {
				t.Errorf("unexpected theme %s", cm.ThemeName())
			}
			for i := 0; i <= 10; i++ {
				if _, _, _, a := cm.Gradient(float64(i) / 10).RGBA(); a != 0xffff {
					t.Errorf("gradient at %d/10 is not opaque", i)
				}
			}
		})
	}

	if _, err := ParseColorTheme("rainbow"); err == nil {
		t.Errorf("expected an error for an unknown theme")
	}
}

func TestHSV_RGB(t *testing.T) {
	tests := []struct {
		hsv  HSV
		want color.RGBA
	}{
		{HSV{H: 0, S: 1, V: 1}, color.RGBA{R: 255, A: 255}},
		{HSV{H: 120, S: 1, V: 1}, color.RGBA{G: 255, A: 255}},
		{HSV{H: 240, S: 1, V: 1}, color.RGBA{B: 255, A: 255}},
		{HSV{H: 360, S: 1, V: 1}, color.RGBA{R: 255, A: 255}},
		{HSV{H: 90, S: 0, V: 1}, color.RGBA{R: 255, G: 255, B: 255, A: 255}},
	}

	for _, tt := range tests {
		if got := tt.hsv.RGB(); got != tt.want {
			t.Errorf("%+v.RGB() = %v, want %v", tt.hsv, got, tt.want)
		}
	}
}
