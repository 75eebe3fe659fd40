package geo

import (
	"math"
	"testing"
)

var london = Point{Latitude: 51.507351, Longitude: -0.127758}

func TestBearing_CardinalDirections(t *testing.T) {
	tests := []struct {
		name   string
		target Point
		want   float64
	}{
		{"north", Point{51.508351, -0.127758}, 0},
		{"east", Point{51.507351, -0.126758}, 90},
		{"south", Point{51.506351, -0.127758}, 180},
		{"west", Point{51.507351, -0.128758}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(london, tt.target)
			if math.Abs(HeadingDelta(got, tt.want)) > 1.0 {
				t.Errorf("Bearing() = %.3f, want %.0f ±1", got, tt.want)
			}
		})
	}
}

func TestBearing_CoincidentPoints(t *testing.T) {
	if got := Bearing(london, london); got != 0 {
		t.Errorf("Bearing() of coincident points = %v, want 0", got)
	}
}

func TestDistance(t *testing.T) {
	// 0.0001 degree of longitude at this latitude is roughly 6.9 meters
	d := Distance(london, Point{Latitude: 51.507351, Longitude: -0.127858})
	if math.Abs(d-6.9) > 1.0 {
		t.Errorf("Distance() = %.2f, want ~6.9", d)
	}

	if d := Distance(london, london); d != 0 {
		t.Errorf("Distance() of coincident points = %v, want 0", d)
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	for _, heading := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		p := Destination(london, heading, 1000)

		if d := Distance(london, p); math.Abs(d-1000) > 0.01 {
			t.Errorf("heading %.0f: distance %.4f, want 1000", heading, d)
		}
		if b := Bearing(london, p); math.Abs(HeadingDelta(b, heading)) > 0.1 {
			t.Errorf("heading %.0f: bearing back %.4f", heading, b)
		}
	}
}

func TestDestination_ZeroDistance(t *testing.T) {
	if p := Destination(london, 123, 0); p != london {
		t.Errorf("Destination() with zero distance moved to %+v", p)
	}
}

func TestHeadingDelta(t *testing.T) {
	tests := []struct {
		from, to, want float64
	}{
		{0, 90, 90},
		{90, 0, -90},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{270, 90, 180},
	}

	for _, tt := range tests {
		if got := HeadingDelta(tt.from, tt.to); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("HeadingDelta(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNormalizeHeading(t *testing.T) {
	tests := map[float64]float64{-90: 270, 360: 0, 725: 5, 0: 0}
	for in, want := range tests {
		if got := NormalizeHeading(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("NormalizeHeading(%v) = %v, want %v", in, got, want)
		}
	}
}
