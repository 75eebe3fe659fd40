package app

import (
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/geo"
	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// Channel is the sensor value used to color the track
type Channel string

const (
	ChannelTemperature Channel = "temperature"
	ChannelHumidity    Channel = "humidity"
	ChannelAirQuality  Channel = "aqi"
	ChannelAltitude    Channel = "altitude"
)

var validChannels = map[Channel]string{
	ChannelTemperature: "°C",
	ChannelHumidity:    "%",
	ChannelAirQuality:  "AQI",
	ChannelAltitude:    "m",
}

func ParseChannel(s string) (Channel, error) {
	if _, ok := validChannels[Channel(s)]; !ok {
		return "", fmt.Errorf("invalid channel: %s", s)
	}
	return Channel(s), nil
}

// Unit returns the unit of the channel values
func (c Channel) Unit() string {
	return validChannels[c]
}

// Value extracts the channel value from a record
func (c Channel) Value(r *telemetry.Record) float64 {
	switch c {
	case ChannelHumidity:
		return r.Humidity
	case ChannelAirQuality:
		return r.AirQualityIndex
	case ChannelAltitude:
		return r.Altitude
	default:
		return r.Temperature
	}
}

// minSpan keeps a hovering or single point track from collapsing the
// projection.
const minSpan = 1e-4 // Degrees

type TrackPoint struct {
	Point     geo.Point
	Timestamp time.Time
	Value     float64
	IsAnomaly bool
}

// TrackData accumulates the samples of a flight for rendering
type TrackData struct {
	FlightID                     int64
	Channel                      Channel
	Points                       []TrackPoint
	LatitudeMin, LatitudeMax     float64
	LongitudeMin, LongitudeMax   float64
	ValueMin, ValueMax           float64
	TimestampStart, TimestampEnd time.Time
	Distance                     float64 // Meters along the track
	Anomalies                    int
}

func NewTrackData(flightID int64, channel Channel) *TrackData {
	return &TrackData{
		FlightID:     flightID,
		Channel:      channel,
		LatitudeMin:  math.MaxFloat64,
		LatitudeMax:  -math.MaxFloat64,
		LongitudeMin: math.MaxFloat64,
		LongitudeMax: -math.MaxFloat64,
		ValueMin:     math.MaxFloat64,
		ValueMax:     -math.MaxFloat64,
		Points:       make([]TrackPoint, 0),
	}
}

// Update appends a sample to the track
func (t *TrackData) Update(s *survey.Sample) {
	p := TrackPoint{
		Point:     geo.Point{Latitude: s.Latitude, Longitude: s.Longitude},
		Timestamp: s.Timestamp,
		Value:     t.Channel.Value(&s.Record),
		IsAnomaly: s.IsAnomaly,
	}

	if n := len(t.Points); n > 0 {
		t.Distance += geo.Distance(t.Points[n-1].Point, p.Point)
	}
	if p.IsAnomaly {
		t.Anomalies++
	}

	t.LatitudeMin = min(t.LatitudeMin, p.Point.Latitude)
	t.LatitudeMax = max(t.LatitudeMax, p.Point.Latitude)
	t.LongitudeMin = min(t.LongitudeMin, p.Point.Longitude)
	t.LongitudeMax = max(t.LongitudeMax, p.Point.Longitude)
	t.ValueMin = min(t.ValueMin, p.Value)
	t.ValueMax = max(t.ValueMax, p.Value)

	if t.TimestampStart.IsZero() || t.TimestampStart.After(p.Timestamp) {
		t.TimestampStart = p.Timestamp
	}
	if t.TimestampEnd.IsZero() || t.TimestampEnd.Before(p.Timestamp) {
		t.TimestampEnd = p.Timestamp
	}

	t.Points = append(t.Points, p)
}

func (t *TrackData) Empty() bool {
	return len(t.Points) == 0
}

// Bounds returns the range of the channel values, or manual overrides
func (t *TrackData) Bounds(minValue, maxValue *float64) ValueBounds {
	b := ValueBounds{Min: t.ValueMin, Max: t.ValueMax}
	if minValue != nil {
		b.Min = *minValue
	}
	if maxValue != nil {
		b.Max = *maxValue
	}
	return b
}

// Projection maps coordinates onto an area of the image. It is an
// equirectangular projection around the middle latitude of the track which
// is accurate enough at survey scale.
type Projection struct {
	latMin, latMax float64
	lonMin, lonMax float64
	width, height  int
}

// NewProjection fits the track into an area whose longer side is size pixels
func NewProjection(t *TrackData, size int) Projection {
	latMin, latMax := padSpan(t.LatitudeMin, t.LatitudeMax)
	lonMin, lonMax := padSpan(t.LongitudeMin, t.LongitudeMax)

	// Ground distance per degree of longitude shrinks with latitude
	scale := math.Cos(geo.DegToRad((latMin + latMax) / 2))
	w := (lonMax - lonMin) * scale
	h := latMax - latMin

	p := Projection{latMin: latMin, latMax: latMax, lonMin: lonMin, lonMax: lonMax}
	if w >= h {
		p.width = size
		p.height = max(1, int(math.Round(float64(size)*h/w)))
	} else {
		p.height = size
		p.width = max(1, int(math.Round(float64(size)*w/h)))
	}
	return p
}

func (p Projection) Width() int  { return p.width }
func (p Projection) Height() int { return p.height }

// Project returns the pixel of pt relative to the top left corner of the area
func (p Projection) Project(pt geo.Point) (x, y int) {
	fx := (pt.Longitude - p.lonMin) / (p.lonMax - p.lonMin)
	fy := (p.latMax - pt.Latitude) / (p.latMax - p.latMin)
	x = int(math.Round(fx * float64(p.width-1)))
	y = int(math.Round(fy * float64(p.height-1)))
	return x, y
}

func padSpan(lo, hi float64) (float64, float64) {
	if hi-lo >= minSpan {
		return lo, hi
	}
	mid := (lo + hi) / 2
	return mid - minSpan/2, mid + minSpan/2
}
