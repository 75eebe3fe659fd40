package app

import (
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/geo"
	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

var trackStart = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func sample(i int, lat, lon, temperature float64, anomaly bool) *survey.Sample {
	return &survey.Sample{
		FlightID: 1,
		Record: telemetry.Record{
			Timestamp:       trackStart.Add(time.Duration(i) * time.Second),
			Latitude:        lat,
			Longitude:       lon,
			Altitude:        100 + float64(i),
			Temperature:     temperature,
			Humidity:        50,
			AirQualityIndex: 40,
			IsAnomaly:       anomaly,
		},
	}
}

func testTrack() *TrackData {
	track := NewTrackData(1, ChannelTemperature)
	track.Update(sample(0, 51.5000, -0.1200, 20, false))
	track.Update(sample(1, 51.5010, -0.1200, 22, false))
	track.Update(sample(2, 51.5010, -0.1185, 36, true))
	return track
}

func TestTrackData_Update(t *testing.T) {
	track := testTrack()

	if len(track.Points) != 3 || track.Anomalies != 1 {
		t.Fatalf("unexpected track %+v", track)
	}
	if track.ValueMin != 20 || track.ValueMax != 36 {
		t.Errorf("unexpected value range %v..%v", track.ValueMin, track.ValueMax)
	}
	if track.LatitudeMin != 51.5 || track.LatitudeMax != 51.501 {
		t.Errorf("unexpected latitude range %v..%v", track.LatitudeMin, track.LatitudeMax)
	}
	if !track.TimestampStart.Equal(trackStart) || !track.TimestampEnd.Equal(trackStart.Add(2*time.Second)) {
		t.Errorf("unexpected time range %v..%v", track.TimestampStart, track.TimestampEnd)
	}

	want := geo.Distance(track.Points[0].Point, track.Points[1].Point) +
		geo.Distance(track.Points[1].Point, track.Points[2].Point)
	if math.Abs(track.Distance-want) > 1e-9 {
		t.Errorf("Distance = %v, want %v", track.Distance, want)
	}
}

func TestTrackData_Bounds(t *testing.T) {
	track := testTrack()

	if b := track.Bounds(nil, nil); b != (ValueBounds{Min: 20, Max: 36}) {
		t.Errorf("unexpected bounds %+v", b)
	}

	lo, hi := 0.0, 50.0
	if b := track.Bounds(&lo, &hi); b != (ValueBounds{Min: 0, Max: 50}) {
		t.Errorf("unexpected bounds %+v", b)
	}
}

func TestChannel(t *testing.T) {
	r := &sample(3, 0, 0, 25, false).Record

	tests := map[Channel]float64{
		ChannelTemperature: 25,
		ChannelHumidity:    50,
		ChannelAirQuality:  40,
		ChannelAltitude:    103,
	}
	for channel, want := range tests {
		c, err := ParseChannel(string(channel))
		if err != nil {
			t.Fatalf("parsing %s: %v", channel, err)
		}
		if got := c.Value(r); got != want {
			t.Errorf("%s.Value() = %v, want %v", channel, got, want)
		}
	}

	if _, err := ParseChannel("pressure"); err == nil {
		t.Errorf("expected an error for an unknown channel")
	}
}

func TestProjection(t *testing.T) {
	track := testTrack()
	proj := NewProjection(track, 400)

	// A degree of longitude is shorter than a degree of latitude here, so
	// the track is taller than wide
	if proj.Height() != 400 || proj.Width() >= 400 || proj.Width() < 1 {
		t.Fatalf("unexpected area %dx%d", proj.Width(), proj.Height())
	}

	tests := []struct {
		point geo.Point
		x, y  int
	}{
		{track.Points[0].Point, 0, proj.Height() - 1},
		{track.Points[1].Point, 0, 0},
		{track.Points[2].Point, proj.Width() - 1, 0},
	}
	for _, tt := range tests {
		if x, y := proj.Project(tt.point); x != tt.x || y != tt.y {
			t.Errorf("Project(%+v) = (%d, %d), want (%d, %d)", tt.point, x, y, tt.x, tt.y)
		}
	}
}

func TestProjection_SinglePoint(t *testing.T) {
	track := NewTrackData(1, ChannelTemperature)
	track.Update(sample(0, 51.5, -0.12, 20, false))

	proj := NewProjection(track, 100)
	if proj.Width() != 100 && proj.Height() != 100 {
		t.Fatalf("unexpected area %dx%d", proj.Width(), proj.Height())
	}

	x, y := proj.Project(track.Points[0].Point)
	if x < 0 || x >= proj.Width() || y < 0 || y >= proj.Height() {
		t.Errorf("point projected outside the area: (%d, %d)", x, y)
	}
}
