package app

import (
	"testing"
	"time"
)

func TestNewConfigFromCLI(t *testing.T) {
	c, err := NewConfigFromCLI([]string{
		"-db", "flights.db",
		"-flight", "3",
		"-o", "track",
		"-f", "JPEG",
		"-channel", "aqi",
		"-theme", "marine",
		"-min-value", "0",
		"-from", "2024-06-01T09:00:00Z",
		"-tz", "UTC",
	})
	if err != nil {
		t.Fatalf("parsing flags: %v", err)
	}

	if c.DBPath != "flights.db" || c.FlightID != 3 || c.OutputFile != "track.jpeg" {
		t.Errorf("unexpected config %+v", c)
	}
	if c.Format != ImageJPEG || c.Channel != ChannelAirQuality || c.Theme != MarineTheme {
		t.Errorf("unexpected rendering options %+v", c)
	}
	if c.MinValue == nil || *c.MinValue != 0 || c.MaxValue != nil {
		t.Errorf("only the minimum value was set: %v, %v", c.MinValue, c.MaxValue)
	}
	if c.MinTimestamp == nil || !c.MinTimestamp.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) || c.MaxTimestamp != nil {
		t.Errorf("unexpected time range %v, %v", c.MinTimestamp, c.MaxTimestamp)
	}
	if c.TimeZone != time.UTC {
		t.Errorf("unexpected time zone %v", c.TimeZone)
	}
}

func TestNewConfigFromCLI_Errors(t *testing.T) {
	tests := map[string][]string{
		"missing flight": {"-o", "track"},
		"missing output": {"-flight", "1"},
		"image format":   {"-flight", "1", "-o", "track", "-f", "gif"},
		"channel":        {"-flight", "1", "-o", "track", "-channel", "pressure"},
		"theme":          {"-flight", "1", "-o", "track", "-theme", "rainbow"},
		"time":           {"-flight", "1", "-o", "track", "-from", "yesterday"},
		"time range":     {"-flight", "1", "-o", "track", "-from", "2024-06-02T00:00:00Z", "-to", "2024-06-01T00:00:00Z"},
		"value range":    {"-flight", "1", "-o", "track", "-min-value", "10", "-max-value", "10"},
		"time zone":      {"-flight", "1", "-o", "track", "-tz", "Mars/Olympus_Mons"},
		"map size":       {"-flight", "1", "-o", "track", "-size", "8"},
		"unknown flag":   {"-flight", "1", "-o", "track", "-power"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewConfigFromCLI(args); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}
