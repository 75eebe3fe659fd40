package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"

	DefaultDBPath = "drone_monitoring.db"
)

type ImageFormat string

type Config struct {
	DBPath        string
	FlightID      int64
	OutputFile    string
	Format        ImageFormat
	Channel       Channel
	Theme         ColorTheme
	Size          int
	MinValue      *float64
	MaxValue      *float64
	MinTimestamp  *time.Time
	MaxTimestamp  *time.Time
	TimeZone      *time.Location
	AnomaliesOnly bool
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		DBPath:   DefaultDBPath,
		Format:   ImagePNG,
		Channel:  ChannelTemperature,
		Theme:    ClassicTheme,
		Size:     DefaultMapSize,
		TimeZone: time.Local,
	}
}

func NewConfigFromCLI(args []string) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet("trackmap", flag.ContinueOnError)

	var imageFormat, channel, theme, minTime, maxTime, timeZone string
	var minValue, maxValue float64
	fs.StringVar(&c.DBPath, "db", c.DBPath, "Path to the database file")
	fs.Int64Var(&c.FlightID, "flight", 0, "Flight ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&channel, "channel", string(c.Channel), "Sensor value coloring the track. [temperature, humidity, aqi, altitude]")
	fs.StringVar(&theme, "theme", string(c.Theme), "Color theme. [classic, grayscale, jungle, thermal, marine]")
	fs.IntVar(&c.Size, "size", c.Size, "Longer side of the map in pixels")
	fs.Float64Var(&minValue, "min-value", 0, "Define a manual minimum of the color scale")
	fs.Float64Var(&maxValue, "max-value", 0, "Define a manual maximum of the color scale")
	fs.StringVar(&minTime, "from", "", "Skip samples taken before this time (RFC 3339)")
	fs.StringVar(&maxTime, "to", "", "Skip samples taken after this time (RFC 3339)")
	fs.StringVar(&timeZone, "tz", "", "Time zone of the annotations, local by default")
	fs.BoolVar(&c.AnomaliesOnly, "anomalies-only", false, "Draw anomalous samples only")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as scales and the legend")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-value":
			c.MinValue = &minValue
		case "max-value":
			c.MaxValue = &maxValue
		}
	})

	err := c.parse(strings.ToLower(imageFormat), channel, theme, minTime, maxTime, timeZone)
	if err == nil {
		err = c.Validate()
	}
	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func (c *Config) parse(imageFormat, channel, theme, minTime, maxTime, timeZone string) (err error) {
	if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		return fmt.Errorf("invalid image format: %s", imageFormat)
	}
	c.Format = ImageFormat(imageFormat)

	if c.Channel, err = ParseChannel(channel); err != nil {
		return err
	}
	if c.Theme, err = ParseColorTheme(theme); err != nil {
		return err
	}
	if c.MinTimestamp, err = parseTime(minTime); err != nil {
		return err
	}
	if c.MaxTimestamp, err = parseTime(maxTime); err != nil {
		return err
	}
	if timeZone != "" {
		if c.TimeZone, err = time.LoadLocation(timeZone); err != nil {
			return fmt.Errorf("invalid time zone: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.FlightID <= 0:
		return errors.New("flight id is required")
	case c.OutputFile == "":
		return errors.New("output file is required")
	case c.Size < 16:
		return fmt.Errorf("map size is too small: %d", c.Size)
	case c.MinValue != nil && c.MaxValue != nil && *c.MinValue >= *c.MaxValue:
		return errors.New("min value must be below max value")
	case c.MinTimestamp != nil && c.MaxTimestamp != nil && c.MaxTimestamp.Before(*c.MinTimestamp):
		return errors.New("time range ends before it starts")
	}
	return nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &t, nil
}
