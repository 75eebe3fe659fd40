package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/drone-monitoring/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	track, err := readTrack(ctx, store, config, logger)
	if err != nil {
		return err
	}
	if track.Empty() {
		return fmt.Errorf("flight %d has no samples to draw", config.FlightID)
	}

	renderer, err := NewTrackRenderer(RenderConfig{
		Location:      config.TimeZone,
		MapSize:       config.Size,
		ColorTheme:    config.Theme,
		Bounds:        track.Bounds(config.MinValue, config.MaxValue),
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating track renderer: %w", err)
	}

	img, err := renderer.Render(track)
	if err != nil {
		return fmt.Errorf("rendering track: %w", err)
	}

	logger.Info("writing track map",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	return writeImage(config.OutputFile, config.Format, img)
}

func readTrack(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*TrackData, error) {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.MinTimestamp != nil && config.MaxTimestamp != nil:
		opts = append(opts, storage.WithTimeRange(config.MinTimestamp.UTC(), config.MaxTimestamp.UTC()))

		filters = append(filters,
			slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))

	case config.MinTimestamp != nil:
		opts = append(opts, storage.WithStartTime(config.MinTimestamp.UTC()))
		filters = append(filters, slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)))

	case config.MaxTimestamp != nil:
		opts = append(opts, storage.WithEndTime(config.MaxTimestamp.UTC()))
		filters = append(filters, slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))
	}
	if config.AnomaliesOnly {
		opts = append(opts, storage.WithAnomaliesOnly())
		filters = append(filters, slog.Bool("anomaliesOnly", true))
	}

	logger.Debug("reader configuration", filters...)

	iter, err := store.ReadSamples(ctx, config.FlightID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	track := NewTrackData(config.FlightID, config.Channel)
	for iter.Next(ctx) {
		track.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	if !track.Empty() {
		logger.Info("finished reading samples",
			slog.Group("stats",
				slog.String("samples", humanize.Comma(int64(len(track.Points)))),
				slog.String("distance", humanize.SIWithDigits(track.Distance, 1, "m")),
				slog.Int("anomalies", track.Anomalies),
				slog.String("minTimestamp", track.TimestampStart.In(config.TimeZone).Format(time.DateTime)),
				slog.String("maxTimestamp", track.TimestampEnd.In(config.TimeZone).Format(time.DateTime)),
				slog.String("minValue", fmt.Sprintf("%0.2f%s", track.ValueMin, config.Channel.Unit())),
				slog.String("maxValue", fmt.Sprintf("%0.2f%s", track.ValueMax, config.Channel.Unit())),
			))
	}
	return track, nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return encodeImage(out, format, img)
}

func encodeImage(w io.Writer, format ImageFormat, img image.Image) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return fmt.Errorf("invalid image format: %s", format)
}
