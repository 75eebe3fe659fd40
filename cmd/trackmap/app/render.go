package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/roman-kulish/drone-monitoring/internal/geo"
)

const (
	dpi            = 120.0
	fontSize       = 9.0
	tickMarkHeight = 5
	pixelsPerLabel = 120.0

	DefaultMapSize = 800 // Longer side of the map area in pixels

	pointRadius   = 2
	anomalyRadius = 6

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 110
	defaultBottomBorder = 40
	defaultRightBorder  = 120

	legendWidth  = 16
	legendOffset = 20

	defaultDatetimeFormat = time.DateTime
)

var (
	anomalyColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	gridColor    = color.RGBA{R: 220, G: 220, B: 220, A: 255}
)

// BorderConfig defines the sizes of white space around the map
type BorderConfig struct {
	Top    int // Space for the longitude scale
	Left   int // Space for the latitude scale
	Bottom int // Space for the information bar
	Right  int // Space for the legend
}

// RenderConfig holds the configuration of the track visualization
type RenderConfig struct {
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display

	MapSize       int         // Longer side of the map area in pixels
	FontSize      float64     // Font size in points
	ColorTheme    ColorTheme  // Color scheme for channel values
	Bounds        ValueBounds // Channel values mapped onto the color scale
	NoAnnotations bool        // Draw the track only

	BorderConfig BorderConfig
}

// TrackRenderer draws a flight track colored by a sensor channel
type TrackRenderer struct {
	config RenderConfig
}

func NewTrackRenderer(config RenderConfig) (*TrackRenderer, error) {
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.MapSize == 0 {
		config.MapSize = DefaultMapSize
	}
	if config.MapSize < 0 {
		return nil, fmt.Errorf("invalid map size: %d", config.MapSize)
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.ColorTheme == "" {
		config.ColorTheme = ClassicTheme
	}
	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{
			Top:    anomalyRadius,
			Left:   anomalyRadius,
			Bottom: anomalyRadius,
			Right:  anomalyRadius,
		}
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &TrackRenderer{config: config}, nil
}

// Render creates an image of the track with annotations
func (r *TrackRenderer) Render(track *TrackData) (*image.RGBA, error) {
	if track.Empty() {
		return nil, errors.New("track has no samples")
	}

	proj := NewProjection(track, r.config.MapSize)
	borders := r.config.BorderConfig

	img := image.NewRGBA(image.Rect(0, 0,
		proj.Width()+borders.Left+borders.Right,
		proj.Height()+borders.Top+borders.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(borders.Left, borders.Top, borders.Left+proj.Width(), borders.Top+proj.Height())
	colorMap := NewColorMapper(r.config.ColorTheme, r.config.Bounds)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(annotatorConfig{
			DatetimeFormat: r.config.DatetimeFormat,
			Location:       r.config.Location,
			FontSize:       r.config.FontSize,
			Borders:        borders,
		})
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, area, proj, track, colorMap, r.config.Bounds); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	// The track is drawn over the grid lines
	r.renderTrack(img, area, proj, track, colorMap)
	return img, nil
}

func (r *TrackRenderer) renderTrack(img *image.RGBA, area image.Rectangle, proj Projection, track *TrackData, colorMap *ColorMapper) {
	pixel := func(p TrackPoint) image.Point {
		x, y := proj.Project(p.Point)
		return image.Pt(area.Min.X+x, area.Min.Y+y)
	}

	for i := 1; i < len(track.Points); i++ {
		drawLine(img, pixel(track.Points[i-1]), pixel(track.Points[i]), colorMap.GetColor(track.Points[i].Value))
	}
	for _, p := range track.Points {
		fillCircle(img, pixel(p), pointRadius, colorMap.GetColor(p.Value))
	}

	// Anomalies stay visible on top of the track
	for _, p := range track.Points {
		if p.IsAnomaly {
			drawCircle(img, pixel(p), anomalyRadius, anomalyColor)
		}
	}
}

// drawLine draws a line using Bresenham's algorithm
func drawLine(img draw.Image, from, to image.Point, c color.Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}

	x, y := from.X, from.Y
	e := dx + dy
	for {
		img.Set(x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func fillCircle(img draw.Image, center image.Point, radius int, c color.Color) {
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius {
				img.Set(center.X+x, center.Y+y, c)
			}
		}
	}
}

func drawCircle(img draw.Image, center image.Point, radius int, c color.Color) {
	for a := 0.0; a < 2*math.Pi; a += 1.0 / float64(radius*4) {
		x := int(math.Round(float64(radius) * math.Cos(a)))
		y := int(math.Round(float64(radius) * math.Sin(a)))
		img.Set(center.X+x, center.Y+y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type annotatorConfig struct {
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, proj Projection, track *TrackData, colorMap *ColorMapper, bounds ValueBounds) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawLongitudeScale(img, area, proj); err != nil {
		return fmt.Errorf("drawing longitude scale: %w", err)
	}
	if err := a.drawLatitudeScale(img, area, proj); err != nil {
		return fmt.Errorf("drawing latitude scale: %w", err)
	}
	if err := a.drawLegend(img, area, track.Channel, colorMap, bounds); err != nil {
		return fmt.Errorf("drawing legend: %w", err)
	}
	if err := a.drawInfoBar(img, track); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawLongitudeScale(img *image.RGBA, area image.Rectangle, proj Projection) error {
	step := calculateNiceStep(proj.lonMax-proj.lonMin, area.Dx())
	textY := a.config.Borders.Top - a.fontHeight()/2

	for lon := math.Ceil(proj.lonMin/step) * step; lon <= proj.lonMax; lon += step {
		x, _ := proj.Project(geo.Point{Latitude: proj.latMin, Longitude: lon})
		x += area.Min.X

		for y := area.Min.Y; y < area.Max.Y; y++ {
			img.Set(x, y, gridColor)
		}
		for y := area.Min.Y - tickMarkHeight; y < area.Min.Y; y++ {
			img.Set(x, y, color.Black)
		}

		label := formatDegrees(lon, step)
		width := font.MeasureString(a.fontFace, label)
		if _, err := a.context.DrawString(label, freetype.Pt(x-(width.Round()/2), textY)); err != nil {
			return fmt.Errorf("drawing longitude label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawLatitudeScale(img *image.RGBA, area image.Rectangle, proj Projection) error {
	step := calculateNiceStep(proj.latMax-proj.latMin, area.Dy())
	metrics := a.fontFace.Metrics()

	for lat := math.Ceil(proj.latMin/step) * step; lat <= proj.latMax; lat += step {
		_, y := proj.Project(geo.Point{Latitude: lat, Longitude: proj.lonMin})
		y += area.Min.Y

		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
		for x := area.Min.X - tickMarkHeight; x < area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := formatDegrees(lat, step)
		width := font.MeasureString(a.fontFace, label).Round()
		textY := y + a.fontHeight()/2 - metrics.Descent.Round()
		if _, err := a.context.DrawString(label, freetype.Pt(area.Min.X-tickMarkHeight-4-width, textY)); err != nil {
			return fmt.Errorf("drawing latitude label: %w", err)
		}
	}
	return nil
}

// drawLegend draws the color scale with its value range to the right of the
// map.
func (a *annotator) drawLegend(img *image.RGBA, area image.Rectangle, channel Channel, colorMap *ColorMapper, bounds ValueBounds) error {
	left := area.Max.X + legendOffset
	top, bottom := area.Min.Y, area.Max.Y-1

	for y := top; y <= bottom; y++ {
		p := 1.0
		if bottom > top {
			p = float64(bottom-y) / float64(bottom-top)
		}
		c := colorMap.Gradient(p)
		for x := left; x < left+legendWidth; x++ {
			img.Set(x, y, c)
		}
	}

	labels := []struct {
		value float64
		y     int
	}{
		{bounds.Max, top + a.fontHeight()/2},
		{bounds.Min, bottom + a.fontHeight()/2},
	}
	for _, l := range labels {
		label := fmt.Sprintf("%.1f %s", l.value, channel.Unit())
		if _, err := a.context.DrawString(label, freetype.Pt(left+legendWidth+4, l.y)); err != nil {
			return fmt.Errorf("drawing legend label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, track *TrackData) error {
	info := fmt.Sprintf("Flight %d; %s; Time: %s - %s; %s",
		track.FlightID,
		track.Channel,
		track.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
		track.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat),
		formatStats(track))

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-a.fontHeight())/2 - metrics.Descent.Round()

	if _, err := a.context.DrawString(info, freetype.Pt(a.config.Borders.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// calculateNiceStep returns a 1, 2 or 5 times a power of ten step that puts
// a label about every pixelsPerLabel pixels.
func calculateNiceStep(span float64, pixels int) float64 {
	desired := math.Max(1, float64(pixels)/pixelsPerLabel)
	rough := span / desired

	magnitude := math.Pow(10, math.Floor(math.Log10(rough)))
	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * magnitude; step >= rough {
			return step
		}
	}
	return 10 * magnitude
}

// formatDegrees prints just enough decimals to tell neighbouring labels apart
func formatDegrees(deg, step float64) string {
	decimals := max(0, int(math.Ceil(-math.Log10(step))))
	return fmt.Sprintf("%.*f°", decimals, deg)
}

func formatStats(track *TrackData) string {
	return fmt.Sprintf("Distance: %s; Points: %s; Anomalies: %s",
		humanize.SIWithDigits(track.Distance, 1, "m"),
		humanize.Comma(int64(len(track.Points))),
		humanize.Comma(int64(track.Anomalies)))
}
