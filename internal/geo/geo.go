// Package geo provides great-circle helpers used to navigate the drone
// between geographic coordinates.
package geo

import "math"

// EarthRadius is the mean Earth radius in meters
const EarthRadius = 6_371_000.0

// Point is a geographic position in decimal degrees
type Point struct {
	Latitude  float64
	Longitude float64
}

func DegToRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// NormalizeHeading maps any angle in degrees into [0, 360)
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// HeadingDelta returns the signed shortest rotation from one heading to
// another, in (-180, 180]. Positive values turn clockwise.
func HeadingDelta(from, to float64) float64 {
	d := NormalizeHeading(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// Distance returns the haversine distance between two points in meters
func Distance(a, b Point) float64 {
	lat1, lon1 := DegToRad(a.Latitude), DegToRad(a.Longitude)
	lat2, lon2 := DegToRad(b.Latitude), DegToRad(b.Longitude)

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// 0 = north, 90 = east. Callers must not ask for the bearing between
// coincident points; the result is 0 in that case.
func Bearing(a, b Point) float64 {
	lat1, lon1 := DegToRad(a.Latitude), DegToRad(a.Longitude)
	lat2, lon2 := DegToRad(b.Latitude), DegToRad(b.Longitude)

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	if x == 0 && y == 0 {
		return 0
	}

	return NormalizeHeading(RadToDeg(math.Atan2(y, x)))
}

// Destination returns the point reached by travelling distance meters from
// p along the given heading.
func Destination(p Point, heading, distance float64) Point {
	if distance == 0 {
		return p
	}

	lat := DegToRad(p.Latitude)
	lon := DegToRad(p.Longitude)
	brg := DegToRad(heading)
	ang := distance / EarthRadius

	newLat := math.Asin(math.Sin(lat)*math.Cos(ang) + math.Cos(lat)*math.Sin(ang)*math.Cos(brg))
	newLon := lon + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat),
		math.Cos(ang)-math.Sin(lat)*math.Sin(newLat),
	)

	return Point{
		Latitude:  RadToDeg(newLat),
		Longitude: NormalizeLongitude(RadToDeg(newLon)),
	}
}

// NormalizeLongitude maps a longitude into [-180, 180)
func NormalizeLongitude(lon float64) float64 {
	return math.Mod(lon+540, 360) - 180
}

// Valid reports whether the point lies within the legal coordinate range
func (p Point) Valid() bool {
	return !math.IsNaN(p.Latitude) && !math.IsNaN(p.Longitude) &&
		p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
