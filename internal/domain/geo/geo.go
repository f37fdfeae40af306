// Package geo provides coordinate math for tour building.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMetres is the mean earth radius used for great-circle math.
const EarthRadiusMetres = 6371000.0

// Point represents a position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"` // Latitude, positive north
	Lon float64 `json:"lon"` // Longitude, positive east
}

// IsZero reports whether the point is the unset zero value.
// (0,0) is in the Gulf of Guinea, not on anyone's walking tour.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Distance returns the haversine great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMetres * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial bearing from one point to another in degrees [0, 360).
func Bearing(from, to Point) float64 {
	lat1 := radians(from.Lat)
	lat2 := radians(to.Lat)
	dLon := radians(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := degrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

var cardinals = []string{
	"north", "north-east", "east", "south-east",
	"south", "south-west", "west", "north-west",
}

// Cardinal returns the 8-way compass name for a bearing in degrees.
// Sectors are 45 degrees wide, centred on each cardinal.
func Cardinal(bearing float64) string {
	b := math.Mod(math.Mod(bearing, 360)+360, 360)
	idx := int(math.Floor((b+22.5)/45)) % 8
	return cardinals[idx]
}

// FormatDistance renders a distance for narration: metres rounded to the
// nearest 10 below a kilometre, kilometres with one decimal above.
func FormatDistance(metres float64) string {
	if metres < 1000 {
		rounded := int(math.Round(metres/10) * 10)
		return fmt.Sprintf("%d metres", rounded)
	}
	return fmt.Sprintf("%.1f kilometres", metres/1000)
}

// DescribeFrom builds a spoken phrase locating target relative to origin,
// e.g. "About 250 metres to your north-east.". Returns "" when either point
// is unset, and a "right here" phrase under 10 metres.
func DescribeFrom(origin, target Point) string {
	if origin.IsZero() || target.IsZero() {
		return ""
	}
	d := Distance(origin, target)
	if d < 10 {
		return "You are right at this spot."
	}
	return fmt.Sprintf("About %s to your %s.", FormatDistance(d), Cardinal(Bearing(origin, target)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
