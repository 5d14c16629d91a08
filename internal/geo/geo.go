package geo

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/example/city-rides/internal/models"
)

const earthRadiusKm = 6371.0

// Radius clamp for estimated city operating areas.
const (
	MinCityRadiusKm = 8.0
	MaxCityRadiusKm = 120.0
)

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b models.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Bounds is a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

func (b Bounds) corners() [4]models.GeoPoint {
	return [4]models.GeoPoint{
		{Lat: b.MinLat, Lng: b.MinLng},
		{Lat: b.MinLat, Lng: b.MaxLng},
		{Lat: b.MaxLat, Lng: b.MinLng},
		{Lat: b.MaxLat, Lng: b.MaxLng},
	}
}

// EstimateRadiusKm derives a city operating radius from its bounding
// geometry: the farthest corner from the center, clamped to
// [MinCityRadiusKm, MaxCityRadiusKm].
func EstimateRadiusKm(center models.GeoPoint, bounds Bounds) float64 {
	var max float64
	for _, c := range bounds.corners() {
		if d := Haversine(center, c); d > max {
			max = d
		}
	}
	if max < MinCityRadiusKm {
		return MinCityRadiusKm
	}
	if max > MaxCityRadiusKm {
		return MaxCityRadiusKm
	}
	return max
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases a place name and strips combining marks so
// that "Köln" and "koln" compare equal in containment checks.
func NormalizeName(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
