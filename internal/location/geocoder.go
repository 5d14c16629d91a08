package location

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
)

// Geocoder is the forward/reverse geocoding contract the resolver and
// ride creation consume.
type Geocoder interface {
	Reverse(ctx context.Context, point models.GeoPoint) (models.ResolvedLocation, error)
	Forward(ctx context.Context, query string) (models.ResolvedLocation, error)
}

// MapsGeocoder implements Geocoder and geo.CityGeocoder on the Google
// Maps geocoding API.
type MapsGeocoder struct {
	client *maps.Client
}

func NewMapsGeocoder(apiKey string) (*MapsGeocoder, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &MapsGeocoder{client: c}, nil
}

func (g *MapsGeocoder) Reverse(ctx context.Context, point models.GeoPoint) (models.ResolvedLocation, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: point.Lat, Lng: point.Lng},
	})
	if err != nil {
		return models.ResolvedLocation{}, fmt.Errorf("reverse geocode: %w", err)
	}
	if len(results) == 0 {
		return models.ResolvedLocation{}, fmt.Errorf("reverse geocode: no result")
	}
	loc := fromResult(results[0])
	loc.Point = point
	return loc, nil
}

func (g *MapsGeocoder) Forward(ctx context.Context, query string) (models.ResolvedLocation, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: query})
	if err != nil {
		return models.ResolvedLocation{}, fmt.Errorf("geocode: %w", err)
	}
	if len(results) == 0 {
		return models.ResolvedLocation{}, fmt.Errorf("geocode: no result")
	}
	return fromResult(results[0]), nil
}

// CityBounds satisfies geo.CityGeocoder using the result's bounds, or
// its viewport when the API returns no hard bounds.
func (g *MapsGeocoder) CityBounds(ctx context.Context, city string) (models.GeoPoint, geo.Bounds, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: city})
	if err != nil {
		return models.GeoPoint{}, geo.Bounds{}, fmt.Errorf("city bounds: %w", err)
	}
	if len(results) == 0 {
		return models.GeoPoint{}, geo.Bounds{}, fmt.Errorf("city bounds: no result for %q", city)
	}
	gm := results[0].Geometry
	center := models.GeoPoint{Lat: gm.Location.Lat, Lng: gm.Location.Lng}
	box := gm.Bounds
	if box.NorthEast.Lat == 0 && box.NorthEast.Lng == 0 && box.SouthWest.Lat == 0 && box.SouthWest.Lng == 0 {
		box = gm.Viewport
	}
	return center, geo.Bounds{
		MinLat: box.SouthWest.Lat,
		MinLng: box.SouthWest.Lng,
		MaxLat: box.NorthEast.Lat,
		MaxLng: box.NorthEast.Lng,
	}, nil
}

func fromResult(r maps.GeocodingResult) models.ResolvedLocation {
	loc := models.ResolvedLocation{
		Point:   models.GeoPoint{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
		Address: r.FormattedAddress,
		City:    "Unknown",
	}
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "locality":
				loc.City = comp.LongName
			case "country":
				loc.CountryCode = comp.ShortName
			}
		}
	}
	return loc
}
