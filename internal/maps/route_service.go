package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"bora/internal/modules/eta"
	"bora/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client   *maps.Client
	language string
	region   string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, language, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: language, region: region}, nil
}

// TravelTime asks the Distance Matrix API for the driving time between two coordinates.
// Traffic-aware duration is preferred when the API returns one.
func (s *RouteService) TravelTime(ctx context.Context, from, to types.Point) (time.Duration, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:       []string{latLng(from)},
		Destinations:  []string{latLng(to)},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		Language:      s.language,
	}

	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, ErrNoRoute
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("%w: element status %s", ErrNoRoute, el.Status)
	}
	if el.DurationInTraffic > 0 {
		return el.DurationInTraffic, nil
	}
	return el.Duration, nil
}

// Route resolves free-form addresses into a driving route. It assumes driving mode.
func (s *RouteService) Route(ctx context.Context, origin, destination string) (eta.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Language:    s.language,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return eta.Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return eta.Route{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return eta.Route{
		Duration:   leg.Duration,
		DistanceKm: float64(leg.Distance.Meters) / 1000,
	}, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
