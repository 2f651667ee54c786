// Package routing turns an address pair into a walk route using Nominatim and OSRM.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"safestep/pkg/config"
	"safestep/pkg/geo"
	"safestep/pkg/model"
)

// Resolution failure codes shown to the user.
const (
	CodeParamsRequired  = "DESTINATION_PARAMS_REQUIRED"
	CodeLocationFailure = "LOCATION_RESOLUTION_FAILURE"
	CodeOutOfBounds     = "MISSION_DISTANCE_OUT_OF_BOUNDS"
	CodeUplinkFailure   = "UPLINK_COMMUNICATION_ERROR"
)

// ErrNotFound is returned when a geocoder or router has no answer.
var ErrNotFound = errors.New("not found")

// RouteResolutionError reports why a walk could not be planned.
type RouteResolutionError struct {
	Code  string
	Query string
	Err   error
}

func (e *RouteResolutionError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Query, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RouteResolutionError) Unwrap() error {
	return e.Err
}

// Fetcher performs cached GET requests. request.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, u, cacheKey string) ([]byte, error)
}

// Leg is a routed path between two places.
type Leg struct {
	Path            orb.LineString
	DistanceMeters  float64
	DurationSeconds float64
}

// Planner resolves addresses and routes between them.
type Planner struct {
	client       Fetcher
	nominatimURL string
	osrmURL      string
	mode         string
	maxDistance  float64
	logger       *slog.Logger
}

// NewPlanner creates a planner over client.
func NewPlanner(client Fetcher, cfg config.RoutingConfig) *Planner {
	mode := strings.ToLower(cfg.Mode)
	if mode == "" {
		mode = "walking"
	}
	return &Planner{
		client:       client,
		nominatimURL: strings.TrimRight(cfg.NominatimURL, "/"),
		osrmURL:      strings.TrimRight(cfg.OSRMURL, "/"),
		mode:         mode,
		maxDistance:  cfg.MaxDistance.Meters(),
		logger:       slog.With("component", "routing"),
	}
}

// Plan geocodes both addresses and routes between them for program.
func (p *Planner) Plan(ctx context.Context, origin, destination string, program model.Program) (*model.RouteContext, error) {
	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" || destination == "" {
		return nil, &RouteResolutionError{Code: CodeParamsRequired, Err: errors.New("origin and destination are required")}
	}

	from, err := p.Geocode(ctx, origin)
	if err != nil {
		return nil, p.resolutionError(origin, err)
	}
	to, err := p.Geocode(ctx, destination)
	if err != nil {
		return nil, p.resolutionError(destination, err)
	}

	leg, err := p.Route(ctx, from, to)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &RouteResolutionError{Code: CodeOutOfBounds, Err: err}
		}
		return nil, &RouteResolutionError{Code: CodeUplinkFailure, Err: err}
	}
	if p.maxDistance > 0 && leg.DistanceMeters > p.maxDistance {
		return nil, &RouteResolutionError{
			Code: CodeOutOfBounds,
			Err:  fmt.Errorf("route of %.1f km exceeds %.1f km", leg.DistanceMeters/1000, p.maxDistance/1000),
		}
	}

	seconds := int(math.Ceil(leg.DurationSeconds))
	route := &model.RouteContext{
		Origin:          from,
		Destination:     to,
		Distance:        FormatDistance(leg.DistanceMeters),
		DistanceMeters:  leg.DistanceMeters,
		Duration:        FormatDuration(leg.DurationSeconds),
		DurationSeconds: seconds,
		TravelMode:      travelMode(p.mode),
		Voice:           program.Voice,
		Style:           program.Style,
		Path:            leg.Path,
	}
	p.logger.Info("Route planned", "from", from.DisplayName, "to", to.DisplayName, "distance", route.Distance, "duration", route.Duration, "points", len(leg.Path))
	return route, nil
}

func (p *Planner) resolutionError(query string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &RouteResolutionError{Code: CodeLocationFailure, Query: query, Err: err}
	}
	return &RouteResolutionError{Code: CodeUplinkFailure, Query: query, Err: err}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves an address to its best match.
func (p *Planner) Geocode(ctx context.Context, query string) (model.Place, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	u := p.nominatimURL + "/search?" + q.Encode()

	body, err := p.client.Get(ctx, u, "nominatim:"+strings.ToLower(query))
	if err != nil {
		return model.Place{}, fmt.Errorf("geocode %q: %w", query, err)
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return model.Place{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return model.Place{}, fmt.Errorf("geocode %q: %w", query, ErrNotFound)
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if err := errors.Join(errLat, errLon); err != nil {
		return model.Place{}, fmt.Errorf("geocode %q: bad coordinates: %w", query, err)
	}

	return model.Place{
		Query:       query,
		DisplayName: results[0].DisplayName,
		Lat:         lat,
		Lon:         lon,
	}, nil
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64           `json:"distance"`
		Duration float64           `json:"duration"`
		Geometry *geojson.Geometry `json:"geometry"`
	} `json:"routes"`
}

// Route asks OSRM for the path between two places.
func (p *Planner) Route(ctx context.Context, from, to model.Place) (*Leg, error) {
	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", from.Lon, from.Lat, to.Lon, to.Lat)
	u := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=geojson", p.osrmURL, p.mode, coords)

	body, err := p.client.Get(ctx, u, "osrm:"+p.mode+":"+coords)
	if err != nil {
		return nil, fmt.Errorf("route request: %w", err)
	}

	var resp osrmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode route response: %w", err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("no route (%s %s): %w", resp.Code, resp.Message, ErrNotFound)
	}

	r := resp.Routes[0]
	leg := &Leg{DistanceMeters: r.Distance, DurationSeconds: r.Duration}
	if r.Geometry != nil {
		if ls, ok := r.Geometry.Geometry().(orb.LineString); ok {
			leg.Path = ls
		}
	}
	if len(leg.Path) == 0 {
		leg.Path = orb.LineString{from.Point(), to.Point()}
	}
	if leg.DistanceMeters <= 0 {
		leg.DistanceMeters = geo.PathLength(leg.Path)
	}
	return leg, nil
}

// FormatDistance renders meters as "3.2 km".
func FormatDistance(meters float64) string {
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as whole minutes, rounded up.
func FormatDuration(seconds float64) string {
	return fmt.Sprintf("%d min", int(math.Ceil(seconds/60)))
}

func travelMode(mode string) model.TravelMode {
	switch mode {
	case "cycling":
		return model.TravelModeCycling
	case "driving":
		return model.TravelModeDriving
	default:
		return model.TravelModeWalking
	}
}

// healthQuery is geocoded by HealthCheck; after the first run it is answered from the cache.
const healthQuery = "Brandenburger Tor, Berlin"

// HealthCheck verifies the geocoder answers.
func (p *Planner) HealthCheck(ctx context.Context) error {
	if p.nominatimURL == "" || p.osrmURL == "" {
		return errors.New("routing endpoints not configured")
	}
	_, err := p.Geocode(ctx, healthQuery)
	return err
}
