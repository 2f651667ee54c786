package model

import (
	"github.com/paulmach/orb"
)

// TravelMode is the routing profile of a walk.
type TravelMode string

const (
	TravelModeWalking TravelMode = "WALKING"
	TravelModeCycling TravelMode = "CYCLING"
	TravelModeDriving TravelMode = "DRIVING"
)

// Place is a geocoded address.
type Place struct {
	Query       string  `json:"query"`        // What the user typed
	DisplayName string  `json:"display_name"` // What the geocoder resolved it to
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// Point returns the place as an orb point (lon, lat).
func (p Place) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// RouteContext is the immutable description of one walk.
// It is created once when the walk is planned and never mutated afterwards.
type RouteContext struct {
	Origin      Place `json:"origin"`
	Destination Place `json:"destination"`

	Distance        string  `json:"distance"` // e.g. "3.2 km"
	DistanceMeters  float64 `json:"distance_meters"`
	Duration        string  `json:"duration"` // e.g. "38 min"
	DurationSeconds int     `json:"duration_seconds"`

	TravelMode TravelMode    `json:"travel_mode"`
	Voice      string        `json:"voice"`
	Style      GuardianStyle `json:"style"`

	// Path is the routed geometry in (lon, lat) order.
	Path orb.LineString `json:"-"`
}

// StartAddress returns the best label for the origin.
func (r *RouteContext) StartAddress() string {
	return r.Origin.label()
}

// EndAddress returns the best label for the destination.
func (r *RouteContext) EndAddress() string {
	return r.Destination.label()
}

func (p Place) label() string {
	if p.Query != "" {
		return p.Query
	}
	return p.DisplayName
}
