// Package model defines the listing types shared across the application.
package model

import (
	"math"
	"strings"
)

// ListingType classifies a listing row.
type ListingType string

const (
	TypeSublet   ListingType = "sublets"
	TypeExchange ListingType = "exchange"
	TypeUnknown  ListingType = ""
)

// StatusAsk is the spreadsheet's "contact for availability" marker. Listings
// with this status are exempt from date-based exclusion.
const StatusAsk = "ASK"

// Listing is one normalized row of the source spreadsheet.
type Listing struct {
	Name          string      `json:"name,omitempty"`
	Neighbourhood string      `json:"neighbourhood,omitempty"`
	City          string      `json:"city"`
	Country       string      `json:"country,omitempty"`
	Start         string      `json:"start,omitempty"`
	Duration      string      `json:"duration,omitempty"`
	Status        string      `json:"status,omitempty"`
	Type          ListingType `json:"type,omitempty"`
	Contact       string      `json:"contact,omitempty"`
	Link          string      `json:"link,omitempty"`
}

// AskOnly reports whether availability must be requested from the lister.
func (l Listing) AskOnly() bool {
	return strings.EqualFold(strings.TrimSpace(l.Status), StatusAsk)
}

// HasLocation reports whether the listing carries a city-equivalent field.
// Rows without one are dropped at the source boundary and never geocoded.
func (l Listing) HasLocation() bool {
	return strings.TrimSpace(l.City) != ""
}

// Coordinate is a WGS84 longitude/latitude pair.
type Coordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Valid reports whether the coordinate is finite and inside the Web Mercator
// safe range (lat clamped to ±85 rather than ±90).
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) || math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return false
	}
	return c.Lng >= -180 && c.Lng <= 180 && c.Lat >= -85 && c.Lat <= 85
}

// DistanceDegrees returns the Euclidean distance to other in raw degrees.
// Deliberately coarse: the plausibility check compares city-scale offsets,
// not geodesic distances.
func (c Coordinate) DistanceDegrees(other Coordinate) float64 {
	return math.Hypot(other.Lng-c.Lng, other.Lat-c.Lat)
}

// FromRecord builds a Listing from a raw string-keyed spreadsheet record.
// This is the single place that understands the sheet's alternate-casing
// headers ("City" vs "city", the trailing-space "Duration " column) and the
// column-E type fallback; everything downstream sees one canonical field per
// concept.
func FromRecord(rec map[string]string, orderedKeys []string) Listing {
	l := Listing{
		Name:          pick(rec, "Name", "name", "Listing Name"),
		Neighbourhood: pick(rec, "Neighbourhood", "neighbourhood", "Neighborhood", "neighborhood"),
		City:          pick(rec, "City", "city"),
		Country:       pick(rec, "Country", "country"),
		Start:         pick(rec, "Start", "start", "Start Date", "start date"),
		Duration:      pick(rec, "Duration", "Duration ", "duration"),
		Status:        pick(rec, "Status", "status"),
		Contact:       pick(rec, "Contact", "contact", "Email", "email"),
		Link:          pick(rec, "Link", "link", "URL", "url"),
	}
	l.Type = listingType(rec, orderedKeys)
	return l
}

func pick(rec map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// listingType resolves the type column, falling back to column E when no
// recognized header is present (the sheet predates the header rename).
func listingType(rec map[string]string, orderedKeys []string) ListingType {
	v := pick(rec, "Type", "type", "Listing Type", "listing type", "Category", "category")
	if v == "" && len(orderedKeys) >= 5 {
		v = strings.TrimSpace(rec[orderedKeys[4]])
	}
	switch {
	case v == "":
		return TypeUnknown
	case strings.HasPrefix(strings.ToLower(v), "sublet"):
		return TypeSublet
	case strings.HasPrefix(strings.ToLower(v), "exchange"):
		return TypeExchange
	default:
		return TypeUnknown
	}
}
