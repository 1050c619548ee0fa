// Package markers shapes resolved listings into the GeoJSON the map
// renderer consumes. Placement, clustering, and interaction live in the
// frontend; this package only decides which listings get a point and what
// properties ride along.
package markers

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/subletmap/subletmap/internal/dates"
	"github.com/subletmap/subletmap/pkg/geocode"
)

// Collection is the renderer payload: one Point feature per resolved
// listing, plus the indexes of listings that got no pin. Unresolved listings
// stay visible in list views; they just don't appear on the map.
type Collection struct {
	Features   *geojson.FeatureCollection `json:"features"`
	Unresolved []int                      `json:"unresolved,omitempty"`
}

// Build converts batch results into a GeoJSON FeatureCollection. Feature IDs
// are listing indexes so the renderer can join pins back to the sidebar.
func Build(results []geocode.BatchResult) Collection {
	fc := &geojson.FeatureCollection{}
	var unresolved []int

	for _, br := range results {
		if br.Result == nil || !br.Result.Matched {
			unresolved = append(unresolved, br.Index)
			continue
		}

		coord := br.Result.Coordinate
		l := br.Listing
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.Itoa(br.Index),
			Geometry: geom.NewPointFlat(geom.XY, []float64{coord.Lng, coord.Lat}).SetSRID(4326),
			Properties: map[string]any{
				"id":            br.Index,
				"name":          l.Name,
				"neighbourhood": l.Neighbourhood,
				"city":          l.City,
				"country":       l.Country,
				"type":          string(l.Type),
				"start":         dates.FormatReadable(l.Start),
				"dates":         dates.FormatPopup(l.Start, l.Duration),
				"ask_only":      l.AskOnly(),
			},
		})
	}

	return Collection{Features: fc, Unresolved: unresolved}
}

// MarshalGeoJSON serializes just the FeatureCollection, for clients that
// want a raw GeoJSON body.
func (c Collection) MarshalGeoJSON() ([]byte, error) {
	data, err := json.Marshal(c.Features)
	if err != nil {
		return nil, eris.Wrap(err, "markers: marshal feature collection")
	}
	return data, nil
}
