package markers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subletmap/subletmap/internal/model"
	"github.com/subletmap/subletmap/pkg/geocode"
)

func sampleResults() []geocode.BatchResult {
	return []geocode.BatchResult{
		{
			Index: 0,
			Listing: model.Listing{
				Name:          "Cozy flat",
				Neighbourhood: "El Born",
				City:          "Barcelona",
				Country:       "Spain",
				Start:         "4/4/2025",
				Duration:      "2 months",
				Type:          model.TypeSublet,
			},
			Result: &geocode.Result{
				Coordinate: model.Coordinate{Lng: 2.1819, Lat: 41.3853},
				Matched:    true,
			},
		},
		{
			Index:   1,
			Listing: model.Listing{City: "Atlantis"},
			Result:  &geocode.Result{Matched: false},
		},
		{
			Index: 2,
			Listing: model.Listing{
				City:   "Amsterdam",
				Status: "ASK",
			},
			Result: &geocode.Result{
				Coordinate: model.Coordinate{Lng: 4.89, Lat: 52.37},
				Matched:    true,
			},
		},
	}
}

func TestBuild(t *testing.T) {
	c := Build(sampleResults())

	require.NotNil(t, c.Features)
	require.Len(t, c.Features.Features, 2)
	assert.Equal(t, []int{1}, c.Unresolved)

	f := c.Features.Features[0]
	assert.Equal(t, "0", f.ID)
	assert.Equal(t, []float64{2.1819, 41.3853}, f.Geometry.FlatCoords())

	props := f.Properties
	assert.Equal(t, "Cozy flat", props["name"])
	assert.Equal(t, "El Born", props["neighbourhood"])
	assert.Equal(t, "Barcelona", props["city"])
	assert.Equal(t, "sublets", props["type"])
	assert.Equal(t, "4th April 2025", props["start"])
	assert.Equal(t, "Apr 2025 • 2 months", props["dates"])
	assert.Equal(t, false, props["ask_only"])

	ask := c.Features.Features[1]
	assert.Equal(t, "2", ask.ID)
	assert.Equal(t, true, ask.Properties["ask_only"])
	assert.Equal(t, "Available", ask.Properties["start"])
	assert.Equal(t, "Flexible dates", ask.Properties["dates"])
}

func TestBuild_Empty(t *testing.T) {
	c := Build(nil)
	require.NotNil(t, c.Features)
	assert.Empty(t, c.Features.Features)
	assert.Empty(t, c.Unresolved)
}

func TestBuild_NilResult(t *testing.T) {
	c := Build([]geocode.BatchResult{{Index: 0, Listing: model.Listing{City: "X"}}})
	assert.Empty(t, c.Features.Features)
	assert.Equal(t, []int{0}, c.Unresolved)
}

func TestMarshalGeoJSON(t *testing.T) {
	data, err := Build(sampleResults()).MarshalGeoJSON()
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{2.1819, 41.3853}, fc.Features[0].Geometry.Coordinates)
}
