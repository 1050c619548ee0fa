package geocode

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/subletmap/subletmap/internal/model"
)

// SpecialPlace is a hand-tuned override for a neighbourhood the provider
// routinely mislocates. Its Queries are tried ahead of the generic candidate
// list, and Fallback (when set) is returned as a last resort after every
// query has failed.
type SpecialPlace struct {
	Name     string            `yaml:"name"`
	City     string            `yaml:"city"`
	Country  string            `yaml:"country"`
	Queries  []string          `yaml:"queries,omitempty"`
	Fallback *model.Coordinate `yaml:"fallback,omitempty"`
}

// SpecialPlaces is a lookup table keyed by normalized neighbourhood name.
type SpecialPlaces map[string]SpecialPlace

// DefaultSpecialPlaces returns the built-in override table. El Born is the
// canonical case: Mapbox tends to match the name far from Barcelona's old
// quarter unless the query is phrased just so.
func DefaultSpecialPlaces() SpecialPlaces {
	return specialPlacesFrom([]SpecialPlace{
		{
			Name:    "El Born",
			City:    "Barcelona",
			Country: "Spain",
			Queries: []string{
				"El Born, Barcelona, Spain",
				"El Borne, Barcelona, Spain",
				"La Ribera, Barcelona, Spain",
			},
			Fallback: &model.Coordinate{Lng: 2.1819, Lat: 41.3853},
		},
	})
}

// LoadSpecialPlaces reads an override table from a YAML file. An empty path
// returns the defaults.
func LoadSpecialPlaces(path string) (SpecialPlaces, error) {
	if path == "" {
		return DefaultSpecialPlaces(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read special places file")
	}
	var places []SpecialPlace
	if err := yaml.Unmarshal(data, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: parse special places file")
	}
	return specialPlacesFrom(places), nil
}

// Lookup finds the override for a neighbourhood, matching case-insensitively
// on the normalized name.
func (s SpecialPlaces) Lookup(neighbourhood string) (SpecialPlace, bool) {
	p, ok := s[normalizeKey(neighbourhood)]
	return p, ok
}

// Match reports whether the listing's neighbourhood and city match the
// override. Country is ignored: sheets leave it blank more often than not.
func (p SpecialPlace) Match(l model.Listing) bool {
	return normalizeKey(l.Neighbourhood) == normalizeKey(p.Name) &&
		(p.City == "" || strings.EqualFold(strings.TrimSpace(l.City), p.City))
}

func specialPlacesFrom(places []SpecialPlace) SpecialPlaces {
	table := make(SpecialPlaces, len(places))
	for _, p := range places {
		table[normalizeKey(p.Name)] = p
	}
	return table
}
