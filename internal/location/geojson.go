package location

import "github.com/ichi0g0y/ring-overlay/internal/types"

// FeatureCollection は GeoJSON (RFC 7946) のフィード表現。
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Geometry   Point      `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Point の座標は [経度, 緯度] の順。
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type Properties struct {
	Localize map[string]string `json:"localize"`
	Radius   *int              `json:"radius,omitempty"`
}

func NewFeature(loc types.Location) Feature {
	localize := make(map[string]string, len(loc.Names))
	for _, n := range loc.Names {
		localize[n.Lang] = n.Name
	}
	return Feature{
		Type: "Feature",
		ID:   loc.ID.String(),
		Geometry: Point{
			Type:        "Point",
			Coordinates: [2]float64{loc.Position.Longitude, loc.Position.Latitude},
		},
		Properties: Properties{Localize: localize, Radius: loc.Radius},
	}
}

func NewFeatureCollection(list []types.Location) FeatureCollection {
	features := make([]Feature, 0, len(list))
	for _, loc := range list {
		features = append(features, NewFeature(loc))
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
