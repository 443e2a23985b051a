package amcl

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint           GeometryType = "Point"
	GeometryLineString      GeometryType = "LineString"
	GeometryMultiPoint      GeometryType = "MultiPoint"
	GeometryMultiLineString GeometryType = "MultiLineString"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates a new empty FeatureCollection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

// AddFeature appends a feature to the collection
func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{Type: "Feature", Geometry: geom, Properties: props}
}

func lineStringToGeometry(ls orb.LineString) *Geometry {
	coords := make([][2]float64, len(ls))
	for i, p := range ls {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{Type: GeometryLineString, Coordinates: coordsJSON}
}

func multiPointToGeometry(mp orb.MultiPoint) *Geometry {
	coords := make([][2]float64, len(mp))
	for i, p := range mp {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{Type: GeometryMultiPoint, Coordinates: coordsJSON}
}

// MapOutline traces the occupied cells of the map into world-space wall
// segments, one LineString per maximal horizontal run of two or more
// adjacent occupied cells in a grid row, simplified with Douglas-Peucker at
// the given tolerance in meters. Vertical runs are not traced, so a wall one
// cell wide along y yields no segments.
func MapOutline(m *Map, tolerance float64) *FeatureCollection {
	fc := NewFeatureCollection()

	addRun := func(ls orb.LineString) {
		if len(ls) < 2 {
			return
		}
		if tolerance > 0 {
			ls = simplify.DouglasPeucker(tolerance).Simplify(ls).(orb.LineString)
		}
		fc.AddFeature(NewFeature(lineStringToGeometry(ls), map[string]interface{}{
			"kind": "wall",
		}))
	}

	// Horizontal runs.
	for j := 0; j < m.SizeY; j++ {
		var run orb.LineString
		for i := 0; i < m.SizeX; i++ {
			if m.Cells[m.Index(i, j)].OccState == OccOccupied {
				x, y := m.GridToWorld(i, j)
				run = append(run, orb.Point{x, y})
			} else {
				addRun(run)
				run = nil
			}
		}
		addRun(run)
	}
	return fc
}

// CloudFeatures packs the particle cloud and the best-hypothesis pose into
// a FeatureCollection for visualization clients.
func CloudFeatures(poses []Pose, best *PoseEstimate) *FeatureCollection {
	fc := NewFeatureCollection()

	mp := make(orb.MultiPoint, len(poses))
	for i, p := range poses {
		mp[i] = orb.Point{p.X, p.Y}
	}
	fc.AddFeature(NewFeature(multiPointToGeometry(mp), map[string]interface{}{
		"kind":  "particles",
		"count": len(poses),
	}))

	if best != nil {
		coordsJSON, _ := json.Marshal([2]float64{best.Pose.X, best.Pose.Y})
		fc.AddFeature(NewFeature(&Geometry{Type: GeometryPoint, Coordinates: coordsJSON},
			map[string]interface{}{
				"kind":  "best",
				"yaw":   best.Pose.Theta,
				"stamp": best.Stamp,
			}))
	}
	return fc
}
