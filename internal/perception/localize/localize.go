package localize

import (
	"fmt"
	"math"

	"github.com/roadside-data/perception/internal/perception"
)

// Localizer maps each detection's image anchor point to a geographic
// coordinate using its sensor's lookup surface.
type Localizer struct {
	surfaces map[string]*Surface
}

// NewLocalizer builds a localizer for the given sensors. Every sensor
// id must have a surface; a missing surface is a configuration error
// and refuses to start.
func NewLocalizer(sensorIDs []string, surfaces map[string]*Surface) (*Localizer, error) {
	for _, id := range sensorIDs {
		s, ok := surfaces[id]
		if !ok || s == nil {
			return nil, fmt.Errorf("no lookup surface for sensor %q", id)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sensor %q: %w", id, err)
		}
	}
	return &Localizer{surfaces: surfaces}, nil
}

// Surface returns the lookup surface for a sensor, if present.
func (l *Localizer) Surface(sensorID string) (*Surface, bool) {
	s, ok := l.surfaces[sensorID]
	return s, ok
}

// Localize fills in Lat/Lon for each detection in place. Anchors that
// fall outside the calibrated surface produce NaN coordinates; those
// detections are dropped by FilterLocalized before fusion, never here.
// Re-running against an unchanged surface yields identical results.
func (l *Localizer) Localize(dets []perception.Detection) {
	for i := range dets {
		s, ok := l.surfaces[dets[i].SensorID]
		if !ok {
			dets[i].Lat = math.NaN()
			dets[i].Lon = math.NaN()
			continue
		}
		u, v := dets[i].Anchor()
		dets[i].Lat, dets[i].Lon = s.At(u, v)
	}
}

// FilterLocalized returns the detections whose coordinates are finite,
// preserving input order, plus the number dropped.
func FilterLocalized(dets []perception.Detection) (kept []perception.Detection, dropped int) {
	kept = make([]perception.Detection, 0, len(dets))
	for _, d := range dets {
		if d.HasGeo() {
			kept = append(kept, d)
		} else {
			dropped++
		}
	}
	return kept, dropped
}
