package perception

import "math"

// Detection is a single object observed by one camera in one frame.
// The pixel box uses image coordinates (x1, y1, x2, y2) with the
// origin at the top-left corner. Lat/Lon are NaN until the localizer
// has run; a detection whose coordinate is still non-finite after
// localization never reaches fusion.
type Detection struct {
	Box         [4]float64 // x1, y1, x2, y2 in pixels
	ClassID     int
	Score       float64
	SensorID    string
	TSUnixNanos int64

	Lat float64
	Lon float64
}

// NewDetection returns a detection with an unset (NaN) coordinate.
func NewDetection(box [4]float64, classID int, score float64, sensorID string, tsUnixNanos int64) Detection {
	return Detection{
		Box:         box,
		ClassID:     classID,
		Score:       score,
		SensorID:    sensorID,
		TSUnixNanos: tsUnixNanos,
		Lat:         math.NaN(),
		Lon:         math.NaN(),
	}
}

// Anchor returns the image-space reference point used for localization:
// the bottom-centre of the bounding box, which is where the object
// touches the ground plane.
func (d *Detection) Anchor() (u, v float64) {
	return (d.Box[0] + d.Box[2]) / 2, d.Box[3]
}

// HasGeo reports whether both coordinate fields are finite.
func (d *Detection) HasGeo() bool {
	return !math.IsNaN(d.Lat) && !math.IsInf(d.Lat, 0) &&
		!math.IsNaN(d.Lon) && !math.IsInf(d.Lon, 0)
}

// DetectionBatch is the full set of detections for one frame step,
// keyed by sensor id. All sensors' frames must be collected into the
// batch before it enters the pipeline; iteration follows the scene's
// configured sensor order so results are reproducible.
type DetectionBatch struct {
	Step        int64
	TSUnixNanos int64
	BySensor    map[string][]Detection
}

// NewDetectionBatch returns an empty batch for the given step.
func NewDetectionBatch(step, tsUnixNanos int64) *DetectionBatch {
	return &DetectionBatch{
		Step:        step,
		TSUnixNanos: tsUnixNanos,
		BySensor:    make(map[string][]Detection),
	}
}

// Count returns the total number of detections across all sensors.
func (b *DetectionBatch) Count() int {
	n := 0
	for _, dets := range b.BySensor {
		n += len(dets)
	}
	return n
}

// FusedObject is one deduplicated observation for a frame step. Sources
// holds every contributing detection; it is never empty, and within one
// fusion pass each input detection appears in exactly one FusedObject.
type FusedObject struct {
	Lat     float64
	Lon     float64
	ClassID int
	Score   float64
	Sources []Detection
}

// SensorIDs returns the distinct contributing sensor ids in source order.
func (f *FusedObject) SensorIDs() []string {
	seen := make(map[string]bool, len(f.Sources))
	ids := make([]string, 0, len(f.Sources))
	for _, d := range f.Sources {
		if !seen[d.SensorID] {
			seen[d.SensorID] = true
			ids = append(ids, d.SensorID)
		}
	}
	return ids
}

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // newly spawned, not yet confirmed
	TrackConfirmed TrackState = "confirmed" // matched enough frames to trust
	TrackDeleted   TrackState = "deleted"   // exceeded miss tolerance, removed
)

// TrackedState is the per-frame output record for one track: its
// identity, geographic position, and estimated kinematics. Predicted is
// true when the position is a motion-model prediction rather than an
// observation-confirmed fix.
type TrackedState struct {
	TrackID     int64
	TSUnixNanos int64

	Lat     float64
	Lon     float64
	ClassID int
	Score   float64

	VX       float64 // m/s east
	VY       float64 // m/s north
	SpeedMps float64

	// HeadingRad is the direction of travel, radians clockwise from
	// true north. HeadingValid is false until the track has moved above
	// the speed floor at least once; HeadingRad is 0 until then.
	HeadingRad   float64
	HeadingValid bool

	State     TrackState
	Predicted bool
}
