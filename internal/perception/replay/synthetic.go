package replay

import (
	"math"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/fuse"
	"github.com/roadside-data/perception/internal/perception/localize"
)

// Synthetic scenario geometry: two cameras with fully overlapping
// coverage of a 100 m eastbound road strip.
const (
	synthOriginLat = 42.3005
	synthOriginLon = -83.6982

	synthEastMeters  = 100.0
	synthNorthMeters = 30.0
	synthCellMeters  = 0.5
	synthStride      = 8.0

	synthBoxWidth  = 40.0
	synthBoxHeight = 30.0
)

type synthObject struct {
	classID    int
	startEast  float64
	north      float64
	speedMps   float64
	firstFrame int
}

// SyntheticScenario is a self-contained deterministic input set: a
// scene layout, per-camera calibration surfaces, and a sequence of
// detection frames describing vehicles moving through the overlap.
// Two runs with the same parameters produce identical frames.
type SyntheticScenario struct {
	OriginLat float64
	OriginLon float64
	SensorIDs []string
	Zones     []fuse.Zone
	Surfaces  map[string]*localize.Surface
	Frames    []*perception.DetectionBatch
}

// NewSyntheticScenario builds frames at the given rate. Three vehicles
// drive east through the shared coverage zone; both cameras report
// each one while it remains inside the calibrated strip.
func NewSyntheticScenario(frames int, hz float64) *SyntheticScenario {
	if hz <= 0 {
		hz = 10
	}
	proj := perception.NewProjector(synthOriginLat, synthOriginLon)
	sensorIDs := []string{"cam-east", "cam-west"}

	s := &SyntheticScenario{
		OriginLat: synthOriginLat,
		OriginLon: synthOriginLon,
		SensorIDs: sensorIDs,
		Zones:     []fuse.Zone{{Name: "overlap", Sensors: sensorIDs}},
		Surfaces:  make(map[string]*localize.Surface, len(sensorIDs)),
	}
	for _, id := range sensorIDs {
		s.Surfaces[id] = synthSurface(id, proj)
	}

	objects := []synthObject{
		{classID: 2, startEast: 2, north: 5, speedMps: 8, firstFrame: 0},
		{classID: 7, startEast: 5, north: 12, speedMps: 6, firstFrame: 0},
		{classID: 2, startEast: 0, north: 20, speedMps: 10, firstFrame: 5},
	}
	scores := map[string]float64{"cam-east": 0.9, "cam-west": 0.8}

	frameInterval := 1.0 / hz
	for frame := 0; frame < frames; frame++ {
		ts := int64(1e9) + int64(float64(frame)*frameInterval*1e9)
		batch := perception.NewDetectionBatch(int64(frame), ts)
		for _, obj := range objects {
			if frame < obj.firstFrame {
				continue
			}
			east := obj.startEast + obj.speedMps*float64(frame-obj.firstFrame)*frameInterval
			if east < 0 || east >= synthEastMeters {
				continue
			}
			for _, id := range sensorIDs {
				u, v := synthPixel(east, obj.north)
				det := perception.NewDetection(
					[4]float64{u - synthBoxWidth/2, v - synthBoxHeight, u + synthBoxWidth/2, v},
					obj.classID, scores[id], id, ts,
				)
				batch.BySensor[id] = append(batch.BySensor[id], det)
			}
		}
		s.Frames = append(s.Frames, batch)
	}
	return s
}

// synthSurface builds a planar calibration raster covering the strip:
// cell (cx, cy) maps to the geographic position of local metres
// (cx·cell, cy·cell) east/north of the origin.
func synthSurface(sensorID string, proj *perception.Projector) *localize.Surface {
	width := int(synthEastMeters/synthCellMeters) + 1
	height := int(synthNorthMeters/synthCellMeters) + 1
	s := &localize.Surface{
		SensorID: sensorID,
		Width:    width,
		Height:   height,
		Stride:   synthStride,
		Lat:      make([]float64, width*height),
		Lon:      make([]float64, width*height),
	}
	for cy := 0; cy < height; cy++ {
		for cx := 0; cx < width; cx++ {
			east := float64(cx) * synthCellMeters
			north := float64(cy) * synthCellMeters
			idx := cy*width + cx
			s.Lat[idx], s.Lon[idx] = proj.Inverse(east, north)
		}
	}
	return s
}

// synthPixel places a bottom-centre anchor at the middle of the cell
// containing the given local position, so the surface lookup recovers
// the position quantized to the cell grid.
func synthPixel(east, north float64) (u, v float64) {
	cx := math.Floor(east / synthCellMeters)
	cy := math.Floor(north / synthCellMeters)
	return (cx + 0.5) * synthStride, (cy + 0.5) * synthStride
}
