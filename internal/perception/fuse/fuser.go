// Package fuse collapses cross-camera duplicate detections into single
// fused observations. Fusion is scoped by configured coverage zones:
// only sensors whose fields of view overlap are matched against each
// other, pairwise with optimal assignment, then chained transitively
// with a disjoint-set over detection indices.
package fuse

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/assign"
)

// ScorePolicy selects how a fused object's confidence is aggregated
// from its contributing detections.
type ScorePolicy string

const (
	ScoreMax          ScorePolicy = "max"
	ScoreMean         ScorePolicy = "mean"
	ScoreWeightedMean ScorePolicy = "weighted_mean"
)

// Zone names a group of sensors whose fields of view overlap. Sensors
// listed in a zone are fused against each other; a sensor may appear
// in at most one zone.
type Zone struct {
	Name    string
	Sensors []string
}

// Config holds fusion tuning parameters.
type Config struct {
	// GateMeters is the maximum geographic distance at which two
	// detections from different cameras may merge.
	GateMeters float64

	// ClassMismatchPenaltyMeters is added to the pairing cost when the
	// two detections disagree on class. Set it above GateMeters to make
	// cross-class merging prohibitively expensive (the default), or to
	// zero to ignore class entirely.
	ClassMismatchPenaltyMeters float64

	// Policy selects the confidence aggregation across contributors.
	Policy ScorePolicy
}

// DefaultConfig returns production-default fusion parameters.
func DefaultConfig() Config {
	return Config{
		GateMeters:                 3.0,
		ClassMismatchPenaltyMeters: 1e6,
		Policy:                     ScoreMax,
	}
}

// Fuser merges per-sensor detections for one frame into deduplicated
// fused objects. It is stateless across frames.
type Fuser struct {
	cfg         Config
	sensorOrder []string
	zoneOf      map[string]int // sensor id → index into zones, -1 absent
	zones       []Zone
}

// NewFuser builds a fuser for the given scene. sensorOrder fixes the
// deterministic iteration order for tie-breaking; every zone sensor
// must appear in it, and no sensor may belong to two zones.
func NewFuser(sensorOrder []string, zones []Zone, cfg Config) (*Fuser, error) {
	known := make(map[string]bool, len(sensorOrder))
	for _, id := range sensorOrder {
		if known[id] {
			return nil, fmt.Errorf("duplicate sensor %q in sensor order", id)
		}
		known[id] = true
	}

	zoneOf := make(map[string]int, len(sensorOrder))
	for zi, z := range zones {
		if len(z.Sensors) == 0 {
			return nil, fmt.Errorf("coverage zone %q lists no sensors", z.Name)
		}
		for _, id := range z.Sensors {
			if !known[id] {
				return nil, fmt.Errorf("coverage zone %q references unknown sensor %q", z.Name, id)
			}
			if prev, dup := zoneOf[id]; dup {
				return nil, fmt.Errorf("sensor %q appears in zones %q and %q", id, zones[prev].Name, z.Name)
			}
			zoneOf[id] = zi
		}
	}

	switch cfg.Policy {
	case ScoreMax, ScoreMean, ScoreWeightedMean:
	case "":
		cfg.Policy = ScoreMax
	default:
		return nil, fmt.Errorf("unknown score policy %q", cfg.Policy)
	}
	if cfg.GateMeters <= 0 {
		return nil, fmt.Errorf("fusion gate must be positive, got %v", cfg.GateMeters)
	}

	return &Fuser{
		cfg:         cfg,
		sensorOrder: sensorOrder,
		zoneOf:      zoneOf,
		zones:       zones,
	}, nil
}

// entry is one localized detection tagged with its position in the
// zone's stable enumeration.
type entry struct {
	det    perception.Detection
	sensor int // index into the zone's sensor list
}

// Fuse merges the batch's localized detections into fused objects.
// Detections must already be filtered to finite coordinates. Every
// input detection contributes to exactly one returned object; the
// output order is deterministic for identical inputs.
func (f *Fuser) Fuse(batch *perception.DetectionBatch) []perception.FusedObject {
	if batch == nil {
		return nil
	}

	fused := make([]perception.FusedObject, 0, batch.Count())

	// Zone detections first, in zone order, then pass-through
	// singletons for sensors outside every zone, in sensor order.
	for zi := range f.zones {
		fused = append(fused, f.fuseZone(zi, batch)...)
	}
	for _, sensorID := range f.sensorOrder {
		if _, zoned := f.zoneOf[sensorID]; zoned {
			continue
		}
		for _, det := range batch.BySensor[sensorID] {
			fused = append(fused, f.singleton(det))
		}
	}
	return fused
}

// fuseZone runs pairwise assignment between every ordered sensor pair
// in the zone and chains the accepted pairs through a disjoint set.
func (f *Fuser) fuseZone(zi int, batch *perception.DetectionBatch) []perception.FusedObject {
	zone := f.zones[zi]

	// Stable enumeration: zone sensor order, then detection index.
	var entries []entry
	offsets := make([]int, len(zone.Sensors)) // start of each sensor's entries
	for si, sensorID := range zone.Sensors {
		offsets[si] = len(entries)
		for _, det := range batch.BySensor[sensorID] {
			entries = append(entries, entry{det: det, sensor: si})
		}
	}
	if len(entries) == 0 {
		return nil
	}

	uf := newUnionFind(len(entries))

	// A zone with detections from a single sensor performs no matching;
	// every ordered pair below has an empty side and contributes nothing.
	for si := 0; si < len(zone.Sensors); si++ {
		for sj := si + 1; sj < len(zone.Sensors); sj++ {
			rows := entriesOf(entries, offsets, si)
			cols := entriesOf(entries, offsets, sj)
			if len(rows) == 0 || len(cols) == 0 {
				continue
			}

			cost := make([][]float64, len(rows))
			for i, ri := range rows {
				cost[i] = make([]float64, len(cols))
				for j, cj := range cols {
					a, b := entries[ri].det, entries[cj].det
					c := perception.HaversineMeters(a.Lat, a.Lon, b.Lat, b.Lon)
					if a.ClassID != b.ClassID {
						c += f.cfg.ClassMismatchPenaltyMeters
					}
					cost[i][j] = c
				}
			}

			match := assign.MatchWithGate(cost, len(cols), f.cfg.GateMeters)
			for _, pair := range match.Pairs {
				uf.union(rows[pair[0]], cols[pair[1]])
			}
		}
	}

	groups := uf.groups()
	fused := make([]perception.FusedObject, 0, len(groups))
	for _, group := range groups {
		dets := make([]perception.Detection, 0, len(group))
		for _, idx := range group {
			dets = append(dets, entries[idx].det)
		}
		fused = append(fused, f.merge(dets))
	}
	if len(groups) != len(entries) {
		perception.Tracef("[fuse] zone %s: %d detections → %d objects", zone.Name, len(entries), len(groups))
	}
	return fused
}

// entriesOf returns the entry indices belonging to zone sensor si.
func entriesOf(entries []entry, offsets []int, si int) []int {
	end := len(entries)
	if si+1 < len(offsets) {
		end = offsets[si+1]
	}
	idx := make([]int, 0, end-offsets[si])
	for i := offsets[si]; i < end; i++ {
		idx = append(idx, i)
	}
	return idx
}

func (f *Fuser) singleton(det perception.Detection) perception.FusedObject {
	return perception.FusedObject{
		Lat:     det.Lat,
		Lon:     det.Lon,
		ClassID: det.ClassID,
		Score:   det.Score,
		Sources: []perception.Detection{det},
	}
}

// merge collapses a matched group into one fused object. The fused
// coordinate is the plain or score-weighted centroid depending on the
// configured policy; the class label comes from the highest-scoring
// contributor (groups are same-class whenever the mismatch penalty
// exceeds the gate).
func (f *Fuser) merge(dets []perception.Detection) perception.FusedObject {
	if len(dets) == 1 {
		return f.singleton(dets[0])
	}

	lats := make([]float64, len(dets))
	lons := make([]float64, len(dets))
	scores := make([]float64, len(dets))
	for i, d := range dets {
		lats[i] = d.Lat
		lons[i] = d.Lon
		scores[i] = d.Score
	}

	weightSum := 0.0
	for _, s := range scores {
		weightSum += s
	}

	var lat, lon, score float64
	switch f.cfg.Policy {
	case ScoreWeightedMean:
		if weightSum <= 0 {
			// Degenerate zero-confidence group: fall back to the plain centroid.
			lat = stat.Mean(lats, nil)
			lon = stat.Mean(lons, nil)
			score = 0
			break
		}
		lat = stat.Mean(lats, scores)
		lon = stat.Mean(lons, scores)
		score = stat.Mean(scores, scores)
	case ScoreMean:
		lat = stat.Mean(lats, nil)
		lon = stat.Mean(lons, nil)
		score = stat.Mean(scores, nil)
	default: // ScoreMax: centroid position, best score
		lat = stat.Mean(lats, nil)
		lon = stat.Mean(lons, nil)
		score = scores[0]
		for _, s := range scores[1:] {
			if s > score {
				score = s
			}
		}
	}

	best := 0
	for i, d := range dets {
		if d.Score > dets[best].Score {
			best = i
		}
	}

	return perception.FusedObject{
		Lat:     lat,
		Lon:     lon,
		ClassID: dets[best].ClassID,
		Score:   score,
		Sources: dets,
	}
}
