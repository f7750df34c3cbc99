package fuse

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roadside-data/perception/internal/perception"
)

const (
	originLat = 42.3005
	originLon = -83.6982
)

// detAt builds a localized detection offset from the origin by the
// given metres east and north.
func detAt(sensorID string, eastM, northM float64, classID int, score float64) perception.Detection {
	d := perception.NewDetection([4]float64{0, 0, 10, 10}, classID, score, sensorID, 0)
	proj := perception.NewProjector(originLat, originLon)
	d.Lat, d.Lon = proj.Inverse(eastM, northM)
	return d
}

func twoSensorFuser(t *testing.T, cfg Config) *Fuser {
	t.Helper()
	f, err := NewFuser(
		[]string{"cam-1", "cam-2"},
		[]Zone{{Name: "intersection", Sensors: []string{"cam-1", "cam-2"}}},
		cfg,
	)
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	return f
}

func batchOf(dets ...perception.Detection) *perception.DetectionBatch {
	b := perception.NewDetectionBatch(0, 0)
	for _, d := range dets {
		b.BySensor[d.SensorID] = append(b.BySensor[d.SensorID], d)
	}
	return b
}

func TestFuse_MergesNearbySameClass(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())

	// Two cameras see the same object within a metre of each other.
	batch := batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-2", 0.8, 0, 2, 0.7),
	)

	fused := f.Fuse(batch)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused object, got %d", len(fused))
	}
	if len(fused[0].Sources) != 2 {
		t.Errorf("expected 2 contributing detections, got %d", len(fused[0].Sources))
	}
	if got := fused[0].SensorIDs(); len(got) != 2 {
		t.Errorf("expected contributions from both cameras, got %v", got)
	}
}

func TestFuse_DistantDetectionsStaySeparate(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())

	// 500 m apart is far beyond the gate: two distinct objects.
	batch := batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-2", 500, 0, 2, 0.7),
	)

	fused := f.Fuse(batch)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused objects, got %d", len(fused))
	}
	for _, obj := range fused {
		if len(obj.Sources) != 1 {
			t.Errorf("expected singleton objects, got %d sources", len(obj.Sources))
		}
	}
}

func TestFuse_ClassMismatchBlocksMerge(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())

	// Same spot, different classes: the penalty pushes the pairing
	// beyond the gate.
	batch := batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-2", 0.5, 0, 7, 0.7),
	)

	fused := f.Fuse(batch)
	if len(fused) != 2 {
		t.Fatalf("expected class mismatch to block merging, got %d objects", len(fused))
	}
}

func TestFuse_ThreeCameraChainMerge(t *testing.T) {
	f, err := NewFuser(
		[]string{"cam-1", "cam-2", "cam-3"},
		[]Zone{{Name: "intersection", Sensors: []string{"cam-1", "cam-2", "cam-3"}}},
		DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}

	// One object seen by three overlapping cameras collapses to one
	// fused object through transitive chaining.
	batch := batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-2", 1.0, 0, 2, 0.8),
		detAt("cam-3", 2.0, 0, 2, 0.7),
	)

	fused := f.Fuse(batch)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused object from 3 cameras, got %d", len(fused))
	}
	if len(fused[0].Sources) != 3 {
		t.Errorf("expected 3 contributing detections, got %d", len(fused[0].Sources))
	}
}

func TestFuse_Conservation(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())

	batch := batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-1", 20, 0, 2, 0.8),
		detAt("cam-2", 0.5, 0, 2, 0.85),
		detAt("cam-2", 100, 0, 1, 0.6),
	)

	fused := f.Fuse(batch)
	total := 0
	for _, obj := range fused {
		if len(obj.Sources) == 0 {
			t.Error("fused object with no contributing detections")
		}
		total += len(obj.Sources)
	}
	if total != batch.Count() {
		t.Errorf("conservation violated: %d contributions from %d inputs", total, batch.Count())
	}
}

func TestFuse_Deterministic(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())

	build := func() *perception.DetectionBatch {
		return batchOf(
			detAt("cam-1", 0, 0, 2, 0.9),
			detAt("cam-1", 2.0, 0, 2, 0.8),
			detAt("cam-2", 0.5, 0, 2, 0.85),
			detAt("cam-2", 2.2, 0, 2, 0.8),
		)
	}

	first := f.Fuse(build())
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, f.Fuse(build())); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", i, diff)
		}
	}
}

func TestFuse_SingleSensorZonePassesThrough(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())

	batch := batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-1", 0.2, 0, 2, 0.8),
	)

	// Same camera, nearly identical positions: never merged, a single
	// sensor cannot duplicate-observe one object across itself.
	fused := f.Fuse(batch)
	if len(fused) != 2 {
		t.Fatalf("expected 2 pass-through objects, got %d", len(fused))
	}
}

func TestFuse_UnzonedSensorPassesThrough(t *testing.T) {
	f, err := NewFuser(
		[]string{"cam-1", "cam-2", "cam-3"},
		[]Zone{{Name: "intersection", Sensors: []string{"cam-1", "cam-2"}}},
		DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}

	batch := batchOf(
		detAt("cam-3", 0, 0, 2, 0.9),
	)
	fused := f.Fuse(batch)
	if len(fused) != 1 || len(fused[0].Sources) != 1 {
		t.Fatalf("expected unzoned detection to pass through, got %+v", fused)
	}
}

func TestFuse_EmptyBatch(t *testing.T) {
	f := twoSensorFuser(t, DefaultConfig())
	if fused := f.Fuse(perception.NewDetectionBatch(0, 0)); len(fused) != 0 {
		t.Errorf("expected empty output for empty batch, got %d objects", len(fused))
	}
}

func TestFuse_ScorePolicies(t *testing.T) {
	cases := []struct {
		policy ScorePolicy
		want   float64
	}{
		{ScoreMax, 0.9},
		{ScoreMean, 0.7},
		// Weighted mean of {0.9, 0.5} weighted by themselves:
		// (0.81 + 0.25) / 1.4
		{ScoreWeightedMean, (0.9*0.9 + 0.5*0.5) / 1.4},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Policy = tc.policy
		f := twoSensorFuser(t, cfg)

		fused := f.Fuse(batchOf(
			detAt("cam-1", 0, 0, 2, 0.9),
			detAt("cam-2", 0.5, 0, 2, 0.5),
		))
		if len(fused) != 1 {
			t.Fatalf("%s: expected 1 fused object, got %d", tc.policy, len(fused))
		}
		if math.Abs(fused[0].Score-tc.want) > 1e-9 {
			t.Errorf("%s: score = %v, want %v", tc.policy, fused[0].Score, tc.want)
		}
	}
}

func TestFuse_WeightedCentroid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = ScoreWeightedMean
	f := twoSensorFuser(t, cfg)

	proj := perception.NewProjector(originLat, originLon)
	fused := f.Fuse(batchOf(
		detAt("cam-1", 0, 0, 2, 0.9),
		detAt("cam-2", 1.0, 0, 2, 0.3),
	))
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused object, got %d", len(fused))
	}

	x, _ := proj.Forward(fused[0].Lat, fused[0].Lon)
	want := 0.3 / 1.2 // pulled toward the higher-confidence camera
	if math.Abs(x-want) > 0.01 {
		t.Errorf("weighted centroid east = %v m, want ≈ %v m", x, want)
	}
}

func TestNewFuser_Validation(t *testing.T) {
	cases := []struct {
		name    string
		sensors []string
		zones   []Zone
		cfg     Config
	}{
		{
			name:    "unknown zone sensor",
			sensors: []string{"cam-1"},
			zones:   []Zone{{Name: "z", Sensors: []string{"cam-1", "ghost"}}},
			cfg:     DefaultConfig(),
		},
		{
			name:    "sensor in two zones",
			sensors: []string{"cam-1", "cam-2"},
			zones: []Zone{
				{Name: "a", Sensors: []string{"cam-1", "cam-2"}},
				{Name: "b", Sensors: []string{"cam-2"}},
			},
			cfg: DefaultConfig(),
		},
		{
			name:    "empty zone",
			sensors: []string{"cam-1"},
			zones:   []Zone{{Name: "z"}},
			cfg:     DefaultConfig(),
		},
		{
			name:    "bad policy",
			sensors: []string{"cam-1"},
			cfg:     Config{GateMeters: 3, Policy: "median"},
		},
		{
			name:    "non-positive gate",
			sensors: []string{"cam-1"},
			cfg:     Config{GateMeters: 0, Policy: ScoreMax},
		},
	}

	for _, tc := range cases {
		if _, err := NewFuser(tc.sensors, tc.zones, tc.cfg); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}
