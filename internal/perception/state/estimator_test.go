package state

import (
	"math"
	"testing"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/track"
)

const (
	originLat = 42.3005
	originLon = -83.6982
)

// harness drives a real tracker so the estimator sees genuine history
// buffers. Raw positions keep the arithmetic exact.
type harness struct {
	t    *testing.T
	tr   *track.Tracker
	est  *Estimator
	proj *perception.Projector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	proj := perception.NewProjector(originLat, originLon)

	cfg := track.DefaultConfig()
	cfg.UseFilteredPosition = false
	cfg.HitsToConfirm = 1
	cfg.OutputPredicted = true
	cfg.GateMeters = 50 // steps jump whole metres per frame
	tr, err := track.NewTracker(cfg, proj)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return &harness{t: t, tr: tr, est: NewEstimator(DefaultConfig(), proj), proj: proj}
}

func (h *harness) step(tsUnixNanos int64, positions ...[2]float64) []perception.TrackedState {
	h.t.Helper()
	objs := make([]perception.FusedObject, len(positions))
	for i, p := range positions {
		lat, lon := h.proj.Inverse(p[0], p[1])
		objs[i] = perception.FusedObject{Lat: lat, Lon: lon, ClassID: 2, Score: 0.9}
	}
	out := h.tr.Step(objs, tsUnixNanos)
	states := h.est.Estimate(out, tsUnixNanos)
	h.est.Prune(h.tr.Live())
	return states
}

func TestEstimate_FiniteDifferenceVelocity(t *testing.T) {
	h := newHarness(t)

	// (0,0) at t=0s then (10,0) at t=2s: velocity (5, 0) m/s.
	h.step(1e9, [2]float64{0, 0})
	states := h.step(3e9, [2]float64{10, 0})

	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	s := states[0]
	if math.Abs(s.VX-5) > 1e-9 || math.Abs(s.VY) > 1e-9 {
		t.Errorf("velocity = (%v, %v), want (5, 0)", s.VX, s.VY)
	}
	if math.Abs(s.SpeedMps-5) > 1e-9 {
		t.Errorf("speed = %v, want 5", s.SpeedMps)
	}
	// Due east is a bearing of π/2.
	if math.Abs(s.HeadingRad-math.Pi/2) > 1e-9 {
		t.Errorf("heading = %v rad, want π/2", s.HeadingRad)
	}
}

func TestEstimate_NewTrackHasZeroVelocity(t *testing.T) {
	h := newHarness(t)

	states := h.step(1e9, [2]float64{4, 4})
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	if states[0].VX != 0 || states[0].VY != 0 || states[0].SpeedMps != 0 {
		t.Errorf("single-sample track reported velocity (%v, %v)", states[0].VX, states[0].VY)
	}
	if states[0].HeadingValid {
		t.Error("single-sample track reported a valid heading")
	}
}

func TestEstimate_HeadingValidLifecycle(t *testing.T) {
	h := newHarness(t)

	// A track that never exceeds the speed floor has no defined heading.
	h.step(1e9, [2]float64{0, 0})
	states := h.step(2e9, [2]float64{0.01, 0})
	if states[0].HeadingValid {
		t.Error("sub-floor motion produced a valid heading")
	}
	if states[0].HeadingRad != 0 {
		t.Errorf("undefined heading = %v rad, want 0", states[0].HeadingRad)
	}

	// Once the track moves, the heading becomes defined and stays
	// defined while the held value is reported below the floor.
	states = h.step(3e9, [2]float64{10, 0})
	if !states[0].HeadingValid {
		t.Fatal("moving track did not report a valid heading")
	}
	states = h.step(4e9, [2]float64{10.01, 0})
	if !states[0].HeadingValid {
		t.Error("held heading lost validity below the speed floor")
	}
}

func TestEstimate_HeadingConventions(t *testing.T) {
	cases := []struct {
		name string
		to   [2]float64
		want float64
	}{
		{"north", [2]float64{0, 10}, 0},
		{"east", [2]float64{10, 0}, math.Pi / 2},
		{"south", [2]float64{0, -10}, math.Pi},
		{"west", [2]float64{-10, 0}, 3 * math.Pi / 2},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.step(1e9, [2]float64{0, 0})
		states := h.step(2e9, tc.to)
		if len(states) != 1 {
			t.Fatalf("%s: expected 1 state, got %d", tc.name, len(states))
		}
		if math.Abs(states[0].HeadingRad-tc.want) > 1e-9 {
			t.Errorf("%s: heading = %v rad, want %v", tc.name, states[0].HeadingRad, tc.want)
		}
	}
}

func TestEstimate_HeadingHeldBelowSpeedFloor(t *testing.T) {
	h := newHarness(t)

	h.step(1e9, [2]float64{0, 0})
	h.step(2e9, [2]float64{10, 0}) // moving east, heading π/2
	// Nearly stationary: speed drops under the floor, heading holds.
	states := h.step(3e9, [2]float64{10.01, 0})

	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	if math.Abs(states[0].HeadingRad-math.Pi/2) > 1e-9 {
		t.Errorf("near-zero speed changed heading to %v rad", states[0].HeadingRad)
	}
}

func TestEstimate_VelocityRetainedOnPredictedFrame(t *testing.T) {
	h := newHarness(t)

	h.step(1e9, [2]float64{0, 0})
	h.step(2e9, [2]float64{3, 0})
	// No observation: the tracker coasts and history gains no sample,
	// so the last finite-difference velocity carries forward.
	states := h.step(3e9)

	if len(states) != 1 {
		t.Fatalf("expected 1 predicted state, got %d", len(states))
	}
	if !states[0].Predicted {
		t.Error("coasting frame not flagged predicted")
	}
	if math.Abs(states[0].VX-3) > 1e-9 {
		t.Errorf("retained velocity = %v, want 3", states[0].VX)
	}
}

func TestEstimate_DegenerateIntervalRetainsVelocity(t *testing.T) {
	proj := perception.NewProjector(originLat, originLon)
	cfg := track.DefaultConfig()
	cfg.UseFilteredPosition = false
	cfg.HitsToConfirm = 1
	cfg.GateMeters = 50
	tr, err := track.NewTracker(cfg, proj)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	est := NewEstimator(DefaultConfig(), proj)

	lat, lon := proj.Inverse(0, 0)
	obj := perception.FusedObject{Lat: lat, Lon: lon, ClassID: 2, Score: 0.9}

	out := tr.Step([]perception.FusedObject{obj}, 1e9)
	est.Estimate(out, 1e9)

	lat, lon = proj.Inverse(5, 0)
	out = tr.Step([]perception.FusedObject{{Lat: lat, Lon: lon, ClassID: 2, Score: 0.9}}, 2e9)
	states := est.Estimate(out, 2e9)
	if math.Abs(states[0].VX-5) > 1e-9 {
		t.Fatalf("setup velocity = %v, want 5", states[0].VX)
	}

	// Duplicate timestamp: dt is zero, the pair is rejected and the
	// previous velocity survives.
	lat, lon = proj.Inverse(6, 0)
	out = tr.Step([]perception.FusedObject{{Lat: lat, Lon: lon, ClassID: 2, Score: 0.9}}, 2e9)
	states = est.Estimate(out, 2e9)
	if math.Abs(states[0].VX-5) > 1e-9 {
		t.Errorf("degenerate interval recomputed velocity: %v", states[0].VX)
	}
	if est.DegenerateIntervals() != 1 {
		t.Errorf("degenerate counter = %d, want 1", est.DegenerateIntervals())
	}
}

func TestPrune_DropsDeadTracks(t *testing.T) {
	h := newHarness(t)

	h.step(1e9, [2]float64{0, 0})
	h.step(2e9, [2]float64{1, 0})
	if len(h.est.prev) != 1 {
		t.Fatalf("expected 1 retained entry, got %d", len(h.est.prev))
	}

	h.est.Prune(nil)
	if len(h.est.prev) != 0 {
		t.Errorf("prune left %d entries for dead tracks", len(h.est.prev))
	}
}
