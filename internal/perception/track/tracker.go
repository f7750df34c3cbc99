// Package track maintains persistent object identities across frames.
// It implements a SORT-style tracker: per-frame motion prediction,
// gated optimal assignment between predicted tracks and fused
// observations, Kalman or pass-through position update, and explicit
// tentative → confirmed → deleted lifecycle bookkeeping.
package track

import (
	"fmt"
	"math"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/assign"
)

// MotionModel selects how a track's position is advanced between frames.
type MotionModel string

const (
	// MotionConstantVelocity advances position by the estimated velocity.
	MotionConstantVelocity MotionModel = "cv"
	// MotionConstantPosition holds position and only inflates uncertainty,
	// appropriate for near-stationary scenes.
	MotionConstantPosition MotionModel = "cp"
)

// Config holds tracker tuning parameters.
type Config struct {
	// GateMeters is the maximum association distance between a track's
	// predicted position and an observation.
	GateMeters float64

	// MaxMisses is the number of consecutive unmatched frames a
	// tentative track survives; deletion happens when the miss counter
	// exceeds it.
	MaxMisses int

	// MaxMissesConfirmed is the tolerance for confirmed tracks. Zero
	// means use MaxMisses.
	MaxMissesConfirmed int

	// HitsToConfirm promotes a tentative track after this many hits
	// (spawning counts as the first).
	HitsToConfirm int

	// UseFilteredPosition blends prediction and observation through the
	// Kalman filter; when false the raw observation is used directly.
	UseFilteredPosition bool

	// OutputPredicted additionally emits confirmed tracks that went
	// unmatched this frame, carrying their predicted positions.
	OutputPredicted bool

	// ClassGating forbids associating a track with an observation of a
	// different class.
	ClassGating bool

	MotionModel     MotionModel
	HistoryCapacity int
	MaxTracks       int

	ProcessNoisePos  float64
	ProcessNoiseVel  float64
	MeasurementNoise float64
}

// DefaultConfig returns production-default tracker parameters.
func DefaultConfig() Config {
	return Config{
		GateMeters:          5.0,
		MaxMisses:           3,
		MaxMissesConfirmed:  10,
		HitsToConfirm:       3,
		UseFilteredPosition: true,
		OutputPredicted:     false,
		ClassGating:         true,
		MotionModel:         MotionConstantVelocity,
		HistoryCapacity:     32,
		MaxTracks:           256,
		ProcessNoisePos:     0.1,
		ProcessNoiseVel:     0.5,
		MeasurementNoise:    0.2,
	}
}

// Track is a persistent object identity. Tracks are exclusively owned
// and mutated by their Tracker; downstream consumers receive them
// read-only between Step calls.
type Track struct {
	ID    int64
	State perception.TrackState

	ClassID int
	Score   float64

	Hits   int // consecutive successful associations
	Misses int // consecutive missed associations

	FirstUnixNanos int64
	LastUnixNanos  int64

	// Predicted is true when the current position came from the motion
	// model rather than an observation this frame.
	Predicted bool

	filter  filterState
	History *History
}

// Position returns the track's current position in local metres.
func (t *Track) Position() (x, y float64) {
	return t.filter.X, t.filter.Y
}

// Velocity returns the Kalman velocity estimate in m/s. The finite-
// difference state estimator produces the published velocity; this one
// only drives motion prediction.
func (t *Track) Velocity() (vx, vy float64) {
	return t.filter.VX, t.filter.VY
}

// Tracker owns the live track set. It is not safe for concurrent use;
// the pipeline calls Step strictly once per frame.
type Tracker struct {
	cfg  Config
	proj *perception.Projector

	tracks        []*Track // ascending ID order
	nextID        int64
	lastUnixNanos int64
}

// NewTracker creates a tracker for a scene anchored at proj's origin.
func NewTracker(cfg Config, proj *perception.Projector) (*Tracker, error) {
	switch cfg.MotionModel {
	case MotionConstantVelocity, MotionConstantPosition:
	case "":
		cfg.MotionModel = MotionConstantVelocity
	default:
		return nil, fmt.Errorf("unknown motion model %q", cfg.MotionModel)
	}
	if cfg.GateMeters <= 0 {
		return nil, fmt.Errorf("association gate must be positive, got %v", cfg.GateMeters)
	}
	if cfg.HitsToConfirm < 1 {
		cfg.HitsToConfirm = 1
	}
	if cfg.HistoryCapacity < 2 {
		cfg.HistoryCapacity = 32
	}
	if proj == nil {
		return nil, fmt.Errorf("tracker requires a projector")
	}
	return &Tracker{cfg: cfg, proj: proj, nextID: 1}, nil
}

// Live returns all live tracks in ascending id order.
func (tr *Tracker) Live() []*Track {
	out := make([]*Track, len(tr.tracks))
	copy(out, tr.tracks)
	return out
}

// Step processes one frame of fused observations: predict, associate,
// update, cull, spawn. It returns the frame's output selection —
// confirmed tracks updated by an observation, plus (when
// OutputPredicted is set) confirmed tracks coasting on their
// predictions. The returned slice is ordered by ascending track id.
func (tr *Tracker) Step(objs []perception.FusedObject, tsUnixNanos int64) []*Track {
	// Time delta since the previous accepted frame. Out-of-order
	// timestamps predict over a zero interval rather than backwards.
	var dt float64
	if tr.lastUnixNanos > 0 {
		dt = float64(tsUnixNanos-tr.lastUnixNanos) / 1e9
		if dt < 0 {
			perception.Diagf("[track] non-monotonic frame timestamp: %d after %d", tsUnixNanos, tr.lastUnixNanos)
			dt = 0
		}
	}
	tr.lastUnixNanos = tsUnixNanos

	// 1. Predict every live track to the current timestamp.
	predictDt := dt
	if tr.cfg.MotionModel == MotionConstantPosition {
		predictDt = 0
	}
	for _, t := range tr.tracks {
		t.filter.predict(predictDt, tr.cfg.ProcessNoisePos, tr.cfg.ProcessNoiseVel)
		t.Predicted = true
	}

	// 2. Associate predicted tracks with observations. Rows follow
	// ascending track id, columns the observation input order, so equal
	// costs resolve to the lowest id / lowest index pair.
	obsX := make([]float64, len(objs))
	obsY := make([]float64, len(objs))
	for j := range objs {
		obsX[j], obsY[j] = tr.proj.Forward(objs[j].Lat, objs[j].Lon)
	}

	cost := make([][]float64, len(tr.tracks))
	for i, t := range tr.tracks {
		cost[i] = make([]float64, len(objs))
		for j := range objs {
			if tr.cfg.ClassGating && t.ClassID != objs[j].ClassID {
				cost[i][j] = assign.Forbidden
				continue
			}
			dx := obsX[j] - t.filter.X
			dy := obsY[j] - t.filter.Y
			cost[i][j] = math.Hypot(dx, dy)
		}
	}
	match := assign.MatchWithGate(cost, len(objs), tr.cfg.GateMeters)

	// 3. Update matched tracks.
	for _, pair := range match.Pairs {
		t := tr.tracks[pair[0]]
		obj := objs[pair[1]]
		zx, zy := obsX[pair[1]], obsY[pair[1]]

		if tr.cfg.UseFilteredPosition {
			if !t.filter.update(zx, zy, tr.cfg.MeasurementNoise) {
				perception.Diagf("[track] %d: singular innovation covariance, raw position used", t.ID)
				t.filter.X, t.filter.Y = zx, zy
			}
		} else {
			t.filter.X, t.filter.Y = zx, zy
		}

		t.Hits++
		t.Misses = 0
		t.Predicted = false
		t.LastUnixNanos = tsUnixNanos
		t.ClassID = obj.ClassID // last vote wins on conflict
		t.Score = obj.Score
		t.History.Push(Point{X: t.filter.X, Y: t.filter.Y, TSUnixNanos: tsUnixNanos})

		if t.State == perception.TrackTentative && t.Hits >= tr.cfg.HitsToConfirm {
			t.State = perception.TrackConfirmed
			perception.Diagf("[track] %d confirmed after %d hits", t.ID, t.Hits)
		}
	}

	// 4. Miss bookkeeping and deletion. A track is removed once its
	// consecutive misses exceed the tolerance for its state; its id is
	// never reused.
	matched := make(map[int64]bool, len(match.Pairs))
	for _, pair := range match.Pairs {
		matched[tr.tracks[pair[0]].ID] = true
	}
	survivors := tr.tracks[:0]
	for _, t := range tr.tracks {
		if matched[t.ID] {
			survivors = append(survivors, t)
			continue
		}
		t.Misses++
		t.Hits = 0
		if t.Misses > tr.missTolerance(t.State) {
			t.State = perception.TrackDeleted
			perception.Tracef("[track] %d deleted after %d misses", t.ID, t.Misses)
			continue
		}
		survivors = append(survivors, t)
	}
	tr.tracks = survivors

	// 5. Spawn tentative tracks for unmatched observations, in
	// observation index order so ids stay reproducible.
	for _, j := range match.UnmatchedCols {
		if len(tr.tracks) >= tr.cfg.MaxTracks {
			perception.Opsf("[track] track limit %d reached, observation dropped", tr.cfg.MaxTracks)
			break
		}
		tr.spawn(objs[j], obsX[j], obsY[j], tsUnixNanos)
	}

	// 6. Output selection.
	out := make([]*Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		if t.State != perception.TrackConfirmed {
			continue
		}
		if t.Predicted && !tr.cfg.OutputPredicted {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (tr *Tracker) missTolerance(state perception.TrackState) int {
	if state == perception.TrackConfirmed && tr.cfg.MaxMissesConfirmed > 0 {
		return tr.cfg.MaxMissesConfirmed
	}
	return tr.cfg.MaxMisses
}

func (tr *Tracker) spawn(obj perception.FusedObject, x, y float64, tsUnixNanos int64) {
	t := &Track{
		ID:             tr.nextID,
		State:          perception.TrackTentative,
		ClassID:        obj.ClassID,
		Score:          obj.Score,
		Hits:           1,
		FirstUnixNanos: tsUnixNanos,
		LastUnixNanos:  tsUnixNanos,
		filter:         newFilterState(x, y),
		History:        NewHistory(tr.cfg.HistoryCapacity),
	}
	t.History.Push(Point{X: x, Y: y, TSUnixNanos: tsUnixNanos})
	if t.Hits >= tr.cfg.HitsToConfirm {
		t.State = perception.TrackConfirmed
	}
	tr.nextID++
	tr.tracks = append(tr.tracks, t)
}
