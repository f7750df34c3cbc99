// Package state derives kinematic state — velocity, speed, heading —
// for tracked objects by finite differencing their recent position
// history. It deliberately stays independent of the tracker's internal
// motion filter so the published kinematics reflect observed motion,
// not filter dynamics.
package state

import (
	"math"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/track"
)

// Config holds estimator tuning parameters.
type Config struct {
	// MinDtSeconds rejects sample pairs closer together than this;
	// differencing over a vanishing interval amplifies position noise.
	MinDtSeconds float64

	// SpeedFloorMps is the speed below which heading is considered
	// undefined and the previous heading is retained.
	SpeedFloorMps float64
}

// DefaultConfig returns production-default estimator parameters.
func DefaultConfig() Config {
	return Config{
		MinDtSeconds:  1e-3,
		SpeedFloorMps: 0.25,
	}
}

type kinematics struct {
	vx, vy     float64
	headingRad float64
	hasHeading bool
}

// Estimator computes per-track kinematics. It keeps a small amount of
// state per track id so velocity and heading survive frames where a
// fresh estimate is not available.
type Estimator struct {
	cfg  Config
	proj *perception.Projector
	prev map[int64]kinematics

	// degenerate counts sample pairs rejected for dt below the floor.
	degenerate int
}

// NewEstimator creates an estimator for a scene anchored at proj's
// origin.
func NewEstimator(cfg Config, proj *perception.Projector) *Estimator {
	if cfg.MinDtSeconds <= 0 {
		cfg.MinDtSeconds = 1e-3
	}
	return &Estimator{cfg: cfg, proj: proj, prev: make(map[int64]kinematics)}
}

// DegenerateIntervals reports how many sample pairs were rejected for
// a non-positive or too-small time delta.
func (e *Estimator) DegenerateIntervals() int { return e.degenerate }

// Estimate produces the published state for each track. Velocity is the
// finite difference of the two most recent accepted position samples;
// when no valid pair exists the previous estimate is retained, and a
// brand-new track reports zero velocity. Heading is the direction of
// travel, radians clockwise from true north, held at its last defined
// value below the speed floor.
func (e *Estimator) Estimate(tracks []*track.Track, tsUnixNanos int64) []perception.TrackedState {
	out := make([]perception.TrackedState, 0, len(tracks))
	for _, t := range tracks {
		k := e.kinematicsFor(t)
		e.prev[t.ID] = k

		x, y := t.Position()
		lat, lon := e.proj.Inverse(x, y)
		out = append(out, perception.TrackedState{
			TrackID:      t.ID,
			TSUnixNanos:  tsUnixNanos,
			Lat:          lat,
			Lon:          lon,
			ClassID:      t.ClassID,
			Score:        t.Score,
			VX:           k.vx,
			VY:           k.vy,
			SpeedMps:     math.Hypot(k.vx, k.vy),
			HeadingRad:   k.headingRad,
			HeadingValid: k.hasHeading,
			State:        t.State,
			Predicted:    t.Predicted,
		})
	}
	return out
}

func (e *Estimator) kinematicsFor(t *track.Track) kinematics {
	k := e.prev[t.ID]

	cur, okCur := t.History.Recent(0)
	last, okLast := t.History.Recent(1)
	if okCur && okLast {
		dt := float64(cur.TSUnixNanos-last.TSUnixNanos) / 1e9
		if dt >= e.cfg.MinDtSeconds {
			k.vx = (cur.X - last.X) / dt
			k.vy = (cur.Y - last.Y) / dt
		} else {
			e.degenerate++
			perception.Diagf("[state] track %d: degenerate sample interval %.6fs, velocity retained", t.ID, dt)
		}
	}

	if math.Hypot(k.vx, k.vy) >= e.cfg.SpeedFloorMps {
		// Bearing convention: 0 = north, π/2 = east.
		k.headingRad = math.Atan2(k.vx, k.vy)
		if k.headingRad < 0 {
			k.headingRad += 2 * math.Pi
		}
		k.hasHeading = true
	}
	return k
}

// Prune drops retained kinematics for tracks no longer alive. The
// tracker guarantees ids are never reused, so stale entries can only
// leak memory, never corrupt a later track.
func (e *Estimator) Prune(live []*track.Track) {
	alive := make(map[int64]bool, len(live))
	for _, t := range live {
		alive[t.ID] = true
	}
	for id := range e.prev {
		if !alive[id] {
			delete(e.prev, id)
		}
	}
}
