// Package sqlite persists perception runs, tracks, and per-frame track
// states to a SQLite database.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/roadside-data/perception/internal/perception"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the perception database.
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the database at path and applies
// the schema. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open perception db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply perception schema: %w", err)
	}
	return &Store{db}, nil
}

// Run is one replay or live session.
type Run struct {
	RunID             string
	Scene             string
	StartedUnixNanos  int64
	FinishedUnixNanos sql.NullInt64
	FrameCount        int
	Notes             string
}

// TrackSummary is the per-track aggregate row.
type TrackSummary struct {
	RunID            string
	TrackID          int64
	ClassID          int
	State            perception.TrackState
	FirstUnixNanos   int64
	LastUnixNanos    int64
	ObservationCount int
	PeakSpeedMps     float64
}

// BeginRun creates a run record and returns its generated id.
func (s *Store) BeginRun(scene, notes string, startedUnixNanos int64) (string, error) {
	runID := uuid.New().String()
	_, err := s.Exec(`
		INSERT INTO perception_runs (run_id, scene, started_unix_nanos, notes)
		VALUES (?, ?, ?, ?)
	`, runID, scene, startedUnixNanos, notes)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return runID, nil
}

// FinishRun closes a run record.
func (s *Store) FinishRun(runID string, finishedUnixNanos int64, frameCount int) error {
	res, err := s.Exec(`
		UPDATE perception_runs
		SET finished_unix_nanos = ?, frame_count = ?
		WHERE run_id = ?
	`, finishedUnixNanos, frameCount, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// GetRun fetches a run record.
func (s *Store) GetRun(runID string) (*Run, error) {
	var r Run
	err := s.QueryRow(`
		SELECT run_id, scene, started_unix_nanos, finished_unix_nanos, frame_count, notes
		FROM perception_runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.Scene, &r.StartedUnixNanos, &r.FinishedUnixNanos, &r.FrameCount, &r.Notes)
	if err != nil {
		return nil, fmt.Errorf("get run %q: %w", runID, err)
	}
	return &r, nil
}

// RecordStates persists one frame's worth of track states, updating the
// per-track aggregates in the same transaction. Re-recording a frame is
// harmless: state rows are keyed by (run, track, timestamp).
func (s *Store) RecordStates(runID string, states []perception.TrackedState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("record states: %w", err)
	}
	defer tx.Rollback()

	// observation_count only counts states backed by a real observation;
	// coasting (predicted) states contribute zero.
	trackStmt, err := tx.Prepare(`
		INSERT INTO perception_tracks (
			run_id, track_id, class_id, track_state,
			first_unix_nanos, last_unix_nanos, observation_count, peak_speed_mps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, track_id) DO UPDATE SET
			class_id = excluded.class_id,
			track_state = excluded.track_state,
			last_unix_nanos = excluded.last_unix_nanos,
			observation_count = observation_count + excluded.observation_count,
			peak_speed_mps = MAX(peak_speed_mps, excluded.peak_speed_mps)
	`)
	if err != nil {
		return fmt.Errorf("record states: %w", err)
	}
	defer trackStmt.Close()

	stateStmt, err := tx.Prepare(`
		INSERT INTO perception_track_states (
			run_id, track_id, ts_unix_nanos,
			lat, lon, vx, vy, speed_mps, heading_rad,
			track_state, predicted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, track_id, ts_unix_nanos) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record states: %w", err)
	}
	defer stateStmt.Close()

	for _, st := range states {
		if _, err := trackStmt.Exec(
			runID, st.TrackID, st.ClassID, string(st.State),
			st.TSUnixNanos, st.TSUnixNanos, boolToInt(!st.Predicted), st.SpeedMps,
		); err != nil {
			return fmt.Errorf("record track %d: %w", st.TrackID, err)
		}
		if _, err := stateStmt.Exec(
			runID, st.TrackID, st.TSUnixNanos,
			st.Lat, st.Lon, st.VX, st.VY, st.SpeedMps, st.HeadingRad,
			string(st.State), boolToInt(st.Predicted),
		); err != nil {
			return fmt.Errorf("record state for track %d: %w", st.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record states: %w", err)
	}
	return nil
}

// Tracks returns the per-track aggregates for a run ordered by id.
func (s *Store) Tracks(runID string) ([]TrackSummary, error) {
	rows, err := s.Query(`
		SELECT run_id, track_id, class_id, track_state,
		       first_unix_nanos, last_unix_nanos, observation_count, peak_speed_mps
		FROM perception_tracks
		WHERE run_id = ?
		ORDER BY track_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackSummary
	for rows.Next() {
		var t TrackSummary
		var state string
		if err := rows.Scan(
			&t.RunID, &t.TrackID, &t.ClassID, &state,
			&t.FirstUnixNanos, &t.LastUnixNanos, &t.ObservationCount, &t.PeakSpeedMps,
		); err != nil {
			return nil, fmt.Errorf("scan track row: %w", err)
		}
		t.State = perception.TrackState(state)
		out = append(out, t)
	}
	return out, rows.Err()
}

// States returns a track's per-frame states in timestamp order.
func (s *Store) States(runID string, trackID int64) ([]perception.TrackedState, error) {
	rows, err := s.Query(`
		SELECT track_id, ts_unix_nanos, lat, lon, vx, vy,
		       speed_mps, heading_rad, track_state, predicted
		FROM perception_track_states
		WHERE run_id = ? AND track_id = ?
		ORDER BY ts_unix_nanos
	`, runID, trackID)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var out []perception.TrackedState
	for rows.Next() {
		var st perception.TrackedState
		var state string
		var predicted int
		if err := rows.Scan(
			&st.TrackID, &st.TSUnixNanos, &st.Lat, &st.Lon, &st.VX, &st.VY,
			&st.SpeedMps, &st.HeadingRad, &state, &predicted,
		); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		st.State = perception.TrackState(state)
		st.Predicted = predicted != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

// SpeedPercentiles computes empirical speed quantiles over all observed
// (non-predicted) states in a run. Percentiles are fractions in [0, 1].
func (s *Store) SpeedPercentiles(runID string, percentiles []float64) ([]float64, error) {
	rows, err := s.Query(`
		SELECT speed_mps FROM perception_track_states
		WHERE run_id = ? AND predicted = 0
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query speeds: %w", err)
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan speed: %w", err)
		}
		speeds = append(speeds, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(speeds) == 0 {
		return nil, fmt.Errorf("run %q has no observed states", runID)
	}

	sort.Float64s(speeds)
	out := make([]float64, len(percentiles))
	for i, p := range percentiles {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("percentile %v out of range [0, 1]", p)
		}
		out[i] = stat.Quantile(p, stat.Empirical, speeds, nil)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
