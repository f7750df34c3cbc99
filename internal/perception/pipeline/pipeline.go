// Package pipeline is the composition root for the perception core: it
// wires localization, fusion, tracking, and state estimation into a
// per-frame processing loop and fans results out to sinks. The stage
// packages never import pipeline/.
package pipeline

import (
	"fmt"
	"reflect"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/localize"
	"github.com/roadside-data/perception/internal/perception/track"
)

// FusionStage merges a frame of localized detections into per-object
// observations.
type FusionStage interface {
	Fuse(batch *perception.DetectionBatch) []perception.FusedObject
}

// TrackingStage maintains persistent identities across frames.
type TrackingStage interface {
	// Step processes one frame and returns the output track selection.
	Step(objs []perception.FusedObject, tsUnixNanos int64) []*track.Track
	// Live returns all live tracks, including tentative ones.
	Live() []*track.Track
}

// EstimationStage derives published kinematic state for output tracks.
type EstimationStage interface {
	Estimate(tracks []*track.Track, tsUnixNanos int64) []perception.TrackedState
	// Prune releases per-track state for ids no longer alive.
	Prune(live []*track.Track)
}

// PersistenceSink writes frame outputs to storage. Implementations live
// outside the domain packages (e.g. storage/sqlite).
type PersistenceSink interface {
	RecordStates(runID string, states []perception.TrackedState) error
}

// PublishSink sends frame outputs to external consumers.
type PublishSink interface {
	PublishStates(states []perception.TrackedState)
}

// isNilInterface checks if an interface value is nil or contains a nil
// pointer, the Go interface nil pitfall.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Config holds the pipeline's stages and sinks. Localizer, Fuser,
// Tracker, and Estimator are required; sinks are optional.
type Config struct {
	Localizer *localize.Localizer
	Fuser     FusionStage
	Tracker   TrackingStage
	Estimator EstimationStage

	Persistence PersistenceSink
	Publisher   PublishSink

	// RunID tags persisted frames with the owning run.
	RunID string
}

// Pipeline processes detection frames one at a time. It is not safe
// for concurrent use; callers feed frames in timestamp order.
type Pipeline struct {
	cfg Config

	frames            int
	droppedDetections int
}

// New validates the wiring and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Localizer == nil {
		return nil, fmt.Errorf("pipeline requires a localizer")
	}
	if isNilInterface(cfg.Fuser) {
		return nil, fmt.Errorf("pipeline requires a fusion stage")
	}
	if isNilInterface(cfg.Tracker) {
		return nil, fmt.Errorf("pipeline requires a tracking stage")
	}
	if isNilInterface(cfg.Estimator) {
		return nil, fmt.Errorf("pipeline requires an estimation stage")
	}
	return &Pipeline{cfg: cfg}, nil
}

// Frames reports how many frames have been processed.
func (p *Pipeline) Frames() int { return p.frames }

// DroppedDetections reports how many detections were discarded for
// falling outside their sensor's calibrated surface.
func (p *Pipeline) DroppedDetections() int { return p.droppedDetections }

// Process runs one frame through the full chain. An empty batch still
// advances the tracker so miss accounting and deletion stay correct
// when sensors go quiet.
func (p *Pipeline) Process(batch *perception.DetectionBatch) ([]perception.TrackedState, error) {
	if batch == nil {
		return nil, fmt.Errorf("nil detection batch")
	}
	p.frames++

	// Stage 1: localize each sensor's detections and drop the ones the
	// calibration cannot place.
	for sensorID, dets := range batch.BySensor {
		p.cfg.Localizer.Localize(dets)
		kept, dropped := localize.FilterLocalized(dets)
		if dropped > 0 {
			p.droppedDetections += dropped
			perception.Diagf("[pipeline] frame %d: sensor %s: %d detections outside calibrated surface",
				batch.Step, sensorID, dropped)
		}
		batch.BySensor[sensorID] = kept
	}

	// Stage 2: cross-camera fusion.
	objs := p.cfg.Fuser.Fuse(batch)
	perception.Tracef("[pipeline] frame %d: %d detections fused into %d objects",
		batch.Step, batch.Count(), len(objs))

	// Stage 3: track update. Runs even with zero observations.
	out := p.cfg.Tracker.Step(objs, batch.TSUnixNanos)

	// Stage 4: kinematic state for the output selection.
	states := p.cfg.Estimator.Estimate(out, batch.TSUnixNanos)
	p.cfg.Estimator.Prune(p.cfg.Tracker.Live())

	// Stage 5: sinks.
	if !isNilInterface(p.cfg.Persistence) {
		if err := p.cfg.Persistence.RecordStates(p.cfg.RunID, states); err != nil {
			perception.Opsf("[pipeline] frame %d: persist failed: %v", batch.Step, err)
		}
	}
	if !isNilInterface(p.cfg.Publisher) {
		p.cfg.Publisher.PublishStates(states)
	}

	return states, nil
}
