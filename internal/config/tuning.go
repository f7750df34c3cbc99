package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roadside-data/perception/internal/perception/fuse"
	"github.com/roadside-data/perception/internal/perception/state"
	"github.com/roadside-data/perception/internal/perception/track"
	"github.com/roadside-data/perception/internal/units"
)

// DefaultTuningPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultTuningPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* methods supply defaults for everything else.
type TuningConfig struct {
	// Fusion params
	FusionGateMeters    *float64 `json:"fusion_gate_meters,omitempty"`
	ClassPenaltyMeters  *float64 `json:"class_penalty_meters,omitempty"`
	ScorePolicy         *string  `json:"score_policy,omitempty"` // max | mean | weighted_mean
	TrackGateMeters     *float64 `json:"track_gate_meters,omitempty"`
	HitsToConfirm       *int     `json:"hits_to_confirm,omitempty"`
	MaxMisses           *int     `json:"max_misses,omitempty"`
	MaxMissesConfirmed  *int     `json:"max_misses_confirmed,omitempty"`
	UseFilteredPosition *bool    `json:"use_filtered_position,omitempty"`
	OutputPredicted     *bool    `json:"output_predicted,omitempty"`
	ClassGating         *bool    `json:"class_gating,omitempty"`
	MotionModel         *string  `json:"motion_model,omitempty"` // cv | cp
	HistoryCapacity     *int     `json:"history_capacity,omitempty"`
	MaxTracks           *int     `json:"max_tracks,omitempty"`

	// Kalman params
	ProcessNoisePos  *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel  *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// State estimation params
	MinDtSeconds  *float64 `json:"min_dt_seconds,omitempty"`
	SpeedFloorMps *float64 `json:"speed_floor_mps,omitempty"`

	// Output params
	SpeedUnits    *string `json:"speed_units,omitempty"`    // mps | mph | kmph | kph
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "60s"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat tuning file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tuning JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.FusionGateMeters != nil && *c.FusionGateMeters <= 0 {
		return fmt.Errorf("fusion_gate_meters must be positive, got %f", *c.FusionGateMeters)
	}
	if c.TrackGateMeters != nil && *c.TrackGateMeters <= 0 {
		return fmt.Errorf("track_gate_meters must be positive, got %f", *c.TrackGateMeters)
	}
	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}
	if c.MaxMisses != nil && *c.MaxMisses < 0 {
		return fmt.Errorf("max_misses must be non-negative, got %d", *c.MaxMisses)
	}

	if c.ScorePolicy != nil {
		switch fuse.ScorePolicy(*c.ScorePolicy) {
		case fuse.ScoreMax, fuse.ScoreMean, fuse.ScoreWeightedMean:
		default:
			return fmt.Errorf("unknown score_policy %q", *c.ScorePolicy)
		}
	}
	if c.MotionModel != nil {
		switch track.MotionModel(*c.MotionModel) {
		case track.MotionConstantVelocity, track.MotionConstantPosition:
		default:
			return fmt.Errorf("unknown motion_model %q", *c.MotionModel)
		}
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.GetValidUnitsString(), *c.SpeedUnits)
	}

	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	return nil
}

// GetFusionGateMeters returns the fusion_gate_meters value or the default.
func (c *TuningConfig) GetFusionGateMeters() float64 {
	if c.FusionGateMeters == nil {
		return 3.0
	}
	return *c.FusionGateMeters
}

// GetClassPenaltyMeters returns the class_penalty_meters value or the default.
func (c *TuningConfig) GetClassPenaltyMeters() float64 {
	if c.ClassPenaltyMeters == nil {
		return 1e6
	}
	return *c.ClassPenaltyMeters
}

// GetScorePolicy returns the score_policy value or the default.
func (c *TuningConfig) GetScorePolicy() fuse.ScorePolicy {
	if c.ScorePolicy == nil {
		return fuse.ScoreMax
	}
	return fuse.ScorePolicy(*c.ScorePolicy)
}

// GetTrackGateMeters returns the track_gate_meters value or the default.
func (c *TuningConfig) GetTrackGateMeters() float64 {
	if c.TrackGateMeters == nil {
		return 5.0
	}
	return *c.TrackGateMeters
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 3
	}
	return *c.MaxMisses
}

// GetMaxMissesConfirmed returns the max_misses_confirmed value or the default.
func (c *TuningConfig) GetMaxMissesConfirmed() int {
	if c.MaxMissesConfirmed == nil {
		return 10
	}
	return *c.MaxMissesConfirmed
}

// GetUseFilteredPosition returns the use_filtered_position value or the default.
func (c *TuningConfig) GetUseFilteredPosition() bool {
	if c.UseFilteredPosition == nil {
		return true
	}
	return *c.UseFilteredPosition
}

// GetOutputPredicted returns the output_predicted value or the default.
func (c *TuningConfig) GetOutputPredicted() bool {
	if c.OutputPredicted == nil {
		return false
	}
	return *c.OutputPredicted
}

// GetClassGating returns the class_gating value or the default.
func (c *TuningConfig) GetClassGating() bool {
	if c.ClassGating == nil {
		return true
	}
	return *c.ClassGating
}

// GetMotionModel returns the motion_model value or the default.
func (c *TuningConfig) GetMotionModel() track.MotionModel {
	if c.MotionModel == nil {
		return track.MotionConstantVelocity
	}
	return track.MotionModel(*c.MotionModel)
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *TuningConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return 32
	}
	return *c.HistoryCapacity
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 256
	}
	return *c.MaxTracks
}

// GetProcessNoisePos returns the process_noise_pos value or the default.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 0.1
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the process_noise_vel value or the default.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 0.5
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.2
	}
	return *c.MeasurementNoise
}

// GetMinDtSeconds returns the min_dt_seconds value or the default.
func (c *TuningConfig) GetMinDtSeconds() float64 {
	if c.MinDtSeconds == nil {
		return 1e-3
	}
	return *c.MinDtSeconds
}

// GetSpeedFloorMps returns the speed_floor_mps value or the default.
func (c *TuningConfig) GetSpeedFloorMps() float64 {
	if c.SpeedFloorMps == nil {
		return 0.25
	}
	return *c.SpeedFloorMps
}

// GetSpeedUnits returns the speed_units value or the default.
func (c *TuningConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS
	}
	return *c.SpeedUnits
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// FuserConfig materializes the fusion parameters.
func (c *TuningConfig) FuserConfig() fuse.Config {
	return fuse.Config{
		GateMeters:                 c.GetFusionGateMeters(),
		ClassMismatchPenaltyMeters: c.GetClassPenaltyMeters(),
		Policy:                     c.GetScorePolicy(),
	}
}

// TrackerConfig materializes the tracker parameters.
func (c *TuningConfig) TrackerConfig() track.Config {
	return track.Config{
		GateMeters:          c.GetTrackGateMeters(),
		MaxMisses:           c.GetMaxMisses(),
		MaxMissesConfirmed:  c.GetMaxMissesConfirmed(),
		HitsToConfirm:       c.GetHitsToConfirm(),
		UseFilteredPosition: c.GetUseFilteredPosition(),
		OutputPredicted:     c.GetOutputPredicted(),
		ClassGating:         c.GetClassGating(),
		MotionModel:         c.GetMotionModel(),
		HistoryCapacity:     c.GetHistoryCapacity(),
		MaxTracks:           c.GetMaxTracks(),
		ProcessNoisePos:     c.GetProcessNoisePos(),
		ProcessNoiseVel:     c.GetProcessNoiseVel(),
		MeasurementNoise:    c.GetMeasurementNoise(),
	}
}

// EstimatorConfig materializes the state estimation parameters.
func (c *TuningConfig) EstimatorConfig() state.Config {
	return state.Config{
		MinDtSeconds:  c.GetMinDtSeconds(),
		SpeedFloorMps: c.GetSpeedFloorMps(),
	}
}
