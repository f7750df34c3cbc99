// Package config loads the two configuration surfaces of the
// perception pipeline: the scene file (YAML; sensors, calibration
// surfaces, coverage zones, geographic origin) and the tuning file
// (JSON; algorithm parameters, all optional with defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roadside-data/perception/internal/perception/fuse"
)

// SceneConfig describes a deployment site: where it is, which sensors
// observe it, and which sensors share overlapping fields of view.
type SceneConfig struct {
	Name    string         `yaml:"name" validate:"required"`
	Origin  Origin         `yaml:"origin"`
	Sensors []SensorConfig `yaml:"sensors" validate:"required,min=1,dive"`
	Zones   []ZoneConfig   `yaml:"zones" validate:"dive"`
}

// Origin anchors the scene's local metric frame.
type Origin struct {
	Lat float64 `yaml:"lat" validate:"min=-90,max=90"`
	Lon float64 `yaml:"lon" validate:"min=-180,max=180"`
}

// SensorConfig binds a sensor id to its calibration surface on disk.
type SensorConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Surface string `yaml:"surface" validate:"required"`
}

// ZoneConfig names a set of sensors with overlapping coverage.
// Detections are only fused across sensors within the same zone.
type ZoneConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Sensors []string `yaml:"sensors" validate:"required,min=1"`
}

// LoadSceneConfig reads and validates a scene YAML file. Surface paths
// are resolved relative to the scene file's directory.
func LoadSceneConfig(path string) (*SceneConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}

	var cfg SceneConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scene YAML: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid scene config: %w", err)
	}
	if err := cfg.crossCheck(); err != nil {
		return nil, fmt.Errorf("invalid scene config: %w", err)
	}

	dir := filepath.Dir(path)
	for i := range cfg.Sensors {
		if !filepath.IsAbs(cfg.Sensors[i].Surface) {
			cfg.Sensors[i].Surface = filepath.Join(dir, cfg.Sensors[i].Surface)
		}
	}
	return &cfg, nil
}

// crossCheck enforces the referential constraints struct tags cannot
// express: unique sensor ids, zones referencing known sensors, and no
// sensor belonging to two zones.
func (c *SceneConfig) crossCheck() error {
	known := make(map[string]bool, len(c.Sensors))
	for _, s := range c.Sensors {
		if known[s.ID] {
			return fmt.Errorf("duplicate sensor id %q", s.ID)
		}
		known[s.ID] = true
	}

	zoned := make(map[string]string)
	for _, z := range c.Zones {
		for _, id := range z.Sensors {
			if !known[id] {
				return fmt.Errorf("zone %q references unknown sensor %q", z.Name, id)
			}
			if prev, ok := zoned[id]; ok {
				return fmt.Errorf("sensor %q belongs to zones %q and %q", id, prev, z.Name)
			}
			zoned[id] = z.Name
		}
	}
	return nil
}

// SensorIDs returns the configured sensor ids in declaration order.
func (c *SceneConfig) SensorIDs() []string {
	ids := make([]string, len(c.Sensors))
	for i, s := range c.Sensors {
		ids[i] = s.ID
	}
	return ids
}

// FuseZones converts the scene's coverage zones for the fuser.
func (c *SceneConfig) FuseZones() []fuse.Zone {
	zones := make([]fuse.Zone, len(c.Zones))
	for i, z := range c.Zones {
		zones[i] = fuse.Zone{Name: z.Name, Sensors: z.Sensors}
	}
	return zones
}
