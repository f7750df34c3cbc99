// Package localize converts image-space detections into geographic
// coordinates using per-sensor precomputed lookup surfaces.
package localize

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Surface is a dense pixel→(lat, lon) lookup raster for one camera.
// Each cell covers Stride×Stride pixels of the calibrated image; cells
// outside the calibrated region hold NaN. Surfaces are read-only after
// load and safe to share across frames without locking.
type Surface struct {
	SensorID string
	Width    int     // cells per row
	Height   int     // rows
	Stride   float64 // pixels per cell

	Lat []float64 // len Width*Height, row-major
	Lon []float64
}

// noData is the on-disk sentinel for uncalibrated cells. JSON cannot
// represent NaN, so files store this value instead; it is converted to
// NaN on load and back on write.
const noData = -9999.0

// surfaceFile is the on-disk representation (gzipped JSON).
type surfaceFile struct {
	SensorID string    `json:"sensor_id"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Stride   float64   `json:"stride"`
	Lat      []float64 `json:"lat"`
	Lon      []float64 `json:"lon"`
}

// At looks up the geographic coordinate for a pixel location using
// nearest-cell sampling. Pixel locations outside the raster, or cells
// without calibration data, return (NaN, NaN).
func (s *Surface) At(u, v float64) (lat, lon float64) {
	if u < 0 || v < 0 {
		return math.NaN(), math.NaN()
	}
	cx := int(u / s.Stride)
	cy := int(v / s.Stride)
	if cx >= s.Width || cy >= s.Height {
		return math.NaN(), math.NaN()
	}
	idx := cy*s.Width + cx
	return s.Lat[idx], s.Lon[idx]
}

// Validate checks the raster's internal consistency.
func (s *Surface) Validate() error {
	if s.SensorID == "" {
		return fmt.Errorf("surface missing sensor_id")
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("surface %s: invalid dimensions %dx%d", s.SensorID, s.Width, s.Height)
	}
	if s.Stride <= 0 {
		return fmt.Errorf("surface %s: invalid stride %v", s.SensorID, s.Stride)
	}
	want := s.Width * s.Height
	if len(s.Lat) != want || len(s.Lon) != want {
		return fmt.Errorf("surface %s: raster length mismatch: lat=%d lon=%d want=%d",
			s.SensorID, len(s.Lat), len(s.Lon), want)
	}
	return nil
}

// LoadSurface reads a lookup surface from a gzipped JSON file
// (conventionally *.surface.json.gz). Load failures are fatal at
// pipeline initialization: a sensor without a valid surface must
// refuse to start rather than silently drop its detections.
func LoadSurface(path string) (*Surface, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open surface %s: %w", cleanPath, err)
	}
	defer f.Close()

	var r interface {
		Read([]byte) (int, error)
	} = f
	if strings.HasSuffix(cleanPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip surface %s: %w", cleanPath, err)
		}
		defer gz.Close()
		r = gz
	}

	var file surfaceFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode surface %s: %w", cleanPath, err)
	}

	s := &Surface{
		SensorID: file.SensorID,
		Width:    file.Width,
		Height:   file.Height,
		Stride:   file.Stride,
		Lat:      file.Lat,
		Lon:      file.Lon,
	}
	for i := range s.Lat {
		if s.Lat[i] == noData || (i < len(s.Lon) && s.Lon[i] == noData) {
			s.Lat[i] = math.NaN()
			if i < len(s.Lon) {
				s.Lon[i] = math.NaN()
			}
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteSurface writes a surface to a gzipped JSON file. Used by
// calibration tooling and test fixtures.
func WriteSurface(s *Surface, path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create surface %s: %w", path, err)
	}
	defer f.Close()

	// Swap NaN cells for the on-disk sentinel without mutating the
	// in-memory raster.
	lat := make([]float64, len(s.Lat))
	lon := make([]float64, len(s.Lon))
	for i := range s.Lat {
		if math.IsNaN(s.Lat[i]) || math.IsNaN(s.Lon[i]) {
			lat[i] = noData
			lon[i] = noData
		} else {
			lat[i] = s.Lat[i]
			lon[i] = s.Lon[i]
		}
	}

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(surfaceFile{
		SensorID: s.SensorID,
		Width:    s.Width,
		Height:   s.Height,
		Stride:   s.Stride,
		Lat:      lat,
		Lon:      lon,
	}); err != nil {
		gz.Close()
		return fmt.Errorf("encode surface %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush surface %s: %w", path, err)
	}
	return nil
}
