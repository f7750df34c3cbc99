package localize

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/roadside-data/perception/internal/perception"
)

// planarSurface builds a surface where lat/lon vary linearly with the
// pixel location, which makes expected lookups easy to compute.
func planarSurface(sensorID string, width, height int, stride, lat0, lon0, degPerCell float64) *Surface {
	s := &Surface{
		SensorID: sensorID,
		Width:    width,
		Height:   height,
		Stride:   stride,
		Lat:      make([]float64, width*height),
		Lon:      make([]float64, width*height),
	}
	for cy := 0; cy < height; cy++ {
		for cx := 0; cx < width; cx++ {
			idx := cy*width + cx
			s.Lat[idx] = lat0 + float64(cy)*degPerCell
			s.Lon[idx] = lon0 + float64(cx)*degPerCell
		}
	}
	return s
}

func TestSurfaceAt_InRange(t *testing.T) {
	s := planarSurface("cam-1", 10, 10, 8, 42.0, -83.0, 0.0001)

	// Pixel (20, 36) → cell (2, 4).
	lat, lon := s.At(20, 36)
	wantLat := 42.0 + float64(4)*0.0001
	wantLon := -83.0 + float64(2)*0.0001
	if lat != wantLat || lon != wantLon {
		t.Errorf("At(20,36) = (%v, %v), want (%v, %v)", lat, lon, wantLat, wantLon)
	}
}

func TestSurfaceAt_OutOfRange(t *testing.T) {
	s := planarSurface("cam-1", 10, 10, 8, 42.0, -83.0, 0.0001)

	cases := []struct {
		name string
		u, v float64
	}{
		{"negative u", -1, 5},
		{"negative v", 5, -1},
		{"beyond width", 80, 5},
		{"beyond height", 5, 80},
	}
	for _, tc := range cases {
		lat, lon := s.At(tc.u, tc.v)
		if !math.IsNaN(lat) || !math.IsNaN(lon) {
			t.Errorf("%s: expected NaN coordinate, got (%v, %v)", tc.name, lat, lon)
		}
	}
}

func TestSurfaceAt_UncalibratedCell(t *testing.T) {
	s := planarSurface("cam-1", 4, 4, 8, 42.0, -83.0, 0.0001)
	s.Lat[5] = math.NaN()
	s.Lon[5] = math.NaN()

	// Cell (1, 1) → pixel (8..16, 8..16).
	lat, lon := s.At(10, 10)
	if !math.IsNaN(lat) || !math.IsNaN(lon) {
		t.Errorf("expected NaN for uncalibrated cell, got (%v, %v)", lat, lon)
	}
}

func TestLocalize_Idempotent(t *testing.T) {
	s := planarSurface("cam-1", 16, 16, 8, 42.0, -83.0, 0.0001)
	loc, err := NewLocalizer([]string{"cam-1"}, map[string]*Surface{"cam-1": s})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}

	dets := []perception.Detection{
		perception.NewDetection([4]float64{10, 10, 30, 50}, 1, 0.9, "cam-1", 1000),
	}
	loc.Localize(dets)
	if !dets[0].HasGeo() {
		t.Fatalf("detection not localized: lat=%v lon=%v", dets[0].Lat, dets[0].Lon)
	}

	lat1, lon1 := dets[0].Lat, dets[0].Lon
	loc.Localize(dets)
	if dets[0].Lat != lat1 || dets[0].Lon != lon1 {
		t.Errorf("re-localization changed coordinate: (%v,%v) → (%v,%v)",
			lat1, lon1, dets[0].Lat, dets[0].Lon)
	}
}

func TestLocalize_AnchorIsBottomCentre(t *testing.T) {
	s := planarSurface("cam-1", 16, 16, 8, 42.0, -83.0, 0.0001)
	loc, err := NewLocalizer([]string{"cam-1"}, map[string]*Surface{"cam-1": s})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}

	// Box centred at u=40, bottom edge v=64 → cell (5, 8).
	dets := []perception.Detection{
		perception.NewDetection([4]float64{30, 20, 50, 64}, 1, 0.9, "cam-1", 1000),
	}
	loc.Localize(dets)

	wantLat, wantLon := s.At(40, 64)
	if dets[0].Lat != wantLat || dets[0].Lon != wantLon {
		t.Errorf("anchor lookup = (%v, %v), want (%v, %v)", dets[0].Lat, dets[0].Lon, wantLat, wantLon)
	}
}

func TestNewLocalizer_MissingSurfaceIsFatal(t *testing.T) {
	s := planarSurface("cam-1", 4, 4, 8, 42.0, -83.0, 0.0001)
	_, err := NewLocalizer([]string{"cam-1", "cam-2"}, map[string]*Surface{"cam-1": s})
	if err == nil {
		t.Fatal("expected error for sensor without surface, got nil")
	}
}

func TestFilterLocalized(t *testing.T) {
	good := perception.NewDetection([4]float64{0, 0, 2, 2}, 1, 0.9, "cam-1", 0)
	good.Lat, good.Lon = 42.0, -83.0
	bad := perception.NewDetection([4]float64{0, 0, 2, 2}, 1, 0.9, "cam-1", 0)
	inf := perception.NewDetection([4]float64{0, 0, 2, 2}, 1, 0.9, "cam-1", 0)
	inf.Lat, inf.Lon = math.Inf(1), -83.0

	kept, dropped := FilterLocalized([]perception.Detection{good, bad, inf})
	if len(kept) != 1 || dropped != 2 {
		t.Errorf("kept=%d dropped=%d, want 1 kept and 2 dropped", len(kept), dropped)
	}
}

func TestSurfaceRoundTrip(t *testing.T) {
	s := planarSurface("cam-1", 6, 5, 8, 42.0, -83.0, 0.0001)
	s.Lat[3] = math.NaN()
	s.Lon[3] = math.NaN()

	path := filepath.Join(t.TempDir(), "cam-1.surface.json.gz")
	if err := WriteSurface(s, path); err != nil {
		t.Fatalf("WriteSurface: %v", err)
	}

	loaded, err := LoadSurface(path)
	if err != nil {
		t.Fatalf("LoadSurface: %v", err)
	}
	if loaded.SensorID != s.SensorID || loaded.Width != s.Width || loaded.Height != s.Height || loaded.Stride != s.Stride {
		t.Errorf("header mismatch: %+v", loaded)
	}
	for i := range s.Lat {
		if math.IsNaN(s.Lat[i]) {
			if !math.IsNaN(loaded.Lat[i]) {
				t.Errorf("cell %d: expected NaN after round trip, got %v", i, loaded.Lat[i])
			}
			continue
		}
		if loaded.Lat[i] != s.Lat[i] || loaded.Lon[i] != s.Lon[i] {
			t.Errorf("cell %d: (%v,%v) != (%v,%v)", i, loaded.Lat[i], loaded.Lon[i], s.Lat[i], s.Lon[i])
		}
	}
}

func TestLoadSurface_Invalid(t *testing.T) {
	if _, err := LoadSurface(filepath.Join(t.TempDir(), "missing.json.gz")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := &Surface{SensorID: "cam-1", Width: 4, Height: 4, Stride: 8,
		Lat: make([]float64, 3), Lon: make([]float64, 3)}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for raster length mismatch")
	}
}
