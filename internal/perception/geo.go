package perception

import "math"

const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two
// coordinates in metres. Accurate enough at intersection scale; the
// fusion gate is tens of metres at most.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Projector converts between geographic coordinates and a local
// east/north metric frame anchored at the scene origin. It uses an
// equirectangular approximation, which is well within centimetre error
// over the few hundred metres a camera deployment covers.
type Projector struct {
	lat0    float64
	lon0    float64
	cosLat0 float64
}

// NewProjector returns a projector anchored at the given origin.
func NewProjector(originLat, originLon float64) *Projector {
	return &Projector{
		lat0:    originLat,
		lon0:    originLon,
		cosLat0: math.Cos(originLat * math.Pi / 180),
	}
}

// Forward maps (lat, lon) to local metres east (x) and north (y).
func (p *Projector) Forward(lat, lon float64) (x, y float64) {
	x = (lon - p.lon0) * math.Pi / 180 * earthRadiusMeters * p.cosLat0
	y = (lat - p.lat0) * math.Pi / 180 * earthRadiusMeters
	return x, y
}

// Inverse maps local metres back to (lat, lon).
func (p *Projector) Inverse(x, y float64) (lat, lon float64) {
	lat = p.lat0 + y/earthRadiusMeters*180/math.Pi
	lon = p.lon0 + x/(earthRadiusMeters*p.cosLat0)*180/math.Pi
	return lat, lon
}
