package units

import "math"

// HeadingDegrees converts a bearing in radians (clockwise from true
// north) to compass degrees normalized to [0, 360).
func HeadingDegrees(headingRad float64) float64 {
	deg := math.Mod(headingRad*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// cardinal names for the 16-point compass rose, clockwise from north.
var cardinals = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Cardinal returns the 16-point compass name for a bearing in radians.
func Cardinal(headingRad float64) string {
	deg := HeadingDegrees(headingRad)
	idx := int(math.Round(deg/22.5)) % 16
	return cardinals[idx]
}
