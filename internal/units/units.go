// Package units provides shared angular and acceleration unit constants
package units

import "math"

// Conversion constants
const (
	// RadPerDeg converts degrees to radians when multiplied.
	RadPerDeg = math.Pi / 180.0
	// DegPerRad converts radians to degrees when multiplied.
	DegPerRad = 180.0 / math.Pi
	// StandardGravity is standard gravitational acceleration in m/s².
	StandardGravity = 9.80665
)

// DegToRad converts an angle from degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * RadPerDeg
}

// RadToDeg converts an angle from radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * DegPerRad
}

// GToMps2 converts an acceleration in multiples of standard gravity to m/s².
func GToMps2(g float64) float64 {
	return g * StandardGravity
}
