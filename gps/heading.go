package gps

import "math"

// Heading returns the compass bearing in degrees (0 = north, clockwise)
// of travel from one location to another, treating latitude and longitude
// as planar coordinates. It returns false for coincident locations, which
// have no direction; callers should keep their previous heading.
func Heading(from, to Location) (float64, bool) {
	rise := to.Lat - from.Lat
	run := to.Lon - from.Lon
	if rise == 0 && run == 0 {
		return 0, false
	}
	if run == 0 {
		run = 0 // normalize -0
	}

	// atan only covers the eastern half plane.
	trig := math.Atan(rise / run)
	if run < 0 {
		trig += math.Pi
	}
	return toCompassDegrees(trig), true
}

// toCompassDegrees converts a mathematical angle (radians, 0 = east,
// counterclockwise) to a compass bearing in [0, 360).
func toCompassDegrees(trig float64) float64 {
	deg := 90 - trig*180/math.Pi
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
