package geom

import "fmt"

// Orientation is a counter-clockwise rotation in 90° steps.
type Orientation int

const (
	Deg0   Orientation = 0
	Deg90  Orientation = 90
	Deg180 Orientation = 180
	Deg270 Orientation = 270
)

// OrientationFromClass maps a 4-way classifier index to an Orientation.
func OrientationFromClass(class int) (Orientation, error) {
	if class < 0 || class > 3 {
		return Deg0, fmt.Errorf("orientation class %d out of range [0, 4)", class)
	}
	return Orientation(class * 90), nil
}

// Inverse is the rotation that undoes o.
func (o Orientation) Inverse() Orientation {
	return Orientation((360 - int(o)) % 360)
}

// Valid reports whether o is one of the four supported steps.
func (o Orientation) Valid() bool {
	switch o {
	case Deg0, Deg90, Deg180, Deg270:
		return true
	}
	return false
}
