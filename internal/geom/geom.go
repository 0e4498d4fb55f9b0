// Package geom holds the box geometry shared by detection, cropping and
// output mapping.
package geom

import (
	"math"
)

// Point is a 2-D point in pixel or relative coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Corner indexes of a TextBox.
const (
	BottomLeft = iota
	TopLeft
	TopRight
	BottomRight
)

// TextBox is a 4-point polygon ordered Bottom-Left, Top-Left, Top-Right,
// Bottom-Right as the text appears upright on the page.
type TextBox [4]Point

// Width is the length of the top edge.
func (b TextBox) Width() float64 {
	return b[TopLeft].Dist(b[TopRight])
}

// Height is the length of the left edge.
func (b TextBox) Height() float64 {
	return b[TopLeft].Dist(b[BottomLeft])
}

// Bounds returns the axis-aligned min and max corners of b.
func (b TextBox) Bounds() (min, max Point) {
	min = Point{X: math.Inf(1), Y: math.Inf(1)}
	max = Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, p := range b {
		min.X, min.Y = math.Min(min.X, p.X), math.Min(min.Y, p.Y)
		max.X, max.Y = math.Max(max.X, p.X), math.Max(max.Y, p.Y)
	}
	return min, max
}

// Map applies fn to every corner.
func (b TextBox) Map(fn func(Point) Point) TextBox {
	var out TextBox
	for i, p := range b {
		out[i] = fn(p)
	}
	return out
}

// RotatedRect is a rectangle of Width x Height centered at Center and rotated
// clockwise by Angle degrees in image coordinates (Y pointing down).
type RotatedRect struct {
	Center Point
	Width  float64
	Height float64
	Angle  float64
}

// Normalize folds the angle into [-45, 45). Each 90° step taken out of the
// angle swaps width and height so the rectangle covers the same pixels.
func (r RotatedRect) Normalize() RotatedRect {
	a := math.Mod(r.Angle, 360)
	if a < 0 {
		a += 360
	}
	// a in [0, 360); quarter turns needed to bring it into [-45, 45)
	steps := int(math.Floor((a + 45) / 90))
	a -= float64(steps) * 90
	if a >= 45 {
		a -= 90
		steps++
	}
	if a < -45 {
		a += 90
		steps--
	}
	w, h := r.Width, r.Height
	if steps%2 != 0 {
		w, h = h, w
	}
	return RotatedRect{Center: r.Center, Width: w, Height: h, Angle: a}
}

// Corners returns the corners of the normalized rectangle ordered BL, TL, TR, BR.
func (r RotatedRect) Corners() TextBox {
	n := r.Normalize()
	rad := n.Angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	hw, hh := n.Width/2, n.Height/2

	at := func(dx, dy float64) Point {
		return Point{
			X: n.Center.X + dx*cos - dy*sin,
			Y: n.Center.Y + dx*sin + dy*cos,
		}
	}
	return TextBox{
		BottomLeft:  at(-hw, hh),
		TopLeft:     at(-hw, -hh),
		TopRight:    at(hw, -hh),
		BottomRight: at(hw, hh),
	}
}

// Unclip inflates both sides by 2 * ratio * area / perimeter.
func (r RotatedRect) Unclip(ratio float64) RotatedRect {
	perimeter := 2 * (r.Width + r.Height)
	if perimeter <= 0 {
		return r
	}
	grow := 2 * (ratio * r.Width * r.Height) / perimeter
	r.Width += grow
	r.Height += grow
	return r
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
