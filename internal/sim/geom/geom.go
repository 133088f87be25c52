package geom

import "math"

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func (v Vec2) IsFinite() bool       { return IsFinite(v.X, v.Y) }

func Distance(a, b Vec2) float64 { return a.Sub(b).Len() }

func ToRadians(deg float64) float64 { return deg * math.Pi / 180 }

func ToDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Heading is the direction from one point to another, in degrees.
func Heading(from, to Vec2) float64 {
	return ToDegrees(math.Atan2(to.Y-from.Y, to.X-from.X))
}

// FromHeading returns the unit vector pointing along deg.
func FromHeading(deg float64) Vec2 {
	r := ToRadians(deg)
	return Vec2{X: math.Cos(r), Y: math.Sin(r)}
}

func IsFinite(fs ...float64) bool {
	for _, f := range fs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// NormalizeDeg wraps an angle into [-180, 180).
func NormalizeDeg(deg float64) float64 {
	if !IsFinite(deg) {
		return 0
	}
	d := math.Mod(deg+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

// ClosestOnLine projects p onto the infinite line through a and b.
// A degenerate segment projects onto a.
func ClosestOnLine(p, a, b Vec2) Vec2 {
	d := b.Sub(a)
	l2 := d.Dot(d)
	if l2 == 0 {
		return a
	}
	t := p.Sub(a).Dot(d) / l2
	return a.Add(d.Scale(t))
}
