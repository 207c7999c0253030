package geometry

import (
	"math"
)

// Ray2 is a half line starting at Origin and going along Direction. The
// direction does not need to be normalized; distances returned by
// IntersectRect are expressed in multiples of it.
type Ray2[T Scalar] struct {
	Origin    Vector2[T] `json:"origin"`
	Direction Vector2[T] `json:"direction"`
}

func NewRay2[T Scalar](origin Vector2[T], direction Vector2[T]) Ray2[T] {
	return Ray2[T]{Origin: origin, Direction: direction}
}

// RayFromAngle returns a ray with a unit direction pointing at angle radians
// from the x axis.
func RayFromAngle[T Scalar](angle float64, origin Vector2[T]) Ray2[T] {
	return Ray2[T]{
		Origin:    origin,
		Direction: Vector2[T]{T(math.Cos(angle)), T(math.Sin(angle))},
	}
}

func (r Ray2[T]) At(t float64) Vector2[T] {
	return Vector2[T]{
		X: r.Origin.X + T(float64(r.Direction.X)*t),
		Y: r.Origin.Y + T(float64(r.Direction.Y)*t),
	}
}

// IntersectRect returns the distance along the ray at which it enters rect.
// A ray starting inside the rectangle hits it at 0.
func (r Ray2[T]) IntersectRect(rect Rect[T]) (float64, bool) {
	if rect.IsEmpty() {
		return 0, false
	}

	tMin := 0.0
	tMax := math.Inf(1)

	min := rect.Min()
	max := rect.Max()

	axes := [2][4]float64{
		{float64(r.Origin.X), float64(r.Direction.X), float64(min.X), float64(max.X)},
		{float64(r.Origin.Y), float64(r.Direction.Y), float64(min.Y), float64(max.Y)},
	}

	for _, axis := range axes {
		origin, dir, lo, hi := axis[0], axis[1], axis[2], axis[3]

		if dir == 0 {
			// parallel to the slab:
			if origin < lo || origin > hi {
				return 0, false
			}
			continue
		}

		t0 := (lo - origin) / dir
		t1 := (hi - origin) / dir
		if t0 > t1 {
			t0, t1 = t1, t0
		}

		tMin = math.Max(tMin, t0)
		tMax = math.Min(tMax, t1)
		if tMin > tMax {
			return 0, false
		}
	}

	return tMin, true
}
