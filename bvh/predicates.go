package bvh

import (
	"github.com/aukilabs/kenaz/geometry"
)

// PointPredicate admits the nodes containing p. Leaves are scored by area so
// the tightest rectangle containing p wins.
func PointPredicate[T geometry.Scalar, O Bounded[T]](p geometry.Vector2[T]) Predicate[T, O] {
	return func(n Node[T, O]) (float64, bool) {
		if !n.Rect.ContainsPoint(p) {
			return 0, false
		}
		return float64(n.Rect.Area()), true
	}
}

// RayPredicate admits the nodes entered by ray. Leaves are scored by the
// distance along the ray at which they are entered so the first hit wins.
func RayPredicate[T geometry.Scalar, O Bounded[T]](ray geometry.Ray2[T]) Predicate[T, O] {
	return func(n Node[T, O]) (float64, bool) {
		return ray.IntersectRect(n.Rect)
	}
}

// NearestPredicate scores leaves by their distance to p. Internal nodes
// farther than the closest leaf seen so far are pruned.
//
// The returned predicate keeps state and must be used for a single traversal.
func NearestPredicate[T geometry.Scalar, O Bounded[T]](p geometry.Vector2[T]) Predicate[T, O] {
	best := -1.0

	return func(n Node[T, O]) (float64, bool) {
		d := n.Rect.DistanceToPoint(p)
		if best >= 0 && d >= best {
			return 0, false
		}
		if n.IsLeaf() {
			best = d
		}
		return d, true
	}
}

// IntersectPoint returns the smallest object containing p.
func (ix *Index[T, O]) IntersectPoint(p geometry.Vector2[T], budget int) (Result[T, O], error) {
	return ix.Traverse(PointPredicate[T, O](p), budget)
}

// Raycast returns the first object hit by ray.
func (ix *Index[T, O]) Raycast(ray geometry.Ray2[T], budget int) (Result[T, O], error) {
	return ix.Traverse(RayPredicate[T, O](ray), budget)
}

// Nearest returns the object closest to p.
func (ix *Index[T, O]) Nearest(p geometry.Vector2[T], budget int) (Result[T, O], error) {
	return ix.Traverse(NearestPredicate[T, O](p), budget)
}

// Region returns the objects intersecting box, in tree order. A positive limit
// caps the number of returned objects.
func (ix *Index[T, O]) Region(box geometry.Rect[T], limit int) []O {
	var objects []O
	ix.Search(box, func(o O) bool {
		objects = append(objects, o)
		return limit <= 0 || len(objects) < limit
	})
	return objects
}
