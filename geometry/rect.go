package geometry

import (
	"fmt"
	"math"

	"github.com/segmentio/encoding/json"
)

// Rect is an axis-aligned rectangle stored as its minimum corner and its
// non-negative extents.
//
// The zero value is the empty rectangle. It contains nothing, intersects
// nothing and is the identity of Union. A rectangle with zero extents at a
// given position is a point and is not empty.
type Rect[T Scalar] struct {
	pos        Vector2[T]
	dimensions Vector2[T]
	valid      bool
}

// NewRect returns the rectangle at pos with the given dimensions. Negative
// dimensions are folded so the stored extents stay non-negative.
func NewRect[T Scalar](pos Vector2[T], dimensions Vector2[T]) Rect[T] {
	if dimensions.X < 0 || dimensions.Y < 0 {
		return FromBounds(pos, pos.Add(dimensions))
	}
	return Rect[T]{
		pos:        pos,
		dimensions: dimensions,
		valid:      true,
	}
}

// FromBounds returns the smallest rectangle containing both corners,
// whatever their order.
func FromBounds[T Scalar](a Vector2[T], b Vector2[T]) Rect[T] {
	pos := a.Min(b)
	return Rect[T]{
		pos:        pos,
		dimensions: a.Max(b).Sub(pos),
		valid:      true,
	}
}

func EmptyRect[T Scalar]() Rect[T] {
	return Rect[T]{}
}

func (r Rect[T]) IsEmpty() bool {
	return !r.valid
}

// IsDimensionless reports whether the rectangle has no extent on both axes.
// The empty rectangle is dimensionless.
func (r Rect[T]) IsDimensionless() bool {
	return r.dimensions.X == 0 && r.dimensions.Y == 0
}

func (r Rect[T]) Min() Vector2[T] {
	return r.pos
}

func (r Rect[T]) Max() Vector2[T] {
	return r.pos.Add(r.dimensions)
}

func (r Rect[T]) Dimensions() Vector2[T] {
	return r.dimensions
}

func (r Rect[T]) Width() T {
	return r.dimensions.X
}

func (r Rect[T]) Height() T {
	return r.dimensions.Y
}

func (r Rect[T]) Area() T {
	return r.dimensions.X * r.dimensions.Y
}

func (r Rect[T]) Center() Vector2[T] {
	return r.pos.Add(r.dimensions.Mul(0.5))
}

func (r Rect[T]) Equal(o Rect[T]) bool {
	if r.valid != o.valid {
		return false
	}
	if !r.valid {
		return true
	}
	return r.pos.Equal(o.pos) && r.dimensions.Equal(o.dimensions)
}

// Union returns the smallest rectangle containing both rectangles.
func (r Rect[T]) Union(o Rect[T]) Rect[T] {
	if !r.valid {
		return o
	}
	if !o.valid {
		return r
	}
	return FromBounds(r.pos.Min(o.pos), r.Max().Max(o.Max()))
}

// FitPoint returns the smallest rectangle containing r and p.
func (r Rect[T]) FitPoint(p Vector2[T]) Rect[T] {
	if !r.valid {
		return FromBounds(p, p)
	}
	return FromBounds(r.pos.Min(p), r.Max().Max(p))
}

func (r Rect[T]) ContainsPoint(p Vector2[T]) bool {
	if !r.valid {
		return false
	}
	max := r.Max()
	return r.pos.X <= p.X && p.X <= max.X && r.pos.Y <= p.Y && p.Y <= max.Y
}

func (r Rect[T]) ContainsRect(o Rect[T]) bool {
	if !r.valid || !o.valid {
		return false
	}
	return r.ContainsPoint(o.pos) && r.ContainsPoint(o.Max())
}

func (r Rect[T]) Intersects(o Rect[T]) bool {
	if !r.valid || !o.valid {
		return false
	}
	rMax := r.Max()
	oMax := o.Max()
	return r.pos.X <= oMax.X && rMax.X >= o.pos.X &&
		r.pos.Y <= oMax.Y && rMax.Y >= o.pos.Y
}

// DistanceToPoint returns the euclidean distance between p and the closest
// point of the rectangle. It is 0 when p is inside and +Inf for the empty
// rectangle.
func (r Rect[T]) DistanceToPoint(p Vector2[T]) float64 {
	if !r.valid {
		return math.Inf(1)
	}
	closest := p.Max(r.pos).Min(r.Max())
	return p.Sub(closest).Length()
}

func (r Rect[T]) String() string {
	if !r.valid {
		return "Rect(empty)"
	}
	max := r.Max()
	return fmt.Sprintf("Rect(%v,%v %v,%v)", r.pos.X, r.pos.Y, max.X, max.Y)
}

type rectJSON[T Scalar] struct {
	X      T `json:"x"`
	Y      T `json:"y"`
	Width  T `json:"width"`
	Height T `json:"height"`
}

// MarshalJSON encodes the rectangle as its position and dimensions. The empty
// rectangle is encoded as null.
func (r Rect[T]) MarshalJSON() ([]byte, error) {
	if !r.valid {
		return []byte("null"), nil
	}
	return json.Marshal(rectJSON[T]{
		X:      r.pos.X,
		Y:      r.pos.Y,
		Width:  r.dimensions.X,
		Height: r.dimensions.Y,
	})
}

func (r *Rect[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Rect[T]{}
		return nil
	}

	var v rectJSON[T]
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = NewRect(Vector2[T]{v.X, v.Y}, Vector2[T]{v.Width, v.Height})
	return nil
}
