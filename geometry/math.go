package geometry

import (
	"math"
)

// Scalar is the set of coordinate types the geometry and the index can work
// with.
type Scalar interface {
	~float32 | ~float64
}

func EqualWithEpsilon[T Scalar](a T, b T, epsilon float64) bool {
	return math.Abs(float64(a-b)) <= epsilon
}

func Clamp[T Scalar](value T, min T, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

type Vector2[T Scalar] struct {
	X T `json:"x"`
	Y T `json:"y"`
}

func NewVector2[T Scalar](x, y T) Vector2[T] {
	return Vector2[T]{X: x, Y: y}
}

func (v1 Vector2[T]) Equal(v2 Vector2[T]) bool {
	return v1.X == v2.X && v1.Y == v2.Y
}

func (v1 Vector2[T]) EqualWithEpsilon(v2 Vector2[T], epsilon float64) bool {
	return EqualWithEpsilon(v1.X, v2.X, epsilon) &&
		EqualWithEpsilon(v1.Y, v2.Y, epsilon)
}

func (v1 Vector2[T]) Add(v2 Vector2[T]) Vector2[T] {
	return Vector2[T]{v1.X + v2.X, v1.Y + v2.Y}
}

func (v1 Vector2[T]) Sub(v2 Vector2[T]) Vector2[T] {
	return Vector2[T]{v1.X - v2.X, v1.Y - v2.Y}
}

func (v1 Vector2[T]) Mul(s T) Vector2[T] {
	return Vector2[T]{v1.X * s, v1.Y * s}
}

// Div divides component-wise. A zero component in v2 yields 0 for that
// component instead of an infinity.
func (v1 Vector2[T]) Div(v2 Vector2[T]) Vector2[T] {
	var result Vector2[T]
	if v2.X != 0 {
		result.X = v1.X / v2.X
	}
	if v2.Y != 0 {
		result.Y = v1.Y / v2.Y
	}
	return result
}

func (v1 Vector2[T]) Min(v2 Vector2[T]) Vector2[T] {
	return Vector2[T]{min(v1.X, v2.X), min(v1.Y, v2.Y)}
}

func (v1 Vector2[T]) Max(v2 Vector2[T]) Vector2[T] {
	return Vector2[T]{max(v1.X, v2.X), max(v1.Y, v2.Y)}
}

func (v1 Vector2[T]) Dot(v2 Vector2[T]) T {
	return v1.X*v2.X + v1.Y*v2.Y
}

func (v1 Vector2[T]) Length() float64 {
	return math.Sqrt(float64(v1.X*v1.X + v1.Y*v1.Y))
}

func (v1 Vector2[T]) Normalized() Vector2[T] {
	length := v1.Length()
	if length == 0 {
		return v1
	}
	return Vector2[T]{T(float64(v1.X) / length), T(float64(v1.Y) / length)}
}
