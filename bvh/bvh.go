// Package bvh implements a 2D bounding volume hierarchy built once over a set
// of objects and queried many times.
//
// Leaves are ordered along a Morton curve computed from the centroids of the
// object bounds, then merged bottom up into an implicit binary tree of
// rectangles. The resulting index is immutable and can be read from multiple
// goroutines without synchronization.
package bvh

import (
	"slices"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/heap"
	"github.com/aukilabs/kenaz/morton"
)

const (
	// The number of grid cells per axis used to quantize normalized
	// centroids before Morton encoding.
	QuantizationScale = 1024

	ErrTypeEmptyInput      = "bvh_empty_input"
	ErrTypeBudgetExhausted = "bvh_budget_exhausted"
)

// Bounded is implemented by the objects the index is built over.
type Bounded[T geometry.Scalar] interface {
	Bounds() geometry.Rect[T]
}

// LeafEntry maps a leaf of the index to the object it holds. Leaf entries are
// stored in tree order: the entry at position i occupies slot FirstLeaf()+i.
type LeafEntry struct {
	Key    morton.Key
	Object int
}

// Index is a bounding volume hierarchy over objects of type O.
type Index[T geometry.Scalar, O Bounded[T]] struct {
	rects   *heap.Tree[geometry.Rect[T]]
	objects []O
	leaves  []LeafEntry
	slotOf  []int
}

// Build creates an index over the given objects. It returns an error typed
// ErrTypeEmptyInput when objects is empty.
//
// The objects slice is retained by the index and must not be modified
// afterward.
func Build[T geometry.Scalar, O Bounded[T]](objects []O) (*Index[T, O], error) {
	if len(objects) == 0 {
		return nil, errors.New("cannot build an index without objects").
			WithType(ErrTypeEmptyInput)
	}

	rects := make([]geometry.Rect[T], len(objects))
	sceneBounds := geometry.EmptyRect[T]()
	for i, obj := range objects {
		rects[i] = obj.Bounds()
		sceneBounds = sceneBounds.Union(rects[i])
	}

	leaves := make([]LeafEntry, len(objects))
	for i, rect := range rects {
		leaves[i] = LeafEntry{
			Key:    mortonKey(rect, sceneBounds),
			Object: i,
		}
	}

	// Stable so objects with equal keys keep their input order.
	slices.SortStableFunc(leaves, func(a, b LeafEntry) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		default:
			return 0
		}
	})

	sorted := make([]geometry.Rect[T], len(leaves))
	for i, l := range leaves {
		sorted[i] = rects[l.Object]
	}

	tree := heap.BottomUp(sorted, geometry.EmptyRect[T](), geometry.Rect[T].Union)

	slotOf := make([]int, len(objects))
	for i, l := range leaves {
		slotOf[l.Object] = tree.FirstLeaf() + i
	}

	return &Index[T, O]{
		rects:   tree,
		objects: objects,
		leaves:  leaves,
		slotOf:  slotOf,
	}, nil
}

// mortonKey returns the Morton key of the centroid of rect, normalized
// against the scene bounds. Objects outside the scene bounds are clamped to
// its edges.
func mortonKey[T geometry.Scalar](rect geometry.Rect[T], scene geometry.Rect[T]) morton.Key {
	normalized := rect.Center().Sub(scene.Min()).Div(scene.Dimensions())

	x := geometry.Clamp(float64(normalized.X), 0, 1) * QuantizationScale
	y := geometry.Clamp(float64(normalized.Y), 0, 1) * QuantizationScale
	return morton.Encode(uint16(x), uint16(y))
}

// Depth returns the depth of the leaves.
func (ix *Index[T, O]) Depth() int {
	return ix.rects.Depth()
}

// SlotCount returns the number of slots of the underlying tree.
func (ix *Index[T, O]) SlotCount() int {
	return ix.rects.Len()
}

// LeafSlots returns the number of leaf slots, padding included.
func (ix *Index[T, O]) LeafSlots() int {
	return ix.rects.LeafCount()
}

// LeafCount returns the number of indexed objects.
func (ix *Index[T, O]) LeafCount() int {
	return len(ix.objects)
}

// FirstLeaf returns the slot of the leftmost leaf.
func (ix *Index[T, O]) FirstLeaf() int {
	return ix.rects.FirstLeaf()
}

// RootBounds returns the union of the bounds of all the objects.
func (ix *Index[T, O]) RootBounds() geometry.Rect[T] {
	return ix.rects.At(0)
}

// Objects returns the indexed objects in input order. The returned slice must
// not be modified.
func (ix *Index[T, O]) Objects() []O {
	return ix.objects
}

// Leaves returns a copy of the leaf index table, in tree order.
func (ix *Index[T, O]) Leaves() []LeafEntry {
	return slices.Clone(ix.leaves)
}

// Rects returns the rectangles of all the slots in slot order. The returned
// slice must not be modified.
func (ix *Index[T, O]) Rects() []geometry.Rect[T] {
	return ix.rects.Slots()
}

// LeafSlot returns the slot holding the object at the given input position.
func (ix *Index[T, O]) LeafSlot(object int) (int, bool) {
	if object < 0 || object >= len(ix.slotOf) {
		return 0, false
	}
	return ix.slotOf[object], true
}
