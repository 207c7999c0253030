// Package heap implements an implicit binary tree: a complete binary tree
// stored without pointers in a single slice and addressed with the classic
// 0-indexed heap formulas.
//
// A tree built for L leaves (L a power of two) holds 2L-1 slots. Slot 0 is the
// root, the children of slot i are 2i+1 and 2i+2 and the leaves occupy the
// last level, slots [L-1, 2L-2].
package heap

import (
	"fmt"
	"math/bits"
)

// Tree is an implicit binary tree of T. Every slot is initialized when the
// tree is created, so no slot is ever read before it has a value.
type Tree[T any] struct {
	slots []T
}

// NextPowerOfTwo returns the smallest power of two greater or equal to n. It
// returns 1 for n <= 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// New returns a tree able to hold count leaves, padded up to the next power
// of two. All slots are set to fill.
func New[T any](count int, fill T) *Tree[T] {
	leaves := NextPowerOfTwo(count)
	slots := make([]T, 2*leaves-1)
	for i := range slots {
		slots[i] = fill
	}
	return &Tree[T]{slots: slots}
}

// BottomUp builds a fully populated tree from its leaves. The leaves are
// copied into the last level, unused leaf slots are set to pad, then every
// parent is computed as combine(left, right), one level at a time from the
// deepest internal level up to the root.
//
// combine is expected to be associative. pad should be its identity so that
// padding does not change the merged values.
func BottomUp[T any](leaves []T, pad T, combine func(left, right T) T) *Tree[T] {
	t := New(len(leaves), pad)
	copy(t.slots[t.FirstLeaf():], leaves)

	for d := t.Depth() - 1; d >= 0; d-- {
		first := 1<<d - 1
		last := 1<<(d+1) - 2
		for i := first; i <= last; i++ {
			t.slots[i] = combine(t.slots[LeftChild(i)], t.slots[RightChild(i)])
		}
	}
	return t
}

// Len returns the number of slots.
func (t *Tree[T]) Len() int {
	return len(t.slots)
}

// Depth returns the depth of the leaves. A tree with a single slot has depth
// 0.
func (t *Tree[T]) Depth() int {
	n := len(t.slots) + 1
	if n < 2 || n&(n-1) != 0 {
		panic(fmt.Sprintf("heap: slot count %d is not of the form 2^k-1", len(t.slots)))
	}
	return bits.Len(uint(n)) - 2
}

// LeafCount returns the number of leaf slots, padding included.
func (t *Tree[T]) LeafCount() int {
	return (len(t.slots) + 1) / 2
}

// FirstLeaf returns the slot of the leftmost leaf.
func (t *Tree[T]) FirstLeaf() int {
	return t.LeafCount() - 1
}

// DepthSlice returns the slots at depth d, from left to right. It returns
// false when the tree has no level d.
//
// The returned slice shares the tree memory and must not be modified.
func (t *Tree[T]) DepthSlice(d int) ([]T, bool) {
	if d < 0 || d > t.Depth() {
		return nil, false
	}
	return t.slots[1<<d-1 : 1<<(d+1)-1], true
}

// Leaves returns the last level of the tree.
func (t *Tree[T]) Leaves() []T {
	leaves, _ := t.DepthSlice(t.Depth())
	return leaves
}

// Slots returns all the slots in index order. The returned slice shares the
// tree memory and must not be modified.
func (t *Tree[T]) Slots() []T {
	return t.slots
}

func (t *Tree[T]) At(i int) T {
	t.checkIndex(i)
	return t.slots[i]
}

func (t *Tree[T]) Set(i int, v T) {
	t.checkIndex(i)
	t.slots[i] = v
}

// IsLeaf reports whether slot i is on the last level.
func (t *Tree[T]) IsLeaf(i int) bool {
	t.checkIndex(i)
	return DepthOf(i) == t.Depth()
}

// InRange reports whether i addresses a slot of the tree.
func (t *Tree[T]) InRange(i int) bool {
	return i >= 0 && i < len(t.slots)
}

func (t *Tree[T]) checkIndex(i int) {
	if !t.InRange(i) {
		panic(fmt.Sprintf("heap: slot %d out of range [0, %d)", i, len(t.slots)))
	}
}

// LeftChild returns the slot of the left child of slot i.
func LeftChild(i int) int {
	return 2*i + 1
}

// RightChild returns the slot of the right child of slot i.
func RightChild(i int) int {
	return 2*i + 2
}

// Parent returns the slot of the parent of slot i, or -1 for the root.
func Parent(i int) int {
	if i <= 0 {
		return -1
	}
	return (i - 1) / 2
}

// DepthOf returns the depth of slot i.
func DepthOf(i int) int {
	return bits.Len(uint(i+1)) - 1
}
