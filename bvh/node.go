package bvh

import (
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/heap"
)

// NodeKind classifies the slots of an index.
type NodeKind int

const (
	// An internal slot, holding the union of the rectangles below it.
	NodeInternal NodeKind = iota

	// A leaf slot holding one of the indexed objects.
	NodeLeaf

	// A leaf slot past the last object. Padding holds the empty rectangle.
	NodePadding
)

func (k NodeKind) String() string {
	switch k {
	case NodeInternal:
		return "internal"
	case NodeLeaf:
		return "leaf"
	case NodePadding:
		return "padding"
	default:
		return "unknown"
	}
}

// Node is the view of a slot handed to traversal predicates.
type Node[T geometry.Scalar, O Bounded[T]] struct {
	Slot int
	Kind NodeKind
	Rect geometry.Rect[T]

	// The object held by a leaf and its position in the input slice.
	// ObjectIndex is -1 for other kinds.
	Object      O
	ObjectIndex int
}

// IsLeaf reports whether the node holds an object.
func (n Node[T, O]) IsLeaf() bool {
	return n.Kind == NodeLeaf
}

// Node returns the node at the given slot. It panics when slot is out of
// range.
func (ix *Index[T, O]) Node(slot int) Node[T, O] {
	n := Node[T, O]{
		Slot:        slot,
		Kind:        NodeInternal,
		Rect:        ix.rects.At(slot),
		ObjectIndex: -1,
	}

	if !ix.rects.IsLeaf(slot) {
		return n
	}

	leaf := slot - ix.rects.FirstLeaf()
	if leaf >= len(ix.leaves) {
		n.Kind = NodePadding
		return n
	}

	n.Kind = NodeLeaf
	n.ObjectIndex = ix.leaves[leaf].Object
	n.Object = ix.objects[n.ObjectIndex]
	return n
}

// holdsObjects reports whether the subtree rooted at slot contains at least
// one object. Padding is packed at the right end of the deepest level, so the
// leftmost leaf of the subtree decides.
func (ix *Index[T, O]) holdsObjects(slot int) bool {
	leftmost := (slot+1)<<(ix.Depth()-heap.DepthOf(slot)) - 1
	return leftmost-ix.FirstLeaf() < len(ix.leaves)
}
