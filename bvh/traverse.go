package bvh

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/heap"
)

// Predicate scores the nodes met during a traversal. Returning false prunes
// the node: an internal node is not descended and a leaf is not considered.
// Lower scores are better.
//
// At internal nodes, the score is not used. A predicate looking for the best
// leaf under a custom score must only admit internal nodes that may contain a
// leaf better than what was found so far.
type Predicate[T geometry.Scalar, O Bounded[T]] func(Node[T, O]) (score float64, ok bool)

// Result is the outcome of a traversal.
type Result[T geometry.Scalar, O Bounded[T]] struct {
	Object      O
	ObjectIndex int
	Slot        int
	Score       float64
	Found       bool

	// The number of slots popped from the traversal stack.
	Visited int
}

// FindBest returns the admitted leaf object with the lowest score. It returns
// false when no leaf was admitted.
func (ix *Index[T, O]) FindBest(predicate Predicate[T, O]) (O, bool) {
	res, _ := ix.Traverse(predicate, 0)
	return res.Object, res.Found
}

// Traverse walks the index depth first, left child first, and returns the
// admitted leaf with the lowest score. When two leaves have the same score,
// the first one found is kept.
//
// A positive budget limits the number of visited slots. When it runs out
// before the walk completes, the best result found so far is returned along
// with an error typed ErrTypeBudgetExhausted.
func (ix *Index[T, O]) Traverse(predicate Predicate[T, O], budget int) (Result[T, O], error) {
	res := Result[T, O]{
		ObjectIndex: -1,
		Slot:        -1,
	}

	stack := make([]int, 1, ix.Depth()+2)
	stack[0] = 0

	for len(stack) != 0 {
		if budget > 0 && res.Visited == budget {
			return res, errors.New("traversal budget exhausted").
				WithType(ErrTypeBudgetExhausted).
				WithTag("budget", budget).
				WithTag("pending", len(stack))
		}

		slot := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		res.Visited++

		node := ix.Node(slot)
		if !ix.holdsObjects(slot) {
			continue
		}

		score, ok := predicate(node)
		if !ok {
			continue
		}

		if node.Kind == NodeLeaf {
			if !res.Found || score < res.Score {
				res.Object = node.Object
				res.ObjectIndex = node.ObjectIndex
				res.Slot = slot
				res.Score = score
				res.Found = true
			}
			continue
		}

		// Right first so the left child is popped next.
		stack = append(stack, heap.RightChild(slot), heap.LeftChild(slot))
	}

	return res, nil
}

// Search calls fn with every object whose bounds intersect box, in tree
// order. The walk stops when fn returns false.
func (ix *Index[T, O]) Search(box geometry.Rect[T], fn func(O) bool) {
	if box.IsEmpty() {
		return
	}

	stack := []int{0}
	for len(stack) != 0 {
		slot := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := ix.Node(slot)
		if node.Kind == NodePadding || !node.Rect.Intersects(box) {
			continue
		}

		if node.Kind == NodeLeaf {
			if !fn(node.Object) {
				return
			}
			continue
		}

		stack = append(stack, heap.RightChild(slot), heap.LeftChild(slot))
	}
}
