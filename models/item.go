package models

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/google/uuid"
)

const (
	ErrTypeItemInvalid = "item_invalid"
)

// Item is a labelled rectangle indexed in a scene.
type Item struct {
	ID    string                 `json:"id"`
	Label string                 `json:"label,omitempty"`
	Rect  geometry.Rect[float64] `json:"rect"`
}

func (i Item) Bounds() geometry.Rect[float64] {
	return i.Rect
}

// PrepareItems returns a copy of items where items without an ID get a
// random one. It fails when an item has an empty rectangle, a coordinate that
// is not a finite number or an ID used by another item.
func PrepareItems(items []Item) ([]Item, error) {
	prepared := make([]Item, len(items))
	ids := make(map[string]int, len(items))

	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}

		if item.Rect.IsEmpty() {
			return nil, errors.New("item has no rect").
				WithType(ErrTypeItemInvalid).
				WithTag("index", i).
				WithTag("id", item.ID)
		}

		if !isFinite(item.Rect) {
			return nil, errors.New("item rect is not finite").
				WithType(ErrTypeItemInvalid).
				WithTag("index", i).
				WithTag("id", item.ID)
		}

		if prev, ok := ids[item.ID]; ok {
			return nil, errors.New("duplicate item id").
				WithType(ErrTypeItemInvalid).
				WithTag("index", i).
				WithTag("previous_index", prev).
				WithTag("id", item.ID)
		}
		ids[item.ID] = i

		prepared[i] = item
	}

	return prepared, nil
}

func isFinite(r geometry.Rect[float64]) bool {
	lo := r.Min()
	hi := r.Max()
	for _, v := range [...]float64{lo.X, lo.Y, hi.X, hi.Y} {
		if math.IsNaN(v) || math.Abs(v) > maxCoordinate {
			return false
		}
	}
	return true
}

// Coordinates beyond this magnitude lose the precision needed to build
// meaningful bounds.
const maxCoordinate = 1e15
