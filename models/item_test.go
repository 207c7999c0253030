package models

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/stretchr/testify/require"
)

func rect(x, y, w, h float64) geometry.Rect[float64] {
	return geometry.NewRect(geometry.NewVector2(x, y), geometry.NewVector2(w, h))
}

func TestPrepareItems(t *testing.T) {
	t.Run("assigns missing ids", func(t *testing.T) {
		input := []Item{
			{ID: "a", Rect: rect(0, 0, 1, 1)},
			{Label: "no id", Rect: rect(1, 1, 1, 1)},
		}

		items, err := PrepareItems(input)
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.Equal(t, "a", items[0].ID)
		require.NotEmpty(t, items[1].ID)
		require.Equal(t, "no id", items[1].Label)

		// The input is not modified.
		require.Empty(t, input[1].ID)
	})

	t.Run("accepts points", func(t *testing.T) {
		_, err := PrepareItems([]Item{{Rect: rect(4, 2, 0, 0)}})
		require.NoError(t, err)
	})

	tests := []struct {
		scenario string
		items    []Item
	}{
		{
			scenario: "empty rect",
			items:    []Item{{ID: "a"}},
		},
		{
			scenario: "nan coordinate",
			items:    []Item{{ID: "a", Rect: rect(math.NaN(), 0, 1, 1)}},
		},
		{
			scenario: "infinite coordinate",
			items:    []Item{{ID: "a", Rect: rect(0, 0, math.Inf(1), 1)}},
		},
		{
			scenario: "duplicate id",
			items: []Item{
				{ID: "a", Rect: rect(0, 0, 1, 1)},
				{ID: "a", Rect: rect(1, 1, 1, 1)},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			_, err := PrepareItems(test.items)
			require.Error(t, err)
			require.Equal(t, ErrTypeItemInvalid, errors.Type(err))
		})
	}
}
