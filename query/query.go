// Package query runs spatial queries against scenes. Its request and response
// types are shared by the HTTP API and the WebSocket stream.
package query

import (
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/bvh"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
)

const (
	ErrTypeInvalid   = "query_invalid"
	ErrTypeNotBuilt  = "scene_not_built"
	DefaultItemLimit = 1000
)

// Type is the kind of a query.
type Type string

const (
	// Find the smallest item containing a point.
	TypePoint Type = "point"

	// Find the first item hit by a ray.
	TypeRay Type = "ray"

	// Find the item closest to a point.
	TypeNearest Type = "nearest"

	// List the items intersecting a rectangle.
	TypeRegion Type = "region"
)

// Request describes a query. Point queries use Point, ray queries Ray and
// region queries Region.
type Request struct {
	Type   Type                      `json:"type"`
	Point  *geometry.Vector2[float64] `json:"point,omitempty"`
	Ray    *geometry.Ray2[float64]    `json:"ray,omitempty"`
	Region geometry.Rect[float64]     `json:"region"`

	// The maximum number of items returned by a region query. 0 means
	// DefaultItemLimit.
	Limit int `json:"limit,omitempty"`
}

// Validate reports whether the request is well formed.
func (r Request) Validate() error {
	switch r.Type {
	case TypePoint, TypeNearest:
		if r.Point == nil {
			return invalidf("%s query requires a point", r.Type)
		}
		if !finiteVector(*r.Point) {
			return invalidf("%s query point is not finite", r.Type)
		}

	case TypeRay:
		if r.Ray == nil {
			return invalidf("ray query requires a ray")
		}
		if !finiteVector(r.Ray.Origin) || !finiteVector(r.Ray.Direction) {
			return invalidf("ray is not finite")
		}
		if r.Ray.Direction.X == 0 && r.Ray.Direction.Y == 0 {
			return invalidf("ray direction is zero")
		}

	case TypeRegion:
		if r.Region.IsEmpty() {
			return invalidf("region query requires a region")
		}
		if !finiteVector(r.Region.Min()) || !finiteVector(r.Region.Max()) {
			return invalidf("region is not finite")
		}

	default:
		return invalidf("unknown query type %q", r.Type)
	}

	if r.Limit < 0 {
		return invalidf("negative limit")
	}
	return nil
}

// Response is the result of a query.
type Response struct {
	Type Type `json:"type"`

	// The item found by point, ray and nearest queries.
	Found bool         `json:"found"`
	Item  *models.Item `json:"item,omitempty"`
	Score float64      `json:"score,omitempty"`

	// The items found by region queries.
	Items     []models.Item `json:"items,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`

	Visited    int   `json:"visited"`
	Generation int64 `json:"generation"`

	// Set when the traversal budget ran out. The result is then the best
	// found before the budget was exhausted.
	Partial bool `json:"partial,omitempty"`
}

// Run executes the request against the current index of the scene. A
// positive budget limits the number of nodes visited by point, ray and
// nearest queries.
//
// When the budget runs out, the partial response is returned along with an
// error typed bvh.ErrTypeBudgetExhausted.
func Run(scene *models.Scene, req Request, budget int) (Response, error) {
	if err := req.Validate(); err != nil {
		instrumentQuery(req.Type, resultInvalid, 0, 0)
		return Response{}, err
	}

	state := scene.Snapshot()
	if state.Index == nil {
		instrumentQuery(req.Type, resultError, 0, 0)
		return Response{}, errors.New("scene is not built").
			WithType(ErrTypeNotBuilt).
			WithTag("scene_id", scene.ID)
	}

	start := time.Now()
	res, err := run(state.Index, req, budget)
	res.Generation = state.Generation.Int64()

	result := resultOK
	switch {
	case errors.IsType(err, bvh.ErrTypeBudgetExhausted):
		result = resultBudgetExhausted
		res.Partial = true
	case err != nil:
		result = resultError
	}
	instrumentQuery(req.Type, result, time.Since(start), res.Visited)

	return res, err
}

func run(index *models.SceneIndex, req Request, budget int) (Response, error) {
	res := Response{Type: req.Type}

	if req.Type == TypeRegion {
		limit := req.Limit
		if limit == 0 {
			limit = DefaultItemLimit
		}

		// One extra item to know whether the result is truncated.
		items := index.Region(req.Region, limit+1)
		if len(items) > limit {
			items = items[:limit]
			res.Truncated = true
		}

		res.Items = items
		res.Found = len(items) != 0
		return res, nil
	}

	var found bvh.Result[float64, models.Item]
	var err error

	switch req.Type {
	case TypePoint:
		found, err = index.IntersectPoint(*req.Point, budget)
	case TypeRay:
		found, err = index.Raycast(*req.Ray, budget)
	case TypeNearest:
		found, err = index.Nearest(*req.Point, budget)
	}

	res.Visited = found.Visited
	if found.Found {
		item := found.Object
		res.Found = true
		res.Item = &item
		res.Score = found.Score
	}
	return res, err
}

func invalidf(format string, v ...any) error {
	return errors.Newf(format, v...).WithType(ErrTypeInvalid)
}

func finiteVector(v geometry.Vector2[float64]) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}
