package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/query"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

type testEnv struct {
	store   *models.SceneStore
	server  *httptest.Server
	changes atomic.Int32
}

func newTestEnv(t *testing.T, flags ...featureflag.Flag) *testEnv {
	store, err := models.NewSceneStore("ted", 1)
	require.NoError(t, err)

	enabled := make([]string, len(flags))
	for i, f := range flags {
		enabled[i] = string(f)
	}

	env := &testEnv{store: store}
	handler := SceneHandler{
		Store:        store,
		FeatureFlags: featureflag.New(enabled),
		OnChange:     func() { env.changes.Add(1) },
	}

	mux := http.NewServeMux()
	handler.Register(mux, func(h http.Handler) http.Handler {
		return HandleWithCORS(VerifyAuthTokenHandler(testToken, h))
	})

	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func (e *testEnv) createScene(t *testing.T) SceneInfo {
	res := e.do(t, http.MethodPost, "/scenes", `{
		"name": "office",
		"items": [
			{"id": "floor", "rect": {"x": 0, "y": 0, "width": 10, "height": 10}},
			{"id": "table", "label": "Table", "rect": {"x": 2, "y": 2, "width": 2, "height": 1}},
			{"id": "door", "rect": {"x": 20, "y": 0, "width": 1, "height": 3}}
		]
	}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	return decode[SceneInfo](t, res)
}

func TestCreateScene(t *testing.T) {
	env := newTestEnv(t)
	info := env.createScene(t)

	require.Equal(t, "tedx1", info.ID)
	require.Equal(t, "office", info.Name)
	require.Equal(t, 3, info.ItemCount)
	require.Equal(t, 2, info.Depth)
	require.Equal(t, 7, info.SlotCount)
	require.Equal(t, 4, info.LeafSlots)
	require.Equal(t, float64(21), info.RootBounds.Width())
	require.NotEmpty(t, info.Digest)
	require.NotZero(t, info.Generation)
	require.Equal(t, int32(1), env.changes.Load())
}

func TestCreateSceneInvalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		scenario string
		body     string
		errType  string
	}{
		{
			scenario: "malformed json",
			body:     `{"name":`,
			errType:  ErrTypeRequestInvalid,
		},
		{
			scenario: "no items",
			body:     `{"name": "empty", "items": []}`,
			errType:  "bvh_empty_input",
		},
		{
			scenario: "item without rect",
			body:     `{"name": "broken", "items": [{"id": "a"}]}`,
			errType:  models.ErrTypeItemInvalid,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			res := env.do(t, http.MethodPost, "/scenes", test.body)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)

			body := decode[ErrorResponse](t, res)
			require.Equal(t, test.errType, body.Type)
			require.Equal(t, http.StatusText(http.StatusBadRequest), body.Error)
		})
	}

	require.Zero(t, env.store.Count())

	// Failed creations do not burn scene ids.
	info := env.createScene(t)
	require.Equal(t, "tedx1", info.ID)
}

func TestListScenes(t *testing.T) {
	env := newTestEnv(t)
	env.createScene(t)
	env.createScene(t)

	res := env.do(t, http.MethodGet, "/scenes", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decode[ListScenesResponse](t, res)
	require.Len(t, body.Scenes, 2)
	require.Equal(t, "tedx1", body.Scenes[0].ID)
	require.Equal(t, "tedx2", body.Scenes[1].ID)
}

func TestGetScene(t *testing.T) {
	env := newTestEnv(t)
	created := env.createScene(t)

	res := env.do(t, http.MethodGet, "/scenes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, `"`+created.Digest+`"`, res.Header.Get("ETag"))

	info := decode[SceneInfo](t, res)
	require.Equal(t, created.UUID, info.UUID)

	t.Run("not modified", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+"/scenes/"+created.ID, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testToken)
		req.Header.Set("If-None-Match", `"`+created.Digest+`"`)

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusNotModified, res.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		res := env.do(t, http.MethodGet, "/scenes/tedx99", nil)
		require.Equal(t, http.StatusNotFound, res.StatusCode)
		require.Equal(t, models.ErrTypeSceneNotFound, decode[ErrorResponse](t, res).Type)
	})
}

func TestDeleteScene(t *testing.T) {
	env := newTestEnv(t)
	created := env.createScene(t)

	res := env.do(t, http.MethodDelete, "/scenes/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Zero(t, env.store.Count())

	res = env.do(t, http.MethodDelete, "/scenes/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUpdateItems(t *testing.T) {
	env := newTestEnv(t)
	created := env.createScene(t)

	res := env.do(t, http.MethodPut, "/scenes/"+created.ID+"/items", `{
		"items": [{"id": "lamp", "rect": {"x": 1, "y": 1, "width": 1, "height": 1}}]
	}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	info := decode[SceneInfo](t, res)
	require.Equal(t, 1, info.ItemCount)
	require.Equal(t, 0, info.Depth)
	require.Greater(t, info.Generation, created.Generation)
	require.NotEqual(t, created.Digest, info.Digest)

	t.Run("failure keeps previous items", func(t *testing.T) {
		res := env.do(t, http.MethodPut, "/scenes/"+created.ID+"/items", `{"items": []}`)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)

		res = env.do(t, http.MethodGet, "/scenes/"+created.ID, nil)
		require.Equal(t, 1, decode[SceneInfo](t, res).ItemCount)
	})
}

func TestUpdateItemsDisabled(t *testing.T) {
	env := newTestEnv(t, featureflag.FlagDisableSceneRebuild)
	created := env.createScene(t)

	res := env.do(t, http.MethodPut, "/scenes/"+created.ID+"/items", `{"items": []}`)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Equal(t, ErrTypeFeatureDisabled, decode[ErrorResponse](t, res).Type)
}

func TestQuery(t *testing.T) {
	env := newTestEnv(t)
	created := env.createScene(t)
	path := "/scenes/" + created.ID + "/query"

	t.Run("point", func(t *testing.T) {
		res := env.do(t, http.MethodPost, path, `{"type": "point", "point": {"x": 3, "y": 2.5}}`)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decode[query.Response](t, res)
		require.True(t, body.Found)
		require.Equal(t, "table", body.Item.ID)
		require.Equal(t, "Table", body.Item.Label)
		require.Equal(t, created.Generation, body.Generation)
	})

	t.Run("ray", func(t *testing.T) {
		res := env.do(t, http.MethodPost, path, `{
			"type": "ray",
			"ray": {"origin": {"x": 12, "y": 1}, "direction": {"x": 1, "y": 0}}
		}`)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "door", decode[query.Response](t, res).Item.ID)
	})

	t.Run("nearest", func(t *testing.T) {
		res := env.do(t, http.MethodPost, path, `{"type": "nearest", "point": {"x": 17, "y": 1}}`)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decode[query.Response](t, res)
		require.Equal(t, "door", body.Item.ID)
		require.Equal(t, float64(3), body.Score)
	})

	t.Run("region", func(t *testing.T) {
		res := env.do(t, http.MethodPost, path, `{
			"type": "region",
			"region": {"x": 1, "y": 1, "width": 2, "height": 2}
		}`)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Len(t, decode[query.Response](t, res).Items, 2)
	})

	t.Run("invalid", func(t *testing.T) {
		res := env.do(t, http.MethodPost, path, `{"type": "point"}`)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, query.ErrTypeInvalid, decode[ErrorResponse](t, res).Type)
	})
}

func TestQueryRegionDisabled(t *testing.T) {
	env := newTestEnv(t, featureflag.FlagDisableRegionQueries)
	created := env.createScene(t)

	res := env.do(t, http.MethodPost, "/scenes/"+created.ID+"/query", `{
		"type": "region",
		"region": {"x": 1, "y": 1, "width": 2, "height": 2}
	}`)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestSnapshotExportImport(t *testing.T) {
	env := newTestEnv(t)
	created := env.createScene(t)

	res := env.do(t, http.MethodGet, "/scenes/"+created.ID+"/snapshot", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, SnapshotContentType, res.Header.Get("Content-Type"))
	require.Equal(t, `"`+created.Digest+`"`, res.Header.Get("ETag"))

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	other := newTestEnv(t)
	res = other.do(t, http.MethodPost, "/snapshots", data)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	imported := decode[SceneInfo](t, res)
	require.Equal(t, created.UUID, imported.UUID)
	require.Equal(t, created.Digest, imported.Digest)
	require.Equal(t, created.ItemCount, imported.ItemCount)

	t.Run("invalid snapshot", func(t *testing.T) {
		res := other.do(t, http.MethodPost, "/snapshots", "garbage")
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "snapshot_invalid", decode[ErrorResponse](t, res).Type)
	})
}

func TestSnapshotDisabled(t *testing.T) {
	env := newTestEnv(t,
		featureflag.FlagDisableSnapshotExport,
		featureflag.FlagDisableSnapshotImport,
	)
	created := env.createScene(t)

	res := env.do(t, http.MethodGet, "/scenes/"+created.ID+"/snapshot", nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res = env.do(t, http.MethodPost, "/snapshots", "whatever")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		scenario string
		header   string
		status   int
	}{
		{scenario: "missing token", status: http.StatusUnauthorized},
		{scenario: "wrong token", header: "Bearer nope", status: http.StatusUnauthorized},
		{scenario: "wrong scheme", header: "Basic " + testToken, status: http.StatusUnauthorized},
		{scenario: "valid token", header: "Bearer " + testToken, status: http.StatusOK},
		{scenario: "case insensitive scheme", header: "bearer " + testToken, status: http.StatusOK},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, env.server.URL+"/scenes", nil)
			require.NoError(t, err)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}

			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer res.Body.Close()
			require.Equal(t, test.status, res.StatusCode)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := HandleWithCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached the handler")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/scenes", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
