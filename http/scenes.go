package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/bvh"
	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/query"
	"github.com/aukilabs/kenaz/snapshot"
	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/encoding/json"
)

const (
	// The default maximum size of request bodies.
	DefaultMaxBodySize = 32 << 20

	SnapshotContentType = "application/vnd.kenaz.snapshot"
)

// SceneInfo describes a scene and its current index.
type SceneInfo struct {
	ID         string                 `json:"id"`
	UUID       string                 `json:"uuid"`
	Name       string                 `json:"name"`
	CreatedAt  time.Time              `json:"created_at"`
	BuiltAt    time.Time              `json:"built_at"`
	Generation int64                  `json:"generation"`
	ItemCount  int                    `json:"item_count"`
	Depth      int                    `json:"depth"`
	SlotCount  int                    `json:"slot_count"`
	LeafSlots  int                    `json:"leaf_slots"`
	RootBounds geometry.Rect[float64] `json:"root_bounds"`
	Digest     string                 `json:"digest"`
}

type CreateSceneRequest struct {
	Name  string        `json:"name"`
	Items []models.Item `json:"items"`
}

type UpdateItemsRequest struct {
	Items []models.Item `json:"items"`
}

type ListScenesResponse struct {
	Scenes []SceneInfo `json:"scenes"`
}

// SceneHandler serves the scene API.
type SceneHandler struct {
	Store        *models.SceneStore
	FeatureFlags featureflag.FeatureFlag

	// The maximum number of index nodes visited by a query. 0 means
	// unlimited.
	QueryBudget int

	// The maximum size of request bodies. 0 means DefaultMaxBodySize.
	MaxBodySize int64

	// Called after scenes are created, rebuilt, imported or deleted.
	OnChange func()
}

// Register adds the scene API routes to mux. wrap is applied to every route.
func (h *SceneHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /scenes":              h.handleCreateScene,
		"GET /scenes":               h.handleListScenes,
		"GET /scenes/{id}":          h.handleGetScene,
		"DELETE /scenes/{id}":       h.handleDeleteScene,
		"PUT /scenes/{id}/items":    h.handleUpdateItems,
		"POST /scenes/{id}/query":   h.handleQuery,
		"GET /scenes/{id}/snapshot": h.handleExportSnapshot,
		"POST /snapshots":           h.handleImportSnapshot,
	}

	for pattern, handler := range routes {
		mux.Handle(pattern, wrap(handler))
	}
}

func (h *SceneHandler) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var req CreateSceneRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	scene := models.NewScene(h.Store.NewID(), req.Name)
	if err := scene.Rebuild(req.Items, h.Store.NewGeneration()); err != nil {
		h.Store.ReleaseID(scene.ID)
		writeError(w, r, err)
		return
	}
	h.Store.Add(scene)
	h.changed()

	logs.WithTag("scene_id", h.Store.GlobalSceneID(scene.ID)).
		WithTag("name", scene.Name).
		WithTag("items", scene.ItemCount()).
		Info("scene created")

	info := h.sceneInfo(scene)
	w.Header().Set("ETag", etag(info.Digest))
	writeJSON(w, http.StatusCreated, info)
}

func (h *SceneHandler) handleListScenes(w http.ResponseWriter, r *http.Request) {
	scenes := h.Store.List()

	res := ListScenesResponse{
		Scenes: make([]SceneInfo, 0, len(scenes)),
	}
	for _, s := range scenes {
		res.Scenes = append(res.Scenes, h.sceneInfo(s))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SceneHandler) handleGetScene(w http.ResponseWriter, r *http.Request) {
	scene, err := h.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	info := h.sceneInfo(scene)
	tag := etag(info.Digest)
	w.Header().Set("ETag", tag)

	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *SceneHandler) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	scene, err := h.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Store.Remove(scene)
	h.changed()

	logs.WithTag("scene_id", r.PathValue("id")).Info("scene deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *SceneHandler) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	if err := h.checkFeature(featureflag.FlagDisableSceneRebuild); err != nil {
		writeError(w, r, err)
		return
	}

	scene, err := h.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req UpdateItemsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := scene.Rebuild(req.Items, h.Store.NewGeneration()); err != nil {
		writeError(w, r, err)
		return
	}
	h.changed()

	info := h.sceneInfo(scene)
	w.Header().Set("ETag", etag(info.Digest))
	writeJSON(w, http.StatusOK, info)
}

func (h *SceneHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	scene, err := h.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req query.Request
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := RunQuery(scene, req, h.QueryBudget, h.FeatureFlags)
	if err != nil && !errors.IsType(err, bvh.ErrTypeBudgetExhausted) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SceneHandler) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.checkFeature(featureflag.FlagDisableSnapshotExport); err != nil {
		writeError(w, r, err)
		return
	}

	scene, err := h.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := snapshot.FromScene(scene)
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := snapshot.Encode(snap)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", SnapshotContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("ETag", etag(hexDigest(snap.Digest)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (h *SceneHandler) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.checkFeature(featureflag.FlagDisableSnapshotImport); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize()))
	if err != nil {
		writeError(w, r, errors.New("reading snapshot failed").
			WithType(ErrTypeRequestInvalid).
			Wrap(err))
		return
	}

	snap, err := snapshot.Decode(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	scene, err := snapshot.Restore(h.Store, snap, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.changed()

	logs.WithTag("scene_id", h.Store.GlobalSceneID(scene.ID)).
		WithTag("scene_uuid", scene.SceneUUID).
		WithTag("items", scene.ItemCount()).
		Info("scene imported")

	info := h.sceneInfo(scene)
	w.Header().Set("ETag", etag(info.Digest))
	writeJSON(w, http.StatusCreated, info)
}

// RunQuery runs req against scene once the feature flags allow it.
func RunQuery(scene *models.Scene, req query.Request, budget int, flags featureflag.FeatureFlag) (query.Response, error) {
	if req.Type == query.TypeRegion && flags.IsSet(featureflag.FlagDisableRegionQueries) {
		return query.Response{}, errors.New("region queries are disabled").
			WithType(ErrTypeFeatureDisabled)
	}
	return query.Run(scene, req, budget)
}

func (h *SceneHandler) scene(r *http.Request) (*models.Scene, error) {
	id := r.PathValue("id")

	scene, ok := h.Store.GetByGlobalID(id)
	if !ok {
		return nil, errors.New("scene not found").
			WithType(models.ErrTypeSceneNotFound).
			WithTag("scene_id", id)
	}
	return scene, nil
}

func (h *SceneHandler) sceneInfo(scene *models.Scene) SceneInfo {
	state := scene.Snapshot()

	info := SceneInfo{
		ID:         h.Store.GlobalSceneID(scene.ID),
		UUID:       scene.SceneUUID,
		Name:       scene.Name,
		CreatedAt:  scene.CreatedAt,
		BuiltAt:    state.BuiltAt,
		Generation: state.Generation.Int64(),
		ItemCount:  len(state.Items),
	}

	if state.Index != nil {
		info.Depth = state.Index.Depth()
		info.SlotCount = state.Index.SlotCount()
		info.LeafSlots = state.Index.LeafSlots()
		info.RootBounds = state.Index.RootBounds()
		info.Digest = snapshot.Digest(state.Index).Hex()
	}
	return info
}

func (h *SceneHandler) checkFeature(flag featureflag.Flag) error {
	if h.FeatureFlags.IsSet(flag) {
		return errors.New("feature is disabled").
			WithType(ErrTypeFeatureDisabled).
			WithTag("flag", flag)
	}
	return nil
}

func (h *SceneHandler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodySize()))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body").
			WithType(ErrTypeRequestInvalid).
			Wrap(err)
	}
	return nil
}

func (h *SceneHandler) maxBodySize() int64 {
	if h.MaxBodySize > 0 {
		return h.MaxBodySize
	}
	return DefaultMaxBodySize
}

func (h *SceneHandler) changed() {
	if h.OnChange != nil {
		h.OnChange()
	}
}

func etag(digest string) string {
	return `"` + digest + `"`
}

func hexDigest(b []byte) string {
	return common.BytesToHash(b).Hex()
}
