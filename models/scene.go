package models

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/bvh"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

const (
	ErrTypeSceneNotFound   = "scene_not_found"
	ErrTypeStaleGeneration = "scene_stale_generation"
)

func init() {
	// 2025-01-01T00:00:00Z.
	snowflake.Epoch = 1735689600000
}

// SceneIndex is the spatial index of a scene.
type SceneIndex = bvh.Index[float64, Item]

// Scene is a named set of items and the spatial index built over them.
type Scene struct {
	ID        uint32
	SceneUUID string
	Name      string
	CreatedAt time.Time

	// Serializes rebuilds.
	buildMutex sync.Mutex

	mutex      sync.RWMutex
	items      []Item
	index      *SceneIndex
	generation snowflake.ID
	builtAt    time.Time
	removed    bool
}

// SceneState is a consistent view of a scene at a given build generation.
type SceneState struct {
	Items      []Item
	Index      *SceneIndex
	Generation snowflake.ID
	BuiltAt    time.Time
}

func NewScene(id uint32, name string) *Scene {
	return &Scene{
		ID:        id,
		SceneUUID: uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// Rebuild replaces the items of the scene and builds a new index over them.
// The index is built without blocking readers, which keep seeing the previous
// state until the new one is ready. On failure, the previous state is kept.
//
// Generations must increase: a rebuild with a generation lower or equal to
// the current one fails with an error typed ErrTypeStaleGeneration.
func (s *Scene) Rebuild(items []Item, generation snowflake.ID) error {
	s.buildMutex.Lock()
	defer s.buildMutex.Unlock()

	if current := s.Generation(); generation <= current {
		return errors.New("scene generation is stale").
			WithType(ErrTypeStaleGeneration).
			WithTag("scene_id", s.ID).
			WithTag("generation", generation.Int64()).
			WithTag("current_generation", current.Int64())
	}

	items, err := PrepareItems(items)
	if err != nil {
		instrumentBuildFailure()
		return err
	}

	start := time.Now()
	index, err := bvh.Build[float64](items)
	duration := time.Since(start)
	if err != nil {
		instrumentBuildFailure()
		return err
	}
	instrumentBuildDuration(duration)

	s.mutex.Lock()
	prevCount := len(s.items)
	s.items = items
	s.index = index
	s.generation = generation
	s.builtAt = start.Add(duration)
	removed := s.removed
	s.mutex.Unlock()

	if !removed {
		instrumentObjectCount(len(items) - prevCount)
	}

	logs.WithTag("scene_id", s.ID).
		WithTag("scene_uuid", s.SceneUUID).
		WithTag("generation", generation.Int64()).
		WithTag("items", len(items)).
		WithTag("depth", index.Depth()).
		WithTag("duration", duration).
		Debug("scene rebuilt")
	return nil
}

// markRemoved stops the scene from counting its items in the object gauge
// and returns the number of items it was counting.
func (s *Scene) markRemoved() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.removed = true
	return len(s.items)
}

// Snapshot returns the current state of the scene. The returned items and
// index must not be modified.
func (s *Scene) Snapshot() SceneState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return SceneState{
		Items:      s.items,
		Index:      s.index,
		Generation: s.generation,
		BuiltAt:    s.builtAt,
	}
}

func (s *Scene) Generation() snowflake.ID {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.generation
}

func (s *Scene) ItemCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.items)
}

// IsBuilt reports whether the scene has an index.
func (s *Scene) IsBuilt() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.index != nil
}

// SceneStore holds the scenes of a server.
type SceneStore struct {
	serverID    string
	mutex       sync.RWMutex
	scenes      map[string]*Scene
	ids         SequentialIDGenerator
	generations *snowflake.Node
}

// NewSceneStore creates a scene store. The node ID distinguishes the build
// generations of servers sharing snapshots and must be in [0, 1023].
func NewSceneStore(serverID string, nodeID int64) (*SceneStore, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, errors.New("creating generation node failed").
			WithTag("node_id", nodeID).
			Wrap(err)
	}

	return &SceneStore{
		serverID:    serverID,
		scenes:      make(map[string]*Scene),
		generations: node,
	}, nil
}

func (s *SceneStore) ServerID() string {
	return s.serverID
}

func (s *SceneStore) NewID() uint32 {
	return s.ids.New()
}

// ReserveID reserves a scene ID so that NewID does not return it. It returns
// false when a scene with that ID is already stored.
func (s *SceneStore) ReserveID(id uint32) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.scenes[s.GlobalSceneID(id)]; ok || id == 0 {
		return false
	}
	s.ids.Reserve(id)
	return true
}

// ReleaseID makes an ID returned by NewID or reserved with ReserveID
// available again. It must only be called for IDs of scenes that were not
// added.
func (s *SceneStore) ReleaseID(id uint32) {
	s.ids.Reuse(id)
}

// NewGeneration returns a build generation greater than any generation
// previously returned by the store.
func (s *SceneStore) NewGeneration() snowflake.ID {
	return s.generations.Generate()
}

func (s *SceneStore) Add(scene *Scene) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.scenes[s.GlobalSceneID(scene.ID)] = scene

	instrumentIncreaseSceneGauge()
	instrumentCountScene()
}

func (s *SceneStore) Remove(scene *Scene) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.GlobalSceneID(scene.ID)
	if s.scenes[id] != scene {
		return
	}

	delete(s.scenes, id)
	s.ids.Reuse(scene.ID)

	instrumentDecreaseSceneGauge()
	instrumentObjectCount(-scene.markRemoved())
}

func (s *SceneStore) GetByGlobalID(v string) (*Scene, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	scene, ok := s.scenes[v]
	return scene, ok
}

// GetByUUID returns the scene with the given UUID.
func (s *SceneStore) GetByUUID(v string) (*Scene, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, scene := range s.scenes {
		if scene.SceneUUID == v {
			return scene, true
		}
	}
	return nil, false
}

// List returns the scenes ordered by ID.
func (s *SceneStore) List() []*Scene {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	scenes := make([]*Scene, 0, len(s.scenes))
	for _, scene := range s.scenes {
		scenes = append(scenes, scene)
	}

	sort.Slice(scenes, func(i, j int) bool {
		return scenes[i].ID < scenes[j].ID
	})
	return scenes
}

func (s *SceneStore) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.scenes)
}

func (s *SceneStore) GlobalSceneID(sceneID uint32) string {
	return fmt.Sprintf("%sx%x", s.serverID, sceneID)
}
