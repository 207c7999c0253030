// Package snapshot exports and imports scenes as gzip compressed CBOR
// documents.
package snapshot

import (
	"bytes"
	"io"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const (
	ErrTypeInvalid = "snapshot_invalid"

	// The version of the snapshot format written by Encode.
	FormatVersion = 1

	// The maximum size of a decompressed snapshot.
	MaxDecodedSize = 256 << 20
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding so a scene always produces the same bytes.
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}

	if decMode, err = (cbor.DecOptions{
		MaxArrayElements: 1 << 24,
	}).DecMode(); err != nil {
		panic(err)
	}
}

// Snapshot is the exported state of a scene.
type Snapshot struct {
	Version    int    `cbor:"1,keyasint"`
	SceneID    uint32 `cbor:"2,keyasint"`
	SceneUUID  string `cbor:"3,keyasint"`
	Name       string `cbor:"4,keyasint"`
	Generation int64  `cbor:"5,keyasint"`
	CreatedAt  int64  `cbor:"6,keyasint"`
	Items      []Item `cbor:"7,keyasint"`

	// The digest of the index built over the items.
	Digest []byte `cbor:"8,keyasint,omitempty"`
}

type Item struct {
	ID     string  `cbor:"1,keyasint"`
	Label  string  `cbor:"2,keyasint,omitempty"`
	X      float64 `cbor:"3,keyasint"`
	Y      float64 `cbor:"4,keyasint"`
	Width  float64 `cbor:"5,keyasint"`
	Height float64 `cbor:"6,keyasint"`
}

// FromScene captures the current state of a built scene.
func FromScene(scene *models.Scene) (Snapshot, error) {
	state := scene.Snapshot()
	if state.Index == nil {
		return Snapshot{}, errors.New("scene is not built").
			WithType(ErrTypeInvalid).
			WithTag("scene_id", scene.ID)
	}

	items := make([]Item, len(state.Items))
	for i, item := range state.Items {
		pos := item.Rect.Min()
		dims := item.Rect.Dimensions()

		items[i] = Item{
			ID:     item.ID,
			Label:  item.Label,
			X:      pos.X,
			Y:      pos.Y,
			Width:  dims.X,
			Height: dims.Y,
		}
	}

	return Snapshot{
		Version:    FormatVersion,
		SceneID:    scene.ID,
		SceneUUID:  scene.SceneUUID,
		Name:       scene.Name,
		Generation: state.Generation.Int64(),
		CreatedAt:  scene.CreatedAt.UnixMilli(),
		Items:      items,
		Digest:     Digest(state.Index).Bytes(),
	}, nil
}

// ModelItems returns the items of the snapshot as scene items.
func (s Snapshot) ModelItems() []models.Item {
	items := make([]models.Item, len(s.Items))
	for i, item := range s.Items {
		items[i] = models.Item{
			ID:    item.ID,
			Label: item.Label,
			Rect: geometry.NewRect(
				geometry.NewVector2(item.X, item.Y),
				geometry.NewVector2(item.Width, item.Height),
			),
		}
	}
	return items
}

// Restore creates a scene from the snapshot and adds it to the store. When
// keepID is true, the scene keeps the ID it had when the snapshot was taken.
// Otherwise it gets a new one.
//
// The index rebuilt from the snapshot items must match the snapshot digest.
func Restore(store *models.SceneStore, s Snapshot, keepID bool) (*models.Scene, error) {
	if s.SceneUUID != "" {
		if _, err := uuid.Parse(s.SceneUUID); err != nil {
			return nil, errors.New("invalid scene uuid").
				WithType(ErrTypeInvalid).
				WithTag("scene_uuid", s.SceneUUID).
				Wrap(err)
		}
	}

	var id uint32
	if keepID {
		if !store.ReserveID(s.SceneID) {
			return nil, errors.New("scene id is already in use").
				WithType(ErrTypeInvalid).
				WithTag("scene_id", s.SceneID)
		}
		id = s.SceneID
	} else {
		id = store.NewID()
	}

	// A scene imported next to the one it was exported from gets its own
	// UUID.
	scene := models.NewScene(id, s.Name)
	if _, exists := store.GetByUUID(s.SceneUUID); s.SceneUUID != "" && !exists {
		scene.SceneUUID = s.SceneUUID
	}
	if s.CreatedAt != 0 {
		scene.CreatedAt = time.UnixMilli(s.CreatedAt)
	}

	if err := scene.Rebuild(s.ModelItems(), store.NewGeneration()); err != nil {
		store.ReleaseID(id)
		return nil, err
	}

	if len(s.Digest) != 0 {
		digest := Digest(scene.Snapshot().Index)
		if !bytes.Equal(digest.Bytes(), s.Digest) {
			store.ReleaseID(id)
			return nil, errors.New("snapshot digest mismatch").
				WithType(ErrTypeInvalid).
				WithTag("scene_uuid", s.SceneUUID).
				WithTag("expected", common.BytesToHash(s.Digest).Hex()).
				WithTag("actual", digest.Hex())
		}
	}

	store.Add(scene)
	return scene, nil
}

// Encode serializes the snapshot.
func Encode(s Snapshot) ([]byte, error) {
	body, err := encMode.Marshal(s)
	if err != nil {
		return nil, errors.New("encoding snapshot failed").Wrap(err)
	}

	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return nil, errors.New("creating gzip writer failed").Wrap(err)
	}

	if _, err := w.Write(body); err != nil {
		return nil, errors.New("compressing snapshot failed").Wrap(err)
	}

	if err := w.Close(); err != nil {
		return nil, errors.New("compressing snapshot failed").Wrap(err)
	}
	return b.Bytes(), nil
}

// Decode deserializes a snapshot produced by Encode. Malformed input is
// reported with an error typed ErrTypeInvalid.
func Decode(data []byte) (Snapshot, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, errors.New("snapshot is not gzip compressed").
			WithType(ErrTypeInvalid).
			Wrap(err)
	}
	defer r.Close()

	body, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return Snapshot{}, errors.New("decompressing snapshot failed").
			WithType(ErrTypeInvalid).
			Wrap(err)
	}
	if len(body) > MaxDecodedSize {
		return Snapshot{}, errors.New("snapshot is too large").
			WithType(ErrTypeInvalid).
			WithTag("max_size", MaxDecodedSize)
	}

	var s Snapshot
	if err := decMode.Unmarshal(body, &s); err != nil {
		return Snapshot{}, errors.New("decoding snapshot failed").
			WithType(ErrTypeInvalid).
			Wrap(err)
	}

	if s.Version != FormatVersion {
		return Snapshot{}, errors.New("unsupported snapshot version").
			WithType(ErrTypeInvalid).
			WithTag("version", s.Version)
	}
	return s, nil
}
