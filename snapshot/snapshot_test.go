package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/models"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *models.SceneStore {
	store, err := models.NewSceneStore("ted", 1)
	require.NoError(t, err)
	return store
}

func newTestScene(t *testing.T, store *models.SceneStore, name string) *models.Scene {
	items := make([]models.Item, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, models.Item{
			Label: name,
			Rect: geometry.NewRect(
				geometry.NewVector2(float64(i)*1.1, float64(i%4)*0.3),
				geometry.NewVector2(0.7, 0.1*float64(i)),
			),
		})
	}

	scene := models.NewScene(store.NewID(), name)
	require.NoError(t, scene.Rebuild(items, store.NewGeneration()))
	store.Add(scene)
	return scene
}

func TestEncodeDecode(t *testing.T) {
	store := newTestStore(t)
	scene := newTestScene(t, store, "office")

	snap, err := FromScene(scene)
	require.NoError(t, err)
	require.Equal(t, FormatVersion, snap.Version)
	require.Len(t, snap.Items, 20)
	require.Len(t, snap.Digest, 32)

	b, err := Encode(snap)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)

	// Deterministic encoding.
	again, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, b, again)
}

func TestDecodeInvalid(t *testing.T) {
	gzipped := func(b []byte) []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, err := w.Write(b)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}

	unsupported, err := Encode(Snapshot{Version: FormatVersion + 1})
	require.NoError(t, err)

	tests := []struct {
		scenario string
		data     []byte
	}{
		{scenario: "not gzip", data: []byte("hello")},
		{scenario: "not cbor", data: gzipped([]byte{0xff, 0xff, 0xff})},
		{scenario: "unsupported version", data: unsupported},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			_, err := Decode(test.data)
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalid, errors.Type(err))
		})
	}
}

func TestFromSceneNotBuilt(t *testing.T) {
	_, err := FromScene(models.NewScene(1, "empty"))
	require.Error(t, err)
	require.Equal(t, ErrTypeInvalid, errors.Type(err))
}

func TestDigest(t *testing.T) {
	store := newTestStore(t)
	a := newTestScene(t, store, "a")
	b := newTestScene(t, store, "b")

	digestA := Digest(a.Snapshot().Index)
	require.Equal(t, digestA, Digest(b.Snapshot().Index))

	items := a.Snapshot().Items
	moved := append([]models.Item(nil), items...)
	moved[3].Rect = geometry.NewRect(geometry.NewVector2(100.0, 100.0), geometry.NewVector2(1.0, 1.0))
	require.NoError(t, b.Rebuild(moved, store.NewGeneration()))
	require.NotEqual(t, digestA, Digest(b.Snapshot().Index))
}

func TestRestore(t *testing.T) {
	source := newTestStore(t)
	scene := newTestScene(t, source, "office")

	snap, err := FromScene(scene)
	require.NoError(t, err)

	t.Run("with a new id", func(t *testing.T) {
		store := newTestStore(t)
		newTestScene(t, store, "existing")

		restored, err := Restore(store, snap, false)
		require.NoError(t, err)
		require.Equal(t, uint32(2), restored.ID)
		require.Equal(t, scene.SceneUUID, restored.SceneUUID)
		require.Equal(t, scene.Name, restored.Name)
		require.Equal(t, scene.CreatedAt.UnixMilli(), restored.CreatedAt.UnixMilli())
		require.Equal(t, scene.Snapshot().Items, restored.Snapshot().Items)

		_, ok := store.GetByGlobalID(store.GlobalSceneID(restored.ID))
		require.True(t, ok)
	})

	t.Run("keeping the id", func(t *testing.T) {
		store := newTestStore(t)

		restored, err := Restore(store, snap, true)
		require.NoError(t, err)
		require.Equal(t, scene.ID, restored.ID)

		_, err = Restore(store, snap, true)
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalid, errors.Type(err))
	})

	t.Run("digest mismatch", func(t *testing.T) {
		store := newTestStore(t)

		tampered := snap
		tampered.Items = append([]Item(nil), snap.Items...)
		tampered.Items[0].X += 1000

		_, err := Restore(store, tampered, false)
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalid, errors.Type(err))
		require.Zero(t, store.Count())

		// The id of the rejected scene is available again.
		require.Equal(t, uint32(1), store.NewID())
	})

	t.Run("invalid uuid", func(t *testing.T) {
		store := newTestStore(t)

		bad := snap
		bad.SceneUUID = "../../etc"

		_, err := Restore(store, bad, false)
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalid, errors.Type(err))
	})
}

func TestWriteReadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	store := newTestStore(t)

	var snapshots []Snapshot
	for _, name := range []string{"a", "b", "c"} {
		snap, err := FromScene(newTestScene(t, store, name))
		require.NoError(t, err)
		snapshots = append(snapshots, snap)
	}

	require.NoError(t, WriteDir(dir, snapshots))

	read, err := ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, snapshots, read)

	// Unrelated files are left alone and stale snapshots are removed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, WriteDir(dir, snapshots[1:]))

	read, err = ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, snapshots[1:], read)

	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
}

func TestReadDirMissing(t *testing.T) {
	snapshots, err := ReadDir(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, snapshots)
}

func TestReadDirCorrupted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"+FileExtension), []byte("nope"), 0o644))

	_, err := ReadDir(dir)
	require.Error(t, err)
	require.Equal(t, ErrTypeInvalid, errors.Type(err))
}

func TestRestoreNextToSource(t *testing.T) {
	store := newTestStore(t)
	scene := newTestScene(t, store, "office")

	snap, err := FromScene(scene)
	require.NoError(t, err)

	restored, err := Restore(store, snap, false)
	require.NoError(t, err)
	require.NotEqual(t, scene.ID, restored.ID)
	require.NotEqual(t, scene.SceneUUID, restored.SceneUUID)
	require.Equal(t, 2, store.Count())
}
