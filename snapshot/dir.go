package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// FileExtension is the extension of the snapshot files written by WriteDir.
const FileExtension = ".kenaz"

// WriteDir writes one file per snapshot in dir, named after the scene UUID.
// Files are written to a temporary name and renamed so a crash never leaves a
// truncated snapshot. Snapshot files of scenes that are not in snapshots are
// removed.
func WriteDir(dir string, snapshots []Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New("creating snapshot directory failed").
			WithTag("dir", dir).
			Wrap(err)
	}

	keep := make(map[string]struct{}, len(snapshots))
	for _, s := range snapshots {
		name := s.SceneUUID + FileExtension
		if err := writeFile(filepath.Join(dir, name), s); err != nil {
			return err
		}
		keep[name] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.New("listing snapshot directory failed").
			WithTag("dir", dir).
			Wrap(err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, FileExtension) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return errors.New("removing stale snapshot failed").
				WithTag("file", name).
				Wrap(err)
		}
	}
	return nil
}

func writeFile(path string, s Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.New("writing snapshot failed").
			WithTag("file", tmp).
			Wrap(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.New("renaming snapshot failed").
			WithTag("file", path).
			Wrap(err)
	}
	return nil
}

// ReadDir reads the snapshots written by WriteDir, ordered by scene ID. A
// missing directory holds no snapshots.
func ReadDir(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("listing snapshot directory failed").
			WithTag("dir", dir).
			Wrap(err)
	}

	var snapshots []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, FileExtension) {
			continue
		}

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.New("reading snapshot failed").
				WithTag("file", name).
				Wrap(err)
		}

		s, err := Decode(b)
		if err != nil {
			return nil, errors.New("decoding snapshot file failed").
				WithType(ErrTypeInvalid).
				WithTag("file", name).
				Wrap(err)
		}
		snapshots = append(snapshots, s)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].SceneID < snapshots[j].SceneID
	})
	return snapshots, nil
}
