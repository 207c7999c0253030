package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{string(FlagDisableSceneRebuild)})

	t.Run("run if enabled", func(t *testing.T) {
		var runRebuild bool
		f.IfSet(FlagDisableSceneRebuild, func() {
			runRebuild = true
		})
		require.True(t, runRebuild)

		var runImport bool
		f.IfSet(FlagDisableSnapshotImport, func() {
			runImport = true
		})
		require.False(t, runImport)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runRebuild bool
		f.IfNotSet(FlagDisableSceneRebuild, func() {
			runRebuild = true
		})
		require.False(t, runRebuild)

		var runImport bool
		f.IfNotSet(FlagDisableSnapshotImport, func() {
			runImport = true
		})
		require.True(t, runImport)
	})
}

func TestNewNormalizesFlags(t *testing.T) {
	f := New([]string{" disable_region_queries ", "", "  "})

	require.Len(t, f, 1)
	require.True(t, f.IsSet(FlagDisableRegionQueries))
}

func TestUnknown(t *testing.T) {
	f := New([]string{string(FlagDisableStreamQueries), "DISABLE_TELEPORT"})

	require.Equal(t, []string{"DISABLE_TELEPORT"}, f.Unknown())
	require.Empty(t, New(nil).Unknown())
}
