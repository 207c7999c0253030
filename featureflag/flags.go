package featureflag

type Flag string

const (
	FlagDisableSceneRebuild   Flag = "DISABLE_SCENE_REBUILD"
	FlagDisableSnapshotImport Flag = "DISABLE_SNAPSHOT_IMPORT"
	FlagDisableSnapshotExport Flag = "DISABLE_SNAPSHOT_EXPORT"
	FlagDisableStreamQueries  Flag = "DISABLE_STREAM_QUERIES"
	FlagDisableRegionQueries  Flag = "DISABLE_REGION_QUERIES"
)

// Known returns the flags understood by the server.
func Known() []Flag {
	return []Flag{
		FlagDisableSceneRebuild,
		FlagDisableSnapshotImport,
		FlagDisableSnapshotExport,
		FlagDisableStreamQueries,
		FlagDisableRegionQueries,
	}
}
