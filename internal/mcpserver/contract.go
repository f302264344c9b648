package mcpserver

// RunLayout describes what a run writes and how its outcome is reported.
const RunLayout = `# Perthro Run Layout

Every run extracts from one backup container into <output>/<run id>/.

## Directories

- ` + "`" + `Artifacts/` + "`" + `: the well-known artifacts (see the list_artifacts tool), each
  stored under its catalog filename, plus one ` + "`" + `<filename>.csv` + "`" + ` per parsed artifact.
- ` + "`" + `Photos_<label>/` + "`" + `: the camera roll items classified as <label> above the
  confidence threshold, stored under their original filenames.
- ` + "`" + `<output>/<run id>.zip` + "`" + `: created on demand by archive_run.

## Extraction

Each requested file is tried with the strategies in order until one succeeds:

1. ` + "`" + `standard` + "`" + `: the container's own resolution (manifest or content address).
2. ` + "`" + `direct_hash` + "`" + `: the content address computed from domain and path.
3. ` + "`" + `manifest_query` + "`" + `: a query of Manifest.db by file ID, then by path.

Per-file outcomes are ` + "`" + `extracted` + "`" + `, ` + "`" + `not_found` + "`" + ` or ` + "`" + `failed` + "`" + `.
When two files share an output filename the first one wins.

## Run status

- ` + "`" + `running` + "`" + `: still executing.
- ` + "`" + `completed` + "`" + `: finished; the detail reports recovered vs requested photos.
- ` + "`" + `extraction_failed` + "`" + `: a non-empty batch produced no file at all.
- ` + "`" + `failed` + "`" + `: the container could not be opened or the output became unwritable.

## Recovery

reconcile_run lists ` + "`" + `Photos_<label>/` + "`" + ` again and marks each requested photo
Recovered or Missing. Photos recovered by other means can be added with
add_recovered_photo before reconciling.
`
