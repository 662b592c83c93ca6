// Package preflight provides readiness checks for the filesystem paths,
// disk space, provider credentials and storage backend that autovideo
// depends on.
//
// These checks run in two contexts:
//   - The workflow manager calls CheckFreeSpace before admitting a run so a
//     nearly full disk fails fast instead of mid-synthesis.
//   - The daemon runs RunAll at startup and serves the results on
//     /api/status, which the CLI "status" command renders.
package preflight
