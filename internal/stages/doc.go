// Package stages implements the nine stage functions of the content
// workflow, from source extraction through media assembly and cleanup.
//
// Text stages ask the provider gateway for generated prose. Speech and image
// stages make one gateway call per script segment, write each artifact under
// the run's tmp directory and honour pause and cancel between segments.
// media_assembly copies the artifacts into the run's output directory with
// checksum verification and writes manifest.json. cleanup removes tmp.
package stages
