// Package checkpoint persists versioned snapshots of pipeline runs so an
// interrupted run can resume after its last completed stage.
//
// Records carry a schema version and an integrity marker: the hex SHA-256
// of the record's canonical JSON encoding with the marker left blank. A
// record whose version or marker does not match is rejected on load and
// treated exactly like a missing checkpoint. Publishing is atomic because
// every kvstore backend replaces a key in one step.
package checkpoint
