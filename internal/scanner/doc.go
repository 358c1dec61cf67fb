// Package scanner keeps the catalog in step with the image files on disk.
//
// A scan walks its roots depth-first, rejecting excluded directories by
// name before descending, and classifies every supported file against a
// snapshot of the catalog taken when the session started:
//
//   - new: path not in the catalog; extracted and inserted
//   - updated: content digest changed; extracted and overwritten
//   - unchanged: digest matches; only last_seen is bumped
//
// Extraction runs on a workers.Pool with a bounded number of tasks in
// flight. After a complete pass, active records under each root that were
// not seen are marked deleted. A cancelled session skips that sweep.
//
// Progress is reported on a channel of Event values; the last one has
// Done set.
package scanner
