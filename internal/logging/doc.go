// Package logging provides leveled printf-style logging for imgcat.
//
// Levels, lowest first:
//   - DEBUG: per-file classification and pool scaling decisions
//   - INFO: scan sessions, index rebuilds, server lifecycle
//   - WARN: per-file failures that do not abort a scan
//   - ERROR: failures of a whole operation
//   - FATAL: startup failures that terminate the process
//
// The level comes from LOG_LEVEL (or DEBUG=true) unless SetLevel is called
// first. SetOutput redirects every line, which the CLI uses for --log-file.
package logging
