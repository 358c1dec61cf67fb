// Package engine is the command surface of imgcat. It runs scans one at a
// time, answers similarity searches and keeps the approximate index in
// step with the catalog. The HTTP handlers, the CLI and the watcher all
// drive the catalog through an Engine.
package engine
