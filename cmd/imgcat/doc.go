// Package main is the imgcat command.
//
// imgcat keeps a SQLite catalog of image fingerprints for one or more
// library roots and ranks catalog images by visual similarity to a query
// image. Fingerprints combine perceptual hashes, color and shape
// histograms and, when an ONNX model is configured, a neural embedding.
//
// # Commands
//
//	imgcat serve               HTTP API, startup scan, filesystem watcher
//	imgcat scan [roots...]     incremental (or --full) scan with progress
//	imgcat search <image>      ranked similar images
//	imgcat sessions            recent scan sessions
//	imgcat index status|rebuild
//	imgcat version
//
// # Startup Sequence (serve)
//
//  1. Memory: GOMEMLIMIT from the environment or the cgroup limit
//  2. Configuration: YAML file, then IMGCAT_* environment variables
//  3. Catalog: SQLite database under the data directory
//  4. Extraction: libvips fallback decoder and the optional embedding model
//  5. Worker pool sized from CPU and heap load
//  6. Approximate index: snapshot load and periodic rebuilds
//  7. Startup scan when the catalog is empty or stale
//  8. HTTP server, plus a separate metrics server when configured
//
// # Graceful Shutdown
//
// SIGINT and SIGTERM stop the watcher and the HTTP servers, cancel any
// running scan, drain the worker pool and close the catalog. Every step
// shares a 30 second budget.
//
// # Build Requirements
//
// SQLite, libvips and onnxruntime are reached through CGO. Without CGO
// the embedding modality is unavailable and the other modalities still
// work.
//
//	go build -o imgcat ./cmd/imgcat
package main
