// Package handlers provides the HTTP API of the imgcat server.
//
// Routes (see [Handlers.Router]):
//   - POST /api/scan: start a scan, streaming NDJSON progress events
//   - POST /api/scan/cancel, GET /api/scan/status, GET /api/scan/freshness
//   - POST /api/search: rank the catalog against an image path or fingerprint
//   - GET /api/records/{id}, GET /api/records?path=
//   - GET /api/sessions, GET /api/sessions/{id}, GET /api/stats
//   - GET /api/index, POST /api/index/rebuild
//   - /health, /healthz, /livez, /readyz, /version and optionally /metrics
package handlers
