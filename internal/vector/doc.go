// Package vector provides the approximate nearest-neighbor index over image
// embeddings.
//
// IVFIndex clusters unit-length embeddings with k-means and keeps one
// posting list per cluster; a query visits the closest NProbe lists and
// re-ranks their members by exact cosine distance. Manager owns the live
// index: it rebuilds from the catalog, applies incremental inserts, saves
// and loads snapshots, and reports ErrIndexUnavailable whenever a query
// cannot be served so callers can fall back to a linear scan.
package vector
