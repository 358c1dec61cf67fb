// Package database is the SQLite fingerprint catalog.
//
// Each image path maps to one row holding its physical attributes, a
// content digest and every extracted fingerprint modality. Hashes are
// stored as hex text, vectors as little-endian float32 blobs, so values
// round-trip bit-for-bit. Rows are never removed: a file that disappears
// is flipped to status "deleted" and comes back active if it reappears.
//
// The catalog also keeps scan session history and a small key/value
// metadata table. The database runs in WAL mode; writes are serialized
// through a process-wide lock.
package database
