/*
Package filesystem wraps the filesystem calls made while scanning image
libraries with retry logic for stale file handles.

Libraries often live on NFS shares or removable drives. A stale handle
(ESTALE) there is usually transient, so StatWithRetry, OpenWithRetry and
ReadDirWithRetry retry it with exponential backoff (3 retries, 50ms doubling
to a 500ms cap by default). Every other error is returned immediately.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Metrics are recorded through an [Observer] labelled by volume. A
[VolumeResolver] maps paths to labels by longest prefix; NewLibraryResolver
labels scan roots "library" and the data directory "database".
*/
package filesystem
