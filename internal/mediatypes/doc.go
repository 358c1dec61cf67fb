// Package mediatypes holds the dependency-free file classification shared
// by the scanner, the watcher and the HTTP layer: which extensions are
// image candidates and which directories are never descended into.
//
//	ext := mediatypes.Ext(path)
//	if mediatypes.IsSupportedImage(ext) {
//	    // candidate for fingerprinting
//	}
//
// Directory exclusion combines exact names (VCS metadata, OS trash and
// index folders, build output) with substrings ("cache", ".tmp") matched
// case-insensitively. [DirFilter] adds configured names on top.
package mediatypes
