package mediatypes

import (
	"path/filepath"
	"strings"
)

// ImageExtensions lists the extensions the scanner treats as candidates.
// Formats imaging cannot open (heic, heif, avif) decode through libvips
// when it is available and otherwise fail as decode errors.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
	".avif": true,
}

// MimeTypes maps image extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".avif": "image/avif",
}

// ExcludedDirNames are directory names never descended into.
var ExcludedDirNames = map[string]bool{
	".git":                      true,
	".svn":                      true,
	".hg":                       true,
	"node_modules":              true,
	"__pycache__":               true,
	".cache":                    true,
	"$RECYCLE.BIN":              true,
	"System Volume Information": true,
	".Trashes":                  true,
	".Spotlight-V100":           true,
	".fseventsd":                true,
	"build":                     true,
	"dist":                      true,
	"target":                    true,
	".thumbnails":               true,
	"@eaDir":                    true,
}

// ExcludedDirSubstrings exclude any directory whose lowercased name
// contains one of them.
var ExcludedDirSubstrings = []string{"cache", ".tmp"}

// Ext returns the lowercased extension of path, including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// IsSupportedImage reports whether ext (lowercase, with dot) is a scan
// candidate.
func IsSupportedImage(ext string) bool {
	return ImageExtensions[ext]
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// DirFilter decides which directories a scan may enter.
type DirFilter struct {
	extra map[string]bool
}

// NewDirFilter returns a filter over the built-in denylist plus extra
// exact names.
func NewDirFilter(extra []string) *DirFilter {
	f := &DirFilter{extra: make(map[string]bool, len(extra))}
	for _, name := range extra {
		if name = strings.TrimSpace(name); name != "" {
			f.extra[name] = true
		}
	}
	return f
}

// Excluded reports whether a directory with this base name must be skipped.
func (f *DirFilter) Excluded(name string) bool {
	if ExcludedDirNames[name] {
		return true
	}
	if f != nil && f.extra[name] {
		return true
	}
	lower := strings.ToLower(name)
	for _, sub := range ExcludedDirSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// IsExcludedDir applies the built-in denylist only.
func IsExcludedDir(name string) bool {
	return (*DirFilter)(nil).Excluded(name)
}
