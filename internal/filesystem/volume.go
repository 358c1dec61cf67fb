package filesystem

import (
	"path/filepath"
	"slices"
	"strings"
)

const unknownVolume = "unknown"

// VolumeResolver labels paths by the longest configured directory that
// contains them. The labels keep metric cardinality fixed no matter how
// many files a library holds.
type VolumeResolver struct {
	dirs []labelledDir // longest first
}

type labelledDir struct {
	prefix string // absolute, ends in a separator
	label  string
}

// NewVolumeResolver creates a resolver from label to directory:
//
//	NewVolumeResolver(map[string]string{"database": "/var/lib/imgcat"})
func NewVolumeResolver(volumes map[string]string) *VolumeResolver {
	vr := &VolumeResolver{}
	for label, dir := range volumes {
		vr.add(label, dir)
	}
	vr.order()
	return vr
}

// NewLibraryResolver labels every scan root "library" and the data
// directory "database".
func NewLibraryResolver(roots []string, dataDir string) *VolumeResolver {
	vr := &VolumeResolver{}
	for _, root := range roots {
		vr.add("library", root)
	}
	if dataDir != "" {
		vr.add("database", dataDir)
	}
	vr.order()
	return vr
}

func (vr *VolumeResolver) add(label, dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	vr.dirs = append(vr.dirs, labelledDir{prefix: withSeparator(dir), label: label})
}

func (vr *VolumeResolver) order() {
	slices.SortStableFunc(vr.dirs, func(a, b labelledDir) int {
		return len(b.prefix) - len(a.prefix)
	})
}

func withSeparator(dir string) string {
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}

// Resolve returns the label for path, or "unknown". A nil resolver labels
// everything unknown.
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return unknownVolume
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return unknownVolume
	}
	abs = withSeparator(abs)
	for _, d := range vr.dirs {
		if strings.HasPrefix(abs, d.prefix) {
			return d.label
		}
	}
	return unknownVolume
}

var defaultResolver *VolumeResolver

// SetDefaultVolumeResolver sets the resolver used when a RetryConfig has
// none.
func SetDefaultVolumeResolver(vr *VolumeResolver) {
	defaultResolver = vr
}
