package database

import (
	"time"

	"imgcat/internal/fingerprint"
)

// Status is the lifecycle state of an image record.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// PHashPrefixLen is the number of hex characters of the perceptual hash
// kept in the indexed phash_prefix column.
const PHashPrefixLen = 4

// ImageRecord is one catalogued image. Path is the unique key; ID and
// CreatedAt are preserved across re-extraction so insertion order is
// stable.
type ImageRecord struct {
	ID            int64                   `json:"id"`
	Path          string                  `json:"path"`
	Filename      string                  `json:"filename"`
	ParentPath    string                  `json:"parentPath"`
	Size          int64                   `json:"size"`
	Width         int                     `json:"width"`
	Height        int                     `json:"height"`
	Format        string                  `json:"format,omitempty"`
	ModTime       time.Time               `json:"modTime"`
	Fingerprint   fingerprint.Fingerprint `json:"fingerprint"`
	ContentDigest string                  `json:"contentDigest"`
	Status        Status                  `json:"status"`
	LastSeen      time.Time               `json:"lastSeen"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// SessionRecord is the persisted form of one scan session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Roots     []string  `json:"roots"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Total     int64     `json:"total"`
	Scanned   int64     `json:"scanned"`
	New       int64     `json:"new"`
	Updated   int64     `json:"updated"`
	Unchanged int64     `json:"unchanged"`
	Deleted   int64     `json:"deleted"`
	Errors    int64     `json:"errors"`
	Error     string    `json:"error,omitempty"`
}

// CatalogStats summarizes catalog contents.
type CatalogStats struct {
	Active       int            `json:"active"`
	Deleted      int            `json:"deleted"`
	WithModality map[string]int `json:"withModality"`
}
