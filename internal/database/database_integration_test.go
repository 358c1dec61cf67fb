package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"imgcat/internal/fingerprint"
)

// Integration tests against a real SQLite file.

func setupTestDB(t testing.TB) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord(path, digest string) *ImageRecord {
	return &ImageRecord{
		Path:          path,
		Size:          1234,
		Width:         640,
		Height:        480,
		Format:        "jpeg",
		ModTime:       time.Unix(1700000000, 0),
		ContentDigest: digest,
		Fingerprint: fingerprint.Fingerprint{
			PHash:     "c3a5f00f12345678",
			DHash:     "0f0f0f0f0f0f0f0f",
			BlockHash: "ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000",
			Color:     []float32{0.25, 0.5, 0.125, 0.125},
			Shape:     []float32{0.1, 0.2, 0.3},
			Embedding: []float32{0.6, 0.8},
		},
	}
}

func TestNewDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")

	db, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
}

func TestNewDatabaseMissingDirectory(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "missing", "catalog.db"))
	if err == nil {
		t.Fatal("New() should fail when the parent directory does not exist")
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("/photos/a.jpg", "digest-a")
	rec.Fingerprint.Color[0] = float32(math.Nextafter32(0.25, 1))
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("Upsert() did not assign an id")
	}

	got, err := db.GetByPath(ctx, "/photos/a.jpg")
	if err != nil {
		t.Fatalf("GetByPath() failed: %v", err)
	}

	if got.Filename != "a.jpg" || got.ParentPath != "/photos" {
		t.Errorf("filename/parent = %q/%q", got.Filename, got.ParentPath)
	}
	if got.Width != 640 || got.Height != 480 || got.Size != 1234 || got.Format != "jpeg" {
		t.Errorf("physical attributes = %+v", got)
	}
	if !got.ModTime.Equal(rec.ModTime) {
		t.Errorf("ModTime = %v, want %v", got.ModTime, rec.ModTime)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}

	want := rec.Fingerprint
	if got.Fingerprint.PHash != want.PHash || got.Fingerprint.DHash != want.DHash || got.Fingerprint.BlockHash != want.BlockHash {
		t.Errorf("hashes = %+v, want %+v", got.Fingerprint, want)
	}
	for _, pair := range []struct {
		name      string
		got, want []float32
	}{
		{"color", got.Fingerprint.Color, want.Color},
		{"shape", got.Fingerprint.Shape, want.Shape},
		{"embedding", got.Fingerprint.Embedding, want.Embedding},
	} {
		if len(pair.got) != len(pair.want) {
			t.Errorf("%s length = %d, want %d", pair.name, len(pair.got), len(pair.want))
			continue
		}
		for i := range pair.want {
			if math.Float32bits(pair.got[i]) != math.Float32bits(pair.want[i]) {
				t.Errorf("%s[%d] = %v, want %v (bit-identical)", pair.name, i, pair.got[i], pair.want[i])
			}
		}
	}
}

func TestUpsertMissingModalitiesStayAbsent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := &ImageRecord{
		Path:          "/photos/partial.png",
		ContentDigest: "d",
		Fingerprint:   fingerprint.Fingerprint{PHash: "abcdabcdabcdabcd"},
	}
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	got, err := db.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Fingerprint.Has(fingerprint.DHash) || got.Fingerprint.Has(fingerprint.Embedding) || got.Fingerprint.Has(fingerprint.Color) {
		t.Errorf("absent modalities came back present: %+v", got.Fingerprint)
	}
	if !got.Fingerprint.Has(fingerprint.PHash) {
		t.Error("phash should be present")
	}
}

func TestUpsertPreservesIdentity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := sampleRecord("/photos/a.jpg", "v1")
	if err := db.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	other := sampleRecord("/photos/b.jpg", "v1")
	if err := db.Upsert(ctx, other); err != nil {
		t.Fatal(err)
	}

	same := sampleRecord("/photos/a.jpg", "v1")
	if err := db.Upsert(ctx, same); err != nil {
		t.Fatal(err)
	}
	if same.ID != first.ID {
		t.Errorf("re-upsert id = %d, want %d", same.ID, first.ID)
	}
	if !same.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("UpdatedAt moved without a digest change: %v -> %v", first.UpdatedAt, same.UpdatedAt)
	}

	changed := sampleRecord("/photos/a.jpg", "v2")
	changed.Width = 800
	if err := db.Upsert(ctx, changed); err != nil {
		t.Fatal(err)
	}
	if changed.ID != first.ID {
		t.Errorf("changed id = %d, want %d", changed.ID, first.ID)
	}
	if !changed.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", changed.CreatedAt, first.CreatedAt)
	}
	if !changed.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt should advance on digest change")
	}

	n, err := db.CountActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountActive() = %d, want 2", n)
	}
}

func TestUpsertConcurrentWritersLastWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := sampleRecord("/photos/a.jpg", "v0")
	if err := db.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := sampleRecord("/photos/a.jpg", fmt.Sprintf("v%d", i))
			rec.Width = 1000 + i
			rec.Fingerprint.Embedding = []float32{float32(i), 1}
			if err := db.Upsert(ctx, rec); err != nil {
				t.Errorf("Upsert(v%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := db.GetByPath(ctx, "/photos/a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	var winner int
	if _, err := fmt.Sscanf(got.ContentDigest, "v%d", &winner); err != nil || winner < 1 || winner > writers {
		t.Fatalf("ContentDigest = %q, want one of the concurrent writes", got.ContentDigest)
	}
	if got.Width != 1000+winner || len(got.Fingerprint.Embedding) != 2 || got.Fingerprint.Embedding[0] != float32(winner) {
		t.Errorf("row mixes writes: digest %s, width %d, embedding %v", got.ContentDigest, got.Width, got.Fingerprint.Embedding)
	}
	if got.ID != first.ID {
		t.Errorf("ID = %d, want %d", got.ID, first.ID)
	}
	if !got.UpdatedAt.After(first.UpdatedAt) {
		t.Error("UpdatedAt should advance when the stored digest differs at write time")
	}

	again := sampleRecord("/photos/a.jpg", got.ContentDigest)
	again.Width = got.Width
	if err := db.Upsert(ctx, again); err != nil {
		t.Fatal(err)
	}
	if !again.UpdatedAt.Equal(got.UpdatedAt) {
		t.Errorf("UpdatedAt moved on a same-digest write: %v -> %v", got.UpdatedAt, again.UpdatedAt)
	}
}

func TestUpsertValidation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  *ImageRecord
	}{
		{"empty path", &ImageRecord{ContentDigest: "d"}},
		{"empty digest", &ImageRecord{Path: "/photos/a.jpg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Upsert(ctx, tt.rec)
			var storeErr *StoreError
			if !errors.As(err, &storeErr) {
				t.Errorf("Upsert() error = %v, want *StoreError", err)
			}
		})
	}
}

func TestMarkDeletedAndResurrect(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("/photos/a.jpg", "v1")
	if err := db.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	changed, err := db.MarkDeleted(ctx, "/photos/a.jpg")
	if err != nil || !changed {
		t.Fatalf("MarkDeleted() = %v, %v; want true", changed, err)
	}
	changed, err = db.MarkDeleted(ctx, "/photos/a.jpg")
	if err != nil || changed {
		t.Errorf("second MarkDeleted() = %v, %v; want false", changed, err)
	}

	got, err := db.GetByPath(ctx, "/photos/a.jpg")
	if err != nil {
		t.Fatalf("deleted record should still be readable: %v", err)
	}
	if got.Status != StatusDeleted {
		t.Errorf("Status = %q, want deleted", got.Status)
	}

	all, err := db.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("GetAll() returned %d records, want 0", len(all))
	}

	again := sampleRecord("/photos/a.jpg", "v1")
	if err := db.Upsert(ctx, again); err != nil {
		t.Fatal(err)
	}
	if again.ID != rec.ID || again.Status != StatusActive {
		t.Errorf("resurrected record id=%d status=%q, want id=%d active", again.ID, again.Status, rec.ID)
	}
}

func TestGetByPathNotFound(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.GetByPath(context.Background(), "/nope.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByPath() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetByID(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetByIDsOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var ids []int64
	for _, p := range []string{"/p/1.jpg", "/p/2.jpg", "/p/3.jpg"} {
		rec := sampleRecord(p, "d")
		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.ID)
	}

	got, err := db.GetByIDs(ctx, []int64{ids[2], ids[0], 9999})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[2] {
		t.Errorf("GetByIDs() = %v, want ids %d,%d in insertion order", got, ids[0], ids[2])
	}
}

func TestFindByHashPrefix(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := sampleRecord("/p/a.jpg", "a")
	a.Fingerprint.PHash = "beef000000000000"
	b := sampleRecord("/p/b.jpg", "b")
	b.Fingerprint.PHash = "beefffffffffffff"
	c := sampleRecord("/p/c.jpg", "c")
	c.Fingerprint.PHash = "dead000000000000"
	for _, r := range []*ImageRecord{a, b, c} {
		if err := db.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.FindByHashPrefix(ctx, "BEEF1234")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("FindByHashPrefix() returned %d records, want 2", len(got))
	}

	if _, err := db.FindByHashPrefix(ctx, "be"); err == nil {
		t.Error("short prefix should be rejected")
	}
}

func TestDigestsUnderRespectsRoots(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []string{"/photos/a.jpg", "/photos/sub/b.jpg", "/photos-old/c.jpg", "/other/d.jpg"} {
		if err := db.Upsert(ctx, sampleRecord(p, "dg:"+p)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.MarkDeleted(ctx, "/photos/sub/b.jpg"); err != nil {
		t.Fatal(err)
	}

	got, err := db.DigestsUnder(ctx, []string{"/photos/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["/photos/a.jpg"] != "dg:/photos/a.jpg" {
		t.Errorf("DigestsUnder() = %v, want only /photos/a.jpg", got)
	}
}

func TestTouchAndMarkUnseenDeleted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	for _, p := range []string{"/photos/keep.jpg", "/photos/gone.jpg", "/elsewhere/x.jpg"} {
		rec := sampleRecord(p, "d")
		rec.LastSeen = old
		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	cutoff := time.Now()
	n, err := db.TouchBatch(ctx, []string{"/photos/keep.jpg", "/photos/missing.jpg"}, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("TouchBatch() = %d, want 1", n)
	}

	deleted, err := db.MarkUnseenDeleted(ctx, "/photos", cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("MarkUnseenDeleted() = %d, want 1", deleted)
	}

	deleted, err = db.MarkUnseenDeleted(ctx, "/photos", cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("second MarkUnseenDeleted() = %d, want 0", deleted)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Active != 2 || stats.Deleted != 1 {
		t.Errorf("Stats() = %+v, want 2 active 1 deleted", stats)
	}
	if stats.WithModality["embedding"] != 2 {
		t.Errorf("embedding count = %d, want 2", stats.WithModality["embedding"])
	}

	ms := db.CatalogStats()
	if ms.ActiveRecords != 2 || ms.DeletedRecords != 1 {
		t.Errorf("CatalogStats() = %+v", ms)
	}
}

func TestGetAllWithEmbedding(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	with := sampleRecord("/p/with.jpg", "a")
	without := sampleRecord("/p/without.jpg", "b")
	without.Fingerprint.Embedding = nil
	for _, r := range []*ImageRecord{with, without} {
		if err := db.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.GetAllWithEmbedding(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != "/p/with.jpg" {
		t.Errorf("GetAllWithEmbedding() = %v", got)
	}
}

func TestSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.LastCompletedSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastCompletedSession() error = %v, want ErrNotFound", err)
	}

	base := time.Now().Add(-time.Minute)
	first := &SessionRecord{ID: "s1", Roots: []string{"/photos"}, Mode: "full", Status: "running", StartedAt: base}
	if err := db.CreateSession(ctx, first); err != nil {
		t.Fatal(err)
	}
	first.Status = "completed"
	first.EndedAt = base.Add(time.Second)
	first.Total, first.Scanned, first.New = 3, 3, 3
	if err := db.UpdateSession(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &SessionRecord{ID: "s2", Roots: []string{"/a", "/b"}, Mode: "incremental", Status: "cancelled", StartedAt: base.Add(2 * time.Second), Error: "context canceled"}
	if err := db.CreateSession(ctx, second); err != nil {
		t.Fatal(err)
	}

	last, err := db.LastCompletedSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.ID != "s1" || last.New != 3 || len(last.Roots) != 1 {
		t.Errorf("LastCompletedSession() = %+v", last)
	}

	third := &SessionRecord{ID: "s3", Roots: []string{"/photos/new"}, Mode: "rescan", Status: "completed",
		StartedAt: base.Add(3 * time.Second), EndedAt: base.Add(4 * time.Second)}
	if err := db.CreateSession(ctx, third); err != nil {
		t.Fatal(err)
	}
	if last, err = db.LastCompletedSession(ctx); err != nil || last.ID != "s3" {
		t.Errorf("LastCompletedSession() = %+v, %v, want s3", last, err)
	}
	if last, err = db.LastCompletedSession(ctx, "incremental", "full"); err != nil || last.ID != "s1" {
		t.Errorf("LastCompletedSession(incremental, full) = %+v, %v, want s1", last, err)
	}

	list, err := db.ListSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != "s3" || list[1].Error != "context canceled" {
		t.Errorf("ListSessions() = %+v", list)
	}

	if err := db.UpdateSession(ctx, &SessionRecord{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMetadataTime(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	zero, err := db.GetTime(ctx, MetaLastIndexBuild)
	if err != nil || !zero.IsZero() {
		t.Fatalf("GetTime() = %v, %v; want zero", zero, err)
	}

	now := time.Now()
	if err := db.SetTime(ctx, MetaLastIndexBuild, now); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetTime(ctx, MetaLastIndexBuild)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Errorf("GetTime() = %v, want %v", got, now)
	}

	if _, err := db.GetMetadata(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata(unknown) error = %v, want ErrNotFound", err)
	}
}
