package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

type fakeSource struct {
	mu      sync.Mutex
	records []database.ImageRecord
	err     error
	calls   int
	// gate blocks GetAllWithEmbedding until closed when non-nil.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSource) GetAllWithEmbedding(context.Context) ([]database.ImageRecord, error) {
	f.mu.Lock()
	f.calls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, f.err
}

func recordsFrom(entries []Entry) []database.ImageRecord {
	out := make([]database.ImageRecord, len(entries))
	for i, e := range entries {
		out[i] = database.ImageRecord{ID: e.ID, Fingerprint: fingerprint.Fingerprint{Embedding: e.Vector}}
	}
	return out
}

func TestManager_QueryBeforeReady(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeSource{}, ManagerConfig{})
	if m.Ready() {
		t.Error("new manager should not be ready")
	}
	if _, err := m.Query(context.Background(), []float32{1}, 1); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Query() error = %v, want ErrIndexUnavailable", err)
	}
	if err := m.Insert(context.Background(), 1, []float32{1}); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Insert() error = %v, want ErrIndexUnavailable", err)
	}
}

func TestManager_RebuildAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ivf.bin")
	entries := clusteredEntries(30, 4, 3, 2)
	src := &fakeSource{records: recordsFrom(entries)}

	m := NewManager(src, ManagerConfig{SnapshotPath: path})
	var hooked Status
	m.SetOnRebuild(func(s Status) { hooked = s })

	started, err := m.Rebuild(ctx)
	if err != nil || !started {
		t.Fatalf("Rebuild() = %v, %v", started, err)
	}
	if !m.Ready() {
		t.Fatal("manager should be ready after rebuild")
	}
	if hooked.Size != 30 {
		t.Errorf("OnRebuild status size = %d, want 30", hooked.Size)
	}

	res, err := m.Query(ctx, entries[3].Vector, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != entries[3].ID {
		t.Errorf("Query() = %+v, want id %d", res, entries[3].ID)
	}

	if err := m.Insert(ctx, 99, []float32{1, 1, 1, 1}); err != nil {
		t.Fatal(err)
	}
	if m.Status().Size != 31 {
		t.Errorf("size after Insert = %d, want 31", m.Status().Size)
	}
	m.Remove(99)
	if m.Status().Size != 30 {
		t.Errorf("size after Remove = %d, want 30", m.Status().Size)
	}

	if _, err := m.Query(ctx, []float32{1, 2}, 1); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Query(wrong dims) error = %v, want wrapped ErrIndexUnavailable", err)
	}

	// A second manager picks up the snapshot.
	other := NewManager(&fakeSource{}, ManagerConfig{SnapshotPath: path})
	if err := other.LoadSnapshot(); err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if !other.Ready() || other.Status().Size != 30 {
		t.Errorf("loaded status = %+v", other.Status())
	}
}

func TestManager_LoadSnapshotMissing(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeSource{}, ManagerConfig{SnapshotPath: filepath.Join(t.TempDir(), "none.bin")})
	if err := m.LoadSnapshot(); err != nil {
		t.Errorf("LoadSnapshot(missing) error = %v, want nil", err)
	}
	if m.Ready() {
		t.Error("manager should stay unavailable without a snapshot")
	}
}

func TestManager_RebuildError(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeSource{err: errors.New("catalog down")}, ManagerConfig{})
	if _, err := m.Rebuild(context.Background()); err == nil {
		t.Error("Rebuild() should surface source errors")
	}
	if m.Ready() {
		t.Error("failed rebuild must not mark the index ready")
	}
}

func TestManager_RebuildCoalesces(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		records: recordsFrom(clusteredEntries(10, 4, 2, 1)),
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	m := NewManager(src, ManagerConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := m.Rebuild(context.Background())
		done <- err
	}()
	<-src.entered

	started, err := m.Rebuild(context.Background())
	if err != nil || started {
		t.Errorf("concurrent Rebuild() = %v, %v; want coalesced", started, err)
	}

	// Inserts during the rebuild land in the new index.
	if err := m.Insert(context.Background(), 77, []float32{0, 0, 1, 0}); err != nil {
		t.Errorf("Insert() during rebuild error = %v", err)
	}

	close(src.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 1 {
		t.Errorf("source called %d times, want 1", calls)
	}
	if m.Status().Size != 11 {
		t.Errorf("size = %d, want 11 (replayed insert)", m.Status().Size)
	}
}
