package startup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolateEnv clears every variable LoadConfig reads so the host
// environment cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, "IMGCAT_") {
			t.Setenv(key, "")
		}
	}
	t.Setenv("IMGCAT_CONFIG", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgcat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if cfg.Search.DefaultThreshold != 0.5 {
		t.Errorf("DefaultThreshold = %v, want 0.5", cfg.Search.DefaultThreshold)
	}
	if cfg.Scan.FreshnessWindow != 24*time.Hour {
		t.Errorf("FreshnessWindow = %v, want 24h", cfg.Scan.FreshnessWindow)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	t.Setenv("IMGCAT_DATA_DIR", dir)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "catalog.db") {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Storage.SnapshotPath != filepath.Join(dir, "index.ivf") {
		t.Errorf("SnapshotPath = %q", cfg.Storage.SnapshotPath)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, `
storage:
  data_dir: `+dir+`
server:
  port: "9000"
pool:
  max_workers: 3
  task_timeout: 15s
search:
  default_threshold: 0.7
  default_preset: hashes
  expand:
    max_rescans: 2
    min_results: 5
scan:
  roots: [`+dir+`/photos, `+dir+`/more]
  exclude_dirs: [exports]
  freshness_window: 1h
index:
  rebuild_interval: 30m
  ivf:
    nprobe: 4
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Pool.MaxWorkers != 3 || cfg.Pool.TaskTimeout != 15*time.Second {
		t.Errorf("Pool = %+v", cfg.Pool)
	}
	if cfg.Pool.MinWorkers != 1 {
		t.Errorf("unset MinWorkers = %d, want default 1", cfg.Pool.MinWorkers)
	}
	if cfg.Search.DefaultPreset != "hashes" || cfg.Search.DefaultThreshold != 0.7 {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Search.Expand.MaxRescans != 2 || cfg.Search.Expand.MinResults != 5 {
		t.Errorf("Expand = %+v", cfg.Search.Expand)
	}
	if len(cfg.Scan.Roots) != 2 || cfg.Scan.Roots[0] != filepath.Join(dir, "photos") {
		t.Errorf("Roots = %v", cfg.Scan.Roots)
	}
	if cfg.Scan.FreshnessWindow != time.Hour || cfg.Index.RebuildInterval != 30*time.Minute {
		t.Errorf("durations = %v / %v", cfg.Scan.FreshnessWindow, cfg.Index.RebuildInterval)
	}
	if cfg.Index.IVF.NProbe != 4 || cfg.Index.IVF.Iterations != 20 {
		t.Errorf("IVF = %+v", cfg.Index.IVF)
	}

	ec := cfg.EngineConfig()
	if ec.Scanner.ExcludeDirs[0] != "exports" || ec.Scanner.TaskTimeout != 15*time.Second {
		t.Errorf("EngineConfig().Scanner = %+v", ec.Scanner)
	}
	if ec.Expand.MaxRescans != 2 || ec.DefaultPreset != "hashes" {
		t.Errorf("EngineConfig() = %+v", ec)
	}
	if wc := cfg.WorkerConfig(); wc.MaxWorkers != 3 || wc.RecycleGrace <= 0 {
		t.Errorf("WorkerConfig() = %+v", wc)
	}
	if mc := cfg.IndexManagerConfig(); mc.SnapshotPath != filepath.Join(dir, "index.ivf") || mc.RebuildInterval != 30*time.Minute {
		t.Errorf("IndexManagerConfig() = %+v", mc)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  data_dir: "+dir+"\nserver:\n  port: \"9000\"\n")
	t.Setenv("IMGCAT_PORT", "7000")
	t.Setenv("IMGCAT_ROOTS", dir+"/a, ,"+dir+"/b")
	t.Setenv("IMGCAT_TASK_TIMEOUT", "5s")
	t.Setenv("IMGCAT_MAX_WORKERS", "not-a-number")
	t.Setenv("IMGCAT_WATCH", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("Port = %q, want 7000", cfg.Server.Port)
	}
	if len(cfg.Scan.Roots) != 2 {
		t.Errorf("Roots = %v, want two entries", cfg.Scan.Roots)
	}
	if cfg.Pool.TaskTimeout != 5*time.Second {
		t.Errorf("TaskTimeout = %v", cfg.Pool.TaskTimeout)
	}
	if cfg.Pool.MaxWorkers != DefaultConfig().Pool.MaxWorkers {
		t.Errorf("invalid MaxWorkers should keep default, got %d", cfg.Pool.MaxWorkers)
	}
	if cfg.Server.Watch {
		t.Error("Watch should be disabled by IMGCAT_WATCH=false")
	}
}

func TestLoadConfig_ConfigFromEnv(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  data_dir: "+dir+"\n")
	t.Setenv("IMGCAT_CONFIG", path)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "server: [", "failed to parse"},
		{"threshold", "search:\n  default_threshold: 1.5\n", "default threshold"},
		{"preset", "search:\n  default_preset: nope\n", "unknown preset"},
		{"workers", "pool:\n  min_workers: 4\n  max_workers: 2\n", "max workers"},
		{"options", "extract:\n  options:\n    hash_size: 1\n", "hash size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "storage:\n  data_dir: "+dir+"\n"+tt.body)
			_, err := LoadConfig(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) should fail")
	}
}

func TestPrepareDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	cfg := DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Storage.DatabasePath = filepath.Join(dir, "catalog.db")
	cfg.Storage.SnapshotPath = filepath.Join(dir, "snap", "index.ivf")

	if err := cfg.PrepareDataDir(); err != nil {
		t.Fatalf("PrepareDataDir() error = %v", err)
	}
	for _, d := range []string{dir, filepath.Join(dir, "snap")} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", d, err)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("IMGCAT_TEST_STR", "x")
	t.Setenv("IMGCAT_TEST_BOOL", "yes")
	t.Setenv("IMGCAT_TEST_INT", "12")
	t.Setenv("IMGCAT_TEST_FLOAT", "0.25")
	t.Setenv("IMGCAT_TEST_DUR", "90s")
	t.Setenv("IMGCAT_TEST_LIST", " a ,b,, c ")

	if got := getEnv("IMGCAT_TEST_STR", "d"); got != "x" {
		t.Errorf("getEnv = %q", got)
	}
	if got := getEnv("IMGCAT_TEST_UNSET", "d"); got != "d" {
		t.Errorf("getEnv(unset) = %q", got)
	}
	// "yes" is not accepted by strconv.ParseBool.
	if got := getEnvBool("IMGCAT_TEST_BOOL", true); !got {
		t.Errorf("getEnvBool(invalid) = %v, want default", got)
	}
	if got := getEnvInt("IMGCAT_TEST_INT", 1); got != 12 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvFloat("IMGCAT_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat = %v", got)
	}
	if got := getEnvDuration("IMGCAT_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	got := getEnvList("IMGCAT_TEST_LIST", nil)
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("getEnvList = %q", got)
	}
}
