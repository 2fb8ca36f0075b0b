package runstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteLinesTerminatesEveryLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "val.txt")
	if err := WriteLines(path, []string{"v1", "v2"}); err != nil {
		t.Fatalf("write lines: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1\nv2\n" {
		t.Fatalf("unexpected content %q", string(data))
	}

	if err := WriteLines(path, nil); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	data, _ = os.ReadFile(path)
	if len(data) != 0 {
		t.Fatalf("expected empty file, got %q", string(data))
	}
}

func TestNewRunDirIsListedAndIgnoresHiddenDirs(t *testing.T) {
	runsDir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	runID, runDir, err := NewRunDir(runsDir, now)
	if err != nil {
		t.Fatalf("new run dir: %v", err)
	}
	if !strings.HasPrefix(runID, "20260304T050607Z_") {
		t.Fatalf("unexpected run id %q", runID)
	}
	if err := Mkdir(filepath.Join(runsDir, ".locks")); err != nil {
		t.Fatal(err)
	}

	dirs, err := ListRunDirs(runsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 || dirs[0] != runDir {
		t.Fatalf("expected only %s, got %v", runDir, dirs)
	}
}

func TestReadJSONRoundTripsManifestFile(t *testing.T) {
	dir := t.TempDir()
	in := map[string]int{"workers": 2}
	if err := WriteJSON(ManifestPath(dir), in); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	if err := ReadJSON(ManifestPath(dir), &out); err != nil {
		t.Fatal(err)
	}
	if out["workers"] != 2 {
		t.Fatalf("unexpected manifest %v", out)
	}
}
