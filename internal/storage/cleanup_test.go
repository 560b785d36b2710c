package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// age backdates a path's mtime so the sweeper sees it as stale.
func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestSweepTempFiles(t *testing.T) {
	root := t.TempDir()
	sw := NewSweeper(root, t.TempDir())

	stale := filepath.Join(root, "temp_deadbeef.jpg")
	fresh := filepath.Join(root, "temp_cafebabe.jpg")
	os.WriteFile(stale, []byte("staledata"), 0o644)
	os.WriteFile(fresh, []byte("freshdata"), 0o644)
	age(t, stale, 2*time.Hour)

	res := sw.SweepOnce()
	if res.Count != 1 {
		t.Fatalf("Count = %d, want 1", res.Count)
	}
	if res.Bytes != int64(len("staledata")) {
		t.Errorf("Bytes = %d, want %d", res.Bytes, len("staledata"))
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp file survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp file was swept")
	}
}

func TestSweepZipBundles(t *testing.T) {
	root := t.TempDir()
	tempDir := t.TempDir()
	sw := NewSweeper(root, tempDir)

	stale := filepath.Join(tempDir, "album-1.zip")
	fresh := filepath.Join(tempDir, "album-2.zip")
	other := filepath.Join(tempDir, "keep.txt")
	os.WriteFile(stale, []byte("zip"), 0o644)
	os.WriteFile(fresh, []byte("zip"), 0o644)
	os.WriteFile(other, []byte("txt"), 0o644)
	age(t, stale, 90*time.Minute)
	age(t, other, 90*time.Minute)

	res := sw.SweepOnce()
	if res.Count != 1 {
		t.Fatalf("Count = %d, want 1", res.Count)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale zip survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh zip was swept")
	}
	// Only *.zip is swept from the temp dir.
	if _, err := os.Stat(other); err != nil {
		t.Error("non-zip file was swept")
	}
}

func TestSweepSessions(t *testing.T) {
	root := t.TempDir()
	sw := NewSweeper(root, t.TempDir())

	staleDir := filepath.Join(root, "chunks", "stale-session")
	freshDir := filepath.Join(root, "chunks", "fresh-session")
	os.MkdirAll(staleDir, 0o755)
	os.MkdirAll(freshDir, 0o755)
	os.WriteFile(filepath.Join(staleDir, "chunk_000000"), []byte("abcdef"), 0o644)
	os.WriteFile(filepath.Join(freshDir, "chunk_000000"), []byte("abcdef"), 0o644)
	age(t, staleDir, 25*time.Hour)

	res := sw.SweepOnce()
	if res.Count != 1 {
		t.Fatalf("Count = %d, want 1", res.Count)
	}
	if res.Bytes != 6 {
		t.Errorf("Bytes = %d, want 6", res.Bytes)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale session dir survived")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Error("fresh session dir was swept")
	}
}

func TestSweepIdempotent(t *testing.T) {
	root := t.TempDir()
	sw := NewSweeper(root, t.TempDir())

	stale := filepath.Join(root, "temp_x.bin")
	os.WriteFile(stale, []byte("x"), 0o644)
	age(t, stale, 2*time.Hour)

	if res := sw.SweepOnce(); res.Count != 1 {
		t.Fatalf("first sweep Count = %d, want 1", res.Count)
	}
	if res := sw.SweepOnce(); res.Count != 0 || res.Bytes != 0 {
		t.Errorf("second sweep reclaimed count=%d bytes=%d, want zero", res.Count, res.Bytes)
	}
}

func TestSweepEmptyRoot(t *testing.T) {
	sw := NewSweeper(t.TempDir(), t.TempDir())
	if res := sw.SweepOnce(); res.Count != 0 || res.Bytes != 0 {
		t.Errorf("sweep of empty root reclaimed count=%d bytes=%d", res.Count, res.Bytes)
	}
}

func TestSweepStagingFiles(t *testing.T) {
	root := t.TempDir()
	sw := NewSweeper(root, t.TempDir())

	shardDir := filepath.Join(root, "thumbnails", "aa", "bb")
	os.MkdirAll(shardDir, 0o755)
	stale := filepath.Join(shardDir, ".clientpix-123456.tmp")
	fresh := filepath.Join(shardDir, ".clientpix-654321.tmp")
	variant := filepath.Join(shardDir, "aabbcc.webp")
	os.WriteFile(stale, []byte("half-written"), 0o644)
	os.WriteFile(fresh, []byte("half-written"), 0o644)
	os.WriteFile(variant, []byte("done"), 0o644)
	age(t, stale, 2*time.Hour)
	age(t, variant, 2*time.Hour)

	res := sw.SweepOnce()
	if res.Count != 1 {
		t.Fatalf("Count = %d, want 1", res.Count)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale staging file survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staging file was swept")
	}
	// Completed variants are never touched regardless of age.
	if _, err := os.Stat(variant); err != nil {
		t.Error("stored variant was swept")
	}
}

func TestSweeperStartStop(t *testing.T) {
	sw := NewSweeper(t.TempDir(), t.TempDir())
	ctx := t.Context()

	sw.Start(ctx, time.Hour)
	// Starting twice is a no-op, not a second loop.
	sw.Start(ctx, time.Hour)
	sw.Stop()
	// Stop after Stop must not hang or panic.
	sw.Stop()
}

func TestSweeperStartStopRepeated(t *testing.T) {
	sw := NewSweeper(t.TempDir(), t.TempDir())

	// Stop often runs before the sweep goroutine is ever scheduled; the
	// loop must shut down cleanly every time.
	for i := 0; i < 200; i++ {
		sw.Start(t.Context(), time.Hour)
		sw.Stop()
	}
}
