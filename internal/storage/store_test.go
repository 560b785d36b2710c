package storage

import (
	"os"
	"path/filepath"
	"testing"
)

const testIdentity = "aabbccdd00112233445566778899eeff00112233445566778899aabbccddeeff"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewCreatesVariantDirs(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, Options{}); err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, sub := range []string{"originals", "thumbnails", "web", "videos"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", sub)
		}
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New("", Options{}); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestResolvePathSharding(t *testing.T) {
	s := newTestStore(t)

	got := s.ResolvePath(testIdentity, VariantOriginal, ".jpg", false)
	want := filepath.Join(s.Root(), "originals", "aa", "bb", testIdentity+".jpg")
	if got != want {
		t.Errorf("original path = %q, want %q", got, want)
	}

	// Derived variants are always .webp regardless of the source extension.
	got = s.ResolvePath(testIdentity, VariantThumbnail, ".png", false)
	want = filepath.Join(s.Root(), "thumbnails", "aa", "bb", testIdentity+".webp")
	if got != want {
		t.Errorf("thumbnail path = %q, want %q", got, want)
	}

	got = s.ResolvePath(testIdentity, VariantWeb, ".jpg", false)
	want = filepath.Join(s.Root(), "web", "aa", "bb", testIdentity+".webp")
	if got != want {
		t.Errorf("web path = %q, want %q", got, want)
	}
}

func TestResolvePathVideo(t *testing.T) {
	s := newTestStore(t)
	id := "0123456789abcdef0123456789abcdef"

	// Original and web both resolve to the flat video file.
	flat := filepath.Join(s.Root(), "videos", id+".mp4")
	if got := s.ResolvePath(id, VariantOriginal, ".mp4", true); got != flat {
		t.Errorf("video original = %q, want %q", got, flat)
	}
	if got := s.ResolvePath(id, VariantWeb, ".mp4", true); got != flat {
		t.Errorf("video web = %q, want %q", got, flat)
	}

	// The thumbnail is the sharded poster frame.
	poster := filepath.Join(s.Root(), "thumbnails", "01", "23", id+".webp")
	if got := s.ResolvePath(id, VariantThumbnail, ".mp4", true); got != poster {
		t.Errorf("video thumbnail = %q, want %q", got, poster)
	}
}

func TestRelativePath(t *testing.T) {
	s := newTestStore(t)

	got := s.RelativePath(testIdentity, ".jpg", false)
	want := "originals/aa/bb/" + testIdentity + ".jpg"
	if got != want {
		t.Errorf("RelativePath = %q, want %q", got, want)
	}

	got = s.RelativePath("0123456789abcdef0123456789abcdef", ".mov", true)
	want = "videos/0123456789abcdef0123456789abcdef.mov"
	if got != want {
		t.Errorf("video RelativePath = %q, want %q", got, want)
	}
}

func TestWriteAndExists(t *testing.T) {
	s := newTestStore(t)

	if s.Exists(testIdentity, VariantThumbnail, ".jpg", false) {
		t.Fatal("variant should not exist before Write")
	}
	if err := s.Write(testIdentity, VariantThumbnail, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists(testIdentity, VariantThumbnail, ".jpg", false) {
		t.Fatal("variant should exist after Write")
	}

	data, err := os.ReadFile(s.ResolvePath(testIdentity, VariantThumbnail, ".jpg", false))
	if err != nil {
		t.Fatalf("read variant: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("variant content = %q, want %q", data, "payload")
	}

	// Overwriting is allowed; the new content replaces the old.
	if err := s.Write(testIdentity, VariantThumbnail, []byte("replaced")); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	data, _ = os.ReadFile(s.ResolvePath(testIdentity, VariantThumbnail, ".jpg", false))
	if string(data) != "replaced" {
		t.Errorf("variant content after overwrite = %q", data)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(testIdentity, VariantWeb, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dir := filepath.Dir(s.ResolvePath(testIdentity, VariantWeb, "", false))
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestDeleteAllImage(t *testing.T) {
	s := newTestStore(t)

	for _, v := range []Variant{VariantThumbnail, VariantWeb} {
		if err := s.Write(testIdentity, v, []byte("v")); err != nil {
			t.Fatalf("Write %s: %v", v, err)
		}
	}
	origPath := s.ResolvePath(testIdentity, VariantOriginal, ".jpg", false)
	os.MkdirAll(filepath.Dir(origPath), 0o755)
	os.WriteFile(origPath, []byte("orig"), 0o644)

	res := s.DeleteAll(testIdentity, ".jpg", false)
	if len(res.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failed)
	}
	if res.Removed != 3 {
		t.Errorf("Removed = %d, want 3", res.Removed)
	}
	for _, v := range []Variant{VariantOriginal, VariantThumbnail, VariantWeb} {
		if s.Exists(testIdentity, v, ".jpg", false) {
			t.Errorf("%s variant still on disk", v)
		}
	}
}

func TestDeleteAllMissingIsNotFailure(t *testing.T) {
	s := newTestStore(t)

	// Only the thumbnail exists; the other variants were never written.
	if err := s.Write(testIdentity, VariantThumbnail, []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res := s.DeleteAll(testIdentity, ".jpg", false)
	if len(res.Failed) != 0 {
		t.Fatalf("missing files reported as failures: %v", res.Failed)
	}
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}

	// Repeating the delete is safe and removes nothing.
	res = s.DeleteAll(testIdentity, ".jpg", false)
	if res.Removed != 0 || len(res.Failed) != 0 {
		t.Errorf("second delete: removed %d, failed %d", res.Removed, len(res.Failed))
	}
}

func TestDeleteAllVideo(t *testing.T) {
	s := newTestStore(t)
	id := "0123456789abcdef0123456789abcdef"

	if err := os.WriteFile(filepath.Join(s.Root(), "videos", id+".mp4"), []byte("vid"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	if err := s.Write(id, VariantThumbnail, []byte("poster")); err != nil {
		t.Fatalf("write poster: %v", err)
	}

	res := s.DeleteAll(id, ".mp4", true)
	if len(res.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failed)
	}
	if res.Removed != 2 {
		t.Errorf("Removed = %d, want 2", res.Removed)
	}
	if s.Exists(id, VariantOriginal, ".mp4", true) {
		t.Error("video file still on disk")
	}
}
