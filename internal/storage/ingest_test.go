package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testJPEG returns an encoded JPEG with a simple gradient so different
// sizes produce different content hashes.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestIngestImage(t *testing.T) {
	s := newTestStore(t)
	data := testJPEG(t, 64, 48)

	sf, err := s.Ingest(context.Background(), bytes.NewReader(data), "photo.JPG")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	sum := sha256.Sum256(data)
	if sf.ID != hex.EncodeToString(sum[:]) {
		t.Errorf("identity = %s, want sha256 of content", sf.ID)
	}
	if sf.IsDuplicate || sf.IsVideo {
		t.Errorf("IsDuplicate=%v IsVideo=%v, want false/false", sf.IsDuplicate, sf.IsVideo)
	}
	if sf.FileExtension != ".jpg" {
		t.Errorf("extension = %q, want .jpg (lowercased)", sf.FileExtension)
	}
	if sf.MIMEType != "image/jpeg" {
		t.Errorf("mime = %q", sf.MIMEType)
	}
	if sf.FileSize != int64(len(data)) {
		t.Errorf("size = %d, want %d", sf.FileSize, len(data))
	}
	if sf.Width != 64 || sf.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", sf.Width, sf.Height)
	}
	if want := "originals/" + sf.ID[:2] + "/" + sf.ID[2:4] + "/" + sf.ID + ".jpg"; sf.StoragePath != want {
		t.Errorf("StoragePath = %q, want %q", sf.StoragePath, want)
	}

	// Original plus both derived variants must be on disk.
	for _, v := range []Variant{VariantOriginal, VariantThumbnail, VariantWeb} {
		if !s.Exists(sf.ID, v, ".jpg", false) {
			t.Errorf("%s variant missing after ingest", v)
		}
	}

	stored, err := os.ReadFile(s.ResolvePath(sf.ID, VariantOriginal, ".jpg", false))
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if !bytes.Equal(stored, data) {
		t.Error("stored original differs from uploaded bytes")
	}
}

func TestIngestImageDeterministic(t *testing.T) {
	s := newTestStore(t)
	data := testJPEG(t, 32, 32)

	first, err := s.Ingest(context.Background(), bytes.NewReader(data), "a.jpg")
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	origPath := s.ResolvePath(first.ID, VariantOriginal, ".jpg", false)
	before, err := os.Stat(origPath)
	if err != nil {
		t.Fatalf("stat original: %v", err)
	}

	// Same bytes under a different name map to the same identity.
	second, err := s.Ingest(context.Background(), bytes.NewReader(data), "b.jpg")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("identities differ: %s vs %s", first.ID, second.ID)
	}
	if !second.IsDuplicate {
		t.Error("second ingest of same content should report IsDuplicate")
	}

	// The duplicate must not rewrite the stored original.
	after, err := os.Stat(origPath)
	if err != nil {
		t.Fatalf("stat original after duplicate: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("duplicate ingest touched the original file")
	}

	// Only one physical original exists.
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "originals", "*", "*", "*"))
	if len(matches) != 1 {
		t.Errorf("original count = %d, want 1", len(matches))
	}
}

func TestIngestDuplicateSelfHeals(t *testing.T) {
	s := newTestStore(t)
	data := testJPEG(t, 40, 40)

	sf, err := s.Ingest(context.Background(), bytes.NewReader(data), "a.jpg")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Simulate a crash between writing the original and deriving variants.
	if err := os.Remove(s.ResolvePath(sf.ID, VariantThumbnail, ".jpg", false)); err != nil {
		t.Fatalf("remove thumbnail: %v", err)
	}

	dup, err := s.Ingest(context.Background(), bytes.NewReader(data), "a.jpg")
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if !dup.IsDuplicate {
		t.Fatal("re-ingest should be a duplicate")
	}
	if !s.Exists(sf.ID, VariantThumbnail, ".jpg", false) {
		t.Error("missing thumbnail not regenerated by duplicate ingest")
	}
}

func TestIngestLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	data := testJPEG(t, 16, 16)

	if _, err := s.Ingest(context.Background(), bytes.NewReader(data), "a.jpg"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// Duplicate path removes its temp file too.
	if _, err := s.Ingest(context.Background(), bytes.NewReader(data), "a.jpg"); err != nil {
		t.Fatalf("duplicate Ingest: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), "temp_*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

// brokenReader yields some bytes, then fails like a dropped connection.
type brokenReader struct {
	r   io.Reader
	err error
}

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func TestIngestImageReadFailureCleansUp(t *testing.T) {
	s := newTestStore(t)
	readErr := errors.New("connection reset")

	_, err := s.Ingest(context.Background(),
		&brokenReader{r: bytes.NewReader(testJPEG(t, 16, 16)), err: readErr}, "a.jpg")
	if !errors.Is(err, readErr) {
		t.Fatalf("Ingest error = %v, want wrapped read error", err)
	}

	// The aborted upload must not leave its temp file or any original.
	temps, _ := filepath.Glob(filepath.Join(s.Root(), "temp_*"))
	if len(temps) != 0 {
		t.Errorf("leftover temp files: %v", temps)
	}
	originals, _ := filepath.Glob(filepath.Join(s.Root(), "originals", "*", "*", "*"))
	if len(originals) != 0 {
		t.Errorf("leftover originals: %v", originals)
	}
}

func TestIngestVideoReadFailureCleansUp(t *testing.T) {
	s := newTestStore(t)
	readErr := errors.New("connection reset")

	_, err := s.Ingest(context.Background(),
		&brokenReader{r: strings.NewReader("partial video"), err: readErr}, "clip.mp4")
	if !errors.Is(err, readErr) {
		t.Fatalf("Ingest error = %v, want wrapped read error", err)
	}

	// Videos write to their permanent path directly, so a failed write
	// must remove the file.
	videos, _ := filepath.Glob(filepath.Join(s.Root(), "videos", "*"))
	if len(videos) != 0 {
		t.Errorf("leftover video files: %v", videos)
	}
}

func TestIngestUnparseableImage(t *testing.T) {
	s := newTestStore(t)
	data := []byte("not actually image data, stored verbatim")

	sf, err := s.Ingest(context.Background(), bytes.NewReader(data), "shot.cr2")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sf.Width != 0 || sf.Height != 0 {
		t.Errorf("dimensions = %dx%d, want 0x0 for undecodable format", sf.Width, sf.Height)
	}
	if sf.MIMEType != "image/x-canon-cr2" {
		t.Errorf("mime = %q", sf.MIMEType)
	}
	if !s.Exists(sf.ID, VariantOriginal, ".cr2", false) {
		t.Error("original missing")
	}
}

func TestIngestVideo(t *testing.T) {
	s := newTestStore(t)
	data := []byte("fake video payload")

	sf, err := s.Ingest(context.Background(), bytes.NewReader(data), "clip.MP4")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !sf.IsVideo {
		t.Fatal("IsVideo should be true for .mp4")
	}
	if sf.IsDuplicate {
		t.Error("videos are never duplicates")
	}
	if len(sf.ID) != 32 {
		t.Errorf("video identity length = %d, want 32", len(sf.ID))
	}
	if sf.Width != 0 || sf.Height != 0 {
		t.Errorf("video dimensions = %dx%d, want 0x0", sf.Width, sf.Height)
	}
	if !strings.HasPrefix(sf.StoragePath, "videos/") {
		t.Errorf("StoragePath = %q, want videos/ prefix", sf.StoragePath)
	}

	stored, err := os.ReadFile(filepath.Join(s.Root(), "videos", sf.ID+".mp4"))
	if err != nil {
		t.Fatalf("read video: %v", err)
	}
	if !bytes.Equal(stored, data) {
		t.Error("stored video differs from uploaded bytes")
	}
	// No inline variants for videos.
	if s.Exists(sf.ID, VariantThumbnail, ".mp4", true) {
		t.Error("video ingest should not produce a poster frame")
	}
}

func TestIngestVideoIdentityIsRandom(t *testing.T) {
	s := newTestStore(t)
	data := []byte("identical video bytes")

	a, err := s.Ingest(context.Background(), bytes.NewReader(data), "clip.mp4")
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	b, err := s.Ingest(context.Background(), bytes.NewReader(data), "clip.mp4")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if a.ID == b.ID {
		t.Error("identical video content must still get distinct identities")
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), "videos", "*"))
	if len(matches) != 2 {
		t.Errorf("video count = %d, want 2 (no dedup)", len(matches))
	}
}

func TestRegenerateVariants(t *testing.T) {
	s := newTestStore(t)
	data := testJPEG(t, 24, 24)

	sf, err := s.Ingest(context.Background(), bytes.NewReader(data), "a.jpg")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	os.Remove(s.ResolvePath(sf.ID, VariantThumbnail, ".jpg", false))
	os.Remove(s.ResolvePath(sf.ID, VariantWeb, ".jpg", false))

	found, err := s.RegenerateVariants(sf.ID, ".jpg")
	if err != nil {
		t.Fatalf("RegenerateVariants: %v", err)
	}
	if !found {
		t.Fatal("original exists, found should be true")
	}
	if !s.Exists(sf.ID, VariantThumbnail, ".jpg", false) || !s.Exists(sf.ID, VariantWeb, ".jpg", false) {
		t.Error("variants not regenerated")
	}

	// Missing original is reported, not an error.
	found, err = s.RegenerateVariants(testIdentity, ".jpg")
	if err != nil {
		t.Fatalf("RegenerateVariants missing: %v", err)
	}
	if found {
		t.Error("found should be false for an identity with no original")
	}
}

func TestMIMETypeFallback(t *testing.T) {
	if got := MIMEType(".xyz"); got != "application/octet-stream" {
		t.Errorf("MIMEType(.xyz) = %q", got)
	}
	if got := MIMEType(".JPG"); got != "image/jpeg" {
		t.Errorf("MIMEType is not case-insensitive: %q", got)
	}
	if !IsVideo(".MOV") {
		t.Error("IsVideo should be case-insensitive")
	}
	if IsImage(".mp4") || IsVideo(".jpg") {
		t.Error("image/video classification crossed over")
	}
	if got := normalizeExt("noext"); got != ".bin" {
		t.Errorf("normalizeExt(noext) = %q, want .bin", got)
	}
}
