package storage

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestSessionCreate(t *testing.T) {
	ss := NewSessionStore(t.TempDir())

	meta, err := ss.Create("album-1", "big.mp4", 12*1024*1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(meta.ID) != 32 {
		t.Errorf("session id length = %d, want 32", len(meta.ID))
	}
	// 12 MiB at 5 MiB chunks rounds up to 3.
	if meta.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", meta.TotalChunks)
	}
	if meta.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", meta.ChunkSize, DefaultChunkSize)
	}
	if meta.Complete() {
		t.Error("fresh session should not be complete")
	}

	got, err := ss.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FileName != "big.mp4" || got.AlbumID != "album-1" || got.TotalSize != 12*1024*1024 {
		t.Errorf("persisted metadata mismatch: %+v", got)
	}
}

func TestSessionCreateValidation(t *testing.T) {
	ss := NewSessionStore(t.TempDir())
	if _, err := ss.Create("", "", 100); err == nil {
		t.Error("empty file name should be rejected")
	}
	if _, err := ss.Create("", "f.mp4", 0); err == nil {
		t.Error("zero total size should be rejected")
	}
}

func TestSessionNotFound(t *testing.T) {
	ss := NewSessionStore(t.TempDir())
	if _, err := ss.Get("nope"); err != ErrSessionNotFound {
		t.Errorf("Get unknown = %v, want ErrSessionNotFound", err)
	}
	if err := ss.PutChunk("nope", 0, strings.NewReader("x")); err != ErrSessionNotFound {
		t.Errorf("PutChunk unknown = %v, want ErrSessionNotFound", err)
	}
	if _, _, err := ss.Assemble("nope"); err != ErrSessionNotFound {
		t.Errorf("Assemble unknown = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionChunkLifecycle(t *testing.T) {
	ss := NewSessionStore(t.TempDir())

	payload := bytes.Repeat([]byte("abc123"), 3*DefaultChunkSize/6)
	payload = payload[:2*DefaultChunkSize+100] // 3 chunks, last one short

	meta, err := ss.Create("", "clip.mov", int64(len(payload)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if meta.TotalChunks != 3 {
		t.Fatalf("TotalChunks = %d, want 3", meta.TotalChunks)
	}

	// Upload out of order.
	for _, i := range []int{2, 0, 1} {
		start := i * DefaultChunkSize
		end := start + DefaultChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := ss.PutChunk(meta.ID, i, bytes.NewReader(payload[start:end])); err != nil {
			t.Fatalf("PutChunk %d: %v", i, err)
		}
	}

	got, err := ss.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Complete() {
		t.Fatalf("session not complete, received %v", got.Received)
	}

	rc, _, err := ss.Assemble(meta.ID)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	assembled, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read assembled: %v", err)
	}
	if !bytes.Equal(assembled, payload) {
		t.Fatalf("assembled %d bytes, want %d, content mismatch", len(assembled), len(payload))
	}

	if err := ss.Remove(meta.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := ss.Get(meta.ID); err != ErrSessionNotFound {
		t.Errorf("Get after Remove = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionPutChunkRetryIdempotent(t *testing.T) {
	ss := NewSessionStore(t.TempDir())

	meta, err := ss.Create("", "f.bin", 10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ss.PutChunk(meta.ID, 0, strings.NewReader("first try")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	// A retry overwrites and does not double-count the index.
	if err := ss.PutChunk(meta.ID, 0, strings.NewReader("second try")); err != nil {
		t.Fatalf("retry PutChunk: %v", err)
	}

	got, _ := ss.Get(meta.ID)
	if len(got.Received) != 1 {
		t.Errorf("Received = %v, want a single index", got.Received)
	}

	rc, _, err := ss.Assemble(meta.ID)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "second try" {
		t.Errorf("assembled = %q, want the retried content", data)
	}
}

func TestSessionChunkIndexOutOfRange(t *testing.T) {
	ss := NewSessionStore(t.TempDir())

	meta, err := ss.Create("", "f.bin", 10) // one chunk
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ss.PutChunk(meta.ID, 1, strings.NewReader("x")); err == nil {
		t.Error("index past TotalChunks should be rejected")
	}
	if err := ss.PutChunk(meta.ID, -1, strings.NewReader("x")); err == nil {
		t.Error("negative index should be rejected")
	}
}

func TestSessionAssembleIncomplete(t *testing.T) {
	ss := NewSessionStore(t.TempDir())

	meta, err := ss.Create("", "f.bin", 2*DefaultChunkSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ss.PutChunk(meta.ID, 0, strings.NewReader("partial")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	if _, _, err := ss.Assemble(meta.ID); err == nil {
		t.Error("assembling an incomplete session should fail")
	}
}

func TestSessionRemoveUnknownIsNoop(t *testing.T) {
	ss := NewSessionStore(t.TempDir())
	if err := ss.Remove("never-existed"); err != nil {
		t.Errorf("Remove unknown session: %v", err)
	}
}

func TestSessionMetaNoTempLeftovers(t *testing.T) {
	root := t.TempDir()
	ss := NewSessionStore(root)

	meta, err := ss.Create("", "f.bin", 10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ss.PutChunk(meta.ID, 0, strings.NewReader("0123456789")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	entries, err := os.ReadDir(ss.sessionDir(meta.ID))
	if err != nil {
		t.Fatalf("read session dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover metadata temp file %s", e.Name())
		}
	}
}
