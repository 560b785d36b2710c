package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// chunksDir holds one subdirectory per in-flight chunked upload session.
const chunksDir = "chunks"

// DefaultChunkSize is the advertised chunk size for chunked uploads.
const DefaultChunkSize = 5 * 1024 * 1024

// ErrSessionNotFound is returned for unknown or already-completed sessions.
var ErrSessionNotFound = fmt.Errorf("upload session not found")

// SessionMeta is the metadata.json persisted inside a session directory.
// The directory's mtime drives the sweeper's 24-hour abandonment rule.
type SessionMeta struct {
	ID          string    `json:"id"`
	AlbumID     string    `json:"album_id,omitempty"`
	FileName    string    `json:"file_name"`
	TotalSize   int64     `json:"total_size"`
	ChunkSize   int       `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	Received    []int     `json:"received"`
	CreatedAt   time.Time `json:"created_at"`
}

// Complete reports whether every declared chunk has been received.
func (m *SessionMeta) Complete() bool {
	return len(m.Received) == m.TotalChunks
}

// SessionStore manages disk-backed chunked upload sessions under
// <root>/chunks/<session-id>/. Sessions are ephemeral: destroyed on
// completion or abort, or reclaimed by the sweeper after 24 hours of
// inactivity.
type SessionStore struct {
	root string
	mu   sync.Mutex
}

// NewSessionStore creates a session store for a storage root.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) sessionDir(id string) string {
	return filepath.Join(s.root, chunksDir, id)
}

func (s *SessionStore) chunkPath(id string, index int) string {
	return filepath.Join(s.sessionDir(id), fmt.Sprintf("chunk_%06d", index))
}

func (s *SessionStore) metaPath(id string) string {
	return filepath.Join(s.sessionDir(id), "metadata.json")
}

// Create opens a new session for a declared file and returns its metadata.
func (s *SessionStore) Create(albumID, fileName string, totalSize int64) (*SessionMeta, error) {
	if fileName == "" || totalSize <= 0 {
		return nil, fmt.Errorf("file name and positive total size are required")
	}

	meta := &SessionMeta{
		ID:          newIdentity(),
		AlbumID:     albumID,
		FileName:    fileName,
		TotalSize:   totalSize,
		ChunkSize:   DefaultChunkSize,
		TotalChunks: int((totalSize + DefaultChunkSize - 1) / DefaultChunkSize),
		Received:    []int{},
		CreatedAt:   time.Now().UTC(),
	}

	if err := os.MkdirAll(s.sessionDir(meta.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := s.writeMeta(meta); err != nil {
		os.RemoveAll(s.sessionDir(meta.ID))
		return nil, err
	}
	return meta, nil
}

// Get loads a session's metadata.
func (s *SessionStore) Get(id string) (*SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMeta(id)
}

// PutChunk stores one chunk of a session, recording its index. Re-sending
// an index overwrites the previous chunk, which makes retries idempotent.
func (s *SessionStore) PutChunk(id string, index int, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= meta.TotalChunks {
		return fmt.Errorf("chunk index %d out of range (total %d)", index, meta.TotalChunks)
	}

	f, err := os.Create(s.chunkPath(id, index))
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(s.chunkPath(id, index))
		return fmt.Errorf("write chunk %d: %w", index, err)
	}

	seen := false
	for _, i := range meta.Received {
		if i == index {
			seen = true
			break
		}
	}
	if !seen {
		meta.Received = append(meta.Received, index)
		sort.Ints(meta.Received)
	}
	return s.writeMeta(meta)
}

// Assemble returns a reader over the session's chunks concatenated in
// index order, for handing to the ingestion pipeline. The caller must
// close the reader and then Remove the session.
func (s *SessionStore) Assemble(id string) (io.ReadCloser, *SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, nil, err
	}
	if !meta.Complete() {
		return nil, nil, fmt.Errorf("incomplete upload: received %d/%d chunks",
			len(meta.Received), meta.TotalChunks)
	}

	files := make([]*os.File, 0, meta.TotalChunks)
	readers := make([]io.Reader, 0, meta.TotalChunks)
	for i := 0; i < meta.TotalChunks; i++ {
		f, err := os.Open(s.chunkPath(id, i))
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return nil, nil, fmt.Errorf("open chunk %d: %w", i, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	return &multiFileReader{Reader: io.MultiReader(readers...), files: files}, meta, nil
}

// Remove destroys a session directory and everything in it.
func (s *SessionStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(s.sessionDir(id))
}

func (s *SessionStore) readMeta(id string) (*SessionMeta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}
	var meta SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse session metadata: %w", err)
	}
	return &meta, nil
}

func (s *SessionStore) writeMeta(meta *SessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	tmp := s.metaPath(meta.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := os.Rename(tmp, s.metaPath(meta.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session metadata: %w", err)
	}
	return nil
}

type multiFileReader struct {
	io.Reader
	files []*os.File
}

func (m *multiFileReader) Close() error {
	var first error
	for _, f := range m.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
