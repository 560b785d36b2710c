package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/logging"
)

// ingestChunkSize is the buffer used when streaming uploads to disk. 8 MiB
// keeps large RAW and video transfers I/O-bound instead of syscall-bound.
const ingestChunkSize = 8 * 1024 * 1024

// StoredFile is the result of one completed ingestion. Persistence of
// reference counts against the identity is the caller's job.
type StoredFile struct {
	// ID is the content identity: a 64-char SHA-256 hex digest for
	// images, a random 32-char hex token for videos.
	ID            string
	StoragePath   string // original-variant path relative to the root
	FileExtension string
	MIMEType      string
	FileSize      int64
	Width         int // zero for videos and unparseable images
	Height        int
	IsDuplicate   bool
	IsVideo       bool
}

// newIdentity returns a fresh random 32-char hex identity for a video.
func newIdentity() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Ingest streams an upload to disk and returns its stored-file record,
// reading the input exactly once.
//
// Images stream to a temp file while a SHA-256 digest accumulates; the
// digest becomes the identity, duplicates are detected by the existence of
// the canonical original path, and thumbnail/web variants are derived.
// Videos stream straight to their final flat location under a fresh random
// identity with no hashing and no inline variants (poster frames are an
// out-of-band batch job).
//
// Unrecognized file types are not an error: they fall back to a generic
// MIME type, and images whose format cannot be decoded get zero
// dimensions.
func (s *Store) Ingest(ctx context.Context, r io.Reader, filename string) (*StoredFile, error) {
	ext := normalizeExt(filename)
	if IsVideo(ext) {
		return s.ingestVideo(ctx, r, ext)
	}
	return s.ingestImage(ctx, r, ext)
}

func (s *Store) ingestVideo(ctx context.Context, r io.Reader, ext string) (*StoredFile, error) {
	identity := newIdentity()
	path := s.videoPath(identity, ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create video file: %w", err)
	}

	size, err := copyChunked(ctx, f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A fresh identity is never referenced until we return, so a
		// failed write must not leave the permanent file behind.
		os.Remove(path)
		return nil, fmt.Errorf("write video %s: %w", identity, err)
	}

	return &StoredFile{
		ID:            identity,
		StoragePath:   s.RelativePath(identity, ext, true),
		FileExtension: ext,
		MIMEType:      MIMEType(ext),
		FileSize:      size,
		IsVideo:       true,
	}, nil
}

func (s *Store) ingestImage(ctx context.Context, r io.Reader, ext string) (*StoredFile, error) {
	tempPath := filepath.Join(s.root, "temp_"+newIdentity()+ext)

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	size, err := copyChunked(ctx, io.MultiWriter(f, hasher), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	identity := hex.EncodeToString(hasher.Sum(nil))
	originalPath := s.shardPath(identity, VariantOriginal, ext)

	isDuplicate := false
	if _, err := os.Stat(originalPath); err == nil {
		isDuplicate = true
		os.Remove(tempPath)
		// A prior ingestion may have crashed after writing the original
		// but before deriving variants. Re-ingesting the same content is
		// the self-heal path for that window.
		if !s.Exists(identity, VariantThumbnail, ext, false) || !s.Exists(identity, VariantWeb, ext, false) {
			if derr := s.deriveVariants(identity, originalPath); derr != nil {
				logging.Warn("variant regeneration failed",
					zap.String("identity", identity), zap.Error(derr))
			}
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(originalPath), 0o755); err != nil {
			os.Remove(tempPath)
			return nil, fmt.Errorf("create shard dirs: %w", err)
		}
		// Rename, not copy: no window where a reader could see a
		// truncated original. Two racing ingestions of identical bytes
		// both rename identical content, which is harmless.
		if err := os.Rename(tempPath, originalPath); err != nil {
			os.Remove(tempPath)
			return nil, fmt.Errorf("promote temp file: %w", err)
		}
		if derr := s.deriveVariants(identity, originalPath); derr != nil {
			logging.Warn("variant derivation failed",
				zap.String("identity", identity), zap.Error(derr))
		}
	}

	// Best effort: unparseable formats (RAW and friends) report 0x0
	// rather than failing the ingestion.
	width, height := probeDimensions(originalPath)

	return &StoredFile{
		ID:            identity,
		StoragePath:   s.RelativePath(identity, ext, false),
		FileExtension: ext,
		MIMEType:      MIMEType(ext),
		FileSize:      size,
		Width:         width,
		Height:        height,
		IsDuplicate:   isDuplicate,
	}, nil
}

// RegenerateVariants rebuilds the thumbnail and web variants from the
// stored original. Returns false if the original is missing on disk.
func (s *Store) RegenerateVariants(identity, ext string) (bool, error) {
	originalPath := s.shardPath(identity, VariantOriginal, ext)
	if _, err := os.Stat(originalPath); err != nil {
		return false, nil
	}
	if err := s.deriveVariants(identity, originalPath); err != nil {
		return true, err
	}
	return true, nil
}

// copyChunked copies src to dst in large fixed-size chunks, checking for
// context cancellation between chunks.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ingestChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// probeDimensions reads just enough of an image file to get its
// dimensions. Returns 0x0 for formats the decoders cannot parse.
func probeDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
