// Package storage implements the content-addressed media store: deterministic
// sharded paths keyed by content identity, streaming ingestion with SHA-256
// deduplication for images, WebP variant derivation, and the age-based
// cleanup sweeper for transient artifacts.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Variant selects one of the stored renditions of a file.
type Variant string

const (
	VariantOriginal  Variant = "originals"
	VariantThumbnail Variant = "thumbnails"
	VariantWeb       Variant = "web"
)

// videosDir holds video files. Videos are not deduplicated and are
// comparatively few, so they live in one flat directory.
const videosDir = "videos"

// variantExt is the encoding used for all derived variants.
const variantExt = ".webp"

const (
	defaultWebMaxDimension = 2400
	defaultDeriveWorkers   = 2
)

// Options configures a Store.
type Options struct {
	// WebMaxDimension caps the longest side of the web variant.
	// Zero means the default of 2400px.
	WebMaxDimension int
	// DeriveWorkers bounds how many variant derivations may run
	// concurrently. Zero means the default of 2.
	DeriveWorkers int
}

// Store maps content identities to sharded on-disk paths and performs the
// physical file operations. Construct one per storage root; tests point it
// at an isolated temporary directory.
type Store struct {
	root            string
	webMaxDimension int
	deriveSlots     chan struct{}
}

// New creates a Store rooted at dir, creating the variant directories if
// they do not exist.
func New(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if opts.WebMaxDimension <= 0 {
		opts.WebMaxDimension = defaultWebMaxDimension
	}
	if opts.DeriveWorkers <= 0 {
		opts.DeriveWorkers = defaultDeriveWorkers
	}

	for _, sub := range []string{
		string(VariantOriginal), string(VariantThumbnail), string(VariantWeb), videosDir,
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	return &Store{
		root:            dir,
		webMaxDimension: opts.WebMaxDimension,
		deriveSlots:     make(chan struct{}, opts.DeriveWorkers),
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// shardPath builds the sharded path for an identity: the first two and next
// two hex characters become two directory levels, bounding per-directory
// fan-out at 256x256 entries regardless of catalog size.
func (s *Store) shardPath(identity string, variant Variant, ext string) string {
	return filepath.Join(s.root, string(variant), identity[:2], identity[2:4], identity+ext)
}

// videoPath returns the flat path for a video file.
func (s *Store) videoPath(identity, ext string) string {
	return filepath.Join(s.root, videosDir, identity+ext)
}

// ResolvePath returns the absolute on-disk path for (identity, variant).
// Pure path construction, no IO. For thumbnail and web variants the
// extension is always .webp. For videos, the original and web variants
// resolve to the video file itself; the thumbnail resolves to the sharded
// poster-frame WebP.
func (s *Store) ResolvePath(identity string, variant Variant, ext string, isVideo bool) string {
	if isVideo {
		if variant == VariantThumbnail {
			return s.shardPath(identity, VariantThumbnail, variantExt)
		}
		return s.videoPath(identity, ext)
	}
	if variant == VariantThumbnail || variant == VariantWeb {
		return s.shardPath(identity, variant, variantExt)
	}
	return s.shardPath(identity, VariantOriginal, ext)
}

// RelativePath returns the path of the original variant relative to the
// storage root, the form persisted by the catalog.
func (s *Store) RelativePath(identity, ext string, isVideo bool) string {
	if isVideo {
		return videosDir + "/" + identity + ext
	}
	return string(VariantOriginal) + "/" + identity[:2] + "/" + identity[2:4] + "/" + identity + ext
}

// Write stores data at the canonical path for (identity, variant), creating
// parent directories as needed and overwriting any existing file. The write
// goes through a temp file and rename so readers never observe a truncated
// variant.
func (s *Store) Write(identity string, variant Variant, data []byte) error {
	path := s.ResolvePath(identity, variant, variantExt, false)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".clientpix-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the file for (identity, variant) is on disk.
func (s *Store) Exists(identity string, variant Variant, ext string, isVideo bool) bool {
	_, err := os.Stat(s.ResolvePath(identity, variant, ext, isVideo))
	return err == nil
}

// DeleteFailure records one variant path that could not be removed.
type DeleteFailure struct {
	Path string
	Err  error
}

// DeleteResult reports what DeleteAll actually removed. Failures are
// returned rather than raised: deletion runs after the catalog mutation has
// committed, so a leftover file is reclaimable later while an error to the
// caller would only look like inconsistency. The caller decides whether to
// log the failures.
type DeleteResult struct {
	Removed int
	Failed  []DeleteFailure
}

// DeleteAll removes every variant path for an identity. Each path is
// removed independently; a missing file is not a failure, so the operation
// tolerates partial prior deletion and is safe to repeat.
func (s *Store) DeleteAll(identity, ext string, isVideo bool) DeleteResult {
	var paths []string
	if isVideo {
		paths = []string{
			s.videoPath(identity, ext),
			s.shardPath(identity, VariantThumbnail, variantExt),
			s.shardPath(identity, VariantWeb, variantExt),
		}
	} else {
		paths = []string{
			s.shardPath(identity, VariantOriginal, ext),
			s.shardPath(identity, VariantThumbnail, variantExt),
			s.shardPath(identity, VariantWeb, variantExt),
		}
	}

	var res DeleteResult
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			res.Removed++
		case os.IsNotExist(err):
			// Already gone, e.g. a crash between unlinks on a prior delete.
		default:
			res.Failed = append(res.Failed, DeleteFailure{Path: p, Err: err})
		}
	}
	return res
}
