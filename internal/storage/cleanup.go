package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
)

const (
	// ZIP export bundles and interrupted-upload temp files go stale after
	// an hour; abandoned chunked-upload sessions get a day because a slow
	// client may legitimately resume one.
	zipMaxAge     = time.Hour
	tempMaxAge    = time.Hour
	sessionMaxAge = 24 * time.Hour

	// DefaultSweepInterval is the period between automatic sweeps.
	DefaultSweepInterval = 30 * time.Minute
)

// SweepResult totals what one sweep reclaimed.
type SweepResult struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

func (r *SweepResult) add(count int, bytes int64) {
	r.Count += count
	r.Bytes += bytes
}

// Sweeper reclaims disk space from artifacts that no reference count ever
// tracks: their lifecycle is purely age-based filesystem state. All sweep
// rules are idempotent and safe to run concurrently with ingestion.
type Sweeper struct {
	root    string
	tempDir string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper for a storage root. ZIP bundles are swept
// from tempDir; pass "" for the OS temp directory.
func NewSweeper(root, tempDir string) *Sweeper {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Sweeper{root: root, tempDir: tempDir}
}

// SweepOnce runs every sweep rule once and reports what was reclaimed.
// Startup, periodic, and on-demand invocations all come through here, so
// there is no behavioral divergence between them.
func (s *Sweeper) SweepOnce() SweepResult {
	now := time.Now()
	var res SweepResult
	res.add(s.sweepZipBundles(now))
	res.add(s.sweepTempFiles(now))
	res.add(s.sweepStagingFiles(now))
	res.add(s.sweepSessions(now))
	if res.Count > 0 {
		metrics.RecordSweep(res.Count, res.Bytes)
		logging.Info("cleanup sweep reclaimed files",
			zap.Int("count", res.Count), zap.Int64("bytes", res.Bytes))
	}
	return res
}

// Start launches the periodic sweep loop. An immediate sweep catches
// leftovers from a previous crashed run.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return // already running
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	// The goroutine must close the channel it was started with: Stop nils
	// the field, so reading s.done from inside the goroutine would race.
	done := s.done

	s.SweepOnce()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce()
			}
		}
	}()
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// sweepZipBundles deletes stale ZIP export bundles from the temp
// directory. Bulk downloads write them there and rely on this sweep for
// reclamation.
func (s *Sweeper) sweepZipBundles(now time.Time) (int, int64) {
	matches, err := filepath.Glob(filepath.Join(s.tempDir, "*.zip"))
	if err != nil {
		return 0, 0
	}
	return removeOlderThan(matches, now.Add(-zipMaxAge))
}

// sweepTempFiles deletes partial-upload temp files abandoned by crashed or
// client-aborted ingestions. The 1-hour threshold is the sole reclamation
// mechanism for aborted uploads.
func (s *Sweeper) sweepTempFiles(now time.Time) (int, int64) {
	matches, err := filepath.Glob(filepath.Join(s.root, "temp_*"))
	if err != nil {
		return 0, 0
	}
	return removeOlderThan(matches, now.Add(-tempMaxAge))
}

// sweepStagingFiles deletes variant staging files orphaned in shard
// directories by a crash between create and rename.
func (s *Sweeper) sweepStagingFiles(now time.Time) (int, int64) {
	count := 0
	var bytes int64
	for _, dir := range []string{
		string(VariantOriginal), string(VariantThumbnail), string(VariantWeb),
	} {
		matches, err := filepath.Glob(filepath.Join(s.root, dir, "*", "*", ".clientpix-*.tmp"))
		if err != nil {
			continue
		}
		c, b := removeOlderThan(matches, now.Add(-tempMaxAge))
		count += c
		bytes += b
	}
	return count, bytes
}

// sweepSessions removes chunked-upload session directories whose last
// modification is older than a day.
func (s *Sweeper) sweepSessions(now time.Time) (int, int64) {
	entries, err := os.ReadDir(filepath.Join(s.root, chunksDir))
	if err != nil {
		return 0, 0
	}
	cutoff := now.Add(-sessionMaxAge)

	count := 0
	var bytes int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, chunksDir, e.Name())
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		size := dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			logging.Warn("failed to remove stale upload session",
				zap.String("dir", dir), zap.Error(err))
			continue
		}
		count++
		bytes += size
	}
	return count, bytes
}

func removeOlderThan(paths []string, cutoff time.Time) (int, int64) {
	count := 0
	var bytes int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil {
			if !os.IsNotExist(err) {
				logging.Warn("failed to remove stale file",
					zap.String("path", p), zap.Error(err))
			}
			continue
		}
		count++
		bytes += info.Size()
	}
	return count, bytes
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
