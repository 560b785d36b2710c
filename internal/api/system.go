package api

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/clientpix/clientpix/internal/logging"
)

// handleStorageStats reports catalog totals plus disk usage of the
// volume backing the storage root.
func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	count, bytes, err := s.catalog.StorageTotals(r.Context())
	if err != nil {
		logging.Error("storage totals", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	var fs unix.Statfs_t
	var diskTotal, diskFree uint64
	if err := unix.Statfs(s.store.Root(), &fs); err == nil {
		diskTotal = fs.Blocks * uint64(fs.Bsize)
		diskFree = fs.Bavail * uint64(fs.Bsize)
	} else {
		logging.Warn("statfs failed", zap.String("root", s.store.Root()), zap.Error(err))
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"tracked_files": count,
		"tracked_bytes": bytes,
		"disk_total":    diskTotal,
		"disk_free":     diskFree,
	})
}

// handleCleanup runs a sweep on demand and reports what it reclaimed.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res := s.sweeper.SweepOnce()
	logging.Info("manual cleanup sweep",
		zap.Int("count", res.Count), zap.Int64("bytes", res.Bytes))
	s.sendJSON(w, http.StatusOK, res)
}
