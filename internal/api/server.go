// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clientpix/clientpix/internal/auth"
	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/config"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
	"github.com/clientpix/clientpix/internal/ratelimit"
	"github.com/clientpix/clientpix/internal/storage"
)

// Server is the HTTP server.
type Server struct {
	catalog  *catalog.Store
	store    *storage.Store
	sessions *storage.SessionStore
	sweeper  *storage.Sweeper
	auth     *auth.Auth
	config   *config.Config
	limiter  *ratelimit.Limiter
}

// NewServer creates a new server.
func NewServer(
	cat *catalog.Store,
	store *storage.Store,
	sessions *storage.SessionStore,
	sweeper *storage.Sweeper,
	authHandler *auth.Auth,
	cfg *config.Config,
) *Server {
	return &Server{
		catalog:  cat,
		store:    store,
		sessions: sessions,
		sweeper:  sweeper,
		auth:     authHandler,
		config:   cfg,
		limiter:  ratelimit.New(),
	}
}

// Handler returns the HTTP handler with auth, CORS, logging, and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/2fa/verify", s.handle2FAVerify)

	// Public share link endpoints (no auth; password checked per link)
	mux.HandleFunc("GET /api/v1/shared/{token}", s.handleSharedAlbum)
	mux.HandleFunc("POST /api/v1/shared/{token}/verify", s.handleSharedVerify)
	mux.HandleFunc("GET /api/v1/shared/{token}/files/{photoID}", s.handleSharedFile)
	mux.HandleFunc("GET /api/v1/shared/{token}/download", s.handleSharedDownload)

	// Protected endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/v1/auth/me", s.handleMe)
	protected.HandleFunc("POST /api/v1/auth/2fa/setup", s.handle2FASetup)
	protected.HandleFunc("POST /api/v1/auth/2fa/enable", s.handle2FAEnable)
	protected.HandleFunc("POST /api/v1/auth/2fa/disable", s.handle2FADisable)
	protected.HandleFunc("POST /api/v1/auth/2fa/backup-codes", s.handle2FABackupCodes)

	// Albums
	protected.HandleFunc("GET /api/v1/albums", s.handleListAlbums)
	protected.HandleFunc("POST /api/v1/albums", s.handleCreateAlbum)
	protected.HandleFunc("GET /api/v1/albums/{albumID}", s.handleGetAlbum)
	protected.HandleFunc("PUT /api/v1/albums/{albumID}", s.handleUpdateAlbum)
	protected.HandleFunc("DELETE /api/v1/albums/{albumID}", s.handleDeleteAlbum)
	protected.HandleFunc("GET /api/v1/albums/{albumID}/download", s.handleAlbumDownload)

	// Photos and uploads
	protected.HandleFunc("POST /api/v1/albums/{albumID}/photos", s.handleUpload)
	protected.HandleFunc("PUT /api/v1/photos/{photoID}", s.handleUpdatePhoto)
	protected.HandleFunc("DELETE /api/v1/photos/{photoID}", s.handleDeletePhoto)
	protected.HandleFunc("GET /api/v1/photos/{photoID}/download", s.handlePhotoDownload)

	// File serving
	protected.HandleFunc("GET /api/v1/files/{photoID}", s.handleFile)

	// Chunked uploads
	protected.HandleFunc("POST /api/v1/uploads/chunked", s.handleChunkedInit)
	protected.HandleFunc("PUT /api/v1/uploads/chunked/{sessionID}/{index}", s.handleChunkedPut)
	protected.HandleFunc("GET /api/v1/uploads/chunked/{sessionID}", s.handleChunkedStatus)
	protected.HandleFunc("POST /api/v1/uploads/chunked/{sessionID}/complete", s.handleChunkedComplete)
	protected.HandleFunc("DELETE /api/v1/uploads/chunked/{sessionID}", s.handleChunkedAbort)

	// Share link management
	protected.HandleFunc("GET /api/v1/albums/{albumID}/shares", s.handleListShareLinks)
	protected.HandleFunc("POST /api/v1/albums/{albumID}/shares", s.handleCreateShareLink)
	protected.HandleFunc("DELETE /api/v1/shares/{shareID}", s.handleRevokeShareLink)

	// System
	protected.HandleFunc("GET /api/v1/system/storage", s.handleStorageStats)
	protected.HandleFunc("POST /api/v1/system/cleanup", s.handleCleanup)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(s.corsMiddleware(mux)))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, errorResponse{Error: message, Code: code})
}

// throttle enforces the per-client credential attempt limit. Returns
// false after writing a 429 when the client has exhausted its budget.
func (s *Server) throttle(w http.ResponseWriter, r *http.Request) bool {
	rpm := s.config.AuthRateLimit
	key := clientKey(r)
	if s.limiter.Allow(key, rpm) {
		return true
	}
	metrics.RecordRateLimitHit()
	w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter(key, rpm)))
	s.sendError(w, http.StatusTooManyRequests, "too many attempts")
	return false
}

// PruneLimiter drops rate limiter state for clients idle longer than an
// hour. Called periodically so the bucket map cannot grow unbounded.
func (s *Server) PruneLimiter() {
	s.limiter.Cleanup(time.Hour)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Share-Password")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	allowed := s.config.AllowedOrigins
	if allowed == "*" {
		return true
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}
