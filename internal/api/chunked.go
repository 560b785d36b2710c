package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
	"github.com/clientpix/clientpix/internal/storage"
)

type sessionResponse struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	TotalSize   int64  `json:"total_size"`
	ChunkSize   int    `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Received    []int  `json:"received"`
	Complete    bool   `json:"complete"`
}

func toSessionResponse(m *storage.SessionMeta) sessionResponse {
	return sessionResponse{
		ID:          m.ID,
		FileName:    m.FileName,
		TotalSize:   m.TotalSize,
		ChunkSize:   m.ChunkSize,
		TotalChunks: m.TotalChunks,
		Received:    m.Received,
		Complete:    m.Complete(),
	}
}

// handleChunkedInit opens a chunked upload session for a large file.
func (s *Server) handleChunkedInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlbumID   string `json:"album_id"`
		FileName  string `json:"file_name"`
		TotalSize int64  `json:"total_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TotalSize > s.config.MaxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
		return
	}

	album, err := s.catalog.GetAlbum(r.Context(), req.AlbumID)
	if err != nil {
		logging.Error("get album", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if album == nil {
		s.sendError(w, http.StatusNotFound, "album not found")
		return
	}

	meta, err := s.sessions.Create(req.AlbumID, req.FileName, req.TotalSize)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	logging.Info("chunked upload started",
		zap.String("session_id", meta.ID),
		zap.String("file", meta.FileName),
		zap.Int("chunks", meta.TotalChunks))
	s.sendJSON(w, http.StatusCreated, toSessionResponse(meta))
}

// handleChunkedPut stores one chunk. Chunks may arrive in any order and
// may be re-sent.
func (s *Server) handleChunkedPut(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}

	if err := s.sessions.PutChunk(sessionID, index, r.Body); err != nil {
		if err == storage.ErrSessionNotFound {
			s.sendError(w, http.StatusNotFound, "upload session not found")
			return
		}
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta, err := s.sessions.Get(sessionID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	s.sendJSON(w, http.StatusOK, toSessionResponse(meta))
}

func (s *Server) handleChunkedStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := s.sessions.Get(r.PathValue("sessionID"))
	if err != nil {
		if err == storage.ErrSessionNotFound {
			s.sendError(w, http.StatusNotFound, "upload session not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	s.sendJSON(w, http.StatusOK, toSessionResponse(meta))
}

// handleChunkedComplete assembles the chunks, runs the result through
// the regular ingestion pipeline, and destroys the session.
func (s *Server) handleChunkedComplete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	reader, meta, err := s.sessions.Assemble(sessionID)
	if err != nil {
		if err == storage.ErrSessionNotFound {
			s.sendError(w, http.StatusNotFound, "upload session not found")
			return
		}
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer reader.Close()

	start := time.Now()
	stored, err := s.store.Ingest(r.Context(), reader, meta.FileName)
	if err != nil {
		metrics.RecordIngest("chunked", 0, time.Since(start), false)
		logging.Error("chunked ingest failed",
			zap.String("session_id", sessionID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	metrics.RecordIngest("chunked", stored.FileSize, time.Since(start), true)
	if stored.IsDuplicate {
		metrics.RecordDuplicate()
	}

	photo, err := s.registerPhoto(r, meta.AlbumID, meta.FileName, stored)
	if err != nil {
		logging.Error("register chunked photo",
			zap.String("session_id", sessionID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database failure")
		return
	}

	if err := s.sessions.Remove(sessionID); err != nil {
		logging.Warn("failed to remove completed session",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	logging.Info("chunked upload completed",
		zap.String("session_id", sessionID),
		zap.String("photo_id", photo.ID),
		zap.Bool("duplicate", stored.IsDuplicate))
	s.sendJSON(w, http.StatusCreated, map[string]any{
		"photo":     photo,
		"duplicate": stored.IsDuplicate,
	})
}

func (s *Server) handleChunkedAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(r.PathValue("sessionID")); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to remove session")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"aborted": true})
}
