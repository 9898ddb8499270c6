// Package relay is the event-driven entry point: HTTP notifications
// about files that are ready to move from an origin (or local disk)
// to the destination store.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/feishu"
	"github.com/ppiankov/relaypan/internal/store"
)

// EventFileClosed is the only recording event that triggers an upload;
// every other event type is acknowledged as ignored.
const EventFileClosed = "FileClosed"

// Uploader sends a local file to a destination folder.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, folderToken string) (feishu.Result, error)
}

// Resolver turns relay references into local paths.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
	Local(path string) (string, error)
	Configured() bool
}

// Server handles the batch and single-event relay routes. Each request
// runs on its own handler goroutine; the only shared mutable state
// lives inside the uploader's token cache.
type Server struct {
	resolver Resolver
	uploader Uploader
	folder   string
	store    *store.Store
	mux      *http.ServeMux
	log      zerolog.Logger
}

// NewServer wires the two relay routes. resolver and uploader may be
// nil when unconfigured; the affected routes then fail fast with a
// configuration error.
func NewServer(resolver Resolver, uploader Uploader, folder string, st *store.Store, log zerolog.Logger) *Server {
	s := &Server{
		resolver: resolver,
		uploader: uploader,
		folder:   folder,
		store:    st,
		log:      log,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /baidu_event", s.handleBatch)
	s.mux.HandleFunc("POST /bilibili_event", s.handleSingle)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type batchRequest struct {
	Files []string `json:"files"`
}

// BatchResult is one per-reference outcome; every submitted reference
// yields exactly one.
type BatchResult struct {
	File    string `json:"file"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type batchResponse struct {
	Results []BatchResult `json:"results"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.log.Info().Int("files", len(req.Files)).Msg("batch event received")

	// Prerequisite clients missing means no partial progress is
	// possible; fail the whole batch before any per-item attempt.
	if s.resolver == nil || !s.resolver.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "origin client not configured"})
		return
	}
	if s.uploader == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "destination client not configured"})
		return
	}

	results := make([]BatchResult, 0, len(req.Files))
	for _, ref := range req.Files {
		if err := s.relayOne(r.Context(), ref); err != nil {
			s.log.Error().Err(err).Str("file", ref).Msg("relay failed")
			results = append(results, BatchResult{File: ref, Status: "error", Message: err.Error()})
			s.recordPull(r.Context(), ref, err)
			continue
		}
		results = append(results, BatchResult{File: ref, Status: "success"})
		s.recordPull(r.Context(), ref, nil)
	}

	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// RelayLocal uploads an already-local file through the same recorded
// upload path the webhook routes use. Watcher-settled recordings come
// in here so they leave the same audit trail as webhook events.
func (s *Server) RelayLocal(ctx context.Context, path string) (feishu.Result, error) {
	if s.uploader == nil {
		return feishu.Result{}, errors.New("destination client not configured")
	}
	res, err := s.uploader.UploadFile(ctx, path, s.folder)
	s.recordPull(ctx, path, err)
	return res, err
}

// relayOne resolves one reference, uploads it, and removes the local
// transient copy on success. The resolved file is working storage, not
// the archive.
func (s *Server) relayOne(ctx context.Context, ref string) error {
	local, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := s.uploader.UploadFile(ctx, local, s.folder); err != nil {
		return err
	}
	if err := os.Remove(local); err != nil {
		s.log.Warn().Err(err).Str("path", local).Msg("cleanup failed")
	}
	return nil
}

type singleRequest struct {
	EventType string `json:"EventType"`
	EventData struct {
		Path string `json:"Path"`
	} `json:"EventData"`
}

func (s *Server) handleSingle(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.log.Info().Str("event", req.EventType).Msg("recorder event received")

	if req.EventType != EventFileClosed {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	path := req.EventData.Path
	local := path
	if s.resolver != nil {
		var err error
		local, err = s.resolver.Local(path)
		if err != nil {
			s.log.Warn().Str("path", path).Msg("file missing or invalid, ignoring")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
	} else if !fileExists(path) {
		s.log.Warn().Str("path", path).Msg("file missing or invalid, ignoring")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if s.uploader == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "destination client not configured"})
		return
	}

	res, err := s.uploader.UploadFile(r.Context(), local, s.folder)
	s.recordPull(r.Context(), local, err)
	if err != nil {
		s.log.Error().Err(err).Str("path", local).Msg("upload failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"feishu_res": res,
	})
}

func (s *Server) recordPull(ctx context.Context, reference string, relayErr error) {
	if s.store == nil {
		return
	}
	in := store.TransferInput{
		Reference: reference,
		Direction: store.DirectionPull,
		Status:    "success",
	}
	if relayErr != nil {
		in.Status = "error"
		in.Message = relayErr.Error()
	}
	if err := s.store.RecordTransfer(ctx, in); err != nil {
		s.log.Error().Err(err).Str("reference", reference).Msg("record transfer failed")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
