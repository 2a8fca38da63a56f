// Package server exposes the narration HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lecternlabs/lectern-core/internal/bus"
	"github.com/lecternlabs/lectern-core/internal/chunkstore"
	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/events"
	"github.com/lecternlabs/lectern-core/internal/jobstore"
	"github.com/lecternlabs/lectern-core/internal/pipeline"
)

// maxUploadBytes caps document uploads at 50 MiB.
const maxUploadBytes = 50 << 20

type Server struct {
	cfg    config.Config
	orch   *pipeline.Orchestrator
	jobs   jobstore.Store
	chunks *chunkstore.Store
	bus    *bus.Client
	log    *slog.Logger
}

func New(cfg config.Config, orch *pipeline.Orchestrator, jobs jobstore.Store, chunks *chunkstore.Store, busClient *bus.Client, log *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		orch:   orch,
		jobs:   jobs,
		chunks: chunks,
		bus:    busClient,
		log:    log.With(slog.String("component", "server")),
	}
}

// Register wires the API routes onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/narrations", s.handleCreate)
	mux.HandleFunc("GET /v1/narrations", s.handleList)
	mux.HandleFunc("GET /v1/narrations/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/narrations/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /v1/narrations/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /v1/narrations/{id}/chunks/{index}", s.handleChunk)
}

// handleCreate accepts a document and streams progress as NDJSON until the
// job reaches a terminal event. The response stays open for the whole
// synthesis; keepalive comment lines cover the quiet stretches.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUpload(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := uuid.NewString()
	job := &jobstore.Job{ID: jobID, Filename: filename, Status: jobstore.StatusPending}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.writeError(w, http.StatusInternalServerError, "create job: "+err.Error())
		return
	}
	if _, err := s.chunks.SaveSource(jobID, data); err != nil {
		s.log.Warn("save source failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Narration-ID", jobID)
	w.WriteHeader(http.StatusOK)

	opts := []events.SinkOption{}
	if f, ok := w.(http.Flusher); ok {
		opts = append(opts, events.WithFlusher(f))
	}
	if s.bus != nil {
		opts = append(opts, events.WithMirror(func(_ events.Type, payload []byte) {
			s.bus.PublishEvent(jobID, payload)
		}))
	}
	sink := events.NewSink(w, s.log, opts...)

	keepalive := time.Duration(s.cfg.Stream.KeepaliveIntervalMS) * time.Millisecond
	stopKeepalive := sink.StartKeepalive(r.Context(), keepalive)
	defer stopKeepalive()

	// A client disconnect cancels the request context and with it the
	// keepalive ticker, but the job itself runs detached so it finishes
	// and stays pollable.
	runCtx := context.WithoutCancel(r.Context())
	if err := s.orch.Run(runCtx, jobID, filename, data, sink); err != nil {
		s.log.Error("narration run failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*jobstore.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"narrations": jobs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "narration not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleEvents replays the journaled progress stream for a job as NDJSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.jobs.Get(r.Context(), id); errors.Is(err, jobstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "narration not found")
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	records, err := s.jobs.ListEvents(r.Context(), id, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, rec := range records {
		w.Write(rec.Payload)
		io.WriteString(w, "\n")
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "narration not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status != jobstore.StatusCompleted {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("narration is %s", job.Status))
		return
	}
	data, err := s.chunks.ReadArtifact(id)
	if errors.Is(err, chunkstore.ErrArtifactNotFound) {
		s.writeError(w, http.StatusNotFound, "audio artifact not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="narration.audio"`)
	w.Write(data)
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}
	data, err := s.chunks.Read(id, index)
	if errors.Is(err, chunkstore.ErrChunkNotFound) {
		s.writeError(w, http.StatusNotFound, "chunk not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// readUpload pulls the document from a multipart "file" field or, failing
// that, the raw request body.
func readUpload(r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("multipart upload missing %q field", "file")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		if len(data) == 0 {
			return "", nil, errors.New("uploaded document is empty")
		}
		return header.Filename, data, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("request body is empty")
	}
	return "document", data, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
