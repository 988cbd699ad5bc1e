// Package api exposes the job runner over HTTP.
//
// Routes:
//
//	POST   /v1/jobs/transcription   multipart: file, language, task, format
//	POST   /v1/jobs/pronunciation   multipart: file, reference_text, language, format
//	GET    /v1/jobs/{id}            job view
//	DELETE /v1/jobs/{id}            remove a job
//	GET    /v1/jobs/{id}/events     websocket stream of job views
//	GET    /healthz, /readyz        probes
//	GET    /metrics                 Prometheus exposition
//
// Every error response is a JSON object with a single "error" field.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/job"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Defaults for [Config] zero values.
const (
	DefaultMaxUploadBytes = 64 << 20
	DefaultPollInterval   = 250 * time.Millisecond
)

// multipartMemory is the part of an upload kept in memory before the
// multipart reader spills to disk.
const multipartMemory = 8 << 20

// Jobs is the part of [job.Runner] the API needs.
type Jobs interface {
	Submit(ctx context.Context, kind job.Kind, p job.Params) (string, error)
	Poll(ctx context.Context, id string) (job.View, error)
	Delete(ctx context.Context, id string) bool
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Jobs is required.
	Jobs Jobs
	// UploadDir receives uploaded files. Default os.TempDir()/vocalis.
	UploadDir string
	// MaxUploadBytes caps a request body. Default 64 MiB.
	MaxUploadBytes int64
	// PollInterval is how often the events stream checks for changes.
	PollInterval time.Duration
	// Health serves /healthz and /readyz when set.
	Health *health.Handler
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Metrics records HTTP request durations. Default observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Server is the HTTP front end of the job runner.
type Server struct {
	jobs         Jobs
	uploadDir    string
	maxUpload    int64
	pollInterval time.Duration
	handler      http.Handler
}

// New returns a Server. It creates the upload directory.
func New(cfg Config) (*Server, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("api: jobs must not be nil")
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "vocalis")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("api: create upload dir: %w", err)
	}

	s := &Server{
		jobs:         cfg.Jobs,
		uploadDir:    cfg.UploadDir,
		maxUpload:    cfg.MaxUploadBytes,
		pollInterval: cfg.PollInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/transcription", s.handleSubmit(job.KindTranscription))
	mux.HandleFunc("POST /v1/jobs/pronunciation", s.handleSubmit(job.KindPronunciation))
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleDelete)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleEvents)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s, nil
}

// Handler returns the root handler with tracing and metrics applied.
func (s *Server) Handler() http.Handler { return s.handler }

type submitResponse struct {
	JobID string `json:"job_id"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(kind job.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observe.Logger(r.Context())
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		path, contentType, err := s.saveUpload(r)
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				writeError(w, http.StatusBadRequest, "no audio file provided")
				return
			}
			log.Error("api: save upload", "err", err)
			writeError(w, http.StatusInternalServerError, "could not store upload")
			return
		}

		p := job.Params{
			AudioPath:     path,
			Extension:     r.FormValue("format"),
			ContentType:   contentType,
			Language:      strings.TrimSpace(r.FormValue("language")),
			RemoveInput:   true,
			ReferenceText: r.FormValue("reference_text"),
		}
		if kind == job.KindTranscription {
			p.Task = stt.Task(strings.TrimSpace(r.FormValue("task")))
		}

		id, err := s.jobs.Submit(r.Context(), kind, p)
		if err != nil {
			_ = os.Remove(path)
			var verr *job.ValidationError
			switch {
			case errors.As(err, &verr):
				writeError(w, http.StatusBadRequest, verr.Reason)
			case errors.Is(err, job.ErrClosed):
				writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			default:
				log.Error("api: submit", "kind", kind, "err", err)
				writeError(w, http.StatusInternalServerError, "could not create job")
			}
			return
		}
		log.Info("api: job submitted", "job_id", id, "kind", kind)
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: id})
	}
}

// saveUpload copies the "file" part into the upload directory, keeping the
// client's extension, and returns its path and content type. A missing or
// generic content type is sniffed from the stored bytes.
func (s *Server) saveUpload(r *http.Request) (path, contentType string, err error) {
	src, hdr, err := r.FormFile("file")
	if err != nil {
		return "", "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.uploadDir, "upload-*"+safeExt(hdr.Filename))
	if err != nil {
		return "", "", err
	}
	path = dst.Name()
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", "", err
	}

	contentType = hdr.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			contentType = mt.String()
		}
	}
	return path, contentType, nil
}

// safeExt returns the lower-cased extension of name when it is short and
// alphanumeric, else "".
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.jobs.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.jobs.Delete(r.Context(), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true})
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	slog.Error("api: poll", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
