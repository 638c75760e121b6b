package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ligustah/ferry/internal/merge"
	"github.com/ligustah/ferry/internal/receiver"
	"github.com/ligustah/ferry/internal/transfer"
)

// Options configures the HTTP server.
type Options struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string

	// MaxChunkSize bounds the chunk payload of one upload request. The
	// request body limit adds room for the other form fields.
	// Default: 64 MiB
	MaxChunkSize int64

	// ReadTimeout and WriteTimeout bound one request.
	// Default: 10m
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Addr:            ":8080",
		MaxChunkSize:    64 << 20,
		ReadTimeout:     10 * time.Minute,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// formOverhead is the body allowance for multipart framing and fields.
const formOverhead = 1 << 20

// memoryLimit is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const memoryLimit = 32 << 20

// Server routes requests to the receiver and the artifact store.
type Server struct {
	receiver  *receiver.Receiver
	artifacts *merge.Engine
	router    *mux.Router
	opts      Options
	logger    *slog.Logger
}

// New returns a Server. Zero option values take their defaults.
func New(rcv *receiver.Receiver, artifacts *merge.Engine, opts Options) *Server {
	def := DefaultOptions()
	if opts.Addr == "" {
		opts.Addr = def.Addr
	}
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = def.MaxChunkSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		receiver:  rcv,
		artifacts: artifacts,
		router:    mux.NewRouter(),
		opts:      opts,
		logger:    opts.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID, s.logRequests)

	s.router.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/uploads/{fileHash}", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/files", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/files/{fileHash}/{filename}", s.handleDownload).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxChunkSize+formOverhead)
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, transfer.Invalid(transfer.FieldChunk, "request exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, transfer.Invalid("", "malformed multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := receiver.ParseForm(r.MultipartForm.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Size > s.opts.MaxChunkSize {
		s.writeError(w, r, transfer.Invalid(transfer.FieldSize, "chunk exceeds %d bytes", s.opts.MaxChunkSize))
		return
	}

	file, _, err := r.FormFile(transfer.FieldChunk)
	if err != nil {
		s.writeError(w, r, transfer.Invalid(transfer.FieldChunk, "required"))
		return
	}
	defer file.Close()

	resp, err := s.receiver.Accept(r.Context(), req, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.receiver.Status(r.Context(), mux.Vars(r)["fileHash"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.artifacts.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []transfer.FileEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	artifact, rd, err := s.artifacts.Open(r.Context(), vars["fileHash"], vars["filename"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rd.Close()

	if ct := rd.ContentType(); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// Artifacts are immutable under their file hash.
	w.Header().Set("ETag", `"`+artifact.FileHash+`"`)
	// ServeContent handles Range, If-Modified-Since and HEAD.
	http.ServeContent(w, r, artifact.Filename, artifact.CreatedAt, rd)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.receiver.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps err onto a status code and an ErrorResponse body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *transfer.ValidationError
		ie *transfer.IntegrityError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, transfer.ErrorResponse{
			Error: ve.Reason,
			Kind:  transfer.KindValidation,
			Field: ve.Field,
		})
	case errors.As(err, &ie):
		resp := transfer.ErrorResponse{
			Error:    ie.Reason,
			Kind:     transfer.KindIntegrity,
			FileHash: ie.FileHash,
		}
		if ie.Index >= 0 {
			idx := ie.Index
			resp.Index = &idx
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, receiver.ErrUnknownSession), errors.Is(err, merge.ErrNotFound):
		writeJSON(w, http.StatusNotFound, transfer.ErrorResponse{
			Error: err.Error(),
			Kind:  transfer.KindNotFound,
		})
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, transfer.ErrorResponse{
			Error: "internal server error",
			Kind:  transfer.KindInternal,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
