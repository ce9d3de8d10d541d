// Package api exposes the HTTP surface of the processing service: job
// submission and lifecycle, profile and workflow management, uploads, and
// operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"video-batch-processor/internal/config"
	"video-batch-processor/internal/dispatch"
	"video-batch-processor/internal/models"
	"video-batch-processor/internal/ratelimit"
	"video-batch-processor/internal/store"
	"video-batch-processor/internal/telemetry"
	"video-batch-processor/internal/video"
)

// Prober inspects media files. Satisfied by video.Processor.
type Prober interface {
	Probe(ctx context.Context, path string) (*video.Info, error)
}

// Server wires the HTTP handlers for the processing API.
type Server struct {
	cfg        config.Config
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	library    *config.Library
	limiter    *ratelimit.TokenBucket
	prober     Prober
	logger     *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, disp *dispatch.Dispatcher, lib *config.Library, limiter *ratelimit.TokenBucket, prober Prober, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: disp,
		library:    lib,
		limiter:    limiter,
		prober:     prober,
		logger:     logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleRoot)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.With(s.rateLimit).Post("/", s.handleSubmit)
		r.With(s.rateLimit).Post("/profile", s.handleSubmitProfile)
		r.With(s.rateLimit).Post("/workflow", s.handleSubmitWorkflow)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Delete("/{id}", s.handleDelete)
		r.Get("/{id}/download", s.handleDownload)
		r.Get("/{id}/probe", s.handleProbe)
	})

	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", s.handleListProfiles)
		r.Get("/{name}", s.handleGetProfile)
		r.Post("/", s.handleCreateProfile)
	})

	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.handleListWorkflows)
		r.Get("/{name}", s.handleGetWorkflow)
	})

	r.With(s.rateLimit).Post("/upload", s.handleUpload)
	r.Get("/stats", s.handleStats)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "video-batch-processor",
		"version":    "1.0.0",
		"operations": video.Operations(),
	})
}

type submitRequest struct {
	Operation  string         `json:"operation"`
	InputFile  string         `json:"input_file"`
	InputFiles []string       `json:"input_files"`
	OutputFile string         `json:"output_file"`
	Parameters map[string]any `json:"parameters"`
}

type submitResponse struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.submit(w, req)
}

func (s *Server) submit(w http.ResponseWriter, req submitRequest) {
	if req.Operation == "" {
		http.Error(w, "operation is required", http.StatusBadRequest)
		return
	}
	if !video.Supported(req.Operation) {
		http.Error(w, fmt.Sprintf("unsupported operation %q", req.Operation), http.StatusBadRequest)
		return
	}
	params, err := s.buildParameters(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.dispatcher.Submit(req.Operation, params)
	if err != nil {
		if errors.Is(err, dispatch.ErrStopped) {
			http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status})
}

// buildParameters merges the request parameters with the resolved input and
// output paths, under the keys the processor reads.
func (s *Server) buildParameters(req submitRequest) (map[string]any, error) {
	params := make(map[string]any, len(req.Parameters)+2)
	for k, v := range req.Parameters {
		params[k] = v
	}

	if req.Operation == video.OpConcatenate {
		if len(req.InputFiles) == 0 {
			return nil, errors.New("input_files is required")
		}
		inputs := make([]string, len(req.InputFiles))
		for i, in := range req.InputFiles {
			path, err := s.resolveInput(in)
			if err != nil {
				return nil, err
			}
			inputs[i] = path
		}
		params["inputs"] = inputs
	} else {
		if req.InputFile == "" {
			return nil, errors.New("input_file is required")
		}
		path, err := s.resolveInput(req.InputFile)
		if err != nil {
			return nil, err
		}
		params["input"] = path
	}

	if req.OutputFile != "" {
		out := req.OutputFile
		if !filepath.IsAbs(out) {
			out = filepath.Join(s.cfg.OutputDir, out)
		}
		params["output"] = out
	}
	return params, nil
}

// resolveInput maps a relative name into the input dir and checks the file
// exists, so a bad path fails the request instead of the job.
func (s *Server) resolveInput(name string) (string, error) {
	if name == "" {
		return "", errors.New("input file name is empty")
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.cfg.InputDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("input file %s not found", name)
	}
	return path, nil
}

type profileJobRequest struct {
	Profile    string   `json:"profile"`
	InputFile  string   `json:"input_file"`
	InputFiles []string `json:"input_files"`
	OutputFile string   `json:"output_file"`
}

func (s *Server) handleSubmitProfile(w http.ResponseWriter, r *http.Request) {
	var req profileJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	profile, ok := s.library.Profile(req.Profile)
	if !ok {
		http.Error(w, fmt.Sprintf("profile %q not found", req.Profile), http.StatusNotFound)
		return
	}
	s.submit(w, submitRequest{
		Operation:  profile.Operation,
		InputFile:  req.InputFile,
		InputFiles: req.InputFiles,
		OutputFile: req.OutputFile,
		Parameters: profile.Parameters,
	})
}

type workflowJobRequest struct {
	Workflow  string `json:"workflow"`
	InputFile string `json:"input_file"`
}

type workflowJobResponse struct {
	Workflow string           `json:"workflow"`
	Jobs     []submitResponse `json:"jobs"`
}

// handleSubmitWorkflow fans a workflow out into one job per step, all against
// the same input. Steps naming unknown profiles are skipped.
func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	workflow, ok := s.library.Workflow(req.Workflow)
	if !ok {
		http.Error(w, fmt.Sprintf("workflow %q not found", req.Workflow), http.StatusNotFound)
		return
	}

	resp := workflowJobResponse{Workflow: req.Workflow, Jobs: []submitResponse{}}
	for _, step := range workflow.Jobs {
		profile, ok := s.library.Profile(step.Profile)
		if !ok {
			s.logger.Warn("workflow step skipped, profile not found", "workflow", req.Workflow, "profile", step.Profile)
			continue
		}
		params, err := s.buildParameters(submitRequest{
			Operation:  profile.Operation,
			InputFile:  req.InputFile,
			Parameters: profile.Parameters,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		job, err := s.dispatcher.Submit(profile.Operation, params)
		if err != nil {
			if errors.Is(err, dispatch.ErrStopped) {
				http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Jobs = append(resp.Jobs, submitResponse{JobID: job.ID, Status: job.Status})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var filter *models.Status
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseStatus(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = &status
	}
	jobs := s.store.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.dispatcher.Cancel(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
	case errors.Is(err, dispatch.ErrAlreadyTerminal):
		writeJSON(w, http.StatusOK, map[string]any{
			"job":       job,
			"cancelled": false,
			"note":      "job already finished",
		})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"job": job, "cancelled": true})
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.dispatcher.Delete(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
	case errors.Is(err, store.ErrProcessing):
		http.Error(w, "job is processing, cancel it first", http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if job.Status != models.StatusCompleted || job.Result == nil {
		http.Error(w, "job is not completed", http.StatusConflict)
		return
	}
	path := job.Result.OutputPath
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	input, _ := job.Parameters["input"].(string)
	if input == "" {
		http.Error(w, "job has no single input file", http.StatusConflict)
		return
	}
	info, err := s.prober.Probe(r.Context(), input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profiles": s.library.Profiles()})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	profile, ok := s.library.Profile(name)
	if !ok {
		http.Error(w, fmt.Sprintf("profile %q not found", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type createProfileRequest struct {
	Name        string         `json:"name"`
	Operation   string         `json:"operation"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if !video.Supported(req.Operation) {
		http.Error(w, fmt.Sprintf("unsupported operation %q", req.Operation), http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		req.Description = "Custom profile"
	}
	err := s.library.AddProfile(req.Name, config.Profile{
		Operation:   req.Operation,
		Description: req.Description,
		Parameters:  req.Parameters,
	})
	if err != nil {
		s.logger.Error("persist profile", "error", err)
		http.Error(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "name": req.Name})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": s.library.Workflows()})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	workflow, ok := s.library.Workflow(name)
	if !ok {
		http.Error(w, fmt.Sprintf("workflow %q not found", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(s.cfg.InputDir, 0o755); err != nil {
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	path := filepath.Join(s.cfg.InputDir, name)
	dst, err := os.Create(path)
	if err != nil {
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(path)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	s.logger.Info("file uploaded", "filename", name, "size", size)
	writeJSON(w, http.StatusCreated, map[string]any{"filename": name, "path": path, "size": size})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.dispatcher.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs":     s.store.Len(),
		"status_counts":  s.store.CountByStatus(),
		"queue_size":     stats.QueueDepth,
		"active_workers": stats.Active,
		"max_workers":    stats.Workers,
		"profiles":       len(s.library.Profiles()),
		"workflows":      len(s.library.Workflows()),
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
