package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/analytics"
	"github.com/JakeFAU/signal-scanner/internal/clock/system"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
	"github.com/JakeFAU/signal-scanner/internal/resource"
	"github.com/JakeFAU/signal-scanner/internal/scanner"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

const (
	defaultRecentLimit = 20
	requestTimeout     = 60 * time.Second
)

// Scanner starts background scans.
type Scanner interface {
	Supports(kind signals.DetectionType) bool
	Start(ctx context.Context, kind signals.DetectionType) (string, <-chan signals.ScanReport, error)
}

// Reports exposes finished scan reports.
type Reports interface {
	Recent(limit int) []signals.ScanReport
	Get(id string) (signals.ScanReport, bool)
	Totals(kind signals.DetectionType) analytics.Totals
}

// Resources exposes the egress pool.
type Resources interface {
	Snapshot() []resource.Handle
	ActiveCount() int
	RunHealthProbe(ctx context.Context) resource.ProbeSummary
}

// Options wires the server's collaborators.
type Options struct {
	Scanner   Scanner
	Reports   Reports
	Resources Resources
	Clock     signals.Clock
	// APIKey, when set, is required on every /v1 route.
	APIKey string
	// BaseContext outlives individual requests and bounds background scans.
	BaseContext context.Context
	Logger      *zap.Logger
}

type inflight struct {
	ID        string                `json:"id"`
	Type      signals.DetectionType `json:"type"`
	Status    string                `json:"status"`
	StartedAt time.Time             `json:"started_at"`
	finished  chan struct{}
}

// Server wires HTTP handlers to the scanner, reports and resource pool.
type Server struct {
	router    chi.Router
	scanner   Scanner
	reports   Reports
	resources Resources
	clock     signals.Clock
	baseCtx   context.Context
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]*inflight
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	s := &Server{
		scanner:   opts.Scanner,
		reports:   opts.Reports,
		resources: opts.Resources,
		clock:     opts.Clock,
		baseCtx:   opts.BaseContext,
		logger:    opts.Logger.Named("api"),
		running:   make(map[string]*inflight),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/scans", func(r chi.Router) {
			r.Get("/", s.listScans)
			r.Post("/{type}", s.triggerScan)
			r.Get("/{scan_id}", s.getScan)
		})
		r.Get("/stats", s.stats)
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.listResources)
			r.Post("/probe", s.probeResources)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	kind, err := signals.ParseDetectionType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.scanner.Supports(kind) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no strategy chain configured for %q", kind))
		return
	}
	id, done, err := s.scanner.Start(s.baseCtx, kind)
	switch {
	case errors.Is(err, scanner.ErrScanInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, signals.ErrNoCompanies):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("scan start failed", zap.String("type", string(kind)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scan")
		return
	}

	entry := s.track(id, kind, done)
	s.logger.Info("scan triggered", zap.String("scan_id", id), zap.String("type", string(kind)))

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case <-entry.finished:
			if report, ok := s.reports.Get(id); ok {
				writeJSON(w, http.StatusOK, report)
				return
			}
		case <-r.Context().Done():
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scan_id": id,
		"type":    string(kind),
		"status":  "running",
	})
}

// track records a running scan until its report arrives.
func (s *Server) track(id string, kind signals.DetectionType, done <-chan signals.ScanReport) *inflight {
	entry := &inflight{
		ID:        id,
		Type:      kind,
		Status:    "running",
		StartedAt: s.clock.Now(),
		finished:  make(chan struct{}),
	}
	s.mu.Lock()
	s.running[id] = entry
	s.mu.Unlock()

	go func() {
		for range done {
		}
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		close(entry.finished)
	}()
	return entry
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.mu.Lock()
	running := make([]inflight, 0, len(s.running))
	for _, e := range s.running {
		running = append(running, *e)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"running": running,
		"recent":  s.reports.Recent(limit),
	})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scan_id")
	if report, ok := s.reports.Get(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": reportStatus(report), "report": report})
		return
	}
	s.mu.Lock()
	entry, ok := s.running[id]
	var snapshot inflight
	if ok {
		snapshot = *entry
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func reportStatus(report signals.ScanReport) string {
	if report.Aborted {
		return "aborted"
	}
	return "completed"
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[signals.DetectionType]analytics.Totals{
		signals.DetectionJob:  s.reports.Totals(signals.DetectionJob),
		signals.DetectionHire: s.reports.Totals(signals.DetectionHire),
	})
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	if s.resources == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": 0, "resources": []resource.Handle{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    s.resources.ActiveCount(),
		"resources": s.resources.Snapshot(),
	})
}

func (s *Server) probeResources(w http.ResponseWriter, r *http.Request) {
	if s.resources == nil {
		writeJSON(w, http.StatusOK, resource.ProbeSummary{})
		return
	}
	writeJSON(w, http.StatusOK, s.resources.RunHealthProbe(r.Context()))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
