package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/analytics"
	"github.com/JakeFAU/signal-scanner/internal/resource"
	"github.com/JakeFAU/signal-scanner/internal/scanner"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

type fakeScanner struct {
	mu       sync.Mutex
	kinds    map[signals.DetectionType]bool
	err      error
	recorder *analytics.Recorder
	release  chan struct{}
	started  []signals.DetectionType
}

func newFakeScanner(recorder *analytics.Recorder) *fakeScanner {
	return &fakeScanner{
		kinds:    map[signals.DetectionType]bool{signals.DetectionJob: true, signals.DetectionHire: true},
		recorder: recorder,
	}
}

func (f *fakeScanner) Supports(kind signals.DetectionType) bool {
	return f.kinds[kind]
}

func (f *fakeScanner) Start(_ context.Context, kind signals.DetectionType) (string, <-chan signals.ScanReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.started = append(f.started, kind)
	id := "scan-" + string(kind)
	done := make(chan signals.ScanReport, 1)
	release := f.release
	go func() {
		if release != nil {
			<-release
		}
		report := signals.ScanReport{ID: id, Type: kind, CompaniesProcessed: 2, EventsEmitted: 1}
		f.recorder.Record(report)
		done <- report
		close(done)
	}()
	return id, done, nil
}

type fakeResources struct {
	handles []resource.Handle
	probes  int
}

func (f *fakeResources) Snapshot() []resource.Handle { return f.handles }

func (f *fakeResources) ActiveCount() int {
	n := 0
	for _, h := range f.handles {
		if h.Active {
			n++
		}
	}
	return n
}

func (f *fakeResources) RunHealthProbe(context.Context) resource.ProbeSummary {
	f.probes++
	return resource.ProbeSummary{Probed: len(f.handles), Healthy: f.ActiveCount()}
}

func newTestServer(t *testing.T, sc *fakeScanner, rec *analytics.Recorder, apiKey string) *Server {
	t.Helper()
	return NewServer(Options{
		Scanner: sc,
		Reports: rec,
		Resources: &fakeResources{handles: []resource.Handle{
			{ID: "proxy-1:8080", Host: "proxy-1", Port: 8080, Protocol: "http", Active: true},
			{ID: "proxy-2:1080", Host: "proxy-2", Port: 1080, Protocol: "socks5"},
		}},
		APIKey: apiKey,
		Logger: zap.NewNop(),
	})
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestTriggerScanAccepted(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	sc := newFakeScanner(reports)
	sc.release = make(chan struct{})
	srv := newTestServer(t, sc, reports, "")

	rec := serve(srv, http.MethodPost, "/v1/scans/job")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "scan-job", body["scan_id"])
	require.Equal(t, "running", body["status"])

	rec = serve(srv, http.MethodGet, "/v1/scans/scan-job")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = serve(srv, http.MethodGet, "/v1/scans/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scan-job")

	close(sc.release)
	require.Eventually(t, func() bool {
		rec := serve(srv, http.MethodGet, "/v1/scans/scan-job")
		return strings.Contains(rec.Body.String(), `"status":"completed"`)
	}, time.Second, 10*time.Millisecond)
}

func TestTriggerScanWait(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodPost, "/v1/scans/hire?wait=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var report signals.ScanReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "scan-hire", report.ID)
	require.Equal(t, signals.DetectionHire, report.Type)
	require.Equal(t, 1, report.EventsEmitted)
}

func TestTriggerScanErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		err    error
		kinds  map[signals.DetectionType]bool
		status int
	}{
		{name: "unknown type", path: "/v1/scans/funding", status: http.StatusBadRequest},
		{
			name:   "unsupported type",
			path:   "/v1/scans/hire",
			kinds:  map[signals.DetectionType]bool{signals.DetectionJob: true},
			status: http.StatusNotFound,
		},
		{name: "in progress", path: "/v1/scans/job", err: scanner.ErrScanInProgress, status: http.StatusConflict},
		{name: "no companies", path: "/v1/scans/job", err: signals.ErrNoCompanies, status: http.StatusUnprocessableEntity},
		{name: "store failure", path: "/v1/scans/job", err: errors.New("db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reports := analytics.NewRecorder(10)
			sc := newFakeScanner(reports)
			sc.err = tt.err
			if tt.kinds != nil {
				sc.kinds = tt.kinds
			}
			srv := newTestServer(t, sc, reports, "")

			rec := serve(srv, http.MethodPost, tt.path)
			require.Equal(t, tt.status, rec.Code)
			require.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetScanNotFound(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodGet, "/v1/scans/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetScanReportsAborted(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	reports.Record(signals.ScanReport{ID: "old", Type: signals.DetectionJob, Aborted: true})
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodGet, "/v1/scans/old")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"aborted"`)
}

func TestListScansRejectsBadLimit(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodGet, "/v1/scans/?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	reports.Record(signals.ScanReport{ID: "a", Type: signals.DetectionJob, EventsEmitted: 3})
	reports.Record(signals.ScanReport{ID: "b", Type: signals.DetectionJob, EventsEmitted: 2})
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]analytics.Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body["job"].Scans)
	require.Equal(t, 5, body["job"].EventsEmitted)
	require.Zero(t, body["hire"].Scans)
}

func TestResourcesEndpoints(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodGet, "/v1/resources/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"active":1`)
	require.Contains(t, rec.Body.String(), "proxy-2:1080")
	require.NotContains(t, rec.Body.String(), "password")

	rec = serve(srv, http.MethodPost, "/v1/resources/probe")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary resource.ProbeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 2, summary.Probed)
	require.Equal(t, 1, summary.Healthy)
}

func TestResourcesWithoutPool(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := NewServer(Options{Scanner: newFakeScanner(reports), Reports: reports})

	rec := serve(srv, http.MethodGet, "/v1/resources/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"active":0`)
}

func TestAPIKeyRequiredOnV1(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "secret")

	rec := serve(srv, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodGet, "/v1/stats?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	rec := serve(srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	bare := NewServer(Options{Reports: reports})
	rec = serve(bare, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reports := analytics.NewRecorder(10)
	srv := newTestServer(t, newFakeScanner(reports), reports, "")

	_ = serve(srv, http.MethodGet, "/healthz")
	rec := serve(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
