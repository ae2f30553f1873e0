// Package api serves the localization engine over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/rssi.locate/internal/fingerprintdb"
	"github.com/banshee-data/rssi.locate/internal/localization"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// History serves recorded location updates. *fingerprintdb.DB implements it.
type History interface {
	RecentLocations(sphereID string, limit int) ([]fingerprintdb.LocationRecord, error)
}

type Server struct {
	engine   *localization.Engine
	callback localization.Callback
	history  History
	scanner  *serialmux.DeviceState
}

// NewServer creates a Server over engine. Sessions started through the API
// deliver their updates to callback, which may be nil.
func NewServer(engine *localization.Engine, callback localization.Callback) *Server {
	return &Server{
		engine:   engine,
		callback: callback,
	}
}

// SetHistory enables /api/location/history.
func (s *Server) SetHistory(h History) { s.history = h }

// SetScanner enables /api/scanner.
func (s *Server) SetScanner(d *serialmux.DeviceState) { s.scanner = d }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/spheres", s.listSpheres)
	mux.HandleFunc("/api/sphere", s.handleSphere)

	mux.HandleFunc("/api/fingerprints", s.handleFingerprints)
	mux.HandleFunc("/api/fingerprints/{sphere}", s.handleSphereFingerprints)
	mux.HandleFunc("/api/fingerprints/{sphere}/{location}", s.handleFingerprint)

	mux.HandleFunc("/api/collection/start", s.startCollection)
	mux.HandleFunc("/api/collection/abort", s.abortCollection)
	mux.HandleFunc("/api/collection/feed", s.feedCollection)
	mux.HandleFunc("/api/collection/sample", s.sampleCollection)
	mux.HandleFunc("/api/collection/finalize", s.finalizeCollection)
	mux.HandleFunc("/api/collection/handles", s.createHandle)
	mux.HandleFunc("/api/collection/handles/{id}", s.handleHandle)

	mux.HandleFunc("/api/track", s.track)
	mux.HandleFunc("/api/localization/start", s.startLocalization)
	mux.HandleFunc("/api/localization/stop", s.stopLocalization)
	mux.HandleFunc("/api/location", s.showLocation)
	mux.HandleFunc("/api/location/history", s.showHistory)

	mux.HandleFunc("/api/scanner", s.showScanner)
	return mux
}

type statusResponse struct {
	localization.Status
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}
