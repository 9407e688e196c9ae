package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldcal/internal/calendar"
	"fieldcal/internal/config"
	"fieldcal/internal/console"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/refresh"
	"fieldcal/internal/reschedule"
	"fieldcal/internal/tz"
)

// Deps are the collaborators the HTTP surface serves from.
type Deps struct {
	Config    *config.Config
	Store     *calendar.Store
	Converter *tz.Converter
	Layout    *calendar.Layout
	Session   *console.Session
	Inbox     *reschedule.Inbox

	// Refresher is optional; without it /api/refresh returns 503.
	Refresher *refresh.Refresher
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server provides the calendar HTTP API, the HTML resource-day page and
// the preview image.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(d Deps) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Inbox == nil {
		d.Inbox = reschedule.NewInbox(0)
	}
	s := &Server{deps: d, router: chi.NewRouter()}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.deps.Config.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
			return err
		}
		appLog.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) basicAuthEnabled() bool {
	cfg := s.deps.Config
	if cfg == nil || cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean disabled.
	return cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.deps.Config.BasicAuth.Username
	password := s.deps.Config.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="fieldcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/calendar", s.handleCalendarPage)
	r.Get("/preview.png", s.handlePreview)

	r.Route("/api", func(api chi.Router) {
		api.Get("/events", s.handleEvents)
		api.Get("/events.ics", s.handleEventsICS)
		api.Get("/resource-day", s.handleResourceDay)
		api.Get("/summary", s.handleSummary)
		api.Get("/overflow/{day}", s.handleOverflow)
		api.Get("/notices", s.handleNotices)
		api.Post("/refresh", s.handleRefresh)
		api.Post("/reschedule", s.handleDrop)
		api.Get("/reschedule/{token}", s.handleDrag)
		api.Post("/reschedule/{token}/decision", s.handleDecision)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(began).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := ""
	if s.deps.Config != nil {
		path = s.deps.Config.Capture.OutputPath
	}
	if path == "" {
		http.NotFound(w, r)
		return
	}
	// ServeFile maps missing files to 404.
	http.ServeFile(w, r, path)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
