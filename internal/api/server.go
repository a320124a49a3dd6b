package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/bookmarks"
	"github.com/JakeFAU/bookmark-archiver/internal/capture"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
	"github.com/JakeFAU/bookmark-archiver/internal/progress/sinks"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
)

const (
	minRequestTimeout = 60 * time.Second
	readyTimeout      = 2 * time.Second
)

// BadgeReader returns the badge currently shown for a URL.
type BadgeReader interface {
	Badge(url string) (sinks.Badge, bool)
}

// ServiceCatalog lists the remote archiving services that can be selected.
type ServiceCatalog interface {
	Services() []string
}

// Deps are the collaborators behind the routes. Tabs, Badges and Services
// are optional; their routes answer 503 or skip validation without them.
type Deps struct {
	Store     *status.Store
	Capture   *capture.Dispatcher
	Bookmarks *bookmarks.Tree
	Tabs      archive.TabHost
	Badges    BadgeReader
	Services  ServiceCatalog
}

// Server wires HTTP handlers to the archive engine and the host.
type Server struct {
	router    chi.Router
	store     *status.Store
	capture   *capture.Dispatcher
	bookmarks *bookmarks.Tree
	tabs      archive.TabHost
	badges    BadgeReader
	services  ServiceCatalog
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     deps.Store,
		capture:   deps.Capture,
		bookmarks: deps.Bookmarks,
		tabs:      deps.Tabs,
		badges:    deps.Badges,
		services:  deps.Services,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout(cfg)))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/archive", func(r chi.Router) {
			r.Post("/online", s.archiveOnline)
			r.Post("/local", s.archiveLocal)
		})
		r.Get("/records", s.getRecord)
		r.Get("/badge", s.getBadge)
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Route("/tabs", func(r chi.Router) {
			r.Post("/", s.openTab)
			r.Get("/{tab_id}", s.getTab)
			r.Delete("/{tab_id}", s.closeTab)
		})
		r.Route("/bookmarks", func(r chi.Router) {
			r.Post("/", s.createBookmark)
			r.Route("/{bookmark_id}", func(r chi.Router) {
				r.Get("/", s.getBookmark)
				r.Get("/children", s.listChildren)
				r.Patch("/", s.updateBookmark)
				r.Post("/move", s.moveBookmark)
				r.Delete("/", s.removeBookmark)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestTimeout leaves room for a manual capture waiting on page load.
func requestTimeout(cfg config.Config) time.Duration {
	d := cfg.Capture.PageTimeout() + 30*time.Second
	if d < minRequestTimeout {
		return minRequestTimeout
	}
	return d
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.store.Settings(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "status store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
