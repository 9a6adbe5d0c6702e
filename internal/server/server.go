// Package server exposes sessions over HTTP. Clients drive a session with
// JSON requests and read its directives from a server-sent event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/session"
)

// Index answers bounding box lookups for the drops listing.
type Index interface {
	InBBox(ctx context.Context, box model.BBox, limit int) ([]model.GeoEntry, error)
}

// Config tunes the HTTP API.
type Config struct {
	AllowedOrigins  []string
	MaxUploadBytes  int64
	ThumbnailSize   int
	MaxSourcePixels int
	Heartbeat       time.Duration
	DropsLimit      int
	RequestTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.DropsLimit <= 0 {
		c.DropsLimit = 500
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return c
}

// Server holds the HTTP handlers.
type Server struct {
	sessions *session.Manager
	index    Index
	cfg      Config
	log      *zap.Logger
}

// New creates a server over the session manager and index.
func New(sessions *session.Manager, index Index, cfg Config) *Server {
	return &Server{
		sessions: sessions,
		index:    index,
		cfg:      cfg.withDefaults(),
		log:      zap.L().With(zap.String("component", "server")),
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/drops", s.timeout(s.handleListDrops))
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			// The event stream is long lived and stays outside the timeout.
			r.Get("/events", s.handleEvents)
			r.Get("/state", s.timeout(s.handleState))
			r.Post("/authorization", s.timeout(s.handleAuthorization))
			r.Post("/location", s.timeout(s.handleLocation))
			r.Post("/drop", s.timeout(s.handleDrop))
			r.Post("/decision", s.timeout(s.handleDecision))
			r.Post("/photo", s.timeout(s.handlePhoto))
			r.Post("/picker/cancel", s.timeout(s.handlePickerCancel))
			r.Post("/dismiss", s.timeout(s.handleDismiss))
		})
	})
	return r
}

// timeout bounds how long a handler may wait on a session loop.
func (s *Server) timeout(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		h(w, r.WithContext(ctx))
	}
}

func (s *Server) session(r *http.Request) (*session.Session, error) {
	return s.sessions.Get(chi.URLParam(r, "id"))
}
