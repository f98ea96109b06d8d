// Package httpapi exposes canvases over HTTP with a chi router.
//
// Writes go through the coordinator; the stream endpoint relays the states
// a notify.Hub receives after every successful append as Server-Sent Events.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// DefaultKeepAlive is the interval between SSE keep-alive comments.
const DefaultKeepAlive = 15 * time.Second

// Canvases is the coordinator surface the handlers use.
type Canvases interface {
	Append(ctx context.Context, aggregateID string, payload canvas.Payload, requestedVersion int64) (coordinator.AppendResult, error)
	AppendRaw(ctx context.Context, aggregateID, eventType string, data []byte, requestedVersion int64) (coordinator.AppendResult, error)
	State(ctx context.Context, aggregateID string) (canvas.CanvasState, error)
	StateAt(ctx context.Context, aggregateID string, version int64) (canvas.CanvasState, error)
	VersionHistory(ctx context.Context, aggregateID string) ([]canvas.VersionInfo, error)
}

// Subscriptions is the fan-out surface the stream handler uses.
// Implemented by notify.Hub.
type Subscriptions interface {
	Subscribe(aggregateID string) (<-chan canvas.CanvasState, func())
}

// Server holds the HTTP handlers.
type Server struct {
	canvases  Canvases
	subs      Subscriptions
	logger    *slog.Logger
	squareIDs func() string
	keepAlive time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSquareIDs sets the generator of square ids minted by the create
// intent. Default: random UUIDs.
func WithSquareIDs(gen func() string) Option {
	return func(s *Server) {
		if gen != nil {
			s.squareIDs = gen
		}
	}
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// New creates a Server. subs may be nil, which disables the stream route.
func New(canvases Canvases, subs Subscriptions, opts ...Option) *Server {
	s := &Server{
		canvases:  canvases,
		subs:      subs,
		logger:    slog.Default(),
		squareIDs: uuid.NewString,
		keepAlive: DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns a router with middleware and every route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)

	r.Route("/canvases/{aggregateID}", func(r chi.Router) {
		r.Post("/events", s.handleAppendEvent)
		r.Post("/squares", s.handleCreateSquare)
		r.Post("/squares/{squareID}/move", s.handleMoveSquare)
		r.Delete("/squares/{squareID}", s.handleDeleteSquare)
		r.Get("/state", s.handleState)
		r.Get("/versions", s.handleVersions)
		if s.subs != nil {
			r.Get("/stream", s.handleStream)
		}
	})
}

// logRequests logs one line per request at the end of it.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
