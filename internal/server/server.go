// Package server exposes the resources, the annotation write endpoint, the
// highlight export and the viewer websocket over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/annotation"
	"github.com/Faultbox/scenetag/internal/config"
	"github.com/Faultbox/scenetag/internal/logger"
	"github.com/Faultbox/scenetag/internal/resources"
	"github.com/Faultbox/scenetag/internal/session"
	"github.com/Faultbox/scenetag/internal/storage"
)

// Server serves one models directory.
type Server struct {
	cfg       *config.Config
	resources *resources.Manager
	store     storage.Store
	backend   annotation.Backend
	upgrader  websocket.Upgrader
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session.Session
	wg       sync.WaitGroup
}

// New creates a server. Annotation lists are written to store and
// collections read from res.
func New(cfg *config.Config, res *resources.Manager, store storage.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		resources: res,
		store:     store,
		backend:   &annotation.Local{Resources: res, Storage: store},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // The viewer may be served from another origin
			},
		},
		log:      logger.Named("server"),
		sessions: make(map[string]*session.Session),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /models/{name...}", s.handleResource)
	mux.HandleFunc("POST /api/save-annotation/{name...}", s.handleSave)
	mux.HandleFunc("GET /api/annotations/{name...}", s.handleAnnotations)
	mux.HandleFunc("GET /api/highlight/{name...}", s.handleHighlight)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.cfg.Server.WebDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.Server.WebDir)))
	}
	return s.logRequests(mux)
}

// ListenAndServe serves on the configured address until ctx ends, then
// shuts down and waits for open sessions.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Server.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	s.log.Info("server stopped")
	return err
}

// Close ends every open session and waits for them. Shutdown does not
// reach hijacked websocket connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// SessionCount returns the number of connected viewers.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SessionOptions builds viewer options from cfg.
func SessionOptions(cfg *config.Config) session.Options {
	opts := session.DefaultOptions()
	v := cfg.Viewer
	opts.Width = v.Width
	opts.Height = v.Height
	opts.FovY = v.FOV
	opts.Near = v.Near
	opts.Far = v.Far
	opts.DampingFactor = v.DampingFactor
	opts.TickRate = v.TickRate
	opts.Scene = resources.SceneOptions{
		MaskExt:      cfg.Data.MaskExt,
		GridFallback: v.GridFallback,
		GridSize:     v.GridSize,
	}
	opts.PreviewLimit = cfg.Annotations.PreviewLimit
	opts.NameFragment = cfg.Annotations.NameFragment
	for _, c := range cfg.Annotations.Collections {
		opts.Collections = append(opts.Collections, annotation.Collection{Name: c.Name, Fields: c.Fields})
	}
	return opts
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets the websocket upgrader reach the hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
