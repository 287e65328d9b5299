package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/config"
	"github.com/jerukian123/collab-editor-monaco/pkg/db"
	"github.com/jerukian123/collab-editor-monaco/pkg/handlers"
	"github.com/jerukian123/collab-editor-monaco/pkg/room"
)

// Server wires the registry, durability layer, and HTTP surface together.
type Server struct {
	router   *mux.Router
	registry *room.Registry
	handlers *handlers.Handlers
	store    *db.PostgresStore
	writer   *db.DebouncedWriter
	config   *config.Config
	http     *http.Server
}

// NewServer creates a new server instance. Construction order matters:
// store, then the debounced writer over it, then the registry wired to both.
func NewServer() (*Server, error) {
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := db.NewPostgresStore(cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, err
	}

	writer := db.NewDebouncedWriter(store, cfg.SaveDebounce)
	registry := room.NewRegistry(store, writer, cfg.RoomExpiry, cfg.HistorySize)
	h := handlers.NewHandlers(registry)

	r := mux.NewRouter()
	r.HandleFunc("/ws", h.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := store.Ping(); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Use(corsMiddleware)

	return &Server{
		router:   r,
		registry: registry,
		handlers: h,
		store:    store,
		writer:   writer,
		config:   cfg,
	}, nil
}

// Start starts the server
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.config.GetServerAddr()
	}
	log.WithField("addr", addr).Info("starting collaborative editor server")
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections, flushes all pending document writes
// synchronously, and closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down")
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.writer.Flush()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// corsMiddleware handles CORS headers and responds to preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
