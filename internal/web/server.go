// Package web serves the HTTP control API, the status page and metrics.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sweeney/radio-alarm/internal/control"
	xlog "github.com/sweeney/radio-alarm/internal/log"
	"github.com/sweeney/radio-alarm/internal/playlist"
)

// ControlRateLimit is the per-client request budget for control endpoints.
const ControlRateLimit = 600

// Server serves the control API over HTTP.
type Server struct {
	httpServer *http.Server
	machine    control.Machine
	stations   *playlist.Store
	logger     zerolog.Logger
}

// New creates a Server that submits intents to m.
func New(addr string, m control.Machine, stations *playlist.Store) *Server {
	s := &Server{
		machine:  m,
		stations: stations,
		logger:   xlog.WithComponent("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(xlog.Middleware())
	r.Use(cors)

	r.Get("/", s.handleHelp)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleStatus)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleHelp)
		r.Get("/status", s.handleStatus)
		r.Get("/info", s.handleInfo)
		r.Get("/stations", s.handleStations)
		r.Get("/alarms", s.handleAlarms)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(ControlRateLimit, time.Minute))

			r.Get("/play", s.handlePlay)
			r.Get("/stop", s.handleStop)
			r.Get("/pause", s.handlePause)
			r.Get("/next", s.handleNext)
			r.Get("/prev", s.handlePrev)
			r.Get("/volume", s.handleVolume)
			r.Post("/volume", s.handleVolume)
			r.Get("/station", s.handleStation)
			r.Post("/station", s.handleStation)
			r.Post("/alarms", s.handleSetAlarm)
			r.Delete("/alarms/{id}", s.handleDeleteAlarm)
			r.Get("/alarm/snooze", s.handleSnooze)
			r.Post("/alarm/snooze", s.handleSnooze)
			r.Get("/alarm/dismiss", s.handleDismiss)
			r.Post("/alarm/dismiss", s.handleDismiss)
			r.Post("/reload", s.handleReload)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorJSON{Error: "not_found", Detail: "endpoint not found: " + r.URL.Path})
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Run serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()
	s.logger.Info().Str(xlog.FieldEvent, "http.listening").Str("addr", ln.Addr().String()).Msg("control API listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	if serr := <-errc; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		return serr
	}
	return err
}

// cors allows browser clients on other origins, as the API always has.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
