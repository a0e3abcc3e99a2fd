package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/wayfinder/pkg/engagement"
	"github.com/sanonone/wayfinder/pkg/manifest"
)

// Manifests is the read side of the manifest archive. *editor.Archive
// implements it.
type Manifests interface {
	Venues() ([]string, error)
	Latest(venueID string) (*manifest.Manifest, error)
	LatestRaw(venueID string) (*manifest.Manifest, []byte, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr string
	// AuthToken, when set, is required as a bearer token on every route
	// except /healthz.
	AuthToken       string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// Scans and Reports enable the analytics upload routes under
	// /events/{eventID}. Either may be nil.
	Scans   *engagement.ScanLogger
	Reports engagement.Reporter
}

// Server distributes published manifests and answers route queries
// against them. It never edits a venue.
type Server struct {
	manifests Manifests
	authToken string
	log       *slog.Logger
	timeout   time.Duration
	scans     *engagement.ScanLogger
	reports   engagement.Reporter

	handler    http.Handler
	httpServer *http.Server
}

// NewServer builds the router. Call Run to listen.
func NewServer(m Manifests, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		manifests: m,
		authToken: opts.AuthToken,
		log:       opts.Logger,
		timeout:   opts.ShutdownTimeout,
		scans:     opts.Scans,
		reports:   opts.Reports,
	}

	r := chi.NewRouter()
	// Recovery must be outer-most to catch everything.
	r.Use(s.RecoveryMiddleware)
	r.Use(s.LoggingMiddleware)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Handle("/metrics", promhttp.Handler())
		r.Get("/schema", s.handleSchema)
		r.Get("/venues", s.handleListVenues)

		r.Route("/venues/{venueID}", func(r chi.Router) {
			r.Get("/manifest", s.handleGetManifest)
			r.Post("/route", s.handleRoute)
			r.Get("/anchors/{anchorID}", s.handleResolveAnchor)
		})

		if s.scans != nil {
			r.Post("/events/{eventID}/scans", s.handleRecordScan)
		}
		if s.reports != nil {
			r.Post("/events/{eventID}/reports", s.handleDeliverReport)
		}
	})

	s.handler = r
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr, "auth", s.authToken != "")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	s.log.Info("starting graceful shutdown of HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown error", "error", err)
		return err
	}
	return nil
}
