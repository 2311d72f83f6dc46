// Package web serves a read-only dashboard over the classification store.
package web

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Options configures the dashboard server.
type Options struct {
	Version string
	Bind    string
	Port    int
	TopN    int
	// Gatherer is exposed on /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

// NewServer creates and configures the HTTP server for the dashboard.
func NewServer(store Reader, opts Options) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Bind, opts.Port),
		Handler:           NewHandler(store, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed handler, wrapped with security headers.
func NewHandler(store Reader, opts Options) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(fmt.Sprintf("template sub-FS: %v", err))
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("static sub-FS: %v", err))
	}

	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	h := &Handlers{
		store:    store,
		renderer: NewRenderer(templateSub, opts.Version, log),
		log:      log,
		topN:     opts.TopN,
		now:      time.Now,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleStats)
	mux.HandleFunc("GET /items", h.HandleItems)
	mux.HandleFunc("GET /api/stats", h.HandleAPIStats)
	mux.HandleFunc("GET /api/items", h.HandleAPIItems)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv until ctx is cancelled, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("listening on http://%s", srv.Addr)

	if strings.HasPrefix(srv.Addr, "0.0.0.0:") || strings.HasPrefix(srv.Addr, "[::]:") || strings.HasPrefix(srv.Addr, ":") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
