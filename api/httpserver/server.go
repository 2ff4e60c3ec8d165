package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
)

// RouteRegistrar is implemented by components that serve routes on a
// BaseServer, such as the relayer and the enclave proof service.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HTTPServerConfig configures a BaseServer.
type HTTPServerConfig struct {
	// ListenAddr is the address of the API listener.
	ListenAddr string

	// MetricsAddr is the address of the metrics listener. Empty disables it.
	MetricsAddr string
	// Gatherer is exported on MetricsAddr. Defaults to the default registry.
	Gatherer prometheus.Gatherer

	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain waits before reporting the drain done,
	// so load balancers see the server as not ready.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BaseServer hosts route registrars behind the health, drain and profiling
// endpoints shared by all services.
type BaseServer struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger
	handler http.Handler

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
}

// New creates a BaseServer serving the routes of every registrar.
func New(cfg *HTTPServerConfig, routeRegistrars ...RouteRegistrar) (*BaseServer, error) {
	if cfg == nil {
		return nil, errors.New("httpserver: nil config")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	srv := &BaseServer{cfg: cfg, log: log}
	if cfg.MetricsAddr != "" {
		srv.metricsSrv = metrics.NewServer(cfg.MetricsAddr, cfg.Gatherer)
	}

	srv.handler = srv.createRouter(routeRegistrars)
	srv.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	srv.isReady.Store(true)
	return srv, nil
}

func (srv *BaseServer) createRouter(routeRegistrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	for _, registrar := range routeRegistrars {
		registrar.RegisterRoutes(mux)
	}

	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

// Handler returns the API router.
func (srv *BaseServer) Handler() http.Handler {
	return srv.handler
}

// Ready reports whether the server accepts traffic.
func (srv *BaseServer) Ready() bool {
	return srv.isReady.Load()
}

func (srv *BaseServer) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

func (srv *BaseServer) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

func (srv *BaseServer) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func (srv *BaseServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	srv.log.Info("server marked as not ready")

	go func() {
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("drain period completed")
	}()
	writeStatus(w, http.StatusOK, "draining")
}

func (srv *BaseServer) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	srv.log.Info("server marked as ready")
	writeStatus(w, http.StatusOK, "ready")
}

// RunInBackground starts the API and metrics listeners.
func (srv *BaseServer) RunInBackground() {
	if srv.metricsSrv != nil {
		go func() {
			srv.log.Info("starting metrics server", "metricsAddress", srv.cfg.MetricsAddr)
			if err := srv.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		srv.log.Info("starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

// Shutdown stops both listeners, waiting up to GracefulShutdownDuration for
// each.
func (srv *BaseServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	if srv.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("metrics server gracefully stopped")
		}
	}
}
