// Package server exposes quickjot over HTTP: a JSON message endpoint, a
// WebSocket chat channel, plugin management and the usual health and
// metrics surfaces.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quickjot/quickjot/config"
	"github.com/quickjot/quickjot/internal/metrics"
	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/router"
	"github.com/quickjot/quickjot/types"
)

// Server is the HTTP/WebSocket gateway in front of the router.
type Server struct {
	router    *router.Router
	manager   *plugin.Manager
	cfg       config.ServerConfig
	auth      config.AuthConfig
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	logger    *zap.Logger

	httpServer *http.Server
}

// Options carries the server's collaborators. Collector and Gatherer may be
// nil; Gatherer defaults to the prometheus default registry.
type Options struct {
	Router    *router.Router
	Manager   *plugin.Manager
	Server    config.ServerConfig
	Auth      config.AuthConfig
	Collector *metrics.Collector
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// New assembles the gateway. ctx bounds background goroutines such as the
// rate limiter cleanup.
func New(ctx context.Context, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:    opts.Router,
		manager:   opts.Manager,
		cfg:       opts.Server,
		auth:      opts.Auth,
		collector: opts.Collector,
		gatherer:  gatherer,
		logger:    logger.With(zap.String("component", "server")),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s
}

// Handler builds the full middleware-wrapped route table.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/plugins", s.handlePluginList)
	mux.HandleFunc("POST /v1/plugins/{name}/reload", s.handlePluginReload)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestLogger(s.logger),
		JWTAuth(s.auth.JWTSecret, s.auth.Issuer, []string{"/health", "/metrics"}, s.logger),
	}
	if s.cfg.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))
	}
	if s.collector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.collector))
	}
	return Chain(mux, middlewares...)
}

// Run serves until ctx is cancelled, then drains connections within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("gateway stopped")
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"plugins": len(s.manager.List()),
	})
}

// messageRequest is the JSON body of POST /v1/messages. The user identity
// comes from the auth layer; a user_id field is honored only when no
// authenticated identity is present.
type messageRequest struct {
	UserID    string         `json:"user_id,omitempty"`
	InputText string         `json:"input_text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, types.Fail("request body is not valid JSON"))
		return
	}

	userID := UserIDFromContext(r.Context())
	if userID == "" {
		userID = body.UserID
	}
	if strings.TrimSpace(userID) == "" {
		writeJSON(w, http.StatusBadRequest, types.Fail("no user identity on the request"))
		return
	}

	resp := s.router.Route(r.Context(), &types.AccessRequest{
		UserID:    userID,
		InputText: body.InputText,
		Channel:   types.ChannelChat,
		Metadata:  body.Metadata,
	})
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (s *Server) handlePluginList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plugins": s.manager.List(),
	})
}

func (s *Server) handlePluginReload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.manager.Reload(r.Context(), name); err != nil {
		if s.collector != nil {
			s.collector.ObservePluginReload(name, "failure")
		}
		s.logger.Warn("plugin reload failed", zap.String("plugin", name), zap.Error(err))
		status := http.StatusInternalServerError
		if types.IsCode(err, types.ErrPluginNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{
			"reloaded": false,
			"plugin":   name,
			"error":    err.Error(),
		})
		return
	}
	if s.collector != nil {
		s.collector.ObservePluginReload(name, "success")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"plugin":   name,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
