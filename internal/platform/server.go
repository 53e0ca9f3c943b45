package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"automove/internal/bus"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerConfig configures the HTTP server. Webhook and Metrics are optional.
type ServerConfig struct {
	Host        string
	Port        int
	Webhook     *Webhook
	Metrics     http.Handler
	MetricsPath string
	Events      *bus.EventBus // serves /events/recent when set
	Logger      *slog.Logger
}

// Server serves the webhook ingress, health checks and metrics.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		handler: NewRouter(cfg),
		logger:  cfg.Logger,
	}
}

// NewRouter builds the chi router behind the server.
func NewRouter(cfg ServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		respondJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Webhook != nil {
		cfg.Webhook.RegisterRoutes(r)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}
	if cfg.Events != nil {
		r.Get("/events/recent", recentEvents(cfg.Events))
	}
	return r
}

const defaultEventWindow = time.Hour

// eventView is the JSON shape of a bus event.
type eventView struct {
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	From      string    `json:"from,omitempty"`
	Target    string    `json:"target,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// recentEvents lists events kept by the bus, newest last. Query
// parameters: type (default "*") and since, a duration such as 15m.
func recentEvents(eb *bus.EventBus) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		eventType := r.URL.Query().Get("type")
		if eventType == "" {
			eventType = "*"
		}
		window := defaultEventWindow
		if raw := r.URL.Query().Get("since"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				respondError(rw, http.StatusBadRequest, "since must be a positive duration, e.g. 15m")
				return
			}
			window = d
		}

		events := eb.Replay(eventType, time.Now().Add(-window))
		views := make([]eventView, 0, len(events))
		for _, e := range events {
			v := eventView{
				Type:      e.Type,
				Source:    e.Source,
				ChannelID: e.ChannelID,
				From:      e.From,
				Target:    e.Decision.Target,
				Reason:    e.Decision.Reason,
				LatencyMS: e.Latency.Milliseconds(),
				Timestamp: e.Timestamp,
			}
			if e.Err != nil {
				v.Error = e.Err.Error()
			}
			views = append(views, v)
		}
		respondJSON(rw, http.StatusOK, views)
	}
}

func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
