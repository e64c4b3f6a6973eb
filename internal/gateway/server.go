// Package gateway exposes the command surface over HTTP and streams engine
// output to WebSocket subscribers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/park285/cheese-analysis/internal/analysis"
	"github.com/park285/cheese-analysis/internal/chess/uci"
	"github.com/park285/cheese-analysis/internal/events"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	maxBodyBytes        = 64 << 10
	shutdownTimeout     = 5 * time.Second
)

// Commander is the subset of analysis.Service the gateway drives.
type Commander interface {
	Start(ctx context.Context) (analysis.Result, error)
	Stop(ctx context.Context) (analysis.Result, error)
	Analyze(ctx context.Context, position string) (analysis.Result, error)
	Ponder(ctx context.Context, position string) (analysis.Result, error)
	LastPosition() string
}

type PositionRequest struct {
	Position string `json:"position"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Option func(*Server)

// WithPingInterval sets the keepalive period for event streams.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithSubscriberBuffer sets the per-stream hub buffer.
func WithSubscriberBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from the given hosts.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

type Server struct {
	svc    Commander
	hub    *events.Hub
	logger *zap.Logger
	router *httprouter.Router

	pingInterval   time.Duration
	buffer         int
	originPatterns []string
}

func NewServer(svc Commander, hub *events.Hub, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:          svc,
		hub:          hub,
		logger:       logger,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := httprouter.New()
	router.GET("/healthz", s.healthz)
	router.POST("/engine/start", s.start)
	router.POST("/engine/stop", s.stop)
	router.POST("/engine/analyze", s.positionHandler(svc.Analyze))
	router.POST("/engine/ponder", s.positionHandler(svc.Ponder))
	router.GET("/engine/events", s.events)
	s.router = router
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()
	s.logger.Info("gateway_listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("gateway_shutdown_error", zap.Error(err))
		_ = server.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"subscribers":   s.hub.Len(),
		"last_position": s.svc.LastPosition(),
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res, err := s.svc.Start(r.Context())
	s.respond(w, "start", res, err)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res, err := s.svc.Stop(r.Context())
	s.respond(w, "stop", res, err)
}

func (s *Server) positionHandler(op func(context.Context, string) (analysis.Result, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req PositionRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		res, err := op(r.Context(), req.Position)
		s.respond(w, strings.TrimPrefix(r.URL.Path, "/engine/"), res, err)
	}
}

func (s *Server) respond(w http.ResponseWriter, op string, res analysis.Result, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("engine_command_failed", zap.String("op", op), zap.Error(err))
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrNoActiveSession), errors.Is(err, uci.ErrSessionTerminated):
		return http.StatusConflict
	case errors.Is(err, analysis.ErrInvalidPosition):
		return http.StatusBadRequest
	case errors.Is(err, uci.ErrSpawn), errors.Is(err, uci.ErrWrite):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
