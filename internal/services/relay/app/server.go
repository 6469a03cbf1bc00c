// Package server hosts the watch party relay process: the WebSocket
// signaling endpoint and the read-only presence admin API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/watchparty/internal/platform/timeouts"
	presenceapi "github.com/louisbranch/watchparty/internal/services/relay/api/grpc/presence"
	"github.com/louisbranch/watchparty/internal/services/relay/presence"
	"github.com/louisbranch/watchparty/internal/services/relay/signaling"
	"github.com/louisbranch/watchparty/internal/services/relay/transport/ws"
)

const banner = "Watch party relay is running."

// Config defines the inputs for the relay process.
type Config struct {
	HTTPAddr string
	// GRPCAddr is the presence admin listener. Empty disables it.
	GRPCAddr           string
	AllowedOrigin      string
	SendBuffer         int
	MaxFrameBytes      int
	MaxFramesPerSecond int
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

// Server hosts the relay HTTP/WebSocket and gRPC listeners.
type Server struct {
	shutdownTimeout time.Duration

	registry *presence.Registry
	hub      *ws.Hub

	httpListener net.Listener
	httpServer   *http.Server

	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
}

type relayStack struct {
	registry *presence.Registry
	hub      *ws.Hub
	relay    *signaling.Relay
}

func newRelayStack(config Config) relayStack {
	registry := presence.NewRegistry()
	hub := ws.NewHub(ws.Config{
		AllowedOrigin:      config.AllowedOrigin,
		SendBuffer:         config.SendBuffer,
		MaxFrameBytes:      config.MaxFrameBytes,
		MaxFramesPerSecond: config.MaxFramesPerSecond,
	})
	return relayStack{
		registry: registry,
		hub:      hub,
		relay:    signaling.New(registry, hub),
	}
}

// NewHandler creates relay routes over a fresh registry, for tests and
// embedding.
func NewHandler() http.Handler {
	stack := newRelayStack(Config{})
	return newHandler(stack, "*")
}

func newHandler(stack relayStack, allowedOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := stack.hub.Handler(stack.relay)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(banner))
	})

	return withCORS(mux, allowedOrigin)
}

func withCORS(next http.Handler, allowedOrigin string) http.Handler {
	allowedOrigin = strings.TrimSpace(allowedOrigin)
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && ws.OriginAllowed(allowedOrigin, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

// NewServer binds the configured listeners and wires the relay.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	stack := newRelayStack(config)

	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on http addr %s: %w", httpAddr, err)
	}

	s := &Server{
		shutdownTimeout: config.ShutdownTimeout,
		registry:        stack.registry,
		hub:             stack.hub,
		httpListener:    httpListener,
		httpServer: &http.Server{
			Handler:           newHandler(stack, config.AllowedOrigin),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
	}

	if grpcAddr := strings.TrimSpace(config.GRPCAddr); grpcAddr != "" {
		grpcListener, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = httpListener.Close()
			return nil, fmt.Errorf("listen on grpc addr %s: %w", grpcAddr, err)
		}
		grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		healthServer := health.NewServer()
		presenceapi.Register(grpcServer, presenceapi.NewService(stack.registry))
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(presenceapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		s.grpcListener = grpcListener
		s.grpcServer = grpcServer
		s.health = healthServer
	}

	return s, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// HTTPAddr returns the bound HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC listener address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// ListenAndServe serves every listener until the context ends or one fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	httpErr := make(chan error, 1)
	log.Printf("relay HTTP server listening on %s", s.HTTPAddr())
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()

	grpcErr := make(chan error, 1)
	if s.grpcServer != nil {
		log.Printf("relay gRPC server listening on %s", s.GRPCAddr())
		go func() {
			grpcErr <- s.grpcServer.Serve(s.grpcListener)
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-httpErr:
		_ = s.shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-grpcErr:
		_ = s.shutdown()
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

func (s *Server) shutdown() error {
	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.Close()

	if s.grpcServer != nil {
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases listeners that were never served.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
}
