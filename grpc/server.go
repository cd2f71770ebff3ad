package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/maxpert/viewsync/reconcile"
	"github.com/maxpert/viewsync/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Server accepts gateway deliveries and serves HTTP endpoints on the same port
type Server struct {
	address    string
	port       int
	dispatcher *Dispatcher

	server     *grpc.Server
	httpServer *http.Server
	listener   net.Listener
	mux        cmux.CMux

	metricsHandler http.Handler
	adminHandler   http.Handler

	mu sync.RWMutex
}

// ServerConfig holds configuration for the gRPC server
type ServerConfig struct {
	Address string
	Port    int
}

// NewServer creates a new gRPC server routing inbound messages through dispatcher
func NewServer(config ServerConfig, dispatcher *Dispatcher) *Server {
	return &Server{
		address:    config.Address,
		port:       config.Port,
		dispatcher: dispatcher,
	}
}

// NewGRPCServer builds a grpc.Server with the delivery service and auth interceptors registered
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	RegisterDeliveryServer(srv, s)
	return srv
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve multiplexes HTTP and gRPC on listener. It returns once serving goroutines are started.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = listener
	s.server = s.NewGRPCServer()

	log.Info().
		Str("address", listener.Addr().String()).
		Msg("Starting gRPC server")

	s.mux = cmux.New(listener)

	// Match HTTP requests (pprof, metrics, admin)
	httpListener := s.mux.Match(cmux.HTTP1Fast())

	// Match gRPC requests (everything else)
	grpcListener := s.mux.Match(cmux.Any())

	s.httpServer = &http.Server{
		Handler:           s.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	go func() {
		if err := s.server.Serve(grpcListener); err != nil && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	go func() {
		if err := s.mux.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("cmux failed")
		}
	}()

	return nil
}

func (s *Server) httpHandler() http.Handler {
	httpMux := http.NewServeMux()

	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if s.metricsHandler != nil {
		httpMux.Handle("/metrics", s.metricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	if s.adminHandler != nil {
		httpMux.Handle("/admin/", s.adminHandler)
		log.Info().Msg("Admin API enabled at /admin")
	}

	return httpMux
}

// Addr returns the listening address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the gRPC and HTTP servers
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(ctx)
		cancel()
	}
	if s.server != nil {
		log.Info().Msg("Stopping gRPC server")
		s.server.GracefulStop()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

// SetMetricsHandler sets the HTTP handler for /metrics. Must be called before Start.
func (s *Server) SetMetricsHandler(handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsHandler = handler
}

// SetAdminHandler sets the HTTP handler mounted at /admin/. Must be called before Start.
func (s *Server) SetAdminHandler(handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminHandler = handler
}

// Deliver handles one inbound gateway message
func (s *Server) Deliver(ctx context.Context, req *Envelope) (*DeliverResponse, error) {
	origin, err := originFromContext(ctx)
	if err != nil {
		return nil, err
	}

	telemetry.MessagesTotal.With("received", channelFromContext(ctx).String()).Inc()

	n, err := s.dispatcher.Dispatch(reconcile.Address(origin), req)
	if err != nil {
		if errors.Is(err, ErrUnknownMessageType) {
			log.Debug().Err(err).Str("origin", origin).Msg("Dropping message")
			return &DeliverResponse{Accepted: false}, nil
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return &DeliverResponse{Accepted: n > 0}, nil
}

func channelFromContext(ctx context.Context) reconcile.Channel {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return reconcile.ChannelDefault
	}
	if v := md.Get(ChannelHeader); len(v) > 0 && v[0] == reconcile.ChannelOOB.String() {
		return reconcile.ChannelOOB
	}
	return reconcile.ChannelDefault
}
