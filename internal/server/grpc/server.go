// Package grpc hosts the vault's gRPC endpoint. It owns the listener, the
// standard health service and the session guard that every non-public
// method passes through. Front ends register their services with
// WithService.
package grpc

import (
	"context"
	"net"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthPrefix covers Check and Watch of the standard health service.
var healthPrefix = "/" + healthpb.Health_ServiceDesc.ServiceName + "/"

// SessionValidator resolves a bearer token to its active session.
// *services.VaultService implements it.
type SessionValidator interface {
	Session(ctx context.Context, token string) (*models.Session, error)
}

type GRPCServer struct {
	address  string
	logger   logging.Logger
	sessions SessionValidator
	public   []string
	services []func(grpc.ServiceRegistrar)
	health   *health.Server
}

// Option configures a GRPCServer.
type Option func(*GRPCServer)

// WithPublicMethods adds methods reachable without a session. An entry
// ending in "/" matches every method of that service.
func WithPublicMethods(methods ...string) Option {
	return func(s *GRPCServer) { s.public = append(s.public, methods...) }
}

// WithService registers a front-end service when the server starts.
func WithService(register func(grpc.ServiceRegistrar)) Option {
	return func(s *GRPCServer) { s.services = append(s.services, register) }
}

func NewGRPCServer(address string, l logging.Logger, sv SessionValidator, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address:  address,
		logger:   l.With("module", "grpc_server"),
		sessions: sv,
		public:   []string{healthPrefix},
		health:   health.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Health exposes the health server so the app can flip serving status.
func (s *GRPCServer) Health() *health.Server {
	return s.health
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.statusInterceptor, s.sessionInterceptor))

	healthpb.RegisterHealthServer(srv, s.health)
	for _, register := range s.services {
		register(srv)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *GRPCServer) isPublic(method string) bool {
	for _, p := range s.public {
		if p == method || (strings.HasSuffix(p, "/") && strings.HasPrefix(method, p)) {
			return true
		}
	}
	return false
}
