package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

type ctxKey string

const (
	sessionKey ctxKey = "session"
	tokenKey   ctxKey = "session_token"
)

// sessionInterceptor rejects calls to non-public methods that do not carry
// an active session token. The session and token are stored in the context
// for the handler.
func (s *GRPCServer) sessionInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.isPublic(info.FullMethod) {
		return handler(ctx, req)
	}

	token := incomingToken(ctx)
	if token == "" {
		return nil, common.ErrSessionNotFound
	}

	sess, err := s.sessions.Session(ctx, token)
	if err != nil {
		s.logger.Warn(ctx, "session rejected", "method", info.FullMethod, "client", ClientKey(ctx), "error", err)
		return nil, err
	}

	ctx = context.WithValue(ctx, sessionKey, sess)
	ctx = context.WithValue(ctx, tokenKey, token)
	return handler(ctx, req)
}

// statusInterceptor converts handler errors to gRPC statuses.
func (s *GRPCServer) statusInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		st := ToStatus(err)
		if st.Code() == codes.Internal {
			s.logger.Error(ctx, "request failed", "method", info.FullMethod, "error", err)
		}
		return resp, st.Err()
	}
	return resp, nil
}

func incomingToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(common.SessionTokenHeaderName); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SessionFromContext returns the session attached by the guard.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*models.Session)
	return sess, ok
}

// TokenFromContext returns the bearer token the guard accepted.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok
}

// ClientKey identifies the caller for rate limiting: the peer host without
// its port, or "unknown" when there is no peer.
func ClientKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
