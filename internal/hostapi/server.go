// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostapi is the gRPC service connection hosts use to report
// connects and disconnects, log players in and out, and read the cached
// account of a connection.
package hostapi

import (
	"context"
	"log/slog"
	"net"
	"path"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/pkg/errutil"
)

var tracer = otel.Tracer("fleetauth/hostapi")

// SessionCache is the per-process session view the API fills and reads.
type SessionCache interface {
	Connect(ctx context.Context, key account.SessionKey) error
	Disconnect(key account.SessionKey)
	Refresh(ctx context.Context, key account.SessionKey) error
	Get(key account.SessionKey) (account.Account, bool)
}

// Authenticator logs connections in and out.
type Authenticator interface {
	Login(ctx context.Context, key account.SessionKey, username, password string) (account.Result, error)
	Logout(ctx context.Context, key account.SessionKey, all bool) error
}

// Tracker follows how long each connection has been on.
type Tracker interface {
	Join(key account.SessionKey)
	Leave(ctx context.Context, key account.SessionKey) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracker starts and ends playtime sittings on connect and disconnect.
func WithTracker(t Tracker) Option {
	return func(s *Server) {
		s.tracker = t
	}
}

// Server implements HostServer over a session cache and the auth service.
type Server struct {
	cache   SessionCache
	auth    Authenticator
	tracker Tracker
	logger  *slog.Logger

	listener   net.Listener
	grpcServer *grpc.Server
}

// NewServer creates a host API server.
func NewServer(cache SessionCache, auth Authenticator, opts ...Option) (*Server, error) {
	if cache == nil || auth == nil {
		return nil, oops.Code("HOSTAPI_INVALID_CONFIG").Errorf("session cache and authenticator are required")
	}
	s := &Server{
		cache:  cache,
		auth:   auth,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "hostapi")
	return s, nil
}

// Start listens on addr and serves in the background. The returned channel
// receives the serve error, or nil after Stop.
func (s *Server) Start(addr string) (<-chan error, error) {
	if s.listener != nil {
		return nil, oops.Code("HOSTAPI_ALREADY_STARTED").Errorf("server is already running")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.Code("HOSTAPI_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	return s.Serve(listener)
}

// Serve serves on listener in the background. It takes ownership of
// listener.
func (s *Server) Serve(listener net.Listener) (<-chan error, error) {
	if s.listener != nil {
		_ = listener.Close()
		return nil, oops.Code("HOSTAPI_ALREADY_STARTED").Errorf("server is already running")
	}
	s.listener = listener
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.observe))
	RegisterHostServer(s.grpcServer, s)

	errCh := make(chan error, 1)
	go func() {
		err := s.grpcServer.Serve(listener)
		if err != nil {
			s.logger.Error("host API server error", "error", err)
		}
		errCh <- err
	}()
	s.logger.Info("host API listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop waits for in-flight calls and stops serving.
func (s *Server) Stop(_ context.Context) error {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	return nil
}

// observe traces and counts every call.
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	method := path.Base(info.FullMethod)
	ctx, span := tracer.Start(ctx, "hostapi."+method)
	defer span.End()

	resp, err := handler(ctx, req)
	code := status.Code(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", code.String()))
	if err != nil {
		span.SetStatus(otelcodes.Error, code.String())
	}
	requests.WithLabelValues(method, code.String()).Inc()
	return resp, err
}

// Connect starts tracking a connection and resolves its session once.
func (s *Server) Connect(ctx context.Context, req *ConnectRequest) (*SessionResponse, error) {
	key, err := parseKey(req.Key)
	if err != nil {
		return nil, err
	}
	// The key stays tracked as anonymous when the lookup fails.
	connectErr := s.cache.Connect(ctx, key)
	if s.tracker != nil {
		s.tracker.Join(key)
	}
	if connectErr != nil {
		return nil, s.internal(ctx, "connect", key, connectErr)
	}
	return s.session(key), nil
}

// Disconnect ends the sitting and forgets the connection. With Logout set
// the session is ended too.
func (s *Server) Disconnect(ctx context.Context, req *DisconnectRequest) (*DisconnectResponse, error) {
	key, err := parseKey(req.Key)
	if err != nil {
		return nil, err
	}
	// Leave reads the cached account, so it runs before the entry goes.
	if s.tracker != nil {
		if err := s.tracker.Leave(ctx, key); err != nil {
			errutil.LogErrorContext(ctx, s.logger, "playtime update failed", err, "session", key.String())
		}
	}
	s.cache.Disconnect(key)

	if req.Logout {
		if err := s.auth.Logout(ctx, key, false); err != nil {
			return nil, s.internal(ctx, "logout", key, err)
		}
	}
	return &DisconnectResponse{Success: true}, nil
}

// Login authenticates the connection. Domain outcomes are reported in the
// response; only store failures are errors.
func (s *Server) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	key, err := parseKey(req.Key)
	if err != nil {
		return nil, err
	}
	result, err := s.auth.Login(ctx, key, req.Username, req.Password)
	if err != nil {
		return nil, s.internal(ctx, "login", key, err)
	}

	resp := &LoginResponse{Result: account.Label(result)}
	success, ok := result.(account.Success)
	if !ok {
		resp.Error = result.String()
		s.logger.InfoContext(ctx, "login rejected", "session", key.String(), "result", resp.Result)
		return resp, nil
	}
	resp.Success = true
	resp.AccountID = success.AccountID

	// The login event refreshes the entry as well; this makes the answer
	// below current.
	if err := s.cache.Refresh(ctx, key); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "session refresh after login failed", err, "session", key.String())
	}
	resp.Account = s.session(key).Account
	return resp, nil
}

// Logout ends the session of the connection, or every session of its
// account when All is set.
func (s *Server) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	key, err := parseKey(req.Key)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Logout(ctx, key, req.All); err != nil {
		return nil, s.internal(ctx, "logout", key, err)
	}
	if err := s.cache.Refresh(ctx, key); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "session refresh after logout failed", err, "session", key.String())
	}
	return &LogoutResponse{Success: true}, nil
}

// Get returns the cached account of the connection without touching the
// store.
func (s *Server) Get(_ context.Context, req *GetRequest) (*SessionResponse, error) {
	key, err := parseKey(req.Key)
	if err != nil {
		return nil, err
	}
	return s.session(key), nil
}

func (s *Server) session(key account.SessionKey) *SessionResponse {
	acc, ok := s.cache.Get(key)
	if !ok {
		return &SessionResponse{}
	}
	return &SessionResponse{Authenticated: true, Account: accountOf(acc)}
}

func parseKey(k SessionKey) (account.SessionKey, error) {
	key, err := k.parse()
	if err != nil {
		return account.SessionKey{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return key, nil
}

// internal logs err and hides it from the host.
func (s *Server) internal(ctx context.Context, operation string, key account.SessionKey, err error) error {
	errutil.LogErrorContext(ctx, s.logger, "host request failed", err,
		"operation", operation,
		"session", key.String(),
	)
	return status.Errorf(codes.Internal, "%s failed", operation)
}

var _ HostServer = (*Server)(nil)
