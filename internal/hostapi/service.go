// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostapi

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "fleetauth.host.v1.Host"

// HostServer is the host API.
type HostServer interface {
	Connect(ctx context.Context, req *ConnectRequest) (*SessionResponse, error)
	Disconnect(ctx context.Context, req *DisconnectRequest) (*DisconnectResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error)
	Get(ctx context.Context, req *GetRequest) (*SessionResponse, error)
}

// ServiceDesc describes the host API to a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HostServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Connect", HostServer.Connect),
		unary("Disconnect", HostServer.Disconnect),
		unary("Login", HostServer.Login),
		unary("Logout", HostServer.Logout),
		unary("Get", HostServer.Get),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fleetauth/host/v1",
}

// RegisterHostServer registers srv with s.
func RegisterHostServer(s grpc.ServiceRegistrar, srv HostServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// unary adapts a HostServer method to a grpc.MethodDesc.
func unary[Req, Resp any](method string, call func(HostServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod(method)}
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HostServer), ctx, in)
			}
			info := *info
			info.Server = srv
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HostServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, &info, handler)
		},
	}
}
