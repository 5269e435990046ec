// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostapi

import (
	"context"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/holomush/fleetauth/internal/account"
)

// Client calls the host API of one fleet process.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for target. Without options the connection is
// plaintext; opts are applied after the defaults.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	if target == "" {
		return nil, oops.Code("HOSTAPI_INVALID_CONFIG").Errorf("target is required")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, oops.Code("HOSTAPI_DIAL_FAILED").With("target", target).Wrap(err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return oops.Code("HOSTAPI_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func (c *Client) Connect(ctx context.Context, key account.SessionKey) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c, "Connect", &ConnectRequest{Key: KeyOf(key)})
}

func (c *Client) Disconnect(ctx context.Context, key account.SessionKey, logout bool) (*DisconnectResponse, error) {
	return invoke[DisconnectResponse](ctx, c, "Disconnect", &DisconnectRequest{Key: KeyOf(key), Logout: logout})
}

func (c *Client) Login(ctx context.Context, key account.SessionKey, username, password string) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c, "Login", &LoginRequest{Key: KeyOf(key), Username: username, Password: password})
}

func (c *Client) Logout(ctx context.Context, key account.SessionKey, all bool) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c, "Logout", &LogoutRequest{Key: KeyOf(key), All: all})
}

func (c *Client) Get(ctx context.Context, key account.SessionKey) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c, "Get", &GetRequest{Key: KeyOf(key)})
}

// invoke makes one unary call. The gRPC status stays reachable through the
// returned error.
func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return nil, oops.Code("HOSTAPI_CALL_FAILED").With("method", method).Wrap(err)
	}
	return resp, nil
}
