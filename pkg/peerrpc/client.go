package peerrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coriolis-mq/coriolis/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ErrPeerUnreachable is returned whenever a peer cannot be reached
// within the caller's timeout, or the connection fails outright. Per
// spec §9 open question (c) and §4.4, callers treat this identically
// to "peer does not support the operation" — it is never surfaced to
// the coordinator's own caller as a distinct transport error.
var ErrPeerUnreachable = errors.New("peerrpc: peer unreachable")

// Client invokes named operations against remote peers over the
// PeerRPC grpc service, caching one *grpc.ClientConn per address.
type Client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	dialOpts []grpc.DialOption
}

// NewClient creates a PeerRPC client. dialOpts are appended after the
// package defaults (insecure transport credentials); pass
// grpc.WithTransportCredentials(credentials.NewTLS(...)) to override.
func NewClient(dialOpts ...grpc.DialOption) *Client {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	opts = append(opts, dialOpts...)
	return &Client{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: opts,
	}
}

func (c *Client) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = cc
	return cc, nil
}

// Close tears down every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for addr, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}

// Invoke calls the named operation on the peer at addr, marshaling args
// as the request payload and returning the raw response payload.
// ErrPeerUnreachable wraps any dial, deadline, or transport-level
// failure; an op-level error returned by the remote handler is
// returned verbatim (not wrapped), matching spec §4.4's "peer RPC
// errors are surfaced verbatim" during propagation.
func (c *Client) Invoke(ctx context.Context, addr, op string, args interface{}, timeout time.Duration) (json.RawMessage, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PeerRPCDuration, op)

	cc, err := c.connFor(addr)
	if err != nil {
		metrics.PeerRPCRequestsTotal.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("peerrpc: marshal args: %w", err)
	}

	req := &Envelope{Op: op, Args: argBytes}
	resp := new(Result)
	err = cc.Invoke(ctx, "/"+serviceName+"/Invoke", req, resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		outcome := "error"
		if s, ok := status.FromError(err); ok && (s.Code() == codes.DeadlineExceeded || s.Code() == codes.Unavailable) {
			outcome = "unreachable"
		}
		metrics.PeerRPCRequestsTotal.WithLabelValues(op, outcome).Inc()
		if outcome == "unreachable" {
			return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
		}
		return nil, err
	}

	if resp.Err != "" {
		metrics.PeerRPCRequestsTotal.WithLabelValues(op, "op_error").Inc()
		return nil, errors.New(resp.Err)
	}
	metrics.PeerRPCRequestsTotal.WithLabelValues(op, "ok").Inc()
	return resp.Value, nil
}

// List invokes the "list" peer operation, mirroring FFC.list(filter).
func (c *Client) List(ctx context.Context, addr, filter string, timeout time.Duration) (map[string]json.RawMessage, error) {
	raw, err := c.Invoke(ctx, addr, "list", filter, timeout)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("peerrpc: decode list result: %w", err)
	}
	return out, nil
}

// AreSupportedLocally invokes "are_supported_locally" on the peer.
func (c *Client) AreSupportedLocally(ctx context.Context, addr string, names []string, timeout time.Duration) (bool, error) {
	raw, err := c.Invoke(ctx, addr, "are_supported_locally", names, timeout)
	if err != nil {
		return false, err
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("peerrpc: decode are_supported_locally result: %w", err)
	}
	return out, nil
}

// MarkAsEnabledLocally invokes "mark_as_enabled_locally" on the peer.
func (c *Client) MarkAsEnabledLocally(ctx context.Context, addr, name string, timeout time.Duration) error {
	_, err := c.Invoke(ctx, addr, "mark_as_enabled_locally", name, timeout)
	return err
}

// Ping invokes the liveness probe op used by MembershipOracle.RunningPeers.
func (c *Client) Ping(ctx context.Context, addr string, timeout time.Duration) error {
	_, err := c.Invoke(ctx, addr, "ping", nil, timeout)
	return err
}

// Enable invokes the CLI-facing "enable" op against a running node,
// used by cmd/coriolisd's "flag enable" command.
func (c *Client) Enable(ctx context.Context, addr, name string, timeout time.Duration) error {
	_, err := c.Invoke(ctx, addr, "enable", name, timeout)
	return err
}

// FlagStatus is the decoded result of the CLI-facing "status" op.
type FlagStatus struct {
	Supported bool `json:"supported"`
	Enabled   bool `json:"enabled"`
}

// Status invokes the CLI-facing "status" op against a running node,
// used by cmd/coriolisd's "flag status" command.
func (c *Client) Status(ctx context.Context, addr, name string, timeout time.Duration) (FlagStatus, error) {
	raw, err := c.Invoke(ctx, addr, "status", name, timeout)
	if err != nil {
		return FlagStatus{}, err
	}
	var out FlagStatus
	if err := json.Unmarshal(raw, &out); err != nil {
		return FlagStatus{}, fmt.Errorf("peerrpc: decode status result: %w", err)
	}
	return out, nil
}
