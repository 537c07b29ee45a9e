package peerrpc

import (
	"context"

	"github.com/coriolis-mq/coriolis/pkg/log"
	"github.com/coriolis-mq/coriolis/pkg/metrics"
	"google.golang.org/grpc"
)

// LoggingInterceptor logs every inbound Invoke at debug level and
// counts it by op/outcome, adapted from warren's
// pkg/api/interceptor.go request-gating pattern for a single generic
// method instead of one method per operation.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	plog := log.WithComponent("peerrpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		op := "unknown"
		if env, ok := req.(*Envelope); ok {
			op = env.Op
		}

		resp, err := handler(ctx, req)

		outcome := "ok"
		if err != nil {
			outcome = "transport_error"
		} else if r, ok := resp.(*Result); ok && r.Err != "" {
			outcome = "op_error"
		}

		plog.Debug().Str("op", op).Str("outcome", outcome).Msg("peer rpc invoked")
		metrics.PeerRPCRequestsTotal.WithLabelValues(op, "server_"+outcome).Inc()
		return resp, err
	}
}
