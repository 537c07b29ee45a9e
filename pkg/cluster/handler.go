package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coriolis-mq/coriolis/pkg/peerrpc"
)

// Handler composes the cluster's own PeerRPC op ("join_cluster") with
// every other node's flags.Coordinator op (list/are_supported_locally/
// mark_as_enabled_locally/ping), so a node runs exactly one grpc
// server with one OpHandler regardless of how many subsystems answer
// peer requests.
type Handler struct {
	Membership *RaftMembership
	Next       peerrpc.OpHandler
}

// HandleOp implements peerrpc.OpHandler.
func (h *Handler) HandleOp(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	if op != "join_cluster" {
		return h.Next.HandleOp(ctx, op, args)
	}

	var jc JoinCommand
	if err := json.Unmarshal(args, &jc); err != nil {
		return nil, fmt.Errorf("cluster: decode join_cluster: %w", err)
	}
	if !h.Membership.CheckSecret(jc.Secret) {
		return nil, fmt.Errorf("cluster: join refused: invalid cluster secret")
	}
	if err := h.Membership.AddVoter(jc.NodeID, jc.Addr); err != nil {
		return nil, err
	}
	return json.Marshal("ok")
}
