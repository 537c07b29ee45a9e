package cluster

import "encoding/json"

// Peer identifies one other node in the raft-maintained membership
// roster. Kept distinct from flags.Peer so pkg/flags never has to
// import pkg/cluster.
type Peer struct {
	ID   string
	Addr string
}

// Config configures a RaftMembership instance. Secret gates admission
// over the "join_cluster" PeerRPC op; leave it empty to accept any
// join request (single-operator, trusted-network deployments).
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Secret   ClusterSecret
}

// Command is the envelope applied to the membership raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// JoinCommand records a node entering the cluster. Secret is verified
// by the receiving leader's Handler before AddVoter is ever called; it
// is never itself written to the raft log.
type JoinCommand struct {
	NodeID string        `json:"node_id"`
	Addr   string        `json:"addr"`
	Secret ClusterSecret `json:"secret,omitempty"`
}

// LeaveCommand records a node leaving the cluster.
type LeaveCommand struct {
	NodeID string `json:"node_id"`
}
