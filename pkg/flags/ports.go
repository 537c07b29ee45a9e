package flags

import (
	"context"
	"encoding/json"
	"time"
)

// EnabledStore is spec §4.2's persisted enabled-flag record, addressed
// in pkg/flags terms so Coordinator never depends on a storage
// implementation. The concrete *storage.BoltEnabledStore satisfies
// this by reading/writing a bbolt-backed JSON array.
type EnabledStore interface {
	Read() ([]Name, error)
	Write(names []Name) error
}

// Peer identifies one other node in the cluster's raft-maintained
// roster (pkg/cluster.Peer has the same shape; the two are kept as
// separate types so pkg/flags never imports pkg/cluster).
type Peer struct {
	ID   string
	Addr string
}

// PeerSource supplies the "running peers" spec §4.4 checks support and
// compatibility against. pkg/cluster.RaftMembership implements this.
type PeerSource interface {
	RunningPeers(ctx context.Context) []Peer
}

// PeerClient is the subset of peerrpc.Client the coordinator calls.
// Declared here (rather than importing pkg/peerrpc's concrete type)
// so tests can substitute a fake without a network.
type PeerClient interface {
	List(ctx context.Context, addr, filter string, timeout time.Duration) (map[string]json.RawMessage, error)
	AreSupportedLocally(ctx context.Context, addr string, names []string, timeout time.Duration) (bool, error)
	MarkAsEnabledLocally(ctx context.Context, addr, name string, timeout time.Duration) error
}
