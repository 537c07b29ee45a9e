package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/coriolis-mq/coriolis/pkg/events"
	"github.com/coriolis-mq/coriolis/pkg/flags"
	"github.com/coriolis-mq/coriolis/pkg/metrics"
	"github.com/coriolis-mq/coriolis/pkg/peerrpc"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftMembership is the MembershipOracle of spec §6, backed by
// hashicorp/raft repurposed from warren's container-scheduling
// consensus to the single piece of strongly-consistent state this
// system needs: the cluster's voter roster.
type RaftMembership struct {
	nodeID   string
	bindAddr string
	dataDir  string
	secret   ClusterSecret

	raft *raft.Raft
	fsm  *MembershipFSM

	client      *peerrpc.Client
	coordinator *flags.Coordinator
	peerTimeout time.Duration
}

// NewRaftMembership wires a RaftMembership. coordinator is consulted
// for the two-sided compatibility check during Join (spec.md §2).
func NewRaftMembership(cfg Config, client *peerrpc.Client, coordinator *flags.Coordinator, peerTimeout time.Duration) (*RaftMembership, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cluster: create data dir: %w", err)
	}
	return &RaftMembership{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		secret:      cfg.Secret,
		fsm:         NewMembershipFSM(),
		client:      client,
		coordinator: coordinator,
		peerTimeout: peerTimeout,
	}, nil
}

// Secret reports the cluster admission secret this node was
// configured with, so cmd/coriolisd can print it after bootstrap.
func (m *RaftMembership) Secret() ClusterSecret {
	return m.secret
}

// WithEvents attaches an events.Broker that the underlying FSM
// publishes node.joined/node.left to. Must be called before Bootstrap
// or Join.
func (m *RaftMembership) WithEvents(broker *events.Broker) *RaftMembership {
	m.fsm.WithEvents(broker)
	return m
}

// CheckSecret reports whether presented matches this node's configured
// admission secret. An empty configured secret accepts any request.
func (m *RaftMembership) CheckSecret(presented ClusterSecret) bool {
	if m.secret == "" {
		return true
	}
	return m.secret.Equal(presented)
}

func (m *RaftMembership) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(m.nodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (m *RaftMembership) startRaft() (*raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: raft stable store: %w", err)
	}

	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("cluster: new raft: %w", err)
	}
	m.raft = r
	return transport, nil
}

// Bootstrap forms a brand-new single-node cluster with this node as
// its only voter.
func (m *RaftMembership) Bootstrap() error {
	transport, err := m.startRaft()
	if err != nil {
		return err
	}
	config := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()}},
	}
	if err := m.raft.BootstrapCluster(config).Error(); err != nil {
		return fmt.Errorf("cluster: bootstrap: %w", err)
	}
	return nil
}

// Join checks two-sided feature-flag compatibility against the
// bootstrap leader (spec.md §2's "cluster join is gated by a
// two-sided compatibility check") before ever contacting raft, then
// asks the leader to add this node as a voter over PeerRPC.
func (m *RaftMembership) Join(ctx context.Context, leaderAddr string) error {
	leader := flags.Peer{ID: "leader", Addr: leaderAddr}
	if err := m.coordinator.CheckNodeCompatibility(ctx, leader, m.peerTimeout); err != nil {
		return fmt.Errorf("cluster: incompatible with leader %s: %w", leaderAddr, err)
	}

	if _, err := m.startRaft(); err != nil {
		return err
	}

	if _, err := m.client.Invoke(ctx, leaderAddr, "join_cluster", JoinCommand{NodeID: m.nodeID, Addr: m.bindAddr, Secret: m.secret}, m.peerTimeout); err != nil {
		return fmt.Errorf("cluster: join request to %s: %w", leaderAddr, err)
	}
	return nil
}

// AddVoter adds nodeID/addr to the raft voter configuration and
// records the join in the membership log. Only the current leader may
// call this; it is invoked from the "join_cluster" PeerRPC handler.
func (m *RaftMembership) AddVoter(nodeID, addr string) error {
	if !m.IsLeader() {
		return fmt.Errorf("cluster: not leader, current leader is %s", m.LeaderAddr())
	}
	if err := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("cluster: add voter: %w", err)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := encodeCommand("join", JoinCommand{NodeID: nodeID, Addr: addr})
	if err != nil {
		return err
	}
	return m.raft.Apply(data, 5*time.Second).Error()
}

// RemoveVoter removes nodeID from the raft voter configuration and
// records the departure in the membership log.
func (m *RaftMembership) RemoveVoter(nodeID string) error {
	if !m.IsLeader() {
		return fmt.Errorf("cluster: not leader, current leader is %s", m.LeaderAddr())
	}
	if err := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("cluster: remove server: %w", err)
	}

	data, err := encodeCommand("leave", LeaveCommand{NodeID: nodeID})
	if err != nil {
		return err
	}
	return m.raft.Apply(data, 5*time.Second).Error()
}

func encodeCommand(op string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Command{Op: op, Data: data})
}

// AllPeers reads the raft voter configuration, excluding self.
func (m *RaftMembership) AllPeers() []Peer {
	if m.raft == nil {
		return nil
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil
	}
	var peers []Peer
	for _, srv := range future.Configuration().Servers {
		if string(srv.ID) == m.nodeID {
			continue
		}
		peers = append(peers, Peer{ID: string(srv.ID), Addr: string(srv.Address)})
	}
	return peers
}

// RunningPeers intersects AllPeers with a liveness ping, satisfying
// flags.PeerSource: an unreachable peer is simply absent, never an
// error (spec.md §5's "peer RPC carries a timeout").
func (m *RaftMembership) RunningPeers(ctx context.Context) []flags.Peer {
	all := m.AllPeers()
	running := make([]flags.Peer, 0, len(all))
	for _, p := range all {
		pingCtx, cancel := context.WithTimeout(ctx, m.peerTimeout)
		err := m.client.Ping(pingCtx, p.Addr, m.peerTimeout)
		cancel()
		if err == nil {
			running = append(running, flags.Peer{ID: p.ID, Addr: p.Addr})
		}
	}
	return running
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *RaftMembership) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's raft transport address, or
// empty if unknown.
func (m *RaftMembership) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// RefreshMetrics publishes the current peer count and leadership
// state; callers invoke this on a periodic tick.
func (m *RaftMembership) RefreshMetrics() {
	metrics.PeersTotal.Set(float64(len(m.AllPeers())))
	if m.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
}
