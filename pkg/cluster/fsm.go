package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/coriolis-mq/coriolis/pkg/events"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// MembershipFSM is the raft finite state machine for cluster
// membership, adapted from warren's WarrenFSM: instead of a generic
// CRUD dispatch over cluster entities, it applies exactly two command
// kinds (spec.md's MembershipOracle needs nothing richer). The
// roster it maintains is observability state — AllPeers reads
// raft.GetConfiguration() directly, since raft already tracks
// (ID, Address) authoritatively for its own voter set.
type MembershipFSM struct {
	mu     sync.RWMutex
	roster map[string]string
	events *events.Broker
}

// NewMembershipFSM returns an FSM with an empty roster.
func NewMembershipFSM() *MembershipFSM {
	return &MembershipFSM{roster: make(map[string]string)}
}

// WithEvents attaches an events.Broker that Apply publishes
// node.joined/node.left to as every node's FSM converges on the same
// log entry; a nil broker (the default) skips publishing.
func (f *MembershipFSM) WithEvents(broker *events.Broker) *MembershipFSM {
	f.events = broker
	return f
}

func (f *MembershipFSM) publish(typ events.EventType, message string, nodeID string) {
	if f.events == nil {
		return
	}
	f.events.Publish(&events.Event{ID: uuid.NewString(), Type: typ, Message: message, Metadata: map[string]string{"node_id": nodeID}})
}

// Apply implements raft.FSM.
func (f *MembershipFSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("cluster: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "join":
		var jc JoinCommand
		if err := json.Unmarshal(cmd.Data, &jc); err != nil {
			return err
		}
		f.roster[jc.NodeID] = jc.Addr
		f.publish(events.EventNodeJoined, fmt.Sprintf("node %q joined at %s", jc.NodeID, jc.Addr), jc.NodeID)
		return nil

	case "leave":
		var lc LeaveCommand
		if err := json.Unmarshal(cmd.Data, &lc); err != nil {
			return err
		}
		delete(f.roster, lc.NodeID)
		f.publish(events.EventNodeLeft, fmt.Sprintf("node %q left", lc.NodeID), lc.NodeID)
		return nil

	default:
		return fmt.Errorf("cluster: unknown fsm op %q", cmd.Op)
	}
}

// Roster returns a copy of the current node id -> address map.
func (f *MembershipFSM) Roster() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.roster))
	for k, v := range f.roster {
		out[k] = v
	}
	return out
}

// Snapshot implements raft.FSM.
func (f *MembershipFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &membershipSnapshot{roster: f.Roster()}, nil
}

// Restore implements raft.FSM.
func (f *MembershipFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var roster map[string]string
	if err := json.NewDecoder(rc).Decode(&roster); err != nil {
		return fmt.Errorf("cluster: decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.roster = roster
	f.mu.Unlock()
	return nil
}

type membershipSnapshot struct {
	roster map[string]string
}

func (s *membershipSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.roster); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *membershipSnapshot) Release() {}
