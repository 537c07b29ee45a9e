package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	bytes.Buffer
	canceled bool
}

func (s *fakeSink) ID() string     { return "snap-1" }
func (s *fakeSink) Cancel() error  { s.canceled = true; return nil }
func (s *fakeSink) Close() error   { return nil }

func logFor(t *testing.T, op string, data interface{}) *raft.Log {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: raw})
	require.NoError(t, err)
	return &raft.Log{Data: cmd}
}

func TestMembershipFSMJoinAndLeave(t *testing.T) {
	fsm := NewMembershipFSM()

	res := fsm.Apply(logFor(t, "join", JoinCommand{NodeID: "n2", Addr: "10.0.0.2:7000"}))
	assert.Nil(t, res)
	assert.Equal(t, map[string]string{"n2": "10.0.0.2:7000"}, fsm.Roster())

	res = fsm.Apply(logFor(t, "leave", LeaveCommand{NodeID: "n2"}))
	assert.Nil(t, res)
	assert.Empty(t, fsm.Roster())
}

func TestMembershipFSMUnknownOp(t *testing.T) {
	fsm := NewMembershipFSM()
	res := fsm.Apply(logFor(t, "bogus", struct{}{}))
	err, ok := res.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "unknown fsm op")
}

func TestMembershipFSMSnapshotRestore(t *testing.T) {
	fsm := NewMembershipFSM()
	require.Nil(t, fsm.Apply(logFor(t, "join", JoinCommand{NodeID: "n2", Addr: "a"})))
	require.Nil(t, fsm.Apply(logFor(t, "join", JoinCommand{NodeID: "n3", Addr: "b"})))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &fakeSink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.canceled)

	restored := NewMembershipFSM()
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))
	assert.Equal(t, fsm.Roster(), restored.Roster())
}
