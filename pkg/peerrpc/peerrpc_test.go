package peerrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeHandler struct {
	listResult map[string]json.RawMessage
	supported  bool
	marked     []string
	failOp     string
}

func (f *fakeHandler) HandleOp(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	if op == f.failOp {
		return nil, errors.New("boom")
	}
	switch op {
	case "ping":
		return json.Marshal(true)
	case "list":
		return json.Marshal(f.listResult)
	case "are_supported_locally":
		return json.Marshal(f.supported)
	case "mark_as_enabled_locally":
		var name string
		if err := json.Unmarshal(args, &name); err != nil {
			return nil, err
		}
		f.marked = append(f.marked, name)
		return json.Marshal("ok")
	default:
		return nil, errors.New("unknown op")
	}
}

func newTestPair(t *testing.T, handler OpHandler) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := NewServer(handler)
	go func() {
		_ = srv.Serve(lis)
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	client := NewClient(
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	cc, err := client.connFor("passthrough:///bufnet")
	require.NoError(t, err)
	client.conns["passthrough:///bufnet"] = cc

	return client, func() {
		srv.Stop()
		_ = client.Close()
	}
}

func TestClientListRoundTrip(t *testing.T) {
	handler := &fakeHandler{listResult: map[string]json.RawMessage{"ff_a": json.RawMessage(`{}`)}}
	client, cleanup := newTestPair(t, handler)
	defer cleanup()

	out, err := client.List(context.Background(), "passthrough:///bufnet", "all", time.Second)
	require.NoError(t, err)
	assert.Contains(t, out, "ff_a")
}

func TestClientAreSupportedLocally(t *testing.T) {
	handler := &fakeHandler{supported: true}
	client, cleanup := newTestPair(t, handler)
	defer cleanup()

	ok, err := client.AreSupportedLocally(context.Background(), "passthrough:///bufnet", []string{"ff_a"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientMarkAsEnabledLocally(t *testing.T) {
	handler := &fakeHandler{}
	client, cleanup := newTestPair(t, handler)
	defer cleanup()

	err := client.MarkAsEnabledLocally(context.Background(), "passthrough:///bufnet", "ff_a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ff_a"}, handler.marked)
}

func TestClientOpErrorSurfacedVerbatim(t *testing.T) {
	handler := &fakeHandler{failOp: "mark_as_enabled_locally"}
	client, cleanup := newTestPair(t, handler)
	defer cleanup()

	err := client.MarkAsEnabledLocally(context.Background(), "passthrough:///bufnet", "ff_a", time.Second)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.False(t, errors.Is(err, ErrPeerUnreachable))
}

func TestClientUnreachablePeer(t *testing.T) {
	client := NewClient()
	_, err := client.Invoke(context.Background(), "passthrough:///does-not-exist:1", "ping", nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPeerUnreachable))
}
